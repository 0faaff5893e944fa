// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package rpc

import (
	"strings"
	"testing"
	"time"

	"github.com/danos/netconfd"
	"github.com/danos/netconfd/binder"
	"github.com/danos/netconfd/codec"
	"github.com/danos/netconfd/common"
	"github.com/danos/netconfd/datastore"
	"github.com/danos/netconfd/schema"
	"github.com/danos/netconfd/tree"
)

type fakeSessions struct {
	closed []netconfd.SessionId
	killed []netconfd.SessionId
}

func (f *fakeSessions) Close(s netconfd.SessionId) { f.closed = append(f.closed, s) }
func (f *fakeSessions) Kill(s netconfd.SessionId) error {
	f.killed = append(f.killed, s)
	return nil
}

type fakeStreams struct {
	stream, filter string
}

func (f *fakeStreams) Subscribe(session netconfd.SessionId, stream, filter string, start, stop *time.Time) error {
	f.stream, f.filter = stream, filter
	return nil
}

func newTestServer() (*Server, *fakeSessions, *fakeStreams) {
	ds := datastore.NewManager()
	ds.Create(datastore.Candidate)
	sess := &fakeSessions{}
	streams := &fakeStreams{}
	s := &Server{
		DS:       ds,
		Codec:    codec.XMLCodec{},
		Sessions: sess,
		Streams:  streams,
	}
	return s, sess, streams
}

func envelopeWithBody(body string) *Envelope {
	return &Envelope{MessageID: "1", Session: 1, Body: []byte(body)}
}

// newTestServerWithBinder builds a Server with a schema registry that
// declares one config leaf and one state (config false) leaf, for
// exercising editConfig's state-node rejection.
func newTestServerWithBinder() *Server {
	ms := schema.NewModelSet()
	sys := schema.NewNode("system", "urn:test", schema.Container)

	hostname := schema.NewNode("hostname", "urn:test", schema.Leaf)
	hostname.Type = &schema.Type{Base: schema.TString}
	sys.AddChild(hostname)

	counters := schema.NewNode("counters", "urn:test", schema.Leaf)
	counters.Config = false
	sys.AddChild(counters)

	ms.RegisterModule("urn:test", sys)

	ds := datastore.NewManager()
	ds.Create(datastore.Candidate)
	return &Server{
		DS:       ds,
		Binder:   binder.New(ms),
		Codec:    codec.XMLCodec{},
		Sessions: &fakeSessions{},
		Streams:  &fakeStreams{},
	}
}

func TestGetConfigReturnsSerializedTree(t *testing.T) {
	s, _, _ := newTestServer()
	s.DS.Put(datastore.Running, datastore.Merge, fragment(leafNode("hostname", "r1")), netconfd.System)

	out, err := s.getConfig(envelopeWithBody(`<source><running/></source>`))
	if err != nil {
		t.Fatalf("getConfig: %v", err)
	}
	if !strings.Contains(string(out), "hostname") {
		t.Fatalf("serialized output missing hostname: %s", out)
	}
}

func TestEditConfigMergesIntoCandidate(t *testing.T) {
	s, _, _ := newTestServer()
	body := `<target><candidate/></target><config><hostname xmlns="urn:test">r2</hostname></config>`
	if _, err := s.editConfig(envelopeWithBody(body)); err != nil {
		t.Fatalf("editConfig: %v", err)
	}
	got, _ := s.DS.Get(datastore.Candidate, nil)
	if len(got.Children) != 1 || got.Children[0].Name != "hostname" {
		t.Fatalf("candidate not updated by edit-config: %+v", got)
	}
}

func TestEditConfigRejectsDirectRunningTarget(t *testing.T) {
	s, _, _ := newTestServer()
	body := `<target><running/></target><config><hostname xmlns="urn:test">r2</hostname></config>`
	if _, err := s.editConfig(envelopeWithBody(body)); err == nil {
		t.Fatalf("expected edit-config of running directly to be rejected")
	}
}

func TestEditConfigRejectsStateNodes(t *testing.T) {
	s := newTestServerWithBinder()
	body := `<target><candidate/></target><config><system xmlns="urn:test"><counters>5</counters></system></config>`
	if _, err := s.editConfig(envelopeWithBody(body)); err == nil {
		t.Fatalf("expected a schema error for a config-false node in the edit-config fragment")
	}
}

func TestEditConfigAcceptsConfigNodes(t *testing.T) {
	s := newTestServerWithBinder()
	body := `<target><candidate/></target><config><system xmlns="urn:test"><hostname>r2</hostname></system></config>`
	if _, err := s.editConfig(envelopeWithBody(body)); err != nil {
		t.Fatalf("editConfig rejected a valid config node: %v", err)
	}
}

func TestEditConfigRequiresConfigElement(t *testing.T) {
	s, _, _ := newTestServer()
	if _, err := s.editConfig(envelopeWithBody(`<target><candidate/></target>`)); err == nil {
		t.Fatalf("expected malformed-message error for a missing config element")
	}
}

func TestLockAndUnlock(t *testing.T) {
	s, _, _ := newTestServer()
	body := `<target><candidate/></target>`
	if _, err := s.lock(envelopeWithBody(body)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if holder := s.DS.IsLocked(datastore.Candidate); holder != 1 {
		t.Fatalf("IsLocked = %v, want session 1", holder)
	}
	if _, err := s.unlock(envelopeWithBody(body)); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if holder := s.DS.IsLocked(datastore.Candidate); holder != netconfd.NoSession {
		t.Fatalf("lock not released: holder=%v", holder)
	}
}

func TestCloseSessionNotifiesSessions(t *testing.T) {
	s, sess, _ := newTestServer()
	if _, err := s.closeSession(envelopeWithBody("")); err != nil {
		t.Fatalf("closeSession: %v", err)
	}
	if len(sess.closed) != 1 || sess.closed[0] != 1 {
		t.Fatalf("Sessions.Close not invoked with the envelope's session: %+v", sess.closed)
	}
}

func TestKillSessionAlwaysOk(t *testing.T) {
	s, sess, _ := newTestServer()
	if _, err := s.killSession(envelopeWithBody(`<session-id>42</session-id>`)); err != nil {
		t.Fatalf("kill-session of a nonexistent session should still succeed: %v", err)
	}
	if len(sess.killed) != 1 || sess.killed[0] != 42 {
		t.Fatalf("Sessions.Kill not invoked with the requested session-id: %+v", sess.killed)
	}
}

func TestKillSessionRequiresSessionID(t *testing.T) {
	s, _, _ := newTestServer()
	if _, err := s.killSession(envelopeWithBody("")); err == nil {
		t.Fatalf("expected malformed-message error without a session-id")
	}
}

func TestCreateSubscriptionDefaultsStreamName(t *testing.T) {
	s, _, streams := newTestServer()
	if _, err := s.createSubscription(envelopeWithBody("")); err != nil {
		t.Fatalf("createSubscription: %v", err)
	}
	if streams.stream != "NETCONF" {
		t.Fatalf("default stream = %q, want %q", streams.stream, "NETCONF")
	}
}

func TestCreateSubscriptionWithoutStreamsSupport(t *testing.T) {
	s, _, _ := newTestServer()
	s.Streams = nil
	if _, err := s.createSubscription(envelopeWithBody("")); err == nil {
		t.Fatalf("expected operation-not-supported without a Streams collaborator")
	}
}

func TestDebugLevelPlainNumericForm(t *testing.T) {
	s, _, _ := newTestServer()
	if _, err := s.debugLevel(envelopeWithBody(`<level>2</level>`)); err != nil {
		t.Fatalf("debugLevel: %v", err)
	}
	if got := common.Global().DebugLevel(); got != 2 {
		t.Fatalf("process-wide debug level = %d, want 2", got)
	}
}

func TestDebugLevelSubsystemForm(t *testing.T) {
	s, _, _ := newTestServer()
	if _, err := s.debugLevel(envelopeWithBody(`<level>commit=debug</level>`)); err != nil {
		t.Fatalf("debugLevel subsystem form: %v", err)
	}
}

func TestDebugLevelInvalidValue(t *testing.T) {
	s, _, _ := newTestServer()
	if _, err := s.debugLevel(envelopeWithBody(`<level>not-a-number</level>`)); err == nil {
		t.Fatalf("expected invalid-value error for a non-numeric, non-subsystem level")
	}
}

func leafNode(name, value string) *tree.Node {
	return &tree.Node{Name: name, Namespace: "urn:test", Value: value}
}

func fragment(children ...*tree.Node) *tree.Node {
	n := tree.New("config")
	n.Children = children
	return n
}
