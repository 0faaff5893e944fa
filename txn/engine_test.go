// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package txn

import (
	"testing"

	"github.com/danos/netconfd"
	"github.com/danos/netconfd/binder"
	"github.com/danos/netconfd/datastore"
	"github.com/danos/netconfd/schema"
	"github.com/danos/netconfd/tree"
)

const ns = "urn:test"

func testRegistry() *schema.ModelSet {
	ms := schema.NewModelSet()
	sys := schema.NewNode("system", ns, schema.Container)
	hostname := schema.NewNode("hostname", ns, schema.Leaf)
	hostname.Type = &schema.Type{Base: schema.TString}
	sys.AddChild(hostname)
	ms.RegisterModule(ns, sys)
	return ms
}

func newTestEngine() *Engine {
	ds := datastore.NewManager()
	ds.Create(datastore.Candidate)
	b := binder.New(testRegistry())
	return NewEngine(ds, b, nil)
}

func leaf(name, value string) *tree.Node {
	return &tree.Node{Name: name, Namespace: ns, Value: value}
}

// recordingPlugin records every phase invoked on it, to verify the
// engine drives plugins in the order spec §4.4 names.
type recordingPlugin struct {
	calls   *[]string
	failAt  string
}

func (p *recordingPlugin) record(name string) error {
	*p.calls = append(*p.calls, name)
	if p.failAt == name {
		return errFail
	}
	return nil
}

var errFail = &testErr{"plugin failure"}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }

func (p *recordingPlugin) Begin(t *Transaction) error    { return p.record("begin") }
func (p *recordingPlugin) Validate(t *Transaction) error { return p.record("validate") }
func (p *recordingPlugin) Complete(t *Transaction) error { return p.record("complete") }
func (p *recordingPlugin) Commit(t *Transaction) error   { return p.record("commit") }
func (p *recordingPlugin) End(t *Transaction)            { p.record("end") }
func (p *recordingPlugin) Abort(t *Transaction)          { p.record("abort") }

func TestEngineCommitRunsAllPhasesInOrder(t *testing.T) {
	e := newTestEngine()
	var calls []string
	p := &recordingPlugin{calls: &calls}
	e.Register(p)

	sys := &tree.Node{Name: "system", Namespace: ns}
	sys.AddChild(leaf("hostname", "r1"))
	e.DS.Put(datastore.Candidate, datastore.Merge, wrap(sys), 1)

	if err := e.Commit(datastore.Candidate, netconfd.System); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	want := []string{"begin", "validate", "complete", "commit", "end"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", calls, want)
		}
	}

	got, err := e.DS.Get(datastore.Running, nil)
	if err != nil {
		t.Fatalf("Get(running): %v", err)
	}
	if len(got.Children) != 1 || got.Children[0].Name != "system" {
		t.Fatalf("running not updated by commit: %+v", got)
	}
}

func wrap(children ...*tree.Node) *tree.Node {
	n := tree.New("config")
	n.Children = children
	return n
}

func TestEngineCommitAbortsOnValidateFailure(t *testing.T) {
	e := newTestEngine()
	var calls []string
	p := &recordingPlugin{calls: &calls, failAt: "validate"}
	e.Register(p)

	sys := &tree.Node{Name: "system", Namespace: ns}
	sys.AddChild(leaf("hostname", "r1"))
	e.DS.Put(datastore.Candidate, datastore.Merge, wrap(sys), 1)

	before, _ := e.DS.Get(datastore.Running, nil)

	if err := e.Commit(datastore.Candidate, netconfd.System); err == nil {
		t.Fatalf("expected commit to fail at validate")
	}
	after, _ := e.DS.Get(datastore.Running, nil)
	if !tree.Equivalent(before, after) {
		t.Fatalf("running changed despite aborted commit: before=%+v after=%+v", before, after)
	}

	foundAbort := false
	for _, c := range calls {
		if c == "abort" {
			foundAbort = true
		}
		if c == "commit" {
			t.Fatalf("commit phase ran despite earlier validate failure: %v", calls)
		}
	}
	if !foundAbort {
		t.Fatalf("expected Abort to run after validate failure, calls=%v", calls)
	}
}

func TestEngineValidateDoesNotWriteRunning(t *testing.T) {
	e := newTestEngine()
	var calls []string
	e.Register(&recordingPlugin{calls: &calls})

	sys := &tree.Node{Name: "system", Namespace: ns}
	sys.AddChild(leaf("hostname", "r1"))
	e.DS.Put(datastore.Candidate, datastore.Merge, wrap(sys), 1)

	before, _ := e.DS.Get(datastore.Running, nil)
	if err := e.Validate(datastore.Candidate); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	after, _ := e.DS.Get(datastore.Running, nil)
	if !tree.Equivalent(before, after) {
		t.Fatalf("Validate wrote to running")
	}
	for _, c := range calls {
		if c == "commit" {
			t.Fatalf("Validate should not run the commit phase, calls=%v", calls)
		}
	}
}

func TestEngineDiscardChanges(t *testing.T) {
	e := newTestEngine()
	sys := &tree.Node{Name: "system", Namespace: ns}
	sys.AddChild(leaf("hostname", "changed"))
	e.DS.Put(datastore.Candidate, datastore.Merge, wrap(sys), 1)

	if err := e.DiscardChanges(netconfd.System); err != nil {
		t.Fatalf("DiscardChanges: %v", err)
	}
	cand, _ := e.DS.Get(datastore.Candidate, nil)
	running, _ := e.DS.Get(datastore.Running, nil)
	if !tree.Equivalent(cand, running) {
		t.Fatalf("DiscardChanges did not reset candidate to running")
	}
}
