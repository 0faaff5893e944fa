// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package txn

import (
	"testing"
	"time"

	"github.com/danos/netconfd"
	"github.com/danos/netconfd/datastore"
	"github.com/danos/netconfd/tree"
)

func TestConfirmedCommitConfirmMakesChangePermanent(t *testing.T) {
	e := newTestEngine()
	sys := &tree.Node{Name: "system", Namespace: ns}
	sys.AddChild(leaf("hostname", "r1"))
	e.DS.Put(datastore.Candidate, datastore.Merge, wrap(sys), 1)

	cc := NewConfirmedCommit(e)
	if err := cc.Begin(datastore.Candidate, netconfd.System, time.Hour, ""); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	cc.Confirm()

	running, _ := e.DS.Get(datastore.Running, nil)
	if len(running.Children) != 1 {
		t.Fatalf("confirmed change not present in running: %+v", running)
	}
}

func TestConfirmedCommitRollsBackOnTimeout(t *testing.T) {
	e := newTestEngine()
	sys := &tree.Node{Name: "system", Namespace: ns}
	sys.AddChild(leaf("hostname", "r1"))
	e.DS.Put(datastore.Candidate, datastore.Merge, wrap(sys), 1)

	before, _ := e.DS.Get(datastore.Running, nil)

	cc := NewConfirmedCommit(e)
	if err := cc.Begin(datastore.Candidate, netconfd.System, 10*time.Millisecond, ""); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	after, _ := e.DS.Get(datastore.Running, nil)
	if !tree.Equivalent(before, after) {
		t.Fatalf("confirmed commit not rolled back after timeout: before=%+v after=%+v", before, after)
	}
}

func TestConfirmedCommitCancelRollsBackAndRequiresMatchingToken(t *testing.T) {
	e := newTestEngine()
	sys := &tree.Node{Name: "system", Namespace: ns}
	sys.AddChild(leaf("hostname", "r1"))
	e.DS.Put(datastore.Candidate, datastore.Merge, wrap(sys), 1)
	before, _ := e.DS.Get(datastore.Running, nil)

	cc := NewConfirmedCommit(e)
	if err := cc.Begin(datastore.Candidate, netconfd.System, time.Hour, "tok1"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := cc.Cancel("wrong-token"); err == nil {
		t.Fatalf("expected error for mismatched persist-id")
	}
	if err := cc.Cancel("tok1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	after, _ := e.DS.Get(datastore.Running, nil)
	if !tree.Equivalent(before, after) {
		t.Fatalf("cancel-commit did not roll back running")
	}
}

func TestConfirmedCommitRejectsSecondBeginWhileOutstanding(t *testing.T) {
	e := newTestEngine()
	cc := NewConfirmedCommit(e)
	if err := cc.Begin(datastore.Candidate, netconfd.System, time.Hour, ""); err != nil {
		t.Fatalf("first Begin: %v", err)
	}
	if err := cc.Begin(datastore.Candidate, netconfd.System, time.Hour, ""); err == nil {
		t.Fatalf("expected access-denied for a second outstanding confirmed commit")
	}
	cc.Confirm()
}

func TestConfirmedCommitCancelWithoutOutstandingIsNoop(t *testing.T) {
	e := newTestEngine()
	cc := NewConfirmedCommit(e)
	if err := cc.Cancel("anything"); err != nil {
		t.Fatalf("Cancel with nothing outstanding should be a no-op, got: %v", err)
	}
}
