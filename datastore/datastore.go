// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package datastore implements spec.md §4.3: named configuration
// datastores, their per-datastore advisory locks, and the
// copy/delete/create lifecycle.
package datastore

import (
	"sync"

	"github.com/danos/mgmterror"

	"github.com/danos/netconfd"
	"github.com/danos/netconfd/codec"
	"github.com/danos/netconfd/tree"
)

// Well-known datastore names (spec §3).
const (
	Running   = "running"
	Candidate = "candidate"
	Startup   = "startup"
)

// EditOp is the edit-config operation attribute of spec §4.3/§4.5.
type EditOp string

const (
	Merge   EditOp = "merge"
	Replace EditOp = "replace"
	Create  EditOp = "create"
	Delete  EditOp = "delete"
	Remove  EditOp = "remove"
	None    EditOp = "none"
)

type datastore struct {
	name   string
	tree   *tree.Node
	holder netconfd.SessionId
	dirty  bool // candidate only: differs from its last-committed/discarded state
}

// Manager owns the set of named datastores and their locks. All methods
// are safe for concurrent use, though spec §5 notes the core itself is
// driven from a single event-loop goroutine; the mutex covers callers
// outside it, such as the confirmed-commit rollback timer.
type Manager struct {
	mu    sync.RWMutex
	stores map[string]*datastore
}

func NewManager() *Manager {
	m := &Manager{stores: make(map[string]*datastore)}
	m.create(Running)
	m.stores[Running].tree = tree.New("config")
	return m
}

// ValidateName reports whether d is a registered datastore.
func (m *Manager) ValidateName(d string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.stores[d]
	return ok
}

// Create initializes an empty tree for a not-yet-present datastore name.
func (m *Manager) Create(d string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.create(d)
}

func (m *Manager) create(d string) error {
	if _, ok := m.stores[d]; ok {
		return nil
	}
	m.stores[d] = &datastore{name: d, tree: tree.New("config")}
	return nil
}

// Delete clears d to empty. running may never be deleted (spec §4.3).
func (m *Manager) Delete(d string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d == Running {
		err := mgmterror.NewInvalidValueApplicationError()
		err.Message = "running cannot be deleted"
		return err
	}
	ds, ok := m.stores[d]
	if !ok {
		return unknownDatastore(d)
	}
	ds.tree = tree.New("config")
	if d == Candidate {
		ds.dirty = true
	}
	return nil
}

// Get returns a deep copy of d's tree, optionally filtered by an XPath
// select expression (codec.Filter is the out-of-scope XPath evaluator's
// interface — see spec §1/§6).
func (m *Manager) Get(d string, filter codec.Filter) (*tree.Node, error) {
	m.mu.RLock()
	ds, ok := m.stores[d]
	if !ok {
		m.mu.RUnlock()
		err := mgmterror.NewOperationFailedApplicationError()
		err.Message = "read-failure: no such datastore " + d
		return nil, err
	}
	cp := ds.tree.Clone()
	m.mu.RUnlock()
	if filter != nil {
		return filter.Apply(cp), nil
	}
	return cp, nil
}

// Put applies fragment to d under op, enforcing the lock precondition
// of spec §4.3 (holder must be nobody or the caller). merge/replace/
// create/delete/remove/none mirror RFC 6241 default-operation/operation
// semantics.
func (m *Manager) Put(d string, op EditOp, fragment *tree.Node, session netconfd.SessionId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.stores[d]
	if !ok {
		return unknownDatastore(d)
	}
	if ds.holder != netconfd.NoSession && ds.holder != session {
		return lockDenied(ds.holder)
	}
	switch op {
	case Replace:
		ds.tree = fragment.Clone()
	case Merge, "":
		merge(ds.tree, fragment)
	case Create:
		if err := mergeCreate(ds.tree, fragment); err != nil {
			return err
		}
	case Delete, Remove:
		if err := removeFragment(ds.tree, fragment, op == Delete); err != nil {
			return err
		}
	case None:
		// no-op by definition
	default:
		err := mgmterror.NewOperationFailedApplicationError()
		err.Message = "unknown edit operation " + string(op)
		return err
	}
	if d == Candidate && op != None {
		ds.dirty = true
	}
	tree.Sort(ds.tree, nil)
	return nil
}

// Copy replaces dst's tree with a deep copy of src's (spec §4.3).
func (m *Manager) Copy(src, dst string, session netconfd.SessionId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stores[src]
	if !ok {
		return unknownDatastore(src)
	}
	d, ok := m.stores[dst]
	if !ok {
		return unknownDatastore(dst)
	}
	if d.holder != netconfd.NoSession && d.holder != session {
		return lockDenied(d.holder)
	}
	d.tree = s.tree.Clone()
	if dst == Candidate {
		d.dirty = false
	}
	return nil
}

// Lock grants session exclusive write access to d. Per spec §4.3's
// contract table, candidate may only be locked while clean: dirty from
// an uncommitted edit-config, it must first be committed or discarded.
func (m *Manager) Lock(d string, session netconfd.SessionId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.stores[d]
	if !ok {
		return unknownDatastore(d)
	}
	if ds.holder != netconfd.NoSession {
		return lockDenied(ds.holder)
	}
	if d == Candidate && ds.dirty {
		return candidateDirty()
	}
	ds.holder = session
	return nil
}

// Unlock releases session's hold on d.
func (m *Manager) Unlock(d string, session netconfd.SessionId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.stores[d]
	if !ok {
		return unknownDatastore(d)
	}
	if ds.holder != session {
		return lockDenied(ds.holder)
	}
	ds.holder = netconfd.NoSession
	return nil
}

// IsLocked returns the current holder, or netconfd.NoSession.
func (m *Manager) IsLocked(d string) netconfd.SessionId {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ds, ok := m.stores[d]
	if !ok {
		return netconfd.NoSession
	}
	return ds.holder
}

// ReleaseSessionLocks clears every lock held by session, atomically
// (spec §4.3 "On session termination, all locks held by that session
// are released atomically" and spec §4.6).
func (m *Manager) ReleaseSessionLocks(session netconfd.SessionId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ds := range m.stores {
		if ds.holder == session {
			ds.holder = netconfd.NoSession
		}
	}
}

// treeRef returns the live datastore record (and so its tree pointer)
// for internal, same-goroutine callers, without taking the mutex. Not
// for handler use: handlers must go through Get/Put so they never see a
// mutable alias into datastore state (spec §5 "handlers work on returned
// copies").
func (m *Manager) treeRef(d string) (*datastore, bool) {
	ds, ok := m.stores[d]
	return ds, ok
}

// ReplaceRunning installs t as running's tree directly, bypassing the
// lock check — only the transaction engine's commit phase may call
// this, after its own plugin-commit pipeline has succeeded.
func (m *Manager) ReplaceRunning(t *tree.Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stores[Running].tree = t
}

func unknownDatastore(d string) error {
	err := mgmterror.NewOperationFailedApplicationError()
	err.Message = "no such datastore: " + d
	return err
}

func lockDenied(holder netconfd.SessionId) error {
	err := mgmterror.NewLockDeniedError(holder.String())
	err.Message = "datastore is locked by session " + holder.String()
	return err
}

func candidateDirty() error {
	err := mgmterror.NewResourceDeniedProtocolError()
	err.Message = "candidate has uncommitted changes; commit or discard-changes first"
	return err
}
