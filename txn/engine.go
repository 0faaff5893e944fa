// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package txn

import (
	"log"
	"sync/atomic"

	"github.com/danos/mgmterror"

	"github.com/danos/netconfd"
	"github.com/danos/netconfd/binder"
	"github.com/danos/netconfd/datastore"
	"github.com/danos/netconfd/diff"
	"github.com/danos/netconfd/schema"
	"github.com/danos/netconfd/tree"
)

// UpgradeHook transforms a startup tree whose module-state annotations
// differ from the current schema (spec §4.4 "Startup variant"). It
// returns an error if the upgrade cannot be performed, in which case
// the engine falls back to the failsafe datastore.
type UpgradeHook func(startupTree *tree.Node) (*tree.Node, error)

// Engine drives the multi-phase commit/validate pipeline of spec §4.4
// across a datastore Manager, with a registered set of plugins invoked
// in registration order at each phase.
type Engine struct {
	DS      *datastore.Manager
	Binder  *binder.Binder
	Plugins []interface{}
	Upgrade UpgradeHook

	Failsafe string // failsafe datastore name, spec §4.4/§6; "" disables it

	nextID uint64
	Elog   *log.Logger
}

func NewEngine(ds *datastore.Manager, b *binder.Binder, elog *log.Logger) *Engine {
	return &Engine{DS: ds, Binder: b, Elog: elog}
}

func (e *Engine) Register(p interface{}) {
	e.Plugins = append(e.Plugins, p)
}

func (e *Engine) logError(format string, args ...interface{}) {
	if e.Elog != nil {
		e.Elog.Printf(format, args...)
	}
}

// Commit runs the full pipeline of spec §4.4 for a candidate->running
// (or startup->running) transition and, on success, writes tgt to
// running and copies running back to sourceName (the "post-commit"
// phase). On failure at any phase, running and sourceName are left
// byte-for-byte unchanged (spec §8 "Commit atomicity").
func (e *Engine) Commit(sourceName string, session netconfd.SessionId) error {
	src, err := e.DS.Get(datastore.Running, nil)
	if err != nil {
		return err
	}
	tgt, err := e.DS.Get(sourceName, nil)
	if err != nil {
		return err
	}
	if err := e.runPipeline(src, tgt, true); err != nil {
		return err
	}
	e.DS.ReplaceRunning(tgt)
	// Post-commit: candidate (or startup) is made equal to running
	// again, per spec §4.4 phase 7 — applied uniformly, including for
	// the startup variant (see SPEC_FULL.md §13, decided Open Question).
	if err := e.DS.Copy(datastore.Running, sourceName, session); err != nil {
		e.logError("rollback inconsistency: post-commit copy to %s failed: %v", sourceName, err)
	}
	return nil
}

// Validate runs phases 1-4 of spec §4.4 ("Validate-only variant")
// without writing to running.
func (e *Engine) Validate(sourceName string) error {
	src, err := e.DS.Get(datastore.Running, nil)
	if err != nil {
		return err
	}
	tgt, err := e.DS.Get(sourceName, nil)
	if err != nil {
		return err
	}
	return e.runPipeline(src, tgt, false)
}

// CommitStartup is the "Startup variant" of spec §4.4: src is empty,
// tgt is the startup tree, and an upgrade hook may run before Begin.
func (e *Engine) CommitStartup(session netconfd.SessionId) error {
	tgt, err := e.DS.Get(datastore.Startup, nil)
	if err != nil {
		return err
	}
	if e.Upgrade != nil {
		upgraded, uerr := e.Upgrade(tgt)
		if uerr != nil {
			if e.Failsafe == "" {
				return uerr
			}
			e.logError("startup upgrade failed, falling back to failsafe %s: %v", e.Failsafe, uerr)
			failsafeTree, ferr := e.DS.Get(e.Failsafe, nil)
			if ferr != nil {
				return uerr
			}
			tgt = failsafeTree
		} else {
			tgt = upgraded
		}
	}
	src := tree.New(tgt.Name)
	if err := e.runPipeline(src, tgt, true); err != nil {
		return err
	}
	if err := e.DS.Copy(datastore.Running, datastore.Startup, session); err != nil {
		e.logError("rollback inconsistency: startup post-commit copy failed: %v", err)
	}
	if err := e.DS.Copy(datastore.Running, datastore.Candidate, session); err != nil {
		e.logError("rollback inconsistency: startup post-commit copy to candidate failed: %v", err)
	}
	return nil
}

// DiscardChanges implements spec §4.4 "Discard-changes": copy(running
// -> candidate) with the usual lock check.
func (e *Engine) DiscardChanges(session netconfd.SessionId) error {
	return e.DS.Copy(datastore.Running, datastore.Candidate, session)
}

// runPipeline is phases 1 through 5 (commitWrite controls whether phase
// 5's write-back runs; End always runs).
func (e *Engine) runPipeline(src, tgt *tree.Node, commitWrite bool) (err error) {
	t := &Transaction{ID: atomic.AddUint64(&e.nextID, 1), Src: src, Tgt: tgt}

	// Phase 1: Begin.
	ranBegin := 0
	for _, p := range e.Plugins {
		if b, ok := p.(Begin); ok {
			if err = b.Begin(t); err != nil {
				e.abortPrefix(e.Plugins[:ranBegin], t)
				return err
			}
		}
		ranBegin++
	}

	t.Diff = diff.Diff(src, tgt)
	diff.MarkAncestors(tgt, unionSets(t.Diff.AddedSet(), t.Diff.ChangedSet()))
	diff.MarkAncestors(src, t.Diff.DeletedSet())
	defer func() {
		tgt.ClearChanged()
		src.ClearChanged()
	}()

	// Phase 2: Generic validate.
	if err = e.genericValidate(t); err != nil {
		e.abortPrefix(e.Plugins, t)
		return err
	}

	// Phase 3: Plugin validate.
	for _, p := range e.Plugins {
		if v, ok := p.(Validator); ok {
			if err = v.Validate(t); err != nil {
				e.abortPrefix(e.Plugins, t)
				return err
			}
		}
	}

	// Phase 4: Complete.
	for _, p := range e.Plugins {
		if c, ok := p.(Completer); ok {
			if err = c.Complete(t); err != nil {
				e.abortPrefix(e.Plugins, t)
				return err
			}
		}
	}

	if !commitWrite {
		e.runEnd(t)
		return nil
	}

	// Phase 5: Commit.
	ranCommit := 0
	for _, p := range e.Plugins {
		if c, ok := p.(Committer); ok {
			if err = c.Commit(t); err != nil {
				e.abortCommitted(e.Plugins[:ranCommit], t)
				return err
			}
		}
		ranCommit++
	}

	// Running gets an untagged copy; tgt keeps its tags through End.
	installed := tgt.Clone()
	installed.ClearChanged()
	e.DS.ReplaceRunning(installed)
	e.runEnd(t)
	return nil
}

// genericValidate performs spec §4.2's schema/constraint validation on
// tgt and checks the one deletion-side mandatory rule spec §4.4 phase 2
// calls out: "a mandatory leaf cannot be deleted if its parent remains
// present".
func (e *Engine) genericValidate(t *Transaction) error {
	if e.Binder == nil {
		return nil
	}
	if err := e.Binder.Bind(t.Tgt); err != nil {
		return err
	}
	for _, del := range t.Diff.Deleted {
		if del.Node.Schema == nil || !del.Node.Schema.Mandatory {
			continue
		}
		if del.Node.Schema.Kind != schema.Leaf {
			continue
		}
		if t.Tgt.Find(del.Parent.Name, del.Parent.Namespace, del.Parent.Keys) != nil {
			err := mgmterror.NewMissingElementProtocolError(del.Node.Name)
			err.Message = "cannot delete mandatory element " + del.Node.Name
			err.Path = del.Parent.Name
			return err
		}
	}
	return nil
}

// abortPrefix calls Abort on the plugins in ran (those that completed
// an earlier phase) in reverse order, best effort.
func (e *Engine) abortPrefix(ran []interface{}, t *Transaction) {
	for i := len(ran) - 1; i >= 0; i-- {
		if a, ok := ran[i].(Aborter); ok {
			func() {
				defer func() {
					if r := recover(); r != nil {
						e.logError("plugin abort panicked: %v", r)
					}
				}()
				a.Abort(t)
			}()
		}
	}
}

// abortCommitted is the commit-phase-specific abort rule of spec §4.4
// phase 5: only plugins that already completed Commit are rolled back,
// in reverse order; the original error is surfaced by the caller.
func (e *Engine) abortCommitted(committed []interface{}, t *Transaction) {
	e.abortPrefix(committed, t)
}

func (e *Engine) runEnd(t *Transaction) {
	for _, p := range e.Plugins {
		if en, ok := p.(Ender); ok {
			func() {
				defer func() {
					if r := recover(); r != nil {
						e.logError("plugin end failed: %v", r)
					}
				}()
				en.End(t)
			}()
		}
	}
}

func unionSets(a, b map[*tree.Node]bool) map[*tree.Node]bool {
	out := make(map[*tree.Node]bool, len(a)+len(b))
	for k := range a {
		out[k] = true
	}
	for k := range b {
		out[k] = true
	}
	return out
}
