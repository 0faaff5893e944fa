// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package txn

import (
	"sync"
	"time"

	"github.com/danos/mgmterror"

	"github.com/danos/netconfd"
	"github.com/danos/netconfd/datastore"
	"github.com/danos/netconfd/tree"
)

// ConfirmedCommit tracks the single in-flight confirmed commit, per
// spec §4.4 "Confirmed commit / cancel-commit". Only one can be
// outstanding at a time; a second confirmed commit (Begin) while one is
// pending is an access-denied error, matching the teacher's own server/confirmed_commit.go
// isCommitAllowed ("Operation blocked by outstanding confirmed commit").
type ConfirmedCommit struct {
	mu       sync.Mutex
	engine   *Engine
	timer    *time.Timer
	snapshot *tree.Node
	token    string
	source   string
	session  netconfd.SessionId
}

func NewConfirmedCommit(e *Engine) *ConfirmedCommit {
	return &ConfirmedCommit{engine: e}
}

// Begin installs a confirmed commit: runs the normal Commit pipeline,
// then arms a rollback timer. If confirming-commit doesn't arrive
// within the window, the engine runs an implicit rollback equivalent to
// restoring the pre-commit snapshot of running.
func (c *ConfirmedCommit) Begin(sourceName string, session netconfd.SessionId, window time.Duration, persistToken string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		err := mgmterror.NewAccessDeniedApplicationError()
		err.Message = "Operation blocked by outstanding confirmed commit"
		return err
	}

	preCommit, err := c.engine.DS.Get(datastore.Running, nil)
	if err != nil {
		return err
	}
	if err := c.engine.Commit(sourceName, session); err != nil {
		return err
	}

	c.snapshot = preCommit
	c.token = persistToken
	c.source = sourceName
	c.session = session
	c.timer = time.AfterFunc(window, c.rollback)
	return nil
}

// Confirm is the follow-up `commit` that must arrive within the window
// to make the change permanent.
func (c *ConfirmedCommit) Confirm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clear()
}

// Cancel implements cancel-commit: triggers the same rollback as a
// timeout. If a persist token was set, the caller's token must match.
func (c *ConfirmedCommit) Cancel(token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer == nil {
		return nil // nothing outstanding: a no-op, not an error
	}
	if c.token != "" && c.token != token {
		err := mgmterror.NewInvalidValueProtocolError()
		err.Message = "persist-id does not match outstanding confirmed commit"
		return err
	}
	c.timer.Stop()
	c.rollbackLocked()
	return nil
}

func (c *ConfirmedCommit) rollback() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer == nil {
		return // already confirmed/cancelled
	}
	c.rollbackLocked()
}

func (c *ConfirmedCommit) rollbackLocked() {
	c.engine.DS.ReplaceRunning(c.snapshot)
	if err := c.engine.DS.Copy(datastore.Running, c.source, c.session); err != nil {
		c.engine.logError("rollback inconsistency: confirmed-commit rollback copy to %s failed: %v", c.source, err)
	}
	c.clear()
}

func (c *ConfirmedCommit) clear() {
	c.timer = nil
	c.snapshot = nil
	c.token = ""
}
