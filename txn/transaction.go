// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package txn implements spec.md §4.4: the transaction engine. It
// coordinates validation and application of a configuration change as
// an all-or-nothing step, driving plugin callbacks through five phases
// (begin, validate, complete, commit, end) with abort/rollback on
// failure. The phase names and their semantics are grounded directly in
// _examples/original_source/apps/backend/clixon_backend_transaction.c,
// which spec.md's transaction model was distilled from.
package txn

import (
	"github.com/danos/netconfd/diff"
	"github.com/danos/netconfd/tree"
)

// Transaction is the ephemeral runtime object of spec §3: it exists only
// between the start of a commit/validate pass and its terminal
// callback.
type Transaction struct {
	ID uint64

	Src *tree.Node // original state, usually running
	Tgt *tree.Node // desired state, usually candidate or startup

	Diff *diff.Result

	// Arg is the opaque per-transaction argument slot plugins may use to
	// stash their own state across phases (clixon's transaction_arg).
	Arg interface{}
}

// Begin is the plugin capability invoked at transaction start.
type Begin interface{ Begin(t *Transaction) error }

// Validator is invoked during the plugin-validate phase.
type Validator interface{ Validate(t *Transaction) error }

// Completer is invoked during the complete phase.
type Completer interface{ Complete(t *Transaction) error }

// Committer is invoked during the commit phase.
type Committer interface{ Commit(t *Transaction) error }

// Ender is invoked, best effort, at transaction end.
type Ender interface{ End(t *Transaction) }

// Aborter undoes a plugin's side effects when a later phase, or a later
// plugin in the same phase, fails.
type Aborter interface{ Abort(t *Transaction) }
