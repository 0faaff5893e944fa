// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package txn

import (
	"bytes"
	"log"
	spawn "os/exec"

	"github.com/danos/utils/exec"
)

// ScriptHooks runs operator-supplied executables around a commit: every
// file in PreCommitDir during the plugin Commit phase, before running is
// replaced, and every file in PostCommitDir at End, once the write has
// landed. End also runs at the end of a validate-only pass, so the
// PostCommitDir hooks run then as well. Grounded in the teacher's
// own commit hook runner (session/commit.go's execute_hooks), which
// fans a hook directory out to run-parts and discards the result other
// than logging it.
type ScriptHooks struct {
	PreCommitDir  string
	PostCommitDir string
	Elog          *log.Logger
}

func (h *ScriptHooks) Commit(t *Transaction) error {
	h.run(h.PreCommitDir)
	return nil
}

func (h *ScriptHooks) End(t *Transaction) {
	h.run(h.PostCommitDir)
}

func (h *ScriptHooks) run(dir string) {
	if dir == "" {
		return
	}
	out, err := runParts(dir)
	if h.Elog != nil {
		h.Elog.Printf("commit hooks %s: %s", dir, out.Output)
		if err != nil {
			h.Elog.Printf("commit hooks %s failed: %v", dir, err)
		}
	}
}

// runParts executes every hook in dir via run-parts, the same
// mechanism the teacher shells out to. The result is informational
// only: a failing hook is logged, not fatal to the commit, matching
// "Original implementation ignores the result of the hooks".
func runParts(dir string) (*exec.Output, error) {
	var out, errb bytes.Buffer
	cmd := spawn.Command("/bin/run-parts", "--regex=^[a-zA-Z0-9._-]+$", "--", dir)
	cmd.Stdout = &out
	cmd.Stderr = &errb
	if err := cmd.Run(); err != nil {
		return &exec.Output{Output: out.String()}, err
	}
	return &exec.Output{Output: out.String()}, nil
}
