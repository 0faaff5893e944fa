// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package txn

import "testing"

func TestScriptHooksEmptyDirIsNoop(t *testing.T) {
	h := &ScriptHooks{}
	if err := h.Commit(nil); err != nil {
		t.Fatalf("Commit with no PreCommitDir should be a no-op, got: %v", err)
	}
	h.End(nil) // must not panic with no PostCommitDir configured
}
