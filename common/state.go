// Copyright (c) 2019, AT&T Intellectual Property.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only
package common

import "sync/atomic"

// ProcessState holds the two process-wide toggles the core needs: the
// overall debug verbosity (separate from the per-LogType settings in
// configd_log.go,
// used by handlers that don't care which subsystem they're logging for)
// and the unknown-element-as-anydata binder mode. Both are process-wide
// by design (spec calls this out explicitly) so they live here instead
// of being threaded through every call site.
type ProcessState struct {
	debugLevel       int32
	unknownAsAnydata int32
}

var global = &ProcessState{}

// Global returns the single process-wide state record.
func Global() *ProcessState {
	return global
}

func (p *ProcessState) DebugLevel() int {
	return int(atomic.LoadInt32(&p.debugLevel))
}

func (p *ProcessState) SetDebugLevel(level int) {
	atomic.StoreInt32(&p.debugLevel, int32(level))
}

func (p *ProcessState) UnknownElementAsAnydata() bool {
	return atomic.LoadInt32(&p.unknownAsAnydata) != 0
}

func (p *ProcessState) SetUnknownElementAsAnydata(on bool) {
	v := int32(0)
	if on {
		v = 1
	}
	atomic.StoreInt32(&p.unknownAsAnydata, v)
}
