// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package session implements spec.md §4.6: the session manager. Each
// accepted connection becomes a Session; reads happen on the
// connection's own goroutine, but the actual request is handed to a
// single core goroutine for dispatch, reconciling the single-threaded
// scheduling model of spec §5 with the teacher's own per-connection
// goroutine (server/conn.go's SrvConn.Handle, one goroutine per
// net.UnixConn spawned from Serve's accept loop).
package session

import (
	"net"
	"sync"

	"github.com/danos/netconfd"
	"github.com/danos/netconfd/datastore"
)

// Session is one accepted client connection, spec §3 "Session": an
// authenticated channel with a set of held locks and active
// subscriptions, torn down on disconnect.
type Session struct {
	ID       netconfd.SessionId
	Username string
	Super    bool

	// LoginUid and Tty are audit-trail attributes resolved from the
	// peer's pid at accept time (local-domain sockets only): the
	// original authenticated login uid behind any subsequent su/sudo,
	// and the controlling terminal, if any. Empty/zero over TCP.
	LoginUid uint32
	Tty      string

	conn net.Conn

	writeMu sync.Mutex
	closed  bool
}

// writeFrame sends one length-prefixed, NUL-terminated message, per
// spec §6 "Client socket": "Messages are NUL-terminated XML fragments
// prefixed by total length." Safe for concurrent callers (the core
// dispatch goroutine and the notification bus may both write).
func (s *Session) writeFrame(body []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return brokenPipe()
	}
	return writeFramed(s.conn, body)
}

// releaseLocks clears every datastore lock this session holds, spec
// §4.3 "On session termination, all locks held by that session are
// released atomically."
func (s *Session) releaseLocks(ds *datastore.Manager) {
	ds.ReleaseSessionLocks(s.ID)
}
