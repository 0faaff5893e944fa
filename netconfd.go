// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package netconfd implements the backend of a NETCONF-style network
// configuration server: named configuration datastores, a two-phase
// commit engine between candidate and running, an RPC dispatch layer,
// and a notification bus. See SPEC_FULL.md for the full module map.
package netconfd

import (
	"log"
	"log/syslog"
	"os"
	"strconv"
)

// SessionId identifies a client session; also used as lock-holder identity.
type SessionId int32

const (
	// NoSession is the sentinel meaning "no holder" for datastore locks.
	NoSession SessionId = 0
	// System is the pid used for internally generated requests (startup
	// load, commit's own re-read of running, etc).
	System SessionId = -2
)

func (s SessionId) String() string {
	switch s {
	case NoSession:
		return "none"
	case System:
		return "system"
	}
	return strconv.Itoa(int(s))
}

// Config is the single configuration-option block described in spec §6,
// loaded by cmd/netconfd from an ini file via github.com/go-ini/ini.
type Config struct {
	SockPath   string `ini:"sock-path"`
	SockFamily string `ini:"sock-family"` // "local" or "ipv4"
	SockPort   int    `ini:"sock-port"`
	SockGroup  string `ini:"sock-group"`
	Runfile    string `ini:"runfile"`

	XmldbModuleState       bool `ini:"xmldb-module-state"`
	StreamDiscoveryRFC5277 bool `ini:"stream-discovery-rfc5277"`
	StreamDiscoveryRFC8040 bool `ini:"stream-discovery-rfc8040"`
	ModuleLibraryRFC7895   bool `ini:"module-library-rfc7895"`
	TransactionMod         bool `ini:"transaction-mod"`

	ConfirmedCommitTimeoutSeconds int    `ini:"confirmed-commit-timeout-seconds"`
	FailsafeDatastoreName         string `ini:"failsafe-datastore-name"`
}

// DefaultConfig matches the teacher's own main.go defaults, updated for
// this daemon's socket path.
func DefaultConfig() *Config {
	return &Config{
		SockPath:                      "/run/netconfd/main.sock",
		SockFamily:                    "local",
		SockGroup:                     "netconfd",
		Runfile:                       "/run/netconfd/running.config",
		StreamDiscoveryRFC5277:        true,
		ConfirmedCommitTimeoutSeconds: 600,
		FailsafeDatastoreName:         "",
	}
}

// Context carries per-request identity and the three process loggers
// through handler call chains, mirroring the teacher's configd.Context.
type Context struct {
	Internal  bool // true for requests the engine makes of itself
	Pid       SessionId
	Uid       uint32
	User      string
	Superuser bool
	Config    *Config
	Dlog      *log.Logger // debug
	Elog      *log.Logger // error / audit
	Wlog      *log.Logger // warning
}

// RaisePrivileges marks the context as internal, bypassing access control.
// Used sparingly: only the engine's own re-reads of running and the
// startup load path should ever call this.
func (c *Context) RaisePrivileges() { c.Internal = true }

func (c *Context) DropPrivileges() { c.Internal = false }

// NewLogger mirrors configd.NewLogger: a syslog-backed *log.Logger, or,
// if syslog isn't reachable (e.g. under test), a stderr logger together
// with the error.
func NewLogger(priority syslog.Priority, flag int) (*log.Logger, error) {
	w, err := syslog.New(priority, "netconfd")
	if err != nil {
		return log.New(os.Stderr, "", flag), err
	}
	return log.New(w, "", flag), nil
}

// DiscardContext builds a Context with loggers that discard everything;
// useful for tests and for CLI tools that don't want syslog noise.
func DiscardContext(cfg *Config) *Context {
	discard := log.New(discardWriter{}, "", 0)
	return &Context{
		Pid:    System,
		Config: cfg,
		Dlog:   discard,
		Elog:   discard,
		Wlog:   discard,
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
