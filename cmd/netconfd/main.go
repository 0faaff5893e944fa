// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

/*
netconfd is a daemon that serves NETCONF-style configuration sessions
over named datastores.

Usage:

	-config=<filename>
		Load the [main] section of an ini-format config file into the
		daemon's option block (sock-path, sock-family, sock-port,
		sock-group, confirmed-commit-timeout-seconds, ...).

	-logfile=<filename>
		When defined, redirect std{out,err} to the supplied file.

	-pidfile=<filename>
		Write the daemon's pid to the supplied file.
*/
package main

import (
	"flag"
	"fmt"
	"log"
	"log/syslog"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-ini/ini"

	"github.com/danos/netconfd"
	"github.com/danos/netconfd/binder"
	"github.com/danos/netconfd/codec"
	"github.com/danos/netconfd/datastore"
	"github.com/danos/netconfd/notif"
	"github.com/danos/netconfd/rpc"
	"github.com/danos/netconfd/schema"
	"github.com/danos/netconfd/session"
	"github.com/danos/netconfd/txn"
)

var basepath = "/run/netconfd"

var configfile = flag.String("config", basepath+"/netconfd.conf",
	"Load daemon configuration from the supplied ini file.")

var logfile = flag.String("logfile", "",
	"Redirect std{out,err} to supplied file.")

var pidfile = flag.String("pidfile", basepath+"/netconfd.pid",
	"Write pid to supplied file.")

func fatal(elog *log.Logger, err error) {
	if err != nil {
		log.Println(err)
		elog.Fatal(err)
	}
}

// loadConfig starts from netconfd.DefaultConfig and overlays the
// [main] section of the ini file at path, matching the teacher's own
// yangc ini.Load usage (cmd/yangc/yangc.go), generalized here with
// MapTo since netconfd's option block (spec §6) is a flat set of named
// scalars rather than yangc's per-section function lists.
func loadConfig(path string) (*netconfd.Config, error) {
	cfg := netconfd.DefaultConfig()
	if _, err := os.Stat(path); err != nil {
		return cfg, nil // no file: defaults stand, spec §6 doesn't require one
	}
	f, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	if err := f.Section("main").MapTo(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func initLogging() *log.Logger {
	if *logfile != "" {
		f, err := os.OpenFile(*logfile, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0640)
		if err == nil {
			os.Stdout = f
			os.Stderr = f
		}
	}
	for i := 0; i < 5; i++ {
		elog, err := netconfd.NewLogger(syslog.LOG_ERR|syslog.LOG_DAEMON, 0)
		if err == nil {
			return elog
		}
		time.Sleep(10 * time.Millisecond)
	}
	return log.New(os.Stderr, "", 0)
}

func writePid() {
	f, err := os.OpenFile(*pidfile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%d\n", os.Getpid())
}

func main() {
	debug.SetGCPercent(25)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	elog := initLogging()
	dlog, err := netconfd.NewLogger(syslog.LOG_DEBUG|syslog.LOG_DAEMON, 0)
	if err != nil {
		dlog = log.New(os.Stderr, "", 0)
	}

	cfg, err := loadConfig(*configfile)
	fatal(elog, err)

	fatal(elog, os.MkdirAll(basepath, 0755))

	ds := datastore.NewManager()
	ds.Create(datastore.Candidate)
	ds.Create(datastore.Startup)
	if cfg.FailsafeDatastoreName != "" {
		ds.Create(cfg.FailsafeDatastoreName)
	}

	reg := schema.NewModelSet()
	b := binder.New(reg)

	engine := txn.NewEngine(ds, b, elog)
	engine.Register(&txn.ScriptHooks{
		PreCommitDir:  basepath + "/commit.d",
		PostCommitDir: basepath + "/commit-post.d",
		Elog:          elog,
	})
	confirm := txn.NewConfirmedCommit(engine)

	bus := notif.NewBus(elog)
	if cfg.StreamDiscoveryRFC5277 {
		bus.RegisterStream("NETCONF", 1024)
	}

	dispatcher := rpc.NewDispatcher(elog)
	dispatcher.Binder = b
	dispatcher.Codec = codec.XMLCodec{}
	srv := &rpc.Server{
		DS:                            ds,
		Binder:                        b,
		Engine:                        engine,
		Confirm:                       confirm,
		Codec:                         codec.XMLCodec{},
		Streams:                       bus,
		ConfirmedCommitTimeoutSeconds: uint32(cfg.ConfirmedCommitTimeoutSeconds),
	}
	rpc.RegisterBuiltins(dispatcher, srv)

	mgr := session.NewManager(dispatcher, ds, elog)
	mgr.Streams = bus
	srv.Sessions = mgr
	bus.Writer = mgr

	l, err := session.Listen(cfg)
	fatal(elog, err)

	writePid()

	runtime.GC()
	debug.FreeOSMemory()

	dlog.Printf("netconfd listening on %s", l.Addr())
	fatal(elog, session.Serve(l, mgr, elog))
}
