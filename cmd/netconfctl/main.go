// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

/*
netconfctl is a diagnostic tool that directly manipulates netconfd's
datastores over its client socket (spec.md §6 "CLI surface").

Usage:

	-datastore=<name>       Datastore to operate on (default "running")
	-dump                   Dump the datastore to stdout
	-match=<regex>          Only dump elements whose value matches regex
	-set=<path>=<value>     Add/replace a leaf value via edit-config merge
	-remove=<path>          Remove a leaf or subtree via edit-config delete
	-delete                 Delete the datastore
	-init                   Initialize (replace with empty) the datastore
	-log-level=<level>      Set the daemon's debug level (0 off, 1+ verbose)
	-syslog                 Log this tool's own output to the system log
*/
package main

import (
	"flag"
	"fmt"
	"log"
	"log/syslog"
	"os"
	"regexp"
	"strings"

	"github.com/danos/utils/natsort"
	"github.com/danos/utils/tty"

	"github.com/danos/netconfd/client"
)

var (
	socket    = flag.String("socket", "/run/netconfd/main.sock", "Path to netconfd's client socket")
	datastore = flag.String("datastore", "running", "Datastore to operate on")
	dump      = flag.Bool("dump", false, "Dump the datastore to stdout")
	match     = flag.String("match", "", "Only dump elements whose value matches this regex")
	set       = flag.String("set", "", "path=value to merge into the datastore")
	remove    = flag.String("remove", "", "path to remove from the datastore")
	del       = flag.Bool("delete", false, "Delete the datastore")
	initStore = flag.Bool("init", false, "Initialize (empty) the datastore")
	logLevel  = flag.String("log-level", "", "Set the daemon's debug level")
	useSyslog = flag.Bool("syslog", false, "Log this tool's own output to the system log")
)

func fail(logger *log.Logger, err error) {
	logger.Println(err)
	os.Exit(1)
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := log.New(os.Stderr, "", 0)
	if *useSyslog {
		w, err := syslog.NewLogger(syslog.LOG_NOTICE|syslog.LOG_USER, 0)
		if err == nil {
			logger = w
		}
	}

	cl, err := client.Dial("unix", *socket)
	if err != nil {
		fail(logger, err)
	}
	defer cl.Close()

	switch {
	case *del:
		reply, err := cl.DeleteConfig(*datastore)
		report(logger, reply, err)

	case *initStore:
		reply, err := cl.EditConfig(*datastore, "replace", "")
		report(logger, reply, err)

	case *set != "":
		path, value, ok := strings.Cut(*set, "=")
		if !ok {
			fail(logger, fmt.Errorf("-set requires path=value"))
		}
		frag := pathToFragment(path, value)
		reply, err := cl.EditConfig(*datastore, "merge", frag)
		report(logger, reply, err)

	case *remove != "":
		frag := pathToFragment(*remove, "")
		reply, err := cl.EditConfig(*datastore, "delete", frag)
		report(logger, reply, err)

	case *logLevel != "":
		reply, err := cl.SetDebugLevel(*logLevel)
		report(logger, reply, err)

	case *dump:
		reply, err := cl.GetConfig(*datastore)
		if err != nil {
			fail(logger, err)
		}
		printFiltered(reply, *match)

	default:
		flag.Usage()
		os.Exit(2)
	}
}

// pathToFragment builds a '/'-separated path into nested XML elements,
// e.g. "interfaces/eth0/address" -> <interfaces><eth0><address>value</address></eth0></interfaces>.
func pathToFragment(path, value string) string {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	frag := value
	for i := len(segs) - 1; i >= 0; i-- {
		frag = "<" + segs[i] + ">" + frag + "</" + segs[i] + ">"
	}
	return frag
}

// printFiltered prints reply, optionally restricted to lines matching
// pattern and naturally sorted (so keyed list entries like eth2, eth10
// read in the order an operator expects rather than lexical order).
func printFiltered(reply, pattern string) {
	if pattern == "" {
		fmt.Println(reply)
		return
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Println(reply)
		return
	}
	var matched []string
	for _, line := range strings.Split(reply, "\n") {
		if re.MatchString(line) {
			matched = append(matched, line)
		}
	}
	natsort.Sort(matched)
	for _, line := range matched {
		fmt.Println(line)
	}
}

// isInteractive reports whether this process has a controlling
// terminal, used to decide whether to echo the daemon's raw rpc-error
// body on failure or just a short message.
func isInteractive() bool {
	_, err := tty.TtyNameForPid(os.Getpid())
	return err == nil
}

func report(logger *log.Logger, reply string, err error) {
	if err != nil {
		fail(logger, err)
	}
	if strings.Contains(reply, "rpc-error") {
		if isInteractive() {
			fmt.Fprintln(os.Stderr, reply)
		} else {
			fmt.Fprintln(os.Stderr, "netconfctl: request failed")
		}
		os.Exit(1)
	}
	fmt.Println(reply)
	os.Exit(0)
}
