// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package client is a thin NETCONF wire client for the diagnostic CLI
// surface of spec.md §6. It dials the daemon's client socket directly
// (the same length-framed XML protocol session.Manager speaks) rather
// than going through the internal JSON-RPC protocol the teacher's own
// client package uses (client/client.go's Dial/Call over
// encoding/json), since netconfctl talks the same wire format real
// NETCONF peers do.
package client

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/danos/netconfd/session"
)

// Client is a connection to a running netconfd instance.
type Client struct {
	conn   net.Conn
	mu     sync.Mutex
	nextID int32
}

// Dial connects to address over network ("unix" or "tcp").
func Dial(network, address string) (*Client, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// Call sends one <rpc> envelope wrapping opXML and returns the raw
// <rpc-reply> body.
func (c *Client) Call(opXML string) (string, error) {
	id := atomic.AddInt32(&c.nextID, 1)
	req := fmt.Sprintf(
		`<rpc message-id="%d" xmlns="urn:ietf:params:xml:ns:netconf:base:1.0">%s</rpc>`,
		id, opXML)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := session.WriteFramed(c.conn, []byte(req)); err != nil {
		return "", err
	}
	reply, err := session.ReadFramed(c.conn)
	if err != nil {
		return "", err
	}
	return string(reply), nil
}

// GetConfig issues a get-config against datastoreName ("running",
// "candidate", "startup").
func (c *Client) GetConfig(datastoreName string) (string, error) {
	op := fmt.Sprintf(`<get-config><source><%s/></source></get-config>`, datastoreName)
	return c.Call(op)
}

// EditConfig issues an edit-config of target with the given
// default-operation and raw config fragment.
func (c *Client) EditConfig(target, defaultOp, configXML string) (string, error) {
	op := fmt.Sprintf(
		`<edit-config><target><%s/></target><default-operation>%s</default-operation><config>%s</config></edit-config>`,
		target, defaultOp, configXML)
	return c.Call(op)
}

// DeleteConfig issues a delete-config of target.
func (c *Client) DeleteConfig(target string) (string, error) {
	op := fmt.Sprintf(`<delete-config><target><%s/></target></delete-config>`, target)
	return c.Call(op)
}

// SetDebugLevel issues the debug-level setter RPC of spec §4.5.
func (c *Client) SetDebugLevel(level string) (string, error) {
	op := fmt.Sprintf(`<debug-level><level>%s</level></debug-level>`, level)
	return c.Call(op)
}
