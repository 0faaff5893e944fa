// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package rpc

import (
	"errors"
	"testing"

	"github.com/danos/mgmterror"

	"github.com/danos/netconfd/binder"
	"github.com/danos/netconfd/codec"
	"github.com/danos/netconfd/schema"
)

const ns = "urn:ietf:params:xml:ns:netconf:base:1.0"

// pingRegistry declares one custom rpc, "ping", with a mandatory "host"
// input leaf, for exercising Dispatch's schema-binding step.
func pingRegistry() *schema.ModelSet {
	ms := schema.NewModelSet()
	op := schema.NewNode("ping", ns, schema.Rpc)
	input := schema.NewNode("input", ns, schema.RpcInput)
	host := schema.NewNode("host", ns, schema.Leaf)
	host.Mandatory = true
	host.Type = &schema.Type{Base: schema.TString}
	input.AddChild(host)
	op.AddChild(input)
	ms.RegisterRpc(ns, op)
	return ms
}

func TestDispatchUnknownOperation(t *testing.T) {
	d := NewDispatcher(nil)
	reply := d.Dispatch(&Envelope{MessageID: "1", Op: Key{Namespace: ns, Name: "bogus"}})
	if len(reply.Errors) != 1 {
		t.Fatalf("expected one error for unregistered operation, got %+v", reply.Errors)
	}
}

func TestDispatchRunsRegisteredHandler(t *testing.T) {
	d := NewDispatcher(nil)
	d.Register(ns, "ping", func(e *Envelope) ([]byte, error) { return []byte("<pong/>"), nil })

	reply := d.Dispatch(&Envelope{MessageID: "1", Op: Key{Namespace: ns, Name: "ping"}})
	if reply.OK {
		t.Fatalf("reply with a payload should not be OK-only")
	}
	if string(reply.Payload) != "<pong/>" {
		t.Fatalf("unexpected payload: %s", reply.Payload)
	}
}

func TestDispatchReRegisterReplaces(t *testing.T) {
	d := NewDispatcher(nil)
	d.Register(ns, "op", func(e *Envelope) ([]byte, error) { return []byte("first"), nil })
	d.Register(ns, "op", func(e *Envelope) ([]byte, error) { return []byte("second"), nil })

	reply := d.Dispatch(&Envelope{MessageID: "1", Op: Key{Namespace: ns, Name: "op"}})
	if string(reply.Payload) != "second" {
		t.Fatalf("re-registration did not replace the handler: got %s", reply.Payload)
	}
}

func TestDispatchBindsOperationInputAgainstSchema(t *testing.T) {
	d := NewDispatcher(nil)
	d.Binder = binder.New(pingRegistry())
	d.Codec = codec.XMLCodec{}
	d.Register(ns, "ping", func(e *Envelope) ([]byte, error) { return []byte("<pong/>"), nil })

	reply := d.Dispatch(&Envelope{MessageID: "1", Op: Key{Namespace: ns, Name: "ping"}, Body: []byte(`<host>10.0.0.1</host>`)})
	if len(reply.Errors) != 0 || string(reply.Payload) != "<pong/>" {
		t.Fatalf("valid operation input was rejected: %+v", reply)
	}
}

func TestDispatchRejectsInvalidOperationInput(t *testing.T) {
	d := NewDispatcher(nil)
	d.Binder = binder.New(pingRegistry())
	d.Codec = codec.XMLCodec{}
	d.Register(ns, "ping", func(e *Envelope) ([]byte, error) { return []byte("<pong/>"), nil })

	reply := d.Dispatch(&Envelope{MessageID: "1", Op: Key{Namespace: ns, Name: "ping"}, Body: []byte(``)})
	if len(reply.Errors) != 1 {
		t.Fatalf("expected a schema error for a missing mandatory input leaf, got %+v", reply)
	}
}

func TestDispatchSkipsBindingForUnmodeledOperations(t *testing.T) {
	d := NewDispatcher(nil)
	d.Binder = binder.New(pingRegistry())
	d.Codec = codec.XMLCodec{}
	d.Register(ns, "op", func(e *Envelope) ([]byte, error) { return nil, nil })

	reply := d.Dispatch(&Envelope{MessageID: "1", Op: Key{Namespace: ns, Name: "op"}, Body: []byte(``)})
	if !reply.OK || len(reply.Errors) != 0 {
		t.Fatalf("an operation absent from the schema registry should bypass binding: %+v", reply)
	}
}

func TestDispatchAuthHookDeniesOperation(t *testing.T) {
	d := NewDispatcher(nil)
	d.Auth = func(user, category, module, operation string) bool { return false }
	d.Register(ns, "op", func(e *Envelope) ([]byte, error) { return nil, nil })

	reply := d.Dispatch(&Envelope{MessageID: "1", Username: "bob", Op: Key{Namespace: ns, Name: "op"}})
	if len(reply.Errors) != 1 {
		t.Fatalf("expected access-denied error, got %+v", reply.Errors)
	}
}

func TestDispatchHandlerOkReply(t *testing.T) {
	d := NewDispatcher(nil)
	d.Register(ns, "op", func(e *Envelope) ([]byte, error) { return nil, nil })

	reply := d.Dispatch(&Envelope{MessageID: "1", Op: Key{Namespace: ns, Name: "op"}})
	if !reply.OK || reply.Payload != nil || len(reply.Errors) != 0 {
		t.Fatalf("expected a bare ok reply, got %+v", reply)
	}
}

func TestErrorReplyPreservesStructuredError(t *testing.T) {
	d := NewDispatcher(nil)
	d.Register(ns, "op", func(e *Envelope) ([]byte, error) {
		err := mgmterror.NewInvalidValueProtocolError()
		err.Path = "/system/hostname"
		return nil, err
	})

	reply := d.Dispatch(&Envelope{MessageID: "1", Op: Key{Namespace: ns, Name: "op"}})
	if len(reply.Errors) != 1 {
		t.Fatalf("expected one error, got %+v", reply.Errors)
	}
	fe, ok := reply.Errors[0].(mgmterror.Formattable)
	if !ok {
		t.Fatalf("structured error lost its concrete type: %T", reply.Errors[0])
	}
	if fe.GetPath() != "/system/hostname" {
		t.Fatalf("GetPath() = %q, want %q", fe.GetPath(), "/system/hostname")
	}
}

func TestErrorReplyWrapsPlainError(t *testing.T) {
	d := NewDispatcher(nil)
	d.Register(ns, "op", func(e *Envelope) ([]byte, error) { return nil, errors.New("boom") })

	reply := d.Dispatch(&Envelope{MessageID: "1", Op: Key{Namespace: ns, Name: "op"}})
	if len(reply.Errors) != 1 {
		t.Fatalf("expected one error, got %+v", reply.Errors)
	}
	fe, ok := reply.Errors[0].(mgmterror.Formattable)
	if !ok {
		t.Fatalf("plain error was not wrapped into a structured mgmterror type: %T", reply.Errors[0])
	}
	if fe.GetMessage() != "boom" {
		t.Fatalf("wrapped message = %q, want %q", fe.GetMessage(), "boom")
	}
}

func TestParseEnvelopeExtractsSingleOperation(t *testing.T) {
	raw := []byte(`<rpc message-id="101" xmlns="` + ns + `"><get-config xmlns="` + ns + `"/></rpc>`)
	e, err := ParseEnvelope(raw, "alice", 1)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if e.MessageID != "101" || e.Username != "alice" || e.Op.Name != "get-config" {
		t.Fatalf("unexpected envelope: %+v", e)
	}
}

func TestParseEnvelopeRejectsMultipleOperations(t *testing.T) {
	raw := []byte(`<rpc message-id="1" xmlns="` + ns + `"><get/><get-config/></rpc>`)
	if _, err := ParseEnvelope(raw, "alice", 1); err == nil {
		t.Fatalf("expected malformed-message error for multiple operation children")
	}
}

func TestParseEnvelopeRejectsMalformedXML(t *testing.T) {
	if _, err := ParseEnvelope([]byte("<rpc>"), "alice", 1); err == nil {
		t.Fatalf("expected malformed-message error for unterminated XML")
	}
}
