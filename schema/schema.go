// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package schema is the local stand-in for the external YANG-compiled
// schema registry described in spec.md §6: "the schema (YANG) compiler"
// is explicitly out of scope. This package defines the contract the
// binder consumes (Registry, Node, Type) and a small in-memory Registry
// a production build would swap for a real compiled module set.
package schema

import "fmt"

// Kind is the node kind taxonomy of spec §3.
type Kind int

const (
	Container Kind = iota
	List
	Leaf
	LeafList
	Rpc
	RpcInput
	RpcOutput
	Notification
	Anydata
)

func (k Kind) String() string {
	switch k {
	case Container:
		return "container"
	case List:
		return "list"
	case Leaf:
		return "leaf"
	case LeafList:
		return "leaf-list"
	case Rpc:
		return "rpc"
	case RpcInput:
		return "input"
	case RpcOutput:
		return "output"
	case Notification:
		return "notification"
	case Anydata:
		return "anydata"
	default:
		return "unknown"
	}
}

// BaseType is the scalar base type of a leaf/leaf-list.
type BaseType int

const (
	TString BaseType = iota
	TInt64
	TUint64
	TBool
	TEnumeration
	TBits
	TIdentityref
	TLeafref
	TDecimal64
)

// Type is the type descriptor of spec §3: base type plus constraints.
type Type struct {
	Base BaseType

	// Range applies to numeric base types: inclusive [Min,Max].
	HasRange bool
	Min, Max int64

	// Length applies to TString: inclusive [MinLen,MaxLen]. Zero MaxLen
	// means unbounded.
	HasLength        bool
	MinLen, MaxLen   int

	// Pattern applies to TString: a compiled regular expression source.
	Pattern string

	// Enum is the permitted value set for TEnumeration.
	Enum []string

	// Bits is the permitted flag set for TBits.
	Bits []string

	// IdentityBase names the base identity for TIdentityref; Identities
	// is the set of identities derived from it (flattened by the
	// registry, since identity-derivation chains are compiled schema
	// data we don't need to re-derive at runtime).
	IdentityBase string
	Identities   []string

	// LeafrefTarget is an absolute or relative path expression, resolved
	// against the same configuration tree during validation (spec §4.1).
	LeafrefTarget string
}

// Node is a schema node: spec §3's "Schema node" external datum.
type Node struct {
	Name      string
	Namespace string
	Kind      Kind
	Default   *string
	Mandatory bool
	Config    bool // false => state-only ("config false" in spec terms)

	// Keys lists, in declared order, the key leaf names of a List node.
	Keys []string

	Type *Type // non-nil for Leaf/LeafList

	children map[string]*Node
	order    []string // declaration order, for canonical sibling sort
}

// NewNode constructs a schema node ready to accept children.
func NewNode(name, namespace string, kind Kind) *Node {
	return &Node{
		Name:      name,
		Namespace: namespace,
		Kind:      kind,
		Config:    true,
		children:  make(map[string]*Node),
	}
}

// AddChild registers a child under declaration order; returns the node
// for chaining.
func (n *Node) AddChild(child *Node) *Node {
	if _, exists := n.children[child.Name]; !exists {
		n.order = append(n.order, child.Name)
	}
	n.children[child.Name] = child
	return n
}

// Child looks up a schema child by local name.
func (n *Node) Child(localName string) (*Node, bool) {
	c, ok := n.children[localName]
	return c, ok
}

// Children returns children in declaration order.
func (n *Node) Children() []*Node {
	out := make([]*Node, 0, len(n.order))
	for _, name := range n.order {
		out = append(out, n.children[name])
	}
	return out
}

// DeclarationIndex reports the position of localName in declaration
// order, used by the differ/tree for canonical non-list sibling sort.
func (n *Node) DeclarationIndex(localName string) int {
	for i, name := range n.order {
		if name == localName {
			return i
		}
	}
	return -1
}

// Registry is the schema binder's contract onto the external schema
// compiler: module lookup by namespace, and (via Node.Child) datanode
// lookup by (parent-schema, local-name).
type Registry interface {
	// Module returns the root container node for a module namespace URI.
	Module(namespace string) (*Node, bool)

	// Rpc returns the rpc schema node for a (namespace, operation) pair.
	Rpc(namespace, operation string) (*Node, bool)

	// Notification returns the notification schema node for a
	// (namespace, name) pair.
	Notification(namespace, name string) (*Node, bool)
}

// ModelSet is the reference in-memory Registry implementation. A real
// deployment plugs a YANG-compiled registry (e.g. github.com/danos/yang)
// behind the same interface; nothing else in this repository changes.
type ModelSet struct {
	modules       map[string]*Node
	rpcs          map[string]*Node // key: namespace + "\x00" + name
	notifications map[string]*Node
}

func NewModelSet() *ModelSet {
	return &ModelSet{
		modules:       make(map[string]*Node),
		rpcs:          make(map[string]*Node),
		notifications: make(map[string]*Node),
	}
}

func (m *ModelSet) RegisterModule(namespace string, root *Node) {
	m.modules[namespace] = root
}

func (m *ModelSet) RegisterRpc(namespace string, rpc *Node) {
	m.rpcs[rpcKey(namespace, rpc.Name)] = rpc
}

func (m *ModelSet) RegisterNotification(namespace string, n *Node) {
	m.notifications[rpcKey(namespace, n.Name)] = n
}

func rpcKey(namespace, name string) string { return namespace + "\x00" + name }

func (m *ModelSet) Module(namespace string) (*Node, bool) {
	n, ok := m.modules[namespace]
	return n, ok
}

func (m *ModelSet) Rpc(namespace, operation string) (*Node, bool) {
	n, ok := m.rpcs[rpcKey(namespace, operation)]
	return n, ok
}

func (m *ModelSet) Notification(namespace, name string) (*Node, bool) {
	n, ok := m.notifications[rpcKey(namespace, name)]
	return n, ok
}

// Path renders a schema node's ancestry for error messages. Schema nodes
// don't carry parent back-pointers (design note §9: avoid back-pointers,
// callers that need a path walk from a known root).
func Path(root *Node, target *Node) string {
	var walk func(n *Node, trail []string) []string
	walk = func(n *Node, trail []string) []string {
		if n == target {
			return append(trail, n.Name)
		}
		for _, c := range n.Children() {
			if res := walk(c, append(trail, n.Name)); res != nil {
				return res
			}
		}
		return nil
	}
	trail := walk(root, nil)
	if trail == nil {
		return target.Name
	}
	s := ""
	for i, t := range trail {
		if i > 0 {
			s += "/"
		}
		s += t
	}
	return s
}

func (t *Type) String() string {
	if t == nil {
		return "<untyped>"
	}
	return fmt.Sprintf("%v", t.Base)
}
