// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package tree implements the configuration tree of spec.md §3: an
// ordered labelled tree whose interior nodes are containers or keyed
// lists and whose leaves carry typed scalar values, plus the canonical
// sibling ordering every mutation must re-establish before commit.
package tree

import (
	"sort"
	"strings"

	"github.com/danos/netconfd/schema"
)

// Node is one element of a configuration tree. A list has no wrapper
// node: its entries are sibling Nodes of the same Name/Namespace under
// the list's parent, distinguished by Keys; a leaf-list is represented
// the same way as repeated sibling leaves carrying no keys.
type Node struct {
	Name      string
	Namespace string
	Schema    *schema.Node

	// Value holds the leaf/leaf-list scalar body. Unused on interior
	// nodes.
	Value string

	// Keys holds, in schema.Node.Keys order, the key leaf values for a
	// list-entry node. Empty otherwise.
	Keys []string

	// Default marks a leaf materialized by the binder rather than
	// supplied by the caller (spec §4.1 "Defaults").
	Default bool

	// Changed marks a node as an ancestor of a diffed subtree (spec
	// §4.2 "Marking"); cleared at transaction end.
	Changed bool

	Children []*Node
}

// New creates an empty root container node, e.g. a fresh datastore tree.
func New(name string) *Node {
	return &Node{Name: name}
}

// IsLeaf reports whether n carries a scalar value rather than children.
func (n *Node) IsLeaf() bool {
	if n.Schema == nil {
		return len(n.Children) == 0
	}
	return n.Schema.Kind == schema.Leaf || n.Schema.Kind == schema.LeafList
}

// AddChild appends a child and returns it, for fluent tree construction
// in tests and in the codec.
func (n *Node) AddChild(c *Node) *Node {
	n.Children = append(n.Children, c)
	return n
}

// Clone deep-copies a subtree. Datastore trees are exclusively owned by
// their slot (spec §3 Ownership); every read returns a Clone so callers
// can never mutate datastore state through a borrowed reference.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	cp := &Node{
		Name:      n.Name,
		Namespace: n.Namespace,
		Schema:    n.Schema,
		Value:     n.Value,
		Default:   n.Default,
		Changed:   n.Changed,
		Keys:      append([]string(nil), n.Keys...),
	}
	for _, c := range n.Children {
		cp.Children = append(cp.Children, c.Clone())
	}
	return cp
}

// ClearChanged recursively clears the Changed tag (transaction end).
func (n *Node) ClearChanged() {
	n.Changed = false
	for _, c := range n.Children {
		c.ClearChanged()
	}
}

// KeyString joins a list entry's key values for use as a comparison or
// map key, e.g. in error messages and the differ's key-tuple matching.
func (n *Node) KeyString() string {
	return strings.Join(n.Keys, "\x00")
}

// Sort re-establishes canonical sibling order at every level of the
// subtree: keyed-list entries ordered by key tuple, other siblings by
// schema declaration order (spec §3 "Order among siblings is
// canonical"). parent is n's own schema node, used to resolve
// declaration order for non-list children; may be nil for untyped
// trees, in which case name order is used as a fallback.
func Sort(n *Node, parent *schema.Node) {
	for _, c := range n.Children {
		var childSchema *schema.Node
		if c.Schema != nil {
			childSchema = c.Schema
		}
		Sort(c, childSchema)
	}
	sort.SliceStable(n.Children, func(i, j int) bool {
		return Less(n.Children[i], n.Children[j], parent)
	})
}

// Less implements the canonical sibling comparator of spec §4.2: list
// entries sharing a name compare by key tuple; otherwise siblings
// compare by the parent schema's declaration order, falling back to
// name+namespace when no schema is available.
func Less(a, b *Node, parent *schema.Node) bool {
	if a.Name == b.Name && a.Namespace == b.Namespace {
		// Same list (or leaf-list): compare key tuples / values.
		if len(a.Keys) > 0 || len(b.Keys) > 0 {
			return lessKeys(a.Keys, b.Keys)
		}
		return a.Value < b.Value
	}
	if parent != nil {
		ia, ib := parent.DeclarationIndex(a.Name), parent.DeclarationIndex(b.Name)
		if ia >= 0 && ib >= 0 {
			return ia < ib
		}
	}
	if a.Namespace != b.Namespace {
		return a.Namespace < b.Namespace
	}
	return a.Name < b.Name
}

func lessKeys(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// Find locates an immediate child matching name+namespace and, if keyed,
// the given key tuple.
func (n *Node) Find(name, namespace string, keys []string) *Node {
	for _, c := range n.Children {
		if c.Name != name || c.Namespace != namespace {
			continue
		}
		if len(keys) == 0 || c.KeyString() == strings.Join(keys, "\x00") {
			return c
		}
	}
	return nil
}

// Equivalent reports deep, canonical-order equality, used by invariant
// tests (spec §8 Round-trip, Idempotent copy).
func Equivalent(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Name != b.Name || a.Namespace != b.Namespace || a.Value != b.Value {
		return false
	}
	if len(a.Children) != len(b.Children) {
		return false
	}
	for i := range a.Children {
		if !Equivalent(a.Children[i], b.Children[i]) {
			return false
		}
	}
	return true
}
