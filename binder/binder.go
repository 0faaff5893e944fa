// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package binder implements spec.md §4.1: the schema binder and
// validator. It associates configuration tree nodes with schema nodes,
// checks mandatory/range/pattern/enum/bits/identity/key constraints, and
// materializes declared defaults. Leafref targets are checked only by
// the separate CheckLeafref; Bind does not call it.
package binder

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/danos/mgmterror"
	"github.com/danos/utils/pathutil"

	"github.com/danos/netconfd/common"
	"github.com/danos/netconfd/schema"
	"github.com/danos/netconfd/tree"
)

// Binder binds configuration trees against a schema registry.
type Binder struct {
	Registry schema.Registry
}

func New(reg schema.Registry) *Binder {
	return &Binder{Registry: reg}
}

// Bind attaches schema nodes to every element of root. root itself is
// not bound: each top-level child is matched to a module by its own
// namespace. Binding also fills defaults and sorts the children of every
// bound node into canonical order; root's own children keep their order.
//
// Unknown elements are rejected with unknown-element unless the
// process-wide toggle (common.Global().UnknownElementAsAnydata) is set,
// in which case they are left schema-less and treated as anydata.
func (b *Binder) Bind(root *tree.Node) error {
	for _, top := range root.Children {
		modRoot, ok := b.Registry.Module(top.Namespace)
		if !ok {
			if common.Global().UnknownElementAsAnydata() {
				continue
			}
			return unknownElement(top.Name, root.Name, top.Namespace, []string{top.Name})
		}
		if err := b.bindNode(top, modRoot, []string{top.Name}); err != nil {
			return err
		}
	}
	return nil
}

// BindOperation binds an <rpc> element's single child under the named
// operation's input schema (or output schema when forReply is true),
// per spec §4.1 "RPC binding variants". Called from Dispatcher.Dispatch
// only once an operation's Handler has already been located, so an
// operation absent from the schema registry is not itself an error:
// the RFC 6241 base operations (get-config, edit-config, ...) are
// built in and have no declared rpc input/output schema to bind
// against. Only a registered, schema-declared operation's arguments are
// actually validated here.
func (b *Binder) BindOperation(namespace, operation string, input *tree.Node, forReply bool) error {
	op, ok := b.Registry.Rpc(namespace, operation)
	if !ok {
		return nil
	}
	var side *schema.Node
	kind := schema.RpcInput
	if forReply {
		kind = schema.RpcOutput
	}
	for _, c := range op.Children() {
		if c.Kind == kind {
			side = c
			break
		}
	}
	if side == nil {
		// No input/output defined: an empty operation body is valid.
		return nil
	}
	return b.bindChildren(input, side, []string{input.Name})
}

// CheckNoState walks an edit-config fragment and rejects any element
// that resolves to a schema node with config false, per spec §4.5
// edit-config's "Rejects config containing state nodes." Grounded in
// the original source's xml_non_config_data check, run synchronously
// inside edit-config before the fragment ever reaches the datastore
// (_examples/original_source/apps/backend/backend_client.c). Unlike
// Bind, this does not fill defaults or check mandatory/key
// constraints: a merge/create/delete fragment is a partial tree and
// those checks belong to the full candidate validated at commit time.
func (b *Binder) CheckNoState(root *tree.Node) error {
	for _, top := range root.Children {
		modRoot, ok := b.Registry.Module(top.Namespace)
		if !ok {
			if common.Global().UnknownElementAsAnydata() {
				continue
			}
			return unknownElement(top.Name, root.Name, top.Namespace, []string{top.Name})
		}
		if err := b.checkNoStateNode(top, modRoot, []string{top.Name}); err != nil {
			return err
		}
	}
	return nil
}

func (b *Binder) checkNoStateNode(n *tree.Node, sn *schema.Node, path []string) error {
	if sn.Kind == schema.Anydata {
		return nil
	}
	if !sn.Config {
		err := mgmterror.NewInvalidValueProtocolError()
		err.Message = "state data not allowed in config: " + pathutil.Pathstr(path)
		err.Path = pathutil.Pathstr(path)
		return err
	}
	for _, c := range n.Children {
		child, ok := sn.Child(c.Name)
		if !ok || child.Namespace != c.Namespace {
			if common.Global().UnknownElementAsAnydata() {
				continue
			}
			return unknownElement(c.Name, n.Name, c.Namespace, append(append([]string{}, path...), c.Name))
		}
		if err := b.checkNoStateNode(c, child, append(append([]string{}, path...), c.Name)); err != nil {
			return err
		}
	}
	return nil
}

func (b *Binder) bindNode(n *tree.Node, sn *schema.Node, path []string) error {
	n.Schema = sn
	if sn.Kind == schema.Anydata {
		return nil
	}
	if !sn.Config {
		err := mgmterror.NewInvalidValueProtocolError()
		err.Path = pathutil.Pathstr(path)
		return err
	}
	if sn.Kind == schema.Leaf || sn.Kind == schema.LeafList {
		return b.bindLeaf(n, sn, path)
	}
	return b.bindChildren(n, sn, path)
}

func (b *Binder) bindChildren(n *tree.Node, sn *schema.Node, path []string) error {
	for _, c := range n.Children {
		child, ok := sn.Child(c.Name)
		if !ok || child.Namespace != c.Namespace {
			if common.Global().UnknownElementAsAnydata() {
				continue
			}
			return unknownElement(c.Name, n.Name, c.Namespace, append(append([]string{}, path...), c.Name))
		}
		if err := b.bindNode(c, child, append(append([]string{}, path...), c.Name)); err != nil {
			return err
		}
	}
	if err := b.checkMandatory(n, sn, path); err != nil {
		return err
	}
	if err := b.fillDefaults(n, sn); err != nil {
		return err
	}
	for _, child := range sn.Children() {
		if child.Kind != schema.List {
			continue
		}
		if err := b.checkKeys(n, child, path); err != nil {
			return err
		}
	}
	tree.Sort(n, sn)
	return nil
}

func (b *Binder) bindLeaf(n *tree.Node, sn *schema.Node, path []string) error {
	if sn.Type == nil {
		return nil
	}
	err := CheckType(n.Value, sn.Type)
	if err == nil {
		err = CheckIdentity(n.Value, sn.Type)
	}
	if err != nil {
		if ive, ok := err.(*mgmterror.InvalidValueProtocolError); ok {
			ive.Path = pathutil.Pathstr(path)
		}
		return err
	}
	return nil
}

// checkMandatory enforces spec §4.1: "Mandatory leaves absent on an
// otherwise-present parent -> missing-element naming the leaf and
// parent path." Only direct mandatory leaf children are checked here;
// mandatory containers are the caller's problem one level up.
func (b *Binder) checkMandatory(n *tree.Node, sn *schema.Node, path []string) error {
	for _, child := range sn.Children() {
		if !child.Mandatory {
			continue
		}
		if child.Kind != schema.Leaf && child.Kind != schema.LeafList {
			continue
		}
		if n.Find(child.Name, child.Namespace, nil) == nil {
			err := mgmterror.NewMissingElementProtocolError(child.Name)
			err.Message = "missing mandatory element " + child.Name
			err.Path = pathutil.Pathstr(path)
			return err
		}
	}
	return nil
}

// fillDefaults materializes unset leaves that declare a default value,
// tagging them Default so callers can serialize them distinctly.
func (b *Binder) fillDefaults(n *tree.Node, sn *schema.Node) error {
	for _, child := range sn.Children() {
		if child.Default == nil {
			continue
		}
		if child.Kind != schema.Leaf {
			continue
		}
		if n.Find(child.Name, child.Namespace, nil) != nil {
			continue
		}
		n.Children = append(n.Children, &tree.Node{
			Name:      child.Name,
			Namespace: child.Namespace,
			Schema:    child,
			Value:     *child.Default,
			Default:   true,
		})
	}
	return nil
}

// checkKeys enforces spec §4.1: "List keys must be present, unique
// across siblings, and drive sibling ordering." Ordering is handled by
// tree.Sort; this checks presence and uniqueness and populates each
// entry's Keys field from its key leaves. parent is the node whose
// children include the list's entries as siblings.
func (b *Binder) checkKeys(parent *tree.Node, listSchema *schema.Node, path []string) error {
	seen := make(map[string]bool)
	for _, entry := range parent.Children {
		if entry.Name != listSchema.Name || entry.Namespace != listSchema.Namespace {
			continue
		}
		keys := make([]string, 0, len(listSchema.Keys))
		for _, keyName := range listSchema.Keys {
			keyLeaf := entry.Find(keyName, listSchema.Namespace, nil)
			if keyLeaf == nil {
				err := mgmterror.NewMissingElementProtocolError(keyName)
				err.Message = "missing key element " + keyName
				err.Path = pathutil.Pathstr(append(append([]string{}, path...), entry.Name))
				return err
			}
			keys = append(keys, keyLeaf.Value)
		}
		entry.Keys = keys
		ks := entry.KeyString()
		if seen[ks] {
			err := mgmterror.NewDataExistsError(pathutil.Pathstr(append(append([]string{}, path...), entry.Name)))
			err.Message = fmt.Sprintf("duplicate key %v in list %s", keys, listSchema.Name)
			return err
		}
		seen[ks] = true
	}
	return nil
}

func unknownElement(name, parent, namespace string, path []string) error {
	err := mgmterror.NewUnknownElementProtocolError(name)
	err.Path = pathutil.Pathstr(path)
	err.Message = fmt.Sprintf("element %q not found in namespace %q under %q", name, namespace, parent)
	return err
}

// CheckType validates a leaf's textual value against its type
// descriptor: numeric ranges, string lengths, patterns, enum and bits
// membership. Identity-derivation is checked by CheckIdentity below,
// which Bind runs after CheckType on every typed leaf. Leafref targets
// need the surrounding tree and are checked by CheckLeafref below; Bind
// does not call CheckLeafref.
func CheckType(value string, t *schema.Type) error {
	switch t.Base {
	case schema.TInt64, schema.TUint64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return invalidValue(value)
		}
		if t.HasRange && (n < t.Min || n > t.Max) {
			return invalidValue(value)
		}
	case schema.TString:
		if t.HasLength {
			l := len(value)
			if l < t.MinLen || (t.MaxLen > 0 && l > t.MaxLen) {
				return invalidValue(value)
			}
		}
		if t.Pattern != "" {
			re, err := regexp.Compile(t.Pattern)
			if err != nil || !re.MatchString(value) {
				return invalidValue(value)
			}
		}
	case schema.TBool:
		if value != "true" && value != "false" {
			return invalidValue(value)
		}
	case schema.TEnumeration:
		if !contains(t.Enum, value) {
			return invalidValue(value)
		}
	case schema.TBits:
		for _, bit := range splitBits(value) {
			if !contains(t.Bits, bit) {
				return invalidValue(value)
			}
		}
	}
	return nil
}

// CheckIdentity validates that value is t.IdentityBase itself or one of
// the identities the registry reports as derived from it.
func CheckIdentity(value string, t *schema.Type) error {
	if t.Base != schema.TIdentityref {
		return nil
	}
	if value == t.IdentityBase || contains(t.Identities, value) {
		return nil
	}
	return invalidValue(value)
}

// CheckLeafref validates that a leafref's target path resolves to an
// existing node inside root.
func CheckLeafref(root *tree.Node, t *schema.Type) error {
	if t.Base != schema.TLeafref || t.LeafrefTarget == "" {
		return nil
	}
	if resolvePath(root, t.LeafrefTarget) == nil {
		return mgmterror.NewInvalidValueProtocolError()
	}
	return nil
}

func resolvePath(root *tree.Node, path string) *tree.Node {
	// Full XPath evaluation is explicitly out of scope (spec §1) and
	// delegated to the codec's filter evaluator for read filtering.
	// The path is walked from root by local name, one token per level;
	// ".." and predicates are not interpreted. A namespace-less level
	// (such as the datastore root) matches children of any namespace.
	cur := root
	for _, seg := range pathutil.Makepath(path) {
		if seg == "" || seg == "." {
			continue
		}
		var next *tree.Node
		for _, c := range cur.Children {
			if c.Name == seg && (cur.Namespace == "" || c.Namespace == cur.Namespace) {
				next = c
				break
			}
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

func splitBits(v string) []string {
	var out []string
	cur := ""
	for _, r := range v {
		if r == ' ' {
			if cur != "" {
				out = append(out, cur)
			}
			cur = ""
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func invalidValue(value string) error {
	err := mgmterror.NewInvalidValueProtocolError()
	err.Message = fmt.Sprintf("invalid value %q", value)
	return err
}
