// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package diff implements spec.md §4.2: the tree differ. Given two
// schema-bound trees sharing the same schema, it computes the
// (added, deleted, changed) vectors the transaction engine and the
// plugin callbacks operate on.
package diff

import "github.com/danos/netconfd/tree"

// LeafChange is an aligned pair of leaves present on both sides with
// different values (spec §3 Transaction.changed).
type LeafChange struct {
	Src *tree.Node
	Tgt *tree.Node
}

// Entry is a single added/deleted subtree, together with the parent it
// hangs off in its own tree (src for deleted, tgt for added) — needed so
// Apply (and plugin callbacks walking
// "added" context) can place the subtree back into a tree without
// re-running the whole diff.
type Entry struct {
	Parent *tree.Node
	Node   *tree.Node
}

// Result is the (added, deleted, changed) triple of spec §4.2.
type Result struct {
	Added   []Entry
	Deleted []Entry
	Changed []LeafChange
}

// Diff performs the lock-step walk of spec §4.2 between src and tgt,
// which must already be schema-bound and canonically sorted (the binder
// guarantees this). Subtrees under an added/deleted node are not
// expanded further: the added/deleted entry covers the whole subtree.
func Diff(src, tgt *tree.Node) *Result {
	r := &Result{}
	walk(src, tgt, r)
	return r
}

func walk(src, tgt *tree.Node, r *Result) {
	si, ti := 0, 0
	for si < len(src.Children) && ti < len(tgt.Children) {
		s, t := src.Children[si], tgt.Children[ti]
		switch compareSiblings(s, t) {
		case 0:
			pairNode(s, t, r)
			si++
			ti++
		case -1:
			r.Deleted = append(r.Deleted, Entry{Parent: src, Node: s})
			si++
		default:
			r.Added = append(r.Added, Entry{Parent: tgt, Node: t})
			ti++
		}
	}
	for ; si < len(src.Children); si++ {
		r.Deleted = append(r.Deleted, Entry{Parent: src, Node: src.Children[si]})
	}
	for ; ti < len(tgt.Children); ti++ {
		r.Added = append(r.Added, Entry{Parent: tgt, Node: tgt.Children[ti]})
	}
}

// pairNode handles a src/tgt pair matched as "the same node": recurse if
// interior, compare bodies if leaf.
func pairNode(s, t *tree.Node, r *Result) {
	if s.IsLeaf() {
		if s.Value != t.Value {
			r.Changed = append(r.Changed, LeafChange{Src: s, Tgt: t})
		}
		return
	}
	walk(s, t, r)
}

// compareSiblings implements the matching rule of spec §4.2: list
// entries match by key tuple, other elements by name+namespace. It
// returns -1 if a sorts before b (a has no match on the tgt side and
// should be emitted as deleted), +1 if b sorts before a (added), or 0 if
// they are the same node.
func compareSiblings(a, b *tree.Node) int {
	if a.Name == b.Name && a.Namespace == b.Namespace {
		if len(a.Keys) > 0 || len(b.Keys) > 0 {
			if a.KeyString() == b.KeyString() {
				return 0
			}
			if lessKeys(a.Keys, b.Keys) {
				return -1
			}
			return 1
		}
		return 0
	}
	if tree.Less(a, b, nil) {
		return -1
	}
	return 1
}

func lessKeys(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// MarkAncestors tags the path from root down to every entry/leaf-change
// referenced by the diff as Changed (spec §4.2 "Marking"), so plugin
// validators can find impacted subtrees without re-walking the whole
// tree. root must be the same tree the nodes were found in (tgt for
// added/changed, src for deleted).
func MarkAncestors(root *tree.Node, targets map[*tree.Node]bool) {
	var mark func(n *tree.Node) bool
	mark = func(n *tree.Node) bool {
		hit := targets[n]
		for _, c := range n.Children {
			if mark(c) {
				hit = true
			}
		}
		if hit {
			n.Changed = true
		}
		return hit
	}
	mark(root)
}

// AddedSet and DeletedSet adapt Result's entries into the membership
// sets MarkAncestors wants.
func (r *Result) AddedSet() map[*tree.Node]bool   { return entrySet(r.Added) }
func (r *Result) DeletedSet() map[*tree.Node]bool { return entrySet(r.Deleted) }
func (r *Result) ChangedSet() map[*tree.Node]bool {
	set := make(map[*tree.Node]bool, len(r.Changed))
	for _, c := range r.Changed {
		set[c.Tgt] = true
	}
	return set
}

func entrySet(entries []Entry) map[*tree.Node]bool {
	set := make(map[*tree.Node]bool, len(entries))
	for _, e := range entries {
		set[e.Node] = true
	}
	return set
}

// Apply mutates a clone of src by applying r's added/deleted/changed
// vectors, used by the "Diff soundness" property test (spec §8): the
// result must be canonically equivalent to tgt. r must have been
// produced by Diff(src, tgt) for the very src and tgt passed here.
func Apply(src, tgt *tree.Node, r *Result) *tree.Node {
	out := src.Clone()

	// A parallel walk gives the src-pointer -> out-pointer
	// correspondence, since out was produced by Clone() and therefore
	// mirrors src node-for-node.
	srcToOut := make(map[*tree.Node]*tree.Node)
	pair(src, out, srcToOut)

	dead := make(map[*tree.Node]bool, len(r.Deleted))
	for _, d := range r.Deleted {
		if o, ok := srcToOut[d.Node]; ok {
			dead[o] = true
		}
	}
	removeChildren(out, dead)

	for _, ch := range r.Changed {
		if o, ok := srcToOut[ch.Src]; ok {
			o.Value = ch.Tgt.Value
		}
	}

	// Added entries carry their tgt-side parent; locate the
	// corresponding node in out by following the same parent's path
	// from tgt's root down to src's/out's root (both trees share a
	// root name/namespace by construction in the transaction engine).
	for _, a := range r.Added {
		parentPath := pathFromRoot(tgt, a.Parent)
		dst := resolve(out, parentPath)
		if dst != nil {
			dst.Children = append(dst.Children, a.Node.Clone())
		}
	}

	tree.Sort(out, nil)
	return out
}

func pair(src, out *tree.Node, same map[*tree.Node]*tree.Node) {
	same[src] = out
	for i := range src.Children {
		pair(src.Children[i], out.Children[i], same)
	}
}

func removeChildren(n *tree.Node, dead map[*tree.Node]bool) {
	kept := n.Children[:0]
	for _, c := range n.Children {
		if dead[c] {
			continue
		}
		removeChildren(c, dead)
		kept = append(kept, c)
	}
	n.Children = kept
}

// pathFromRoot returns the chain of (name, namespace, keyString) steps
// from root down to target, root exclusive, target inclusive.
func pathFromRoot(root, target *tree.Node) [][3]string {
	if root == target {
		return nil
	}
	for _, c := range root.Children {
		if sub := pathFromRoot(c, target); sub != nil || c == target {
			step := [3]string{c.Name, c.Namespace, c.KeyString()}
			return append([][3]string{step}, sub...)
		}
	}
	return nil
}

func resolve(root *tree.Node, path [][3]string) *tree.Node {
	cur := root
	for _, step := range path {
		var next *tree.Node
		for _, c := range cur.Children {
			if c.Name == step[0] && c.Namespace == step[1] && c.KeyString() == step[2] {
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
