// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package codec

import (
	"strings"

	"github.com/danos/netconfd/tree"
)

// PathFilter is a minimal subset of NETCONF subtree/XPath filtering:
// select is a '/'-separated path of local names. A full XPath engine is
// explicitly out of scope (spec §1); this reference Filter supports
// exactly the "select a subtree by path" case the built-in handlers
// need, and satisfies the "Filter monotonicity" property of spec §8:
// for nested paths p sqsubseteq q, Apply(q) is a subset of Apply(p).
type PathFilter struct {
	Select string
}

func (f PathFilter) Apply(root *tree.Node) *tree.Node {
	if f.Select == "" {
		return root
	}
	segs := strings.Split(strings.Trim(f.Select, "/"), "/")
	out := tree.New(root.Name)
	out.Children = selectPath(root.Children, segs)
	return out
}

func selectPath(children []*tree.Node, segs []string) []*tree.Node {
	if len(segs) == 0 {
		return children
	}
	var kept []*tree.Node
	for _, c := range children {
		if c.Name != segs[0] {
			continue
		}
		cp := c.Clone()
		if len(segs) > 1 {
			cp.Children = selectPath(cp.Children, segs[1:])
		}
		kept = append(kept, cp)
	}
	return kept
}

// AccessFilter masks subtrees a user cannot see, per spec §6 access
// control's filter(handle, tree, xpaths) entry point. It wraps an
// optional AccessControl and is a no-op when none is configured (spec
// §6: "If no access-control is configured, all operations for all
// users are permitted").
type AccessFilter struct {
	ACM     AccessControl
	Handle  interface{}
}

func (f AccessFilter) Apply(root *tree.Node) *tree.Node {
	if f.ACM == nil {
		return root
	}
	return f.ACM.Filter(f.Handle, root)
}

// AccessControl is the out-of-scope access-control collaborator of spec
// §6: pre(user, category) -> (allow|deny|filter-handle), and
// filter(handle, tree, xpaths) masking read-forbidden subtrees.
type AccessControl interface {
	Pre(user, category string) (allow bool, handle interface{})
	Filter(handle interface{}, root *tree.Node) *tree.Node
}
