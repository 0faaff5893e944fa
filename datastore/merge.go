// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package datastore

import (
	"github.com/danos/mgmterror"

	"github.com/danos/netconfd/tree"
)

// merge recursively merges fragment into dst: leaves overwrite, list
// entries/containers merge by matching name+namespace+key, unmatched
// fragment children are appended. This is the default-operation=merge
// behavior of RFC 6241 edit-config.
func merge(dst, fragment *tree.Node) {
	for _, fc := range fragment.Children {
		existing := dst.Find(fc.Name, fc.Namespace, fc.Keys)
		if existing == nil {
			dst.Children = append(dst.Children, fc.Clone())
			continue
		}
		if fc.IsLeaf() {
			existing.Value = fc.Value
			existing.Default = false
			continue
		}
		merge(existing, fc)
	}
}

// mergeCreate behaves like merge but every fragment node must be new;
// an existing match is a data-exists error (RFC 6241 operation="create").
func mergeCreate(dst, fragment *tree.Node) error {
	for _, fc := range fragment.Children {
		if dst.Find(fc.Name, fc.Namespace, fc.Keys) != nil {
			err := mgmterror.NewDataExistsError(fc.Name)
			err.Message = "data-exists: " + fc.Name
			return err
		}
		dst.Children = append(dst.Children, fc.Clone())
	}
	return nil
}

// removeFragment deletes every fragment node matched in dst.
// strictMissing=true (operation="delete") requires every fragment node
// to exist; false (operation="remove") is a no-op for absent nodes.
func removeFragment(dst, fragment *tree.Node, strictMissing bool) error {
	for _, fc := range fragment.Children {
		existing := dst.Find(fc.Name, fc.Namespace, fc.Keys)
		if existing == nil {
			if strictMissing {
				err := mgmterror.NewDataMissingError(fc.Name)
				err.Message = "data-missing: " + fc.Name
				return err
			}
			continue
		}
		if len(fc.Children) == 0 {
			dst.Children = removeChild(dst.Children, existing)
			continue
		}
		if err := removeFragment(existing, fc, strictMissing); err != nil {
			return err
		}
	}
	return nil
}

func removeChild(children []*tree.Node, target *tree.Node) []*tree.Node {
	out := children[:0]
	for _, c := range children {
		if c != target {
			out = append(out, c)
		}
	}
	return out
}
