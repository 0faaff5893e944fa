// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package codec is the local stand-in for the external XML parser/
// serializer and XPath evaluator spec.md §1/§6 marks out of scope:
// "the XML parser and XPath evaluator" and "the low-level datastore
// serialization format" are both named as external collaborators. This
// package defines the Codec and Filter contracts the datastore manager
// and RPC dispatcher consume, with a reference implementation built on
// encoding/xml (grounded in the NETCONF wire shapes of
// other_examples/5587b6d5_nemith-netconf__rpc-config.go.go), since a
// full XPath engine is explicitly the schema/XML compiler's job, not
// this repository's.
package codec

import (
	"encoding/xml"
	"strings"

	"github.com/danos/netconfd/schema"
	"github.com/danos/netconfd/tree"
)

// Codec is the external datastore serialization contract of spec §6:
// "parse(bytes, schema) -> tree|error; serialize(tree) -> bytes".
type Codec interface {
	Parse(data []byte, reg schema.Registry) (*tree.Node, error)
	Serialize(root *tree.Node) ([]byte, error)
}

// Filter is the external XPath evaluator's interface as consumed by the
// datastore manager's Get and by get-config/get's filter/select
// argument.
type Filter interface {
	Apply(root *tree.Node) *tree.Node
}

// element is the wire shape of one configuration node, used both to
// parse incoming <rpc>/<edit-config> bodies and to serialize replies.
// Namespaces travel as xml.Name.Space, matching encoding/xml's own
// model, the same approach other_examples' nemith-netconf reference
// file uses for datastore/filter elements.
type element struct {
	XMLName  xml.Name
	Attrs    []xml.Attr  `xml:",any,attr"`
	Elements []element   `xml:",any"`
	Chardata string      `xml:",chardata"`
}

// XMLCodec is the reference Codec implementation.
type XMLCodec struct{}

// Parse treats data as the sibling top-level elements of a <config>
// body (no enclosing root required of the caller), wrapping it in an
// implicit root so encoding/xml has exactly one element to decode.
func (XMLCodec) Parse(data []byte, reg schema.Registry) (*tree.Node, error) {
	wrapped := make([]byte, 0, len(data)+18)
	wrapped = append(wrapped, "<config>"...)
	wrapped = append(wrapped, data...)
	wrapped = append(wrapped, "</config>"...)

	var root element
	if err := xml.Unmarshal(wrapped, &root); err != nil {
		return nil, err
	}
	out := tree.New("config")
	for i := range root.Elements {
		out.Children = append(out.Children, elementToNode(&root.Elements[i]))
	}
	return out, nil
}

func elementToNode(e *element) *tree.Node {
	n := &tree.Node{Name: e.XMLName.Local, Namespace: e.XMLName.Space}
	if len(e.Elements) == 0 {
		n.Value = strings.TrimSpace(e.Chardata)
		return n
	}
	for i := range e.Elements {
		n.Children = append(n.Children, elementToNode(&e.Elements[i]))
	}
	return n
}

func (XMLCodec) Serialize(root *tree.Node) ([]byte, error) {
	var b strings.Builder
	for _, c := range root.Children {
		writeNode(&b, c)
	}
	return []byte(b.String()), nil
}

func writeNode(b *strings.Builder, n *tree.Node) {
	open := "<" + n.Name
	if n.Namespace != "" {
		open += ` xmlns="` + xmlEscape(n.Namespace) + `"`
	}
	if n.IsLeaf() && len(n.Children) == 0 {
		if n.Value == "" {
			b.WriteString(open + "/>")
			return
		}
		b.WriteString(open + ">" + xmlEscape(n.Value) + "</" + n.Name + ">")
		return
	}
	b.WriteString(open + ">")
	for _, c := range n.Children {
		writeNode(b, c)
	}
	b.WriteString("</" + n.Name + ">")
}

func xmlEscape(s string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return s
	}
	return b.String()
}
