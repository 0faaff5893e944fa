// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package codec

import (
	"testing"

	"github.com/danos/netconfd/tree"
)

func TestXMLCodecParseNestedElements(t *testing.T) {
	data := []byte(`<system xmlns="urn:test"><hostname>r1</hostname><domain></domain></system>`)
	root, err := XMLCodec{}.Parse(data, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(root.Children) != 1 || root.Children[0].Name != "system" {
		t.Fatalf("unexpected top-level parse result: %+v", root.Children)
	}
	sys := root.Children[0]
	if sys.Namespace != "urn:test" {
		t.Fatalf("namespace not preserved: %q", sys.Namespace)
	}
	hostname := sys.Find("hostname", "urn:test", nil)
	if hostname == nil || hostname.Value != "r1" {
		t.Fatalf("hostname leaf not parsed correctly: %+v", hostname)
	}
}

func TestXMLCodecSerializeRoundTrip(t *testing.T) {
	root := tree.New("config")
	sys := &tree.Node{Name: "system", Namespace: "urn:test"}
	sys.AddChild(&tree.Node{Name: "hostname", Namespace: "urn:test", Value: "r1"})
	root.AddChild(sys)

	out, err := XMLCodec{}.Serialize(root)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	reparsed, err := XMLCodec{}.Parse(out, nil)
	if err != nil {
		t.Fatalf("reparsing serialized output: %v", err)
	}
	if !tree.Equivalent(root, reparsed) {
		t.Fatalf("round trip not equivalent:\nbefore: %+v\nafter:  %+v", root, reparsed)
	}
}

func TestXMLCodecSerializeEscapesValues(t *testing.T) {
	root := tree.New("config")
	root.AddChild(&tree.Node{Name: "note", Namespace: "urn:test", Value: "a < b & c"})
	out, err := XMLCodec{}.Serialize(root)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	s := string(out)
	if !contains(s, "&lt;") || !contains(s, "&amp;") {
		t.Fatalf("special characters not escaped: %s", s)
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
