// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pyast parses the Python source of a generated skill with
// tree-sitter and gives the policy scanner and invariant checker a common
// node-walking vocabulary, grounded on the teacher's
// services/code_buddy/ast/python_parser.go.
package pyast

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Tree wraps a parsed tree-sitter tree together with the source bytes it
// was parsed from, since tree-sitter nodes only carry byte offsets.
type Tree struct {
	Root   *sitter.Node
	Source []byte
	tree   *sitter.Tree
}

// Parse parses Python source and returns a Tree. The tree-sitter parser
// is error-tolerant: syntactically invalid source still yields a root
// node, just one where HasError() is true.
func Parse(ctx context.Context, source []byte) (*Tree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	t, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("pyast: parse: %w", err)
	}
	root := t.RootNode()
	if root == nil {
		t.Close()
		return nil, fmt.Errorf("pyast: parse: nil root node")
	}
	return &Tree{Root: root, Source: source, tree: t}, nil
}

// Close releases the underlying tree-sitter tree.
func (t *Tree) Close() {
	if t.tree != nil {
		t.tree.Close()
	}
}

// Text returns the source slice a node spans.
func (t *Tree) Text(n *sitter.Node) string {
	return string(t.Source[n.StartByte():n.EndByte()])
}

// Line returns a node's 1-indexed starting line.
func Line(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

// Walk visits every node in the tree in pre-order, depth first, calling fn
// on each. fn returns false to stop descending into a node's children
// (the sibling walk continues).
func Walk(n *sitter.Node, fn func(*sitter.Node) bool) {
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		Walk(n.Child(i), fn)
	}
}

// FindAll collects every node of the given type anywhere under n.
func FindAll(n *sitter.Node, nodeType string) []*sitter.Node {
	var out []*sitter.Node
	Walk(n, func(cur *sitter.Node) bool {
		if cur.Type() == nodeType {
			out = append(out, cur)
		}
		return true
	})
	return out
}

// ChildByType returns the first direct child of n with the given type.
func ChildByType(n *sitter.Node, nodeType string) *sitter.Node {
	for i := 0; i < int(n.ChildCount()); i++ {
		if c := n.Child(i); c.Type() == nodeType {
			return c
		}
	}
	return nil
}
