// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy implements the static policy scanner (SPEC_FULL.md
// §4.6), grounded on
// original_source/src/kavi/policies/scanner.py. It walks the tree-sitter
// parse of a generated skill's Python source looking for forbidden
// imports and forbidden dynamic-exec calls; it never imports or runs the
// scanned code.
package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"gopkg.in/yaml.v3"

	"github.com/kshetrajna12/kavi/internal/pyast"
)

// Policy is the declarative rule set a skill's generated source must
// satisfy, loaded from YAML per the original's Policy.from_yaml.
type Policy struct {
	ForbiddenImports  []string `yaml:"forbidden_imports"`
	AllowedNetwork    bool     `yaml:"allowed_network"`
	AllowedWritePaths []string `yaml:"allowed_write_paths"`
	ForbidDynamicExec bool     `yaml:"forbid_dynamic_exec"`
}

// LoadPolicy reads a Policy from a YAML file.
func LoadPolicy(path string) (*Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	var p Policy
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("policy: parse %s: %w", path, err)
	}
	return &p, nil
}

// DefaultPolicy mirrors the governed repo's baseline rule set: no
// subprocess/network escape hatches, no dynamic code execution.
func DefaultPolicy() *Policy {
	return &Policy{
		ForbiddenImports: []string{
			"os.system", "subprocess", "socket", "shutil.rmtree", "ctypes", "importlib",
		},
		AllowedNetwork:    false,
		AllowedWritePaths: []string{"./vault_out/", "./artifacts_out/"},
		ForbidDynamicExec: true,
	}
}

// Violation is a single policy breach found in one file.
type Violation struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Rule   string `json:"rule"`
	Detail string `json:"detail"`
}

// Result aggregates a directory scan.
type Result struct {
	Violations   []Violation `json:"violations"`
	FilesScanned int         `json:"files_scanned"`
}

// OK reports a clean scan.
func (r Result) OK() bool { return len(r.Violations) == 0 }

// ScanFile scans one Python source file's bytes against policy.
func ScanFile(ctx context.Context, path string, source []byte, p *Policy) []Violation {
	tree, err := pyast.Parse(ctx, source)
	if err != nil {
		return []Violation{{File: path, Line: 0, Rule: "syntax_error", Detail: err.Error()}}
	}
	defer tree.Close()

	v := &visitor{tree: tree, policy: p, filename: path}
	pyast.Walk(tree.Root, v.visit)
	return v.violations
}

// ScanDirectory walks every .py file under dir, sorted for deterministic
// output, matching scan_directory's rglob ordering.
func ScanDirectory(ctx context.Context, dir string, p *Policy) (Result, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".py") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("policy: walk %s: %w", dir, err)
	}
	sort.Strings(files)

	var result Result
	for _, f := range files {
		source, err := os.ReadFile(f)
		if err != nil {
			return Result{}, fmt.Errorf("policy: read %s: %w", f, err)
		}
		result.FilesScanned++
		result.Violations = append(result.Violations, ScanFile(ctx, f, source, p)...)
	}
	return result, nil
}

// FormatReport renders a markdown policy scan report, matching
// format_report's layout.
func FormatReport(r Result) string {
	var b strings.Builder
	b.WriteString("# Policy Scan Report\n\n")
	fmt.Fprintf(&b, "Files scanned: %d\n", r.FilesScanned)
	fmt.Fprintf(&b, "Violations found: %d\n", len(r.Violations))
	status := "PASSED"
	if !r.OK() {
		status = "FAILED"
	}
	fmt.Fprintf(&b, "Status: %s\n\n", status)

	if len(r.Violations) > 0 {
		b.WriteString("## Violations\n\n")
		for _, v := range r.Violations {
			fmt.Fprintf(&b, "- **%s:%d** [%s] %s\n", v.File, v.Line, v.Rule, v.Detail)
		}
	}
	return b.String()
}

type visitor struct {
	tree     *pyast.Tree
	policy   *Policy
	filename string
	violations []Violation
}

// visit is called pre-order over every node; it only acts on
// import_statement, import_from_statement and call nodes, mirroring the
// original's NodeVisitor's visit_Import/visit_ImportFrom/visit_Call.
func (v *visitor) visit(n *sitter.Node) bool {
	switch n.Type() {
	case "import_statement":
		for i := 0; i < int(n.ChildCount()); i++ {
			v.checkImportTarget(n.Child(i), pyast.Line(n))
		}
	case "import_from_statement":
		v.visitImportFrom(n)
	case "call":
		v.visitCall(n)
	}
	return true
}

// visitImportFrom extracts the "from X import a, b" module name and each
// imported name, checking both "X" and "X.a" against the forbidden list,
// matching visit_ImportFrom's full = f"{module}.{name}" construction.
func (v *visitor) visitImportFrom(n *sitter.Node) {
	var module string
	var names []string
	sawImportKeyword := false
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		switch c.Type() {
		case "dotted_name":
			if !sawImportKeyword && module == "" {
				module = v.tree.Text(c)
			} else {
				names = append(names, v.tree.Text(c))
			}
		case "import":
			sawImportKeyword = true
		case "identifier":
			if sawImportKeyword {
				names = append(names, v.tree.Text(c))
			} else if module == "" {
				module = v.tree.Text(c)
			}
		case "aliased_import":
			if first := c.Child(0); first != nil {
				names = append(names, v.tree.Text(first))
			}
		}
	}
	if module == "" {
		return
	}
	line := pyast.Line(n)
	v.checkImport(module, line)
	for _, nm := range names {
		v.checkImport(module+"."+nm, line)
	}
}

// checkImportTarget resolves a direct "import X" / "import X as Y" child
// node into the module name being checked.
func (v *visitor) checkImportTarget(n *sitter.Node, line int) {
	switch n.Type() {
	case "dotted_name", "identifier":
		v.checkImport(v.tree.Text(n), line)
	case "aliased_import":
		if first := n.Child(0); first != nil {
			v.checkImport(v.tree.Text(first), line)
		}
	}
}

// checkImport mirrors _check_import's exact-or-dotted-prefix match.
func (v *visitor) checkImport(moduleName string, line int) {
	for _, forbidden := range v.policy.ForbiddenImports {
		if moduleName == forbidden || strings.HasPrefix(moduleName, forbidden+".") {
			v.violations = append(v.violations, Violation{
				File:   v.filename,
				Line:   line,
				Rule:   "forbidden_import",
				Detail: fmt.Sprintf("Import of '%s' is forbidden", moduleName),
			})
		}
	}
}

// visitCall mirrors visit_Call: only eval/exec/compile called as a bare
// name or as an attribute access trip the rule.
func (v *visitor) visitCall(n *sitter.Node) {
	if !v.policy.ForbidDynamicExec {
		return
	}
	fn := n.Child(0)
	if fn == nil {
		return
	}
	name := callName(v.tree, fn)
	if name == "eval" || name == "exec" || name == "compile" {
		v.violations = append(v.violations, Violation{
			File:   v.filename,
			Line:   pyast.Line(n),
			Rule:   "forbid_dynamic_exec",
			Detail: fmt.Sprintf("Call to %s() is forbidden", name),
		})
	}
}

// callName mirrors _call_name: bare identifier, or the trailing
// attribute of a dotted call.
func callName(t *pyast.Tree, fn *sitter.Node) string {
	switch fn.Type() {
	case "identifier":
		return t.Text(fn)
	case "attribute":
		if attr := fn.ChildByFieldName("attribute"); attr != nil {
			return t.Text(attr)
		}
	}
	return ""
}
