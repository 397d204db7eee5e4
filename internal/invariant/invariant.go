// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package invariant implements the structural governance gate for
// generated skills (SPEC_FULL.md §4.7), grounded on
// original_source/src/kavi/forge/invariants.py. Four sub-checks run
// against the build's sandboxed output: structural conformance, scope
// containment, extended safety, and (a spec-only addition with no
// original_source analogue) a runtime boundary check on optional
// runtime-support files.
package invariant

import (
	"context"
	"fmt"
	"os"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/kshetrajna12/kavi/internal/ledger"
	"github.com/kshetrajna12/kavi/internal/pyast"
	"github.com/kshetrajna12/kavi/internal/vcs"
)

// RequiredAttrs are the class-body attributes a BaseSkill subclass must
// assign, ported from REQUIRED_ATTRS.
var RequiredAttrs = []string{"name", "description", "input_model", "output_model", "side_effect_class"}

// ProtectedPaths are governance-owned prefixes a build may never touch,
// ported from PROTECTED_PATHS.
var ProtectedPaths = []string{
	"src/kavi/forge/",
	"src/kavi/ledger/",
	"src/kavi/policies/",
	"src/kavi/cli.py",
	"src/kavi/config.py",
	"pyproject.toml",
}

// GovernancePackagePrefixes are the import prefixes a runtime-support
// file on the optional allowlist must never pull in — the spec-only
// runtime boundary check SPEC_FULL.md §4.7 adds beyond the original.
var GovernancePackagePrefixes = []string{"kavi.forge", "kavi.ledger", "kavi.policies"}

// Violation is a single invariant breach.
type Violation struct {
	Check   string `json:"check"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// Result is check_invariants' combined output.
type Result struct {
	OK         bool        `json:"ok"`
	StructuralOK bool      `json:"structural_ok"`
	ScopeOK    bool        `json:"scope_ok"`
	SafetyOK   bool        `json:"safety_ok"`
	BoundaryOK bool        `json:"boundary_ok"`
	Violations []Violation `json:"violations"`
}

// Options parameterizes CheckInvariants, mirroring check_invariants'
// keyword arguments.
type Options struct {
	ExpectedSideEffect ledger.SideEffectClass
	ProposalName       string
	ProjectRoot        string
	BaselineRef        string
	OptionalAllowlist  []string
	VCS                vcs.Client
}

// CheckInvariants runs every sub-check and returns the combined result.
func CheckInvariants(ctx context.Context, skillFile string, opts Options) Result {
	structural := checkStructural(ctx, skillFile, opts.ExpectedSideEffect)
	scope := checkScope(ctx, opts)
	safety := checkExtendedSafety(ctx, skillFile)
	boundary := checkRuntimeBoundary(ctx, opts)

	r := Result{
		StructuralOK: len(structural) == 0,
		ScopeOK:      len(scope) == 0,
		SafetyOK:     len(safety) == 0,
		BoundaryOK:   len(boundary) == 0,
	}
	r.Violations = append(r.Violations, structural...)
	r.Violations = append(r.Violations, scope...)
	r.Violations = append(r.Violations, safety...)
	r.Violations = append(r.Violations, boundary...)
	r.OK = r.StructuralOK && r.ScopeOK && r.SafetyOK && r.BoundaryOK
	return r
}

// checkStructural verifies a class extending BaseSkill carries every
// required attribute, and that side_effect_class (if a literal string)
// matches the proposal's declared value.
func checkStructural(ctx context.Context, skillFile string, expected ledger.SideEffectClass) []Violation {
	source, err := os.ReadFile(skillFile)
	if err != nil {
		return []Violation{{Check: "structural", Message: fmt.Sprintf("Skill file not found: %s", skillFile)}}
	}

	tree, err := pyast.Parse(ctx, source)
	if err != nil {
		return []Violation{{Check: "structural", Message: "Syntax error: " + err.Error()}}
	}
	defer tree.Close()

	var skillClass *sitter.Node
	for _, cls := range pyast.FindAll(tree.Root, "class_definition") {
		if extendsBaseSkill(tree, cls) {
			skillClass = cls
			break
		}
	}
	if skillClass == nil {
		return []Violation{{Check: "structural", Message: "No class extending BaseSkill found"}}
	}

	body := skillClass.ChildByFieldName("body")
	assigned := map[string]bool{}
	var violations []Violation
	if body != nil {
		for i := 0; i < int(body.ChildCount()); i++ {
			item := body.Child(i)
			name, valueNode := assignmentTarget(tree, item)
			if name != "" {
				assigned[name] = true
				if name == "side_effect_class" && expected != "" && valueNode != nil {
					if lit, ok := stringLiteral(tree, valueNode); ok && lit != string(expected) {
						violations = append(violations, Violation{
							Check:   "structural",
							Message: fmt.Sprintf("side_effect_class is '%s', expected '%s'", lit, expected),
							Line:    pyast.Line(item),
						})
					}
				}
			}
		}
	}

	var missing []string
	for _, req := range RequiredAttrs {
		if !assigned[req] {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		violations = append(violations, Violation{
			Check:   "structural",
			Message: "Missing required attrs: " + strings.Join(missing, ", "),
			Line:    pyast.Line(skillClass),
		})
	}
	return violations
}

// extendsBaseSkill reports whether a class_definition node's superclass
// list names BaseSkill, either bare or via attribute access.
func extendsBaseSkill(t *pyast.Tree, cls *sitter.Node) bool {
	argList := cls.ChildByFieldName("superclasses")
	if argList == nil {
		return false
	}
	for i := 0; i < int(argList.ChildCount()); i++ {
		base := argList.Child(i)
		switch base.Type() {
		case "identifier":
			if t.Text(base) == "BaseSkill" {
				return true
			}
		case "attribute":
			if attr := base.ChildByFieldName("attribute"); attr != nil && t.Text(attr) == "BaseSkill" {
				return true
			}
		}
	}
	return false
}

// assignmentTarget extracts the left-hand identifier and right-hand
// value node from a top-level "name = value" or "name: Type = value"
// statement, or ("", nil) if item isn't such a statement.
func assignmentTarget(t *pyast.Tree, item *sitter.Node) (string, *sitter.Node) {
	var stmt *sitter.Node
	if item.Type() == "expression_statement" && item.ChildCount() > 0 {
		stmt = item.Child(0)
	} else {
		stmt = item
	}
	switch stmt.Type() {
	case "assignment":
		left := stmt.ChildByFieldName("left")
		right := stmt.ChildByFieldName("right")
		if left != nil && left.Type() == "identifier" {
			return t.Text(left), right
		}
	}
	return "", nil
}

// stringLiteral unwraps a tree-sitter "string" node down to its inner
// text, stripping the outer quote characters, returning ok=false for
// any non-literal value expression.
func stringLiteral(t *pyast.Tree, n *sitter.Node) (string, bool) {
	if n.Type() != "string" {
		return "", false
	}
	raw := t.Text(n)
	raw = strings.Trim(raw, "\"'")
	return raw, true
}

// checkScope recomputes the tracked diff against the baseline ref and
// flags any protected path touched outside the skill's own file prefix,
// ported from _check_scope. Skipped entirely (matching the original)
// when the git client isn't available.
func checkScope(ctx context.Context, opts Options) []Violation {
	if opts.VCS == nil {
		return nil
	}
	changed, err := opts.VCS.DiffNames(ctx, opts.BaselineRef)
	if err != nil || len(changed) == 0 {
		return nil
	}

	expectedPrefix := fmt.Sprintf("src/kavi/skills/%s", opts.ProposalName)
	testPrefix := fmt.Sprintf("tests/test_skill_%s", opts.ProposalName)

	var violations []Violation
	for _, path := range changed {
		if strings.HasPrefix(path, expectedPrefix) || strings.HasPrefix(path, testPrefix) {
			continue
		}
		for _, protected := range ProtectedPaths {
			if strings.HasPrefix(path, protected) {
				violations = append(violations, Violation{
					Check:   "scope",
					Message: "Protected path modified: " + path,
				})
				break
			}
		}
	}
	return violations
}

// checkExtendedSafety flags __import__() and importlib.import_module()
// calls, ported from _check_extended_safety.
func checkExtendedSafety(ctx context.Context, skillFile string) []Violation {
	source, err := os.ReadFile(skillFile)
	if err != nil {
		return nil
	}
	tree, err := pyast.Parse(ctx, source)
	if err != nil {
		return nil
	}
	defer tree.Close()

	var violations []Violation
	for _, call := range pyast.FindAll(tree.Root, "call") {
		fn := call.ChildByFieldName("function")
		if fn == nil {
			continue
		}
		switch fn.Type() {
		case "identifier":
			if tree.Text(fn) == "__import__" {
				violations = append(violations, Violation{
					Check: "safety", Message: "__import__() call detected", Line: pyast.Line(call),
				})
			}
		case "attribute":
			attr := fn.ChildByFieldName("attribute")
			obj := fn.ChildByFieldName("object")
			if attr != nil && obj != nil && obj.Type() == "identifier" &&
				tree.Text(attr) == "import_module" && tree.Text(obj) == "importlib" {
				violations = append(violations, Violation{
					Check: "safety", Message: "importlib.import_module() call detected", Line: pyast.Line(call),
				})
			}
		}
	}
	return violations
}

// checkRuntimeBoundary is SPEC_FULL.md §4.7's governance-only addition:
// a build's optional runtime-support files must never import the
// governance packages themselves, closing the loophole where a skill
// widens its own sandbox permissions by editing shared infrastructure.
// original_source has no analogue — invariants.py only checks the skill
// file and the diff, never the content of optional-allowlist files.
func checkRuntimeBoundary(ctx context.Context, opts Options) []Violation {
	var violations []Violation
	for _, path := range opts.OptionalAllowlist {
		full := path
		if opts.ProjectRoot != "" {
			full = opts.ProjectRoot + "/" + path
		}
		source, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		tree, err := pyast.Parse(ctx, source)
		if err != nil {
			continue
		}
		// "from X import y" contributes its module X; "import X, Y as z"
		// contributes each imported dotted name.
		imports := pyast.FindAll(tree.Root, "import_from_statement")
		for _, plain := range pyast.FindAll(tree.Root, "import_statement") {
			imports = append(imports, pyast.FindAll(plain, "dotted_name")...)
		}
		for _, imp := range imports {
			module := firstDottedName(tree, imp)
			for _, forbidden := range GovernancePackagePrefixes {
				if module == forbidden || strings.HasPrefix(module, forbidden+".") {
					violations = append(violations, Violation{
						Check:   "boundary",
						Message: fmt.Sprintf("%s imports governance package '%s'", path, module),
						Line:    pyast.Line(imp),
					})
				}
			}
		}
		tree.Close()
	}
	return violations
}

func firstDottedName(t *pyast.Tree, n *sitter.Node) string {
	if n.Type() == "dotted_name" {
		return t.Text(n)
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.Type() == "dotted_name" || c.Type() == "identifier" {
			return t.Text(c)
		}
	}
	return ""
}
