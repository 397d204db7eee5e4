// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pathconv derives every filesystem path and module reference for
// a skill from its proposal name. It is the single source of naming truth
// consulted by packet generation, the diff gate, verification, and
// promotion — grounded on original_source/src/kavi/forge/paths.py.
package pathconv

import (
	"path/filepath"
	"strings"
)

// SkillExtension is the source-file extension for governed skills. Skills
// are generated Python, verified by ruff/mypy/pytest (see SPEC_FULL.md
// §4.5); the Go core never compiles or imports this code directly.
const SkillExtension = ".py"

// SkillRoot and TestRoot are the conventional directories skills and their
// tests live under, relative to the canonical project root.
const (
	SkillRoot = "src/kavi/skills"
	TestRoot  = "tests"
)

// SkillFile returns the conventional path for a skill's implementation
// file, relative to the project root.
func SkillFile(name string) string {
	return filepath.ToSlash(filepath.Join(SkillRoot, name+SkillExtension))
}

// TestFile returns the conventional path for a skill's test file.
func TestFile(name string) string {
	return filepath.ToSlash(filepath.Join(TestRoot, "test_skill_"+name+SkillExtension))
}

// toCamelCase converts a snake_case name to CamelCase, matching the
// original's _to_camel_case.
func toCamelCase(name string) string {
	parts := strings.Split(name, "_")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// ClassName returns the Python class name a generated skill's
// source file is required to define, e.g. "write_note" -> "WriteNoteSkill".
func ClassName(name string) string {
	return toCamelCase(name) + "Skill"
}

// ModuleReference returns the Python dotted module path a skill's class
// lives at, mirroring the original's skill_module_path: e.g. "write_note"
// -> "kavi.skills.write_note.WriteNoteSkill". The registry does not store
// this value: registry entries carry a factory_key, which the runtime
// loader (internal/runtime) resolves to a compiled-in factory.
func ModuleReference(name string) string {
	return "kavi.skills." + name + "." + ClassName(name)
}
