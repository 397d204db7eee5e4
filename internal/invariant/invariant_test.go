// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package invariant

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kshetrajna12/kavi/internal/ledger"
	"github.com/kshetrajna12/kavi/internal/vcs"
)

func writeTempPy(t *testing.T, dir, name, source string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(source), 0o644))
	return path
}

func TestCheckInvariants_StructuralOK(t *testing.T) {
	dir := t.TempDir()
	path := writeTempPy(t, dir, "skill.py", `class WriteNoteSkill(BaseSkill):
    name = "write_note"
    description = "writes a note"
    input_model = Input
    output_model = Output
    side_effect_class = "FILE_WRITE"
`)
	result := CheckInvariants(context.Background(), path, Options{ExpectedSideEffect: ledger.SideEffectFileWrite})
	assert.True(t, result.StructuralOK)
	assert.True(t, result.OK)
}

func TestCheckInvariants_MissingRequiredAttrs(t *testing.T) {
	dir := t.TempDir()
	path := writeTempPy(t, dir, "skill.py", `class WriteNoteSkill(BaseSkill):
    name = "write_note"
`)
	result := CheckInvariants(context.Background(), path, Options{})
	require.False(t, result.StructuralOK)
	assert.False(t, result.OK)
	assert.Contains(t, result.Violations[0].Message, "Missing required attrs")
}

func TestCheckInvariants_SideEffectMismatch(t *testing.T) {
	dir := t.TempDir()
	path := writeTempPy(t, dir, "skill.py", `class WriteNoteSkill(BaseSkill):
    name = "write_note"
    description = "writes a note"
    input_model = Input
    output_model = Output
    side_effect_class = "NETWORK_CALL"
`)
	result := CheckInvariants(context.Background(), path, Options{ExpectedSideEffect: ledger.SideEffectFileWrite})
	require.False(t, result.StructuralOK)
	assert.Contains(t, result.Violations[0].Message, "NETWORK_CALL")
}

func TestCheckInvariants_NoBaseSkillClass(t *testing.T) {
	dir := t.TempDir()
	path := writeTempPy(t, dir, "skill.py", "def f():\n    pass\n")
	result := CheckInvariants(context.Background(), path, Options{})
	require.False(t, result.StructuralOK)
	assert.Contains(t, result.Violations[0].Message, "No class extending BaseSkill")
}

func TestCheckInvariants_ExtendedSafetyFlagsDynamicImport(t *testing.T) {
	dir := t.TempDir()
	path := writeTempPy(t, dir, "skill.py", `class WriteNoteSkill(BaseSkill):
    name = "write_note"
    description = "writes a note"
    input_model = Input
    output_model = Output
    side_effect_class = "FILE_WRITE"

    def execute(self, input):
        mod = __import__("os")
        return mod
`)
	result := CheckInvariants(context.Background(), path, Options{ExpectedSideEffect: ledger.SideEffectFileWrite})
	require.False(t, result.SafetyOK)
	assert.Contains(t, result.Violations[0].Message, "__import__")
}

func TestCheckInvariants_ExtendedSafetyFlagsImportlib(t *testing.T) {
	dir := t.TempDir()
	path := writeTempPy(t, dir, "skill.py", `class WriteNoteSkill(BaseSkill):
    name = "write_note"
    description = "writes a note"
    input_model = Input
    output_model = Output
    side_effect_class = "FILE_WRITE"

    def execute(self, input):
        importlib.import_module("os")
`)
	result := CheckInvariants(context.Background(), path, Options{ExpectedSideEffect: ledger.SideEffectFileWrite})
	require.False(t, result.SafetyOK)
}

func TestCheckInvariants_ScopeSkippedWithoutVCS(t *testing.T) {
	dir := t.TempDir()
	path := writeTempPy(t, dir, "skill.py", `class S(BaseSkill):
    name = "s"
    description = "d"
    input_model = I
    output_model = O
    side_effect_class = "NONE"
`)
	result := CheckInvariants(context.Background(), path, Options{VCS: nil})
	assert.True(t, result.ScopeOK)
}

func TestCheckInvariants_ScopeFlagsProtectedPath(t *testing.T) {
	dir := t.TempDir()
	path := writeTempPy(t, dir, "skill.py", `class S(BaseSkill):
    name = "s"
    description = "d"
    input_model = I
    output_model = O
    side_effect_class = "NONE"
`)
	stub := &vcs.StubClient{DiffFiles: []string{"src/kavi/skills/s/skill.py", "src/kavi/forge/build.py"}}
	result := CheckInvariants(context.Background(), path, Options{
		ProposalName: "s",
		VCS:          stub,
	})
	require.False(t, result.ScopeOK)
	assert.Contains(t, result.Violations[0].Message, "src/kavi/forge/build.py")
}

func TestCheckInvariants_ScopeAllowsOwnSkillFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeTempPy(t, dir, "skill.py", `class S(BaseSkill):
    name = "s"
    description = "d"
    input_model = I
    output_model = O
    side_effect_class = "NONE"
`)
	stub := &vcs.StubClient{DiffFiles: []string{"src/kavi/skills/s/skill.py", "tests/test_skill_s/test_it.py"}}
	result := CheckInvariants(context.Background(), path, Options{ProposalName: "s", VCS: stub})
	assert.True(t, result.ScopeOK)
}

func TestCheckInvariants_RuntimeBoundaryFlagsGovernanceImport(t *testing.T) {
	dir := t.TempDir()
	skillPath := writeTempPy(t, dir, "skill.py", `class S(BaseSkill):
    name = "s"
    description = "d"
    input_model = I
    output_model = O
    side_effect_class = "NONE"
`)
	writeTempPy(t, dir, "runtime_helper.py", "from kavi.forge import build\n")

	result := CheckInvariants(context.Background(), skillPath, Options{
		ProjectRoot:       dir,
		OptionalAllowlist: []string{"runtime_helper.py"},
	})
	require.False(t, result.BoundaryOK)
	assert.Contains(t, result.Violations[len(result.Violations)-1].Message, "kavi.forge")
}

func TestCheckInvariants_RuntimeBoundaryAllowsUnrelatedImport(t *testing.T) {
	dir := t.TempDir()
	skillPath := writeTempPy(t, dir, "skill.py", `class S(BaseSkill):
    name = "s"
    description = "d"
    input_model = I
    output_model = O
    side_effect_class = "NONE"
`)
	writeTempPy(t, dir, "runtime_helper.py", "from kavi.skills import types\n")

	result := CheckInvariants(context.Background(), skillPath, Options{
		ProjectRoot:       dir,
		OptionalAllowlist: []string{"runtime_helper.py"},
	})
	assert.True(t, result.BoundaryOK)
}

func TestCheckInvariants_MissingSkillFile(t *testing.T) {
	result := CheckInvariants(context.Background(), "/nonexistent/skill.py", Options{})
	require.False(t, result.StructuralOK)
	assert.Contains(t, result.Violations[0].Message, "not found")
}
