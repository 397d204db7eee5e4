// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package packet

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kshetrajna12/kavi/internal/classifier"
	"github.com/kshetrajna12/kavi/internal/ledger"
)

func TestRender_IncludesRequiredAndOptionalFileLists(t *testing.T) {
	content := Render(Spec{
		Name:              "write_note",
		Description:       "writes a note",
		IOSchemaJSON:      `{"type":"object"}`,
		SideEffectClass:   ledger.SideEffectFileWrite,
		OptionalAllowlist: []string{"src/kavi/skills/registry_support.py"},
	})

	assert.Contains(t, content, "# Build Packet: write_note")
	assert.Contains(t, content, "src/kavi/skills/write_note.py")
	assert.Contains(t, content, "tests/test_skill_write_note.py")
	assert.Contains(t, content, "src/kavi/skills/registry_support.py")
	assert.Contains(t, content, string(ledger.SideEffectFileWrite))
	assert.Contains(t, content, `{"type":"object"}`)
}

func TestRender_NoOptionalFilesLeavesSectionEmpty(t *testing.T) {
	content := Render(Spec{
		Name:            "write_note",
		Description:     "writes a note",
		IOSchemaJSON:    `{}`,
		SideEffectClass: ledger.SideEffectFileWrite,
	})

	optionalIdx := strings.Index(content, "## Optional runtime support files")
	constraintsIdx := strings.Index(content, "## Constraints")
	require.True(t, optionalIdx >= 0 && constraintsIdx > optionalIdx)

	between := content[optionalIdx:constraintsIdx]
	assert.Contains(t, between, "```\n```")
}

func TestEnrich_AppendsPreviousAttemptSection(t *testing.T) {
	base := Render(Spec{
		Name:            "write_note",
		Description:     "writes a note",
		IOSchemaJSON:    `{}`,
		SideEffectClass: ledger.SideEffectFileWrite,
	})

	analysis := classifier.FailureAnalysis{
		Kind:          classifier.VerifyLint,
		Facts:         []string{"ruff: E501 line too long"},
		AttemptNumber: 1,
	}

	enriched := Enrich(base, analysis, "", "")
	assert.Contains(t, enriched, "## Previous Attempt (1)")
	assert.Contains(t, enriched, "**Failure kind**: "+string(classifier.VerifyLint))
	assert.Contains(t, enriched, "- ruff: E501 line too long")
	assert.True(t, strings.HasPrefix(enriched, strings.TrimRight(base, "\n")))
}

func TestEnrich_OmitsResearchAndAdvisoryWhenEmpty(t *testing.T) {
	analysis := classifier.FailureAnalysis{Kind: classifier.VerifyTest, AttemptNumber: 2}
	enriched := Enrich("base content", analysis, "", "")
	assert.NotContains(t, enriched, "## Research Findings")
	assert.NotContains(t, enriched, "## LLM Advisory")
}

func TestEnrich_IncludesResearchAndAdvisoryWhenPresent(t *testing.T) {
	analysis := classifier.FailureAnalysis{Kind: classifier.VerifyPolicy, AttemptNumber: 3}
	enriched := Enrich("base content", analysis, "saw similar failures before", "try removing the subprocess import")

	assert.Contains(t, enriched, "## Research Findings\nsaw similar failures before")
	assert.Contains(t, enriched, "## LLM Advisory\ntry removing the subprocess import")

	// research section must precede the advisory section
	assert.True(t, strings.Index(enriched, "Research Findings") < strings.Index(enriched, "LLM Advisory"))
}

func TestEnrich_EndsWithSingleTrailingNewline(t *testing.T) {
	analysis := classifier.FailureAnalysis{Kind: classifier.Unknown, AttemptNumber: 1}
	enriched := Enrich("base content\n\n\n", analysis, "", "")
	assert.True(t, strings.HasSuffix(enriched, "\n"))
	assert.False(t, strings.HasSuffix(enriched, "\n\n"))
}
