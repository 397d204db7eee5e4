// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package packet renders the text handed to the build worker: the
// BUILD_PACKET artifact described in SPEC_FULL.md §6, plus its retry
// enrichment. Grounded on
// original_source/src/kavi/forge/build.py's _create_build_packet_content
// and _create_retry_build_packet_content.
package packet

import (
	"fmt"
	"strings"

	"github.com/kshetrajna12/kavi/internal/classifier"
	"github.com/kshetrajna12/kavi/internal/ledger"
	"github.com/kshetrajna12/kavi/internal/pathconv"
)

// Spec carries the fields needed to render a first-attempt build packet.
type Spec struct {
	Name             string
	Description      string
	IOSchemaJSON     string
	SideEffectClass  ledger.SideEffectClass
	OptionalAllowlist []string
}

// Render produces the base BUILD_PACKET.md content for a proposal.
func Render(s Spec) string {
	skillPath := pathconv.SkillFile(s.Name)
	testPath := pathconv.TestFile(s.Name)

	var optional strings.Builder
	for _, p := range s.OptionalAllowlist {
		optional.WriteString(fmt.Sprintf("%s\n", p))
	}

	return fmt.Sprintf(`# Build Packet: %s

## Task
Generate a Kavi skill implementation for "%s".

## Skill Specification
- **Name**: %s
- **Description**: %s
- **Side Effect Class**: %s

## I/O Schema
`+"```json\n%s\n```"+`

## Requirements
1. Create `+"`%s`"+` implementing `+"`BaseSkill`"+`
2. The skill class must define: name, description, input_model, output_model, side_effect_class
3. Implement the execute() method
4. Use schema-validated input/output models
5. Do NOT use any forbidden imports (process-spawning, dynamic eval)
6. Only write to allowed paths: ./vault_out/, ./artifacts_out/

## File Structure (required)
`+"```\n%s  — skill implementation\n%s — unit tests\n```"+`

## Optional runtime support files
If the skill requires additions to shared infrastructure, you MAY also
modify these files:
`+"```\n%s```"+`

## Constraints
- ONLY create/modify the files listed above (required + optional).
- Do NOT modify any other files (especially forge/, ledger/, policies/, cli.py).
- Runtime support files must NOT import from kavi.forge, kavi.ledger, or kavi.policies.
- Do NOT run, commit, or push anything.
`, s.Name, s.Name, s.Name, s.Description, s.SideEffectClass, s.IOSchemaJSON,
		skillPath, skillPath, testPath, optional.String())
}

// Enrich appends a "Previous Attempt" section to baseContent, ported
// verbatim (in shape) from _create_retry_build_packet_content. The
// research note and advisory sections are appended when present.
func Enrich(baseContent string, analysis classifier.FailureAnalysis, researchNote, advisory string) string {
	sections := []string{strings.TrimRight(baseContent, "\n")}

	var facts strings.Builder
	for _, f := range analysis.Facts {
		facts.WriteString("- " + f + "\n")
	}
	sections = append(sections, fmt.Sprintf(
		"\n## Previous Attempt (%d)\n- **Failure kind**: %s\n%s",
		analysis.AttemptNumber, analysis.Kind, strings.TrimRight(facts.String(), "\n"),
	))

	if researchNote != "" {
		sections = append(sections, "\n## Research Findings\n"+researchNote)
	}
	if advisory != "" {
		sections = append(sections, "\n## LLM Advisory\n"+advisory)
	}
	return strings.TrimRight(strings.Join(sections, "\n"), "\n") + "\n"
}
