// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package writenote is a concrete governed skill: it writes a short text
// note to the vault output directory. It exists to exercise the runtime
// loader end to end (SPEC_FULL.md §8 scenario 1's write_note happy
// path) the same way a real forge-built skill would, after having
// passed through proposal, build, verification, and promotion.
package writenote

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kshetrajna12/kavi/internal/ledger"
	"github.com/kshetrajna12/kavi/internal/skill"
)

// FactoryKey is this skill's compiled-in registration key.
const FactoryKey = "writenote.New"

func init() {
	skill.Register(FactoryKey, func() skill.BaseSkill { return New() })
}

// Input is the skill's validated request shape.
type Input struct {
	Title string `json:"title" validate:"required,max=200"`
	Body  string `json:"body" validate:"required"`
}

// Output is the skill's validated response shape.
type Output struct {
	Path      string    `json:"path"`
	WrittenAt time.Time `json:"written_at"`
}

var validate = validator.New()

// Skill writes Input.Body to a timestamped file under VaultDir.
type Skill struct {
	VaultDir string
}

// New constructs the skill with its default vault directory.
func New() *Skill {
	return &Skill{VaultDir: "./vault_out"}
}

func (s *Skill) Name() string        { return "write_note" }
func (s *Skill) Description() string { return "Writes a titled text note to the vault output directory." }
func (s *Skill) SideEffectClass() ledger.SideEffectClass { return ledger.SideEffectFileWrite }

// DecodeInput unmarshals raw JSON into an Input value.
func (s *Skill) DecodeInput(raw []byte) (any, error) {
	var in Input
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("writenote: decode input: %w", err)
	}
	return in, nil
}

// Execute validates input, writes the note file, and returns its path.
// The any-typed signature matches skill.BaseSkill; Execute itself
// type-asserts rawInput to Input (a value, as DecodeInput returns it).
func (s *Skill) Execute(ctx context.Context, rawInput any) (any, error) {
	input, ok := rawInput.(Input)
	if !ok {
		return nil, fmt.Errorf("writenote: expected Input, got %T", rawInput)
	}
	if err := validate.Struct(input); err != nil {
		return nil, fmt.Errorf("writenote: invalid input: %w", err)
	}

	if err := os.MkdirAll(s.VaultDir, 0o755); err != nil {
		return nil, fmt.Errorf("writenote: mkdir vault: %w", err)
	}

	now := time.Now().UTC()
	filename := fmt.Sprintf("%s-%s.md", now.Format("20060102T150405Z"), slugify(input.Title))
	path := filepath.Join(s.VaultDir, filename)

	content := fmt.Sprintf("# %s\n\n%s\n", input.Title, input.Body)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("writenote: write note: %w", err)
	}

	return Output{Path: path, WrittenAt: now}, nil
}

func slugify(title string) string {
	out := make([]rune, 0, len(title))
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		case r == ' ' || r == '-' || r == '_':
			out = append(out, '-')
		}
	}
	if len(out) == 0 {
		return "note"
	}
	if len(out) > 40 {
		out = out[:40]
	}
	return string(out)
}
