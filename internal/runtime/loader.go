// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runtime implements the runtime trust verifier and skill
// loader (SPEC_FULL.md §4.11): registry lookup, trust verification,
// compiled-in factory resolution, schema-validated execution. Grounded
// on original_source/src/kavi/skills/loader.py's load_skill, adapted
// for Go's static linking — see skill.Register's doc comment for the
// dynamic-import substitution this package depends on.
package runtime

import (
	"context"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/kshetrajna12/kavi/internal/forgeerr"
	"github.com/kshetrajna12/kavi/internal/registry"
	"github.com/kshetrajna12/kavi/internal/skill"
)

var validate = validator.New()

// SourceLoader resolves a registry entry's recorded source file bytes
// for re-hashing — normally disk I/O, stubbed in tests.
type SourceLoader func(entry registry.Entry) ([]byte, error)

// FileSourceLoader reads a skill's source file straight from disk. path
// should be the skill's generated .py file on the trusted filesystem
// (not executed — only hashed).
func FileSourceLoader(path string) SourceLoader {
	return func(entry registry.Entry) ([]byte, error) {
		return os.ReadFile(path)
	}
}

// Loader ties the registry, the trust verifier, and the compiled-in
// skill factory map together into one load-and-run path.
type Loader struct {
	RegistryPath string
	Source       SourceLoader
}

// NewLoader constructs a Loader reading the registry from registryPath.
func NewLoader(registryPath string, source SourceLoader) *Loader {
	return &Loader{RegistryPath: registryPath, Source: source}
}

// Load resolves, trust-verifies, and instantiates a skill by name.
// Unlike original_source's load_skill, a missing-hash entry is a
// warning, not a TrustError — see registry.Verify's doc comment for why
// this diverges from the original.
func (l *Loader) Load(name string) (skill.BaseSkill, error) {
	entries, err := registry.Load(l.RegistryPath)
	if err != nil {
		return nil, &forgeerr.StoreUnavailable{Op: "registry.Load", Err: err}
	}

	entry, ok := registry.Find(entries, name)
	if !ok {
		return nil, &forgeerr.UnknownEntity{Kind: "skill", ID: name}
	}

	if l.Source != nil {
		source, err := l.Source(entry)
		if err != nil {
			return nil, &forgeerr.StoreUnavailable{Op: "source.Load", Err: err}
		}
		trusted, verr := registry.Verify(entry, source)
		if verr != nil {
			return nil, verr
		}
		if !trusted {
			fmt.Fprintf(os.Stderr, "runtime: skill %q has no recorded hash — running unverified\n", name)
		}
	}

	factory, ok := skill.Lookup(entry.FactoryKey)
	if !ok {
		return nil, &forgeerr.UnknownEntity{Kind: "factory", ID: entry.FactoryKey}
	}
	return factory(), nil
}

// Run loads a skill by name, decodes and validates rawInput against its
// declared schema, executes it, validates the output, and returns the
// result — the full runtime boundary crossing described in
// SPEC_FULL.md §4.11.
func (l *Loader) Run(ctx context.Context, name string, rawInput []byte) (any, error) {
	s, err := l.Load(name)
	if err != nil {
		return nil, err
	}

	input, err := s.DecodeInput(rawInput)
	if err != nil {
		return nil, &forgeerr.InvalidInput{Field: name, Reason: err.Error()}
	}
	if err := validate.Struct(input); err != nil {
		return nil, &forgeerr.InvalidInput{Field: name, Reason: err.Error()}
	}

	output, err := s.Execute(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("runtime: skill %q execution failed: %w", name, err)
	}

	if err := validate.Struct(output); err != nil {
		return nil, fmt.Errorf("runtime: skill %q produced invalid output: %w", name, err)
	}
	return output, nil
}

// List returns every registered skill entry, mirroring list_skills.
func (l *Loader) List() ([]registry.Entry, error) {
	entries, err := registry.Load(l.RegistryPath)
	if err != nil {
		return nil, &forgeerr.StoreUnavailable{Op: "registry.Load", Err: err}
	}
	return entries, nil
}
