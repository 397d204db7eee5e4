// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry implements the trusted-skill registry and the
// runtime trust verifier (SPEC_FULL.md §4.10), grounded on
// original_source/src/kavi/skills/loader.py's load_registry/
// save_registry/_verify_trust. Go has no dynamic import, so Entry
// stores a compiled-in factory key (SPEC_FULL.md §4.11) rather than a
// Python dotted module path; the hash check otherwise matches the
// original's re-hash-at-load-time design.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/kshetrajna12/kavi/internal/forgeerr"
	"github.com/kshetrajna12/kavi/internal/ledger"
)

// Entry is one promoted skill's registry record.
type Entry struct {
	Name            string                 `yaml:"name"`
	FactoryKey      string                 `yaml:"factory_key"`
	SideEffectClass ledger.SideEffectClass `yaml:"side_effect_class"`
	Hash            string                 `yaml:"hash"`
	RequiredSecrets []string               `yaml:"required_secrets,omitempty"`
}

type fileFormat struct {
	Skills []Entry `yaml:"skills"`
}

// Load reads the registry YAML file. A missing file is treated as an
// empty registry, matching load_registry's "data or []" fallback.
func Load(path string) ([]Entry, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	var f fileFormat
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("registry: parse %s: %w", path, err)
	}
	return f.Skills, nil
}

// Save writes the registry YAML file atomically (temp file + rename),
// matching the sandbox builder's atomic-write idiom so a crash
// mid-write never leaves a truncated registry on disk.
func Save(path string, entries []Entry) error {
	data, err := yaml.Marshal(fileFormat{Skills: entries})
	if err != nil {
		return fmt.Errorf("registry: marshal: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".registry-*.yaml.tmp")
	if err != nil {
		return fmt.Errorf("registry: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("registry: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("registry: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("registry: rename into place: %w", err)
	}
	return nil
}

// HashSource sha256-hashes a skill's source bytes, matching
// _verify_trust's re-hash.
func HashSource(source []byte) string {
	sum := sha256.Sum256(source)
	return hex.EncodeToString(sum[:])
}

// Find returns the entry for name, or (Entry{}, false).
func Find(entries []Entry, name string) (Entry, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Upsert inserts or replaces the entry with the same name, preserving
// the order of existing entries.
func Upsert(entries []Entry, e Entry) []Entry {
	for i, existing := range entries {
		if existing.Name == e.Name {
			entries[i] = e
			return entries
		}
	}
	return append(entries, e)
}

// Verify re-hashes sourceAtLoad and compares against the registry's
// recorded hash. SPEC_FULL.md §4.10 resolves a deliberate divergence
// from original_source here: _verify_trust raises TrustError when a
// registry entry has no hash at all; the distilled spec's legacy-
// compatibility language instead calls for a warning and a skip (the
// skill is treated as unverifiable, not a hard failure), so Verify
// returns ok=false, err=nil in that case rather than forgeerr.TrustError.
func Verify(entry Entry, sourceAtLoad []byte) (ok bool, err error) {
	if entry.Hash == "" {
		return false, nil
	}
	actual := HashSource(sourceAtLoad)
	if actual != entry.Hash {
		return false, &forgeerr.TrustError{
			SkillName: entry.Name,
			Reason:    fmt.Sprintf("expected hash %s…, got %s…", entry.Hash[:12], actual[:12]),
		}
	}
	return true, nil
}
