// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kshetrajna12/kavi/internal/forgeerr"
	"github.com/kshetrajna12/kavi/internal/ledger"
)

func TestLoad_MissingFileReturnsEmpty(t *testing.T) {
	entries, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Nil(t, entries)
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	entries := []Entry{
		{Name: "write_note", FactoryKey: "writenote.New", SideEffectClass: ledger.SideEffectFileWrite, Hash: "abc123"},
	}
	require.NoError(t, Save(path, entries))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "write_note", loaded[0].Name)
	assert.Equal(t, "writenote.New", loaded[0].FactoryKey)
	assert.Equal(t, "abc123", loaded[0].Hash)
}

func TestSave_AtomicWriteLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	require.NoError(t, Save(path, []Entry{{Name: "a"}}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "registry.yaml", entries[0].Name())
}

func TestFindAndUpsert(t *testing.T) {
	entries := []Entry{{Name: "a", Hash: "h1"}, {Name: "b", Hash: "h2"}}

	found, ok := Find(entries, "b")
	require.True(t, ok)
	assert.Equal(t, "h2", found.Hash)

	_, ok = Find(entries, "missing")
	assert.False(t, ok)

	entries = Upsert(entries, Entry{Name: "b", Hash: "h2-updated"})
	require.Len(t, entries, 2)
	updated, _ := Find(entries, "b")
	assert.Equal(t, "h2-updated", updated.Hash)

	entries = Upsert(entries, Entry{Name: "c", Hash: "h3"})
	assert.Len(t, entries, 3)
}

func TestHashSource_Deterministic(t *testing.T) {
	source := []byte("class Skill: pass\n")
	assert.Equal(t, HashSource(source), HashSource(source))
	assert.NotEqual(t, HashSource(source), HashSource([]byte("different")))
}

func TestVerify_MatchingHash(t *testing.T) {
	source := []byte("class Skill: pass\n")
	entry := Entry{Name: "s", Hash: HashSource(source)}

	ok, err := Verify(entry, source)
	assert.True(t, ok)
	assert.NoError(t, err)
}

func TestVerify_MissingHashWarnsAndSkipsWithoutError(t *testing.T) {
	entry := Entry{Name: "s", Hash: ""}

	ok, err := Verify(entry, []byte("anything"))
	assert.False(t, ok)
	assert.NoError(t, err, "missing hash is a warn-and-skip, not a TrustError, per the legacy-compatibility resolution")
}

func TestVerify_MismatchedHashReturnsTrustError(t *testing.T) {
	entry := Entry{Name: "s", Hash: HashSource([]byte("original source"))}

	ok, err := Verify(entry, []byte("tampered source"))
	assert.False(t, ok)
	require.Error(t, err)

	var trustErr *forgeerr.TrustError
	require.ErrorAs(t, err, &trustErr)
	assert.Equal(t, "s", trustErr.SkillName)
}
