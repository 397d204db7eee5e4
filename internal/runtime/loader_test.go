// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runtime

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kshetrajna12/kavi/internal/forgeerr"
	"github.com/kshetrajna12/kavi/internal/ledger"
	"github.com/kshetrajna12/kavi/internal/registry"
	"github.com/kshetrajna12/kavi/internal/skill"
)

type stubInput struct {
	Value string `json:"value" validate:"required"`
}

type stubOutput struct {
	Result string `json:"result" validate:"required"`
}

type stubSkill struct{}

func (s *stubSkill) Name() string                           { return "stub" }
func (s *stubSkill) Description() string                    { return "a stub skill for loader tests" }
func (s *stubSkill) SideEffectClass() ledger.SideEffectClass { return ledger.SideEffectReadOnly }

func (s *stubSkill) DecodeInput(raw []byte) (any, error) {
	return stubInput{Value: string(raw)}, nil
}

func (s *stubSkill) Execute(ctx context.Context, input any) (any, error) {
	in := input.(stubInput)
	return stubOutput{Result: "echo:" + in.Value}, nil
}

const stubFactoryKey = "runtimetest.stubSkill"

func init() {
	skill.Register(stubFactoryKey, func() skill.BaseSkill { return &stubSkill{} })
}

func writeRegistryWithEntry(t *testing.T, entry registry.Entry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, registry.Save(path, []registry.Entry{entry}))
	return path
}

func TestLoader_Load_UnknownSkillName(t *testing.T) {
	path := writeRegistryWithEntry(t, registry.Entry{Name: "stub", FactoryKey: stubFactoryKey})
	loader := NewLoader(path, nil)

	_, err := loader.Load("does-not-exist")
	var unknown *forgeerr.UnknownEntity
	require.ErrorAs(t, err, &unknown)
}

func TestLoader_Load_UnknownFactoryKey(t *testing.T) {
	path := writeRegistryWithEntry(t, registry.Entry{Name: "stub", FactoryKey: "runtimetest.neverRegistered"})
	loader := NewLoader(path, nil)

	_, err := loader.Load("stub")
	var unknown *forgeerr.UnknownEntity
	require.ErrorAs(t, err, &unknown)
}

func TestLoader_Load_WithoutSourceLoaderSkipsTrustCheck(t *testing.T) {
	path := writeRegistryWithEntry(t, registry.Entry{Name: "stub", FactoryKey: stubFactoryKey})
	loader := NewLoader(path, nil)

	s, err := loader.Load("stub")
	require.NoError(t, err)
	assert.Equal(t, "stub", s.Name())
}

func TestLoader_Load_TrustMismatchFails(t *testing.T) {
	source := []byte("class Stub: pass\n")
	entry := registry.Entry{Name: "stub", FactoryKey: stubFactoryKey, Hash: registry.HashSource(source)}
	path := writeRegistryWithEntry(t, entry)

	loader := NewLoader(path, func(e registry.Entry) ([]byte, error) {
		return []byte("tampered source"), nil
	})

	_, err := loader.Load("stub")
	var trustErr *forgeerr.TrustError
	require.ErrorAs(t, err, &trustErr)
}

func TestLoader_Load_MissingHashWarnsButSucceeds(t *testing.T) {
	entry := registry.Entry{Name: "stub", FactoryKey: stubFactoryKey, Hash: ""}
	path := writeRegistryWithEntry(t, entry)

	loader := NewLoader(path, func(e registry.Entry) ([]byte, error) {
		return []byte("anything"), nil
	})

	s, err := loader.Load("stub")
	require.NoError(t, err)
	assert.Equal(t, "stub", s.Name())
}

func TestLoader_Run_EndToEnd(t *testing.T) {
	source := []byte("class Stub: pass\n")
	entry := registry.Entry{Name: "stub", FactoryKey: stubFactoryKey, Hash: registry.HashSource(source)}
	path := writeRegistryWithEntry(t, entry)

	loader := NewLoader(path, func(e registry.Entry) ([]byte, error) { return source, nil })

	output, err := loader.Run(context.Background(), "stub", []byte("hello"))
	require.NoError(t, err)

	out, ok := output.(stubOutput)
	require.True(t, ok)
	assert.Equal(t, "echo:hello", out.Result)
}

func TestLoader_Run_InvalidInputFailsValidation(t *testing.T) {
	entry := registry.Entry{Name: "stub", FactoryKey: stubFactoryKey}
	path := writeRegistryWithEntry(t, entry)
	loader := NewLoader(path, nil)

	_, err := loader.Run(context.Background(), "stub", []byte(""))
	var invalid *forgeerr.InvalidInput
	require.ErrorAs(t, err, &invalid)
}

func TestLoader_List(t *testing.T) {
	entry := registry.Entry{Name: "stub", FactoryKey: stubFactoryKey}
	path := writeRegistryWithEntry(t, entry)
	loader := NewLoader(path, nil)

	entries, err := loader.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "stub", entries[0].Name)
}
