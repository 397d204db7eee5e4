// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package skill defines the governed skill contract and the compiled-in
// factory registry the runtime loader resolves against. Grounded on
// original_source/src/kavi/skills/base.py's BaseSkill (structure) and
// loader.py's dotted-module-path resolution (reimagined for Go, which
// has no dynamic import: SPEC_FULL.md §4.11 resolves this by compiling
// every skill into the binary and registering it under a factory key at
// package init time, with trust verification still gating whether a
// given key may be invoked).
package skill

import (
	"context"
	"fmt"
	"sync"

	"github.com/kshetrajna12/kavi/internal/ledger"
)

// BaseSkill is the contract every governed skill implementation
// satisfies, mirroring the original's BaseSkill ABC: a declared name,
// description, side-effect class, and an Execute method operating on
// schema-validated input/output values.
type BaseSkill interface {
	Name() string
	Description() string
	SideEffectClass() ledger.SideEffectClass
	// DecodeInput unmarshals raw JSON into the skill's declared input
	// type, returned by value so the runtime loader can run struct
	// validation on it without reflecting on a pointer.
	DecodeInput(raw []byte) (any, error)
	// Execute runs the skill. input and the returned value are
	// validated against the skill's declared schema by the runtime
	// loader before and after this call — Execute itself assumes
	// well-formed input.
	Execute(ctx context.Context, input any) (any, error)
}

// Factory constructs a new BaseSkill instance. Factories are
// side-effect-free at construction time; all work happens in Execute.
type Factory func() BaseSkill

var (
	registryMu sync.RWMutex
	factories  = map[string]Factory{}
)

// Register binds a factory key to a constructor. Called from each
// skill package's init(), the Go analogue of the original's dynamic
// `importlib.import_module(module_path)` — the binary's link step
// plays the role Python's import machinery would otherwise play at
// runtime.
func Register(factoryKey string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := factories[factoryKey]; exists {
		panic(fmt.Sprintf("skill: factory key %q registered twice", factoryKey))
	}
	factories[factoryKey] = f
}

// Lookup returns the factory registered under key, if any.
func Lookup(factoryKey string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := factories[factoryKey]
	return f, ok
}

// Keys returns every registered factory key, for diagnostics and tests.
func Keys() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	keys := make([]string, 0, len(factories))
	for k := range factories {
		keys = append(keys, k)
	}
	return keys
}
