// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kshetrajna12/kavi/internal/artifact"
	"github.com/kshetrajna12/kavi/internal/forge"
	"github.com/kshetrajna12/kavi/internal/ledger"
	"github.com/kshetrajna12/kavi/internal/metrics"
	"github.com/kshetrajna12/kavi/internal/policy"
	"github.com/kshetrajna12/kavi/internal/retry"
	"github.com/kshetrajna12/kavi/internal/sandbox"
	"github.com/kshetrajna12/kavi/internal/vcs"
	"github.com/kshetrajna12/kavi/internal/verify"
)

var registerMetricsOnce sync.Once

// openForge wires a Forge facade from the persistent CLI flags. Opened
// fresh per command invocation; there is no long-lived daemon.
func openForge() (*forge.Forge, func(), error) {
	registerMetricsOnce.Do(func() { metrics.Register(prometheus.DefaultRegisterer) })

	ledgerStore, err := ledger.Open(ledgerPath)
	if err != nil {
		return nil, nil, fmt.Errorf("forge: open ledger: %w", err)
	}

	artifactStore, err := artifact.Open(filepath.Join(blobRoot, "meta"), filepath.Join(blobRoot, "sharded"))
	if err != nil {
		_ = ledgerStore.Close()
		return nil, nil, fmt.Errorf("forge: open artifact store: %w", err)
	}
	writer := &artifact.Writer{Blobs: artifactStore, Ledger: ledgerStore}

	cfg := sandbox.DefaultConfig()
	builder := sandbox.New(cfg, &sandbox.SubprocessWorker{Command: "claude-code-build-worker"}, func(repoPath string) (vcs.Client, error) {
		return vcs.NewDefaultClient(repoPath, cfg.Timeout)
	})

	battery := verify.NewBattery(verify.DefaultSubprocessToolRunner())

	var llm retry.LLMClient
	if client, llmErr := retry.NewOpenAIClient(); llmErr == nil {
		llm = client
	} // else: advisory layer degrades to deterministic-only, per SPEC_FULL.md §4.9
	retryEngine := retry.NewEngine(llm)

	f := forge.New(ledgerStore, writer, sandboxRoot, scratchRoot, builder, battery, retryEngine, registryPath)
	if loaded, loadErr := policy.LoadPolicy(policyPath); loadErr == nil {
		f.Policy = loaded
	} // else: no rule file at policyPath, keep the baked-in DefaultPolicy

	closeFn := func() {
		_ = artifactStore.Close()
		_ = ledgerStore.Close()
	}
	return f, closeFn, nil
}
