// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command forge is the ambient CLI entrypoint wrapping the governed
// skill-lifecycle pipeline: propose, reject, build, verify, retry,
// promote, run, list. The CLI itself sits outside the governed trust
// boundary — SPEC_FULL.md scopes governance to the pipeline operations,
// not the shell that invokes them.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/kshetrajna12/kavi/skills/writenote"
)

var (
	ledgerPath   string
	blobRoot     string
	sandboxRoot  string
	scratchRoot  string
	registryPath string
	policyPath   string
)

var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "Governed skill-lifecycle trust pipeline",
	Long: `forge runs the Forge Core skill-lifecycle pipeline: propose a
skill, build it in a sandbox, verify it against the five-gate battery,
retry on failure with deterministic-plus-LLM-advised research, and
promote verified skills into the trusted registry.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&ledgerPath, "ledger", "./forge_data/ledger", "ledger database directory")
	rootCmd.PersistentFlags().StringVar(&blobRoot, "blobs", "./forge_data/blobs", "artifact blob store directory")
	rootCmd.PersistentFlags().StringVar(&sandboxRoot, "project-root", ".", "canonical project tree root")
	rootCmd.PersistentFlags().StringVar(&scratchRoot, "scratch", "./forge_data/scratch", "sandbox workspace scratch directory")
	rootCmd.PersistentFlags().StringVar(&registryPath, "registry", "./registry.yaml", "trusted skill registry file")
	rootCmd.PersistentFlags().StringVar(&policyPath, "policy", "./configs/policy.yaml", "static policy scanner rule file")
}
