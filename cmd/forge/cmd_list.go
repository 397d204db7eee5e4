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
	"os"

	"github.com/spf13/cobra"

	"github.com/kshetrajna12/kavi/internal/registry"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List skills in the trusted registry",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	entries, err := registry.Load(registryPath)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stdout, "no skills registered")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(os.Stdout, "%-24s %-12s hash=%s…\n", e.Name, e.SideEffectClass, safeHashPrefix(e.Hash))
	}
	return nil
}

func safeHashPrefix(hash string) string {
	if len(hash) < 12 {
		return hash
	}
	return hash[:12]
}
