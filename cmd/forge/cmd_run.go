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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kshetrajna12/kavi/internal/pathconv"
	"github.com/kshetrajna12/kavi/internal/registry"
	"github.com/kshetrajna12/kavi/internal/runtime"
)

var runInputJSON string

var runCmd = &cobra.Command{
	Use:   "run <skill-name>",
	Short: "Load a trusted skill and execute it",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&runInputJSON, "input", "{}", "skill input as JSON")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	name := args[0]

	loader := runtime.NewLoader(registryPath, func(entry registry.Entry) ([]byte, error) {
		return os.ReadFile(filepath.Join(sandboxRoot, pathconv.SkillFile(entry.Name)))
	})

	output, err := loader.Run(context.Background(), name, []byte(runInputJSON))
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(encoded))
	return nil
}
