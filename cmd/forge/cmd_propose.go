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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kshetrajna12/kavi/internal/ledger"
)

var (
	proposeDescription string
	proposeIOSchema     string
	proposeSideEffect   string
	proposeSecrets      string
)

var proposeCmd = &cobra.Command{
	Use:   "propose <name>",
	Short: "Declare a new skill proposal",
	Args:  cobra.ExactArgs(1),
	RunE:  runPropose,
}

func init() {
	proposeCmd.Flags().StringVar(&proposeDescription, "description", "", "skill description")
	proposeCmd.Flags().StringVar(&proposeIOSchema, "io-schema", "{}", "I/O schema as JSON")
	proposeCmd.Flags().StringVar(&proposeSideEffect, "side-effect", string(ledger.SideEffectReadOnly), "side effect class")
	proposeCmd.Flags().StringVar(&proposeSecrets, "required-secrets", "[]", "required secrets as JSON array")
	rootCmd.AddCommand(proposeCmd)
}

func runPropose(cmd *cobra.Command, args []string) error {
	f, closeFn, err := openForge()
	if err != nil {
		return err
	}
	defer closeFn()

	p, err := f.Propose(context.Background(), args[0], proposeDescription, proposeIOSchema,
		ledger.SideEffectClass(proposeSideEffect), proposeSecrets)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "proposal %s created: %s (%s)\n", p.ID, p.Name, p.Status)
	return nil
}
