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
	"strings"

	"github.com/spf13/cobra"
)

var (
	promoteApprovedBy string
	promoteFactoryKey string
	promoteSecrets    string
)

var promoteCmd = &cobra.Command{
	Use:   "promote <proposal-id>",
	Short: "Promote a VERIFIED proposal to TRUSTED",
	Args:  cobra.ExactArgs(1),
	RunE:  runPromote,
}

func init() {
	promoteCmd.Flags().StringVar(&promoteApprovedBy, "approved-by", "", "approver identity")
	promoteCmd.Flags().StringVar(&promoteFactoryKey, "factory-key", "", "compiled-in skill factory key to bind this name to")
	promoteCmd.Flags().StringVar(&promoteSecrets, "required-secrets", "", "comma-separated required secret names")
	_ = promoteCmd.MarkFlagRequired("approved-by")
	_ = promoteCmd.MarkFlagRequired("factory-key")
	rootCmd.AddCommand(promoteCmd)
}

func runPromote(cmd *cobra.Command, args []string) error {
	f, closeFn, err := openForge()
	if err != nil {
		return err
	}
	defer closeFn()

	var secrets []string
	if promoteSecrets != "" {
		secrets = strings.Split(promoteSecrets, ",")
	}

	p, err := f.Promote(context.Background(), args[0], promoteApprovedBy, promoteFactoryKey, secrets)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "promotion %s: %s -> %s (hash %s)\n", p.ID, p.FromStatus, p.ToStatus, p.SourceHash[:12])
	return nil
}
