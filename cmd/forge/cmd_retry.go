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
)

var retryCmd = &cobra.Command{
	Use:   "retry <build-id>",
	Short: "Research a failed build and produce an enriched retry packet",
	Args:  cobra.ExactArgs(1),
	RunE:  runRetry,
}

func init() {
	rootCmd.AddCommand(retryCmd)
}

func runRetry(cmd *cobra.Command, args []string) error {
	f, closeFn, err := openForge()
	if err != nil {
		return err
	}
	defer closeFn()

	result, err := f.Retry(context.Background(), args[0])
	if err != nil {
		return err
	}
	if result.RequiresApproval() {
		fmt.Fprintf(os.Stdout, "escalation required: %v\n", result.Triggers)
		return nil
	}
	fmt.Fprintln(os.Stdout, "enriched packet written; ready for next build")
	return nil
}
