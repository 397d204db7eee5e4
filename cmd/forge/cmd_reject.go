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

var rejectCmd = &cobra.Command{
	Use:   "reject <proposal-id>",
	Short: "Decline a proposed skill before it is built",
	Args:  cobra.ExactArgs(1),
	RunE:  runReject,
}

func init() {
	rootCmd.AddCommand(rejectCmd)
}

func runReject(cmd *cobra.Command, args []string) error {
	f, closeFn, err := openForge()
	if err != nil {
		return err
	}
	defer closeFn()

	if err := f.Reject(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "proposal %s rejected\n", args[0])
	return nil
}
