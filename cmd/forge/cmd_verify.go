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

var verifyCmd = &cobra.Command{
	Use:   "verify <build-id>",
	Short: "Run the five-gate verification battery against a build",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	f, closeFn, err := openForge()
	if err != nil {
		return err
	}
	defer closeFn()

	v, err := f.Verify(context.Background(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "verification %s: %s (lint=%v type=%v test=%v policy=%v invariant=%v)\n",
		v.ID, v.Status, v.LintOK, v.TypeCheckOK, v.TestOK, v.PolicyOK, v.InvariantOK)
	return nil
}
