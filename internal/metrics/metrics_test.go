// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegister_AddsEveryCollectorToRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)

	count, err := testutil.GatherAndCount(reg)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	// Every collector except BuildDuration is a Vec with no series until a
	// label set is used; the unlabelled BuildDuration histogram always
	// exposes its one series.
	if count != 1 {
		t.Fatalf("expected only the BuildDuration series before any increment, got %d", count)
	}
}

func TestBuildsOpened_IncrementsByAttemptLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)
	t.Cleanup(BuildsOpened.Reset)

	BuildsOpened.WithLabelValues("1").Inc()
	BuildsOpened.WithLabelValues("1").Inc()
	BuildsOpened.WithLabelValues("2+").Inc()

	if got := testutil.ToFloat64(BuildsOpened.WithLabelValues("1")); got != 2 {
		t.Fatalf("attempt=1 counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(BuildsOpened.WithLabelValues("2+")); got != 1 {
		t.Fatalf("attempt=2+ counter = %v, want 1", got)
	}
}

func TestVerificationGateResults_TracksGateAndResultLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)
	t.Cleanup(VerificationGateResults.Reset)

	VerificationGateResults.WithLabelValues("policy", "pass").Inc()
	VerificationGateResults.WithLabelValues("policy", "fail").Inc()
	VerificationGateResults.WithLabelValues("lint", "pass").Inc()

	if got := testutil.ToFloat64(VerificationGateResults.WithLabelValues("policy", "pass")); got != 1 {
		t.Fatalf("policy/pass counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(VerificationGateResults.WithLabelValues("policy", "fail")); got != 1 {
		t.Fatalf("policy/fail counter = %v, want 1", got)
	}
}
