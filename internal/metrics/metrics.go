// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metrics exposes the Forge Core's Prometheus counters and
// histograms, grounded on the teacher's client_golang usage pattern:
// package-level collectors registered once, incremented from call
// sites rather than threaded through as dependencies.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// BuildsOpened counts sandbox build attempts started, by attempt
	// number bucket ("1", "2+").
	BuildsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_builds_opened_total",
			Help: "Number of sandbox build attempts opened.",
		},
		[]string{"attempt"},
	)

	// BuildsFinished counts completed build attempts by outcome.
	BuildsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_builds_finished_total",
			Help: "Number of sandbox build attempts finished, by outcome.",
		},
		[]string{"status"},
	)

	// VerificationGateResults counts each gate's pass/fail outcome.
	VerificationGateResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_verification_gate_results_total",
			Help: "Verification battery gate outcomes, by gate and result.",
		},
		[]string{"gate", "result"},
	)

	// Promotions counts VERIFIED -> TRUSTED transitions.
	Promotions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_promotions_total",
			Help: "Number of proposals promoted to TRUSTED.",
		},
		[]string{"result"},
	)

	// EscalationTriggers counts retry-engine escalation triggers fired.
	EscalationTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_escalation_triggers_total",
			Help: "Escalation triggers fired by the retry engine, by kind.",
		},
		[]string{"trigger"},
	)

	// BuildDuration observes sandbox build wall-clock time.
	BuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forge_build_duration_seconds",
			Help:    "Sandbox build wall-clock duration.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Register adds every collector to reg. Call once at process startup;
// tests that construct fresh registries can call it again against a
// throwaway prometheus.Registry.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(BuildsOpened, BuildsFinished, VerificationGateResults, Promotions, EscalationTriggers, BuildDuration)
}
