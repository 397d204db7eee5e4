// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classifier implements the Forge Core's deterministic failure
// classifier and escalation-trigger evaluation. Grounded verbatim (in
// control flow) on original_source/src/kavi/forge/research.py's
// classify_failure and _check_escalation_triggers.
package classifier

import (
	"regexp"
	"strings"

	"github.com/kshetrajna12/kavi/internal/ledger"
)

// FailureKind enumerates the deterministic classification buckets.
type FailureKind string

const (
	GateViolation    FailureKind = "GATE_VIOLATION"
	Timeout          FailureKind = "TIMEOUT"
	BuildError       FailureKind = "BUILD_ERROR"
	VerifyLint       FailureKind = "VERIFY_LINT"
	VerifyTest       FailureKind = "VERIFY_TEST"
	VerifyPolicy     FailureKind = "VERIFY_POLICY"
	VerifyInvariant  FailureKind = "VERIFY_INVARIANT"
	Unknown          FailureKind = "UNKNOWN"
)

// logExcerptMax bounds the log excerpt kept on a FailureAnalysis, ported
// from the original's _LOG_EXCERPT_MAX.
const logExcerptMax = 2000

// FailureAnalysis is the classifier's pure-function output.
type FailureAnalysis struct {
	Kind          FailureKind
	Facts         []string
	LogExcerpt    string
	AttemptNumber int
	BuildID       string
}

func excerpt(text string) string {
	if len(text) <= logExcerptMax {
		return text
	}
	return text[:logExcerptMax] + "\n... (truncated)"
}

var (
	violationsRe     = regexp.MustCompile(`Violations:\s*\[([^\]]*)\]`)
	requiredMissingRe = regexp.MustCompile(`Required missing:\s*\[([^\]]*)\]`)
	exitCodeRe        = regexp.MustCompile(`Exit code:\s*(\d+)`)
)

// Classify maps a build's outcome, log, and (optional) verification
// record to a typed FailureAnalysis. Pure: identical inputs always
// produce an identical result.
func Classify(build *ledger.Build, buildLog string, verification *ledger.Verification) FailureAnalysis {
	base := FailureAnalysis{
		AttemptNumber: build.AttemptNumber,
		BuildID:       build.ID,
		LogExcerpt:    excerpt(buildLog),
	}

	if verification != nil && verification.Status == ledger.VerificationFailed {
		switch {
		case !verification.InvariantOK:
			base.Kind = VerifyInvariant
			base.Facts = []string{"Invariant check failed"}
			return base
		case !verification.PolicyOK:
			base.Kind = VerifyPolicy
			base.Facts = []string{"Policy scanner found violations"}
			return base
		case !verification.TestOK:
			base.Kind = VerifyTest
			base.Facts = []string{"unit test gate failed"}
			return base
		case !verification.LintOK || !verification.TypeCheckOK:
			base.Kind = VerifyLint
			if !verification.LintOK {
				base.Facts = append(base.Facts, "lint check failed")
			}
			if !verification.TypeCheckOK {
				base.Facts = append(base.Facts, "type check failed")
			}
			return base
		}
	}

	if build.Status == ledger.BuildFailed {
		summary := build.Summary
		logHead := buildLog
		if len(logHead) > 500 {
			logHead = logHead[:500]
		}

		if strings.Contains(summary, "Timeout") || strings.Contains(logHead, "TIMEOUT") {
			base.Kind = Timeout
			base.Facts = []string{"Build timed out: " + summary}
			return base
		}

		if strings.Contains(summary, "Diff gate") || strings.Contains(strings.ToLower(summary), "gate failed") {
			base.Kind = GateViolation
			if m := violationsRe.FindStringSubmatch(buildLog); m != nil {
				base.Facts = append(base.Facts, "Disallowed files: "+m[1])
			}
			if m := requiredMissingRe.FindStringSubmatch(buildLog); m != nil {
				base.Facts = append(base.Facts, "Missing files: "+m[1])
			}
			base.Facts = append(base.Facts, "Gate summary: "+summary)
			return base
		}

		base.Kind = BuildError
		base.Facts = []string{"Build failed: " + summary}
		if m := exitCodeRe.FindStringSubmatch(buildLog); m != nil {
			base.Facts = append(base.Facts, "Exit code: "+m[1])
		}
		return base
	}

	base.Kind = Unknown
	base.Facts = []string{"Could not determine failure cause"}
	return base
}

// EscalationTrigger is a condition requiring human approval before
// another build attempt may open.
type EscalationTrigger string

const (
	RepeatedFailure    EscalationTrigger = "REPEATED_FAILURE"
	PermissionWidening EscalationTrigger = "PERMISSION_WIDENING"
	SecurityClass      EscalationTrigger = "SECURITY_CLASS"
	LargeDiff          EscalationTrigger = "LARGE_DIFF"
	Ambiguous          EscalationTrigger = "AMBIGUOUS"
)

// DefaultEscalatingKeywords is the original system's keyword list for
// PERMISSION_WIDENING, per SPEC_FULL.md's resolution of the distilled
// spec's Open Question: configurable, defaulting to these four.
var DefaultEscalatingKeywords = []string{"network", "money", "messaging", "secret"}

// CheckEscalationTriggers evaluates every trigger condition from
// SPEC_FULL.md §4.8, ported from _check_escalation_triggers. priorFailed
// is the count of previously failed build attempts for the proposal;
// gatewayUnavailable reports whether the advisory LLM call degraded.
func CheckEscalationTriggers(
	analysis FailureAnalysis,
	priorFailed int,
	originalPacket, proposedPacket string,
	escalatingKeywords []string,
	gatewayUnavailable bool,
) []EscalationTrigger {
	var triggers []EscalationTrigger

	if priorFailed >= 3 {
		triggers = append(triggers, RepeatedFailure)
	}

	if analysis.Kind == VerifyPolicy || analysis.Kind == VerifyInvariant {
		triggers = append(triggers, SecurityClass)
	}

	if escalatingKeywords == nil {
		escalatingKeywords = DefaultEscalatingKeywords
	}
	origLower := strings.ToLower(originalPacket)
	propLower := strings.ToLower(proposedPacket)
	for _, kw := range escalatingKeywords {
		if strings.Contains(propLower, kw) && !strings.Contains(origLower, kw) {
			triggers = append(triggers, PermissionWidening)
			break
		}
	}

	if ratio := lineChangeRatio(originalPacket, proposedPacket); ratio > 0.5 {
		triggers = append(triggers, LargeDiff)
	}

	if analysis.Kind == Unknown || gatewayUnavailable {
		triggers = append(triggers, Ambiguous)
	}

	return triggers
}

// lineChangeRatio mirrors the original's positional-diff heuristic: count
// of lines that differ at the same index, plus the absolute length
// difference, divided by the original's line count.
func lineChangeRatio(original, proposed string) float64 {
	origLines := strings.Split(original, "\n")
	propLines := strings.Split(proposed, "\n")
	if len(origLines) == 0 || (len(origLines) == 1 && origLines[0] == "") {
		return 0
	}

	changed := 0
	n := len(origLines)
	if len(propLines) < n {
		n = len(propLines)
	}
	for i := 0; i < n; i++ {
		if origLines[i] != propLines[i] {
			changed++
		}
	}
	added := len(propLines) - len(origLines)
	if added < 0 {
		added = -added
	}
	return float64(changed+added) / float64(len(origLines))
}
