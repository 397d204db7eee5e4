// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kshetrajna12/kavi/internal/classifier"
	"github.com/kshetrajna12/kavi/internal/packet"
)

// Engine combines the two research layers from SPEC_FULL.md §4.9:
// deterministic packet enrichment (always runs) and an optional,
// bounded LLM advisory pass (degrades gracefully on any gateway
// failure), ported from advise_retry and _check_escalation_triggers.
type Engine struct {
	LLM                LLMClient
	EscalatingKeywords []string
	Params             GenerationParams
}

// NewEngine constructs a retry Engine. llm may be nil — the engine then
// always skips the advisory layer and marks the gateway unavailable,
// which in turn forces the AMBIGUOUS escalation trigger.
func NewEngine(llm LLMClient) *Engine {
	return &Engine{LLM: llm, EscalatingKeywords: classifier.DefaultEscalatingKeywords}
}

// Request carries everything one retry pass needs.
type Request struct {
	OriginalPacket    string
	Analysis          classifier.FailureAnalysis
	ResearchNote      string
	PriorFailedBuilds int
}

// Result is the retry engine's output: the packet to hand to the next
// build attempt, plus any escalation triggers that must gate human
// review before that attempt opens.
type Result struct {
	EnrichedPacket     string
	Advisory           string
	GatewayUnavailable bool
	Triggers           []classifier.EscalationTrigger
}

// RequiresApproval reports whether any trigger fired.
func (r Result) RequiresApproval() bool { return len(r.Triggers) > 0 }

// Retry runs both research layers and evaluates escalation triggers.
func (e *Engine) Retry(ctx context.Context, req Request) Result {
	advisory, gatewayUnavailable := e.adviseLLM(ctx, req)
	enriched := packet.Enrich(req.OriginalPacket, req.Analysis, req.ResearchNote, advisory)

	triggers := classifier.CheckEscalationTriggers(
		req.Analysis,
		req.PriorFailedBuilds,
		req.OriginalPacket,
		enriched,
		e.EscalatingKeywords,
		gatewayUnavailable,
	)

	return Result{
		EnrichedPacket:     enriched,
		Advisory:           advisory,
		GatewayUnavailable: gatewayUnavailable,
		Triggers:           triggers,
	}
}

// adviseLLM issues the bounded advisory prompt, ported from
// advise_retry's template. Any failure — nil client, gateway error,
// empty response — degrades to an empty advisory rather than aborting
// the retry.
func (e *Engine) adviseLLM(ctx context.Context, req Request) (string, bool) {
	if e.LLM == nil {
		return "", true
	}

	excerpt := req.Analysis.LogExcerpt
	if len(excerpt) > 1500 {
		excerpt = excerpt[:1500]
	}

	var facts strings.Builder
	for _, f := range req.Analysis.Facts {
		facts.WriteString("- " + f + "\n")
	}

	prompt := fmt.Sprintf(`You are a build system assistant. A skill build attempt failed.

## Failure Classification
- **Kind:** %s
- **Attempt:** %d

## Facts
%s

## Log Excerpt
%s

## Original BUILD_PACKET
%s

## Task
Propose a corrected BUILD_PACKET that addresses the failure. Output ONLY the corrected
BUILD_PACKET content (markdown), nothing else. Keep the same structure but fix the
instructions to avoid the failure. Do NOT widen permissions, add secrets, or change
the side effect class.`, req.Analysis.Kind, req.Analysis.AttemptNumber, strings.TrimRight(facts.String(), "\n"),
		excerpt, req.OriginalPacket)

	advisory, err := e.LLM.Generate(ctx, prompt, e.Params)
	if err != nil {
		slog.Warn("retry advisory gateway unavailable, degrading to deterministic packet", "error", err)
		return "", true
	}
	if strings.TrimSpace(advisory) == "" {
		return "", true
	}
	return advisory, false
}
