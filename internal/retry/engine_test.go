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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kshetrajna12/kavi/internal/classifier"
)

type stubLLM struct {
	response string
	err      error
}

func (s *stubLLM) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	return s.response, s.err
}

func TestEngine_Retry_NilLLMDegradesToDeterministic(t *testing.T) {
	engine := NewEngine(nil)
	result := engine.Retry(context.Background(), Request{
		OriginalPacket: "## Task\noriginal packet\n",
		Analysis:       classifier.FailureAnalysis{Kind: classifier.VerifyLint, AttemptNumber: 1},
	})

	assert.True(t, result.GatewayUnavailable)
	assert.Empty(t, result.Advisory)
	assert.Contains(t, result.EnrichedPacket, "Previous Attempt")
	assert.NotContains(t, result.EnrichedPacket, "LLM Advisory")
}

func TestEngine_Retry_LLMErrorDegrades(t *testing.T) {
	engine := NewEngine(&stubLLM{err: errors.New("gateway timeout")})
	result := engine.Retry(context.Background(), Request{
		OriginalPacket: "original",
		Analysis:       classifier.FailureAnalysis{Kind: classifier.BuildError, AttemptNumber: 1},
	})

	assert.True(t, result.GatewayUnavailable)
	assert.Empty(t, result.Advisory)
}

func TestEngine_Retry_EmptyResponseDegrades(t *testing.T) {
	engine := NewEngine(&stubLLM{response: "   "})
	result := engine.Retry(context.Background(), Request{
		OriginalPacket: "original",
		Analysis:       classifier.FailureAnalysis{Kind: classifier.BuildError, AttemptNumber: 1},
	})

	assert.True(t, result.GatewayUnavailable)
}

func TestEngine_Retry_SuccessfulAdvisory(t *testing.T) {
	engine := NewEngine(&stubLLM{response: "use a narrower file write"})
	result := engine.Retry(context.Background(), Request{
		OriginalPacket: "original packet",
		Analysis:       classifier.FailureAnalysis{Kind: classifier.VerifyTest, AttemptNumber: 2},
	})

	require.False(t, result.GatewayUnavailable)
	assert.Equal(t, "use a narrower file write", result.Advisory)
	assert.Contains(t, result.EnrichedPacket, "LLM Advisory")
	assert.Contains(t, result.EnrichedPacket, "use a narrower file write")
}

func TestEngine_Retry_EscalatesOnRepeatedFailure(t *testing.T) {
	engine := NewEngine(&stubLLM{response: "advice"})
	result := engine.Retry(context.Background(), Request{
		OriginalPacket:    "original",
		Analysis:          classifier.FailureAnalysis{Kind: classifier.BuildError, AttemptNumber: 4},
		PriorFailedBuilds: 3,
	})

	assert.True(t, result.RequiresApproval())
	assert.Contains(t, result.Triggers, classifier.RepeatedFailure)
}

func TestEngine_Retry_EscalatesOnSecurityClass(t *testing.T) {
	engine := NewEngine(nil)
	result := engine.Retry(context.Background(), Request{
		OriginalPacket: "original",
		Analysis:       classifier.FailureAnalysis{Kind: classifier.VerifyPolicy, AttemptNumber: 1},
	})

	assert.Contains(t, result.Triggers, classifier.SecurityClass)
	// nil LLM also forces Ambiguous via GatewayUnavailable
	assert.Contains(t, result.Triggers, classifier.Ambiguous)
}

func TestEngine_Retry_CleanRunNoEscalation(t *testing.T) {
	// a long enough original packet keeps the enrichment's added lines
	// under the large-diff ratio threshold
	longOriginal := "# Build Packet: note\n\n## Task\nGenerate a skill.\n\n## Skill Specification\n" +
		"- Name: note\n- Description: writes a note\n- Side Effect Class: FILE_WRITE\n\n" +
		"## I/O Schema\n```json\n{}\n```\n\n## Requirements\n1. Create it\n2. Test it\n3. Validate it\n\n" +
		"## Constraints\n- Only touch allowed files\n- No forbidden imports\n"

	engine := NewEngine(&stubLLM{response: "advice"})
	result := engine.Retry(context.Background(), Request{
		OriginalPacket: longOriginal,
		Analysis:       classifier.FailureAnalysis{Kind: classifier.VerifyLint, AttemptNumber: 1},
	})

	assert.False(t, result.RequiresApproval())
}
