// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retry implements the retry engine (SPEC_FULL.md §4.9):
// deterministic packet enrichment plus an optional, bounded LLM
// advisory pass. The LLMClient split is grounded on the teacher's
// services/llm/client.go and services/llm/openai_llm.go — same
// interface shape, same env-var/secrets-file resolution — adapted so
// the advisory prompt is retry-engine specific rather than general
// purpose.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// GenerationParams mirrors the teacher's LLM parameter struct.
type GenerationParams struct {
	Temperature *float32
	TopP        *float32
	MaxTokens   *int
	Stop        []string
}

// LLMClient is the advisory backend boundary — injected so the retry
// engine degrades deterministically in tests without a live API key.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// OpenAIClient implements LLMClient against the OpenAI chat completions
// API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient resolves credentials the way the teacher's
// NewOpenAIClient does: OPENAI_API_KEY env var first, then the
// /run/secrets/openai_api_key mount used by its container deployment.
func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	model := os.Getenv("OPENAI_MODEL")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		raw, err := os.ReadFile(secretPath)
		if err != nil {
			slog.Error("OPENAI_API_KEY not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("retry: OPENAI_API_KEY environment variable not set")
		}
		apiKey = strings.TrimSpace(string(raw))
		slog.Info("read OpenAI API key from secrets mount")
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting", "model", model)
	}
	return &OpenAIClient{client: openai.NewClient(apiKey), model: model}, nil
}

// Generate issues one bounded chat completion for the retry advisory
// prompt.
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You are a build system assistant advising on a failed skill build."},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("retry: OpenAI call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("retry: OpenAI returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
