// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianCare/services/advisor/engine"
)

var generationTracer = otel.Tracer("aleutian.advisor.generation")

// =============================================================================
// Chat Completions Wire Types
// =============================================================================

const defaultChatBaseURL = "https://api.openai.com/v1/chat/completions"

// maxResponseBytes caps how much of a completion response is read.
const maxResponseBytes = 1 << 20

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_completion_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Choices []chatChoice `json:"choices"`
	Error   *chatError   `json:"error,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// =============================================================================
// Client Implementation
// =============================================================================

const systemPrompt = "You are a calm, practical parenting advisor. " +
	"Use the known details verbatim; never ask for information listed as known. " +
	"For anything that sounds like a medical emergency, tell the parent to contact emergency services first."

// ChatClient implements Generator against a chat-completions REST API
// using raw net/http.
//
// Thread Safety: Safe for concurrent use.
type ChatClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
	logger     *slog.Logger
}

// NewChatClientWithConfig creates a ChatClient with explicit
// configuration, useful for tests with a mock server.
func NewChatClientWithConfig(apiKey, model, baseURL string, logger *slog.Logger) *ChatClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		logger:     logger,
	}
}

// NewChatClient creates a ChatClient from environment variables.
//
// Description:
//
//	Reads ADVISOR_LLM_API_KEY, ADVISOR_LLM_MODEL, and
//	ADVISOR_LLM_BASE_URL. The model defaults to gpt-4o-mini and the
//	base URL to the OpenAI chat completions endpoint.
//
// Outputs:
//   - *ChatClient: The configured client.
//   - error: Non-nil if the API key is missing.
func NewChatClient() (*ChatClient, error) {
	apiKey := os.Getenv("ADVISOR_LLM_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("chat client: API key is missing (ADVISOR_LLM_API_KEY)")
	}
	model := os.Getenv("ADVISOR_LLM_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("ADVISOR_LLM_MODEL not set, defaulting to gpt-4o-mini")
	}
	baseURL := os.Getenv("ADVISOR_LLM_BASE_URL")
	if baseURL == "" {
		baseURL = defaultChatBaseURL
	}
	slog.Info("Initializing chat client", "model", model)
	return NewChatClientWithConfig(apiKey, model, baseURL, nil), nil
}

// Generate implements Generator.
//
// Description:
//
//	Renders the turn into a prompt, sends one chat completion request,
//	and strictly parses the structured answer out of the response text.
//
// Inputs:
//   - ctx: Context for cancellation and timeout.
//   - result: The processed turn. Must not be nil.
//   - history: Bounded conversation history. May be empty.
//
// Outputs:
//   - string: The answer text.
//   - error: Non-nil if the request or decode fails.
//
// Thread Safety: Safe for concurrent use.
func (c *ChatClient) Generate(ctx context.Context, result *engine.TurnResult, history []engine.Message) (string, error) {
	if result == nil {
		return "", fmt.Errorf("chat client: result must not be nil")
	}

	ctx, span := generationTracer.Start(ctx, "generation.ChatClient.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("model", c.model),
		attribute.String("domain", result.Domain),
	)

	temperature := float32(0.4)
	maxTokens := 600
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: BuildPrompt(result, history)},
		},
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("chat client: marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("chat client: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat client: sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("chat client: reading response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("chat client: decoding response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("chat client: API error (%s): %s", parsed.Error.Type, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat client: unexpected status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat client: response contained no choices")
	}

	answer := ParseAnswer(parsed.Choices[0].Message.Content)
	c.logger.Debug("answer generated",
		slog.String("domain", result.Domain),
		slog.Int("answer_len", len(answer)),
		slog.String("finish_reason", parsed.Choices[0].FinishReason),
	)
	return answer, nil
}
