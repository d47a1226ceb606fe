// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package advisor is the HTTP/WebSocket hosting layer around the
// conversation engine: request validation, answer generation, and
// transport. The engine itself never imports this package.
package advisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianCare/services/advisor/engine"
	"github.com/AleutianAI/AleutianCare/services/advisor/generation"
)

var serviceTracer = otel.Tracer("aleutian.advisor.service")

// =============================================================================
// Service
// =============================================================================

// Service wires the engine to the answer generator for the transport
// handlers.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	engine    *engine.Engine
	generator generation.Generator
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewService creates the advisor service.
//
// Inputs:
//
//	eng - The conversation engine. Must not be nil.
//	gen - Answer generator. May be nil; ready turns then return with no
//	      answer text (structured result only).
//	logger - Structured logger. Nil means slog.Default().
func NewService(eng *engine.Engine, gen generation.Generator, logger *slog.Logger) (*Service, error) {
	if eng == nil {
		return nil, fmt.Errorf("NewService: engine must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		engine:    eng,
		generator: gen,
		validate:  validator.New(),
		logger:    logger,
	}, nil
}

// Engine exposes the underlying engine for config hot-swap wiring.
func (s *Service) Engine() *engine.Engine {
	return s.engine
}

// ChatOutcome is the service-level result of one chat message.
type ChatOutcome struct {
	// Result is the engine's structured outcome.
	Result *engine.TurnResult

	// Answer is generated text for ready turns, or the follow-up
	// question for ask turns. Empty when generation is unavailable.
	Answer string

	// Degraded is set when answer generation failed and the caller got
	// the structured result only.
	Degraded bool
}

// Chat runs one message through the engine and, when the engine is
// ready to answer, through the generator.
//
// Description:
//
//	An empty session id mints a fresh UUID so stateless clients can
//	start a conversation with a bare message. Generation failures are
//	logged and degrade to the structured result; they never fail the
//	turn.
//
// Inputs:
//
//	ctx - Context for tracing, store, and generation calls.
//	sessionID - Session id; empty to start a new session.
//	message - User utterance. Must not be empty.
//
// Outputs:
//
//	*ChatOutcome - Turn result plus answer text.
//	error - Non-nil on engine failure or invalid input.
func (s *Service) Chat(ctx context.Context, sessionID, message string) (*ChatOutcome, error) {
	ctx, span := serviceTracer.Start(ctx, "advisor.Service.Chat")
	defer span.End()

	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	result, err := s.engine.ProcessTurn(ctx, sessionID, message)
	if err != nil {
		return nil, fmt.Errorf("Chat: %w", err)
	}

	out := &ChatOutcome{Result: result}
	if result.Action == engine.ActionAskFollowUp {
		out.Answer = result.Question
		return out, nil
	}

	if s.generator == nil {
		out.Degraded = true
		return out, nil
	}

	history, err := s.engine.History(ctx, sessionID)
	if err != nil {
		s.logger.Warn("history unavailable for generation",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}

	start := time.Now()
	answer, err := s.generator.Generate(ctx, result, history)
	if err != nil {
		s.logger.Error("answer generation failed, degrading to structured result",
			slog.String("session_id", sessionID),
			slog.String("domain", result.Domain),
			slog.String("error", err.Error()),
		)
		out.Degraded = true
		return out, nil
	}

	s.logger.Debug("answer generated",
		slog.String("session_id", sessionID),
		slog.Duration("took", time.Since(start)),
	)
	out.Answer = answer
	return out, nil
}

// Reset clears a session's conversational context.
func (s *Service) Reset(ctx context.Context, sessionID string) error {
	return s.engine.ResetSession(ctx, sessionID)
}

// Context returns a session's current slot and domain snapshot.
func (s *Service) Context(ctx context.Context, sessionID string) (*engine.ContextSnapshot, error) {
	return s.engine.GetContext(ctx, sessionID)
}
