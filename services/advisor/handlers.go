// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package advisor

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianCare/services/advisor/engine"
)

// =============================================================================
// Request / Response Types
// =============================================================================

// ErrorResponse is the uniform error body for all advisor endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ChatRequest is the body for POST /advisor/chat.
type ChatRequest struct {
	// SessionID continues an existing conversation. Empty starts a new
	// session and the minted id comes back in the response.
	SessionID string `json:"session_id" validate:"omitempty,max=128"`

	// Message is the user's utterance.
	Message string `json:"message" validate:"required,max=4000"`
}

// ChatResponse is the body for a successful chat turn.
type ChatResponse struct {
	SessionID       string                      `json:"session_id"`
	Turn            int                         `json:"turn"`
	Domain          string                      `json:"domain"`
	Action          string                      `json:"action"`
	Answer          string                      `json:"answer,omitempty"`
	FollowUpSlot    string                      `json:"follow_up_slot,omitempty"`
	NewSlots        map[string]engine.SlotValue `json:"new_slots,omitempty"`
	GatheredSlots   map[string]engine.SlotValue `json:"gathered_slots,omitempty"`
	MissingRequired []string                    `json:"missing_required,omitempty"`
	Degraded        bool                        `json:"degraded,omitempty"`
}

// =============================================================================
// Handlers
// =============================================================================

// Handlers owns the gin handler methods for the advisor service.
type Handlers struct {
	svc *Service
}

// NewHandlers creates the handler set.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// getOrCreateRequestID returns the inbound X-Request-ID header or mints
// a new one so every log line for the request is correlatable.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

// chatOutcomeToResponse flattens a service outcome into the wire shape.
func chatOutcomeToResponse(out *ChatOutcome) ChatResponse {
	r := out.Result
	return ChatResponse{
		SessionID:       r.SessionID,
		Turn:            r.Turn,
		Domain:          r.Domain,
		Action:          string(r.Action),
		Answer:          out.Answer,
		FollowUpSlot:    r.FollowUpSlot,
		NewSlots:        r.NewSlots,
		GatheredSlots:   r.AllSlots,
		MissingRequired: r.MissingRequired,
		Degraded:        out.Degraded,
	}
}

// HandleChat processes one user message through the conversation engine.
//
// Description:
//
//	Validates the request, runs the turn, and returns either the
//	follow-up question or the generated answer. A missing session id
//	starts a new conversation.
func (h *Handlers) HandleChat(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleChat")

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if err := h.svc.validate.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request: " + err.Error(),
			Code:  "VALIDATION_FAILED",
		})
		return
	}

	out, err := h.svc.Chat(c.Request.Context(), req.SessionID, req.Message)
	if err != nil {
		logger.Error("chat turn failed",
			slog.String("session_id", req.SessionID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to process message",
			Code:  "TURN_FAILED",
		})
		return
	}

	logger.Info("chat turn processed",
		slog.String("session_id", out.Result.SessionID),
		slog.String("domain", out.Result.Domain),
		slog.String("action", string(out.Result.Action)),
		slog.Bool("degraded", out.Degraded),
	)
	c.JSON(http.StatusOK, chatOutcomeToResponse(out))
}

// HandleResetSession clears a session's conversational context.
//
// Description:
//
//	POST /advisor/sessions/:id/reset. Resetting an unknown session is a
//	no-op and still returns 200, matching the engine's semantics.
func (h *Handlers) HandleResetSession(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleResetSession")

	sessionID := c.Param("id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "session id is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	if err := h.svc.Reset(c.Request.Context(), sessionID); err != nil {
		logger.Error("session reset failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to reset session",
			Code:  "RESET_FAILED",
		})
		return
	}

	logger.Info("session reset", slog.String("session_id", sessionID))
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "status": "reset"})
}

// HandleGetContext returns a session's current slot and domain snapshot.
//
// Description:
//
//	GET /advisor/sessions/:id/context. An unknown session returns an
//	empty snapshot rather than 404 so clients can poll before the first
//	turn lands.
func (h *Handlers) HandleGetContext(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGetContext")

	sessionID := c.Param("id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "session id is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	snapshot, err := h.svc.Context(c.Request.Context(), sessionID)
	if err != nil {
		logger.Error("context lookup failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to load session context",
			Code:  "CONTEXT_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// HandleHealth reports liveness.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "advisor"})
}
