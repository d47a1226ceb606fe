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
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// =============================================================================
// WebSocket Chat
// =============================================================================

const (
	wsWriteTimeout = 10 * time.Second

	// wsIdleTimeout closes connections with no inbound message. Chat
	// sessions are short lived; the 24h session state survives the
	// socket regardless.
	wsIdleTimeout = 10 * time.Minute
)

// wsInbound is one client message on the socket.
type wsInbound struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// wsOutbound is one server message on the socket. Exactly one of
// ChatResponse fields or Error is populated.
type wsOutbound struct {
	ChatResponse
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

// WSHandler serves the bidirectional chat stream.
//
// Thread Safety: Each connection is handled by one goroutine; the
// underlying Service is safe for concurrent use across connections.
type WSHandler struct {
	svc      *Service
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWSHandler creates the WebSocket chat handler.
//
// Inputs:
//
//	svc - The advisor service. Must not be nil.
//	checkOrigin - Origin policy. Nil allows all origins; production
//	              deployments should pass a real check.
func NewWSHandler(svc *Service, checkOrigin func(r *http.Request) bool, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &WSHandler{
		svc: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		logger: logger,
	}
}

// HandleWS upgrades the connection and runs the chat loop.
//
// Description:
//
//	Each inbound frame is a JSON wsInbound. The first frame may omit
//	session_id; the minted id is carried on every outbound frame and
//	reused for the rest of the connection, so clients can simply echo
//	nothing and stay in one conversation.
func (h *WSHandler) HandleWS(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleWS")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	connSessionID := c.Query("session_id")
	if connSessionID == "" {
		connSessionID = uuid.NewString()
	}
	logger.Info("websocket chat opened", slog.String("session_id", connSessionID))

	for {
		if err := conn.SetReadDeadline(time.Now().Add(wsIdleTimeout)); err != nil {
			logger.Debug("setting read deadline failed", slog.String("error", err.Error()))
			return
		}

		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket read error", slog.String("error", err.Error()))
			}
			return
		}

		sessionID := in.SessionID
		if sessionID == "" {
			sessionID = connSessionID
		}

		var out wsOutbound
		if in.Message == "" {
			out = wsOutbound{
				ChatResponse: ChatResponse{SessionID: sessionID},
				Error:        "message is required",
				Code:         "INVALID_REQUEST",
			}
		} else {
			outcome, err := h.svc.Chat(c.Request.Context(), sessionID, in.Message)
			if err != nil {
				logger.Error("chat turn failed",
					slog.String("session_id", sessionID),
					slog.String("error", err.Error()),
				)
				out = wsOutbound{
					ChatResponse: ChatResponse{SessionID: sessionID},
					Error:        "failed to process message",
					Code:         "TURN_FAILED",
				}
			} else {
				out = wsOutbound{ChatResponse: chatOutcomeToResponse(outcome)}
				connSessionID = outcome.Result.SessionID
			}
		}

		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			logger.Debug("setting write deadline failed", slog.String("error", err.Error()))
			return
		}
		if err := conn.WriteJSON(out); err != nil {
			logger.Warn("websocket write error", slog.String("error", err.Error()))
			return
		}
	}
}
