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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts all advisor endpoints on the given router group.
//
// Endpoints:
//
//	POST /advisor/chat                 - Process one chat message
//	GET  /advisor/ws                   - WebSocket chat stream
//	POST /advisor/sessions/:id/reset   - Clear a session's context
//	GET  /advisor/sessions/:id/context - Current slot and domain snapshot
//	GET  /advisor/health               - Liveness check
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers, ws *WSHandler) {
	advisor := rg.Group("/advisor")
	{
		advisor.POST("/chat", h.HandleChat)
		advisor.GET("/ws", ws.HandleWS)
		advisor.GET("/health", h.HandleHealth)

		sessions := advisor.Group("/sessions")
		{
			sessions.POST("/:id/reset", h.HandleResetSession)
			sessions.GET("/:id/context", h.HandleGetContext)
		}
	}
}
