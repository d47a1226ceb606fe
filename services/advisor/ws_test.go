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
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianCare/services/advisor/engine"
)

func dialWS(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWSChatConversation(t *testing.T) {
	router := newTestRouter(t, &stubGenerator{answer: "A travel stroller works well."})
	server := httptest.NewServer(router)
	defer server.Close()

	conn := dialWS(t, server, "/api/v1/advisor/ws")

	if err := conn.WriteJSON(wsInbound{Message: "I need a stroller for my 6 month old"}); err != nil {
		t.Fatalf("writing first frame: %v", err)
	}
	var first wsOutbound
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("reading first frame: %v", err)
	}
	if first.Error != "" {
		t.Fatalf("unexpected error: %s", first.Error)
	}
	if first.SessionID == "" {
		t.Fatal("expected a minted session id on the first frame")
	}
	if first.Action != string(engine.ActionAskFollowUp) {
		t.Errorf("action = %q", first.Action)
	}

	// Second frame omits session_id; the connection keeps the session.
	if err := conn.WriteJSON(wsInbound{Message: "around $500"}); err != nil {
		t.Fatalf("writing second frame: %v", err)
	}
	var second wsOutbound
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("reading second frame: %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Errorf("session id changed: %q vs %q", second.SessionID, first.SessionID)
	}
	if second.Action != string(engine.ActionReady) {
		t.Errorf("action = %q", second.Action)
	}
	if second.Answer != "A travel stroller works well." {
		t.Errorf("answer = %q", second.Answer)
	}
}

func TestWSEmptyMessageError(t *testing.T) {
	router := newTestRouter(t, nil)
	server := httptest.NewServer(router)
	defer server.Close()

	conn := dialWS(t, server, "/api/v1/advisor/ws")

	if err := conn.WriteJSON(wsInbound{}); err != nil {
		t.Fatalf("writing frame: %v", err)
	}
	var out wsOutbound
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	if out.Code != "INVALID_REQUEST" {
		t.Errorf("code = %q", out.Code)
	}
}

func TestWSExplicitSessionID(t *testing.T) {
	router := newTestRouter(t, nil)
	server := httptest.NewServer(router)
	defer server.Close()

	conn := dialWS(t, server, "/api/v1/advisor/ws?session_id=ws-s1")

	if err := conn.WriteJSON(wsInbound{Message: "hello there"}); err != nil {
		t.Fatalf("writing frame: %v", err)
	}
	var out wsOutbound
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	if out.SessionID != "ws-s1" {
		t.Errorf("session id = %q, want the one from the query string", out.SessionID)
	}
}
