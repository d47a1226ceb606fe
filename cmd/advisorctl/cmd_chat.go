// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// chatRequest is the payload for POST /v1/advisor/chat.
type chatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// chatResponse mirrors the server's chat response.
type chatResponse struct {
	SessionID       string                 `json:"session_id"`
	Turn            int                    `json:"turn"`
	Domain          string                 `json:"domain"`
	Action          string                 `json:"action"`
	Answer          string                 `json:"answer,omitempty"`
	FollowUpSlot    string                 `json:"follow_up_slot,omitempty"`
	GatheredSlots   map[string]slotValue   `json:"gathered_slots,omitempty"`
	MissingRequired []string               `json:"missing_required,omitempty"`
	Degraded        bool                   `json:"degraded,omitempty"`
	Error           string                 `json:"error,omitempty"`
}

// slotValue mirrors the server's slot value wire shape.
type slotValue struct {
	Kind     string  `json:"kind"`
	Number   float64 `json:"number,omitempty"`
	Unit     string  `json:"unit,omitempty"`
	Currency string  `json:"currency,omitempty"`
	Text     string  `json:"text,omitempty"`
}

func (v slotValue) display() string {
	switch v.Kind {
	case "number":
		if v.Unit != "" {
			return fmt.Sprintf("%g %s", v.Number, v.Unit)
		}
		return fmt.Sprintf("%g", v.Number)
	case "currency":
		return fmt.Sprintf("%g %s", v.Number, v.Currency)
	default:
		return v.Text
	}
}

func sendChatTurn(baseURL, sessionID, message string) (*chatResponse, error) {
	payload, err := json.Marshal(chatRequest{SessionID: sessionID, Message: message})
	if err != nil {
		return nil, fmt.Errorf("failed to create request body: %w", err)
	}

	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Post(baseURL+"/v1/advisor/chat", "application/json", bytes.NewBuffer(payload))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("advisor returned an error (status %d): %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &parsed, nil
}

func printTurn(resp *chatResponse) {
	fmt.Printf("\n%s\n", resp.Answer)
	if resp.Degraded && resp.Action == "ready" {
		fmt.Println("(generation unavailable; gathered details shown below)")
		printGathered(resp.GatheredSlots)
	}
}

func printGathered(slots map[string]slotValue) {
	if len(slots) == 0 {
		fmt.Println("(nothing gathered yet)")
		return
	}
	names := make([]string, 0, len(slots))
	for name := range slots {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %s: %s\n", name, slots[name].display())
	}
}

func runAskCommand(_ *cobra.Command, args []string) {
	baseURL := getAdvisorBaseURL()
	question := strings.Join(args, " ")
	fmt.Printf("Asking: %s\n", question)
	fmt.Println("---")

	resp, err := sendChatTurn(baseURL, "", question)
	if err != nil {
		printUnreachableHint(baseURL, err)
	}

	printTurn(resp)
	if resp.Action == "ask_followup" {
		fmt.Printf("\n(The advisor wants more details. Continue with: advisorctl chat --resume %s)\n", resp.SessionID)
	}
}

func runChatCommand(cmd *cobra.Command, args []string) {
	if len(args) > 0 {
		fmt.Printf("Warning: Unexpected arguments ignored: %v\n", args)
		fmt.Println("Use 'advisorctl chat --help' to see available flags.")
	}

	baseURL := getAdvisorBaseURL()
	sessionID := resumeSessionID
	if sessionID != "" {
		fmt.Printf("Resuming session %s\n", sessionID)
	}

	fmt.Println("Chat with the advisor. Type 'exit' to stop.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		message := strings.TrimSpace(scanner.Text())
		if message == "" {
			continue
		}
		if message == "exit" || message == "quit" || message == "q" {
			fmt.Println("Goodbye.")
			break
		}

		resp, err := sendChatTurn(baseURL, sessionID, message)
		if err != nil {
			printUnreachableHint(baseURL, err)
		}
		sessionID = resp.SessionID
		printTurn(resp)
	}

	if sessionID != "" {
		fmt.Printf("\n[session: %s]\n", sessionID)
	}
}

func runContextCommand(_ *cobra.Command, args []string) {
	baseURL := getAdvisorBaseURL()
	sessionID := args[0]

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(fmt.Sprintf("%s/v1/advisor/sessions/%s/context", baseURL, sessionID))
	if err != nil {
		printUnreachableHint(baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("failed to read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("advisor returned an error (status %d): %s", resp.StatusCode, string(body))
	}

	var snapshot struct {
		Domain string `json:"domain"`
		Slots  map[string]struct {
			Value     slotValue `json:"value"`
			Relevance float64   `json:"relevance"`
		} `json:"slots"`
	}
	if err := json.Unmarshal(body, &snapshot); err != nil {
		log.Fatalf("failed to parse snapshot: %v", err)
	}

	fmt.Printf("Session: %s\n", sessionID)
	fmt.Printf("Domain:  %s\n", snapshot.Domain)
	fmt.Println("Gathered:")
	if len(snapshot.Slots) == 0 {
		fmt.Println("(nothing gathered yet)")
		return
	}
	names := make([]string, 0, len(snapshot.Slots))
	for name := range snapshot.Slots {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := snapshot.Slots[name]
		fmt.Printf("  %s: %s (relevance %.2f)\n", name, s.Value.display(), s.Relevance)
	}
}

func runResetCommand(_ *cobra.Command, args []string) {
	baseURL := getAdvisorBaseURL()
	sessionID := args[0]

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(fmt.Sprintf("%s/v1/advisor/sessions/%s/reset", baseURL, sessionID), "application/json", nil)
	if err != nil {
		printUnreachableHint(baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("failed to read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("advisor returned an error (status %d): %s", resp.StatusCode, string(body))
	}
	fmt.Printf("Session %s reset.\n", sessionID)
}
