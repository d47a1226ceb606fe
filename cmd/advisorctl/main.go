// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command advisorctl is the terminal client for the advisor server.
//
// Usage:
//
//	advisorctl ask "stroller for my 6 month old, budget $500"
//	advisorctl chat
//	advisorctl chat --resume <session-id>
//	advisorctl context <session-id>
//	advisorctl reset <session-id>
//
// The server address defaults to http://localhost:8080 and can be
// overridden with ALEUTIAN_ADVISOR_URL.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
)

var resumeSessionID string

func main() {
	rootCmd := &cobra.Command{
		Use:   "advisorctl",
		Short: "Terminal client for the AleutianCare advisor",
	}

	askCmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a one-shot question (no follow-up loop)",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAskCommand,
	}

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Run:   runChatCommand,
	}
	chatCmd.Flags().StringVar(&resumeSessionID, "resume", "", "Resume an existing session by id")

	contextCmd := &cobra.Command{
		Use:   "context <session-id>",
		Short: "Show the gathered context for a session",
		Args:  cobra.ExactArgs(1),
		Run:   runContextCommand,
	}

	resetCmd := &cobra.Command{
		Use:   "reset <session-id>",
		Short: "Clear a session's conversational context",
		Args:  cobra.ExactArgs(1),
		Run:   runResetCommand,
	}

	rootCmd.AddCommand(askCmd, chatCmd, contextCmd, resetCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// getAdvisorBaseURL resolves the server address.
func getAdvisorBaseURL() string {
	if url := os.Getenv("ALEUTIAN_ADVISOR_URL"); url != "" {
		return url
	}
	return "http://localhost:8080"
}

func printUnreachableHint(baseURL string, err error) {
	fmt.Fprintf(os.Stderr, "Error: advisor server unavailable at %s\n", baseURL)
	fmt.Fprintf(os.Stderr, "Start it with: ./advisor\n")
	fmt.Fprintf(os.Stderr, "Or set ALEUTIAN_ADVISOR_URL to override the default address.\n")
	log.Fatalf("connection failed: %v", err)
}
