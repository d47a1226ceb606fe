// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command advisor starts the AleutianCare conversation advisor server.
//
// The advisor fills slots from free-text parent questions, routes the
// conversation to a knowledge domain, asks targeted follow-up questions,
// and generates an answer once the domain's required details are known.
//
// Usage:
//
//	go run ./cmd/advisor
//	go run ./cmd/advisor -port 9090
//	go run ./cmd/advisor -patterns ./patterns.yaml -profiles ./profiles.yaml
//
// With answer generation:
//
//	ADVISOR_LLM_API_KEY=sk-... go run ./cmd/advisor
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/advisor/health
//
//	# Chat turn (omit session_id to start a conversation)
//	curl -X POST http://localhost:8080/v1/advisor/chat \
//	  -H "Content-Type: application/json" \
//	  -d '{"message": "I need a stroller for my 6 month old"}'
//
//	# Inspect gathered context
//	curl http://localhost:8080/v1/advisor/sessions/<id>/context
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianCare/services/advisor"
	"github.com/AleutianAI/AleutianCare/services/advisor/config"
	"github.com/AleutianAI/AleutianCare/services/advisor/engine"
	"github.com/AleutianAI/AleutianCare/services/advisor/generation"
	"github.com/AleutianAI/AleutianCare/services/advisor/session"
	badgerstore "github.com/AleutianAI/AleutianCare/services/advisor/storage/badger"
)

// evictionSweepInterval is how often expired sessions are purged from
// the store. Badger TTL already drops them eventually; the sweep keeps
// snapshots and metrics honest in between.
const evictionSweepInterval = 10 * time.Minute

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	patternsPath := flag.String("patterns", "", "Slot pattern YAML (empty uses embedded defaults)")
	profilesPath := flag.String("profiles", "", "Domain profile YAML (empty uses embedded defaults)")
	sessionTTL := flag.Duration("session-ttl", engine.DefaultSessionTTL, "Idle session lifetime")
	flag.Parse()

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// W3C TraceContext propagation so trace ids flow from callers
	// through the handlers.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	bundle, err := config.LoadBundleFromFiles(*patternsPath, *profilesPath)
	if err != nil {
		slog.Error("Failed to load advisor configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store, db := openSessionStore(*sessionTTL)

	eng, err := engine.NewEngine(bundle, store, *sessionTTL, slog.Default())
	if err != nil {
		slog.Error("Failed to create conversation engine", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Answer generation is optional. Without an API key the service
	// still runs the full slot-filling flow and returns structured
	// results.
	var generator generation.Generator
	if client, err := generation.NewChatClient(); err != nil {
		slog.Warn("Answer generation disabled", slog.String("reason", err.Error()))
	} else {
		generator = client
	}

	svc, err := advisor.NewService(eng, generator, slog.Default())
	if err != nil {
		slog.Error("Failed to create advisor service", slog.String("error", err.Error()))
		os.Exit(1)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("aleutian-advisor"))
	if *debug {
		router.Use(gin.Logger())
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	advisor.RegisterRoutes(v1, advisor.NewHandlers(svc), advisor.NewWSHandler(svc, nil, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// Hot-reload pattern and profile YAML edits into the running
	// engine. With no file paths there is nothing to watch and the
	// goroutine just waits for shutdown.
	group.Go(func() error {
		return config.WatchBundle(groupCtx, *patternsPath, *profilesPath, eng.SwapBundle)
	})

	group.Go(func() error {
		runEvictionSweep(groupCtx, store, *sessionTTL)
		return nil
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: router,
	}
	group.Go(func() error {
		slog.Info("Starting AleutianCare advisor server", slog.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		slog.Info("Shutting down advisor server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	printBanner(*port, generator != nil)

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Server exited with error", slog.String("error", err.Error()))
	}

	if err := store.Close(); err != nil {
		slog.Warn("Failed to close session store", slog.String("error", err.Error()))
	}
	if db != nil {
		if err := db.Close(); err != nil {
			slog.Warn("Failed to close session BadgerDB", slog.String("error", err.Error()))
		}
	}
}

// openSessionStore opens the BadgerDB-backed session store, degrading
// to in-memory sessions when the database is unavailable. The returned
// *badgerstore.DB is nil in the in-memory case.
func openSessionStore(ttl time.Duration) (engine.SessionStore, *badgerstore.DB) {
	dir := os.Getenv("ADVISOR_SESSION_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			dir = home + "/.aleutian/care/sessions"
		}
	}
	if dir == "" {
		slog.Warn("No session directory available, sessions are in-memory only")
		return engine.NewMemorySessionStore(), nil
	}

	cfg := badgerstore.DefaultConfig()
	cfg.Path = dir
	db, err := badgerstore.OpenDB(cfg)
	if err != nil {
		slog.Warn("Session BadgerDB unavailable, sessions are in-memory only",
			slog.String("path", dir),
			slog.String("error", err.Error()),
		)
		return engine.NewMemorySessionStore(), nil
	}

	store, err := session.NewBadgerSessionStore(db, ttl, slog.Default())
	if err != nil {
		slog.Warn("Session store setup failed, sessions are in-memory only",
			slog.String("error", err.Error()),
		)
		if closeErr := db.Close(); closeErr != nil {
			slog.Warn("Failed to close session BadgerDB", slog.String("error", closeErr.Error()))
		}
		return engine.NewMemorySessionStore(), nil
	}

	slog.Info("Session BadgerDB opened", slog.String("path", dir))
	return store, db
}

// runEvictionSweep periodically deletes sessions past their TTL.
func runEvictionSweep(ctx context.Context, store engine.SessionStore, ttl time.Duration) {
	ticker := time.NewTicker(evictionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ids, err := store.ListExpired(ctx, ttl)
		if err != nil {
			slog.Warn("Expired session scan failed", slog.String("error", err.Error()))
			continue
		}
		for _, id := range ids {
			if err := store.Delete(ctx, id); err != nil {
				slog.Warn("Expired session eviction failed",
					slog.String("session_id", id),
					slog.String("error", err.Error()),
				)
			}
		}
		if len(ids) > 0 {
			slog.Info("Evicted expired sessions", slog.Int("count", len(ids)))
		}
	}
}

func printBanner(port int, generationEnabled bool) {
	genStatus := "DISABLED (set ADVISOR_LLM_API_KEY to enable)"
	if generationEnabled {
		genStatus = "ENABLED"
	}

	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                   ALEUTIANCARE ADVISOR SERVER                     ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Slot-filling parenting advisor with domain routing.              ║
║  Answer Generation: %-45s ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                              │  ║
║  │ curl http://localhost:%d/v1/advisor/health             │  ║
║  │                                                             │  ║
║  │ # Start a conversation                                      │  ║
║  │ curl -X POST http://localhost:%d/v1/advisor/chat \     │  ║
║  │   -H "Content-Type: application/json" \                     │  ║
║  │   -d '{"message": "stroller for my 6 month old"}'           │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Endpoints:                                                       ║
║  ├── Chat: POST /v1/advisor/chat, GET /v1/advisor/ws              ║
║  ├── Sessions: POST /:id/reset, GET /:id/context                  ║
║  └── Ops: GET /v1/advisor/health, GET /metrics                    ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, genStatus, port, port)
}
