// Package api provides the HTTP surface for DraftLoop.
//
// It exposes RESTful endpoints for starting refinement workflows, fetching
// session state, injecting human review feedback and rendering previews. The
// API integrates with the flow, store and genai modules.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DraftLoop/DraftLoop/internal/flow"
	"github.com/DraftLoop/DraftLoop/internal/genai"
	"github.com/DraftLoop/DraftLoop/internal/models"
	"github.com/DraftLoop/DraftLoop/internal/recovery"
	"github.com/DraftLoop/DraftLoop/internal/scheduler"
	"github.com/DraftLoop/DraftLoop/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// DefaultShutdownTimeout bounds graceful shutdown on SIGINT/SIGTERM.
const DefaultShutdownTimeout = 10 * time.Second

// MaintenanceCron is the schedule for the stalled-session sweep.
const MaintenanceCron = "0 * * * *"

// StalledReviewAge is how long a session may sit in human review before the
// sweep reports it as stalled.
const StalledReviewAge = 24 * time.Hour

// Opts holds configuration for the API server.
type Opts struct {
	Addr          string
	DefaultPolicy models.Policy
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr overrides the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithDefaultPolicy sets the policy applied to sessions that do not override
// it per request.
func WithDefaultPolicy(policy models.Policy) Option {
	return func(o *Opts) { o.DefaultPolicy = policy }
}

// Server wires the workflow controller to the HTTP handlers.
type Server struct {
	controller    *flow.Controller
	st            store.Store
	defaultPolicy models.Policy
	addr          string
}

// NewServer creates an API server around an already constructed store and
// controller. Most callers use Run instead; this constructor exists for
// tests.
func NewServer(st store.Store, controller *flow.Controller, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	policy := cfg.DefaultPolicy
	policy.ApplyDefaults()

	return &Server{
		controller:    controller,
		st:            st,
		defaultPolicy: policy,
		addr:          cfg.Addr,
	}
}

// Run builds the modules from their options, recovers interrupted sessions
// and serves the API until the process is signalled to stop.
func Run(storeOpts []store.Option, genaiOpts []genai.Option, apiOpts []Option) error {
	st, err := buildStore(storeOpts)
	if err != nil {
		return err
	}
	defer st.Close()

	genaiClient, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize genai client: %w", err)
	}

	controller := flow.NewController(st, genaiClient)
	server := NewServer(st, controller, apiOpts...)

	rm := recovery.NewManager(st)
	rm.Register(recovery.NewSessionRecovery())
	if err := rm.RecoverAll(context.Background()); err != nil {
		slog.Warn("api.Run: session recovery reported errors", "error", err)
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob(MaintenanceCron, func() { sweepStalledSessions(st) }); err != nil {
		return fmt.Errorf("failed to schedule session sweep: %w", err)
	}

	return server.serve()
}

// sweepStalledSessions logs sessions that have been waiting on a human
// decision for longer than StalledReviewAge. The sweep never mutates state;
// the decision still belongs to the reviewer.
func sweepStalledSessions(st store.Store) {
	states, err := st.ListIncompleteWorkflowStates()
	if err != nil {
		slog.Error("api.sweepStalledSessions: failed to list sessions", "error", err)
		return
	}

	stalled := 0
	cutoff := time.Now().Add(-StalledReviewAge)
	for i := range states {
		state := &states[i]
		if state.Stage == models.StageHumanReview && state.UpdatedAt.Before(cutoff) {
			stalled++
			slog.Warn("api.sweepStalledSessions: session awaiting review",
				"sessionID", state.SessionID, "since", state.UpdatedAt, "iterations", state.IterationCount)
		}
	}
	slog.Info("api.sweepStalledSessions: sweep complete", "incomplete", len(states), "stalledReviews", stalled)
}

// buildStore selects a backend from the configured DSN: in-memory when none
// is set, otherwise SQLite or PostgreSQL by DSN shape.
func buildStore(storeOpts []store.Option) (store.Store, error) {
	var cfg store.Opts
	for _, opt := range storeOpts {
		opt(&cfg)
	}

	if cfg.DSN == "" {
		slog.Info("api.buildStore: no DSN configured, using in-memory store")
		return store.NewInMemoryStore(), nil
	}

	switch store.DetectDSNType(cfg.DSN) {
	case "postgres":
		slog.Info("api.buildStore: using PostgreSQL store")
		st, err := store.NewPostgresStore(storeOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL store: %w", err)
		}
		return st, nil
	default:
		slog.Info("api.buildStore: using SQLite store", "path", cfg.DSN)
		st, err := store.NewSQLiteStore(storeOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
		}
		return st, nil
	}
}

// Handler returns the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/workflows", s.workflowsHandler)
	mux.HandleFunc("/workflows/", s.workflowHandler)
	return mux
}

// serve runs the HTTP server until SIGINT or SIGTERM, then drains in-flight
// requests before returning.
func (s *Server) serve() error {
	httpServer := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api.Server.serve: DraftLoop API listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("API server failed: %w", err)
	case sig := <-sigCh:
		slog.Info("api.Server.serve: shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("API server shutdown failed: %w", err)
	}
	return nil
}
