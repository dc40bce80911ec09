// Package server exposes oakd's two HTTP surfaces over one chi router: the
// inbound hook/OTLP surface agents' lifecycle events arrive on, and the
// outbound MCP-style tool-call surface agents query for context. Grounded
// on telnet2-opencode's internal/server package -- the chi Config/Server/New
// shape, middleware stack, and Start/Shutdown/Router lifecycle are adapted
// field-for-field from there.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dotcommander/oakd/internal/ingest"
	"github.com/dotcommander/oakd/internal/retrieval"
	"github.com/dotcommander/oakd/internal/vector"
	"github.com/dotcommander/oakd/pkg/memory"
)

// Config holds server configuration. Defaults mirror app.Settings's own
// defaults rather than inventing new ones, since Config is normally built
// straight from an app.Settings value by the serve command.
type Config struct {
	Addr         string
	BearerToken  string
	MachineID    string
	Version      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// RelevanceThreshold and PreviewChars configure the Retrieval Engine
	// this Server builds internally.
	RelevanceThreshold float64
	PreviewChars       int

	// HookDedupCacheSize bounds the per-scope LRU used to dedup session-start
	// calls on (session_id, agent, source).
	HookDedupCacheSize int
}

// DefaultConfig returns a Config with oakd's standard defaults applied.
// BearerToken is intentionally left empty -- callers are expected to run it
// through app.EnsureBearerToken before constructing a Server.
func DefaultConfig() *Config {
	return &Config{
		Addr:               "127.0.0.1:8751",
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       0,
		RelevanceThreshold: 0.3,
		HookDedupCacheSize: 256,
	}
}

// Server is oakd's HTTP server: the hook surface, the OTLP bridge, and the
// tool-call surface, all sharing one relational store handle and one vector
// store handle.
type Server struct {
	config  *Config
	router  *chi.Mux
	httpSrv *http.Server

	db        *sql.DB
	vs        *vector.Store
	ingestor  *ingest.Ingestor
	retrieval *retrieval.Engine

	hookDedup memory.Store
}

// New builds a Server wired to db and vs. It constructs its own Ingestor and
// Retrieval Engine rather than taking them as parameters -- the same
// relationship telnet2-opencode's New has with session.Service, built inline
// from storage rather than injected.
func New(cfg *Config, db *sql.DB, vs *vector.Store) *Server {
	r := chi.NewRouter()

	s := &Server{
		config:    cfg,
		router:    r,
		db:        db,
		vs:        vs,
		ingestor:  ingest.New(db, cfg.MachineID),
		retrieval: retrieval.New(vs, cfg.RelevanceThreshold, cfg.PreviewChars),
		hookDedup: memory.NewLRU(maxInt(cfg.HookDedupCacheSize, 1)),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// setupMiddleware configures the request pipeline: request id, access log,
// panic recovery, real client IP, then bearer auth on every route. No CORS
// middleware -- unlike opencode's browser-facing API, nothing in oakd's hook
// or tool-call surface is ever called from a browser context.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.bearerAuth)
}

// Start begins serving. It blocks until the listener stops (normally via
// Shutdown), matching net/http.Server.ListenAndServe's own contract.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen on %s: %w", s.config.Addr, err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests to
// finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the chi router, for tests to drive directly with
// httptest.NewRecorder rather than a live listener.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Get("/status", s.handleStatus)

	s.router.Route("/hooks", func(r chi.Router) {
		r.Post("/session-start", s.handleSessionStart)
		r.Post("/session-end", s.handleSessionEnd)
		r.Post("/prompt-submit", s.handlePromptSubmit)
		r.Post("/post-tool-use", s.handlePostToolUse)
	})

	s.router.Post("/v1/logs", s.handleOTLPLogs)

	s.router.Route("/tools", func(r chi.Router) {
		r.Post("/search", s.handleToolSearch)
		r.Post("/remember", s.handleToolRemember)
		r.Post("/context", s.handleToolContext)
		r.Post("/resolve_memory", s.handleToolResolveMemory)
		r.Post("/sessions", s.handleToolSessions)
		r.Post("/memories", s.handleToolMemories)
		r.Post("/stats", s.handleToolStats)
		r.Post("/activity", s.handleToolActivity)
		r.Post("/archive_memories", s.handleToolArchiveMemories)
	})
}
