package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/actuallyrizzn/puppet-engine/internal/agents"
	"github.com/actuallyrizzn/puppet-engine/internal/events"
	"github.com/actuallyrizzn/puppet-engine/internal/gates"
	"github.com/actuallyrizzn/puppet-engine/internal/health"
	"github.com/actuallyrizzn/puppet-engine/pkg/logger"
)

// Server is the operator control API
type Server struct {
	manager *agents.Manager
	engine  *events.Engine
	cadence *gates.CadenceGate
	checker *health.Checker
	http    *http.Server
}

// New creates the control API server
func New(addr string, manager *agents.Manager, engine *events.Engine, cadence *gates.CadenceGate, checker *health.Checker) *Server {
	s := &Server{
		manager: manager,
		engine:  engine,
		cadence: cadence,
		checker: checker,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/status", s.handleStatus)
	r.Route("/api", func(r chi.Router) {
		r.Get("/agents", s.handleListAgents)
		r.Route("/agents/{agentID}", func(r chi.Router) {
			r.Get("/", s.handleGetAgent)
			r.Post("/post", s.handlePost)
			r.Post("/reply", s.handleReply)
			r.Post("/mood", s.handleMoodShift)
			r.Get("/mood", s.handleGetMood)
			r.Get("/context", s.handleGetContext)
			r.Get("/memories", s.handleListMemories)
			r.Post("/memories", s.handleAddMemory)
			r.Delete("/memories/{memoryID}", s.handleDeleteMemory)
			r.Get("/relationships", s.handleListRelationships)
		})
		r.Post("/events", s.handleInjectEvent)
		r.Get("/events/history", s.handleEventHistory)
	})

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start() error {
	logger.Info("🚀 Control API listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control API failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, map[string]any{"error": errorBody{Code: code, Message: message, Details: details}})
}
