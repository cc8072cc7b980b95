// Package api serves the OpenAI-compatible chat completion surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/gateway"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/runtime"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/types"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/pkg/llm"
)

// Version is reported by the health endpoint.
const Version = "2.0.0"

// DefaultTemperature applies when a request omits temperature.
const DefaultTemperature = 0.7

// fallbackModels are listed when the model service cannot be reached.
var fallbackModels = []string{"ministral-3:8b", "llama3.1:latest", "llava:latest"}

// Runner runs one conversation.
type Runner interface {
	Run(run *gateway.Run, req *runtime.Request, emit runtime.Emitter) (*runtime.Result, error)
}

// Options configures a Server. Runner is required; everything else is
// optional.
type Options struct {
	Runner  Runner
	Models  llm.Provider
	Gateway *gateway.Gateway

	Events    types.EventStore
	Artifacts types.ArtifactStore

	DefaultModel string
	// Temperature applies when a request omits it. Zero means DefaultTemperature.
	Temperature float64

	// RateLimit is the sustained chat completions per second. Zero disables it.
	RateLimit float64
	RateBurst int

	Logger *slog.Logger
}

// Server is the HTTP handler for the chat API.
type Server struct {
	runner       Runner
	models       llm.Provider
	gateway      *gateway.Gateway
	events       types.EventStore
	artifacts    types.ArtifactStore
	defaultModel string
	temperature  float64
	limiter      *rate.Limiter
	logger       *slog.Logger
	mux          *http.ServeMux
}

// NewServer creates a Server and registers its routes.
func NewServer(opts Options) *Server {
	s := &Server{
		runner:       opts.Runner,
		models:       opts.Models,
		gateway:      opts.Gateway,
		events:       opts.Events,
		artifacts:    opts.Artifacts,
		defaultModel: opts.DefaultModel,
		temperature:  opts.Temperature,
		logger:       opts.Logger,
		mux:          http.NewServeMux(),
	}
	if s.temperature == 0 {
		s.temperature = DefaultTemperature
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	s.mux.HandleFunc("GET /{$}", s.handleHealth)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /v1/models", s.handleModels)
	s.mux.HandleFunc("GET /models", s.handleModels)
	s.mux.HandleFunc("POST /v1/chat/completions", s.handleChat)
	s.mux.HandleFunc("POST /chat/completions", s.handleChat)
	s.mux.HandleFunc("GET /api/runs", s.handleRuns)
	s.mux.HandleFunc("GET /api/transcripts/{run_id}", s.handleTranscript)
	s.mux.HandleFunc("GET /api/artifacts/{id}", s.handleArtifact)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError replies with an OpenAI-style error body.
func writeError(w http.ResponseWriter, status int, errType, message string) {
	type body struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	}
	writeJSON(w, status, map[string]body{"error": {Message: message, Type: errType}})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status    string `json:"status"`
		Version   string `json:"version"`
		APIType   string `json:"api_type"`
		Timestamp string `json:"timestamp"`
	}{"healthy", Version, "openai-compatible", time.Now().UTC().Format("2006-01-02T15:04:05.000000")})
}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelList struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	var data []modelEntry
	if s.models != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		models, err := s.models.ListModels(ctx)
		cancel()
		if err != nil {
			s.logger.Error("failed to list models", "provider", s.models.Name(), "error", err)
		}
		for _, m := range models {
			data = append(data, modelEntry{ID: m.ID, Object: "model", Created: m.Created.Unix(), OwnedBy: m.OwnedBy})
		}
	}
	if len(data) == 0 {
		now := time.Now().Unix()
		for _, id := range fallbackModels {
			data = append(data, modelEntry{ID: id, Object: "model", Created: now, OwnedBy: "optimus"})
		}
	}
	writeJSON(w, http.StatusOK, modelList{Object: "list", Data: data})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs := []gateway.RunInfo{}
	if s.gateway != nil {
		runs = append(runs, s.gateway.Active()...)
	}
	writeJSON(w, http.StatusOK, runs)
}

type transcript struct {
	RunID     types.RunID           `json:"run_id"`
	Events    []*types.Event        `json:"events"`
	Artifacts []*types.ArtifactMeta `json:"artifacts"`
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "transcripts are not enabled")
		return
	}
	runID := types.RunID(r.PathValue("run_id"))
	events, err := s.events.List(r.Context(), runID)
	if err != nil {
		s.logger.Error("list events failed", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal server error")
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusNotFound, "not_found", "no transcript for run "+string(runID))
		return
	}

	out := transcript{RunID: runID, Events: events, Artifacts: []*types.ArtifactMeta{}}
	if s.artifacts != nil {
		metas, err := s.artifacts.List(r.Context(), runID)
		if err != nil {
			s.logger.Warn("list artifacts failed", "run_id", runID, "error", err)
		}
		if metas != nil {
			out.Artifacts = metas
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	if s.artifacts == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "transcripts are not enabled")
		return
	}
	id := types.ArtifactID(r.PathValue("id"))
	content, err := s.artifacts.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "artifact not found: "+string(id))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(content))
}

// isGone reports whether err comes from the client going away.
func isGone(r *http.Request, err error) bool {
	return r.Context().Err() != nil || errors.Is(err, context.Canceled)
}
