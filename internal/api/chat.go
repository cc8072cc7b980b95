package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/gateway"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/normalize"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/runtime"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/types"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/pkg/llm"
)

// chatRequest is the JSON body of POST /v1/chat/completions. The sampling
// fields after Stream are accepted for compatibility and ignored.
type chatRequest struct {
	Model       string              `json:"model"`
	Messages    []normalize.Message `json:"messages"`
	Temperature *float64            `json:"temperature"`
	Stream      bool                `json:"stream"`

	TopP             *float64        `json:"top_p,omitempty"`
	N                *int            `json:"n,omitempty"`
	Stop             json.RawMessage `json:"stop,omitempty"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	User             string          `json:"user,omitempty"`
}

type delta struct {
	Content string `json:"content,omitempty"`
}

type chunkChoice struct {
	Index        int     `json:"index"`
	Delta        delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

type chunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []chunkChoice `json:"choices"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionChoice struct {
	Index        int     `json:"index"`
	Message      message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type completion struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []completionChoice `json:"choices"`
	Usage   llm.Usage          `json:"usage"`
}

// sseWriter writes conversation output as chat.completion.chunk events.
// Every chunk of one response shares the same id.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	id      string
	model   string
	created int64
	wrote   bool
}

func (s *sseWriter) Emit(content, finishReason string) error {
	c := chunk{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []chunkChoice{{Delta: delta{Content: content}}},
	}
	if finishReason != "" {
		c.Choices[0].FinishReason = &finishReason
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.write("data: " + string(data) + "\n\n")
}

func (s *sseWriter) Done() error {
	return s.write("data: [DONE]\n\n")
}

func (s *sseWriter) write(frame string) error {
	s.wrote = true
	if _, err := fmt.Fprint(s.w, frame); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "rate_limit_error", "rate limit exceeded")
		return
	}

	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON: "+err.Error())
		return
	}
	if len(body.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "messages must not be empty")
		return
	}
	if body.Model == "" {
		body.Model = s.defaultModel
	}
	if body.Model == "" {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "model is required")
		return
	}
	temperature := s.temperature
	if body.Temperature != nil {
		temperature = *body.Temperature
	}

	run := gateway.NewRun(types.SourceAPI, body.Model)
	run.Ctx = r.Context()
	req := &runtime.Request{Model: body.Model, Messages: body.Messages, Temperature: temperature}

	s.logger.Info("chat completion request", "run_id", run.ID, "model", body.Model, "stream", body.Stream)

	if body.Stream {
		s.stream(w, r, run, req)
		return
	}
	s.complete(w, r, run, req)
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request, run *gateway.Run, req *runtime.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "server_error", "streaming is not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sse := &sseWriter{w: w, flusher: flusher, id: run.CompletionID, model: req.Model, created: run.CreatedAt.Unix()}
	res, err := s.runner.Run(run, req, sse)
	if err != nil {
		if isGone(r, err) {
			s.logger.Info("client disconnected", "run_id", run.ID)
			return
		}
		s.logger.Error("conversation failed", "run_id", run.ID, "error", err)
		if !sse.wrote {
			if sse.Emit("\n\nError: "+err.Error(), runtime.FinishStop) == nil {
				sse.Done()
			}
		}
		return
	}
	s.logger.Info("chat completion finished", "run_id", run.ID, "phase", res.Phase, "rounds", res.Rounds)
}

func (s *Server) complete(w http.ResponseWriter, r *http.Request, run *gateway.Run, req *runtime.Request) {
	var col runtime.Collector
	res, err := s.runner.Run(run, req, &col)
	if err != nil {
		if isGone(r, err) {
			s.logger.Info("client disconnected", "run_id", run.ID)
			return
		}
		s.logger.Error("conversation failed", "run_id", run.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	finish := col.FinishReason()
	if finish == "" {
		finish = runtime.FinishStop
	}
	s.logger.Info("chat completion finished", "run_id", run.ID, "phase", res.Phase, "rounds", res.Rounds)
	writeJSON(w, http.StatusOK, completion{
		ID:      run.CompletionID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []completionChoice{{
			Message:      message{Role: "assistant", Content: col.Text()},
			FinishReason: finish,
		}},
		Usage: res.Usage,
	})
}
