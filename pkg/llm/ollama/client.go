// Package ollama talks to the native Ollama chat API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperr "github.com/Shreyas-ITB/Vibgyor-Optimus/internal/errors"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/pkg/llm"
)

// DefaultBaseURL is where a local Ollama listens.
const DefaultBaseURL = "http://localhost:11434"

var tracer = otel.Tracer("github.com/Shreyas-ITB/Vibgyor-Optimus/pkg/llm/ollama")

// Client implements llm.Provider against /api/chat and /api/tags. Replies are
// returned in the mapping shape, exactly as decoded from the response body.
type Client struct {
	config     *llm.Config
	httpClient *http.Client
}

// New creates a client. An empty BaseURL selects DefaultBaseURL.
func New(config *llm.Config) *Client {
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.EffectiveTimeout(),
		},
	}
}

func (c *Client) Name() string { return "ollama" }

func (c *Client) baseURL() string {
	if c.config.BaseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(c.config.BaseURL, "/")
}

// chatRequest is the Ollama /api/chat request body.
type chatRequest struct {
	Model    string         `json:"model"`
	Messages []llm.Message  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
	Tools    []llm.Tool     `json:"tools,omitempty"`
}

// Complete sends a non-streaming chat request.
func (c *Client) Complete(ctx context.Context, req *llm.Request) (*llm.Reply, error) {
	ctx, span := tracer.Start(ctx, "ollama.Client.Complete", trace.WithAttributes(
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.messages", len(req.Messages)),
		attribute.Int("llm.tools", len(req.Tools)),
	))
	defer span.End()

	reply, err := c.complete(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return reply, nil
}

func (c *Client) complete(ctx context.Context, req *llm.Request) (*llm.Reply, error) {
	body, err := json.Marshal(chatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   false,
		Options:  map[string]any{"temperature": req.Temperature},
		Tools:    req.Tools,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	respBody, err := c.do(ctx, http.MethodPost, "/api/chat", body)
	if err != nil {
		return nil, err
	}

	var mapping map[string]any
	if err := json.Unmarshal(respBody, &mapping); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrTypeProtocol, "parsing ollama response")
	}
	if msg, ok := mapping["error"].(string); ok && msg != "" {
		return nil, apperr.Newf(apperr.ErrTypeProtocol, "ollama error: %s", msg)
	}

	prompt := intField(mapping, "prompt_eval_count")
	completion := intField(mapping, "eval_count")
	return &llm.Reply{
		Shape:   llm.ShapeMapping,
		Mapping: mapping,
		Usage: llm.Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	}, nil
}

// tagsResponse is the Ollama /api/tags response body.
type tagsResponse struct {
	Models []struct {
		Name       string    `json:"name"`
		Model      string    `json:"model"`
		ModifiedAt time.Time `json:"modified_at"`
	} `json:"models"`
}

// ListModels lists locally installed models.
func (c *Client) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	respBody, err := c.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, err
	}
	var tags tagsResponse
	if err := json.Unmarshal(respBody, &tags); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrTypeProtocol, "parsing model list")
	}
	out := make([]llm.ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		id := m.Model
		if id == "" {
			id = m.Name
		}
		out = append(out, llm.ModelInfo{ID: id, Created: m.ModifiedAt, OwnedBy: "ollama"})
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL()+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrTypeNetwork, "sending request to ollama")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrTypeNetwork, "reading ollama response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Newf(apperr.ErrTypeProtocol, "ollama error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}

func intField(m map[string]any, key string) int {
	if f, ok := m[key].(float64); ok {
		return int(f)
	}
	return 0
}
