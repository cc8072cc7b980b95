// Package openai adapts any OpenAI-compatible chat endpoint to llm.Provider.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperr "github.com/Shreyas-ITB/Vibgyor-Optimus/internal/errors"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/pkg/llm"
)

var tracer = otel.Tracer("github.com/Shreyas-ITB/Vibgyor-Optimus/pkg/llm/openai")

// Client implements the llm.Provider interface for OpenAI-compatible APIs.
// Replies are returned in the typed shape.
type Client struct {
	client openai.Client
}

// New creates a new OpenAI-compatible client with the given configuration.
// Retries are left to the caller.
func New(config *llm.Config) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithRequestTimeout(config.EffectiveTimeout()),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	return &Client{client: openai.NewClient(opts...)}
}

func (c *Client) Name() string { return "openai" }

// Complete sends a chat completion request and returns the first choice.
func (c *Client) Complete(ctx context.Context, req *llm.Request) (*llm.Reply, error) {
	ctx, span := tracer.Start(ctx, "openai.Client.Complete", trace.WithAttributes(
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.messages", len(req.Messages)),
		attribute.Int("llm.tools", len(req.Tools)),
	))
	defer span.End()

	params, err := toParams(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		err = classify(err, "chat completion")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, apperr.New(apperr.ErrTypeProtocol, "no choices in response")
	}

	msg := resp.Choices[0].Message
	typed := &llm.TypedMessage{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		typed.ToolCalls = append(typed.ToolCalls, llm.TypedToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return &llm.Reply{
		Shape: llm.ShapeTyped,
		Typed: typed,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// ListModels lists the models served by the endpoint.
func (c *Client) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	page, err := c.client.Models.List(ctx)
	if err != nil {
		return nil, classify(err, "list models")
	}
	out := make([]llm.ModelInfo, 0, len(page.Data))
	for _, m := range page.Data {
		owner := m.OwnedBy
		if owner == "" {
			owner = "openai"
		}
		out = append(out, llm.ModelInfo{ID: m.ID, Created: time.Unix(m.Created, 0), OwnedBy: owner})
	}
	return out, nil
}

func toParams(req *llm.Request) (openai.ChatCompletionNewParams, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg, err := toMessage(m)
		if err != nil {
			return openai.ChatCompletionNewParams{}, err
		}
		msgs = append(msgs, msg)
	}

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(req.Model),
		Messages:    msgs,
		Temperature: openai.Float(req.Temperature),
	}
	if len(req.Tools) > 0 {
		params.Tools = make([]openai.ChatCompletionToolParam, len(req.Tools))
		for i, t := range req.Tools {
			var schema map[string]any
			if err := json.Unmarshal(t.Function.Parameters, &schema); err != nil {
				return openai.ChatCompletionNewParams{}, fmt.Errorf("decode schema for %s: %w", t.Function.Name, err)
			}
			params.Tools[i] = openai.ChatCompletionToolParam{
				Function: shared.FunctionDefinitionParam{
					Name:        t.Function.Name,
					Description: openai.String(t.Function.Description),
					Parameters:  shared.FunctionParameters(schema),
				},
			}
		}
	}
	return params, nil
}

func toMessage(m llm.Message) (openai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case "system":
		return openai.SystemMessage(m.Content), nil
	case "tool":
		return openai.ToolMessage(m.Content, m.ToolCallID), nil
	case "user":
		if len(m.Images) == 0 {
			return openai.UserMessage(m.Content), nil
		}
		parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(m.Content)}
		for _, img := range m.Images {
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: dataURL(img),
			}))
		}
		return openai.UserMessage(parts), nil
	default:
		asst := openai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = openai.String(m.Content)
		}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Function.Arguments)
			if err != nil {
				return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("encode arguments for %s: %w", tc.Function.Name, err)
			}
			asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Function.Name,
					Arguments: string(args),
				},
			})
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil
	}
}

// dataURL re-wraps a bare base64 image payload, sniffing its media type.
func dataURL(b64 string) string {
	head := b64
	if len(head) > 64 {
		head = head[:64]
	}
	mediaType := "image/png"
	if raw, err := base64.StdEncoding.DecodeString(head[:len(head)/4*4]); err == nil && len(raw) > 0 {
		if sniffed := http.DetectContentType(raw); sniffed != "application/octet-stream" {
			mediaType = sniffed
		}
	}
	return "data:" + mediaType + ";base64," + b64
}

func classify(err error, op string) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apperr.Wrapf(err, apperr.ErrTypeProtocol, "%s (status %d)", op, apiErr.StatusCode)
	}
	return apperr.Wrap(err, apperr.ErrTypeNetwork, op)
}
