// Package runtime drives a conversation: repeated rounds of model call,
// reply parsing and tool dispatch until the model answers without tools or
// the round limit is reached.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	ctxengine "github.com/Shreyas-ITB/Vibgyor-Optimus/internal/context"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/gateway"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/normalize"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/tools"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/types"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/pkg/llm"
)

// DefaultMaxRounds bounds the number of model calls in one conversation.
const DefaultMaxRounds = 20

// Phase is the state of the conversation loop.
type Phase string

const (
	PhaseAwaitingModel    Phase = "awaiting_model"
	PhaseParsingResponse  Phase = "parsing_response"
	PhaseDispatchingTools Phase = "dispatching_tools"
	PhaseDone             Phase = "done"
	PhaseFailed           Phase = "failed"
	PhaseQuotaExceeded    Phase = "quota_exceeded"
	PhaseCancelled        Phase = "cancelled"
)

var tracer = otel.Tracer("github.com/Shreyas-ITB/Vibgyor-Optimus/internal/runtime")

var (
	modelCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optimus_model_calls_total",
		Help: "Model calls by provider and outcome.",
	}, []string{"provider", "status"})

	modelDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "optimus_model_call_duration_seconds",
		Help:    "Latency of model calls, including retries.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"provider"})

	conversations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optimus_conversations_total",
		Help: "Finished conversations by final phase.",
	}, []string{"phase"})

	roundsPerConversation = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "optimus_conversation_rounds",
		Help:    "Model rounds used per conversation.",
		Buckets: []float64{1, 2, 3, 4, 5, 8, 12, 16, 20},
	})
)

// Dispatcher executes one tool call and always returns text.
type Dispatcher interface {
	CallTool(ctx context.Context, name string, args map[string]any) string
}

// Deps wires a Runtime. Gateway, Retry, Events and Artifacts are optional.
type Deps struct {
	Provider   llm.Provider
	Dispatcher Dispatcher
	Catalog    *tools.Catalog
	Engine     *ctxengine.Engine
	Gateway    *gateway.Gateway
	Retry      *gateway.RetryPolicy
	Events     types.EventStore
	Artifacts  types.ArtifactStore
	Logger     *slog.Logger

	MaxRounds           int
	MaxToolResultTokens int
	DefaultDatabase     string
}

// Runtime implements the conversation loop.
type Runtime struct {
	provider   llm.Provider
	dispatcher Dispatcher
	catalog    *tools.Catalog
	engine     *ctxengine.Engine
	gateway    *gateway.Gateway
	retry      *gateway.RetryPolicy
	events     types.EventStore
	artifacts  types.ArtifactStore
	logger     *slog.Logger

	maxRounds           int
	maxToolResultTokens int
	defaultDatabase     string
}

// New creates a Runtime.
func New(d Deps) *Runtime {
	if d.MaxRounds <= 0 {
		d.MaxRounds = DefaultMaxRounds
	}
	if d.Catalog == nil {
		d.Catalog = tools.ModelCatalog(nil, false)
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Runtime{
		provider:            d.Provider,
		dispatcher:          d.Dispatcher,
		catalog:             d.Catalog,
		engine:              d.Engine,
		gateway:             d.Gateway,
		retry:               d.Retry,
		events:              d.Events,
		artifacts:           d.Artifacts,
		logger:              d.Logger,
		maxRounds:           d.MaxRounds,
		maxToolResultTokens: d.MaxToolResultTokens,
		defaultDatabase:     d.DefaultDatabase,
	}
}

// MaxRounds returns the configured round limit.
func (rt *Runtime) MaxRounds() int { return rt.maxRounds }

// Request is one chat completion request.
type Request struct {
	Model       string
	Messages    []normalize.Message
	Temperature float64
}

// Result summarizes a finished conversation.
type Result struct {
	Text         string
	FinishReason string
	Phase        Phase
	Rounds       int
	Usage        llm.Usage
	// Err is the failure rendered into the error chunk, if any.
	Err error
}

// quotaMessage is emitted when the round limit is hit with tool calls pending.
func quotaMessage(rounds int) string {
	return fmt.Sprintf("\n\nStopped: reached the maximum of %d tool rounds without a final answer.", rounds)
}

// conversation is the mutable state of one Run call.
type conversation struct {
	run      *gateway.Run
	req      *Request
	emit     Emitter
	messages []llm.Message
	tools    []llm.Tool
	result   *Result
	text     strings.Builder
}

// Run drives one conversation to completion, writing output to emit. Model
// and tool failures are rendered as an error chunk and do not produce an
// error; Run only fails when the context is cancelled or emit fails, in
// which case no further output is written.
func (rt *Runtime) Run(run *gateway.Run, req *Request, emit Emitter) (*Result, error) {
	ctx := run.Context()

	if rt.gateway != nil {
		release, err := rt.gateway.Admit(ctx, run)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	ctx, span := tracer.Start(ctx, "runtime.Run", trace.WithAttributes(
		attribute.String("run.id", string(run.ID)),
		attribute.String("llm.model", req.Model),
	))
	defer span.End()

	c := &conversation{
		run:    run,
		req:    req,
		emit:   emit,
		tools:  rt.catalog.AsLLMTools(),
		result: &Result{},
	}

	system, err := rt.systemPrompt()
	if err != nil {
		return rt.fail(ctx, c, err)
	}
	c.messages = normalize.PrepareMessages(system, req.Messages, req.Model, rt.logger)
	rt.recordInput(ctx, c)

	rt.logger.Info("conversation started", "run_id", run.ID, "model", req.Model,
		"messages", len(req.Messages), "vision", normalize.IsVisionModel(req.Model))

	for round := 1; round <= rt.maxRounds; round++ {
		c.result.Rounds = round
		done, err := rt.round(ctx, c, round)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return c.result, err
		}
		if done {
			return c.result, nil
		}
	}

	return rt.quotaExceeded(ctx, c)
}

// round runs one model call and its tool calls. It returns done when the
// conversation reached a terminal phase.
func (rt *Runtime) round(ctx context.Context, c *conversation, round int) (bool, error) {
	ctx, span := tracer.Start(ctx, "runtime.round", trace.WithAttributes(attribute.Int("round", round)))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return true, rt.cancelled(c, err)
	}

	rt.logger.Debug("round started", "run_id", c.run.ID, "round", round, "max", rt.maxRounds)
	c.run.SetPhase(string(PhaseAwaitingModel), round)

	reply, err := rt.complete(ctx, c)
	if err != nil {
		if ctx.Err() != nil {
			return true, rt.cancelled(c, ctx.Err())
		}
		span.RecordError(err)
		_, ferr := rt.fail(ctx, c, err)
		return true, ferr
	}

	c.run.SetPhase(string(PhaseParsingResponse), round)
	parsed, err := normalize.ParseReply(reply)
	if err != nil {
		_, ferr := rt.fail(ctx, c, err)
		return true, ferr
	}
	rt.addUsage(c, reply.Usage, parsed)

	rt.logger.Info("model replied", "run_id", c.run.ID, "round", round,
		"text_len", len(parsed.Text), "tool_calls", len(parsed.ToolCalls))

	if parsed.Text != "" {
		if err := rt.write(c, parsed.Text, ""); err != nil {
			return true, rt.cancelled(c, err)
		}
		rt.record(ctx, c.run.ID, types.EventAssistantMessage, map[string]any{"text": parsed.Text, "round": round})
	}

	if len(parsed.ToolCalls) == 0 {
		return true, rt.finish(ctx, c, PhaseDone, "", FinishStop)
	}

	c.run.SetPhase(string(PhaseDispatchingTools), round)
	c.messages = append(c.messages, llm.Message{
		Role:      "assistant",
		Content:   parsed.Text,
		ToolCalls: parsed.ToolCalls,
	})

	results := make([]string, len(parsed.ToolCalls))
	for i, tc := range parsed.ToolCalls {
		if err := ctx.Err(); err != nil {
			return true, rt.cancelled(c, err)
		}
		results[i] = rt.dispatch(ctx, c, tc)
		c.messages = append(c.messages, llm.Message{
			Role:       "tool",
			Content:    results[i],
			ToolCallID: tc.ID,
			Name:       tc.Function.Name,
		})
	}

	if needsNudge(parsed.ToolCalls) {
		if nudge, ok := Nudge(results[0]); ok {
			rt.logger.Info("injecting nudge", "run_id", c.run.ID, "nudge", nudge)
			c.messages = append(c.messages, llm.Message{Role: "user", Content: nudge})
			rt.record(ctx, c.run.ID, types.EventNudge, map[string]any{"text": nudge, "round": round})
		}
	}
	return false, nil
}

// complete calls the model with retries.
func (rt *Runtime) complete(ctx context.Context, c *conversation) (*llm.Reply, error) {
	provider := rt.provider.Name()
	start := time.Now()

	req := &llm.Request{
		Model:       c.req.Model,
		Messages:    c.messages,
		Tools:       c.tools,
		Temperature: c.req.Temperature,
	}

	var reply *llm.Reply
	call := func(ctx context.Context) error {
		r, err := rt.provider.Complete(ctx, req)
		if err != nil {
			rt.logger.Warn("model call failed", "run_id", c.run.ID, "provider", provider, "error", err)
			return err
		}
		reply = r
		return nil
	}

	var err error
	if rt.retry != nil {
		err = rt.retry.ExecuteContext(ctx, call)
	} else {
		err = call(ctx)
	}

	modelDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	if err != nil {
		modelCalls.WithLabelValues(provider, "error").Inc()
		return nil, err
	}
	modelCalls.WithLabelValues(provider, "ok").Inc()
	return reply, nil
}

// dispatch runs one tool call and applies the tool result budget.
func (rt *Runtime) dispatch(ctx context.Context, c *conversation, tc llm.ToolCall) string {
	name := tc.Function.Name
	rt.record(ctx, c.run.ID, types.EventToolCall, map[string]any{
		"tool": name, "call_id": tc.ID, "arguments": tc.Function.Arguments,
	})

	rt.logger.Info("executing tool", "run_id", c.run.ID, "tool", name, "call_id", tc.ID)
	result := rt.dispatcher.CallTool(ctx, name, tc.Function.Arguments)

	payload := map[string]any{"tool": name, "call_id": tc.ID}
	result = rt.budget(ctx, c, tc, result, payload)
	payload["result"] = result
	rt.record(ctx, c.run.ID, types.EventToolResult, payload)

	rt.logger.Info("tool completed", "run_id", c.run.ID, "tool", name, "result_len", len(result))
	return result
}

// budget truncates an oversized tool result. When an artifact store is
// configured the full result is kept there.
func (rt *Runtime) budget(ctx context.Context, c *conversation, tc llm.ToolCall, result string, payload map[string]any) string {
	if rt.engine == nil || rt.maxToolResultTokens <= 0 {
		return result
	}
	cut, truncated, total := rt.engine.Truncate(result, rt.maxToolResultTokens)
	if !truncated {
		return result
	}

	note := fmt.Sprintf("\n[truncated: showing %d of %d tokens]", rt.maxToolResultTokens, total)
	if rt.artifacts != nil {
		id, err := rt.artifacts.Put(ctx, c.run.ID, tc.Function.Name, tc.ID, result, total)
		if err != nil {
			rt.logger.Warn("storing tool result artifact", "run_id", c.run.ID, "error", err)
		} else {
			payload["artifact_id"] = string(id)
			note = fmt.Sprintf("\n[truncated: showing %d of %d tokens, full result in artifact %s]", rt.maxToolResultTokens, total, id)
		}
	}
	return cut + note
}

func (rt *Runtime) addUsage(c *conversation, u llm.Usage, parsed normalize.Parsed) {
	if u.TotalTokens == 0 && rt.engine != nil {
		u.PromptTokens = rt.engine.CountMessages(c.messages)
		u.CompletionTokens = rt.engine.CountMessages([]llm.Message{{Content: parsed.Text, ToolCalls: parsed.ToolCalls}})
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	c.result.Usage.Add(u)
}

func (rt *Runtime) systemPrompt() (string, error) {
	if rt.engine == nil {
		return "", nil
	}
	return rt.engine.SystemPrompt(ctxengine.PromptData{
		Tools:           rt.catalog.Names(),
		DefaultDatabase: rt.defaultDatabase,
	})
}

// write emits one chunk and keeps the running text.
func (rt *Runtime) write(c *conversation, content, finishReason string) error {
	if err := c.emit.Emit(content, finishReason); err != nil {
		return err
	}
	c.text.WriteString(content)
	return nil
}

// finish emits the last chunk and the end marker.
func (rt *Runtime) finish(ctx context.Context, c *conversation, phase Phase, content, reason string) error {
	if err := rt.write(c, content, reason); err != nil {
		return rt.cancelled(c, err)
	}
	if err := c.emit.Done(); err != nil {
		return rt.cancelled(c, err)
	}

	c.result.Phase = phase
	c.result.FinishReason = reason
	c.result.Text = c.text.String()
	c.run.SetPhase(string(phase), c.result.Rounds)
	c.run.Finish(reason, c.result.Err)
	conversations.WithLabelValues(string(phase)).Inc()
	roundsPerConversation.Observe(float64(c.result.Rounds))

	rt.record(ctx, c.run.ID, types.EventFinish, map[string]any{
		"phase": phase, "finish_reason": reason, "rounds": c.result.Rounds, "usage": c.result.Usage,
	})
	rt.logger.Info("conversation finished", "run_id", c.run.ID, "phase", phase,
		"rounds", c.result.Rounds, "total_tokens", c.result.Usage.TotalTokens)
	return nil
}

// fail renders err as the error chunk and closes the stream.
func (rt *Runtime) fail(ctx context.Context, c *conversation, err error) (*Result, error) {
	rt.logger.Error("conversation failed", "run_id", c.run.ID, "round", c.result.Rounds, "error", err)
	c.result.Err = err
	if ferr := rt.finish(ctx, c, PhaseFailed, "\n\nError: "+err.Error(), FinishStop); ferr != nil {
		return c.result, ferr
	}
	return c.result, nil
}

func (rt *Runtime) quotaExceeded(ctx context.Context, c *conversation) (*Result, error) {
	rt.logger.Warn("round limit reached", "run_id", c.run.ID, "rounds", rt.maxRounds)
	if err := rt.finish(ctx, c, PhaseQuotaExceeded, quotaMessage(rt.maxRounds), FinishLength); err != nil {
		return c.result, err
	}
	return c.result, nil
}

// cancelled records that the client went away. Nothing more is emitted.
func (rt *Runtime) cancelled(c *conversation, err error) error {
	rt.logger.Info("conversation cancelled", "run_id", c.run.ID, "round", c.result.Rounds, "error", err)
	c.result.Phase = PhaseCancelled
	c.result.Text = c.text.String()
	c.run.SetPhase(string(PhaseCancelled), c.result.Rounds)
	c.run.Finish("", err)
	conversations.WithLabelValues(string(PhaseCancelled)).Inc()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("emit: %w", err)
}

func (rt *Runtime) recordInput(ctx context.Context, c *conversation) {
	if rt.events == nil {
		return
	}
	for i := len(c.req.Messages) - 1; i >= 0; i-- {
		m := c.req.Messages[i]
		if m.Role != "user" {
			continue
		}
		text, images := normalize.SplitContent(m.Content)
		rt.record(ctx, c.run.ID, types.EventUserMessage, map[string]any{
			"text": text, "images": len(images), "model": c.req.Model, "messages": len(c.req.Messages),
		})
		return
	}
}

// record appends a transcript event when transcripts are enabled. Failures
// are logged and never affect the conversation.
func (rt *Runtime) record(ctx context.Context, runID types.RunID, typ string, payload map[string]any) {
	if rt.events == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		rt.logger.Warn("encoding transcript event", "type", typ, "error", err)
		return
	}
	if err := rt.events.Append(context.WithoutCancel(ctx), &types.Event{
		ID:      types.NewEventID(),
		RunID:   runID,
		Type:    typ,
		Source:  types.SourceRuntime,
		At:      time.Now(),
		Payload: data,
	}); err != nil {
		rt.logger.Warn("recording transcript event", "type", typ, "error", err)
	}
}
