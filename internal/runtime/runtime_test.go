package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	ctxengine "github.com/Shreyas-ITB/Vibgyor-Optimus/internal/context"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/gateway"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/normalize"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/state"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/types"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/pkg/llm"
)

// scriptedProvider returns pre-configured replies in order and records
// every request it receives.
type scriptedProvider struct {
	mu       sync.Mutex
	replies  []*llm.Reply
	errs     []error
	requests []*llm.Request
	repeat   *llm.Reply
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, req *llm.Request) (*llm.Reply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := len(p.requests)
	cp := *req
	cp.Messages = append([]llm.Message(nil), req.Messages...)
	p.requests = append(p.requests, &cp)
	if idx < len(p.errs) && p.errs[idx] != nil {
		return nil, p.errs[idx]
	}
	if idx < len(p.replies) {
		return p.replies[idx], nil
	}
	if p.repeat != nil {
		return p.repeat, nil
	}
	return text("fallback"), nil
}

func (p *scriptedProvider) ListModels(context.Context) ([]llm.ModelInfo, error) { return nil, nil }

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// fakeDispatcher answers tool calls from a table and counts them.
type fakeDispatcher struct {
	mu      sync.Mutex
	results map[string]string
	calls   []string
}

func (d *fakeDispatcher) CallTool(_ context.Context, name string, _ map[string]any) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, name)
	if r, ok := d.results[name]; ok {
		return r
	}
	return `{"status":"success"}`
}

// chunk is one recorded Emit call.
type chunk struct {
	content string
	reason  string
}

type recorder struct {
	chunks []chunk
	done   int
	failAt int
}

func (r *recorder) Emit(content, reason string) error {
	if r.failAt > 0 && len(r.chunks)+1 == r.failAt {
		return errors.New("broken pipe")
	}
	r.chunks = append(r.chunks, chunk{content, reason})
	return nil
}

func (r *recorder) Done() error {
	r.done++
	return nil
}

func text(s string) *llm.Reply {
	return &llm.Reply{Shape: llm.ShapeTyped, Typed: &llm.TypedMessage{Content: s}}
}

func toolReply(content string, calls ...llm.TypedToolCall) *llm.Reply {
	return &llm.Reply{Shape: llm.ShapeTyped, Typed: &llm.TypedMessage{Content: content, ToolCalls: calls}}
}

func userRequest(msg string) *Request {
	return &Request{
		Model:    "llama3.1",
		Messages: []normalize.Message{{Role: "user", Content: normalize.TextContent(msg)}},
	}
}

func TestRunPlainAnswer(t *testing.T) {
	provider := &scriptedProvider{replies: []*llm.Reply{text("Hello! How can I help?")}}
	dispatcher := &fakeDispatcher{}
	rt := New(Deps{Provider: provider, Dispatcher: dispatcher})

	out := &recorder{}
	res, err := rt.Run(gateway.NewRun(types.SourceAPI, "llama3.1"), userRequest("hi"), out)
	if err != nil {
		t.Fatal(err)
	}

	want := []chunk{{"Hello! How can I help?", ""}, {"", FinishStop}}
	if len(out.chunks) != len(want) {
		t.Fatalf("chunks = %+v", out.chunks)
	}
	for i := range want {
		if out.chunks[i] != want[i] {
			t.Errorf("chunk %d = %+v, want %+v", i, out.chunks[i], want[i])
		}
	}
	if out.done != 1 {
		t.Errorf("done written %d times", out.done)
	}
	if res.Phase != PhaseDone || res.Rounds != 1 || res.Text != "Hello! How can I help?" {
		t.Errorf("result = %+v", res)
	}
	if len(dispatcher.calls) != 0 {
		t.Errorf("unexpected tool calls: %v", dispatcher.calls)
	}
}

func TestRunToolRoundTrip(t *testing.T) {
	provider := &scriptedProvider{replies: []*llm.Reply{
		toolReply("", llm.TypedToolCall{ID: "call_a", Name: "list_tables", Arguments: `{"schema":"dbo"}`}),
		text("There are 2 tables."),
	}}
	dispatcher := &fakeDispatcher{results: map[string]string{"list_tables": `{"tables":["A","B"]}`}}
	rt := New(Deps{Provider: provider, Dispatcher: dispatcher})

	out := &recorder{}
	res, err := rt.Run(gateway.NewRun(types.SourceAPI, "llama3.1"), userRequest("how many tables?"), out)
	if err != nil {
		t.Fatal(err)
	}
	if res.Rounds != 2 || res.FinishReason != FinishStop {
		t.Errorf("result = %+v", res)
	}

	second := provider.requests[1].Messages
	if len(second) != 3 {
		t.Fatalf("expected user, assistant, tool messages, got %+v", second)
	}
	assistant, tool := second[1], second[2]
	if assistant.Role != "assistant" || len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].ID != "call_a" {
		t.Errorf("assistant message = %+v", assistant)
	}
	if tool.Role != "tool" || tool.ToolCallID != "call_a" || tool.Name != "list_tables" || tool.Content != `{"tables":["A","B"]}` {
		t.Errorf("tool message = %+v", tool)
	}
	if len(provider.requests[0].Tools) == 0 {
		t.Error("expected tools to be offered to the model")
	}
}

func TestRunSearchNudge(t *testing.T) {
	search := `{"status":"success","results":[{"name":"vw_Customer","type":"View"},{"name":"ScCustomer","type":"Table"}]}`
	provider := &scriptedProvider{replies: []*llm.Reply{
		toolReply("", llm.TypedToolCall{Name: "search_tables", Arguments: `{"search_term":"customer"}`}),
		toolReply("", llm.TypedToolCall{Name: "query_table", Arguments: `{"table_name":"ScCustomer"}`}),
		text("Here are the rows."),
	}}
	dispatcher := &fakeDispatcher{results: map[string]string{"search_tables": search}}
	rt := New(Deps{Provider: provider, Dispatcher: dispatcher})

	if _, err := rt.Run(gateway.NewRun(types.SourceAPI, "llama3.1"), userRequest("customers"), &recorder{}); err != nil {
		t.Fatal(err)
	}

	second := provider.requests[1].Messages
	last := second[len(second)-1]
	want := `Now call query_table with table_name="ScCustomer" to get the actual data rows.`
	if last.Role != "user" || last.Content != want {
		t.Errorf("nudge = %+v", last)
	}

	nudges := 0
	for _, m := range provider.requests[2].Messages {
		if m.Role == "user" && strings.HasPrefix(m.Content, "Now call query_table") {
			nudges++
		}
	}
	if nudges != 1 {
		t.Errorf("expected exactly one nudge, got %d", nudges)
	}
}

func TestRunNoNudgeForMixedRound(t *testing.T) {
	search := `{"results":[{"name":"ScCustomer","type":"Table"}]}`
	provider := &scriptedProvider{replies: []*llm.Reply{
		toolReply("",
			llm.TypedToolCall{Name: "search_tables", Arguments: `{"search_term":"customer"}`},
			llm.TypedToolCall{Name: "list_tables", Arguments: `{}`},
		),
		text("done"),
	}}
	rt := New(Deps{Provider: provider, Dispatcher: &fakeDispatcher{results: map[string]string{"search_tables": search}}})

	if _, err := rt.Run(gateway.NewRun(types.SourceAPI, "llama3.1"), userRequest("x"), &recorder{}); err != nil {
		t.Fatal(err)
	}
	for _, m := range provider.requests[1].Messages {
		if m.Role == "user" && strings.HasPrefix(m.Content, "Now call") {
			t.Fatalf("unexpected nudge: %q", m.Content)
		}
	}
}

func TestRunRoundLimit(t *testing.T) {
	provider := &scriptedProvider{repeat: toolReply("", llm.TypedToolCall{Name: "list_databases", Arguments: `{}`})}
	dispatcher := &fakeDispatcher{}
	rt := New(Deps{Provider: provider, Dispatcher: dispatcher})

	out := &recorder{}
	res, err := rt.Run(gateway.NewRun(types.SourceAPI, "llama3.1"), userRequest("loop"), out)
	if err != nil {
		t.Fatal(err)
	}
	if provider.calls() != DefaultMaxRounds {
		t.Errorf("model called %d times, want %d", provider.calls(), DefaultMaxRounds)
	}
	if len(dispatcher.calls) != DefaultMaxRounds {
		t.Errorf("dispatched %d calls", len(dispatcher.calls))
	}
	if res.Phase != PhaseQuotaExceeded || res.FinishReason != FinishLength {
		t.Errorf("result = %+v", res)
	}
	last := out.chunks[len(out.chunks)-1]
	if last.reason != FinishLength || !strings.Contains(last.content, "maximum of 20 tool rounds") {
		t.Errorf("last chunk = %+v", last)
	}
	if out.done != 1 {
		t.Errorf("done written %d times", out.done)
	}
}

func TestRunCustomRoundLimit(t *testing.T) {
	provider := &scriptedProvider{repeat: toolReply("", llm.TypedToolCall{Name: "list_tables", Arguments: `{}`})}
	rt := New(Deps{Provider: provider, Dispatcher: &fakeDispatcher{}, MaxRounds: 3})

	res, err := rt.Run(gateway.NewRun(types.SourceAPI, "llama3.1"), userRequest("loop"), &recorder{})
	if err != nil {
		t.Fatal(err)
	}
	if provider.calls() != 3 || res.Rounds != 3 {
		t.Errorf("calls = %d, rounds = %d", provider.calls(), res.Rounds)
	}
}

func TestRunModelError(t *testing.T) {
	provider := &scriptedProvider{errs: []error{errors.New("model not found")}}
	rt := New(Deps{Provider: provider, Dispatcher: &fakeDispatcher{}})

	out := &recorder{}
	res, err := rt.Run(gateway.NewRun(types.SourceAPI, "llama3.1"), userRequest("hi"), out)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.chunks) != 1 {
		t.Fatalf("chunks = %+v", out.chunks)
	}
	if out.chunks[0].content != "\n\nError: model not found" || out.chunks[0].reason != FinishStop {
		t.Errorf("error chunk = %+v", out.chunks[0])
	}
	if out.done != 1 {
		t.Error("expected done marker after error")
	}
	if res.Phase != PhaseFailed || res.Err == nil {
		t.Errorf("result = %+v", res)
	}
}

func TestRunRetriesTransientModelError(t *testing.T) {
	provider := &scriptedProvider{
		errs:    []error{errors.New("dial tcp: connection refused")},
		replies: []*llm.Reply{nil, text("recovered")},
	}
	retry := &gateway.RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
	rt := New(Deps{Provider: provider, Dispatcher: &fakeDispatcher{}, Retry: retry})

	res, err := rt.Run(gateway.NewRun(types.SourceAPI, "llama3.1"), userRequest("hi"), &recorder{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "recovered" || provider.calls() != 2 {
		t.Errorf("text = %q, calls = %d", res.Text, provider.calls())
	}
}

func TestRunCancelledStopsOutput(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	provider := &scriptedProvider{repeat: toolReply("", llm.TypedToolCall{Name: "list_tables", Arguments: `{}`})}
	dispatcher := &cancellingDispatcher{cancel: cancel}
	rt := New(Deps{Provider: provider, Dispatcher: dispatcher})

	run := gateway.NewRun(types.SourceAPI, "llama3.1")
	run.Ctx = ctx
	out := &recorder{}
	res, err := rt.Run(run, userRequest("hi"), out)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(out.chunks) != 0 || out.done != 0 {
		t.Errorf("output after cancel: %+v done=%d", out.chunks, out.done)
	}
	if res.Phase != PhaseCancelled {
		t.Errorf("phase = %s", res.Phase)
	}
	if provider.calls() != 1 {
		t.Errorf("model called %d times after cancel", provider.calls())
	}
}

type cancellingDispatcher struct {
	cancel context.CancelFunc
}

func (d *cancellingDispatcher) CallTool(context.Context, string, map[string]any) string {
	d.cancel()
	return "{}"
}

func TestRunEmitFailure(t *testing.T) {
	provider := &scriptedProvider{replies: []*llm.Reply{text("hello")}}
	rt := New(Deps{Provider: provider, Dispatcher: &fakeDispatcher{}})

	out := &recorder{failAt: 1}
	if _, err := rt.Run(gateway.NewRun(types.SourceAPI, "llama3.1"), userRequest("hi"), out); err == nil {
		t.Fatal("expected emit error")
	}
	if out.done != 0 {
		t.Error("done must not be written after a failed emit")
	}
}

func TestRunTranscriptAndArtifacts(t *testing.T) {
	engine, err := ctxengine.New("cl100k_base")
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	events := state.NewEventStore(dir)
	artifacts := state.NewArtifactStore(dir)

	big := strings.Repeat("row data ", 400)
	provider := &scriptedProvider{replies: []*llm.Reply{
		toolReply("", llm.TypedToolCall{ID: "c1", Name: "execute_query", Arguments: `{"query":"SELECT 1"}`}),
		text("done"),
	}}
	rt := New(Deps{
		Provider:            provider,
		Dispatcher:          &fakeDispatcher{results: map[string]string{"execute_query": big}},
		Engine:              engine,
		Events:              events,
		Artifacts:           artifacts,
		MaxToolResultTokens: 50,
	})

	run := gateway.NewRun(types.SourceAPI, "llama3.1")
	if _, err := rt.Run(run, userRequest("query"), &recorder{}); err != nil {
		t.Fatal(err)
	}

	toolMsg := provider.requests[1].Messages[len(provider.requests[1].Messages)-1]
	if !strings.Contains(toolMsg.Content, "[truncated: showing 50 of") || len(toolMsg.Content) >= len(big) {
		t.Errorf("tool result not truncated: %d bytes", len(toolMsg.Content))
	}

	ctx := context.Background()
	metas, err := artifacts.List(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 1 || metas[0].Tool != "execute_query" || metas[0].CallID != "c1" {
		t.Fatalf("artifacts = %+v", metas)
	}
	full, err := artifacts.Get(ctx, metas[0].ID)
	if err != nil || full != big {
		t.Errorf("artifact content mismatch (err=%v)", err)
	}

	evs, err := events.List(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	var kinds []string
	for _, e := range evs {
		kinds = append(kinds, e.Type)
	}
	want := []string{types.EventUserMessage, types.EventToolCall, types.EventToolResult, types.EventAssistantMessage, types.EventFinish}
	if strings.Join(kinds, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", kinds, want)
	}

	var result map[string]any
	if err := json.Unmarshal(evs[2].Payload, &result); err != nil {
		t.Fatal(err)
	}
	if result["artifact_id"] != string(metas[0].ID) {
		t.Errorf("tool_result event missing artifact id: %v", result)
	}
}

func TestRunThroughGateway(t *testing.T) {
	gw := gateway.New(1, nil)
	provider := &scriptedProvider{replies: []*llm.Reply{text("ok")}}
	rt := New(Deps{Provider: provider, Dispatcher: &fakeDispatcher{}, Gateway: gw})

	run := gateway.NewRun(types.SourceAPI, "llama3.1")
	if _, err := rt.Run(run, userRequest("hi"), &Collector{}); err != nil {
		t.Fatal(err)
	}
	if gw.Limiter().Active() != 0 {
		t.Error("slot not released")
	}
	info := run.Info()
	if info.Status != gateway.RunStatusComplete || info.Phase != string(PhaseDone) || info.FinishReason != FinishStop {
		t.Errorf("run info = %+v", info)
	}
}

func TestCollector(t *testing.T) {
	c := &Collector{}
	c.Emit("a", "")
	c.Emit("b", FinishLength)
	c.Done()
	if c.Text() != "ab" || c.FinishReason() != FinishLength || !c.Closed() {
		t.Errorf("collector = %q %q %v", c.Text(), c.FinishReason(), c.Closed())
	}
}

func TestNudge(t *testing.T) {
	tests := []struct {
		name   string
		result string
		want   string
		ok     bool
	}{
		{"prefers table", `{"results":[{"name":"v","type":"View"},{"name":"T","type":"Table"}]}`, "T", true},
		{"falls back to first", `{"results":[{"name":"v","type":"View"},{"name":"p","type":"Procedure"}]}`, "v", true},
		{"null name", `{"results":[{"name":null,"type":"Table"}]}`, "", false},
		{"empty", `{"results":[]}`, "", false},
		{"not json", `MCP tool call failed: boom`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Nudge(tt.result)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != `Now call query_table with table_name="`+tt.want+`" to get the actual data rows.` {
				t.Errorf("got %q", got)
			}
		})
	}
}

func TestNeedsNudge(t *testing.T) {
	call := func(name string) llm.ToolCall { return llm.ToolCall{Function: llm.FunctionCall{Name: name}} }
	if !needsNudge([]llm.ToolCall{call("search_tables")}) {
		t.Error("single search should nudge")
	}
	if needsNudge([]llm.ToolCall{call("search_tables"), call("search_tables")}) {
		t.Error("repeated search should not nudge")
	}
	if needsNudge(nil) {
		t.Error("no calls should not nudge")
	}
}
