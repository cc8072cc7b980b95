// Package dispatch forwards model tool calls to a remote MCP tool server over
// the streamable HTTP transport.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperr "github.com/Shreyas-ITB/Vibgyor-Optimus/internal/errors"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/tools"
)

const (
	// ProtocolVersion is offered during the initialize handshake.
	ProtocolVersion = "2024-11-05"

	DefaultURL           = "http://localhost:8001/mcp"
	DefaultTimeout       = 60 * time.Second
	DefaultClientName    = "optimus-api"
	DefaultClientVersion = "2.0.0"

	headerSession  = "Mcp-Session-Id"
	headerProtocol = "Mcp-Protocol-Version"
)

var tracer = otel.Tracer("github.com/Shreyas-ITB/Vibgyor-Optimus/internal/dispatch")

var (
	toolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optimus_dispatch_tool_calls_total",
		Help: "Tool calls handled by the dispatcher, by tool and outcome.",
	}, []string{"tool", "status"})

	rpcDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "optimus_mcp_rpc_duration_seconds",
		Help:    "Latency of MCP JSON-RPC requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)

// errSessionExpired marks a 404 on a request that carried a session id.
var errSessionExpired = errors.New("mcp session expired")

// Config configures a Dispatcher.
type Config struct {
	URL           string
	Timeout       time.Duration
	ClientName    string
	ClientVersion string
	HTTPClient    *http.Client
}

// Dispatcher validates tool calls and forwards them to the tool server.
//
// One Dispatcher holds one MCP session and it is shared by every
// conversation that uses it, so calls from concurrent conversations land in
// the same remote session. That is a hazard when the tool server keeps
// per-session state such as the current database: one conversation's
// switch_database is seen by all. Session fields are guarded by mu and the
// handshake by initMu.
type Dispatcher struct {
	cfg     Config
	client  *http.Client
	catalog *tools.Catalog
	logger  *slog.Logger

	initMu sync.Mutex

	mu        sync.Mutex
	ready     bool
	sessionID string
	protocol  string
	seq       int64
}

// New creates a dispatcher. catalog is the allow-list; nil selects every
// tool the tool server hosts.
func New(cfg Config, catalog *tools.Catalog, logger *slog.Logger) *Dispatcher {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ClientName == "" {
		cfg.ClientName = DefaultClientName
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = DefaultClientVersion
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if catalog == nil {
		catalog = tools.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{cfg: cfg, client: client, catalog: catalog, logger: logger}
}

// SessionID returns the current session token, empty before the handshake.
func (d *Dispatcher) SessionID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionID
}

// Reset drops the session so the next call performs a new handshake.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ready = false
	d.sessionID = ""
	d.protocol = ""
}

// CallTool runs one tool and returns its textual result. It never fails:
// rejected names, invalid arguments and transport errors all come back as a
// JSON {"status":"error","message":...} envelope.
func (d *Dispatcher) CallTool(ctx context.Context, name string, args map[string]any) string {
	ctx, span := tracer.Start(ctx, "dispatch.CallTool", trace.WithAttributes(
		attribute.String("tool.name", name),
	))
	defer span.End()

	if !d.catalog.Allowed(name) {
		d.logger.Warn("rejected unknown tool", "tool", name)
		toolCalls.WithLabelValues("unknown", "rejected").Inc()
		span.SetStatus(codes.Error, "unknown tool")
		return ErrorEnvelope(fmt.Sprintf("Tool '%s' does not exist", name))
	}
	if args == nil {
		args = map[string]any{}
	}
	if _, err := d.catalog.Decode(name, args); err != nil {
		d.logger.Warn("rejected tool arguments", "tool", name, "error", err)
		toolCalls.WithLabelValues(name, "invalid").Inc()
		span.SetStatus(codes.Error, "invalid arguments")
		return ErrorEnvelope(apperr.Message(err))
	}

	d.logger.Info("mcp tool call", "tool", name)
	d.logger.Debug("mcp tool arguments", "tool", name, "arguments", args)

	text, err := d.call(ctx, name, args)
	if err != nil {
		d.logger.Error("mcp tool call failed", "tool", name, "error", err)
		toolCalls.WithLabelValues(name, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ErrorEnvelope("MCP tool call failed: " + apperr.Message(err))
	}

	toolCalls.WithLabelValues(name, "ok").Inc()
	d.logger.Info("mcp tool response", "tool", name, "preview", preview(text, 200))
	return text
}

func (d *Dispatcher) call(ctx context.Context, name string, args map[string]any) (string, error) {
	params := callParams{Name: name, Arguments: args}
	for attempt := 0; ; attempt++ {
		if err := d.ensureSession(ctx); err != nil {
			return "", err
		}
		resp, err := d.request(ctx, "tools/call", params)
		if errors.Is(err, errSessionExpired) && attempt == 0 {
			d.logger.Warn("mcp session expired, reinitializing")
			d.Reset()
			continue
		}
		if err != nil {
			return "", err
		}
		return resultText(resp)
	}
}

// resultText returns the first text block of a tools/call result. Results
// without content are returned as the marshalled envelope.
func resultText(resp *rpcResponse) (string, error) {
	if resp == nil {
		return "", apperr.New(apperr.ErrTypeProtocol, "empty response to tools/call")
	}
	if resp.Error != nil {
		return "", apperr.Wrap(resp.Error, apperr.ErrTypeProtocol, resp.Error.Message)
	}
	var result callResult
	if len(resp.Result) > 0 && json.Unmarshal(resp.Result, &result) == nil && len(result.Content) > 0 {
		return result.Content[0].Text, nil
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	return string(data), nil
}

func (d *Dispatcher) ensureSession(ctx context.Context) error {
	d.mu.Lock()
	ready := d.ready
	d.mu.Unlock()
	if ready {
		return nil
	}

	d.initMu.Lock()
	defer d.initMu.Unlock()

	d.mu.Lock()
	ready = d.ready
	d.mu.Unlock()
	if ready {
		return nil
	}
	return d.initialize(ctx)
}

func (d *Dispatcher) initialize(ctx context.Context) error {
	d.logger.Info("initializing mcp session", "url", d.cfg.URL)

	resp, err := d.request(ctx, "initialize", initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo{Name: d.cfg.ClientName, Version: d.cfg.ClientVersion},
	})
	if err != nil {
		return apperr.Wrap(err, apperr.GetType(err), "initializing mcp session")
	}
	if resp == nil {
		return apperr.New(apperr.ErrTypeProtocol, "empty response to initialize")
	}
	if resp.Error != nil {
		return apperr.Wrap(resp.Error, apperr.ErrTypeProtocol, "initializing mcp session")
	}
	var result initializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return apperr.Wrap(err, apperr.ErrTypeProtocol, "decoding initialize result")
	}

	d.mu.Lock()
	d.protocol = result.ProtocolVersion
	if d.protocol == "" {
		d.protocol = ProtocolVersion
	}
	d.mu.Unlock()

	if err := d.notify(ctx, "notifications/initialized"); err != nil {
		d.mu.Lock()
		d.sessionID = ""
		d.protocol = ""
		d.mu.Unlock()
		return apperr.Wrap(err, apperr.GetType(err), "acknowledging initialize")
	}

	d.mu.Lock()
	d.ready = true
	sessionID := d.sessionID
	d.mu.Unlock()

	d.logger.Info("mcp session initialized", "session_id", sessionID,
		"server", result.ServerInfo.Name, "protocol", result.ProtocolVersion)
	return nil
}

// request sends one sequence-numbered call.
func (d *Dispatcher) request(ctx context.Context, method string, params any) (*rpcResponse, error) {
	d.mu.Lock()
	d.seq++
	id := d.seq
	d.mu.Unlock()

	body, err := d.post(ctx, method, rpcRequest{JSONRPC: jsonrpcVersion, ID: &id, Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	resp, err := decodeEnvelope(body)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrTypeProtocol, "invalid mcp response")
	}
	return resp, nil
}

func (d *Dispatcher) notify(ctx context.Context, method string) error {
	_, err := d.post(ctx, method, rpcRequest{JSONRPC: jsonrpcVersion, Method: method})
	return err
}

func (d *Dispatcher) post(ctx context.Context, method string, payload rpcRequest) ([]byte, error) {
	start := time.Now()
	defer func() { rpcDuration.WithLabelValues(method).Observe(time.Since(start).Seconds()) }()

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	d.mu.Lock()
	sessionID, protocol := d.sessionID, d.protocol
	d.mu.Unlock()
	if sessionID != "" {
		req.Header.Set(headerSession, sessionID)
	}
	if protocol != "" {
		req.Header.Set(headerProtocol, protocol)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrTypeNetwork, "sending request to mcp server")
	}
	defer resp.Body.Close()

	if id := resp.Header.Get(headerSession); id != "" {
		d.mu.Lock()
		d.sessionID = id
		d.mu.Unlock()
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrTypeNetwork, "reading mcp response")
	}
	if resp.StatusCode == http.StatusNotFound && sessionID != "" {
		return nil, errSessionExpired
	}
	if resp.StatusCode >= 300 {
		return nil, apperr.Newf(apperr.ErrTypeProtocol, "mcp server returned status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ErrorEnvelope renders the error result handed back to the model.
func ErrorEnvelope(msg string) string {
	data, _ := json.Marshal(envelope{Status: "error", Message: msg})
	return string(data)
}

// preview truncates s to n runes for logging.
func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
