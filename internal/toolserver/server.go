// Package toolserver hosts the database and file index tools as an MCP
// server over streamable HTTP.
package toolserver

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperr "github.com/Shreyas-ITB/Vibgyor-Optimus/internal/errors"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/sqldb"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/sqlindex"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/tools"
)

// Defaults for Config.
const (
	DefaultName    = "Company SQL Database MCP"
	DefaultVersion = "1.0.0"
	DefaultPath    = "/mcp"
)

var (
	invocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optimus_toolserver_invocations_total",
		Help: "Tool invocations handled by the tool server, by tool and status.",
	}, []string{"tool", "status"})

	invocationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "optimus_toolserver_invocation_duration_seconds",
		Help:    "Tool handler latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})
)

// Config configures a Server.
type Config struct {
	Name    string
	Version string
}

// handler runs one tool with its decoded arguments and returns the text
// sent back to the caller.
type handler func(ctx context.Context, args any) string

// Server exposes the tool catalog over MCP. The live tools read from store
// and the index tools from index; either may be empty.
type Server struct {
	mcp      *mcp.Server
	catalog  *tools.Catalog
	index    *sqlindex.Indexer
	store    *sqldb.Store
	logger   *slog.Logger
	handlers map[string]handler
}

// New creates a Server and registers every catalog tool. store may be nil,
// in which case the live tools report that no database is connected.
func New(cfg Config, index *sqlindex.Indexer, store *sqldb.Store, logger *slog.Logger) *Server {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if index == nil {
		index = sqlindex.NewIndexer(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp:     mcp.NewServer(&mcp.Implementation{Name: cfg.Name, Version: cfg.Version}, nil),
		catalog: tools.Default(),
		index:   index,
		store:   store,
		logger:  logger,
	}
	s.handlers = map[string]handler{
		tools.ListDatabases:   s.listDatabases,
		tools.SwitchDatabase:  s.switchDatabase,
		tools.ListTables:      s.listTables,
		tools.GetTableColumns: s.getTableColumns,
		tools.QueryTable:      s.queryTable,
		tools.ExecuteQuery:    s.executeQuery,
		tools.SearchTables:    s.searchTables,

		tools.LoadDatabase:     s.loadDatabase,
		tools.SearchSQL:        s.searchSQL,
		tools.GetSQLFile:       s.getSQLFile,
		tools.ListObjects:      s.listObjects,
		tools.GetTableSchema:   s.getTableSchema,
		tools.GetProcedureInfo: s.getProcedureInfo,
		tools.GetStatistics:    s.getStatistics,
		tools.FindDependencies: s.findDependencies,
	}
	s.register()
	return s
}

// register adds one MCP tool per catalog entry. Arguments are validated by
// the catalog, so the SDK sees the schema only for listing.
func (s *Server) register() {
	for _, spec := range s.catalog.All() {
		var schema map[string]any
		if err := json.Unmarshal(spec.Schema(), &schema); err != nil {
			s.logger.Error("invalid tool schema", "tool", spec.Name, "error", err)
			continue
		}
		name := spec.Name
		s.mcp.AddTool(&mcp.Tool{
			Name:        name,
			Description: spec.Description,
			InputSchema: schema,
		}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			text := s.Call(ctx, name, req.Params.Arguments)
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, nil
		})
	}
}

// MCP returns the underlying MCP server.
func (s *Server) MCP() *mcp.Server { return s.mcp }

// Indexer returns the index the file tools operate on.
func (s *Server) Indexer() *sqlindex.Indexer { return s.index }

// Handler serves MCP at /mcp plus /metrics and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(DefaultPath, mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcp
	}, nil))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Call runs one tool with raw JSON arguments. It always returns text;
// failures are reported as an error envelope.
func (s *Server) Call(ctx context.Context, name string, raw json.RawMessage) string {
	start := time.Now()
	h, ok := s.handlers[name]
	if !ok {
		invocations.WithLabelValues("unknown", "error").Inc()
		return fail("Tool '" + name + "' does not exist")
	}

	args, err := s.catalog.DecodeRaw(name, raw)
	if err != nil {
		invocations.WithLabelValues(name, "invalid").Inc()
		return fail(apperr.Message(err))
	}

	s.logger.Info("tool call", "tool", name)
	text := h(ctx, args)
	invocationDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	invocations.WithLabelValues(name, status(text)).Inc()
	return text
}

// status reads the status field of a response for metrics.
func status(text string) string {
	var env struct {
		Status string `json:"status"`
	}
	if json.Unmarshal([]byte(text), &env) != nil || env.Status == "" {
		return "success"
	}
	return env.Status
}

// envelope is the shape of every failure response.
type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func fail(msg string) string {
	return compact(envelope{Status: "error", Message: msg})
}

// indent renders a success response with two-space indentation.
func indent(v any) string {
	return encode(v, "  ")
}

func compact(v any) string {
	return encode(v, "")
}

func encode(v any, prefix string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if prefix != "" {
		enc.SetIndent("", prefix)
	}
	if err := enc.Encode(v); err != nil {
		return fail("encoding response: " + err.Error())
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}
