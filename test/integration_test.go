//go:build integration

package test

import (
	"context"
	"database/sql"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/dispatch"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/gateway"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/normalize"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/runtime"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/sqldb"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/sqlindex"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/state"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/tools"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/toolserver"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/types"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/pkg/llm"
)

// scriptedModel plays back replies and keeps every request for inspection.
type scriptedModel struct {
	mu       sync.Mutex
	replies  []*llm.Reply
	repeat   *llm.Reply
	requests []*llm.Request
}

func (m *scriptedModel) Name() string { return "scripted" }

func (m *scriptedModel) Complete(_ context.Context, req *llm.Request) (*llm.Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *req
	cp.Messages = append([]llm.Message(nil), req.Messages...)
	m.requests = append(m.requests, &cp)
	if idx := len(m.requests) - 1; idx < len(m.replies) {
		return m.replies[idx], nil
	}
	return m.repeat, nil
}

func (m *scriptedModel) ListModels(context.Context) ([]llm.ModelInfo, error) { return nil, nil }

func (m *scriptedModel) toolMessages() []llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	var out []llm.Message
	for _, msg := range m.requests[len(m.requests)-1].Messages {
		if msg.Role == "tool" {
			out = append(out, msg)
		}
	}
	return out
}

func answer(s string) *llm.Reply {
	return &llm.Reply{Shape: llm.ShapeTyped, Typed: &llm.TypedMessage{Content: s}}
}

func callTool(id, name, args string) *llm.Reply {
	return &llm.Reply{Shape: llm.ShapeTyped, Typed: &llm.TypedMessage{
		ToolCalls: []llm.TypedToolCall{{ID: id, Name: name, Arguments: args}},
	}}
}

// startToolServer serves the MCP tools over a seeded SQLite database and a
// small SQL file tree.
func startToolServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()

	dbPath := filepath.Join(dir, "bolt.db")
	db, err := sql.Open(sqldb.DriverSQLite, dbPath)
	require.NoError(t, err)
	for _, stmt := range []string{
		`CREATE TABLE ScCustomer (CustomerID INTEGER PRIMARY KEY, Name TEXT, City TEXT)`,
		`INSERT INTO ScCustomer VALUES (1, 'Acme', 'Pune'), (2, 'Globex', 'Mumbai')`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	store, err := sqldb.Open(sqldb.Config{
		Driver:  sqldb.DriverSQLite,
		DSNs:    map[string]string{"BoltAtom": dbPath},
		Default: "BoltAtom",
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tree := filepath.Join(dir, "sql")
	require.NoError(t, os.MkdirAll(tree, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tree, "usp_GetCustomer.sql"),
		[]byte("CREATE PROCEDURE usp_GetCustomer @CustomerID INT AS\nSELECT * FROM ScCustomer WHERE CustomerID = @CustomerID\n"), 0o644))
	ix := sqlindex.NewIndexer(nil)
	_, _, err = ix.Load(context.Background(), tree, false)
	require.NoError(t, err)

	srv := httptest.NewServer(toolserver.New(toolserver.Config{}, ix, store, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func newRuntime(t *testing.T, model llm.Provider, url string) (*runtime.Runtime, types.EventStore) {
	t.Helper()
	events := state.NewEventStore(t.TempDir())
	rt := runtime.New(runtime.Deps{
		Provider:   model,
		Dispatcher: dispatch.New(dispatch.Config{URL: url}, tools.ModelCatalog(nil, true), nil),
		Catalog:    tools.ModelCatalog(nil, true),
		Gateway:    gateway.New(2, nil),
		Events:     events,
	})
	return rt, events
}

func ask(question string) *runtime.Request {
	return &runtime.Request{
		Model:    "ministral-3:8b",
		Messages: []normalize.Message{{Role: "user", Content: normalize.TextContent(question)}},
	}
}

func TestEndToEndToolRounds(t *testing.T) {
	srv := startToolServer(t)
	model := &scriptedModel{replies: []*llm.Reply{
		callTool("c1", tools.SearchTables, `{"search_term":"customer"}`),
		callTool("c2", tools.ExecuteQuery, `{"query":"SELECT Name FROM ScCustomer ORDER BY CustomerID"}`),
		answer("There are two customers: Acme and Globex."),
	}}
	rt, events := newRuntime(t, model, srv.URL+toolserver.DefaultPath)

	run := gateway.NewRun(types.SourceAPI, "ministral-3:8b")
	var out runtime.Collector
	res, err := rt.Run(run, ask("list customers"), &out)
	require.NoError(t, err)

	assert.Equal(t, runtime.FinishStop, out.FinishReason())
	assert.True(t, out.Closed())
	assert.Equal(t, "There are two customers: Acme and Globex.", out.Text())
	assert.Equal(t, 3, res.Rounds)

	toolMsgs := model.toolMessages()
	require.Len(t, toolMsgs, 2)
	assert.Equal(t, tools.SearchTables, toolMsgs[0].Name)
	assert.Contains(t, toolMsgs[0].Content, "ScCustomer")
	assert.Equal(t, tools.ExecuteQuery, toolMsgs[1].Name)
	assert.Contains(t, toolMsgs[1].Content, "Globex")

	n, err := events.Count(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestEndToEndIndexTool(t *testing.T) {
	srv := startToolServer(t)
	model := &scriptedModel{replies: []*llm.Reply{
		callTool("c1", tools.GetProcedureInfo, `{"procedure_name":"usp_GetCustomer"}`),
		answer("It takes @CustomerID."),
	}}
	rt, _ := newRuntime(t, model, srv.URL+toolserver.DefaultPath)

	var out runtime.Collector
	_, err := rt.Run(gateway.NewRun(types.SourceAPI, "m"), ask("what does usp_GetCustomer take?"), &out)
	require.NoError(t, err)

	toolMsgs := model.toolMessages()
	require.Len(t, toolMsgs, 1)
	assert.Contains(t, toolMsgs[0].Content, "@CustomerID")
}

func TestEndToEndRoundLimit(t *testing.T) {
	srv := startToolServer(t)
	model := &scriptedModel{repeat: callTool("loop", tools.ListDatabases, `{}`)}
	rt, _ := newRuntime(t, model, srv.URL+toolserver.DefaultPath)

	var out runtime.Collector
	res, err := rt.Run(gateway.NewRun(types.SourceAPI, "m"), ask("loop forever"), &out)
	require.NoError(t, err)

	assert.Equal(t, runtime.FinishLength, out.FinishReason())
	assert.Equal(t, rt.MaxRounds(), res.Rounds)
	assert.Contains(t, out.Text(), "maximum of 20 tool rounds")
}

func TestEndToEndUnknownToolNeverReachesServer(t *testing.T) {
	srv := startToolServer(t)
	model := &scriptedModel{replies: []*llm.Reply{
		callTool("c1", "drop_everything", `{}`),
		answer("I cannot do that."),
	}}
	rt, _ := newRuntime(t, model, srv.URL+toolserver.DefaultPath)

	var out runtime.Collector
	_, err := rt.Run(gateway.NewRun(types.SourceAPI, "m"), ask("drop it all"), &out)
	require.NoError(t, err)

	toolMsgs := model.toolMessages()
	require.Len(t, toolMsgs, 1)
	assert.Contains(t, toolMsgs[0].Content, "Tool 'drop_everything' does not exist")
	assert.Equal(t, "I cannot do that.", out.Text())
}

func TestEndToEndToolServerDown(t *testing.T) {
	srv := startToolServer(t)
	url := srv.URL + toolserver.DefaultPath
	srv.Close()

	model := &scriptedModel{replies: []*llm.Reply{
		callTool("c1", tools.ListDatabases, `{}`),
		answer("The database service is unavailable."),
	}}
	rt, _ := newRuntime(t, model, url)

	var out runtime.Collector
	_, err := rt.Run(gateway.NewRun(types.SourceAPI, "m"), ask("which databases?"), &out)
	require.NoError(t, err)

	toolMsgs := model.toolMessages()
	require.Len(t, toolMsgs, 1)
	assert.True(t, strings.Contains(toolMsgs[0].Content, `"status"`) && strings.Contains(toolMsgs[0].Content, "error"))
	assert.Equal(t, runtime.FinishStop, out.FinishReason())
}
