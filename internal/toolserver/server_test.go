package toolserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/sqldb"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/tools"
)

func liveStore(t *testing.T) *sqldb.Store {
	t.Helper()
	dir := t.TempDir()
	paths := map[string]string{
		"BoltAtom": filepath.Join(dir, "bolt.db"),
		"HRMS_Dev": filepath.Join(dir, "hrms.db"),
	}
	seed := map[string][]string{
		"BoltAtom": {
			`CREATE TABLE ScCustomer (CustomerID INTEGER PRIMARY KEY, Name TEXT, City TEXT)`,
			`CREATE VIEW vwCustomer AS SELECT Name FROM ScCustomer`,
			`INSERT INTO ScCustomer VALUES (1, 'Acme', 'Pune'), (2, 'Globex', NULL)`,
		},
		"HRMS_Dev": {
			`CREATE TABLE Employee (EmployeeID INTEGER PRIMARY KEY, FullName TEXT)`,
		},
	}
	for name, stmts := range seed {
		db, err := sql.Open(sqldb.DriverSQLite, paths[name])
		require.NoError(t, err)
		for _, s := range stmts {
			_, err := db.Exec(s)
			require.NoError(t, err)
		}
		db.Close()
	}

	store, err := sqldb.Open(sqldb.Config{Driver: sqldb.DriverSQLite, DSNs: paths, Default: "BoltAtom"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sqlTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"tables/ScCustomer.sql":     "CREATE TABLE [dbo].[ScCustomer] (\n [CustomerID] INT,\n [Name] NVARCHAR(100)\n)\n",
		"procs/usp_GetCustomer.sql": "CREATE PROCEDURE usp_GetCustomer @CustomerID INT AS\nSELECT * FROM ScCustomer WHERE CustomerID = @CustomerID\n",
	}
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func call(t *testing.T, s *Server, name string, args any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	text := s.Call(context.Background(), name, raw)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &out), text)
	return out
}

func TestLiveTools(t *testing.T) {
	s := New(Config{}, nil, liveStore(t), nil)

	out := call(t, s, tools.SearchTables, map[string]any{"search_term": "customer"})
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, "BoltAtom", out["database"])
	assert.EqualValues(t, 2, out["total_results"])
	first := out["results"].([]any)[0].(map[string]any)
	assert.Equal(t, "ScCustomer", first["name"])
	assert.Equal(t, "Table", first["type"])

	out = call(t, s, tools.QueryTable, map[string]any{"table_name": "ScCustomer", "order_by": "CustomerID", "limit": "1"})
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, "dbo.ScCustomer", out["table"])
	assert.Equal(t, `SELECT * FROM "ScCustomer" ORDER BY CustomerID LIMIT 1`, out["sql_executed"])
	assert.EqualValues(t, 1, out["row_count"])
	assert.Equal(t, []any{"CustomerID", "Name", "City"}, out["columns"])

	out = call(t, s, tools.ExecuteQuery, map[string]any{"query": "SELECT Name, City FROM ScCustomer ORDER BY CustomerID"})
	assert.Equal(t, false, out["truncated"])
	rows := out["rows"].([]any)
	require.Len(t, rows, 2)
	assert.Nil(t, rows[1].(map[string]any)["City"])

	out = call(t, s, tools.ExecuteQuery, map[string]any{"query": "SELECT Name FROM ScCustomer", "max_rows": 2})
	assert.Equal(t, true, out["truncated"])

	out = call(t, s, tools.ExecuteQuery, map[string]any{"query": "DELETE FROM ScCustomer WHERE CustomerID = 2"})
	assert.Equal(t, "Query executed successfully", out["message"])

	out = call(t, s, tools.GetTableColumns, map[string]any{"table_name": "ScCustomer"})
	assert.Equal(t, []any{"CustomerID"}, out["primary_keys"])
	assert.Len(t, out["columns"], 3)

	out = call(t, s, tools.ListTables, map[string]any{})
	assert.EqualValues(t, 1, out["total_tables"])
}

func TestSwitchDatabase(t *testing.T) {
	s := New(Config{}, nil, liveStore(t), nil)

	out := call(t, s, tools.SwitchDatabase, map[string]any{"database_name": "master"})
	assert.Equal(t, "error", out["status"])
	assert.Equal(t, "Database 'master' is not allowed", out["message"])

	out = call(t, s, tools.SwitchDatabase, map[string]any{"database_name": "HRMS_Dev"})
	assert.Equal(t, "HRMS_Dev", out["current_database"])

	out = call(t, s, tools.ListTables, map[string]any{"schema": "dbo"})
	assert.Equal(t, "HRMS_Dev", out["database"])
	assert.EqualValues(t, 1, out["total_tables"])
}

func TestLiveToolsWithoutStore(t *testing.T) {
	s := New(Config{}, nil, nil, nil)
	out := call(t, s, tools.ListDatabases, map[string]any{})
	assert.Equal(t, "error", out["status"])
	assert.Equal(t, sqldb.ErrNotConnected.Error(), out["message"])
}

func TestArgumentErrors(t *testing.T) {
	s := New(Config{}, nil, nil, nil)

	out := call(t, s, "drop_everything", map[string]any{})
	assert.Equal(t, "Tool 'drop_everything' does not exist", out["message"])

	out = call(t, s, tools.QueryTable, map[string]any{})
	assert.Equal(t, "error", out["status"])
	assert.Contains(t, out["message"], "Invalid arguments for tool 'query_table'")
}

func TestIndexTools(t *testing.T) {
	s := New(Config{}, nil, nil, nil)
	root := sqlTree(t)

	out := call(t, s, tools.SearchSQL, map[string]any{"query": "customer"})
	assert.Equal(t, notIndexed, out["message"])
	out = call(t, s, tools.GetStatistics, map[string]any{})
	assert.Equal(t, notIndexed, out["message"])

	out = call(t, s, tools.LoadDatabase, map[string]any{"path": root})
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, "Successfully indexed 2 SQL objects", out["message"])

	out = call(t, s, tools.LoadDatabase, map[string]any{"path": root})
	assert.Equal(t, "already_indexed", out["status"])

	out = call(t, s, tools.LoadDatabase, map[string]any{"path": filepath.Join(root, "missing")})
	assert.Equal(t, "error", out["status"])
	assert.True(t, strings.HasPrefix(out["message"].(string), "Failed to index database: Path does not exist"))

	out = call(t, s, tools.SearchSQL, map[string]any{"query": "customer", "object_type": "procedure"})
	assert.EqualValues(t, 1, out["total_results"])

	out = call(t, s, tools.SearchSQL, map[string]any{"query": "customer", "object_type": "sequence"})
	assert.Contains(t, out["message"], "Invalid object_type: sequence")

	out = call(t, s, tools.ListObjects, map[string]any{"object_type": "table"})
	assert.EqualValues(t, 1, out["total_results"])
	assert.Equal(t, map[string]any{"object_type": "table", "name_pattern": "none"}, out["filters"])

	out = call(t, s, tools.GetTableSchema, map[string]any{"table_name": "sccustomer"})
	assert.Equal(t, "ScCustomer", out["table_name"])
	assert.Len(t, out["columns"], 2)

	out = call(t, s, tools.GetProcedureInfo, map[string]any{"procedure_name": "usp_GetCustomer"})
	assert.Equal(t, []any{map[string]any{"name": "@CustomerID", "type": "INT"}}, out["parameters"])

	out = call(t, s, tools.FindDependencies, map[string]any{"object_name": "ScCustomer"})
	deps := out["dependent_objects"].([]any)
	require.Len(t, deps, 1)
	assert.Equal(t, "usp_GetCustomer", deps[0].(map[string]any)["name"])

	out = call(t, s, tools.GetStatistics, map[string]any{})
	assert.Equal(t, root, out["indexed_path"])
	assert.EqualValues(t, 2, out["total_objects"])

	path := filepath.Join(root, "tables", "ScCustomer.sql")
	text := s.Call(context.Background(), tools.GetSQLFile, mustJSON(t, map[string]any{"path": path}))
	assert.True(t, strings.HasPrefix(text, "CREATE TABLE"), text)

	out = call(t, s, tools.GetSQLFile, map[string]any{"path": path, "include_metadata": true})
	assert.Equal(t, "table", out["type"])
	assert.EqualValues(t, 4, out["line_count"])
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestMCPTransport(t *testing.T) {
	s := New(Config{Name: "test-tools"}, nil, nil, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx := context.Background()
	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: srv.URL + DefaultPath}, nil)
	require.NoError(t, err)
	defer session.Close()

	assert.Equal(t, "test-tools", session.InitializeResult().ServerInfo.Name)

	list, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, list.Tools, len(tools.Default().Names()))

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: tools.GetStatistics, Arguments: map[string]any{}})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	text := res.Content[0].(*mcp.TextContent).Text
	assert.Contains(t, text, notIndexed)
}
