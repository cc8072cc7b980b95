package config

import (
	"reflect"
	"testing"
)

func TestFlatten(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]any
		want map[string]any
	}{
		{"empty", map[string]any{}, map[string]any{}},
		{"top level", map[string]any{"log_level": "info", "max_tool_rounds": 20}, map[string]any{"log_level": "info", "max_tool_rounds": 20}},
		{
			"nested",
			map[string]any{"llm": map[string]any{"provider": "ollama", "temperature": 0.7}},
			map[string]any{"llm.provider": "ollama", "llm.temperature": 0.7},
		},
		{
			"dsn map",
			map[string]any{"database": map[string]any{"driver": "sqlite", "dsns": map[string]any{"BoltAtom": "bolt.db", "HRMS_Dev": "hrms.db"}}},
			map[string]any{"database.driver": "sqlite", "database.dsns.BoltAtom": "bolt.db", "database.dsns.HRMS_Dev": "hrms.db"},
		},
		{"empty nested map", map[string]any{"transcripts": map[string]any{}}, map[string]any{}},
		{
			"mixed types",
			map[string]any{"mcp": map[string]any{"expose_index_tools": true, "timeout_seconds": 60.0, "url": "http://localhost:8001/mcp"}},
			map[string]any{"mcp.expose_index_tools": true, "mcp.timeout_seconds": 60.0, "mcp.url": "http://localhost:8001/mcp"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Flatten(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Flatten() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUnflatten(t *testing.T) {
	got := Unflatten(map[string]any{
		"log_level":              "debug",
		"tool_server.index_path": "/srv/sql",
		"database.dsns.BoltAtom": "sqlserver://sa@localhost?database=BoltAtom",
	})
	want := map[string]any{
		"log_level":   "debug",
		"tool_server": map[string]any{"index_path": "/srv/sql"},
		"database": map[string]any{
			"dsns": map[string]any{"BoltAtom": "sqlserver://sa@localhost?database=BoltAtom"},
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Unflatten() = %v, want %v", got, want)
	}
}

func TestRoundTrip_FlattenUnflatten(t *testing.T) {
	cfg := Defaults()
	cfg.Database.DSNs = map[string]string{"BoltAtom": "bolt.db"}
	m, err := ToMap(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if restored := Unflatten(Flatten(m)); !reflect.DeepEqual(restored, m) {
		t.Errorf("round trip mismatch:\n got %v\nwant %v", restored, m)
	}
}

func TestIsSecretKey(t *testing.T) {
	for key, want := range map[string]bool{
		"llm.api_key":            true,
		"telegram.token":         true,
		"database.dsns.BoltAtom": true,
		"database.driver":        false,
		"llm.model":              false,
	} {
		if got := IsSecretKey(key); got != want {
			t.Errorf("IsSecretKey(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestMaskSecrets(t *testing.T) {
	got := MaskSecrets(map[string]any{
		"llm.api_key":            "sk-abcdef1234",
		"telegram.token":         "",
		"database.dsns.HRMS_Dev": "abc",
		"database.dsns.BoltAtom": "sqlserver://sa:pw@db?database=BoltAtom",
		"llm.model":              "ministral-3:8b",
	})
	want := map[string]any{
		"llm.api_key":            "***1234",
		"telegram.token":         "",
		"database.dsns.HRMS_Dev": "***abc",
		"database.dsns.BoltAtom": "***Atom",
		"llm.model":              "ministral-3:8b",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MaskSecrets() = %v, want %v", got, want)
	}
}

func TestSetPath_NestedKeyWinsOverNull(t *testing.T) {
	want := map[string]any{"database": map[string]any{"dsns": map[string]any{"BoltAtom": "bolt.db"}}}

	nullFirst := map[string]any{}
	setPath(nullFirst, []string{"database", "dsns"}, nil)
	setPath(nullFirst, []string{"database", "dsns", "BoltAtom"}, "bolt.db")

	nullLast := map[string]any{}
	setPath(nullLast, []string{"database", "dsns", "BoltAtom"}, "bolt.db")
	setPath(nullLast, []string{"database", "dsns"}, nil)

	for name, got := range map[string]map[string]any{"null first": nullFirst, "null last": nullLast} {
		if !reflect.DeepEqual(got, want) {
			t.Errorf("%s: got %v, want %v", name, got, want)
		}
	}
}
