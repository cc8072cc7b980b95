// Package sqldb is the live data source behind the database tools. It passes
// statements through to SQL Server or SQLite and renders results as string
// rows.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	apperr "github.com/Shreyas-ITB/Vibgyor-Optimus/internal/errors"
)

// MaxRows caps rows returned by QueryTable and Execute.
const MaxRows = 5000

// ErrNotConnected is returned when no database is configured.
var ErrNotConnected = errors.New("Not connected. Call connect_to_server first.")

// Database is one entry of ListDatabases.
type Database struct {
	Name  string `json:"name"`
	ID    int    `json:"database_id"`
	State string `json:"state"`
}

// Table is one entry of ListTables.
type Table struct {
	Name     string `json:"table_name"`
	RowCount int64  `json:"row_count"`
}

// Column describes one table column.
type Column struct {
	Name      string `json:"column_name"`
	DataType  string `json:"data_type"`
	MaxLength int    `json:"max_length"`
	Precision int    `json:"precision"`
	Scale     int    `json:"scale"`
	Nullable  bool   `json:"is_nullable"`
	Identity  bool   `json:"is_identity"`
}

// ForeignKey is one foreign key column of a table.
type ForeignKey struct {
	Constraint       string `json:"constraint"`
	Column           string `json:"column"`
	ReferencesTable  string `json:"references_table"`
	ReferencesColumn string `json:"references_column"`
}

// TableInfo is the result of Describe.
type TableInfo struct {
	Columns     []Column     `json:"columns"`
	PrimaryKeys []string     `json:"primary_keys"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
}

// Match is one entry of Search.
type Match struct {
	Name   string `json:"name"`
	Schema string `json:"schema"`
	Type   string `json:"type"`
}

// TableQuery is a structured SELECT. Columns, Where and OrderBy are SQL
// fragments inserted verbatim.
type TableQuery struct {
	Schema  string
	Table   string
	Columns string
	Where   string
	OrderBy string
	Limit   int
}

// ResultSet holds the rows of a statement.
type ResultSet struct {
	Columns []string
	Rows    []Row
}

// Config configures a Store.
type Config struct {
	Driver string
	// DSNs maps database names to connection strings. Its keys are the only
	// databases Switch accepts.
	DSNs    map[string]string
	Default string
	Logger  *slog.Logger
}

// Store runs statements against the current database. Each allowed
// database has its own pool, opened on first use.
type Store struct {
	dialect dialect
	dsns    map[string]string
	logger  *slog.Logger

	mu      sync.Mutex
	current string
	pools   map[string]*sql.DB
}

// Open creates a Store. The default database is opened immediately but no
// connection is made until the first statement.
func Open(cfg Config) (*Store, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrTypeConfig, "open database")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		dialect: d,
		dsns:    cfg.DSNs,
		logger:  logger,
		pools:   make(map[string]*sql.DB),
		current: cfg.Default,
	}
	if len(cfg.DSNs) == 0 {
		return s, nil
	}
	if _, ok := cfg.DSNs[cfg.Default]; !ok {
		return nil, apperr.NewConfigError(fmt.Sprintf("default database %q has no DSN", cfg.Default), "database.default")
	}
	if _, err := s.pool(cfg.Default); err != nil {
		return nil, err
	}
	return s, nil
}

// Driver returns the database driver name.
func (s *Store) Driver() string { return s.dialect.driver() }

// Current returns the name of the current database.
func (s *Store) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Allowed returns the configured database names, sorted.
func (s *Store) Allowed() []string {
	return slices.Sorted(maps.Keys(s.dsns))
}

func (s *Store) pool(name string) (*sql.DB, error) {
	if db, ok := s.pools[name]; ok {
		return db, nil
	}
	dsn, ok := s.dsns[name]
	if !ok {
		return nil, apperr.Newf(apperr.ErrTypeValidation, "Database '%s' is not allowed", name)
	}
	db, err := sql.Open(s.dialect.driver(), dsn)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.ErrTypeDatabase, "open %s", name)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)
	s.pools[name] = db
	return db, nil
}

// db returns the pool of the current database.
func (s *Store) db() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.dsns) == 0 {
		return nil, ErrNotConnected
	}
	return s.pool(s.current)
}

// Switch makes name the current database. Only configured names are
// accepted, and the new database must answer a ping.
func (s *Store) Switch(ctx context.Context, name string) error {
	if len(s.dsns) == 0 {
		return ErrNotConnected
	}
	if _, ok := s.dsns[name]; !ok {
		return apperr.Newf(apperr.ErrTypeValidation, "Database '%s' is not allowed", name)
	}

	s.mu.Lock()
	db, err := s.pool(name)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return apperr.Wrapf(err, apperr.ErrTypeDatabase, "connect to %s", name)
	}

	s.mu.Lock()
	prev := s.current
	s.current = name
	s.mu.Unlock()
	s.logger.Info("switched database", "from", prev, "to", name)
	return nil
}

// ListDatabases lists the databases visible to the server.
func (s *Store) ListDatabases(ctx context.Context) ([]Database, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	return s.dialect.databases(ctx, db, s.Allowed())
}

// ListTables lists the tables of schema with their row counts.
func (s *Store) ListTables(ctx context.Context, schema string) ([]Table, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	return s.dialect.tables(ctx, db, schema)
}

// Describe returns the columns and keys of a table.
func (s *Store) Describe(ctx context.Context, schema, table string) (*TableInfo, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	cols, err := s.dialect.columns(ctx, db, schema, table)
	if err != nil {
		return nil, err
	}
	pks, err := s.dialect.primaryKeys(ctx, db, schema, table)
	if err != nil {
		return nil, err
	}
	fks, err := s.dialect.foreignKeys(ctx, db, schema, table)
	if err != nil {
		return nil, err
	}
	return &TableInfo{Columns: cols, PrimaryKeys: pks, ForeignKeys: fks}, nil
}

// BuildSelect renders q as a statement for the current dialect. Limit is
// clamped to 1..MaxRows.
func (s *Store) BuildSelect(q TableQuery) string {
	q.Limit = min(max(1, q.Limit), MaxRows)
	if q.Columns == "" {
		q.Columns = "*"
	}
	return s.dialect.selectTop(q)
}

// QueryTable runs a structured SELECT and returns the statement it ran.
func (s *Store) QueryTable(ctx context.Context, q TableQuery) (*ResultSet, string, error) {
	stmt := s.BuildSelect(q)
	db, err := s.db()
	if err != nil {
		return nil, stmt, err
	}
	s.logger.Info("executing", "sql", stmt)

	rows, err := db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, stmt, err
	}
	defer rows.Close()

	cols, out, err := scanRows(rows, 0)
	if err != nil {
		return nil, stmt, err
	}
	return &ResultSet{Columns: cols, Rows: out}, stmt, nil
}

// Execute runs a raw statement. For statements without a result set it
// returns a nil ResultSet. maxRows is clamped to 1..MaxRows.
func (s *Store) Execute(ctx context.Context, query string, maxRows int) (*ResultSet, error) {
	maxRows = min(max(1, maxRows), MaxRows)
	db, err := s.db()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		// Drain so that statements with deferred errors report them.
		for rows.Next() {
		}
		return nil, rows.Err()
	}

	cols, out, err := scanRows(rows, maxRows)
	if err != nil {
		return nil, err
	}
	return &ResultSet{Columns: cols, Rows: out}, nil
}

// Search finds tables, views, procedures and functions whose name contains
// term.
func (s *Store) Search(ctx context.Context, term string) ([]Match, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	return s.dialect.search(ctx, db, term)
}

// Check is the outcome of pinging one configured database.
type Check struct {
	Database string        `json:"database"`
	OK       bool          `json:"ok"`
	Version  string        `json:"version,omitempty"`
	Latency  time.Duration `json:"latency"`
	Error    string        `json:"error,omitempty"`
}

// CheckAll pings every configured database and reads its server version.
func (s *Store) CheckAll(ctx context.Context) []Check {
	names := s.Allowed()
	out := make([]Check, 0, len(names))
	for _, name := range names {
		start := time.Now()
		c := Check{Database: name}

		s.mu.Lock()
		db, err := s.pool(name)
		s.mu.Unlock()
		if err == nil {
			err = db.PingContext(ctx)
		}
		if err == nil {
			c.Version, err = s.dialect.version(ctx, db)
		}
		c.Latency = time.Since(start)
		if err != nil {
			c.Error = err.Error()
		} else {
			c.OK = true
		}
		out = append(out, c)
	}
	return out
}

// Close closes every open pool.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, name := range slices.Sorted(maps.Keys(s.pools)) {
		if err := s.pools[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	clear(s.pools)
	return errors.Join(errs...)
}
