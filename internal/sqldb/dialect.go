package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"
)

// Supported drivers.
const (
	DriverSQLServer = "sqlserver"
	DriverSQLite    = "sqlite"
)

// dialect holds the catalog queries of one database engine.
type dialect interface {
	driver() string
	databases(ctx context.Context, db *sql.DB, configured []string) ([]Database, error)
	tables(ctx context.Context, db *sql.DB, schema string) ([]Table, error)
	columns(ctx context.Context, db *sql.DB, schema, table string) ([]Column, error)
	primaryKeys(ctx context.Context, db *sql.DB, schema, table string) ([]string, error)
	foreignKeys(ctx context.Context, db *sql.DB, schema, table string) ([]ForeignKey, error)
	selectTop(q TableQuery) string
	search(ctx context.Context, db *sql.DB, term string) ([]Match, error)
	version(ctx context.Context, db *sql.DB) (string, error)
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverSQLServer, "":
		return sqlServer{}, nil
	case DriverSQLite:
		return sqlite{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

type sqlServer struct{}

func (sqlServer) driver() string { return DriverSQLServer }

func (sqlServer) databases(ctx context.Context, db *sql.DB, _ []string) ([]Database, error) {
	rows, err := db.QueryContext(ctx, `SELECT name, database_id, state_desc FROM sys.databases ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Database{}
	for rows.Next() {
		var d Database
		if err := rows.Scan(&d.Name, &d.ID, &d.State); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (sqlServer) tables(ctx context.Context, db *sql.DB, schema string) ([]Table, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT t.name AS table_name, p.rows AS row_count
		FROM sys.tables t
		INNER JOIN sys.schemas s ON t.schema_id = s.schema_id
		INNER JOIN sys.indexes i ON t.object_id = i.object_id AND i.index_id IN (0,1)
		INNER JOIN sys.partitions p ON i.object_id = p.object_id AND i.index_id = p.index_id
		WHERE s.name = @schema
		ORDER BY t.name`, sql.Named("schema", schema))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Table{}
	for rows.Next() {
		var t Table
		if err := rows.Scan(&t.Name, &t.RowCount); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (sqlServer) columns(ctx context.Context, db *sql.DB, schema, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT c.name, t.name AS data_type, c.max_length, c.precision, c.scale, c.is_nullable, c.is_identity
		FROM sys.columns c
		INNER JOIN sys.types t ON c.user_type_id = t.user_type_id
		WHERE c.object_id = OBJECT_ID(@object)
		ORDER BY c.column_id`, sql.Named("object", schema+"."+table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Column{}
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.DataType, &c.MaxLength, &c.Precision, &c.Scale, &c.Nullable, &c.Identity); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (sqlServer) primaryKeys(ctx context.Context, db *sql.DB, schema, table string) ([]string, error) {
	return queryStrings(ctx, db, `
		SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE OBJECTPROPERTY(OBJECT_ID(CONSTRAINT_SCHEMA + '.' + CONSTRAINT_NAME), 'IsPrimaryKey') = 1
		  AND TABLE_NAME = @table
		  AND TABLE_SCHEMA = @schema`, sql.Named("table", table), sql.Named("schema", schema))
}

func (sqlServer) foreignKeys(ctx context.Context, db *sql.DB, schema, table string) ([]ForeignKey, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT fk.name, c.name AS column_name,
		       OBJECT_NAME(fk.referenced_object_id) AS referenced_table,
		       COL_NAME(fk.referenced_object_id, fkc.referenced_column_id) AS referenced_column
		FROM sys.foreign_keys fk
		INNER JOIN sys.foreign_key_columns fkc ON fk.object_id = fkc.constraint_object_id
		INNER JOIN sys.columns c ON fkc.parent_object_id = c.object_id AND fkc.parent_column_id = c.column_id
		WHERE fk.parent_object_id = OBJECT_ID(@object)`, sql.Named("object", schema+"."+table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanForeignKeys(rows)
}

func (sqlServer) selectTop(q TableQuery) string {
	stmt := fmt.Sprintf("SELECT TOP %d %s FROM [%s].[%s]", q.Limit, q.Columns, q.Schema, q.Table)
	return withFilters(stmt, q)
}

func (sqlServer) search(ctx context.Context, db *sql.DB, term string) ([]Match, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT o.name, s.name AS schema_name,
		       CASE o.type
		           WHEN 'U' THEN 'Table'
		           WHEN 'V' THEN 'View'
		           WHEN 'P' THEN 'Stored Procedure'
		           WHEN 'FN' THEN 'Function'
		           ELSE o.type
		       END AS object_type
		FROM sys.objects o
		INNER JOIN sys.schemas s ON o.schema_id = s.schema_id
		WHERE o.name LIKE '%' + @term + '%'
		  AND o.type IN ('U','V','P','FN')
		ORDER BY o.type, o.name`, sql.Named("term", term))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMatches(rows)
}

func (sqlServer) version(ctx context.Context, db *sql.DB) (string, error) {
	var v string
	if err := db.QueryRowContext(ctx, `SELECT @@VERSION`).Scan(&v); err != nil {
		return "", err
	}
	first, _, _ := strings.Cut(v, "\n")
	return strings.TrimSpace(first), nil
}

// withFilters appends the caller's WHERE and ORDER BY text. Both are passed
// through verbatim.
func withFilters(stmt string, q TableQuery) string {
	if q.Where != "" {
		stmt += " WHERE " + q.Where
	}
	if q.OrderBy != "" {
		stmt += " ORDER BY " + q.OrderBy
	}
	return stmt
}

func queryStrings(ctx context.Context, db *sql.DB, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanForeignKeys(rows *sql.Rows) ([]ForeignKey, error) {
	out := []ForeignKey{}
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.Constraint, &fk.Column, &fk.ReferencesTable, &fk.ReferencesColumn); err != nil {
			return nil, err
		}
		out = append(out, fk)
	}
	return out, rows.Err()
}

func scanMatches(rows *sql.Rows) ([]Match, error) {
	out := []Match{}
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.Name, &m.Schema, &m.Type); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
