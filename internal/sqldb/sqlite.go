package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// sqlite maps the catalog queries onto sqlite_master and the table-valued
// pragmas. A file holds one schema, so schema arguments are ignored.
type sqlite struct{}

func (sqlite) driver() string { return DriverSQLite }

func (sqlite) databases(_ context.Context, _ *sql.DB, configured []string) ([]Database, error) {
	out := make([]Database, 0, len(configured))
	for i, name := range configured {
		out = append(out, Database{Name: name, ID: i + 1, State: "ONLINE"})
	}
	return out, nil
}

func (sqlite) tables(ctx context.Context, db *sql.DB, _ string) ([]Table, error) {
	names, err := queryStrings(ctx, db,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	out := make([]Table, 0, len(names))
	for _, name := range names {
		t := Table{Name: name}
		if err := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, quoteIdent(name))).Scan(&t.RowCount); err != nil {
			return nil, fmt.Errorf("count rows of %s: %w", name, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (sqlite) columns(ctx context.Context, db *sql.DB, _ string, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx, `SELECT name, type, "notnull", pk FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Column{}
	for rows.Next() {
		var (
			c       Column
			notNull int
			pk      int
		)
		if err := rows.Scan(&c.Name, &c.DataType, &notNull, &pk); err != nil {
			return nil, err
		}
		c.DataType = strings.ToLower(c.DataType)
		c.Nullable = notNull == 0
		c.Identity = pk == 1 && c.DataType == "integer"
		out = append(out, c)
	}
	return out, rows.Err()
}

func (sqlite) primaryKeys(ctx context.Context, db *sql.DB, _ string, table string) ([]string, error) {
	return queryStrings(ctx, db, `SELECT name FROM pragma_table_info(?) WHERE pk > 0 ORDER BY pk`, table)
}

func (sqlite) foreignKeys(ctx context.Context, db *sql.DB, _ string, table string) ([]ForeignKey, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT 'fk_' || ? || '_' || id, "from", "table", COALESCE("to", '') FROM pragma_foreign_key_list(?) ORDER BY id, seq`,
		table, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanForeignKeys(rows)
}

func (sqlite) selectTop(q TableQuery) string {
	stmt := withFilters(fmt.Sprintf("SELECT %s FROM %s", q.Columns, quoteIdent(q.Table)), q)
	return fmt.Sprintf("%s LIMIT %d", stmt, q.Limit)
}

func (sqlite) search(ctx context.Context, db *sql.DB, term string) ([]Match, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT name, 'main',
		       CASE type WHEN 'table' THEN 'Table' WHEN 'view' THEN 'View' ELSE type END
		FROM sqlite_master
		WHERE name LIKE '%' || ? || '%'
		  AND type IN ('table', 'view')
		  AND name NOT LIKE 'sqlite_%'
		ORDER BY type, name`, term)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMatches(rows)
}

func (sqlite) version(ctx context.Context, db *sql.DB) (string, error) {
	var v string
	if err := db.QueryRowContext(ctx, `SELECT sqlite_version()`).Scan(&v); err != nil {
		return "", err
	}
	return "SQLite " + v, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
