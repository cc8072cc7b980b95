package sqldb

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	mssql "github.com/microsoft/go-mssqldb"
)

// Row is one result row. Values are rendered as strings, or nil for SQL
// NULL, and marshal as a JSON object in column order.
type Row struct {
	columns []string
	values  []*string
}

// Get returns the value of column name.
func (r Row) Get(name string) (*string, bool) {
	for i, c := range r.columns {
		if c == name {
			return r.values[i], true
		}
	}
	return nil, false
}

// MarshalJSON writes the row as an object, keeping column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if r.values[i] == nil {
			buf.WriteString("null")
			continue
		}
		val, err := json.Marshal(*r.values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// scanRows reads up to limit rows; limit <= 0 reads all.
func scanRows(rows *sql.Rows, limit int) ([]string, []Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("read columns: %w", err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, fmt.Errorf("read column types: %w", err)
	}

	out := []Row{}
	for rows.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		raw := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}
		values := make([]*string, len(columns))
		for i, v := range raw {
			values[i] = render(v, types[i].DatabaseTypeName())
		}
		out = append(out, Row{columns: columns, values: values})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, out, nil
}

// render stringifies a scanned value the way a report would print it.
func render(v any, dbType string) *string {
	var s string
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		s = x
	case []byte:
		s = renderBytes(x, dbType)
	case bool:
		if x {
			s = "True"
		} else {
			s = "False"
		}
	case int64:
		s = strconv.FormatInt(x, 10)
	case float64:
		s = renderFloat(x)
	case float32:
		s = renderFloat(float64(x))
	case time.Time:
		if x.Nanosecond() == 0 {
			s = x.Format(time.DateTime)
		} else {
			s = x.Format("2006-01-02 15:04:05.000000")
		}
	default:
		s = fmt.Sprint(x)
	}
	return &s
}

func renderBytes(b []byte, dbType string) string {
	if strings.EqualFold(dbType, "UNIQUEIDENTIFIER") && len(b) == 16 {
		var id mssql.UniqueIdentifier
		if err := id.Scan(b); err == nil {
			return id.String()
		}
	}
	if utf8.Valid(b) {
		return string(b)
	}
	return fmt.Sprintf("0x%X", b)
}

func renderFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
