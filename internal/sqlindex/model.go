// Package sqlindex builds and searches an in-memory index of SQL source files.
package sqlindex

import (
	"math"
	"strings"
	"time"
)

// Kind is the kind of SQL object a file defines.
type Kind string

const (
	KindTable     Kind = "table"
	KindView      Kind = "view"
	KindProcedure Kind = "procedure"
	KindFunction  Kind = "function"
	KindTrigger   Kind = "trigger"
	KindIndex     Kind = "index"
	KindUnknown   Kind = "unknown"
)

// ValidKindNames lists the kinds accepted as search and listing filters.
const ValidKindNames = "table, view, procedure, function, trigger"

// ParseKind parses a filter value case-insensitively. Only the kinds that the
// extractor can produce from a CREATE statement are accepted.
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(strings.ToLower(s)); k {
	case KindTable, KindView, KindProcedure, KindFunction, KindTrigger, KindIndex, KindUnknown:
		return k, true
	default:
		return "", false
	}
}

// Column is a name/type pair used for both table columns and routine parameters.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Object is one SQL object extracted from one file. Fields are not modified
// after NewObject returns.
type Object struct {
	Name         string
	Kind         Kind
	Path         string
	Content      string
	Size         int64
	ModifiedAt   time.Time
	Columns      []Column
	Parameters   []Column
	Dependencies []string

	lineCount  int
	searchable string
}

// NewObject constructs an Object and derives its line count and search text.
func NewObject(name string, kind Kind, path, content string, size int64, modifiedAt time.Time, ext Extraction) *Object {
	return &Object{
		Name:         name,
		Kind:         kind,
		Path:         path,
		Content:      content,
		Size:         size,
		ModifiedAt:   modifiedAt,
		Columns:      ext.Columns,
		Parameters:   ext.Parameters,
		Dependencies: ext.Dependencies,
		lineCount:    countLines(content),
		searchable:   strings.ToLower(name + " " + string(kind) + " " + content),
	}
}

// LineCount returns the number of lines in the file content.
func (o *Object) LineCount() int { return o.lineCount }

// Searchable returns the lower-cased name, kind and content used for scoring.
func (o *Object) Searchable() string { return o.searchable }

// countLines counts line segments the way a line splitter would: a trailing
// terminator does not start a new line and \r\n counts once.
func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\n':
			n++
		case '\r':
			n++
			if i+1 < len(s) && s[i+1] == '\n' {
				i++
			}
		}
	}
	if last := s[len(s)-1]; last != '\n' && last != '\r' {
		n++
	}
	return n
}

// Stats aggregates the outcome of one index build.
type Stats struct {
	TotalFiles   int
	TotalObjects int
	Tables       int
	Views        int
	Procedures   int
	Functions    int
	Triggers     int
	Unknown      int
	FailedFiles  int
	TotalBytes   int64
	Elapsed      time.Duration
}

func (s *Stats) count(k Kind) {
	switch k {
	case KindTable:
		s.Tables++
	case KindView:
		s.Views++
	case KindProcedure:
		s.Procedures++
	case KindFunction:
		s.Functions++
	case KindTrigger:
		s.Triggers++
	default:
		s.Unknown++
	}
}

// Breakdown is the per-kind part of a StatsSummary.
type Breakdown struct {
	Tables     int `json:"tables"`
	Views      int `json:"views"`
	Procedures int `json:"procedures"`
	Functions  int `json:"functions"`
	Triggers   int `json:"triggers"`
	Unknown    int `json:"unknown"`
}

// StatsSummary is the wire form of Stats.
type StatsSummary struct {
	TotalFiles       int       `json:"total_files"`
	TotalObjects     int       `json:"total_objects"`
	Breakdown        Breakdown `json:"breakdown"`
	FailedFiles      int       `json:"failed_files"`
	TotalSizeMB      float64   `json:"total_size_mb"`
	IndexTimeSeconds float64   `json:"index_time_seconds"`
}

// Summary rounds sizes and durations to two decimals.
func (s Stats) Summary() StatsSummary {
	return StatsSummary{
		TotalFiles:   s.TotalFiles,
		TotalObjects: s.TotalObjects,
		Breakdown: Breakdown{
			Tables:     s.Tables,
			Views:      s.Views,
			Procedures: s.Procedures,
			Functions:  s.Functions,
			Triggers:   s.Triggers,
			Unknown:    s.Unknown,
		},
		FailedFiles:      s.FailedFiles,
		TotalSizeMB:      round2(float64(s.TotalBytes) / (1024 * 1024)),
		IndexTimeSeconds: round2(s.Elapsed.Seconds()),
	}
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
