package sqlindex

import (
	"regexp"
	"strings"
)

const (
	maxColumns      = 50
	maxParameters   = 20
	maxDependencies = 20
)

// qualified matches an optional schema prefix followed by a possibly
// bracketed or quoted identifier, capturing the bare identifier.
const qualified = `(?:[\["]?\w+[\]"]?\.)?[\["]?(\w+)[\]"]?`

type kindPattern struct {
	kind Kind
	re   *regexp.Regexp
}

// Order matters: the first matching pattern decides the kind.
var kindPatterns = []kindPattern{
	{KindTable, regexp.MustCompile(`(?im)CREATE\s+TABLE\s+` + qualified)},
	{KindView, regexp.MustCompile(`(?im)CREATE\s+(?:OR\s+ALTER\s+)?VIEW\s+` + qualified)},
	{KindProcedure, regexp.MustCompile(`(?im)CREATE\s+(?:OR\s+ALTER\s+)?PROC(?:EDURE)?\s+` + qualified)},
	{KindFunction, regexp.MustCompile(`(?im)CREATE\s+(?:OR\s+ALTER\s+)?FUNCTION\s+` + qualified)},
	{KindTrigger, regexp.MustCompile(`(?im)CREATE\s+(?:OR\s+ALTER\s+)?TRIGGER\s+` + qualified)},
}

var (
	columnPattern     = regexp.MustCompile(`(?i)\[(\w+)\]\s+(\w+(?:\s*\([^)]+\))?)`)
	parameterPattern  = regexp.MustCompile(`(?i)@(\w+)\s+(\w+(?:\s*\([^)]+\))?)`)
	dependencyPattern = regexp.MustCompile(`(?i)(?:FROM|JOIN|INTO)\s+` + qualified)
)

// Extraction holds everything derived from one file's text.
type Extraction struct {
	Kind         Kind
	Name         string
	Columns      []Column
	Parameters   []Column
	Dependencies []string
}

// Extract runs every extractor over content. It never fails: text that
// matches nothing yields KindUnknown with empty derived fields.
func Extract(content string) Extraction {
	kind, name := DetectKind(content)
	return Extraction{
		Kind:         kind,
		Name:         name,
		Columns:      ExtractColumns(content, kind),
		Parameters:   ExtractParameters(content, kind),
		Dependencies: ExtractDependencies(content),
	}
}

// DetectKind returns the kind and bare name of the first CREATE statement
// pattern that matches, or (KindUnknown, "unknown").
func DetectKind(content string) (Kind, string) {
	for _, p := range kindPatterns {
		m := p.re.FindStringSubmatch(content)
		if m == nil {
			continue
		}
		name := strings.Trim(m[1], `[]"`)
		if name == "" {
			name = "unknown"
		}
		return p.kind, name
	}
	return KindUnknown, "unknown"
}

// ExtractColumns returns bracketed column definitions for tables, in
// document order.
func ExtractColumns(content string, kind Kind) []Column {
	if kind != KindTable {
		return nil
	}
	return pairs(columnPattern, content, maxColumns, "")
}

// ExtractParameters returns @-prefixed parameters for procedures and functions.
func ExtractParameters(content string, kind Kind) []Column {
	if kind != KindProcedure && kind != KindFunction {
		return nil
	}
	return pairs(parameterPattern, content, maxParameters, "@")
}

func pairs(re *regexp.Regexp, content string, limit int, prefix string) []Column {
	matches := re.FindAllStringSubmatch(content, limit)
	if len(matches) == 0 {
		return nil
	}
	out := make([]Column, 0, len(matches))
	for _, m := range matches {
		out = append(out, Column{Name: prefix + m[1], Type: strings.TrimSpace(m[2])})
	}
	return out
}

// ExtractDependencies returns the distinct names following FROM, JOIN and
// INTO, in first-seen order.
func ExtractDependencies(content string) []string {
	var deps []string
	seen := make(map[string]bool)
	for _, m := range dependencyPattern.FindAllStringSubmatch(content, -1) {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		deps = append(deps, m[1])
		if len(deps) == maxDependencies {
			break
		}
	}
	return deps
}
