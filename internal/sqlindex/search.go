package sqlindex

import (
	"sort"
	"strings"
	"unicode"
)

const (
	scoreExactName  = 100
	scoreNameSubstr = 50
	scoreTermName   = 20
	scoreQueryText  = 10
	scoreTermText   = 2

	snippetBefore = 50
	snippetAfter  = 100
)

// Result is one ranked search hit.
type Result struct {
	Name           string  `json:"name"`
	Type           Kind    `json:"type"`
	Path           string  `json:"path"`
	RelevanceScore float64 `json:"relevance_score"`
	LineCount      int     `json:"line_count"`
	MatchedSnippet *string `json:"matched_snippet"`
}

// Search scores objects against query and returns at most limit results by
// descending score. Equal scores keep collection order. When kinds is
// non-empty only objects of those kinds are considered.
func Search(objects []*Object, query string, limit int, kinds ...Kind) []Result {
	q := strings.ToLower(query)
	terms := strings.Fields(q)

	var results []Result
	for _, obj := range objects {
		if len(kinds) > 0 && !containsKind(kinds, obj.Kind) {
			continue
		}
		score := Score(obj, q, terms)
		if score <= 0 {
			continue
		}
		results = append(results, Result{
			Name:           obj.Name,
			Type:           obj.Kind,
			Path:           obj.Path,
			RelevanceScore: score,
			LineCount:      obj.LineCount(),
			MatchedSnippet: snippet(obj.Content, query),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})
	if limit >= 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Score computes the additive relevance of obj for a lower-cased query and
// its whitespace-split terms.
func Score(obj *Object, query string, terms []string) float64 {
	name := strings.ToLower(obj.Name)
	var score float64

	switch {
	case name == query:
		score += scoreExactName
	case strings.Contains(name, query):
		score += scoreNameSubstr
	}
	for _, term := range terms {
		if strings.Contains(name, term) {
			score += scoreTermName
		}
	}
	if strings.Contains(obj.searchable, query) {
		score += scoreQueryText
	}
	for _, term := range terms {
		if strings.Contains(obj.searchable, term) {
			score += scoreTermText
		}
	}
	return score
}

// snippet returns the text from 50 characters before to 100 characters after
// the first case-insensitive occurrence of query, trimmed, or nil.
func snippet(content, query string) *string {
	text := []rune(content)
	lower := make([]rune, len(text))
	for i, r := range text {
		lower[i] = unicode.ToLower(r)
	}
	needle := []rune(query)
	for i, r := range needle {
		needle[i] = unicode.ToLower(r)
	}

	idx := indexRunes(lower, needle)
	if idx < 0 {
		return nil
	}
	start := max(0, idx-snippetBefore)
	end := min(len(text), idx+snippetAfter)
	s := strings.TrimSpace(string(text[start:end]))
	return &s
}

func indexRunes(haystack, needle []rune) int {
	if len(needle) == 0 {
		return 0
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j, r := range needle {
			if haystack[i+j] != r {
				continue outer
			}
		}
		return i
	}
	return -1
}

func containsKind(kinds []Kind, k Kind) bool {
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}
