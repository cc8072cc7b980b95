package runtime

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/tools"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/pkg/llm"
)

// needsNudge reports whether a round consisted of exactly one table search.
// Models tend to stop after discovering a table instead of fetching rows.
func needsNudge(calls []llm.ToolCall) bool {
	names := make([]string, 0, len(calls))
	for _, tc := range calls {
		names = append(names, tc.Function.Name)
	}
	return slices.Equal(names, []string{tools.SearchTables})
}

// Nudge builds the follow-up instruction for a search_tables result. It
// points at the first candidate of type Table, or the first candidate when
// none is a table. ok is false when the result lists no usable candidate.
func Nudge(searchResult string) (string, bool) {
	var payload struct {
		Results []struct {
			Name *string `json:"name"`
			Type string  `json:"type"`
		} `json:"results"`
	}
	if err := json.Unmarshal([]byte(searchResult), &payload); err != nil || len(payload.Results) == 0 {
		return "", false
	}

	pick := payload.Results[0].Name
	for _, r := range payload.Results {
		if r.Type == "Table" {
			pick = r.Name
			break
		}
	}
	if pick == nil {
		return "", false
	}
	return fmt.Sprintf(`Now call query_table with table_name="%s" to get the actual data rows.`, *pick), true
}
