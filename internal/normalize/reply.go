package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	apperr "github.com/Shreyas-ITB/Vibgyor-Optimus/internal/errors"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/pkg/llm"
)

// Parsed is a provider reply in canonical form.
type Parsed struct {
	Text      string
	ToolCalls []llm.ToolCall
}

// ParseReply extracts the assistant text and tool calls from either reply
// shape. Tool calls without an id get "call_<index>"; string arguments are
// decoded as JSON, falling back to an empty object.
func ParseReply(r *llm.Reply) (Parsed, error) {
	if r == nil {
		return Parsed{}, apperr.New(apperr.ErrTypeProtocol, "empty model reply")
	}
	switch r.Shape {
	case llm.ShapeMapping:
		return parseMapping(r.Mapping), nil
	case llm.ShapeTyped:
		return parseTyped(r.Typed), nil
	default:
		return Parsed{}, apperr.Newf(apperr.ErrTypeProtocol, "unsupported reply shape %s", r.Shape)
	}
}

func parseMapping(m map[string]any) Parsed {
	msg, _ := m["message"].(map[string]any)
	if msg == nil {
		return Parsed{}
	}
	var p Parsed
	p.Text, _ = msg["content"].(string)

	raw, _ := msg["tool_calls"].([]any)
	for i, item := range raw {
		tc, _ := item.(map[string]any)
		if tc == nil {
			continue
		}
		fn, _ := tc["function"].(map[string]any)
		name, _ := fn["name"].(string)
		id, _ := tc["id"].(string)
		p.ToolCalls = append(p.ToolCalls, toolCall(i, id, name, fn["arguments"]))
	}
	return p
}

func parseTyped(msg *llm.TypedMessage) Parsed {
	if msg == nil {
		return Parsed{}
	}
	p := Parsed{Text: msg.Content}
	for i, tc := range msg.ToolCalls {
		p.ToolCalls = append(p.ToolCalls, toolCall(i, tc.ID, tc.Name, tc.Arguments))
	}
	return p
}

func toolCall(index int, id, name string, args any) llm.ToolCall {
	if id == "" {
		id = fmt.Sprintf("call_%d", index)
	}
	return llm.ToolCall{
		ID:   id,
		Type: "function",
		Function: llm.FunctionCall{
			Name:      name,
			Arguments: Arguments(args),
		},
	}
}

// Arguments coerces tool arguments to a string-keyed mapping.
func Arguments(v any) map[string]any {
	switch a := v.(type) {
	case map[string]any:
		return a
	case string:
		out := map[string]any{}
		if strings.TrimSpace(a) == "" {
			return out
		}
		if err := json.Unmarshal([]byte(a), &out); err != nil || out == nil {
			return map[string]any{}
		}
		return out
	case json.RawMessage:
		return Arguments(string(a))
	default:
		return map[string]any{}
	}
}
