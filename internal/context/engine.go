// internal/context/engine.go
package context

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/pkoukk/tiktoken-go"

	"github.com/Shreyas-ITB/Vibgyor-Optimus/pkg/llm"
)

// DefaultEncoding is used when the configured encoding is unknown.
const DefaultEncoding = "cl100k_base"

// Engine counts tokens and renders the system prompt.
type Engine struct {
	tokenizer *tiktoken.Tiktoken
	prompt    *template.Template
}

// New creates an engine. encoding is a tiktoken encoding name such as
// "cl100k_base", or a model name tiktoken knows.
func New(encoding string) (*Engine, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		enc, err = tiktoken.EncodingForModel(encoding)
	}
	if err != nil {
		// Fallback to cl100k_base for unknown names
		enc, err = tiktoken.GetEncoding(DefaultEncoding)
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	tmpl, err := template.New("system").Funcs(template.FuncMap{"join": strings.Join}).Parse(DefaultPrompt)
	if err != nil {
		return nil, fmt.Errorf("parse system prompt: %w", err)
	}
	return &Engine{tokenizer: enc, prompt: tmpl}, nil
}

// CountTokens returns the token count for a string.
func (e *Engine) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(e.tokenizer.Encode(text, nil, nil))
}

// CountMessages estimates the prompt tokens of a message list, including
// tool call names and arguments.
func (e *Engine) CountMessages(msgs []llm.Message) int {
	total := 0
	for _, m := range msgs {
		total += e.CountTokens(m.Content)
		for _, tc := range m.ToolCalls {
			total += e.CountTokens(tc.Function.Name)
			if args, err := json.Marshal(tc.Function.Arguments); err == nil {
				total += e.CountTokens(string(args))
			}
		}
	}
	return total
}

// Truncate cuts text to at most maxTokens tokens. It reports whether text
// was cut and the original token count. maxTokens <= 0 disables the limit.
func (e *Engine) Truncate(text string, maxTokens int) (string, bool, int) {
	tokens := e.tokenizer.Encode(text, nil, nil)
	if maxTokens <= 0 || len(tokens) <= maxTokens {
		return text, false, len(tokens)
	}
	return e.tokenizer.Decode(tokens[:maxTokens]), true, len(tokens)
}

// PromptData fills the system prompt template.
type PromptData struct {
	Tools           []string
	DefaultDatabase string
}

// SystemPrompt renders the system instruction for a conversation.
func (e *Engine) SystemPrompt(data PromptData) (string, error) {
	if data.DefaultDatabase == "" {
		data.DefaultDatabase = "BoltAtom"
	}
	var buf bytes.Buffer
	if err := e.prompt.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return buf.String(), nil
}
