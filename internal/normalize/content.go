// Package normalize converts inbound chat content and provider replies into
// the message and tool-call shapes the conversation loop works with.
package normalize

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/Shreyas-ITB/Vibgyor-Optimus/pkg/llm"
)

// Part is one element of a multi-part message content list.
type Part struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
	File     *File     `json:"file,omitempty"`
}

type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// File is an uploaded document carried inline as a data URI.
type File struct {
	Filename string `json:"filename,omitempty"`
	FileData string `json:"file_data,omitempty"`
}

// Content is message content: either plain text or a list of typed parts.
type Content struct {
	Text  string
	Parts []Part
	multi bool
}

// TextContent wraps a plain string.
func TextContent(s string) Content { return Content{Text: s} }

// PartsContent wraps a list of parts.
func PartsContent(parts ...Part) Content { return Content{Parts: parts, multi: true} }

// IsParts reports whether the content arrived as a list.
func (c Content) IsParts() bool { return c.multi }

func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*c = Content{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = TextContent(s)
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("content must be a string or a list of parts: %w", err)
	}
	parts := make([]Part, 0, len(items))
	for _, item := range items {
		item = bytes.TrimSpace(item)
		switch {
		case len(item) > 0 && item[0] == '"':
			var s string
			if err := json.Unmarshal(item, &s); err != nil {
				return err
			}
			parts = append(parts, Part{Type: "text", Text: s})
		case len(item) > 0 && item[0] == '{':
			var p Part
			if err := json.Unmarshal(item, &p); err != nil {
				return err
			}
			parts = append(parts, p)
		}
	}
	*c = PartsContent(parts...)
	return nil
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsParts() {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// Message is one inbound chat message.
type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
	Name    string  `json:"name,omitempty"`
}

// SplitContent separates text from images. Text parts are joined with a
// single space in order; images are kept only when they are data URIs and
// are returned without their "data:...," prefix. Uploaded files are decoded
// into text.
func SplitContent(c Content) (string, []string) {
	if !c.IsParts() {
		return c.Text, nil
	}

	var texts, images []string
	for _, p := range c.Parts {
		switch p.Type {
		case "text":
			texts = append(texts, p.Text)
		case "image_url":
			if p.ImageURL == nil || !strings.HasPrefix(p.ImageURL.URL, "data:") {
				continue
			}
			url := p.ImageURL.URL
			if _, payload, ok := strings.Cut(url, ","); ok {
				url = payload
			}
			images = append(images, url)
		case "file":
			if text, ok := fileText(p.File); ok {
				texts = append(texts, text)
			}
		}
	}
	return strings.Join(texts, " "), images
}

// fileText decodes a base64 data URI file part. HTML becomes markdown, other
// text is used as is, and binary documents are skipped.
func fileText(f *File) (string, bool) {
	if f == nil || !strings.HasPrefix(f.FileData, "data:") {
		return "", false
	}
	header, payload, ok := strings.Cut(strings.TrimPrefix(f.FileData, "data:"), ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return "", false
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		slog.Warn("skipping undecodable file part", "filename", f.Filename, "error", err)
		return "", false
	}

	mediaType, _, _ := mime.ParseMediaType(strings.TrimSuffix(header, ";base64"))
	ext := strings.ToLower(filepath.Ext(f.Filename))
	isHTML := mediaType == "text/html" || ext == ".html" || ext == ".htm"

	var body string
	switch {
	case isHTML:
		md, err := htmltomarkdown.ConvertString(string(raw))
		if err != nil {
			slog.Warn("converting html file part", "filename", f.Filename, "error", err)
			return "", false
		}
		body = md
	case utf8.Valid(raw):
		body = string(raw)
	default:
		slog.Warn("skipping binary file part", "filename", f.Filename, "media_type", mediaType)
		return "", false
	}

	if f.Filename != "" {
		return fmt.Sprintf("[%s]\n%s", f.Filename, body), true
	}
	return body, true
}

// visionModels are matched as substrings of the model's base name.
var visionModels = []string{
	"ministral-3", "llava", "bakllava", "llava-llama3", "llava-phi3", "moondream",
}

// IsVisionModel reports whether model accepts images. Only the part before
// the first colon is considered, case-insensitively.
func IsVisionModel(model string) bool {
	base, _, _ := strings.Cut(model, ":")
	base = strings.ToLower(base)
	for _, v := range visionModels {
		if strings.Contains(base, v) {
			return true
		}
	}
	return false
}

// PrepareMessages converts inbound messages for the provider, prepending
// system when it is non-empty. Images sent to a model without vision
// support are dropped with a warning.
func PrepareMessages(system string, msgs []Message, model string, logger *slog.Logger) []llm.Message {
	if logger == nil {
		logger = slog.Default()
	}
	vision := IsVisionModel(model)

	out := make([]llm.Message, 0, len(msgs)+1)
	if system != "" {
		out = append(out, llm.Message{Role: "system", Content: system})
	}
	for _, m := range msgs {
		text, images := SplitContent(m.Content)
		if len(images) > 0 && !vision {
			logger.Warn("model does not support vision, ignoring images", "model", model, "images", len(images))
			images = nil
		}
		out = append(out, llm.Message{Role: m.Role, Content: text, Images: images, Name: m.Name})
	}
	return out
}
