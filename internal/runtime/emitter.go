package runtime

import "strings"

// Finish reasons carried on the last chunk of a response.
const (
	FinishStop   = "stop"
	FinishLength = "length"
)

// Emitter receives a conversation's output in order. Emit carries one
// chunk: content is the incremental text and finishReason is empty for all
// but the last chunk. Done writes the end-of-stream marker. An error from
// either means the client is gone and the loop stops.
type Emitter interface {
	Emit(content, finishReason string) error
	Done() error
}

// Collector is an Emitter that gathers the whole response in memory.
type Collector struct {
	text         strings.Builder
	finishReason string
	done         bool
}

func (c *Collector) Emit(content, finishReason string) error {
	c.text.WriteString(content)
	if finishReason != "" {
		c.finishReason = finishReason
	}
	return nil
}

func (c *Collector) Done() error {
	c.done = true
	return nil
}

// Text returns everything emitted so far.
func (c *Collector) Text() string { return c.text.String() }

// FinishReason returns the reason of the last chunk.
func (c *Collector) FinishReason() string { return c.finishReason }

// Closed reports whether the end marker was written.
func (c *Collector) Closed() bool { return c.done }
