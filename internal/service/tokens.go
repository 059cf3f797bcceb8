package service

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/Strob0t/TaskLoom/internal/domain/run"
)

// TokenCounter measures conversation size against the run token budget.
// Counts are an estimate when the backend's tokenizer differs from the
// configured encoding; backends that report exact usage override it.
type TokenCounter struct {
	encoding string

	once sync.Once
	tke  *tiktoken.Tiktoken
	err  error
}

// NewTokenCounter creates a counter for the named encoding (e.g.
// "cl100k_base"). The encoding is loaded lazily on first use.
func NewTokenCounter(encoding string) *TokenCounter {
	return &TokenCounter{encoding: encoding}
}

func (c *TokenCounter) load() error {
	c.once.Do(func() {
		c.tke, c.err = tiktoken.GetEncoding(c.encoding)
		if c.err != nil {
			c.err = fmt.Errorf("load token encoding %s: %w", c.encoding, c.err)
		}
	})
	return c.err
}

// CountText returns the token count of one string.
func (c *TokenCounter) CountText(text string) (int, error) {
	if err := c.load(); err != nil {
		return 0, err
	}
	return len(c.tke.Encode(text, nil, nil)), nil
}

// CountMessages returns the approximate token count of a conversation,
// including tool call arguments.
func (c *TokenCounter) CountMessages(messages []run.Message) (int, error) {
	if err := c.load(); err != nil {
		return 0, err
	}
	total := 0
	for i := range messages {
		total += len(c.tke.Encode(messages[i].Content, nil, nil))
		for _, tc := range messages[i].ToolCalls {
			total += len(c.tke.Encode(tc.Name, nil, nil))
			total += len(c.tke.Encode(string(tc.Arguments), nil, nil))
		}
		// Per-message framing overhead.
		total += 4
	}
	return total, nil
}
