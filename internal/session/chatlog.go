package session

import (
	"slices"

	"github.com/MrWong99/scribe/pkg/provider/llm"
)

// ChatLog is the role-tagged message history handed to the language model,
// together with a running token estimate.
//
// A ChatLog is not safe for concurrent use; the owning [Session] guards it.
type ChatLog struct {
	messages []llm.Message
	tokens   int
}

// NewChatLog returns a log holding only the system prompt. The prompt is not
// counted against the token budget.
func NewChatLog(systemPrompt string) *ChatLog {
	c := &ChatLog{}
	c.Reset(systemPrompt, "")
	return c
}

// Append adds a message and returns the new token count. Every append adds
// [llm.EstimateTokens] of content.
func (c *ChatLog) Append(role llm.Role, content string) int {
	c.messages = append(c.messages, llm.Message{Role: role, Content: content})
	c.tokens += llm.EstimateTokens(content)
	return c.tokens
}

// Reset starts a new epoch: the log becomes [system prompt, summary] and the
// token count becomes the estimate of summary. An empty summary leaves only
// the system prompt.
func (c *ChatLog) Reset(systemPrompt, summary string) {
	c.messages = []llm.Message{{Role: llm.RoleSystem, Content: systemPrompt}}
	c.tokens = 0
	if summary != "" {
		c.messages = append(c.messages, llm.Message{Role: llm.RoleAssistant, Content: summary})
		c.tokens = llm.EstimateTokens(summary)
	}
}

// Messages returns a copy of the log.
func (c *ChatLog) Messages() []llm.Message {
	return slices.Clone(c.messages)
}

// Since returns a copy of the messages after the first n.
func (c *ChatLog) Since(n int) []llm.Message {
	if n >= len(c.messages) {
		return nil
	}
	return slices.Clone(c.messages[max(n, 0):])
}

// Tokens returns the current token estimate.
func (c *ChatLog) Tokens() int { return c.tokens }

// Len returns the number of messages.
func (c *ChatLog) Len() int { return len(c.messages) }

// UserContents returns the content of every user message in order.
func (c *ChatLog) UserContents() []string {
	var out []string
	for _, m := range c.messages {
		if m.Role == llm.RoleUser {
			out = append(out, m.Content)
		}
	}
	return out
}
