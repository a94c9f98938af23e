package llm

import (
	"strings"
	"unicode/utf8"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat log entry.
type Message struct {
	Role    Role
	Content string
}

// ModelCapabilities holds the token limits of a model.
type ModelCapabilities struct {
	// ContextWindow bounds prompt plus completion tokens.
	ContextWindow int
	// MaxOutputTokens bounds a single completion.
	MaxOutputTokens int
}

// EstimateTokens approximates the token count of text as one token per four
// runes, rounded up.
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

var defaultCapabilities = ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}

// modelFamilies is checked in order; the first prefix that matches wins, so
// more specific names come before their family.
var modelFamilies = []struct {
	prefix string
	caps   ModelCapabilities
}{
	{"gpt-4o", ModelCapabilities{128_000, 16_384}},
	{"gpt-4.1", ModelCapabilities{128_000, 16_384}},
	{"gpt-4-turbo", defaultCapabilities},
	{"gpt-4", ModelCapabilities{8_192, 4_096}},
	{"gpt-3.5-turbo", ModelCapabilities{16_385, 4_096}},
	{"o1-mini", ModelCapabilities{128_000, 65_536}},
	{"o1", ModelCapabilities{200_000, 100_000}},
	{"o3", ModelCapabilities{200_000, 100_000}},
	{"o4", ModelCapabilities{200_000, 100_000}},
	{"claude-3-opus", ModelCapabilities{200_000, 4_096}},
	{"claude", ModelCapabilities{200_000, 8_192}},
	{"gemini-1.5-pro", ModelCapabilities{2_097_152, 8_192}},
	{"gemini-1.5-flash", ModelCapabilities{1_048_576, 8_192}},
	{"gemini-2", ModelCapabilities{1_048_576, 8_192}},
	{"gemini", ModelCapabilities{128_000, 8_192}},
}

// CapabilitiesFor returns the limits of a known model family, or conservative
// defaults for anything else. A "models/" prefix, as used by Gemini, is
// ignored.
func CapabilitiesFor(model string) ModelCapabilities {
	name := strings.TrimPrefix(strings.ToLower(model), "models/")
	for _, f := range modelFamilies {
		if strings.HasPrefix(name, f.prefix) {
			return f.caps
		}
	}
	return defaultCapabilities
}
