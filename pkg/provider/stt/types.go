package stt

import (
	"strings"
	"time"
)

// Result is the outcome of a transcription call.
type Result struct {
	// Text is the transcribed speech content.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the
	// provider does not report confidence.
	Confidence float64

	// Language is the detected or requested language, when reported.
	Language string

	// Duration is the length of the transcribed audio, when reported.
	Duration time.Duration
}

// KeywordBoost represents a keyword to boost in STT recognition.
// Used to improve recognition of uncommon proper nouns (player characters,
// locations, items).
type KeywordBoost struct {
	// Keyword is the text to boost (e.g., "Eldrinax").
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}

// PromptFromKeywords joins keyword texts into a comma-separated hint string
// for providers that accept a free-text prompt instead of weighted keywords.
func PromptFromKeywords(keywords []KeywordBoost) string {
	if len(keywords) == 0 {
		return ""
	}
	words := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if w := strings.TrimSpace(k.Keyword); w != "" {
			words = append(words, w)
		}
	}
	return strings.Join(words, ", ")
}
