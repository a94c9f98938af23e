package transcript

import (
	"regexp"
	"strings"
	"unicode"
)

var artifactPatterns = []*regexp.Regexp{
	// whisper.cpp emits these for non-speech segments.
	regexp.MustCompile(`(?i)[\[(]\s*(blank[_ ]audio|silence|no speech|inaudible|music|noise)\s*[\])]`),
	// Empty quoted fragments left behind by hallucinated dialogue.
	regexp.MustCompile(`(^|\s)("\s*"|“\s*”|„\s*“)(\s|$)`),
}

// Clean removes known transcription artifacts from text and normalizes
// whitespace. It returns "" when nothing but punctuation remains.
func Clean(text string) string {
	for _, re := range artifactPatterns {
		// Adjacent matches share a separator, so repeat until stable.
		for {
			next := re.ReplaceAllString(text, " ")
			if next == text {
				break
			}
			text = next
		}
	}
	text = strings.Join(strings.Fields(text), " ")
	if !strings.ContainsFunc(text, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) {
		return ""
	}
	return text
}
