package session

import (
	"strings"
	"time"
)

// transcriptFileName returns the attachment name for a transcript posted on
// day.
func transcriptFileName(day time.Time) string {
	return "transcript-" + day.Format(time.DateOnly) + ".txt"
}

// transcriptAttachment joins the user lines of a chat log, one paragraph
// each.
func transcriptAttachment(lines []string) []byte {
	return []byte(strings.Join(lines, "\n\n"))
}
