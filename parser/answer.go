package parser

import (
	"regexp"
	"strings"
)

const (
	maxAnswerRunes      = 2000
	fallbackAnswerRunes = 500
)

var (
	markerOnlyLine = regexp.MustCompile(`^(?:[-*•·]+|\(?\d+[.)\]]|\[\d+\])$`)
	sourcesHeader  = regexp.MustCompile(`(?i)^\s*(?:sources?|references?|citations?)\s*:`)
	followupHeader = regexp.MustCompile(`(?i)^\s*(?:related(?:\s+questions?)?|follow[- ]?ups?(?:\s+questions?)?|people also ask)\s*(?::|$)`)
	numberedStart  = regexp.MustCompile(`^\s*\(?1[.)\]]\s+\S`)
)

// ExtractMainAnswer returns the prose of the answer: marker-only lines are
// dropped and the text stops at the first sources, follow-up or numbered
// list section. It never returns more than 2000 characters plus an ellipsis.
func ExtractMainAnswer(cleaned string) string {
	var kept []string
	for _, line := range strings.Split(cleaned, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || markerOnlyLine.MatchString(line) {
			continue
		}
		if sourcesHeader.MatchString(line) || followupHeader.MatchString(line) {
			break
		}
		if len(kept) > 0 && numberedStart.MatchString(line) {
			break
		}
		kept = append(kept, line)
	}

	answer := strings.Join(kept, " ")
	if answer == "" {
		return truncateRunes(strings.TrimSpace(cleaned), fallbackAnswerRunes, "")
	}
	return truncateRunes(answer, maxAnswerRunes, "...")
}

func truncateRunes(s string, limit int, suffix string) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimSpace(string(runes[:limit])) + suffix
}
