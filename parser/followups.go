package parser

import (
	"regexp"
	"strings"
)

const maxFollowups = 5

var (
	explicitFollowup = regexp.MustCompile(`(?i)(?:related questions?|follow[- ]?up questions?|people also ask|you might also ask)\s*:?\s*([^?\n]{5,200}\?)`)
	questionSentence = regexp.MustCompile(`[^.!?\n]{3,300}\?`)
	leadingMarker    = regexp.MustCompile(`^(?:[-*•·]+|\(?\d+[.)\]]|\[\d+\])\s*`)
)

var interrogatives = map[string]bool{
	"what": true, "why": true, "how": true, "when": true, "where": true, "who": true,
	"whom": true, "whose": true, "which": true,
	"is": true, "are": true, "was": true, "were": true, "can": true, "could": true,
	"should": true, "would": true, "will": true, "do": true, "does": true, "did": true,
	"has": true, "have": true, "may": true, "might": true,
}

// ExtractFollowupQuestions returns up to five distinct follow-up questions,
// leaving out an echo of the prompt itself.
func ExtractFollowupQuestions(cleaned, prompt string) []string {
	var out []string
	seen := map[string]bool{normalizeQuestion(prompt): true}
	add := func(q string) {
		q = collapse(leadingMarker.ReplaceAllString(strings.TrimSpace(q), ""))
		key := normalizeQuestion(q)
		if len(q) < 10 || key == "" || seen[key] || len(out) >= maxFollowups {
			return
		}
		seen[key] = true
		out = append(out, q)
	}

	for _, m := range explicitFollowup.FindAllStringSubmatch(cleaned, -1) {
		add(m[1])
	}
	for _, q := range questionSentence.FindAllString(cleaned, -1) {
		q = leadingMarker.ReplaceAllString(strings.TrimSpace(q), "")
		first, _, _ := strings.Cut(q, " ")
		if interrogatives[strings.ToLower(strings.Trim(first, `"'(“‘`))] {
			add(q)
		}
	}
	return out
}

func normalizeQuestion(q string) string {
	return strings.ToLower(strings.TrimRight(collapse(q), "?!. "))
}
