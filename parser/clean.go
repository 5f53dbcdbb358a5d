// Package parser turns OCR text read off the AI client's screen into a
// structured, scored response. Everything here is pure and deterministic.
package parser

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	horizontalSpace = regexp.MustCompile(`[ \t\r\f\v]+`)
	blankLines      = regexp.MustCompile(`\n{3,}`)
	// word characters, currency, punctuation found in prose and URLs, brackets, bullets
	disallowedChars = regexp.MustCompile("[^\\p{L}\\p{N}\\p{M}\\p{Sc}\n .,;:!?'\"()\\[\\]{}<>@#$%&*+=/\\\\_~^|`‘’“”–—…•·\\-]")
	spaceBeforePunc = regexp.MustCompile(` +([.,;:!?])`)
	sentenceJoin    = regexp.MustCompile(`([a-z][.!?])([A-Z][a-z])`)
	glyphToken      = regexp.MustCompile(`[\p{L}\p{N}|]+`)
)

// glyphs OCR confuses with lowercase letters on the client's font
var confusables = map[rune]rune{'0': 'o', '1': 'l', '|': 'l'}

var ligatures = strings.NewReplacer("ﬁ", "fi", "ﬂ", "fl", "ﬀ", "ff")

// fixGlyphs repairs a word whose only digits are confusable glyphs wedged
// between lowercase letters ("w0rld", "Hel1o"). Anything else, such as
// "h1n1" or "a1b2", is a real token and stays as it is.
func fixGlyphs(token string) string {
	runes := []rune(token)
	fixed := false
	for i, r := range runes {
		if !unicode.IsDigit(r) && r != '|' {
			continue
		}
		repl, ok := confusables[r]
		if !ok || i == 0 || i == len(runes)-1 || !unicode.IsLower(runes[i-1]) || !unicode.IsLower(runes[i+1]) {
			return token
		}
		runes[i] = repl
		fixed = true
	}
	if !fixed {
		return token
	}
	return string(runes)
}

// CleanOCRText normalises whitespace, drops characters OCR invents, fixes
// common glyph confusions and restores the space between sentences. Text
// that is already clean only gets trimmed.
func CleanOCRText(raw string) string {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = horizontalSpace.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	text = disallowedChars.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	text = ligatures.Replace(text)
	text = glyphToken.ReplaceAllStringFunc(text, fixGlyphs)
	text = spaceBeforePunc.ReplaceAllString(text, "$1")
	text = sentenceJoin.ReplaceAllString(text, "$1 $2")
	return text
}
