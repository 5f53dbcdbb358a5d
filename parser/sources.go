package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Thirteen88/ish-automation-sub001/models"
)

const (
	snippetRadius      = 150
	urlRelevance       = 0.8
	textOnlyRelevance  = 0.5
	maxSourceTitleRune = 120
)

var (
	sectionHeader   = regexp.MustCompile(`(?im)^[ \t]*(?:sources?|references?|citations?)[ \t]*:`)
	urlPattern      = regexp.MustCompile(`(?i)(?:https?://|www\.)[^\s<>"'()\[\]{}“”‘’]+`)
	followupSection = regexp.MustCompile(`(?im)^[ \t]*(?:related(?:[ \t]+questions?)?|follow[- ]?ups?(?:[ \t]+questions?)?|people also ask)[ \t]*(?::|$)`)
	titleTrim       = regexp.MustCompile(`^(?:[-*•·]+|\(?\d+[.)\]]|\[\d+\])\s*|[\s\-:|–—]+$`)
)

// ExtractSources reads every sources/references/citations section. Each URL
// becomes a source titled by the text just before it; a section without URLs
// becomes one low relevance entry.
func ExtractSources(cleaned string) []models.SourceInfo {
	headers := sectionHeader.FindAllStringIndex(cleaned, -1)
	if len(headers) == 0 {
		return nil
	}

	var sources []models.SourceInfo
	seen := make(map[string]bool)
	for i, h := range headers {
		end := len(cleaned)
		if i+1 < len(headers) {
			end = headers[i+1][0]
		}
		if loc := followupSection.FindStringIndex(cleaned[h[1]:end]); loc != nil {
			end = h[1] + loc[0]
		}
		section := cleaned[h[1]:end]

		urls := urlPattern.FindAllStringIndex(section, -1)
		if len(urls) == 0 {
			if text := strings.TrimSpace(section); text != "" {
				sources = append(sources, models.SourceInfo{
					Title:          sourceTitle(firstLine(text), len(sources)+1),
					Snippet:        collapse(truncateRunes(text, 2*snippetRadius, "")),
					RelevanceScore: textOnlyRelevance,
				})
			}
			continue
		}

		for _, u := range urls {
			url := strings.TrimRight(section[u[0]:u[1]], ".,;:!?")
			if seen[url] {
				continue
			}
			seen[url] = true

			start, stop := h[1]+u[0], h[1]+u[0]+len(url)
			sources = append(sources, models.SourceInfo{
				Title:          sourceTitle(precedingText(section[:u[0]]), len(sources)+1),
				URL:            url,
				Snippet:        snippet(cleaned, start, stop),
				RelevanceScore: urlRelevance,
			})
		}
	}
	return sources
}

// precedingText is what sits before a URL on its line, or the previous line
// when the URL starts its own line.
func precedingText(before string) string {
	lines := strings.Split(before, "\n")
	last := len(lines) - 1
	if title := titleTrim.ReplaceAllString(strings.TrimSpace(urlPattern.ReplaceAllString(lines[last], "")), ""); title != "" {
		return title
	}
	if last > 0 && !urlPattern.MatchString(lines[last-1]) {
		return strings.TrimSpace(lines[last-1])
	}
	return ""
}

func sourceTitle(text string, n int) string {
	text = strings.TrimSpace(titleTrim.ReplaceAllString(text, ""))
	if text == "" {
		return fmt.Sprintf("Source %d", n)
	}
	return truncateRunes(text, maxSourceTitleRune, "...")
}

// snippet is the text within snippetRadius runes either side of [start, stop).
func snippet(text string, start, stop int) string {
	before := []rune(text[:start])
	after := []rune(text[stop:])
	from := max(0, len(before)-snippetRadius)
	to := min(len(after), snippetRadius)
	return collapse(string(before[from:]) + text[start:stop] + string(after[:to]))
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
