package parser

import (
	"math"
	"regexp"
	"strings"

	"github.com/Thirteen88/ish-automation-sub001/models"
)

// Indicators are the six 0..1 quality signals behind a confidence score.
type Indicators struct {
	HasAnswer       float64 `json:"has_answer"`
	AnswerLength    float64 `json:"answer_length"`
	HasSources      float64 `json:"has_sources"`
	SourceCount     float64 `json:"source_count"`
	HasStructure    float64 `json:"has_structure"`
	LanguageQuality float64 `json:"language_quality"`
}

// Weighted combines the indicators; the weights add up to one.
func (in Indicators) Weighted() float64 {
	return 0.30*in.HasAnswer +
		0.15*in.AnswerLength +
		0.20*in.HasSources +
		0.15*in.SourceCount +
		0.10*in.HasStructure +
		0.10*in.LanguageQuality
}

func (in Indicators) asMap() map[string]float64 {
	return map[string]float64{
		"has_answer":       in.HasAnswer,
		"answer_length":    in.AnswerLength,
		"has_sources":      in.HasSources,
		"source_count":     in.SourceCount,
		"has_structure":    in.HasStructure,
		"language_quality": in.LanguageQuality,
	}
}

var (
	sentenceSplit = regexp.MustCompile(`[.!?]+`)
	listLine      = regexp.MustCompile(`(?m)^\s*(?:[-*•·]|\d+[.)])\s+\S`)
)

// ScoreIndicators computes the quality signals for an answer.
func ScoreIndicators(answer string, sources []models.SourceInfo, raw string) Indicators {
	var in Indicators
	answer = strings.TrimSpace(answer)
	n := len([]rune(answer))
	if n > 0 {
		in.HasAnswer = 1
	}
	switch {
	case n == 0:
	case n < 100:
		in.AnswerLength = float64(n) / 100
	case n <= 1000:
		in.AnswerLength = 1
	default:
		in.AnswerLength = math.Max(0.5, 1-float64(n-1000)/2000)
	}

	switch k := len(sources); {
	case k == 0:
	case k <= 5:
		in.HasSources, in.SourceCount = 1, 1
	default:
		in.HasSources = 1
		in.SourceCount = math.Max(0.5, 1-float64(k-5)*0.1)
	}

	if nonEmptyLines(raw) >= 2 || listLine.MatchString(raw) {
		in.HasStructure = 1
	}

	good := 0
	for _, s := range sentenceSplit.Split(answer, -1) {
		if len(strings.TrimSpace(s)) >= 10 {
			good++
		}
	}
	in.LanguageQuality = math.Min(1, float64(good)/3)
	return in
}

// TimeFactor discounts slow responses: full credit under 5s, decaying to 0.3.
func TimeFactor(responseTimeMs int64) float64 {
	switch {
	case responseTimeMs < 5000:
		return 1
	case responseTimeMs < 10000:
		return 0.8
	case responseTimeMs < 20000:
		return 0.6
	}
	return math.Max(0.3, 0.6-0.3*float64(responseTimeMs-20000)/40000)
}

// CalculateConfidenceScore returns the weighted indicators scaled by the
// response time factor, rounded to three decimals and clamped to [0, 1].
func CalculateConfidenceScore(answer string, sources []models.SourceInfo, raw string, responseTimeMs int64) float64 {
	return finalScore(ScoreIndicators(answer, sources, raw), responseTimeMs)
}

func finalScore(in Indicators, responseTimeMs int64) float64 {
	score := math.Round(in.Weighted()*TimeFactor(responseTimeMs)*1000) / 1000
	return math.Min(1, math.Max(0, score))
}

func nonEmptyLines(s string) int {
	n := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}
