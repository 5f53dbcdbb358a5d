package parser

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Thirteen88/ish-automation-sub001/models"
)

// Version is recorded in every response's metadata.
const Version = "1.2.0"

// responseNamespace seeds the name-based response IDs.
var responseNamespace = uuid.MustParse("6f1c1f0e-3d7a-5b0e-9a47-1c8b2f6d4e21")

// ParseInput is everything known about one captured answer.
type ParseInput struct {
	RawText        string
	Prompt         string
	ResponseTime   time.Duration
	DeviceUsed     string
	ScreenshotPath string
	ConversationID string
	// Now stamps the response; zero means time.Now.
	Now time.Time
}

// ResponseID derives a stable ID from the prompt, timestamp and device.
func ResponseID(prompt string, at time.Time, device string) string {
	name := fmt.Sprintf("%s|%d|%s", prompt, at.UnixNano(), device)
	return uuid.NewSHA1(responseNamespace, []byte(name)).String()
}

// ParseResponse runs the whole pipeline. It never fails: an internal error
// yields a degraded response with zero confidence and the error in metadata.
func ParseResponse(in ParseInput) (resp models.ParsedResponse) {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	resp = models.ParsedResponse{
		ResponseID:     ResponseID(in.Prompt, now, in.DeviceUsed),
		ConversationID: in.ConversationID,
		Prompt:         in.Prompt,
		ResponseTime:   in.ResponseTime,
		DeviceUsed:     in.DeviceUsed,
		ScreenshotPath: in.ScreenshotPath,
		RawText:        in.RawText,
		CreatedAt:      now,
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Response parsing failed for %s: %v", resp.ResponseID, r)
			resp.Answer = truncateRunes(strings.TrimSpace(in.RawText), fallbackAnswerRunes, "")
			resp.Sources = nil
			resp.FollowupQuestions = nil
			resp.ConfidenceScore = 0
			resp.Metadata = map[string]any{
				"error":          fmt.Sprint(r),
				"parser_version": Version,
			}
		}
	}()

	cleaned := CleanOCRText(in.RawText)
	resp.Answer = ExtractMainAnswer(cleaned)
	resp.Sources = ExtractSources(cleaned)
	resp.FollowupQuestions = ExtractFollowupQuestions(cleaned, in.Prompt)

	indicators := ScoreIndicators(resp.Answer, resp.Sources, in.RawText)
	resp.ConfidenceScore = finalScore(indicators, in.ResponseTime.Milliseconds())
	resp.Metadata = map[string]any{
		"indicators":     indicators.asMap(),
		"time_factor":    TimeFactor(in.ResponseTime.Milliseconds()),
		"text_length":    len([]rune(cleaned)),
		"word_count":     len(strings.Fields(cleaned)),
		"source_count":   len(resp.Sources),
		"followup_count": len(resp.FollowupQuestions),
		"parser_version": Version,
	}
	return resp
}

// Confidence levels reported by ValidateResponseQuality.
const (
	LevelHigh   = "high"
	LevelMedium = "medium"
	LevelLow    = "low"
)

// ValidateResponseQuality lists what is weak about a response and what to do
// about it.
func ValidateResponseQuality(resp *models.ParsedResponse) models.QualityReport {
	report := models.QualityReport{
		IsValid:         true,
		ConfidenceLevel: LevelHigh,
		Issues:          []string{},
		Recommendations: []string{},
	}
	flag := func(issue, recommendation string) {
		report.Issues = append(report.Issues, issue)
		report.Recommendations = append(report.Recommendations, recommendation)
	}

	if n := len([]rune(resp.Answer)); n < 50 {
		flag(fmt.Sprintf("answer is very short (%d characters)", n),
			"wait longer for the answer to finish rendering before capturing")
	}
	if len(resp.Sources) == 0 {
		flag("no sources were found",
			"scroll the response into view so the sources section is captured")
	}
	switch {
	case resp.ConfidenceScore < 0.3:
		report.IsValid = false
		report.ConfidenceLevel = LevelLow
		flag(fmt.Sprintf("confidence %.3f is below 0.3", resp.ConfidenceScore),
			"retry the prompt; the capture is unlikely to contain a usable answer")
	case resp.ConfidenceScore < 0.6:
		report.ConfidenceLevel = LevelMedium
		flag(fmt.Sprintf("confidence %.3f is below 0.6", resp.ConfidenceScore),
			"review the answer manually before relying on it")
	}
	if resp.ResponseTime > 15*time.Second {
		flag(fmt.Sprintf("slow response (%s)", resp.ResponseTime.Round(time.Millisecond)),
			"check the device's network and load; consider a shorter prompt")
	}
	return report
}
