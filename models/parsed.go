package models

import "time"

// SourceInfo is one cited source found in an answer.
type SourceInfo struct {
	Title          string  `json:"title"`
	URL            string  `json:"url,omitempty"`
	Snippet        string  `json:"snippet"`
	RelevanceScore float64 `json:"relevance_score"`
}

// ParsedResponse is the structured result read back from the app.
// ConfidenceScore is always within [0,1].
type ParsedResponse struct {
	ResponseID        string         `json:"response_id"`
	ConversationID    string         `json:"conversation_id,omitempty"`
	Prompt            string         `json:"prompt"`
	Answer            string         `json:"answer"`
	Sources           []SourceInfo   `json:"sources"`
	FollowupQuestions []string       `json:"followup_questions"`
	ConfidenceScore   float64        `json:"confidence_score"`
	ResponseTime      time.Duration  `json:"response_time"`
	DeviceUsed        string         `json:"device_used"`
	ScreenshotPath    string         `json:"screenshot_path,omitempty"`
	RawText           string         `json:"raw_text"`
	CreatedAt         time.Time      `json:"created_at"`
	Metadata          map[string]any `json:"metadata"`
	Quality           *QualityReport `json:"quality,omitempty"`
}

// QualityReport is the outcome of validating a parsed response.
type QualityReport struct {
	IsValid         bool     `json:"is_valid"`
	ConfidenceLevel string   `json:"confidence_level"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
}
