package ai

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kiranshivaraju/callcoach/pkg/models"
)

const (
	maxSummaryBytes  = 2000
	maxFeedbackBytes = 1000
)

// ParseScorecard decodes the first top-level JSON object in a provider response that carries
// overall_score plus categories or summary. Prose, code fences and unrelated objects around it
// are skipped; a scorecard object whose fields have the wrong types is an error rather than a
// reason to look further. Scores are clamped to 0-100.
func ParseScorecard(text string) (models.Scorecard, error) {
	for i := strings.IndexByte(text, '{'); i >= 0; {
		var end int
		var raw json.RawMessage
		if err := json.NewDecoder(strings.NewReader(text[i:])).Decode(&raw); err == nil {
			end = i + len(raw)
			var fields map[string]json.RawMessage
			if err := json.Unmarshal(raw, &fields); err == nil && isScorecard(fields) {
				var card models.Scorecard
				if err := json.Unmarshal(raw, &card); err != nil {
					return models.Scorecard{}, fmt.Errorf("%w: malformed scorecard: %w", ErrInvalidResponse, err)
				}
				normalize(&card)
				return card, nil
			}
		} else {
			end = objectEnd(text, i)
		}

		next := strings.IndexByte(text[end:], '{')
		if next < 0 {
			break
		}
		i = end + next
	}
	return models.Scorecard{}, fmt.Errorf("%w: no JSON scorecard in response", ErrInvalidResponse)
}

func isScorecard(fields map[string]json.RawMessage) bool {
	if _, ok := fields["overall_score"]; !ok {
		return false
	}
	_, categories := fields["categories"]
	_, summary := fields["summary"]
	return categories || summary
}

// objectEnd returns the index just past the brace that closes the object opened at text[start],
// or len(text) when it never closes. Braces inside string literals are ignored.
func objectEnd(text string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case inString:
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
		case c == '"':
			inString = true
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return len(text)
}

func normalize(card *models.Scorecard) {
	card.OverallScore = clampScore(card.OverallScore)
	card.Summary = truncateString(strings.TrimSpace(card.Summary), maxSummaryBytes)

	if card.Categories == nil {
		card.Categories = map[string]models.CategoryScore{}
	}
	for name, c := range card.Categories {
		c.Score = clampScore(c.Score)
		c.Feedback = truncateString(c.Feedback, maxFeedbackBytes)
		card.Categories[name] = c
	}

	if card.Strengths == nil {
		card.Strengths = []string{}
	}
	if card.Improvements == nil {
		card.Improvements = []string{}
	}
	if card.NextSteps == nil {
		card.NextSteps = []string{}
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
