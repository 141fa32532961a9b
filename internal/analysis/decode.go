package analysis

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// PredictionResult is the decoded action/question prediction for one batch.
// Fallback marks the named empty-defaults policy: the model output was empty
// or unparseable, so downstream persistence proceeds with empty slices
// instead of aborting the batch.
type PredictionResult struct {
	Actions   []string `json:"predicted_actions"`
	Questions []string `json:"predicted_questions"`
	Fallback  bool     `json:"-"`
}

// MaxQuestions caps the follow-up questions persisted per suggestion.
const MaxQuestions = 3

// DecodePrediction parses the model's raw prediction text. Models wrap JSON
// in Markdown code fences often enough that stripping them is part of the
// contract. Decode never fails; bad input yields the fallback result.
func DecodePrediction(raw string) PredictionResult {
	text := stripFences(strings.TrimSpace(raw))
	if text == "" {
		return fallbackResult()
	}

	var result PredictionResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		log.Warn().Err(err).Str("raw", truncate(raw, 120)).
			Msg("Unparseable prediction output, using empty defaults")
		return fallbackResult()
	}
	if result.Actions == nil {
		result.Actions = []string{}
	}
	if result.Questions == nil {
		result.Questions = []string{}
	}
	return result
}

// TopQuestions returns at most MaxQuestions questions, ranks implied by order.
func (r PredictionResult) TopQuestions() []string {
	if len(r.Questions) <= MaxQuestions {
		return r.Questions
	}
	return r.Questions[:MaxQuestions]
}

func fallbackResult() PredictionResult {
	return PredictionResult{Actions: []string{}, Questions: []string{}, Fallback: true}
}

// stripFences removes a surrounding Markdown code fence, with or without a
// language tag.
func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if idx := strings.Index(text, "\n"); idx >= 0 {
		// Drop the language tag line ("json", "JSON", or empty).
		first := strings.TrimSpace(text[:idx])
		if first == "" || strings.EqualFold(first, "json") {
			text = text[idx+1:]
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
