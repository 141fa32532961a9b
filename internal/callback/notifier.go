// Package callback delivers analysis results to the upstream backend.
package callback

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Result is the outbound callback payload for one analyzed batch.
type Result struct {
	UserID             int64               `json:"user_id"`
	ImageID            int64               `json:"image_id"`
	Suggestion         Suggestion          `json:"suggestion"`
	PredictedQuestions []PredictedQuestion `json:"predicted_questions"`
}

// Suggestion is the result body nested inside the callback payload.
type Suggestion struct {
	RepresentativeImage string   `json:"representative_image"`
	Description         string   `json:"description"`
	PredictedActions    []string `json:"predicted_actions"`
}

// PredictedQuestion wraps one follow-up question.
type PredictedQuestion struct {
	Question string `json:"question"`
}

// Notifier delivers one analysis result. The contract is at-most-once and
// non-blocking: failures are logged, never retried, never propagated.
type Notifier interface {
	NotifyResult(ctx context.Context, result Result)
}

// HTTPNotifier posts results to {base}/analysis/result.
type HTTPNotifier struct {
	client *http.Client
	base   string
}

var _ Notifier = (*HTTPNotifier)(nil)

// NewHTTPNotifier creates a notifier with the given base URL and timeout.
func NewHTTPNotifier(base string, timeout time.Duration) *HTTPNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPNotifier{
		client: &http.Client{Timeout: timeout},
		base:   base,
	}
}

// NotifyResult fires the callback. Any failure is logged and swallowed; do
// not add retries here without revisiting the at-most-once contract.
func (n *HTTPNotifier) NotifyResult(ctx context.Context, result Result) {
	if err := n.post(ctx, result); err != nil {
		log.Error().Err(err).
			Int64("user_id", result.UserID).
			Int64("image_id", result.ImageID).
			Msg("Result callback failed")
		return
	}
	log.Info().
		Int64("user_id", result.UserID).
		Int64("image_id", result.ImageID).
		Msg("Result callback delivered")
}

func (n *HTTPNotifier) post(ctx context.Context, result Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal callback payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.base+"/analysis/result", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("callback request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("callback status %d: %s", resp.StatusCode, data)
	}
	return nil
}
