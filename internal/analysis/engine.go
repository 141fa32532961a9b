// Package analysis wraps the external analysis engine and its output decoding.
package analysis

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
)

// BatchAnalysis is the engine's verdict on one batch of screenshots.
type BatchAnalysis struct {
	// RepresentativeImage is the filename the engine picked as the batch pivot.
	RepresentativeImage string `json:"representative_image"`

	// Description is the free-text description of the representative screen.
	Description string `json:"description"`

	// RawPrediction is the model's raw action/question prediction output,
	// possibly fenced or malformed. Decode turns it into a PredictionResult.
	RawPrediction string `json:"prediction"`
}

// AnswerRequest carries the prompt contexts for one follow-up question.
type AnswerRequest struct {
	CurrentContext string `json:"current_context"`
	RecentContext  string `json:"recent_context"`
	SimilarContext string `json:"similar_context"`
	Question       string `json:"user_question"`
}

// Engine is the external analysis collaborator. AnalyzeBatch is one
// synchronous call with bounded-but-unpredictable latency; no client-side
// timeout is imposed on it.
type Engine interface {
	AnalyzeBatch(ctx context.Context, dir string) (*BatchAnalysis, error)
	Answer(ctx context.Context, req AnswerRequest) (string, error)
}

const answerTimeout = 60 * time.Second

// HTTPEngine talks to the inference sidecar over HTTP.
type HTTPEngine struct {
	client  *http.Client
	baseURL string
}

var _ Engine = (*HTTPEngine)(nil)

// NewHTTPEngine creates an engine client for the given base URL.
func NewHTTPEngine(baseURL string) *HTTPEngine {
	return &HTTPEngine{
		// No Timeout: analysis latency is bounded only by the sidecar itself.
		client:  &http.Client{},
		baseURL: baseURL,
	}
}

// AnalyzeBatch uploads every file in dir and returns the engine's analysis.
func (e *HTTPEngine) AnalyzeBatch(ctx context.Context, dir string) (*BatchAnalysis, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read batch dir: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		part, err := mw.CreateFormFile("files", entry.Name())
		if err != nil {
			return nil, fmt.Errorf("create form file: %w", err)
		}
		f, err := os.Open(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", entry.Name(), err)
		}
		_, err = io.Copy(part, f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("copy %s: %w", entry.Name(), err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/upload-and-process", &body)
	if err != nil {
		return nil, fmt.Errorf("build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analyze request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("analyze request: status %d: %s", resp.StatusCode, data)
	}

	var result BatchAnalysis
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode analyze response: %w", err)
	}
	return &result, nil
}

// Answer asks the engine one follow-up question.
func (e *HTTPEngine) Answer(ctx context.Context, areq AnswerRequest) (string, error) {
	payload, err := json.Marshal(areq)
	if err != nil {
		return "", fmt.Errorf("marshal answer request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, answerTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/answer-question", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build answer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("answer request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("answer request: status %d: %s", resp.StatusCode, data)
	}

	var out struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode answer response: %w", err)
	}
	return out.Answer, nil
}
