package worker

import (
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/4-nyang-dan/mindtrack-ai/internal/analysis"
	"github.com/4-nyang-dan/mindtrack-ai/internal/store"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealthz reports liveness of both backends.
func (s *Service) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := http.StatusOK
	redisStatus, dbStatus := "ok", "ok"
	if err := s.redisPing.Ping(ctx); err != nil {
		redisStatus = err.Error()
		status = http.StatusServiceUnavailable
	}
	if err := s.dbPing.Ping(ctx); err != nil {
		dbStatus = err.Error()
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"status":         statusWord(status),
		"redis":          redisStatus,
		"postgres":       dbStatus,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

func statusWord(status int) string {
	if status == http.StatusOK {
		return "ok"
	}
	return "degraded"
}

// handleStats reports pipeline throughput, durable item counts and the
// context store size.
func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.pipe.Stats()
	records, err := s.index.Len(r.Context())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Vector count unavailable")
		records = -1
	}

	counts := make(map[string]int64, 4)
	for _, status := range []store.AnalysisStatus{
		store.StatusPending, store.StatusInProgress, store.StatusDone, store.StatusFailed,
	} {
		n, err := s.items.CountByStatus(r.Context(), status)
		if err != nil {
			s.logger.Warn().Err(err).Str("status", string(status)).Msg("Item count unavailable")
			n = -1
		}
		counts[strings.ToLower(string(status))] = n
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active_collectors": stats.ActiveCollectors,
		"queued_batches":    stats.QueuedBatches,
		"processed_batches": stats.ProcessedBatches,
		"failed_batches":    stats.FailedBatches,
		"vector_records":    records,
		"items":             counts,
	})
}

// AnswerRequest is the admin QA request body.
type AnswerRequest struct {
	Question string `json:"question"`
}

// AnswerResponse carries the engine's answer plus the retrieved context.
type AnswerResponse struct {
	Answer  string `json:"answer"`
	Current string `json:"current_context,omitempty"`
	Recent  string `json:"recent_context,omitempty"`
	Similar string `json:"similar_context,omitempty"`
}

// handleAnswer answers a question over the accumulated screen history:
// retrieve recent + similar context from the vector store, then ask the
// engine.
func (s *Service) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	current, recent, similar, err := s.contexts.ContextFor(r.Context(), req.Question)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Context retrieval failed, answering without history")
		current, recent, similar = "", "", ""
	}

	answer, err := s.engine.Answer(r.Context(), analysis.AnswerRequest{
		CurrentContext: current,
		RecentContext:  recent,
		SimilarContext: similar,
		Question:       req.Question,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Answer engine call failed")
		writeError(w, http.StatusBadGateway, "engine unavailable")
		return
	}

	writeJSON(w, http.StatusOK, AnswerResponse{
		Answer:  answer,
		Current: current,
		Recent:  recent,
		Similar: similar,
	})
}
