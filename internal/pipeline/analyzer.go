package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/4-nyang-dan/mindtrack-ai/internal/analysis"
	"github.com/4-nyang-dan/mindtrack-ai/internal/callback"
	"github.com/4-nyang-dan/mindtrack-ai/internal/store"
)

// Analyzer pulls batches from the dispatcher, runs the analysis engine and
// persists the outcome. One Analyzer serves one worker slot; slots share the
// counters.
type Analyzer struct {
	dispatcher  *Dispatcher
	engine      analysis.Engine
	contexts    *analysis.ContextBuilder
	queue       ImageQueue
	states      ItemStates
	suggestions SuggestionWriter
	notifier    callback.Notifier
	logger      zerolog.Logger

	processed *atomic.Int64
	failed    *atomic.Int64
}

// NewAnalyzer creates an analyzer worker.
func NewAnalyzer(
	d *Dispatcher,
	engine analysis.Engine,
	contexts *analysis.ContextBuilder,
	q ImageQueue,
	states ItemStates,
	suggestions SuggestionWriter,
	notifier callback.Notifier,
	processed, failed *atomic.Int64,
	logger zerolog.Logger,
) *Analyzer {
	return &Analyzer{
		dispatcher:  d,
		engine:      engine,
		contexts:    contexts,
		queue:       q,
		states:      states,
		suggestions: suggestions,
		notifier:    notifier,
		processed:   processed,
		failed:      failed,
		logger:      logger.With().Str("component", "analyzer").Logger(),
	}
}

// Run processes batches until the context is cancelled.
func (a *Analyzer) Run(ctx context.Context) {
	for {
		batch, ok := a.dispatcher.Next(ctx)
		if !ok {
			return
		}
		a.process(ctx, batch)
	}
}

// process runs one batch end to end. Cleanup is unconditional: the working
// directory and every collected raw payload are gone on every exit path, so
// consumed bytes are never available for a second attempt.
func (a *Analyzer) process(ctx context.Context, batch Batch) {
	logger := a.logger.With().Str("batch_id", batch.ID.String()).
		Int64("user_id", batch.UserID).Int("items", len(batch.ImageIDs)).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Analyzer panic recovered")
			a.failBatch(batch, "analysis_panic")
		}
		a.cleanup(batch)
	}()

	logger.Info().Msg("Analyzing batch")

	result, err := a.engine.AnalyzeBatch(ctx, batch.Dir)
	if err != nil {
		logger.Error().Err(err).Msg("Analysis engine failed")
		a.failBatch(batch, "analysis_error: "+err.Error())
		return
	}

	prediction := analysis.DecodePrediction(result.RawPrediction)
	if prediction.Fallback {
		logger.Warn().Msg("Prediction output unparseable, persisting with empty defaults")
	}

	pivotID := parseImageID(result.RepresentativeImage, batch.ImageIDs[0])

	// Feed the context store; retrieval failure degrades prompting but must
	// not fail the batch.
	bctx, err := a.contexts.Observe(ctx, result.RepresentativeImage, result.Description)
	if err != nil {
		logger.Warn().Err(err).Msg("Context store update failed")
		bctx = &analysis.BatchContext{}
	}

	items := a.answerQuestions(ctx, result, bctx, prediction.TopQuestions(), logger)

	sugg := &store.Suggestion{
		UserID:              batch.UserID,
		ImageID:             pivotID,
		RepresentativeImage: result.RepresentativeImage,
		Description:         result.Description,
		PredictedActions:    store.JSONStringArray(prediction.Actions),
	}
	if _, err := a.suggestions.CreateSuggestion(context.Background(), sugg, items); err != nil {
		logger.Error().Err(err).Msg("Failed to persist suggestion")
		a.failBatch(batch, "persistence_error: "+err.Error())
		return
	}

	if err := a.states.MarkDone(context.Background(), batch.UserID, batch.ImageIDs); err != nil {
		logger.Error().Err(err).Msg("Failed to mark items done")
	}
	a.processed.Add(1)

	a.notifier.NotifyResult(context.Background(), callback.Result{
		UserID:  batch.UserID,
		ImageID: pivotID,
		Suggestion: callback.Suggestion{
			RepresentativeImage: result.RepresentativeImage,
			Description:         result.Description,
			PredictedActions:    prediction.Actions,
		},
		PredictedQuestions: toQuestions(prediction.TopQuestions()),
	})

	logger.Info().Int64("pivot", pivotID).Msg("Batch analyzed")
}

// answerQuestions resolves each predicted question with one follow-up engine
// call. A failed answer call is logged and recorded as an empty answer; it
// never aborts the batch.
func (a *Analyzer) answerQuestions(ctx context.Context, result *analysis.BatchAnalysis, bctx *analysis.BatchContext, questions []string, logger zerolog.Logger) []store.SuggestionItem {
	items := make([]store.SuggestionItem, 0, len(questions))
	for i, question := range questions {
		answer, err := a.engine.Answer(ctx, analysis.AnswerRequest{
			CurrentContext: result.Description,
			RecentContext:  bctx.Recent,
			SimilarContext: bctx.Similar,
			Question:       question,
		})
		if err != nil {
			logger.Warn().Err(err).Str("question", question).Msg("Answer call failed")
			answer = ""
		}
		items = append(items, store.SuggestionItem{
			Question: question,
			Answer:   answer,
			Rank:     i + 1,
		})
	}
	return items
}

// failBatch marks every item in the batch FAILED with a bounded reason.
func (a *Analyzer) failBatch(batch Batch, reason string) {
	a.failed.Add(1)
	err := a.states.MarkFailed(context.Background(), batch.UserID, batch.ImageIDs, store.TruncateReason(reason))
	if err != nil {
		a.logger.Error().Err(err).Str("batch_id", batch.ID.String()).
			Msg("Failed to mark batch failed")
	}
}

// cleanup destroys the working directory and the consumed raw payloads.
// Runs with a fresh context so shutdown cannot skip it.
func (a *Analyzer) cleanup(batch Batch) {
	ctx := context.Background()
	if err := os.RemoveAll(batch.Dir); err != nil {
		a.logger.Error().Err(err).Str("dir", batch.Dir).Msg("Failed to remove working dir")
	}
	for _, imageID := range batch.ImageIDs {
		if err := a.queue.Ack(ctx, batch.UserID, imageID); err != nil {
			a.logger.Error().Err(err).Int64("user_id", batch.UserID).
				Int64("image_id", imageID).Msg("Failed to ack consumed item")
		}
	}
}

// parseImageID extracts the numeric image id from a representative filename
// such as "107.png" or "/tmp/mt_job_x/107.png". Unparseable names fall back
// to the given first collected id.
func parseImageID(filename string, fallback int64) int64 {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	id, err := strconv.ParseInt(base, 10, 64)
	if err != nil || id <= 0 {
		return fallback
	}
	return id
}

func toQuestions(questions []string) []callback.PredictedQuestion {
	out := make([]callback.PredictedQuestion, len(questions))
	for i, q := range questions {
		out[i] = callback.PredictedQuestion{Question: q}
	}
	return out
}
