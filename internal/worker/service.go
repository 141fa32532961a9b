// Package worker assembles the pipeline and exposes the admin HTTP surface.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm/logger"

	"github.com/4-nyang-dan/mindtrack-ai/internal/analysis"
	"github.com/4-nyang-dan/mindtrack-ai/internal/callback"
	"github.com/4-nyang-dan/mindtrack-ai/internal/config"
	"github.com/4-nyang-dan/mindtrack-ai/internal/pipeline"
	"github.com/4-nyang-dan/mindtrack-ai/internal/queue"
	"github.com/4-nyang-dan/mindtrack-ai/internal/store"
	"github.com/4-nyang-dan/mindtrack-ai/internal/vector"
	"github.com/4-nyang-dan/mindtrack-ai/internal/vector/flat"
	"github.com/4-nyang-dan/mindtrack-ai/internal/vector/pgvec"
)

// DefaultHTTPTimeout bounds admin request handling.
const DefaultHTTPTimeout = 30 * time.Second

// Pinger reports backend liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ItemCounter reports durable item counts per state.
type ItemCounter interface {
	CountByStatus(ctx context.Context, status store.AnalysisStatus) (int64, error)
}

// Service owns every long-lived component: the Redis queue store, the
// relational store, the vector index, the pipeline and the admin HTTP server.
type Service struct {
	cfg *config.Config

	queue *queue.Store
	db    *store.Store
	index vector.Index

	contexts *analysis.ContextBuilder
	engine   analysis.Engine
	pipe     *pipeline.Pipeline

	redisPing Pinger
	dbPing    Pinger
	items     ItemCounter

	router *chi.Mux
	server *http.Server
	logger zerolog.Logger

	startTime time.Time
}

// NewService wires the full worker from configuration.
func NewService(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Service, error) {
	q, err := queue.NewStore(ctx, queue.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		ImageTTL: cfg.ImageTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect queue store: %w", err)
	}

	db, err := store.NewStore(store.Config{
		DSN:      cfg.PostgresDSN,
		MaxConns: cfg.MaxConns,
		LogLevel: logger.Silent,
	})
	if err != nil {
		q.Close()
		return nil, fmt.Errorf("connect relational store: %w", err)
	}

	index, err := openIndex(cfg, db)
	if err != nil {
		q.Close()
		db.Close()
		return nil, fmt.Errorf("open vector index: %w", err)
	}

	embedder, err := analysis.NewOpenAIEmbedder(analysis.EmbedderConfig{
		BaseURL: cfg.EmbeddingBaseURL,
		APIKey:  cfg.EmbeddingAPIKey,
		Model:   cfg.EmbeddingModel,
		Dims:    cfg.EmbeddingDims,
	})
	if err != nil {
		q.Close()
		db.Close()
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	engine := analysis.NewHTTPEngine(cfg.EngineBaseURL)
	contexts := analysis.NewContextBuilder(embedder, index, cfg.RecentK, cfg.SearchTopK)
	notifier := callback.NewHTTPNotifier(cfg.CallbackBase, cfg.CallbackTimeout)
	items := store.NewItemStore(db)

	deps := pipeline.Deps{
		Queue:       q,
		States:      items,
		Suggestions: store.NewSuggestionStore(db),
		Engine:      engine,
		Contexts:    contexts,
		Notifier:    notifier,
	}
	if pipeline.Mode(cfg.ClaimBackend) == pipeline.ModeClaim {
		deps.Coordinator = store.NewCoordinator(db)
	}

	pipe, err := pipeline.New(pipeline.Config{
		Mode: pipeline.Mode(cfg.ClaimBackend),
		Collector: pipeline.CollectorConfig{
			Window:     cfg.Window,
			EmptySleep: cfg.EmptyPollSleep,
			MaxItems:   cfg.MaxBatchItems,
		},
		Claim: pipeline.ClaimLoopConfig{
			Window:   cfg.Window,
			MaxItems: cfg.MaxBatchItems,
		},
		ScanInterval: cfg.ScanInterval,
		Workers:      cfg.AnalyzerWorkers,
	}, deps, cfg.DispatchDepth, log)
	if err != nil {
		q.Close()
		db.Close()
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	s := &Service{
		cfg:       cfg,
		queue:     q,
		db:        db,
		index:     index,
		contexts:  contexts,
		engine:    engine,
		pipe:      pipe,
		redisPing: q,
		dbPing:    db,
		items:     items,
		logger:    log.With().Str("component", "worker").Logger(),
		startTime: time.Now(),
	}
	s.router = s.buildRouter()
	return s, nil
}

// openIndex selects the configured vector backend.
func openIndex(cfg *config.Config, db *store.Store) (vector.Index, error) {
	switch cfg.VectorBackend {
	case "pgvector":
		return pgvec.NewClient(pgvec.Config{DB: db.DB, Dim: cfg.EmbeddingDims})
	default:
		return flat.New(flat.Config{Path: cfg.VectorPath, Dim: cfg.EmbeddingDims})
	}
}

func (s *Service) buildRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(DefaultHTTPTimeout))
	r.Use(requestLogger(s.logger))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/api/stats", s.handleStats)
	r.Post("/api/answer", s.handleAnswer)
	return r
}

// Start launches the pipeline and the admin HTTP server.
func (s *Service) Start() error {
	s.pipe.Start()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.AdminPort),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Admin HTTP server error")
		}
	}()

	s.logger.Info().Int("port", s.cfg.AdminPort).
		Str("claim_backend", s.cfg.ClaimBackend).
		Str("vector_backend", s.cfg.VectorBackend).
		Msg("Worker started")
	return nil
}

// Shutdown drains the pipeline, persists the vector snapshot and closes every
// backend connection. Bounded by ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	var firstErr error

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Admin HTTP shutdown error")
			firstErr = err
		}
	}

	if err := s.pipe.Stop(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Pipeline shutdown error")
		if firstErr == nil {
			firstErr = err
		}
	}

	if err := s.index.Save(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Vector snapshot save error")
	}
	if err := s.queue.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Queue store close error")
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Relational store close error")
	}

	s.logger.Info().Msg("Worker shutdown complete")
	return firstErr
}

// Router exposes the admin handler, mainly for tests.
func (s *Service) Router() http.Handler {
	return s.router
}
