package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/4-nyang-dan/mindtrack-ai/internal/analysis"
	"github.com/4-nyang-dan/mindtrack-ai/internal/callback"
	"github.com/4-nyang-dan/mindtrack-ai/internal/store"
)

// Mode selects the batch ingress variant.
type Mode string

const (
	// ModeRedisDrain runs the scanner + per-user window collectors over the
	// Redis pending lists.
	ModeRedisDrain Mode = "redis"

	// ModeClaim runs the relational SKIP LOCKED claim loop.
	ModeClaim Mode = "postgres"
)

// Config tunes the pipeline.
type Config struct {
	Mode         Mode
	Collector    CollectorConfig
	Claim        ClaimLoopConfig
	ScanInterval time.Duration
	Workers      int
}

// Deps are the pipeline's collaborators.
type Deps struct {
	Queue       ImageQueue
	States      ItemStates
	Suggestions SuggestionWriter
	Coordinator store.ClaimCoordinator // required in ModeClaim
	Engine      analysis.Engine
	Contexts    *analysis.ContextBuilder
	Notifier    callback.Notifier
}

// Stats is a point-in-time snapshot for the admin surface.
type Stats struct {
	ActiveCollectors int   `json:"active_collectors"`
	QueuedBatches    int   `json:"queued_batches"`
	ProcessedBatches int64 `json:"processed_batches"`
	FailedBatches    int64 `json:"failed_batches"`
}

// Pipeline owns the batch producers (scanner+collectors or claim loop), the
// dispatcher and the analyzer pool.
type Pipeline struct {
	cfg        Config
	deps       Deps
	registry   *Registry
	dispatcher *Dispatcher
	logger     zerolog.Logger

	processed atomic.Int64
	failed    atomic.Int64

	cancel  context.CancelFunc
	workers *errgroup.Group
	wg      sync.WaitGroup
}

// New creates a pipeline. Dispatcher depth is derived from Workers when the
// Claim/Collector configs leave it unset.
func New(cfg Config, deps Deps, dispatchDepth int, logger zerolog.Logger) (*Pipeline, error) {
	if deps.Queue == nil || deps.States == nil || deps.Suggestions == nil {
		return nil, fmt.Errorf("queue, states and suggestions are required")
	}
	if deps.Engine == nil || deps.Contexts == nil || deps.Notifier == nil {
		return nil, fmt.Errorf("engine, contexts and notifier are required")
	}
	if cfg.Mode == ModeClaim && deps.Coordinator == nil {
		return nil, fmt.Errorf("claim coordinator required in postgres mode")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	return &Pipeline{
		cfg:        cfg,
		deps:       deps,
		registry:   NewRegistry(),
		dispatcher: NewDispatcher(dispatchDepth),
		logger:     logger,
	}, nil
}

// Start launches the producers and the analyzer pool.
func (p *Pipeline) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.workers = &errgroup.Group{}
	for i := 0; i < p.cfg.Workers; i++ {
		analyzer := NewAnalyzer(
			p.dispatcher, p.deps.Engine, p.deps.Contexts,
			p.deps.Queue, p.deps.States, p.deps.Suggestions, p.deps.Notifier,
			&p.processed, &p.failed, p.logger,
		)
		p.workers.Go(func() error {
			analyzer.Run(ctx)
			return nil
		})
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		switch p.cfg.Mode {
		case ModeClaim:
			NewClaimLoop(p.deps.Coordinator, p.deps.Queue, p.deps.States,
				p.dispatcher, p.cfg.Claim, p.logger).Run(ctx)
		default:
			NewScanner(p.deps.Queue, p.deps.States, p.dispatcher, p.registry,
				p.cfg.Collector, p.cfg.ScanInterval, p.logger).Run(ctx)
		}
	}()

	p.logger.Info().Str("mode", string(p.cfg.Mode)).Int("workers", p.cfg.Workers).
		Msg("Pipeline started")
}

// Stop cancels all loops and waits for them, bounded by ctx.
func (p *Pipeline) Stop(ctx context.Context) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		_ = p.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipeline shutdown timed out: %w", ctx.Err())
	}
}

// Stats returns a snapshot of the pipeline's counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		ActiveCollectors: p.registry.Len(),
		QueuedBatches:    p.dispatcher.Depth(),
		ProcessedBatches: p.processed.Load(),
		FailedBatches:    p.failed.Load(),
	}
}
