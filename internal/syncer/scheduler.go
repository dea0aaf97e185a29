package syncer

import (
	"context"
	"log/slog"
	stdsync "sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultInterval is the periodic sync cadence.
	DefaultInterval = 5 * time.Minute
	// staleThreshold is how long since the last pass before a visibility
	// resume triggers an opportunistic sync.
	staleThreshold = 5 * time.Minute
)

// Scheduler drives periodic incremental sync passes for a fixed set of
// owners, plus opportunistic passes when the app regains visibility.
type Scheduler struct {
	engine   *Engine
	owners   []string
	interval time.Duration
	logger   *slog.Logger

	mu      stdsync.Mutex
	lastRun map[string]time.Time

	running atomic.Bool
	cancel  context.CancelFunc
	wg      stdsync.WaitGroup

	nowFunc func() time.Time
}

// NewScheduler returns a stopped Scheduler.
func NewScheduler(engine *Engine, owners []string, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Scheduler{
		engine:   engine,
		owners:   owners,
		interval: interval,
		logger:   logger,
		lastRun:  make(map[string]time.Time),
		nowFunc:  time.Now,
	}
}

// Start launches the periodic loop with an immediate first pass. Idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)

	go s.run(ctx)

	s.logger.Info("sync scheduler started",
		slog.Int("owners", len(s.owners)),
		slog.Duration("interval", s.interval),
	)
}

// Stop halts the loop and waits for an in-progress pass to finish.
// Idempotent.
func (s *Scheduler) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	s.cancel()
	s.wg.Wait()

	s.logger.Info("sync scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	s.SyncAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SyncAll(ctx)
		}
	}
}

// SyncAll runs one pass for every owner. A failed owner never blocks the
// others.
func (s *Scheduler) SyncAll(ctx context.Context) {
	for _, owner := range s.owners {
		if ctx.Err() != nil {
			return
		}

		s.syncOne(ctx, owner)
	}
}

// VisibilityResumed triggers an opportunistic pass for owners whose last
// successful pass is older than the stale threshold. Called when the
// process regains foreground attention or connectivity returns.
func (s *Scheduler) VisibilityResumed(ctx context.Context) {
	now := s.nowFunc()

	for _, owner := range s.owners {
		s.mu.Lock()
		last := s.lastRun[owner]
		s.mu.Unlock()

		if now.Sub(last) < staleThreshold {
			continue
		}

		s.syncOne(ctx, owner)
	}
}

func (s *Scheduler) syncOne(ctx context.Context, owner string) {
	if err := s.engine.PerformIncrementalSync(ctx, owner); err != nil {
		// Already logged and reported by the engine.
		return
	}

	s.mu.Lock()
	s.lastRun[owner] = s.nowFunc()
	s.mu.Unlock()
}
