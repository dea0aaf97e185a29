package queue

import (
	"context"
	"fmt"
	"log/slog"
	stdsync "sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nexamanager/mailsync/internal/events"
	"github.com/nexamanager/mailsync/internal/faults"
	"github.com/nexamanager/mailsync/internal/metrics"
	"github.com/nexamanager/mailsync/internal/remote"
)

const (
	// DefaultConcurrency bounds simultaneously executing operations.
	DefaultConcurrency = 3
	// DefaultSweepInterval is how often retry_pending operations whose
	// RetryAt has elapsed are released back to pending.
	DefaultSweepInterval = 10 * time.Second
	// defaultOpTimeout bounds a single operation execution.
	defaultOpTimeout = 30 * time.Second
	// staleClaimTimeout is how long an operation may sit in processing
	// before the sweeper treats its claim as orphaned (the claiming
	// process died before a terminal transition) and requeues it. Must
	// comfortably exceed defaultOpTimeout so live executions never
	// qualify.
	staleClaimTimeout = 5 * time.Minute
)

// RemoteClient is the record store surface the processor executes against.
type RemoteClient interface {
	GetRecords(ctx context.Context, owner string, ids []string) ([]remote.Record, error)
	SetRead(ctx context.Context, owner string, ids []string, read bool) error
	SetStarred(ctx context.Context, owner string, ids []string, starred bool) error
	Move(ctx context.Context, owner string, ids []string, folderID string) error
	Delete(ctx context.Context, owner string, ids []string) error
	AddLabels(ctx context.Context, owner string, ids, labels []string) error
	RemoveLabels(ctx context.Context, owner string, ids, labels []string) error
	Send(ctx context.Context, owner string, msg remote.OutboundMessage) error
	CreateDraft(ctx context.Context, owner string, draft remote.Draft) error
	UpdateDraft(ctx context.Context, owner, draftID string, draft remote.Draft) error
}

// SyncFunc runs an incremental sync pass for one owner. Used for
// sync_account operations.
type SyncFunc func(ctx context.Context, owner string) error

// RecoveryHook receives terminal operation failures so the recovery
// coordinator can escalate.
type RecoveryHook interface {
	HandleFailure(ctx context.Context, kind faults.Kind, owner string)
}

// Stats is a snapshot of the processor counters.
type Stats struct {
	Processed    int64 `json:"processed"`
	Failed       int64 `json:"failed"`
	Retried      int64 `json:"retried"`
	DeadLettered int64 `json:"dead_lettered"`
	Skipped      int64 `json:"skipped"`
	InFlight     int64 `json:"in_flight"`
}

// Processor executes persisted queue entries with bounded concurrency,
// applies the retry policy on failure, and promotes exhausted entries to
// the dead-letter set. Failures of one entry never abort siblings.
type Processor struct {
	store    Store
	client   RemoteClient
	resolver *Resolver
	policy   *faults.Policy
	bus      *events.Bus
	logger   *slog.Logger

	syncFunc SyncFunc
	recovery RecoveryHook
	gate     func() bool

	concurrency   int64
	sem           *semaphore.Weighted
	sweepInterval time.Duration
	opTimeout     time.Duration

	processed    atomic.Int64
	failed       atomic.Int64
	retried      atomic.Int64
	deadLettered atomic.Int64
	skipped      atomic.Int64
	inFlight     atomic.Int64

	running atomic.Bool
	kickCh  chan struct{}
	cancel  context.CancelFunc
	wg      stdsync.WaitGroup
	workers stdsync.WaitGroup

	nowFunc func() time.Time
}

// ProcessorConfig carries the knobs for NewProcessor. Zero values fall back
// to defaults.
type ProcessorConfig struct {
	Concurrency   int
	SweepInterval time.Duration
}

// NewProcessor returns a stopped Processor.
func NewProcessor(
	store Store,
	client RemoteClient,
	resolver *Resolver,
	policy *faults.Policy,
	bus *events.Bus,
	logger *slog.Logger,
	cfg ProcessorConfig,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}

	return &Processor{
		store:         store,
		client:        client,
		resolver:      resolver,
		policy:        policy,
		bus:           bus,
		logger:        logger,
		concurrency:   int64(cfg.Concurrency),
		sem:           semaphore.NewWeighted(int64(cfg.Concurrency)),
		sweepInterval: cfg.SweepInterval,
		opTimeout:     defaultOpTimeout,
		kickCh:        make(chan struct{}, 1),
		nowFunc:       time.Now,
	}
}

// SetSyncFunc wires the incremental sync entry point for sync_account
// operations.
func (p *Processor) SetSyncFunc(fn SyncFunc) {
	p.syncFunc = fn
}

// SetRecoveryHook wires the recovery coordinator.
func (p *Processor) SetRecoveryHook(h RecoveryHook) {
	p.recovery = h
}

// SetGate installs a connectivity gate consulted before claiming work.
// While the gate reports false, pending operations stay queued instead of
// burning retry attempts against an unreachable remote.
func (p *Processor) SetGate(gate func() bool) {
	p.gate = gate
}

// Start launches the scheduling loop. Idempotent.
func (p *Processor) Start(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)

	go p.run(ctx)

	p.logger.Info("queue processor started",
		slog.Int64("concurrency", p.concurrency),
		slog.Duration("sweep_interval", p.sweepInterval),
	)
}

// Stop halts scheduling and waits for in-flight executions to finish.
// In-flight operations are not aborted. Idempotent.
func (p *Processor) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}

	p.cancel()
	p.wg.Wait()

	p.logger.Info("queue processor stopped")
}

// Kick nudges the processor to look for runnable work. Non-blocking; a
// pending nudge coalesces with new ones.
func (p *Processor) Kick() {
	select {
	case p.kickCh <- struct{}{}:
	default:
	}
}

// Stats returns a snapshot of the counters.
func (p *Processor) Stats() Stats {
	return Stats{
		Processed:    p.processed.Load(),
		Failed:       p.failed.Load(),
		Retried:      p.retried.Load(),
		DeadLettered: p.deadLettered.Load(),
		Skipped:      p.skipped.Load(),
		InFlight:     p.inFlight.Load(),
	}
}

// run is the scheduling loop: a kick or a sweep tick triggers a retry
// release followed by a claim pass.
func (p *Processor) run(ctx context.Context) {
	defer p.wg.Done()
	defer p.workers.Wait()

	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
			p.Tick(ctx)
		case <-p.kickCh:
			p.Tick(ctx)
		}
	}
}

// sweep releases retry_pending operations whose RetryAt has elapsed and
// requeues processing claims orphaned by a crashed process, then refreshes
// the queue depth gauges.
func (p *Processor) sweep(ctx context.Context) {
	now := p.nowFunc()

	released, err := p.store.ReleaseDueRetries(ctx, now.UnixNano())
	if err != nil {
		p.logger.Error("releasing due retries", slog.String("error", err.Error()))

		return
	}

	if released > 0 {
		p.logger.Debug("released retry-pending operations", slog.Int("count", released))
	}

	stale, err := p.store.ReleaseStaleProcessing(ctx, now.Add(-staleClaimTimeout).UnixNano())
	if err != nil {
		p.logger.Error("releasing stale processing operations", slog.String("error", err.Error()))

		return
	}

	if stale > 0 {
		p.logger.Warn("requeued operations from orphaned claims", slog.Int("count", stale))
	}

	p.updateDepthGauges(ctx)
}

// updateDepthGauges mirrors the per-status queue depth to Prometheus.
func (p *Processor) updateDepthGauges(ctx context.Context) {
	depth, err := p.store.CountByStatus(ctx)
	if err != nil {
		p.logger.Error("counting operations by status", slog.String("error", err.Error()))

		return
	}

	for _, status := range allStatuses {
		metrics.QueueDepth.WithLabelValues(string(status)).Set(float64(depth[status]))
	}
}

// Tick claims up to (concurrency - inFlight) pending operations in enqueue
// order and executes each in its own goroutine.
func (p *Processor) Tick(ctx context.Context) {
	if p.gate != nil && !p.gate() {
		return
	}

	slots := p.concurrency - p.inFlight.Load()
	if slots <= 0 {
		return
	}

	ops, err := p.store.ClaimPending(ctx, int(slots), p.nowFunc().UnixNano())
	if err != nil {
		p.logger.Error("claiming pending operations", slog.String("error", err.Error()))

		return
	}

	for i, op := range ops {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			p.requeueUnstarted(ctx, ops[i:])

			return
		}

		p.workers.Add(1)

		go func(op *Operation) {
			defer p.workers.Done()
			defer p.sem.Release(1)

			// Stop must not abort in-flight executions, so the operation
			// runs on a timeout detached from the scheduling context.
			opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opTimeout)
			defer cancel()

			p.process(opCtx, op)
		}(op)
	}

	// More pending work than slots: come back after in-flight drains.
	if len(ops) == int(slots) {
		p.Kick()
	}
}

// requeueUnstarted returns claimed operations that never reached a worker
// to pending, so a shutdown between claim and dispatch cannot strand them.
// Runs on a detached context because the scheduling context is already
// cancelled when this path is taken.
func (p *Processor) requeueUnstarted(ctx context.Context, ops []*Operation) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opTimeout)
	defer cancel()

	for _, op := range ops {
		if err := p.store.Requeue(ctx, op.ID); err != nil {
			p.logger.Error("requeuing unstarted operation",
				slog.String("operation_id", op.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// process executes one claimed operation end to end.
func (p *Processor) process(ctx context.Context, op *Operation) {
	p.inFlight.Add(1)
	metrics.OperationsInFlight.Inc()

	defer func() {
		p.inFlight.Add(-1)
		metrics.OperationsInFlight.Dec()

		if r := recover(); r != nil {
			p.logger.Error("panic during operation execution",
				slog.String("operation_id", op.ID),
				slog.Any("panic", r),
			)
			p.fail(ctx, op, fmt.Errorf("queue: panic during execution: %v", r))
		}
	}()

	if proceed := p.preflight(ctx, op); !proceed {
		return
	}

	if err := p.execute(ctx, op); err != nil {
		p.fail(ctx, op, err)

		return
	}

	now := p.nowFunc().UnixNano()
	if err := p.store.MarkCompleted(ctx, op.ID, now); err != nil {
		p.logger.Error("marking operation completed",
			slog.String("operation_id", op.ID),
			slog.String("error", err.Error()),
		)

		return
	}

	p.processed.Add(1)
	metrics.OperationsProcessed.WithLabelValues(string(op.Kind)).Inc()

	p.logger.Debug("operation completed",
		slog.String("operation_id", op.ID),
		slog.String("kind", string(op.Kind)),
		slog.Int("attempts", op.Attempts+1),
	)
}

// preflight runs the conflict check for mutation kinds targeting existing
// records. Returns false when the operation was settled without executing.
func (p *Processor) preflight(ctx context.Context, op *Operation) bool {
	if !op.MutatesExisting() {
		return true
	}

	records, err := p.client.GetRecords(ctx, op.OwnerID, op.RecordIDs())
	if err != nil {
		p.fail(ctx, op, fmt.Errorf("queue: fetching server state before replay: %w", err))

		return false
	}

	snapshots := make(map[string]remote.Record, len(records))
	for _, rec := range records {
		snapshots[rec.ID] = rec
	}

	if !p.resolver.DetectConflict(op, snapshots) {
		return true
	}

	outcome := p.resolver.Resolve(op, snapshots)
	if outcome.Proceed {
		op.Payload = outcome.Applied

		return true
	}

	switch outcome.Resolution {
	case ResolutionNeedsUser:
		if err := p.store.MarkConflictPending(ctx, op.ID); err != nil {
			p.logger.Error("marking operation conflict_pending",
				slog.String("operation_id", op.ID),
				slog.String("error", err.Error()),
			)

			return false
		}

		p.bus.Notice(events.SeverityWarning, "A queued change conflicts with newer server changes and needs your review.")
	default:
		if err := p.store.MarkSkipped(ctx, op.ID); err != nil {
			p.logger.Error("marking operation skipped",
				slog.String("operation_id", op.ID),
				slog.String("error", err.Error()),
			)

			return false
		}

		p.skipped.Add(1)
		metrics.OperationsSkipped.WithLabelValues(string(op.Kind), string(outcome.Resolution)).Inc()
		p.bus.Notice(events.SeverityInfo, "A queued change was superseded by newer server changes.")
	}

	return false
}

// execute dispatches one operation to the record store.
func (p *Processor) execute(ctx context.Context, op *Operation) error {
	switch payload := op.Payload.(type) {
	case MarkReadPayload:
		return p.client.SetRead(ctx, op.OwnerID, payload.IDs, payload.Read)
	case MarkStarredPayload:
		return p.client.SetStarred(ctx, op.OwnerID, payload.IDs, payload.Starred)
	case MovePayload:
		return p.client.Move(ctx, op.OwnerID, payload.IDs, payload.FolderID)
	case DeletePayload:
		return p.client.Delete(ctx, op.OwnerID, payload.IDs)
	case AddLabelPayload:
		return p.client.AddLabels(ctx, op.OwnerID, payload.IDs, payload.Labels)
	case RemoveLabelPayload:
		return p.client.RemoveLabels(ctx, op.OwnerID, payload.IDs, payload.Labels)
	case SendPayload:
		return p.client.Send(ctx, op.OwnerID, payload.Message)
	case CreateDraftPayload:
		return p.client.CreateDraft(ctx, op.OwnerID, payload.Draft)
	case UpdateDraftPayload:
		return p.client.UpdateDraft(ctx, op.OwnerID, payload.DraftID, payload.Draft)
	case SyncAccountPayload:
		if p.syncFunc == nil {
			return fmt.Errorf("queue: no sync function configured for %s", op.Kind)
		}

		return p.syncFunc(ctx, op.OwnerID)
	default:
		return fmt.Errorf("queue: unknown payload type %T", payload)
	}
}

// fail records one failed attempt: schedule a retry when the policy allows,
// otherwise move the operation to the dead-letter set.
func (p *Processor) fail(ctx context.Context, op *Operation, execErr error) {
	classification := faults.Classify(execErr)
	attempts := op.Attempts + 1
	now := p.nowFunc()

	entry := ErrorEntry{
		Message:   execErr.Error(),
		Timestamp: now.UnixNano(),
		Attempt:   attempts,
	}

	p.logger.Warn("operation attempt failed",
		slog.String("operation_id", op.ID),
		slog.String("kind", string(op.Kind)),
		slog.String("error_kind", string(classification.Kind)),
		slog.Int("attempt", attempts),
		slog.String("error", execErr.Error()),
	)

	if p.policy.ShouldRetry(classification.Kind, attempts) {
		retryAt := now.Add(p.policy.Delay(attempts)).UnixNano()
		if err := p.store.ScheduleRetry(ctx, op.ID, entry, retryAt); err != nil {
			p.logger.Error("scheduling retry",
				slog.String("operation_id", op.ID),
				slog.String("error", err.Error()),
			)

			return
		}

		p.retried.Add(1)
		metrics.OperationsRetried.WithLabelValues(string(op.Kind)).Inc()

		return
	}

	if err := p.store.MarkFailed(ctx, op.ID, entry, now.UnixNano()); err != nil {
		p.logger.Error("dead-lettering operation",
			slog.String("operation_id", op.ID),
			slog.String("error", err.Error()),
		)

		return
	}

	p.failed.Add(1)
	p.deadLettered.Add(1)
	metrics.OperationsFailed.WithLabelValues(string(op.Kind), string(classification.Kind)).Inc()

	p.bus.Publish(events.Event{
		Type:     events.TypeOperationDead,
		OwnerID:  op.OwnerID,
		Severity: events.SeverityError,
		Message:  fmt.Sprintf("A %s change could not be synced after %d attempts.", op.Kind, attempts),
	})

	if p.recovery != nil {
		p.recovery.HandleFailure(ctx, classification.Kind, op.OwnerID)
	}
}
