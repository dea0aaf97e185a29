// Package syncer implements incremental sync: per-account watermarks,
// delta fetches from the record store, and local merges that respect the
// conflict policy for queued offline mutations.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nexamanager/mailsync/internal/events"
	"github.com/nexamanager/mailsync/internal/metrics"
	"github.com/nexamanager/mailsync/internal/queue"
	"github.com/nexamanager/mailsync/internal/remote"
)

// DefaultLookback is the sync window for accounts with no recorded
// watermark yet.
const DefaultLookback = 24 * time.Hour

// Fetcher retrieves changed records from the remote store.
type Fetcher interface {
	ListChangedSince(ctx context.Context, owner string, since time.Time) ([]remote.Record, error)
}

// Store is the local persistence the engine merges into.
type Store interface {
	GetWatermark(ctx context.Context, owner string) (time.Time, bool, error)
	SetWatermark(ctx context.Context, owner string, at time.Time) error
	UpsertRecord(ctx context.Context, rec remote.Record) error
	MarkRecordDeleted(ctx context.Context, owner, id string, at int64) error
	HasRecord(ctx context.Context, owner, id string) (bool, error)
	ListConflictPending(ctx context.Context, owner string) ([]*queue.Operation, error)
	SkipConflicted(ctx context.Context, id string) error
	RequeueConflicted(ctx context.Context, id string, payload queue.Payload) error
}

// Engine performs incremental sync passes. It shares the conflict resolver
// with the queue processor so local offline edits are never overwritten
// without passing through policy.
type Engine struct {
	fetcher  Fetcher
	store    Store
	resolver *queue.Resolver
	bus      *events.Bus
	logger   *slog.Logger

	lookback time.Duration
	nowFunc  func() time.Time
}

// NewEngine returns an Engine.
func NewEngine(fetcher Fetcher, store Store, resolver *queue.Resolver, bus *events.Bus, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		fetcher:  fetcher,
		store:    store,
		resolver: resolver,
		bus:      bus,
		logger:   logger,
		lookback: DefaultLookback,
		nowFunc:  time.Now,
	}
}

// SetLookback overrides the default window used when an owner has no
// watermark yet.
func (e *Engine) SetLookback(d time.Duration) {
	if d > 0 {
		e.lookback = d
	}
}

// PerformIncrementalSync fetches records changed since the owner's
// watermark, merges them locally, and advances the watermark to the sync
// start time on success. The watermark only moves after the whole batch
// merged, so a failed pass is retried from the same point.
func (e *Engine) PerformIncrementalSync(ctx context.Context, owner string) error {
	start := e.nowFunc()

	watermark, ok, err := e.store.GetWatermark(ctx, owner)
	if err != nil {
		return e.failSync(owner, fmt.Errorf("syncer: reading watermark: %w", err))
	}

	if !ok {
		watermark = start.Add(-e.lookback)
	}

	e.bus.Publish(events.Event{
		Type:     events.TypeSyncStarted,
		OwnerID:  owner,
		Severity: events.SeverityInfo,
	})

	changed, err := e.fetcher.ListChangedSince(ctx, owner, watermark)
	if err != nil {
		return e.failSync(owner, fmt.Errorf("syncer: fetching delta: %w", err))
	}

	conflicted, err := e.conflictedByRecord(ctx, owner)
	if err != nil {
		return e.failSync(owner, err)
	}

	for _, rec := range changed {
		if err := e.resolveParked(ctx, conflicted[rec.ID], map[string]remote.Record{rec.ID: rec}); err != nil {
			return e.failSync(owner, err)
		}

		if err := e.merge(ctx, owner, rec); err != nil {
			return e.failSync(owner, err)
		}
	}

	if err := e.store.SetWatermark(ctx, owner, start); err != nil {
		return e.failSync(owner, fmt.Errorf("syncer: advancing watermark: %w", err))
	}

	e.logger.Info("incremental sync completed",
		slog.String("owner", owner),
		slog.Int("changed", len(changed)),
		slog.Duration("duration", e.nowFunc().Sub(start)),
	)

	e.bus.Publish(events.Event{
		Type:     events.TypeSyncCompleted,
		OwnerID:  owner,
		Severity: events.SeverityInfo,
		Count:    len(changed),
	})

	metrics.SyncRuns.WithLabelValues(owner, "success").Inc()
	metrics.SyncDuration.Observe(e.nowFunc().Sub(start).Seconds())

	return nil
}

// failSync logs and reports a failed pass. The watermark stays put.
func (e *Engine) failSync(owner string, err error) error {
	e.logger.Error("incremental sync failed",
		slog.String("owner", owner),
		slog.String("error", err.Error()),
	)

	e.bus.Publish(events.Event{
		Type:     events.TypeSyncError,
		OwnerID:  owner,
		Severity: events.SeverityError,
		Message:  err.Error(),
	})

	metrics.SyncRuns.WithLabelValues(owner, "error").Inc()

	return err
}

// conflictedByRecord indexes the owner's conflict_pending operations by the
// record IDs they target.
func (e *Engine) conflictedByRecord(ctx context.Context, owner string) (map[string][]*queue.Operation, error) {
	ops, err := e.store.ListConflictPending(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("syncer: listing parked conflicts: %w", err)
	}

	byRecord := make(map[string][]*queue.Operation)

	for _, op := range ops {
		for _, id := range op.RecordIDs() {
			byRecord[id] = append(byRecord[id], op)
		}
	}

	return byRecord, nil
}

// resolveParked runs the conflict policy for operations parked against an
// incoming record. Operations the policy settles in the server's favor are
// skipped; operations keeping local intent are requeued for replay.
// needs_user outcomes stay parked — the merge proceeds because the local
// intent is preserved in the operation itself, not in the record row.
func (e *Engine) resolveParked(ctx context.Context, ops []*queue.Operation, snapshots map[string]remote.Record) error {
	for _, op := range ops {
		outcome := e.resolver.Resolve(op, snapshots)

		switch {
		case outcome.Proceed:
			if err := e.store.RequeueConflicted(ctx, op.ID, outcome.Applied); err != nil {
				return fmt.Errorf("syncer: requeueing resolved operation %s: %w", op.ID, err)
			}
		case outcome.Resolution == queue.ResolutionNeedsUser:
			// Still waiting on the user.
		default:
			if err := e.store.SkipConflicted(ctx, op.ID); err != nil {
				return fmt.Errorf("syncer: skipping resolved operation %s: %w", op.ID, err)
			}
		}
	}

	return nil
}

// merge applies one changed remote record to local storage, emitting the
// matching change event.
func (e *Engine) merge(ctx context.Context, owner string, rec remote.Record) error {
	if rec.Deleted {
		if err := e.store.MarkRecordDeleted(ctx, owner, rec.ID, rec.UpdatedAt.UnixNano()); err != nil {
			return fmt.Errorf("syncer: merging deletion of %s: %w", rec.ID, err)
		}

		e.publishChange(events.TypeRecordDeleted, owner, rec.ID)
		metrics.SyncRecordsMerged.WithLabelValues("deleted").Inc()

		return nil
	}

	exists, err := e.store.HasRecord(ctx, owner, rec.ID)
	if err != nil {
		return fmt.Errorf("syncer: checking local record %s: %w", rec.ID, err)
	}

	if err := e.store.UpsertRecord(ctx, rec); err != nil {
		return fmt.Errorf("syncer: merging record %s: %w", rec.ID, err)
	}

	if exists {
		e.publishChange(events.TypeRecordUpdated, owner, rec.ID)
		metrics.SyncRecordsMerged.WithLabelValues("updated").Inc()
	} else {
		e.publishChange(events.TypeRecordNew, owner, rec.ID)
		metrics.SyncRecordsMerged.WithLabelValues("new").Inc()
	}

	return nil
}

func (e *Engine) publishChange(typ events.Type, owner, recordID string) {
	e.bus.Publish(events.Event{
		Type:     typ,
		OwnerID:  owner,
		RecordID: recordID,
		Severity: events.SeverityInfo,
	})
}
