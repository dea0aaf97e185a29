package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nexamanager/mailsync/internal/events"
)

// Store is the durable persistence the queue requires. Writes are
// all-or-nothing per operation; status transitions are guarded so a stale
// writer cannot clobber a newer state.
type Store interface {
	Enqueue(ctx context.Context, op *Operation) error
	ClaimPending(ctx context.Context, limit int, now int64) ([]*Operation, error)
	Requeue(ctx context.Context, id string) error
	ReleaseStaleProcessing(ctx context.Context, cutoff int64) (int, error)
	MarkCompleted(ctx context.Context, id string, at int64) error
	MarkSkipped(ctx context.Context, id string) error
	MarkConflictPending(ctx context.Context, id string) error
	ScheduleRetry(ctx context.Context, id string, entry ErrorEntry, retryAt int64) error
	MarkFailed(ctx context.Context, id string, entry ErrorEntry, at int64) error
	ReleaseDueRetries(ctx context.Context, now int64) (int, error)
	ResetDeadLettered(ctx context.Context, ids []string) (int, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Operation, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

// Waker is anything that can be nudged to look for runnable work, typically
// the Processor.
type Waker interface {
	Kick()
}

// queuedMessages are the user-visible notices emitted when a mutation is
// held because the device is offline.
var queuedMessages = map[Kind]string{
	KindMarkRead:    "Read state saved. Will sync when back online.",
	KindMarkStarred: "Star saved. Will sync when back online.",
	KindMove:        "Move saved. Will sync when back online.",
	KindDelete:      "Deletion saved. Will sync when back online.",
	KindAddLabel:    "Labels saved. Will sync when back online.",
	KindRemoveLabel: "Labels saved. Will sync when back online.",
	KindSend:        "Message queued. Will be sent when back online.",
	KindCreateDraft: "Draft saved locally. Will sync when back online.",
	KindUpdateDraft: "Draft saved locally. Will sync when back online.",
}

// Queue accepts mutations, persists them, and hands them to the processor
// when the device is online. Enqueue never blocks on replay of earlier
// operations.
type Queue struct {
	store  Store
	bus    *events.Bus
	waker  Waker
	logger *slog.Logger

	online atomic.Bool

	nowFunc func() time.Time
}

// New returns a Queue. The queue starts in the offline state until
// SetOnline reports connectivity.
func New(store Store, bus *events.Bus, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}

	return &Queue{
		store:   store,
		bus:     bus,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// SetWaker wires the processor nudge. Must be called before the first
// Enqueue; kept separate from New because the processor needs the queue's
// store first.
func (q *Queue) SetWaker(w Waker) {
	q.waker = w
}

// Online reports the current connectivity state.
func (q *Queue) Online() bool {
	return q.online.Load()
}

// Enqueue persists a new operation for the owner. When online, the
// processor is kicked for an immediate attempt; when offline, the operation
// is held and a user-visible notice is emitted.
func (q *Queue) Enqueue(ctx context.Context, ownerID string, payload Payload) (*Operation, error) {
	op := &Operation{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		Kind:       payload.Kind(),
		Payload:    payload,
		Status:     StatusPending,
		EnqueuedAt: q.nowFunc().UnixNano(),
	}

	if err := q.store.Enqueue(ctx, op); err != nil {
		return nil, fmt.Errorf("queue: enqueueing %s operation: %w", op.Kind, err)
	}

	q.logger.Debug("operation enqueued",
		slog.String("operation_id", op.ID),
		slog.String("owner", op.OwnerID),
		slog.String("kind", string(op.Kind)),
		slog.Bool("online", q.online.Load()),
	)

	if q.online.Load() {
		q.kick()
	} else if msg, ok := queuedMessages[op.Kind]; ok {
		q.bus.Notice(events.SeverityInfo, msg)
	}

	return op, nil
}

// SetOnline records a connectivity transition. Coming back online releases
// due retries and kicks the processor so held operations replay in enqueue
// order; going offline emits an offline event.
func (q *Queue) SetOnline(ctx context.Context, online bool) {
	if q.online.Swap(online) == online {
		return
	}

	if !online {
		q.logger.Info("connectivity lost, queueing mutations locally")
		q.bus.Publish(events.Event{Type: events.TypeOffline, Severity: events.SeverityWarning})

		return
	}

	q.logger.Info("connectivity restored, draining queued operations")
	q.bus.Publish(events.Event{Type: events.TypeOnline, Severity: events.SeverityInfo})

	released, err := q.store.ReleaseDueRetries(ctx, q.nowFunc().UnixNano())
	if err != nil {
		q.logger.Error("releasing due retries on reconnect", slog.String("error", err.Error()))
	} else if released > 0 {
		q.logger.Debug("released retry-pending operations", slog.Int("count", released))
	}

	q.kick()
}

// Depth returns the per-status operation counts.
func (q *Queue) Depth(ctx context.Context) (map[Status]int, error) {
	counts, err := q.store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue: counting operations: %w", err)
	}

	return counts, nil
}

// DeadLettered lists failed operations awaiting manual retry.
func (q *Queue) DeadLettered(ctx context.Context, limit int) ([]*Operation, error) {
	ops, err := q.store.ListByStatus(ctx, StatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("queue: listing dead-lettered operations: %w", err)
	}

	return ops, nil
}

// RetryDeadLettered resets the given dead-lettered operations (all of them
// when ids is empty) back to pending with a clean attempt counter, then
// kicks the processor.
func (q *Queue) RetryDeadLettered(ctx context.Context, ids []string) (int, error) {
	n, err := q.store.ResetDeadLettered(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("queue: resetting dead-lettered operations: %w", err)
	}

	if n > 0 {
		q.logger.Info("dead-lettered operations requeued", slog.Int("count", n))

		if q.online.Load() {
			q.kick()
		}
	}

	return n, nil
}

func (q *Queue) kick() {
	if q.waker != nil {
		q.waker.Kick()
	}
}
