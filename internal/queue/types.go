// Package queue implements the offline operation queue: durable mutation
// entries, conflict resolution against server state, and a bounded-concurrency
// processor with retry scheduling and dead-lettering.
package queue

import (
	"time"
)

// Kind identifies the mutation an Operation performs.
type Kind string

const (
	KindMarkRead    Kind = "mark_read"
	KindMarkStarred Kind = "mark_starred"
	KindMove        Kind = "move"
	KindDelete      Kind = "delete"
	KindAddLabel    Kind = "add_label"
	KindRemoveLabel Kind = "remove_label"
	KindSend        Kind = "send"
	KindCreateDraft Kind = "create_draft"
	KindUpdateDraft Kind = "update_draft"
	KindSyncAccount Kind = "sync_account"
)

// Status is an Operation's position in its lifecycle.
//
// pending → processing → {completed | retry_pending | conflict_pending | failed | skipped}
// retry_pending → pending once RetryAt elapses.
type Status string

const (
	StatusPending         Status = "pending"
	StatusProcessing      Status = "processing"
	StatusRetryPending    Status = "retry_pending"
	StatusConflictPending Status = "conflict_pending"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusSkipped         Status = "skipped"
)

// allStatuses enumerates every lifecycle state, in lifecycle order.
var allStatuses = []Status{
	StatusPending, StatusProcessing, StatusRetryPending,
	StatusConflictPending, StatusCompleted, StatusFailed, StatusSkipped,
}

// ErrorEntry records one failed execution attempt.
type ErrorEntry struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"` // Unix nanoseconds
	Attempt   int    `json:"attempt"`
}

// Operation is a single queued mutation. Timestamps are Unix nanoseconds;
// RetryAt, CompletedAt, and FailedAt are zero when not applicable.
type Operation struct {
	ID          string
	OwnerID     string
	Kind        Kind
	Payload     Payload
	Status      Status
	Attempts    int
	Errors      []ErrorEntry
	EnqueuedAt  int64
	RetryAt     int64
	CompletedAt int64
	FailedAt    int64
}

// RecordIDs returns the identifiers of the records this operation targets,
// or nil for kinds that create new server entities.
func (op *Operation) RecordIDs() []string {
	if op.Payload == nil {
		return nil
	}

	return op.Payload.RecordIDs()
}

// MutatesExisting reports whether the operation targets records that already
// exist on the server, and therefore needs a conflict check before replay.
func (op *Operation) MutatesExisting() bool {
	switch op.Kind {
	case KindMarkRead, KindMarkStarred, KindMove, KindDelete, KindAddLabel, KindRemoveLabel:
		return true
	default:
		return false
	}
}

// EnqueuedTime converts the enqueue timestamp to a time.Time.
func (op *Operation) EnqueuedTime() time.Time {
	return time.Unix(0, op.EnqueuedAt)
}
