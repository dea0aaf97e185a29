package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nexamanager/mailsync/internal/queue"
)

const opColumns = "id, owner_id, kind, payload, status, attempts, errors, enqueued_at, retry_at, completed_at, failed_at"

// Enqueue inserts a new operation row. The write is a single statement,
// all-or-nothing.
func (s *Store) Enqueue(ctx context.Context, op *queue.Operation) error {
	payload, err := queue.EncodePayload(op.Payload)
	if err != nil {
		return err
	}

	errsJSON, err := encodeErrors(op.Errors)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO operations (`+opColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.OwnerID, string(op.Kind), string(payload), string(op.Status),
		op.Attempts, errsJSON, op.EnqueuedAt, op.RetryAt, op.CompletedAt, op.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("store: inserting operation %s: %w", op.ID, err)
	}

	return nil
}

// ClaimPending atomically selects up to limit pending operations in enqueue
// order and marks them processing, stamping claimed_at with now. Claimed
// operations belong to the caller until a terminal transition; a stale claim
// (process crash before the transition) is recoverable through
// ReleaseStaleProcessing.
func (s *Store) ClaimPending(ctx context.Context, limit int, now int64) ([]*queue.Operation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin claim: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+opColumns+` FROM operations
		 WHERE status = ? ORDER BY enqueued_at ASC LIMIT ?`,
		string(queue.StatusPending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: selecting pending operations: %w", err)
	}

	ops, err := scanOperations(rows)
	if err != nil {
		return nil, err
	}

	for _, op := range ops {
		res, execErr := tx.ExecContext(ctx,
			`UPDATE operations SET status = ?, claimed_at = ? WHERE id = ? AND status = ?`,
			string(queue.StatusProcessing), now, op.ID, string(queue.StatusPending),
		)
		if execErr != nil {
			return nil, fmt.Errorf("store: claiming operation %s: %w", op.ID, execErr)
		}

		if n, _ := res.RowsAffected(); n == 0 {
			return nil, fmt.Errorf("store: claiming operation %s: not pending", op.ID)
		}

		op.Status = queue.StatusProcessing
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit claim: %w", err)
	}

	return ops, nil
}

// transition performs a guarded status update. The update only applies when
// the row is still in the expected state.
func (s *Store) transition(ctx context.Context, id string, from, to queue.Status, set string, args ...any) error {
	query := `UPDATE operations SET status = ?`
	if set != "" {
		query += ", " + set
	}

	query += ` WHERE id = ? AND status = ?`

	allArgs := append([]any{string(to)}, args...)
	allArgs = append(allArgs, id, string(from))

	res, err := s.db.ExecContext(ctx, query, allArgs...)
	if err != nil {
		return fmt.Errorf("store: transitioning operation %s to %s: %w", id, to, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: transitioning operation %s to %s: not %s", id, to, from)
	}

	return nil
}

// MarkCompleted transitions processing → completed.
func (s *Store) MarkCompleted(ctx context.Context, id string, at int64) error {
	return s.transition(ctx, id, queue.StatusProcessing, queue.StatusCompleted, "completed_at = ?", at)
}

// MarkSkipped transitions processing → skipped (conflict resolved away).
func (s *Store) MarkSkipped(ctx context.Context, id string) error {
	return s.transition(ctx, id, queue.StatusProcessing, queue.StatusSkipped, "")
}

// MarkConflictPending transitions processing → conflict_pending for
// operations that need user review.
func (s *Store) MarkConflictPending(ctx context.Context, id string) error {
	return s.transition(ctx, id, queue.StatusProcessing, queue.StatusConflictPending, "")
}

// ScheduleRetry transitions processing → retry_pending, incrementing the
// attempt counter and appending the error entry.
func (s *Store) ScheduleRetry(ctx context.Context, id string, entry queue.ErrorEntry, retryAt int64) error {
	return s.recordFailure(ctx, id, queue.StatusRetryPending, entry, "retry_at = ?", retryAt)
}

// MarkFailed transitions processing → failed (dead-letter), incrementing
// the attempt counter and appending the error entry.
func (s *Store) MarkFailed(ctx context.Context, id string, entry queue.ErrorEntry, at int64) error {
	return s.recordFailure(ctx, id, queue.StatusFailed, entry, "failed_at = ?", at)
}

// recordFailure reads the current error list, appends the new entry, and
// performs the guarded transition in one transaction.
func (s *Store) recordFailure(ctx context.Context, id string, to queue.Status, entry queue.ErrorEntry, set string, arg int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin failure record: %w", err)
	}
	defer tx.Rollback()

	var errsJSON sql.NullString

	row := tx.QueryRowContext(ctx,
		`SELECT errors FROM operations WHERE id = ? AND status = ?`,
		id, string(queue.StatusProcessing),
	)
	if err := row.Scan(&errsJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("store: transitioning operation %s to %s: not %s", id, to, queue.StatusProcessing)
		}

		return fmt.Errorf("store: reading errors for %s: %w", id, err)
	}

	entries, err := decodeErrors(errsJSON)
	if err != nil {
		return err
	}

	entries = append(entries, entry)

	updated, err := encodeErrors(entries)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE operations SET status = ?, attempts = attempts + 1, errors = ?, `+set+`
		 WHERE id = ? AND status = ?`,
		string(to), updated, arg, id, string(queue.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("store: recording failure for %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit failure record: %w", err)
	}

	return nil
}

// Requeue returns a claimed operation to pending without an attempt,
// used when the scheduler claims work it cannot hand to a worker.
func (s *Store) Requeue(ctx context.Context, id string) error {
	return s.transition(ctx, id, queue.StatusProcessing, queue.StatusPending, "claimed_at = 0")
}

// ReleaseStaleProcessing returns processing operations claimed at or before
// cutoff to pending. A claim that old means the claiming process died
// before reaching a terminal transition; the attempt counter is untouched
// because the execution outcome is unknown. Returns the number released.
func (s *Store) ReleaseStaleProcessing(ctx context.Context, cutoff int64) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE operations SET status = ?, claimed_at = 0
		 WHERE status = ? AND claimed_at <= ?`,
		string(queue.StatusPending), string(queue.StatusProcessing), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("store: releasing stale processing operations: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: stale rows affected: %w", err)
	}

	return int(n), nil
}

// ReleaseDueRetries moves retry_pending operations whose retry_at has
// elapsed back to pending. Returns the number released.
func (s *Store) ReleaseDueRetries(ctx context.Context, now int64) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE operations SET status = ?, retry_at = 0
		 WHERE status = ? AND retry_at <= ?`,
		string(queue.StatusPending), string(queue.StatusRetryPending), now,
	)
	if err != nil {
		return 0, fmt.Errorf("store: releasing due retries: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: released rows affected: %w", err)
	}

	return int(n), nil
}

// ResetDeadLettered returns failed operations (all when ids is empty) to
// pending with attempts and errors cleared.
func (s *Store) ResetDeadLettered(ctx context.Context, ids []string) (int, error) {
	query := `UPDATE operations
		 SET status = ?, attempts = 0, errors = NULL, retry_at = 0, failed_at = 0
		 WHERE status = ?`
	args := []any{string(queue.StatusPending), string(queue.StatusFailed)}

	if len(ids) > 0 {
		query += ` AND id IN (?` + strings.Repeat(", ?", len(ids)-1) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("store: resetting dead-lettered operations: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: reset rows affected: %w", err)
	}

	return int(n), nil
}

// ListConflictPending returns the owner's operations awaiting conflict
// resolution, oldest first.
func (s *Store) ListConflictPending(ctx context.Context, owner string) ([]*queue.Operation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+opColumns+` FROM operations
		 WHERE status = ? AND owner_id = ? ORDER BY enqueued_at ASC`,
		string(queue.StatusConflictPending), owner,
	)
	if err != nil {
		return nil, fmt.Errorf("store: listing conflict-pending operations for %s: %w", owner, err)
	}

	return scanOperations(rows)
}

// SkipConflicted transitions conflict_pending → skipped once policy has
// resolved the conflict in the server's favor.
func (s *Store) SkipConflicted(ctx context.Context, id string) error {
	return s.transition(ctx, id, queue.StatusConflictPending, queue.StatusSkipped, "")
}

// RequeueConflicted transitions conflict_pending → pending so the operation
// replays with its (possibly merge-reduced) local intent. A non-nil payload
// replaces the stored one.
func (s *Store) RequeueConflicted(ctx context.Context, id string, payload queue.Payload) error {
	if payload == nil {
		return s.transition(ctx, id, queue.StatusConflictPending, queue.StatusPending, "")
	}

	encoded, err := queue.EncodePayload(payload)
	if err != nil {
		return err
	}

	return s.transition(ctx, id, queue.StatusConflictPending, queue.StatusPending,
		"payload = ?", string(encoded))
}

// ListByStatus returns operations in the given status, oldest first.
// A non-positive limit means no limit.
func (s *Store) ListByStatus(ctx context.Context, status queue.Status, limit int) ([]*queue.Operation, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+opColumns+` FROM operations
		 WHERE status = ? ORDER BY enqueued_at ASC LIMIT ?`,
		string(status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: listing %s operations: %w", status, err)
	}

	return scanOperations(rows)
}

// CountByStatus returns the number of operations per status.
func (s *Store) CountByStatus(ctx context.Context) (map[queue.Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM operations GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("store: counting operations: %w", err)
	}
	defer rows.Close()

	counts := make(map[queue.Status]int)

	for rows.Next() {
		var (
			status string
			n      int
		)

		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("store: scanning status count: %w", err)
		}

		counts[queue.Status(status)] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating status counts: %w", err)
	}

	return counts, nil
}

// PurgeCompleted deletes completed and skipped operations older than the
// cutoff. Completed operations are immutable, so deletion is safe at any
// time past the retention window.
func (s *Store) PurgeCompleted(ctx context.Context, cutoff int64) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM operations
		 WHERE status IN (?, ?) AND completed_at < ? AND enqueued_at < ?`,
		string(queue.StatusCompleted), string(queue.StatusSkipped), cutoff, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("store: purging completed operations: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: purge rows affected: %w", err)
	}

	if n > 0 {
		s.logger.Debug("purged completed operations", slog.Int64("count", n))
	}

	return int(n), nil
}

// scanOperations drains a result set of operation rows. Closes rows.
func scanOperations(rows *sql.Rows) ([]*queue.Operation, error) {
	defer rows.Close()

	var ops []*queue.Operation

	for rows.Next() {
		var (
			op       queue.Operation
			kind     string
			payload  string
			status   string
			errsJSON sql.NullString
		)

		if err := rows.Scan(
			&op.ID, &op.OwnerID, &kind, &payload, &status, &op.Attempts,
			&errsJSON, &op.EnqueuedAt, &op.RetryAt, &op.CompletedAt, &op.FailedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scanning operation row: %w", err)
		}

		op.Kind = queue.Kind(kind)
		op.Status = queue.Status(status)

		decoded, err := queue.DecodePayload(op.Kind, []byte(payload))
		if err != nil {
			return nil, err
		}

		op.Payload = decoded

		entries, err := decodeErrors(errsJSON)
		if err != nil {
			return nil, err
		}

		op.Errors = entries

		ops = append(ops, &op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating operation rows: %w", err)
	}

	return ops, nil
}

func encodeErrors(entries []queue.ErrorEntry) (sql.NullString, error) {
	if len(entries) == 0 {
		return sql.NullString{}, nil
	}

	b, err := json.Marshal(entries)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("store: encoding error entries: %w", err)
	}

	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeErrors(errsJSON sql.NullString) ([]queue.ErrorEntry, error) {
	if !errsJSON.Valid || errsJSON.String == "" {
		return nil, nil
	}

	var entries []queue.ErrorEntry
	if err := json.Unmarshal([]byte(errsJSON.String), &entries); err != nil {
		return nil, fmt.Errorf("store: decoding error entries: %w", err)
	}

	return entries, nil
}
