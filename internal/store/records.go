package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nexamanager/mailsync/internal/remote"
)

// ErrRecordNotFound is returned by GetRecord for unknown record IDs.
var ErrRecordNotFound = errors.New("store: record not found")

// UpsertRecord inserts or replaces the local copy of a record.
func (s *Store) UpsertRecord(ctx context.Context, rec remote.Record) error {
	labels, err := encodeLabels(rec.Labels)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (id, owner_id, folder_id, subject, is_read, is_starred, labels, is_deleted, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (owner_id, id) DO UPDATE SET
		   folder_id = excluded.folder_id,
		   subject = excluded.subject,
		   is_read = excluded.is_read,
		   is_starred = excluded.is_starred,
		   labels = excluded.labels,
		   is_deleted = excluded.is_deleted,
		   updated_at = excluded.updated_at`,
		rec.ID, rec.OwnerID, rec.FolderID, rec.Subject,
		boolToInt(rec.Read), boolToInt(rec.Starred), labels,
		boolToInt(rec.Deleted), rec.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: upserting record %s: %w", rec.ID, err)
	}

	return nil
}

// GetRecord returns the local copy of a record.
func (s *Store) GetRecord(ctx context.Context, owner, id string) (remote.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, folder_id, subject, is_read, is_starred, labels, is_deleted, updated_at
		 FROM records WHERE owner_id = ? AND id = ?`,
		owner, id,
	)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return remote.Record{}, fmt.Errorf("store: record %s/%s: %w", owner, id, ErrRecordNotFound)
		}

		return remote.Record{}, err
	}

	return rec, nil
}

// HasRecord reports whether a local copy of the record exists, including
// tombstoned ones.
func (s *Store) HasRecord(ctx context.Context, owner, id string) (bool, error) {
	var one int

	row := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM records WHERE owner_id = ? AND id = ?`, owner, id)
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}

		return false, fmt.Errorf("store: checking record %s/%s: %w", owner, id, err)
	}

	return true, nil
}

// MarkRecordDeleted tombstones the local copy of a record. Unknown records
// are a no-op; the server delete already happened.
func (s *Store) MarkRecordDeleted(ctx context.Context, owner, id string, at int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE records SET is_deleted = 1, updated_at = ? WHERE owner_id = ? AND id = ?`,
		at, owner, id,
	)
	if err != nil {
		return fmt.Errorf("store: tombstoning record %s/%s: %w", owner, id, err)
	}

	return nil
}

// ListRecords returns the owner's non-deleted records, newest first.
func (s *Store) ListRecords(ctx context.Context, owner string, limit int) ([]remote.Record, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, folder_id, subject, is_read, is_starred, labels, is_deleted, updated_at
		 FROM records WHERE owner_id = ? AND is_deleted = 0
		 ORDER BY updated_at DESC LIMIT ?`,
		owner, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: listing records for %s: %w", owner, err)
	}
	defer rows.Close()

	var out []remote.Record

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating records: %w", err)
	}

	return out, nil
}

// scanner abstracts *sql.Row and *sql.Rows for record scanning.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (remote.Record, error) {
	var (
		rec                    remote.Record
		read, starred, deleted int
		labels                 sql.NullString
		updatedAt              int64
	)

	if err := sc.Scan(
		&rec.ID, &rec.OwnerID, &rec.FolderID, &rec.Subject,
		&read, &starred, &labels, &deleted, &updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return remote.Record{}, err
		}

		return remote.Record{}, fmt.Errorf("store: scanning record row: %w", err)
	}

	rec.Read = read != 0
	rec.Starred = starred != 0
	rec.Deleted = deleted != 0
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()

	decoded, err := decodeLabels(labels)
	if err != nil {
		return remote.Record{}, err
	}

	rec.Labels = decoded

	return rec, nil
}

func encodeLabels(labels []string) (sql.NullString, error) {
	if len(labels) == 0 {
		return sql.NullString{}, nil
	}

	b, err := json.Marshal(labels)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("store: encoding labels: %w", err)
	}

	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeLabels(labels sql.NullString) ([]string, error) {
	if !labels.Valid || labels.String == "" {
		return nil, nil
	}

	var out []string
	if err := json.Unmarshal([]byte(labels.String), &out); err != nil {
		return nil, fmt.Errorf("store: decoding labels: %w", err)
	}

	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
