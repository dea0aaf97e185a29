package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	stdsync "sync"

	"github.com/nexamanager/mailsync/internal/remote"
)

// memStore is an in-memory Store with the same transition guards as the
// SQLite implementation, for fast queue and processor tests.
type memStore struct {
	mu     stdsync.Mutex
	ops    map[string]*Operation
	claims map[string]int64
}

func newMemStore() *memStore {
	return &memStore{
		ops:    make(map[string]*Operation),
		claims: make(map[string]int64),
	}
}

func (s *memStore) get(id string) *Operation {
	s.mu.Lock()
	defer s.mu.Unlock()

	op := s.ops[id]
	if op == nil {
		return nil
	}

	cp := *op

	return &cp
}

func (s *memStore) Enqueue(_ context.Context, op *Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *op
	s.ops[op.ID] = &cp

	return nil
}

func (s *memStore) ClaimPending(_ context.Context, limit int, now int64) ([]*Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*Operation

	for _, op := range s.ops {
		if op.Status == StatusPending {
			pending = append(pending, op)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].EnqueuedAt < pending[j].EnqueuedAt
	})

	if len(pending) > limit {
		pending = pending[:limit]
	}

	claimed := make([]*Operation, 0, len(pending))

	for _, op := range pending {
		op.Status = StatusProcessing
		s.claims[op.ID] = now
		cp := *op
		claimed = append(claimed, &cp)
	}

	return claimed, nil
}

func (s *memStore) Requeue(_ context.Context, id string) error {
	return s.transition(id, StatusProcessing, StatusPending, func(op *Operation) {
		delete(s.claims, op.ID)
	})
}

func (s *memStore) ReleaseStaleProcessing(_ context.Context, cutoff int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	released := 0

	for id, op := range s.ops {
		if op.Status == StatusProcessing && s.claims[id] <= cutoff {
			op.Status = StatusPending
			delete(s.claims, id)
			released++
		}
	}

	return released, nil
}

func (s *memStore) transition(id string, from, to Status, mutate func(*Operation)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[id]
	if !ok {
		return fmt.Errorf("memstore: operation %s not found", id)
	}

	if op.Status != from {
		return fmt.Errorf("memstore: operation %s is %s, not %s", id, op.Status, from)
	}

	op.Status = to

	if mutate != nil {
		mutate(op)
	}

	return nil
}

func (s *memStore) MarkCompleted(_ context.Context, id string, at int64) error {
	return s.transition(id, StatusProcessing, StatusCompleted, func(op *Operation) {
		op.CompletedAt = at
	})
}

func (s *memStore) MarkSkipped(_ context.Context, id string) error {
	return s.transition(id, StatusProcessing, StatusSkipped, nil)
}

func (s *memStore) MarkConflictPending(_ context.Context, id string) error {
	return s.transition(id, StatusProcessing, StatusConflictPending, nil)
}

func (s *memStore) ScheduleRetry(_ context.Context, id string, entry ErrorEntry, retryAt int64) error {
	return s.transition(id, StatusProcessing, StatusRetryPending, func(op *Operation) {
		op.Attempts++
		op.Errors = append(op.Errors, entry)
		op.RetryAt = retryAt
	})
}

func (s *memStore) MarkFailed(_ context.Context, id string, entry ErrorEntry, at int64) error {
	return s.transition(id, StatusProcessing, StatusFailed, func(op *Operation) {
		op.Attempts++
		op.Errors = append(op.Errors, entry)
		op.FailedAt = at
	})
}

func (s *memStore) ReleaseDueRetries(_ context.Context, now int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var released int

	for _, op := range s.ops {
		if op.Status == StatusRetryPending && op.RetryAt <= now {
			op.Status = StatusPending
			op.RetryAt = 0
			released++
		}
	}

	return released, nil
}

func (s *memStore) ResetDeadLettered(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	var reset int

	for _, op := range s.ops {
		if op.Status != StatusFailed {
			continue
		}

		if len(ids) > 0 && !wanted[op.ID] {
			continue
		}

		op.Status = StatusPending
		op.Attempts = 0
		op.Errors = nil
		op.FailedAt = 0
		reset++
	}

	return reset, nil
}

func (s *memStore) ListByStatus(_ context.Context, status Status, limit int) ([]*Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Operation

	for _, op := range s.ops {
		if op.Status == status {
			cp := *op
			out = append(out, &cp)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].EnqueuedAt < out[j].EnqueuedAt
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (s *memStore) CountByStatus(_ context.Context) (map[Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[Status]int)
	for _, op := range s.ops {
		counts[op.Status]++
	}

	return counts, nil
}

// fakeClient is a scriptable RemoteClient. Each mutation records a call and
// returns the next scripted error (nil once the script runs out).
type fakeClient struct {
	mu      stdsync.Mutex
	calls   []string
	errs    []error
	records map[string]remote.Record
}

func newFakeClient() *fakeClient {
	return &fakeClient{records: make(map[string]remote.Record)}
}

// failNext scripts the next n mutation calls to fail with err.
func (c *fakeClient) failNext(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for range n {
		c.errs = append(c.errs, err)
	}
}

func (c *fakeClient) callNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.calls...)
}

func (c *fakeClient) record(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, name)

	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]

		return err
	}

	return nil
}

func (c *fakeClient) GetRecords(_ context.Context, _ string, ids []string) ([]remote.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []remote.Record

	for _, id := range ids {
		if rec, ok := c.records[id]; ok {
			out = append(out, rec)
		}
	}

	return out, nil
}

func (c *fakeClient) SetRead(_ context.Context, _ string, _ []string, _ bool) error {
	return c.record("set_read")
}

func (c *fakeClient) SetStarred(_ context.Context, _ string, _ []string, _ bool) error {
	return c.record("set_starred")
}

func (c *fakeClient) Move(_ context.Context, _ string, _ []string, _ string) error {
	return c.record("move")
}

func (c *fakeClient) Delete(_ context.Context, _ string, _ []string) error {
	return c.record("delete")
}

func (c *fakeClient) AddLabels(_ context.Context, _ string, _, labels []string) error {
	return c.record(fmt.Sprintf("add_labels:%v", labels))
}

func (c *fakeClient) RemoveLabels(_ context.Context, _ string, _, _ []string) error {
	return c.record("remove_labels")
}

func (c *fakeClient) Send(_ context.Context, _ string, _ remote.OutboundMessage) error {
	return c.record("send")
}

func (c *fakeClient) CreateDraft(_ context.Context, _ string, _ remote.Draft) error {
	return c.record("create_draft")
}

func (c *fakeClient) UpdateDraft(_ context.Context, _, _ string, _ remote.Draft) error {
	return c.record("update_draft")
}

var errScripted = errors.New("network is unreachable")
