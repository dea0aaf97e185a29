package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexamanager/mailsync/internal/events"
	"github.com/nexamanager/mailsync/internal/queue"
	"github.com/nexamanager/mailsync/internal/remote"
)

// recordingFetcher counts delta fetches per owner and can fail selected
// owners.
type recordingFetcher struct {
	mu      sync.Mutex
	fetches map[string]int
	failing map[string]bool
}

func newRecordingFetcher() *recordingFetcher {
	return &recordingFetcher{
		fetches: make(map[string]int),
		failing: make(map[string]bool),
	}
}

func (f *recordingFetcher) ListChangedSince(_ context.Context, owner string, _ time.Time) ([]remote.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetches[owner]++

	if f.failing[owner] {
		return nil, errors.New("service unavailable")
	}

	return nil, nil
}

func (f *recordingFetcher) count(owner string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.fetches[owner]
}

type schedulerFixture struct {
	fetcher   *recordingFetcher
	store     *fakeStore
	scheduler *Scheduler
	now       time.Time
}

func newSchedulerFixture(t *testing.T, owners ...string) *schedulerFixture {
	t.Helper()

	bus := events.NewBus(slog.Default())
	t.Cleanup(bus.Close)

	f := &schedulerFixture{
		fetcher: newRecordingFetcher(),
		store:   newFakeStore(),
		now:     syncStart,
	}

	engine := NewEngine(f.fetcher, f.store, queue.NewResolver(slog.Default()), bus, slog.Default())
	engine.nowFunc = func() time.Time { return f.now }

	f.scheduler = NewScheduler(engine, owners, time.Hour, slog.Default())
	f.scheduler.nowFunc = func() time.Time { return f.now }

	return f
}

func TestScheduler_SyncAllCoversEveryOwner(t *testing.T) {
	f := newSchedulerFixture(t, "a@example.com", "b@example.com")

	f.scheduler.SyncAll(context.Background())

	assert.Equal(t, 1, f.fetcher.count("a@example.com"))
	assert.Equal(t, 1, f.fetcher.count("b@example.com"))
}

func TestScheduler_FailedOwnerDoesNotBlockOthers(t *testing.T) {
	f := newSchedulerFixture(t, "a@example.com", "b@example.com")
	f.fetcher.failing["a@example.com"] = true

	f.scheduler.SyncAll(context.Background())

	assert.Equal(t, 1, f.fetcher.count("b@example.com"))
}

func TestScheduler_VisibilityResumedSkipsFreshOwners(t *testing.T) {
	f := newSchedulerFixture(t, "a@example.com", "b@example.com")

	f.scheduler.SyncAll(context.Background())
	require.Equal(t, 1, f.fetcher.count("a@example.com"))

	// Still fresh: no extra pass.
	f.now = f.now.Add(time.Minute)
	f.scheduler.VisibilityResumed(context.Background())
	assert.Equal(t, 1, f.fetcher.count("a@example.com"))

	// Past the stale threshold: both owners resync.
	f.now = f.now.Add(10 * time.Minute)
	f.scheduler.VisibilityResumed(context.Background())
	assert.Equal(t, 2, f.fetcher.count("a@example.com"))
	assert.Equal(t, 2, f.fetcher.count("b@example.com"))
}

func TestScheduler_VisibilityResumedRetriesFailedOwners(t *testing.T) {
	f := newSchedulerFixture(t, "a@example.com")
	f.fetcher.failing["a@example.com"] = true

	// The failed pass never records a last-run time, so the next
	// visibility resume retries immediately.
	f.scheduler.SyncAll(context.Background())
	f.scheduler.VisibilityResumed(context.Background())

	assert.Equal(t, 2, f.fetcher.count("a@example.com"))
}

func TestScheduler_StartStopIdempotent(t *testing.T) {
	f := newSchedulerFixture(t, "a@example.com")

	ctx := context.Background()
	f.scheduler.Start(ctx)
	f.scheduler.Start(ctx)

	assert.Eventually(t, func() bool {
		return f.fetcher.count("a@example.com") >= 1
	}, time.Second, 5*time.Millisecond)

	f.scheduler.Stop()
	f.scheduler.Stop()

	// Restart runs another immediate pass.
	f.scheduler.Start(ctx)

	assert.Eventually(t, func() bool {
		return f.fetcher.count("a@example.com") >= 2
	}, time.Second, 5*time.Millisecond)

	f.scheduler.Stop()
}