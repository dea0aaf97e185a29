package events

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBus_PublishReachesAllSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBus(testLogger())
	defer b.Close()

	ch1, cancel1 := b.Subscribe(4)
	defer cancel1()

	ch2, cancel2 := b.Subscribe(4)
	defer cancel2()

	b.Publish(Event{Type: TypeRecordNew, OwnerID: "acct-1", RecordID: "rec-1"})

	ev1 := <-ch1
	ev2 := <-ch2

	assert.Equal(t, TypeRecordNew, ev1.Type)
	assert.Equal(t, "rec-1", ev1.RecordID)
	assert.Equal(t, ev1.RecordID, ev2.RecordID)
	assert.NotEmpty(t, ev1.ID, "event ID should be assigned")
	assert.False(t, ev1.At.IsZero(), "event timestamp should be assigned")
}

func TestBus_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()

	b := NewBus(testLogger())
	defer b.Close()

	_, cancel := b.Subscribe(1)
	defer cancel()

	// Second publish overflows the single-slot buffer.
	b.Publish(Event{Type: TypeNotice, Severity: SeverityInfo, Message: "one"})
	b.Publish(Event{Type: TypeNotice, Severity: SeverityInfo, Message: "two"})

	assert.Equal(t, int64(1), b.Dropped())
}

func TestBus_CancelStopsDelivery(t *testing.T) {
	t.Parallel()

	b := NewBus(testLogger())
	defer b.Close()

	ch, cancel := b.Subscribe(4)
	cancel()

	// Channel must be closed after cancel.
	_, open := <-ch
	require.False(t, open)

	// Publishing after cancel must not panic.
	b.Publish(Event{Type: TypeOffline})
}

func TestBus_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	b := NewBus(testLogger())
	ch, _ := b.Subscribe(1)

	b.Close()
	b.Close()

	_, open := <-ch
	assert.False(t, open)

	// Subscribe after close returns a closed channel.
	ch2, _ := b.Subscribe(1)
	_, open = <-ch2
	assert.False(t, open)
}

func TestBus_NoticeHelper(t *testing.T) {
	t.Parallel()

	b := NewBus(testLogger())
	defer b.Close()

	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Notice(SeverityWarning, "connection lost")

	ev := <-ch
	assert.Equal(t, TypeNotice, ev.Type)
	assert.Equal(t, SeverityWarning, ev.Severity)
	assert.Equal(t, "connection lost", ev.Message)
}
