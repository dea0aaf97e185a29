// Package events provides the typed publish/subscribe bus that carries change
// notifications and user-facing notices between the sync core and its
// consumers (CLI output, the local HTTP event stream). Subscribers receive
// events on buffered channels; a slow subscriber drops events rather than
// blocking publishers.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies the category of an event.
type Type string

// Event types emitted by the sync core.
const (
	TypeRecordNew      Type = "record:new"
	TypeRecordUpdated  Type = "record:updated"
	TypeRecordDeleted  Type = "record:deleted"
	TypeSyncStarted    Type = "sync:started"
	TypeSyncCompleted  Type = "sync:completed"
	TypeSyncError      Type = "sync:error"
	TypeOnline         Type = "connection:online"
	TypeOffline        Type = "connection:offline"
	TypeNotice         Type = "notice"
	TypeQueueDrained   Type = "queue:drained"
	TypeOperationDead  Type = "operation:dead_lettered"
	TypeRecoveryAction Type = "recovery:action"
)

// Severity ranks user-facing notices.
type Severity string

// Notice severities.
const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is a single notification published on the bus. Only the fields
// relevant to the Type are populated.
type Event struct {
	ID       string    `json:"id"`
	Type     Type      `json:"type"`
	OwnerID  string    `json:"owner_id,omitempty"`
	RecordID string    `json:"record_id,omitempty"`
	Severity Severity  `json:"severity,omitempty"`
	Message  string    `json:"message,omitempty"`
	Count    int       `json:"count,omitempty"`
	At       time.Time `json:"at"`
}

// defaultSubscriberBuffer is the channel depth handed to subscribers that
// don't specify one.
const defaultSubscriberBuffer = 64

// Bus fans events out to subscribers. Publish never blocks: events to a full
// subscriber channel are counted as dropped and discarded.
type Bus struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	nextID  int
	closed  bool
	dropped int64
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for testing
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}

	return &Bus{
		subs:    make(map[int]chan Event),
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Subscribe registers a new subscriber and returns its channel plus a cancel
// function. buffer <= 0 selects the default depth. The channel is closed when
// the subscription is canceled or the bus is closed.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)

		return ch, func() {}
	}

	id := b.nextID
	b.nextID++

	ch := make(chan Event, buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}

	return ch, cancel
}

// Publish delivers the event to all current subscribers. The event ID and
// timestamp are filled in if absent.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	if ev.At.IsZero() {
		ev.At = b.nowFunc()
	}

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped++
		}
	}
}

// Notice publishes a user-facing {severity, message} notification.
func (b *Bus) Notice(severity Severity, message string) {
	b.Publish(Event{Type: TypeNotice, Severity: severity, Message: message})
}

// Dropped returns the number of events discarded due to full subscriber
// channels.
func (b *Bus) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.dropped
}

// Close closes all subscriber channels. Publish after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true

	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
