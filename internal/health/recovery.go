package health

import (
	"context"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/nexamanager/mailsync/internal/events"
	"github.com/nexamanager/mailsync/internal/faults"
	"github.com/nexamanager/mailsync/internal/metrics"
)

const (
	// recoveryWindow is the rolling window bounding repeated escalation.
	recoveryWindow = time.Hour
	// recoveryCeiling is how many ladder runs per (kind, owner) fit in the
	// window before the coordinator jumps straight to emergency fallback.
	recoveryCeiling = 3
)

// Rung names the escalation stages of the recovery ladder.
type Rung string

const (
	RungImmediate Rung = "immediate"
	RungDelayed   Rung = "delayed"
	RungFallback  Rung = "fallback"
	RungEmergency Rung = "emergency"
)

// Actions is what the recovery ladder can do to the system. The daemon
// wires these to the remote client, token source, store, and queue.
type Actions interface {
	// Ping cheaply verifies the remote store is reachable.
	Ping(ctx context.Context) error
	// RefreshCredentials forces a new token from the identity provider.
	RefreshCredentials(ctx context.Context) error
	// ReinitializeStore closes and reopens local persistence.
	ReinitializeStore(ctx context.Context) error
	// EnterOfflineMode parks the queue until connectivity returns.
	EnterOfflineMode(ctx context.Context) error
}

// Coordinator runs the escalation ladder for dead-lettered operations:
// immediate probes, then delayed reinitialization, then fallback to offline
// mode. The first rung that succeeds halts the ladder. Repeated failures
// for the same (kind, owner) within the rolling window trip an emergency
// fallback instead of another ladder run.
type Coordinator struct {
	actions Actions
	bus     *events.Bus
	logger  *slog.Logger

	mu       stdsync.Mutex
	attempts map[string][]time.Time

	nowFunc func() time.Time
}

// NewCoordinator returns a Coordinator.
func NewCoordinator(actions Actions, bus *events.Bus, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		actions:  actions,
		bus:      bus,
		logger:   logger,
		attempts: make(map[string][]time.Time),
		nowFunc:  time.Now,
	}
}

// HandleFailure runs recovery for one classified failure. Satisfies the
// processor's recovery hook.
func (c *Coordinator) HandleFailure(ctx context.Context, kind faults.Kind, owner string) {
	if c.exceededWindow(kind, owner) {
		c.emergency(ctx, kind, owner)

		return
	}

	for _, rung := range c.ladder(kind) {
		err := rung.fn(ctx)

		c.report(kind, owner, rung.name, err)

		if err == nil {
			return
		}
	}
}

// ladder builds the rung sequence for a failure kind. Credential failures
// get a token refresh on the delayed rung, storage failures a store
// reinitialization; everything else re-pings before falling back.
func (c *Coordinator) ladder(kind faults.Kind) []recoveryRung {
	delayed := c.actions.ReinitializeStore

	switch kind {
	case faults.KindAuth, faults.KindTokenExpired:
		delayed = c.actions.RefreshCredentials
	case faults.KindStorage:
		// Reinitialize is already the right delayed action.
	default:
		delayed = func(ctx context.Context) error {
			if err := c.actions.RefreshCredentials(ctx); err != nil {
				return err
			}

			return c.actions.Ping(ctx)
		}
	}

	return []recoveryRung{
		{name: RungImmediate, fn: c.actions.Ping},
		{name: RungDelayed, fn: delayed},
		{name: RungFallback, fn: c.actions.EnterOfflineMode},
	}
}

type recoveryRung struct {
	name Rung
	fn   func(context.Context) error
}

// exceededWindow records this escalation and reports whether the rolling
// window ceiling was already reached for the (kind, owner) pair.
func (c *Coordinator) exceededWindow(kind faults.Kind, owner string) bool {
	key := string(kind) + "|" + owner
	now := c.nowFunc()

	c.mu.Lock()
	defer c.mu.Unlock()

	recent := c.attempts[key][:0]

	for _, at := range c.attempts[key] {
		if now.Sub(at) < recoveryWindow {
			recent = append(recent, at)
		}
	}

	exceeded := len(recent) >= recoveryCeiling

	c.attempts[key] = append(recent, now)

	return exceeded
}

// emergency skips the ladder: full offline mode plus a persistent warning.
func (c *Coordinator) emergency(ctx context.Context, kind faults.Kind, owner string) {
	c.logger.Error("recovery ceiling reached, forcing offline mode",
		slog.String("kind", string(kind)),
		slog.String("owner", owner),
	)

	err := c.actions.EnterOfflineMode(ctx)

	c.report(kind, owner, RungEmergency, err)

	if c.bus != nil {
		c.bus.Publish(events.Event{
			Type:     events.TypeNotice,
			OwnerID:  owner,
			Severity: events.SeverityError,
			Message: fmt.Sprintf(
				"repeated %s failures: switched to offline mode, manual retry required", kind),
		})
	}
}

func (c *Coordinator) report(kind faults.Kind, owner string, rung Rung, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}

	metrics.RecoveryActions.WithLabelValues(string(kind), string(rung), result).Inc()

	if err != nil {
		c.logger.Warn("recovery rung failed",
			slog.String("kind", string(kind)),
			slog.String("rung", string(rung)),
			slog.String("error", err.Error()),
		)

		return
	}

	c.logger.Info("recovery rung succeeded",
		slog.String("kind", string(kind)),
		slog.String("rung", string(rung)),
	)

	if c.bus != nil {
		c.bus.Publish(events.Event{
			Type:     events.TypeRecoveryAction,
			OwnerID:  owner,
			Severity: events.SeverityInfo,
			Message:  fmt.Sprintf("recovered from %s via %s action", kind, rung),
		})
	}
}
