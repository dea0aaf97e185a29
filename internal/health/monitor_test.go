package health

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexamanager/mailsync/internal/events"
)

// fakeMitigator records which mitigations ran and can fail them.
type fakeMitigator struct {
	offline    atomic.Int32
	cleared    atomic.Int32
	reinit     atomic.Int32
	offlineErr error
	clearErr   error
	reinitErr  error
}

func (m *fakeMitigator) EnterOfflineMode(context.Context) error {
	m.offline.Add(1)

	return m.offlineErr
}

func (m *fakeMitigator) ClearCaches(context.Context) error {
	m.cleared.Add(1)

	return m.clearErr
}

func (m *fakeMitigator) ReinitializeStore(context.Context) error {
	m.reinit.Add(1)

	return m.reinitErr
}

func staticProbe(status Status) ProbeFunc {
	return func(context.Context) Status { return status }
}

func newTestMonitor(t *testing.T, probes map[Component]ProbeFunc, mitigator Mitigator) *Monitor {
	t.Helper()

	bus := events.NewBus(slog.Default())
	t.Cleanup(bus.Close)

	return NewMonitor(probes, mitigator, bus, slog.Default(), MonitorConfig{Interval: time.Hour})
}

func TestCheckNow_HealthySystemSkipsMitigations(t *testing.T) {
	mitigator := &fakeMitigator{}
	monitor := newTestMonitor(t, map[Component]ProbeFunc{
		ComponentDatabase:  staticProbe(StatusHealthy),
		ComponentNetwork:   staticProbe(StatusHealthy),
		ComponentStorage:   staticProbe(StatusHealthy),
		ComponentProviders: staticProbe(StatusHealthy),
	}, mitigator)

	report := monitor.CheckNow(context.Background())

	assert.InDelta(t, 1.0, report.Score, 1e-9)
	assert.Zero(t, mitigator.offline.Load())
	assert.Zero(t, mitigator.cleared.Load())
	assert.Zero(t, mitigator.reinit.Load())
}

func TestCheckNow_DegradedNetworkEntersOfflineMode(t *testing.T) {
	mitigator := &fakeMitigator{}
	monitor := newTestMonitor(t, map[Component]ProbeFunc{
		ComponentDatabase:  staticProbe(StatusHealthy),
		ComponentNetwork:   staticProbe(StatusOffline),
		ComponentStorage:   staticProbe(StatusHealthy),
		ComponentProviders: staticProbe(StatusUnhealthy),
	}, mitigator)

	report := monitor.CheckNow(context.Background())

	require.Less(t, report.Score, DefaultDegradedThreshold)
	assert.Equal(t, int32(1), mitigator.offline.Load())
	assert.Zero(t, mitigator.cleared.Load())
	assert.Zero(t, mitigator.reinit.Load())
}

func TestCheckNow_DegradedStorageClearsCaches(t *testing.T) {
	mitigator := &fakeMitigator{}
	monitor := newTestMonitor(t, map[Component]ProbeFunc{
		ComponentDatabase:  staticProbe(StatusUnhealthy),
		ComponentNetwork:   staticProbe(StatusHealthy),
		ComponentStorage:   staticProbe(StatusDegraded),
		ComponentProviders: staticProbe(StatusHealthy),
	}, mitigator)

	monitor.CheckNow(context.Background())

	assert.Equal(t, int32(1), mitigator.cleared.Load())
	assert.Equal(t, int32(1), mitigator.reinit.Load())
	assert.Zero(t, mitigator.offline.Load())
}

func TestCheckNow_FailedMitigationDoesNotAbortOthers(t *testing.T) {
	mitigator := &fakeMitigator{offlineErr: errors.New("queue unavailable")}
	monitor := newTestMonitor(t, map[Component]ProbeFunc{
		ComponentDatabase:  staticProbe(StatusUnhealthy),
		ComponentNetwork:   staticProbe(StatusOffline),
		ComponentStorage:   staticProbe(StatusDegraded),
		ComponentProviders: staticProbe(StatusUnhealthy),
	}, mitigator)

	monitor.CheckNow(context.Background())

	assert.Equal(t, int32(1), mitigator.offline.Load())
	assert.Equal(t, int32(1), mitigator.cleared.Load())
	assert.Equal(t, int32(1), mitigator.reinit.Load())
}

func TestCheckNow_UpdatesLastReport(t *testing.T) {
	monitor := newTestMonitor(t, map[Component]ProbeFunc{
		ComponentDatabase: staticProbe(StatusHealthy),
	}, nil)

	assert.Zero(t, monitor.Last().CheckedAt)

	monitor.CheckNow(context.Background())

	last := monitor.Last()
	assert.False(t, last.CheckedAt.IsZero())
	assert.Equal(t, StatusHealthy, last.Components[ComponentDatabase])
}

func TestMonitor_StartStopIdempotent(t *testing.T) {
	var checks atomic.Int32

	probes := map[Component]ProbeFunc{
		ComponentDatabase: func(context.Context) Status {
			checks.Add(1)

			return StatusHealthy
		},
		ComponentNetwork:   staticProbe(StatusHealthy),
		ComponentStorage:   staticProbe(StatusHealthy),
		ComponentProviders: staticProbe(StatusHealthy),
	}

	monitor := newTestMonitor(t, probes, nil)

	ctx := context.Background()
	monitor.Start(ctx)
	monitor.Start(ctx)

	assert.Eventually(t, func() bool {
		return checks.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	monitor.Stop()
	monitor.Stop()
}
