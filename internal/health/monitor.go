package health

import (
	"context"
	"fmt"
	"log/slog"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/nexamanager/mailsync/internal/events"
	"github.com/nexamanager/mailsync/internal/metrics"
)

const (
	// DefaultProbeInterval is the cadence of background health checks.
	DefaultProbeInterval = 30 * time.Second
	// DefaultDegradedThreshold is the score below which mitigations fire.
	DefaultDegradedThreshold = 0.7
	// probeTimeout bounds a single component probe.
	probeTimeout = 10 * time.Second
)

// ProbeFunc checks one component and reports its status. Probes are
// treated as black boxes and must not block past their context.
type ProbeFunc func(ctx context.Context) Status

// Mitigator applies proactive degradation measures. Implementations are
// best-effort; a failed mitigation is logged and retried on the next
// degraded check.
type Mitigator interface {
	EnterOfflineMode(ctx context.Context) error
	ClearCaches(ctx context.Context) error
	ReinitializeStore(ctx context.Context) error
}

// MonitorConfig tunes the Monitor. Zero values use defaults.
type MonitorConfig struct {
	Interval  time.Duration
	Threshold float64
}

// Monitor runs periodic probes, maintains the latest Report, and triggers
// mitigations when the weighted score drops below the threshold.
type Monitor struct {
	probes    map[Component]ProbeFunc
	mitigator Mitigator
	bus       *events.Bus
	logger    *slog.Logger

	interval  time.Duration
	threshold float64

	mu   stdsync.Mutex
	last Report

	running atomic.Bool
	cancel  context.CancelFunc
	wg      stdsync.WaitGroup

	nowFunc func() time.Time
}

// NewMonitor returns a stopped Monitor.
func NewMonitor(probes map[Component]ProbeFunc, mitigator Mitigator, bus *events.Bus, logger *slog.Logger, cfg MonitorConfig) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Interval <= 0 {
		cfg.Interval = DefaultProbeInterval
	}

	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultDegradedThreshold
	}

	return &Monitor{
		probes:    probes,
		mitigator: mitigator,
		bus:       bus,
		logger:    logger,
		interval:  cfg.Interval,
		threshold: cfg.Threshold,
		nowFunc:   time.Now,
	}
}

// Start launches the probe loop with an immediate first check. Idempotent.
func (m *Monitor) Start(ctx context.Context) {
	if !m.running.CompareAndSwap(false, true) {
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)

	go m.run(ctx)

	m.logger.Info("health monitor started",
		slog.Duration("interval", m.interval),
		slog.Float64("threshold", m.threshold),
	)
}

// Stop halts the probe loop and waits for an in-progress check. Idempotent.
func (m *Monitor) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}

	m.cancel()
	m.wg.Wait()

	m.logger.Info("health monitor stopped")
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	m.CheckNow(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckNow(ctx)
		}
	}
}

// CheckNow probes every component, records the Report, and applies
// mitigations if the score fell below the threshold.
func (m *Monitor) CheckNow(ctx context.Context) Report {
	report := Report{
		Components: make(map[Component]Status, len(m.probes)),
		CheckedAt:  m.nowFunc(),
	}

	for component, probe := range m.probes {
		report.Components[component] = m.probeOne(ctx, probe)
	}

	report.Score = Score(report.Components)

	m.mu.Lock()
	m.last = report
	m.mu.Unlock()

	metrics.HealthScore.Set(report.Score)

	for component, status := range report.Components {
		metrics.ComponentHealth.WithLabelValues(string(component)).Set(status.Value())
	}

	if report.Score < m.threshold {
		m.logger.Warn("system health degraded",
			slog.Float64("score", report.Score),
			slog.Float64("threshold", m.threshold),
		)
		m.mitigate(ctx, report)
	}

	return report
}

// Last returns the most recent Report. The zero Report means no check has
// completed yet.
func (m *Monitor) Last() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.last
}

func (m *Monitor) probeOne(ctx context.Context, probe ProbeFunc) Status {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	return probe(probeCtx)
}

// mitigate applies the degradation rules for a below-threshold report.
// Each mitigation is independent; a failure is logged and left for the
// next check to retry.
func (m *Monitor) mitigate(ctx context.Context, report Report) {
	if m.mitigator == nil {
		return
	}

	if status := report.Components[ComponentNetwork]; status != StatusHealthy {
		m.runMitigation(ctx, "enter offline mode", m.mitigator.EnterOfflineMode)
	}

	if report.Components[ComponentStorage] == StatusDegraded {
		m.runMitigation(ctx, "clear caches", m.mitigator.ClearCaches)
	}

	if report.Components[ComponentDatabase] == StatusUnhealthy {
		m.runMitigation(ctx, "reinitialize store", m.mitigator.ReinitializeStore)
	}
}

func (m *Monitor) runMitigation(ctx context.Context, name string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		m.logger.Warn("mitigation failed",
			slog.String("mitigation", name),
			slog.String("error", err.Error()),
		)

		return
	}

	m.logger.Info("mitigation applied", slog.String("mitigation", name))

	if m.bus != nil {
		m.bus.Notice(events.SeverityWarning, fmt.Sprintf("degraded health: applied mitigation %q", name))
	}
}
