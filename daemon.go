package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nexamanager/mailsync/internal/config"
	"github.com/nexamanager/mailsync/internal/events"
	"github.com/nexamanager/mailsync/internal/faults"
	"github.com/nexamanager/mailsync/internal/health"
	"github.com/nexamanager/mailsync/internal/httpapi"
	"github.com/nexamanager/mailsync/internal/queue"
	"github.com/nexamanager/mailsync/internal/remote"
	"github.com/nexamanager/mailsync/internal/store"
	"github.com/nexamanager/mailsync/internal/syncer"
)

// purgeInterval is how often completed operations past retention are
// garbage collected.
const purgeInterval = time.Hour

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the sync daemon (queue processor, health monitor, HTTP API)",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runDaemon()
		},
	}
}

func runDaemon() error {
	cfg := resolvedCfg
	logger := buildLogger()

	ctx := shutdownContext(context.Background(), logger)

	cleanup, err := writePIDFile(pidFilePath(cfg))
	if err != nil {
		return err
	}
	defer cleanup()

	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	token := remote.StaticTokenSource(cfg.Remote.Token)
	client := remote.NewClient(cfg.Remote.BaseURL, &http.Client{
		Timeout: time.Duration(cfg.Remote.TimeoutSeconds) * time.Second,
	}, token, logger)

	bus := events.NewBus(logger)
	defer bus.Close()

	resolver := queue.NewResolver(logger)
	policy := faults.NewPolicy(
		time.Duration(cfg.Queue.BaseDelaySeconds)*time.Second,
		time.Duration(cfg.Queue.MaxDelaySeconds)*time.Second,
		faults.DefaultMultiplier,
		cfg.Queue.MaxRetries,
	)

	q := queue.New(st, bus, logger)

	proc := queue.NewProcessor(st, client, resolver, policy, bus, logger, queue.ProcessorConfig{
		Concurrency:   cfg.Queue.Concurrency,
		SweepInterval: time.Duration(cfg.Queue.SweepSeconds) * time.Second,
	})
	q.SetWaker(proc)
	proc.SetGate(q.Online)

	engine := syncer.NewEngine(client, st, resolver, bus, logger)
	engine.SetLookback(time.Duration(cfg.Sync.LookbackHours) * time.Hour)
	proc.SetSyncFunc(engine.PerformIncrementalSync)

	scheduler := syncer.NewScheduler(engine, cfg.Sync.Owners,
		time.Duration(cfg.Sync.IntervalMinutes)*time.Minute, logger)

	rig := &daemonRig{
		store:     st,
		client:    client,
		token:     token,
		queue:     q,
		scheduler: scheduler,
		retention: time.Duration(cfg.Database.RetentionHours) * time.Hour,
	}

	proc.SetRecoveryHook(health.NewCoordinator(rig, bus, logger))

	monitor := health.NewMonitor(rig.probes(), rig, bus, logger, health.MonitorConfig{
		Interval:  time.Duration(cfg.Health.IntervalSeconds) * time.Second,
		Threshold: cfg.Health.DegradedThreshold,
	})

	api := httpapi.NewServer(cfg.API.Addr, monitor, q, proc, bus, logger)
	api.SetDegradedThreshold(cfg.Health.DegradedThreshold)

	// Assume connectivity at startup; the first probe corrects this within
	// one interval and releases any operations queued while down.
	q.SetOnline(ctx, true)

	proc.Start(ctx)
	monitor.Start(ctx)
	scheduler.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return api.Run(gctx)
	})

	g.Go(func() error {
		rig.purgeLoop(gctx)

		return nil
	})

	err = g.Wait()

	scheduler.Stop()
	monitor.Stop()
	proc.Stop()

	logger.Info("daemon stopped")

	return err
}

// pidFilePath places the PID file next to the database so concurrent
// daemons against the same store are excluded.
func pidFilePath(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(cfg.Database.Path), "mailsync.pid")
}

// daemonRig wires the running subsystems into the health monitor's
// mitigations and the recovery coordinator's ladder actions.
type daemonRig struct {
	store     *store.Store
	client    *remote.Client
	token     remote.TokenSource
	queue     *queue.Queue
	scheduler *syncer.Scheduler
	retention time.Duration

	nowFunc func() time.Time
}

func (r *daemonRig) now() time.Time {
	if r.nowFunc != nil {
		return r.nowFunc()
	}

	return time.Now()
}

// probes builds the per-component health checks.
func (r *daemonRig) probes() map[health.Component]health.ProbeFunc {
	return map[health.Component]health.ProbeFunc{
		health.ComponentDatabase: func(ctx context.Context) health.Status {
			if err := r.store.Ping(ctx); err != nil {
				return health.StatusUnhealthy
			}

			return health.StatusHealthy
		},
		health.ComponentNetwork:   r.connectivityProbe,
		health.ComponentStorage:   r.storageProbe,
		health.ComponentProviders: r.providerProbe,
	}
}

// connectivityProbe doubles as the reconnect trigger: a healthy probe
// after an offline period flips the queue back online, which releases due
// retries and kicks the processor, and nudges the scheduler for an
// opportunistic sync.
func (r *daemonRig) connectivityProbe(ctx context.Context) health.Status {
	if err := r.client.Ping(ctx); err != nil {
		if !r.queue.Online() {
			return health.StatusOffline
		}

		switch faults.Classify(err).Kind {
		case faults.KindNetwork, faults.KindTimeout:
			return health.StatusOffline
		default:
			return health.StatusDegraded
		}
	}

	if !r.queue.Online() {
		r.queue.SetOnline(ctx, true)
		r.scheduler.VisibilityResumed(ctx)
	}

	return health.StatusHealthy
}

// storageUsageThreshold is the filesystem usage fraction above which
// storage is reported degraded even while writes still succeed.
const storageUsageThreshold = 0.90

func (r *daemonRig) storageProbe(context.Context) health.Status {
	dir := filepath.Dir(r.store.Path())

	if _, err := os.Stat(dir); err != nil {
		return health.StatusUnhealthy
	}

	probe := filepath.Join(dir, ".mailsync-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return health.StatusDegraded
	}

	os.Remove(probe)

	var fs syscall.Statfs_t
	if err := syscall.Statfs(dir, &fs); err == nil && fs.Blocks > 0 {
		used := 1 - float64(fs.Bavail)/float64(fs.Blocks)
		if used > storageUsageThreshold {
			return health.StatusDegraded
		}
	}

	return health.StatusHealthy
}

func (r *daemonRig) providerProbe(ctx context.Context) health.Status {
	// The remote store fronts the outbound providers; its health endpoint
	// is the closest signal available.
	if err := r.client.Ping(ctx); err != nil {
		return health.StatusDegraded
	}

	return health.StatusHealthy
}

// EnterOfflineMode parks the queue; operations keep accumulating durably.
func (r *daemonRig) EnterOfflineMode(ctx context.Context) error {
	r.queue.SetOnline(ctx, false)

	return nil
}

// ClearCaches drops completed operations past retention to reclaim space.
func (r *daemonRig) ClearCaches(ctx context.Context) error {
	cutoff := r.now().Add(-r.retention).UnixNano()

	if _, err := r.store.PurgeCompleted(ctx, cutoff); err != nil {
		return fmt.Errorf("purging completed operations: %w", err)
	}

	return nil
}

// ReinitializeStore re-validates the database connection.
func (r *daemonRig) ReinitializeStore(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// Ping cheaply verifies the remote store is reachable.
func (r *daemonRig) Ping(ctx context.Context) error {
	return r.client.Ping(ctx)
}

// RefreshCredentials re-resolves the token from its source. With a static
// token this only verifies availability; an OAuth source refreshes.
func (r *daemonRig) RefreshCredentials(context.Context) error {
	if _, err := r.token.Token(); err != nil {
		return fmt.Errorf("refreshing credentials: %w", err)
	}

	return nil
}

// purgeLoop garbage-collects completed operations past retention.
func (r *daemonRig) purgeLoop(ctx context.Context) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Failures retry next interval; persistent storage trouble
			// shows up through the health monitor instead.
			_ = r.ClearCaches(ctx)
		}
	}
}
