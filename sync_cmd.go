package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexamanager/mailsync/internal/events"
	"github.com/nexamanager/mailsync/internal/queue"
	"github.com/nexamanager/mailsync/internal/remote"
	"github.com/nexamanager/mailsync/internal/store"
	"github.com/nexamanager/mailsync/internal/syncer"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one incremental sync pass for the configured accounts",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runSyncOnce()
		},
	}
}

func runSyncOnce() error {
	cfg := resolvedCfg
	logger := buildLogger()

	if len(cfg.Sync.Owners) == 0 {
		return errors.New("no accounts configured: set sync.owners or pass --owner")
	}

	ctx := shutdownContext(context.Background(), logger)

	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	client := remote.NewClient(cfg.Remote.BaseURL, &http.Client{
		Timeout: time.Duration(cfg.Remote.TimeoutSeconds) * time.Second,
	}, remote.StaticTokenSource(cfg.Remote.Token), logger)

	bus := events.NewBus(logger)
	defer bus.Close()

	engine := syncer.NewEngine(client, st, queue.NewResolver(logger), bus, logger)
	engine.SetLookback(time.Duration(cfg.Sync.LookbackHours) * time.Hour)

	var errs []error

	for _, owner := range cfg.Sync.Owners {
		if ctx.Err() != nil {
			break
		}

		if err := engine.PerformIncrementalSync(ctx, owner); err != nil {
			errs = append(errs, err)

			continue
		}

		statusf("synced %s\n", owner)
	}

	return errors.Join(errs...)
}
