package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nexamanager/mailsync/internal/health"
	"github.com/nexamanager/mailsync/internal/queue"
	"github.com/nexamanager/mailsync/internal/store"
)

// statusReport is the combined output of the status command.
type statusReport struct {
	Daemon bool                 `json:"daemon_running"`
	Health *health.Report       `json:"health,omitempty"`
	Depth  map[queue.Status]int `json:"queue_depth"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon health and queue statistics",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runStatus()
		},
	}
}

func runStatus() error {
	report := statusReport{}

	// Health comes from the running daemon when there is one; queue depth
	// reads the database directly so it works either way.
	if hr, ok := fetchDaemonHealth(); ok {
		report.Daemon = true
		report.Health = hr
	}

	if err := withStore(func(ctx context.Context, st *store.Store) error {
		depth, err := st.CountByStatus(ctx)
		if err != nil {
			return err
		}

		report.Depth = depth

		return nil
	}); err != nil {
		return err
	}

	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(report)
	}

	printStatus(report)

	return nil
}

// fetchDaemonHealth asks the local HTTP API for the latest health report.
// A connection failure just means no daemon is running.
func fetchDaemonHealth() (*health.Report, bool) {
	client := defaultHTTPClient()

	resp, err := client.Get("http://" + resolvedCfg.API.Addr + "/healthz")
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()

	var report health.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, false
	}

	return &report, true
}

func printStatus(report statusReport) {
	if !report.Daemon {
		fmt.Println("daemon: not running")
	} else {
		fmt.Printf("daemon: running, health score %.2f\n", report.Health.Score)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

		for _, component := range []health.Component{
			health.ComponentDatabase, health.ComponentNetwork,
			health.ComponentStorage, health.ComponentProviders,
		} {
			fmt.Fprintf(w, "  %s\t%s\n", component, report.Health.Components[component])
		}

		w.Flush()
	}

	fmt.Println("queue:")

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

	for _, status := range []queue.Status{
		queue.StatusPending, queue.StatusProcessing, queue.StatusRetryPending,
		queue.StatusConflictPending, queue.StatusFailed,
	} {
		fmt.Fprintf(w, "  %s\t%d\n", status, report.Depth[status])
	}

	w.Flush()
}
