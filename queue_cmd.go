package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexamanager/mailsync/internal/queue"
	"github.com/nexamanager/mailsync/internal/store"
)

// deadLetterListLimit bounds the dead-letter listing output.
const deadLetterListLimit = 100

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and repair the offline operation queue",
	}

	cmd.AddCommand(newQueueStatsCmd())
	cmd.AddCommand(newQueueDeadLetterCmd())
	cmd.AddCommand(newQueueRetryCmd())

	return cmd
}

func newQueueStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue depth by status",
		RunE: func(_ *cobra.Command, _ []string) error {
			return withStore(func(ctx context.Context, st *store.Store) error {
				depth, err := st.CountByStatus(ctx)
				if err != nil {
					return err
				}

				if flagJSON {
					return json.NewEncoder(os.Stdout).Encode(depth)
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "STATUS\tCOUNT")

				for _, status := range []queue.Status{
					queue.StatusPending, queue.StatusProcessing, queue.StatusRetryPending,
					queue.StatusConflictPending, queue.StatusCompleted, queue.StatusFailed,
					queue.StatusSkipped,
				} {
					fmt.Fprintf(w, "%s\t%d\n", status, depth[status])
				}

				return w.Flush()
			})
		},
	}
}

func newQueueDeadLetterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deadletter",
		Short: "List operations that exhausted their retries",
		RunE: func(_ *cobra.Command, _ []string) error {
			return withStore(func(ctx context.Context, st *store.Store) error {
				ops, err := st.ListByStatus(ctx, queue.StatusFailed, deadLetterListLimit)
				if err != nil {
					return err
				}

				if flagJSON {
					return json.NewEncoder(os.Stdout).Encode(ops)
				}

				if len(ops) == 0 {
					statusf("dead-letter queue is empty\n")

					return nil
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tOWNER\tKIND\tATTEMPTS\tFAILED\tLAST ERROR")

				for _, op := range ops {
					lastErr := ""
					if len(op.Errors) > 0 {
						lastErr = op.Errors[len(op.Errors)-1].Message
					}

					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
						op.ID, op.OwnerID, op.Kind, op.Attempts,
						time.Unix(0, op.FailedAt).Format(time.RFC3339), lastErr)
				}

				return w.Flush()
			})
		},
	}
}

func newQueueRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id...]",
		Short: "Reset dead-lettered operations to pending (all when no ids given)",
		RunE: func(_ *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store.Store) error {
				n, err := st.ResetDeadLettered(ctx, args)
				if err != nil {
					return err
				}

				statusf("requeued %d operation(s)\n", n)

				return nil
			})
		},
	}
}

// withStore opens the configured database for a one-shot command.
func withStore(fn func(context.Context, *store.Store) error) error {
	logger := buildLogger()

	st, err := store.Open(resolvedCfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	return fn(context.Background(), st)
}
