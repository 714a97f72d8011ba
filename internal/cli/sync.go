package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/journal/internal/connectivity"
	"github.com/mesh-intelligence/journal/internal/syncqueue"
	"github.com/mesh-intelligence/journal/pkg/types"
)

func newSyncCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Contribute queued entries to the research endpoint",
		Long: `Sync delivers the anonymized payloads queued by "entry add" to the
endpoint configured as sync.endpoint (or JOURNAL_SYNC_ENDPOINT).`,
	}
	cmd.AddCommand(newSyncDrainCmd(a), newSyncStatusCmd(a), newSyncRetryCmd(a), newSyncWatchCmd(a))
	return cmd
}

func newSyncDrainCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Deliver every pending contribution once",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			proc, err := a.processor(ctx, true)
			if err != nil {
				return err
			}
			report, err := proc.Drain(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return a.emit(cmd, report, func(w io.Writer) { printReport(w, report) })
		},
	}
}

// statusResult is the JSON form of sync status.
type statusResult struct {
	syncqueue.Stats
	Endpoint  string            `json:"endpoint"`
	DeadItems []*types.SyncItem `json:"dead_items"`
}

func newSyncStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queued and dead contributions",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			proc, err := a.processor(ctx, false)
			if err != nil {
				return err
			}
			stats, err := proc.Stats(ctx)
			if err != nil {
				return err
			}
			dead, err := proc.DeadItems(ctx)
			if err != nil {
				return err
			}
			res := statusResult{Stats: stats, Endpoint: a.cfg.Sync.Endpoint, DeadItems: dead}
			return a.emit(cmd, res, func(w io.Writer) {
				endpoint := res.Endpoint
				if endpoint == "" {
					endpoint = "(not configured)"
				}
				fmt.Fprintf(w, "Endpoint: %s\nPending: %d\nDead: %d\n", endpoint, stats.Pending, stats.Dead)
				if len(dead) == 0 {
					return
				}
				rows := make([][]string, 0, len(dead))
				for _, it := range dead {
					rows = append(rows, []string{it.ID, shortID(it.EntryID), strconv.Itoa(it.Attempts), optional(it.LastError)})
				}
				printTable(w, []string{"ITEM", "ENTRY", "ATTEMPTS", "LAST ERROR"}, rows)
			})
		},
	}
}

func newSyncRetryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <item-id>",
		Short: "Return a dead contribution to the queue",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			proc, err := a.processor(ctx, false)
			if err != nil {
				return err
			}
			item, err := proc.Retry(ctx, args[0])
			if err != nil {
				return err
			}
			return a.emit(cmd, item, func(w io.Writer) {
				fmt.Fprintf(w, "Item %s is pending again.\n", item.ID)
			})
		},
	}
}

func newSyncWatchCmd(a *app) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep syncing until interrupted",
		Long: `Watch queues new entries as they are written, drains on start and
every --interval, and backs off while deliveries fail. Edits to the sync
section of config.yaml apply without a restart.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			proc, err := a.processor(ctx, true)
			if err != nil {
				return err
			}
			conn := connectivity.NewSignal(true)
			runner := syncqueue.NewRunner(proc, a.backend, conn, a.log)

			a.v.OnConfigChange(func(e fsnotify.Event) {
				sc, err := syncConfig(a.v)
				if err == nil {
					err = proc.SetConfig(sc)
				}
				if err != nil {
					a.log.Warn("config reload rejected", "file", e.Name, "error", err)
					return
				}
				a.log.Info("sync config reloaded", "file", e.Name)
				runner.Trigger()
			})
			a.v.WatchConfig()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				defer stop()
				return runner.Run(gctx)
			})
			g.Go(func() error {
				var tick <-chan time.Time
				if interval > 0 {
					t := time.NewTicker(interval)
					defer t.Stop()
					tick = t.C
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				for {
					select {
					case <-gctx.Done():
						return nil
					case <-tick:
						runner.Trigger()
					case report := <-runner.Drained():
						if a.flags.jsonMode {
							if err := enc.Encode(report); err != nil {
								return err
							}
							continue
						}
						fmt.Fprintf(cmd.OutOrStdout(), "%s ", time.Now().Format(time.TimeOnly))
						printReport(cmd.OutOrStdout(), report)
					}
				}
			})
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Minute, "time between scheduled drains (0 disables)")
	return cmd
}

func printReport(w io.Writer, r syncqueue.DrainReport) {
	fmt.Fprintf(w, "delivered %d, failed %d, dead %d, remaining %d", r.Delivered, r.Failed, r.Dead, r.Remaining)
	if r.Cancelled {
		fmt.Fprintf(w, " (cancelled, %d deferred)", r.Deferred)
	}
	fmt.Fprintln(w)
}
