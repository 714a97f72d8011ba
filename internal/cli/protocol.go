package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/journal/internal/journal"
	"github.com/mesh-intelligence/journal/pkg/types"
)

func newProtocolCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "protocol",
		Short: "Start and manage protocols",
	}
	cmd.AddCommand(
		newProtocolStartCmd(a),
		newProtocolListCmd(a),
		newProtocolStepCmd(a, "advance", "Move a protocol to its next day", (*journal.Service).AdvanceDay),
		newProtocolStepCmd(a, "pause", "Pause an active protocol", (*journal.Service).PauseProtocol),
		newProtocolStepCmd(a, "resume", "Resume a paused protocol", (*journal.Service).ResumeProtocol),
		newProtocolDeleteCmd(a),
	)
	return cmd
}

func newProtocolStartCmd(a *app) *cobra.Command {
	var days int
	var schedule string
	cmd := &cobra.Command{
		Use:   "start <bottle-id>",
		Short: "Start a protocol for a scanned bottle",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := a.writableService(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			var scheduleType *string
			if schedule != "" {
				scheduleType = &schedule
			}
			p, err := svc.StartProtocol(ctx, args[0], days, scheduleType)
			if err != nil {
				return err
			}
			return a.emit(cmd, p, func(w io.Writer) {
				fmt.Fprintf(w, "Started protocol %s: %s, %d day(s)\n", shortID(p.ID), p.ProductName, p.TotalDays)
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "length of the protocol in days")
	cmd.Flags().StringVar(&schedule, "schedule", "", "dosing schedule name")
	return cmd
}

func newProtocolListCmd(a *app) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List protocols",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			protocols, err := svc.Protocols(cmd.Context(), status)
			if err != nil {
				return err
			}
			return a.emit(cmd, protocols, func(w io.Writer) { printProtocols(w, protocols) })
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (active, paused, completed)")
	return cmd
}

type protocolStep func(*journal.Service, context.Context, string) (*types.Protocol, error)

func newProtocolStepCmd(a *app, use, short string, step protocolStep) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <protocol-id>",
		Short: short,
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := a.writableService(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			p, err := step(svc, ctx, args[0])
			if err != nil {
				return err
			}
			return a.emit(cmd, p, func(w io.Writer) {
				fmt.Fprintf(w, "Protocol %s: %s, day %d of %d\n", shortID(p.ID), p.Status, p.CurrentDay, p.TotalDays)
			})
		},
	}
}

func newProtocolDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <protocol-id>",
		Short: "Delete a protocol with its entries and doses",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := a.writableService(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ok, err := svc.DeleteProtocol(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("protocol %q: %w", args[0], types.ErrNotFound)
			}
			return a.emit(cmd, map[string]any{"deleted": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "Deleted protocol %s\n", shortID(args[0]))
			})
		},
	}
}

func printProtocols(w io.Writer, protocols []*types.Protocol) {
	if len(protocols) == 0 {
		fmt.Fprintln(w, "No protocols found.")
		return
	}
	rows := make([][]string, 0, len(protocols))
	for _, p := range protocols {
		rows = append(rows, []string{
			shortID(p.ID), p.ProductName, p.Status,
			strconv.Itoa(p.CurrentDay) + "/" + strconv.Itoa(p.TotalDays),
			formatDay(p.StartDate),
		})
	}
	printTable(w, []string{"ID", "PRODUCT", "STATUS", "DAY", "STARTED"}, rows)
	fmt.Fprintf(w, "Total: %d protocol(s)\n", len(protocols))
}
