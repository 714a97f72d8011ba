package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/journal/pkg/types"
)

func newDoseCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dose",
		Short: "Record doses",
	}
	cmd.AddCommand(newDoseAddCmd(a), newDoseListCmd(a))
	return cmd
}

func newDoseAddCmd(a *app) *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "add <protocol-id>",
		Short: "Log a dose on the protocol's current day",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := a.writableService(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			var n *string
			if cmd.Flags().Changed("notes") {
				n = &notes
			}
			dose, err := svc.LogDose(ctx, args[0], n)
			if err != nil {
				return err
			}
			return a.emit(cmd, dose, func(w io.Writer) {
				fmt.Fprintf(w, "Logged dose %s on day %d at %s\n", shortID(dose.ID), dose.DayNumber, formatStamp(dose.Timestamp))
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "notes about the dose")
	return cmd
}

func newDoseListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <protocol-id>",
		Short: "List a protocol's doses",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			doses, err := svc.Doses(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.emit(cmd, doses, func(w io.Writer) { printDoses(w, doses) })
		},
	}
}

func printDoses(w io.Writer, doses []*types.Dose) {
	if len(doses) == 0 {
		fmt.Fprintln(w, "No doses logged.")
		return
	}
	rows := make([][]string, 0, len(doses))
	for _, d := range doses {
		rows = append(rows, []string{shortID(d.ID), strconv.Itoa(d.DayNumber), formatStamp(d.Timestamp), optional(d.Notes)})
	}
	printTable(w, []string{"ID", "DAY", "TIME", "NOTES"}, rows)
	fmt.Fprintf(w, "Total: %d dose(s)\n", len(doses))
}
