package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/journal/internal/journal"
	"github.com/mesh-intelligence/journal/pkg/types"
)

func newScanCmd(a *app) *cobra.Command {
	var product journal.Product
	var batch string
	cmd := &cobra.Command{
		Use:   "scan <qr-content>",
		Short: "Record a bottle scan",
		Long: `Scan records the bottle identified by a QR code. The argument may be
the bare token or the link printed on the label. Scanning the same bottle
again updates its scan count.

Example:
  journal scan https://ops.originalpsilly.com/b/AB12CD34 --product-id calm-01 --product-name Calm`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := a.writableService(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("batch") {
				product.BatchID = &batch
			}
			bottle, err := svc.ScanBottle(ctx, args[0], product)
			if err != nil {
				return err
			}
			return a.emit(cmd, bottle, func(w io.Writer) {
				fmt.Fprintf(w, "Bottle %s: %s (scanned %d time(s))\n", shortID(bottle.ID), bottle.ProductName, bottle.ScanCount)
			})
		},
	}
	cmd.Flags().StringVar(&product.ID, "product-id", "", "product identifier printed on the bottle")
	cmd.Flags().StringVar(&product.Name, "product-name", "", "product name printed on the bottle")
	cmd.Flags().StringVar(&batch, "batch", "", "batch identifier")
	return cmd
}

func newBottlesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "bottles",
		Short: "List scanned bottles",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			bottles, err := svc.Bottles(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(cmd, bottles, func(w io.Writer) { printBottles(w, bottles) })
		},
	}
}

func printBottles(w io.Writer, bottles []*types.Bottle) {
	if len(bottles) == 0 {
		fmt.Fprintln(w, "No bottles scanned.")
		return
	}
	rows := make([][]string, 0, len(bottles))
	for _, b := range bottles {
		rows = append(rows, []string{
			shortID(b.ID), b.ProductName, b.ProductID,
			strconv.Itoa(b.ScanCount), formatDay(b.LastScannedAt),
		})
	}
	printTable(w, []string{"ID", "PRODUCT", "PRODUCT ID", "SCANS", "LAST SCAN"}, rows)
	fmt.Fprintf(w, "Total: %d bottle(s)\n", len(bottles))
}
