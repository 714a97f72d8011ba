package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/journal/pkg/types"
)

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export <dir>",
		Short: "Write every table to JSONL files",
		Long: `Export writes one <table>.jsonl file per table into dir. The files
contain the full local journal, including fields that are never synced.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			if err := a.unlock(ctx, cmd.ErrOrStderr()); err != nil {
				return err
			}
			counts, err := a.backend.Export(ctx, args[0])
			if err != nil {
				return err
			}
			return a.emit(cmd, counts, func(w io.Writer) {
				for _, name := range types.StandardTableNames {
					fmt.Fprintf(w, "%s.jsonl: %d record(s)\n", name, counts[name])
				}
			})
		},
	}
}
