package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/journal/internal/anon"
	"github.com/mesh-intelligence/journal/internal/sqlite"
)

// initResult is the JSON form of init's output.
type initResult struct {
	ConfigDir string `json:"config_dir"`
	DataDir   string `json:"data_dir"`
	Schema    int64  `json:"schema_version"`
	Migrated  int    `json:"migrated_steps"`
}

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the journal database and device secrets",
		Long: `Init creates the config file, the database and the per-device
identifiers used to derive anonymous session ids. Running it again only
applies pending schema migrations.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			if _, err := anon.New(a.ks).DeviceID(ctx); err != nil {
				return fmt.Errorf("create device id: %w", err)
			}
			report := a.backend.MigrationReport()
			res := initResult{
				ConfigDir: a.configDir,
				DataDir:   a.dataDir,
				Schema:    report.To,
				Migrated:  len(report.Applied),
			}
			return a.emit(cmd, res, func(w io.Writer) {
				fmt.Fprintf(w, "Journal ready in %s\n", a.dataDir)
				fmt.Fprintf(w, "Database: %s (schema v%d", sqlite.DBFileName, report.To)
				if len(report.Applied) > 0 {
					fmt.Fprintf(w, ", %d migration(s) applied", len(report.Applied))
				}
				fmt.Fprintln(w, ")")
			})
		},
	}
}
