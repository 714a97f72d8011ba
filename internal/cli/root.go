// Package cli implements the journal command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mesh-intelligence/journal/internal/appstate"
	"github.com/mesh-intelligence/journal/internal/keystore"
	"github.com/mesh-intelligence/journal/internal/logging"
	"github.com/mesh-intelligence/journal/internal/remote"
	"github.com/mesh-intelligence/journal/internal/sqlite"
	"github.com/mesh-intelligence/journal/internal/syncqueue"
	"github.com/mesh-intelligence/journal/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	jsonMode  bool
}

// app is the state of one CLI invocation.
type app struct {
	flags rootFlags

	v         *viper.Viper
	configDir string
	dataDir   string
	cfg       types.Config
	log       *logging.Logger

	stopTracing func(context.Context) error
	backend     *sqlite.Backend
	ks          keystore.Keystore
	state       *appstate.State

	// readPIN prompts for a PIN without echo.
	readPIN func(w io.Writer, prompt string) (string, error)
}

// userError marks an error caused by the invocation rather than the system.
type userError struct{ err error }

func (e *userError) Error() string { return e.err.Error() }
func (e *userError) Unwrap() error { return e.err }

func userErrorf(format string, args ...any) error {
	return &userError{err: fmt.Errorf(format, args...)}
}

// userSentinels are errors the user can fix by changing the invocation.
var userSentinels = []error{
	types.ErrValidation,
	types.ErrNotFound,
	types.ErrInvalidID,
	types.ErrLocked,
	types.ErrInvalidTransition,
	types.ErrActiveProtocolExists,
	types.ErrDuplicateBottleToken,
	appstate.ErrWrongPIN,
	appstate.ErrInvalidPIN,
	appstate.ErrPINNotSet,
	syncqueue.ErrNotDead,
	syncqueue.ErrDrainInProgress,
	remote.ErrEndpointMissing,
}

// exitCode maps an error to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ue *userError
	if errors.As(err, &ue) {
		return exitUserError
	}
	for _, target := range userSentinels {
		if errors.Is(err, target) {
			return exitUserError
		}
	}
	return exitSysError
}

// newRootCmd creates the top-level "journal" command with global flags and
// all subcommands registered.
func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "journal",
		Short: "A local-first journal for bottle protocols",
		Long: "Journal records protocol check-ins on this device and contributes\n" +
			"anonymized reflection scores to research when a sync endpoint is set.",
		Version: Version,
		// Do not print usage on errors returned by subcommands.
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" || cmd.Name() == "recovery-key" {
				return nil
			}
			return a.setup(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close(cmd.Context())
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &userError{err: err}
	})

	root.PersistentFlags().StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	root.PersistentFlags().StringVar(&a.flags.dataDir, "data-dir", "", "data directory (default: platform data dir)")
	root.PersistentFlags().BoolVar(&a.flags.jsonMode, "json", false, "output in JSON format")

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(a),
		newScanCmd(a),
		newBottlesCmd(a),
		newProtocolCmd(a),
		newEntryCmd(a),
		newDoseCmd(a),
		newSyncCmd(a),
		newPINCmd(a),
		newRecoveryKeyCmd(a),
		newExportCmd(a),
	)
	return root
}

// Execute runs the root command and exits with the appropriate code.
// PersistentPostRunE does not run when a command fails, so the store is
// closed here as well.
func Execute() {
	a := &app{readPIN: terminalPIN}
	err := newRootCmd(a).Execute()
	if closeErr := a.close(context.Background()); err == nil {
		err = closeErr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

// exactArgs is cobra.ExactArgs reporting a user error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return &userError{err: err}
		}
		return nil
	}
}
