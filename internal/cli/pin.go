package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/journal/internal/anon"
)

var errPINMismatch = errors.New("PINs do not match")

func newPINCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pin",
		Short: "Manage the journal PIN",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set",
		Short: "Set or change the PIN that unlocks the journal",
		Long: `Set asks for the current PIN when one exists, then for the new PIN
twice. PINs are 4 to 12 digits and only a salted argon2id hash is stored.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			prompt := cmd.ErrOrStderr()
			if err := a.unlock(ctx, prompt); err != nil {
				return err
			}
			pin, err := a.readPIN(prompt, "New PIN: ")
			if err != nil {
				return err
			}
			confirm, err := a.readPIN(prompt, "Repeat PIN: ")
			if err != nil {
				return err
			}
			if pin != confirm {
				return &userError{err: errPINMismatch}
			}
			if err := a.state.SetPIN(ctx, pin); err != nil {
				return err
			}
			return a.emit(cmd, map[string]bool{"pin_set": true}, func(w io.Writer) {
				fmt.Fprintln(w, "PIN updated.")
			})
		},
	})
	return cmd
}

func newRecoveryKeyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "recovery-key",
		Short: "Generate a recovery key",
		Long: `Recovery-key prints a new random key. Write it down; it is not stored
on this device.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := anon.GenerateRecoveryKey()
			if err != nil {
				return fmt.Errorf("generate recovery key: %w", err)
			}
			return a.emit(cmd, map[string]string{"recovery_key": key}, func(w io.Writer) {
				fmt.Fprintln(w, key)
			})
		},
	}
}
