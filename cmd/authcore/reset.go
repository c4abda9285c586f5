package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewResetCmd groups the password reset subcommands.
func NewResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Request or complete a password reset",
	}

	cmd.AddCommand(newResetRequestCmd())
	cmd.AddCommand(newResetConfirmCmd())

	return cmd
}

func newResetRequestCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Queue reset instructions for an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			accepted, err := a.engine.RequestPasswordReset(cmd.Context(), email)
			if err != nil {
				return report(cmd, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset job %s queued, token valid until %s\n",
				accepted.Job.ID, accepted.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z"))
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func newResetConfirmCmd() *cobra.Command {
	f := &credentialFlags{}

	cmd := &cobra.Command{
		Use:   "confirm TOKEN",
		Short: "Set a new password with the token from the reset instructions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			account, err := a.engine.ResetPassword(cmd.Context(), args[0], f.password, f.confirmationOrPassword())
			if err != nil {
				return report(cmd, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "password updated for %s\n", account.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&f.password, "password", "", "new password")
	cmd.Flags().StringVar(&f.confirmation, "password-confirmation", "", "repeat of the new password (defaults to --password)")

	return cmd
}
