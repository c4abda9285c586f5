package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type credentialFlags struct {
	email        string
	password     string
	confirmation string
}

// confirmationOrPassword lets callers skip --password-confirmation on the
// command line; the engine still checks the pair.
func (f *credentialFlags) confirmationOrPassword() string {
	if f.confirmation == "" {
		return f.password
	}
	return f.confirmation
}

// NewSignupCmd creates the signup subcommand.
func NewSignupCmd() *cobra.Command {
	f := &credentialFlags{}

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and queue its confirmation instructions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			pending, err := a.engine.Signup(cmd.Context(), f.email, f.password, f.confirmationOrPassword())
			if err != nil {
				return report(cmd, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account %s created (%s), confirmation job %s queued\n",
				pending.AccountID, pending.Status, pending.Job.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&f.email, "email", "", "account email")
	cmd.Flags().StringVar(&f.password, "password", "", "account password")
	cmd.Flags().StringVar(&f.confirmation, "password-confirmation", "", "repeat of the password (defaults to --password)")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

// NewLoginCmd creates the login subcommand.
func NewLoginCmd() *cobra.Command {
	f := &credentialFlags{}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Verify credentials and print a session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			session, err := a.engine.Login(cmd.Context(), f.email, f.password)
			if err != nil {
				return report(cmd, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), session.Token)
			return nil
		},
	}

	cmd.Flags().StringVar(&f.email, "email", "", "account email")
	cmd.Flags().StringVar(&f.password, "password", "", "account password")

	return cmd
}

// NewConfirmCmd creates the confirm subcommand.
func NewConfirmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm TOKEN",
		Short: "Confirm an account with the token from its instructions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			account, err := a.engine.Confirm(cmd.Context(), args[0])
			if err != nil {
				return report(cmd, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account %s confirmed\n", account.Email)
			return nil
		},
	}
}

// NewResendCmd creates the resend subcommand.
func NewResendCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "resend",
		Short: "Queue fresh confirmation instructions for an unconfirmed account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			pending, err := a.engine.ResendConfirmation(cmd.Context(), email)
			if err != nil {
				return report(cmd, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "confirmation job %s queued\n", pending.Job.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

// NewSessionCmd groups session inspection subcommands.
func NewSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or end a session",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate TOKEN",
		Short: "Print the account a session token belongs to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			session, err := a.engine.ValidateSession(cmd.Context(), args[0])
			if err != nil {
				return report(cmd, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s account %s expires %s\n",
				session.ID, session.AccountID, session.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z"))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "logout TOKEN",
		Short: "End a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.Logout(cmd.Context(), args[0]); err != nil {
				return report(cmd, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	})

	return cmd
}
