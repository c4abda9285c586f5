package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for the authcore CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authcore",
		Short: "authcore - account credentials, confirmation and password reset",
		Long: `authcore manages email/password accounts backed by a SQL database and
Redis. The worker subcommand delivers queued confirmation and reset
instructions; the remaining subcommands run single workflows.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	registerConfigFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewWorkerCmd())
	cmd.AddCommand(NewSignupCmd())
	cmd.AddCommand(NewLoginCmd())
	cmd.AddCommand(NewConfirmCmd())
	cmd.AddCommand(NewResendCmd())
	cmd.AddCommand(NewResetCmd())
	cmd.AddCommand(NewSessionCmd())

	return cmd
}
