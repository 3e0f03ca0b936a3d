// Package cmd contains the CLI entry points.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "idclerk",
	Short: "idclerk - identity governance chat assistant",
	Long: `idclerk is a chat assistant backend for identity governance.

It logs users in against their Identity Secure Cloud tenant, lets them
request access, look up identities and check request status through a
conversational interface, and keeps conversation history in PostgreSQL.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
