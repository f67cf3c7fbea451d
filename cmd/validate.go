// File: cmd/validate.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// validateCmd checks the effective configuration and exits. Validation itself
// happens in the root PersistentPreRunE; reaching this RunE means it passed.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the effective configuration and exit.",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(),
			"Configuration OK: %d arms, daily budget %.2f, server %s\n",
			len(appConfig.Bandit().Streams)*len(appConfig.Bandit().Platforms)*
				len(appConfig.Bandit().Hooks)*len(appConfig.Bandit().Styles),
			appConfig.Governor().DailyBudget,
			appConfig.Server().Addr,
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
