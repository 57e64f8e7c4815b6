package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

const spanctlVersion = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the spanctl version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "spanctl version %s (%s)\n", spanctlVersion, runtime.Version())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
