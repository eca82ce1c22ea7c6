package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags; "dev" is the unstamped default.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "gatewayd",
	Short: "Family storage gateway daemon",
	Long: `gatewayd mediates family-scoped access to object/file storage and relational,
document and cache backends: it exposes an HTTP API for file upload/download/search/share
and transparent TCP proxies in front of Postgres, MySQL, MongoDB and Redis.`,
}

func init() {
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newVersionCommand())
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the gatewayd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
