// lowcode - admin backend for runtime-defined models
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time
var Version = "1.0.0"

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lowcode",
		Short: "Low-code admin backend",
		Long: `lowcode serves dynamic CRUD over runtime-defined models and generates
their model sources, migrations and seeders from HTTP, MCP or chat.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to lowcode.yaml")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(moduleCmd)
	rootCmd.AddCommand(modelCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(functionsCmd)
	rootCmd.AddCommand(versionCmd)
	return rootCmd
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "lowcode %s\n", Version)
	},
}
