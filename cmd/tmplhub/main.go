package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "tmplhub",
	Short: "tmplhub — workflow template marketplace server",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the tmplhub version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("tmplhub version", version)
	},
}

func main() {
	rootCmd.AddCommand(serveCmd, migrateCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
