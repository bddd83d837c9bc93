package main

import (
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "reporter",
	Short: "Test result reporting server",
	Long: `reporter ingests end-to-end test results over HTTP and serves a
hierarchical test catalog (projects, epics, features, test cases).

The serve command runs the API server; the migrate command copies one
reporter database into another.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}
