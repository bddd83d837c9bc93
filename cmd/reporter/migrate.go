package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/redstone-qa/reporter/pkg/db"
	"github.com/redstone-qa/reporter/pkg/migrate"
)

var (
	sourceType string
	sourceDSN  string
	targetType string
	targetDSN  string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy one reporter database into another",
	Long: `migrate copies every project, epic, feature, test case definition,
test run and test case from a source database into a target database,
remapping identifiers as it goes. Records the target already holds are
skipped, so the command is safe to re-run.`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
		slog.SetDefault(logger)

		source, err := db.Connect(sourceType, sourceDSN)
		if err != nil {
			glog.Fatalf("Failed to connect source database: %v", err)
		}
		target, err := db.Connect(targetType, targetDSN)
		if err != nil {
			glog.Fatalf("Failed to connect target database: %v", err)
		}

		summary, err := migrate.New(source, target, logger).Run(context.Background())
		if err != nil {
			glog.Fatalf("Migration failed: %v", err)
		}

		out, _ := json.MarshalIndent(summary, "", "  ")
		os.Stdout.Write(append(out, '\n'))
	},
}

func init() {
	migrateCmd.Flags().StringVar(&sourceType, "source-type", "sqlite", "Source database type")
	migrateCmd.Flags().StringVar(&sourceDSN, "source-dsn", "", "Source database connection string")
	migrateCmd.Flags().StringVar(&targetType, "target-type", "sqlite", "Target database type")
	migrateCmd.Flags().StringVar(&targetDSN, "target-dsn", "", "Target database connection string")
	_ = migrateCmd.MarkFlagRequired("source-dsn")
	_ = migrateCmd.MarkFlagRequired("target-dsn")
}
