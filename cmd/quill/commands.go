package main

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/quill/internal/config"
)

var cfg config.Config

var (
	rootCmd = &cobra.Command{
		Use:   "quill",
		Short: "Learns how each clinician writes letters and conditions drafts to match.",
		Long: `Quill compares AI-drafted clinic letters with the versions clinicians sign,
learns a per-subspecialty style profile from the edits, and turns that
profile into prompt guidance for the next draft.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			loaded, err := config.Load()
			setupLogging(loaded.LogLevel)
			if err != nil {
				slog.Warn("config file ignored", "error", err)
			}
			cfg = loaded
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the NATS subscriber and the aggregation schedule",
		RunE:  runServe,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE:  runMigrate,
	}

	seedCmd = &cobra.Command{
		Use:   "seed",
		Short: "Import a directory of exemplar letters as seed letters",
		Long: `Imports every .txt file under --dir as a seed letter.

Without --user the directory is read as <user>/<subspecialty>/*.txt, or
<user>/*.txt filed under --subspecialty. Progress is kept in a state file so
an interrupted import resumes where it stopped.`,
		RunE: runSeed,
	}

	aggregateCmd = &cobra.Command{
		Use:   "aggregate",
		Short: "Aggregate anonymized patterns for the current period and exit",
		RunE:  runAggregate,
	}
)

var (
	seedDir          string
	seedUser         string
	seedSubspecialty string
	seedStatePath    string
	seedDryRun       bool
	seedAnalyze      bool

	aggregateSubspecialty string
	aggregateWindow       time.Duration
)

func init() {
	seedCmd.Flags().StringVar(&seedDir, "dir", "", "directory of letters to import (required)")
	seedCmd.Flags().StringVar(&seedUser, "user", "", "file every letter under this clinician")
	seedCmd.Flags().StringVar(&seedSubspecialty, "subspecialty", "", "subspecialty for letters without one")
	seedCmd.Flags().StringVar(&seedStatePath, "state", "", "import state file (default from config)")
	seedCmd.Flags().BoolVar(&seedDryRun, "dry-run", false, "discover and deduplicate without writing")
	seedCmd.Flags().BoolVar(&seedAnalyze, "analyze", false, "analyze each imported profile when the import finishes")
	_ = seedCmd.MarkFlagRequired("dir")

	aggregateCmd.Flags().StringVar(&aggregateSubspecialty, "subspecialty", "", "aggregate one subspecialty (default: all)")
	aggregateCmd.Flags().DurationVar(&aggregateWindow, "window", 0, "look-back window (default from config)")

	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd, aggregateCmd)
}
