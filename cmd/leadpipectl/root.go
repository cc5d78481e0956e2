package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/BTreeMap/LeadPipe/internal/store"
)

const (
	defaultStateDir   = "/var/lib/leadpipe"
	defaultDBFileName = "leadpipe.db"
)

var (
	dbDSN    string
	logLevel string
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leadpipectl",
		Short: "LeadPipe administration",
		Long:  "leadpipectl lists businesses, sends broadcasts, indexes business documents and purges stored conversations.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var lvl slog.Level
			if err := lvl.UnmarshalText([]byte(logLevel)); err != nil {
				lvl = slog.LevelInfo
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: lvl})))
			if dbDSN == "" {
				dbDSN = defaultDSN()
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&dbDSN, "db-dsn", "", "database DSN (default $DATABASE_URL or the SQLite file in $LEADPIPE_STATE_DIR)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	cmd.AddCommand(newBroadcastCmd())
	cmd.AddCommand(newIndexDocumentCmd())
	cmd.AddCommand(newPurgeMessagesCmd())
	cmd.AddCommand(newListBusinessesCmd())

	return cmd
}

// defaultDSN resolves the database the server uses from the environment.
func defaultDSN() string {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	stateDir := os.Getenv("LEADPIPE_STATE_DIR")
	if stateDir == "" {
		stateDir = defaultStateDir
	}
	return filepath.Join(stateDir, defaultDBFileName)
}

func openStore() (store.Store, error) {
	if store.DetectDSNType(dbDSN) == "postgres" {
		return store.Open(store.WithPostgresDSN(dbDSN))
	}
	return store.Open(store.WithSQLiteDSN(strings.TrimPrefix(dbDSN, "file:")))
}
