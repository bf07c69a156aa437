// tutorctl - operator commands for the tutoring backend
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/ashureev/tutorhub/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	dbPath      string
	busyTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "tutorctl",
	Short: "Administer the tutoring database",
	Long: `tutorctl manages users, the agent and topic catalog, and stale
sessions directly in the SQLite database used by the server.

Run it against a stopped server or rely on SQLite's busy timeout to wait
for the server's write transactions.`,
	SilenceUsage: true,
}

func init() {
	_ = godotenv.Load()

	defaultDB := os.Getenv("DB_PATH")
	if defaultDB == "" {
		defaultDB = "./data/tutorhub.db"
	}
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDB, "path to the SQLite database (env DB_PATH)")
	rootCmd.PersistentFlags().DurationVar(&busyTimeout, "busy-timeout", 30*time.Second, "how long to wait for the database write lock")

	rootCmd.AddCommand(
		createSuperuserCmd,
		setPasswordCmd,
		manageUserCmd,
		importAgentsCmd,
		importTopicsCmd,
		exportTopicsCmd,
		cleanupInactiveCmd,
		showStatsCmd,
	)
}

// withStore opens the database for the duration of fn.
func withStore(fn func(repo store.Repository) error) error {
	repo, err := store.NewSQLite(dbPath, busyTimeout)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()
	return fn(repo)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
