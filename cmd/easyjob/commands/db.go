package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/easyjob/am"
	"github.com/teranos/easyjob/db"
	"github.com/teranos/easyjob/errors"
	"github.com/teranos/easyjob/store"
	"github.com/teranos/easyjob/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage easyjob database",
	Long: sym.DB + ` db - Manage easyjob database operations

Examples:
  easyjob db migrate              # Apply pending migrations
  easyjob db stats                # Show collections and document counts`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Long:  "Display the schema version and the document count of every collection, recycle collections included",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	// openDatabase migrates
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	version, err := db.SchemaVersion(database)
	if err != nil {
		return err
	}
	fmt.Printf("%s Database at schema version %s\n", sym.DB, version)
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	version, err := db.SchemaVersion(database)
	if err != nil {
		return err
	}
	stats, err := store.New(database, nil).Stats(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("%s Database Statistics\n", sym.DB)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database Path:   %s\n", cfg.GetDatabasePath())
	fmt.Printf("Schema Version:  %s\n", version)
	fmt.Println()

	if len(stats) == 0 {
		fmt.Println("No collections yet")
		return nil
	}
	fmt.Println("Collections:")
	for _, cs := range stats {
		fmt.Printf("  %-16s %d documents\n", cs.Name, cs.Documents)
	}
	return nil
}
