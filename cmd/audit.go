package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/lexreview/lexreview/internal/audit"
	"github.com/lexreview/lexreview/internal/db"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect or prune the review audit trail",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded review events, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		action, _ := cmd.Flags().GetString("action")
		limit, _ := cmd.Flags().GetInt("limit")

		store, closeDB, err := openAuditStore()
		if err != nil {
			return err
		}
		defer closeDB()

		entries, err := store.Query(context.Background(), audit.QueryFilter{
			SessionID: sessionID,
			Action:    action,
			Limit:     limit,
		})
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No audit entries.")
			return nil
		}
		for _, e := range entries {
			item := e.ItemID
			if item == "" {
				item = "-"
			}
			fmt.Printf("%s  %-20s %s  item=%s %s\n", e.Timestamp.Format(time.RFC3339), e.Action, e.SessionID, item, e.Status)
		}
		return nil
	},
}

var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete audit entries older than a duration",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan <= 0 {
			return eris.New("--older-than must be positive")
		}

		store, closeDB, err := openAuditStore()
		if err != nil {
			return err
		}
		defer closeDB()

		n, err := store.DeleteBefore(context.Background(), time.Now().Add(-olderThan))
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d audit entries older than %s\n", n, olderThan)
		return nil
	},
}

func openAuditStore() (*audit.Store, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	database, err := db.Open(filepath.Join(cfg.DataDir, "lexreview.db"))
	if err != nil {
		return nil, nil, eris.Wrap(err, "opening database")
	}
	return audit.NewStore(database), func() { database.Close() }, nil
}

func init() {
	auditListCmd.Flags().String("session", "", "only entries for this session")
	auditListCmd.Flags().String("action", "", "only entries with this action, e.g. item_updated")
	auditListCmd.Flags().Int("limit", 50, "maximum number of entries")
	auditPruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "age threshold")
	auditCmd.AddCommand(auditListCmd, auditPruneCmd)
	rootCmd.AddCommand(auditCmd)
}
