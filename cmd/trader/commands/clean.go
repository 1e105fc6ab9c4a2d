package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/daytrader/internal/snapshot"
	"github.com/wonny/daytrader/pkg/config"
	"github.com/wonny/daytrader/pkg/database"
)

// cleanCmd represents the clean command
var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "로그/저장 데이터 삭제",
	Long: `로그 디렉터리와 저장된 포지션 스냅샷을 삭제합니다.

Flags:
  --dl   로그 삭제 (LOG_DIR)
  --dp   저장 데이터 삭제 (PERSIST_DIR 또는 postgres position_snapshots)
  --D    둘 다

Example:
  go run ./cmd/trader clean --dl
  go run ./cmd/trader clean --D`,
	RunE: runClean,
}

var (
	cleanLogs    bool
	cleanPersist bool
	cleanAll     bool
)

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().BoolVar(&cleanLogs, "dl", false, "delete logs")
	cleanCmd.Flags().BoolVar(&cleanPersist, "dp", false, "delete persisted data")
	cleanCmd.Flags().BoolVar(&cleanAll, "D", false, "delete logs and persisted data")
}

func runClean(cmd *cobra.Command, args []string) error {
	if cleanAll {
		cleanLogs, cleanPersist = true, true
	}
	if !cleanLogs && !cleanPersist {
		return fmt.Errorf("nothing to clean: pass --dl, --dp or --D")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Println("=== Clean ===")

	if cleanLogs {
		if err := removeDir(cfg.Persist.LogDir); err != nil {
			return err
		}
		PrintSuccess("Deleted logs in " + cfg.Persist.LogDir)
	}

	if cleanPersist {
		n, err := clearSnapshots(cfg)
		if err != nil {
			return err
		}
		PrintSuccess(fmt.Sprintf("Deleted %d snapshots (%s)", n, cfg.Persist.SnapshotStore))
	}
	return nil
}

func removeDir(dir string) error {
	if dir == "" || dir == "/" || dir == "." {
		return fmt.Errorf("refusing to delete %q", dir)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete %s: %w", dir, err)
	}
	return nil
}

func clearSnapshots(cfg *config.Config) (int, error) {
	if cfg.Persist.SnapshotStore != "postgres" {
		n, err := snapshot.NewFileStore(cfg.Persist.Dir).Clear()
		if err != nil {
			return n, err
		}
		return n, nil
	}

	db, err := database.New(cfg)
	if err != nil {
		return 0, fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return snapshot.NewPGStore(db.Pool).Clear(ctx)
}
