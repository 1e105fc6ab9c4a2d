package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/daytrader/internal/contracts"
	"github.com/wonny/daytrader/internal/reporter"
	"github.com/wonny/daytrader/internal/snapshot"
	"github.com/wonny/daytrader/pkg/logger"
)

// snapshotCmd represents the snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "저장된 포지션 스냅샷 조회",
}

var (
	snapshotShowCmd = &cobra.Command{
		Use:   "show [date]",
		Short: "특정 일자 스냅샷 출력 (YYYY-MM-DD)",
		Args:  cobra.ExactArgs(1),
		RunE:  runSnapshotShow,
	}

	snapshotListCmd = &cobra.Command{
		Use:   "list",
		Short: "저장된 스냅샷 일자 목록",
		RunE:  runSnapshotList,
	}
)

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.AddCommand(snapshotShowCmd)
	snapshotCmd.AddCommand(snapshotListCmd)
}

// snapshotReader opens the configured store read-only
func snapshotReader(ctx context.Context) (snapshot.Store, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Persist.SnapshotStore != "postgres" {
		return snapshot.NewFileStore(cfg.Persist.Dir), func() {}, nil
	}

	cfg.Persist.AuditEnabled = false
	db, err := openDatabase(ctx, cfg, logger.Nop())
	if err != nil {
		return nil, nil, err
	}
	return snapshot.NewPGStore(db.Pool), db.Close, nil
}

func runSnapshotShow(cmd *cobra.Command, args []string) error {
	date, err := time.Parse(contracts.DateLayout, args[0])
	if err != nil {
		return fmt.Errorf("invalid date %q (expected YYYY-MM-DD)", args[0])
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, closeStore, err := snapshotReader(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	positions, err := store.Load(ctx, date)
	if err != nil {
		return err
	}

	PrintHeader("Snapshot "+args[0], map[string]string{
		"Positions": fmt.Sprint(positions.Len()),
	})
	t := &reporter.Table{
		Columns: []string{"Symbol", "Basis", "Orders", "Open buys", "Open sells", "Holding"},
		Widths:  []int{8, 10, 8, 10, 10, 8},
	}
	for _, pos := range positions.Sorted() {
		t.AddRow(
			pos.Symbol,
			fmt.Sprintf("%.2f", pos.BasisPrice()),
			fmt.Sprint(pos.Orders.Len()),
			fmt.Sprint(len(pos.Orders.OpenBuys())),
			fmt.Sprint(len(pos.Orders.OpenSells())),
			fmt.Sprint(pos.Orders.HoldingQty()),
		)
	}
	if err := t.Render(os.Stdout); err != nil {
		return err
	}
	fmt.Println()
	return reporter.WriteGroups(os.Stdout, reporter.PrimaryGroups(positions))
}

type dateLister interface {
	Dates() ([]time.Time, error)
}

func runSnapshotList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, closeStore, err := snapshotReader(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	var dates []time.Time
	switch s := store.(type) {
	case dateLister:
		dates, err = s.Dates()
	case *snapshot.PGStore:
		dates, err = s.Dates(ctx)
	default:
		return fmt.Errorf("snapshot store %T cannot list dates", store)
	}
	if err != nil {
		return err
	}

	items := make([]string, 0, len(dates))
	for _, d := range dates {
		items = append(items, d.Format(contracts.DateLayout))
	}
	if len(items) == 0 {
		PrintInfo("No snapshots stored")
		return nil
	}
	PrintList(items)
	return nil
}
