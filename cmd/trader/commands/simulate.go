package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/daytrader/internal/app"
	"github.com/wonny/daytrader/internal/contracts"
	"github.com/wonny/daytrader/internal/marketdata"
	"github.com/wonny/daytrader/internal/reporter"
	"github.com/wonny/daytrader/internal/runner"
	"github.com/wonny/daytrader/internal/snapshot"
)

// simulateCmd represents the simulate command
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "기록된 데이터셋으로 다일 시뮬레이션",
	Long: `기록된 종가/체결 데이터셋을 일자별로 재생합니다.

데이터셋 구조:
  <dataset>/closePrices/<SYM>/*.json
  <dataset>/priceUpdates/<SYM>/*.json

마지막 날에는 미체결 매도를 현재 bid로 강제 체결한 뒤
종목별 체결 합계와 총 손익을 출력합니다.

Example:
  go run ./cmd/trader simulate --dataset data/dataset
  go run ./cmd/trader simulate --dataset data/dataset --from 2024-03-01 --to 2024-03-29 --workers 4`,
	RunE: runSimulate,
}

var (
	simDataset string
	simFrom    string
	simTo      string
	simWorkers int
	simKeep    bool
)

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().StringVar(&simDataset, "dataset", "data/dataset", "dataset directory")
	simulateCmd.Flags().StringVar(&simFrom, "from", "", "first date (YYYY-MM-DD)")
	simulateCmd.Flags().StringVar(&simTo, "to", "", "last date (YYYY-MM-DD)")
	simulateCmd.Flags().IntVar(&simWorkers, "workers", 1, "replay goroutines per day (1 = recorded order)")
	simulateCmd.Flags().BoolVar(&simKeep, "keep", false, "keep the snapshot directory after the run")
}

func parseDateFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(contracts.DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q (expected YYYY-MM-DD)", name, value)
	}
	return t, nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Env = "simulation"

	from, err := parseDateFlag("from", simFrom)
	if err != nil {
		return err
	}
	to, err := parseDateFlag("to", simTo)
	if err != nil {
		return err
	}

	log, closeLog, err := newLogger(cfg, "simulate")
	if err != nil {
		return err
	}
	defer closeLog()

	dataset, err := marketdata.LoadDataset(simDataset)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	book, err := buildBook(cfg, log)
	if err != nil {
		return err
	}

	// 스냅샷은 임시 디렉터리에 저장
	dir, err := os.MkdirTemp("", "daytrader-sim-*")
	if err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	if !simKeep {
		defer os.RemoveAll(dir)
	}
	store := snapshot.NewFileStore(dir)

	metrics := runner.NewMetrics()
	hooks := runner.NewHooks(runner.HookOptions{Logger: log, Metrics: metrics})
	sim, err := runner.NewSimulation(app.NewContext(cfg, log), hooks, metrics, runner.SimulationOptions{
		Dataset:         dataset,
		Symbols:         cfg.Engine.Symbols,
		Book:            book,
		StartingFreeUSD: cfg.Engine.StartingBalanceUSD,
		Store:           store,
		From:            from,
		To:              to,
		Workers:         simWorkers,
	})
	if err != nil {
		return err
	}

	dates := sim.Dates()
	period := "-"
	if len(dates) > 0 {
		period = dates[0].Format(contracts.DateLayout) + " ~ " + dates[len(dates)-1].Format(contracts.DateLayout)
	}
	PrintHeader("Simulation", map[string]string{
		"Dataset": simDataset,
		"Symbols": fmt.Sprint(cfg.Engine.Symbols),
		"Period":  period,
		"Days":    fmt.Sprint(len(dates)),
		"Workers": fmt.Sprint(simWorkers),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	report, runErr := sim.Run(ctx)
	if report != nil {
		if err := reporter.Write(os.Stdout, *report); err != nil {
			return err
		}
		PrintSeparator()
		if len(dates) > 0 {
			if positions, err := store.Load(ctx, dates[len(dates)-1]); err == nil {
				if err := reporter.WriteGroups(os.Stdout, reporter.PrimaryGroups(positions)); err != nil {
					return err
				}
			}
		}
		PrintKeyValue("Min free USD", fmt.Sprintf("%.2f", report.MinFreeUSD), 14)
		PrintKeyValue("Final free USD", fmt.Sprintf("%.2f", report.FinalFreeUSD), 14)
		PrintKeyValue("Zero quantity", fmt.Sprint(report.NumZeroQuantity), 14)
	}
	if runErr != nil {
		PrintError(runErr.Error())
		return runErr
	}
	if simKeep {
		PrintInfo("Snapshots kept in " + dir)
	}
	PrintSuccess(fmt.Sprintf("Simulated %d days in %.2fs", report.Days, time.Since(start).Seconds()))
	return nil
}
