package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wonny/daytrader/internal/reporter"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "오늘 거래일 실행",
	Long: `오늘 하루를 실거래(또는 모의계좌)로 실행합니다.

이 명령어는:
- 계좌/전일 종가 조회 후 저장된 포지션 로드
- 실시간 호가 스트림 → 엔진 라운드 처리
- STOP_AFTER_UTC 이후 또는 Ctrl+C 시 포지션 저장 후 종료

Example:
  go run ./cmd/trader run
  go run ./cmd/trader run --env production`,
	RunE: runTradingDay,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runTradingDay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.IsSimulation() {
		return fmt.Errorf("ENV=simulation: use the simulate command")
	}

	log, closeLog, err := newLogger(cfg, "run")
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, err := newLiveStack(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stack.Close()

	PrintHeader("Trading Day", map[string]string{
		"Env":      cfg.Env,
		"Symbols":  fmt.Sprint(cfg.Engine.Symbols),
		"Stop at":  cfg.Engine.StopAfterUTC + " UTC",
		"Snapshot": cfg.Persist.SnapshotStore,
	})

	if err := stack.trader.RunDay(ctx); err != nil {
		PrintError(err.Error())
		return err
	}

	hooks := stack.hooks
	orders := hooks.Orders()
	report := reporter.Build(reporter.Input{
		Symbols:         cfg.Engine.Symbols,
		Actions:         orders.Actions(),
		Renewals:        hooks.Renewals(),
		Days:            1,
		MinFreeUSD:      hooks.MinFreeUSD(),
		FinalFreeUSD:    hooks.FreeUSD(),
		NumZeroQuantity: orders.ZeroQuantityCount(),
	})
	PrintSeparator()
	if err := reporter.Write(os.Stdout, report); err != nil {
		return err
	}
	PrintSuccess("Trading day complete")
	return nil
}
