package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/wonny/daytrader/internal/api"
	"github.com/wonny/daytrader/internal/api/handlers"
	"github.com/wonny/daytrader/internal/scheduler"
	"github.com/wonny/daytrader/internal/scheduler/jobs"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "스케줄러 + API 서버 시작",
	Long: `장 시작 시각마다 거래일을 실행하는 스케줄러와 조회용 API 서버를 시작합니다.

Jobs:
  trading_day        - MARKET_OPEN_CRON (기본: 평일 13:25:00 UTC)
  quote_cache_reset  - 평일 20:30:00 UTC

Endpoints:
  GET  /health
  GET  /metrics
  GET  /api/positions
  GET  /api/rounds/latest
  GET  /api/actions?after=&limit=
  GET  /api/summary
  GET  /api/quotes
  GET  /api/jobs
  POST /api/jobs/{name}/run

Example:
  go run ./cmd/trader serve
  go run ./cmd/trader serve --port 8080`,
	RunE: runServe,
}

var (
	servePort string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&servePort, "port", "", "API 서버 포트 (기본: PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.IsSimulation() {
		return fmt.Errorf("ENV=simulation: use the simulate command")
	}
	if servePort != "" {
		cfg.Port = servePort
	}

	log, closeLog, err := newLogger(cfg, "serve")
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

	// 1. Scheduler
	sched := scheduler.New(log, scheduler.DefaultOptions())
	if err := sched.AddJob(jobs.NewTradingDayJob(stack.trader, cfg.Engine.MarketOpenCron, log)); err != nil {
		return err
	}
	if err := sched.AddJob(jobs.NewQuoteCacheResetJob(stack.quotes, "", log)); err != nil {
		return err
	}

	// 2. API
	h := api.Handlers{
		Trading: handlers.NewTradingHandler(stack.hooks, stack.quotes, cfg.Engine.Symbols, log),
		Jobs:    handlers.NewJobsHandler(sched, log),
		Health: func() map[string]interface{} {
			return map[string]interface{}{
				"env":     cfg.Env,
				"running": stack.trader.Running(),
				"faults":  stack.app.Faults.HasFaults(),
			}
		},
	}
	if cfg.MetricsEnabled {
		h.Metrics = promhttp.HandlerFor(stack.metrics.Registry(), promhttp.HandlerOpts{})
	}
	server := api.New(cfg, log, api.NewRouter(h, log))

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()
	sched.Start()

	PrintHeader("Trader Service", map[string]string{
		"Env":     cfg.Env,
		"Port":    cfg.Port,
		"Symbols": fmt.Sprint(cfg.Engine.Symbols),
	})
	for _, name := range sched.GetAllJobs() {
		if next, ok := sched.NextRun(name); ok {
			PrintKeyValue(name, next.Format(time.RFC3339), 18)
		}
	}
	fmt.Println("\nPress Ctrl+C to stop")

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			log.WithError(err).Error("API server stopped")
		}
	}

	log.Info("Shutting down...")

	// 진행 중인 거래일은 취소 후에도 포지션을 저장하고 종료
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("Service stopped")
	return nil
}
