package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/daytrader/internal/app"
	"github.com/wonny/daytrader/internal/audit"
	"github.com/wonny/daytrader/internal/execution"
	"github.com/wonny/daytrader/internal/marketdata"
	"github.com/wonny/daytrader/internal/realtime/cache"
	"github.com/wonny/daytrader/internal/runner"
	"github.com/wonny/daytrader/internal/snapshot"
	"github.com/wonny/daytrader/internal/strategy"
	"github.com/wonny/daytrader/pkg/config"
	"github.com/wonny/daytrader/pkg/database"
	"github.com/wonny/daytrader/pkg/httputil"
	"github.com/wonny/daytrader/pkg/logger"
	"github.com/wonny/daytrader/pkg/redis"
)

// loadConfig reads the environment and applies global flag overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if env != "" {
		switch env {
		case "development", "staging", "production", "simulation":
			cfg.Env = env
		default:
			return nil, fmt.Errorf("invalid --env %q", env)
		}
	}
	switch {
	case verbose:
		cfg.LogMode = "verbose"
	case quiet:
		cfg.LogMode = "quiet"
	}
	return cfg, nil
}

// newLogger writes to stdout and to a per-run file under the log directory
// 반환된 close 함수는 로그 파일을 닫음
func newLogger(cfg *config.Config, name string) (*logger.Logger, func(), error) {
	if err := os.MkdirAll(cfg.Persist.LogDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}

	path := filepath.Join(cfg.Persist.LogDir, fmt.Sprintf("%s-%s.log", name, time.Now().UTC().Format("20060102-150405")))
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create log file: %w", err)
	}

	log := logger.NewWithWriter(cfg, io.MultiWriter(os.Stdout, f))
	log.WithField("file", path).Debug("Logging to file")
	return log, func() { f.Close() }, nil
}

// buildBook resolves the strategy file, or the configured preset
func buildBook(cfg *config.Config, log *logger.Logger) (*strategy.Book, error) {
	if cfg.Engine.StrategyFile != "" {
		f, _, err := strategy.LoadFile(cfg.Engine.StrategyFile)
		if err != nil {
			return nil, err
		}
		hash, err := strategy.Hash(f)
		if err != nil {
			return nil, err
		}
		log.WithFields(map[string]interface{}{
			"file": cfg.Engine.StrategyFile,
			"name": f.Name,
			"hash": hash,
		}).Info("Loaded strategy file")
		return strategy.FromFile(f, cfg.Engine.Symbols, cfg.Engine.MaxOpenPrimaryBuys)
	}

	p, err := strategy.Preset(cfg.Engine.StrategyPreset)
	if err != nil {
		return nil, err
	}
	log.WithField("preset", cfg.Engine.StrategyPreset).Info("Using strategy preset")
	return strategy.Uniform(cfg.Engine.Symbols, p, cfg.Engine.MaxOpenPrimaryBuys)
}

// openDatabase connects and migrates when postgres snapshots or the audit trail need it
func openDatabase(ctx context.Context, cfg *config.Config, log *logger.Logger) (*database.DB, error) {
	if cfg.Persist.SnapshotStore != "postgres" && !cfg.Persist.AuditEnabled {
		return nil, nil
	}

	db, err := database.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	log.Info("Connected to database")
	return db, nil
}

// openStore returns the configured snapshot store, mirrored to redis when enabled
func openStore(cfg *config.Config, db *database.DB, rc *redis.Client, log *logger.Logger) snapshot.Store {
	var store snapshot.Store
	if cfg.Persist.SnapshotStore == "postgres" {
		store = snapshot.NewPGStore(db.Pool)
	} else {
		store = snapshot.NewFileStore(cfg.Persist.Dir)
	}

	if rc != nil && rc.Enabled() {
		return snapshot.NewCached(store, redis.NewCache(rc, "daytrader"), log)
	}
	return store
}

// liveStack is everything a live trading day needs
type liveStack struct {
	cfg     *config.Config
	log     *logger.Logger
	app     *app.Context
	db      *database.DB
	redis   *redis.Client
	quotes  *cache.QuoteCache
	metrics *runner.Metrics
	hooks   *runner.Hooks
	trader  *runner.Trader
}

// newLiveStack wires brokerage, market data, persistence and hooks
func newLiveStack(ctx context.Context, cfg *config.Config, log *logger.Logger) (*liveStack, error) {
	s := &liveStack{cfg: cfg, log: log, app: app.NewContext(cfg, log)}

	rc, err := redis.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	s.redis = rc

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.db = db

	book, err := buildBook(cfg, log)
	if err != nil {
		s.Close()
		return nil, err
	}

	var mirror *redis.Cache
	if rc.Enabled() {
		mirror = redis.NewCache(rc, "daytrader")
	}

	// 브로커 요청은 x/time/rate로 간격 유지, redis가 있으면 프로세스 간 제한도 적용
	brokerClient := httputil.New(cfg, log)
	if rc.Enabled() {
		brokerClient.WithRateLimiter(redis.NewRateLimiter(rc, "daytrader"), redis.RateLimitConfig{
			Key:    "broker",
			Limit:  cfg.Broker.RPS,
			Window: time.Second,
		})
	}
	broker := execution.NewHTTPBroker(cfg.Broker, brokerClient, log)

	var scraper *marketdata.Scraper
	if cfg.MarketData.ScrapeURL != "" {
		scraper = marketdata.NewScraper(cfg.MarketData.ScrapeURL, httputil.New(cfg, log), log)
	}
	market := marketdata.NewHTTPMarketData(cfg, httputil.New(cfg, log), mirror, scraper, log)

	var repo *audit.Repository
	if cfg.Persist.AuditEnabled {
		repo = audit.NewRepository(db.Pool, uuid.New())
		log.WithField("run_id", repo.RunID()).Info("Audit trail enabled")
	}

	s.quotes = cache.NewQuoteCache(time.Minute, log)
	s.metrics = runner.NewMetrics()
	s.hooks = runner.NewHooks(runner.HookOptions{
		Logger:     log,
		Metrics:    s.metrics,
		Repository: repo,
		Mirror:     mirror,
		Live:       !cfg.IsSimulation(),
	})

	s.trader, err = runner.NewTrader(s.app, s.hooks, runner.TraderDeps{
		Broker:  broker,
		Market:  market,
		Store:   openStore(cfg, db, rc, log),
		Book:    book,
		Quotes:  s.quotes,
		Mirror:  mirror,
		Metrics: s.metrics,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close releases database and redis connections
func (s *liveStack) Close() {
	if s.db != nil {
		s.db.Close()
	}
	if s.redis != nil {
		s.redis.Close()
	}
}
