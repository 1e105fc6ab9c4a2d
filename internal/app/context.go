package app

import (
	"github.com/wonny/daytrader/internal/lifecycle"
	"github.com/wonny/daytrader/internal/realtime"
	"github.com/wonny/daytrader/pkg/config"
	"github.com/wonny/daytrader/pkg/logger"
)

// Context bundles the process-wide services every trading day shares
// ⭐ SSOT: 폴트 큐와 컴포넌트 레지스트리는 프로세스당 하나
type Context struct {
	Config   *config.Config
	Logger   *logger.Logger
	Faults   *lifecycle.FaultQueue
	Registry *lifecycle.Registry
}

// NewContext creates a context with an empty fault queue and registry
func NewContext(cfg *config.Config, log *logger.Logger) *Context {
	if log == nil {
		log = logger.Nop()
	}
	return &Context{
		Config:   cfg,
		Logger:   log,
		Faults:   lifecycle.NewFaultQueue(log),
		Registry: lifecycle.NewRegistry(log),
	}
}

// Env returns the configured environment name
func (c *Context) Env() string {
	return c.Config.Env
}

// DayOptions returns the day run defaults for the configured environment
// 시뮬레이션은 종료 시각 없이 재생이 끝날 때까지 진행
func (c *Context) DayOptions() DayOptions {
	opts := DayOptions{
		StopAfterUTC: c.Config.Engine.StopAfterUTC,
		QuoteSource:  realtime.SourceStream,
	}
	if c.Config.IsSimulation() {
		opts.StopAfterUTC = ""
		opts.QuoteSource = realtime.SourceReplay
	}
	return opts
}
