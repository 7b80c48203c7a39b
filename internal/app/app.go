package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"perpflow/internal/config"
	"perpflow/internal/engine"
	"perpflow/internal/logger"
	"perpflow/internal/market"
	"perpflow/internal/metrics"
	"perpflow/internal/orderflow"
	livehttp "perpflow/internal/transport/http/live"

	"golang.org/x/sync/errgroup"
)

const streamStatsEvery = 30 * time.Second

// App 负责应用级编排：加载配置→初始化依赖→启动行情、决策引擎与管理接口。
type App struct {
	cfg        *config.Config
	engine     *engine.Engine
	dispatcher *engine.Dispatcher
	feed       *orderflow.Feed
	source     market.Source
	httpServer *livehttp.Server
	closers    []io.Closer
	Summary    *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动所有长期任务，任一任务返回错误即整体退出。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.engine == nil {
		return fmt.Errorf("engine not initialized")
	}
	defer a.Close()

	if a.Summary != nil {
		a.Summary.Print()
	}
	metrics.Register()
	if err := a.engine.Restore(ctx); err != nil {
		logger.Warnf("[app] 风控状态恢复失败，使用初始状态: %v", err)
	}

	group, ctx := errgroup.WithContext(ctx)

	if a.dispatcher != nil {
		group.Go(func() error {
			return a.dispatcher.Run(ctx)
		})
	}

	if a.feed != nil {
		group.Go(func() error {
			// 订单流中断不终止决策，后续 tick 读到的是 stale 快照
			if err := a.feed.Run(ctx); err != nil {
				logger.Errorf("[app] 订单流退出: %v", err)
			}
			return nil
		})
	}

	if a.source != nil {
		group.Go(func() error {
			watchStreamStats(ctx, a.source, streamStatsEvery)
			return nil
		})
	}

	if a.httpServer != nil {
		group.Go(func() error {
			if err := a.httpServer.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		return a.engine.Run(ctx)
	})

	return group.Wait()
}

// Close 释放数据源与存储，可重复调用。
func (a *App) Close() {
	if a == nil {
		return
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			logger.Warnf("[app] 关闭资源失败: %v", err)
		}
	}
	a.closers = nil
}

// Engine exposes the decision engine (for tests and replay harnesses).
func (a *App) Engine() *engine.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}
