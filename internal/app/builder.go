package app

import (
	"context"
	"fmt"
	"time"

	"perpflow/internal/config"
	"perpflow/internal/engine"
	"perpflow/internal/gateway/exchange"
	"perpflow/internal/gateway/notifier"
	"perpflow/internal/judgment"
	"perpflow/internal/logger"
	"perpflow/internal/pipeline/factory"
	"perpflow/internal/profile"
	"perpflow/internal/regime"
	"perpflow/internal/risk"
	"perpflow/internal/signal"
	"perpflow/internal/sizing"
	livehttp "perpflow/internal/transport/http/live"
)

type AppBuilder struct {
	cfg *config.Config

	marketStackFn func(context.Context, *config.Config) (*MarketStack, error)
	exchangeFn    func(*config.Config, *MarketStack) (exchange.Exchange, error)
	notifierFn    func(config.NotifyConfig) notifier.TextNotifier
	judgmentFn    func(*config.Config, *engine.Dispatcher) (*judgment.Service, error)
	adjustmentsFn func(config.ScoringConfig) (signal.AdjustmentSource, *profile.Registry, error)
	storesFn      func(*config.Config) (*storeSetup, error)
	httpFn        func(*config.Config, livehttp.EngineControl, *storeSetup) (*livehttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

// WithMarketStack 替换行情栈构建（测试中避免网络）。
func WithMarketStack(fn func(context.Context, *config.Config) (*MarketStack, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.marketStackFn = fn }
}

func WithExchange(fn func(*config.Config, *MarketStack) (exchange.Exchange, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.exchangeFn = fn }
}

func WithNotifier(fn func(config.NotifyConfig) notifier.TextNotifier) AppBuilderOption {
	return func(b *AppBuilder) { b.notifierFn = fn }
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:           cfg,
		marketStackFn: buildMarketStack,
		exchangeFn:    buildExchange,
		notifierFn:    buildNotifier,
		judgmentFn:    buildJudgment,
		adjustmentsFn: buildAdjustments,
		storesFn:      buildStores,
		httpFn:        buildHTTPServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	stack, err := b.marketStackFn(ctx, cfg)
	if err != nil {
		return nil, err
	}
	success := false
	var closers []func()
	defer func() {
		if success {
			return
		}
		for _, fn := range closers {
			fn()
		}
	}()
	if stack.Source != nil {
		closers = append(closers, func() { _ = stack.Source.Close() })
	}

	ex, err := b.exchangeFn(cfg, stack)
	if err != nil {
		return nil, err
	}
	tc := cfg.Trading
	guard := engine.NewGuard(ex,
		time.Duration(tc.OrderTimeoutSeconds)*time.Second,
		time.Duration(tc.DuplicateWindowSeconds)*time.Second,
		tc.GuardFailureThreshold,
		time.Duration(tc.GuardCooldownSeconds)*time.Second,
	)

	dispatcher := engine.NewDispatcher(b.notifierFn(cfg.Notify), cfg.Notify.QueueSize,
		time.Duration(cfg.Notify.TimeoutSeconds)*time.Second)

	judge, err := b.judgmentFn(cfg, dispatcher)
	if err != nil {
		return nil, err
	}

	adjust, registry, err := b.adjustmentsFn(cfg.Scoring)
	if err != nil {
		return nil, err
	}

	stores, err := b.storesFn(cfg)
	if err != nil {
		return nil, err
	}
	for _, c := range stores.closers() {
		closers = append(closers, func() { _ = c.Close() })
	}

	components := engine.Components{
		Gather: factory.BuildGather(*cfg, factory.Deps{
			Source:   stack.Source,
			Buffer:   stack.Buffer,
			Exchange: guard,
			Flow:     stack.Aggregator,
		}),
		Classifier: regime.NewClassifier(cfg.Regime),
		Scorer:     signal.NewScorer(cfg.Scoring, adjust),
		Sizer:      sizing.NewSizer(cfg.Sizing, cfg.Trading),
		Risk:       risk.NewMachine(cfg.Risk, cfg.Trading),
		Judgment:   judge,
		Guard:      guard,
		Delayed:    engine.NewDelayedQueue(time.Duration(cfg.Delay.ExpirySeconds)*time.Second, cfg.Delay.Capacity),
		Notifier:   dispatcher,
	}
	if stores.journal != nil {
		components.Journal = stores.journal
	}
	if stores.intents != nil {
		components.Intents = stores.intents
	}
	eng, err := engine.New(*cfg, components)
	if err != nil {
		return nil, fmt.Errorf("初始化决策引擎失败: %w", err)
	}

	httpServer, err := b.httpFn(cfg, eng, stores)
	if err != nil {
		return nil, err
	}

	closerList := stores.closers()
	if stack.Source != nil {
		closerList = append(closerList, stack.Source)
	}
	success = true
	return &App{
		cfg:        cfg,
		engine:     eng,
		dispatcher: dispatcher,
		feed:       stack.Feed,
		source:     stack.Source,
		httpServer: httpServer,
		closers:    closerList,
		Summary:    newStartupSummary(cfg, ex.Name(), stack, judge, registry, httpServer),
	}, nil
}
