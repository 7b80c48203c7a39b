package app

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"perpflow/internal/config"
	"perpflow/internal/gateway/binance"
	"perpflow/internal/gateway/exchange"
	"perpflow/internal/gateway/notifier"
	"perpflow/internal/logger"
	"perpflow/internal/store/intentlog"
	"perpflow/internal/store/sqlite"
	livehttp "perpflow/internal/transport/http/live"
)

func buildExchange(cfg *config.Config, stack *MarketStack) (exchange.Exchange, error) {
	tc := cfg.Trading
	switch tc.Mode {
	case "live":
		src, ok := stack.Source.(*binance.Source)
		if !ok {
			return nil, fmt.Errorf("live trading requires the binance market source")
		}
		ex, err := binance.NewFutures(src)
		if err != nil {
			return nil, fmt.Errorf("初始化实盘账户失败: %w", err)
		}
		logger.Warnf("✓ 实盘模式：订单将发送到 binance futures")
		return ex, nil
	default:
		logger.Infof("✓ 模拟账户 balance=%.2f leverage=%d", tc.PaperBalance, tc.Leverage)
		return exchange.NewPaperExchange(tc.PaperBalance, float64(tc.Leverage), tc.FeeRate, tc.ContractSize, stack.LastPrice), nil
	}
}

func buildNotifier(cfg config.NotifyConfig) notifier.TextNotifier {
	if !cfg.Telegram.Enabled {
		return notifier.LogNotifier{}
	}
	return notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
}

// storeSetup 两个存储都可选，路径为空即关闭。
type storeSetup struct {
	journal *sqlite.SqliteStore
	intents *intentlog.IntentStore
}

func (s *storeSetup) closers() []io.Closer {
	var out []io.Closer
	if s == nil {
		return out
	}
	if s.journal != nil {
		out = append(out, s.journal)
	}
	if s.intents != nil {
		out = append(out, s.intents)
	}
	return out
}

func buildStores(cfg *config.Config) (*storeSetup, error) {
	out := &storeSetup{}
	var opts []sqlite.Option
	if strings.EqualFold(cfg.App.LogLevel, "debug") {
		opts = append(opts, sqlite.WithSQLLog())
	}
	if path := strings.TrimSpace(cfg.Store.JournalPath); path != "" {
		journal, err := sqlite.NewSqliteStore(path, opts...)
		if err != nil {
			return nil, fmt.Errorf("初始化交易日志失败: %w", err)
		}
		out.journal = journal
		logger.Infof("✓ 交易日志写入 %s", absPath(path))
	}
	if path := strings.TrimSpace(cfg.Store.IntentLogPath); path != "" {
		intents, err := intentlog.NewIntentStore(path)
		if err != nil {
			for _, c := range out.closers() {
				_ = c.Close()
			}
			return nil, fmt.Errorf("初始化意图日志失败: %w", err)
		}
		out.intents = intents
		logger.Infof("✓ 意图日志写入 %s", absPath(path))
	}
	return out, nil
}

func buildHTTPServer(cfg *config.Config, eng livehttp.EngineControl, stores *storeSetup) (*livehttp.Server, error) {
	if !cfg.HTTP.Enabled {
		return nil, nil
	}
	logPaths := map[string]string{}
	if path := strings.TrimSpace(cfg.App.LogPath); path != "" {
		logPaths["app"] = path
	}
	if path := strings.TrimSpace(cfg.App.JudgmentLogPath); path != "" && cfg.App.JudgmentDump {
		logPaths["judgment"] = path
	}
	srvCfg := livehttp.ServerConfig{
		Addr:     cfg.HTTP.Addr,
		Engine:   eng,
		LogPaths: logPaths,
	}
	if stores != nil && stores.journal != nil {
		srvCfg.Trades = stores.journal
	}
	if stores != nil && stores.intents != nil {
		srvCfg.Intents = stores.intents
	}
	server, err := livehttp.NewServer(srvCfg)
	if err != nil {
		return nil, fmt.Errorf("初始化 HTTP 接口失败: %w", err)
	}
	logger.Infof("✓ HTTP 接口监听 %s", server.Addr())
	return server, nil
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
