package main

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"perpflow/internal/app"
	"perpflow/internal/config"
	"perpflow/internal/logger"

	"github.com/joho/godotenv"
)

func main() {
	// .env 可选，已存在的环境变量不会被覆盖
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("读取 .env 失败: %v", err)
	}
	cfgPath := os.Getenv("PERPFLOW_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/perpflow.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("初始化日志文件失败: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetJudgmentWriter(nil)
	if cfg.App.JudgmentDump {
		f, err := setupJudgmentLogOutput(cfg.App.JudgmentLogPath)
		if err != nil {
			log.Fatalf("初始化判断服务日志失败: %v", err)
		}
		if f != nil {
			defer f.Close()
		}
	}
	logger.SetLevel(cfg.App.LogLevel)
	if err := config.WatchLogLevel(cfgPath, func(level string) { logger.SetLevel(level) }); err != nil {
		logger.Warnf("配置热更新不可用: %v", err)
	}
	logger.Infof("✓ 配置加载成功（环境=%s，交易对=%s，模式=%s）", cfg.App.Env, cfg.Trading.Symbol, cfg.Trading.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}
	if err := application.Run(ctx); err != nil {
		log.Fatalf("运行失败: %v", err)
	}
	logger.Infof("已退出")
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}

func setupJudgmentLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	logger.SetJudgmentWriter(f)
	return f, nil
}
