package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	levelVar slog.LevelVar
	mu       sync.RWMutex
	root     *slog.Logger
)

func init() {
	levelVar.Set(slog.LevelInfo)
	root = build(os.Stdout)
}

func build(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar}))
}

// SetOutput 替换日志输出目标，级别保持不变。
func SetOutput(w io.Writer) {
	mu.Lock()
	root = build(w)
	mu.Unlock()
}

// SetLevel 运行时调整日志级别，无法识别的值回落到 info。
func SetLevel(level string) slog.Level {
	lvl := ParseLevel(level)
	levelVar.Set(lvl)
	return lvl
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Level() slog.Level { return levelVar.Level() }

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

func Debugf(format string, v ...any) {
	current().Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	current().Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	current().Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	current().Error(fmt.Sprintf(format, v...))
}

// InfoBlock 按行输出多行文本，空行跳过。
func InfoBlock(block string) {
	for _, line := range strings.Split(strings.TrimSpace(block), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		current().Info(line)
	}
}
