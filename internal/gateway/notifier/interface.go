package notifier

import (
	"context"

	"perpflow/internal/logger"
)

// TextNotifier 发送一条纯文本/Markdown 消息。
type TextNotifier interface {
	SendText(ctx context.Context, text string) error
}

// LogNotifier 未配置外部渠道时把通知写入日志。
type LogNotifier struct{}

func (LogNotifier) SendText(_ context.Context, text string) error {
	logger.InfoBlock("[notify]\n" + text)
	return nil
}
