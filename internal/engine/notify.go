package engine

import (
	"context"
	"sync/atomic"
	"time"

	"perpflow/internal/gateway/notifier"
	"perpflow/internal/logger"
)

// Dispatcher 异步推送通知。Notify 不阻塞决策 tick，队列满时直接丢弃。
type Dispatcher struct {
	sender  notifier.TextNotifier
	queue   chan notifier.StructuredMessage
	timeout time.Duration
	nowFn   func() time.Time
	dropped atomic.Int64
}

func NewDispatcher(sender notifier.TextNotifier, queueSize int, timeout time.Duration) *Dispatcher {
	if sender == nil {
		sender = notifier.LogNotifier{}
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		sender:  sender,
		queue:   make(chan notifier.StructuredMessage, queueSize),
		timeout: timeout,
		nowFn:   time.Now,
	}
}

func (d *Dispatcher) Notify(msg notifier.StructuredMessage) bool {
	if d == nil {
		return false
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = d.nowFn()
	}
	select {
	case d.queue <- msg:
		return true
	default:
		n := d.dropped.Add(1)
		logger.Warnf("[notify] 队列已满，丢弃 %s 通知 (累计 %d)", msg.Kind, n)
		return false
	}
}

// Run 串行发送直到 ctx 取消，退出前尽力发完已入队的消息。
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.flush()
			return nil
		case msg := <-d.queue:
			d.send(context.WithoutCancel(ctx), msg)
		}
	}
}

func (d *Dispatcher) flush() {
	for {
		select {
		case msg := <-d.queue:
			d.send(context.Background(), msg)
		default:
			return
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, msg notifier.StructuredMessage) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[notify] 发送 panic: %v", r)
		}
	}()
	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.sender.SendText(sendCtx, msg.RenderMarkdown()); err != nil {
		logger.Warnf("[notify] %s 通知发送失败: %v", msg.Kind, err)
	}
}

func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }
