package scheduler

import (
	"context"
	"fmt"
	"time"

	"perpflow/internal/logger"
)

// AlignedScheduler 在每根 K 线收盘后 Offset 处触发一次任务。
// 任务串行执行，上一轮未结束不会开始下一轮。
type AlignedScheduler struct {
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	nowFn func() time.Time
}

func NewAlignedScheduler(interval, offset time.Duration) *AlignedScheduler {
	return &AlignedScheduler{Interval: interval, Offset: offset, nowFn: time.Now}
}

// Run 阻塞直到 ctx 取消。传给 task 的 context 不随 ctx 取消，
// 保证关闭时正在执行的一轮可以完整结束。
func (s *AlignedScheduler) Run(ctx context.Context, task func(context.Context)) error {
	if task == nil {
		return fmt.Errorf("scheduler: task is nil")
	}
	if s.Interval <= 0 {
		return fmt.Errorf("scheduler: invalid interval=%s", s.Interval)
	}
	if s.Offset < 0 || s.Offset >= s.Interval {
		logger.Warnf("AlignedScheduler: offset=%s out of range, clamp to 0", s.Offset)
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}
	taskCtx := context.WithoutCancel(ctx)
	startAt := s.nowFn()
	logger.Infof("AlignedScheduler: started interval=%s offset=%s run_immediately=%v",
		s.Interval, s.Offset, s.RunImmediately)

	if s.RunImmediately {
		task(taskCtx)
	}
	for {
		now := s.nowFn()
		nextClose, wakeAt := s.NextWake(now)
		wait := wakeAt.Sub(now)
		logger.Infof("AlignedScheduler: 距离K线收盘=%s (收盘=%s) 下一轮=%s | uptime=%s",
			nextClose.Sub(now).Truncate(time.Second),
			nextClose.UTC().Format(time.RFC3339),
			wakeAt.UTC().Format(time.RFC3339),
			now.Sub(startAt).Truncate(time.Second),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Infof("AlignedScheduler: ctx done, exit")
			return nil
		case <-timer.C:
		}
		task(taskCtx)
	}
}

// NextWake 返回下一根 K 线收盘时间与实际唤醒时间。
func (s *AlignedScheduler) NextWake(now time.Time) (nextClose, wakeAt time.Time) {
	now = now.UTC()
	nextClose = now.Truncate(s.Interval).Add(s.Interval)
	return nextClose, nextClose.Add(s.Offset)
}
