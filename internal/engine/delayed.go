package engine

import (
	"sync"
	"time"

	"perpflow/internal/logger"
	"perpflow/internal/signal"

	"github.com/google/uuid"
)

const defaultDelayExpiry = 300 * time.Second

// DelayedSignal 因趋势未确认而挂起的入场信号。
type DelayedSignal struct {
	ID         string            `json:"id"`
	Signal     signal.Signal     `json:"signal"`
	Confidence signal.Confidence `json:"confidence"`
	Score      float64           `json:"score"`
	Reason     string            `json:"reason"`
	Rationale  []string          `json:"rationale,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// ConfirmFunc 用当前行情重新验证挂起信号，返回是否可执行与原因。
type ConfirmFunc func(rec DelayedSignal) (bool, string)

// DelayedQueue 有界 FIFO，满时丢弃最旧的记录。
type DelayedQueue struct {
	mu       sync.Mutex
	items    []DelayedSignal
	expiry   time.Duration
	capacity int
}

func NewDelayedQueue(expiry time.Duration, capacity int) *DelayedQueue {
	if expiry <= 0 {
		expiry = defaultDelayExpiry
	}
	if capacity <= 0 {
		capacity = 8
	}
	return &DelayedQueue{expiry: expiry, capacity: capacity}
}

// Push 补全 ID 与时间戳后入队，返回实际入队的记录。
func (q *DelayedQueue) Push(rec DelayedSignal, now time.Time) DelayedSignal {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = now
	rec.ExpiresAt = now.Add(q.expiry)

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		dropped := q.items[0]
		q.items = q.items[1:]
		logger.Warnf("[delay] 队列已满，丢弃最旧信号 %s %s", dropped.Signal, dropped.ID)
	}
	q.items = append(q.items, rec)
	return rec
}

// Drain 移除过期记录，按入队顺序验证剩余记录，最多取出一条通过验证的记录。
// 未通过验证的记录留在队列中等待下一轮。
func (q *DelayedQueue) Drain(now time.Time, check ConfirmFunc) (confirmed *DelayedSignal, expired []DelayedSignal) {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0]
	for _, rec := range q.items {
		if !now.Before(rec.ExpiresAt) {
			expired = append(expired, rec)
			continue
		}
		if confirmed == nil && check != nil {
			ok, reason := check(rec)
			if ok {
				r := rec
				confirmed = &r
				logger.Infof("[delay] 执行延迟信号 %s %s: %s", rec.Signal, rec.ID, reason)
				continue
			}
			logger.Infof("[delay] 延迟信号仍需等待 %s: %s", rec.Signal, reason)
		}
		kept = append(kept, rec)
	}
	q.items = kept
	return confirmed, expired
}

func (q *DelayedQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending 返回队列副本。
func (q *DelayedQueue) Pending() []DelayedSignal {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DelayedSignal(nil), q.items...)
}
