package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"perpflow/internal/gateway/exchange"
	"perpflow/internal/logger"
	"perpflow/internal/metrics"
	"perpflow/internal/pkg/circuit"
	"perpflow/internal/types"
)

var (
	ErrDuplicateOrder = errors.New("guard: duplicate order suppressed")
	ErrGuardOpen      = errors.New("guard: execution breaker open")
)

// Guard 包装下单通道：单次硬超时、不重试、短窗口去重、连续失败熔断。
// 下单非幂等，超时的请求也计入去重窗口。
type Guard struct {
	inner     exchange.Exchange
	timeout   time.Duration
	dupWindow time.Duration
	breaker   *circuit.CircuitBreaker
	nowFn     func() time.Time

	mu      sync.Mutex
	lastKey string
	lastAt  time.Time
}

type GuardOption func(*Guard)

func WithGuardClock(fn func() time.Time) GuardOption {
	return func(g *Guard) {
		if fn != nil {
			g.nowFn = fn
			g.breaker.WithClock(fn)
		}
	}
}

func NewGuard(inner exchange.Exchange, timeout, dupWindow time.Duration, failureThreshold int, cooldown time.Duration, opts ...GuardOption) *Guard {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	g := &Guard{
		inner:     inner,
		timeout:   timeout,
		dupWindow: dupWindow,
		breaker:   circuit.NewCircuitBreaker("execution", failureThreshold, cooldown),
		nowFn:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guard) Name() string { return g.inner.Name() }

func (g *Guard) Account(ctx context.Context) (types.AccountSnapshot, error) {
	return g.inner.Account(ctx)
}

func (g *Guard) Position(ctx context.Context, symbol string) (*types.Position, error) {
	return g.inner.Position(ctx, symbol)
}

// PlaceOrder 只调用一次下游；失败交给下一个 tick 重新决策。
func (g *Guard) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Fill, error) {
	if err := req.Validate(); err != nil {
		metrics.OrdersTotal.WithLabelValues("invalid").Inc()
		return exchange.Fill{}, fmt.Errorf("%w: side=%s size=%v", err, req.Side, req.Size)
	}
	now := g.nowFn()
	key := orderKey(req)
	g.mu.Lock()
	if g.dupWindow > 0 && key == g.lastKey && now.Sub(g.lastAt) < g.dupWindow {
		g.mu.Unlock()
		metrics.OrdersTotal.WithLabelValues("duplicate").Inc()
		logger.Warnf("[guard] 重复订单已拦截 %s (%.0fs 内)", key, g.dupWindow.Seconds())
		return exchange.Fill{}, ErrDuplicateOrder
	}
	if !g.breaker.Allow() {
		g.mu.Unlock()
		metrics.OrdersTotal.WithLabelValues("breaker_open").Inc()
		return exchange.Fill{}, ErrGuardOpen
	}
	g.lastKey, g.lastAt = key, now
	g.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	fill, err := g.inner.PlaceOrder(callCtx, req)
	if err != nil {
		// 保证金不足、reduce-only 被拒说明交易所可达，不计入熔断。
		if errors.Is(err, exchange.ErrInsufficientMargin) || errors.Is(err, exchange.ErrReduceOnlyRejected) {
			g.breaker.RecordSuccess()
		} else {
			g.breaker.RecordFailure()
		}
		metrics.OrdersTotal.WithLabelValues("failed").Inc()
		return exchange.Fill{}, fmt.Errorf("place %s %s %v: %w", req.Symbol, req.Side, req.Size, err)
	}
	g.breaker.RecordSuccess()
	metrics.OrdersTotal.WithLabelValues("filled").Inc()
	return fill, nil
}

// BreakerState 供状态快照展示。
func (g *Guard) BreakerState() circuit.State {
	return g.breaker.State()
}

func orderKey(req exchange.OrderRequest) string {
	return string(req.Side) + "|" + strconv.FormatFloat(req.Size, 'f', -1, 64) + "|" + strconv.FormatBool(req.ReduceOnly)
}
