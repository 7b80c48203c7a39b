package market

import (
	"context"
	"strings"
	"sync"
	"time"

	"perpflow/internal/logger"
)

// DerivativesPoller 定时拉取持仓量和资金费率，结果通过通道交给行情消费者。
// 某一项失败时沿用上一次的值。
type DerivativesPoller struct {
	source   Source
	symbol   string
	interval time.Duration
	timeout  time.Duration
	nowFn    func() time.Time

	mu   sync.RWMutex
	last DerivativesUpdate
	err  string
}

func NewDerivativesPoller(source Source, symbol string, interval time.Duration) *DerivativesPoller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &DerivativesPoller{
		source:   source,
		symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		interval: interval,
		timeout:  5 * time.Second,
		nowFn:    time.Now,
	}
}

// Start 立即拉取一次，然后按 interval 轮询，ctx 结束时关闭通道。
func (p *DerivativesPoller) Start(ctx context.Context) <-chan DerivativesUpdate {
	out := make(chan DerivativesUpdate, 1)
	go func() {
		defer close(out)
		logger.Infof("[derivatives] 启动: symbol=%s interval=%s", p.symbol, p.interval)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			if upd, ok := p.Poll(ctx); ok {
				select {
				case out <- upd:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ctx.Done():
				logger.Infof("[derivatives] 收到停止信号，退出")
				return
			case <-ticker.C:
			}
		}
	}()
	return out
}

// Poll 执行一次拉取。两项都失败且从未成功过时返回 false。
func (p *DerivativesPoller) Poll(ctx context.Context) (DerivativesUpdate, bool) {
	if p.source == nil || p.symbol == "" {
		return DerivativesUpdate{}, false
	}
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var (
		wg             sync.WaitGroup
		oi, funding    float64
		errOI, errFund error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		oi, errOI = p.source.OpenInterest(callCtx, p.symbol)
	}()
	go func() {
		defer wg.Done()
		funding, errFund = p.source.FundingRate(callCtx, p.symbol)
	}()
	wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	next := p.last
	var problems []string
	if errOI != nil {
		problems = append(problems, "oi: "+errOI.Error())
	} else {
		next.OpenInterest = oi
	}
	if errFund != nil {
		problems = append(problems, "funding: "+errFund.Error())
	} else {
		next.FundingRate = funding
	}
	p.err = strings.Join(problems, "; ")
	if errOI != nil && errFund != nil && p.last.At.IsZero() {
		logger.Warnf("[derivatives] %s 拉取失败: %s", p.symbol, p.err)
		return DerivativesUpdate{}, false
	}
	if p.err != "" {
		logger.Warnf("[derivatives] %s 部分失败，沿用旧值: %s", p.symbol, p.err)
	}
	next.At = p.nowFn()
	p.last = next
	logger.Debugf("[derivatives] %s OI=%.2f funding=%.4f%%", p.symbol, next.OpenInterest, next.FundingRate*100)
	return next, true
}

func (p *DerivativesPoller) Last() (DerivativesUpdate, string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last, p.err
}
