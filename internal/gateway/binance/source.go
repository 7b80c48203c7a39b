package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"perpflow/internal/logger"
	"perpflow/internal/market"
	"perpflow/internal/pkg/convert"
	symbolpkg "perpflow/internal/pkg/symbol"
	"perpflow/internal/scheduler"

	"github.com/adshao/go-binance/v2/futures"
)

const maxHistoryLimit = 1500

// Source 基于 go-binance SDK 实现 market.Source；盘口走 gorilla/websocket 直连。
type Source struct {
	cfg    Config
	client *futures.Client
	nowFn  func() time.Time

	mu          sync.Mutex
	tradeCancel context.CancelFunc
	bookCancel  context.CancelFunc

	statsMu sync.Mutex
	stats   market.SourceStats
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	if final.Testnet {
		futures.UseTestnet = true
	}
	client := futures.NewClient(final.APIKey, final.APISecret)
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyURL != "" {
		proxyURL, err := url.Parse(final.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
		futures.SetWsProxyUrl(final.ProxyURL)
	}
	client.HTTPClient = httpClient
	return &Source{
		cfg:    final,
		client: client,
		nowFn:  time.Now,
	}, nil
}

func (s *Source) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	clean := symbolpkg.ToBinance(symbol)
	if clean == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	kls, err := s.client.NewKlinesService().Symbol(clean).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      convert.ToFloat64(kl.Open),
			High:      convert.ToFloat64(kl.High),
			Low:       convert.ToFloat64(kl.Low),
			Close:     convert.ToFloat64(kl.Close),
			Volume:    convert.ToFloat64(kl.Volume),
		})
	}
	if dur, ok := scheduler.ParseIntervalDuration(interval); ok {
		out = scheduler.DropUnclosedKline(out, dur, s.nowFn())
	}
	return out, nil
}

// SubscribeTrades 订阅 aggTrade 流，断线按 1s 起翻倍、最长 30s 重连。
func (s *Source) SubscribeTrades(ctx context.Context, symbol string, opts market.SubscribeOptions) (<-chan market.TradeEvent, error) {
	clean := symbolpkg.ToBinance(symbol)
	if clean == "" {
		return nil, fmt.Errorf("symbol is required for trade subscription")
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 1024
	}
	out := make(chan market.TradeEvent, buffer)
	subCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.tradeCancel != nil {
		s.tradeCancel()
	}
	s.tradeCancel = cancel
	s.mu.Unlock()

	go func() {
		defer close(out)
		s.runTradeLoop(subCtx, clean, out, opts)
	}()
	return out, nil
}

func (s *Source) runTradeLoop(ctx context.Context, symbol string, out chan<- market.TradeEvent, opts market.SubscribeOptions) {
	delay := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		var errMu sync.Mutex
		var lastErr error
		handler := func(event *futures.WsAggTradeEvent) {
			te, ok := convertAggTradeEvent(event)
			if !ok {
				return
			}
			s.touch()
			select {
			case <-ctx.Done():
			case out <- te:
			default:
				logger.Warnf("[binance] aggTrade channel full, drop %s #%d", symbol, te.ID)
			}
		}
		errHandler := func(err error) {
			if err == nil {
				return
			}
			errMu.Lock()
			lastErr = err
			errMu.Unlock()
		}
		doneC, stopC, err := futures.WsAggTradeServe(symbol, handler, errHandler)
		if err != nil {
			s.recordSubscribeError(err)
			if opts.OnDisconnect != nil {
				opts.OnDisconnect(err)
			}
			if !sleepWithContext(ctx, delay) {
				return
			}
			delay = nextDelay(delay)
			continue
		}
		delay = time.Second
		if opts.OnConnect != nil {
			opts.OnConnect()
		}
		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			return
		case <-doneC:
		}
		close(stopC)
		errMu.Lock()
		errCopy := lastErr
		errMu.Unlock()
		s.recordReconnect(errCopy)
		if opts.OnDisconnect != nil {
			opts.OnDisconnect(errCopy)
		}
		if !sleepWithContext(ctx, delay) {
			return
		}
		delay = nextDelay(delay)
	}
}

func (s *Source) Stats() market.SourceStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tradeCancel != nil {
		s.tradeCancel()
		s.tradeCancel = nil
	}
	if s.bookCancel != nil {
		s.bookCancel()
		s.bookCancel = nil
	}
	return nil
}

// convertAggTradeEvent 买方为 maker 时主动方是卖方。
func convertAggTradeEvent(ev *futures.WsAggTradeEvent) (market.TradeEvent, bool) {
	if ev == nil {
		return market.TradeEvent{}, false
	}
	price := convert.ToFloat64(ev.Price)
	size := convert.ToFloat64(ev.Quantity)
	if price <= 0 || size <= 0 {
		return market.TradeEvent{}, false
	}
	side := market.SideBuy
	if ev.Maker {
		side = market.SideSell
	}
	ts := ev.TradeTime
	if ts == 0 {
		ts = ev.Time
	}
	return market.TradeEvent{
		ID:        ev.AggregateTradeID,
		Timestamp: time.UnixMilli(ts),
		Price:     price,
		Size:      size,
		Side:      side,
	}, true
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextDelay(current time.Duration) time.Duration {
	if current <= 0 {
		return time.Second
	}
	next := current * 2
	if next > 30*time.Second {
		next = 30 * time.Second
	}
	return next
}

func (s *Source) touch() {
	s.statsMu.Lock()
	s.stats.LastMessage = s.nowFn()
	s.statsMu.Unlock()
}

func (s *Source) recordSubscribeError(err error) {
	if err == nil {
		return
	}
	s.statsMu.Lock()
	s.stats.SubscribeErrors++
	s.stats.LastError = err.Error()
	s.statsMu.Unlock()
}

func (s *Source) recordReconnect(err error) {
	s.statsMu.Lock()
	s.stats.Reconnects++
	if err != nil && err.Error() != "" {
		s.stats.LastError = err.Error()
	}
	s.statsMu.Unlock()
}
