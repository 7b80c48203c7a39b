package binance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"perpflow/internal/logger"
	"perpflow/internal/market"
	"perpflow/internal/pkg/convert"
	symbolpkg "perpflow/internal/pkg/symbol"

	"github.com/gorilla/websocket"
)

// depthEvent 对应部分深度流 <symbol>@depth<N>@100ms，每条消息都是完整快照。
type depthEvent struct {
	EventTime int64      `json:"E"`
	TradeTime int64      `json:"T"`
	Bids      [][]string `json:"b"`
	Asks      [][]string `json:"a"`
}

// SubscribeBook 订阅前 N 档盘口，N 取 5/10/20 中不小于 depth 的最小值。
func (s *Source) SubscribeBook(ctx context.Context, symbol string, depth int, opts market.SubscribeOptions) (<-chan market.BookSnapshot, error) {
	clean := strings.ToLower(symbolpkg.ToBinance(symbol))
	if clean == "" {
		return nil, fmt.Errorf("symbol is required for depth subscription")
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	out := make(chan market.BookSnapshot, buffer)
	subCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.bookCancel != nil {
		s.bookCancel()
	}
	s.bookCancel = cancel
	s.mu.Unlock()

	url := fmt.Sprintf("%s/%s@depth%d@100ms", s.cfg.WSBaseURL, clean, streamLevels(depth))
	go func() {
		defer close(out)
		s.runDepthLoop(subCtx, url, out, opts)
	}()
	return out, nil
}

func (s *Source) runDepthLoop(ctx context.Context, url string, out chan<- market.BookSnapshot, opts market.SubscribeOptions) {
	delay := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		connected, err := s.consumeDepth(ctx, url, out, opts)
		if ctx.Err() != nil {
			return
		}
		if connected {
			s.recordReconnect(err)
			delay = time.Second
		} else {
			s.recordSubscribeError(err)
		}
		if opts.OnDisconnect != nil {
			opts.OnDisconnect(err)
		}
		logger.Warnf("[binance] depth stream error: %v, reconnect in %s", err, delay)
		if !sleepWithContext(ctx, delay) {
			return
		}
		delay = nextDelay(delay)
	}
}

func (s *Source) consumeDepth(ctx context.Context, url string, out chan<- market.BookSnapshot, opts market.SubscribeOptions) (bool, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = s.cfg.HTTPTimeout
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	if opts.OnConnect != nil {
		opts.OnConnect()
	}
	// ctx 取消时关闭连接以打断阻塞的 ReadJSON
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	var event depthEvent
	for {
		event = depthEvent{}
		if err := conn.ReadJSON(&event); err != nil {
			return true, err
		}
		snap := parseDepth(event, s.nowFn())
		s.touch()
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case out <- snap:
		default:
			// 只保留最新盘口，通道满时丢弃本条
		}
	}
}

func parseDepth(ev depthEvent, now time.Time) market.BookSnapshot {
	ts := now
	if ev.EventTime > 0 {
		ts = time.UnixMilli(ev.EventTime)
	}
	return market.BookSnapshot{
		Bids:      parseLevels(ev.Bids),
		Asks:      parseLevels(ev.Asks),
		Timestamp: ts,
	}
}

func parseLevels(raw [][]string) []market.PriceLevel {
	out := make([]market.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) < 2 {
			continue
		}
		price, ok1 := convert.Float(lvl[0])
		size, ok2 := convert.Float(lvl[1])
		if !ok1 || !ok2 || size <= 0 {
			continue
		}
		out = append(out, market.PriceLevel{Price: price, Size: size})
	}
	return out
}

func streamLevels(depth int) int {
	switch {
	case depth > 0 && depth <= 5:
		return 5
	case depth > 5 && depth <= 10:
		return 10
	default:
		return 20
	}
}
