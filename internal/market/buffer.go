package market

import "sync"

// BarBuffer 按开盘时间排序的 K 线缓冲，容量满时丢弃最旧的。
// 与最后一根开盘时间相同的 K 线视为仍在形成，直接替换。
type BarBuffer struct {
	mu   sync.RWMutex
	bars []Candle
	max  int
}

func NewBarBuffer(max int) *BarBuffer {
	if max <= 0 {
		max = 500
	}
	return &BarBuffer{max: max, bars: make([]Candle, 0, max)}
}

// Merge 合并一批 K 线，返回新追加的根数（替换不计）。
func (b *BarBuffer) Merge(candles []Candle) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	added := 0
	for _, c := range candles {
		if !c.Valid() {
			continue
		}
		n := len(b.bars)
		switch {
		case n == 0 || c.OpenTime > b.bars[n-1].OpenTime:
			b.bars = append(b.bars, c)
			added++
		case c.OpenTime == b.bars[n-1].OpenTime:
			b.bars[n-1] = c
		default:
			continue
		}
	}
	if over := len(b.bars) - b.max; over > 0 {
		b.bars = append(b.bars[:0], b.bars[over:]...)
	}
	return added
}

func (b *BarBuffer) Bars() []Candle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Candle, len(b.bars))
	copy(out, b.bars)
	return out
}

func (b *BarBuffer) Last() (Candle, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bars) == 0 {
		return Candle{}, false
	}
	return b.bars[len(b.bars)-1], true
}

func (b *BarBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.bars)
}
