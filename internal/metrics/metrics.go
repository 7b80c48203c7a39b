// Package metrics 汇总引擎的 prometheus 指标，进程内只注册一次。
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	IntentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perpflow_intents_total",
		Help: "Trade intents produced per tick, by final signal",
	}, []string{"signal"})

	BlockedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perpflow_blocked_total",
		Help: "Entry intents blocked by the risk gate, by block kind",
	}, []string{"kind"})

	ForcedExitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perpflow_forced_exits_total",
		Help: "Reduce-only exits issued by the risk state machine, by exit kind",
	}, []string{"kind"})

	OrdersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perpflow_orders_total",
		Help: "Orders passed through the execution guard, by result",
	}, []string{"result"})

	BreakerActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "perpflow_breaker_active",
		Help: "1 while the trading circuit breaker is latched",
	})

	FlowStale = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "perpflow_flow_stale",
		Help: "1 when the order-flow snapshot used by the last tick was stale",
	})

	StreamReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "perpflow_stream_reconnects_total",
		Help: "Market stream reconnects observed",
	})

	TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "perpflow_tick_duration_seconds",
		Help:    "Decision tick wall time",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	JudgmentFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "perpflow_judgment_fallbacks_total",
		Help: "Judgment calls that ended in the HOLD fallback",
	})
)

var regOnce sync.Once

// Register 幂等注册到默认 registry。
func Register() {
	regOnce.Do(func() {
		prometheus.MustRegister(
			IntentsTotal, BlockedTotal, ForcedExitsTotal, OrdersTotal,
			BreakerActive, FlowStale, StreamReconnects, TickDuration, JudgmentFallbacks,
		)
	})
}

// Handler 暴露 /metrics。
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

func ObserveTick(start, end time.Time) {
	TickDuration.Observe(end.Sub(start).Seconds())
}

func SetBool(g prometheus.Gauge, on bool) {
	if on {
		g.Set(1)
		return
	}
	g.Set(0)
}

// ReconnectTracker 把数据源累计的重连次数转换成计数器增量。
type ReconnectTracker struct {
	mu   sync.Mutex
	seen int
}

func (r *ReconnectTracker) Observe(total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if total > r.seen {
		StreamReconnects.Add(float64(total - r.seen))
	}
	r.seen = total
}
