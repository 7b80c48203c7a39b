package judgment

import (
	"context"
	"errors"
	"testing"
	"time"

	"perpflow/internal/config"
	"perpflow/internal/gateway/provider"
	"perpflow/internal/signal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) ID() string    { return "mock" }
func (m *MockProvider) Enabled() bool { return true }

func (m *MockProvider) Call(ctx context.Context, payload provider.ChatPayload) (string, error) {
	args := m.Called(ctx, payload)
	return args.String(0), args.Error(1)
}

func testJudgmentConfig() config.JudgmentConfig {
	return config.JudgmentConfig{
		Enabled:                true,
		Mode:                   ModeVeto,
		MaxAttempts:            2,
		RetryDelayMillis:       1000,
		AlertAfter:             3,
		BreakerThreshold:       10,
		BreakerCooldownSeconds: 60,
	}
}

func noSleep(calls *[]time.Duration) Option {
	return WithSleep(func(_ context.Context, d time.Duration) error {
		*calls = append(*calls, d)
		return nil
	})
}

func sampleRequest() Request {
	return Request{
		TraceID: "trace-1",
		Symbol:  "BTCUSDT",
		Price:   100,
		Scored:  signal.Result{Signal: signal.Buy, Score: 72, Confidence: signal.Medium, Rationale: []string{"trend +25"}},
	}
}

func TestServiceJudge(t *testing.T) {
	t.Run("parses fenced json", func(t *testing.T) {
		m := new(MockProvider)
		m.On("Call", mock.Anything, mock.Anything).
			Return("sure:\n```json\n{\"signal\":\"buy\",\"confidence\":85,\"reason\":\"trend intact\"}\n```", nil).Once()
		var slept []time.Duration
		svc, err := NewService(testJudgmentConfig(), m, "", noSleep(&slept))
		require.NoError(t, err)

		v := svc.Judge(context.Background(), sampleRequest())
		assert.Equal(t, signal.Buy, v.Signal)
		assert.Equal(t, signal.High, v.Confidence)
		assert.Equal(t, "trend intact", v.Reason)
		assert.False(t, v.IsFallback)
		assert.Empty(t, slept)
		m.AssertExpectations(t)
	})

	t.Run("retries once then succeeds", func(t *testing.T) {
		m := new(MockProvider)
		m.On("Call", mock.Anything, mock.Anything).Return("", errors.New("status=503")).Once()
		m.On("Call", mock.Anything, mock.Anything).Return(`{'signal': 'SELL', reason: 'weak', confidence: '低',}`, nil).Once()
		var slept []time.Duration
		svc, err := NewService(testJudgmentConfig(), m, "system", noSleep(&slept))
		require.NoError(t, err)

		v := svc.Judge(context.Background(), sampleRequest())
		assert.Equal(t, signal.Sell, v.Signal)
		assert.Equal(t, signal.Low, v.Confidence)
		assert.Equal(t, []time.Duration{time.Second}, slept)
		m.AssertExpectations(t)
	})

	t.Run("falls back to hold after bounded attempts", func(t *testing.T) {
		m := new(MockProvider)
		m.On("Call", mock.Anything, mock.Anything).Return(`{"confidence":"high"}`, nil).Times(2)
		var slept []time.Duration
		svc, err := NewService(testJudgmentConfig(), m, "", noSleep(&slept))
		require.NoError(t, err)

		v := svc.Judge(context.Background(), sampleRequest())
		assert.True(t, v.IsFallback)
		assert.Equal(t, signal.Hold, v.Signal)
		assert.Equal(t, signal.Low, v.Confidence)
		assert.Equal(t, 1, svc.ConsecutiveFallbacks())
		m.AssertExpectations(t)
	})

	t.Run("alerts after consecutive fallbacks", func(t *testing.T) {
		m := new(MockProvider)
		m.On("Call", mock.Anything, mock.Anything).Return("", errors.New("timeout"))
		var alerts []int
		var slept []time.Duration
		svc, err := NewService(testJudgmentConfig(), m, "", noSleep(&slept), WithAlert(func(n int, _ string) {
			alerts = append(alerts, n)
		}))
		require.NoError(t, err)

		for i := 0; i < 4; i++ {
			svc.Judge(context.Background(), sampleRequest())
		}
		assert.Equal(t, []int{3}, alerts)
		assert.Equal(t, 4, svc.ConsecutiveFallbacks())
	})

	t.Run("success resets fallback streak", func(t *testing.T) {
		m := new(MockProvider)
		m.On("Call", mock.Anything, mock.Anything).Return("", errors.New("down")).Times(2)
		m.On("Call", mock.Anything, mock.Anything).Return(`{"signal":"HOLD","reason":"unclear"}`, nil).Once()
		var slept []time.Duration
		svc, err := NewService(testJudgmentConfig(), m, "", noSleep(&slept))
		require.NoError(t, err)

		assert.True(t, svc.Judge(context.Background(), sampleRequest()).IsFallback)
		v := svc.Judge(context.Background(), sampleRequest())
		assert.False(t, v.IsFallback)
		assert.Equal(t, signal.Medium, v.Confidence)
		assert.Zero(t, svc.ConsecutiveFallbacks())
	})

	t.Run("open breaker skips the call", func(t *testing.T) {
		cfg := testJudgmentConfig()
		cfg.BreakerThreshold = 1
		cfg.MaxAttempts = 1
		m := new(MockProvider)
		m.On("Call", mock.Anything, mock.Anything).Return("", errors.New("down")).Once()
		svc, err := NewService(cfg, m, "")
		require.NoError(t, err)

		svc.Judge(context.Background(), sampleRequest())
		v := svc.Judge(context.Background(), sampleRequest())
		assert.True(t, v.IsFallback)
		assert.Contains(t, v.Reason, "breaker")
		m.AssertExpectations(t)
	})
}

func TestParseVerdict(t *testing.T) {
	schema, err := compileVerdictSchema()
	require.NoError(t, err)

	_, err = ParseVerdict("no json here", schema)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = ParseVerdict(`{"signal":"LONG","reason":"x"}`, schema)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = ParseVerdict(`{"signal":"BUY"}`, schema)
	assert.ErrorIs(t, err, ErrMalformed)

	v, err := ParseVerdict(`{"signal":" hold ","reason":"chop","confidence":"0.65"}`, schema)
	require.NoError(t, err)
	assert.Equal(t, signal.Hold, v.Signal)
	assert.Equal(t, signal.Medium, v.Confidence)
}

func TestNormalizeConfidence(t *testing.T) {
	cases := map[string]signal.Confidence{
		`{"c":92}`:       signal.High,
		`{"c":80}`:       signal.High,
		`{"c":61}`:       signal.Medium,
		`{"c":12}`:       signal.Low,
		`{"c":"高"}`:      signal.High,
		`{"c":"m"}`:      signal.Medium,
		`{"c":"弱"}`:      signal.Low,
		`{"c":"unsure"}`: signal.Medium,
		`{}`:             signal.Medium,
	}
	for raw, want := range cases {
		assert.Equal(t, want, NormalizeConfidence(gjson.Get(raw, "c")), raw)
	}
}

func TestCombine(t *testing.T) {
	buy := Verdict{Signal: signal.Buy, Confidence: signal.High}
	hold := Fallback("")
	sell := Verdict{Signal: signal.Sell, Confidence: signal.Medium}
	weakBuy := Verdict{Signal: signal.Buy, Confidence: signal.Low}

	got, _ := Combine(ModeVeto, signal.Buy, buy)
	assert.Equal(t, signal.Buy, got)
	got, why := Combine(ModeVeto, signal.Buy, hold)
	assert.Equal(t, signal.Hold, got)
	assert.Contains(t, why, "vetoed")
	got, _ = Combine(ModeVeto, signal.Buy, sell)
	assert.Equal(t, signal.Hold, got)
	got, _ = Combine(ModeVeto, signal.Buy, weakBuy)
	assert.Equal(t, signal.Buy, got)

	got, _ = Combine(ModeConfirm, signal.Buy, weakBuy)
	assert.Equal(t, signal.Hold, got)
	got, _ = Combine(ModeConfirm, signal.Sell, sell)
	assert.Equal(t, signal.Sell, got)

	got, _ = Combine(ModeOff, signal.Sell, hold)
	assert.Equal(t, signal.Sell, got)
	got, _ = Combine(ModeVeto, signal.Hold, buy)
	assert.Equal(t, signal.Hold, got)
}
