package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"perpflow/internal/gateway/notifier"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendText(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	d := NewDispatcher(new(MockNotifier), 1, time.Second)
	assert.True(t, d.Notify(notifier.StructuredMessage{Kind: notifier.KindSignal, Title: "first"}))
	assert.False(t, d.Notify(notifier.StructuredMessage{Kind: notifier.KindSignal, Title: "second"}))
	assert.Equal(t, int64(1), d.Dropped())

	var nilDispatcher *Dispatcher
	assert.False(t, nilDispatcher.Notify(notifier.StructuredMessage{Title: "ignored"}))
}

func TestDispatcherRunDelivers(t *testing.T) {
	sender := new(MockNotifier)
	sent := make(chan string, 2)
	sender.On("SendText", mock.Anything, mock.MatchedBy(func(text string) bool {
		return text != ""
	})).Run(func(args mock.Arguments) {
		sent <- args.String(1)
	}).Return(errors.New("telegram down")).Once()
	sender.On("SendText", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		sent <- args.String(1)
	}).Return(nil)

	d := NewDispatcher(sender, 4, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.True(t, d.Notify(notifier.StructuredMessage{Kind: notifier.KindRiskTrip, Title: "BTCUSDT 触发熔断"}))
	require.True(t, d.Notify(notifier.StructuredMessage{Kind: notifier.KindTrailing, Title: "BTCUSDT 追踪止损更新"}))

	for i := 0; i < 2; i++ {
		select {
		case text := <-sent:
			assert.Contains(t, text, "BTCUSDT")
		case <-time.After(time.Second):
			t.Fatal("notification not delivered")
		}
	}
	cancel()
	require.NoError(t, <-done)
	sender.AssertNumberOfCalls(t, "SendText", 2)
}

func TestJudgmentAlertQueuesMessage(t *testing.T) {
	d := NewDispatcher(nil, 2, time.Second)
	alert := JudgmentAlert(d, "BTCUSDT")
	alert(3, "timeout")
	require.Len(t, d.queue, 1)
	msg := <-d.queue
	assert.Equal(t, notifier.KindJudgment, msg.Kind)
	assert.Contains(t, msg.RenderMarkdown(), "连续回退 3 次")
}
