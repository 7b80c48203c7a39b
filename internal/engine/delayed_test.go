package engine

import (
	"testing"
	"time"

	"perpflow/internal/signal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayedQueue(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("push fills id and expiry", func(t *testing.T) {
		q := NewDelayedQueue(time.Minute, 4)
		rec := q.Push(DelayedSignal{Signal: signal.Buy, Confidence: signal.Medium}, base)
		assert.NotEmpty(t, rec.ID)
		assert.Equal(t, base, rec.CreatedAt)
		assert.Equal(t, base.Add(time.Minute), rec.ExpiresAt)
		assert.Equal(t, 1, q.Len())
	})

	t.Run("capacity drops oldest", func(t *testing.T) {
		q := NewDelayedQueue(time.Minute, 2)
		q.Push(DelayedSignal{ID: "a", Signal: signal.Buy}, base)
		q.Push(DelayedSignal{ID: "b", Signal: signal.Sell}, base)
		q.Push(DelayedSignal{ID: "c", Signal: signal.Buy}, base)
		pending := q.Pending()
		require.Len(t, pending, 2)
		assert.Equal(t, "b", pending[0].ID)
		assert.Equal(t, "c", pending[1].ID)
	})

	t.Run("drain expires old records", func(t *testing.T) {
		q := NewDelayedQueue(time.Minute, 4)
		q.Push(DelayedSignal{ID: "old", Signal: signal.Buy}, base)
		q.Push(DelayedSignal{ID: "new", Signal: signal.Buy}, base.Add(50*time.Second))

		confirmed, expired := q.Drain(base.Add(time.Minute), nil)
		assert.Nil(t, confirmed)
		require.Len(t, expired, 1)
		assert.Equal(t, "old", expired[0].ID)
		assert.Equal(t, 1, q.Len())
	})

	t.Run("drain takes first confirmed only", func(t *testing.T) {
		q := NewDelayedQueue(time.Minute, 4)
		q.Push(DelayedSignal{ID: "sell", Signal: signal.Sell}, base)
		q.Push(DelayedSignal{ID: "buy-1", Signal: signal.Buy}, base)
		q.Push(DelayedSignal{ID: "buy-2", Signal: signal.Buy}, base)

		var checked []string
		confirmed, expired := q.Drain(base.Add(time.Second), func(rec DelayedSignal) (bool, string) {
			checked = append(checked, rec.ID)
			return rec.Signal == signal.Buy, "test"
		})
		require.NotNil(t, confirmed)
		assert.Equal(t, "buy-1", confirmed.ID)
		assert.Empty(t, expired)
		assert.Equal(t, []string{"sell", "buy-1"}, checked)

		ids := []string{}
		for _, rec := range q.Pending() {
			ids = append(ids, rec.ID)
		}
		assert.Equal(t, []string{"sell", "buy-2"}, ids)
	})
}
