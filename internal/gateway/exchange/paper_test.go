package exchange

import (
	"context"
	"testing"

	"perpflow/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaperExchangeRoundTrip(t *testing.T) {
	price := 100.0
	ex := NewPaperExchange(1000, 10, 0.0005, 1, func() float64 { return price })
	ctx := context.Background()

	fill, err := ex.PlaceOrder(ctx, OrderRequest{Symbol: "BTCUSDT", Side: SideBuy, Size: 5})
	require.NoError(t, err)
	assert.InDelta(t, 0.25, fill.Fee, 1e-9)

	pos, err := ex.Position(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.True(t, pos.Open())
	assert.Equal(t, types.Long, pos.Side)

	price = 110
	acct, err := ex.Account(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 50, acct.Used, 1e-9)
	assert.InDelta(t, 1000-0.25+50, acct.Total, 1e-9)

	fill, err = ex.PlaceOrder(ctx, OrderRequest{Symbol: "BTCUSDT", Side: SideSell, Size: 5, ReduceOnly: true})
	require.NoError(t, err)
	assert.InDelta(t, 50, fill.RealizedPnL, 1e-9)
	assert.InDelta(t, 0.275, fill.Fee, 1e-9)

	pos, err = ex.Position(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, pos)
	acct, _ = ex.Account(ctx)
	assert.InDelta(t, 1000-0.25+50-0.275, acct.Total, 1e-9)
}

func TestPaperExchangeShortAndPartial(t *testing.T) {
	price := 200.0
	ex := NewPaperExchange(1000, 20, 0, 1, func() float64 { return price })
	ctx := context.Background()

	_, err := ex.PlaceOrder(ctx, OrderRequest{Symbol: "ETHUSDT", Side: SideSell, Size: 4})
	require.NoError(t, err)
	price = 190
	fill, err := ex.PlaceOrder(ctx, OrderRequest{Symbol: "ETHUSDT", Side: SideBuy, Size: 1.5, ReduceOnly: true})
	require.NoError(t, err)
	assert.InDelta(t, 15, fill.RealizedPnL, 1e-9)

	pos, _ := ex.Position(ctx, "ETHUSDT")
	require.NotNil(t, pos)
	assert.InDelta(t, 2.5, pos.Size, 1e-9)
	assert.InDelta(t, 25, pos.UnrealizedPnL, 1e-9)

	// 超量 reduce-only 只平掉现有仓位
	fill, err = ex.PlaceOrder(ctx, OrderRequest{Symbol: "ETHUSDT", Side: SideBuy, Size: 10, ReduceOnly: true})
	require.NoError(t, err)
	assert.InDelta(t, 2.5, fill.Size, 1e-9)
	pos, _ = ex.Position(ctx, "ETHUSDT")
	assert.Nil(t, pos)
}

func TestPaperExchangeRejects(t *testing.T) {
	ex := NewPaperExchange(10, 5, 0, 1, func() float64 { return 100 })
	ctx := context.Background()

	_, err := ex.PlaceOrder(ctx, OrderRequest{Symbol: "BTCUSDT", Side: SideSell, Size: 1, ReduceOnly: true})
	assert.ErrorIs(t, err, ErrReduceOnlyRejected)

	_, err = ex.PlaceOrder(ctx, OrderRequest{Symbol: "BTCUSDT", Side: SideBuy, Size: 1})
	assert.ErrorIs(t, err, ErrInsufficientMargin)

	_, err = ex.PlaceOrder(ctx, OrderRequest{Symbol: "BTCUSDT", Side: "HOLD", Size: 1})
	assert.ErrorIs(t, err, ErrInvalidOrder)

	noPrice := NewPaperExchange(1000, 5, 0, 1, nil)
	_, err = noPrice.PlaceOrder(ctx, OrderRequest{Symbol: "BTCUSDT", Side: SideBuy, Size: 1})
	assert.Error(t, err)
	fill, err := noPrice.PlaceOrder(ctx, OrderRequest{Symbol: "BTCUSDT", Side: SideBuy, Size: 1, ExpectedPrice: 50})
	require.NoError(t, err)
	assert.Equal(t, 50.0, fill.Price)
}
