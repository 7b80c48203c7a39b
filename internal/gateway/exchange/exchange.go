// Package exchange defines the account and order abstraction the engine trades through.
package exchange

import (
	"context"
	"errors"
	"time"

	"perpflow/internal/types"
)

var (
	ErrInsufficientMargin = errors.New("exchange: insufficient margin")
	ErrReduceOnlyRejected = errors.New("exchange: reduce-only order would open a position")
	ErrInvalidOrder       = errors.New("exchange: invalid order")
)

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderRequest is a market order. Size is in contracts.
type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Size          float64
	ReduceOnly    bool
	ExpectedPrice float64 // price the decision was made at, used for slippage checks
	ClientID      string
	Reason        string
}

// Fill describes the executed order.
type Fill struct {
	OrderID     string    `json:"order_id"`
	Symbol      string    `json:"symbol"`
	Side        OrderSide `json:"side"`
	Size        float64   `json:"size"`
	Price       float64   `json:"price"`
	Fee         float64   `json:"fee"`
	RealizedPnL float64   `json:"realized_pnl"`
	ReduceOnly  bool      `json:"reduce_only"`
	At          time.Time `json:"at"`
}

// Exchange is implemented by the live binance futures client and the paper account.
// PlaceOrder is not idempotent: callers must not retry it blindly.
type Exchange interface {
	Name() string

	Account(ctx context.Context) (types.AccountSnapshot, error)

	// Position returns nil when there is no open position for symbol.
	Position(ctx context.Context, symbol string) (*types.Position, error)

	PlaceOrder(ctx context.Context, req OrderRequest) (Fill, error)
}

// SideFor maps a position direction to the order side that opens it.
func SideFor(side types.PositionSide) OrderSide {
	if side == types.Short {
		return SideSell
	}
	return SideBuy
}

// CloseSide is the order side that reduces a position.
func CloseSide(side types.PositionSide) OrderSide {
	return SideFor(side.Opposite())
}

func (r OrderRequest) Validate() error {
	if r.Symbol == "" || r.Size <= 0 {
		return ErrInvalidOrder
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return ErrInvalidOrder
	}
	return nil
}
