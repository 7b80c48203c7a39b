package middlewares

import (
	"context"
	"fmt"
	"time"

	"perpflow/internal/gateway/exchange"
	"perpflow/internal/pipeline"
)

// AccountReader 读取余额与持仓。两者独立：余额失败不影响持仓读取。
type AccountReader struct {
	meta pipeline.MiddlewareMeta
	ex   exchange.Exchange
}

func NewAccountReader(stage int, timeout time.Duration, ex exchange.Exchange) *AccountReader {
	return &AccountReader{
		meta: pipeline.MiddlewareMeta{Name: "account_reader", Stage: stage, Timeout: timeout},
		ex:   ex,
	}
}

func (a *AccountReader) Meta() pipeline.MiddlewareMeta { return a.meta }

func (a *AccountReader) Handle(ctx context.Context, tc *pipeline.TickContext) error {
	if a.ex == nil {
		return fmt.Errorf("exchange unavailable")
	}
	var errs []error
	if acct, err := a.ex.Account(ctx); err != nil {
		errs = append(errs, fmt.Errorf("account: %w", err))
	} else {
		tc.SetAccount(acct)
	}
	if pos, err := a.ex.Position(ctx, tc.Symbol); err != nil {
		errs = append(errs, fmt.Errorf("position: %w", err))
	} else {
		tc.SetPosition(pos)
	}
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return fmt.Errorf("%v; %v", errs[0], errs[1])
	}
}
