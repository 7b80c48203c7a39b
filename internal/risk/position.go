package risk

import (
	"errors"
	"fmt"
	"math"

	"perpflow/internal/types"
)

// ErrInvalidPosition 交易所返回的持仓镜像自相矛盾，本 tick 不能基于它做决策。
var ErrInvalidPosition = errors.New("risk: invalid position")

// ValidatePosition nil 或数量为 0 视为空仓；有数量时必须有方向和正的开仓价。
func ValidatePosition(pos *types.Position) error {
	if pos == nil {
		return nil
	}
	switch {
	case math.IsNaN(pos.Size) || pos.Size < 0:
		return fmt.Errorf("%w: size %v", ErrInvalidPosition, pos.Size)
	case pos.Size == 0:
		return nil
	case pos.Side != types.Long && pos.Side != types.Short:
		return fmt.Errorf("%w: side %q", ErrInvalidPosition, pos.Side)
	case math.IsNaN(pos.EntryPrice) || pos.EntryPrice <= 0:
		return fmt.Errorf("%w: size %.4f with entry price %v", ErrInvalidPosition, pos.Size, pos.EntryPrice)
	}
	return nil
}
