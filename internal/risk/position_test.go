package risk

import (
	"math"
	"testing"

	"perpflow/internal/types"

	"github.com/stretchr/testify/assert"
)

func TestValidatePosition(t *testing.T) {
	cases := []struct {
		name  string
		pos   *types.Position
		valid bool
	}{
		{"flat nil", nil, true},
		{"flat zero size", &types.Position{Side: types.Long}, true},
		{"open long", longPosition(100, 1), true},
		{"size without entry price", &types.Position{Side: types.Long, Size: 3}, false},
		{"negative size", &types.Position{Side: types.Short, Size: -1, EntryPrice: 100}, false},
		{"missing side", &types.Position{Size: 1, EntryPrice: 100}, false},
		{"nan entry", &types.Position{Side: types.Long, Size: 1, EntryPrice: math.NaN()}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePosition(tc.pos)
			if tc.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidPosition)
		})
	}
}
