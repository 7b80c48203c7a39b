package trading

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundDownToStep(t *testing.T) {
	assert.Equal(t, 1.23, RoundDownToStep(1.239, 0.01))
	assert.Equal(t, 0.3, RoundDownToStep(0.3, 0.1))
	assert.Equal(t, 5.0, RoundDownToStep(5.0, 0))
	assert.Equal(t, 0.0, RoundDownToStep(-1, 0.01))
}

func TestContracts(t *testing.T) {
	// 10 USDT * 20x / (50000 * 0.01)
	assert.InDelta(t, 0.4, Contracts(10, 20, 50000, 0.01), 1e-12)
	assert.Equal(t, 0.0, Contracts(10, 20, 0, 0.01))
	assert.InDelta(t, 10.0, RequiredMargin(0.4, 50000, 0.01, 20), 1e-9)
}

func TestCalcCloseAmount(t *testing.T) {
	assert.Equal(t, 0.5, CalcCloseAmount(1, 0.5, 0.01, 0.01))
	assert.Equal(t, 0.01, CalcCloseAmount(0.05, 0.1, 0.01, 0.01))
	assert.Equal(t, 0.015, CalcCloseAmount(0.015, 0.5, 0.01, 0.001))
	assert.Equal(t, 2.0, CalcCloseAmount(2, 1, 0.01, 0.01))
	assert.Equal(t, 0.0, CalcCloseAmount(0, 0.5, 0.01, 0.01))
}
