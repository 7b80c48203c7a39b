package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "trading:\n  symbol: ethusdt\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ETHUSDT", cfg.Trading.Symbol)
	assert.Equal(t, "15m", cfg.Trading.Timeframe)
	assert.Equal(t, 20, cfg.Trading.Leverage)
	assert.Equal(t, 1000, cfg.OrderFlow.Capacity)
	assert.Equal(t, 12, cfg.Regime.History)
	assert.Equal(t, DefaultWeights(), cfg.Scoring.Weights)
	assert.InDelta(t, 2.5, cfg.Risk.TrailingStop.ATRMultiplier, 1e-9)
	assert.True(t, cfg.Risk.TrailingStop.CloseAllOnHit)
	assert.True(t, cfg.Risk.StructuralExit.RequireConflict)
	assert.Equal(t, 6, cfg.Risk.Frequency.MaxPerHour)
	assert.Equal(t, 3, cfg.Risk.Breaker.MaxConsecutiveLosses)
	assert.True(t, cfg.Sizing.BlockOnFeeWarning)
	assert.Equal(t, "veto", cfg.Judgment.Mode)
}

func TestLoadKeepsExplicitFalse(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
risk:
  trailing_stop:
    close_all_on_hit: false
  frequency:
    enabled: false
sizing:
  block_on_fee_warning: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Risk.TrailingStop.CloseAllOnHit)
	assert.False(t, cfg.Risk.Frequency.Enabled)
	assert.False(t, cfg.Sizing.BlockOnFeeWarning)
	assert.True(t, cfg.Risk.Anomaly.Enabled)
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "trading:\n  leverage: 10\n  symbol: SOLUSDT\n")
	path := writeFile(t, dir, "config.yaml", "include:\n  - base.yaml\ntrading:\n  leverage: 5\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Trading.Leverage)
	assert.Equal(t, "SOLUSDT", cfg.Trading.Symbol)
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]string{
		"include cycle":   "include:\n  - config.yaml\n",
		"bad mode":        "trading:\n  mode: margin\n",
		"bad timeframe":   "trading:\n  timeframe: 15x\n",
		"inverted ci":     "regime:\n  choppiness_low: 70\n",
		"judgment no key": "judgment:\n  enabled: true\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeFile(t, dir, "config.yaml", body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadExpandsSecrets(t *testing.T) {
	t.Setenv("PERPFLOW_TEST_TOKEN", "tok-123")
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
notify:
  telegram:
    enabled: true
    bot_token: ${PERPFLOW_TEST_TOKEN}
    chat_id: "42"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", cfg.Notify.Telegram.BotToken)
}

func TestTierValuesFor(t *testing.T) {
	tv := TierValues{Low: 1, Medium: 2, High: 3}
	assert.Equal(t, 3.0, tv.For("high"))
	assert.Equal(t, 2.0, tv.For(" MEDIUM "))
	assert.Equal(t, 0.0, tv.For("unknown"))
}
