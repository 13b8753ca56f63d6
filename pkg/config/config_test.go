package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFromFileKeepsDefaults(t *testing.T) {
	path := writeFile(t, "bot.yaml", `
poll_interval_ms: 500
strategy:
  preset: dual_limit
  dual_limit_price: 0.40
  stop_loss_sides: [up]
markets:
  - asset: btc
    yes_asset_id: "111"
    no_asset_id: "222"
    timestamp: 1767000000
`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, "dual_limit", cfg.Strategy.Preset)
	assert.Equal(t, 0.40, cfg.Strategy.DualLimitPrice)
	assert.Equal(t, []string{"up"}, cfg.Strategy.StopLossSides)
	// 未出现的字段保留默认值
	assert.Equal(t, 0.90, cfg.Strategy.TriggerPrice)
	assert.Equal(t, 0.85, cfg.Strategy.DualLimitHedgePrice)
	assert.Equal(t, 10, cfg.Strategy.DualLimitHedgeAfterMinutes)
	assert.Equal(t, 5, cfg.Strategy.DualLimitEarlyHedgeMinutes)
	assert.Equal(t, 0.10, cfg.Strategy.HedgeMargin)
	assert.True(t, cfg.DryRun)
	require.Len(t, cfg.Markets, 1)
	assert.NoError(t, cfg.Validate())
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "bot.yaml", "strategy:\n  trigger_price: 0.8\n")
	t.Setenv("UPDOWN_TRIGGER_PRICE", "0.87")
	t.Setenv("UPDOWN_ASSETS", "BTC, eth")
	t.Setenv("UPDOWN_DRY_RUN", "not-a-bool")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 0.87, cfg.Strategy.TriggerPrice)
	assert.Equal(t, []string{"btc", "eth"}, cfg.Assets)
	// 无法解析的环境变量退回原值
	assert.True(t, cfg.DryRun)
}

func TestLoadFromFileJSONAndUnknownExt(t *testing.T) {
	path := writeFile(t, "bot.json", `{"timeframe":"1h","strategy":{"exit_mode":"hedge"}}`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1h", cfg.Timeframe)
	assert.Equal(t, "hedge", cfg.Strategy.ExitMode)

	_, err = LoadFromFile(writeFile(t, "bot.toml", "x = 1"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	bad := Default()
	bad.Timeframe = "5m"
	assert.Error(t, bad.Validate())

	bad = Default()
	bad.Strategy.StopLossSides = []string{"yes"}
	assert.Error(t, bad.Validate())

	bad = Default()
	bad.Markets = []MarketConfig{{Asset: "btc", YesAssetID: "1"}}
	assert.Error(t, bad.Validate())

	bad = Default()
	bad.Strategy.FixedTradeAmount = 0
	assert.Error(t, bad.Validate())
}
