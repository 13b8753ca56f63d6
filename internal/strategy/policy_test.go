package strategy

import (
	"testing"
	"time"

	"github.com/betbot/updown/internal/domain"
	"github.com/betbot/updown/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromConfigDefaults(t *testing.T) {
	cfg := config.Default()
	p, err := FromConfig(cfg.Strategy, cfg.Timeframe)
	require.NoError(t, err)

	assert.Equal(t, EntryFiltered, p.Entry)
	assert.Equal(t, ExitSingle, p.Exit)
	assert.Equal(t, int64(900), p.PeriodSeconds)
	assert.Equal(t, 10*time.Minute, p.MinElapsed)
	assert.Equal(t, 9000, p.TriggerPrice.Pips)
	assert.True(t, p.StopEnabled(domain.TokenTypeUp))
	assert.True(t, p.StopEnabled(domain.TokenTypeDown))
}

func TestPresetDualLimit(t *testing.T) {
	sc := config.Default().Strategy
	sc.Preset = PresetDualLimit1h
	p, err := FromConfig(sc, "15m")
	require.NoError(t, err)

	assert.Equal(t, EntryDual, p.Entry)
	assert.Equal(t, DualStyleLimit, p.DualStyle)
	assert.Equal(t, ExitHold, p.Exit)
	assert.Equal(t, time.Duration(0), p.MinElapsed)
	assert.Equal(t, int64(3600), p.PeriodSeconds)
	// 未设置份额时按 金额/价格
	assert.InDelta(t, 1.0/0.45, p.DualShares(), 1e-9)
}

func TestUnknownPresetRejected(t *testing.T) {
	sc := config.Default().Strategy
	sc.Preset = "martingale"
	_, err := FromConfig(sc, "15m")
	assert.Error(t, err)
}

func TestHedgePrices(t *testing.T) {
	sc := config.Default().Strategy
	sc.Preset = PresetCrossHedge
	sc.StopLossPrice = 0.80
	sc.HedgeMargin = 0.05
	p, err := FromConfig(sc, "15m")
	require.NoError(t, err)

	assert.Equal(t, 2000, p.HedgeEntryPrice().Pips)
	assert.Equal(t, 2500, p.HedgeTakeProfitPrice().Pips)
	assert.Equal(t, 1500, p.HedgeStopPrice().Pips)
}

func TestDefaultHedgeMargin(t *testing.T) {
	sc := config.Default().Strategy
	sc.Preset = PresetCrossHedge
	p, err := FromConfig(sc, "15m")
	require.NoError(t, err)

	// 默认止损 0.85：对冲入场 0.15，止盈 0.25，止损 0.05
	assert.Equal(t, 1000, p.HedgeMargin.Pips)
	assert.Equal(t, 1500, p.HedgeEntryPrice().Pips)
	assert.Equal(t, 2500, p.HedgeTakeProfitPrice().Pips)
	assert.Equal(t, 500, p.HedgeStopPrice().Pips)
}

func TestValidateRejectsBadHedgeMargin(t *testing.T) {
	sc := config.Default().Strategy
	sc.Preset = PresetCrossHedge
	sc.StopLossPrice = 0.80
	sc.HedgeMargin = 0.25
	_, err := FromConfig(sc, "15m")
	assert.Error(t, err)
}

func TestEarlyHedgeDue(t *testing.T) {
	p := &Policy{DualHedgeEnabled: true, DualHedgeAfter: 10, DualEarlyHedgeAfter: 5}
	assert.False(t, p.EarlyHedgeDue(299))
	assert.True(t, p.EarlyHedgeDue(300))
	assert.True(t, p.EarlyHedgeDue(599))
	// 标准对冲时间到了以后由 HedgeDue 接管
	assert.False(t, p.EarlyHedgeDue(600))

	p.DualEarlyHedgeAfter = 0
	assert.False(t, p.EarlyHedgeDue(400))
	p.DualEarlyHedgeAfter = 5
	p.DualHedgeEnabled = false
	assert.False(t, p.EarlyHedgeDue(400))
}

func TestFromConfigEarlyHedge(t *testing.T) {
	sc := config.Default().Strategy
	sc.Preset = PresetDualLimit
	p, err := FromConfig(sc, "15m")
	require.NoError(t, err)
	assert.Equal(t, int64(5), p.DualEarlyHedgeAfter)
	assert.False(t, p.TrendFilter())
	assert.Equal(t, 10, p.TrendMinSamples)
	assert.Equal(t, 60, p.TrendHistory)

	sc.DualLimitTrendStrength = 1.5
	_, err = FromConfig(sc, "15m")
	assert.Error(t, err)
}

func TestHedgeDue(t *testing.T) {
	p := &Policy{DualHedgeEnabled: true, DualHedgeAfter: 10}
	assert.False(t, p.HedgeDue(599))
	assert.True(t, p.HedgeDue(600))
	p.DualHedgeEnabled = false
	assert.False(t, p.HedgeDue(900))
}

func TestStopLossSides(t *testing.T) {
	sc := config.Default().Strategy
	sc.StopLossSides = []string{"up"}
	p, err := FromConfig(sc, "15m")
	require.NoError(t, err)
	assert.True(t, p.StopEnabled(domain.TokenTypeUp))
	assert.False(t, p.StopEnabled(domain.TokenTypeDown))
}
