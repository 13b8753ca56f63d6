package strategy

import (
	"fmt"
	"strings"
	"time"

	"github.com/betbot/updown/internal/domain"
	"github.com/betbot/updown/pkg/config"
	"github.com/betbot/updown/pkg/marketspec"
)

// 预设策略：对应原有的几个机器人变体
const (
	PresetFilteredMomentum = "filtered_momentum" // bid 进入区间后买入，止盈 + 止损
	PresetCrossHedge       = "cross_hedge"       // 止损后在另一侧建立对冲
	PresetLimitWindow      = "limit_window"      // 到达时间窗口后两侧各下一单（市价/限价判定）
	PresetDualLimit        = "dual_limit"        // 周期开始即两侧挂限价，单边成交后按对冲价补另一侧
	PresetDualLimit1h      = "dual_limit_1h"
)

// Presets 所有可用预设
func Presets() []string {
	return []string{PresetFilteredMomentum, PresetCrossHedge, PresetLimitWindow, PresetDualLimit, PresetDualLimit1h}
}

// FromConfig 把配置转换为 Policy；preset 只决定结构性参数，价格阈值始终来自配置
func FromConfig(sc config.StrategyConfig, timeframe string) (*Policy, error) {
	tf, err := marketspec.ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}

	p := &Policy{
		Name:             sc.Preset,
		Entry:            EntryPolicy(strings.ToLower(sc.EntryPolicy)),
		DualStyle:        DualEntryStyle(strings.ToLower(sc.DualEntryStyle)),
		Exit:             ExitMode(strings.ToLower(sc.ExitMode)),
		PeriodSeconds:    tf.Seconds(),
		MinElapsed:       time.Duration(sc.MinElapsedMinutes) * time.Minute,
		MinRemaining:     time.Duration(sc.MinTimeRemainingSeconds) * time.Second,
		TriggerPrice:     domain.PriceFromDecimal(sc.TriggerPrice),
		MaxBuyPrice:      domain.PriceFromDecimal(sc.MaxBuyPrice),
		SellPrice:        domain.PriceFromDecimal(sc.SellPrice),
		StopLossPrice:    domain.PriceFromDecimal(sc.StopLossPrice),
		HedgeMargin:      domain.PriceFromDecimal(sc.HedgeMargin),
		OppositeLimit:    domain.PriceFromDecimal(sc.OppositeLimitPrice),
		ReentryOnReset:   sc.ReentryAfterExit,
		DualLimitPrice:   domain.PriceFromDecimal(sc.DualLimitPrice),
		DualLimitShares:  sc.DualLimitShares,
		DualHedgeEnabled: sc.DualLimitHedgeEnabled,
		DualHedgeAfter:   int64(sc.DualLimitHedgeAfterMinutes),
		DualHedgePrice:   domain.PriceFromDecimal(sc.DualLimitHedgePrice),

		DualEarlyHedgeAfter: int64(sc.DualLimitEarlyHedgeMinutes),
		TrendMinStrength:    sc.DualLimitTrendStrength,
		TrendMinSamples:     sc.DualLimitTrendMinSamples,
		TrendHistory:        sc.DualLimitTrendHistorySize,

		FixedTradeAmount: sc.FixedTradeAmount,
		FixedShares:      sc.Shares,
		MaxEntryAttempts: sc.MaxEntryAttempts,
		MaxExitAttempts:  sc.MaxExitAttempts,
	}
	if len(sc.StopLossSides) > 0 {
		p.StopLossSides = make(map[domain.TokenType]bool, len(sc.StopLossSides))
		for _, s := range sc.StopLossSides {
			p.StopLossSides[domain.TokenType(strings.ToLower(s))] = true
		}
	}

	if err := applyPreset(p, sc.Preset); err != nil {
		return nil, err
	}
	if p.Name == "" {
		p.Name = fmt.Sprintf("%s-%s", p.Entry, p.Exit)
	}
	if p.MaxEntryAttempts <= 0 {
		p.MaxEntryAttempts = 1
	}
	if p.MaxExitAttempts <= 0 {
		p.MaxExitAttempts = 1
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("策略 %s 配置无效: %w", p.Name, err)
	}
	return p, nil
}

func applyPreset(p *Policy, preset string) error {
	switch preset {
	case "":
	case PresetFilteredMomentum:
		p.Entry, p.Exit = EntryFiltered, ExitSingle
	case PresetCrossHedge:
		p.Entry, p.Exit = EntryFiltered, ExitHedge
	case PresetLimitWindow:
		p.Entry, p.DualStyle, p.Exit = EntryDual, DualStyleDecide, ExitSingle
		p.DualHedgeEnabled = false
	case PresetDualLimit, PresetDualLimit1h:
		p.Entry, p.DualStyle, p.Exit = EntryDual, DualStyleLimit, ExitHold
		p.MinElapsed = 0
		if preset == PresetDualLimit1h {
			p.PeriodSeconds = marketspec.Timeframe1h.Seconds()
		}
	default:
		return fmt.Errorf("未知的策略预设: %q（可选: %s）", preset, strings.Join(Presets(), ", "))
	}
	return nil
}
