// Package strategy 把多个机器人变体的差异收敛为一组有限的策略参数，
// 由同一个 Detector 和同一个状态机消费。
package strategy

import (
	"fmt"
	"time"

	"github.com/betbot/updown/internal/domain"
)

// EntryPolicy 入场门控策略
type EntryPolicy string

const (
	// EntryFiltered 按 bid 区间逐侧过滤入场
	EntryFiltered EntryPolicy = "filtered"
	// EntryDual 时间门打开后两侧无条件各入场一次
	EntryDual EntryPolicy = "dual"
)

// DualEntryStyle 双边入场的下单方式
type DualEntryStyle string

const (
	// DualStyleLimit 两侧都以 dual_limit_price 挂限价买单
	DualStyleLimit DualEntryStyle = "limit"
	// DualStyleDecide 每侧按 ask 与 trigger_price 做市价/限价判定
	DualStyleDecide DualEntryStyle = "decide"
)

// ExitMode 持仓后的退出策略
type ExitMode string

const (
	ExitHold   ExitMode = "hold"   // 持有到结算
	ExitSingle ExitMode = "single" // 止盈限价单 + 止损
	ExitHedge  ExitMode = "hedge"  // 止损后在另一侧建立/了结对冲仓位
)

// Policy 策略参数（价格统一为 pips 精度）
type Policy struct {
	Name string

	Entry          EntryPolicy
	DualStyle      DualEntryStyle
	Exit           ExitMode
	PeriodSeconds  int64
	MinElapsed     time.Duration
	MinRemaining   time.Duration
	TriggerPrice   domain.Price
	MaxBuyPrice    domain.Price
	SellPrice      domain.Price // 0 表示不挂止盈单
	StopLossPrice  domain.Price // 0 表示不止损
	StopLossSides  map[domain.TokenType]bool
	HedgeMargin    domain.Price
	OppositeLimit  domain.Price // 0 表示主仓位成交后不预挂另一侧限价单
	ReentryOnReset bool

	DualLimitPrice   domain.Price
	DualLimitShares  float64
	DualHedgeEnabled bool
	DualHedgeAfter   int64 // 分钟
	DualHedgePrice   domain.Price
	// DualEarlyHedgeAfter 分钟；之后未成交一侧 bid 越过对冲价即提前对冲，0 关闭
	DualEarlyHedgeAfter int64
	// TrendMinStrength 提前对冲要求的上涨强度，0 不做趋势确认
	TrendMinStrength float64
	TrendMinSamples  int
	TrendHistory     int
	FixedTradeAmount float64
	FixedShares      float64
	MaxEntryAttempts int
	MaxExitAttempts  int
}

// Validate 验证策略参数
func (p *Policy) Validate() error {
	inUnit := func(v domain.Price) bool { return v.Pips > 0 && v.Pips <= domain.PriceOne.Pips }
	switch p.Entry {
	case EntryFiltered, EntryDual:
	default:
		return fmt.Errorf("入场策略必须是 filtered 或 dual: %q", p.Entry)
	}
	switch p.Exit {
	case ExitHold, ExitSingle, ExitHedge:
	default:
		return fmt.Errorf("退出策略必须是 hold、single 或 hedge: %q", p.Exit)
	}
	if !inUnit(p.TriggerPrice) {
		return fmt.Errorf("触发价格必须在 0 到 1 之间")
	}
	if p.Entry == EntryFiltered {
		if !inUnit(p.MaxBuyPrice) || p.MaxBuyPrice.LessThan(p.TriggerPrice) {
			return fmt.Errorf("最大买入价必须在触发价与 1 之间")
		}
	}
	if p.Entry == EntryDual {
		if p.DualStyle != DualStyleLimit && p.DualStyle != DualStyleDecide {
			return fmt.Errorf("双边入场方式必须是 limit 或 decide: %q", p.DualStyle)
		}
		if p.DualStyle == DualStyleLimit && !inUnit(p.DualLimitPrice) {
			return fmt.Errorf("双边限价必须在 0 到 1 之间")
		}
		if p.DualHedgeEnabled && !inUnit(p.DualHedgePrice) {
			return fmt.Errorf("双边对冲价格必须在 0 到 1 之间")
		}
		if p.DualHedgeAfter < 0 || p.DualEarlyHedgeAfter < 0 {
			return fmt.Errorf("对冲等待分钟数不能为负数")
		}
		if p.TrendMinStrength < 0 || p.TrendMinStrength > 1 {
			return fmt.Errorf("趋势强度阈值必须在 0 到 1 之间")
		}
	}
	if p.SellPrice.Pips < 0 || p.SellPrice.Pips > domain.PriceOne.Pips {
		return fmt.Errorf("止盈价格必须在 0 到 1 之间")
	}
	if p.StopLossPrice.Pips < 0 || p.StopLossPrice.Pips >= domain.PriceOne.Pips {
		return fmt.Errorf("止损价格必须在 0 到 1 之间")
	}
	if p.Exit == ExitHedge {
		if p.StopLossPrice.IsZero() {
			return fmt.Errorf("对冲退出模式需要设置止损价格")
		}
		if p.HedgeMargin.Pips < 0 || p.HedgeMargin.Pips >= p.StopLossPrice.Complement().Pips {
			return fmt.Errorf("对冲边际必须小于 1 - 止损价格")
		}
	}
	if p.FixedShares <= 0 && p.FixedTradeAmount <= 0 {
		return fmt.Errorf("交易金额或份额至少设置一个")
	}
	if p.PeriodSeconds <= 0 {
		return fmt.Errorf("周期时长必须大于 0")
	}
	return nil
}

// SharesAt 以 price 买入时的份额：优先固定份额，否则 金额/价格
func (p *Policy) SharesAt(price domain.Price) float64 {
	if p.FixedShares > 0 {
		return p.FixedShares
	}
	if price.Pips <= 0 {
		return 0
	}
	return p.FixedTradeAmount / price.ToDecimal()
}

// DualShares 双边入场每侧的份额
func (p *Policy) DualShares() float64 {
	if p.DualLimitShares > 0 {
		return p.DualLimitShares
	}
	return p.SharesAt(p.DualEntryPrice())
}

// DualEntryPrice 双边入场挂单价格（未设置时退回触发价）
func (p *Policy) DualEntryPrice() domain.Price {
	if !p.DualLimitPrice.IsZero() {
		return p.DualLimitPrice
	}
	return p.TriggerPrice
}

// StopEnabled 该侧是否启用止损
func (p *Policy) StopEnabled(token domain.TokenType) bool {
	if p.StopLossPrice.IsZero() {
		return false
	}
	if len(p.StopLossSides) == 0 {
		return true
	}
	return p.StopLossSides[token]
}

// HedgeDue 双边对冲时间是否已到
func (p *Policy) HedgeDue(elapsedSeconds int64) bool {
	return p.DualHedgeEnabled && domain.ElapsedMinutes(elapsedSeconds) >= p.DualHedgeAfter
}

// EarlyHedgeDue 提前对冲窗口是否已打开（标准对冲时间之前）
func (p *Policy) EarlyHedgeDue(elapsedSeconds int64) bool {
	if !p.DualHedgeEnabled || p.DualEarlyHedgeAfter <= 0 {
		return false
	}
	m := domain.ElapsedMinutes(elapsedSeconds)
	return m >= p.DualEarlyHedgeAfter && m < p.DualHedgeAfter
}

// TrendFilter 提前对冲是否需要趋势确认
func (p *Policy) TrendFilter() bool {
	return p.TrendMinStrength > 0
}

// HedgeEntryPrice 止损后另一侧的买入价 (1 - SL)
func (p *Policy) HedgeEntryPrice() domain.Price {
	return p.StopLossPrice.Complement()
}

// HedgeTakeProfitPrice 对冲仓位的止盈价 (1 - SL) + margin
func (p *Policy) HedgeTakeProfitPrice() domain.Price {
	return p.StopLossPrice.Complement().Add(p.HedgeMargin)
}

// HedgeStopPrice 对冲仓位自身的止损价 (1 - SL) - margin
func (p *Policy) HedgeStopPrice() domain.Price {
	return p.StopLossPrice.Complement().Subtract(p.HedgeMargin)
}
