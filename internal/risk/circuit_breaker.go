package risk

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// ErrCircuitBreakerOpen 断路器已打开，暂停新的入场
var ErrCircuitBreakerOpen = errors.New("circuit breaker open")

// CircuitBreakerConfig 断路器配置。
// 约定：阈值 <= 0 表示关闭对应限制。
type CircuitBreakerConfig struct {
	// MaxConsecutiveErrors 连续网关错误上限
	MaxConsecutiveErrors int64

	// DailyLossLimit 当日最大亏损（USDC），达到后停止入场
	DailyLossLimit decimal.Decimal
}

// CircuitBreaker 只拦截入场；止盈、止损、对冲和撤单永远放行。
type CircuitBreaker struct {
	halted atomic.Bool

	consecutiveErrors atomic.Int64
	dailyPnlCents     atomic.Int64
	dayKey            atomic.Int64 // YYYYMMDD

	maxConsecutiveErrors atomic.Int64
	dailyLossLimitCents  atomic.Int64

	now func() time.Time
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{now: time.Now}
	cb.SetConfig(cfg)
	return cb
}

func (cb *CircuitBreaker) SetConfig(cfg CircuitBreakerConfig) {
	if cb == nil {
		return
	}
	cb.maxConsecutiveErrors.Store(cfg.MaxConsecutiveErrors)
	cb.dailyLossLimitCents.Store(cfg.DailyLossLimit.Shift(2).Round(0).IntPart())
}

// Halt 手动熔断
func (cb *CircuitBreaker) Halt() {
	if cb == nil {
		return
	}
	cb.halted.Store(true)
}

// Resume 手动恢复（同时清空连续错误计数）
func (cb *CircuitBreaker) Resume() {
	if cb == nil {
		return
	}
	cb.halted.Store(false)
	cb.consecutiveErrors.Store(0)
}

// Halted 是否处于熔断状态
func (cb *CircuitBreaker) Halted() bool {
	return cb != nil && cb.halted.Load()
}

// AllowEntry 是否允许新的入场
func (cb *CircuitBreaker) AllowEntry() error {
	if cb == nil {
		return nil
	}
	if cb.halted.Load() {
		return ErrCircuitBreakerOpen
	}

	maxErr := cb.maxConsecutiveErrors.Load()
	if maxErr > 0 && cb.consecutiveErrors.Load() >= maxErr {
		cb.halted.Store(true)
		return ErrCircuitBreakerOpen
	}

	limit := cb.dailyLossLimitCents.Load()
	if limit > 0 {
		cb.rollDayIfNeeded()
		if cb.dailyPnlCents.Load() <= -limit {
			cb.halted.Store(true)
			return ErrCircuitBreakerOpen
		}
	}
	return nil
}

// Record 记录一次网关调用结果；拒单不算连续错误（那是订单本身的问题）
func (cb *CircuitBreaker) Record(err error, rejected bool) {
	if cb == nil {
		return
	}
	switch {
	case err == nil:
		cb.consecutiveErrors.Store(0)
	case rejected:
	default:
		cb.consecutiveErrors.Add(1)
	}
}

// AddPnL 周期结算后累计当日盈亏
func (cb *CircuitBreaker) AddPnL(pnl decimal.Decimal) {
	if cb == nil {
		return
	}
	cb.rollDayIfNeeded()
	cb.dailyPnlCents.Add(pnl.Shift(2).Round(0).IntPart())
}

func (cb *CircuitBreaker) rollDayIfNeeded() {
	now := cb.now()
	key := int64(now.Year()*10000 + int(now.Month())*100 + now.Day())
	prev := cb.dayKey.Load()
	if prev == key {
		return
	}
	// 切换成功者负责清零当日 PnL
	if cb.dayKey.CompareAndSwap(prev, key) {
		cb.dailyPnlCents.Store(0)
	}
}
