package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ShareEpsilon 份额比较容差（余额轮询得到的是浮点数）
const ShareEpsilon = 1e-6

var (
	ErrIllegalTransition = errors.New("非法状态迁移")
	ErrOverSell          = errors.New("卖出份额超过持仓")
)

// Role 区分同一周期同一标的上并存的相关仓位
type Role string

const (
	RolePrimary       Role = "primary"        // 入场信号产生的主仓位
	RoleOpposite      Role = "opposite"       // 主仓位止损后在另一侧建立的对冲仓位
	RoleOppositeLimit Role = "opposite_limit" // 主仓位成交后预挂在另一侧的限价买单
)

// TrackingKey 交易记录的复合标识 (period, token, role)
type TrackingKey struct {
	Period  int64  `json:"period"`
	AssetID string `json:"asset_id"`
	Role    Role   `json:"role"`
}

func (k TrackingKey) String() string {
	return fmt.Sprintf("%d:%s:%s", k.Period, k.AssetID, k.Role)
}

// ParseTrackingKey 解析 String() 的输出
func ParseTrackingKey(s string) (TrackingKey, error) {
	first := strings.Index(s, ":")
	last := strings.LastIndex(s, ":")
	if first <= 0 || last <= first {
		return TrackingKey{}, fmt.Errorf("无效的 tracking key: %q", s)
	}
	period, err := strconv.ParseInt(s[:first], 10, 64)
	if err != nil {
		return TrackingKey{}, fmt.Errorf("无效的 tracking key 周期 %q: %w", s, err)
	}
	return TrackingKey{Period: period, AssetID: s[first+1 : last], Role: Role(s[last+1:])}, nil
}

// TradeState 交易记录状态
type TradeState string

const (
	StateAwaitingEntry TradeState = "awaiting_entry"
	StateEntryPending  TradeState = "entry_pending"
	StateHedgeWatch    TradeState = "hedge_watch"    // 双边限价：等待撤销未成交的入场单
	StateHedgeReplaced TradeState = "hedge_replaced" // 双边限价：已撤单，按对冲价监控买入
	StateHeld          TradeState = "held"
	StateExitPending   TradeState = "exit_pending"
	StateClosedSold    TradeState = "closed_sold"
	StateClosedStopped TradeState = "closed_stopped"
	StateClosedHedged  TradeState = "closed_hedged"
	StateResolved      TradeState = "resolved" // 持有到周期结算
	StateExpired       TradeState = "expired"  // 入场未成交或被放弃
	StateFrozen        TradeState = "frozen"   // 状态异常，等待人工处理
)

// transitions 允许的迁移（有向无环，终态没有出边）
var transitions = map[TradeState][]TradeState{
	StateAwaitingEntry: {StateEntryPending, StateExpired, StateFrozen},
	StateEntryPending:  {StateHeld, StateHedgeWatch, StateExpired, StateFrozen},
	StateHedgeWatch:    {StateHedgeReplaced, StateHeld, StateExpired, StateFrozen},
	StateHedgeReplaced: {StateHeld, StateExpired, StateFrozen},
	StateHeld:          {StateExitPending, StateResolved, StateFrozen},
	StateExitPending:   {StateClosedSold, StateClosedStopped, StateClosedHedged, StateResolved, StateFrozen},
}

// IsTerminal 终态不可再变更
func (s TradeState) IsTerminal() bool {
	_, ok := transitions[s]
	return !ok
}

// CanTransitionTo 检查迁移是否合法
func (s TradeState) CanTransitionTo(next TradeState) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// IsPreFill 尚未持有份额的状态
func (s TradeState) IsPreFill() bool {
	switch s {
	case StateAwaitingEntry, StateEntryPending, StateHedgeWatch, StateHedgeReplaced:
		return true
	}
	return false
}

// OrderRefs 记录上挂着的订单引用
type OrderRefs struct {
	Entry  string `json:"entry,omitempty"`
	Profit string `json:"profit,omitempty"`
	Stop   string `json:"stop,omitempty"`
	Hedge  string `json:"hedge,omitempty"`
}

// Outstanding 返回所有非空的订单引用
func (o OrderRefs) Outstanding() []string {
	out := make([]string, 0, 4)
	for _, ref := range []string{o.Entry, o.Profit, o.Stop, o.Hedge} {
		if ref != "" {
			out = append(out, ref)
		}
	}
	return out
}

// StateChange 状态迁移历史
type StateChange struct {
	From   TradeState `json:"from"`
	To     TradeState `json:"to"`
	Reason string     `json:"reason,omitempty"`
	At     time.Time  `json:"at"`
}

// TradeRecord 一个 TrackingKey 的完整生命周期记录
type TradeRecord struct {
	Key    TrackingKey `json:"key"`
	Market *Market     `json:"market"`
	Token  TokenType   `json:"token"`
	State  TradeState  `json:"state"`

	EntryStyle      OrderStyle `json:"entry_style,omitempty"`
	EntryPrice      Price      `json:"entry_price"` // 入场目标价
	RequestedShares float64    `json:"requested_shares"`

	Shares       float64         `json:"shares"`      // 入场成交份额
	SoldShares   float64         `json:"sold_shares"` // 已卖出份额
	EntryCost    decimal.Decimal `json:"entry_cost"`
	ExitProceeds decimal.Decimal `json:"exit_proceeds"`

	Orders        OrderRefs    `json:"orders"`
	PendingSide   Side         `json:"pending_side,omitempty"` // 等待成交的订单方向
	PendingStyle  OrderStyle   `json:"pending_style,omitempty"`
	PendingPrice  Price        `json:"pending_price"`
	PendingReason OrderPurpose `json:"pending_purpose,omitempty"`

	ProfitPrice   Price `json:"profit_price"`
	StopPrice     Price `json:"stop_price"`
	StopTriggered bool  `json:"stop_triggered,omitempty"`
	HedgePrice    Price `json:"hedge_price"`    // 双边对冲的重新买入价
	HedgeExit     bool  `json:"hedge_exit"`     // 止盈单是跨 token 的对冲卖单
	ReplaceProfit bool  `json:"replace_profit"` // 旧止盈单撤销确认后按新价格重挂

	FollowUpPlaced   bool `json:"follow_up_placed,omitempty"`
	HoldToResolution bool `json:"hold_to_resolution,omitempty"`
	AwaitReconcile   bool `json:"await_reconcile,omitempty"`
	EntryAttempts    int  `json:"entry_attempts,omitempty"`
	ExitAttempts     int  `json:"exit_attempts,omitempty"`

	Note      string        `json:"note,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	History   []StateChange `json:"history,omitempty"`
}

// NewTradeRecord 创建 AwaitingEntry 状态的记录
func NewTradeRecord(key TrackingKey, market *Market, token TokenType, now time.Time) *TradeRecord {
	return &TradeRecord{
		Key:       key,
		Market:    market,
		Token:     token,
		State:     StateAwaitingEntry,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition 状态迁移，非法迁移返回 ErrIllegalTransition
func (r *TradeRecord) Transition(to TradeState, reason string, now time.Time) error {
	if !r.State.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrIllegalTransition, r.Key, r.State, to)
	}
	r.History = append(r.History, StateChange{From: r.State, To: to, Reason: reason, At: now})
	r.State = to
	r.UpdatedAt = now
	if to.IsTerminal() && reason != "" {
		r.Note = reason
	}
	return nil
}

// AddEntryFill 记录入场成交，累加成本
func (r *TradeRecord) AddEntryFill(size float64, price Price) {
	if size <= 0 {
		return
	}
	r.Shares += size
	r.EntryCost = r.EntryCost.Add(price.Decimal().Mul(decimal.NewFromFloat(size)))
}

// AddExitFill 记录卖出成交；卖出总量不得超过入场份额
func (r *TradeRecord) AddExitFill(size float64, price Price) error {
	if size <= 0 {
		return nil
	}
	if r.SoldShares+size > r.Shares+ShareEpsilon {
		return fmt.Errorf("%w: %s sold=%.6f size=%.6f shares=%.6f", ErrOverSell, r.Key, r.SoldShares, size, r.Shares)
	}
	r.SoldShares += size
	r.ExitProceeds = r.ExitProceeds.Add(price.Decimal().Mul(decimal.NewFromFloat(size)))
	return nil
}

// Sellable 还可以卖出的份额
func (r *TradeRecord) Sellable() float64 {
	left := r.Shares - r.SoldShares
	if left < ShareEpsilon {
		return 0
	}
	return left
}

// AvgEntryPrice 平均入场价格
func (r *TradeRecord) AvgEntryPrice() Price {
	if r.Shares <= 0 {
		return Price{}
	}
	avg, _ := r.EntryCost.Div(decimal.NewFromFloat(r.Shares)).Float64()
	return PriceFromDecimal(avg)
}

// IsLive 非终态
func (r *TradeRecord) IsLive() bool {
	return !r.State.IsTerminal()
}

// ClearPending 清除等待成交的订单信息
func (r *TradeRecord) ClearPending() {
	r.PendingSide = ""
	r.PendingStyle = ""
	r.PendingPrice = Price{}
	r.PendingReason = ""
}
