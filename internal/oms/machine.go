// Package oms 交易记录状态机：按 TrackingKey 管理入场、止盈、止损与对冲的完整生命周期。
//
// 状态机只由调度循环驱动（单写者）。一次 Tick 内的网关调用通过 execution.Dispatcher
// 并发发出，结果按顺序同步应用。
package oms

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/updown/internal/domain"
	"github.com/betbot/updown/internal/execution"
	"github.com/betbot/updown/internal/metrics"
	"github.com/betbot/updown/internal/ports"
	"github.com/betbot/updown/internal/strategy"
)

var log = logrus.WithField("component", "oms")

var (
	// ErrKeyLive 该 TrackingKey 已有未结束的记录
	ErrKeyLive = errors.New("tracking key 已有活跃记录")
	// ErrTokenVoiding 该 token 上仍有过期订单在撤销中
	ErrTokenVoiding = errors.New("token 上有待撤销的过期订单")
	// ErrUnknownMarket intent 缺少市场信息
	ErrUnknownMarket = errors.New("未知市场")
)

// maxRounds 每个 tick 最多的 规划 -> 撤单 -> 下单 轮数
const maxRounds = 3

// EntryGate 入场闸门（风控断路器）
type EntryGate interface {
	AllowEntry() error
	Record(err error, rejected bool)
}

// Options 状态机可选参数
type Options struct {
	Gate  EntryGate
	Now   func() time.Time
	NewID func() string
}

// Machine 交易状态机
type Machine struct {
	mu sync.RWMutex

	policy *strategy.Policy
	disp   *execution.Dispatcher
	fills  ports.FillSource
	gate   EntryGate
	now    func() time.Time
	newID  func() string

	records map[domain.TrackingKey]*domain.TradeRecord
	closed  map[int64][]*domain.TradeRecord
	ledgers map[string]*Ledger
	refs    map[string]domain.TrackingKey
	voids   map[string]VoidOrder
	trends  map[string]*assetTrend
}

// assetTrend 当前周期内某个 token 的 bid 走势，只在提前对冲需要趋势确认时采样
type assetTrend struct {
	period int64
	*strategy.TrendTracker
}

// Ledger 单个 token 的余额账本：Expected = Baseline + 已记录的净成交
type Ledger struct {
	AssetID     string  `json:"asset_id"`
	Period      int64   `json:"period"`
	Baseline    float64 `json:"baseline"`
	Expected    float64 `json:"expected"`
	HasBaseline bool    `json:"has_baseline"`
}

// VoidOrder 已失效但尚未确认撤销的订单
type VoidOrder struct {
	Ref     string             `json:"ref"`
	AssetID string             `json:"asset_id"`
	Key     domain.TrackingKey `json:"key"`
}

// TickReport 一次 Tick 的结果
type TickReport struct {
	Fills     int
	Placed    int
	Cancelled int
	Rejected  int
	Anomalies int
	// Exited 本 tick 通过卖出离场的记录（调度器据此决定是否重新开放入场）
	Exited []domain.TrackingKey
	// Closed 本 tick 进入终态的记录
	Closed []*domain.TradeRecord
}

// New 创建状态机；若网关实现了 ports.FillSource，成交回报优先于余额轮询
func New(policy *strategy.Policy, disp *execution.Dispatcher, opts Options) *Machine {
	m := &Machine{
		policy:  policy,
		disp:    disp,
		gate:    opts.Gate,
		now:     opts.Now,
		newID:   opts.NewID,
		records: make(map[domain.TrackingKey]*domain.TradeRecord),
		closed:  make(map[int64][]*domain.TradeRecord),
		ledgers: make(map[string]*Ledger),
		refs:    make(map[string]domain.TrackingKey),
		voids:   make(map[string]VoidOrder),
		trends:  make(map[string]*assetTrend),
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	if fs, ok := disp.Gateway().(ports.FillSource); ok {
		m.fills = fs
	}
	return m
}

// Accept 接收 Detector 产生的入场意图，创建 AwaitingEntry 记录
func (m *Machine) Accept(intent domain.OrderIntent, market *domain.Market) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if market == nil {
		return fmt.Errorf("%w: %s", ErrUnknownMarket, intent.Key)
	}
	if _, ok := m.records[intent.Key]; ok {
		return fmt.Errorf("%w: %s", ErrKeyLive, intent.Key)
	}
	if m.voidingLocked(intent.AssetID) {
		return fmt.Errorf("%w: %s", ErrTokenVoiding, intent.AssetID)
	}
	m.createLocked(intent.Key, market, intent.Token, intent.Style, intent.Price, intent.Size)
	log.Infof("📥 接收入场意图 %s", intent)
	metrics.EntryIntents.WithLabelValues(string(intent.Style)).Inc()
	return nil
}

func (m *Machine) createLocked(key domain.TrackingKey, market *domain.Market, token domain.TokenType, style domain.OrderStyle, price domain.Price, shares float64) *domain.TradeRecord {
	r := domain.NewTradeRecord(key, market, token, m.now())
	r.EntryStyle = style
	r.EntryPrice = price
	r.RequestedShares = shares
	m.records[key] = r
	// 两侧都建账本：止损后的对冲买单需要另一侧的基线余额
	m.ledgerLocked(market.YesAssetID, key.Period)
	m.ledgerLocked(market.NoAssetID, key.Period)
	metrics.LiveRecords.Set(float64(len(m.records)))
	return r
}

func (m *Machine) ledgerLocked(assetID string, period int64) *Ledger {
	l, ok := m.ledgers[assetID]
	if !ok {
		l = &Ledger{AssetID: assetID, Period: period}
		m.ledgers[assetID] = l
	}
	return l
}

func (m *Machine) voidingLocked(assetID string) bool {
	for _, v := range m.voids {
		if v.AssetID == assetID {
			return true
		}
	}
	return false
}

// Tick 一次完整的处理：成交回报 -> 余额对账 -> 最多三轮 规划/撤单/下单
func (m *Machine) Tick(ctx context.Context, snap *domain.Snapshot) TickReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rep TickReport
	m.drainFillsLocked(&rep)
	reconciled := m.reconcileLocked(ctx, &rep)
	for _, r := range m.records {
		if r.AwaitReconcile && reconciled[r.Key.AssetID] {
			r.AwaitReconcile = false
		}
	}

	m.trackTrendsLocked(snap)

	tried := make(map[string]bool)
	for round := 0; round < maxRounds; round++ {
		if ctx.Err() != nil {
			break
		}
		cancels, places := m.planLocked(snap, tried, &rep)
		if len(cancels) == 0 && len(places) == 0 {
			break
		}
		if len(cancels) > 0 {
			reqs := make([]execution.CancelRequest, len(cancels))
			for i, c := range cancels {
				reqs[i] = c.req
			}
			results := m.disp.CancelAll(ctx, reqs)
			for i, res := range results {
				if res.Err != nil && !errors.Is(res.Err, ports.ErrOrderNotFound) {
					tried["cancel:"+res.Request.OrderRef] = true
				}
				m.applyCancelLocked(cancels[i], res.Err, &rep)
			}
		}
		if len(places) > 0 {
			results := m.disp.PlaceAll(ctx, places)
			for _, res := range results {
				// 失败（含拒单）的 key 本 tick 不再重试
				if res.Err != nil || (res.Intent.Style == domain.OrderStyleMarket && !res.Ack.Filled) {
					tried["place:"+res.Intent.Key.String()] = true
				}
				m.applyPlaceLocked(res, &rep)
			}
		}
	}
	metrics.LiveRecords.Set(float64(len(m.records)))
	return rep
}

// Record 返回记录副本
func (m *Machine) Record(key domain.TrackingKey) (domain.TradeRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.records[key]; ok {
		return *cloneRecord(r), true
	}
	for _, r := range m.closed[key.Period] {
		if r.Key == key {
			return *cloneRecord(r), true
		}
	}
	return domain.TradeRecord{}, false
}

// Live 返回全部活跃记录的副本（按 key 排序）
func (m *Machine) Live() []domain.TradeRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.TradeRecord, 0, len(m.records))
	for _, r := range m.sortedLiveLocked() {
		out = append(out, *cloneRecord(r))
	}
	return out
}

// Closed 返回某个周期内已进入终态、尚未归档的记录副本
func (m *Machine) Closed(period int64) []domain.TradeRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.TradeRecord, 0, len(m.closed[period]))
	for _, r := range m.closed[period] {
		out = append(out, *cloneRecord(r))
	}
	return out
}

// HasPeriod 周期内是否还有记录（活跃或待归档）
func (m *Machine) HasPeriod(period int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.closed[period]) > 0 {
		return true
	}
	for k := range m.records {
		if k.Period == period {
			return true
		}
	}
	return false
}

func (m *Machine) sortedLiveLocked() []*domain.TradeRecord {
	out := make([]*domain.TradeRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// transitionLocked 迁移失败即冻结
func (m *Machine) transitionLocked(r *domain.TradeRecord, to domain.TradeState, reason string, rep *TickReport) bool {
	from := r.State
	if err := r.Transition(to, reason, m.now()); err != nil {
		log.Errorf("❌ %v", err)
		m.freezeLocked([]*domain.TradeRecord{r}, "illegal_transition", err.Error(), rep)
		return false
	}
	metrics.Transitions.WithLabelValues(string(to)).Inc()
	log.Debugf("%s: %s -> %s (%s)", r.Key, from, to, reason)
	if to.IsTerminal() {
		m.archiveLocked(r, rep)
	}
	return true
}

// archiveLocked 终态记录移出活跃表（释放 key），剩余挂单转为待撤销
func (m *Machine) archiveLocked(r *domain.TradeRecord, rep *TickReport) {
	for _, ref := range r.Orders.Outstanding() {
		delete(m.refs, ref)
		m.voids[ref] = VoidOrder{Ref: ref, AssetID: r.Key.AssetID, Key: r.Key}
		log.Infof("🧹 %s 进入 %s，挂单 %s 作废待撤销", r.Key, r.State, ref)
	}
	r.Orders = domain.OrderRefs{}
	r.ClearPending()
	delete(m.records, r.Key)
	m.closed[r.Key.Period] = append(m.closed[r.Key.Period], r)
	if rep != nil {
		rep.Closed = append(rep.Closed, r)
		switch r.State {
		case domain.StateClosedSold, domain.StateClosedStopped, domain.StateClosedHedged:
			rep.Exited = append(rep.Exited, r.Key)
		}
	}
}

// freezeLocked 状态不一致：冻结记录等待人工处理
func (m *Machine) freezeLocked(recs []*domain.TradeRecord, kind, reason string, rep *TickReport) {
	for _, r := range recs {
		if r.State.IsTerminal() {
			continue
		}
		log.Errorf("🧊 冻结 %s (state=%s): %s", r.Key, r.State, reason)
		metrics.Anomalies.WithLabelValues(kind).Inc()
		if rep != nil {
			rep.Anomalies++
		}
		if err := r.Transition(domain.StateFrozen, reason, m.now()); err != nil {
			log.Errorf("❌ 冻结失败 %s: %v", r.Key, err)
			continue
		}
		metrics.Transitions.WithLabelValues(string(domain.StateFrozen)).Inc()
		m.archiveLocked(r, rep)
	}
}

func (m *Machine) liveOnAssetLocked(period int64, assetID string) []*domain.TradeRecord {
	var out []*domain.TradeRecord
	for _, r := range m.sortedLiveLocked() {
		if r.Key.AssetID == assetID && r.Key.Period == period {
			out = append(out, r)
		}
	}
	return out
}
