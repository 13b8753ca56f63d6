package oms

import (
	"errors"
	"fmt"
	"sort"

	"github.com/betbot/updown/internal/domain"
	"github.com/betbot/updown/internal/execution"
	"github.com/betbot/updown/internal/ports"
	"github.com/betbot/updown/internal/strategy"
)

type cancelKind int

const (
	cancelVoid           cancelKind = iota // 作废订单
	cancelEntryRemainder                   // 部分成交后的入场单剩余部分
	cancelHedgeWatch                       // 双边对冲：撤销未成交的入场单
	cancelProfitForStop                    // 止损触发：先撤止盈单
	cancelProfitReplace                    // 对冲止盈：旧止盈单换价
)

type cancelOp struct {
	req  execution.CancelRequest
	kind cancelKind
}

// planLocked 根据当前快照规划本轮的撤单和下单
func (m *Machine) planLocked(snap *domain.Snapshot, tried map[string]bool, rep *TickReport) ([]cancelOp, []domain.OrderIntent) {
	var (
		cancels []cancelOp
		places  []domain.OrderIntent
	)
	addCancel := func(key domain.TrackingKey, ref string, kind cancelKind) {
		if ref == "" || tried["cancel:"+ref] {
			return
		}
		cancels = append(cancels, cancelOp{req: execution.CancelRequest{Key: key, OrderRef: ref}, kind: kind})
	}
	addPlace := func(intent domain.OrderIntent) {
		if tried["place:"+intent.Key.String()] || intent.Size <= domain.ShareEpsilon {
			return
		}
		places = append(places, intent)
	}

	m.hedgeAfterStopLocked()

	for _, r := range m.sortedLiveLocked() {
		if r.AwaitReconcile {
			continue
		}
		q, hasQ := snap.Quote(r.Key.AssetID)

		switch r.State {
		case domain.StateAwaitingEntry:
			if m.entryBlockedLocked(r) {
				continue
			}
			addPlace(m.entryIntent(r))

		case domain.StateEntryPending:
			if r.Orders.Entry == "" {
				continue
			}
			reason, due := m.dualHedgeDueLocked(r, snap)
			if !due {
				continue
			}
			if m.transitionLocked(r, domain.StateHedgeWatch, reason, rep) {
				log.Infof("🛡️ %s %s", r.Key, reason)
				addCancel(r.Key, r.Orders.Entry, cancelHedgeWatch)
			}

		case domain.StateHedgeWatch:
			if r.Orders.Entry != "" {
				addCancel(r.Key, r.Orders.Entry, cancelHedgeWatch)
				continue
			}
			m.replaceForHedgeLocked(r, rep)

		case domain.StateHedgeReplaced:
			if r.Orders.Hedge != "" || !hasQ || !q.HasAsk || q.Ask.LessThan(r.HedgePrice) {
				continue
			}
			log.Infof("🛡️ %s ask=%s 达到对冲价 %s，买入", r.Key, q.Ask, r.HedgePrice)
			addPlace(m.intent(r, domain.SideBuy, domain.OrderStyleMarket, r.HedgePrice, r.RequestedShares-r.Shares, domain.PurposeHedgeBuy))

		case domain.StateHeld, domain.StateExitPending:
			m.planExitLocked(r, q, hasQ, addCancel, addPlace, rep)
		}
	}

	voids := make([]VoidOrder, 0, len(m.voids))
	for _, v := range m.voids {
		voids = append(voids, v)
	}
	sort.Slice(voids, func(i, j int) bool { return voids[i].Ref < voids[j].Ref })
	for _, v := range voids {
		addCancel(v.Key, v.Ref, cancelVoid)
	}
	return cancels, places
}

func (m *Machine) planExitLocked(
	r *domain.TradeRecord,
	q domain.TokenQuote,
	hasQ bool,
	addCancel func(domain.TrackingKey, string, cancelKind),
	addPlace func(domain.OrderIntent),
	rep *TickReport,
) {
	if r.Orders.Entry != "" {
		addCancel(r.Key, r.Orders.Entry, cancelEntryRemainder)
		return
	}
	if r.PendingSide == domain.SideBuy {
		r.ClearPending()
	}
	if r.HoldToResolution || r.Sellable() <= 0 {
		return
	}

	if !r.StopPrice.IsZero() && !r.StopTriggered && hasQ {
		if wp, ok := q.WatchPrice(); ok && wp.LessThanOrEqual(r.StopPrice) {
			r.StopTriggered = true
			log.Warnf("🛑 %s 价格 %s 跌到止损价 %s", r.Key, wp, r.StopPrice)
		}
	}
	if r.StopTriggered {
		if r.Orders.Profit != "" {
			addCancel(r.Key, r.Orders.Profit, cancelProfitForStop)
			return
		}
		if r.Orders.Stop != "" {
			return
		}
		price := r.StopPrice
		if bid, ok := q.SellPrice(); hasQ && ok {
			price = bid
		}
		addPlace(m.intent(r, domain.SideSell, domain.OrderStyleMarket, price, r.Sellable(), domain.PurposeStop))
		return
	}

	if r.ReplaceProfit {
		if r.Orders.Profit != "" {
			addCancel(r.Key, r.Orders.Profit, cancelProfitReplace)
			return
		}
		r.ReplaceProfit = false
	}
	if !r.ProfitPrice.IsZero() && r.Orders.Profit == "" {
		purpose := domain.PurposeProfit
		if r.HedgeExit {
			purpose = domain.PurposeHedgeSell
		}
		addPlace(m.intent(r, domain.SideSell, domain.OrderStyleLimit, r.ProfitPrice, r.Sellable(), purpose))
		return
	}
	if r.State == domain.StateHeld && !r.StopPrice.IsZero() {
		m.transitionLocked(r, domain.StateExitPending, fmt.Sprintf("止损 %s 已挂载", r.StopPrice), rep)
	}
}

// hedgeAfterStopLocked 主仓位止损后的跨 token 对冲
//
// 另一侧已有持仓：止盈单换成 (1-SL)+margin 的对冲卖单；
// 另一侧没有记录：以 (1-SL) 挂限价买单建立对冲仓位，份额与主仓位一致；
// 另一侧还有未成交的记录：等待。
func (m *Machine) hedgeAfterStopLocked() {
	if m.policy.Exit != strategy.ExitHedge {
		return
	}
	periods := make([]int64, 0, len(m.closed))
	for p := range m.closed {
		periods = append(periods, p)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i] < periods[j] })

	for _, period := range periods {
		for _, r := range m.closed[period] {
			if r.Key.Role != domain.RolePrimary || r.State != domain.StateClosedStopped || r.FollowUpPlaced || r.Market == nil {
				continue
			}
			opp := r.Market.OppositeAssetID(r.Key.AssetID)
			oppLive := m.liveOnAssetLocked(period, opp)
			pending := false
			for _, o := range oppLive {
				if o.State.IsPreFill() {
					pending = true
				}
			}
			if pending {
				continue
			}

			if len(oppLive) > 0 {
				tp := m.policy.HedgeTakeProfitPrice()
				for _, o := range oppLive {
					if o.HoldToResolution || o.StopTriggered {
						continue
					}
					o.ProfitPrice = tp
					o.HedgeExit = true
					if o.Orders.Profit != "" {
						o.ReplaceProfit = true
					}
					log.Infof("🔁 %s 止损，另一侧持仓 %s 改挂对冲止盈 %s", r.Key, o.Key, tp)
				}
				r.FollowUpPlaced = true
				continue
			}

			key := domain.TrackingKey{Period: period, AssetID: opp, Role: domain.RoleOpposite}
			price := m.policy.HedgeEntryPrice()
			m.createLocked(key, r.Market, r.Token.Opposite(), domain.OrderStyleLimit, price, r.Shares)
			r.FollowUpPlaced = true
			log.Infof("🔁 %s 止损，另一侧建立对冲仓位 %.4f@%s", r.Key, r.Shares, price)
		}
	}
}

// dualHedgeDueLocked 双边入场：同一市场另一侧已成交，且到了标准对冲时间，
// 或在提前对冲窗口内本侧 bid 已越过对冲价（需要时还要确认上涨趋势）
func (m *Machine) dualHedgeDueLocked(r *domain.TradeRecord, snap *domain.Snapshot) (string, bool) {
	p := m.policy
	if p.Entry != strategy.EntryDual || r.Key.Role != domain.RolePrimary || r.Shares > 0 || r.Market == nil {
		return "", false
	}
	if snap == nil || snap.Period != r.Key.Period || !m.otherSideFilledLocked(r) {
		return "", false
	}
	minute := snap.ElapsedMinutes()
	if p.HedgeDue(snap.ElapsedSeconds) {
		return fmt.Sprintf("第 %d 分钟仅另一侧成交，撤销入场单准备对冲", minute), true
	}
	if !p.EarlyHedgeDue(snap.ElapsedSeconds) {
		return "", false
	}
	q, ok := snap.Quote(r.Key.AssetID)
	if !ok || !q.HasBid || q.Bid.LessThan(p.DualHedgePrice) {
		return "", false
	}
	if p.TrendFilter() {
		t := m.trends[r.Key.AssetID]
		if t == nil || !t.Uptrending(p.TrendMinStrength, p.TrendMinSamples) {
			log.Debugf("%s bid=%s 越过对冲价但趋势未确认", r.Key, q.Bid)
			return "", false
		}
	}
	return fmt.Sprintf("第 %d 分钟未成交一侧 bid=%s 越过对冲价 %s，提前对冲", minute, q.Bid, p.DualHedgePrice), true
}

func (m *Machine) otherSideFilledLocked(r *domain.TradeRecord) bool {
	other := domain.TrackingKey{Period: r.Key.Period, AssetID: r.Market.OppositeAssetID(r.Key.AssetID), Role: domain.RolePrimary}
	if o, ok := m.records[other]; ok {
		return o.Shares > 0
	}
	for _, o := range m.closed[r.Key.Period] {
		if o.Key == other && o.Shares > 0 {
			return true
		}
	}
	return false
}

// trackTrendsLocked 为提前对冲的趋势确认记录 bid；旧周期的样本随新周期丢弃
func (m *Machine) trackTrendsLocked(snap *domain.Snapshot) {
	p := m.policy
	if snap == nil || p.Entry != strategy.EntryDual || !p.TrendFilter() {
		return
	}
	for asset, t := range m.trends {
		if t.period != snap.Period {
			delete(m.trends, asset)
		}
	}
	for _, mk := range snap.Markets {
		for _, asset := range []string{mk.YesAssetID, mk.NoAssetID} {
			q, ok := snap.Quote(asset)
			if !ok || !q.HasBid {
				continue
			}
			t, ok := m.trends[asset]
			if !ok {
				t = &assetTrend{period: snap.Period, TrendTracker: strategy.NewTrendTracker(p.TrendHistory)}
				m.trends[asset] = t
			}
			t.Add(snap.ElapsedSeconds, q.Bid.ToDecimal())
		}
	}
}

func (m *Machine) replaceForHedgeLocked(r *domain.TradeRecord, rep *TickReport) {
	r.ClearPending()
	r.HedgePrice = m.policy.DualHedgePrice
	m.transitionLocked(r, domain.StateHedgeReplaced, fmt.Sprintf("入场单已撤销，等待 ask >= %s", r.HedgePrice), rep)
}

func (m *Machine) entryBlockedLocked(r *domain.TradeRecord) bool {
	l := m.ledgers[r.Key.AssetID]
	if l == nil || !l.HasBaseline {
		return true
	}
	if m.voidingLocked(r.Key.AssetID) {
		return true
	}
	if r.Key.Role == domain.RoleOpposite || m.gate == nil {
		return false
	}
	if err := m.gate.AllowEntry(); err != nil {
		log.Debugf("%s 入场被风控拦截: %v", r.Key, err)
		return true
	}
	return false
}

func (m *Machine) entryIntent(r *domain.TradeRecord) domain.OrderIntent {
	purpose := domain.PurposeEntry
	if r.Key.Role == domain.RoleOpposite {
		purpose = domain.PurposeHedgeBuy
	}
	return m.intent(r, domain.SideBuy, r.EntryStyle, r.EntryPrice, r.RequestedShares, purpose)
}

func (m *Machine) intent(r *domain.TradeRecord, side domain.Side, style domain.OrderStyle, price domain.Price, size float64, purpose domain.OrderPurpose) domain.OrderIntent {
	return domain.OrderIntent{
		ID:      m.newID(),
		Key:     r.Key,
		AssetID: r.Key.AssetID,
		Token:   r.Token,
		Side:    side,
		Style:   style,
		Price:   price,
		Size:    size,
		Purpose: purpose,
	}
}

func slotFor(r *domain.TradeRecord, intent domain.OrderIntent) *string {
	switch intent.Purpose {
	case domain.PurposeProfit, domain.PurposeHedgeSell:
		return &r.Orders.Profit
	case domain.PurposeStop:
		return &r.Orders.Stop
	case domain.PurposeHedgeBuy:
		if intent.Style == domain.OrderStyleMarket {
			return &r.Orders.Hedge
		}
	}
	return &r.Orders.Entry
}

// applyPlaceLocked 应用下单结果
func (m *Machine) applyPlaceLocked(res execution.PlaceResult, rep *TickReport) {
	intent := res.Intent
	if m.gate != nil {
		m.gate.Record(res.Err, errors.Is(res.Err, ports.ErrOrderRejected))
	}
	r, ok := m.records[intent.Key]
	if !ok {
		if res.Err == nil && res.Ack.OrderRef != "" && !res.Ack.Filled {
			m.voids[res.Ack.OrderRef] = VoidOrder{Ref: res.Ack.OrderRef, AssetID: intent.AssetID, Key: intent.Key}
		}
		return
	}
	if res.Err != nil {
		if errors.Is(res.Err, ports.ErrOrderRejected) {
			m.onRejectLocked(r, intent, res.Err, rep)
			return
		}
		log.Warnf("⏳ %s 下单失败（临时错误，下个 tick 重试）: %v", intent, res.Err)
		return
	}

	ack := res.Ack
	if intent.Style == domain.OrderStyleMarket && !ack.Filled {
		m.onRejectLocked(r, intent, fmt.Errorf("%w: 市价单未成交", ports.ErrOrderRejected), rep)
		return
	}
	rep.Placed++
	log.Infof("📤 %s 已下单 ref=%s", intent, ack.OrderRef)

	r.PendingSide = intent.Side
	r.PendingStyle = intent.Style
	r.PendingPrice = intent.Price
	r.PendingReason = intent.Purpose
	filledSize := ack.FilledSize
	if ack.Filled && filledSize <= 0 {
		filledSize = intent.Size
	}
	done := ack.Filled && filledSize >= intent.Size-domain.ShareEpsilon
	if !done && ack.OrderRef != "" && intent.Style == domain.OrderStyleLimit {
		*slotFor(r, intent) = ack.OrderRef
		m.refs[ack.OrderRef] = r.Key
	}

	switch {
	case intent.Side == domain.SideBuy && r.State == domain.StateAwaitingEntry:
		if !m.transitionLocked(r, domain.StateEntryPending, fmt.Sprintf("%s 买单 @%s 已确认", intent.Style, intent.Price), rep) {
			return
		}
	case intent.Side == domain.SideSell && r.State == domain.StateHeld:
		if !m.transitionLocked(r, domain.StateExitPending, fmt.Sprintf("%s 卖单 @%s 已确认", intent.Purpose, intent.Price), rep) {
			return
		}
	}

	if ack.Filled {
		price := ack.FilledPrice
		if price.IsZero() {
			price = intent.Price
		}
		m.applyFillLocked(r, intent.Side, filledSize, price, rep)
	}
}

// onRejectLocked 拒单：记录保持原状态，按次数放弃入场或持有到结算
func (m *Machine) onRejectLocked(r *domain.TradeRecord, intent domain.OrderIntent, err error, rep *TickReport) {
	rep.Rejected++
	p := m.policy
	if intent.Side == domain.SideBuy {
		r.EntryAttempts++
		log.Warnf("🚫 %s 买单被拒绝 (%d/%d): %v", r.Key, r.EntryAttempts, p.MaxEntryAttempts, err)
		if p.MaxEntryAttempts > 0 && r.EntryAttempts >= p.MaxEntryAttempts {
			m.transitionLocked(r, domain.StateExpired, fmt.Sprintf("入场被拒绝 %d 次，放弃", r.EntryAttempts), rep)
		}
		return
	}
	r.ExitAttempts++
	log.Warnf("🚫 %s 卖单被拒绝 (%d/%d): %v", r.Key, r.ExitAttempts, p.MaxExitAttempts, err)
	if p.MaxExitAttempts > 0 && r.ExitAttempts >= p.MaxExitAttempts {
		r.HoldToResolution = true
		log.Warnf("📌 %s 卖出多次失败，持有到结算", r.Key)
	}
}

// applyCancelLocked 应用撤单结果；订单不存在视为已撤销（或已成交，等待对账确认）
func (m *Machine) applyCancelLocked(op cancelOp, err error, rep *TickReport) {
	ref := op.req.OrderRef
	if m.gate != nil {
		m.gate.Record(err, errors.Is(err, ports.ErrOrderNotFound))
	}
	notFound := errors.Is(err, ports.ErrOrderNotFound)
	if err != nil && !notFound {
		log.Warnf("❌ %s 撤单 %s 失败，下个 tick 重试: %v", op.req.Key, ref, err)
		return
	}
	rep.Cancelled++

	if op.kind == cancelVoid {
		delete(m.voids, ref)
		return
	}
	r, ok := m.records[op.req.Key]
	if !ok {
		return
	}

	// 订单不存在时保留 ref -> key 映射，迟到的成交回报仍能归属
	release := func(slot *string) {
		if *slot != ref {
			return
		}
		if notFound {
			*slot = ""
		} else {
			m.dropRefLocked(slot)
		}
	}
	switch op.kind {
	case cancelEntryRemainder, cancelHedgeWatch:
		release(&r.Orders.Entry)
	case cancelProfitForStop:
		release(&r.Orders.Profit)
	case cancelProfitReplace:
		release(&r.Orders.Profit)
		r.ReplaceProfit = false
	}

	if notFound {
		r.AwaitReconcile = true
		log.Infof("🔎 %s 撤单时订单 %s 已不存在，等待下一次对账", r.Key, ref)
		return
	}
	log.Infof("🗑️ %s 订单 %s 已撤销", r.Key, ref)
	r.ClearPending()
	if op.kind == cancelHedgeWatch && r.State == domain.StateHedgeWatch {
		m.replaceForHedgeLocked(r, rep)
	}
}
