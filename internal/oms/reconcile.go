package oms

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/betbot/updown/internal/domain"
	"github.com/betbot/updown/internal/strategy"
)

// drainFillsLocked 应用网关直接推送的成交回报
func (m *Machine) drainFillsLocked(rep *TickReport) {
	if m.fills == nil {
		return
	}
	for _, f := range m.fills.DrainFills() {
		key, ok := m.refs[f.OrderRef]
		if !ok {
			m.strayFillLocked(f, rep)
			continue
		}
		r, ok := m.records[key]
		if !ok {
			m.strayFillLocked(f, rep)
			continue
		}
		m.applyFillLocked(r, f.Side, f.Size, f.Price, rep)
	}
}

// strayFillLocked 不属于任何活跃记录的成交（例如作废订单在撤销前成交）
func (m *Machine) strayFillLocked(f domain.Fill, rep *TickReport) {
	l, ok := m.ledgers[f.AssetID]
	if ok {
		if f.Side == domain.SideBuy {
			l.Expected += f.Size
		} else {
			l.Expected -= f.Size
		}
	}
	reason := fmt.Sprintf("订单 %s 成交 %s %.4f@%s 但没有对应的活跃记录", f.OrderRef, f.Side, f.Size, f.Price)
	if v, isVoid := m.voids[f.OrderRef]; isVoid {
		delete(m.voids, f.OrderRef)
		m.freezeLocked(m.liveOnAssetLocked(v.Key.Period, f.AssetID), "void_fill", reason, rep)
		return
	}
	log.Errorf("⚠️ %s", reason)
	if rep != nil {
		rep.Anomalies++
	}
}

// reconcileLocked 余额对账；返回本次成功查询到余额的 token
//
// 余额只能说明"变了多少"，无法区分部分成交与完全成交：增加量归属于唯一一个等待买入成交的记录，
// 减少量归属于唯一一个等待卖出成交的记录，其余情况一律视为异常并冻结。
func (m *Machine) reconcileLocked(ctx context.Context, rep *TickReport) map[string]bool {
	assets := m.trackedAssetsLocked()
	ok := make(map[string]bool, len(assets))
	if len(assets) == 0 {
		return ok
	}
	for _, res := range m.disp.Balances(ctx, assets) {
		if res.Err != nil {
			log.Warnf("查询余额失败 %s: %v（下个 tick 重试）", shortID(res.AssetID), res.Err)
			continue
		}
		ok[res.AssetID] = true
		l := m.ledgers[res.AssetID]
		if l == nil {
			continue
		}
		if !l.HasBaseline {
			l.Baseline, l.Expected, l.HasBaseline = res.Balance, res.Balance, true
			log.Debugf("%s 基线余额 %.6f", shortID(res.AssetID), res.Balance)
			continue
		}
		delta := res.Balance - l.Expected
		if math.Abs(delta) <= domain.ShareEpsilon {
			continue
		}
		m.attributeDeltaLocked(l, delta, res.Balance, rep)
	}
	return ok
}

func (m *Machine) attributeDeltaLocked(l *Ledger, delta, balance float64, rep *TickReport) {
	live := m.liveOnAssetLocked(l.Period, l.AssetID)
	var candidates []*domain.TradeRecord
	for _, r := range live {
		if (delta > 0 && awaitingBuy(r)) || (delta < 0 && r.PendingSide == domain.SideSell) {
			candidates = append(candidates, r)
		}
	}

	if len(candidates) != 1 {
		reason := fmt.Sprintf("余额变化 %+.6f (expected=%.6f actual=%.6f) 无法归属到唯一记录 (候选 %d)",
			delta, l.Expected, balance, len(candidates))
		l.Expected = balance
		if len(live) == 0 {
			log.Errorf("⚠️ %s %s", shortID(l.AssetID), reason)
			rep.Anomalies++
			return
		}
		m.freezeLocked(live, "unattributed_delta", reason, rep)
		return
	}

	r := candidates[0]
	if delta > 0 {
		price := r.PendingPrice
		if price.IsZero() {
			price = r.EntryPrice
		}
		log.Infof("💰 %s 余额增加 %.6f，视为买入成交", r.Key, delta)
		m.applyFillLocked(r, domain.SideBuy, delta, price, rep)
		return
	}
	log.Infof("💸 %s 余额减少 %.6f，视为 %s 卖单成交", r.Key, -delta, r.PendingReason)
	m.applyFillLocked(r, domain.SideSell, -delta, r.PendingPrice, rep)
}

func awaitingBuy(r *domain.TradeRecord) bool {
	return r.PendingSide == domain.SideBuy || r.Orders.Entry != ""
}

// applyFillLocked 把一笔成交应用到记录上
func (m *Machine) applyFillLocked(r *domain.TradeRecord, side domain.Side, size float64, price domain.Price, rep *TickReport) {
	if size <= 0 {
		return
	}
	rep.Fills++
	if l := m.ledgers[r.Key.AssetID]; l != nil {
		if side == domain.SideBuy {
			l.Expected += size
		} else {
			l.Expected -= size
		}
	}

	if side == domain.SideBuy {
		if r.Shares+size > r.RequestedShares+domain.ShareEpsilon {
			m.freezeLocked([]*domain.TradeRecord{r}, "over_fill",
				fmt.Sprintf("买入成交 %.6f 超过请求份额 (已持有 %.6f / 请求 %.6f)", size, r.Shares, r.RequestedShares), rep)
			return
		}
		r.AddEntryFill(size, price)
		log.Infof("✅ %s 买入成交 %.4f@%s (持有 %.4f/%.4f)", r.Key, size, price, r.Shares, r.RequestedShares)
		if r.Shares >= r.RequestedShares-domain.ShareEpsilon {
			m.dropRefLocked(&r.Orders.Entry)
			m.dropRefLocked(&r.Orders.Hedge)
			r.ClearPending()
		}
		if r.State.IsPreFill() {
			if r.State == domain.StateAwaitingEntry {
				// 成交回报先于下单回执
				if !m.transitionLocked(r, domain.StateEntryPending, "成交回报先于回执", rep) {
					return
				}
			}
			if m.transitionLocked(r, domain.StateHeld, fmt.Sprintf("买入成交 %.4f@%s", size, price), rep) {
				m.onHeldLocked(r)
			}
		}
		return
	}

	if err := r.AddExitFill(size, price); err != nil {
		m.freezeLocked([]*domain.TradeRecord{r}, "over_sell", err.Error(), rep)
		return
	}
	log.Infof("✅ %s 卖出成交 %.4f@%s (%s)，剩余 %.4f", r.Key, size, price, r.PendingReason, r.Sellable())
	if r.Sellable() > 0 {
		return
	}

	var to domain.TradeState
	switch r.PendingReason {
	case domain.PurposeStop:
		to = domain.StateClosedStopped
	case domain.PurposeHedgeSell:
		to = domain.StateClosedHedged
	default:
		to = domain.StateClosedSold
	}
	m.dropRefLocked(&r.Orders.Profit)
	m.dropRefLocked(&r.Orders.Stop)
	if r.State == domain.StateHeld {
		if !m.transitionLocked(r, domain.StateExitPending, "卖单成交", rep) {
			return
		}
	}
	m.transitionLocked(r, to, fmt.Sprintf("%s 卖出完成，均价 %s", r.PendingReason, price), rep)
}

func (m *Machine) dropRefLocked(ref *string) {
	if *ref == "" {
		return
	}
	delete(m.refs, *ref)
	*ref = ""
}

// onHeldLocked 持仓确立：确定止盈/止损价，按需预挂另一侧限价单
func (m *Machine) onHeldLocked(r *domain.TradeRecord) {
	p := m.policy
	switch r.Key.Role {
	case domain.RoleOpposite:
		r.ProfitPrice = p.HedgeTakeProfitPrice()
		r.StopPrice = p.HedgeStopPrice()
		r.HedgeExit = true
	case domain.RoleOppositeLimit:
		// 预挂的另一侧限价仓位只挂对冲止盈，不设止损
		r.ProfitPrice = p.HedgeTakeProfitPrice()
		r.HedgeExit = true
	default:
		if p.Exit == strategy.ExitHold {
			break
		}
		r.ProfitPrice = p.SellPrice
		if p.StopEnabled(r.Token) {
			r.StopPrice = p.StopLossPrice
		}
	}

	if r.Key.Role != domain.RolePrimary || p.OppositeLimit.IsZero() || r.Market == nil {
		return
	}
	opp := r.Market.OppositeAssetID(r.Key.AssetID)
	key := domain.TrackingKey{Period: r.Key.Period, AssetID: opp, Role: domain.RoleOppositeLimit}
	if _, exists := m.records[key]; exists {
		return
	}
	m.createLocked(key, r.Market, r.Token.Opposite(), domain.OrderStyleLimit, p.OppositeLimit, r.RequestedShares)
	log.Infof("📌 %s 成交，另一侧预挂限价买单 %.4f@%s", r.Key, r.RequestedShares, p.OppositeLimit)
}

// trackedAssetsLocked 需要对账的 token：活跃记录所在市场的两侧，以及有待撤销订单的 token
func (m *Machine) trackedAssetsLocked() []string {
	set := make(map[string]struct{})
	for _, r := range m.records {
		if r.Market != nil {
			set[r.Market.YesAssetID] = struct{}{}
			set[r.Market.NoAssetID] = struct{}{}
		} else {
			set[r.Key.AssetID] = struct{}{}
		}
	}
	for _, v := range m.voids {
		set[v.AssetID] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for a := range set {
		if _, ok := m.ledgers[a]; ok {
			out = append(out, a)
		}
	}
	sort.Strings(out)
	return out
}

func shortID(assetID string) string {
	if len(assetID) <= 12 {
		return assetID
	}
	return assetID[:12]
}
