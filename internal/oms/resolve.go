package oms

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/betbot/updown/internal/domain"
	"github.com/betbot/updown/internal/execution"
	"github.com/betbot/updown/internal/metrics"
)

// PeriodOutcome 一个市场在一个周期内的结算结果
type PeriodOutcome struct {
	Period     int64
	Market     *domain.Market
	Winner     domain.TokenType
	Determined bool
	UpFilled   bool
	DownFilled bool
	Cost       decimal.Decimal // 入场成本合计
	Value      decimal.Decimal // 卖出所得 + 结算价值
	PnL        decimal.Decimal
	Merge      domain.MergeResult // 结算时仍持有的份额可配对的 complete set
	Unresolved float64            // 赢方未知时仍持有的份额，价值未计入
	Records    []*domain.TradeRecord
}

// Settled 盈亏是否完整：赢方已知，或结算时没有剩余持仓
func (o PeriodOutcome) Settled() bool {
	return o.Determined || o.Unresolved <= domain.ShareEpsilon
}

// Result win / loss / flat；持仓价值未知时为 undetermined
func (o PeriodOutcome) Result() string {
	if !o.Settled() {
		return metrics.ResultUndetermined
	}
	return metrics.PeriodResult(o.PnL.Sign())
}

// Traded 周期内是否有成交
func (o PeriodOutcome) Traded() bool {
	return o.UpFilled || o.DownFilled
}

// ResolvePeriod 周期结束：撤销所有挂单，未成交的记录过期，持仓按赢方结算为 1/0，并归档全部记录。
//
// winners 按市场 slug 给出赢方；缺失表示无法判定，此时持仓价值不计入。
func (m *Machine) ResolvePeriod(ctx context.Context, period int64, winners map[string]domain.TokenType) []PeriodOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	var reqs []execution.CancelRequest
	for _, r := range m.sortedLiveLocked() {
		if r.Key.Period != period {
			continue
		}
		for _, ref := range r.Orders.Outstanding() {
			reqs = append(reqs, execution.CancelRequest{Key: r.Key, OrderRef: ref})
		}
	}
	for ref, v := range m.voids {
		if v.Key.Period == period {
			reqs = append(reqs, execution.CancelRequest{Key: v.Key, OrderRef: ref})
			delete(m.voids, ref)
		}
	}
	if len(reqs) > 0 {
		for _, res := range m.disp.CancelAll(ctx, reqs) {
			if res.Err != nil {
				log.Warnf("周期 %d 结算撤单 %s 失败: %v", period, res.Request.OrderRef, res.Err)
			}
		}
	}

	var rep TickReport
	for _, r := range m.sortedLiveLocked() {
		if r.Key.Period != period {
			continue
		}
		for _, ref := range r.Orders.Outstanding() {
			delete(m.refs, ref)
		}
		r.Orders = domain.OrderRefs{}
		if r.Shares <= domain.ShareEpsilon {
			m.transitionLocked(r, domain.StateExpired, "周期结束未成交", &rep)
			continue
		}
		reason := "周期结算，赢方未知"
		if w, ok := winners[marketSlug(r)]; ok {
			reason = fmt.Sprintf("周期结算，赢方 %s", w)
		}
		if r.State.IsPreFill() {
			// 部分成交后仍在对冲子路径上的记录
			m.transitionLocked(r, domain.StateHeld, "结算前确认持仓", &rep)
		}
		m.transitionLocked(r, domain.StateResolved, reason, &rep)
	}

	recs := m.closed[period]
	delete(m.closed, period)
	for ref, key := range m.refs {
		if key.Period == period {
			delete(m.refs, ref)
		}
	}
	for asset, l := range m.ledgers {
		if l.Period == period {
			delete(m.ledgers, asset)
		}
	}
	metrics.LiveRecords.Set(float64(len(m.records)))

	outcomes := buildOutcomes(period, recs, winners)
	for _, o := range outcomes {
		if !o.Traded() {
			continue
		}
		metrics.Periods.WithLabelValues(o.Result()).Inc()
		if !o.Settled() {
			log.Warnf("❓ 周期 %d %s 赢方未知，%.4f 份持仓不计盈亏 cost=%s",
				period, marketSlug(o.Records[0]), o.Unresolved, o.Cost.StringFixed(4))
			continue
		}
		if o.Market != nil {
			metrics.PeriodPnL.WithLabelValues(o.Market.Asset).Set(o.PnL.InexactFloat64())
		}
		log.Infof("🏁 周期 %d %s 结算: 赢方=%s cost=%s value=%s pnl=%s 可合并=%.4f",
			period, marketSlug(o.Records[0]), o.Winner, o.Cost.StringFixed(4), o.Value.StringFixed(4),
			o.PnL.StringFixed(4), o.Merge.CompleteSets)
	}
	return outcomes
}

func marketSlug(r *domain.TradeRecord) string {
	if r.Market == nil {
		return ""
	}
	return r.Market.Slug
}

// buildOutcomes 按市场汇总
func buildOutcomes(period int64, recs []*domain.TradeRecord, winners map[string]domain.TokenType) []PeriodOutcome {
	bySlug := make(map[string]*PeriodOutcome)
	held := make(map[string]map[domain.TokenType]float64)
	for _, r := range recs {
		slug := marketSlug(r)
		o, ok := bySlug[slug]
		if !ok {
			o = &PeriodOutcome{Period: period, Market: r.Market}
			o.Winner, o.Determined = winners[slug]
			bySlug[slug] = o
			held[slug] = make(map[domain.TokenType]float64)
		}
		o.Records = append(o.Records, r)
		if r.Shares > domain.ShareEpsilon {
			if r.Token == domain.TokenTypeUp {
				o.UpFilled = true
			} else {
				o.DownFilled = true
			}
		}
		o.Cost = o.Cost.Add(r.EntryCost)
		o.Value = o.Value.Add(r.ExitProceeds)
		if r.State == domain.StateResolved {
			left := r.Sellable()
			held[slug][r.Token] += left
			if o.Determined {
				v := domain.ResolvedValue(r.Token, o.Winner)
				o.Value = o.Value.Add(v.Decimal().Mul(decimal.NewFromFloat(left)))
			} else {
				o.Unresolved += left
			}
		}
	}

	slugs := make([]string, 0, len(bySlug))
	for s := range bySlug {
		slugs = append(slugs, s)
	}
	sort.Strings(slugs)
	out := make([]PeriodOutcome, 0, len(slugs))
	for _, s := range slugs {
		o := bySlug[s]
		o.PnL = o.Value.Sub(o.Cost)
		o.Merge = domain.MergeAmounts(held[s][domain.TokenTypeUp], held[s][domain.TokenTypeDown])
		out = append(out, *o)
	}
	return out
}
