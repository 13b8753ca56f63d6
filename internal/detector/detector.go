// Package detector 根据行情快照与周期触发状态产生入场意图。
package detector

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/updown/internal/domain"
	"github.com/betbot/updown/internal/strategy"
)

var log = logrus.WithField("component", "detector")

// Detector 机会检测器：(snapshot, trigger state, policy) -> 入场意图
type Detector struct {
	policy *strategy.Policy
	newID  func() string
}

func New(policy *strategy.Policy) *Detector {
	return &Detector{policy: policy, newID: uuid.NewString}
}

// DecideOrderType 市价/限价判定
//
// T <= ask <= 1.0 时以 ask 市价买入（限价 T 挂在 ask 之下不会成交）；
// 否则以 T 挂限价，限价单会以更低的当前 ask 立即成交，同时防止价格上冲时多付。
// ask 缺失时按限价处理。
func DecideOrderType(ask domain.Price, hasAsk bool, trigger domain.Price) (domain.OrderStyle, domain.Price) {
	if hasAsk && ask.GreaterThanOrEqual(trigger) && ask.LessThanOrEqual(domain.PriceOne) {
		return domain.OrderStyleMarket, ask
	}
	return domain.OrderStyleLimit, trigger
}

// Detect 产生本 tick 的入场意图并推进触发状态
func (d *Detector) Detect(snap *domain.Snapshot, st *TriggerState) []domain.OrderIntent {
	if snap == nil || st == nil {
		return nil
	}
	p := d.policy
	trigger := p.TriggerPrice

	// 卖出后的重置检查不受时间门限制
	for _, m := range snap.Markets {
		for _, tok := range []domain.TokenType{domain.TokenTypeUp, domain.TokenTypeDown} {
			asset := m.GetAssetID(tok)
			tt, ok := st.Tokens[asset]
			if !ok || !tt.NeedsReset {
				continue
			}
			if q, ok := snap.Quote(asset); ok && q.HasBid && q.Bid.LessThan(trigger) {
				tt.NeedsReset = false
				log.Infof("🔄 %s %s bid=%s 回落到触发价 %s 以下，重新允许入场", m.Slug, tok, q.Bid, trigger)
			}
		}
	}

	if snap.RemainingSeconds <= 0 {
		return nil
	}
	if snap.ElapsedSeconds < int64(p.MinElapsed.Seconds()) {
		return nil
	}

	switch p.Entry {
	case strategy.EntryDual:
		return d.detectDual(snap, st)
	default:
		return d.detectFiltered(snap, st)
	}
}

func (d *Detector) detectFiltered(snap *domain.Snapshot, st *TriggerState) []domain.OrderIntent {
	p := d.policy
	if snap.RemainingSeconds < int64(p.MinRemaining.Seconds()) {
		return nil
	}

	var intents []domain.OrderIntent
	for _, m := range snap.Markets {
		for _, tok := range []domain.TokenType{domain.TokenTypeUp, domain.TokenTypeDown} {
			asset := m.GetAssetID(tok)
			q, ok := snap.Quote(asset)
			if !ok || !q.HasBid {
				continue
			}
			tt := st.token(asset)
			if tt.Fired || tt.NeedsReset {
				continue
			}
			if q.Bid.LessThan(p.TriggerPrice) || q.Bid.GreaterThan(p.MaxBuyPrice) {
				continue
			}

			style, price := DecideOrderType(q.Ask, q.HasAsk, p.TriggerPrice)
			intent := d.buyIntent(snap.Period, m, tok, style, price, p.SharesAt(price))
			tt.Fired = true
			intents = append(intents, intent)
			log.Infof("🎯 %s %s bid=%s ask=%s 进入区间 [%s, %s]，%s 买入 %.4f @ %s",
				m.Slug, tok, q.Bid, q.Ask, p.TriggerPrice, p.MaxBuyPrice, style, intent.Size, price)
		}
	}
	return intents
}

func (d *Detector) detectDual(snap *domain.Snapshot, st *TriggerState) []domain.OrderIntent {
	if st.DualFired {
		return nil
	}
	p := d.policy

	var intents []domain.OrderIntent
	for _, m := range snap.Markets {
		n := len(intents)
		for _, tok := range []domain.TokenType{domain.TokenTypeUp, domain.TokenTypeDown} {
			asset := m.GetAssetID(tok)
			// 被拒绝后撤回的一侧单独重试
			if st.Fired(asset) {
				continue
			}
			var (
				style  domain.OrderStyle
				price  domain.Price
				shares float64
			)
			if p.DualStyle == strategy.DualStyleLimit {
				style, price, shares = domain.OrderStyleLimit, p.DualEntryPrice(), p.DualShares()
			} else {
				q, _ := snap.Quote(asset)
				style, price = DecideOrderType(q.Ask, q.HasAsk, p.TriggerPrice)
				shares = p.SharesAt(price)
			}
			st.token(asset).Fired = true
			intents = append(intents, d.buyIntent(snap.Period, m, tok, style, price, shares))
		}
		if len(intents) > n {
			log.Infof("🎯 %s 双边入场窗口打开 (elapsed=%ds)，下单 %d 笔", m.Slug, snap.ElapsedSeconds, len(intents)-n)
		}
	}
	st.DualFired = true
	return intents
}

func (d *Detector) buyIntent(period int64, m *domain.Market, tok domain.TokenType, style domain.OrderStyle, price domain.Price, shares float64) domain.OrderIntent {
	asset := m.GetAssetID(tok)
	return domain.OrderIntent{
		ID:      d.newID(),
		Key:     domain.TrackingKey{Period: period, AssetID: asset, Role: domain.RolePrimary},
		AssetID: asset,
		Token:   tok,
		Side:    domain.SideBuy,
		Style:   style,
		Price:   price,
		Size:    shares,
		Purpose: domain.PurposeEntry,
	}
}
