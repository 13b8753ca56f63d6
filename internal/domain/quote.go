package domain

import "time"

// TokenQuote 单个 token 的 top-of-book（每个 tick 的瞬时值，不持久化）
type TokenQuote struct {
	Bid    Price
	Ask    Price
	HasBid bool
	HasAsk bool
}

// Quote 便捷构造（0 视为缺失）
func Quote(bid, ask float64) TokenQuote {
	q := TokenQuote{}
	if bid > 0 {
		q.Bid, q.HasBid = PriceFromDecimal(bid), true
	}
	if ask > 0 {
		q.Ask, q.HasAsk = PriceFromDecimal(ask), true
	}
	return q
}

// WatchPrice 价格监控使用的价格：优先 ask，缺失时退回 bid
func (q TokenQuote) WatchPrice() (Price, bool) {
	if q.HasAsk {
		return q.Ask, true
	}
	if q.HasBid {
		return q.Bid, true
	}
	return Price{}, false
}

// SellPrice 卖出参考价：优先 bid，缺失时退回 ask
func (q TokenQuote) SellPrice() (Price, bool) {
	if q.HasBid {
		return q.Bid, true
	}
	if q.HasAsk {
		return q.Ask, true
	}
	return Price{}, false
}

// Snapshot 一个 tick 的行情快照
type Snapshot struct {
	Period           int64                 // 当前周期键（周期开始时间）
	Markets          []*Market             // 当前周期的市场（每个标的一个）
	Quotes           map[string]TokenQuote // assetID -> quote
	ElapsedSeconds   int64
	RemainingSeconds int64
	At               time.Time
}

// Quote 获取某个 token 的报价
func (s *Snapshot) Quote(assetID string) (TokenQuote, bool) {
	if s == nil || s.Quotes == nil {
		return TokenQuote{}, false
	}
	q, ok := s.Quotes[assetID]
	return q, ok
}

// ElapsedMinutes 已过去的整分钟数（向下取整）
func (s *Snapshot) ElapsedMinutes() int64 {
	return ElapsedMinutes(s.ElapsedSeconds)
}

// MarketOf 根据资产 ID 找到所属市场
func (s *Snapshot) MarketOf(assetID string) *Market {
	for _, m := range s.Markets {
		if _, ok := m.TokenOf(assetID); ok {
			return m
		}
	}
	return nil
}

// ElapsedMinutes 秒 -> 整分钟（向下取整），实盘和回测共用
func ElapsedMinutes(elapsedSeconds int64) int64 {
	if elapsedSeconds <= 0 {
		return 0
	}
	return elapsedSeconds / 60
}
