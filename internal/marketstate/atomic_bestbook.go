package marketstate

import (
	"sync/atomic"
	"time"

	"github.com/betbot/updown/internal/domain"
)

// AtomicBestBook 单个市场 UP/DOWN 两侧的 top-of-book，WS 高频写入与轮询读取互不阻塞。
//
// 价格单位：domain.Price.Pips；0 表示该字段尚未收到数据。
type AtomicBestBook struct {
	// pricesPacked: [up_bid:16][up_ask:16][down_bid:16][down_ask:16]
	pricesPacked    atomic.Uint64
	updatedAtUnixMs atomic.Int64
}

// BestBookSnapshot 一次一致读取的结果
type BestBookSnapshot struct {
	UpBidPips   uint16
	UpAskPips   uint16
	DownBidPips uint16
	DownAskPips uint16
	UpdatedAt   time.Time
}

func NewAtomicBestBook() *AtomicBestBook {
	return &AtomicBestBook{}
}

// Reset 原地清空（上层可能缓存了指针，不能替换对象）
func (b *AtomicBestBook) Reset() {
	if b == nil {
		return
	}
	b.pricesPacked.Store(0)
	b.updatedAtUnixMs.Store(0)
}

func (b *AtomicBestBook) Load() BestBookSnapshot {
	p := b.pricesPacked.Load()
	var t time.Time
	if ms := b.updatedAtUnixMs.Load(); ms > 0 {
		t = time.UnixMilli(ms)
	}
	return BestBookSnapshot{
		UpBidPips:   uint16((p >> 48) & 0xFFFF),
		UpAskPips:   uint16((p >> 32) & 0xFFFF),
		DownBidPips: uint16((p >> 16) & 0xFFFF),
		DownAskPips: uint16(p & 0xFFFF),
		UpdatedAt:   t,
	}
}

// Quote 把某一侧转换为 domain.TokenQuote
func (s BestBookSnapshot) Quote(token domain.TokenType) domain.TokenQuote {
	bid, ask := s.UpBidPips, s.UpAskPips
	if token == domain.TokenTypeDown {
		bid, ask = s.DownBidPips, s.DownAskPips
	}
	var q domain.TokenQuote
	if bid > 0 {
		q.Bid, q.HasBid = domain.Price{Pips: int(bid)}, true
	}
	if ask > 0 {
		q.Ask, q.HasAsk = domain.Price{Pips: int(ask)}, true
	}
	return q
}

func (b *AtomicBestBook) UpdatedAt() time.Time {
	ms := b.updatedAtUnixMs.Load()
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// IsFresh 最近 maxAge 内是否有更新
func (b *AtomicBestBook) IsFresh(now time.Time, maxAge time.Duration) bool {
	if b == nil {
		return false
	}
	t := b.UpdatedAt()
	if t.IsZero() {
		return false
	}
	return now.Sub(t) <= maxAge
}

// UpdateToken 更新某一侧的 bid/ask；传 0 表示保留旧值
func (b *AtomicBestBook) UpdateToken(token domain.TokenType, bidPips, askPips uint16, at time.Time) {
	if b == nil {
		return
	}
	for {
		cur := b.pricesPacked.Load()
		upBid := uint16((cur >> 48) & 0xFFFF)
		upAsk := uint16((cur >> 32) & 0xFFFF)
		downBid := uint16((cur >> 16) & 0xFFFF)
		downAsk := uint16(cur & 0xFFFF)

		switch token {
		case domain.TokenTypeUp:
			if bidPips != 0 {
				upBid = bidPips
			}
			if askPips != 0 {
				upAsk = askPips
			}
		case domain.TokenTypeDown:
			if bidPips != 0 {
				downBid = bidPips
			}
			if askPips != 0 {
				downAsk = askPips
			}
		default:
			return
		}

		next := packPrices(upBid, upAsk, downBid, downAsk)
		if b.pricesPacked.CompareAndSwap(cur, next) {
			break
		}
	}
	b.updatedAtUnixMs.Store(at.UnixMilli())
}

func packPrices(upBid, upAsk, downBid, downAsk uint16) uint64 {
	return (uint64(upBid) << 48) | (uint64(upAsk) << 32) | (uint64(downBid) << 16) | uint64(downAsk)
}

// ToPips 价格转换为存储格式（超出范围时截断）
func ToPips(p domain.Price) uint16 {
	switch {
	case p.Pips <= 0:
		return 0
	case p.Pips > 0xFFFF:
		return 0xFFFF
	}
	return uint16(p.Pips)
}
