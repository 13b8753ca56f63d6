// Package marketstate 保存 WS 推送的最新盘口，供轮询循环读取。
package marketstate

import (
	"context"
	"sync"
	"time"

	"github.com/betbot/updown/internal/domain"
)

type assetRef struct {
	book  *AtomicBestBook
	token domain.TokenType
}

type entry struct {
	market *domain.Market
	book   *AtomicBestBook
}

// Books 资产 ID -> 所属市场的 AtomicBestBook
type Books struct {
	mu      sync.RWMutex
	bySlug  map[string]entry
	byAsset map[string]assetRef
	maxAge  time.Duration
	now     func() time.Time
}

// NewBooks maxAge 之前的盘口视为过期，不再提供给快照
func NewBooks(maxAge time.Duration) *Books {
	return &Books{
		bySlug:  make(map[string]entry),
		byAsset: make(map[string]assetRef),
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Register 登记市场（重复登记返回已有的 book）
func (b *Books) Register(m *domain.Market) *AtomicBestBook {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.bySlug[m.Slug]; ok {
		return e.book
	}
	book := NewAtomicBestBook()
	b.bySlug[m.Slug] = entry{market: m, book: book}
	b.byAsset[m.YesAssetID] = assetRef{book: book, token: domain.TokenTypeUp}
	b.byAsset[m.NoAssetID] = assetRef{book: book, token: domain.TokenTypeDown}
	return book
}

// Prune 移除周期开始时间早于 before 的市场
func (b *Books) Prune(before int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for slug, e := range b.bySlug {
		if e.market.Timestamp >= before {
			continue
		}
		delete(b.bySlug, slug)
		delete(b.byAsset, e.market.YesAssetID)
		delete(b.byAsset, e.market.NoAssetID)
		n++
	}
	return n
}

// AssetIDs 当前登记的全部资产
func (b *Books) AssetIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.byAsset))
	for id := range b.byAsset {
		out = append(out, id)
	}
	return out
}

// Update 写入某个资产的最新 bid/ask；未登记的资产返回 false
func (b *Books) Update(assetID string, bid, ask domain.Price) bool {
	b.mu.RLock()
	ref, ok := b.byAsset[assetID]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	ref.book.UpdateToken(ref.token, ToPips(bid), ToPips(ask), b.now())
	return true
}

// Quote 读取某个资产的报价；过期或从未更新时返回 false
func (b *Books) Quote(assetID string) (domain.TokenQuote, bool) {
	b.mu.RLock()
	ref, ok := b.byAsset[assetID]
	b.mu.RUnlock()
	if !ok || !ref.book.IsFresh(b.now(), b.maxAge) {
		return domain.TokenQuote{}, false
	}
	return ref.book.Load().Quote(ref.token), true
}

// Quotes 实现 feed.QuoteSource：只返回新鲜的报价，缺失的由下一个报价源补齐
func (b *Books) Quotes(_ context.Context, markets []*domain.Market) (map[string]domain.TokenQuote, error) {
	out := make(map[string]domain.TokenQuote)
	for _, m := range markets {
		b.Register(m)
		for _, id := range []string{m.YesAssetID, m.NoAssetID} {
			if q, ok := b.Quote(id); ok {
				out[id] = q
			}
		}
	}
	return out, nil
}
