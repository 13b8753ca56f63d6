// Package clob 通过 CLOB REST /book 接口读取 top-of-book，作为 WS 推送缺失时的报价源。
package clob

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/betbot/updown/internal/domain"
	"github.com/betbot/updown/pkg/cache"
	sdkhttp "github.com/betbot/updown/pkg/sdk/http"
)

var log = logrus.WithField("component", "clob_book")

type orderBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type orderBook struct {
	Market  string           `json:"market"`
	AssetID string           `json:"asset_id"`
	Bids    []orderBookLevel `json:"bids"`
	Asks    []orderBookLevel `json:"asks"`
}

// Options REST 报价源参数
type Options struct {
	RequestsPerSecond float64
	CacheTTL          time.Duration
	Timeout           time.Duration
	Proxy             string
}

// BookClient 按资产拉取盘口，带限速与短 TTL 缓存
type BookClient struct {
	http    *sdkhttp.Client
	limiter *rate.Limiter
	cache   *cache.InMemoryCache[string, domain.TokenQuote]
	ttl     time.Duration
}

func NewBookClient(baseURL string, opts Options) *BookClient {
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &BookClient{
		http:    sdkhttp.NewClient(baseURL, sdkhttp.Options{Timeout: opts.Timeout, RetryCount: 1, Proxy: opts.Proxy}),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		cache:   cache.NewInMemoryCache[string, domain.TokenQuote](opts.CacheTTL, time.Minute),
		ttl:     opts.CacheTTL,
	}
}

// Close 停止缓存清理
func (c *BookClient) Close() {
	c.cache.Close()
}

// Book 读取单个资产的最优买卖价；TTL 内直接返回缓存
func (c *BookClient) Book(ctx context.Context, assetID string) (domain.TokenQuote, error) {
	if c.ttl > 0 {
		if q, ok := c.cache.Get(assetID); ok {
			return q, nil
		}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.TokenQuote{}, errors.Wrap(err, "等待限速")
	}

	var book orderBook
	err := c.http.Get(ctx, "/book", &sdkhttp.RequestOptions{Params: map[string]any{"token_id": assetID}}, &book)
	if err != nil {
		return domain.TokenQuote{}, errors.Wrapf(err, "获取订单簿失败 token=%s", assetID)
	}

	q := bestOf(book)
	if c.ttl > 0 {
		c.cache.Set(assetID, q, c.ttl)
	}
	return q, nil
}

// Quotes 实现 feed.QuoteSource：单个资产失败只记录日志，其余照常返回
func (c *BookClient) Quotes(ctx context.Context, markets []*domain.Market) (map[string]domain.TokenQuote, error) {
	out := make(map[string]domain.TokenQuote, len(markets)*2)
	var lastErr error
	for _, m := range markets {
		for _, id := range []string{m.YesAssetID, m.NoAssetID} {
			q, err := c.Book(ctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return out, ctx.Err()
				}
				lastErr = err
				log.Warnf("⚠️ REST 盘口获取失败: %v", err)
				continue
			}
			out[id] = q
		}
	}
	if len(out) == 0 && lastErr != nil {
		return out, lastErr
	}
	return out, nil
}

// bestOf 买一取 bids 最高价，卖一取 asks 最低价（接口不保证排序）
func bestOf(book orderBook) domain.TokenQuote {
	var q domain.TokenQuote
	for _, l := range book.Bids {
		p, ok := parseLevelPrice(l.Price)
		if ok && (!q.HasBid || p.GreaterThan(q.Bid)) {
			q.Bid, q.HasBid = p, true
		}
	}
	for _, l := range book.Asks {
		p, ok := parseLevelPrice(l.Price)
		if ok && (!q.HasAsk || p.LessThan(q.Ask)) {
			q.Ask, q.HasAsk = p, true
		}
	}
	return q
}

func parseLevelPrice(s string) (domain.Price, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return domain.Price{}, false
	}
	return domain.Price{Pips: int(d.Shift(4).Round(0).IntPart())}, true
}
