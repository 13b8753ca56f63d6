package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/updown/internal/domain"
	"github.com/betbot/updown/internal/ports"
	"github.com/betbot/updown/pkg/config"
	"github.com/betbot/updown/pkg/marketspec"
)

var log = logrus.WithField("component", "feed")

// MarketSource 给出某个周期要交易的市场（市场发现由外部服务完成）
type MarketSource interface {
	Markets(ctx context.Context, period int64) ([]*domain.Market, error)
}

// QuoteSource 给出一组市场的最新报价（assetID -> quote），可以只返回一部分
type QuoteSource interface {
	Quotes(ctx context.Context, markets []*domain.Market) (map[string]domain.TokenQuote, error)
}

// StaticMarketSource 配置文件里写死的市场
type StaticMarketSource struct {
	markets []*domain.Market
}

// NewStaticMarketSource slug 可以推出标的、周期与起点；未写 slug 时用 asset+timestamp 生成
func NewStaticMarketSource(cfgs []config.MarketConfig, timeframe string) (*StaticMarketSource, error) {
	out := make([]*domain.Market, 0, len(cfgs))
	for i, c := range cfgs {
		m := &domain.Market{
			Slug:        strings.TrimSpace(c.Slug),
			Asset:       strings.ToLower(strings.TrimSpace(c.Asset)),
			YesAssetID:  strings.TrimSpace(c.YesAssetID),
			NoAssetID:   strings.TrimSpace(c.NoAssetID),
			ConditionID: c.ConditionID,
			Timestamp:   c.Timestamp,
		}
		if m.Slug != "" {
			spec, ts, err := marketspec.ParseSlug(m.Slug)
			if err != nil {
				return nil, fmt.Errorf("markets[%d]: %w", i, err)
			}
			m.Asset, m.Timestamp = spec.Symbol, ts
			m.DurationSeconds = spec.Timeframe.Seconds()
		} else {
			spec, err := marketspec.New(m.Asset, timeframe, "")
			if err != nil {
				return nil, fmt.Errorf("markets[%d]: %w", i, err)
			}
			m.Asset = spec.Symbol
			m.Slug = spec.Slug(m.Timestamp)
			m.DurationSeconds = spec.Timeframe.Seconds()
		}
		if !m.IsValid() {
			return nil, fmt.Errorf("markets[%d]: 市场信息不完整 slug=%q yes=%q no=%q", i, m.Slug, m.YesAssetID, m.NoAssetID)
		}
		out = append(out, m)
	}
	return &StaticMarketSource{markets: out}, nil
}

// Markets 返回周期起点等于 period 的市场
func (s *StaticMarketSource) Markets(_ context.Context, period int64) ([]*domain.Market, error) {
	var out []*domain.Market
	for _, m := range s.markets {
		if m.Timestamp == period {
			out = append(out, m)
		}
	}
	return out, nil
}

// Live 按墙钟对齐周期，每次 Next 拉取一次报价组成快照。
// 多个报价源按优先级合并：前面的源缺失的资产才向后面的源查询。
type Live struct {
	spec    marketspec.MarketSpec
	markets MarketSource
	sources []QuoteSource
	now     func() time.Time

	onPeriod func(period int64, markets []*domain.Market)

	period  int64
	current []*domain.Market
}

var _ ports.SnapshotFeed = (*Live)(nil)

func NewLive(spec marketspec.MarketSpec, markets MarketSource, sources ...QuoteSource) *Live {
	return &Live{
		spec:    spec,
		markets: markets,
		sources: sources,
		now:     time.Now,
	}
}

// SetClock 测试用
func (l *Live) SetClock(now func() time.Time) {
	l.now = now
}

// OnPeriod 新周期的市场加载完成后回调（用于 WS 订阅、记录器切换）
func (l *Live) OnPeriod(fn func(period int64, markets []*domain.Market)) {
	l.onPeriod = fn
}

// Next 生成当前时刻的快照；市场加载失败时返回错误，下个 tick 重试
func (l *Live) Next(ctx context.Context) (*domain.Snapshot, error) {
	now := l.now()
	period := l.spec.PeriodStartUnix(now)
	elapsed, remaining := l.spec.Clock(period, now)

	if period != l.period {
		markets, err := l.markets.Markets(ctx, period)
		if err != nil {
			return nil, fmt.Errorf("加载周期 %d 的市场失败: %w", period, err)
		}
		l.period, l.current = period, markets
		if len(markets) == 0 {
			log.Warnf("⚠️ 周期 %d 没有可交易的市场", period)
		} else {
			log.Infof("🔄 进入新周期 %d，市场 %d 个", period, len(markets))
		}
		if l.onPeriod != nil {
			l.onPeriod(period, markets)
		}
	}

	quotes := make(map[string]domain.TokenQuote, len(l.current)*2)
	for i, src := range l.sources {
		missing := missingMarkets(l.current, quotes)
		if len(missing) == 0 {
			break
		}
		got, err := src.Quotes(ctx, missing)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warnf("报价源 #%d 失败: %v", i, err)
		}
		for id, q := range got {
			if _, ok := quotes[id]; !ok {
				quotes[id] = q
			}
		}
	}

	return &domain.Snapshot{
		Period:           period,
		Markets:          l.current,
		Quotes:           quotes,
		ElapsedSeconds:   elapsed,
		RemainingSeconds: remaining,
		At:               now,
	}, nil
}

func missingMarkets(markets []*domain.Market, quotes map[string]domain.TokenQuote) []*domain.Market {
	var out []*domain.Market
	for _, m := range markets {
		_, up := quotes[m.YesAssetID]
		_, down := quotes[m.NoAssetID]
		if !up || !down {
			out = append(out, m)
		}
	}
	return out
}
