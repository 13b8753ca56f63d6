// Package gamma 通过 Gamma API 按 slug 查询周期市场（token ID、condition ID）。
package gamma

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/betbot/updown/internal/domain"
	"github.com/betbot/updown/pkg/marketspec"
	sdkhttp "github.com/betbot/updown/pkg/sdk/http"
)

var log = logrus.WithField("component", "gamma")

const DefaultURL = "https://gamma-api.polymarket.com"

type gammaMarket struct {
	Question     string `json:"question"`
	ConditionID  string `json:"conditionId"`
	Slug         string `json:"slug"`
	ClobTokenIDs string `json:"clobTokenIds"`
}

// MarketSource 每个标的按 slug 查询一次，结果按 slug 缓存
type MarketSource struct {
	http    *sdkhttp.Client
	limiter *rate.Limiter
	specs   []marketspec.MarketSpec

	mu    sync.Mutex
	known map[string]*domain.Market
}

func NewMarketSource(baseURL string, specs []marketspec.MarketSpec, proxy string) *MarketSource {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &MarketSource{
		http:    sdkhttp.NewClient(baseURL, sdkhttp.Options{Timeout: 15 * time.Second, RetryCount: 2, Proxy: proxy}),
		limiter: rate.NewLimiter(rate.Limit(2), 2),
		specs:   specs,
		known:   make(map[string]*domain.Market),
	}
}

// Markets 实现 feed.MarketSource；单个标的查询失败时跳过，全部失败才返回错误
func (s *MarketSource) Markets(ctx context.Context, period int64) ([]*domain.Market, error) {
	var out []*domain.Market
	var lastErr error
	for _, spec := range s.specs {
		m, err := s.Market(ctx, spec, period)
		if err != nil {
			lastErr = err
			log.Warnf("⚠️ 获取市场失败 %s: %v", spec.Slug(period), err)
			continue
		}
		out = append(out, m)
	}
	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	s.prune(period)
	return out, nil
}

// Market 查询单个周期市场
func (s *MarketSource) Market(ctx context.Context, spec marketspec.MarketSpec, period int64) (*domain.Market, error) {
	slug := spec.Slug(period)
	s.mu.Lock()
	m, ok := s.known[slug]
	s.mu.Unlock()
	if ok {
		return m, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "等待限速")
	}
	var list []gammaMarket
	err := s.http.Get(ctx, "/markets", &sdkhttp.RequestOptions{Params: map[string]any{"slug": slug}}, &list)
	if err != nil {
		return nil, errors.Wrapf(err, "查询 Gamma 市场失败 slug=%s", slug)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("Gamma 中没有该市场: %s", slug)
	}

	yes, no := parseTokenIDs(list[0].ClobTokenIDs)
	m = &domain.Market{
		Slug:            slug,
		Asset:           spec.Symbol,
		YesAssetID:      yes,
		NoAssetID:       no,
		ConditionID:     list[0].ConditionID,
		Question:        list[0].Question,
		Timestamp:       period,
		DurationSeconds: spec.Timeframe.Seconds(),
	}
	if err := validateMarket(m); err != nil {
		return nil, fmt.Errorf("Gamma 市场数据不完整（拒绝使用）: %w", err)
	}

	s.mu.Lock()
	s.known[slug] = m
	s.mu.Unlock()
	log.Infof("从 Gamma 获取市场成功: %s", slug)
	return m, nil
}

func (s *MarketSource) prune(before int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for slug, m := range s.known {
		if m.Timestamp < before {
			delete(s.known, slug)
		}
	}
}

// validateMarket 进入交易系统的市场必须有完整的资产与条件 ID
func validateMarket(m *domain.Market) error {
	if strings.TrimSpace(m.YesAssetID) == "" || strings.TrimSpace(m.NoAssetID) == "" {
		return fmt.Errorf("market assetIDs 缺失: yes=%q no=%q", m.YesAssetID, m.NoAssetID)
	}
	if strings.TrimSpace(m.ConditionID) == "" {
		return fmt.Errorf("market ConditionID 为空: slug=%s", m.Slug)
	}
	return nil
}

// parseTokenIDs clobTokenIds 是 JSON 编码的字符串数组，第一个为 UP
func parseTokenIDs(raw string) (yes, no string) {
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil || len(ids) < 2 {
		return "", ""
	}
	return ids[0], ids[1]
}
