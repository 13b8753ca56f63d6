// Package backtest 用历史报价序列重放双边限价入场策略，计算每个周期和整体的 P&L。
package backtest

import (
	"fmt"
	"time"

	"github.com/betbot/updown/internal/domain"
)

// Sample 一个时间点的两侧报价
type Sample struct {
	At      time.Time
	Elapsed int64 // 周期开始后的秒数
	Up      domain.TokenQuote
	Down    domain.TokenQuote
}

// Minute 已过去的整分钟数
func (s Sample) Minute() int64 {
	return domain.ElapsedMinutes(s.Elapsed)
}

// Quote 按 token 取报价
func (s Sample) Quote(tok domain.TokenType) domain.TokenQuote {
	if tok == domain.TokenTypeUp {
		return s.Up
	}
	return s.Down
}

// PeriodSeries 一个市场一个周期的报价序列
type PeriodSeries struct {
	Period   int64  // 周期开始时间
	Asset    string // btc/eth/...
	Slug     string
	Duration int64 // 秒，0 表示 900
	Source   string
	Samples  []Sample
}

// DurationSeconds 周期时长
func (s *PeriodSeries) DurationSeconds() int64 {
	if s.Duration > 0 {
		return s.Duration
	}
	return domain.DefaultPeriodSeconds
}

// Name 用于日志和报告
func (s *PeriodSeries) Name() string {
	if s.Slug != "" {
		return s.Slug
	}
	return fmt.Sprintf("%s-%d", s.Asset, s.Period)
}

// Market 构造回放用的市场（token ID 由 slug 派生）
func (s *PeriodSeries) Market() *domain.Market {
	name := s.Name()
	return &domain.Market{
		Slug:            name,
		Asset:           s.Asset,
		YesAssetID:      name + ":up",
		NoAssetID:       name + ":down",
		ConditionID:     name,
		Timestamp:       s.Period,
		DurationSeconds: s.DurationSeconds(),
	}
}

// Snapshots 把序列转换为实盘使用的快照
func (s *PeriodSeries) Snapshots() []*domain.Snapshot {
	m := s.Market()
	out := make([]*domain.Snapshot, 0, len(s.Samples))
	for _, smp := range s.Samples {
		at := smp.At
		if at.IsZero() {
			at = time.Unix(s.Period+smp.Elapsed, 0).UTC()
		}
		remaining := s.DurationSeconds() - smp.Elapsed
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, &domain.Snapshot{
			Period:  s.Period,
			Markets: []*domain.Market{m},
			Quotes: map[string]domain.TokenQuote{
				m.YesAssetID: smp.Up,
				m.NoAssetID:  smp.Down,
			},
			ElapsedSeconds:   smp.Elapsed,
			RemainingSeconds: remaining,
			At:               at,
		})
	}
	return out
}

// FinalWinner 用最后一个两侧 ask 都存在的样本判定赢方（序列按时间排序，最后 30 秒内的样本自然优先）
func (s *PeriodSeries) FinalWinner() (domain.TokenType, bool) {
	for i := len(s.Samples) - 1; i >= 0; i-- {
		smp := s.Samples[i]
		if smp.Up.HasAsk && smp.Down.HasAsk {
			return domain.ResolveWinner(smp.Up.Ask, smp.Down.Ask)
		}
	}
	return "", false
}

// ordered 样本必须按时间非递减
func (s *PeriodSeries) ordered() bool {
	for i := 1; i < len(s.Samples); i++ {
		if s.Samples[i].Elapsed < s.Samples[i-1].Elapsed {
			return false
		}
	}
	return true
}
