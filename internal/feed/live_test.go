package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/updown/internal/domain"
	"github.com/betbot/updown/pkg/config"
	"github.com/betbot/updown/pkg/marketspec"
)

type mapSource struct {
	quotes map[string]domain.TokenQuote
	asked  [][]*domain.Market
	err    error
}

func (s *mapSource) Quotes(_ context.Context, markets []*domain.Market) (map[string]domain.TokenQuote, error) {
	s.asked = append(s.asked, markets)
	out := make(map[string]domain.TokenQuote)
	for _, m := range markets {
		for _, id := range []string{m.YesAssetID, m.NoAssetID} {
			if q, ok := s.quotes[id]; ok {
				out[id] = q
			}
		}
	}
	return out, s.err
}

func TestStaticMarketSource(t *testing.T) {
	src, err := NewStaticMarketSource([]config.MarketConfig{
		{Slug: "btc-updown-15m-1767000600", YesAssetID: "u1", NoAssetID: "d1", ConditionID: "c1"},
		{Asset: "ETH", Timestamp: 1767001500, YesAssetID: "u2", NoAssetID: "d2"},
	}, "15m")
	require.NoError(t, err)

	ms, err := src.Markets(context.Background(), 1767001500)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, "eth-updown-15m-1767001500", ms[0].Slug)
	assert.Equal(t, "eth", ms[0].Asset)

	_, err = NewStaticMarketSource([]config.MarketConfig{{Slug: "btc-updown-15m-1767000600"}}, "15m")
	assert.Error(t, err, "缺少资产 ID")
}

func TestLiveMergesSourcesByPriority(t *testing.T) {
	markets, err := NewStaticMarketSource([]config.MarketConfig{
		{Slug: "btc-updown-15m-1767000600", YesAssetID: "u1", NoAssetID: "d1"},
	}, "15m")
	require.NoError(t, err)
	spec, err := marketspec.New("btc", "15m", "")
	require.NoError(t, err)

	ws := &mapSource{quotes: map[string]domain.TokenQuote{"u1": domain.Quote(0.60, 0.61)}}
	rest := &mapSource{
		quotes: map[string]domain.TokenQuote{"u1": domain.Quote(0.10, 0.11), "d1": domain.Quote(0.38, 0.39)},
		err:    errors.New("部分失败"),
	}

	now := time.Unix(1767000600+125, 0)
	live := NewLive(spec, markets, ws, rest)
	live.SetClock(func() time.Time { return now })
	var periods []int64
	live.OnPeriod(func(p int64, _ []*domain.Market) { periods = append(periods, p) })

	snap, err := live.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1767000600), snap.Period)
	assert.Equal(t, int64(125), snap.ElapsedSeconds)
	assert.Equal(t, int64(775), snap.RemainingSeconds)
	assert.Equal(t, domain.PriceFromDecimal(0.61), snap.Quotes["u1"].Ask, "优先使用第一个源")
	assert.Equal(t, domain.PriceFromDecimal(0.39), snap.Quotes["d1"].Ask)

	now = now.Add(time.Second)
	_, err = live.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1767000600}, periods, "同一周期只回调一次")

	now = time.Unix(1767001500, 0)
	snap, err = live.Next(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Markets)
	assert.Equal(t, []int64{1767000600, 1767001500}, periods)
}

func TestReplayFeed(t *testing.T) {
	r := NewReplay([]*domain.Snapshot{{Period: 1}, {Period: 2}})
	s, err := r.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Period)
	assert.Equal(t, 1, r.Remaining())
	_, _ = r.Next(context.Background())
	assert.Equal(t, int64(2), r.Last().Period)
	_, err = r.Next(context.Background())
	assert.ErrorIs(t, err, ErrExhausted)
}
