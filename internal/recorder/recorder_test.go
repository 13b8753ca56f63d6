package recorder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/updown/internal/backtest"
	"github.com/betbot/updown/internal/domain"
)

func snapshot(period, elapsed int64, m *domain.Market, up, down domain.TokenQuote) *domain.Snapshot {
	return &domain.Snapshot{
		Period:           period,
		Markets:          []*domain.Market{m},
		Quotes:           map[string]domain.TokenQuote{m.YesAssetID: up, m.NoAssetID: down},
		ElapsedSeconds:   elapsed,
		RemainingSeconds: 900 - elapsed,
		At:               time.Unix(period+elapsed, 0),
	}
}

// 记录下来的文件可以直接被回测加载器读取
func TestRecordRoundTripsThroughLoader(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir)
	require.NoError(t, err)

	m1 := &domain.Market{Slug: "btc-updown-15m-1767000000", YesAssetID: "u1", NoAssetID: "d1", Timestamp: 1767000000}
	m2 := &domain.Market{Slug: "btc-updown-15m-1767000900", YesAssetID: "u2", NoAssetID: "d2", Timestamp: 1767000900}

	require.NoError(t, r.Record(snapshot(1767000000, 0, m1, domain.Quote(0, 0.50), domain.Quote(0.49, 0.51))))
	require.NoError(t, r.Record(snapshot(1767000000, 890, m1, domain.Quote(0.98, 0.99), domain.Quote(0.01, 0.02))))
	require.NoError(t, r.Record(snapshot(1767000900, 1, m2, domain.Quote(0.50, 0.51), domain.Quote(0.49, 0.50))))
	assert.Equal(t, 1, r.Open(), "新周期写入时关闭旧周期文件")
	require.NoError(t, r.Close())

	ps, err := backtest.LoadCSV(r.Path(m1.Slug))
	require.NoError(t, err)
	require.Len(t, ps.Samples, 2)
	assert.False(t, ps.Samples[0].Up.HasBid)
	assert.Equal(t, domain.PriceFromDecimal(0.51), ps.Samples[0].Down.Ask)
	w, ok := ps.FinalWinner()
	require.True(t, ok)
	assert.Equal(t, domain.TokenTypeUp, w)

	// 重新打开同一周期时追加，不重复写表头
	r2, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, r2.Record(snapshot(1767000900, 2, m2, domain.Quote(0.50, 0.51), domain.Quote(0.49, 0.50))))
	require.NoError(t, r2.Close())
	ps, err = backtest.LoadCSV(r.Path(m2.Slug))
	require.NoError(t, err)
	assert.Len(t, ps.Samples, 2)
}
