package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/updown/internal/backtest"
	"github.com/betbot/updown/internal/domain"
	"github.com/betbot/updown/internal/oms"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func outcome(period int64, slug string, pnl string) oms.PeriodOutcome {
	m := &domain.Market{Slug: slug, Asset: "btc", YesAssetID: slug + ":up", NoAssetID: slug + ":down", Timestamp: period}
	rec := domain.NewTradeRecord(domain.TrackingKey{Period: period, AssetID: m.YesAssetID, Role: domain.RolePrimary}, m, domain.TokenTypeUp, time.Unix(period, 0))
	rec.AddEntryFill(1, domain.PriceFromDecimal(0.9))
	p := decimal.RequireFromString(pnl)
	return oms.PeriodOutcome{
		Period:     period,
		Market:     m,
		Winner:     domain.TokenTypeUp,
		Determined: true,
		UpFilled:   true,
		Cost:       decimal.RequireFromString("0.9"),
		Value:      decimal.RequireFromString("0.9").Add(p),
		PnL:        p,
		Records:    []*domain.TradeRecord{rec},
	}
}

func TestRecordOutcomeAndSummary(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()

	require.NoError(t, j.RecordOutcome(ctx, outcome(1767000000, "btc-updown-15m-1767000000", "0.1")))
	require.NoError(t, j.RecordOutcome(ctx, outcome(1767000900, "btc-updown-15m-1767000900", "-0.9")))
	// 重复写入覆盖
	require.NoError(t, j.RecordOutcome(ctx, outcome(1767000900, "btc-updown-15m-1767000900", "-0.9")))

	rows, err := j.Outcomes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1767000900), rows[0].Period)
	assert.Equal(t, "loss", rows[0].Result)
	assert.True(t, rows[1].UpFilled)

	trades, err := j.Trades(ctx, 1767000000)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "primary", trades[0].Role)
	assert.Equal(t, 1.0, trades[0].Shares)

	// 赢方未知的周期单独计数，不进入合计盈亏
	unknown := outcome(1767001800, "btc-updown-15m-1767001800", "-0.9")
	unknown.Determined = false
	unknown.Winner = ""
	unknown.Unresolved = 1
	require.NoError(t, j.RecordOutcome(ctx, unknown))

	sum, err := j.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Periods)
	assert.Equal(t, 1, sum.Wins)
	assert.Equal(t, 1, sum.Losses)
	assert.Equal(t, 1, sum.Undetermined)
	assert.Equal(t, "-0.8000", sum.TotalPnL)

	rows, err = j.Outcomes(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "undetermined", rows[0].Result)
}

func TestRecordBacktest(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()

	rep := backtest.Report{
		Periods: []backtest.PeriodResult{
			{Period: 1, Slug: "btc-updown-15m-1", Winner: domain.TokenTypeDown, PnL: decimal.RequireFromString("-0.25")},
		},
		Excluded: []backtest.Exclusion{{Period: 2, Name: "btc-updown-15m-2", Reason: "too short"}},
		Losses:   1,
		TotalPnL: decimal.RequireFromString("-0.25"),
	}
	id, err := j.RecordBacktest(ctx, "unit", rep)
	require.NoError(t, err)
	assert.Positive(t, id)

	runs, err := j.BacktestRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Excluded)
	assert.Equal(t, "-0.25", runs[0].TotalPnL)
}
