package paper

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/updown/internal/domain"
	"github.com/betbot/updown/internal/ports"
)

func snap(asset string, bid, ask float64) *domain.Snapshot {
	return &domain.Snapshot{Quotes: map[string]domain.TokenQuote{asset: domain.Quote(bid, ask)}}
}

func buy(asset string, style domain.OrderStyle, price float64, size float64) domain.OrderIntent {
	return domain.OrderIntent{AssetID: asset, Side: domain.SideBuy, Style: style, Price: domain.PriceFromDecimal(price), Size: size}
}

func TestLimitBuyFillsImmediatelyAtAsk(t *testing.T) {
	g := New()
	g.Observe(snap("up", 0.94, 0.95))

	ack, err := g.PlaceOrder(context.Background(), buy("up", domain.OrderStyleLimit, 0.97, 2))
	require.NoError(t, err)
	assert.True(t, ack.Filled)
	assert.Equal(t, domain.PriceFromDecimal(0.95), ack.FilledPrice)

	bal, _ := g.GetBalance(context.Background(), "up")
	assert.InDelta(t, 2.0, bal, 1e-9)
	assert.Empty(t, g.DrainFills(), "立即成交只通过回执返回")
}

func TestLimitBuyRestsUntilAskCrosses(t *testing.T) {
	g := New()
	g.Observe(snap("up", 0.94, 0.95))

	ack, err := g.PlaceOrder(context.Background(), buy("up", domain.OrderStyleLimit, 0.87, 1))
	require.NoError(t, err)
	require.False(t, ack.Filled)

	g.Observe(snap("up", 0.88, 0.90))
	assert.Empty(t, g.DrainFills())

	g.Observe(snap("up", 0.85, 0.86))
	fills := g.DrainFills()
	require.Len(t, fills, 1)
	assert.Equal(t, ack.OrderRef, fills[0].OrderRef)
	assert.Equal(t, domain.PriceFromDecimal(0.86), fills[0].Price)

	assert.ErrorIs(t, g.CancelOrder(context.Background(), ack.OrderRef), ports.ErrOrderNotFound)
}

func TestSellNeedsBalance(t *testing.T) {
	g := New()
	sell := domain.OrderIntent{AssetID: "up", Side: domain.SideSell, Style: domain.OrderStyleLimit, Price: domain.PriceFromDecimal(0.99), Size: 1}
	_, err := g.PlaceOrder(context.Background(), sell)
	assert.ErrorIs(t, err, ports.ErrOrderRejected)

	_, err = g.PlaceOrder(context.Background(), buy("up", domain.OrderStyleMarket, 0.9, 1))
	require.NoError(t, err)

	ack, err := g.PlaceOrder(context.Background(), sell)
	require.NoError(t, err)
	require.False(t, ack.Filled)

	// 挂单占用份额，不能再挂第二张
	_, err = g.PlaceOrder(context.Background(), sell)
	assert.ErrorIs(t, err, ports.ErrOrderRejected)

	require.NoError(t, g.CancelOrder(context.Background(), ack.OrderRef))
	_, err = g.PlaceOrder(context.Background(), sell)
	assert.NoError(t, err)
}

func TestRestingSellFillsOnBid(t *testing.T) {
	g := New()
	_, err := g.PlaceOrder(context.Background(), buy("up", domain.OrderStyleMarket, 0.9, 3))
	require.NoError(t, err)
	sell := domain.OrderIntent{AssetID: "up", Side: domain.SideSell, Style: domain.OrderStyleLimit, Price: domain.PriceFromDecimal(0.99), Size: 3}
	_, err = g.PlaceOrder(context.Background(), sell)
	require.NoError(t, err)

	g.Observe(snap("up", 0.99, 1.0))
	fills := g.DrainFills()
	require.Len(t, fills, 1)
	assert.Equal(t, domain.SideSell, fills[0].Side)
	bal, _ := g.GetBalance(context.Background(), "up")
	assert.InDelta(t, 0, bal, 1e-9)
	assert.Equal(t, "0.2700", g.Cash().StringFixed(4))
}

func TestSettle(t *testing.T) {
	g := New()
	m := &domain.Market{Slug: "btc", YesAssetID: "up", NoAssetID: "down", Timestamp: 1}
	_, _ = g.PlaceOrder(context.Background(), buy("up", domain.OrderStyleMarket, 0.6, 1))
	_, _ = g.PlaceOrder(context.Background(), buy("down", domain.OrderStyleMarket, 0.4, 1))
	g.Settle(m, domain.TokenTypeUp)
	assert.True(t, g.Cash().IsZero())
}
