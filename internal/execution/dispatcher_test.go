package execution

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/updown/internal/domain"
	"github.com/betbot/updown/internal/ports"
)

type slowGateway struct {
	delay   time.Duration
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (g *slowGateway) enter() func() {
	n := g.active.Add(1)
	for {
		cur := g.maxSeen.Load()
		if n <= cur || g.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	return func() { g.active.Add(-1) }
}

func (g *slowGateway) PlaceOrder(ctx context.Context, intent domain.OrderIntent) (ports.OrderAck, error) {
	defer g.enter()()
	select {
	case <-time.After(g.delay):
		return ports.OrderAck{OrderRef: "ref-" + intent.AssetID}, nil
	case <-ctx.Done():
		return ports.OrderAck{}, ctx.Err()
	}
}

func (g *slowGateway) CancelOrder(ctx context.Context, ref string) error {
	if ref == "missing" {
		return ports.ErrOrderNotFound
	}
	return nil
}

func (g *slowGateway) GetBalance(ctx context.Context, assetID string) (float64, error) {
	if assetID == "bad" {
		return 0, errors.New("boom")
	}
	return float64(len(assetID)), nil
}

func intents(assets ...string) []domain.OrderIntent {
	out := make([]domain.OrderIntent, len(assets))
	for i, a := range assets {
		out[i] = domain.OrderIntent{
			Key:     domain.TrackingKey{Period: 1, AssetID: a, Role: domain.RolePrimary},
			AssetID: a,
			Side:    domain.SideBuy,
			Style:   domain.OrderStyleLimit,
			Price:   domain.PriceFromDecimal(0.5),
			Size:    1,
		}
	}
	return out
}

func TestPlaceAll_ResultsKeepInputOrder(t *testing.T) {
	gw := &slowGateway{delay: 10 * time.Millisecond}
	d := NewDispatcher(gw, Options{Timeout: time.Second, MaxInFlight: 2})

	res := d.PlaceAll(context.Background(), intents("a", "b", "c", "d"))
	require.Len(t, res, 4)
	for i, a := range []string{"a", "b", "c", "d"} {
		require.NoError(t, res[i].Err)
		assert.Equal(t, "ref-"+a, res[i].Ack.OrderRef)
		assert.Equal(t, a, res[i].Intent.AssetID)
	}
	assert.LessOrEqual(t, gw.maxSeen.Load(), int32(2))
	assert.Zero(t, d.inFlight.Len())
}

func TestPlaceAll_TimeoutIsTransient(t *testing.T) {
	gw := &slowGateway{delay: time.Second}
	d := NewDispatcher(gw, Options{Timeout: 20 * time.Millisecond, MaxInFlight: 4})

	res := d.PlaceAll(context.Background(), intents("a"))
	require.Error(t, res[0].Err)
	assert.ErrorIs(t, res[0].Err, ports.ErrTransient)
	assert.True(t, ports.IsTransient(res[0].Err))
}

func TestPlaceAll_DuplicateKeyInSameBatch(t *testing.T) {
	gw := &slowGateway{delay: 10 * time.Millisecond}
	d := NewDispatcher(gw, Options{Timeout: time.Second, MaxInFlight: 4})

	res := d.PlaceAll(context.Background(), intents("a", "a"))
	require.NoError(t, res[0].Err)
	assert.ErrorIs(t, res[1].Err, ports.ErrTransient)
}

func TestCancelAllAndBalances(t *testing.T) {
	d := NewDispatcher(&slowGateway{}, Options{})

	cr := d.CancelAll(context.Background(), []CancelRequest{{OrderRef: "x"}, {OrderRef: "missing"}})
	assert.NoError(t, cr[0].Err)
	assert.ErrorIs(t, cr[1].Err, ports.ErrOrderNotFound)

	br := d.Balances(context.Background(), []string{"abc", "bad"})
	assert.NoError(t, br[0].Err)
	assert.InDelta(t, 3.0, br[0].Balance, 1e-9)
	assert.Error(t, br[1].Err)
}

func TestInFlightDeduper(t *testing.T) {
	d := NewInFlightDeduper(50*time.Millisecond, 4)
	require.NoError(t, d.TryAcquire("k"))
	assert.ErrorIs(t, d.TryAcquire("k"), ErrDuplicateInFlight)
	d.Release("k")
	assert.NoError(t, d.TryAcquire("k"))

	time.Sleep(60 * time.Millisecond)
	assert.NoError(t, d.TryAcquire("k"), "过期后可以重新获取")
}
