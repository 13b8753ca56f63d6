package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/updown/internal/domain"
)

type update struct {
	asset    string
	bid, ask domain.Price
}

type recordingSink struct {
	known   map[string]bool
	updates []update
}

func (s *recordingSink) Update(assetID string, bid, ask domain.Price) bool {
	if !s.known[assetID] {
		return false
	}
	s.updates = append(s.updates, update{assetID, bid, ask})
	return true
}

func newTestStream() (*MarketStream, *recordingSink) {
	sink := &recordingSink{known: map[string]bool{"up-1": true, "down-1": true}}
	return NewMarketStream("ws://127.0.0.1:0", "http://127.0.0.1:0", sink), sink
}

func TestHandleBookMessage(t *testing.T) {
	m, sink := newTestStream()
	m.handleMessage([]byte(`{"event_type":"book","asset_id":"up-1",
		"bids":[{"price":"0.48","size":"10"},{"price":"0.50","size":"3"}],
		"asks":[{"price":"0.55","size":"1"},{"price":"0.52","size":"7"}]}`))

	require.Len(t, sink.updates, 1)
	assert.Equal(t, domain.PriceFromDecimal(0.50), sink.updates[0].bid)
	assert.Equal(t, domain.PriceFromDecimal(0.52), sink.updates[0].ask)
}

func TestHandlePriceChangeArray(t *testing.T) {
	m, sink := newTestStream()
	m.handleMessage([]byte(`[{"event_type":"price_change","price_changes":[
		{"asset_id":"up-1","best_bid":"0.61","best_ask":"0.62"},
		{"asset_id":"down-1","best_bid":"0.38","best_ask":"0.39"},
		{"asset_id":"other","best_bid":"0.10","best_ask":"0.11"}]}]`))

	require.Len(t, sink.updates, 2)
	assert.Equal(t, "down-1", sink.updates[1].asset)
	assert.Equal(t, domain.PriceFromDecimal(0.39), sink.updates[1].ask)
}

func TestHandleIgnoresNoise(t *testing.T) {
	m, sink := newTestStream()
	m.handleMessage([]byte("PONG"))
	m.handleMessage([]byte("not json"))
	m.handleMessage([]byte(`{"event_type":"last_trade_price","asset_id":"up-1","price":"0.5"}`))
	m.handleMessage([]byte(`{"event_type":"book","asset_id":"up-1","bids":[],"asks":[]}`))
	assert.Empty(t, sink.updates)
}

func TestParsePrice(t *testing.T) {
	cases := []struct {
		in   string
		pips int
	}{
		{"0.12345", 1235},
		{"0.5", 5000},
		{" 0.99 ", 9900},
		{"1", 10000},
		{"0.001", 10},
	}
	for _, c := range cases {
		p, err := parsePrice(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.pips, p.Pips, c.in)
	}

	for _, bad := range []string{"  ", "abc", "-0.1", "1.01"} {
		_, err := parsePrice(bad)
		assert.Error(t, err, bad)
	}

	_, ok := parseOptional("")
	assert.False(t, ok)
}

func TestSubscribeBeforeConnect(t *testing.T) {
	m, _ := newTestStream()
	require.NoError(t, m.Subscribe("up-1", "down-1", "up-1"))
	assert.Equal(t, []string{"down-1", "up-1"}, m.subscribedAssets())
	m.Unsubscribe("up-1")
	assert.Equal(t, []string{"down-1"}, m.subscribedAssets())
}
