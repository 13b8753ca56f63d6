package clob

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/updown/internal/domain"
)

func newBookServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.Equal(t, "/book", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("token_id") {
		case "up-1":
			_, _ = w.Write([]byte(`{"asset_id":"up-1","bids":[{"price":"0.47","size":"5"},{"price":"0.49","size":"1"}],"asks":[{"price":"0.53","size":"2"},{"price":"0.51","size":"9"}]}`))
		case "down-1":
			_, _ = w.Write([]byte(`{"asset_id":"down-1","bids":[],"asks":[{"price":"0.52","size":"2"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"No orderbook exists for the requested token id"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBookBestPrices(t *testing.T) {
	var hits atomic.Int32
	srv := newBookServer(t, &hits)
	c := NewBookClient(srv.URL, Options{RequestsPerSecond: 100, CacheTTL: time.Minute})
	defer c.Close()

	q, err := c.Book(context.Background(), "up-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PriceFromDecimal(0.49), q.Bid)
	assert.Equal(t, domain.PriceFromDecimal(0.51), q.Ask)

	_, err = c.Book(context.Background(), "up-1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "TTL 内走缓存")

	q, err = c.Book(context.Background(), "down-1")
	require.NoError(t, err)
	assert.False(t, q.HasBid)
	assert.True(t, q.HasAsk)
}

func TestQuotesSkipsFailedAssets(t *testing.T) {
	var hits atomic.Int32
	srv := newBookServer(t, &hits)
	c := NewBookClient(srv.URL, Options{RequestsPerSecond: 100})
	defer c.Close()

	markets := []*domain.Market{
		{Slug: "btc-updown-15m-1", YesAssetID: "up-1", NoAssetID: "down-1"},
		{Slug: "eth-updown-15m-1", YesAssetID: "missing-up", NoAssetID: "missing-down"},
	}
	out, err := c.Quotes(context.Background(), markets)
	require.NoError(t, err)
	assert.Len(t, out, 2)

	_, err = c.Quotes(context.Background(), markets[1:])
	assert.Error(t, err)
}
