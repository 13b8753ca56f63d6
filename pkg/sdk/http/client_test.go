package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDecodesAndSendsParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/book", r.URL.Path)
		assert.Equal(t, "tok-1", r.URL.Query().Get("token_id"))
		assert.Equal(t, "updown-bot", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"asset_id":"tok-1"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", Options{Timeout: time.Second})
	var out struct {
		AssetID string `json:"asset_id"`
	}
	err := c.Get(context.Background(), "/book", &RequestOptions{Params: map[string]any{"token_id": "tok-1"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", out.AssetID)
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Options{Timeout: time.Second, RetryCount: 2})
	require.NoError(t, c.Get(context.Background(), "/x", nil, nil))
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"no orderbook"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Options{Timeout: time.Second})
	err := c.Get(context.Background(), "/book", nil, nil)
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Status)
	assert.Contains(t, se.Body, "no orderbook")
	assert.False(t, se.Temporary())
	assert.True(t, (&StatusError{Status: 502}).Temporary())
}
