package server

import (
	"context"
	"encoding/json"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/updown/internal/domain"
	"github.com/betbot/updown/internal/journal"
	"github.com/betbot/updown/internal/oms"
	"github.com/betbot/updown/internal/risk"
	"github.com/betbot/updown/internal/services"
)

type fakeStatus struct {
	st      services.Status
	breaker *risk.CircuitBreaker
}

func (f *fakeStatus) Status() services.Status       { return f.st }
func (f *fakeStatus) Breaker() *risk.CircuitBreaker { return f.breaker }

func testOutcome() oms.PeriodOutcome {
	m := &domain.Market{Slug: "btc-updown-15m-1000", Asset: "btc", YesAssetID: "UP", NoAssetID: "DOWN", Timestamp: 1000}
	rec := domain.NewTradeRecord(domain.TrackingKey{Period: 1000, AssetID: "UP", Role: domain.RolePrimary}, m, domain.TokenTypeUp, time.Unix(1000, 0))
	rec.AddEntryFill(1, domain.PriceFromDecimal(0.4))
	return oms.PeriodOutcome{
		Period:     1000,
		Market:     m,
		Winner:     domain.TokenTypeUp,
		Determined: true,
		UpFilled:   true,
		Cost:       decimal.RequireFromString("0.4"),
		Value:      decimal.RequireFromString("1"),
		PnL:        decimal.RequireFromString("0.6"),
		Records:    []*domain.TradeRecord{rec},
	}
}

func newTestServer(t *testing.T, withJournal bool) (*Server, *fakeStatus) {
	t.Helper()
	fs := &fakeStatus{
		st:      services.Status{Period: 1900, Elapsed: 30, Remaining: 870, Ticks: 3, Recent: []oms.PeriodOutcome{testOutcome()}},
		breaker: risk.NewCircuitBreaker(risk.CircuitBreakerConfig{}),
	}
	var jr JournalReader
	if withJournal {
		j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = j.Close() })
		require.NoError(t, j.RecordOutcome(context.Background(), testOutcome()))
		jr = j
	}
	logFile := filepath.Join(t.TempDir(), "bot.log")
	require.NoError(t, os.WriteFile(logFile, []byte("a\nb\nc\n"), 0o644))

	s, err := New(Config{LogFile: logFile}, fs, jr)
	require.NoError(t, err)
	return s, fs
}

func do(t *testing.T, h http.Handler, method, path string) (int, map[string]any) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	var body map[string]any
	if rr.Body.Len() > 0 && rr.Header().Get("Content-Type") != "text/html; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	}
	return rr.Code, body
}

func TestStatusAndRecent(t *testing.T) {
	s, _ := newTestServer(t, false)
	h := s.Router()

	code, _ := do(t, h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, code)

	code, body := do(t, h, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, code)
	st := body["status"].(map[string]any)
	assert.EqualValues(t, 1900, st["period"])
	recent := body["recent"].([]any)
	require.Len(t, recent, 1)
	assert.Equal(t, "win", recent[0].(map[string]any)["result"])
	assert.Equal(t, "0.6000", recent[0].(map[string]any)["pnl"])

	code, _ = do(t, h, http.MethodGet, "/api/periods")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestPeriodsFromJournal(t *testing.T) {
	s, _ := newTestServer(t, true)
	h := s.Router()

	code, body := do(t, h, http.MethodGet, "/api/periods?limit=5")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["summary"].(map[string]any)["wins"])
	require.Len(t, body["periods"].([]any), 1)

	code, body = do(t, h, http.MethodGet, "/api/periods/1000/trades")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["trades"].([]any), 1)

	code, _ = do(t, h, http.MethodGet, "/api/periods/42/trades")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = do(t, h, http.MethodGet, "/api/periods/abc/trades")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHaltResume(t *testing.T) {
	s, fs := newTestServer(t, false)
	h := s.Router()

	code, _ := do(t, h, http.MethodPost, "/api/risk/halt")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, fs.breaker.Halted())
	assert.Error(t, fs.breaker.AllowEntry())

	code, _ = do(t, h, http.MethodPost, "/api/risk/resume")
	require.Equal(t, http.StatusOK, code)
	assert.False(t, fs.breaker.Halted())
}

func TestLogsTail(t *testing.T) {
	s, _ := newTestServer(t, false)
	code, body := do(t, s.Router(), http.MethodGet, "/api/logs?tail=2")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"b", "c"}, body["lines"])
	assert.Equal(t, "bot.log", body["file"])
}

func TestTailLinesDropsPartialWindowLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.log")
	head := strings.Repeat("x", tailWindowBytes)
	require.NoError(t, os.WriteFile(path, []byte(head+"\nlast-1\r\nlast-2\n"), 0o644))

	lines, err := tailLines(path, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"last-1", "last-2"}, lines)

	_, err = tailLines(filepath.Join(t.TempDir(), "missing.log"), 10)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLogFollowerSwitchesFile(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "updown-15m-1767000600.log")
	second := filepath.Join(dir, "updown-15m-1767001500.log")
	require.NoError(t, os.WriteFile(first, []byte("old\n"), 0o644))

	var lf logFollower
	defer lf.close()
	lines, err := lf.poll(first)
	require.NoError(t, err)
	assert.Empty(t, lines, "首次打开从末尾开始")

	appendLog(t, first, "one\ntw")
	lines, err = lf.poll(first)
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, lines)
	appendLog(t, first, "o\n")
	lines, err = lf.poll(first)
	require.NoError(t, err)
	assert.Equal(t, []string{"two"}, lines)

	// 尚未创建的新文件不报错，出现后从头读
	lines, err = lf.poll(second)
	require.NoError(t, err)
	assert.Empty(t, lines)
	require.NoError(t, os.WriteFile(second, []byte("new-1\nnew-2\n"), 0o644))
	lines, err = lf.poll(second)
	require.NoError(t, err)
	assert.Equal(t, []string{"new-1", "new-2"}, lines)
}

func TestLogsStream(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bot.log")
	require.NoError(t, os.WriteFile(path, []byte("before\n"), 0o644))
	s, err := New(Config{LogFile: filepath.Join(dir, "unused.log"), CurrentLogFile: func() string { return path }}, &fakeStatus{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	go func() {
		time.Sleep(3 * logPollInterval)
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return
		}
		_, _ = f.WriteString("after\n")
		_ = f.Close()
	}()

	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/logs/stream", nil).WithContext(ctx))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/event-stream")
	assert.Contains(t, rr.Body.String(), "data:after")
	assert.NotContains(t, rr.Body.String(), "before")
}

func appendLog(t *testing.T, path, text string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(text)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, false)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "updown_tick_errors_total")
}
