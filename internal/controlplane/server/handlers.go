package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/betbot/updown/internal/oms"
)

type outcomeView struct {
	Period     int64  `json:"period"`
	Slug       string `json:"slug"`
	Winner     string `json:"winner,omitempty"`
	Result     string `json:"result"`
	UpFilled   bool   `json:"up_filled"`
	DownFilled bool   `json:"down_filled"`
	Cost       string `json:"cost"`
	Value      string `json:"value"`
	PnL        string `json:"pnl"`
}

func viewOutcome(o oms.PeriodOutcome) outcomeView {
	v := outcomeView{
		Period:     o.Period,
		Result:     o.Result(),
		UpFilled:   o.UpFilled,
		DownFilled: o.DownFilled,
		Cost:       o.Cost.StringFixed(4),
		Value:      o.Value.StringFixed(4),
		PnL:        o.PnL.StringFixed(4),
	}
	if o.Market != nil {
		v.Slug = o.Market.Slug
	}
	if o.Determined {
		v.Winner = string(o.Winner)
	}
	return v
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.status.Status()
	recent := make([]outcomeView, 0, len(st.Recent))
	for i := len(st.Recent) - 1; i >= 0; i-- {
		recent = append(recent, viewOutcome(st.Recent[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": st, "recent": recent})
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"records": s.status.Status().Live})
}

func (s *Server) handlePeriods(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	rows, err := s.journal.Outcomes(ctx, queryInt(r, "limit", 100, 1000))
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("db list: %v", err))
		return
	}
	sum, err := s.journal.Summary(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("db summary: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": sum, "periods": rows})
}

func (s *Server) handlePeriodTrades(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	period, err := strconv.ParseInt(pathParam(r, "period"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid period")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	rows, err := s.journal.Trades(ctx, period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("db list: %v", err))
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, "period not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"period": period, "trades": rows})
}

func (s *Server) handleBacktests(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	runs, err := s.journal.BacktestRuns(ctx, queryInt(r, "limit", 20, 500))
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("db list: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// 暂停只拦截新的入场，已有持仓的止盈止损照常执行
func (s *Server) handleHalt(w http.ResponseWriter, r *http.Request) {
	b := s.status.Breaker()
	if b == nil {
		writeError(w, http.StatusServiceUnavailable, "circuit breaker disabled")
		return
	}
	b.Halt()
	log.Warnf("⏸️ 控制面暂停入场")
	writeJSON(w, http.StatusOK, map[string]any{"halted": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	b := s.status.Breaker()
	if b == nil {
		writeError(w, http.StatusServiceUnavailable, "circuit breaker disabled")
		return
	}
	b.Resume()
	log.Infof("▶️ 控制面恢复入场")
	writeJSON(w, http.StatusOK, map[string]any{"halted": false})
}

func queryInt(r *http.Request, key string, def, max int) int {
	if v := strings.TrimSpace(r.URL.Query().Get(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= max {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
