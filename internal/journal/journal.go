// Package journal 把归档的交易记录、周期结算与回测结果写入 SQLite，供状态 API 和复盘查询。
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/betbot/updown/internal/backtest"
	"github.com/betbot/updown/internal/oms"
)

type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open 打开（或创建）数据库并迁移表结构
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	j := &Journal{db: db, now: time.Now}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS period_outcomes (
  period INTEGER NOT NULL,
  slug TEXT NOT NULL,
  asset TEXT NOT NULL,
  winner TEXT NOT NULL,
  result TEXT NOT NULL,
  up_filled INTEGER NOT NULL,
  down_filled INTEGER NOT NULL,
  cost TEXT NOT NULL,
  value TEXT NOT NULL,
  pnl TEXT NOT NULL,
  mergeable REAL NOT NULL,
  created_at TEXT NOT NULL,
  PRIMARY KEY (period, slug)
);`,
		`
CREATE TABLE IF NOT EXISTS trades (
  tracking_key TEXT NOT NULL,
  period INTEGER NOT NULL,
  slug TEXT NOT NULL,
  token TEXT NOT NULL,
  role TEXT NOT NULL,
  state TEXT NOT NULL,
  shares REAL NOT NULL,
  sold_shares REAL NOT NULL,
  entry_cost TEXT NOT NULL,
  exit_proceeds TEXT NOT NULL,
  note TEXT,
  record_json TEXT NOT NULL,
  created_at TEXT NOT NULL,
  PRIMARY KEY (tracking_key)
);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_period ON trades(period);`,
		`
CREATE TABLE IF NOT EXISTS backtest_runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  periods INTEGER NOT NULL,
  excluded INTEGER NOT NULL,
  wins INTEGER NOT NULL,
  losses INTEGER NOT NULL,
  flats INTEGER NOT NULL,
  total_cost TEXT NOT NULL,
  total_value TEXT NOT NULL,
  total_pnl TEXT NOT NULL,
  created_at TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS backtest_periods (
  run_id INTEGER NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
  period INTEGER NOT NULL,
  slug TEXT NOT NULL,
  winner TEXT NOT NULL,
  fills INTEGER NOT NULL,
  cost TEXT NOT NULL,
  value TEXT NOT NULL,
  pnl TEXT NOT NULL
);`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (j *Journal) stamp() string {
	return j.now().UTC().Format(time.RFC3339)
}

// RecordOutcome 写入周期结算和该市场的全部归档记录（同一事务；重复写入覆盖）
func (j *Journal) RecordOutcome(ctx context.Context, o oms.PeriodOutcome) error {
	slug, asset := "", ""
	if o.Market != nil {
		slug, asset = o.Market.Slug, o.Market.Asset
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := j.stamp()
	_, err = tx.ExecContext(ctx, `
INSERT OR REPLACE INTO period_outcomes
  (period, slug, asset, winner, result, up_filled, down_filled, cost, value, pnl, mergeable, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.Period, slug, asset, string(o.Winner), o.Result(), boolInt(o.UpFilled), boolInt(o.DownFilled),
		o.Cost.String(), o.Value.String(), o.PnL.String(), o.Merge.CompleteSets, now)
	if err != nil {
		return fmt.Errorf("insert period outcome: %w", err)
	}

	for _, r := range o.Records {
		raw, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal record %s: %w", r.Key, err)
		}
		_, err = tx.ExecContext(ctx, `
INSERT OR REPLACE INTO trades
  (tracking_key, period, slug, token, role, state, shares, sold_shares, entry_cost, exit_proceeds, note, record_json, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.Key.String(), r.Key.Period, slug, string(r.Token), string(r.Key.Role), string(r.State),
			r.Shares, r.SoldShares, r.EntryCost.String(), r.ExitProceeds.String(), r.Note, string(raw), now)
		if err != nil {
			return fmt.Errorf("insert trade %s: %w", r.Key, err)
		}
	}
	return tx.Commit()
}

// OutcomeRow period_outcomes 的一行
type OutcomeRow struct {
	Period     int64   `json:"period"`
	Slug       string  `json:"slug"`
	Asset      string  `json:"asset"`
	Winner     string  `json:"winner"`
	Result     string  `json:"result"`
	UpFilled   bool    `json:"up_filled"`
	DownFilled bool    `json:"down_filled"`
	Cost       string  `json:"cost"`
	Value      string  `json:"value"`
	PnL        string  `json:"pnl"`
	Mergeable  float64 `json:"mergeable"`
}

// Outcomes 最近的周期结算（按周期倒序）
func (j *Journal) Outcomes(ctx context.Context, limit int) ([]OutcomeRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT period, slug, asset, winner, result, up_filled, down_filled, cost, value, pnl, mergeable
FROM period_outcomes ORDER BY period DESC, slug ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutcomeRow
	for rows.Next() {
		var r OutcomeRow
		var up, down int
		if err := rows.Scan(&r.Period, &r.Slug, &r.Asset, &r.Winner, &r.Result, &up, &down,
			&r.Cost, &r.Value, &r.PnL, &r.Mergeable); err != nil {
			return nil, err
		}
		r.UpFilled, r.DownFilled = up == 1, down == 1
		out = append(out, r)
	}
	return out, rows.Err()
}

// TradeRow trades 的一行（不含完整 JSON）
type TradeRow struct {
	TrackingKey string  `json:"tracking_key"`
	Slug        string  `json:"slug"`
	Token       string  `json:"token"`
	Role        string  `json:"role"`
	State       string  `json:"state"`
	Shares      float64 `json:"shares"`
	SoldShares  float64 `json:"sold_shares"`
	EntryCost   string  `json:"entry_cost"`
	Proceeds    string  `json:"exit_proceeds"`
	Note        string  `json:"note"`
}

// Trades 某个周期的归档记录
func (j *Journal) Trades(ctx context.Context, period int64) ([]TradeRow, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT tracking_key, slug, token, role, state, shares, sold_shares, entry_cost, exit_proceeds, COALESCE(note, '')
FROM trades WHERE period = ? ORDER BY tracking_key`, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRow
	for rows.Next() {
		var r TradeRow
		if err := rows.Scan(&r.TrackingKey, &r.Slug, &r.Token, &r.Role, &r.State, &r.Shares, &r.SoldShares,
			&r.EntryCost, &r.Proceeds, &r.Note); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Summary 全部已结算周期的汇总
type Summary struct {
	Periods      int    `json:"periods"`
	Wins         int    `json:"wins"`
	Losses       int    `json:"losses"`
	Flats        int    `json:"flats"`
	Undetermined int    `json:"undetermined"` // 赢方未知，不计入 total_pnl
	TotalPnL     string `json:"total_pnl"`
}

func (j *Journal) Summary(ctx context.Context) (Summary, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT result, pnl FROM period_outcomes`)
	if err != nil {
		return Summary{}, err
	}
	defer rows.Close()

	var s Summary
	total := decimal.Zero
	for rows.Next() {
		var result, pnl string
		if err := rows.Scan(&result, &pnl); err != nil {
			return Summary{}, err
		}
		s.Periods++
		switch result {
		case "win":
			s.Wins++
		case "loss":
			s.Losses++
		case "undetermined":
			s.Undetermined++
			continue
		default:
			s.Flats++
		}
		if d, err := decimal.NewFromString(pnl); err == nil {
			total = total.Add(d)
		}
	}
	s.TotalPnL = total.StringFixed(4)
	return s, rows.Err()
}

// RecordBacktest 保存一次回测运行及逐周期结果，返回运行 ID
func (j *Journal) RecordBacktest(ctx context.Context, name string, rep backtest.Report) (int64, error) {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
INSERT INTO backtest_runs (name, periods, excluded, wins, losses, flats, total_cost, total_value, total_pnl, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		name, len(rep.Periods), len(rep.Excluded), rep.Wins, rep.Losses, rep.Flats,
		rep.TotalCost.String(), rep.TotalValue.String(), rep.TotalPnL.String(), j.stamp())
	if err != nil {
		return 0, fmt.Errorf("insert backtest run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for _, p := range rep.Periods {
		_, err := tx.ExecContext(ctx, `
INSERT INTO backtest_periods (run_id, period, slug, winner, fills, cost, value, pnl)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, p.Period, p.Slug, string(p.Winner), len(p.Fills), p.Cost.String(), p.Value.String(), p.PnL.String())
		if err != nil {
			return 0, fmt.Errorf("insert backtest period: %w", err)
		}
	}
	return id, tx.Commit()
}

// BacktestRun backtest_runs 的一行
type BacktestRun struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Periods  int    `json:"periods"`
	Excluded int    `json:"excluded"`
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
	Flats        int    `json:"flats"`
	Undetermined int    `json:"undetermined"` // 赢方未知，不计入 total_pnl
	TotalPnL     string `json:"total_pnl"`
}

// BacktestRuns 最近的回测运行
func (j *Journal) BacktestRuns(ctx context.Context, limit int) ([]BacktestRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, name, periods, excluded, wins, losses, flats, total_pnl
FROM backtest_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BacktestRun
	for rows.Next() {
		var r BacktestRun
		if err := rows.Scan(&r.ID, &r.Name, &r.Periods, &r.Excluded, &r.Wins, &r.Losses, &r.Flats, &r.TotalPnL); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
