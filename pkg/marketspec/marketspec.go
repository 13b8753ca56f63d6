package marketspec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Timeframe 表示市场周期（用于 updown market slug）。
// 支持：15m / 1h / 4h
type Timeframe string

const (
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
)

func ParseTimeframe(v string) (Timeframe, error) {
	s := strings.ToLower(strings.TrimSpace(v))
	switch s {
	case "15m", "15min", "15mins", "15-minute", "15minutes":
		return Timeframe15m, nil
	case "1h", "1hour", "1-hour", "60m", "60min", "60mins":
		return Timeframe1h, nil
	case "4h", "4hour", "4-hour", "240m", "240min", "240mins":
		return Timeframe4h, nil
	default:
		return "", fmt.Errorf("不支持的 timeframe: %q（支持: 15m/1h/4h）", v)
	}
}

func (t Timeframe) String() string { return string(t) }

func (t Timeframe) Duration() time.Duration {
	switch t {
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	default:
		return 15 * time.Minute
	}
}

// Seconds 周期时长（秒）
func (t Timeframe) Seconds() int64 { return int64(t.Duration() / time.Second) }

// MarketSpec 表示要交易/订阅的 updown 市场规格。
type MarketSpec struct {
	Symbol    string // e.g. "btc", "eth"
	Kind      string // e.g. "updown"
	Timeframe Timeframe
}

var symbolRe = regexp.MustCompile(`^[a-z0-9]+$`)

func New(symbol, timeframe, kind string) (MarketSpec, error) {
	tf, err := ParseTimeframe(timeframe)
	if err != nil {
		return MarketSpec{}, err
	}
	s := strings.ToLower(strings.TrimSpace(symbol))
	if s == "" {
		s = "btc"
	}
	if !symbolRe.MatchString(s) {
		return MarketSpec{}, fmt.Errorf("无效的 symbol: %q（仅允许小写字母/数字）", symbol)
	}
	k := strings.ToLower(strings.TrimSpace(kind))
	if k == "" {
		k = "updown"
	}
	return MarketSpec{Symbol: s, Kind: k, Timeframe: tf}, nil
}

func (m MarketSpec) Duration() time.Duration { return m.Timeframe.Duration() }

// PeriodStartUnix 返回 now 所在周期的起点（按 UTC 整周期对齐）
func (m MarketSpec) PeriodStartUnix(now time.Time) int64 {
	d := m.Timeframe.Seconds()
	return now.Unix() / d * d
}

// Clock 返回周期内已过去 / 剩余秒数（剩余不小于 0）
func (m MarketSpec) Clock(periodStartUnix int64, now time.Time) (elapsed, remaining int64) {
	elapsed = now.Unix() - periodStartUnix
	if elapsed < 0 {
		elapsed = 0
	}
	remaining = m.Timeframe.Seconds() - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return elapsed, remaining
}

func (m MarketSpec) Slug(periodStartUnix int64) string {
	return fmt.Sprintf("%s-%s-%s-%d", m.Symbol, m.Kind, m.Timeframe.String(), periodStartUnix)
}

func (m MarketSpec) SlugPrefix() string {
	return fmt.Sprintf("%s-%s-%s-", m.Symbol, m.Kind, m.Timeframe.String())
}

func (m MarketSpec) NextPeriodStartUnix(periodStartUnix int64) int64 {
	return periodStartUnix + m.Timeframe.Seconds()
}

// ParseSlug 从 slug 反解出规格与周期起点（btc-updown-15m-1767000000）
func ParseSlug(slug string) (MarketSpec, int64, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(slug)), "-")
	if len(parts) != 4 {
		return MarketSpec{}, 0, fmt.Errorf("无效的 slug: %q", slug)
	}
	ts, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil || ts <= 0 {
		return MarketSpec{}, 0, fmt.Errorf("slug 中的周期时间戳无效: %q", slug)
	}
	spec, err := New(parts[0], parts[2], parts[1])
	if err != nil {
		return MarketSpec{}, 0, err
	}
	return spec, ts, nil
}
