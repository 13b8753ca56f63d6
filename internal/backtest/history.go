package backtest

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/betbot/updown/internal/domain"
	"github.com/betbot/updown/pkg/marketspec"
)

// CSVHeader 录制器写出的列
var CSVHeader = []string{"timestamp", "elapsed_seconds", "up_bid", "up_ask", "down_bid", "down_ask"}

var (
	legacyFileRe = regexp.MustCompile(`^market_(\d+)_prices\.toml$`)
	legacyTimeRe = regexp.MustCompile(`^\[([^\]]+)\]`)
	legacyLeftRe = regexp.MustCompile(`⏱️\s+(?:(\d+)m\s+)?(\d+)s`)
	legacyPairRe = regexp.MustCompile(`U\$?(N/A|[0-9.]+)/\$?(N/A|[0-9.]+)\s+D\$?(N/A|[0-9.]+)/\$?(N/A|[0-9.]+)`)
)

// LoadDir 读取历史目录：<slug>.csv（录制器格式）和 market_<period>_prices.toml（旧监控日志）
//
// 单个文件解析失败只会让对应周期被排除，不影响其它文件。
func LoadDir(dir string) ([]PeriodSeries, []Exclusion, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("读取历史目录失败 %s: %w", dir, err)
	}

	var (
		series   []PeriodSeries
		excluded []Exclusion
	)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		path := filepath.Join(dir, name)
		switch {
		case strings.HasSuffix(name, ".csv"):
			ps, err := LoadCSV(path)
			if err != nil {
				excluded = append(excluded, Exclusion{Period: ps.Period, Name: name, Reason: err.Error()})
				continue
			}
			series = append(series, ps)
		case legacyFileRe.MatchString(name):
			list, err := LoadLegacy(path)
			if err != nil {
				excluded = append(excluded, Exclusion{Name: name, Reason: err.Error()})
				continue
			}
			series = append(series, list...)
		}
	}
	SortSeries(series)
	log.Infof("📂 从 %s 读取 %d 个周期序列（%d 个文件被跳过）", dir, len(series), len(excluded))
	return series, excluded, nil
}

// SortSeries 按周期、标的排序
func SortSeries(series []PeriodSeries) {
	sort.SliceStable(series, func(i, j int) bool {
		if series[i].Period != series[j].Period {
			return series[i].Period < series[j].Period
		}
		return series[i].Asset < series[j].Asset
	})
}

// LoadCSV 读取录制器写出的单周期 CSV，文件名即市场 slug
func LoadCSV(path string) (PeriodSeries, error) {
	slug := strings.TrimSuffix(filepath.Base(path), ".csv")
	spec, period, err := marketspec.ParseSlug(slug)
	if err != nil {
		return PeriodSeries{}, err
	}
	ps := PeriodSeries{
		Period:   period,
		Asset:    spec.Symbol,
		Slug:     slug,
		Duration: spec.Timeframe.Seconds(),
		Source:   path,
	}

	f, err := os.Open(path)
	if err != nil {
		return ps, fmt.Errorf("打开 CSV 失败: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(CSVHeader)
	header, err := r.Read()
	if err != nil {
		return ps, fmt.Errorf("读取 CSV 表头失败: %w", err)
	}
	if strings.Join(header, ",") != strings.Join(CSVHeader, ",") {
		return ps, fmt.Errorf("CSV 表头不匹配: %v", header)
	}
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ps, fmt.Errorf("第 %d 行: %w", line, err)
		}
		smp, err := parseCSVRow(rec)
		if err != nil {
			return ps, fmt.Errorf("第 %d 行: %w", line, err)
		}
		ps.Samples = append(ps.Samples, smp)
	}
	sort.SliceStable(ps.Samples, func(i, j int) bool { return ps.Samples[i].Elapsed < ps.Samples[j].Elapsed })
	return ps, nil
}

func parseCSVRow(rec []string) (Sample, error) {
	var smp Sample
	ts, err := strconv.ParseInt(rec[0], 10, 64)
	if err != nil {
		return smp, fmt.Errorf("timestamp 无效 %q", rec[0])
	}
	smp.At = time.Unix(ts, 0).UTC()
	if smp.Elapsed, err = strconv.ParseInt(rec[1], 10, 64); err != nil {
		return smp, fmt.Errorf("elapsed_seconds 无效 %q", rec[1])
	}
	if smp.Up, err = parseQuote(rec[2], rec[3]); err != nil {
		return smp, err
	}
	if smp.Down, err = parseQuote(rec[4], rec[5]); err != nil {
		return smp, err
	}
	return smp, nil
}

// parseQuote 空串、N/A 视为缺失；0.00 是有效报价（已结算的输方）
func parseQuote(bid, ask string) (domain.TokenQuote, error) {
	var q domain.TokenQuote
	b, hasBid, err := parsePrice(bid)
	if err != nil {
		return q, err
	}
	a, hasAsk, err := parsePrice(ask)
	if err != nil {
		return q, err
	}
	if hasBid {
		q.Bid, q.HasBid = domain.PriceFromDecimal(b), true
	}
	if hasAsk {
		q.Ask, q.HasAsk = domain.PriceFromDecimal(a), true
	}
	return q, nil
}

func parsePrice(s string) (float64, bool, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "$")
	if s == "" || s == "N/A" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, fmt.Errorf("价格无效 %q", s)
	}
	return v, true, nil
}

// LoadLegacy 读取旧版监控日志：每行一个时间点，包含多个标的的报价
//
//	[2026-01-27T21:30:02Z] 📊 BTC: U$0.49/$0.50 D$0.50/$0.51 | ETH: U$N/A/$N/A D$0.50/$0.51 | ⏱️  14m 59s
//
// 旧日志只记录 15 分钟周期，elapsed = 900 - 剩余秒数。无法解析的行被忽略。
func LoadLegacy(path string) ([]PeriodSeries, error) {
	m := legacyFileRe.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return nil, fmt.Errorf("文件名不是 market_<period>_prices.toml: %s", path)
	}
	period, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("周期时间戳无效: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开历史文件失败: %w", err)
	}
	defer f.Close()

	byAsset := make(map[string]*PeriodSeries)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		at, remaining, quotes, ok := parseLegacyLine(sc.Text())
		if !ok {
			continue
		}
		for asset, pair := range quotes {
			ps, ok := byAsset[asset]
			if !ok {
				spec, err := marketspec.New(asset, string(marketspec.Timeframe15m), "")
				if err != nil {
					continue
				}
				ps = &PeriodSeries{
					Period:   period,
					Asset:    spec.Symbol,
					Slug:     spec.Slug(period),
					Duration: domain.DefaultPeriodSeconds,
					Source:   path,
				}
				byAsset[asset] = ps
			}
			ps.Samples = append(ps.Samples, Sample{
				At:      at,
				Elapsed: domain.DefaultPeriodSeconds - remaining,
				Up:      pair[0],
				Down:    pair[1],
			})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("读取历史文件失败: %w", err)
	}

	out := make([]PeriodSeries, 0, len(byAsset))
	for _, ps := range byAsset {
		sort.SliceStable(ps.Samples, func(i, j int) bool { return ps.Samples[i].At.Before(ps.Samples[j].At) })
		out = append(out, *ps)
	}
	SortSeries(out)
	return out, nil
}

func parseLegacyLine(line string) (time.Time, int64, map[string][2]domain.TokenQuote, bool) {
	tm := legacyTimeRe.FindStringSubmatch(line)
	if tm == nil {
		return time.Time{}, 0, nil, false
	}
	at, err := time.Parse(time.RFC3339, tm[1])
	if err != nil {
		return time.Time{}, 0, nil, false
	}
	lm := legacyLeftRe.FindStringSubmatch(line)
	if lm == nil {
		return time.Time{}, 0, nil, false
	}
	var remaining int64
	if lm[1] != "" {
		mins, _ := strconv.ParseInt(lm[1], 10, 64)
		remaining = mins * 60
	}
	secs, _ := strconv.ParseInt(lm[2], 10, 64)
	remaining += secs

	quotes := make(map[string][2]domain.TokenQuote)
	for _, section := range strings.Split(line[len(tm[0]):], "|") {
		idx := strings.Index(section, ":")
		if idx <= 0 {
			continue
		}
		fields := strings.Fields(section[:idx])
		if len(fields) == 0 {
			continue
		}
		asset := strings.ToLower(fields[len(fields)-1])
		pm := legacyPairRe.FindStringSubmatch(section[idx+1:])
		if pm == nil {
			continue
		}
		up, err := parseQuote(pm[1], pm[2])
		if err != nil {
			continue
		}
		down, err := parseQuote(pm[3], pm[4])
		if err != nil {
			continue
		}
		quotes[asset] = [2]domain.TokenQuote{up, down}
	}
	return at, remaining, quotes, len(quotes) > 0
}
