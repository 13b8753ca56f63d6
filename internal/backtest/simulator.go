package backtest

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/updown/internal/domain"
	"github.com/betbot/updown/internal/metrics"
	"github.com/betbot/updown/internal/strategy"
)

var log = logrus.WithField("component", "backtest")

var (
	// ErrShortSeries 样本数不足
	ErrShortSeries = errors.New("样本数不足")
	// ErrUnordered 样本时间倒序
	ErrUnordered = errors.New("样本未按时间排序")
	// ErrNoWinner 最终报价无法判定赢方
	ErrNoWinner = errors.New("无法判定赢方")
)

// Params 双边限价入场回测参数
type Params struct {
	EntryPrice   domain.Price
	Shares       float64
	EntryAfter   int64 // 秒，入场时间门
	HedgeEnabled bool
	HedgeAfter   int64 // 分钟
	HedgePrice   domain.Price
	MinSamples   int

	EarlyHedgeAfter  int64 // 分钟，0 关闭提前对冲
	TrendMinStrength float64
	TrendMinSamples  int
	TrendHistory     int
}

// ParamsFromPolicy 从实盘策略参数派生（保证与状态机使用同一组阈值）
func ParamsFromPolicy(p *strategy.Policy, minSamples int) Params {
	return Params{
		EntryPrice:   p.DualEntryPrice(),
		Shares:       p.DualShares(),
		EntryAfter:   int64(p.MinElapsed.Seconds()),
		HedgeEnabled: p.DualHedgeEnabled,
		HedgeAfter:   p.DualHedgeAfter,
		HedgePrice:   p.DualHedgePrice,
		MinSamples:   minSamples,

		EarlyHedgeAfter:  p.DualEarlyHedgeAfter,
		TrendMinStrength: p.TrendMinStrength,
		TrendMinSamples:  p.TrendMinSamples,
		TrendHistory:     p.TrendHistory,
	}
}

// earlyHedge 提前对冲窗口内未成交一侧 bid 越过对冲价（需要时确认上涨趋势）
func (p Params) earlyHedge(minute int64, q domain.TokenQuote, trend *strategy.TrendTracker) bool {
	if p.EarlyHedgeAfter <= 0 || minute < p.EarlyHedgeAfter || minute >= p.HedgeAfter {
		return false
	}
	if !q.HasBid || q.Bid.LessThan(p.HedgePrice) {
		return false
	}
	if p.TrendMinStrength > 0 {
		return trend != nil && trend.Uptrending(p.TrendMinStrength, p.TrendMinSamples)
	}
	return true
}

// Fill 模拟成交
type Fill struct {
	Token   domain.TokenType
	Price   domain.Price
	Shares  float64
	Elapsed int64
	Hedge   bool // 按对冲价买入
}

// Cost 成交金额
func (f Fill) Cost() decimal.Decimal {
	return f.Price.Decimal().Mul(decimal.NewFromFloat(f.Shares))
}

// PeriodResult 单周期回测结果
type PeriodResult struct {
	Period int64
	Asset  string
	Slug   string
	Winner domain.TokenType
	Fills  []Fill
	Cost   decimal.Decimal
	Value  decimal.Decimal
	PnL    decimal.Decimal
}

// Result win / loss / flat
func (r PeriodResult) Result() string {
	return metrics.PeriodResult(r.PnL.Sign())
}

// Filled 某一侧是否成交
func (r PeriodResult) Filled(tok domain.TokenType) bool {
	for _, f := range r.Fills {
		if f.Token == tok {
			return true
		}
	}
	return false
}

// Hedged 是否触发了对冲买入
func (r PeriodResult) Hedged() bool {
	for _, f := range r.Fills {
		if f.Hedge {
			return true
		}
	}
	return false
}

// Exclusion 被排除的周期及原因
type Exclusion struct {
	Period int64
	Name   string
	Reason string
}

// Report 汇总结果
type Report struct {
	Periods    []PeriodResult
	Excluded   []Exclusion
	TotalCost  decimal.Decimal
	TotalValue decimal.Decimal
	TotalPnL   decimal.Decimal
	Wins       int
	Losses     int
	Flats      int
}

// Simulator 回测模拟器；无状态，同样的输入总是得到同样的结果
type Simulator struct {
	params Params
}

func NewSimulator(params Params) *Simulator {
	return &Simulator{params: params}
}

// Params 返回回测参数
func (s *Simulator) Params() Params {
	return s.params
}

// sideState 单侧的模拟状态
type sideState struct {
	placed bool
	hedge  bool // 已切换为对冲条件
	fill   *Fill
	trend  *strategy.TrendTracker
}

// RunPeriod 回测一个周期
//
// 每个样本依次执行：
//  1. 入场时间门打开后两侧在 EntryPrice 挂限价买单；未切换为对冲的一侧 ask <= EntryPrice 即以 ask 成交
//  2. 启用对冲且到达对冲分钟时，如果恰好一侧成交，另一侧切换为对冲条件；
//     提前对冲窗口内未成交一侧 bid 越过 HedgePrice 时提前切换
//  3. 已切换的一侧 ask >= HedgePrice 时以 HedgePrice 成交
func (s *Simulator) RunPeriod(series PeriodSeries) (PeriodResult, error) {
	p := s.params
	res := PeriodResult{Period: series.Period, Asset: series.Asset, Slug: series.Name()}

	minSamples := p.MinSamples
	if minSamples < 1 {
		minSamples = 1
	}
	if len(series.Samples) < minSamples {
		return res, fmt.Errorf("%w: %d < %d", ErrShortSeries, len(series.Samples), minSamples)
	}
	if !series.ordered() {
		return res, ErrUnordered
	}

	sides := map[domain.TokenType]*sideState{
		domain.TokenTypeUp:   {},
		domain.TokenTypeDown: {},
	}
	order := []domain.TokenType{domain.TokenTypeUp, domain.TokenTypeDown}
	duration := series.DurationSeconds()
	if p.TrendMinStrength > 0 {
		for _, tok := range order {
			sides[tok].trend = strategy.NewTrendTracker(p.TrendHistory)
		}
	}

	for _, smp := range series.Samples {
		for _, tok := range order {
			if q := smp.Quote(tok); sides[tok].trend != nil && q.HasBid {
				sides[tok].trend.Add(smp.Elapsed, q.Bid.ToDecimal())
			}
		}
		if smp.Elapsed >= p.EntryAfter && smp.Elapsed < duration {
			for _, tok := range order {
				sides[tok].placed = true
			}
		}

		for _, tok := range order {
			st := sides[tok]
			if !st.placed || st.hedge || st.fill != nil {
				continue
			}
			if q := smp.Quote(tok); q.HasAsk && q.Ask.LessThanOrEqual(p.EntryPrice) {
				st.fill = &Fill{Token: tok, Price: q.Ask, Shares: p.Shares, Elapsed: smp.Elapsed}
			}
		}

		up, down := sides[domain.TokenTypeUp], sides[domain.TokenTypeDown]
		if p.HedgeEnabled && (up.fill == nil) != (down.fill == nil) {
			minute := smp.Minute()
			for _, tok := range order {
				st := sides[tok]
				if st.fill != nil || !st.placed || st.hedge {
					continue
				}
				if minute >= p.HedgeAfter || p.earlyHedge(minute, smp.Quote(tok), st.trend) {
					st.hedge = true
				}
			}
		}

		for _, tok := range order {
			st := sides[tok]
			if !st.hedge || st.fill != nil {
				continue
			}
			if q := smp.Quote(tok); q.HasAsk && q.Ask.GreaterThanOrEqual(p.HedgePrice) {
				st.fill = &Fill{Token: tok, Price: p.HedgePrice, Shares: p.Shares, Elapsed: smp.Elapsed, Hedge: true}
			}
		}
	}

	winner, ok := series.FinalWinner()
	if !ok {
		return res, ErrNoWinner
	}
	res.Winner = winner

	res.Cost, res.Value = decimal.Zero, decimal.Zero
	for _, tok := range order {
		f := sides[tok].fill
		if f == nil {
			continue
		}
		res.Fills = append(res.Fills, *f)
		res.Cost = res.Cost.Add(f.Cost())
		v := domain.ResolvedValue(tok, winner)
		res.Value = res.Value.Add(v.Decimal().Mul(decimal.NewFromFloat(f.Shares)))
	}
	res.PnL = res.Value.Sub(res.Cost)
	return res, nil
}

// Run 回测全部周期；数据有问题的周期被排除，不计为亏损
func (s *Simulator) Run(series []PeriodSeries) Report {
	rep := Report{TotalCost: decimal.Zero, TotalValue: decimal.Zero, TotalPnL: decimal.Zero}
	for _, ps := range series {
		res, err := s.RunPeriod(ps)
		if err != nil {
			log.Warnf("⚠️ 周期 %s 被排除: %v", ps.Name(), err)
			rep.Excluded = append(rep.Excluded, Exclusion{Period: ps.Period, Name: ps.Name(), Reason: err.Error()})
			continue
		}
		rep.add(res)
	}
	return rep
}

func (r *Report) add(res PeriodResult) {
	r.Periods = append(r.Periods, res)
	r.TotalCost = r.TotalCost.Add(res.Cost)
	r.TotalValue = r.TotalValue.Add(res.Value)
	r.TotalPnL = r.TotalValue.Sub(r.TotalCost)
	switch res.PnL.Sign() {
	case 1:
		r.Wins++
	case -1:
		r.Losses++
	default:
		r.Flats++
	}
}
