package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/updown/internal/detector"
	"github.com/betbot/updown/internal/domain"
	"github.com/betbot/updown/internal/execution"
	"github.com/betbot/updown/internal/feed"
	"github.com/betbot/updown/internal/gateway/paper"
	"github.com/betbot/updown/internal/oms"
	"github.com/betbot/updown/internal/strategy"
)

// Replayer 把历史序列送进实盘使用的 Detector + 状态机 + 模拟网关，
// 用来校验模拟器与实盘路径对同一序列给出相同的结果。
type Replayer struct {
	policy     *strategy.Policy
	minSamples int
}

func NewReplayer(policy *strategy.Policy, minSamples int) *Replayer {
	return &Replayer{policy: policy, minSamples: minSamples}
}

// RunPeriod 回放一个周期
func (r *Replayer) RunPeriod(ctx context.Context, series PeriodSeries) (PeriodResult, error) {
	res := PeriodResult{Period: series.Period, Asset: series.Asset, Slug: series.Name()}
	minSamples := r.minSamples
	if minSamples < 1 {
		minSamples = 1
	}
	if len(series.Samples) < minSamples {
		return res, fmt.Errorf("%w: %d < %d", ErrShortSeries, len(series.Samples), minSamples)
	}
	if !series.ordered() {
		return res, ErrUnordered
	}
	winner, ok := series.FinalWinner()
	if !ok {
		return res, ErrNoWinner
	}
	res.Winner = winner

	var now time.Time
	clock := func() time.Time { return now }

	gw := paper.New()
	gw.SetClock(clock)
	disp := execution.NewDispatcher(gw, execution.Options{Timeout: time.Second, MaxInFlight: 4})
	machine := oms.New(r.policy, disp, oms.Options{Now: clock})
	det := detector.New(r.policy)
	trigger := detector.NewTriggerState(series.Period)

	src := feed.NewReplay(series.Snapshots())
	for {
		snap, err := src.Next(ctx)
		if errors.Is(err, feed.ErrExhausted) {
			break
		}
		if err != nil {
			return res, err
		}
		now = snap.At
		gw.Observe(snap)
		for _, intent := range det.Detect(snap, trigger) {
			if err := machine.Accept(intent, snap.MarketOf(intent.AssetID)); err != nil {
				if !errors.Is(err, oms.ErrKeyLive) {
					trigger.Unfire(intent.AssetID)
				}
				log.Debugf("回放 %s 入场意图被拒绝: %v", series.Name(), err)
			}
		}
		machine.Tick(ctx, snap)
	}

	slug := series.Name()
	outcomes := machine.ResolvePeriod(ctx, series.Period, map[string]domain.TokenType{slug: winner})
	res.Cost, res.Value, res.PnL = decimal.Zero, decimal.Zero, decimal.Zero
	for _, o := range outcomes {
		if o.Market == nil || o.Market.Slug != slug {
			continue
		}
		res.Cost, res.Value, res.PnL = o.Cost, o.Value, o.PnL
		for _, rec := range o.Records {
			if rec.Shares <= domain.ShareEpsilon {
				continue
			}
			res.Fills = append(res.Fills, Fill{
				Token:  rec.Token,
				Price:  rec.AvgEntryPrice(),
				Shares: rec.Shares,
				Hedge:  !rec.HedgePrice.IsZero(),
			})
		}
	}
	return res, nil
}

// Run 回放全部周期
func (r *Replayer) Run(ctx context.Context, series []PeriodSeries) Report {
	rep := Report{TotalCost: decimal.Zero, TotalValue: decimal.Zero, TotalPnL: decimal.Zero}
	for _, ps := range series {
		if ctx.Err() != nil {
			break
		}
		res, err := r.RunPeriod(ctx, ps)
		if err != nil {
			rep.Excluded = append(rep.Excluded, Exclusion{Period: ps.Period, Name: ps.Name(), Reason: err.Error()})
			continue
		}
		rep.add(res)
	}
	return rep
}

// Mismatch 模拟器与回放结果不一致的周期
type Mismatch struct {
	Name      string
	Simulated PeriodResult
	Replayed  PeriodResult
}

// Compare 逐周期比较分类（win/loss/flat）、成本和价值
func Compare(sim, replay Report) []Mismatch {
	byName := make(map[string]PeriodResult, len(replay.Periods))
	for _, r := range replay.Periods {
		byName[r.Slug] = r
	}
	var out []Mismatch
	for _, s := range sim.Periods {
		r, ok := byName[s.Slug]
		if !ok || s.Result() != r.Result() || !s.Cost.Equal(r.Cost) || !s.Value.Equal(r.Value) {
			out = append(out, Mismatch{Name: s.Slug, Simulated: s, Replayed: r})
		}
	}
	return out
}
