package strategy

import "math"

const (
	// trendMinSlope 每秒至少上涨 0.0001（约每分钟 0.006）才算上涨
	trendMinSlope = 0.0001
	// trendMinChange 首尾至少相差 1 美分
	trendMinChange = 0.01
)

// Trend 一段 bid 序列的线性回归结果
type Trend struct {
	Slope    float64 // 每秒价格变化
	Strength float64 // 0..1，斜率大小乘以贴合度
	Change   float64 // 末值 - 首值
}

// Up 斜率和首尾变化都超过噪声阈值
func (t Trend) Up() bool {
	return t.Slope > trendMinSlope && t.Change > trendMinChange
}

type trendSample struct {
	elapsed int64
	bid     float64
}

// TrendTracker 单个 token 最近 size 个 bid 样本
type TrendTracker struct {
	size    int
	samples []trendSample
}

func NewTrendTracker(size int) *TrendTracker {
	if size < 2 {
		size = 2
	}
	return &TrendTracker{size: size}
}

// Add 追加样本；同一秒重复的样本只保留最新值
func (t *TrendTracker) Add(elapsed int64, bid float64) {
	if n := len(t.samples); n > 0 && t.samples[n-1].elapsed == elapsed {
		t.samples[n-1].bid = bid
		return
	}
	if len(t.samples) >= t.size {
		t.samples = append(t.samples[:0], t.samples[len(t.samples)-t.size+1:]...)
	}
	t.samples = append(t.samples, trendSample{elapsed: elapsed, bid: bid})
}

func (t *TrendTracker) Len() int { return len(t.samples) }

// Analyze 样本不足 minSamples 时返回 false
func (t *TrendTracker) Analyze(minSamples int) (Trend, bool) {
	n := len(t.samples)
	if n < minSamples || n < 2 {
		return Trend{}, false
	}

	var sumX, sumY, sumXY, sumX2 float64
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range t.samples {
		x := float64(s.elapsed)
		sumX += x
		sumY += s.bid
		sumXY += x * s.bid
		sumX2 += x * x
		lo, hi = math.Min(lo, s.bid), math.Max(hi, s.bid)
	}
	fn := float64(n)
	var slope float64
	if den := fn*sumX2 - sumX*sumX; math.Abs(den) > 1e-10 {
		slope = (fn*sumXY - sumX*sumY) / den
	}

	first := t.samples[0]
	var dev float64
	for _, s := range t.samples {
		expected := first.bid + slope*float64(s.elapsed-first.elapsed)
		dev += math.Abs(s.bid - expected)
	}
	dev /= fn

	consistency := 1.0
	if rng := hi - lo; rng > 1e-10 {
		consistency = math.Max(0, 1-math.Min(dev/rng, 1))
	}
	return Trend{
		Slope:    slope,
		Strength: math.Min(math.Min(math.Abs(slope)*1000, 1)*consistency, 1),
		Change:   t.samples[n-1].bid - first.bid,
	}, true
}

// Uptrending 上涨且强度不低于 minStrength
func (t *TrendTracker) Uptrending(minStrength float64, minSamples int) bool {
	tr, ok := t.Analyze(minSamples)
	return ok && tr.Up() && tr.Strength >= minStrength
}
