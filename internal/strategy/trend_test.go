package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrendNeedsSamples(t *testing.T) {
	tr := NewTrendTracker(60)
	for i := int64(0); i < 9; i++ {
		tr.Add(300+i*5, 0.70+float64(i)*0.02)
	}
	_, ok := tr.Analyze(10)
	assert.False(t, ok)
	assert.False(t, tr.Uptrending(0.3, 10))

	tr.Add(345, 0.88)
	assert.True(t, tr.Uptrending(0.3, 10))
}

func TestTrendSteadyRise(t *testing.T) {
	tr := NewTrendTracker(60)
	// 每 5 秒涨 1 美分：斜率 0.002/s
	for i := int64(0); i < 12; i++ {
		tr.Add(300+i*5, 0.70+float64(i)*0.01)
	}
	got, ok := tr.Analyze(10)
	require.True(t, ok)
	assert.InDelta(t, 0.002, got.Slope, 1e-9)
	assert.InDelta(t, 0.11, got.Change, 1e-9)
	assert.True(t, got.Up())
	// 完全贴合直线，强度 = min(0.002*1000, 1)
	assert.InDelta(t, 1.0, got.Strength, 1e-9)
}

func TestTrendFlatAndFalling(t *testing.T) {
	flat := NewTrendTracker(60)
	falling := NewTrendTracker(60)
	for i := int64(0); i < 12; i++ {
		flat.Add(i*5, 0.86)
		falling.Add(i*5, 0.95-float64(i)*0.01)
	}
	got, ok := flat.Analyze(10)
	require.True(t, ok)
	assert.False(t, got.Up())
	assert.False(t, flat.Uptrending(0.1, 10))
	assert.False(t, falling.Uptrending(0.1, 10))
}

func TestTrendKeepsRecentWindow(t *testing.T) {
	tr := NewTrendTracker(5)
	for i := int64(0); i < 20; i++ {
		tr.Add(i, float64(i))
	}
	assert.Equal(t, 5, tr.Len())

	// 同一秒的样本覆盖
	tr.Add(19, 42)
	assert.Equal(t, 5, tr.Len())
	got, ok := tr.Analyze(5)
	require.True(t, ok)
	assert.InDelta(t, 42-15, got.Change, 1e-9)
}
