package domain

import "math"

// MergeResult Up/Down 配对结果
//
// 一个 complete set = 1 UP + 1 DOWN，合并后可赎回 1.00 抵押品。
type MergeResult struct {
	CompleteSets  float64
	RemainingUp   float64
	RemainingDown float64
}

// MergeAmounts 计算可配对的 complete set 数量以及剩余
func MergeAmounts(up, down float64) MergeResult {
	sets := math.Max(0, math.Min(up, down))
	return MergeResult{
		CompleteSets:  sets,
		RemainingUp:   math.Max(0, up-sets),
		RemainingDown: math.Max(0, down-sets),
	}
}
