package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Price 价格值对象（固定精度：1e-4）
//
// 内部最小单位为 pip：
//   - 1 pip  = 0.0001
//   - 100 pips = 0.01（1 cent）
//   - 10000 pips = 1.0
//
// 所有阈值比较（触发价、止损价、对冲价）都在 pips 上做整数比较，
// 实盘状态机与回测模拟器因此得到完全一致的判定结果。
type Price struct {
	Pips int
}

// PriceOne 结算时赢方 token 的价值 1.00
var PriceOne = Price{Pips: 10000}

// PriceFromDecimal 从小数创建价格（四舍五入到 1e-4）
func PriceFromDecimal(d float64) Price {
	return Price{Pips: int(math.Round(d * 10000))}
}

// ToDecimal 转换为小数（例如 6000 pips = 0.6000）
func (p Price) ToDecimal() float64 {
	return float64(p.Pips) / 10000.0
}

// Decimal 返回 shopspring decimal，用于金额累计
func (p Price) Decimal() decimal.Decimal {
	return decimal.New(int64(p.Pips), -4)
}

// ToCents 返回“分（0.01）口径”的整数，仅用于展示
func (p Price) ToCents() int {
	return int(math.Round(float64(p.Pips) / 100.0))
}

// IsZero 价格未设置
func (p Price) IsZero() bool { return p.Pips == 0 }

// Complement 互补价格 1 - p（Up/Down 两侧价格之和约为 1）
func (p Price) Complement() Price {
	return Price{Pips: PriceOne.Pips - p.Pips}
}

// Add 价格相加
func (p Price) Add(other Price) Price {
	return Price{Pips: p.Pips + other.Pips}
}

// Subtract 价格相减
func (p Price) Subtract(other Price) Price {
	return Price{Pips: p.Pips - other.Pips}
}

// GreaterThan 检查是否大于
func (p Price) GreaterThan(other Price) bool {
	return p.Pips > other.Pips
}

// LessThan 检查是否小于
func (p Price) LessThan(other Price) bool {
	return p.Pips < other.Pips
}

// GreaterThanOrEqual 检查是否大于等于
func (p Price) GreaterThanOrEqual(other Price) bool {
	return p.Pips >= other.Pips
}

// LessThanOrEqual 检查是否小于等于
func (p Price) LessThanOrEqual(other Price) bool {
	return p.Pips <= other.Pips
}

func (p Price) String() string {
	return fmt.Sprintf("%.4f", p.ToDecimal())
}
