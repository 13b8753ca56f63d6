package domain

// ResolutionThreshold 结算判定阈值：最终 ask 超过 0.50 的一侧为赢方
var ResolutionThreshold = Price{Pips: 5000}

// ResolveWinner 根据最终报价判定赢方
//
// 规则：
//   - up_ask >= 1.0，或 up_ask > 0.5 且 down_ask <= 0.5 → UP
//   - down_ask >= 1.0，或 down_ask > 0.5 且 up_ask <= 0.5 → DOWN
//   - 否则取较高的一侧；两侧相等无法判定
func ResolveWinner(upAsk, downAsk Price) (TokenType, bool) {
	if upAsk.GreaterThanOrEqual(PriceOne) ||
		(upAsk.GreaterThan(ResolutionThreshold) && downAsk.LessThanOrEqual(ResolutionThreshold)) {
		return TokenTypeUp, true
	}
	if downAsk.GreaterThanOrEqual(PriceOne) ||
		(downAsk.GreaterThan(ResolutionThreshold) && upAsk.LessThanOrEqual(ResolutionThreshold)) {
		return TokenTypeDown, true
	}
	switch {
	case upAsk.GreaterThan(downAsk):
		return TokenTypeUp, true
	case downAsk.GreaterThan(upAsk):
		return TokenTypeDown, true
	}
	return "", false
}

// ResolvedValue 结算价值：赢方 1.00，输方 0.00
func ResolvedValue(token, winner TokenType) Price {
	if token == winner {
		return PriceOne
	}
	return Price{}
}
