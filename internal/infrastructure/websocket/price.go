package websocket

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/betbot/updown/internal/domain"
)

// parsePrice 解析推送里的价格字符串，四舍五入到 pips
func parsePrice(s string) (domain.Price, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return domain.Price{}, errors.Wrapf(err, "无效价格 %q", s)
	}
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
		return domain.Price{}, errors.Errorf("价格超出范围 %q", s)
	}
	return domain.Price{Pips: int(d.Shift(4).Round(0).IntPart())}, nil
}

// parseOptional 空串或无法解析时视为缺失
func parseOptional(s string) (domain.Price, bool) {
	if s == "" {
		return domain.Price{}, false
	}
	p, err := parsePrice(s)
	if err != nil {
		return domain.Price{}, false
	}
	return p, true
}
