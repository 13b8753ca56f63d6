package ports

import (
	"context"
	"errors"
	"net"

	"github.com/betbot/updown/internal/domain"
)

var (
	// ErrOrderRejected 交易所明确拒绝（余额/授权不足、价格非法等），不会自行恢复
	ErrOrderRejected = errors.New("订单被拒绝")
	// ErrOrderNotFound 撤单时订单已不存在（已成交或已被交易所撤销）
	ErrOrderNotFound = errors.New("订单不存在")
	// ErrTransient 可重试的临时错误（超时、限流、网络抖动）
	ErrTransient = errors.New("临时错误")
)

// OrderAck 下单回执
//
// Filled=true 表示下单即成交（市价单或立即成交的限价单），
// FilledSize/FilledPrice 为实际成交；否则订单挂在盘口，成交通过余额或成交回报发现。
type OrderAck struct {
	OrderRef    string
	Filled      bool
	FilledSize  float64
	FilledPrice domain.Price
}

// ExchangeGateway 交易所网关（下单/撤单/查余额）
type ExchangeGateway interface {
	PlaceOrder(ctx context.Context, intent domain.OrderIntent) (OrderAck, error)
	CancelOrder(ctx context.Context, orderRef string) error
	GetBalance(ctx context.Context, assetID string) (float64, error)
}

// FillSource 可选：能够直接推送成交回报的网关
type FillSource interface {
	DrainFills() []domain.Fill
}

// SnapshotFeed 行情快照源
type SnapshotFeed interface {
	Next(ctx context.Context) (*domain.Snapshot, error)
}

// IsTransient 判断错误是否为可重试的临时错误；超时永远不能被当作成交
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return !errors.Is(err, ErrOrderRejected) && !errors.Is(err, ErrOrderNotFound)
}
