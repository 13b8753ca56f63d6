// Package execution 把一轮内的网关调用并发分发出去，并在超时内收集结果。
//
// 结果按输入顺序返回，状态机按顺序同步应用，保证状态迁移不交错。
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/betbot/updown/internal/domain"
	"github.com/betbot/updown/internal/metrics"
	"github.com/betbot/updown/internal/ports"
)

// PlaceResult 下单结果
type PlaceResult struct {
	Intent domain.OrderIntent
	Ack    ports.OrderAck
	Err    error
}

// CancelRequest 撤单请求
type CancelRequest struct {
	Key      domain.TrackingKey
	OrderRef string
}

// CancelResult 撤单结果
type CancelResult struct {
	Request CancelRequest
	Err     error
}

// BalanceResult 余额查询结果
type BalanceResult struct {
	AssetID string
	Balance float64
	Err     error
}

// Options 分发参数
type Options struct {
	Timeout         time.Duration // 单次网关调用超时
	MaxInFlight     int           // 并发上限
	OrdersPerSecond float64       // 0 表示不限速
}

// Dispatcher 并发调用 ExchangeGateway
type Dispatcher struct {
	gw       ports.ExchangeGateway
	opts     Options
	limiter  *rate.Limiter
	inFlight *InFlightDeduper
}

func NewDispatcher(gw ports.ExchangeGateway, opts Options) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 8
	}
	d := &Dispatcher{
		gw:       gw,
		opts:     opts,
		inFlight: NewInFlightDeduper(opts.Timeout*2, 16),
	}
	if opts.OrdersPerSecond > 0 {
		burst := int(opts.OrdersPerSecond)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(opts.OrdersPerSecond), burst)
	}
	return d
}

// Gateway 底层网关
func (d *Dispatcher) Gateway() ports.ExchangeGateway { return d.gw }

func (d *Dispatcher) call(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()
	if d.limiter != nil {
		if err := d.limiter.Wait(callCtx); err != nil {
			return fmt.Errorf("%w: 等待限速: %v", ports.ErrTransient, err)
		}
	}
	err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: 网关调用超时: %v", ports.ErrTransient, err)
	}
	return err
}

// PlaceAll 并发下单
func (d *Dispatcher) PlaceAll(ctx context.Context, intents []domain.OrderIntent) []PlaceResult {
	results := make([]PlaceResult, len(intents))
	var g errgroup.Group
	g.SetLimit(d.opts.MaxInFlight)
	for i := range intents {
		i := i
		results[i].Intent = intents[i]
		key := "place:" + intents[i].Key.String()
		if err := d.inFlight.TryAcquire(key); err != nil {
			results[i].Err = fmt.Errorf("%w: %s", ports.ErrTransient, err)
			continue
		}
		g.Go(func() error {
			defer d.inFlight.Release(key)
			results[i].Err = d.call(ctx, func(ctx context.Context) error {
				ack, err := d.gw.PlaceOrder(ctx, intents[i])
				results[i].Ack = ack
				return err
			})
			metrics.Orders.WithLabelValues(string(intents[i].Side), string(intents[i].Style), resultLabel(results[i].Err)).Inc()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// CancelAll 并发撤单
func (d *Dispatcher) CancelAll(ctx context.Context, reqs []CancelRequest) []CancelResult {
	results := make([]CancelResult, len(reqs))
	var g errgroup.Group
	g.SetLimit(d.opts.MaxInFlight)
	for i := range reqs {
		i := i
		results[i].Request = reqs[i]
		g.Go(func() error {
			results[i].Err = d.call(ctx, func(ctx context.Context) error {
				return d.gw.CancelOrder(ctx, reqs[i].OrderRef)
			})
			metrics.Cancels.WithLabelValues(resultLabel(results[i].Err)).Inc()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Balances 并发查询余额
func (d *Dispatcher) Balances(ctx context.Context, assetIDs []string) []BalanceResult {
	results := make([]BalanceResult, len(assetIDs))
	var g errgroup.Group
	g.SetLimit(d.opts.MaxInFlight)
	for i := range assetIDs {
		i := i
		results[i].AssetID = assetIDs[i]
		g.Go(func() error {
			results[i].Err = d.call(ctx, func(ctx context.Context) error {
				b, err := d.gw.GetBalance(ctx, assetIDs[i])
				results[i].Balance = b
				return err
			})
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ports.ErrOrderRejected):
		return "rejected"
	case errors.Is(err, ports.ErrOrderNotFound):
		return "not_found"
	}
	return "transient"
}
