// Package paper 模拟交易所网关：dry_run 与回放校验使用。
//
// 成交模型与回测模拟器一致（价格穿越即成交，不模拟盘口深度）：
//   - LIMIT BUY：ask <= 限价时以 ask 成交（下单时或之后任意一次 Observe）
//   - LIMIT SELL：bid >= 限价时以 bid 成交（没有 bid 时看 ask）
//   - MARKET：按意图价格立即全部成交
//
// 下单即成交的结果通过回执返回，挂单之后的成交通过 DrainFills 返回，两者不重复。
package paper

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/updown/internal/domain"
	"github.com/betbot/updown/internal/ports"
)

var log = logrus.WithField("component", "paper")

type order struct {
	ref    string
	seq    int64
	intent domain.OrderIntent
	status domain.OrderStatus
}

// Gateway 内存撮合的模拟网关
type Gateway struct {
	mu sync.Mutex

	seq      int64
	orders   map[string]*order
	balances map[string]float64
	reserved map[string]float64 // 挂单中的卖出份额
	quotes   map[string]domain.TokenQuote
	fills    []domain.Fill
	cash     decimal.Decimal

	now    func() time.Time
	newRef func() string
}

var (
	_ ports.ExchangeGateway = (*Gateway)(nil)
	_ ports.FillSource      = (*Gateway)(nil)
)

func New() *Gateway {
	return &Gateway{
		orders:   make(map[string]*order),
		balances: make(map[string]float64),
		reserved: make(map[string]float64),
		quotes:   make(map[string]domain.TokenQuote),
		now:      time.Now,
		newRef:   func() string { return "paper-" + uuid.NewString() },
	}
}

// SetClock 回放时使用快照时间
func (g *Gateway) SetClock(now func() time.Time) {
	g.mu.Lock()
	g.now = now
	g.mu.Unlock()
}

// Observe 更新报价并撮合挂单；调度器在每次状态机 tick 之前调用
func (g *Gateway) Observe(snap *domain.Snapshot) {
	if snap == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	for asset, q := range snap.Quotes {
		g.quotes[asset] = q
	}
	for _, o := range g.openLocked() {
		q, ok := g.quotes[o.intent.AssetID]
		if !ok {
			continue
		}
		if price, hit := crossing(o.intent, q); hit {
			if o.intent.Side == domain.SideSell {
				g.reserved[o.intent.AssetID] -= o.intent.Size
			}
			g.fillLocked(o, price)
			g.fills = append(g.fills, domain.Fill{
				OrderRef: o.ref,
				AssetID:  o.intent.AssetID,
				Side:     o.intent.Side,
				Price:    price,
				Size:     o.intent.Size,
				At:       g.now(),
			})
			log.Debugf("挂单成交 %s %s @%s", o.ref, o.intent, price)
		}
	}
}

// crossing 限价单在当前报价下能否成交，以及成交价
func crossing(intent domain.OrderIntent, q domain.TokenQuote) (domain.Price, bool) {
	if intent.Side == domain.SideBuy {
		if q.HasAsk && q.Ask.LessThanOrEqual(intent.Price) {
			return q.Ask, true
		}
		return domain.Price{}, false
	}
	if q.HasBid {
		if q.Bid.GreaterThanOrEqual(intent.Price) {
			return q.Bid, true
		}
		return domain.Price{}, false
	}
	if q.HasAsk && q.Ask.GreaterThanOrEqual(intent.Price) {
		return q.Ask, true
	}
	return domain.Price{}, false
}

func (g *Gateway) PlaceOrder(ctx context.Context, intent domain.OrderIntent) (ports.OrderAck, error) {
	if err := ctx.Err(); err != nil {
		return ports.OrderAck{}, fmt.Errorf("%w: %v", ports.ErrTransient, err)
	}
	if intent.Size <= 0 || intent.Price.Pips <= 0 || intent.Price.GreaterThan(domain.PriceOne) {
		return ports.OrderAck{}, fmt.Errorf("%w: 无效的价格或数量 %s", ports.ErrOrderRejected, intent)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if intent.Side == domain.SideSell {
		avail := g.balances[intent.AssetID] - g.reserved[intent.AssetID]
		if intent.Size > avail+domain.ShareEpsilon {
			return ports.OrderAck{}, fmt.Errorf("%w: 余额不足 (可用 %.6f, 需要 %.6f)", ports.ErrOrderRejected, avail, intent.Size)
		}
	}

	g.seq++
	o := &order{ref: g.newRef(), seq: g.seq, intent: intent, status: domain.OrderStatusOpen}
	g.orders[o.ref] = o

	if intent.Style == domain.OrderStyleMarket {
		g.fillLocked(o, intent.Price)
		return ports.OrderAck{OrderRef: o.ref, Filled: true, FilledSize: intent.Size, FilledPrice: intent.Price}, nil
	}
	if q, ok := g.quotes[intent.AssetID]; ok {
		if price, hit := crossing(intent, q); hit {
			g.fillLocked(o, price)
			return ports.OrderAck{OrderRef: o.ref, Filled: true, FilledSize: intent.Size, FilledPrice: price}, nil
		}
	}
	if intent.Side == domain.SideSell {
		g.reserved[intent.AssetID] += intent.Size
	}
	return ports.OrderAck{OrderRef: o.ref}, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrTransient, err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.orders[ref]
	if !ok || o.status != domain.OrderStatusOpen {
		return fmt.Errorf("%w: %s", ports.ErrOrderNotFound, ref)
	}
	o.status = domain.OrderStatusCanceled
	if o.intent.Side == domain.SideSell {
		g.reserved[o.intent.AssetID] -= o.intent.Size
	}
	return nil
}

func (g *Gateway) GetBalance(ctx context.Context, assetID string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ports.ErrTransient, err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balances[assetID], nil
}

// DrainFills 取出挂单成交回报
func (g *Gateway) DrainFills() []domain.Fill {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.fills
	g.fills = nil
	return out
}

// Cash 累计现金流（买入为负，卖出为正）
func (g *Gateway) Cash() decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cash
}

// OpenOrders 当前挂单
func (g *Gateway) OpenOrders() []domain.OrderIntent {
	g.mu.Lock()
	defer g.mu.Unlock()
	open := g.openLocked()
	out := make([]domain.OrderIntent, 0, len(open))
	for _, o := range open {
		out = append(out, o.intent)
	}
	return out
}

// Settle 周期结算：赢方 token 按 1.00 兑付，输方归零
func (g *Gateway) Settle(market *domain.Market, winner domain.TokenType) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, tok := range []domain.TokenType{domain.TokenTypeUp, domain.TokenTypeDown} {
		asset := market.GetAssetID(tok)
		shares := g.balances[asset]
		if shares > 0 {
			g.cash = g.cash.Add(domain.ResolvedValue(tok, winner).Decimal().Mul(decimal.NewFromFloat(shares)))
		}
		delete(g.balances, asset)
		delete(g.reserved, asset)
		delete(g.quotes, asset)
	}
}

func (g *Gateway) fillLocked(o *order, price domain.Price) {
	o.status = domain.OrderStatusFilled
	notional := price.Decimal().Mul(decimal.NewFromFloat(o.intent.Size))
	if o.intent.Side == domain.SideBuy {
		g.balances[o.intent.AssetID] += o.intent.Size
		g.cash = g.cash.Sub(notional)
		return
	}
	g.balances[o.intent.AssetID] -= o.intent.Size
	g.cash = g.cash.Add(notional)
}

func (g *Gateway) openLocked() []*order {
	var out []*order
	for _, o := range g.orders {
		if o.status == domain.OrderStatusOpen {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
