package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/updown/internal/domain"
)

var marketLog = logrus.WithField("component", "market_stream")

const (
	reconnectCoolDownPeriod = 15 * time.Second
	pingInterval            = 10 * time.Second
	readTimeout             = 30 * time.Second
	writeTimeout            = 10 * time.Second
)

// PriceSink 接收盘口更新（marketstate.Books）
type PriceSink interface {
	Update(assetID string, bid, ask domain.Price) bool
}

// MarketStream CLOB 市场频道：订阅资产的 book / price_change 推送并写入 PriceSink
type MarketStream struct {
	url      string
	proxyURL string
	sink     PriceSink

	conn   *websocket.Conn
	connMu sync.Mutex

	assets   map[string]bool
	assetsMu sync.Mutex

	reconnectC chan struct{}
	closeC     chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup

	lastMessageAt atomic.Int64
}

// NewMarketStream proxyURL 为空时按 HTTP(S)_PROXY 环境变量走代理
func NewMarketStream(wsURL, proxyURL string, sink PriceSink) *MarketStream {
	return &MarketStream{
		url:        wsURL,
		proxyURL:   proxyURL,
		sink:       sink,
		assets:     make(map[string]bool),
		reconnectC: make(chan struct{}, 1),
		closeC:     make(chan struct{}),
	}
}

// Start 建立连接并启动重连器；首次连接失败时交给重连器继续尝试
func (m *MarketStream) Start(ctx context.Context) error {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.reconnector(ctx)
	}()
	if err := m.dialAndConnect(ctx); err != nil {
		m.Reconnect()
		return err
	}
	return nil
}

// Subscribe 增加订阅的资产；已连接时立即发送订阅消息
func (m *MarketStream) Subscribe(assetIDs ...string) error {
	m.assetsMu.Lock()
	var added []string
	for _, id := range assetIDs {
		if id != "" && !m.assets[id] {
			m.assets[id] = true
			added = append(added, id)
		}
	}
	m.assetsMu.Unlock()
	if len(added) == 0 {
		return nil
	}

	m.connMu.Lock()
	connected := m.conn != nil
	m.connMu.Unlock()
	if !connected {
		return nil
	}
	return m.subscribe(added)
}

// Unsubscribe 周期结束后不再关心的资产（重连后不再订阅）
func (m *MarketStream) Unsubscribe(assetIDs ...string) {
	m.assetsMu.Lock()
	for _, id := range assetIDs {
		delete(m.assets, id)
	}
	m.assetsMu.Unlock()
}

// LastMessageAt 最近一次收到消息的时间
func (m *MarketStream) LastMessageAt() time.Time {
	ms := m.lastMessageAt.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (m *MarketStream) subscribedAssets() []string {
	m.assetsMu.Lock()
	defer m.assetsMu.Unlock()
	out := make([]string, 0, len(m.assets))
	for id := range m.assets {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (m *MarketStream) dialAndConnect(ctx context.Context) error {
	select {
	case <-m.closeC:
		return errors.New("MarketStream 已关闭，取消连接")
	default:
	}

	dialer := websocket.Dialer{HandshakeTimeout: 30 * time.Second, Proxy: http.ProxyFromEnvironment}
	if m.proxyURL != "" {
		if proxyURL, err := url.Parse(m.proxyURL); err == nil {
			dialer.Proxy = http.ProxyURL(proxyURL)
			marketLog.Infof("使用代理连接 WebSocket: %s", m.proxyURL)
		}
	}
	conn, _, err := dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		return errors.Wrapf(err, "连接市场 WebSocket 失败 %s", m.url)
	}

	m.connMu.Lock()
	if m.conn != nil {
		_ = m.conn.Close()
	}
	m.conn = conn
	m.connMu.Unlock()

	connCtx, cancel := context.WithCancel(ctx)
	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.read(connCtx, conn, cancel)
	}()
	go func() {
		defer m.wg.Done()
		m.ping(connCtx, conn, cancel)
	}()

	if assets := m.subscribedAssets(); len(assets) > 0 {
		if err := m.subscribe(assets); err != nil {
			cancel()
			_ = conn.Close()
			return err
		}
	}
	marketLog.Infof("✅ 市场价格 WebSocket 已连接，订阅 %d 个资产", len(m.subscribedAssets()))
	return nil
}

// Reconnect 触发重连（非阻塞）
func (m *MarketStream) Reconnect() {
	select {
	case m.reconnectC <- struct{}{}:
	default:
	}
}

func (m *MarketStream) reconnector(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.closeC:
			return
		case <-m.reconnectC:
			marketLog.Warnf("收到重连信号，冷却 %s...", reconnectCoolDownPeriod)
			select {
			case <-m.closeC:
				return
			case <-ctx.Done():
				return
			case <-time.After(reconnectCoolDownPeriod):
			}
			if err := m.dialAndConnect(ctx); err != nil {
				marketLog.Warnf("重连失败: %v，将再次尝试...", err)
				m.Reconnect()
			}
		}
	}
}

func (m *MarketStream) read(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.closeC:
			return
		default:
		}

		// deadline 让 ReadMessage 至多阻塞 readTimeout，借此周期性检查 ctx
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				marketLog.Debugf("WebSocket 正常关闭")
				return
			}
			if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-m.closeC:
				return
			default:
			}
			marketLog.Warnf("WebSocket 读取错误: %v，触发重连", err)
			_ = conn.Close()
			m.Reconnect()
			return
		}
		m.lastMessageAt.Store(time.Now().UnixMilli())
		m.handleMessage(message)
	}
}

func (m *MarketStream) ping(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.closeC:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				marketLog.Warnf("发送 PING 失败: %v，触发重连", err)
				m.Reconnect()
				return
			}
		}
	}
}

func (m *MarketStream) subscribe(assetIDs []string) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.conn == nil {
		return errors.New("连接未建立")
	}
	_ = m.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	msg := map[string]interface{}{
		"assets_ids": assetIDs,
		"type":       "market",
	}
	if err := m.conn.WriteJSON(msg); err != nil {
		return errors.Wrap(err, "发送订阅消息失败")
	}
	marketLog.Infof("📡 订阅市场资产 %d 个", len(assetIDs))
	return nil
}

func (m *MarketStream) writeText(msg string) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.conn == nil {
		return errors.New("连接未建立")
	}
	_ = m.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return m.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

type orderLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookMessage struct {
	EventType string       `json:"event_type"`
	AssetID   string       `json:"asset_id"`
	BestBid   string       `json:"best_bid"`
	BestAsk   string       `json:"best_ask"`
	Bids      []orderLevel `json:"bids"`
	Asks      []orderLevel `json:"asks"`
}

type priceChangeMessage struct {
	EventType    string `json:"event_type"`
	PriceChanges []struct {
		AssetID string `json:"asset_id"`
		BestBid string `json:"best_bid"`
		BestAsk string `json:"best_ask"`
	} `json:"price_changes"`
}

// handleMessage 处理一条推送；服务器可能发送纯文本 PING/PONG 或 JSON 数组
func (m *MarketStream) handleMessage(message []byte) {
	switch string(message) {
	case "PING":
		if err := m.writeText("PONG"); err != nil {
			marketLog.Debugf("回复 PONG 失败: %v", err)
		}
		return
	case "PONG", "":
		return
	}

	if message[0] == '[' {
		var raws []json.RawMessage
		if err := json.Unmarshal(message, &raws); err == nil {
			for _, raw := range raws {
				if len(raw) > 0 {
					m.handleMessage(raw)
				}
			}
		}
		return
	}

	var head struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(message, &head); err != nil {
		marketLog.Debugf("解析消息类型失败(可能是非JSON): %v", err)
		return
	}

	switch head.EventType {
	case "book":
		var bm bookMessage
		if err := json.Unmarshal(message, &bm); err != nil {
			marketLog.Debugf("解析 book 消息失败: %v", err)
			return
		}
		bid, ask := bestOfBook(bm)
		m.emit(bm.AssetID, bid, ask)
	case "price_change":
		var pm priceChangeMessage
		if err := json.Unmarshal(message, &pm); err != nil {
			marketLog.Debugf("解析 price_change 消息失败: %v", err)
			return
		}
		for _, pc := range pm.PriceChanges {
			bid, _ := parseOptional(pc.BestBid)
			ask, _ := parseOptional(pc.BestAsk)
			m.emit(pc.AssetID, bid, ask)
		}
	case "tick_size_change", "last_trade_price", "subscribed", "pong":
	default:
		marketLog.Debugf("收到未知消息类型: %s", head.EventType)
	}
}

func (m *MarketStream) emit(assetID string, bid, ask domain.Price) {
	if assetID == "" || (bid.IsZero() && ask.IsZero()) || m.sink == nil {
		return
	}
	if !m.sink.Update(assetID, bid, ask) {
		marketLog.Debugf("忽略未登记资产的报价: %s", assetID)
	}
}

// bestOfBook best_bid/best_ask 优先，否则取 bids 最高价和 asks 最低价
func bestOfBook(bm bookMessage) (bid, ask domain.Price) {
	bid, _ = parseOptional(bm.BestBid)
	ask, _ = parseOptional(bm.BestAsk)
	if bid.IsZero() {
		for _, l := range bm.Bids {
			if p, err := parsePrice(l.Price); err == nil && p.GreaterThan(bid) {
				bid = p
			}
		}
	}
	if ask.IsZero() {
		for _, l := range bm.Asks {
			if p, err := parsePrice(l.Price); err == nil && p.Pips > 0 && (ask.IsZero() || p.LessThan(ask)) {
				ask = p
			}
		}
	}
	return bid, ask
}

// Close 关闭连接并等待后台 goroutine 退出（最多 5 秒）
func (m *MarketStream) Close() error {
	m.closeOnce.Do(func() {
		close(m.closeC)
		m.connMu.Lock()
		if m.conn != nil {
			_ = m.conn.Close()
			m.conn = nil
		}
		m.connMu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		marketLog.Warnf("等待 WebSocket goroutine 退出超时（5秒），继续关闭")
	}
	marketLog.Infof("✅ 市场价格 WebSocket 已关闭")
	return nil
}
