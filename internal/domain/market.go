package domain

// Market 市场周期领域模型
//
// 一个 Market 对应一个固定时长的周期（例如 15 分钟），Timestamp 是周期开始时间，
// 同时作为周期键（period key）。周期存续期间不可变，下一周期开始后被替代。
type Market struct {
	Slug            string // 市场 slug（btc-updown-15m-1767000000）
	Asset           string // 标的（btc/eth/...）
	YesAssetID      string // UP token 资产 ID
	NoAssetID       string // DOWN token 资产 ID
	ConditionID     string // 条件 ID
	Question        string // 问题描述
	Timestamp       int64  // 周期开始 Unix 时间戳（秒）
	DurationSeconds int64  // 周期时长（秒），0 表示默认 900
}

// DefaultPeriodSeconds 默认周期时长（15 分钟）
const DefaultPeriodSeconds int64 = 900

// IsValid 验证市场是否有效
func (m *Market) IsValid() bool {
	return m.Slug != "" && m.YesAssetID != "" && m.NoAssetID != "" && m.Timestamp > 0
}

// Duration 周期时长（秒）
func (m *Market) Duration() int64 {
	if m.DurationSeconds > 0 {
		return m.DurationSeconds
	}
	return DefaultPeriodSeconds
}

// EndTimestamp 周期结束时间
func (m *Market) EndTimestamp() int64 {
	return m.Timestamp + m.Duration()
}

// GetAssetID 根据 token 类型获取资产 ID
func (m *Market) GetAssetID(tokenType TokenType) string {
	if tokenType == TokenTypeUp {
		return m.YesAssetID
	}
	return m.NoAssetID
}

// TokenOf 返回资产 ID 对应的 token 类型
func (m *Market) TokenOf(assetID string) (TokenType, bool) {
	switch assetID {
	case m.YesAssetID:
		return TokenTypeUp, true
	case m.NoAssetID:
		return TokenTypeDown, true
	}
	return "", false
}

// OppositeAssetID 返回同一市场另一侧 token 的资产 ID
func (m *Market) OppositeAssetID(assetID string) string {
	if assetID == m.YesAssetID {
		return m.NoAssetID
	}
	if assetID == m.NoAssetID {
		return m.YesAssetID
	}
	return ""
}

// TokenType token 类型
type TokenType string

const (
	TokenTypeUp   TokenType = "up"
	TokenTypeDown TokenType = "down"
)

// Opposite 另一侧 token
func (t TokenType) Opposite() TokenType {
	if t == TokenTypeUp {
		return TokenTypeDown
	}
	return TokenTypeUp
}
