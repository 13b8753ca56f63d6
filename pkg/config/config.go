package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StrategyConfig 策略参数（原始小数口径，由 internal/strategy 转成 Policy）
//
// preset: filtered_momentum / cross_hedge / limit_window / dual_limit / dual_limit_1h
// entry_policy: filtered / dual；dual_entry_style: limit / decide；exit_mode: hold / single / hedge
type StrategyConfig struct {
	Preset                     string   `yaml:"preset" json:"preset"`
	EntryPolicy                string   `yaml:"entry_policy" json:"entry_policy"`
	DualEntryStyle             string   `yaml:"dual_entry_style" json:"dual_entry_style"`
	ExitMode                   string   `yaml:"exit_mode" json:"exit_mode"`
	MinElapsedMinutes          int      `yaml:"min_elapsed_minutes" json:"min_elapsed_minutes"`
	TriggerPrice               float64  `yaml:"trigger_price" json:"trigger_price"`
	MaxBuyPrice                float64  `yaml:"max_buy_price" json:"max_buy_price"`
	MinTimeRemainingSeconds    int      `yaml:"min_time_remaining_seconds" json:"min_time_remaining_seconds"`
	SellPrice                  float64  `yaml:"sell_price" json:"sell_price"`
	StopLossPrice              float64  `yaml:"stop_loss_price" json:"stop_loss_price"`
	StopLossSides              []string `yaml:"stop_loss_sides" json:"stop_loss_sides"`
	HedgeMargin                float64  `yaml:"hedge_margin" json:"hedge_margin"`
	OppositeLimitPrice         float64  `yaml:"opposite_limit_price" json:"opposite_limit_price"`
	ReentryAfterExit           bool     `yaml:"reentry_after_exit" json:"reentry_after_exit"`
	DualLimitPrice             float64  `yaml:"dual_limit_price" json:"dual_limit_price"`
	DualLimitShares            float64  `yaml:"dual_limit_shares" json:"dual_limit_shares"`
	DualLimitHedgeEnabled      bool     `yaml:"dual_limit_hedge_enabled" json:"dual_limit_hedge_enabled"`
	DualLimitHedgeAfterMinutes int      `yaml:"dual_limit_hedge_after_minutes" json:"dual_limit_hedge_after_minutes"`
	DualLimitHedgePrice        float64  `yaml:"dual_limit_hedge_price" json:"dual_limit_hedge_price"`
	DualLimitEarlyHedgeMinutes int      `yaml:"dual_limit_early_hedge_minutes" json:"dual_limit_early_hedge_minutes"`
	DualLimitTrendStrength     float64  `yaml:"dual_limit_trend_strength_threshold" json:"dual_limit_trend_strength_threshold"`
	DualLimitTrendMinSamples   int      `yaml:"dual_limit_trend_min_samples" json:"dual_limit_trend_min_samples"`
	DualLimitTrendHistorySize  int      `yaml:"dual_limit_trend_history_size" json:"dual_limit_trend_history_size"`
	FixedTradeAmount           float64  `yaml:"fixed_trade_amount" json:"fixed_trade_amount"`
	Shares                     float64  `yaml:"shares" json:"shares"`
	MaxEntryAttempts           int      `yaml:"max_entry_attempts" json:"max_entry_attempts"`
	MaxExitAttempts            int      `yaml:"max_exit_attempts" json:"max_exit_attempts"`
}

// MarketConfig 静态市场配置（市场发现属于外部服务，dry-run / 回放时直接给出）
type MarketConfig struct {
	Asset       string `yaml:"asset" json:"asset"`
	Slug        string `yaml:"slug" json:"slug"`
	ConditionID string `yaml:"condition_id" json:"condition_id"`
	YesAssetID  string `yaml:"yes_asset_id" json:"yes_asset_id"`
	NoAssetID   string `yaml:"no_asset_id" json:"no_asset_id"`
	Timestamp   int64  `yaml:"timestamp" json:"timestamp"`
}

// FeedConfig 行情源配置
type FeedConfig struct {
	ClobURL           string  `yaml:"clob_url" json:"clob_url"`
	WebSocketURL      string  `yaml:"ws_url" json:"ws_url"`
	UseWebSocket      bool    `yaml:"use_ws" json:"use_ws"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	BookCacheMs       int     `yaml:"book_cache_ms" json:"book_cache_ms"`
	StaleAfterMs      int     `yaml:"stale_after_ms" json:"stale_after_ms"`
	Proxy             string  `yaml:"proxy" json:"proxy"`
}

// PersistenceConfig 状态持久化配置
type PersistenceConfig struct {
	Driver string `yaml:"driver" json:"driver"` // badger / json / none
	Dir    string `yaml:"dir" json:"dir"`
}

// RecorderConfig 价格记录配置
type RecorderConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	OutputDir string `yaml:"output_dir" json:"output_dir"`
}

// RiskConfig 熔断配置
type RiskConfig struct {
	MaxConsecutiveErrors int     `yaml:"max_consecutive_errors" json:"max_consecutive_errors"`
	DailyLossLimit       float64 `yaml:"daily_loss_limit" json:"daily_loss_limit"` // USDC，0 表示不限制
}

// BacktestConfig 回测配置
type BacktestConfig struct {
	HistoryDir string `yaml:"history_dir" json:"history_dir"`
	MinSamples int    `yaml:"min_samples" json:"min_samples"`
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）
type ConfigFile struct {
	LogLevel          string            `yaml:"log_level" json:"log_level"`
	LogFile           string            `yaml:"log_file" json:"log_file"`
	LogByCycle        bool              `yaml:"log_by_cycle" json:"log_by_cycle"`
	DryRun            bool              `yaml:"dry_run" json:"dry_run"`
	PollIntervalMs    int               `yaml:"poll_interval_ms" json:"poll_interval_ms"`
	ExchangeTimeoutMs int               `yaml:"exchange_timeout_ms" json:"exchange_timeout_ms"`
	MaxInFlight       int               `yaml:"max_in_flight" json:"max_in_flight"`
	OrdersPerSecond   float64           `yaml:"orders_per_second" json:"orders_per_second"`
	Timeframe         string            `yaml:"timeframe" json:"timeframe"`
	Assets            []string          `yaml:"assets" json:"assets"`
	Markets           []MarketConfig    `yaml:"markets" json:"markets"`
	Strategy          StrategyConfig    `yaml:"strategy" json:"strategy"`
	Feed              FeedConfig        `yaml:"feed" json:"feed"`
	Persistence       PersistenceConfig `yaml:"persistence" json:"persistence"`
	JournalPath       string            `yaml:"journal_path" json:"journal_path"`
	Recorder          RecorderConfig    `yaml:"recorder" json:"recorder"`
	HTTPListen        string            `yaml:"http_listen" json:"http_listen"`
	Risk              RiskConfig        `yaml:"risk" json:"risk"`
	Backtest          BacktestConfig    `yaml:"backtest" json:"backtest"`
}

// Config 运行时配置
type Config struct {
	LogLevel        string
	LogFile         string
	LogByCycle      bool
	DryRun          bool // 纸交易模式：订单只在本地撮合，不进行真实交易
	PollInterval    time.Duration
	ExchangeTimeout time.Duration
	MaxInFlight     int
	OrdersPerSecond float64
	Timeframe       string
	Assets          []string
	Markets         []MarketConfig
	Strategy        StrategyConfig
	Feed            FeedConfig
	Persistence     PersistenceConfig
	JournalPath     string
	Recorder        RecorderConfig
	HTTPListen      string
	Risk            RiskConfig
	Backtest        BacktestConfig
}

var globalConfig *Config
var configFilePath string

// SetConfigPath 设置配置文件路径
func SetConfigPath(path string) {
	configFilePath = path
}

// GetConfigPath 获取配置文件路径
func GetConfigPath() string {
	return configFilePath
}

// Get 获取全局配置（如果已加载）
func Get() *Config {
	return globalConfig
}

// Load 加载配置
func Load() (*Config, error) {
	return LoadFromFile(configFilePath)
}

// defaultConfigFile 默认值（与原始机器人一致）
func defaultConfigFile() *ConfigFile {
	return &ConfigFile{
		LogLevel:          "info",
		DryRun:            true,
		PollIntervalMs:    1000,
		ExchangeTimeoutMs: 5000,
		MaxInFlight:       8,
		OrdersPerSecond:   10,
		Timeframe:         "15m",
		Assets:            []string{"btc"},
		Strategy: StrategyConfig{
			Preset:                     "",
			EntryPolicy:                "filtered",
			DualEntryStyle:             "limit",
			ExitMode:                   "single",
			MinElapsedMinutes:          10,
			TriggerPrice:               0.90,
			MaxBuyPrice:                0.95,
			MinTimeRemainingSeconds:    30,
			SellPrice:                  0.99,
			StopLossPrice:              0.85,
			StopLossSides:              []string{"up", "down"},
			HedgeMargin:                0.10,
			DualLimitPrice:             0.45,
			DualLimitHedgeEnabled:      true,
			DualLimitHedgeAfterMinutes: 10,
			DualLimitHedgePrice:        0.85,
			DualLimitEarlyHedgeMinutes: 5,
			DualLimitTrendMinSamples:   10,
			DualLimitTrendHistorySize:  60,
			FixedTradeAmount:           1.0,
			MaxEntryAttempts:           3,
			MaxExitAttempts:            3,
		},
		Feed: FeedConfig{
			ClobURL:           "https://clob.polymarket.com",
			WebSocketURL:      "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			UseWebSocket:      true,
			RequestsPerSecond: 5,
			BookCacheMs:       500,
			StaleAfterMs:      5000,
		},
		Persistence: PersistenceConfig{Driver: "badger", Dir: "data/state"},
		Recorder:    RecorderConfig{OutputDir: "data/history"},
		HTTPListen:  ":8090",
		Risk:        RiskConfig{MaxConsecutiveErrors: 5},
		Backtest:    BacktestConfig{HistoryDir: "data/history", MinSamples: 2},
	}
}

// LoadFromFile 从指定文件加载配置（优先级：环境变量 > 配置文件 > 默认值）
func LoadFromFile(filePath string) (*Config, error) {
	if globalConfig != nil && configFilePath == filePath && filePath != "" {
		return globalConfig, nil
	}

	configFile := defaultConfigFile()
	if filePath != "" {
		if err := loadConfigFile(filePath, configFile); err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
	}
	applyEnv(configFile)

	config := fromFile(configFile)
	globalConfig = config
	configFilePath = filePath
	return config, nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON），未出现的字段保留默认值
func loadConfigFile(filePath string, into *ConfigFile) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("读取配置文件失败: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, into); err != nil {
			return fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, into); err != nil {
			return fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}
	return nil
}

// applyEnv 环境变量覆盖（.env 由 cmd 通过 godotenv 预先加载）
func applyEnv(cf *ConfigFile) {
	cf.LogLevel = getEnv("UPDOWN_LOG_LEVEL", cf.LogLevel)
	cf.LogFile = getEnv("UPDOWN_LOG_FILE", cf.LogFile)
	cf.DryRun = parseBoolEnv("UPDOWN_DRY_RUN", cf.DryRun)
	cf.PollIntervalMs = parseIntEnv("UPDOWN_POLL_INTERVAL_MS", cf.PollIntervalMs)
	cf.ExchangeTimeoutMs = parseIntEnv("UPDOWN_EXCHANGE_TIMEOUT_MS", cf.ExchangeTimeoutMs)
	cf.HTTPListen = getEnv("UPDOWN_HTTP_LISTEN", cf.HTTPListen)
	cf.JournalPath = getEnv("UPDOWN_JOURNAL_PATH", cf.JournalPath)
	cf.Feed.Proxy = getEnv("UPDOWN_PROXY", cf.Feed.Proxy)
	if assets := os.Getenv("UPDOWN_ASSETS"); assets != "" {
		cf.Assets = parseList(assets)
	}

	s := &cf.Strategy
	s.Preset = getEnv("UPDOWN_PRESET", s.Preset)
	s.TriggerPrice = parseFloatEnv("UPDOWN_TRIGGER_PRICE", s.TriggerPrice)
	s.MaxBuyPrice = parseFloatEnv("UPDOWN_MAX_BUY_PRICE", s.MaxBuyPrice)
	s.SellPrice = parseFloatEnv("UPDOWN_SELL_PRICE", s.SellPrice)
	s.StopLossPrice = parseFloatEnv("UPDOWN_STOP_LOSS_PRICE", s.StopLossPrice)
	s.MinElapsedMinutes = parseIntEnv("UPDOWN_MIN_ELAPSED_MINUTES", s.MinElapsedMinutes)
	s.FixedTradeAmount = parseFloatEnv("UPDOWN_FIXED_TRADE_AMOUNT", s.FixedTradeAmount)
	s.DualLimitPrice = parseFloatEnv("UPDOWN_DUAL_LIMIT_PRICE", s.DualLimitPrice)
	s.DualLimitHedgePrice = parseFloatEnv("UPDOWN_DUAL_LIMIT_HEDGE_PRICE", s.DualLimitHedgePrice)
}

func fromFile(cf *ConfigFile) *Config {
	return &Config{
		LogLevel:        cf.LogLevel,
		LogFile:         cf.LogFile,
		LogByCycle:      cf.LogByCycle,
		DryRun:          cf.DryRun,
		PollInterval:    time.Duration(cf.PollIntervalMs) * time.Millisecond,
		ExchangeTimeout: time.Duration(cf.ExchangeTimeoutMs) * time.Millisecond,
		MaxInFlight:     cf.MaxInFlight,
		OrdersPerSecond: cf.OrdersPerSecond,
		Timeframe:       cf.Timeframe,
		Assets:          cf.Assets,
		Markets:         cf.Markets,
		Strategy:        cf.Strategy,
		Feed:            cf.Feed,
		Persistence:     cf.Persistence,
		JournalPath:     cf.JournalPath,
		Recorder:        cf.Recorder,
		HTTPListen:      cf.HTTPListen,
		Risk:            cf.Risk,
		Backtest:        cf.Backtest,
	}
}

// Default 返回只包含默认值的配置（不读取文件和环境变量）
func Default() *Config {
	return fromFile(defaultConfigFile())
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("poll_interval_ms 不能小于 100")
	}
	if c.ExchangeTimeout <= 0 {
		return fmt.Errorf("exchange_timeout_ms 必须大于 0")
	}
	if c.MaxInFlight <= 0 {
		return fmt.Errorf("max_in_flight 必须大于 0")
	}
	switch c.Timeframe {
	case "15m", "1h", "4h":
	default:
		return fmt.Errorf("timeframe 必须是 15m、1h 或 4h: %q", c.Timeframe)
	}
	switch c.Persistence.Driver {
	case "badger", "json", "none", "":
	default:
		return fmt.Errorf("persistence.driver 必须是 badger、json 或 none: %q", c.Persistence.Driver)
	}
	for i, m := range c.Markets {
		if m.YesAssetID == "" || m.NoAssetID == "" {
			return fmt.Errorf("markets[%d] 缺少 yes_asset_id/no_asset_id", i)
		}
		if m.Timestamp <= 0 {
			return fmt.Errorf("markets[%d] 缺少 timestamp", i)
		}
	}
	s := c.Strategy
	if s.TriggerPrice <= 0 || s.TriggerPrice > 1 {
		return fmt.Errorf("trigger_price 必须在 0 到 1 之间")
	}
	if s.FixedTradeAmount <= 0 && s.Shares <= 0 {
		return fmt.Errorf("fixed_trade_amount 或 shares 至少设置一个")
	}
	for _, side := range s.StopLossSides {
		if side != "up" && side != "down" {
			return fmt.Errorf("stop_loss_sides 只能包含 up/down: %q", side)
		}
	}
	return nil
}

// parseList 解析逗号分隔列表
func parseList(str string) []string {
	var out []string
	for _, part := range strings.Split(str, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseFloatEnv 解析浮点数环境变量
func parseFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
