package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/betbot/updown/internal/controlplane/server"
	"github.com/betbot/updown/internal/dashboard"
	"github.com/betbot/updown/internal/domain"
	"github.com/betbot/updown/internal/execution"
	"github.com/betbot/updown/internal/feed"
	"github.com/betbot/updown/internal/gateway/paper"
	"github.com/betbot/updown/internal/infrastructure/clob"
	"github.com/betbot/updown/internal/infrastructure/gamma"
	"github.com/betbot/updown/internal/infrastructure/websocket"
	"github.com/betbot/updown/internal/journal"
	"github.com/betbot/updown/internal/marketstate"
	"github.com/betbot/updown/internal/oms"
	"github.com/betbot/updown/internal/recorder"
	"github.com/betbot/updown/internal/risk"
	"github.com/betbot/updown/internal/services"
	"github.com/betbot/updown/internal/strategy"
	"github.com/betbot/updown/pkg/config"
	"github.com/betbot/updown/pkg/logger"
	"github.com/betbot/updown/pkg/marketspec"
	"github.com/betbot/updown/pkg/persistence"
	"github.com/betbot/updown/pkg/shutdown"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（支持 .yaml, .yml, .json）")
	envFile := flag.String("env", ".env", "环境变量文件（不存在则忽略）")
	tui := flag.Bool("tui", false, "启用终端仪表盘（日志只写文件）")
	once := flag.Bool("once", false, "只执行一次轮询后退出")
	flag.Parse()

	if err := run(*configPath, *envFile, *tui, *once); err != nil {
		logrus.Errorf("❌ %v", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string, tui, once bool) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("加载 %s 失败: %w", envFile, err)
		}
	}

	config.SetConfigPath(configPath)
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		OutputFile:  cfg.LogFile,
		MaxSize:     100,
		MaxBackups:  10,
		MaxAge:      30,
		Compress:    true,
		LogByCycle:  cfg.LogByCycle,
		CyclePrefix: "updown-" + cfg.Timeframe,
		Quiet:       tui && cfg.LogFile != "",
	}); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}

	if !cfg.DryRun {
		return fmt.Errorf("没有可用的真实交易网关：请设置 dry_run: true 以纸交易模式运行")
	}

	policy, err := strategy.FromConfig(cfg.Strategy, cfg.Timeframe)
	if err != nil {
		return err
	}
	logger.Infof("🚀 启动 updown 机器人: 策略=%s 资产=%s 周期=%s dry_run=%v",
		policy.Name, strings.Join(cfg.Assets, ","), cfg.Timeframe, cfg.DryRun)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	closers := shutdown.NewManager()
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		_ = closers.Shutdown(shutdownCtx)
	}()

	specs, err := marketSpecs(cfg)
	if err != nil {
		return err
	}

	// 行情：WS 盘口优先，REST /book 补缺
	books := marketstate.NewBooks(time.Duration(cfg.Feed.StaleAfterMs) * time.Millisecond)
	bookClient := clob.NewBookClient(cfg.Feed.ClobURL, clob.Options{
		RequestsPerSecond: cfg.Feed.RequestsPerSecond,
		CacheTTL:          time.Duration(cfg.Feed.BookCacheMs) * time.Millisecond,
		Timeout:           cfg.ExchangeTimeout,
		Proxy:             cfg.Feed.Proxy,
	})
	closers.OnShutdown("book client", func(context.Context) error { bookClient.Close(); return nil })

	var stream *websocket.MarketStream
	sources := []feed.QuoteSource{bookClient}
	if cfg.Feed.UseWebSocket {
		stream = websocket.NewMarketStream(cfg.Feed.WebSocketURL, cfg.Feed.Proxy, books)
		if err := stream.Start(ctx); err != nil {
			// 重连协程已启动，这里只记录
			logger.Warnf("⚠️ 市场 WS 首次连接失败: %v", err)
		}
		closers.OnShutdown("market ws", func(context.Context) error { return stream.Close() })
		sources = []feed.QuoteSource{books, bookClient}
	}

	var markets feed.MarketSource
	if len(cfg.Markets) > 0 {
		static, err := feed.NewStaticMarketSource(cfg.Markets, cfg.Timeframe)
		if err != nil {
			return err
		}
		markets = static
	} else {
		markets = gamma.NewMarketSource(gamma.DefaultURL, specs, cfg.Feed.Proxy)
	}

	live := feed.NewLive(specs[0], markets, sources...)
	live.OnPeriod(func(period int64, ms []*domain.Market) {
		for _, m := range ms {
			books.Register(m)
		}
		stale := books.AssetIDs()
		books.Prune(period)
		if stream == nil {
			return
		}
		current := books.AssetIDs()
		stream.Unsubscribe(difference(stale, current)...)
		if err := stream.Subscribe(current...); err != nil {
			logger.Warnf("订阅周期 %d 的资产失败: %v", period, err)
		}
	})

	// 执行：纸交易网关 + 并发调度 + 熔断
	gw := paper.New()
	breaker := risk.NewCircuitBreaker(risk.CircuitBreakerConfig{
		MaxConsecutiveErrors: int64(cfg.Risk.MaxConsecutiveErrors),
		DailyLossLimit:       decimal.NewFromFloat(cfg.Risk.DailyLossLimit),
	})
	disp := execution.NewDispatcher(gw, execution.Options{
		Timeout:         cfg.ExchangeTimeout,
		MaxInFlight:     cfg.MaxInFlight,
		OrdersPerSecond: cfg.OrdersPerSecond,
	})
	machine := oms.New(policy, disp, oms.Options{Gate: breaker})

	store, closeStore, err := persistence.NewService(cfg.Persistence.Driver, cfg.Persistence.Dir)
	if err != nil {
		return err
	}
	closers.OnShutdown("persistence", func(context.Context) error { return closeStore() })

	var j *journal.Journal
	if cfg.JournalPath != "" {
		if j, err = journal.Open(cfg.JournalPath); err != nil {
			return err
		}
		closers.OnShutdown("journal", func(context.Context) error { return j.Close() })
	}

	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		if rec, err = recorder.New(cfg.Recorder.OutputDir); err != nil {
			return err
		}
		closers.OnShutdown("recorder", func(context.Context) error { return rec.Close() })
	}

	schedCfg := services.SchedulerConfig{
		Policy:       policy,
		Feed:         live,
		Machine:      machine,
		PollInterval: cfg.PollInterval,
		Observer:     gw,
		Settler:      gw,
		Breaker:      breaker,
		Persistence:  store,
	}
	// 接口字段只在启用时赋值，避免 typed nil
	if j != nil {
		schedCfg.Journal = j
	}
	if rec != nil {
		schedCfg.Recorder = rec
	}
	sched, err := services.NewScheduler(schedCfg)
	if err != nil {
		return err
	}

	if once {
		if err := sched.RunOnce(ctx); err != nil {
			return err
		}
		st := sched.Status()
		logger.Infof("✅ 单次轮询完成: 周期=%d 市场=%d 持仓记录=%d", st.Period, len(st.Markets), len(st.Live))
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })

	if cfg.HTTPListen != "" {
		var jr server.JournalReader
		if j != nil {
			jr = j
		}
		cp, err := server.New(server.Config{Listen: cfg.HTTPListen, LogFile: logger.CurrentLogFile(), CurrentLogFile: logger.CurrentLogFile}, sched, jr)
		if err != nil {
			return err
		}
		g.Go(func() error { return cp.Run(gctx) })
	}

	if tui {
		g.Go(func() error { return dashboard.Run(gctx, sched, cancel) })
	}

	err = g.Wait()
	logger.Infof("👋 机器人已停止，现金余额 %s", gw.Cash().StringFixed(4))
	return err
}

// marketSpecs 每个资产一个 MarketSpec；第一个用于周期时钟
func marketSpecs(cfg *config.Config) ([]marketspec.MarketSpec, error) {
	if len(cfg.Assets) == 0 {
		return nil, fmt.Errorf("assets 不能为空")
	}
	specs := make([]marketspec.MarketSpec, 0, len(cfg.Assets))
	for _, asset := range cfg.Assets {
		spec, err := marketspec.New(asset, cfg.Timeframe, "updown")
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func difference(a, b []string) []string {
	keep := make(map[string]bool, len(b))
	for _, id := range b {
		keep[id] = true
	}
	var out []string
	for _, id := range a {
		if !keep[id] {
			out = append(out, id)
		}
	}
	return out
}
