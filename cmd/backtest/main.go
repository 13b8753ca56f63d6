package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/betbot/updown/internal/backtest"
	"github.com/betbot/updown/internal/journal"
	"github.com/betbot/updown/internal/strategy"
	"github.com/betbot/updown/pkg/config"
	"github.com/betbot/updown/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（支持 .yaml, .yml, .json）")
	dir := flag.String("dir", "", "历史数据目录（默认使用 backtest.history_dir）")
	replay := flag.Bool("replay", false, "同时用实盘状态机回放并比对结果")
	journalPath := flag.String("journal", "", "把回测结果写入 sqlite 归档（默认使用 journal_path）")
	verbose := flag.Bool("v", false, "逐周期输出成交明细")
	flag.Parse()

	if err := run(*configPath, *dir, *journalPath, *replay, *verbose); err != nil {
		logrus.Errorf("❌ %v", err)
		os.Exit(1)
	}
}

func run(configPath, dir, journalPath string, replay, verbose bool) error {
	_ = godotenv.Load()

	config.SetConfigPath(configPath)
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(logger.Config{Level: cfg.LogLevel}); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}

	policy, err := strategy.FromConfig(cfg.Strategy, cfg.Timeframe)
	if err != nil {
		return err
	}
	if dir == "" {
		dir = cfg.Backtest.HistoryDir
	}

	series, excluded, err := backtest.LoadDir(dir)
	if err != nil {
		return err
	}

	sim := backtest.NewSimulator(backtest.ParamsFromPolicy(policy, cfg.Backtest.MinSamples))
	rep := sim.Run(series)
	rep.Excluded = append(excluded, rep.Excluded...)
	fmt.Println(backtest.Render(rep, verbose))

	if replay {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		replayed := backtest.NewReplayer(policy, cfg.Backtest.MinSamples).Run(ctx, series)
		mismatches := backtest.Compare(rep, replayed)
		if len(mismatches) == 0 {
			logger.Infof("✅ 状态机回放与模拟器结果一致（%d 个周期）", len(replayed.Periods))
		}
		for _, m := range mismatches {
			logger.Warnf("⚠️ %s 不一致: 模拟 %s 成本=%s 价值=%s / 回放 %s 成本=%s 价值=%s",
				m.Name,
				m.Simulated.Result(), m.Simulated.Cost.StringFixed(4), m.Simulated.Value.StringFixed(4),
				m.Replayed.Result(), m.Replayed.Cost.StringFixed(4), m.Replayed.Value.StringFixed(4))
		}
	}

	if journalPath == "" {
		journalPath = cfg.JournalPath
	}
	if journalPath != "" {
		j, err := journal.Open(journalPath)
		if err != nil {
			return err
		}
		defer j.Close()
		name := fmt.Sprintf("%s@%s", policy.Name, filepath.Base(dir))
		id, err := j.RecordBacktest(context.Background(), name, rep)
		if err != nil {
			return err
		}
		logger.Infof("💾 回测结果已写入 %s (run #%d)", journalPath, id)
	}
	return nil
}
