package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/updown/internal/detector"
	"github.com/betbot/updown/internal/domain"
	"github.com/betbot/updown/internal/metrics"
	"github.com/betbot/updown/internal/oms"
	"github.com/betbot/updown/internal/ports"
	"github.com/betbot/updown/internal/risk"
	"github.com/betbot/updown/internal/strategy"
	"github.com/betbot/updown/pkg/logger"
	"github.com/betbot/updown/pkg/persistence"
)

var log = logrus.WithField("component", "scheduler")

// recentOutcomes 保留在内存里供状态查询的结算数量
const recentOutcomes = 32

// Observer 每个 tick 在状态机之前看到快照（模拟网关据此撮合挂单）
type Observer interface {
	Observe(snap *domain.Snapshot)
}

// Settler 周期结算时兑付持仓（模拟网关）
type Settler interface {
	Settle(market *domain.Market, winner domain.TokenType)
}

// Journal 归档周期结算
type Journal interface {
	RecordOutcome(ctx context.Context, o oms.PeriodOutcome) error
}

// Recorder 记录每个快照
type Recorder interface {
	Record(snap *domain.Snapshot) error
}

// SchedulerConfig 除 Policy/Feed/Machine 外都可以为空
type SchedulerConfig struct {
	Policy       *strategy.Policy
	Feed         ports.SnapshotFeed
	Machine      *oms.Machine
	PollInterval time.Duration
	Observer     Observer
	Settler      Settler
	Breaker      *risk.CircuitBreaker
	Journal      Journal
	Recorder     Recorder
	Persistence  persistence.Service
	StateID      string
}

// persistedState 重启后恢复的状态
type persistedState struct {
	Machine  oms.State                `persistence:"machine"`
	Triggers []*detector.TriggerState `persistence:"triggers"`
}

// Status 调度器对外的只读状态
type Status struct {
	Period     int64                        `json:"period"`
	Elapsed    int64                        `json:"elapsed_seconds"`
	Remaining  int64                        `json:"remaining_seconds"`
	Markets    []*domain.Market             `json:"markets"`
	Quotes     map[string]domain.TokenQuote `json:"quotes"`
	Live       []domain.TradeRecord         `json:"live"`
	Recent     []oms.PeriodOutcome          `json:"-"`
	Halted     bool                         `json:"halted"`
	Ticks      int64                        `json:"ticks"`
	TickErrors int64                        `json:"tick_errors"`
	LastError  string                       `json:"last_error,omitempty"`
	UpdatedAt  time.Time                    `json:"updated_at"`
}

// Scheduler 单一轮询循环：快照 -> 撮合 -> 检测 -> 状态机 -> 周期结算。
// 循环内各步骤出错只记录日志，下一个 tick 继续。
type Scheduler struct {
	cfg      SchedulerConfig
	detector *detector.Detector
	triggers *detector.TriggerBook

	// 仅循环 goroutine 访问
	period int64
	last   *domain.Snapshot

	mu      sync.RWMutex
	status  Status
	recent  []oms.PeriodOutcome
	running bool
}

// NewScheduler 创建调度器；配置了持久化时先恢复上次的状态
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Policy == nil || cfg.Feed == nil || cfg.Machine == nil {
		return nil, errors.New("scheduler: policy/feed/machine 不能为空")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.StateID == "" {
		cfg.StateID = cfg.Policy.Name
	}
	s := &Scheduler{
		cfg:      cfg,
		detector: detector.New(cfg.Policy),
		triggers: detector.NewTriggerBook(),
	}
	if err := s.restore(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) restore() error {
	if s.cfg.Persistence == nil {
		return nil
	}
	var st persistedState
	if err := persistence.LoadFields(&st, s.cfg.StateID, s.cfg.Persistence); err != nil {
		return err
	}
	s.cfg.Machine.Restore(st.Machine)
	s.triggers.Restore(st.Triggers)
	if periods := s.triggers.Periods(); len(periods) > 0 {
		log.Infof("♻️ 恢复触发状态: 周期 %v", periods)
	}
	return nil
}

func (s *Scheduler) save() {
	if s.cfg.Persistence == nil {
		return
	}
	st := persistedState{Machine: s.cfg.Machine.State(), Triggers: s.triggers.States()}
	if err := persistence.SaveFields(&st, s.cfg.StateID, s.cfg.Persistence); err != nil {
		log.Errorf("保存状态失败: %v", err)
	}
}

// Run 按固定间隔轮询直到 ctx 结束；tick 不会重叠
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler 已在运行")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.save()
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	log.Infof("🚀 调度器启动: 策略=%s 间隔=%s", s.cfg.Policy.Name, s.cfg.PollInterval)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Warnf("tick 失败: %v", err)
		}
		select {
		case <-ctx.Done():
			log.Infof("调度器停止")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce 执行一次完整的轮询
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	snap, err := s.cfg.Feed.Next(ctx)
	if err != nil {
		s.tickFailed(err)
		return err
	}

	changed := false
	if snap.Period != s.period {
		// 首个 tick 也要检查：持久化恢复的旧周期在这里结算
		s.rollover(ctx, snap.Period)
		logger.SetMarketTimestamp(snap.Period)
		s.period = snap.Period
		changed = true
	}

	if s.cfg.Observer != nil {
		s.cfg.Observer.Observe(snap)
	}
	if s.cfg.Recorder != nil {
		if err := s.cfg.Recorder.Record(snap); err != nil {
			log.Warnf("记录快照失败: %v", err)
		}
	}

	trigger := s.triggers.Open(snap.Period)
	intents := s.detector.Detect(snap, trigger)
	for _, intent := range intents {
		if err := s.cfg.Machine.Accept(intent, snap.MarketOf(intent.AssetID)); err != nil {
			// 已有活跃记录说明该 token 确实持仓，触发保持；其余拒绝撤回触发
			if !errors.Is(err, oms.ErrKeyLive) {
				trigger.Unfire(intent.AssetID)
			}
			log.Infof("入场意图未接受 %s: %v", intent, err)
		}
	}

	rep := s.cfg.Machine.Tick(ctx, snap)
	if s.cfg.Policy.ReentryOnReset {
		for _, key := range rep.Exited {
			s.triggers.MarkExited(key.Period, key.AssetID)
		}
	}
	if len(intents) > 0 || rep.Fills+rep.Placed+rep.Cancelled+rep.Anomalies > 0 || len(rep.Closed) > 0 {
		changed = true
	}
	if changed {
		s.save()
	}

	s.last = snap
	s.publish(snap)
	return nil
}

// rollover 新周期开始：结算所有早于 next 的周期。
// 赢方取上一周期最后一个快照的报价；持久化恢复而没有快照的周期按赢方未知结算。
func (s *Scheduler) rollover(ctx context.Context, next int64) {
	periods := map[int64]bool{}
	for _, p := range s.triggers.Periods() {
		if p < next {
			periods[p] = true
		}
	}
	for _, r := range s.cfg.Machine.Live() {
		if r.Key.Period < next {
			periods[r.Key.Period] = true
		}
	}
	if s.period != 0 && s.period < next {
		periods[s.period] = true
	}

	sorted := make([]int64, 0, len(periods))
	for p := range periods {
		sorted = append(sorted, p)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	for _, p := range sorted {
		var winners map[string]domain.TokenType
		if s.last != nil && s.last.Period == p {
			winners = Winners(s.last)
		}
		s.Resolve(ctx, p, winners)
	}
}

// Resolve 结算一个周期并丢弃它的触发状态
func (s *Scheduler) Resolve(ctx context.Context, period int64, winners map[string]domain.TokenType) []oms.PeriodOutcome {
	outcomes := s.cfg.Machine.ResolvePeriod(ctx, period, winners)
	for _, o := range outcomes {
		if s.cfg.Settler != nil && o.Market != nil && o.Determined {
			s.cfg.Settler.Settle(o.Market, o.Winner)
		}
		if !o.Traded() {
			continue
		}
		// 赢方未知时持仓价值不计，不能当作亏损计入风控
		if o.Settled() {
			s.cfg.Breaker.AddPnL(o.PnL)
		}
		if s.cfg.Journal != nil {
			if err := s.cfg.Journal.RecordOutcome(ctx, o); err != nil {
				log.Errorf("写入结算记录失败: %v", err)
			}
		}
	}
	s.triggers.Discard(period)

	s.mu.Lock()
	s.recent = append(s.recent, outcomes...)
	if n := len(s.recent); n > recentOutcomes {
		s.recent = append([]oms.PeriodOutcome(nil), s.recent[n-recentOutcomes:]...)
	}
	s.mu.Unlock()
	return outcomes
}

// Winners 用快照中两侧的 ask 判定每个市场的赢方，无法判定的不放入结果
func Winners(snap *domain.Snapshot) map[string]domain.TokenType {
	out := make(map[string]domain.TokenType)
	if snap == nil {
		return out
	}
	for _, m := range snap.Markets {
		up, okUp := snap.Quote(m.YesAssetID)
		down, okDown := snap.Quote(m.NoAssetID)
		if !okUp || !okDown || !up.HasAsk || !down.HasAsk {
			continue
		}
		if w, ok := domain.ResolveWinner(up.Ask, down.Ask); ok {
			out[m.Slug] = w
		}
	}
	return out
}

func (s *Scheduler) tickFailed(err error) {
	metrics.TickErrors.Inc()
	s.mu.Lock()
	s.status.TickErrors++
	s.status.LastError = err.Error()
	s.status.UpdatedAt = time.Now()
	s.mu.Unlock()
}

func (s *Scheduler) publish(snap *domain.Snapshot) {
	live := s.cfg.Machine.Live()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Period = snap.Period
	s.status.Elapsed = snap.ElapsedSeconds
	s.status.Remaining = snap.RemainingSeconds
	s.status.Markets = snap.Markets
	s.status.Quotes = snap.Quotes
	s.status.Live = live
	s.status.Halted = s.cfg.Breaker.Halted()
	s.status.Ticks++
	s.status.UpdatedAt = snap.At
}

// Status 当前状态的拷贝
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	st.Recent = append([]oms.PeriodOutcome(nil), s.recent...)
	return st
}

// Breaker 风控断路器（可能为 nil）
func (s *Scheduler) Breaker() *risk.CircuitBreaker {
	return s.cfg.Breaker
}
