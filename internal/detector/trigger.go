package detector

import "sort"

// TokenTrigger 单个 token 在一个周期内的触发状态
type TokenTrigger struct {
	Fired      bool `json:"fired"`
	NeedsReset bool `json:"needs_reset"` // 卖出后等待价格回落到触发价以下
}

// TriggerState 一个周期、一个策略的入场触发状态
type TriggerState struct {
	Period    int64                    `json:"period"`
	DualFired bool                     `json:"dual_fired"`
	Tokens    map[string]*TokenTrigger `json:"tokens"`
}

// NewTriggerState 创建周期触发状态
func NewTriggerState(period int64) *TriggerState {
	return &TriggerState{Period: period, Tokens: make(map[string]*TokenTrigger)}
}

func (s *TriggerState) token(assetID string) *TokenTrigger {
	if s.Tokens == nil {
		s.Tokens = make(map[string]*TokenTrigger)
	}
	t, ok := s.Tokens[assetID]
	if !ok {
		t = &TokenTrigger{}
		s.Tokens[assetID] = t
	}
	return t
}

// Fired 该 token 本周期是否已触发
func (s *TriggerState) Fired(assetID string) bool {
	t, ok := s.Tokens[assetID]
	return ok && t.Fired
}

// MarkExited 仓位退出后重新开放该 token，但必须先等价格回落到触发价以下
func (s *TriggerState) MarkExited(assetID string) {
	t := s.token(assetID)
	t.Fired = false
	t.NeedsReset = true
}

// Unfire 撤回一次触发：入场意图被状态机拒绝时调用，下个 tick 可以重新触发
func (s *TriggerState) Unfire(assetID string) {
	if t, ok := s.Tokens[assetID]; ok {
		t.Fired = false
	}
	s.DualFired = false
}

// TriggerBook 由调度器持有的 周期 -> 触发状态 映射
//
// 生命周期：发现周期时 Open，周期结算后 Discard。
type TriggerBook struct {
	states map[int64]*TriggerState
}

func NewTriggerBook() *TriggerBook {
	return &TriggerBook{states: make(map[int64]*TriggerState)}
}

// Open 获取或创建周期触发状态
func (b *TriggerBook) Open(period int64) *TriggerState {
	if st, ok := b.states[period]; ok {
		return st
	}
	st := NewTriggerState(period)
	b.states[period] = st
	return st
}

func (b *TriggerBook) Get(period int64) (*TriggerState, bool) {
	st, ok := b.states[period]
	return st, ok
}

// Discard 周期结算后丢弃
func (b *TriggerBook) Discard(period int64) {
	delete(b.states, period)
}

// MarkExited 见 TriggerState.MarkExited；周期已丢弃时忽略
func (b *TriggerBook) MarkExited(period int64, assetID string) {
	if st, ok := b.states[period]; ok {
		st.MarkExited(assetID)
	}
}

// Periods 当前持有的周期（升序）
func (b *TriggerBook) Periods() []int64 {
	out := make([]int64, 0, len(b.states))
	for p := range b.states {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// States 导出全部状态（持久化用）
func (b *TriggerBook) States() []*TriggerState {
	out := make([]*TriggerState, 0, len(b.states))
	for _, p := range b.Periods() {
		out = append(out, b.states[p])
	}
	return out
}

// Restore 从持久化状态恢复
func (b *TriggerBook) Restore(states []*TriggerState) {
	b.states = make(map[int64]*TriggerState, len(states))
	for _, st := range states {
		if st == nil {
			continue
		}
		if st.Tokens == nil {
			st.Tokens = make(map[string]*TokenTrigger)
		}
		b.states[st.Period] = st
	}
}
