package oms

import (
	"github.com/betbot/updown/internal/domain"
)

// State 状态机的可持久化快照
type State struct {
	Records []*domain.TradeRecord `json:"records"`
	Closed  []*domain.TradeRecord `json:"closed"`
	Ledgers []Ledger              `json:"ledgers"`
	Voids   []VoidOrder           `json:"voids"`
}

// State 导出快照（深拷贝记录）
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var st State
	for _, r := range m.sortedLiveLocked() {
		st.Records = append(st.Records, cloneRecord(r))
	}
	for _, recs := range m.closed {
		for _, r := range recs {
			st.Closed = append(st.Closed, cloneRecord(r))
		}
	}
	for _, l := range m.ledgers {
		st.Ledgers = append(st.Ledgers, *l)
	}
	for _, v := range m.voids {
		st.Voids = append(st.Voids, v)
	}
	return st
}

// cloneRecord 拷贝记录及其历史，快照与活跃记录互不影响
func cloneRecord(r *domain.TradeRecord) *domain.TradeRecord {
	cp := *r
	if r.Market != nil {
		mk := *r.Market
		cp.Market = &mk
	}
	cp.History = append([]domain.StateChange(nil), r.History...)
	return &cp
}

// Restore 从快照恢复；恢复后的记录先等待一次对账再继续规划
func (m *Machine) Restore(st State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = make(map[domain.TrackingKey]*domain.TradeRecord, len(st.Records))
	m.closed = make(map[int64][]*domain.TradeRecord)
	m.ledgers = make(map[string]*Ledger, len(st.Ledgers))
	m.refs = make(map[string]domain.TrackingKey)
	m.voids = make(map[string]VoidOrder, len(st.Voids))

	for _, r := range st.Records {
		if r == nil || r.State.IsTerminal() {
			continue
		}
		r.AwaitReconcile = true
		m.records[r.Key] = r
		for _, ref := range r.Orders.Outstanding() {
			m.refs[ref] = r.Key
		}
	}
	for _, r := range st.Closed {
		if r == nil {
			continue
		}
		m.closed[r.Key.Period] = append(m.closed[r.Key.Period], r)
	}
	for i := range st.Ledgers {
		l := st.Ledgers[i]
		m.ledgers[l.AssetID] = &l
	}
	for _, v := range st.Voids {
		m.voids[v.Ref] = v
	}
	log.Infof("♻️ 状态机已恢复: 活跃 %d, 待归档 %d, 待撤销 %d", len(m.records), len(st.Closed), len(m.voids))
}
