// Package feed 组装每个 tick 的行情快照：实盘由市场源和报价源合成，回放直接读取录制好的快照。
package feed

import (
	"context"
	"errors"

	"github.com/betbot/updown/internal/domain"
	"github.com/betbot/updown/internal/ports"
)

// ErrExhausted 回放数据已读完
var ErrExhausted = errors.New("回放数据已读完")

// Replay 按顺序返回预先准备好的快照
type Replay struct {
	snaps []*domain.Snapshot
	next  int
}

var _ ports.SnapshotFeed = (*Replay)(nil)

func NewReplay(snaps []*domain.Snapshot) *Replay {
	return &Replay{snaps: snaps}
}

// Next 返回下一个快照；读完后返回 ErrExhausted
func (r *Replay) Next(ctx context.Context) (*domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.next >= len(r.snaps) {
		return nil, ErrExhausted
	}
	s := r.snaps[r.next]
	r.next++
	return s, nil
}

// Remaining 尚未读取的快照数
func (r *Replay) Remaining() int {
	return len(r.snaps) - r.next
}

// Last 最近一次返回的快照
func (r *Replay) Last() *domain.Snapshot {
	if r.next == 0 {
		return nil
	}
	return r.snaps[r.next-1]
}
