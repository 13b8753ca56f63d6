package execution

import (
	"errors"
	"hash/fnv"
	"sync"
	"time"
)

// ErrDuplicateInFlight 同一 TrackingKey 的同类请求仍在途
var ErrDuplicateInFlight = errors.New("duplicate in-flight")

// InFlightDeduper 按 key 的在途去重，防止同一 TrackingKey 在一次分发中被重复下单。
//
// 正常情况下由调用方 Release；TTL 只在调用方遗漏释放时兜底过期。
type InFlightDeduper struct {
	ttl    time.Duration
	shards []inFlightShard
}

type inFlightShard struct {
	mu sync.Mutex
	m  map[string]time.Time // key -> expiresAt
}

// NewInFlightDeduper 创建去重器
func NewInFlightDeduper(ttl time.Duration, shardCount int) *InFlightDeduper {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if shardCount <= 0 {
		shardCount = 16
	}
	shards := make([]inFlightShard, shardCount)
	for i := range shards {
		shards[i].m = make(map[string]time.Time)
	}
	return &InFlightDeduper{ttl: ttl, shards: shards}
}

// TryAcquire 获取 key 的在途令牌，已被占用时返回 ErrDuplicateInFlight
func (d *InFlightDeduper) TryAcquire(key string) error {
	if d == nil || key == "" {
		return nil
	}
	now := time.Now()
	sh := d.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if exp, ok := sh.m[key]; ok && exp.After(now) {
		return ErrDuplicateInFlight
	}
	sh.m[key] = now.Add(d.ttl)
	return nil
}

// Release 释放 key
func (d *InFlightDeduper) Release(key string) {
	if d == nil || key == "" {
		return
	}
	sh := d.shard(key)
	sh.mu.Lock()
	delete(sh.m, key)
	sh.mu.Unlock()
}

// Len 当前在途数量（含未过期的遗留项）
func (d *InFlightDeduper) Len() int {
	if d == nil {
		return 0
	}
	n := 0
	for i := range d.shards {
		d.shards[i].mu.Lock()
		n += len(d.shards[i].m)
		d.shards[i].mu.Unlock()
	}
	return n
}

func (d *InFlightDeduper) shard(key string) *inFlightShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &d.shards[int(h.Sum32()%uint32(len(d.shards)))]
}
