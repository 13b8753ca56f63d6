// Package shutdown 按注册的逆序执行关闭回调（与 defer 相同的顺序）。
package shutdown

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/betbot/updown/pkg/logger"
)

// Handler 关闭处理函数
type Handler func(ctx context.Context) error

type named struct {
	name string
	fn   Handler
}

// Manager 优雅关闭管理器
type Manager struct {
	mu        sync.Mutex
	callbacks []named
	done      bool
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调；后注册的先执行
func (m *Manager) OnShutdown(name string, handler Handler) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, named{name: name, fn: handler})
}

// Shutdown 依次执行所有关闭回调（阻塞调用，只执行一次）。
// ctx 应该带超时；超时后剩余回调不再执行。返回第一个错误。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return nil
	}
	m.done = true
	callbacks := m.callbacks
	m.mu.Unlock()

	if len(callbacks) == 0 {
		logger.Info("没有注册的关闭回调")
		return nil
	}
	logger.Infof("开始优雅关闭，共 %d 个回调", len(callbacks))

	var first error
	for i := len(callbacks) - 1; i >= 0; i-- {
		cb := callbacks[i]
		if err := ctx.Err(); err != nil {
			logger.Warnf("关闭超时，跳过 %s 及之前注册的回调: %v", cb.name, err)
			if first == nil {
				first = errors.Wrap(err, "shutdown")
			}
			break
		}
		if err := cb.fn(ctx); err != nil {
			logger.Errorf("关闭 %s 失败: %v", cb.name, err)
			if first == nil {
				first = errors.Wrapf(err, "shutdown %s", cb.name)
			}
		}
	}
	if first == nil {
		logger.Info("所有关闭回调已完成")
	}
	return first
}
