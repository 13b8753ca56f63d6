package shutdown

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownRunsInReverseOrder(t *testing.T) {
	m := NewManager()
	var order []string
	for _, name := range []string{"journal", "persistence", "scheduler"} {
		name := name
		m.OnShutdown(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, []string{"scheduler", "persistence", "journal"}, order)

	// 第二次调用不重复执行
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Len(t, order, 3)
}

func TestShutdownReturnsFirstError(t *testing.T) {
	m := NewManager()
	ran := 0
	m.OnShutdown("a", func(context.Context) error { ran++; return errors.New("a failed") })
	m.OnShutdown("b", func(context.Context) error { ran++; return errors.New("b failed") })

	err := m.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b failed")
	assert.Equal(t, 2, ran, "出错后继续执行剩余回调")
}

func TestShutdownStopsOnExpiredContext(t *testing.T) {
	m := NewManager()
	ran := false
	m.OnShutdown("late", func(context.Context) error { ran = true; return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, m.Shutdown(ctx))
	assert.False(t, ran)
}
