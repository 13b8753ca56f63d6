package risk

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_ConsecutiveErrors(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxConsecutiveErrors: 2})
	require.NoError(t, cb.AllowEntry())

	cb.Record(errors.New("timeout"), false)
	cb.Record(errors.New("rejected"), true)
	require.NoError(t, cb.AllowEntry(), "拒单不计入连续错误")

	cb.Record(errors.New("timeout"), false)
	assert.ErrorIs(t, cb.AllowEntry(), ErrCircuitBreakerOpen)
	assert.True(t, cb.Halted())

	cb.Resume()
	assert.NoError(t, cb.AllowEntry())
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxConsecutiveErrors: 2})
	cb.Record(errors.New("x"), false)
	cb.Record(nil, false)
	cb.Record(errors.New("x"), false)
	assert.NoError(t, cb.AllowEntry())
}

func TestCircuitBreaker_DailyLoss(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{DailyLossLimit: decimal.NewFromInt(5)})
	cb.AddPnL(decimal.RequireFromString("-3.5"))
	require.NoError(t, cb.AllowEntry())
	cb.AddPnL(decimal.RequireFromString("-1.5"))
	assert.ErrorIs(t, cb.AllowEntry(), ErrCircuitBreakerOpen)
}

func TestCircuitBreaker_Nil(t *testing.T) {
	var cb *CircuitBreaker
	assert.NoError(t, cb.AllowEntry())
	cb.Record(errors.New("x"), false)
	cb.AddPnL(decimal.NewFromInt(-100))
}
