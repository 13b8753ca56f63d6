package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackingKeyRoundTrip(t *testing.T) {
	k := TrackingKey{Period: 1767000000, AssetID: "7123:abc", Role: RoleOppositeLimit}
	got, err := ParseTrackingKey(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, got)

	_, err = ParseTrackingKey("garbage")
	assert.Error(t, err)
}

func TestTransitionTableIsMonotonic(t *testing.T) {
	now := time.Unix(0, 0)
	r := NewTradeRecord(TrackingKey{Period: 1, AssetID: "a", Role: RolePrimary}, nil, TokenTypeUp, now)

	require.NoError(t, r.Transition(StateEntryPending, "placed", now))
	require.NoError(t, r.Transition(StateHeld, "filled", now))
	require.NoError(t, r.Transition(StateExitPending, "exit orders", now))
	require.NoError(t, r.Transition(StateClosedSold, "sold", now))

	// 终态不可再变更，也不能回到任何之前的状态
	for _, s := range []TradeState{StateAwaitingEntry, StateEntryPending, StateHeld, StateExitPending, StateClosedStopped} {
		err := r.Transition(s, "", now)
		assert.True(t, errors.Is(err, ErrIllegalTransition), "closed -> %s 应该非法", s)
	}
	assert.Len(t, r.History, 4)
	assert.Equal(t, "sold", r.Note)
}

func TestTransitionGraphHasNoCycles(t *testing.T) {
	var visit func(s TradeState, seen map[TradeState]bool)
	visit = func(s TradeState, seen map[TradeState]bool) {
		if seen[s] {
			t.Fatalf("状态 %s 可以被重复访问", s)
		}
		seen[s] = true
		for _, next := range transitions[s] {
			cp := make(map[TradeState]bool, len(seen))
			for k, v := range seen {
				cp[k] = v
			}
			visit(next, cp)
		}
	}
	visit(StateAwaitingEntry, map[TradeState]bool{})
}

func TestAddExitFillRefusesOverSell(t *testing.T) {
	r := NewTradeRecord(TrackingKey{Period: 1, AssetID: "a", Role: RolePrimary}, nil, TokenTypeUp, time.Now())
	r.AddEntryFill(5, PriceFromDecimal(0.9))
	require.NoError(t, r.AddExitFill(3, PriceFromDecimal(0.99)))
	require.NoError(t, r.AddExitFill(2, PriceFromDecimal(0.99)))
	err := r.AddExitFill(0.5, PriceFromDecimal(0.99))
	assert.True(t, errors.Is(err, ErrOverSell))
	assert.Equal(t, 0.0, r.Sellable())
	assert.Equal(t, "4.95", r.ExitProceeds.String())
	assert.Equal(t, 9000, r.AvgEntryPrice().Pips)
}

func TestResolveWinner(t *testing.T) {
	cases := []struct {
		up, down float64
		want     TokenType
		ok       bool
	}{
		{0.99, 0.01, TokenTypeUp, true},
		{1.00, 0.60, TokenTypeUp, true},
		{0.02, 0.98, TokenTypeDown, true},
		{0.55, 0.52, TokenTypeUp, true},
		{0.40, 0.45, TokenTypeDown, true},
		{0.50, 0.50, "", false},
	}
	for _, c := range cases {
		got, ok := ResolveWinner(PriceFromDecimal(c.up), PriceFromDecimal(c.down))
		if got != c.want || ok != c.ok {
			t.Fatalf("ResolveWinner(%.2f, %.2f) = %s,%v 期望 %s,%v", c.up, c.down, got, ok, c.want, c.ok)
		}
	}
}

func TestMergeAmounts(t *testing.T) {
	cases := []struct {
		up, down float64
		want     MergeResult
	}{
		{5, 5, MergeResult{5, 0, 0}},
		{5, 3, MergeResult{3, 2, 0}},
		{2, 7, MergeResult{2, 0, 5}},
		{0, 5, MergeResult{0, 0, 5}},
		{0, 0, MergeResult{0, 0, 0}},
	}
	for _, c := range cases {
		if got := MergeAmounts(c.up, c.down); got != c.want {
			t.Fatalf("MergeAmounts(%v, %v) = %+v, 期望 %+v", c.up, c.down, got, c.want)
		}
	}
}

func TestPriceComplement(t *testing.T) {
	assert.Equal(t, 2000, PriceFromDecimal(0.80).Complement().Pips)
	assert.Equal(t, "0.2000", PriceFromDecimal(0.2).String())
}
