package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trigger struct {
	Fired bool `json:"fired"`
}

type botState struct {
	Positions map[string]float64 `persistence:"positions"`
	Triggers  []*trigger         `persistence:"triggers"`
	Skipped   string
	Nested    struct {
		Counter int `persistence:"counter"`
	}
}

func roundTrip(t *testing.T, svc Service) {
	t.Helper()
	var empty botState
	require.NoError(t, LoadFields(&empty, "bot", svc), "不存在的 key 不报错")
	assert.Nil(t, empty.Positions)

	in := botState{
		Positions: map[string]float64{"up-1": 1.5},
		Triggers:  []*trigger{{Fired: true}},
		Skipped:   "not saved",
	}
	in.Nested.Counter = 7
	require.NoError(t, SaveFields(&in, "bot", svc))

	var out botState
	require.NoError(t, LoadFields(&out, "bot", svc))
	assert.Equal(t, in.Positions, out.Positions)
	require.Len(t, out.Triggers, 1)
	assert.True(t, out.Triggers[0].Fired)
	assert.Equal(t, 7, out.Nested.Counter)
	assert.Empty(t, out.Skipped)

	var missing map[string]int
	assert.ErrorIs(t, svc.NewStore("state", "other", "x").Load(&missing), ErrNotExists)
}

func TestJSONFileService(t *testing.T) {
	roundTrip(t, NewJSONFileService(t.TempDir()))
}

func TestBadgerService(t *testing.T) {
	svc, err := OpenBadger(BadgerOptions{Path: t.TempDir()})
	require.NoError(t, err)
	defer svc.Close()
	roundTrip(t, svc)
}

func TestNewServiceDrivers(t *testing.T) {
	svc, closeFn, err := NewService("none", "")
	require.NoError(t, err)
	assert.Nil(t, svc)
	assert.NoError(t, closeFn())

	svc, closeFn, err = NewService("json", t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &JSONFileService{}, svc)
	assert.NoError(t, closeFn())

	_, _, err = NewService("redis", "")
	assert.Error(t, err)
}
