package rules

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/shake/internal/action"
)

type testKey string

func TestAddRuleRegistersByTypeAndErasesPayload(t *testing.T) {
	r := New()
	AddRule[testKey, int](r, func(a *action.Action, k testKey) (int, error) {
		return len(k), nil
	}, nil, nil)

	reg, _ := r.Build()
	info, ok := reg.Lookup(reflect.TypeOf(testKey("")))
	require.True(t, ok)
	assert.Equal(t, reflect.TypeOf(0), info.ResultType)
}

func TestActionAccumulatesTopLevelActions(t *testing.T) {
	r := New()
	var ran []int
	r.Action(func(a *action.Action) error { ran = append(ran, 1); return nil })
	r.Action(func(a *action.Action) error { ran = append(ran, 2); return nil })

	_, actions := r.Build()
	require.Len(t, actions, 2)
	for _, act := range actions {
		require.NoError(t, act(nil))
	}
	assert.Equal(t, []int{1, 2}, ran)
}

func TestBuildReturnsIndependentSnapshots(t *testing.T) {
	r := New()
	r.Action(func(a *action.Action) error { return nil })
	_, first := r.Build()
	r.Action(func(a *action.Action) error { return nil })
	_, second := r.Build()

	assert.Len(t, first, 1)
	assert.Len(t, second, 2)
}
