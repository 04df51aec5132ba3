package registry

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/shake/internal/action"
)

func TestLookupMissesUnregisteredType(t *testing.T) {
	r := New()
	_, ok := r.Lookup(reflect.TypeOf(0))
	assert.False(t, ok)
}

func TestRegisterThenLookupRoundTrips(t *testing.T) {
	r := New()
	t1 := reflect.TypeOf("")
	info := action.RuleInfo{ResultType: reflect.TypeOf(0)}
	r.Register(t1, info)

	got, ok := r.Lookup(t1)
	require.True(t, ok)
	assert.Equal(t, info.ResultType, got.ResultType)
}

func TestRegisterReplacesPriorRegistration(t *testing.T) {
	r := New()
	t1 := reflect.TypeOf("")
	r.Register(t1, action.RuleInfo{ResultType: reflect.TypeOf(0)})
	r.Register(t1, action.RuleInfo{ResultType: reflect.TypeOf(false)})

	got, ok := r.Lookup(t1)
	require.True(t, ok)
	assert.Equal(t, reflect.TypeOf(false), got.ResultType)
}

func TestTypesListsEveryRegisteredKeyType(t *testing.T) {
	r := New()
	r.Register(reflect.TypeOf(""), action.RuleInfo{})
	r.Register(reflect.TypeOf(0), action.RuleInfo{})

	types := r.Types()
	require.Len(t, types, 2)
}
