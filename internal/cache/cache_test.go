package cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/shake/internal/action"
	"github.com/ChuLiYu/shake/internal/levels"
	"github.com/ChuLiYu/shake/internal/pool"
	"github.com/ChuLiYu/shake/pkg/key"
)

type depKey string

func newAction(p *pool.Pool) *action.Action {
	g := action.NewGlobal(nil, p, nil, action.Options{})
	return action.New(g, action.NewLocal(key.NewStack(), levels.Normal))
}

func TestGetRunsComputeOnlyOnce(t *testing.T) {
	c := New()
	var calls int32
	compute := func(a *action.Action) (key.Value, error) {
		atomic.AddInt32(&calls, 1)
		return key.NewValue("v"), nil
	}

	p := pool.New(4)
	a := newAction(p)
	v1, err := c.Get(a, key.New("k"), compute)
	require.NoError(t, err)
	v2, err := c.Get(a, key.New("k"), compute)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, v1.Payload(), v2.Payload())
}

func TestGetReplaysDependencyDeltaToSecondCaller(t *testing.T) {
	c := New()
	dep := key.New(depKey("leaf"))
	compute := func(a *action.Action) (key.Value, error) {
		a.GetRW().Depends = append([]key.Depends{{Keys: []key.Key{dep}}}, a.GetRW().Depends...)
		return key.NewValue("built"), nil
	}

	p := pool.New(4)
	first := newAction(p)
	_, err := c.Get(first, key.New("k"), compute)
	require.NoError(t, err)

	second := newAction(p)
	_, err = c.Get(second, key.New("k"), compute)
	require.NoError(t, err)

	deps := key.FlattenDepends(second.GetRW().Depends)
	require.Len(t, deps, 1)
	assert.True(t, deps[0].Equal(dep))
}

func TestGetPropagatesComputeError(t *testing.T) {
	c := New()
	boom := assert.AnError
	compute := func(a *action.Action) (key.Value, error) { return key.Value{}, boom }

	p := pool.New(4)
	a := newAction(p)
	_, err := c.Get(a, key.New("k"), compute)
	assert.ErrorIs(t, err, boom)

	// A second waiter against the same failed key also observes the error,
	// not a retried compute.
	b := newAction(p)
	_, err = c.Get(b, key.New("k"), compute)
	assert.ErrorIs(t, err, boom)
}

func TestConcurrentGetCoalescesIntoOneRun(t *testing.T) {
	c := New()
	var calls int32
	release := make(chan struct{})
	compute := func(a *action.Action) (key.Value, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return key.NewValue("v"), nil
	}

	p := pool.New(8)
	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a := newAction(p)
			_, err := c.Get(a, key.New("shared"), compute)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
