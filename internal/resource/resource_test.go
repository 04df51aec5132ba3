package resource

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

func newAction(p *pool.Pool) *action.Action {
	g := action.NewGlobal(nil, p, nil, action.Options{})
	return action.New(g, action.NewLocal(key.NewStack(), levels.Normal))
}

func TestFiniteCapsConcurrentHolders(t *testing.T) {
	res := NewFinite("db-connections", 2)
	p := pool.New(8)

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a := newAction(p)
			_, _ = WithResource(a, res, 1, func(a *action.Action) (key.Value, error) {
				n := atomic.AddInt32(&active, 1)
				for {
					old := atomic.LoadInt32(&maxActive)
					if n <= old || atomic.CompareAndSwapInt32(&maxActive, old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return key.NewValue("ok"), nil
			})
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, int(atomic.LoadInt32(&maxActive)), 2)
}

func TestFiniteBlocksApplyForTheDynamicExtent(t *testing.T) {
	res := NewFinite("one", 1)
	a := newAction(pool.New(2))
	_, err := WithResource(a, res, 1, func(a *action.Action) (key.Value, error) {
		assert.NotEmpty(t, a.GetRW().BlockApply)
		return key.Value{}, nil
	})
	require.NoError(t, err)
	assert.Empty(t, a.GetRW().BlockApply)
}

func TestThrottleDelaysReleasedTokens(t *testing.T) {
	th := NewThrottle("api-calls", 1, 30*time.Millisecond)
	p := pool.New(4)

	a1 := newAction(p)
	_, err := WithResource(a1, th, 1, func(a *action.Action) (key.Value, error) {
		return key.NewValue("first"), nil
	})
	require.NoError(t, err)

	start := time.Now()
	a2 := newAction(p)
	_, err = WithResource(a2, th, 1, func(a *action.Action) (key.Value, error) {
		return key.NewValue("second"), nil
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestWithResourceRejectsOverCapacityRequest(t *testing.T) {
	res := NewFinite("small", 2)
	a := newAction(pool.New(2))
	_, err := WithResource(a, res, 3, func(a *action.Action) (key.Value, error) {
		t.Fatal("act should not run")
		return key.Value{}, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capacity")
}

func TestWithResourcesRejectsNegativeQuantity(t *testing.T) {
	res := NewFinite("r", 3)
	a := newAction(pool.New(2))
	_, err := WithResources(a, []Acquisition{{Resource: res, N: -1}}, func(a *action.Action) (key.Value, error) {
		t.Fatal("act should not run")
		return key.Value{}, nil
	})
	require.Error(t, err)
}

func TestWithResourcesDeadlockFreedomUnderReversedOrder(t *testing.T) {
	r1 := NewFinite("r1", 1)
	r2 := NewFinite("r2", 1)
	p := pool.New(8)

	run := func(order []Acquisition) <-chan struct{} {
		done := make(chan struct{})
		go func() {
			defer close(done)
			a := newAction(p)
			_, _ = WithResources(a, order, func(a *action.Action) (key.Value, error) {
				time.Sleep(5 * time.Millisecond)
				return key.NewValue("ok"), nil
			})
		}()
		return done
	}

	// Two callers request the same pair of resources in opposite argument
	// order; withResources must still acquire them in one fixed total
	// order (construction order here), so this never deadlocks.
	done1 := run([]Acquisition{{Resource: r1, N: 1}, {Resource: r2, N: 1}})
	done2 := run([]Acquisition{{Resource: r2, N: 1}, {Resource: r1, N: 1}})

	select {
	case <-done1:
	case <-time.After(2 * time.Second):
		t.Fatal("first caller deadlocked")
	}
	select {
	case <-done2:
	case <-time.After(2 * time.Second):
		t.Fatal("second caller deadlocked")
	}
}

func TestMergeAcquisitionsSumsRepeatedResource(t *testing.T) {
	res := NewFinite("r", 5)
	merged := mergeAcquisitions([]Acquisition{
		{Resource: res, N: 2},
		{Resource: res, N: 3},
	})
	require.Len(t, merged, 1)
	assert.Equal(t, 5, merged[0].N)
}
