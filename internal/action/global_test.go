package action

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/shake/internal/buildtypes"
	"github.com/ChuLiYu/shake/internal/pool"
)

func TestObserveReturnsNoopWhenUnset(t *testing.T) {
	g := NewGlobal(nil, pool.New(1), nil, Options{})
	assert.NotPanics(t, func() {
		g.Observe().KeyBuilt(time.Millisecond)
		g.Observe().CacheHit()
		g.Observe().RuleFailed()
		g.Observe().PoolGauges(0, 0)
		g.Observe().ResourceWait(time.Millisecond)
		g.Observe().ResourceHeld(1)
	})
}

type recordingObserver struct {
	mu        sync.Mutex
	keysBuilt int
}

func (r *recordingObserver) KeyBuilt(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keysBuilt++
}
func (r *recordingObserver) CacheHit()                  {}
func (r *recordingObserver) RuleFailed()                {}
func (r *recordingObserver) PoolGauges(int, int)        {}
func (r *recordingObserver) ResourceWait(time.Duration) {}
func (r *recordingObserver) ResourceHeld(int)           {}

func TestObserveReturnsWiredObserver(t *testing.T) {
	obs := &recordingObserver{}
	g := NewGlobal(nil, pool.New(1), nil, Options{})
	g.Observer = obs

	g.Observe().KeyBuilt(time.Millisecond)
	assert.Equal(t, 1, obs.keysBuilt)
}

func TestRegisterAfterRunsInReverseOrder(t *testing.T) {
	g := NewGlobal(nil, pool.New(1), nil, Options{})
	var order []int
	g.RegisterAfter(func() error { order = append(order, 1); return nil })
	g.RegisterAfter(func() error { order = append(order, 2); return nil })
	g.RegisterAfter(func() error { order = append(order, 3); return nil })

	g.RunAfter(nil)
	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestRunAfterReportsEachFailureWithoutStoppingTheRest(t *testing.T) {
	g := NewGlobal(nil, pool.New(1), nil, Options{})
	boom := assert.AnError
	var ran []int
	g.RegisterAfter(func() error { ran = append(ran, 1); return boom })
	g.RegisterAfter(func() error { ran = append(ran, 2); return nil })

	var errs []error
	g.RunAfter(func(e error) { errs = append(errs, e) })

	assert.Equal(t, []int{2, 1}, ran)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
}

func TestClaimAbsentAccumulatesSnapshot(t *testing.T) {
	g := NewGlobal(nil, pool.New(1), nil, Options{})
	assert.Empty(t, g.Absent())

	c1 := buildtypes.AbsentClaim{}
	g.ClaimAbsent(c1)
	require.Len(t, g.Absent(), 1)

	// Absent returns a copy, not a live view.
	snapshot := g.Absent()
	g.ClaimAbsent(buildtypes.AbsentClaim{})
	assert.Len(t, snapshot, 1)
	assert.Len(t, g.Absent(), 2)
}

func TestCleanupRunAllRunsInReverseOrder(t *testing.T) {
	c := NewCleanup()
	var order []int
	c.Register(func() error { order = append(order, 1); return nil })
	c.Register(func() error { order = append(order, 2); return nil })

	c.RunAll(nil)
	assert.Equal(t, []int{2, 1}, order)
}
