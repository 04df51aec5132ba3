package database

// ============================================================================
// Database Test File
// Purpose: Verify build-once coalescing, cycle detection, and reporting
// ============================================================================

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/ChuLiYu/shake/internal/buildtypes"
	"github.com/ChuLiYu/shake/internal/pool"
	"github.com/ChuLiYu/shake/pkg/key"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func basicOps(runs *int32) buildtypes.Ops {
	return buildtypes.Ops{
		Stored: func(key.Key, key.Value) bool { return true },
		Equal:  func(a, b key.Value) bool { return a.Payload() == b.Payload() },
		Exec: func(stack key.Stack, k key.Key, cont func(buildtypes.ExecResult, error)) {
			atomic.AddInt32(runs, 1)
			cont(buildtypes.ExecResult{Value: key.NewValue(k.Payload().(string) + "!"), Duration: time.Millisecond}, nil)
		},
	}
}

func TestBuildRunsRuleExactlyOnceAcrossConcurrentDemand(t *testing.T) {
	db := New()
	var runs int32

	err := pool.Run(false, 4, func(p *pool.Pool) error {
		done := make(chan buildtypes.BuildResult, 10)
		for i := 0; i < 10; i++ {
			p.Add(func() {
				db.Build(p, basicOps(&runs), key.NewStack(), []key.Key{key.New("x")}, func(r buildtypes.BuildResult, err error) {
					require.NoError(t, err)
					done <- r
				})
			})
		}
		for i := 0; i < 10; i++ {
			<-done
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), runs)
}

func TestBuildDetectsCycle(t *testing.T) {
	db := New()
	stack := key.NewStack().Push(key.New("a"))

	err := pool.Run(false, 2, func(p *pool.Pool) error {
		done := make(chan error, 1)
		db.Build(p, basicOps(new(int32)), stack, []key.Key{key.New("a")}, func(_ buildtypes.BuildResult, err error) {
			done <- err
		})
		return <-done
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CycleDetected")
}

func TestLookupDependenciesAndListLive(t *testing.T) {
	db := New()
	ops := buildtypes.Ops{
		Stored: func(key.Key, key.Value) bool { return true },
		Equal:  func(a, b key.Value) bool { return true },
		Exec: func(stack key.Stack, k key.Key, cont func(buildtypes.ExecResult, error)) {
			cont(buildtypes.ExecResult{
				Value: key.NewValue("built"),
				Deps:  []key.Depends{{Keys: []key.Key{key.New("leaf")}}},
			}, nil)
		},
	}

	err := pool.Run(false, 2, func(p *pool.Pool) error {
		done := make(chan struct{})
		db.Build(p, ops, key.NewStack(), []key.Key{key.New("root")}, func(buildtypes.BuildResult, error) {
			close(done)
		})
		<-done
		return nil
	})
	require.NoError(t, err)

	deps := db.LookupDependencies(key.New("root"))
	require.Len(t, deps, 1)
	assert.Equal(t, "leaf", deps[0].Payload())

	live := db.ListLive()
	require.Len(t, live, 1)
	assert.Equal(t, "root", live[0].Payload())

	assert.NoError(t, db.AssertFinishedDatabase())

	rep := db.ToReport()
	require.Len(t, rep.Entries, 1)
	assert.Equal(t, 1, rep.Entries[0].BuiltTimes)
}
