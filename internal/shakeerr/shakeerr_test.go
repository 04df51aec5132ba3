package shakeerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/shake/internal/levels"
	"github.com/ChuLiYu/shake/pkg/key"
)

func TestLiftWrapsRawErrorWithTargetAndStack(t *testing.T) {
	stack := key.NewStack().Push(key.New("root")).Push(key.New("child"))
	raw := errors.New("boom")

	se := Lift(stack, raw, false, levels.Normal, nil)
	assert.Equal(t, KindUserFailure, se.Kind)
	assert.Equal(t, key.New("child").String(), se.Target) // top of stack
	assert.ErrorIs(t, se, raw)
}

func TestLiftReturnsAlreadyStructuredErrorUnchanged(t *testing.T) {
	stack := key.NewStack()
	original := CycleError(stack, key.New("x"))

	se := Lift(stack, original, false, levels.Normal, nil)
	assert.Same(t, original, se)
}

func TestLiftPrintsStaunchTrailerWhenStaunch(t *testing.T) {
	stack := key.NewStack().Push(key.New("root"))
	var lines []string
	output := func(v levels.Verbosity, msg string) { lines = append(lines, msg) }

	Lift(stack, errors.New("boom"), true, levels.Quiet, output)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "Continuing due to staunch mode")
}

func TestLiftSkipsStaunchTrailerBelowQuietVerbosity(t *testing.T) {
	stack := key.NewStack()
	var lines []string
	output := func(v levels.Verbosity, msg string) { lines = append(lines, msg) }

	Lift(stack, errors.New("boom"), true, levels.Silent, output)
	assert.Empty(t, lines)
}

func TestNoRuleErrorReportsMissingRule(t *testing.T) {
	se := NoRuleError(key.NewStack(), key.New("target"), "")
	assert.Equal(t, KindNoRuleToBuild, se.Kind)
	assert.Contains(t, se.Error(), "no rule to build")
}

func TestCycleErrorReportsCycleDetected(t *testing.T) {
	se := CycleError(key.NewStack(), key.New("x"))
	assert.Equal(t, KindCycleDetected, se.Kind)
	assert.Contains(t, se.Error(), "cycle")
}

func TestStructuredErrorUnwrapExposesInner(t *testing.T) {
	inner := errors.New("inner")
	se := New(KindUnknown, "t", key.NewStack(), inner)
	assert.ErrorIs(t, se, inner)
	assert.Equal(t, inner, se.Unwrap())
}

func TestKindStringCoversEveryValue(t *testing.T) {
	kinds := []Kind{
		KindUnknown, KindNoApplyHere, KindNoRuleToBuild, KindRuleTypeMismatch,
		KindLintCwdChanged, KindLintUsedNotDepended, KindLintDependedAfterUsed,
		KindNegativeResourceRequest, KindCycleDetected, KindUserFailure,
	}
	seen := map[string]bool{}
	for _, k := range kinds {
		s := k.String()
		assert.NotEmpty(t, s)
		seen[s] = true
	}
	assert.Len(t, seen, len(kinds))
}
