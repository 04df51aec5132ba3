package levels

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerbosityStringCoversEveryValue(t *testing.T) {
	cases := map[Verbosity]string{
		Silent:     "silent",
		Quiet:      "quiet",
		Normal:     "normal",
		Loud:       "loud",
		Chatty:     "chatty",
		Diagnostic: "diagnostic",
	}
	for v, want := range cases {
		assert.Equal(t, want, v.String())
	}
	assert.Equal(t, "unknown", Verbosity(99).String())
}

func TestParseVerbosityRoundTripsKnownNames(t *testing.T) {
	v, ok := ParseVerbosity("loud")
	assert.True(t, ok)
	assert.Equal(t, Loud, v)

	v, ok = ParseVerbosity("bogus")
	assert.False(t, ok)
	assert.Equal(t, Normal, v)
}

func TestParseLintModeAcceptsEmptyAsNone(t *testing.T) {
	m, ok := ParseLintMode("")
	assert.True(t, ok)
	assert.Equal(t, LintNone, m)

	m, ok = ParseLintMode("fsatrace")
	assert.True(t, ok)
	assert.Equal(t, LintFSATrace, m)

	_, ok = ParseLintMode("nonsense")
	assert.False(t, ok)
}
