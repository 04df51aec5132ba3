package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusPrintsResolvedOptionsWithoutBuilding(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "shake.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("staunch: true\n"), 0o644))

	root := BuildCLI("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"status", "--config", cfgPath})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "staunch:    true")
}

func TestRunCommandBuildsDemoTargets(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Chdir(dir))
	require.NoError(t, os.WriteFile("out.txt.in", []byte("payload"), 0o644))

	root := BuildCLI("test")
	root.SetArgs([]string{"run"})
	require.NoError(t, root.Execute())

	data, err := os.ReadFile("out.txt")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestGraphCommandPrintsDependencyEdges(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Chdir(dir))
	require.NoError(t, os.WriteFile("g.txt.in", []byte("x"), 0o644))

	root := BuildCLI("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"graph", "--targets", "g.txt"})
	require.NoError(t, root.Execute())

	assert.Contains(t, out.String(), "{g.txt}) -> ")
	assert.Contains(t, out.String(), "{g.txt.in}")
}
