package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

type testConfig struct {
	Name  string `yaml:"name"`
	Count int    `yaml:"count"`
}

func TestLoadSingleFile(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", "name: relay\ncount: 3\n")

	var c testConfig
	require.NoError(Load(p, &c))
	require.Equal("relay", c.Name)
	require.Equal(3, c.Count)
}

func TestLoadExtends(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "name: relay\ncount: 3\n")
	p := writeFile(t, dir, "override.yaml", "extends: base.yaml\ncount: 7\n")

	var c testConfig
	require.NoError(Load(p, &c))
	require.Equal("relay", c.Name)
	require.Equal(7, c.Count)
}

func TestLoadExtendsCycle(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "extends: b.yaml\n")
	p := writeFile(t, dir, "b.yaml", "extends: a.yaml\n")

	var c testConfig
	require.Equal(ErrCycleRef, Load(p, &c))
}

func TestLoadMissingFile(t *testing.T) {
	var c testConfig
	require.Error(t, Load("/nonexistent/config.yaml", &c))
}
