package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const registryJSON = `[
	{
		"name": "Nmap",
		"display_name": "Nmap",
		"description": "network scanner",
		"category": "scanning",
		"keywords": ["scan", "port"],
		"templates": ["nmap -sV {target}"]
	},
	{
		"name": "gobuster",
		"description": "directory brute forcer",
		"category": "web",
		"binary": "gobuster",
		"templates": ["gobuster dir -u http://{target} -w common.txt"]
	},
	{
		"name": "gobuster",
		"description": "duplicate, must be ignored"
	},
	{
		"name": "   ",
		"description": "blank name, must be ignored"
	}
]`

func writeRegistry(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "tool_registry.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func loadTestCatalog(t *testing.T) (*Catalog, string) {
	t.Helper()
	dir := t.TempDir()
	path := writeRegistry(t, dir, registryJSON)
	c, err := Load(path, dir, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, path
}

func TestLoadRegistry(t *testing.T) {
	c, _ := loadTestCatalog(t)

	assert.Equal(t, []string{"nmap", "gobuster"}, c.Names(), "names lowercased, duplicates and blanks dropped")
	assert.True(t, c.Has("nmap"))
	assert.True(t, c.Has("NMAP"), "lookup is case-insensitive")
	assert.False(t, c.Has("hydra"))

	tool, err := c.Get("gobuster")
	require.NoError(t, err)
	assert.Equal(t, "directory brute forcer", tool.Description)

	assert.Equal(t, []string{"scanning", "web"}, c.Categories())
}

func TestGetUnknownTool(t *testing.T) {
	c, _ := loadTestCatalog(t)
	_, err := c.Get("hydra")
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestMissingRegistryStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	c, err := Load(filepath.Join(dir, "absent.json"), dir, time.Minute)
	require.NoError(t, err)
	defer c.Close()
	assert.Empty(t, c.Names())
}

func TestMalformedRegistryFails(t *testing.T) {
	dir := t.TempDir()
	path := writeRegistry(t, dir, "{not json")
	_, err := Load(path, dir, time.Minute)
	assert.Error(t, err)
}

func TestWatchReloadsOnChange(t *testing.T) {
	c, path := loadTestCatalog(t)
	require.NoError(t, c.Watch())

	updated := `[{"name": "hydra", "description": "password brute forcer"}]`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0644))

	assert.Eventually(t, func() bool {
		return c.Has("hydra") && !c.Has("nmap")
	}, 3*time.Second, 20*time.Millisecond, "registry change must hot-reload")
}

func TestParameterRegistry(t *testing.T) {
	c, path := loadTestCatalog(t)
	dir := filepath.Dir(path)

	// missing registry is not an error
	raw, err := c.ParameterRegistry("nmap")
	require.NoError(t, err)
	assert.Nil(t, raw)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "nmap_registry.json"),
		[]byte(`{"flags": {"-sV": "service detection"}}`), 0644))
	raw, err = c.ParameterRegistry("nmap")
	require.NoError(t, err)
	assert.JSONEq(t, `{"flags": {"-sV": "service detection"}}`, string(raw))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "gobuster_registry.json"),
		[]byte(`{broken`), 0644))
	_, err = c.ParameterRegistry("gobuster")
	assert.Error(t, err)
}

func TestProbeBinaryDefaultsToName(t *testing.T) {
	d := &ToolDescriptor{Name: "nmap"}
	assert.Equal(t, "nmap", d.ProbeBinary())

	d.Binary = "nmap-custom"
	assert.Equal(t, "nmap-custom", d.ProbeBinary())
}

func TestProbeCachesWithinTTL(t *testing.T) {
	lookups := 0
	p := NewProbe(time.Minute)
	p.lookPath = func(string) (string, error) {
		lookups++
		return "/usr/bin/nmap", nil
	}

	assert.True(t, p.Installed("nmap"))
	assert.True(t, p.Installed("nmap"))
	assert.True(t, p.Installed("nmap"))
	assert.Equal(t, 1, lookups, "repeated probes within the TTL must hit the cache")
}

func TestProbeExpiresAfterTTL(t *testing.T) {
	lookups := 0
	p := NewProbe(10 * time.Millisecond)
	p.lookPath = func(string) (string, error) {
		lookups++
		return "", errors.New("not found")
	}

	assert.False(t, p.Installed("hydra"))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, p.Installed("hydra"))
	assert.Equal(t, 2, lookups)
}

func TestProbeInvalidate(t *testing.T) {
	installed := false
	p := NewProbe(time.Minute)
	p.lookPath = func(string) (string, error) {
		if installed {
			return "/usr/bin/hydra", nil
		}
		return "", errors.New("not found")
	}

	assert.False(t, p.Installed("hydra"))
	installed = true
	assert.False(t, p.Installed("hydra"), "stale cache entry until invalidated")
	p.Invalidate("hydra")
	assert.True(t, p.Installed("hydra"))
}

func TestProbeEmptyBinary(t *testing.T) {
	p := NewProbe(time.Minute)
	assert.False(t, p.Installed(""))
}
