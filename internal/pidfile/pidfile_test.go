//go:build !windows

package pidfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRemove(t *testing.T) {
	p := New(filepath.Join(t.TempDir(), "run", "lina.pid"))

	require.NoError(t, p.Write())
	pid, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, p.Remove())
	_, err = p.Read()
	assert.Error(t, err)

	// removing twice is harmless
	assert.NoError(t, p.Remove())
}

func TestWriteRefusesLiveInstance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lina.pid")
	p := New(path)

	// the current test process is certainly alive
	require.NoError(t, p.Write())
	assert.Error(t, New(path).Write())
}

func TestWriteOverwritesStalePid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lina.pid")
	require.NoError(t, os.WriteFile(path, []byte("999999999"), 0644))

	p := New(path)
	require.NoError(t, p.Write())
	pid, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}
