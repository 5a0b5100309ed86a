package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deadPID is far above any pid_max in use.
const deadPID = 999999

func newPIDFile(t *testing.T) *PIDFile {
	t.Helper()
	return NewPIDFile(filepath.Join(t.TempDir(), "state", "arzu-serve.pid"))
}

func TestAcquireRelease(t *testing.T) {
	pf := newPIDFile(t)

	require.NoError(t, pf.Acquire(), "creates the state directory")
	pid, running := pf.IsRunning()
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, pf.Acquire(), "same process may acquire twice")

	require.NoError(t, pf.Release())
	_, err := os.Stat(pf.Path)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, pf.Release(), "releasing a missing file is a no-op")
}

func TestAcquire_Ownership(t *testing.T) {
	tests := []struct {
		name    string
		holder  int
		wantErr error
	}{
		{name: "stale file from a dead process is replaced", holder: deadPID},
		{name: "live process keeps the file", holder: os.Getppid(), wantErr: ErrAlreadyRunning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pf := newPIDFile(t)
			require.NoError(t, os.MkdirAll(filepath.Dir(pf.Path), 0o755))
			require.NoError(t, pf.WritePID(tt.holder))

			err := pf.Acquire()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				pid, _ := pf.Read()
				assert.Equal(t, tt.holder, pid)
				return
			}
			require.NoError(t, err)
			pid, err := pf.Read()
			require.NoError(t, err)
			assert.Equal(t, os.Getpid(), pid)
		})
	}
}

func TestRelease_KeepsForeignFile(t *testing.T) {
	pf := newPIDFile(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(pf.Path), 0o755))
	require.NoError(t, pf.WritePID(os.Getppid()))

	require.NoError(t, pf.Release())
	_, err := os.Stat(pf.Path)
	assert.NoError(t, err)
}

func TestIsRunning_UnreadableFile(t *testing.T) {
	pf := newPIDFile(t)

	pid, running := pf.IsRunning()
	assert.Zero(t, pid)
	assert.False(t, running)

	require.NoError(t, os.MkdirAll(filepath.Dir(pf.Path), 0o755))
	require.NoError(t, os.WriteFile(pf.Path, []byte("arzu\n"), 0o644))
	_, err := pf.Read()
	assert.ErrorContains(t, err, "invalid PID file content")
	_, running = pf.IsRunning()
	assert.False(t, running)

	require.NoError(t, pf.WritePID(deadPID))
	pid, running = pf.IsRunning()
	assert.Equal(t, deadPID, pid)
	assert.False(t, running)
}

func TestStopWithoutFile(t *testing.T) {
	pf := newPIDFile(t)
	assert.Error(t, pf.Terminate())
	assert.Error(t, pf.Kill())
	assert.Error(t, pf.Remove())
	assert.NotEmpty(t, ShutdownSignals())
}
