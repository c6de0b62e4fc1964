package preview

import (
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zurk-ai/zurk/pkg/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(t.TempDir(), nil)
	m.grace = 100 * time.Millisecond
	m.portWait = 200 * time.Millisecond
	t.Cleanup(m.CleanupAll)
	return m
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestStartRequiresDevCommand(t *testing.T) {
	m := newTestManager(t)
	status := m.Start(&types.Project{ID: "p1", Path: t.TempDir()})
	assert.False(t, status.Running)
	assert.Contains(t, status.Error, "No dev_command")
}

func TestStartStopLifecycle(t *testing.T) {
	m := newTestManager(t)
	p := &types.Project{
		ID:         "p1",
		Path:       t.TempDir(),
		DevCommand: "sleep 30",
		DevPort:    freePort(t),
	}

	status := m.Start(p)
	require.True(t, status.Running, "start error: %s", status.Error)
	assert.NotZero(t, status.PID)
	assert.Contains(t, status.URL, "http://")

	got := m.GetStatus(p.ID)
	assert.True(t, got.Running)
	assert.Equal(t, status.PID, got.PID)

	// Starting again reports the existing process.
	again := m.Start(p)
	assert.True(t, again.Running)
	assert.Contains(t, again.Error, "already running")

	stopped := m.Stop(p.ID)
	assert.False(t, stopped.Running)
	assert.False(t, m.GetStatus(p.ID).Running)
}

func TestStartupCrashCapturesStderr(t *testing.T) {
	m := newTestManager(t)
	p := &types.Project{
		ID:         "p1",
		Path:       t.TempDir(),
		DevCommand: "sh -c 'echo missing module >&2; exit 3'",
		DevPort:    freePort(t),
	}

	status := m.Start(p)
	assert.False(t, status.Running)
	assert.Contains(t, status.Error, "exited immediately (code 3)")
	assert.Contains(t, status.Error, "missing module")
}

func TestStopWithoutPreview(t *testing.T) {
	m := newTestManager(t)
	status := m.Stop("nothing")
	assert.False(t, status.Running)
	assert.Contains(t, status.Error, "No preview running")
}

func TestApplyPortOverride(t *testing.T) {
	env := []string{"A=1"}

	cmd, _ := applyPortOverride("npm run dev -- --host 0.0.0.0", 4001, "vite", env)
	assert.Equal(t, "npm run dev -- --host 0.0.0.0 --port 4001", cmd)

	cmd, _ = applyPortOverride("npm run dev", 4001, "nextjs", env)
	assert.Equal(t, "npm run dev -- -p 4001", cmd)

	cmd, _ = applyPortOverride("flask run --host 0.0.0.0", 5001, "flask", env)
	assert.Equal(t, "flask run --host 0.0.0.0 -p 5001", cmd)

	cmd, _ = applyPortOverride("python manage.py runserver 0.0.0.0:8001", 8005, "django", env)
	assert.Equal(t, "python manage.py runserver 0.0.0.0:8005", cmd)

	_, got := applyPortOverride("npm start", 4001, "cra", env)
	assert.Contains(t, got, "PORT=4001")

	// No port flag known for generic node scripts.
	cmd, _ = applyPortOverride("npm run dev", 4001, "node", env)
	assert.Equal(t, "npm run dev", cmd)
}

func TestFindFreePortSkipsBusy(t *testing.T) {
	m := newTestManager(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	busy := l.Addr().(*net.TCPAddr).Port

	got := m.findFreePort(busy)
	assert.NotEqual(t, busy, got)
}

func TestRecoverOrphans(t *testing.T) {
	dir := t.TempDir()

	// A pid file pointing at a live process is adopted.
	live := exec.Command("sleep", "30")
	require.NoError(t, live.Start())
	t.Cleanup(func() {
		_ = live.Process.Kill()
		_ = live.Wait()
	})

	writePid := func(id string, pid int) {
		data := []byte(`{"pid":` + strconv.Itoa(pid) + `,"port":3000,"project_id":"` + id +
			`","project_path":"/tmp","started_at":"2026-08-29T10:00:00Z"}`)
		require.NoError(t, os.WriteFile(filepath.Join(dir, id+".pid"), data, 0o644))
	}
	writePid("alive", live.Process.Pid)

	// A pid file pointing at a dead process is discarded.
	dead := exec.Command("true")
	require.NoError(t, dead.Start())
	require.NoError(t, dead.Wait())
	writePid("dead", dead.Process.Pid)

	// Garbage files are removed.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.pid"), []byte("{"), 0o644))

	m := NewManager(dir, nil)
	assert.True(t, m.GetStatus("alive").Running)
	assert.False(t, m.GetStatus("dead").Running)

	_, err := os.Stat(filepath.Join(dir, "dead.pid"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "junk.pid"))
	assert.True(t, os.IsNotExist(err))
}

func TestLastLines(t *testing.T) {
	text := strings.Join([]string{"a", "b", "c", "d"}, "\n")
	assert.Equal(t, "c\nd", lastLines(text, 2))
	assert.Equal(t, text, lastLines(text, 10))
}
