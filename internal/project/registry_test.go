package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zurk-ai/zurk/internal/store"
	"github.com/zurk-ai/zurk/pkg/types"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewRegistry(st)
}

func TestRegisterProject(t *testing.T) {
	r := newTestRegistry(t)
	dir := t.TempDir()

	p, err := r.Register(RegisterArgs{
		Name:                "webapp",
		Path:                dir,
		DefaultAllowedTools: []string{"Read", "Edit"},
		AutoApprovePatterns: []string{"make test*"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, types.PermissionDefault, p.PermissionMode)

	got, err := r.Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "webapp", got.Name)
	assert.Equal(t, []string{"Read", "Edit"}, got.DefaultAllowedTools)
}

func TestRegisterDuplicatePath(t *testing.T) {
	r := newTestRegistry(t)
	dir := t.TempDir()

	_, err := r.Register(RegisterArgs{Name: "a", Path: dir})
	require.NoError(t, err)

	_, err = r.Register(RegisterArgs{Name: "b", Path: dir})
	assert.ErrorIs(t, err, ErrPathExists)
}

func TestRegisterMissingPath(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Register(RegisterArgs{Name: "a", Path: "/nonexistent/dir"})
	assert.ErrorIs(t, err, ErrPathInvalid)

	// SkipPathCheck registers it anyway.
	p, err := r.Register(RegisterArgs{Name: "a", Path: "/nonexistent/dir", SkipPathCheck: true})
	require.NoError(t, err)
	assert.Equal(t, "/nonexistent/dir", p.Path)
}

func TestRegisterFileNotDirectory(t *testing.T) {
	r := newTestRegistry(t)
	file := filepath.Join(t.TempDir(), "afile")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := r.Register(RegisterArgs{Name: "a", Path: file})
	assert.ErrorIs(t, err, ErrPathInvalid)
}

func TestRegisterInvalidPermissionMode(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Register(RegisterArgs{
		Name:           "a",
		Path:           t.TempDir(),
		PermissionMode: "yolo",
	})
	assert.ErrorIs(t, err, ErrInvalidPermissionMode)
}

func TestRegisterDetectsDescription(t *testing.T) {
	r := newTestRegistry(t)
	dir := t.TempDir()
	md := "# My Project\n\n> quoted note\n\nA todo list web application.\nMore detail here.\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CLAUDE.md"), []byte(md), 0o644))

	p, err := r.Register(RegisterArgs{Name: "todos", Path: dir})
	require.NoError(t, err)
	assert.Equal(t, "A todo list web application.", p.Description)

	// An explicit description wins over detection.
	dir2 := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir2, "CLAUDE.md"), []byte(md), 0o644))
	p2, err := r.Register(RegisterArgs{Name: "todos2", Path: dir2, Description: "custom"})
	require.NoError(t, err)
	assert.Equal(t, "custom", p2.Description)
}

func TestRegisterDetectsDevServer(t *testing.T) {
	r := newTestRegistry(t)
	dir := t.TempDir()
	pkg := `{"scripts": {"dev": "vite"}, "devDependencies": {"vite": "^5.0.0"}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(pkg), 0o644))

	p, err := r.Register(RegisterArgs{Name: "front", Path: dir})
	require.NoError(t, err)
	assert.Equal(t, "npm run dev -- --host 0.0.0.0", p.DevCommand)
	assert.Equal(t, 5173, p.DevPort)
}

func TestUpdateValidatesPermissionMode(t *testing.T) {
	r := newTestRegistry(t)
	p, err := r.Register(RegisterArgs{Name: "a", Path: t.TempDir()})
	require.NoError(t, err)

	bad := types.PermissionMode("nope")
	_, err = r.Update(p.ID, types.ProjectUpdate{PermissionMode: &bad})
	assert.ErrorIs(t, err, ErrInvalidPermissionMode)

	good := types.PermissionAcceptEdits
	updated, err := r.Update(p.ID, types.ProjectUpdate{PermissionMode: &good})
	require.NoError(t, err)
	assert.Equal(t, types.PermissionAcceptEdits, updated.PermissionMode)
}

func TestValidatePath(t *testing.T) {
	r := newTestRegistry(t)
	dir := t.TempDir()
	p, err := r.Register(RegisterArgs{Name: "a", Path: dir})
	require.NoError(t, err)

	ok, err := r.ValidatePath(p.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, os.RemoveAll(dir))
	ok, err = r.ValidatePath(p.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = r.ValidatePath("missing")
	assert.ErrorIs(t, err, store.ErrProjectNotFound)
}

func TestDeleteProject(t *testing.T) {
	r := newTestRegistry(t)
	p, err := r.Register(RegisterArgs{Name: "a", Path: t.TempDir()})
	require.NoError(t, err)

	require.NoError(t, r.Delete(p.ID))
	assert.ErrorIs(t, r.Delete(p.ID), store.ErrProjectNotFound)
}

func TestDetectDevServer(t *testing.T) {
	write := func(t *testing.T, dir, name, content string) {
		t.Helper()
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	t.Run("vite with host already bound", func(t *testing.T) {
		dir := t.TempDir()
		write(t, dir, "package.json",
			`{"scripts": {"dev": "vite --host 0.0.0.0"}, "devDependencies": {"vite": "^5"}}`)
		ds := DetectDevServer(dir)
		assert.Equal(t, DevServer{"npm run dev", 5173, "vite"}, ds)
	})

	t.Run("nextjs", func(t *testing.T) {
		dir := t.TempDir()
		write(t, dir, "package.json",
			`{"scripts": {"dev": "next dev"}, "dependencies": {"next": "^14"}}`)
		ds := DetectDevServer(dir)
		assert.Equal(t, DevServer{"npm run dev -- -H 0.0.0.0", 3000, "nextjs"}, ds)
	})

	t.Run("cra", func(t *testing.T) {
		dir := t.TempDir()
		write(t, dir, "package.json", `{"dependencies": {"react-scripts": "5.0.1"}}`)
		ds := DetectDevServer(dir)
		assert.Equal(t, DevServer{"npm start", 3000, "cra"}, ds)
	})

	t.Run("generic node dev script", func(t *testing.T) {
		dir := t.TempDir()
		write(t, dir, "package.json", `{"scripts": {"dev": "node server.js"}}`)
		ds := DetectDevServer(dir)
		assert.Equal(t, DevServer{"npm run dev", 3000, "node"}, ds)
	})

	t.Run("flask", func(t *testing.T) {
		dir := t.TempDir()
		write(t, dir, "app.py", "app = Flask(__name__)\n")
		ds := DetectDevServer(dir)
		assert.Equal(t, DevServer{"flask run --host 0.0.0.0", 5000, "flask"}, ds)
	})

	t.Run("django", func(t *testing.T) {
		dir := t.TempDir()
		write(t, dir, "manage.py", "#!/usr/bin/env python\n")
		ds := DetectDevServer(dir)
		assert.Equal(t, DevServer{"python manage.py runserver 0.0.0.0:8001", 8001, "django"}, ds)
	})

	t.Run("malformed package.json", func(t *testing.T) {
		dir := t.TempDir()
		write(t, dir, "package.json", `{not json`)
		assert.Equal(t, DevServer{}, DetectDevServer(dir))
	})

	t.Run("unrecognized directory", func(t *testing.T) {
		assert.Equal(t, DevServer{}, DetectDevServer(t.TempDir()))
	})
}

func TestPortFlag(t *testing.T) {
	assert.Equal(t, "--port 4000", PortFlag("vite", 4000))
	assert.Equal(t, "-p 4000", PortFlag("nextjs", 4000))
	assert.Equal(t, "", PortFlag("cra", 4000))
	assert.Equal(t, "", PortFlag("django", 4000))
}
