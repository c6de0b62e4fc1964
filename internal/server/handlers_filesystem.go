package server

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Files and directories that hint a directory is a project root.
var projectIndicators = []string{
	".git",
	"package.json",
	"pyproject.toml",
	"Cargo.toml",
	"go.mod",
	"CLAUDE.md",
	"Makefile",
	".env",
	"requirements.txt",
	"pom.xml",
	"build.gradle",
}

// Shortcut directories shown at the home level.
var shortcutNames = []string{"Documents", "Desktop", "Downloads", "Developer", "Projects", "repos"}

type directoryEntry struct {
	Name              string   `json:"name"`
	Path              string   `json:"path"`
	HasChildren       bool     `json:"has_children"`
	ProjectIndicators []string `json:"project_indicators,omitempty"`
}

type breadcrumbEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type directoryListResponse struct {
	CurrentPath string            `json:"current_path"`
	Entries     []directoryEntry  `json:"entries"`
	Shortcuts   []directoryEntry  `json:"shortcuts"`
	Breadcrumbs []breadcrumbEntry `json:"breadcrumbs"`
	ParentPath  string            `json:"parent_path,omitempty"`
}

// browseDirectories handles GET /filesystem/browse for the folder
// picker. Only directories are returned, hidden ones are skipped, and
// browsing is restricted to the home directory subtree.
func (s *Server) browseDirectories(w http.ResponseWriter, r *http.Request) {
	home := s.resolveHome()
	if home == "" {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "cannot resolve home directory")
		return
	}

	target := r.URL.Query().Get("path")
	if target == "" {
		target = home
	}

	resolved, ok := safePath(home, target)
	if !ok {
		writeError(w, http.StatusForbidden, ErrCodeForbidden, "Access restricted to home directory")
		return
	}

	children, err := os.ReadDir(resolved)
	if err != nil {
		if os.IsPermission(err) {
			writeError(w, http.StatusForbidden, ErrCodeForbidden, "Permission denied: "+resolved)
		} else {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Directory not found: "+target)
		}
		return
	}

	entries := []directoryEntry{}
	for _, child := range children {
		if !child.IsDir() || strings.HasPrefix(child.Name(), ".") {
			continue
		}
		childPath := filepath.Join(resolved, child.Name())
		entries = append(entries, directoryEntry{
			Name:              child.Name(),
			Path:              childPath,
			HasChildren:       hasVisibleSubdirs(childPath),
			ProjectIndicators: detectProjectIndicators(childPath),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	shortcuts := []directoryEntry{}
	if resolved == home {
		for _, name := range shortcutNames {
			p := filepath.Join(home, name)
			if info, err := os.Stat(p); err == nil && info.IsDir() {
				shortcuts = append(shortcuts, directoryEntry{Name: name, Path: p, HasChildren: true})
			}
		}
	}

	var parent string
	if resolved != home {
		if pp, ok := safePath(home, filepath.Dir(resolved)); ok {
			parent = pp
		}
	}

	writeJSON(w, http.StatusOK, directoryListResponse{
		CurrentPath: resolved,
		Entries:     entries,
		Shortcuts:   shortcuts,
		Breadcrumbs: buildBreadcrumbs(home, resolved),
		ParentPath:  parent,
	})
}

func (s *Server) resolveHome() string {
	if s.home != "" {
		return s.home
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	resolved, err := filepath.EvalSymlinks(home)
	if err != nil {
		return home
	}
	return resolved
}

// safePath resolves target and checks it stays inside the home subtree.
// Symlinks are resolved before the check so they cannot escape it.
func safePath(home, target string) (string, bool) {
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", false
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	if abs == home || strings.HasPrefix(abs, home+string(filepath.Separator)) {
		return abs, true
	}
	return "", false
}

func hasVisibleSubdirs(dir string) bool {
	children, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, c := range children {
		if c.IsDir() && !strings.HasPrefix(c.Name(), ".") {
			return true
		}
	}
	return false
}

func detectProjectIndicators(dir string) []string {
	var found []string
	for _, indicator := range projectIndicators {
		if _, err := os.Stat(filepath.Join(dir, indicator)); err == nil {
			found = append(found, indicator)
		}
	}
	return found
}

func buildBreadcrumbs(home, current string) []breadcrumbEntry {
	crumbs := []breadcrumbEntry{{Name: "~", Path: home}}
	if current == home {
		return crumbs
	}

	rel, err := filepath.Rel(home, current)
	if err != nil || strings.HasPrefix(rel, "..") {
		return crumbs
	}

	accumulator := home
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		accumulator = filepath.Join(accumulator, part)
		crumbs = append(crumbs, breadcrumbEntry{Name: part, Path: accumulator})
	}
	return crumbs
}
