package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zurk-ai/zurk/internal/logging"
)

// DevServer describes an auto-detected dev server setup.
type DevServer struct {
	Command string
	Port    int
	Type    string
}

// portFlags maps project types to the CLI flag each framework accepts
// for a port override. CRA takes a PORT env var and Django embeds the
// port in the address argument, both handled by the preview manager.
var portFlags = map[string]string{
	"vite":   "--port %d",
	"nextjs": "-p %d",
	"nuxt":   "--port %d",
	"flask":  "-p %d",
}

// PortFlag returns the CLI arguments that override the dev server port
// for the given project type, or "" when the type has no port flag.
func PortFlag(projectType string, port int) string {
	tmpl, ok := portFlags[projectType]
	if !ok {
		return ""
	}
	return fmt.Sprintf(tmpl, port)
}

type packageJSON struct {
	Scripts         map[string]string `json:"scripts"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

func (p *packageJSON) hasDep(name string) bool {
	_, ok := p.Dependencies[name]
	if !ok {
		_, ok = p.DevDependencies[name]
	}
	return ok
}

// hasHostBinding reports whether a dev script already binds to a host.
func hasHostBinding(script string) bool {
	return strings.Contains(script, "--host") ||
		strings.Contains(script, "-H ") ||
		strings.Contains(script, "0.0.0.0")
}

// DetectDevServer inspects a project directory and returns the dev
// server command and default port for its framework. Node frameworks
// are detected from package.json, then Python project markers are
// checked. Commands bind to 0.0.0.0 unless the dev script already
// binds a host. Returns the zero value when nothing is recognized.
func DetectDevServer(path string) DevServer {
	if data, err := os.ReadFile(filepath.Join(path, "package.json")); err == nil {
		var pkg packageJSON
		if err := json.Unmarshal(data, &pkg); err != nil {
			logger := logging.ForComponent("project")
			logger.Warn().
				Str("path", path).
				Msg("failed to parse package.json")
			return DevServer{}
		}
		devScript := pkg.Scripts["dev"]

		if strings.Contains(devScript, "vite") || pkg.hasDep("vite") {
			return DevServer{nodeDevCommand(devScript, "-- --host 0.0.0.0"), 5173, "vite"}
		}
		if pkg.hasDep("next") {
			return DevServer{nodeDevCommand(devScript, "-- -H 0.0.0.0"), 3000, "nextjs"}
		}
		if pkg.hasDep("react-scripts") {
			return DevServer{"npm start", 3000, "cra"}
		}
		if pkg.hasDep("nuxt") {
			return DevServer{nodeDevCommand(devScript, "-- --host 0.0.0.0"), 3000, "nuxt"}
		}
		if devScript != "" {
			return DevServer{"npm run dev", 3000, "node"}
		}
	}

	if fileExists(filepath.Join(path, "app.py")) || fileExists(filepath.Join(path, "wsgi.py")) {
		return DevServer{"flask run --host 0.0.0.0", 5000, "flask"}
	}
	if fileExists(filepath.Join(path, "manage.py")) {
		return DevServer{"python manage.py runserver 0.0.0.0:8001", 8001, "django"}
	}
	return DevServer{}
}

func nodeDevCommand(devScript, hostArgs string) string {
	if hasHostBinding(devScript) {
		return "npm run dev"
	}
	return "npm run dev " + hostArgs
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
