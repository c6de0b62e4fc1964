// Package preview runs project dev servers as managed subprocesses so
// a registered project can be viewed live while the agent works on it.
package preview

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"mvdan.cc/sh/v3/shell"

	"github.com/zurk-ai/zurk/internal/event"
	"github.com/zurk-ai/zurk/internal/logging"
	"github.com/zurk-ai/zurk/internal/project"
	"github.com/zurk-ai/zurk/pkg/types"
)

const (
	// startupGrace is how long a dev server must survive before it
	// counts as started.
	startupGrace = 1500 * time.Millisecond
	// maxStderrLines bounds crash output carried into error messages.
	maxStderrLines = 30
	// portScanAttempts is how far above the preferred port to search.
	portScanAttempts = 20
)

// Status describes the preview state of one project.
type Status struct {
	Running       bool   `json:"running"`
	URL           string `json:"url,omitempty"`
	Port          int    `json:"port,omitempty"`
	PID           int    `json:"pid,omitempty"`
	UptimeSeconds int    `json:"uptime_seconds,omitempty"`
	ProjectType   string `json:"project_type,omitempty"`
	Error         string `json:"error,omitempty"`
}

type processInfo struct {
	pid         int
	port        int
	projectID   string
	projectPath string
	startedAt   time.Time
	cmd         *exec.Cmd
}

// Manager owns dev server subprocesses keyed by project id. PID files
// under pidDir let previews survive a server restart.
type Manager struct {
	pidDir string
	bus    *event.Bus
	log    zerolog.Logger

	mu        sync.Mutex
	processes map[string]*processInfo

	grace    time.Duration
	portWait time.Duration

	ipMu        sync.Mutex
	tailscaleIP string
	ipChecked   bool
}

// NewManager creates a preview manager and recovers previews left
// running by a previous server process.
func NewManager(pidDir string, bus *event.Bus) *Manager {
	m := &Manager{
		pidDir:    pidDir,
		bus:       bus,
		log:       logging.ForComponent("preview"),
		processes: make(map[string]*processInfo),
		grace:     startupGrace,
		portWait:  10 * time.Second,
	}
	if err := os.MkdirAll(pidDir, 0o755); err != nil {
		m.log.Warn().Err(err).Str("dir", pidDir).Msg("cannot create preview pid dir")
	}
	m.recoverOrphans()
	return m
}

// Start launches the project's dev server. When the preferred port is
// taken a free one is found and the command's port flag rewritten.
func (m *Manager) Start(p *types.Project) Status {
	if p.DevCommand == "" || p.DevPort == 0 {
		return Status{Running: false, Error: "No dev_command configured for this project"}
	}

	m.mu.Lock()
	if info, ok := m.processes[p.ID]; ok && m.isAlive(info) {
		status := Status{
			Running:       true,
			URL:           m.buildURL(info.port),
			Port:          info.port,
			PID:           info.pid,
			UptimeSeconds: uptime(info),
			Error:         "Preview already running for this project",
		}
		m.mu.Unlock()
		return status
	}
	m.mu.Unlock()

	detected := project.DetectDevServer(p.Path)
	projectType := detected.Type

	actualPort := m.findFreePort(p.DevPort)
	cmd := p.DevCommand
	env := os.Environ()
	if actualPort != p.DevPort {
		cmd, env = applyPortOverride(cmd, actualPort, projectType, env)
	}
	if projectType == "cra" {
		env = append(env, "HOST=0.0.0.0", "BROWSER=none")
		if actualPort != p.DevPort {
			env = append(env, "PORT="+strconv.Itoa(actualPort))
		}
	}

	fields, err := shell.Fields(cmd, nil)
	if err != nil || len(fields) == 0 {
		return Status{Running: false, Error: fmt.Sprintf("Invalid dev command: %v", err)}
	}

	logFile, err := os.Create(m.logPath(p.ID))
	if err != nil {
		logFile = nil
	}

	proc := exec.Command(fields[0], fields[1:]...)
	proc.Dir = p.Path
	proc.Env = env
	proc.Stdout = nil
	if logFile != nil {
		proc.Stderr = logFile
	}
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := proc.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		m.log.Error().Err(err).Str("project_id", p.ID).Msg("failed to start preview")
		return Status{Running: false, Error: fmt.Sprintf("Failed to start dev server: %v", err)}
	}
	if logFile != nil {
		logFile.Close()
	}

	exited := make(chan error, 1)
	go func() { exited <- proc.Wait() }()

	// The process must survive the grace period or it is treated as a
	// startup crash with its stderr tail in the error.
	select {
	case <-exited:
		exitCode := proc.ProcessState.ExitCode()
		crash := m.readCrashLog(p.ID)
		errMsg := fmt.Sprintf("Dev server exited immediately (code %d)", exitCode)
		if crash != "" {
			errMsg += ":\n" + lastLines(crash, 5)
		}
		m.log.Error().
			Str("project_id", p.ID).
			Int("exit_code", exitCode).
			Msg("preview died during startup")
		m.publish(p.ID, Status{Running: false, Port: actualPort, Error: errMsg})
		return Status{Running: false, Port: actualPort, Error: errMsg}
	case <-time.After(m.grace):
	}

	m.waitForPort(actualPort)

	info := &processInfo{
		pid:         proc.Process.Pid,
		port:        actualPort,
		projectID:   p.ID,
		projectPath: p.Path,
		startedAt:   time.Now().UTC(),
		cmd:         proc,
	}
	m.mu.Lock()
	m.processes[p.ID] = info
	m.mu.Unlock()
	m.writePIDFile(p.ID, info)

	m.log.Info().
		Str("project_id", p.ID).
		Int("pid", info.pid).
		Int("port", actualPort).
		Str("cmd", cmd).
		Msg("preview started")

	status := Status{
		Running:     true,
		URL:         m.buildURL(actualPort),
		Port:        actualPort,
		PID:         info.pid,
		ProjectType: projectType,
	}
	m.publish(p.ID, status)
	return status
}

// Stop terminates the project's dev server.
func (m *Manager) Stop(projectID string) Status {
	m.mu.Lock()
	info, ok := m.processes[projectID]
	if ok {
		delete(m.processes, projectID)
	}
	m.mu.Unlock()

	if !ok {
		return Status{Running: false, Error: "No preview running for this project"}
	}

	m.killProcess(info)
	m.removePIDFile(projectID)
	m.log.Info().Str("project_id", projectID).Int("pid", info.pid).Msg("preview stopped")

	status := Status{Running: false}
	m.publish(projectID, status)
	return status
}

// GetStatus reports whether the project's preview is alive, reaping
// dead processes and surfacing their crash output once.
func (m *Manager) GetStatus(projectID string) Status {
	m.mu.Lock()
	info, ok := m.processes[projectID]
	alive := ok && m.isAlive(info)
	if ok && !alive {
		delete(m.processes, projectID)
	}
	m.mu.Unlock()

	if !alive {
		if ok {
			crash := m.readCrashLog(projectID)
			m.removePIDFile(projectID)
			if crash != "" {
				return Status{Running: false, Error: "Dev server crashed:\n" + lastLines(crash, 5)}
			}
		}
		return Status{Running: false}
	}

	detected := project.DetectDevServer(info.projectPath)
	return Status{
		Running:       true,
		URL:           m.buildURL(info.port),
		Port:          info.port,
		PID:           info.pid,
		UptimeSeconds: uptime(info),
		ProjectType:   detected.Type,
	}
}

// CleanupAll stops every managed preview. Called on shutdown.
func (m *Manager) CleanupAll() {
	m.mu.Lock()
	infos := make([]*processInfo, 0, len(m.processes))
	for _, info := range m.processes {
		infos = append(infos, info)
	}
	m.processes = make(map[string]*processInfo)
	m.mu.Unlock()

	for _, info := range infos {
		m.killProcess(info)
		m.removePIDFile(info.projectID)
		m.log.Info().Str("project_id", info.projectID).Int("pid", info.pid).Msg("cleaned up preview")
	}
}

// DetectRunning reports whether something listens on the port.
func (m *Manager) DetectRunning(port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 250*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// waitForPort polls until the dev server accepts connections. Slow
// frameworks may still be compiling, so failure here is not fatal.
func (m *Manager) waitForPort(port int) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = time.Second
	policy.MaxElapsedTime = m.portWait

	err := backoff.Retry(func() error {
		if m.DetectRunning(port) {
			return nil
		}
		return fmt.Errorf("port %d not ready", port)
	}, policy)
	if err != nil {
		m.log.Debug().Int("port", port).Msg("dev server port not ready after wait")
	}
}

func (m *Manager) findFreePort(preferred int) int {
	for offset := 0; offset < portScanAttempts; offset++ {
		port := preferred + offset
		if !m.DetectRunning(port) {
			return port
		}
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return preferred
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

var djangoAddrRe = regexp.MustCompile(`0\.0\.0\.0:\d+`)

// applyPortOverride rewrites the dev command (or env) so the server
// binds the chosen port instead of its default.
func applyPortOverride(cmd string, port int, projectType string, env []string) (string, []string) {
	switch {
	case projectType == "django":
		cmd = djangoAddrRe.ReplaceAllString(cmd, fmt.Sprintf("0.0.0.0:%d", port))
	case projectType == "cra":
		env = append(env, "PORT="+strconv.Itoa(port))
	default:
		flag := project.PortFlag(projectType, port)
		if flag == "" {
			break
		}
		// npm run scripts need -- before extra flags, once.
		if strings.HasPrefix(cmd, "npm ") && !strings.Contains(cmd, " -- ") {
			cmd = cmd + " -- " + flag
		} else {
			cmd = cmd + " " + flag
		}
	}
	return cmd, env
}

func (m *Manager) buildURL(port int) string {
	if ip := m.tailscaleAddr(); ip != "" {
		return fmt.Sprintf("http://%s:%d", ip, port)
	}
	if ip := lanAddr(); ip != "" {
		return fmt.Sprintf("http://%s:%d", ip, port)
	}
	return fmt.Sprintf("http://localhost:%d", port)
}

func (m *Manager) tailscaleAddr() string {
	m.ipMu.Lock()
	defer m.ipMu.Unlock()
	if m.ipChecked {
		return m.tailscaleIP
	}
	m.ipChecked = true

	cmd := exec.Command("tailscale", "ip", "-4")
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) > 0 {
		m.tailscaleIP = strings.TrimSpace(lines[0])
	}
	return m.tailscaleIP
}

func lanAddr() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return ""
}

func (m *Manager) logPath(projectID string) string {
	return filepath.Join(m.pidDir, projectID+".log")
}

// readCrashLog returns the tail of a project's stderr log.
func (m *Manager) readCrashLog(projectID string) string {
	data, err := os.ReadFile(m.logPath(projectID))
	if err != nil {
		return ""
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return ""
	}
	return lastLines(text, maxStderrLines)
}

func lastLines(text string, n int) string {
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

type pidFile struct {
	PID         int       `json:"pid"`
	Port        int       `json:"port"`
	ProjectID   string    `json:"project_id"`
	ProjectPath string    `json:"project_path"`
	StartedAt   time.Time `json:"started_at"`
}

func (m *Manager) writePIDFile(projectID string, info *processInfo) {
	data, err := json.Marshal(pidFile{
		PID:         info.pid,
		Port:        info.port,
		ProjectID:   info.projectID,
		ProjectPath: info.projectPath,
		StartedAt:   info.startedAt,
	})
	if err != nil {
		return
	}
	path := filepath.Join(m.pidDir, projectID+".pid")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		m.log.Warn().Err(err).Str("path", path).Msg("cannot write preview pid file")
	}
}

func (m *Manager) removePIDFile(projectID string) {
	_ = os.Remove(filepath.Join(m.pidDir, projectID+".pid"))
}

// recoverOrphans re-adopts dev servers recorded in pid files whose
// processes are still alive.
func (m *Manager) recoverOrphans() {
	entries, err := os.ReadDir(m.pidDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pid") {
			continue
		}
		path := filepath.Join(m.pidDir, entry.Name())
		projectID := strings.TrimSuffix(entry.Name(), ".pid")

		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var pf pidFile
		if err := json.Unmarshal(data, &pf); err != nil || pf.PID == 0 {
			m.log.Warn().Str("path", path).Msg("invalid preview pid file")
			_ = os.Remove(path)
			continue
		}
		if !pidExists(pf.PID) {
			m.log.Info().Str("path", path).Int("pid", pf.PID).Msg("removing orphaned preview pid file")
			_ = os.Remove(path)
			continue
		}

		m.processes[projectID] = &processInfo{
			pid:         pf.PID,
			port:        pf.Port,
			projectID:   projectID,
			projectPath: pf.ProjectPath,
			startedAt:   pf.StartedAt,
		}
		m.log.Info().
			Str("project_id", projectID).
			Int("pid", pf.PID).
			Int("port", pf.Port).
			Msg("recovered orphaned preview")
	}
}

func (m *Manager) isAlive(info *processInfo) bool {
	return pidExists(info.pid)
}

func pidExists(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func (m *Manager) killProcess(info *processInfo) {
	proc, err := os.FindProcess(info.pid)
	if err != nil {
		return
	}
	_ = proc.Signal(syscall.SIGTERM)
	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if !pidExists(info.pid) {
			return
		}
	}
	_ = proc.Signal(syscall.SIGKILL)
}

func (m *Manager) publish(projectID string, status Status) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(event.Event{
		Type: event.PreviewStatus,
		Data: event.PreviewStatusData{
			ProjectID: projectID,
			Running:   status.Running,
			URL:       status.URL,
			Error:     status.Error,
		},
	})
}

func uptime(info *processInfo) int {
	return int(time.Since(info.startedAt).Seconds())
}
