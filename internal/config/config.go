package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
)

// Config holds all server settings.
type Config struct {
	// Host is the address the HTTP server binds to.
	Host string `json:"host"`
	// Port is the HTTP server port.
	Port int `json:"port"`
	// DatabasePath is where the sqlite database lives.
	DatabasePath string `json:"database_path"`
	// CORSOrigins lists the allowed browser origins.
	CORSOrigins []string `json:"cors_origins"`
	// LogLevel is the minimum log level (DEBUG, INFO, WARN, ERROR).
	LogLevel string `json:"log_level"`
	// LogPretty enables human-readable console logging.
	LogPretty bool `json:"log_pretty"`
	// AgentBinary is the agent CLI executable name or path.
	AgentBinary string `json:"agent_binary"`
	// AgentHome is the agent CLI home directory holding transcript files.
	AgentHome string `json:"agent_home"`
	// DefaultModel is used when a session does not specify one.
	DefaultModel string `json:"default_model"`
	// DefaultPermissionMode is used when a project does not specify one.
	DefaultPermissionMode string `json:"default_permission_mode"`
	// ApprovalTimeout bounds how long a tool call waits for a human
	// decision. Zero or negative means wait forever.
	ApprovalTimeout time.Duration `json:"-"`
	// ApprovalTimeoutSeconds is the serialized form of ApprovalTimeout.
	ApprovalTimeoutSeconds int `json:"approval_timeout_seconds"`
	// PreviewPortMin and PreviewPortMax bound the dev server port range.
	PreviewPortMin int `json:"preview_port_min"`
	PreviewPortMax int `json:"preview_port_max"`
}

// DefaultApprovalTimeout applies when no timeout is configured.
const DefaultApprovalTimeout = 300 * time.Second

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Host:                   "127.0.0.1",
		Port:                   8420,
		DatabasePath:           filepath.Join(GetPaths().Data, "zurk.db"),
		CORSOrigins:            []string{"http://localhost:3000", "http://localhost:5173"},
		LogLevel:               "INFO",
		AgentBinary:            "claude",
		AgentHome:              filepath.Join(home, ".claude"),
		DefaultModel:           "",
		DefaultPermissionMode:  "default",
		ApprovalTimeoutSeconds: int(DefaultApprovalTimeout / time.Second),
		PreviewPortMin:         3000,
		PreviewPortMax:         3999,
	}
}

// Load builds the configuration from multiple sources (priority order):
// 1. Built-in defaults
// 2. Global config file (~/.config/zurk/zurk.json or .jsonc)
// 3. ZURK_CONFIG file override
// 4. .env file in the working directory
// 5. Environment variables
func Load() (*Config, error) {
	cfg := Default()

	loaded := make(map[string]bool)
	loadOnce := func(path string) {
		abs, err := filepath.Abs(path)
		if err != nil || loaded[abs] {
			return
		}
		if loadFile(path, cfg) == nil {
			loaded[abs] = true
		}
	}

	globalDir := GetPaths().Config
	loadOnce(filepath.Join(globalDir, "zurk.json"))
	loadOnce(filepath.Join(globalDir, "zurk.jsonc"))

	if path := os.Getenv("ZURK_CONFIG"); path != "" {
		loadOnce(path)
	}

	// .env files are a convenience for local development. Existing
	// environment variables win over .env contents.
	_ = godotenv.Load()

	applyEnvOverrides(cfg)

	cfg.ApprovalTimeout = time.Duration(cfg.ApprovalTimeoutSeconds) * time.Second
	return cfg, nil
}

// loadFile merges one config file into cfg. JSONC comments are allowed.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	data = jsonc.ToJSON(data)
	return json.Unmarshal(data, cfg)
}

// applyEnvOverrides applies ZURK_* environment variables on top of cfg.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ZURK_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("ZURK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("ZURK_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("ZURK_CORS_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSOrigins = origins
	}
	if v := os.Getenv("ZURK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ZURK_LOG_PRETTY"); v != "" {
		cfg.LogPretty = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("ZURK_AGENT_BINARY"); v != "" {
		cfg.AgentBinary = v
	}
	if v := os.Getenv("ZURK_AGENT_HOME"); v != "" {
		cfg.AgentHome = v
	}
	if v := os.Getenv("ZURK_DEFAULT_MODEL"); v != "" {
		cfg.DefaultModel = v
	}
	if v := os.Getenv("ZURK_DEFAULT_PERMISSION_MODE"); v != "" {
		cfg.DefaultPermissionMode = v
	}
	if v := os.Getenv("ZURK_APPROVAL_TIMEOUT_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.ApprovalTimeoutSeconds = secs
		}
	}
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// Save writes the configuration to a file.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
