// Package config provides configuration loading and path management for ZURK.
//
// Configuration is assembled from multiple sources in priority order:
//
//  1. Built-in defaults
//  2. Global config (~/.config/zurk/zurk.json or zurk.jsonc)
//  3. ZURK_CONFIG file override
//  4. A .env file in the working directory
//  5. ZURK_* environment variables
//
// JSONC files (JSON with comments) are accepted and stripped with
// tidwall/jsonc before decoding.
//
// # Path Management
//
// The package exposes XDG Base Directory compliant paths through the
// Paths type:
//   - Data: ~/.local/share/zurk (XDG_DATA_HOME)
//   - Config: ~/.config/zurk (XDG_CONFIG_HOME)
//   - Cache: ~/.cache/zurk (XDG_CACHE_HOME)
//   - State: ~/.local/state/zurk (XDG_STATE_HOME)
//
// On Windows these fall back to APPDATA.
//
// # Environment Variable Overrides
//
//   - ZURK_HOST, ZURK_PORT - HTTP listen address
//   - ZURK_DATABASE_PATH - sqlite database location
//   - ZURK_CORS_ORIGINS - comma-separated allowed origins
//   - ZURK_LOG_LEVEL, ZURK_LOG_PRETTY - logging
//   - ZURK_AGENT_BINARY, ZURK_AGENT_HOME - agent CLI integration
//   - ZURK_DEFAULT_MODEL, ZURK_DEFAULT_PERMISSION_MODE - session defaults
//   - ZURK_APPROVAL_TIMEOUT_SECONDS - tool approval wait bound
//   - ZURK_CONFIG - path to a specific config file
package config
