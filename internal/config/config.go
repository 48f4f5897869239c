// Package config loads the daemon configuration: coded defaults,
// overlaid by an optional YAML file, overlaid by environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	ToolLoop  ToolLoopConfig  `yaml:"tool_loop"`
	Boundary  BoundaryConfig  `yaml:"boundary"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	// Host is the bind address. The daemon is loopback-only by default.
	Host string `yaml:"host" env:"CURSOR_ACP_HOST"`
	// Port is the preferred fixed port.
	Port int `yaml:"port" env:"CURSOR_ACP_PORT"`
	// ReuseExisting probes the fixed port for a healthy instance and
	// reuses it instead of binding a second daemon.
	ReuseExisting bool `yaml:"reuse_existing" env:"CURSOR_ACP_REUSE_EXISTING_PROXY"`
}

// UpstreamConfig controls how the agent CLI is invoked.
type UpstreamConfig struct {
	Command   string   `yaml:"command" env:"CURSOR_ACP_AGENT_COMMAND"`
	ExtraArgs []string `yaml:"extra_args" env:"CURSOR_ACP_AGENT_EXTRA_ARGS" envSeparator:" "`
}

// ToolLoopConfig controls tool-call interception.
type ToolLoopConfig struct {
	// Mode is one of opencode, proxy-exec, off.
	Mode string `yaml:"mode" env:"CURSOR_ACP_TOOL_LOOP_MODE"`
	// MaxRepeat is the loop-guard repeat threshold.
	MaxRepeat int `yaml:"max_repeat" env:"CURSOR_ACP_TOOL_LOOP_MAX_REPEAT"`
	// ForceToolMode keeps interception on even for requests that declare
	// no tools.
	ForceToolMode bool `yaml:"force_tool_mode" env:"CURSOR_ACP_FORCE_TOOL_MODE"`
	// EmitToolUpdates publishes tool events as ACP tool_update
	// notifications. Off by default to avoid double-reporting.
	EmitToolUpdates bool `yaml:"emit_tool_updates" env:"CURSOR_ACP_EMIT_TOOL_UPDATES"`
	// ForwardToolCalls lets proxy-exec mode forward tool chunks to the
	// caller as well as executing them.
	ForwardToolCalls bool `yaml:"forward_tool_calls" env:"CURSOR_ACP_FORWARD_TOOL_CALLS"`
	// EditCompatRepair enables the edit-tool argument coercions.
	EditCompatRepair bool `yaml:"edit_compat_repair" env:"CURSOR_ACP_EDIT_COMPAT_REPAIR"`
}

// BoundaryConfig selects the provider-boundary generation.
type BoundaryConfig struct {
	// Mode is legacy or v1.
	Mode string `yaml:"mode" env:"CURSOR_ACP_PROVIDER_BOUNDARY"`
	// AutoFallbackToLegacy retries a failed v1 extraction under legacy
	// rules, once per request.
	AutoFallbackToLegacy bool `yaml:"auto_fallback_to_legacy" env:"CURSOR_ACP_AUTO_FALLBACK"`
}

// WorkspaceConfig controls workspace resolution.
type WorkspaceConfig struct {
	// Override pins every request to one directory.
	Override string `yaml:"override" env:"CURSOR_ACP_WORKSPACE_OVERRIDE"`
	// ConfigPrefix is the daemon's own directory; caller hints inside it
	// are rejected.
	ConfigPrefix string `yaml:"config_prefix" env:"CURSOR_ACP_CONFIG_PREFIX"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string `yaml:"level" env:"CURSOR_ACP_LOG_LEVEL"`
	Format string `yaml:"format" env:"CURSOR_ACP_LOG_FORMAT"`
}

// Default returns the coded defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Server: ServerConfig{
			Host:          "127.0.0.1",
			Port:          18900,
			ReuseExisting: true,
		},
		Upstream: UpstreamConfig{
			Command: "cursor-agent",
		},
		ToolLoop: ToolLoopConfig{
			Mode:             "opencode",
			MaxRepeat:        2,
			EditCompatRepair: true,
		},
		Boundary: BoundaryConfig{
			Mode:                 "v1",
			AutoFallbackToLegacy: true,
		},
		Workspace: WorkspaceConfig{
			ConfigPrefix: filepath.Join(home, ".cursor-acp"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// (skipped when path is empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values no component can act on.
func (c *Config) Validate() error {
	switch c.ToolLoop.Mode {
	case "opencode", "proxy-exec", "off":
	default:
		return fmt.Errorf("tool loop mode %q: want opencode, proxy-exec, or off", c.ToolLoop.Mode)
	}
	switch c.Boundary.Mode {
	case "legacy", "v1":
	default:
		return fmt.Errorf("boundary mode %q: want legacy or v1", c.Boundary.Mode)
	}
	if c.ToolLoop.MaxRepeat <= 0 {
		return fmt.Errorf("tool loop max repeat %d: want a positive integer", c.ToolLoop.MaxRepeat)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("port %d: out of range", c.Server.Port)
	}
	return nil
}
