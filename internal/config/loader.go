package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr    string `json:"addr" yaml:"addr" toml:"addr"`
	RootDir string `json:"root_dir" yaml:"root_dir" toml:"root_dir"`

	// Artifact hub
	HubBaseURL string `json:"hub_base_url" yaml:"hub_base_url" toml:"hub_base_url"`
	HubToken   string `json:"hub_token" yaml:"hub_token" toml:"hub_token"`
	// Directories smaller than this after cleanup are treated as definitely
	// incomplete and removed whole during corruption recovery.
	MinArtifactBytes int64 `json:"min_artifact_bytes" yaml:"min_artifact_bytes" toml:"min_artifact_bytes"`

	// Backend selection: "server" (llama-server subprocess) or "llama"
	// (in-process, requires the llama build tag).
	Backend         string `json:"backend" yaml:"backend" toml:"backend"`
	ServerBin       string `json:"server_bin" yaml:"server_bin" toml:"server_bin"`
	ServerHost      string `json:"server_host" yaml:"server_host" toml:"server_host"`
	ServerPortStart int    `json:"server_port_start" yaml:"server_port_start" toml:"server_port_start"`
	ServerPortEnd   int    `json:"server_port_end" yaml:"server_port_end" toml:"server_port_end"`
	CtxSize         int    `json:"ctx_size" yaml:"ctx_size" toml:"ctx_size"`
	NGL             int    `json:"ngl" yaml:"ngl" toml:"ngl"`
	Threads         int    `json:"threads" yaml:"threads" toml:"threads"`

	// Generation admission
	MaxQueueDepth int `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWaitMS     int `json:"max_wait_ms" yaml:"max_wait_ms" toml:"max_wait_ms"`
	DrainMS       int `json:"drain_ms" yaml:"drain_ms" toml:"drain_ms"`

	// Reacquire the last loaded model at startup.
	WarmStart bool `json:"warm_start" yaml:"warm_start" toml:"warm_start"`

	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
	LogLevel       string   `json:"log_level" yaml:"log_level" toml:"log_level"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
