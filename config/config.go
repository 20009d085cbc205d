// Package config loads the typed configuration value the rest of
// Rocket-RPC treats as an external collaborator: XML-based configuration
// loading in the original is treated here as a configuration provider
// yielding a typed value. Grounded on config/server_config.go's
// yaml-singleton loader, with the field set rewritten to Rocket-RPC's
// own external interfaces instead of a Redis/Mongo/NSQ block.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LogConfig holds the log settings. Only Level is applied (cmd/rocketserver
// passes it to rlog.SetLevel); File, Path, MaxFileSize and SyncInterval are
// parsed but not read by any package in this module.
type LogConfig struct {
	Level        string `yaml:"level"`
	File         string `yaml:"file"`
	Path         string `yaml:"path"`
	MaxFileSize  int64  `yaml:"max_file_size"`
	SyncInterval int64  `yaml:"sync_interval_ms"`
}

// ServiceEntry is one (name, host, port) tuple this process provides,
// registered with the service directory in server mode.
type ServiceEntry struct {
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StubConfig is one client-side RPC stub: a logical service name mapped
// to a default endpoint and call timeout.
type StubConfig struct {
	Addr      string `yaml:"addr"`
	TimeoutMs int64  `yaml:"timeout_ms"`
}

// EtcdConfig is the etcd endpoint this process's service directory talks
// to.
type EtcdConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

func (e EtcdConfig) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// ServerConfig is the whole typed configuration value.
type ServerConfig struct {
	Log            LogConfig               `yaml:"log"`
	ListenPort     int                     `yaml:"listen_port"`
	IOThreads      int                     `yaml:"io_threads"`
	Services       []ServiceEntry          `yaml:"services"`
	Stubs          map[string]StubConfig   `yaml:"stubs"`
	Etcd           EtcdConfig              `yaml:"etcd"`
}

// Timeout returns the configured timeout for stub as a time.Duration,
// falling back to the given default when unset.
func (c *ServerConfig) Timeout(stub string, fallback time.Duration) time.Duration {
	s, ok := c.Stubs[stub]
	if !ok || s.TimeoutMs <= 0 {
		return fallback
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// Load reads and parses a yaml config file at path.
func Load(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

var global *ServerConfig

// SetGlobal installs cfg as the process-wide configuration, mirroring
// config/server_config.go's package-level singleton (and
// rocket/common/config.cc's Config::SetGlobalConfig).
func SetGlobal(cfg *ServerConfig) { global = cfg }

// Global returns the process-wide configuration installed by SetGlobal,
// or nil if none has been set.
func Global() *ServerConfig { return global }
