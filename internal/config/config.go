// Package config loads the process startup configuration of spec.md §6 for
// both Play and Api processes: YAML via gopkg.in/yaml.v3 (the exact library
// the teacher's internal/config uses) with environment-variable overrides,
// following the same "flag for config path, YAML for everything else"
// posture the teacher's cmd/*/main.go entrypoints take.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Common holds the options spec.md §6 lists that apply to any process,
// regardless of serverType.
type Common struct {
	ServerType string `yaml:"server_type"` // "Play" or "Api"
	ServerID   string `yaml:"server_id"`
	ServiceID  uint16 `yaml:"service_id"`
	BindEndpoint string `yaml:"bind_endpoint"`

	RequestTimeoutMs int `yaml:"request_timeout_ms"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "text" or "json"

	StatsAddr string `yaml:"stats_addr"` // read-only stats HTTP surface; "" disables

	DiscoveryMode         string `yaml:"discovery_mode"` // "postgres" or "static"
	DiscoveryDSN          string `yaml:"discovery_dsn"`
	DiscoveryStaticFile   string `yaml:"discovery_static_file"`
	DiscoveryPollMs       int    `yaml:"discovery_poll_ms"`
}

// RequestTimeout returns RequestTimeoutMs as a time.Duration, defaulting to
// 5s when unset.
func (c Common) RequestTimeout() time.Duration {
	if c.RequestTimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// DiscoveryPollInterval returns DiscoveryPollMs as a time.Duration,
// defaulting to 3s (spec.md §4.M) when unset.
func (c Common) DiscoveryPollInterval() time.Duration {
	if c.DiscoveryPollMs <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.DiscoveryPollMs) * time.Millisecond
}

// Play holds the Play-process-specific options of spec.md §6.
type Play struct {
	Common `yaml:",inline"`

	TCPPort       uint16 `yaml:"tcp_port"` // 0 disables the TCP listener
	WebSocketAddr string `yaml:"web_socket_addr"`
	WebSocketPath string `yaml:"web_socket_path"`

	UseSSL      bool   `yaml:"use_ssl"`
	Certificate string `yaml:"certificate"`
	PrivateKey  string `yaml:"private_key"`

	HeartbeatIntervalMs     int `yaml:"heartbeat_interval_ms"`
	ConnectionIdleTimeoutMs int `yaml:"connection_idle_timeout_ms"`

	StageWorkerPoolSize int `yaml:"stage_worker_pool_size"` // default = CPU count

	DefaultStageType      string `yaml:"default_stage_type"`
	AuthenticateMessageID string `yaml:"authenticate_message_id"`
	CreateStageMessageID  string `yaml:"create_stage_message_id"`

	// DiagnosticEchoEnabled turns on the built-in echo Authenticator/
	// StageFactory (internal/diagnostics), useful for smoke-testing a
	// deployment without an application-supplied one. Off by default.
	DiagnosticEchoEnabled bool `yaml:"diagnostic_echo_enabled"`
}

func (p Play) HeartbeatInterval() time.Duration {
	if p.HeartbeatIntervalMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(p.HeartbeatIntervalMs) * time.Millisecond
}

func (p Play) ConnectionIdleTimeout() time.Duration {
	if p.ConnectionIdleTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.ConnectionIdleTimeoutMs) * time.Millisecond
}

// Api holds the Api-process-specific options of spec.md §6. Api processes
// have no client-facing transport options — they are mesh-only.
type Api struct {
	Common `yaml:",inline"`
	ServiceName string `yaml:"service_name"`

	// DiagnosticEchoEnabled registers the built-in echo Api controller
	// (internal/diagnostics), for smoke-testing a deployment with no
	// application controllers wired in yet. Off by default.
	DiagnosticEchoEnabled bool `yaml:"diagnostic_echo_enabled"`
}

func applyEnvOverrides(getenv func(string) string, pairs map[string]*string) {
	for envVar, target := range pairs {
		if v := getenv(envVar); v != "" {
			*target = v
		}
	}
}

// LoadPlay reads and parses a Play process's YAML config from path,
// applying PLAYHOUSE_* environment overrides the same way the teacher
// overlays database credentials onto its loaded config.
func LoadPlay(path string) (Play, error) {
	var cfg Play
	data, err := os.ReadFile(path)
	if err != nil {
		return Play{}, fmt.Errorf("reading play config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Play{}, fmt.Errorf("parsing play config %q: %w", path, err)
	}
	applyEnvOverrides(os.Getenv, map[string]*string{
		"PLAYHOUSE_SERVER_ID":     &cfg.ServerID,
		"PLAYHOUSE_BIND_ENDPOINT": &cfg.BindEndpoint,
		"PLAYHOUSE_DISCOVERY_DSN": &cfg.DiscoveryDSN,
	})
	if cfg.ServerType == "" {
		cfg.ServerType = "Play"
	}
	if cfg.ServerID == "" {
		cfg.ServerID = uuid.NewString()
	}
	return cfg, nil
}

// LoadApi reads and parses an Api process's YAML config from path.
func LoadApi(path string) (Api, error) {
	var cfg Api
	data, err := os.ReadFile(path)
	if err != nil {
		return Api{}, fmt.Errorf("reading api config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Api{}, fmt.Errorf("parsing api config %q: %w", path, err)
	}
	applyEnvOverrides(os.Getenv, map[string]*string{
		"PLAYHOUSE_SERVER_ID":     &cfg.ServerID,
		"PLAYHOUSE_BIND_ENDPOINT": &cfg.BindEndpoint,
		"PLAYHOUSE_DISCOVERY_DSN": &cfg.DiscoveryDSN,
	})
	if cfg.ServerType == "" {
		cfg.ServerType = "Api"
	}
	if cfg.ServerID == "" {
		cfg.ServerID = uuid.NewString()
	}
	return cfg, nil
}
