// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"deskline.yaml",
	"deskline.yml",
	"config/deskline.yaml",
}

// ConfigPathEnvVar names the variable holding an explicit config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:           "http://127.0.0.1/api/v1",
			Timeout:           15 * time.Second,
			UploadTimeout:     30 * time.Second,
			RequestsPerSecond: 10,
			Burst:             20,
			BreakerFailures:   5,
			BreakerTimeout:    30 * time.Second,
		},
		Realtime: RealtimeConfig{
			Protocol:            ProtocolRoom,
			WSBase:              "ws://127.0.0.1:80/ws/chat",
			MuxURL:              "ws://127.0.0.1:8765",
			ReconnectBase:       time.Second,
			ReconnectCap:        30 * time.Second,
			ReconnectFactor:     2,
			MaxAttempts:         10,
			StableAfter:         5 * time.Second,
			HandshakeTimeout:    10 * time.Second,
			HelloTimeout:        10 * time.Second,
			PingInterval:        30 * time.Second,
			PingTimeout:         20 * time.Second,
			WriteTimeout:        10 * time.Second,
			MaxMessageSize:      1 << 20,
			PendingSendCapacity: 1024,
			PendingSendTTL:      10 * time.Minute,
			RoomWaitAttempts:    40,
			RoomWaitDelay:       100 * time.Millisecond,
			CheckInterval:       10 * time.Second,
		},
		Auth: AuthConfig{
			UserID:         "local",
			RequestTimeout: 30 * time.Second,
		},
		Agent: AgentConfig{
			IDsFile: "agent_ids.txt",
		},
		Store: StoreConfig{
			Path:           "data/chats",
			GCInterval:     10 * time.Minute,
			GCDiscardRatio: 0.5,
		},
		Server: ServerConfig{
			Enabled:           true,
			Host:              "127.0.0.1",
			Port:              8788,
			ShutdownTimeout:   10 * time.Second,
			RateLimitRequests: 300,
			RateLimitWindow:   time.Minute,
		},
		NATS: NATSConfig{
			Enabled:       false,
			Embedded:      true,
			URL:           "nats://127.0.0.1:4222",
			Host:          "127.0.0.1",
			Port:          4222,
			SubjectPrefix: "deskline.events",
			ClientName:    "deskline",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration from defaults, the config file and the
// environment, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns CONFIG_PATH if it exists, else the first existing
// default path, else "".
func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// sliceConfigPaths may be given as comma-separated strings in the
// environment.
var sliceConfigPaths = []string{
	"store.operators",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		parts := strings.Split(s, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps lowercased environment variable names to config keys.
// Unlisted variables are ignored.
var envMappings = map[string]string{
	"backend_base_url":         "backend.base_url",
	"backend_timeout":          "backend.timeout",
	"backend_upload_timeout":   "backend.upload_timeout",
	"backend_rps":              "backend.requests_per_second",
	"backend_burst":            "backend.burst",
	"backend_breaker_failures": "backend.breaker_failures",
	"backend_breaker_timeout":  "backend.breaker_timeout",

	"realtime_protocol":         "realtime.protocol",
	"django_ws_base":            "realtime.ws_base",
	"mux_ws_url":                "realtime.mux_url",
	"realtime_client_id":        "realtime.client_id",
	"realtime_role":             "realtime.role",
	"ws_max_attempts":           "realtime.max_attempts",
	"ws_reconnect_base":         "realtime.reconnect_base",
	"ws_reconnect_cap":          "realtime.reconnect_cap",
	"ws_ping_interval":          "realtime.ping_interval",
	"ws_ping_timeout":           "realtime.ping_timeout",
	"ws_hello_timeout":          "realtime.hello_timeout",
	"room_wait_attempts":        "realtime.room_wait_attempts",
	"room_wait_delay":           "realtime.room_wait_delay",
	"connection_check_interval": "realtime.check_interval",

	"ws_auth_user":     "auth.username",
	"ws_auth_password": "auth.password",
	"fx_id":            "auth.fx_id",
	"desk_user_id":     "auth.user_id",

	"agent_ids_file":    "agent.ids_file",
	"agent_instance_id": "agent.instance_id",
	"agent_operator_id": "agent.operator_id",

	"store_path":      "store.path",
	"store_in_memory": "store.in_memory",
	"store_greeting":  "store.greeting",
	"store_operators": "store.operators",

	"http_enabled":        "server.enabled",
	"http_host":           "server.host",
	"http_port":           "server.port",
	"rate_limit_requests": "server.rate_limit_requests",
	"rate_limit_window":   "server.rate_limit_window",
	"disable_rate_limit":  "server.rate_limit_disabled",

	"nats_enabled":        "nats.enabled",
	"nats_embedded":       "nats.embedded",
	"nats_url":            "nats.url",
	"nats_host":           "nats.host",
	"nats_port":           "nats.port",
	"nats_subject_prefix": "nats.subject_prefix",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
