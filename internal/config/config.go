// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

// Package config loads deskline's configuration.
//
// Values are layered, later sources overriding earlier ones:
//
//  1. built-in defaults (defaultConfig)
//  2. a YAML file: $CONFIG_PATH, else the first of DefaultConfigPaths found
//  3. environment variables listed in envMappings
//
// The result is validated with struct tags and the cross-field checks in
// Validate.
package config

import "time"

// Realtime protocols.
const (
	// ProtocolRoom opens one socket per room at <ws_base>/<room>/?token=.
	ProtocolRoom = "room"
	// ProtocolMux multiplexes every room over one socket at mux_url.
	ProtocolMux = "mux"
)

// Config is the complete deskline configuration.
type Config struct {
	Backend  BackendConfig  `koanf:"backend"`
	Realtime RealtimeConfig `koanf:"realtime"`
	Auth     AuthConfig     `koanf:"auth"`
	Agent    AgentConfig    `koanf:"agent"`
	Store    StoreConfig    `koanf:"store"`
	Server   ServerConfig   `koanf:"server"`
	NATS     NATSConfig     `koanf:"nats"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// BackendConfig configures the REST client.
type BackendConfig struct {
	// BaseURL is the API root.
	// Default: http://127.0.0.1/api/v1
	BaseURL string `koanf:"base_url" validate:"required,url"`

	Timeout       time.Duration `koanf:"timeout" validate:"gt=0"`
	UploadTimeout time.Duration `koanf:"upload_timeout" validate:"gt=0"`

	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"gt=0"`
	Burst             int     `koanf:"burst" validate:"gte=1"`

	// BreakerFailures consecutive failures open the circuit for BreakerTimeout.
	BreakerFailures uint32        `koanf:"breaker_failures" validate:"gte=1"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
}

// RealtimeConfig configures the WebSocket transport.
type RealtimeConfig struct {
	// Protocol selects the transport: room or mux.
	// Default: room
	Protocol string `koanf:"protocol" validate:"oneof=room mux"`

	// WSBase is the per-room socket base.
	// Default: ws://127.0.0.1:80/ws/chat
	WSBase string `koanf:"ws_base" validate:"omitempty,wsurl"`

	// MuxURL is the multiplexed socket endpoint.
	// Default: ws://127.0.0.1:8765
	MuxURL string `koanf:"mux_url" validate:"omitempty,wsurl"`

	// ClientID is sent in hello on the multiplexed protocol; random when empty.
	ClientID string `koanf:"client_id"`

	// Role is this client's senderRole, used to recognize its own echoes.
	// Default: client (room), user (mux)
	Role string `koanf:"role"`

	ReconnectBase   time.Duration `koanf:"reconnect_base" validate:"gt=0"`
	ReconnectCap    time.Duration `koanf:"reconnect_cap" validate:"gt=0"`
	ReconnectFactor float64       `koanf:"reconnect_factor" validate:"gte=1"`
	// MaxAttempts is the reconnect ceiling; 0 retries forever.
	MaxAttempts int `koanf:"max_attempts" validate:"gte=0,lte=1000"`
	// StableAfter is the uptime after which a dropped connection resets the
	// attempt counter.
	StableAfter time.Duration `koanf:"stable_after" validate:"gte=0"`

	HandshakeTimeout time.Duration `koanf:"handshake_timeout" validate:"gt=0"`
	HelloTimeout     time.Duration `koanf:"hello_timeout" validate:"gt=0"`
	PingInterval     time.Duration `koanf:"ping_interval" validate:"gt=0"`
	PingTimeout      time.Duration `koanf:"ping_timeout" validate:"gt=0"`
	WriteTimeout     time.Duration `koanf:"write_timeout" validate:"gt=0"`
	MaxMessageSize   int64         `koanf:"max_message_size" validate:"gte=1024"`

	// PendingSendCapacity and PendingSendTTL bound the set of sent message
	// ids awaiting their echo.
	PendingSendCapacity int           `koanf:"pending_send_capacity" validate:"gte=1"`
	PendingSendTTL      time.Duration `koanf:"pending_send_ttl" validate:"gt=0"`

	// RoomWaitAttempts polls of RoomWaitDelay wait for a new chat's room.
	RoomWaitAttempts int           `koanf:"room_wait_attempts" validate:"gte=1,lte=1000"`
	RoomWaitDelay    time.Duration `koanf:"room_wait_delay" validate:"gt=0"`

	// CheckInterval is the period of the connection check.
	CheckInterval time.Duration `koanf:"check_interval" validate:"gt=0"`
}

// AuthConfig holds backend credentials. Operator credentials take
// precedence over the fx login.
type AuthConfig struct {
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	FxID     string `koanf:"fx_id"`

	// UserID owns the local chats.
	// Default: local
	UserID string `koanf:"user_id" validate:"required"`

	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`
}

// AgentConfig locates the machine's agent ids. Explicit ids override the
// file.
type AgentConfig struct {
	IDsFile    string `koanf:"ids_file"`
	InstanceID string `koanf:"instance_id"`
	OperatorID string `koanf:"operator_id"`
}

// StoreConfig configures the local chat store.
type StoreConfig struct {
	Path       string `koanf:"path" validate:"required_unless=InMemory true"`
	InMemory   bool   `koanf:"in_memory"`
	SyncWrites bool   `koanf:"sync_writes"`

	// Greeting is the first message of every new chat.
	Greeting string `koanf:"greeting"`
	// Operators are the names greetings are signed with.
	Operators []string `koanf:"operators"`

	GCInterval     time.Duration `koanf:"gc_interval" validate:"gt=0"`
	GCDiscardRatio float64       `koanf:"gc_discard_ratio" validate:"gt=0,lt=1"`
}

// ServerConfig configures the local HTTP API.
type ServerConfig struct {
	Enabled bool   `koanf:"enabled"`
	Host    string `koanf:"host" validate:"required"`
	Port    int    `koanf:"port" validate:"gte=1,lte=65535"`

	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`

	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"gte=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// NATSConfig configures the event mirror.
type NATSConfig struct {
	Enabled bool `koanf:"enabled"`
	// Embedded runs an in-process server on Host:Port; URL is then ignored.
	Embedded bool   `koanf:"embedded"`
	URL      string `koanf:"url" validate:"omitempty,url"`
	Host     string `koanf:"host"`
	// Port -1 picks a random free port.
	Port int `koanf:"port" validate:"gte=-1,lte=65535"`

	SubjectPrefix string `koanf:"subject_prefix" validate:"required"`
	ClientName    string `koanf:"client_name"`
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	// Default: info
	Level string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`

	// Format is json or console.
	// Default: console
	Format string `koanf:"format" validate:"oneof=json console"`

	Caller bool `koanf:"caller"`
}

// Addr returns the HTTP listen address.
func (s ServerConfig) Addr() string {
	return joinHostPort(s.Host, s.Port)
}

// SenderRole returns the configured role or the protocol's default.
func (r RealtimeConfig) SenderRole() string {
	if r.Role != "" {
		return r.Role
	}
	if r.Protocol == ProtocolMux {
		return "user"
	}
	return "client"
}
