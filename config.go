package cometdb

import (
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Config defines the configuration for connections. It is the already-parsed
// form of a DSN; DSN string parsing lives outside this package.
type Config struct {
	// Nodes is the set of candidate node endpoints behind the load balancer,
	// e.g. "http://comet-0:7310". Each connection is pinned to one of them.
	Nodes []string `json:"nodes"`
	// Database is the initial database of the session.
	Database string `json:"database,omitempty"`
	// User and Password authenticate the session.
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`

	// WaitTimeout bounds a single page-fetch round trip, not the whole
	// result traversal. The zero value means 60 seconds.
	WaitTimeout time.Duration `json:"wait_timeout,omitempty"`
	// HeartbeatInterval is the period of the session keep-alive ticker.
	// The zero value means 30 seconds.
	HeartbeatInterval time.Duration `json:"heartbeat_interval,omitempty"`
	// MaxRowsPerPage caps the number of rows the server puts in one result
	// page. Zero leaves the server default in place.
	MaxRowsPerPage int64 `json:"max_rows_per_page,omitempty"`
	// BodyFormat selects the result body encoding.
	BodyFormat BodyFormat `json:"body_format,omitempty"`
	// Settings are initial session settings, e.g. "timezone".
	Settings map[string]string `json:"settings,omitempty"`

	// Logger receives driver diagnostics. Nil disables logging.
	Logger *zap.Logger `json:"-"`
	// HTTPClient overrides the transport. Nil uses the default client.
	HTTPClient HTTPClient `json:"-"`
	// Clock overrides the heartbeat clock. Nil uses the wall clock.
	Clock clockwork.Clock `json:"-"`
}

// BodyFormat is the encoding of result bodies.
type BodyFormat string

const (
	// BodyFormatJSON requests row-oriented structured text result bodies.
	BodyFormatJSON BodyFormat = "json"
	// BodyFormatArrow requests columnar Arrow IPC result bodies.
	BodyFormatArrow BodyFormat = "arrow"
)

const (
	defaultWaitTimeout       = 60 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
)

func (c *Config) withDefaults() *Config {
	cfg := *c
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = defaultWaitTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.BodyFormat == "" {
		cfg.BodyFormat = BodyFormatJSON
	}
	return &cfg
}
