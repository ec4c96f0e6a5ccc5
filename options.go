package weave

import (
	"crypto/tls"
	"time"
)

const (
	// DefaultPort is the default Weave node TCP/WebSocket port.
	DefaultPort = 9200

	// DefaultConnectTimeout is the per-attempt transport-open timeout.
	DefaultConnectTimeout = 5 * time.Second
	// DefaultAuthTimeout is the per-attempt AUTH response timeout.
	DefaultAuthTimeout = 5 * time.Second
	// DefaultPingTimeout is the per-attempt PING response timeout used
	// during the reconnect loop's liveness check.
	DefaultPingTimeout = 2 * time.Second

	// DefaultCloseGrace is how long a superseded transport is kept open
	// after a successful reconnect before being closed.
	DefaultCloseGrace = 10 * time.Second

	// DefaultWriteRetryInterval is the sleep between retries used by the
	// "ensure" write policy.
	DefaultWriteRetryInterval = 1 * time.Second
)

// Option configures a Client at construction time.
type Option func(*Config)

// Config holds the tunables a Client is built with. The zero value is
// never used directly; NewClient always starts from defaultConfig and
// applies Options on top of it.
type Config struct {
	autoReconnect bool
	tlsConfig     *tls.Config

	connectTimeout time.Duration
	authTimeout    time.Duration
	pingTimeout    time.Duration
	closeGrace     time.Duration

	writeRetryInterval time.Duration

	wsMaxMessageSize int64

	logger Logger
	stats  Stats
	dump   DumpSink
	useWS  bool
}

func defaultConfig() *Config {
	return &Config{
		autoReconnect:      true,
		connectTimeout:     DefaultConnectTimeout,
		authTimeout:        DefaultAuthTimeout,
		pingTimeout:        DefaultPingTimeout,
		closeGrace:         DefaultCloseGrace,
		writeRetryInterval: DefaultWriteRetryInterval,
		wsMaxMessageSize:   DefaultWSMaxMessageSize,
		logger:             nopLogger{},
		stats:              NewDefaultStats(),
		dump:               nopDumpSink{},
	}
}

func applyConfig(opts []Option) *Config {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// WithAutoReconnect toggles automatic reconnect on connection loss and
// on a SHUTTING_DOWN node-status push. Enabled by default.
func WithAutoReconnect(enabled bool) Option {
	return func(c *Config) { c.autoReconnect = enabled }
}

// WithTLS supplies a pre-built *tls.Config, used for TLS over the TCP
// transport and, with WithWebSocket, for a wss:// connection. TLS
// context construction itself is out of scope here; the caller builds
// it.
func WithTLS(tlsConfig *tls.Config) Option {
	return func(c *Config) { c.tlsConfig = tlsConfig }
}

// WithWebSocket selects the WebSocket transport instead of raw TCP.
func WithWebSocket(enabled bool) Option {
	return func(c *Config) { c.useWS = enabled }
}

// WithWSMaxMessageSize overrides the WebSocket read limit (default
// 2^24 bytes).
func WithWSMaxMessageSize(n int64) Option {
	return func(c *Config) {
		if n > 0 {
			c.wsMaxMessageSize = n
		}
	}
}

// WithConnectTimeout overrides the per-attempt transport-open timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithAuthTimeout overrides the per-attempt AUTH response timeout.
func WithAuthTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.authTimeout = d
		}
	}
}

// WithLogger installs a custom Logger. The default discards everything.
func WithLogger(l Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithStats installs a custom Stats sink. The default is an in-memory
// atomic-counter implementation.
func WithStats(s Stats) Option {
	return func(c *Config) {
		if s != nil {
			c.stats = s
		}
	}
}

// WithDumpSink installs a diagnostic sink that receives the raw bytes
// of any payload that fails to decode.
func WithDumpSink(d DumpSink) Option {
	return func(c *Config) {
		if d != nil {
			c.dump = d
		}
	}
}
