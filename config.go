package redis

import (
	"crypto/tls"
	"time"

	"go.uber.org/zap"
)

// Endpoint names one node to dial, over "tcp" or "unix".
type Endpoint struct {
	Network string // "tcp" or "unix"; defaults to "unix" for a path Addr, else "tcp"
	Addr    string
}

// SentinelConfig enables master discovery through a Redis Sentinel
// deployment instead of dialing Endpoints directly, grounded on the
// SENTINEL MASTER / SENTINEL SENTINELS exchange in
// ateleshev-radix.v2/sentinel2.
type SentinelConfig struct {
	Endpoints  []Endpoint
	MasterName string
}

// Config collects everything connect needs to establish and maintain one
// logical connection. URL-based parsing is out of scope; callers build
// this struct directly.
type Config struct {
	Endpoints []Endpoint
	Sentinel  *SentinelConfig
	TLS       *tls.Config

	Password   []byte
	DB         int64
	ClientName string

	// AutoResubscribe replays active SUBSCRIBE/PSUBSCRIBE/SSUBSCRIBE
	// registrations against a fresh connection after reconnect.
	AutoResubscribe bool
	// AutoRemonitor re-issues MONITOR after reconnect if it was active.
	AutoRemonitor bool

	// MaxCommandAttempts bounds how many times a RetryOnError message is
	// sent, across write failures, connection loss and MOVED/ASK
	// redirects. Once it is used up the caller gets the write error,
	// ErrConnLost or the redirect's ServerError respectively. Zero means
	// 1 (no retry).
	MaxCommandAttempts int

	// ReconnectInterval is the delay between reconnect attempts.
	ReconnectInterval time.Duration
	ConnectTimeout    time.Duration
	CommandTimeout    time.Duration

	Logger *zap.Logger
}

const defaultReconnectInterval = 10 * time.Second

// withDefaults fills the zero-value fields a working handler needs.
func (c Config) withDefaults() Config {
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = defaultReconnectInterval
	}
	if c.MaxCommandAttempts <= 0 {
		c.MaxCommandAttempts = 1
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

func (e Endpoint) network() string {
	if e.Network != "" {
		return e.Network
	}
	if isUnixAddr(e.Addr) {
		return "unix"
	}
	return "tcp"
}
