package groupcast

import (
	"fmt"
	"log/slog"

	"github.com/joshuafuller/groupcast/internal/xerrors"
)

// Config is the client's addressing-independent configuration: datagram
// sizing, buffer pool shape, cast mode, and socket options. All fields are
// set before Start via functional Options; Configure rejects changes once
// the client has left the stopped state, matching the original source's
// ENSURE_HAS_STOPPED() guard.
type Config struct {
	MaxDatagramSize int

	FreeBufferPoolSize int
	FreeBufferPoolHold int

	CastMode      CastMode
	MulticastTTL  int
	MulticastLoop bool
	ReusePolicy   ReusePolicy

	Logger *slog.Logger
}

func defaultConfig() Config {
	return Config{
		MaxDatagramSize:    4096,
		FreeBufferPoolSize: 64,
		FreeBufferPoolHold: 16,
		CastMode:           CastMulticast,
		MulticastTTL:       1,
		MulticastLoop:      true,
		ReusePolicy:        ReuseAddrOnly,
	}
}

// maxDatagramSizeCeiling is the hard upper bound on max-datagram-size
// (64 KiB), independent of the platform's actual UDP payload limit.
const maxDatagramSizeCeiling = 64 * 1024

// Option mutates a Config, functional-options style, directly grounded on
// the teacher's responder/options.go (type Option func(*Responder) error).
type Option func(*Config) error

// WithMaxDatagramSize sets the buffer item capacity and the maximum
// length accepted by Send/SendPackets. Must be in (0, 64 KiB].
func WithMaxDatagramSize(n int) Option {
	return func(c *Config) error {
		if n <= 0 || n > maxDatagramSizeCeiling {
			return xerrors.New(xerrors.KindInvalidParam, 0,
				fmt.Errorf("max datagram size %d out of range (1-%d)", n, maxDatagramSizeCeiling))
		}
		c.MaxDatagramSize = n
		return nil
	}
}

// WithFreeBufferPool sets the free-list soft cap (size) and retention
// hysteresis threshold (hold); both must be non-negative.
func WithFreeBufferPool(size, hold int) Option {
	return func(c *Config) error {
		if size < 0 || hold < 0 {
			return xerrors.New(xerrors.KindInvalidParam, 0,
				fmt.Errorf("pool size=%d hold=%d must be non-negative", size, hold))
		}
		c.FreeBufferPoolSize = size
		c.FreeBufferPoolHold = hold
		return nil
	}
}

// WithCastMode selects multicast join vs broadcast enable.
func WithCastMode(mode CastMode) Option {
	return func(c *Config) error {
		if mode != CastMulticast && mode != CastBroadcast {
			return xerrors.New(xerrors.KindInvalidParam, 0, fmt.Errorf("unknown cast mode %v", mode))
		}
		c.CastMode = mode
		return nil
	}
}

// WithMulticastTTL sets the IP TTL / hop limit applied to sent datagrams
// in multicast mode. Must be in [0, 255].
func WithMulticastTTL(ttl int) Option {
	return func(c *Config) error {
		if ttl < 0 || ttl > 255 {
			return xerrors.New(xerrors.KindInvalidParam, 0, fmt.Errorf("multicast ttl %d out of range (0-255)", ttl))
		}
		c.MulticastTTL = ttl
		return nil
	}
}

// WithMulticastLoop toggles local loopback of the client's own multicast sends.
func WithMulticastLoop(loop bool) Option {
	return func(c *Config) error {
		c.MulticastLoop = loop
		return nil
	}
}

// WithReuseAddressPolicy selects the pre-bind SO_REUSEADDR/SO_REUSEPORT policy.
func WithReuseAddressPolicy(policy ReusePolicy) Option {
	return func(c *Config) error {
		c.ReusePolicy = policy
		return nil
	}
}

// WithLogger overrides the structured logger used for lifecycle and
// per-datagram diagnostics. A nil logger (the default) falls back to
// slog.Default() at Start.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) error {
		c.Logger = logger
		return nil
	}
}
