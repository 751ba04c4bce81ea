package reconcile

import (
	"time"
)

type State string

const (
	StateUninitialized State = "UNINITIALIZED"
	StateSyncing       State = "SYNCING"
	StateListening     State = "LISTENING"
	StateReconnecting  State = "RECONNECTING"
	StateStopped       State = "STOPPED"
)

const (
	DefaultEventJitter         = time.Second
	DefaultResyncCheckInterval = time.Minute
	DefaultStaleAfter          = 5 * time.Minute
	DefaultBackoffBase         = 5 * time.Second
	DefaultBackoffCap          = time.Minute
	DefaultLockTTL             = 2 * time.Minute
)

type Config struct {
	Services            []string      `mapstructure:"services"`
	EventJitter         time.Duration `mapstructure:"event_jitter"`
	ResyncCheckInterval time.Duration `mapstructure:"resync_check_interval"`
	StaleAfter          time.Duration `mapstructure:"stale_after"`
	BackoffBase         time.Duration `mapstructure:"backoff_base"`
	BackoffCap          time.Duration `mapstructure:"backoff_cap"`
	LockTTL             time.Duration `mapstructure:"lock_ttl"`
}

func (c Config) withDefaults() Config {
	if len(c.Services) == 0 {
		c.Services = []string{"pppoe", "hotspot"}
	}
	if c.EventJitter <= 0 {
		c.EventJitter = DefaultEventJitter
	}
	if c.ResyncCheckInterval <= 0 {
		c.ResyncCheckInterval = DefaultResyncCheckInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffCap < c.BackoffBase {
		c.BackoffCap = DefaultBackoffCap
		if c.BackoffCap < c.BackoffBase {
			c.BackoffCap = c.BackoffBase
		}
	}
	if c.LockTTL <= 0 {
		c.LockTTL = DefaultLockTTL
	}
	return c
}

// Backoff returns the delay before reconnect attempt n (1-based). Attempt n
// draws, using r in [0,1), between the ceilings of attempts n-1 and n, where
// the ceiling doubles from base up to limit. Delays are therefore
// non-decreasing across attempts and bounded by [base, limit].
func Backoff(n int, base, limit time.Duration, r float64) time.Duration {
	if n < 1 {
		n = 1
	}
	if r < 0 {
		r = 0
	}
	if r >= 1 {
		r = 0.999999
	}
	lo, hi := ceiling(n-1, base, limit), ceiling(n, base, limit)
	return lo + time.Duration(r*float64(hi-lo))
}

func ceiling(n int, base, limit time.Duration) time.Duration {
	if n <= 1 {
		return base
	}
	if n > 32 {
		return limit
	}
	if c := base << (n - 1); c > 0 && c < limit {
		return c
	}
	return limit
}
