// Package session owns one TCP conversation with an inverter: request/
// response exchanges, status-format caching, sample decoding, and a
// keep-alive worker that fills idle periods without racing user traffic.
package session

import (
	"errors"
	"time"
)

// defines the session's tunable range.
const (
	// SocketTimeoutMin/Max bound the read/write deadline applied to every
	// socket operation.
	SocketTimeoutMin = 1 * time.Second
	SocketTimeoutMax = 255 * time.Second

	// KeepAlivePeriodMin/Max bound the idle window before the keep-alive
	// worker injects filler traffic.
	KeepAlivePeriodMin = 1 * time.Second
	KeepAlivePeriodMax = 1 * time.Hour
)

// Config defines a Session's tunables. Valid replaces zero fields with
// their defaults and rejects out-of-range ones; New calls it, so the zero
// value yields DefaultConfig.
type Config struct {
	// SocketTimeout bounds every socket read and write.
	// Default 30s, safely above the ~1.5s device response time.
	SocketTimeout time.Duration

	// KeepAlivePeriod is how long the session may sit idle before the
	// keep-alive worker emits a filler request. Default 11s.
	KeepAlivePeriod time.Duration
}

// Valid applies the default to each unspecified value and rejects values
// out of range.
func (sf *Config) Valid() error {
	if sf == nil {
		return errors.New("session: invalid pointer")
	}

	if sf.SocketTimeout == 0 {
		sf.SocketTimeout = 30 * time.Second
	} else if sf.SocketTimeout < SocketTimeoutMin || sf.SocketTimeout > SocketTimeoutMax {
		return errors.New("session: SocketTimeout not in [1, 255]s")
	}

	if sf.KeepAlivePeriod == 0 {
		sf.KeepAlivePeriod = 11 * time.Second
	} else if sf.KeepAlivePeriod < KeepAlivePeriodMin || sf.KeepAlivePeriod > KeepAlivePeriodMax {
		return errors.New("session: KeepAlivePeriod not in [1s, 1h]")
	}

	return nil
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		SocketTimeout:   30 * time.Second,
		KeepAlivePeriod: 11 * time.Second,
	}
}
