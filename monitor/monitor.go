// Package monitor drives the outer loop: discover an inverter, open a
// session, sample its status at a fixed cadence, and publish samples and
// lifecycle events to registered consumers. Any session failure is caught,
// the session is torn down, and the loop returns to discovery — the
// explicit fault -> reconnect state machine called for in place of a bare
// catch-all around the loop.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/solarriver/inverter/clog"
	"github.com/solarriver/inverter/discovery"
	"github.com/solarriver/inverter/metrics"
	"github.com/solarriver/inverter/session"
	"github.com/solarriver/inverter/status"
)

// EventKind tags a Lifecycle event.
type EventKind int

const (
	// Searching is published when discovery starts (or restarts).
	Searching EventKind = iota
	// Connected is published once a session is established.
	Connected
	// Disconnected is published when a session ends, successfully or not.
	Disconnected
)

// Lifecycle is a device lifecycle event published to subscribed sinks.
type Lifecycle struct {
	Kind   EventKind
	Addr   string // set for Connected
	Reason error  // set for Disconnected; nil on a clean shutdown
}

// Sink receives decoded samples. Write failures are logged, not fatal —
// consumers such as a textual renderer or a database writer implement
// this without the core depending on their concrete shape.
type Sink interface {
	Write(sample *status.Sample) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(sample *status.Sample) error

// Write calls f.
func (f SinkFunc) Write(sample *status.Sample) error { return f(sample) }

// Config tunes the monitor loop.
type Config struct {
	// Interval is the wall-clock cadence between status() calls.
	Interval time.Duration

	// Discovery tunes how the monitor finds an inverter.
	Discovery discovery.Config

	// Session tunes the session opened on each successful discovery.
	Session session.Config
}

func (c Config) withDefaults() Config {
	if c.Interval == 0 {
		c.Interval = 1 * time.Second
	}
	return c
}

// Monitor ties discovery, session and sample publication together.
type Monitor struct {
	cfg Config
	log clog.Clog
	met *metrics.Recorder

	sinks     []Sink
	lifecycle []func(Lifecycle)
}

// New creates a Monitor. Register sinks and lifecycle subscribers before
// calling Run.
func New(cfg Config, log clog.Clog, met *metrics.Recorder) *Monitor {
	return &Monitor{cfg: cfg.withDefaults(), log: log, met: met}
}

// Subscribe registers a Sink that receives every decoded sample.
func (m *Monitor) Subscribe(s Sink) {
	m.sinks = append(m.sinks, s)
}

// OnLifecycle registers a callback invoked for every Lifecycle event.
func (m *Monitor) OnLifecycle(fn func(Lifecycle)) {
	m.lifecycle = append(m.lifecycle, fn)
}

func (m *Monitor) publish(ev Lifecycle) {
	for _, fn := range m.lifecycle {
		fn(ev)
	}
}

// publishSample calls every subscribed Sink with sample, regardless of
// operation mode. A sink that should only persist Normal-mode samples (see
// status.Sample.ShouldPersist) is expected to check that itself; the core
// does not special-case any particular sink's policy.
func (m *Monitor) publishSample(sample *status.Sample) {
	for _, sink := range m.sinks {
		if err := sink.Write(sample); err != nil {
			m.log.Warn("sink write failed: %v", err)
		}
	}
}

// Run loops forever (until ctx is cancelled): discover, open a session,
// sample at Config.Interval, and on any session error tear down and go
// back to discovery. The outer caller is expected to restart Run after a
// return, per the supervised-restart design.
func (m *Monitor) Run(ctx context.Context) error {
	finder := discovery.New(m.cfg.Discovery, m.log)
	if err := finder.OpenWithRetries(3, time.Second); err != nil {
		return fmt.Errorf("monitor: opening discovery listener: %w", err)
	}
	defer finder.Close()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		m.publish(Lifecycle{Kind: Searching})
		conn, addr, err := finder.Find()
		if err != nil {
			outcome := "error"
			if errors.Is(err, discovery.ErrInverterNotFound) {
				outcome = "not_found"
			}
			m.met.ConnectionOutcome(outcome)
			m.log.Warn("discovery: %v", err)
			continue
		}
		m.met.ConnectionOutcome("connected")

		sess, err := session.New(conn, m.cfg.Session, m.log, m.met)
		if err != nil {
			m.log.Error("session: %v", err)
			conn.Close()
			continue
		}
		m.publish(Lifecycle{Kind: Connected, Addr: addr.String()})

		reason := m.runSession(ctx, sess)
		sess.Disconnect()
		m.publish(Lifecycle{Kind: Disconnected, Reason: reason})

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// runSession samples sess at Config.Interval using a gocron scheduler
// until either the context is cancelled (nil returned) or a status() call
// fails (the error is returned so the caller can reconnect).
func (m *Monitor) runSession(ctx context.Context, sess *session.Session) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("monitor: creating scheduler: %w", err)
	}

	failCh := make(chan error, 1)
	_, err = scheduler.NewJob(
		gocron.DurationJob(m.cfg.Interval),
		gocron.NewTask(func() {
			sample, err := sess.Status()
			if err != nil {
				select {
				case failCh <- err:
				default:
				}
				return
			}
			m.publishSample(sample)
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("monitor: scheduling status job: %w", err)
	}

	scheduler.Start()
	defer scheduler.Shutdown()

	select {
	case <-ctx.Done():
		return nil
	case err := <-failCh:
		return err
	}
}
