package session

import (
	"sync"
	"time"

	"github.com/solarriver/inverter/clog"
)

// keepAliveIdentifier is the filler request sent during idle periods. Its
// semantics are undocumented upstream; it was determined empirically and
// is not part of any published wire contract, so treat it as a magic
// constant rather than a meaningful opcode.
var keepAliveIdentifier = [3]byte{0x01, 0x09, 0x02}

// keepAliveWorker emits a filler request whenever the session has been
// quiet for longer than period. The owning session pauses the worker
// around every user-facing socket operation so at most one of
// {worker, user} ever touches the socket.
type keepAliveWorker struct {
	period time.Duration
	fn     func() error
	onFail func(error)
	log    clog.Clog

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func newKeepAliveWorker(period time.Duration, fn func() error, onFail func(error), log clog.Clog) *keepAliveWorker {
	return &keepAliveWorker{period: period, fn: fn, onFail: onFail, log: log}
}

// start launches the background worker. It fails with ErrInvalidState if
// the worker is already running.
func (w *keepAliveWorker) start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return ErrInvalidState
	}

	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true
	go w.run(w.stopCh, w.doneCh)
	return nil
}

func (w *keepAliveWorker) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	timer := time.NewTimer(w.period)
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-timer.C:
			w.log.Debug("idle for %s, sending keep-alive", w.period)
			if err := w.fn(); err != nil {
				w.log.Error("keep-alive failed: %v", err)
				w.onFail(err)
				return
			}
			timer.Reset(w.period)
		}
	}
}

// pause stops the worker and waits for it to exit. It is a no-op if the
// worker is not running, so callers may call it unconditionally around
// every user-facing operation.
func (w *keepAliveWorker) pause() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.running = false
	w.mu.Unlock()

	close(stopCh)
	<-doneCh
}
