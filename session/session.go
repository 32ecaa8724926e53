package session

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/solarriver/inverter/clog"
	"github.com/solarriver/inverter/frame"
	"github.com/solarriver/inverter/metrics"
	"github.com/solarriver/inverter/status"
)

// state is the session's lifecycle state machine: Open -> Closed. A
// Session is Open as soon as New returns it.
type state int

const (
	stateOpen state = iota
	stateClosed
)

var (
	statusFormatIdentifier  = [3]byte{0x01, 0x00, 0x02}
	statusFormatReplyPrefix = []byte{0x01, 0x80}
	statusIdentifier        = [3]byte{0x01, 0x02, 0x02}
	statusReplyPrefix       = []byte{0x01, 0x82}
)

// Session owns one connected socket for the lifetime of one conversation
// with an inverter. All socket access — user requests and the background
// keep-alive worker alike — is serialized through the mutex so frames are
// never interleaved on the wire.
type Session struct {
	id    string
	cfg   Config
	log   clog.Clog
	met   *metrics.Recorder
	conn  net.Conn
	rd    *bufio.Reader
	codec frame.Codec

	mu    sync.Mutex
	state state

	keepAlive *keepAliveWorker

	formatOnce sync.Once
	format     []byte
	formatErr  error
}

// New wraps an already-connected socket (as handed over by discovery) in a
// Session and starts the keep-alive worker. The socket transitions to
// owned-by-session; no other component may touch it afterward.
func New(conn net.Conn, cfg Config, log clog.Clog, met *metrics.Recorder) (*Session, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}

	s := &Session{
		id:    uuid.New().String(),
		cfg:   cfg,
		log:   log,
		met:   met,
		conn:  conn,
		rd:    bufio.NewReader(conn),
		state: stateOpen,
	}
	s.keepAlive = newKeepAliveWorker(cfg.KeepAlivePeriod, s.sendKeepAlive, s.onKeepAliveFailure, log)
	if err := s.keepAlive.start(); err != nil {
		return nil, err
	}
	s.met.SessionOpened()
	s.log.Debug("session %s opened with %s", s.id, conn.RemoteAddr())
	return s, nil
}

// ID returns the session's unique identifier, useful for correlating log
// lines and metrics across a single TCP conversation.
func (s *Session) ID() string {
	return s.id
}

// Request sends a frame with the given identifier and payload, then reads
// frames until one whose reply identifier has expectedPrefix is found.
// Intermediate non-matching frames are logged and dropped (see S7).
func (s *Session) Request(identifier [3]byte, payload []byte, expectedPrefix []byte) ([]byte, []byte, error) {
	s.keepAlive.pause()
	defer s.restartKeepAlive()

	start := time.Now()
	replyID, replyPayload, err := s.requestLocked(identifier, payload, expectedPrefix)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.met.Request(fmt.Sprintf("%02x%02x%02x", identifier[0], identifier[1], identifier[2]), outcome, time.Since(start).Seconds())
	return replyID, replyPayload, err
}

func (s *Session) requestLocked(identifier [3]byte, payload []byte, expectedPrefix []byte) ([]byte, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return nil, nil, ErrClosed
	}

	if err := s.sendFrame(identifier, payload); err != nil {
		return nil, nil, s.closeOnError(err)
	}

	for {
		msg, err := s.readFrame()
		if err != nil {
			return nil, nil, s.closeOnError(err)
		}
		if bytes.HasPrefix(msg.Identifier[:], expectedPrefix) {
			return append([]byte(nil), msg.Identifier[:]...), msg.Payload, nil
		}
		s.log.Warn("dropping unexpected reply id % x, waiting for prefix % x", msg.Identifier, expectedPrefix)
	}
}

// StatusFormat returns the device's status format byte string, caching it
// after the first successful fetch.
func (s *Session) StatusFormat() ([]byte, error) {
	s.formatOnce.Do(func() {
		_, payload, err := s.Request(statusFormatIdentifier, nil, statusFormatReplyPrefix)
		if err != nil {
			s.formatErr = err
			return
		}
		s.format = payload
		s.formatErr = nil
	})
	if s.formatErr != nil {
		// allow a subsequent call to retry once the transient error clears
		s.formatOnce = sync.Once{}
		return nil, s.formatErr
	}
	return s.format, nil
}

// Status fetches and decodes one status sample, using the cached status
// format (fetching it first if necessary).
func (s *Session) Status() (*status.Sample, error) {
	format, err := s.StatusFormat()
	if err != nil {
		return nil, err
	}

	_, payload, err := s.Request(statusIdentifier, nil, statusReplyPrefix)
	if err != nil {
		return nil, err
	}

	if want := 2 * len(format); want != len(payload) {
		s.log.Warn("status payload size mismatch: format implies %d bytes, got %d", want, len(payload))
	}

	sample, err := status.Decode(format, payload)
	if err != nil {
		return nil, err
	}
	s.met.SampleDecoded()
	return sample, nil
}

// Disconnect half-closes then closes the socket. Already-closed errors are
// swallowed; other I/O errors propagate.
func (s *Session) Disconnect() error {
	s.keepAlive.pause()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return nil
	}
	s.state = stateClosed
	s.met.SessionClosed()

	if tcp, ok := s.conn.(*net.TCPConn); ok {
		if err := tcp.CloseWrite(); err != nil && !isAlreadyClosed(err) {
			s.conn.Close()
			return err
		}
	}
	if err := s.conn.Close(); err != nil && !isAlreadyClosed(err) {
		return err
	}
	return nil
}

func (s *Session) sendKeepAlive() error {
	_, _, err := s.requestLocked(keepAliveIdentifier, nil, nil)
	if err == nil {
		s.met.KeepAliveSent()
	}
	return err
}

func (s *Session) onKeepAliveFailure(err error) {
	s.mu.Lock()
	s.state = stateClosed
	s.mu.Unlock()
	s.met.SessionClosed()
	s.log.Error("session closed: keep-alive failure: %v", err)
}

// restartKeepAlive restarts the worker unless the session has already
// transitioned to Closed (e.g. the request that just ran tore it down).
func (s *Session) restartKeepAlive() {
	s.mu.Lock()
	closed := s.state == stateClosed
	s.mu.Unlock()
	if closed {
		return
	}
	if err := s.keepAlive.start(); err != nil {
		s.log.Warn("keep-alive restart: %v", err)
	}
}

func (s *Session) sendFrame(identifier [3]byte, payload []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.SocketTimeout)); err != nil {
		return err
	}
	msg, err := frame.Encode(identifier, payload)
	if err != nil {
		return err
	}
	_, err = s.conn.Write(msg)
	return err
}

func (s *Session) readFrame() (frame.Message, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.SocketTimeout)); err != nil {
		return frame.Message{}, err
	}
	return s.codec.Decode(s.rd)
}

// closeOnError transitions the session to permanently Closed, logs the raw
// error detail at WARN, and returns the error the caller should surface:
// peer-side EOF and malformed-frame conditions, and any net.Error (such as
// a deadline timeout), become ErrConnectionLost; any other error (e.g. a
// framing ErrBadChecksum) is returned as-is.
func (s *Session) closeOnError(err error) error {
	if s.state != stateClosed {
		s.state = stateClosed
		s.met.SessionClosed()
	}

	if errors.Is(err, frame.ErrEOF) || errors.Is(err, io.EOF) || errors.Is(err, frame.ErrMalformed) || isNetClosed(err) {
		s.log.Warn("connection lost: %v", err)
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	s.log.Warn("session closed on error: %v", err)
	return err
}

func isNetClosed(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}

// isAlreadyClosed reports whether err indicates the socket was already
// torn down by the peer or the OS (platform errno 9, 107, 10038), in which
// case Disconnect should swallow it rather than propagate.
func isAlreadyClosed(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	return errno == 9 || errno == 107 || errno == 10038
}
