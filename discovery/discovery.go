// Package discovery implements the SolarRiver broadcast-advertise /
// TCP-accept handshake: the client listens on the well-known TCP port,
// periodically broadcasts a UDP advertisement, and returns the first
// inverter that dials back.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/solarriver/inverter/clog"
	"github.com/solarriver/inverter/frame"
)

// Well-known ports. ListenPort is where the client accepts the inverter's
// inbound connection; BroadcastPort is where the advertisement is sent.
const (
	ListenPort    = 1200
	BroadcastPort = 1300
)

var advertisement = [3]byte{0x00, 0x40, 0x02}

const advertisementPayload = "I AM SERVER"

// Sentinel errors.
var (
	// ErrPortInUse is returned by Open/OpenWithRetries when ListenPort is
	// already bound by another process.
	ErrPortInUse = errors.New("discovery: listen port already in use")
	// ErrInverterNotFound is returned by Find when the advertisement
	// budget is exhausted without an accepted connection.
	ErrInverterNotFound = errors.New("discovery: no inverter responded")
	// ErrAlreadyOpen is returned by Open when the listener already exists.
	ErrAlreadyOpen = errors.New("discovery: listener already open")
)

// Config tunes one discovery attempt.
type Config struct {
	// InterfaceIP binds the listening and broadcast sockets; empty means
	// all interfaces.
	InterfaceIP string
	// Advertisements is how many broadcast/accept rounds Find attempts.
	// Zero defaults to 10.
	Advertisements int
	// Interval is the time between advertisements, and the per-round
	// accept timeout. Zero defaults to 5s.
	Interval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Advertisements == 0 {
		c.Advertisements = 10
	}
	if c.Interval == 0 {
		c.Interval = 5 * time.Second
	}
	return c
}

// Finder owns the TCP listen socket used to discover an inverter. The zero
// value is not usable; construct with New.
type Finder struct {
	cfg      Config
	log      clog.Clog
	listener *net.TCPListener
}

// New creates a Finder. Call Open (or OpenWithRetries) before Find.
func New(cfg Config, log clog.Clog) *Finder {
	return &Finder{cfg: cfg.withDefaults(), log: log}
}

// Open binds and starts listening on (InterfaceIP, ListenPort), applying
// the platform's socket-reuse option (SO_REUSEADDR on POSIX,
// SO_EXCLUSIVEADDRUSE on Windows — see sockopt_*.go).
func (f *Finder) Open() error {
	if f.listener != nil {
		return ErrAlreadyOpen
	}

	lc := net.ListenConfig{Control: setReuseAddr}
	ln, err := lc.Listen(context.Background(), "tcp", fmt.Sprintf("%s:%d", f.cfg.InterfaceIP, ListenPort))
	if err != nil {
		if isPortInUse(err) {
			return fmt.Errorf("%w: %v", ErrPortInUse, err)
		}
		return err
	}
	f.listener = ln.(*net.TCPListener)
	return nil
}

// OpenWithRetries calls Open, retrying up to retries times with a sleep of
// period between attempts when the failure is ErrPortInUse. Any other error
// is propagated immediately.
func (f *Finder) OpenWithRetries(retries int, period time.Duration) error {
	for attempt := 0; ; attempt++ {
		err := f.Open()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrPortInUse) {
			return err
		}
		if attempt >= retries {
			return err
		}
		f.log.Warn("listen port %d already in use, retrying", ListenPort)
		time.Sleep(period)
	}
}

// Close releases the listen socket. Safe to call once; Find cannot be
// called again afterward without a new Open.
func (f *Finder) Close() error {
	if f.listener == nil {
		return nil
	}
	err := f.listener.Close()
	f.listener = nil
	return err
}

// Find broadcasts an advertisement up to Config.Advertisements times,
// pacing each by Config.Interval, and returns the first accepted
// connection. The listener must already be open.
func (f *Finder) Find() (net.Conn, net.Addr, error) {
	if f.listener == nil {
		return nil, nil, errors.New("discovery: Find called before Open")
	}

	msg, err := frame.Encode(advertisement, []byte(advertisementPayload))
	if err != nil {
		return nil, nil, err
	}

	bc, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP(f.cfg.InterfaceIP)})
	if err != nil {
		return nil, nil, fmt.Errorf("discovery: opening broadcast socket: %w", err)
	}
	defer bc.Close()

	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: BroadcastPort}

	for i := 0; i < f.cfg.Advertisements; i++ {
		f.log.Debug("sending discovery broadcast (%d/%d)", i+1, f.cfg.Advertisements)
		if _, err := bc.WriteTo(msg, dst); err != nil {
			return nil, nil, fmt.Errorf("discovery: broadcasting advertisement: %w", err)
		}

		if err := f.listener.SetDeadline(time.Now().Add(f.cfg.Interval)); err != nil {
			return nil, nil, err
		}
		conn, err := f.listener.Accept()
		if err == nil {
			f.log.Debug("accepted connection from %s", conn.RemoteAddr())
			return conn, conn.RemoteAddr(), nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			continue
		}
		return nil, nil, err
	}

	return nil, nil, ErrInverterNotFound
}

// isPortInUse reports whether err is an address-in-use failure: errno 98
// (EADDRINUSE) on POSIX, 10048 (WSAEADDRINUSE) on Windows.
func isPortInUse(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	return errno == 98 || errno == 10048
}
