package session

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solarriver/inverter/clog"
	"github.com/solarriver/inverter/frame"
)

// fakeInverter is a minimal peer driven from a test goroutine: it reads
// one frame at a time and lets the test script a reply.
type fakeInverter struct {
	conn  net.Conn
	rd    *bufio.Reader
	codec frame.Codec
}

func newFakeInverter(conn net.Conn) *fakeInverter {
	return &fakeInverter{conn: conn, rd: bufio.NewReader(conn)}
}

func (f *fakeInverter) recv(t *testing.T) frame.Message {
	t.Helper()
	msg, err := f.codec.Decode(f.rd)
	require.NoError(t, err)
	return msg
}

func (f *fakeInverter) send(t *testing.T, identifier [3]byte, payload []byte) {
	t.Helper()
	buf, err := frame.Encode(identifier, payload)
	require.NoError(t, err)
	_, err = f.conn.Write(buf)
	require.NoError(t, err)
}

func newPipeSession(t *testing.T, cfg Config) (*Session, *fakeInverter) {
	t.Helper()
	client, server := net.Pipe()
	fake := newFakeInverter(server)
	s, err := New(client, cfg, clog.NewLogger("session-test"), nil)
	require.NoError(t, err)
	return s, fake
}

func TestRequestRoundTrip(t *testing.T) {
	s, fake := newPipeSession(t, Config{KeepAlivePeriod: time.Hour})
	defer s.Disconnect()

	done := make(chan struct{})
	go func() {
		defer close(done)
		msg := fake.recv(t)
		assert.Equal(t, [3]byte{0x01, 0x00, 0x02}, msg.Identifier)
		fake.send(t, [3]byte{0x01, 0x80, 0x00}, []byte{0x0c})
	}()

	format, err := s.StatusFormat()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0c}, format)
	<-done
}

// TestRequestDropsNonMatchingFrame is scenario S7: a non-matching reply id
// is logged and dropped, and the matching one is returned.
func TestRequestDropsNonMatchingFrame(t *testing.T) {
	s, fake := newPipeSession(t, Config{KeepAlivePeriod: time.Hour})
	defer s.Disconnect()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fake.recv(t)
		fake.send(t, [3]byte{0x01, 0x7f, 0x00}, []byte("ignored"))
		fake.send(t, [3]byte{0x01, 0x82, 0x00}, []byte{0xAA, 0xBB})
	}()

	_, payload, err := s.Request([3]byte{0x01, 0x02, 0x02}, nil, []byte{0x01, 0x82})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, payload)
	<-done
}

// TestKeepAliveSuppressedUnderLoad is scenario S6: frequent user requests
// suppress keep-alive traffic; once idle, a keep-alive frame appears.
func TestKeepAliveSuppressedUnderLoad(t *testing.T) {
	s, fake := newPipeSession(t, Config{KeepAlivePeriod: 150 * time.Millisecond})
	defer s.Disconnect()

	sawKeepAlive := make(chan struct{}, 1)
	go func() {
		for {
			msg, err := fake.codec.Decode(fake.rd)
			if err != nil {
				return
			}
			if msg.Identifier == keepAliveIdentifier {
				select {
				case sawKeepAlive <- struct{}{}:
				default:
				}
				buf, _ := frame.Encode([3]byte{0x01, 0x09, 0x00}, nil)
				if _, err := fake.conn.Write(buf); err != nil {
					return
				}
				continue
			}
			buf, _ := frame.Encode([3]byte{0x01, 0x82, 0x00}, []byte{0x00, 0x01})
			if _, err := fake.conn.Write(buf); err != nil {
				return
			}
		}
	}()

	deadline := time.Now().Add(450 * time.Millisecond)
	for time.Now().Before(deadline) {
		_, _, err := s.Request([3]byte{0x01, 0x02, 0x02}, nil, []byte{0x01, 0x82})
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)
	}
	select {
	case <-sawKeepAlive:
		t.Fatal("no keep-alive expected while requests arrive faster than the period")
	default:
	}

	select {
	case <-sawKeepAlive:
	case <-time.After(400 * time.Millisecond):
		t.Fatal("expected a keep-alive once the session went idle")
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	s, _ := newPipeSession(t, Config{KeepAlivePeriod: time.Hour})
	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Disconnect())
}

func TestRequestAfterDisconnectFails(t *testing.T) {
	s, _ := newPipeSession(t, Config{KeepAlivePeriod: time.Hour})
	require.NoError(t, s.Disconnect())

	_, _, err := s.Request([3]byte{0x01, 0x02, 0x02}, nil, []byte{0x01, 0x82})
	assert.ErrorIs(t, err, ErrClosed)
}
