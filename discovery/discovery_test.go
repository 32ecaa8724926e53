package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solarriver/inverter/clog"
)

func TestFindTimesOutAfterExhaustingAdvertisements(t *testing.T) {
	f := New(Config{
		InterfaceIP:    "127.0.0.1",
		Advertisements: 2,
		Interval:       50 * time.Millisecond,
	}, clog.NewLogger("discovery-test"))

	require.NoError(t, f.Open())
	defer f.Close()

	start := time.Now()
	_, _, err := f.Find()
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrInverterNotFound)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond, "should have waited through both accept timeouts")
}

func TestFindReturnsAcceptedConnection(t *testing.T) {
	f := New(Config{
		InterfaceIP:    "127.0.0.1",
		Advertisements: 5,
		Interval:       100 * time.Millisecond,
	}, clog.NewLogger("discovery-test"))

	require.NoError(t, f.Open())
	defer f.Close()

	go func() {
		time.Sleep(150 * time.Millisecond)
		conn, err := net.Dial("tcp", f.listener.Addr().String())
		if err == nil {
			conn.Close()
		}
	}()

	conn, addr, err := f.Find()
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.NotNil(t, addr)
	conn.Close()
}

func TestOpenRejectsDoubleOpen(t *testing.T) {
	f := New(Config{InterfaceIP: "127.0.0.1"}, clog.NewLogger("discovery-test"))
	require.NoError(t, f.Open())
	defer f.Close()

	assert.ErrorIs(t, f.Open(), ErrAlreadyOpen)
}
