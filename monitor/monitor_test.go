package monitor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solarriver/inverter/clog"
	"github.com/solarriver/inverter/status"
)

func sampleWithMode(t *testing.T, mode string) *status.Sample {
	t.Helper()
	format := []byte{0x0c}
	payload := []byte{0x00, 0x00}
	switch mode {
	case "Normal":
		payload = []byte{0x00, 0x01}
	case "Fault":
		payload = []byte{0x00, 0x02}
	}
	s, err := status.Decode(format, payload)
	require.NoError(t, err)
	return s
}

// Samples are published to every sink for every mode; ShouldPersist is a
// policy a sink may consult itself, not a gate the core applies.
func TestPublishSampleReachesSinksForEveryMode(t *testing.T) {
	m := New(Config{}, clog.NewLogger("monitor-test"), nil)

	var writes int
	m.Subscribe(SinkFunc(func(sample *status.Sample) error {
		writes++
		return nil
	}))

	fault := sampleWithMode(t, "Fault")
	assert.False(t, fault.ShouldPersist())
	m.publishSample(fault)
	assert.Equal(t, 1, writes)

	normal := sampleWithMode(t, "Normal")
	assert.True(t, normal.ShouldPersist())
	m.publishSample(normal)
	assert.Equal(t, 2, writes)
}

func TestPublishSampleToleratesSinkError(t *testing.T) {
	m := New(Config{}, clog.NewLogger("monitor-test"), nil)

	called := false
	m.Subscribe(SinkFunc(func(sample *status.Sample) error {
		called = true
		return errors.New("boom")
	}))

	assert.NotPanics(t, func() {
		m.publishSample(sampleWithMode(t, "Normal"))
	})
	assert.True(t, called)
}

func TestLifecyclePublishReachesAllSubscribers(t *testing.T) {
	m := New(Config{}, clog.NewLogger("monitor-test"), nil)

	var got []Lifecycle
	m.OnLifecycle(func(ev Lifecycle) { got = append(got, ev) })
	m.OnLifecycle(func(ev Lifecycle) { got = append(got, ev) })

	m.publish(Lifecycle{Kind: Connected, Addr: "10.0.0.5:1200"})

	require.Len(t, got, 2)
	assert.Equal(t, Connected, got[0].Kind)
	assert.Equal(t, "10.0.0.5:1200", got[0].Addr)
}

func TestConfigDefaultsInterval(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.NotZero(t, cfg.Interval)
}
