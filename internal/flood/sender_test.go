package flood

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cropi/tcpflood/internal/transport"
)

// fakeTransport counts sends and can be told to fail from a given message
// index on.
type fakeTransport struct {
	sent     int
	failFrom int // -1 disables failure injection
	opens    int
}

func (f *fakeTransport) Open(slot *transport.Slot) error {
	f.opens++
	slot.Conn = nil
	return nil
}

func (f *fakeTransport) Send(_ *transport.Slot, buf []byte) (int, error) {
	if f.failFrom >= 0 && f.sent >= f.failFrom {
		return 0, errors.New("injected send failure")
	}
	f.sent++
	return len(buf), nil
}

func (f *fakeTransport) Close(slot *transport.Slot) error {
	slot.Conn = nil
	return nil
}

func (f *fakeTransport) NeedsReopen(_ *transport.Slot) bool { return false }

func fakeFleet(cfg *Config, tr transport.Transport) *Fleet {
	f := &Fleet{cfg: cfg, kind: cfg.Transport, tr: tr}
	f.slots = make([]*transport.Slot, cfg.Connections)
	for i := range f.slots {
		f.slots[i] = &transport.Slot{Index: i}
	}
	return f
}

func TestSelectSlot(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Connections = 3
	var drops int64
	s := NewSender(cfg, fakeFleet(cfg, &fakeTransport{failFrom: -1}), nil, &drops)
	inst := newInstance(0, 10, 0)

	// The first numConnections messages walk the slots in order, as do
	// the last; the middle picks randomly.
	for i := uint64(0); i < 3; i++ {
		assert.Equal(t, int(i), s.selectSlot(inst, i))
	}
	for i := uint64(7); i < 10; i++ {
		assert.Equal(t, int(i-7), s.selectSlot(inst, i))
	}
	for i := uint64(3); i < 7; i++ {
		got := s.selectSlot(inst, i)
		assert.GreaterOrEqual(t, got, 0)
		assert.Less(t, got, 3)
	}
}

func TestSelectSlotMultithreaded(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Connections = 4
	cfg.Multithreaded = true
	var drops int64
	s := NewSender(cfg, fakeFleet(cfg, &fakeTransport{failFrom: -1}), nil, &drops)

	inst := newInstance(0, 8, 2)
	for i := uint64(0); i < 8; i++ {
		assert.Equal(t, 2, s.selectSlot(inst, i))
	}
}

func TestSenderPacing(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.NumMsgs = 5
	cfg.BatchSize = 1
	cfg.WaitTime = 1000

	gen, err := NewGenerator(cfg)
	require.NoError(t, err)
	defer gen.Close()

	var drops int64
	tr := &fakeTransport{failFrom: -1}
	s := NewSender(cfg, fakeFleet(cfg, tr), gen, &drops)

	var slept []time.Duration
	s.sleep = func(d time.Duration) { slept = append(slept, d) }

	inst := newInstance(0, 5, 0)
	require.NoError(t, s.Run(inst))

	// batchsize 1 sleeps after every single message.
	require.Len(t, slept, 5)
	for _, d := range slept {
		assert.Equal(t, time.Millisecond, d)
	}
	assert.Equal(t, 5, tr.sent)
}

func TestSenderAbortOnSendFail(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.NumMsgs = 10
	cfg.AbortOnSendFail = true

	gen, err := NewGenerator(cfg)
	require.NoError(t, err)
	defer gen.Close()

	var drops int64
	tr := &fakeTransport{failFrom: 3}
	s := NewSender(cfg, fakeFleet(cfg, tr), gen, &drops)

	inst := newInstance(0, 10, 0)
	err = s.Run(inst)
	require.Error(t, err)
	assert.Equal(t, 3, tr.sent)

	out := cfg.Out.(interface{ String() string }).String()
	assert.Contains(t, out, "CLOSED REMOTELY")
	assert.Contains(t, out, "tcpflood terminates due to send failure")
}

func TestSenderContinuesWithoutAbort(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.NumMsgs = 10
	cfg.AbortOnSendFail = false

	gen, err := NewGenerator(cfg)
	require.NoError(t, err)
	defer gen.Close()

	var drops int64
	tr := &fakeTransport{failFrom: 3}
	s := NewSender(cfg, fakeFleet(cfg, tr), gen, &drops)

	inst := newInstance(0, 10, 0)
	require.NoError(t, s.Run(inst))
	assert.Equal(t, uint64(10), inst.NumSent)
}
