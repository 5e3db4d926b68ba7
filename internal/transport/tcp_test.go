package transport

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainTCPLifecycle(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	sink := newCollectingListener(t, ln)

	tr := NewPlainTCP(testTransportConfig(t, sink.port()))
	slot := &Slot{Index: 0}

	assert.True(t, tr.NeedsReopen(slot))
	require.NoError(t, tr.Open(slot))
	assert.False(t, tr.NeedsReopen(slot))

	n, err := tr.Send(slot, []byte("msgnum:00000000:\n"))
	require.NoError(t, err)
	assert.Equal(t, 17, n)
	sink.waitFor(t, "msgnum:00000000:\n")

	require.NoError(t, tr.Close(slot))
	assert.True(t, tr.NeedsReopen(slot))
	assert.Nil(t, slot.Conn)
}

func TestPlainTCPReopenAfterDrop(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	sink := newCollectingListener(t, ln)

	tr := NewPlainTCP(testTransportConfig(t, sink.port()))
	slot := &Slot{Index: 0}
	require.NoError(t, tr.Open(slot))

	// Sever the connection the way the random-drop path does.
	slot.Conn.Close()
	slot.Conn = nil
	assert.True(t, tr.NeedsReopen(slot))

	require.NoError(t, tr.Open(slot))
	_, err = tr.Send(slot, []byte("after\n"))
	require.NoError(t, err)
	sink.waitFor(t, "after\n")
	require.NoError(t, tr.Close(slot))
}
