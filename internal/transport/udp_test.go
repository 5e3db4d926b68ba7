package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainUDPSend(t *testing.T) {
	t.Parallel()

	rcvr, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer rcvr.Close()
	port := rcvr.LocalAddr().(*net.UDPAddr).Port

	tr := NewPlainUDP(testTransportConfig(t, port))
	slot := &Slot{Index: 0}

	assert.True(t, tr.NeedsReopen(slot))
	require.NoError(t, tr.Open(slot))
	assert.False(t, tr.NeedsReopen(slot))

	n, err := tr.Send(slot, []byte("foo\n"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.NoError(t, rcvr.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := make([]byte, 64)
	n, _, err = rcvr.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, "foo\n", string(buf[:n]))

	require.NoError(t, tr.Close(slot))
	assert.True(t, tr.NeedsReopen(slot))
}
