package transport

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Kind
	}{
		{"udp", UDP},
		{"tcp", TCP},
		{"tls", TLS},
		{"dtls", DTLS},
		{"relp-plain", RELPPlain},
		{"relp-tls", RELPTLS},
	}
	for _, tc := range tests {
		got, err := ParseKind(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
		assert.Equal(t, tc.in, got.String())
	}

	_, err := ParseKind("carrier-pigeon")
	assert.Error(t, err)
}

func TestPickPort(t *testing.T) {
	t.Parallel()

	cfg := &Config{Ports: []int{13514}}
	assert.Equal(t, 13514, cfg.pickPort())

	cfg = &Config{Ports: []int{1, 2, 3}}
	seen := map[int]bool{}
	for i := 0; i < 200; i++ {
		port := cfg.pickPort()
		assert.Contains(t, []int{1, 2, 3}, port)
		seen[port] = true
	}
	assert.Len(t, seen, 3)
}

func testTransportConfig(t *testing.T, port int) *Config {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &Config{
		TargetIP: "127.0.0.1",
		Ports:    []int{port},
		FS:       afero.NewMemMapFs(),
		Logger:   logger,
	}
}

// collectingListener accepts stream connections and accumulates the bytes
// received on them.
type collectingListener struct {
	ln net.Listener

	mu    sync.Mutex
	data  []byte
	conns int
}

func newCollectingListener(t *testing.T, ln net.Listener) *collectingListener {
	t.Helper()
	c := &collectingListener{ln: ln}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			c.mu.Lock()
			c.conns++
			c.mu.Unlock()
			go func() {
				defer conn.Close()
				buf := make([]byte, 32*1024)
				for {
					n, err := conn.Read(buf)
					if n > 0 {
						c.mu.Lock()
						c.data = append(c.data, buf[:n]...)
						c.mu.Unlock()
					}
					if err != nil {
						return
					}
				}
			}()
		}
	}()
	return c
}

func (c *collectingListener) port() int {
	return c.ln.Addr().(*net.TCPAddr).Port
}

func (c *collectingListener) waitFor(t *testing.T, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return string(c.data) == want
	}, 5*time.Second, 5*time.Millisecond, "listener never received %q", want)
}
