package flood

import (
	"bytes"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testWaitTimeout = 5 * time.Second
	testWaitTick    = 5 * time.Millisecond
)

// freeUDPPort grabs an ephemeral UDP port for tests that only need a
// resolvable target.
func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn.LocalAddr().(*net.UDPAddr).Port
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// tcpSink is a minimal receiver: it accepts connections and accumulates
// everything sent on them.
type tcpSink struct {
	ln net.Listener

	mu    sync.Mutex
	data  bytes.Buffer
	conns int
}

func newTCPSink(t *testing.T) *tcpSink {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &tcpSink{ln: ln}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.conns++
			s.mu.Unlock()
			go func() {
				defer conn.Close()
				buf := make([]byte, 64*1024)
				for {
					n, err := conn.Read(buf)
					if n > 0 {
						s.mu.Lock()
						s.data.Write(buf[:n])
						s.mu.Unlock()
					}
					if err != nil {
						return
					}
				}
			}()
		}
	}()
	return s
}

func (s *tcpSink) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *tcpSink) contents() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.String()
}

func (s *tcpSink) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

// waitForBytes polls until the sink has accumulated want bytes.
func (s *tcpSink) waitForBytes(t *testing.T, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		got := s.data.Len()
		s.mu.Unlock()
		if got >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sink received %d bytes, want %d", s.data.Len(), want)
}

var _ io.Writer = (*syncBuffer)(nil)
