package relp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameEncode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		frame frame
		want  string
	}{
		{frame{txnr: 1, command: "open", data: []byte("hello")}, "1 open 5 hello\n"},
		{frame{txnr: 42, command: "syslog", data: []byte("<167>msg")}, "42 syslog 8 <167>msg\n"},
		{frame{txnr: 3, command: "close"}, "3 close 0\n"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, string(tc.frame.encode()))
	}
}

func TestReadFrame(t *testing.T) {
	t.Parallel()

	t.Run("with data", func(t *testing.T) {
		t.Parallel()
		r := bufio.NewReader(bytes.NewReader([]byte("7 rsp 6 200 OK\n")))
		f, err := readFrame(r)
		require.NoError(t, err)
		assert.Equal(t, uint64(7), f.txnr)
		assert.Equal(t, "rsp", f.command)
		assert.Equal(t, "200 OK", string(f.data))
	})
	t.Run("zero datalen", func(t *testing.T) {
		t.Parallel()
		r := bufio.NewReader(bytes.NewReader([]byte("9 rsp 0\n")))
		f, err := readFrame(r)
		require.NoError(t, err)
		assert.Equal(t, uint64(9), f.txnr)
		assert.Empty(t, f.data)
	})
	t.Run("roundtrip", func(t *testing.T) {
		t.Parallel()
		in := frame{txnr: 12345, command: "syslog", data: []byte("payload with spaces\nand newlines")}
		out, err := readFrame(bufio.NewReader(bytes.NewReader(in.encode())))
		require.NoError(t, err)
		assert.Equal(t, in.txnr, out.txnr)
		assert.Equal(t, in.command, out.command)
		assert.Equal(t, in.data, out.data)
	})
	t.Run("bad trailer", func(t *testing.T) {
		t.Parallel()
		_, err := readFrame(bufio.NewReader(bytes.NewReader([]byte("7 rsp 6 200 OKx"))))
		assert.Error(t, err)
	})
}

// fakeServer speaks just enough RELP to exercise the client: it acks open,
// syslog and close frames and collects syslog payloads.
type fakeServer struct {
	ln net.Listener

	mu       sync.Mutex
	messages []string

	rejectSyslog bool
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeServer{ln: ln}
	t.Cleanup(func() { ln.Close() })
	go s.serve()
	return s
}

func (s *fakeServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeServer) handle(conn net.Conn) {
	defer conn.Close()
	rd := bufio.NewReader(conn)
	for {
		f, err := readFrame(rd)
		if err != nil {
			return
		}
		var rsp frame
		switch f.command {
		case "open":
			rsp = frame{txnr: f.txnr, command: "rsp",
				data: []byte("200 OK\nrelp_version=0\nrelp_software=fake\ncommands=syslog")}
		case "syslog":
			if s.rejectSyslog {
				rsp = frame{txnr: f.txnr, command: "rsp", data: []byte("500 rejected")}
			} else {
				s.mu.Lock()
				s.messages = append(s.messages, string(f.data))
				s.mu.Unlock()
				rsp = frame{txnr: f.txnr, command: "rsp", data: []byte("200 OK")}
			}
		case "close":
			rsp = frame{txnr: f.txnr, command: "rsp", data: []byte("200 OK")}
			if _, err := conn.Write(rsp.encode()); err == nil {
				_ = conn.(*net.TCPConn).CloseWrite()
			}
			return
		default:
			rsp = frame{txnr: f.txnr, command: "rsp", data: []byte("500 unknown command")}
		}
		if _, err := conn.Write(rsp.encode()); err != nil {
			return
		}
	}
}

func (s *fakeServer) port() string {
	return strconv.Itoa(s.ln.Addr().(*net.TCPAddr).Port)
}

func (s *fakeServer) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestClientSessionLifecycle(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(t)
	engine := NewEngine(afero.NewMemMapFs(), testLogger())
	require.NoError(t, engine.EnableCommand("syslog"))

	clt := engine.NewClient()
	require.NoError(t, clt.Connect(2*time.Second, "127.0.0.1", srv.port()))

	for i := 0; i < 3; i++ {
		msg := fmt.Sprintf("<167>Mar  1 01:00:00 host tag msgnum:%08d:\n", i)
		require.NoError(t, clt.SendSyslog([]byte(msg)))
	}
	require.NoError(t, clt.Close())

	got := srv.received()
	require.Len(t, got, 3)
	assert.Contains(t, got[0], "msgnum:00000000:")
	assert.Contains(t, got[2], "msgnum:00000002:")

	// A destroyed client is no longer registered with the engine.
	assert.Error(t, engine.DestroyClient(clt))
}

func TestClientUnsupportedCommand(t *testing.T) {
	t.Parallel()

	engine := NewEngine(afero.NewMemMapFs(), testLogger())
	assert.Error(t, engine.EnableCommand("starttls"))
}

func TestClientRejectedSend(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(t)
	srv.rejectSyslog = true

	engine := NewEngine(afero.NewMemMapFs(), testLogger())
	clt := engine.NewClient()
	clt.window = 1 // force synchronous acks so the rejection surfaces immediately
	require.NoError(t, clt.Connect(2*time.Second, "127.0.0.1", srv.port()))

	err := clt.SendSyslog([]byte("msg"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")

	engine.Destruct()
}

func TestClientConnectFailure(t *testing.T) {
	t.Parallel()

	engine := NewEngine(afero.NewMemMapFs(), testLogger())
	clt := engine.NewClient()

	// A connect to a closed local port must fail within the protocol timeout.
	start := time.Now()
	err := clt.Connect(200*time.Millisecond, "127.0.0.1", "1")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestEngineDestructClosesClients(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(t)
	engine := NewEngine(afero.NewMemMapFs(), testLogger())

	clt := engine.NewClient()
	require.NoError(t, clt.Connect(2*time.Second, "127.0.0.1", srv.port()))
	require.NoError(t, clt.SendSyslog([]byte("one")))

	engine.Destruct()
	assert.Nil(t, clt.conn)
}
