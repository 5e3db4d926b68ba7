package transport

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/Cropi/tcpflood/internal/tlsconf"
)

// maxRcvBuf bounds the drain read performed during the bidirectional
// session shutdown.
const maxRcvBuf = 16*1024 + 1

// TLSOverTCP is the TLS adapter: one TCP connection plus one TLS session
// per slot, handshake performed synchronously at open time.
type TLSOverTCP struct {
	cfg     *Config
	tlsConf *tls.Config
}

// NewTLSOverTCP loads the certificate material and prepares the shared
// session configuration. Peers are not authenticated by the generator.
func NewTLSOverTCP(cfg *Config) (*TLSOverTCP, error) {
	conf, err := tlsconf.Load(cfg.FS, cfg.TLSFiles)
	if err != nil {
		return nil, err
	}
	if err := tlsconf.ApplyConfigCommands(conf, cfg.TLSConfigCmd, cfg.Logger); err != nil {
		return nil, err
	}
	return &TLSOverTCP{cfg: cfg, tlsConf: conf}, nil
}

func (t *TLSOverTCP) Open(slot *Slot) error {
	conn, err := dialStream(t.cfg)
	if err != nil {
		return err
	}
	sess := tls.Client(conn, t.tlsConf)
	if err := sess.Handshake(); err != nil {
		conn.Close()
		return err
	}
	if t.cfg.TLSLogLevel > 0 {
		state := sess.ConnectionState()
		t.cfg.Logger.WithFields(map[string]interface{}{
			"slot":   slot.Index,
			"cipher": tls.CipherSuiteName(state.CipherSuite),
		}).Debug("TLS handshake complete")
	}
	slot.Conn = sess
	return nil
}

func (t *TLSOverTCP) Send(slot *Slot, buf []byte) (int, error) {
	sent := 0
	for sent < len(buf) {
		n, err := slot.Conn.Write(buf[sent:])
		sent += n
		if err != nil {
			return sent, err
		}
	}
	return sent, nil
}

// Close performs the session-level bidirectional shutdown: send our
// close-notify, then a single bounded read to drain the peer's, and only
// then tear the socket down with linger enabled.
func (t *TLSOverTCP) Close(slot *Slot) error {
	if slot.Conn == nil {
		return nil
	}
	sess, ok := slot.Conn.(*tls.Conn)
	if !ok {
		err := closeStream(slot.Conn)
		slot.Conn = nil
		return err
	}

	if raw, ok := sess.NetConn().(*net.TCPConn); ok {
		_ = raw.SetLinger(1)
	}
	_ = sess.CloseWrite()
	_ = sess.SetReadDeadline(time.Now().Add(time.Second))
	drain := make([]byte, maxRcvBuf)
	_, _ = sess.Read(drain)

	err := sess.Close()
	slot.Conn = nil
	return err
}

func (t *TLSOverTCP) NeedsReopen(slot *Slot) bool { return slot.Conn == nil }
