package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pion/dtls/v2"

	"github.com/Cropi/tcpflood/internal/tlsconf"
)

// dtlsReadTimeout bounds datagram reads once the session is up.
const dtlsReadTimeout = 3 * time.Second

// DTLSOverUDP runs a single DTLS session over a connected UDP socket. The
// connection is logical at the UDP layer; slot 0 backs the session. The
// handshake is deferred to the first send.
type DTLSOverUDP struct {
	cfg      *Config
	dtlsConf *dtls.Config
	udp      *net.UDPConn
	sess     *dtls.Conn
}

// NewDTLSOverUDP loads the certificate material and prepares the DTLS
// session configuration.
func NewDTLSOverUDP(cfg *Config) (*DTLSOverUDP, error) {
	base, err := tlsconf.Load(cfg.FS, cfg.TLSFiles)
	if err != nil {
		return nil, err
	}
	conf := &dtls.Config{
		Certificates:       base.Certificates,
		RootCAs:            base.RootCAs,
		InsecureSkipVerify: true,
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(context.Background(), 30*time.Second)
		},
	}
	return &DTLSOverUDP{cfg: cfg, dtlsConf: conf}, nil
}

// Open prepares the connected send socket. The DTLS handshake itself
// happens lazily on the first send.
func (t *DTLSOverUDP) Open(_ *Slot) error {
	if t.udp != nil {
		return nil
	}
	raddr, err := net.ResolveUDPAddr("udp", t.cfg.addr(t.cfg.Ports[0]))
	if err != nil {
		return fmt.Errorf("could not resolve %s: %w", t.cfg.TargetIP, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return err
	}
	t.udp = conn
	return nil
}

func (t *DTLSOverUDP) initSession(slot *Slot) error {
	t.cfg.Logger.WithField("target", t.udp.RemoteAddr()).Debug("starting DTLS session")
	sess, err := dtls.Client(t.udp, t.dtlsConf)
	if err != nil {
		return fmt.Errorf("DTLS handshake failed: %w", err)
	}
	if err := sess.SetReadDeadline(time.Now().Add(dtlsReadTimeout)); err != nil {
		sess.Close()
		return err
	}
	if t.cfg.TLSLogLevel > 0 {
		t.cfg.Logger.WithField("target", t.udp.RemoteAddr()).Debug("DTLS session established")
	}
	t.sess = sess
	slot.Conn = sess
	return nil
}

// Send writes one record per datagram; records are never coalesced or
// split across datagrams.
func (t *DTLSOverUDP) Send(slot *Slot, buf []byte) (int, error) {
	if t.sess == nil {
		if err := t.initSession(slot); err != nil {
			return 0, err
		}
	}
	return t.sess.Write(buf)
}

func (t *DTLSOverUDP) Close(slot *Slot) error {
	if t.sess != nil {
		if err := t.sess.Close(); err != nil {
			t.cfg.Logger.WithError(err).Warn("error closing DTLS session")
		}
		t.sess = nil
	}
	if t.udp != nil {
		if err := t.udp.Close(); err != nil {
			return err
		}
		t.udp = nil
	}
	if slot != nil {
		slot.Conn = nil
	}
	return nil
}

func (t *DTLSOverUDP) NeedsReopen(_ *Slot) bool { return t.udp == nil }
