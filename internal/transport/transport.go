// Package transport provides a uniform send contract over the wire
// protocols the flood generator speaks: plain UDP, plain TCP, TLS over
// TCP, DTLS over UDP, and RELP in plain and TLS variants.
package transport

import (
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"gopkg.in/guregu/null.v3"

	"github.com/Cropi/tcpflood/internal/relp"
	"github.com/Cropi/tcpflood/internal/tlsconf"
)

// Kind identifies one of the supported wire protocols.
type Kind int

const (
	UDP Kind = iota
	TCP
	TLS
	DTLS
	RELPPlain
	RELPTLS
)

var kindNames = map[Kind]string{
	UDP:       "udp",
	TCP:       "tcp",
	TLS:       "tls",
	DTLS:      "dtls",
	RELPPlain: "relp-plain",
	RELPTLS:   "relp-tls",
}

func (k Kind) String() string { return kindNames[k] }

// IsRELP reports whether the kind is one of the RELP variants.
func (k Kind) IsRELP() bool { return k == RELPPlain || k == RELPTLS }

// ParseKind maps a -T option value to a Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if s == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown transport %q", s)
}

// Slot is one logical client endpoint. A nil Conn (and nil Relp) means the
// slot is closed and must be re-opened before the next send.
type Slot struct {
	Index int
	Conn  net.Conn
	Relp  *relp.Client
}

// Open reports whether the slot currently backs a live session.
func (s *Slot) Open() bool { return s.Conn != nil || s.Relp != nil }

// Transport is the uniform per-slot contract the sender engine and the
// connection fleet drive. UDP and DTLS run on one shared socket that their
// first Open creates; the fleet invokes their Open on slot 0 only.
type Transport interface {
	// Open establishes the slot's session, including any handshake.
	Open(slot *Slot) error
	// Send transmits buf on the slot, retrying partial writes. It returns
	// the number of payload bytes accepted.
	Send(slot *Slot, buf []byte) (int, error)
	// Close tears the slot's session down. Best-effort.
	Close(slot *Slot) error
	// NeedsReopen reports whether a send must be preceded by Open.
	NeedsReopen(slot *Slot) bool
}

// Config carries everything the adapters need to reach the target.
type Config struct {
	TargetIP string
	Ports    []int

	TLSFiles       tlsconf.Files
	TLSConfigCmd   string
	TLSLogLevel    int
	RelpAuthMode   null.String
	RelpPermitted  null.String
	RelpTLSLib     null.String
	ConnectTimeout time.Duration

	FS     afero.Fs
	Logger logrus.FieldLogger
}

// pickPort selects the target port; with multiple configured ports each
// open picks one uniformly at random.
func (c *Config) pickPort() int {
	if len(c.Ports) > 1 {
		return c.Ports[rand.Intn(len(c.Ports))]
	}
	return c.Ports[0]
}

func (c *Config) addr(port int) string {
	return net.JoinHostPort(c.TargetIP, strconv.Itoa(port))
}

const (
	connRetries    = 50
	connRetryDelay = 100 * time.Millisecond
)

// dialStream opens the TCP leg shared by the TCP and TLS adapters: resolve,
// connect, and on failure wait and retry up to the retry budget.
func dialStream(cfg *Config) (net.Conn, error) {
	addr := cfg.addr(cfg.pickPort())
	var lastErr error
	for retries := 0; retries <= connRetries; retries++ {
		conn, err := net.DialTimeout("tcp", addr, cfg.ConnectTimeout)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		cfg.Logger.WithError(err).Warn("connect failed, retrying...")
		time.Sleep(connRetryDelay)
	}
	return nil, fmt.Errorf("connect(%s) failed: %w", addr, lastErr)
}

// closeStream closes a TCP-backed connection with a 1 second linger so we
// do not overrun the receiver with an immediate reset during teardown.
func closeStream(conn net.Conn) error {
	type linger interface{ SetLinger(int) error }
	if tc, ok := conn.(linger); ok {
		_ = tc.SetLinger(1)
	}
	return conn.Close()
}
