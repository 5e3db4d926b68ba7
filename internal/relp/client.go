package relp

import (
	"bufio"
	"bytes"
	"crypto/sha1" //nolint:gosec // SHA1 fingerprints are what RELP peers exchange
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Cropi/tcpflood/internal/tlsconf"
)

// defaultWindow is the number of unacknowledged frames kept in flight
// before a send blocks on reading responses.
const defaultWindow = 128

// Client is one RELP session. Configure it (TLS, auth mode, certificates)
// before Connect; afterwards only SendSyslog and Close are valid.
type Client struct {
	engine *Engine
	id     int
	logger logrus.FieldLogger

	useTLS         bool
	authMode       string
	permittedPeers []string
	files          tlsconf.Files
	configCommand  string

	conn        net.Conn
	rd          *bufio.Reader
	txnr        uint64
	outstanding int
	window      int
}

// EnableTLS switches the session to TLS framing. Must precede Connect.
func (c *Client) EnableTLS() error {
	if c.conn != nil {
		return fmt.Errorf("relp: session already connected")
	}
	c.useTLS = true
	return nil
}

// SetAuthMode selects how the peer certificate is checked: "name" matches
// permitted peers against the certificate subject/SANs, "fingerprint"
// against SHA1 fingerprints. An empty mode performs no authentication.
func (c *Client) SetAuthMode(mode string) error {
	switch mode {
	case "", "name", "certvalid", "fingerprint":
		c.authMode = mode
		return nil
	}
	return fmt.Errorf("relp: unknown auth mode %q", mode)
}

// SetCACert names the CA bundle used to validate the peer.
func (c *Client) SetCACert(path string) error {
	c.files.CAFile = path
	return nil
}

// SetOwnCert names our certificate presented to the peer.
func (c *Client) SetOwnCert(path string) error {
	c.files.CertFile = path
	return nil
}

// SetPrivKey names the private key matching the certificate.
func (c *Client) SetPrivKey(path string) error {
	c.files.KeyFile = path
	return nil
}

// AddPermittedPeer whitelists a peer identity for the selected auth mode.
func (c *Client) AddPermittedPeer(peer string) error {
	if peer == "" {
		return fmt.Errorf("relp: empty permitted peer")
	}
	c.permittedPeers = append(c.permittedPeers, peer)
	return nil
}

// SetTLSConfigCommand passes an OpenSSL-style command=value string through
// to the TLS configuration.
func (c *Client) SetTLSConfigCommand(command string) error {
	c.configCommand = command
	return nil
}

// Connect dials host:port, performs the TLS handshake when enabled, and
// negotiates the RELP session. Every protocol step is bounded by timeout.
func (c *Client) Connect(timeout time.Duration, host, port string) error {
	if c.conn != nil {
		return fmt.Errorf("relp: session already connected")
	}
	if c.window == 0 {
		c.window = defaultWindow
	}

	deadline := time.Now().Add(timeout)
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, port), timeout)
	if err != nil {
		return fmt.Errorf("relp connect: %w", err)
	}

	if c.useTLS {
		tlsConf, err := tlsconf.Load(c.engine.fs, c.files)
		if err != nil {
			conn.Close()
			return err
		}
		if err := tlsconf.ApplyConfigCommands(tlsConf, c.configCommand, c.logger); err != nil {
			conn.Close()
			return err
		}
		if c.authMode != "" {
			tlsConf.VerifyPeerCertificate = c.verifyPeer
		}
		tlsConn := tls.Client(conn, tlsConf)
		if err := tlsConn.SetDeadline(deadline); err != nil {
			conn.Close()
			return err
		}
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			return fmt.Errorf("relp TLS handshake: %w", err)
		}
		conn = tlsConn
	}

	c.conn = conn
	c.rd = bufio.NewReaderSize(conn, 16*1024)

	offers := fmt.Sprintf("relp_version=%d\nrelp_software=%s\ncommands=%s",
		Version, software, c.engine.offeredCommands())
	if err := c.conn.SetDeadline(deadline); err != nil {
		return c.failConnect(err)
	}
	if err := c.sendFrame("open", []byte(offers)); err != nil {
		return c.failConnect(err)
	}
	rsp, err := readFrame(c.rd)
	if err != nil {
		return c.failConnect(fmt.Errorf("relp open response: %w", err))
	}
	if err := checkResponse(rsp); err != nil {
		return c.failConnect(err)
	}
	if !bytes.Contains(rsp.data, []byte("commands=")) {
		c.logger.Warn("relp peer did not announce commands, assuming syslog")
	} else if !bytes.Contains(rsp.data, []byte("syslog")) {
		return c.failConnect(fmt.Errorf("relp peer does not accept the syslog command"))
	}

	// Session established; sends are paced by the window, not a deadline.
	return c.conn.SetDeadline(time.Time{})
}

func (c *Client) failConnect(err error) error {
	c.conn.Close()
	c.conn = nil
	c.rd = nil
	return err
}

// SendSyslog submits one message as a single syslog frame. Acknowledgements
// are drained lazily: a send only blocks on responses once the transfer
// window is full.
func (c *Client) SendSyslog(msg []byte) error {
	if c.conn == nil {
		return fmt.Errorf("relp: session not connected")
	}
	if err := c.sendFrame("syslog", msg); err != nil {
		return err
	}
	c.outstanding++
	for c.outstanding >= c.window {
		if err := c.readAck(); err != nil {
			return err
		}
	}
	return nil
}

// Close drains outstanding acks, performs the RELP close exchange and
// shuts down the connection.
func (c *Client) Close() error {
	return c.engine.DestroyClient(c)
}

func (c *Client) shutdown() error {
	if c.conn == nil {
		return nil
	}
	defer func() {
		c.conn.Close()
		c.conn = nil
		c.rd = nil
	}()

	if err := c.conn.SetDeadline(time.Now().Add(2 * time.Second)); err != nil {
		return err
	}
	for c.outstanding > 0 {
		if err := c.readAck(); err != nil {
			return err
		}
	}
	if err := c.sendFrame("close", nil); err != nil {
		return err
	}
	if _, err := readFrame(c.rd); err != nil {
		return fmt.Errorf("relp close response: %w", err)
	}
	return nil
}

func (c *Client) sendFrame(command string, data []byte) error {
	c.txnr++
	f := &frame{txnr: c.txnr, command: command, data: data}
	buf := f.encode()
	for len(buf) > 0 {
		n, err := c.conn.Write(buf)
		if err != nil {
			return fmt.Errorf("relp send %s: %w", command, err)
		}
		buf = buf[n:]
	}
	return nil
}

func (c *Client) readAck() error {
	rsp, err := readFrame(c.rd)
	if err != nil {
		return fmt.Errorf("relp response: %w", err)
	}
	c.outstanding--
	return checkResponse(rsp)
}

func checkResponse(f *frame) error {
	if f.command != "rsp" {
		return fmt.Errorf("relp: unexpected %q frame, want rsp", f.command)
	}
	if !bytes.HasPrefix(f.data, []byte("200")) {
		data := f.data
		if len(data) > 80 {
			data = data[:80]
		}
		return fmt.Errorf("relp: peer rejected txnr %d: %s", f.txnr, data)
	}
	return nil
}

// verifyPeer implements the "name" and "fingerprint" auth modes against the
// permitted peer list.
func (c *Client) verifyPeer(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("relp: peer presented no certificate")
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("relp: bad peer certificate: %w", err)
	}

	switch c.authMode {
	case "certvalid":
		return nil
	case "fingerprint":
		fp := fingerprint(rawCerts[0])
		for _, peer := range c.permittedPeers {
			if strings.EqualFold(peer, fp) {
				return nil
			}
		}
		return fmt.Errorf("relp: peer fingerprint %s not permitted", fp)
	default: // "name"
		names := append([]string{cert.Subject.CommonName}, cert.DNSNames...)
		for _, peer := range c.permittedPeers {
			for _, name := range names {
				if strings.EqualFold(peer, name) {
					return nil
				}
			}
		}
		return fmt.Errorf("relp: peer %q not permitted", cert.Subject.CommonName)
	}
}

func fingerprint(der []byte) string {
	sum := sha1.Sum(der) //nolint:gosec // fingerprint format, not a signature
	var b strings.Builder
	b.WriteString("SHA1")
	for _, octet := range sum {
		fmt.Fprintf(&b, ":%02X", octet)
	}
	return b.String()
}
