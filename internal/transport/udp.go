package transport

import (
	"fmt"
	"net"
)

// PlainUDP sends datagrams on a single shared socket; connection slots do
// not apply. UDP supports a single target port only.
type PlainUDP struct {
	cfg  *Config
	conn *net.UDPConn
}

// NewPlainUDP returns the UDP adapter. The shared socket is created by the
// first Open call.
func NewPlainUDP(cfg *Config) *PlainUDP {
	return &PlainUDP{cfg: cfg}
}

func (t *PlainUDP) Open(_ *Slot) error {
	if t.conn != nil {
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
	t.conn = conn
	return nil
}

func (t *PlainUDP) Send(_ *Slot, buf []byte) (int, error) {
	return t.conn.Write(buf)
}

func (t *PlainUDP) Close(_ *Slot) error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *PlainUDP) NeedsReopen(_ *Slot) bool { return t.conn == nil }
