package transport

// PlainTCP sends octet-stuffed or octet-counted frames over bare TCP
// connections, one per slot.
type PlainTCP struct {
	cfg *Config
}

// NewPlainTCP returns the plain TCP adapter.
func NewPlainTCP(cfg *Config) *PlainTCP {
	return &PlainTCP{cfg: cfg}
}

func (t *PlainTCP) Open(slot *Slot) error {
	conn, err := dialStream(t.cfg)
	if err != nil {
		return err
	}
	slot.Conn = conn
	return nil
}

func (t *PlainTCP) Send(slot *Slot, buf []byte) (int, error) {
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

func (t *PlainTCP) Close(slot *Slot) error {
	if slot.Conn == nil {
		return nil
	}
	err := closeStream(slot.Conn)
	slot.Conn = nil
	return err
}

func (t *PlainTCP) NeedsReopen(slot *Slot) bool { return slot.Conn == nil }
