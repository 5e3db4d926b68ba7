package transport

import (
	"strconv"
	"time"

	"github.com/Cropi/tcpflood/internal/relp"
)

// relpConnectTimeout is the fixed protocol timeout for session setup.
const relpConnectTimeout = 2 * time.Second

// RELP drives one RELP client session per slot, in plain or TLS framing.
type RELP struct {
	cfg    *Config
	engine *relp.Engine
	useTLS bool
}

// NewRELP returns a RELP adapter backed by engine.
func NewRELP(cfg *Config, engine *relp.Engine, useTLS bool) *RELP {
	if useTLS && cfg.RelpTLSLib.Valid {
		// The TLS stack is not selectable in this client; accept the
		// option for command line compatibility.
		cfg.Logger.WithField("lib", cfg.RelpTLSLib.String).
			Warn("RELP TLS library selection not supported, using default")
	}
	return &RELP{cfg: cfg, engine: engine, useTLS: useTLS}
}

// Open constructs a client session and connects it. For TLS sessions the
// certificate, authentication, and custom configuration options are applied
// before the connect.
func (t *RELP) Open(slot *Slot) error {
	clt := t.engine.NewClient()
	if t.useTLS {
		if err := clt.EnableTLS(); err != nil {
			return err
		}
		steps := []func() error{
			func() error { return clt.SetCACert(t.cfg.TLSFiles.CAFile) },
			func() error { return clt.SetOwnCert(t.cfg.TLSFiles.CertFile) },
			func() error { return clt.SetPrivKey(t.cfg.TLSFiles.KeyFile) },
		}
		for _, step := range steps {
			if err := step(); err != nil {
				return err
			}
		}
		if t.cfg.RelpAuthMode.Valid {
			if err := clt.SetAuthMode(t.cfg.RelpAuthMode.String); err != nil {
				return err
			}
		}
		if t.cfg.RelpPermitted.Valid {
			if err := clt.AddPermittedPeer(t.cfg.RelpPermitted.String); err != nil {
				return err
			}
		}
		if t.cfg.TLSConfigCmd != "" {
			if err := clt.SetTLSConfigCommand(t.cfg.TLSConfigCmd); err != nil {
				return err
			}
		}
	}

	port := strconv.Itoa(t.cfg.pickPort())
	if err := clt.Connect(relpConnectTimeout, t.cfg.TargetIP, port); err != nil {
		_ = t.engine.DestroyClient(clt)
		return err
	}
	slot.Relp = clt
	return nil
}

// Send submits the record as a single syslog frame. A rejected frame
// surfaces as an error with zero bytes accepted.
func (t *RELP) Send(slot *Slot, buf []byte) (int, error) {
	if err := slot.Relp.SendSyslog(buf); err != nil {
		return 0, err
	}
	return len(buf), nil
}

func (t *RELP) Close(slot *Slot) error {
	if slot.Relp == nil {
		return nil
	}
	err := slot.Relp.Close()
	slot.Relp = nil
	return err
}

func (t *RELP) NeedsReopen(slot *Slot) bool { return slot.Relp == nil }
