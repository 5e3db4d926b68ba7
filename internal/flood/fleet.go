package flood

import (
	"fmt"
	"sync"

	"github.com/Cropi/tcpflood/internal/relp"
	"github.com/Cropi/tcpflood/internal/transport"
)

// Fleet owns the connection slot array and the transport adapter behind
// it. Slots are written by opener workers during OpenAll and afterwards
// only by the sender that owns (or, in fan-out mode, currently uses) them.
type Fleet struct {
	cfg    *Config
	kind   transport.Kind
	tr     transport.Transport
	engine *relp.Engine
	slots  []*transport.Slot

	progressMu  sync.Mutex
	progressCtr int

	openErrOnce sync.Once
}

// NewFleet constructs the adapter for the configured transport kind.
func NewFleet(cfg *Config) (*Fleet, error) {
	f := &Fleet{cfg: cfg, kind: cfg.Transport}
	tcfg := cfg.TransportConfig()

	var err error
	switch cfg.Transport {
	case transport.UDP:
		f.tr = transport.NewPlainUDP(tcfg)
	case transport.TCP:
		f.tr = transport.NewPlainTCP(tcfg)
	case transport.TLS:
		f.tr, err = transport.NewTLSOverTCP(tcfg)
	case transport.DTLS:
		f.tr, err = transport.NewDTLSOverUDP(tcfg)
	case transport.RELPPlain, transport.RELPTLS:
		f.engine = relp.NewEngine(cfg.FS, cfg.Logger)
		if err = f.engine.EnableCommand("syslog"); err == nil {
			f.tr = transport.NewRELP(tcfg, f.engine, cfg.Transport == transport.RELPTLS)
		}
	default:
		err = fmt.Errorf("unknown transport kind %v", cfg.Transport)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Transport exposes the adapter for the sender engine.
func (f *Fleet) Transport() transport.Transport { return f.tr }

// Kind reports the configured transport kind.
func (f *Fleet) Kind() transport.Kind { return f.kind }

// Slot returns the slot backing index i. UDP and DTLS run on a single
// shared endpoint regardless of the requested index.
func (f *Fleet) Slot(i int) *transport.Slot {
	if f.kind == transport.UDP || f.kind == transport.DTLS {
		return f.slots[0]
	}
	return f.slots[i]
}

// OpenAll establishes the fleet. For UDP and DTLS a single shared endpoint
// is set up. For the stream transports the slot index range is partitioned
// across the configured number of opener workers, each opening its slice
// sequentially; a worker that exhausts the connect retry budget reports the
// first such failure once and stops, leaving its remaining slots closed.
func (f *Fleet) OpenAll() error {
	if f.kind == transport.UDP || f.kind == transport.DTLS {
		f.slots = []*transport.Slot{{Index: 0}}
		return f.tr.Open(f.slots[0])
	}

	numConns := f.cfg.Connections
	f.slots = make([]*transport.Slot, numConns)
	for i := range f.slots {
		f.slots[i] = &transport.Slot{Index: i}
	}

	workers := f.cfg.NumOpenThreads
	if numConns < workers {
		workers = numConns
	}

	if f.cfg.ShowProgress {
		fmt.Fprint(f.cfg.Out, "      open connections")
	}

	perWorker := numConns / workers
	remainder := numConns % workers

	var wg sync.WaitGroup
	start := 0
	for i := 0; i < workers; i++ {
		end := start + perWorker - 1
		end += remainder
		remainder = 0

		wg.Add(1)
		go func(startIdx, endIdx int) {
			defer wg.Done()
			f.openRange(startIdx, endIdx)
		}(start, end)

		start = end + 1
	}
	wg.Wait()

	if f.cfg.ShowProgress {
		fmt.Fprintf(f.cfg.Out, "\r%5.5d open connections\n", f.progressCtr)
	}
	return nil
}

func (f *Fleet) openRange(startIdx, endIdx int) {
	for i := startIdx; i <= endIdx; i++ {
		if err := f.tr.Open(f.slots[i]); err != nil {
			f.openErrOnce.Do(func() {
				f.cfg.Logger.WithError(err).Errorf("Error opening connection %d", i)
			})
			return
		}

		f.progressMu.Lock()
		ctr := f.progressCtr
		f.progressCtr++
		f.progressMu.Unlock()
		if f.cfg.ShowProgress && i%10 == 0 {
			fmt.Fprintf(f.cfg.Out, "\r%5.5d", ctr)
		}
	}
}

// CloseAll tears the fleet down. We close all connections deliberately so
// the receiver is not cut off while it still drains its input queues.
// Errors are logged, not returned: teardown is best-effort. UDP keeps its
// socket; it dies with the process.
func (f *Fleet) CloseAll() {
	switch f.kind {
	case transport.UDP:
		return
	case transport.DTLS:
		if err := f.tr.Close(f.slots[0]); err != nil {
			f.cfg.Logger.WithError(err).Warn("error closing DTLS endpoint")
		}
		return
	}

	if f.cfg.ShowProgress {
		fmt.Fprint(f.cfg.Out, "      close connections")
	}
	for i, slot := range f.slots {
		if f.cfg.ShowProgress && i%10 == 0 {
			fmt.Fprintf(f.cfg.Out, "\r%5.5d", i)
		}
		if !slot.Open() {
			continue
		}
		if err := f.tr.Close(slot); err != nil {
			f.cfg.Logger.WithError(err).Warnf("error closing connection %d", i)
		}
	}
	if f.cfg.ShowProgress {
		fmt.Fprintf(f.cfg.Out, "\r%5.5d close connections\n", len(f.slots))
	}
}

// Destroy releases transport-level resources held beyond the slots, such
// as the RELP engine and its remaining clients.
func (f *Fleet) Destroy() {
	if f.engine != nil {
		f.engine.Destruct()
	}
}
