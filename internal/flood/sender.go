package flood

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/Cropi/tcpflood/internal/transport"
)

// Instance is one sender worker's assignment: the lower bound of its
// message-number range, its share of the message count, and (in
// multithreaded mode) the connection slot it owns.
type Instance struct {
	Lower   uint64
	NumMsgs uint64
	NumSent uint64
	Idx     int

	genBuf   []byte
	frameBuf []byte
	sendBuf  []byte
}

func newInstance(lower, numMsgs uint64, idx int) *Instance {
	return &Instance{
		Lower:    lower,
		NumMsgs:  numMsgs,
		Idx:      idx,
		genBuf:   make([]byte, genBufSize),
		frameBuf: make([]byte, 0, genBufSize+16),
	}
}

// Sender runs one worker's share of a test run: generate, pick a slot,
// dispatch to the transport, handle drops, pacing and progress.
type Sender struct {
	cfg   *Config
	fleet *Fleet
	gen   *Generator
	drops *int64

	// sleep and randFloat are seams for the tests.
	sleep     func(time.Duration)
	randFloat func() float64
}

// NewSender wires a sender over the fleet and generator. drops is the
// process-wide engineered-drop counter.
func NewSender(cfg *Config, fleet *Fleet, gen *Generator, drops *int64) *Sender {
	return &Sender{
		cfg:       cfg,
		fleet:     fleet,
		gen:       gen,
		drops:     drops,
		sleep:     time.Sleep,
		randFloat: rand.Float64,
	}
}

func (s *Sender) selectSlot(inst *Instance, i uint64) int {
	if s.cfg.Multithreaded {
		return inst.Idx
	}
	nc := uint64(s.cfg.Connections)
	switch {
	case i < nc:
		return int(i)
	case i >= inst.NumMsgs-nc:
		return int(i - (inst.NumMsgs - nc))
	default:
		return rand.Intn(s.cfg.Connections)
	}
}

func canDrop(kind transport.Kind) bool {
	return kind == transport.TCP || kind == transport.TLS || kind.IsRELP()
}

// Run sends the instance's share of messages. The first numConnections
// messages walk the slots sequentially, as do the last; everything in
// between goes to a random slot, so every connection sees traffic at both
// ends of the run.
func (s *Sender) Run(inst *Instance) error {
	cfg := s.cfg
	tr := s.fleet.Transport()
	kind := s.fleet.Kind()

	statusText := ""
	showInterval := uint64(100)
	if !cfg.Silent {
		if !cfg.DataFile.Valid {
			fmt.Fprintf(cfg.Out, "Sending %d messages.\n", inst.NumMsgs)
			statusText = "messages"
			if inst.NumMsgs/100 > showInterval {
				showInterval = inst.NumMsgs / 100
			}
		} else {
			fmt.Fprintf(cfg.Out, "Sending file '%s' %d times.\n",
				cfg.DataFile.String, cfg.FileIterations)
			statusText = "kb"
		}
	}
	if cfg.ShowProgress {
		fmt.Fprintf(cfg.Out, "\r%8.8d %s sent", 0, statusText)
	}

	var i uint64
	for i = 0; i < inst.NumMsgs; i++ {
		socknum := s.selectSlot(inst, i)
		slot := s.fleet.Slot(socknum)

		buf, err := s.gen.Generate(inst)
		if err != nil {
			return err
		}
		if len(buf) == 0 {
			break // replay input exhausted
		}
		lenBuf := len(buf)

		var lenSend int
		var sendErr error
		switch kind {
		case transport.UDP:
			lenSend, sendErr = tr.Send(slot, buf)

		case transport.TCP:
			if tr.NeedsReopen(slot) {
				if err := s.reopen(tr, slot); err != nil {
					return err
				}
			}
			lenSend, sendErr = tr.Send(slot, buf)

		case transport.TLS:
			if tr.NeedsReopen(slot) {
				if err := s.reopen(tr, slot); err != nil {
					return err
				}
			}
			if inst.sendBuf == nil {
				inst.sendBuf = make([]byte, 0, MaxSendBuf)
			}
			if len(inst.sendBuf)+lenBuf < MaxSendBuf {
				inst.sendBuf = append(inst.sendBuf, buf...)
				lenSend = lenBuf
			} else {
				n, err := tr.Send(slot, inst.sendBuf)
				if err != nil || n != len(inst.sendBuf) {
					return fmt.Errorf("error while sending data on slot %d: %w",
						socknum, err)
				}
				lenSend = lenBuf
				inst.sendBuf = append(inst.sendBuf[:0], buf...)
			}

		case transport.DTLS:
			lenSend, sendErr = tr.Send(slot, buf)
			if sendErr != nil {
				return fmt.Errorf("DTLS send failed: %w", sendErr)
			}

		case transport.RELPPlain, transport.RELPTLS:
			if tr.NeedsReopen(slot) {
				if err := s.reopen(tr, slot); err != nil {
					return err
				}
			}
			lenSend, sendErr = tr.Send(slot, buf)
			if sendErr != nil {
				fmt.Fprintf(cfg.Out, "\nrelp syslog send failed: %v\n", sendErr)
				lenSend = 0
			}
		}

		if lenSend != lenBuf {
			fmt.Fprintf(cfg.Out, "\r%5.5d\n", i)
			if lenSend == 0 {
				fmt.Fprintf(cfg.Out,
					"tcpflood: slot %d, index %d, msgNum %d CLOSED REMOTELY (%v)\n",
					socknum, i, inst.NumSent, sendErr)
			} else {
				fmt.Fprintf(cfg.Out,
					"tcpflood: send() failed \"%v\" at slot %d, index %d, msgNum %d, "+
						"lenSend %d, lenBuf %d\n",
					sendErr, socknum, i, inst.NumSent, lenSend, lenBuf)
			}
			if cfg.AbortOnSendFail {
				fmt.Fprintf(cfg.Out, "tcpflood terminates due to send failure\n")
				return fmt.Errorf("send failure on slot %d: %w", socknum, sendErr)
			}
		}

		if i%showInterval == 0 && cfg.ShowProgress {
			fmt.Fprintf(cfg.Out, "\r%8.8d", i)
		}

		if !cfg.Multithreaded && cfg.RandConnDrop && canDrop(kind) {
			if s.randFloat() > cfg.ConnDropLevel {
				if kind == transport.TLS && len(inst.sendBuf) > 0 {
					n, err := tr.Send(slot, inst.sendBuf)
					if err != nil || n != len(inst.sendBuf) {
						cfg.Logger.Errorf(
							"error in send function for conn %d causes potential "+
								"data loss lenSend %d, offsSendBuf %d",
							socknum, n, len(inst.sendBuf))
					}
					inst.sendBuf = inst.sendBuf[:0]
				}
				atomic.AddInt64(s.drops, 1)
				s.dropSlot(slot)
			}
		}

		if cfg.BatchSize > 0 && inst.NumSent%uint64(cfg.BatchSize) == 0 {
			s.sleep(time.Duration(cfg.WaitTime) * time.Microsecond)
		}
	}

	if kind == transport.TLS && len(inst.sendBuf) > 0 && i > 0 {
		slot := s.fleet.Slot(s.selectSlot(inst, i-1))
		if _, err := tr.Send(slot, inst.sendBuf); err != nil {
			return fmt.Errorf("error flushing send buffer: %w", err)
		}
		inst.sendBuf = inst.sendBuf[:0]
	}
	if !cfg.Silent {
		fmt.Fprintf(cfg.Out, "\r%8.8d %s sent\n", i, statusText)
	}
	return nil
}

func (s *Sender) reopen(tr transport.Transport, slot *transport.Slot) error {
	if err := tr.Open(slot); err != nil {
		fmt.Fprintf(s.cfg.Out, "error in trying to re-open connection %d\n", slot.Index)
		return err
	}
	return nil
}

// dropSlot severs a connection; the slot is re-opened on its next use.
// This exercises the receiver's recovery path. Stream connections get a
// plain Close, without the linger setting and drain read that
// Transport.Close adds; a RELP session is closed through its client, which
// still drains outstanding acks and runs the RELP close exchange.
func (s *Sender) dropSlot(slot *transport.Slot) {
	if slot.Conn != nil {
		slot.Conn.Close()
		slot.Conn = nil
	}
	if slot.Relp != nil {
		_ = slot.Relp.Close()
		slot.Relp = nil
	}
}
