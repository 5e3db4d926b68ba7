package flood

import (
	"fmt"
	"io"
	"math/rand"
	"strconv"

	"github.com/spf13/afero"
)

// Generator formats each outgoing record according to the frozen config,
// or replays a data file. It advances the calling instance's sent counter.
type Generator struct {
	cfg            *Config
	dataFP         afero.File
	fileIterations int
}

// NewGenerator opens the replay file when one is configured.
func NewGenerator(cfg *Config) (*Generator, error) {
	g := &Generator{cfg: cfg, fileIterations: cfg.FileIterations}
	if cfg.DataFile.Valid {
		fp, err := cfg.FS.Open(cfg.DataFile.String)
		if err != nil {
			return nil, err
		}
		g.dataFP = fp
	}
	return g, nil
}

// Close releases the replay file, if any.
func (g *Generator) Close() error {
	if g.dataFP == nil {
		return nil
	}
	return g.dataFP.Close()
}

// Generate formats the next record into the instance's scratch buffers and
// returns it. An empty result signals end of input (replay mode exhausted).
// The returned slice is valid until the next Generate call on the same
// instance.
func (g *Generator) Generate(inst *Instance) ([]byte, error) {
	cfg := g.cfg
	msgNum := cfg.StartNum + int(inst.Lower+inst.NumSent)
	buf := inst.genBuf[:0]

	switch {
	case g.dataFP != nil:
		n, err := g.readChunk(inst.genBuf[:genBufSize])
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		buf = inst.genBuf[:n]

	case cfg.JSONCookie.Valid:
		if cfg.RFC5424 {
			buf = fmt.Appendf(buf,
				"<%d>1 2003-03-01T01:00:00.000Z mymachine.example.com tcpflood - tag "+
					"[tcpflood@32473 MSGNUM=\"%8.8d\"] %s{\"msgnum\":%d}%c",
				cfg.PRI, msgNum, cfg.JSONCookie.String, msgNum, cfg.FrameDelim)
		} else {
			buf = fmt.Appendf(buf, "<%d>Mar  1 01:00:00 %s tag %s{\"msgnum\":%d}%c",
				cfg.PRI, cfg.Hostname, cfg.JSONCookie.String, msgNum, cfg.FrameDelim)
		}

	case !cfg.MsgToSend.Valid:
		dynFileID := ""
		if cfg.DynFileIDs > 0 {
			dynFileID = strconv.Itoa(rand.Intn(cfg.DynFileIDs)) + ":"
		}
		if cfg.ExtraDataLen == 0 {
			if cfg.RFC5424 {
				buf = appendRFC5424(buf, cfg, dynFileID, msgNum)
			} else {
				buf = fmt.Appendf(buf, "<%d>Mar  1 01:00:00 %s tag msgnum:%s%8.8d:%c",
					cfg.PRI, cfg.Hostname, dynFileID, msgNum, cfg.FrameDelim)
			}
		} else {
			edLen := cfg.ExtraDataLen
			if cfg.RandomizeExtra {
				edLen = rand.Intn(cfg.ExtraDataLen) + 1
			}
			if cfg.RFC5424 {
				// The structured-data flavor carries the message number
				// only; extra payload applies to the legacy format.
				buf = appendRFC5424(buf, cfg, dynFileID, msgNum)
			} else {
				buf = fmt.Appendf(buf, "<%d>Mar  1 01:00:00 %s tag msgnum:%s%8.8d:%d:",
					cfg.PRI, cfg.Hostname, dynFileID, msgNum, edLen)
				for i := 0; i < edLen; i++ {
					buf = append(buf, 'X')
				}
				buf = append(buf, cfg.FrameDelim)
			}
		}

	default:
		buf = append(buf, cfg.MsgToSend.String...)
		buf = append(buf, cfg.FrameDelim)
	}

	if cfg.OctetFramed {
		framed := strconv.AppendInt(inst.frameBuf[:0], int64(len(buf)), 10)
		framed = append(framed, ' ')
		framed = append(framed, buf...)
		buf = framed
	}

	inst.NumSent++
	return buf, nil
}

func appendRFC5424(buf []byte, cfg *Config, dynFileID string, msgNum int) []byte {
	return fmt.Appendf(buf,
		"<%d>1 2003-03-01T01:00:00.000Z mymachine.example.com tcpflood - tag "+
			"[tcpflood@32473 MSGNUM=\"%8.8d\"] msgnum:%s%8.8d:%c",
		cfg.PRI, msgNum, dynFileID, msgNum, cfg.FrameDelim)
}

// readChunk fills buf from the replay file; at end of file it rewinds as
// long as iterations remain.
func (g *Generator) readChunk(buf []byte) (int, error) {
	for {
		n, err := g.dataFP.Read(buf)
		if n > 0 {
			return n, nil
		}
		if err != nil && err != io.EOF {
			return 0, err
		}
		g.fileIterations--
		if g.fileIterations <= 0 {
			return 0, nil
		}
		if _, err := g.dataFP.Seek(0, io.SeekStart); err != nil {
			return 0, err
		}
	}
}
