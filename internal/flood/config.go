package flood

import (
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"gopkg.in/guregu/null.v3"

	"github.com/Cropi/tcpflood/internal/tlsconf"
	"github.com/Cropi/tcpflood/internal/transport"
)

const (
	// MaxExtraDataLen caps the -d extra data payload.
	MaxExtraDataLen = 512 * 1024
	// MaxSendBuf is the TLS coalescing ceiling.
	MaxSendBuf = 2 * MaxExtraDataLen
	// genBufSize fits the largest generated record before framing.
	genBufSize = MaxExtraDataLen + 1024
)

// Config is frozen after CLI parsing and drives every message of a test.
type Config struct {
	TargetIP    string
	Ports       []int
	Connections int

	NumMsgs  uint64
	StartNum int

	PRI            int
	Hostname       string
	FrameDelim     byte
	DynFileIDs     int
	ExtraDataLen   int
	RandomizeExtra bool
	RFC5424        bool
	JSONCookie     null.String
	OctetFramed    bool
	MsgToSend      null.String

	DataFile       null.String
	BinaryFile     bool
	FileIterations int

	Transport     transport.Kind
	TLSFiles      tlsconf.Files
	TLSConfigCmd  string
	TLSLogLevel   int
	RelpAuthMode  null.String
	RelpPermitted null.String
	RelpTLSLib    null.String

	RandConnDrop  bool
	ConnDropLevel float64

	BatchSize int64
	WaitTime  int // microseconds slept between batches

	NumRuns          int
	SleepBetweenRuns int
	StatsRecords     bool
	CSVOutput        bool

	Multithreaded   bool
	NumOpenThreads  int
	AbortOnSendFail bool

	Silent       bool
	ShowProgress bool
	Verbose      bool

	// Process-external collaborators, owned by the command layer.
	FS     afero.Fs
	Logger logrus.FieldLogger
	Out    io.Writer
}

// TransportConfig derives the adapter configuration from the flood config.
func (c *Config) TransportConfig() *transport.Config {
	return &transport.Config{
		TargetIP:       c.TargetIP,
		Ports:          c.Ports,
		TLSFiles:       c.TLSFiles,
		TLSConfigCmd:   c.TLSConfigCmd,
		TLSLogLevel:    c.TLSLogLevel,
		RelpAuthMode:   c.RelpAuthMode,
		RelpPermitted:  c.RelpPermitted,
		RelpTLSLib:     c.RelpTLSLib,
		ConnectTimeout: 0,
		FS:             c.FS,
		Logger:         c.Logger,
	}
}
