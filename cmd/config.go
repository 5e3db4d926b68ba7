package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"
	"gopkg.in/guregu/null.v3"

	"github.com/Cropi/tcpflood/internal/flood"
	"github.com/Cropi/tcpflood/internal/tlsconf"
	"github.com/Cropi/tcpflood/internal/transport"
)

const maxTargetPorts = 5

// commandFlags mirrors the option surface of the original tcpflood tool;
// every option keeps its one-letter form.
type commandFlags struct {
	target         string
	ports          string
	numPorts       int
	connections    int
	messages       int
	startNum       int
	pri            int
	extraData      int
	randomizeExtra bool
	dynFileIDs     int
	frameDelim     int
	hostname       string
	message        string
	inputFile      string
	binaryFile     bool
	iterations     int
	connDrop       bool
	dropLevel      float64
	runs           int
	sleepBetween   int
	statsRecords   bool
	csvOutput      bool
	transportName  string
	batchSize      int64
	waitTime       int
	multithreaded  bool
	rfc5424        bool
	jsonCookie     string
	octetFramed    bool
	caFile         string
	keyFile        string
	certFile       string
	relpAuthMode   string
	relpPermitted  string
	relpTLSLib     string
	tlsLogLevel    int
	openThreads    int
	tlsConfigCmd   string
	noAbort        bool
	silent         bool
	verbose        bool
}

func newCommandFlags() *commandFlags {
	return &commandFlags{}
}

func (cf *commandFlags) register(flags *pflag.FlagSet) {
	flags.SortFlags = false
	flags.StringVarP(&cf.target, "target", "t", "127.0.0.1", "target address")
	flags.StringVarP(&cf.ports, "ports", "p", "13514", "target port(s), multiple via port1:port2:...")
	flags.IntVarP(&cf.numPorts, "num-ports", "n", 1, "number of target ports given in -p")
	flags.IntVarP(&cf.connections, "connections", "c", 1,
		"number of connections, negative for a soft limit")
	flags.IntVarP(&cf.messages, "messages", "m", 1, "number of messages to send")
	flags.IntVarP(&cf.startNum, "start-num", "i", 0, "initial message number")
	flags.IntVarP(&cf.pri, "pri", "P", 167, "PRI of generated messages")
	flags.IntVarP(&cf.extraData, "extra-data", "d", 0, "amount of extra data to add to each message")
	flags.BoolVarP(&cf.randomizeExtra, "randomize-extra", "r", false,
		"randomize the amount of extra data (-d must be > 0)")
	flags.IntVarP(&cf.dynFileIDs, "dynafile-ids", "f", 0, "include a dynafile ID in the range 0..(f-1)")
	flags.IntVarP(&cf.frameDelim, "frame-delim", "F", 10, "USASCII value of the frame delimiter")
	flags.StringVarP(&cf.hostname, "hostname", "h", "172.20.245.8", "hostname to use inside messages")
	flags.StringVarP(&cf.message, "message", "M", "", "exact message to send, disables generation")
	flags.StringVarP(&cf.inputFile, "input-file", "I", "", "read messages from file instead of generating")
	flags.BoolVarP(&cf.binaryFile, "binary", "B", false, "the -I file is binary")
	flags.IntVarP(&cf.iterations, "iterations", "C", 1, "how often the -I file is transmitted")
	flags.BoolVarP(&cf.connDrop, "conn-drop", "D", false, "randomly drop and re-establish connections")
	flags.Float64VarP(&cf.dropLevel, "conn-drop-level", "l", 0.95, "random connection drop probability floor")
	flags.IntVarP(&cf.runs, "runs", "R", 1, "number of times the test shall be run")
	flags.IntVarP(&cf.sleepBetween, "sleep-between-runs", "S", 30, "seconds to sleep between runs")
	flags.BoolVarP(&cf.statsRecords, "stats", "X", false, "generate stats data records")
	flags.BoolVarP(&cf.csvOutput, "csv", "e", false, "encode stats output in CSV")
	flags.StringVarP(&cf.transportName, "transport", "T", "tcp",
		"transport to use: udp|tcp|tls|dtls|relp-plain|relp-tls")
	flags.Int64VarP(&cf.batchSize, "batchsize", "b", 100000000, "number of messages within a batch")
	flags.IntVarP(&cf.waitTime, "waittime", "W", 0, "microseconds to sleep between batches")
	flags.BoolVarP(&cf.multithreaded, "multithreaded", "Y", false, "use one sender thread per connection")
	flags.BoolVarP(&cf.rfc5424, "rfc5424", "y", false, "use RFC5424 style test messages")
	flags.StringVarP(&cf.jsonCookie, "json-cookie", "j", "", "format messages in JSON with this cookie")
	flags.BoolVarP(&cf.octetFramed, "octet-count", "O", false, "use octet-count framing")
	flags.StringVarP(&cf.caFile, "ca", "x", "", "CA cert file for TLS modes")
	flags.StringVarP(&cf.keyFile, "key", "z", "", "private key file for TLS modes")
	flags.StringVarP(&cf.certFile, "cert", "Z", "", "cert (public key) file for TLS modes")
	flags.StringVarP(&cf.relpAuthMode, "relp-auth-mode", "a", "", "authentication mode for relp-tls")
	flags.StringVarP(&cf.relpPermitted, "relp-permitted-peer", "E", "", "permitted peer for relp-tls")
	flags.StringVarP(&cf.relpTLSLib, "relp-tls-lib", "u", "", "RELP TLS library selection")
	flags.IntVarP(&cf.tlsLogLevel, "tls-log-level", "L", 0, "TLS troubleshooting log level (0-10)")
	flags.IntVarP(&cf.openThreads, "conn-open-threads", "o", 25,
		"number of threads to use for connection establishment")
	flags.StringVarP(&cf.tlsConfigCmd, "tls-config", "k", "",
		"custom configuration command=value passed through the TLS layer")
	flags.BoolVarP(&cf.noAbort, "no-abort-on-send-fail", "A", false,
		"do NOT abort if an error occurred during sending")
	flags.BoolVarP(&cf.silent, "silent", "s", false, "do not show the progress indicator")
	flags.BoolVarP(&cf.verbose, "verbose", "v", false, "verbose output")
}

func parsePorts(arg string, numPorts int) ([]int, error) {
	parts := strings.Split(arg, ":")
	if len(parts) > maxTargetPorts {
		return nil, fmt.Errorf("too many ports specified, max %d", maxTargetPorts)
	}
	ports := make([]int, 0, len(parts))
	for _, p := range parts {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q", p)
		}
		ports = append(ports, port)
	}
	if numPorts > len(ports) {
		return nil, fmt.Errorf("-n names %d target ports but -p lists only %d", numPorts, len(ports))
	}
	if numPorts > 0 && numPorts < len(ports) {
		ports = ports[:numPorts]
	}
	return ports, nil
}

// makeConfig validates the parsed flags and freezes them into the flood
// configuration.
//
//nolint:funlen,gocognit // the option surface is wide and this is its one home
func (cf *commandFlags) makeConfig(gs *globalState, flags *pflag.FlagSet) (*flood.Config, error) {
	kind, err := transport.ParseKind(cf.transportName)
	if err != nil {
		return nil, err
	}

	ports, err := parsePorts(cf.ports, cf.numPorts)
	if err != nil {
		return nil, err
	}

	connections := cf.connections
	softLimit := false
	if connections < 0 {
		connections = -connections
		softLimit = true
	}

	if cf.extraData > flood.MaxExtraDataLen {
		return nil, fmt.Errorf("-d max is %d", flood.MaxExtraDataLen)
	}
	if cf.frameDelim < 0 || cf.frameDelim > 255 {
		return nil, fmt.Errorf("invalid frame delimiter %d", cf.frameDelim)
	}

	messages := cf.messages
	if cf.inputFile != "" && !flags.Changed("messages") {
		// In replay mode the message count is unknown; end of file
		// terminates the run, the count just has to be large enough.
		messages = 1000000
	}

	silent := cf.silent
	if gs.ciMode() {
		silent = true
	}
	if cf.multithreaded {
		silent = true
	}

	if cf.statsRecords && cf.waitTime != 0 {
		gs.logger.Warn("generating performance stats and using a waittime is somewhat contradictory!")
	}
	if flags.Changed("conn-drop-level") {
		fmt.Fprintf(gs.stdOut, "RandConnDrop Level: '%f' \n", cf.dropLevel)
	}

	usesTLS := kind == transport.TLS || kind == transport.DTLS || kind == transport.RELPTLS
	if (cf.keyFile != "" || cf.certFile != "") && !usesTLS {
		return nil, fmt.Errorf(
			"TLS certificates were specified, but TLS is NOT enabled: to enable TLS use parameter -T tls")
	}
	if (kind == transport.TLS || kind == transport.DTLS) &&
		(cf.keyFile == "" || cf.certFile == "") {
		return nil, fmt.Errorf("transport %s requires both -z and -Z", kind)
	}

	connections, err = applyDescriptorBudget(gs, connections, softLimit)
	if err != nil {
		return nil, err
	}

	openThreads := cf.openThreads
	if openThreads < 1 {
		openThreads = 1
	}

	cfg := &flood.Config{
		TargetIP:    cf.target,
		Ports:       ports,
		Connections: connections,

		NumMsgs:  uint64(messages),
		StartNum: cf.startNum,

		PRI:            cf.pri,
		Hostname:       cf.hostname,
		FrameDelim:     byte(cf.frameDelim),
		DynFileIDs:     cf.dynFileIDs,
		ExtraDataLen:   cf.extraData,
		RandomizeExtra: cf.randomizeExtra,
		RFC5424:        cf.rfc5424,
		JSONCookie:     nullIfEmpty(cf.jsonCookie),
		OctetFramed:    cf.octetFramed,
		MsgToSend:      nullIfEmpty(cf.message),

		DataFile:       nullIfEmpty(cf.inputFile),
		BinaryFile:     cf.binaryFile,
		FileIterations: cf.iterations,

		Transport: kind,
		TLSFiles: tlsconf.Files{
			CAFile:   cf.caFile,
			CertFile: cf.certFile,
			KeyFile:  cf.keyFile,
		},
		TLSConfigCmd:  cf.tlsConfigCmd,
		TLSLogLevel:   cf.tlsLogLevel,
		RelpAuthMode:  nullIfEmpty(cf.relpAuthMode),
		RelpPermitted: nullIfEmpty(cf.relpPermitted),
		RelpTLSLib:    nullIfEmpty(cf.relpTLSLib),

		RandConnDrop:  cf.connDrop,
		ConnDropLevel: cf.dropLevel,

		BatchSize: cf.batchSize,
		WaitTime:  cf.waitTime,

		NumRuns:          cf.runs,
		SleepBetweenRuns: cf.sleepBetween,
		StatsRecords:     cf.statsRecords,
		CSVOutput:        cf.csvOutput,

		Multithreaded:   cf.multithreaded,
		NumOpenThreads:  openThreads,
		AbortOnSendFail: !cf.noAbort,

		Silent:       silent,
		ShowProgress: gs.stdOut.IsTTY && !silent,
		Verbose:      cf.verbose,

		FS:     gs.fs,
		Logger: gs.logger,
		Out:    gs.stdOut,
	}
	return cfg, nil
}

func nullIfEmpty(s string) null.String {
	if s == "" {
		return null.String{}
	}
	return null.StringFrom(s)
}

// applyDescriptorBudget checks the requested connection count against the
// process's open-descriptor limit and raises the soft limit when many
// connections are requested. In soft-limit mode an unsatisfiable request is
// silently reduced instead of failing.
func applyDescriptorBudget(gs *globalState, connections int, softLimit bool) (int, error) {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return 0, fmt.Errorf("failed to get RLIMIT_NOFILE: %w", err)
	}
	osMaxFDs := int(lim.Cur)

	if connections >= osMaxFDs-20 {
		gs.logger.Warnf("We are asked to use %d connections, but the OS permits only %d "+
			"open file descriptors.", connections, osMaxFDs)
		if !softLimit {
			return 0, fmt.Errorf("connection count is a hard requirement, so we error-terminate")
		}
		connections = osMaxFDs - 20
		gs.logger.Warnf("We reduced the actual number of connections to %d. "+
			"This leaves some room for opening files.", connections)
	}

	if connections > 20 {
		want := unix.Rlimit{Cur: uint64(connections + 20), Max: uint64(connections + 20)}
		if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &want); err != nil {
			gs.logger.WithError(err).Error(
				"could not set sufficiently large number of open files for required connection count")
			if !softLimit {
				return 0, err
			}
		}
	}
	return connections, nil
}
