// Package cmd implements the command line interface of tcpflood.
package cmd

import (
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/mstoykov/envconfig"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// envOverrides are the environment variables processed by envconfig in
// addition to the command line. CI=true implies silent operation. NO_COLOR
// is checked separately in newGlobalState and follows https://no-color.org/
// (any value, even empty, disables colors).
type envOverrides struct {
	CI string `envconfig:"CI"`
}

// globalState groups the process-external state: environment, standard
// output and error, the filesystem, and the logger. Everything else
// receives these explicitly, which keeps the flood engine testable against
// simulated environments.
type globalState struct {
	fs      afero.Fs
	env     envOverrides
	noColor bool

	outMutex       *sync.Mutex
	stdOut, stdErr *consoleWriter

	logger *logrus.Logger
}

func newGlobalState() *globalState {
	isDumbTerm := os.Getenv("TERM") == "dumb"
	stdoutTTY := !isDumbTerm && (isatty.IsTerminal(os.Stdout.Fd()) ||
		isatty.IsCygwinTerminal(os.Stdout.Fd()))
	stderrTTY := !isDumbTerm && (isatty.IsTerminal(os.Stderr.Fd()) ||
		isatty.IsCygwinTerminal(os.Stderr.Fd()))
	outMutex := &sync.Mutex{}

	_, noColorSet := os.LookupEnv("NO_COLOR")

	gs := &globalState{
		fs:       afero.NewOsFs(),
		noColor:  noColorSet,
		outMutex: outMutex,
		stdOut:   &consoleWriter{colorable.NewColorable(os.Stdout), stdoutTTY, outMutex},
		stdErr:   &consoleWriter{colorable.NewColorable(os.Stderr), stderrTTY, outMutex},
	}

	if err := envconfig.Process("", &gs.env); err != nil {
		// Not fatal; the overrides simply stay at their defaults.
		gs.env = envOverrides{}
	}

	gs.logger = &logrus.Logger{
		Out: gs.stdErr,
		Formatter: &logrus.TextFormatter{
			ForceColors:   stderrTTY,
			DisableColors: !stderrTTY || noColorSet,
		},
		Hooks: make(logrus.LevelHooks),
		Level: logrus.InfoLevel,
	}
	return gs
}

func (gs *globalState) ciMode() bool { return gs.env.CI == "true" }

// rootCommand holds everything needed for the single tcpflood command.
type rootCommand struct {
	gs    *globalState
	flags *commandFlags
	cmd   *cobra.Command
}

func newRootCommand(gs *globalState) *rootCommand {
	c := &rootCommand{
		gs:    gs,
		flags: newCommandFlags(),
	}
	rootCmd := &cobra.Command{
		Use:   "tcpflood",
		Short: "a multi-transport stress generator for syslog receivers",
		Long: "tcpflood opens a fleet of client connections over UDP, TCP, TLS, DTLS " +
			"or RELP,\nfloods the target with generated or replayed syslog traffic, and " +
			"measures\nwall-clock throughput across repeated runs.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          c.runE,
	}
	// -h is the message hostname option, so the default help shorthand must
	// not be registered; help stays reachable as --help.
	rootCmd.Flags().Bool("help", false, "help for tcpflood")
	c.flags.register(rootCmd.Flags())
	rootCmd.SetArgs(os.Args[1:])
	rootCmd.SetOut(gs.stdOut)
	rootCmd.SetErr(gs.stdErr)

	c.cmd = rootCmd
	return c
}

func (c *rootCommand) runE(cmd *cobra.Command, _ []string) error {
	if help, _ := cmd.Flags().GetBool("help"); help {
		return cmd.Help()
	}
	if c.flags.verbose {
		c.gs.logger.SetLevel(logrus.DebugLevel)
	}

	cfg, err := c.flags.makeConfig(c.gs, cmd.Flags())
	if err != nil {
		return err
	}
	if c.flags.verbose {
		c.gs.printBanner("tcpflood: " + strings.Join(os.Args[1:], " "))
	}
	return runFlood(c.gs, cfg)
}

// Execute runs the root command. It is called once from main; any error
// terminates the process with exit code 1.
func Execute() {
	gs := newGlobalState()
	rootCmd := newRootCommand(gs)

	if err := rootCmd.cmd.Execute(); err != nil {
		gs.logger.Error(err.Error())
		os.Exit(1)
	}
}
