package cmd

import (
	"fmt"

	"github.com/Cropi/tcpflood/internal/flood"
)

// runFlood drives one complete invocation: open the fleet, execute the
// configured runs, and tear everything down. Closing all connections at
// the end matters: finishing too early can cut the receiver off while it
// is still draining its input queues.
func runFlood(gs *globalState, cfg *flood.Config) error {
	fleet, err := flood.NewFleet(cfg)
	if err != nil {
		return err
	}
	if err := fleet.OpenAll(); err != nil {
		return fmt.Errorf("error opening connections: %w", err)
	}

	gen, err := flood.NewGenerator(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := gen.Close(); err != nil {
			gs.logger.WithError(err).Warn("error closing data file")
		}
	}()

	ctl := flood.NewController(cfg, fleet, gen)
	if err := ctl.RunTests(); err != nil {
		return fmt.Errorf("error running tests: %w", err)
	}

	fleet.CloseAll()
	fleet.Destroy()

	if ctl.Drops() > 0 && !cfg.Silent {
		fmt.Fprintf(gs.stdOut, "-D option initiated %d connection closures\n", ctl.Drops())
	}
	if !cfg.Silent {
		fmt.Fprintf(gs.stdOut, "End of tcpflood Run\n")
	}
	return nil
}
