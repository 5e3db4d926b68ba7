package flood

import (
	"fmt"
	"sync"
	"time"
)

// Controller orchestrates the sender workers: it prepares one instance per
// worker, releases them through a start barrier so network I/O begins only
// once every worker is up, joins them, and repeats the whole cycle for the
// configured number of runs while aggregating timing statistics.
type Controller struct {
	cfg    *Config
	fleet  *Fleet
	gen    *Generator
	sender *Sender

	nConnDrops int64

	numThrds  int
	instances []*Instance

	startCh chan struct{}
	readyWg sync.WaitGroup
	doneWg  sync.WaitGroup

	errMu    sync.Mutex
	firstErr error
}

// NewController wires the run orchestration over an opened fleet.
func NewController(cfg *Config, fleet *Fleet, gen *Generator) *Controller {
	c := &Controller{cfg: cfg, fleet: fleet, gen: gen}
	c.sender = NewSender(cfg, fleet, gen, &c.nConnDrops)
	return c
}

// Drops reports how many connection closures the random-drop option
// initiated across all runs.
func (c *Controller) Drops() int64 { return c.nConnDrops }

// TotalSent sums the sent counters of the most recent run's instances.
func (c *Controller) TotalSent() uint64 {
	var total uint64
	for _, inst := range c.instances {
		total += inst.NumSent
	}
	return total
}

// prepareGenerators partitions the message count evenly across the worker
// pool and starts the workers. Each worker reports ready and then blocks on
// the start barrier; prepareGenerators returns once all workers exist.
func (c *Controller) prepareGenerators() {
	c.numThrds = 1
	if c.cfg.Multithreaded {
		c.numThrds = c.cfg.Connections
	}

	msgsThrd := c.cfg.NumMsgs / uint64(c.numThrds)
	c.instances = make([]*Instance, c.numThrds)
	c.startCh = make(chan struct{})
	c.readyWg.Add(c.numThrds)
	c.doneWg.Add(c.numThrds)

	var lower uint64
	for i := 0; i < c.numThrds; i++ {
		inst := newInstance(lower, msgsThrd, i)
		c.instances[i] = inst
		go c.worker(inst)
		lower += msgsThrd
	}
}

func (c *Controller) worker(inst *Instance) {
	defer c.doneWg.Done()
	c.readyWg.Done()
	<-c.startCh

	if err := c.sender.Run(inst); err != nil {
		c.cfg.Logger.WithError(err).Error("error sending messages")
		c.errMu.Lock()
		if c.firstErr == nil {
			c.firstErr = err
		}
		c.errMu.Unlock()
	}
}

// runGenerators waits until every worker has signaled ready and then
// releases the barrier.
func (c *Controller) runGenerators() {
	c.readyWg.Wait()
	close(c.startCh)
}

// waitGenerators joins all workers of the current run.
func (c *Controller) waitGenerators() {
	c.doneWg.Wait()
}

// RunTests executes the configured number of runs, sleeping between them,
// and reports statistics after the final run. The returned error is the
// first fatal sender error (abort-on-send-fail), surfaced after the run it
// occurred in has fully joined.
func (c *Controller) RunTests() error {
	cfg := c.cfg
	stats := NewRunStats(cfg.NumRuns)

	for run := 1; ; run++ {
		if !cfg.Silent {
			fmt.Fprintf(cfg.Out, "starting run %d\n", run)
		}
		c.prepareGenerators()
		start := time.Now()
		c.runGenerators()
		c.waitGenerators()
		elapsed := time.Since(start)

		stats.Ingest(elapsed)
		if !cfg.Silent || cfg.StatsRecords {
			stats.WriteRuntime(cfg.Out, elapsed, cfg.CSVOutput)
		}
		if err := c.runError(); err != nil {
			return err
		}
		if run == cfg.NumRuns {
			break
		}
		if !cfg.Silent {
			fmt.Fprintf(cfg.Out, "sleeping %d seconds before next run\n", cfg.SleepBetweenRuns)
		}
		time.Sleep(time.Duration(cfg.SleepBetweenRuns) * time.Second)
	}

	if cfg.StatsRecords {
		stats.WriteSummary(cfg.Out, cfg.CSVOutput)
	}
	return nil
}

func (c *Controller) runError() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.firstErr
}
