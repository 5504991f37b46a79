// Package capture bounds a packet-capture process to one trial and turns
// the resulting trace into flow-control signals. Capture is best-effort
// instrumentation: a missing tcpdump or tshark degrades metrics to their
// defaults and never fails a trial.
package capture

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"flowsweep/internal/execx"
)

const (
	// Settle delays so the capture does not miss the first packets of a
	// trial and has flushed the last ones before analysis reads the file.
	defaultStartSettle = 300 * time.Millisecond
	defaultStopSettle  = 200 * time.Millisecond
	defaultStopGrace   = 2 * time.Second
)

// Controller launches and tears down the external capture process.
type Controller struct {
	Runner      execx.Runner
	Interface   string
	StartSettle time.Duration
	StopSettle  time.Duration
	StopGrace   time.Duration
}

// NewController returns a controller capturing loopback traffic with the
// host tcpdump.
func NewController(r execx.Runner) *Controller {
	if r == nil {
		r = execx.NewOSRunner()
	}
	return &Controller{
		Runner:      r,
		Interface:   "lo",
		StartSettle: defaultStartSettle,
		StopSettle:  defaultStopSettle,
		StopGrace:   defaultStopGrace,
	}
}

// Capture is a running packet capture scoped to one trial.
type Capture struct {
	proc execx.Proc
	ctl  *Controller
	File string
}

// Start launches tcpdump filtered to the trial's port, writing to file.
// It waits a short settle delay so the sender's first packets are caught.
func (c *Controller) Start(port int, file string) (*Capture, error) {
	proc, err := c.Runner.Start("tcpdump",
		"-i", c.Interface, "-w", file, "port", strconv.Itoa(port))
	if err != nil {
		return nil, fmt.Errorf("start tcpdump: %w", err)
	}
	time.Sleep(c.StartSettle)
	return &Capture{proc: proc, ctl: c, File: file}, nil
}

// Stop terminates the capture gracefully (SIGTERM, bounded wait, kill
// fallback) and waits for trailing packets to reach the file. Safe to call
// on a nil capture and safe to call twice.
func (p *Capture) Stop() {
	if p == nil || p.proc == nil {
		return
	}
	if err := p.proc.Stop(p.ctl.StopGrace); err != nil {
		log.Printf("capture stop: %v", err)
	}
	time.Sleep(p.ctl.StopSettle)
}
