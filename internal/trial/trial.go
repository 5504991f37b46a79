// Package trial sequences one experiment: capture, throttled receiver,
// paced sender, then trace analysis, producing exactly one metrics record
// whatever happens along the way.
package trial

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"flowsweep/internal/capture"
	"flowsweep/internal/execx"
	"flowsweep/internal/model"
	"flowsweep/internal/receiver"
	"flowsweep/internal/sender"
)

// defaultDrainDelay lets in-flight data and teardown control packets reach
// the capture before the endpoints close.
const defaultDrainDelay = 200 * time.Millisecond

// Runner executes trials one at a time. It owns the trial port and the
// per-trial trace file exclusively while a trial is running.
type Runner struct {
	Port       int
	Capture    bool
	Controller *capture.Controller
	Analyzer   *capture.Analyzer
	TraceDir   string // defaults to the system temp dir
	DrainDelay time.Duration
}

// New builds a runner. A nil exec runner means the host tools are used.
func New(port int, enableCapture bool, r execx.Runner) *Runner {
	return &Runner{
		Port:       port,
		Capture:    enableCapture,
		Controller: capture.NewController(r),
		Analyzer:   capture.NewAnalyzer(r),
		DrainDelay: defaultDrainDelay,
	}
}

// Run executes one trial and always returns a record: on failure the record
// carries Success=false and the error detail, with the configuration echoed
// so failed points remain analyzable.
func (r *Runner) Run(ctx context.Context, cfg model.TrialConfig) model.TrialMetrics {
	m := model.NewTrialMetrics(cfg)

	if err := cfg.Validate(); err != nil {
		return failed(m, err)
	}

	// PREPARING: allocate the trace file path. It is removed on every exit
	// path so temporary artifacts never accumulate across trials.
	var trace string
	if r.Capture {
		f, err := os.CreateTemp(r.TraceDir, "flowsweep-*.pcap")
		if err != nil {
			return failed(m, fmt.Errorf("trace file: %w", err))
		}
		trace = f.Name()
		_ = f.Close()
		defer func() {
			_ = os.Remove(trace)
		}()
	}

	// CAPTURING: capture is best-effort instrumentation. If it cannot
	// start, the trial proceeds with degraded metrics.
	var pcap *capture.Capture
	if r.Capture {
		var err error
		pcap, err = r.Controller.Start(r.Port, trace)
		if err != nil {
			log.Printf("capture unavailable, proceeding without: %v", err)
		}
	}

	recv, err := receiver.Start(cfg, r.Port)
	if err != nil {
		pcap.Stop()
		return failed(m, err)
	}

	// TRANSFERRING: the sender runs synchronously; the receiver is the
	// only concurrent task, alive for the duration of this call.
	start := time.Now()
	res, senderErr := sender.Run(ctx, cfg, fmt.Sprintf("127.0.0.1:%d", r.Port))
	actual := time.Since(start)

	// Teardown order matters: endpoints close before the capture stops so
	// trailing control packets are still on the trace.
	time.Sleep(r.DrainDelay)
	recv.Stop()
	pcap.Stop()

	if senderErr != nil {
		return failed(m, senderErr)
	}

	m.DurationActualSec = actual.Seconds()
	m.BytesTransferred = res.BytesSent
	if actual > 0 {
		m.ThroughputKBps = float64(res.BytesSent) / actual.Seconds() / 1024
	}
	m.BlockCount = res.BlockCount
	m.BlockedTimeMs = float64(res.BlockedTime) / float64(time.Millisecond)
	if res.WriteLatencies.TotalCount() > 0 {
		m.WriteP50Ms = float64(res.WriteLatencies.ValueAtQuantile(50)) / 1000
		m.WriteP99Ms = float64(res.WriteLatencies.ValueAtQuantile(99)) / 1000
	}
	if res.Err != nil {
		// Mid-transfer disconnects are an expected pathology outcome; the
		// partial transfer above is the measurement.
		log.Printf("transfer ended early: %v", res.Err)
	}

	// ANALYZING: only if a capture actually ran.
	if pcap != nil {
		sig := r.Analyzer.Analyze(trace)
		m.ZeroWindowCount = sig.ZeroWindowCount
		m.ZeroWindowDurationMs = sig.ZeroWindowDurationMs
		m.WindowMin = sig.WindowMin
		m.WindowMax = sig.WindowMax
		m.WindowMean = sig.WindowMean
		m.WindowOscillations = sig.WindowOscillations
		m.TotalPackets = sig.TotalPackets
		m.RetransmitCount = sig.RetransmitCount
		m.DupAckCount = sig.DupAckCount
		if !sig.Available {
			log.Printf("trace analysis unavailable, flow-control fields zeroed")
		}
	}

	m.Success = true
	return m
}

func failed(m model.TrialMetrics, err error) model.TrialMetrics {
	m.Success = false
	m.Error = err.Error()
	return m
}
