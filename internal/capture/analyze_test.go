package capture

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"flowsweep/internal/execx"
)

// fakeRunner serves canned output keyed on the tshark display filter and
// records Start invocations.
type fakeRunner struct {
	outputs  map[string]string
	failAll  bool
	started  [][]string
	startErr error
	proc     *fakeProc
}

type fakeProc struct {
	stops int
	grace time.Duration
}

func (p *fakeProc) Stop(grace time.Duration) error {
	p.stops++
	p.grace = grace
	return nil
}

func (f *fakeRunner) Output(name string, args ...string) (string, error) {
	if f.failAll {
		return "", errors.New("tool not found")
	}
	for i, a := range args {
		if a == "-Y" && i+1 < len(args) {
			if out, ok := f.outputs[args[i+1]]; ok {
				return out, nil
			}
			return "", errors.New("no canned output")
		}
	}
	return "", errors.New("unexpected invocation")
}

func (f *fakeRunner) Start(name string, args ...string) (execx.Proc, error) {
	f.started = append(f.started, append([]string{name}, args...))
	if f.startErr != nil {
		return nil, f.startErr
	}
	if f.proc == nil {
		f.proc = &fakeProc{}
	}
	return f.proc, nil
}

func traceFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trial.pcap")
	if err := os.WriteFile(path, []byte("not a real pcap"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestAnalyzeExtractsSignals(t *testing.T) {
	t.Parallel()

	fake := &fakeRunner{outputs: map[string]string{
		"tcp.analysis.zero_window":    "1\n2\n3",
		"tcp":                         "65535\n65535\n8192\n0\n65535",
		"tcp.analysis.retransmission": "7\n9",
		"tcp.analysis.duplicate_ack":  "4",
	}}
	a := NewAnalyzer(fake)
	s := a.Analyze(traceFile(t))

	if !s.Available {
		t.Fatal("signals should be available")
	}
	if s.ZeroWindowCount != 3 {
		t.Fatalf("ZeroWindowCount=%d, want 3", s.ZeroWindowCount)
	}
	if s.ZeroWindowDurationMs != 30 {
		t.Fatalf("ZeroWindowDurationMs=%v, want 30", s.ZeroWindowDurationMs)
	}
	if s.WindowMin != 0 || s.WindowMax != 65535 {
		t.Fatalf("window extrema %d..%d", s.WindowMin, s.WindowMax)
	}
	if s.TotalPackets != 5 {
		t.Fatalf("TotalPackets=%d, want 5", s.TotalPackets)
	}
	// Threshold is 20% of 65535 = 13107. Consecutive deltas are 0, 57343,
	// 8192, 65535 -- two exceed the threshold.
	if s.WindowOscillations != 2 {
		t.Fatalf("WindowOscillations=%d, want 2", s.WindowOscillations)
	}
	if s.RetransmitCount != 2 || s.DupAckCount != 1 {
		t.Fatalf("retransmit=%d dupack=%d", s.RetransmitCount, s.DupAckCount)
	}
}

func TestAnalyzeToolUnavailable(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer(&fakeRunner{failAll: true})
	s := a.Analyze(traceFile(t))
	if s.Available {
		t.Fatal("signals must be unavailable when the tool fails")
	}
	if s != (Signals{}) {
		t.Fatalf("expected zero signals, got %+v", s)
	}
}

func TestAnalyzeMissingTrace(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer(&fakeRunner{failAll: true})
	s := a.Analyze(filepath.Join(t.TempDir(), "nope.pcap"))
	if s.Available || s != (Signals{}) {
		t.Fatalf("expected zero signals for missing trace, got %+v", s)
	}
}

func TestAnalyzeEmptyOutputMeansZeroObserved(t *testing.T) {
	t.Parallel()

	fake := &fakeRunner{outputs: map[string]string{
		"tcp.analysis.zero_window":    "",
		"tcp":                         "",
		"tcp.analysis.retransmission": "",
		"tcp.analysis.duplicate_ack":  "",
	}}
	a := NewAnalyzer(fake)
	s := a.Analyze(traceFile(t))
	if !s.Available {
		t.Fatal("empty output is still a successful analysis")
	}
	if s.ZeroWindowCount != 0 || s.TotalPackets != 0 {
		t.Fatalf("expected zero observed, got %+v", s)
	}
}

func TestControllerStartBuildsFilter(t *testing.T) {
	t.Parallel()

	fake := &fakeRunner{}
	c := NewController(fake)
	c.StartSettle = 0
	c.StopSettle = 0

	file := filepath.Join(t.TempDir(), "trial.pcap")
	cp, err := c.Start(9999, file)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if len(fake.started) != 1 {
		t.Fatalf("started %d processes", len(fake.started))
	}
	cmdline := strings.Join(fake.started[0], " ")
	want := fmt.Sprintf("tcpdump -i lo -w %s port 9999", file)
	if cmdline != want {
		t.Fatalf("cmdline %q, want %q", cmdline, want)
	}

	cp.Stop()
	cp.Stop()
	if fake.proc.stops != 2 {
		t.Fatalf("proc stops=%d", fake.proc.stops)
	}
	if fake.proc.grace != c.StopGrace {
		t.Fatalf("grace=%v, want %v", fake.proc.grace, c.StopGrace)
	}
}

func TestControllerStartFailure(t *testing.T) {
	t.Parallel()

	fake := &fakeRunner{startErr: errors.New("tcpdump: not found")}
	c := NewController(fake)
	c.StartSettle = 0
	if _, err := c.Start(9999, "x.pcap"); err == nil {
		t.Fatal("expected start error")
	}

	// Nil captures are safe to stop: trial teardown need not special-case.
	var cp *Capture
	cp.Stop()
}
