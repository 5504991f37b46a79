package capture

import (
	"math"
	"os"
	"strconv"
	"strings"

	"flowsweep/internal/execx"
)

const (
	// oscillationFrac: a window change counts as an oscillation when it
	// exceeds this fraction of the observed maximum. A coarse instability
	// signal, not an RFC-defined metric; kept at the original study's
	// value for result comparability.
	oscillationFrac = 0.2

	// zeroWindowEventEstimateMs is the assumed duration of one zero-window
	// event. The estimate is count*this, an acknowledged approximation
	// rather than a timeline reconstruction.
	zeroWindowEventEstimateMs = 10.0
)

// Signals are the flow-control metrics extracted from one trace file.
// Available distinguishes "the analysis ran" from "the tool or trace was
// unusable"; in the latter case every count is zero.
type Signals struct {
	ZeroWindowCount      int
	ZeroWindowDurationMs float64
	WindowMin            int
	WindowMax            int
	WindowMean           float64
	WindowOscillations   int
	TotalPackets         int
	RetransmitCount      int
	DupAckCount          int
	Available            bool
}

// Analyzer extracts Signals from a pcap file using the host tshark.
type Analyzer struct {
	Runner execx.Runner
}

func NewAnalyzer(r execx.Runner) *Analyzer {
	if r == nil {
		r = execx.NewOSRunner()
	}
	return &Analyzer{Runner: r}
}

// Analyze runs the per-metric queries over the trace. Each extraction is
// independent and degrades to zero on failure; a single working query is
// enough to mark the result available.
func (a *Analyzer) Analyze(path string) Signals {
	var s Signals

	if fi, err := os.Stat(path); err != nil || fi.Size() == 0 {
		return s
	}

	if n, ok := a.countMatching(path, "tcp.analysis.zero_window"); ok {
		s.ZeroWindowCount = n
		s.ZeroWindowDurationMs = float64(n) * zeroWindowEventEstimateMs
		s.Available = true
	}

	if windows, ok := a.windowSeries(path); ok && len(windows) > 0 {
		s.Available = true
		s.TotalPackets = len(windows)
		s.WindowMin = windows[0]
		s.WindowMax = windows[0]
		sum := 0
		for _, w := range windows {
			if w < s.WindowMin {
				s.WindowMin = w
			}
			if w > s.WindowMax {
				s.WindowMax = w
			}
			sum += w
		}
		s.WindowMean = float64(sum) / float64(len(windows))

		threshold := float64(s.WindowMax) * oscillationFrac
		for i := 1; i < len(windows); i++ {
			if math.Abs(float64(windows[i]-windows[i-1])) > threshold {
				s.WindowOscillations++
			}
		}
	}

	if n, ok := a.countMatching(path, "tcp.analysis.retransmission"); ok {
		s.RetransmitCount = n
		s.Available = true
	}
	if n, ok := a.countMatching(path, "tcp.analysis.duplicate_ack"); ok {
		s.DupAckCount = n
		s.Available = true
	}

	return s
}

// countMatching counts packets matching a display filter. The second
// return is false when the query tool itself was unusable, as opposed to
// zero packets observed.
func (a *Analyzer) countMatching(path, filter string) (int, bool) {
	out, err := a.Runner.Output("tshark",
		"-r", path, "-Y", filter, "-T", "fields", "-e", "frame.number")
	if err != nil {
		return 0, false
	}
	return len(nonEmptyLines(out)), true
}

// windowSeries returns the advertised window size of every TCP packet in
// the trace, in capture order.
func (a *Analyzer) windowSeries(path string) ([]int, bool) {
	out, err := a.Runner.Output("tshark",
		"-r", path, "-Y", "tcp", "-T", "fields", "-e", "tcp.window_size")
	if err != nil {
		return nil, false
	}

	lines := nonEmptyLines(out)
	windows := make([]int, 0, len(lines))
	for _, line := range lines {
		if w, err := strconv.Atoi(line); err == nil {
			windows = append(windows, w)
		}
	}
	return windows, true
}

func nonEmptyLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
