package results

import "flowsweep/internal/model"

// Summary is a run-level view over a set of trial records, used by the
// stats subcommand and the end-of-sweep report.
type Summary struct {
	Trials     int
	Successes  int
	Failures   int
	ZeroWindow int // successful trials that exhibited zero-window events

	AvgThroughputKBps float64
	MaxZeroWindows    int
	TotalRetransmits  int
	TotalDupAcks      int
}

// Summarize computes run-level statistics. Failed trials count toward
// Failures only; their zeroed measurements do not dilute the averages.
func Summarize(items []model.TrialMetrics) Summary {
	var s Summary
	s.Trials = len(items)

	var throughputSum float64
	for _, m := range items {
		if !m.Success {
			s.Failures++
			continue
		}
		s.Successes++
		throughputSum += m.ThroughputKBps
		if m.ZeroWindowCount > 0 {
			s.ZeroWindow++
		}
		if m.ZeroWindowCount > s.MaxZeroWindows {
			s.MaxZeroWindows = m.ZeroWindowCount
		}
		s.TotalRetransmits += m.RetransmitCount
		s.TotalDupAcks += m.DupAckCount
	}

	if s.Successes > 0 {
		s.AvgThroughputKBps = throughputSum / float64(s.Successes)
	}
	return s
}
