// Package sweep drives the trial runner across the whole configuration
// space, one trial at a time, appending each record as it completes.
package sweep

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"flowsweep/internal/config"
	"flowsweep/internal/model"
	"flowsweep/internal/trial"
)

// interTrialPause separates consecutive trials so the kernel fully releases
// the previous trial's port and buffers.
const interTrialPause = 500 * time.Millisecond

// Appender receives one record per completed trial. A failed append aborts
// the sweep: results that cannot be recorded are worthless.
type Appender interface {
	Append(model.TrialMetrics) error
}

// Summary reports the outcome of one sweep run.
type Summary struct {
	RunID      string
	Trials     int
	Successes  int
	Failures   int
	ZeroWindow int
	Elapsed    time.Duration
}

// Run executes every configuration in order. Trials are strictly
// serialized: trial N+1 starts only after trial N's record is appended,
// since both would otherwise contend for the port and capture file. One
// failed trial never aborts the sweep; only a store error does.
// Cancellation is honored between trials and inside the running sender.
func Run(ctx context.Context, cfg config.Sweep, store Appender, runner *trial.Runner) (Summary, error) {
	configs := config.Expand(cfg)
	s := Summary{RunID: uuid.NewString()}
	start := time.Now()

	log.Printf("sweep %s: %d configurations, %.0fs each, estimated total %.0fs",
		s.RunID, len(configs), cfg.DurationSec, float64(len(configs))*(cfg.DurationSec+1))
	log.Printf("  recv_bufs=%v delays_ms=%v read_sizes=%v rates_mbps=%v capture=%v",
		cfg.RecvBufs, cfg.DelaysMs, cfg.ReadSizes, cfg.SendRatesMBps, !cfg.NoCapture)

	for i, tc := range configs {
		select {
		case <-ctx.Done():
			s.Elapsed = time.Since(start)
			return s, ctx.Err()
		default:
		}

		log.Printf("[%d/%d] buf=%d delay=%v read=%d rate=%vMB/s (oversub=%.1fx)",
			i+1, len(configs), tc.RecvBuf, tc.ReadDelay, tc.ReadSize,
			tc.SendRateMBps, tc.OversubscriptionRatio())

		m := runner.Run(ctx, tc)
		if err := store.Append(m); err != nil {
			s.Elapsed = time.Since(start)
			return s, fmt.Errorf("append result: %w", err)
		}

		s.Trials++
		if m.Success {
			s.Successes++
			if m.ZeroWindowCount > 0 {
				s.ZeroWindow++
			}
			log.Printf("  -> zero_window=%d throughput=%.0fKB/s oscillations=%d blocks=%d",
				m.ZeroWindowCount, m.ThroughputKBps, m.WindowOscillations, m.BlockCount)
		} else {
			s.Failures++
			log.Printf("  -> FAILED: %s", m.Error)
		}

		if i < len(configs)-1 {
			select {
			case <-ctx.Done():
				s.Elapsed = time.Since(start)
				return s, ctx.Err()
			case <-time.After(interTrialPause):
			}
		}
	}

	s.Elapsed = time.Since(start)
	return s, nil
}
