// Package sender generates load for a trial: paced TCP writes at a target
// byte rate, timing every write to detect receiver-side backpressure.
package sender

import (
	"context"
	"fmt"
	"net"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"

	"flowsweep/internal/model"
)

const (
	// ChunkSize is the fixed write block. Distinct from the receiver's
	// read size on purpose: the sender's granularity is not a sweep axis.
	ChunkSize = 8192

	// blockThreshold classifies a write as blocked by the peer's window.
	blockThreshold = 100 * time.Millisecond

	dialTimeout = 2 * time.Second

	// writeGrace bounds how long past the trial duration a single write
	// may stay blocked before the run is cut off.
	writeGrace = 5 * time.Second
)

// Result is what one sender run measured.
type Result struct {
	BytesSent   int64
	BlockedTime time.Duration
	BlockCount  int
	// WriteLatencies holds per-write call durations in microseconds.
	WriteLatencies *hdrhistogram.Histogram
	// Err records a mid-transfer connection error (reset, broken pipe).
	// Such errors end the run early but are an expected trial outcome,
	// not a failure; partial counts above remain valid.
	Err error
}

// Run connects to addr and writes paced chunks until the configured
// duration elapses or ctx is cancelled. A connection that cannot be
// established at all is returned as an error; everything after a
// successful connect is reported through Result.
func Run(ctx context.Context, cfg model.TrialConfig, addr string) (Result, error) {
	res := Result{WriteLatencies: hdrhistogram.New(1, 60_000_000, 3)}

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return res, fmt.Errorf("connect %s: %w", addr, err)
	}
	defer conn.Close()

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	chunk := make([]byte, ChunkSize)
	for i := range chunk {
		chunk[i] = 'X'
	}

	var interval time.Duration
	if rate := cfg.SendRateBps(); rate > 0 {
		interval = time.Duration(float64(ChunkSize) / rate * float64(time.Second))
	}

	start := time.Now()
	end := start.Add(cfg.Duration)
	_ = conn.SetWriteDeadline(end.Add(writeGrace))
	// A cancelled context must also unblock a write stuck inside the
	// kernel buffer, not just the pacing sleep.
	stopWatch := context.AfterFunc(ctx, func() {
		_ = conn.SetWriteDeadline(time.Now())
	})
	defer stopWatch()
	// The deadline always advances from the previous scheduled deadline,
	// never from "now", so one stalled write does not shift the whole
	// schedule and the loop catches up afterwards.
	next := start

	for time.Now().Before(end) {
		if wait := time.Until(next); wait > 0 {
			select {
			case <-ctx.Done():
				return res, nil
			case <-time.After(wait):
			}
		} else {
			select {
			case <-ctx.Done():
				return res, nil
			default:
			}
		}
		next = next.Add(interval)

		writeStart := time.Now()
		n, err := conn.Write(chunk)
		elapsed := time.Since(writeStart)

		res.BytesSent += int64(n)
		_ = res.WriteLatencies.RecordValue(elapsed.Microseconds())
		if elapsed > blockThreshold {
			res.BlockCount++
			res.BlockedTime += elapsed
		}

		if err != nil {
			// Reset or broken pipe mid-transfer: expected outcome of a
			// pathology trial, reported rather than raised.
			res.Err = err
			return res, nil
		}
	}

	return res, nil
}
