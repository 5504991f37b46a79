package model

import (
	"fmt"
	"math"
	"time"
)

// TrialConfig describes one point in the sweep's parameter space. It is
// built once by the generator and never mutated.
type TrialConfig struct {
	RecvBuf      int           // SO_RCVBUF requested for the receiver, bytes
	ReadDelay    time.Duration // pause between receiver reads; 0 means unthrottled
	ReadSize     int           // bytes consumed per receiver read
	SendRateMBps float64       // offered sender rate, MB/s (1 MB = 1024*1024 bytes)
	Duration     time.Duration // how long the sender transmits
}

// SendRateBps returns the target send rate in bytes per second.
func (c TrialConfig) SendRateBps() float64 {
	return c.SendRateMBps * 1024 * 1024
}

// ReceiverCapacityBps returns the receiver's theoretical maximum consumption
// rate in bytes per second. A zero read delay means the receiver is
// unthrottled and the capacity is unbounded (+Inf), not a division error.
func (c TrialConfig) ReceiverCapacityBps() float64 {
	if c.ReadDelay <= 0 {
		return math.Inf(1)
	}
	return float64(c.ReadSize) / c.ReadDelay.Seconds()
}

// OversubscriptionRatio is offered send rate over receiver capacity.
// Values above 1 mean the sender can outpace the receiver.
func (c TrialConfig) OversubscriptionRatio() float64 {
	capacity := c.ReceiverCapacityBps()
	if capacity == 0 {
		return math.Inf(1)
	}
	return c.SendRateBps() / capacity
}

// Validate checks the invariants the rest of the pipeline relies on.
func (c TrialConfig) Validate() error {
	if c.RecvBuf < 0 {
		return fmt.Errorf("recv_buf must be >= 0, got %d", c.RecvBuf)
	}
	if c.ReadDelay < 0 {
		return fmt.Errorf("read delay must be >= 0, got %v", c.ReadDelay)
	}
	if c.ReadSize < 0 {
		return fmt.Errorf("read_size must be >= 0, got %d", c.ReadSize)
	}
	if c.SendRateMBps < 0 {
		return fmt.Errorf("send rate must be >= 0, got %v", c.SendRateMBps)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("duration must be > 0, got %v", c.Duration)
	}
	return nil
}

// TrialMetrics is the flat per-trial record appended to the results store.
// It echoes the originating configuration so each row is self-describing
// without a join against anything else.
type TrialMetrics struct {
	Timestamp time.Time

	// Configuration echo
	RecvBuf      int
	DelayMs      float64
	ReadSize     int
	SendRateMBps float64

	// Derived configuration
	ReceiverCapacityKBps  float64
	OversubscriptionRatio float64

	// Transfer measurements
	DurationActualSec float64
	BytesTransferred  int64
	ThroughputKBps    float64

	// Flow-control signals from capture analysis
	ZeroWindowCount      int
	ZeroWindowDurationMs float64 // heuristic estimate, see capture package
	WindowMin            int
	WindowMax            int
	WindowMean           float64
	WindowOscillations   int
	TotalPackets         int
	RetransmitCount      int
	DupAckCount          int

	// Sender-side backpressure
	BlockCount    int
	BlockedTimeMs float64
	WriteP50Ms    float64
	WriteP99Ms    float64

	Success bool
	Error   string
}

// NewTrialMetrics creates a record for one trial with the configuration and
// its derived quantities echoed in. Measured fields are filled by the trial
// runner as stages complete.
func NewTrialMetrics(cfg TrialConfig) TrialMetrics {
	return TrialMetrics{
		Timestamp:             time.Now().UTC(),
		RecvBuf:               cfg.RecvBuf,
		DelayMs:               float64(cfg.ReadDelay) / float64(time.Millisecond),
		ReadSize:              cfg.ReadSize,
		SendRateMBps:          cfg.SendRateMBps,
		ReceiverCapacityKBps:  cfg.ReceiverCapacityBps() / 1024,
		OversubscriptionRatio: cfg.OversubscriptionRatio(),
	}
}
