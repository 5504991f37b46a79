package results

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"flowsweep/internal/model"
)

func sampleMetrics(i int) model.TrialMetrics {
	cfg := model.TrialConfig{
		RecvBuf:      8192 * (i + 1),
		ReadDelay:    25 * time.Millisecond,
		ReadSize:     4096,
		SendRateMBps: 0.5,
		Duration:     5 * time.Second,
	}
	m := model.NewTrialMetrics(cfg)
	m.Timestamp = time.Unix(int64(1000+i), 0).UTC()
	m.DurationActualSec = 5.01
	m.BytesTransferred = int64(100000 * (i + 1))
	m.ThroughputKBps = 480.5
	m.ZeroWindowCount = i
	m.Success = true
	return m
}

func TestAppendAndReadBack(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "results.csv")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	want := []model.TrialMetrics{sampleMetrics(0), sampleMetrics(1), sampleMetrics(2)}
	for _, m := range want {
		if err := s.Append(m); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].RecvBuf != want[i].RecvBuf {
			t.Errorf("record %d: RecvBuf=%d, want %d", i, got[i].RecvBuf, want[i].RecvBuf)
		}
		if got[i].BytesTransferred != want[i].BytesTransferred {
			t.Errorf("record %d: BytesTransferred=%d, want %d", i, got[i].BytesTransferred, want[i].BytesTransferred)
		}
		if got[i].ZeroWindowCount != want[i].ZeroWindowCount {
			t.Errorf("record %d: ZeroWindowCount=%d, want %d", i, got[i].ZeroWindowCount, want[i].ZeroWindowCount)
		}
		if !got[i].Success {
			t.Errorf("record %d: Success=false", i)
		}
	}
}

func TestHeaderWrittenOnceAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "results.csv")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open #1: %v", err)
	}
	if err := s.Append(sampleMetrics(0)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	_ = s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("Open #2: %v", err)
	}
	if err := s.Append(sampleMetrics(1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	_ = s.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines=%d, want header + 2 rows:\n%s", len(lines), data)
	}
	if !strings.HasPrefix(lines[0], "timestamp,") {
		t.Fatalf("missing header: %q", lines[0])
	}
	if strings.HasPrefix(lines[1], "timestamp,") || strings.HasPrefix(lines[2], "timestamp,") {
		t.Fatal("duplicated header row")
	}
}

func TestRowSurvivesInfiniteCapacity(t *testing.T) {
	t.Parallel()

	cfg := model.TrialConfig{RecvBuf: 65536, ReadSize: 8192, SendRateMBps: 0.5, Duration: 5 * time.Second}
	m := model.NewTrialMetrics(cfg)
	m.Success = true

	path := filepath.Join(t.TempDir(), "results.csv")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Append(m); err != nil {
		t.Fatalf("Append: %v", err)
	}
	_ = s.Close()

	got, err := ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("records=%d", len(got))
	}
	if !math.IsInf(got[0].ReceiverCapacityKBps, 1) {
		t.Fatalf("ReceiverCapacityKBps=%v, want +Inf", got[0].ReceiverCapacityKBps)
	}
}

func TestErrorDetailRoundTrips(t *testing.T) {
	t.Parallel()

	m := sampleMetrics(0)
	m.Success = false
	m.Error = `connect 127.0.0.1:9999: connection refused, details "quoted"`

	path := filepath.Join(t.TempDir(), "results.csv")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Append(m); err != nil {
		t.Fatalf("Append: %v", err)
	}
	_ = s.Close()

	got, err := ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if got[0].Success || got[0].Error != m.Error {
		t.Fatalf("got success=%v error=%q", got[0].Success, got[0].Error)
	}
}
