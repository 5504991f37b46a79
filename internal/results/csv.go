// Package results persists trial records: an append-only CSV store with a
// fixed column order, flushed after every row so a crash mid-sweep loses at
// most the in-flight trial.
package results

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"flowsweep/internal/model"
)

var header = []string{
	"timestamp",
	"recv_buf",
	"delay_ms",
	"read_size",
	"send_rate_mbps",
	"receiver_capacity_kbps",
	"oversubscription_ratio",
	"duration_actual_sec",
	"bytes_transferred",
	"throughput_kbps",
	"zero_window_count",
	"zero_window_duration_ms",
	"window_min",
	"window_max",
	"window_mean",
	"window_oscillations",
	"total_packets",
	"retransmit_count",
	"dup_ack_count",
	"block_count",
	"blocked_time_ms",
	"write_p50_ms",
	"write_p99_ms",
	"success",
	"error",
}

// Store is an open results file. One Store serves a whole sweep; records
// are appended in trial order and never edited.
type Store struct {
	f *os.File
	w *csv.Writer
}

// Open opens (or creates) the results file for appending. The header row is
// written only when the file is empty, so a resumed path never duplicates it.
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	s := &Store{f: f, w: csv.NewWriter(f)}
	if fi.Size() == 0 {
		if err := s.w.Write(header); err != nil {
			_ = f.Close()
			return nil, err
		}
		s.w.Flush()
		if err := s.w.Error(); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return s, nil
}

// Append writes one record and flushes it to disk before returning.
func (s *Store) Append(m model.TrialMetrics) error {
	if err := s.w.Write(row(m)); err != nil {
		return err
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return err
	}
	return s.f.Sync()
}

func (s *Store) Close() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		_ = s.f.Close()
		return err
	}
	return s.f.Close()
}

func row(m model.TrialMetrics) []string {
	return []string{
		m.Timestamp.UTC().Format(time.RFC3339Nano),
		strconv.Itoa(m.RecvBuf),
		formatFloat(m.DelayMs),
		strconv.Itoa(m.ReadSize),
		formatFloat(m.SendRateMBps),
		formatFloat(m.ReceiverCapacityKBps),
		formatFloat(m.OversubscriptionRatio),
		formatFloat(m.DurationActualSec),
		strconv.FormatInt(m.BytesTransferred, 10),
		formatFloat(m.ThroughputKBps),
		strconv.Itoa(m.ZeroWindowCount),
		formatFloat(m.ZeroWindowDurationMs),
		strconv.Itoa(m.WindowMin),
		strconv.Itoa(m.WindowMax),
		formatFloat(m.WindowMean),
		strconv.Itoa(m.WindowOscillations),
		strconv.Itoa(m.TotalPackets),
		strconv.Itoa(m.RetransmitCount),
		strconv.Itoa(m.DupAckCount),
		strconv.Itoa(m.BlockCount),
		formatFloat(m.BlockedTimeMs),
		formatFloat(m.WriteP50Ms),
		formatFloat(m.WriteP99Ms),
		strconv.FormatBool(m.Success),
		m.Error,
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ReadCSV loads trial records back from a results file.
func ReadCSV(path string) ([]model.TrialMetrics, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readCSV(f)
}

func readCSV(r io.Reader) ([]model.TrialMetrics, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	start := 0
	if records[0][0] == "timestamp" {
		start = 1
	}

	items := make([]model.TrialMetrics, 0, len(records)-start)
	for i := start; i < len(records); i++ {
		rec := records[i]
		if len(rec) != len(header) {
			return nil, fmt.Errorf("line %d: %d columns, want %d", i+1, len(rec), len(header))
		}
		ts, err := time.Parse(time.RFC3339Nano, rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: timestamp: %w", i+1, err)
		}
		success, err := strconv.ParseBool(rec[23])
		if err != nil {
			return nil, fmt.Errorf("line %d: success: %w", i+1, err)
		}

		m := model.TrialMetrics{
			Timestamp: ts,
			Success:   success,
			Error:     rec[24],
		}
		m.RecvBuf = atoi(rec[1])
		m.DelayMs = atof(rec[2])
		m.ReadSize = atoi(rec[3])
		m.SendRateMBps = atof(rec[4])
		m.ReceiverCapacityKBps = atof(rec[5])
		m.OversubscriptionRatio = atof(rec[6])
		m.DurationActualSec = atof(rec[7])
		m.BytesTransferred, _ = strconv.ParseInt(rec[8], 10, 64)
		m.ThroughputKBps = atof(rec[9])
		m.ZeroWindowCount = atoi(rec[10])
		m.ZeroWindowDurationMs = atof(rec[11])
		m.WindowMin = atoi(rec[12])
		m.WindowMax = atoi(rec[13])
		m.WindowMean = atof(rec[14])
		m.WindowOscillations = atoi(rec[15])
		m.TotalPackets = atoi(rec[16])
		m.RetransmitCount = atoi(rec[17])
		m.DupAckCount = atoi(rec[18])
		m.BlockCount = atoi(rec[19])
		m.BlockedTimeMs = atof(rec[20])
		m.WriteP50Ms = atof(rec[21])
		m.WriteP99Ms = atof(rec[22])
		items = append(items, m)
	}
	return items, nil
}

func atoi(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}

func atof(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
