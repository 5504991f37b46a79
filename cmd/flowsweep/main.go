package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"flowsweep/internal/config"
	"flowsweep/internal/model"
	"flowsweep/internal/results"
	"flowsweep/internal/sweep"
	"flowsweep/internal/trial"
)

const usage = `flowsweep - TCP flow-control parameter sweep harness

Usage:
  flowsweep run [--quick] [--config <path>] [--output <path>] [--no-capture]
                [--recv-bufs 4096,8192] [--delays 10,50] [--read-sizes 2048,4096]
                [--rates 0.5,1.0] [--duration <sec>] [--port <port>]
  flowsweep trial --buf <bytes> --delay <ms> --read <bytes> --rate <MB/s>
                  [--duration <sec>] [--port <port>] [--no-capture]
  flowsweep stats --input <results.csv>

run executes the full parameter sweep and appends one CSV row per trial.
Exit status is non-zero if any trial failed.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "-h", "--help", "help":
		fmt.Print(usage)
	case "run":
		os.Exit(cmdRun(os.Args[2:]))
	case "trial":
		os.Exit(cmdTrial(os.Args[2:]))
	case "stats":
		os.Exit(cmdStats(os.Args[2:]))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
}

func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	quick := fs.Bool("quick", false, "use the reduced quick preset")
	configPath := fs.String("config", "", "YAML sweep config (overrides presets)")
	output := fs.String("output", "", "results CSV path")
	noCapture := fs.Bool("no-capture", false, "skip packet capture (faster, fewer metrics)")
	recvBufs := fs.String("recv-bufs", "", "comma-separated receive buffer sizes, bytes")
	delays := fs.String("delays", "", "comma-separated read delays, ms")
	readSizes := fs.String("read-sizes", "", "comma-separated read chunk sizes, bytes")
	rates := fs.String("rates", "", "comma-separated send rates, MB/s")
	duration := fs.Float64("duration", 0, "per-trial duration, seconds")
	port := fs.Int("port", 0, "trial TCP port")
	_ = fs.Parse(args)

	var cfg config.Sweep
	var err error
	switch {
	case *configPath != "":
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Printf("load config: %v", err)
			return 2
		}
	case *quick:
		cfg = config.Quick()
	default:
		cfg = config.Default()
	}

	if *recvBufs != "" {
		if cfg.RecvBufs, err = parseInts(*recvBufs); err != nil {
			log.Printf("--recv-bufs: %v", err)
			return 2
		}
	}
	if *delays != "" {
		if cfg.DelaysMs, err = parseFloats(*delays); err != nil {
			log.Printf("--delays: %v", err)
			return 2
		}
	}
	if *readSizes != "" {
		if cfg.ReadSizes, err = parseInts(*readSizes); err != nil {
			log.Printf("--read-sizes: %v", err)
			return 2
		}
	}
	if *rates != "" {
		if cfg.SendRatesMBps, err = parseFloats(*rates); err != nil {
			log.Printf("--rates: %v", err)
			return 2
		}
	}
	if *duration > 0 {
		cfg.DurationSec = *duration
	}
	if *port > 0 {
		cfg.Port = *port
	}
	if *output != "" {
		cfg.Output = *output
	}
	if *noCapture {
		cfg.NoCapture = true
	}

	if err := config.Validate(cfg); err != nil {
		log.Printf("invalid sweep config: %v", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := results.Open(cfg.Output)
	if err != nil {
		log.Printf("open results store: %v", err)
		return 1
	}
	defer store.Close()

	runner := trial.New(cfg.Port, !cfg.NoCapture, nil)
	summary, err := sweep.Run(ctx, cfg, store, runner)

	log.Printf("sweep complete: %d trials in %v, %d ok, %d failed, %d with zero-window events",
		summary.Trials, summary.Elapsed.Round(time.Second), summary.Successes,
		summary.Failures, summary.ZeroWindow)
	log.Printf("results saved to %s", cfg.Output)

	if err != nil {
		log.Printf("sweep aborted: %v", err)
		return 1
	}
	if summary.Failures > 0 {
		return 1
	}
	return 0
}

func cmdTrial(args []string) int {
	fs := flag.NewFlagSet("trial", flag.ExitOnError)
	buf := fs.Int("buf", 8192, "receive buffer size, bytes")
	delay := fs.Float64("delay", 100, "read delay, ms")
	read := fs.Int("read", 1024, "read chunk size, bytes")
	rate := fs.Float64("rate", 1.0, "send rate, MB/s")
	duration := fs.Float64("duration", config.DefaultDurationSec, "duration, seconds")
	port := fs.Int("port", config.DefaultPort, "trial TCP port")
	noCapture := fs.Bool("no-capture", false, "skip packet capture")
	_ = fs.Parse(args)

	cfg := model.TrialConfig{
		RecvBuf:      *buf,
		ReadDelay:    time.Duration(*delay * float64(time.Millisecond)),
		ReadSize:     *read,
		SendRateMBps: *rate,
		Duration:     time.Duration(*duration * float64(time.Second)),
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("invalid trial config: %v", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := trial.New(*port, !*noCapture, nil)
	m := runner.Run(ctx, cfg)

	log.Printf("capacity=%.1fKB/s oversub=%.1fx", m.ReceiverCapacityKBps, m.OversubscriptionRatio)
	log.Printf("transferred=%d bytes in %.2fs (%.0fKB/s)",
		m.BytesTransferred, m.DurationActualSec, m.ThroughputKBps)
	log.Printf("zero_window=%d (est %.0fms) window=%d..%d mean=%.0f oscillations=%d",
		m.ZeroWindowCount, m.ZeroWindowDurationMs, m.WindowMin, m.WindowMax,
		m.WindowMean, m.WindowOscillations)
	log.Printf("retransmits=%d dup_acks=%d packets=%d", m.RetransmitCount, m.DupAckCount, m.TotalPackets)
	log.Printf("blocks=%d blocked=%.0fms write_p50=%.2fms write_p99=%.2fms",
		m.BlockCount, m.BlockedTimeMs, m.WriteP50Ms, m.WriteP99Ms)

	if !m.Success {
		log.Printf("trial failed: %s", m.Error)
		return 1
	}
	return 0
}

func cmdStats(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	input := fs.String("input", config.DefaultOutput, "results CSV to summarize")
	_ = fs.Parse(args)

	items, err := results.ReadCSV(*input)
	if err != nil {
		log.Printf("read results: %v", err)
		return 1
	}

	s := results.Summarize(items)
	fmt.Printf("trials:            %d\n", s.Trials)
	fmt.Printf("successes:         %d\n", s.Successes)
	fmt.Printf("failures:          %d\n", s.Failures)
	fmt.Printf("with zero-window:  %d\n", s.ZeroWindow)
	fmt.Printf("max zero-windows:  %d\n", s.MaxZeroWindows)
	fmt.Printf("avg throughput:    %.1f KB/s\n", s.AvgThroughputKBps)
	fmt.Printf("total retransmits: %d\n", s.TotalRetransmits)
	fmt.Printf("total dup acks:    %d\n", s.TotalDupAcks)
	return 0
}

func parseInts(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func parseFloats(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
