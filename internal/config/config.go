package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"flowsweep/internal/model"
)

const (
	DefaultPort        = 9999
	DefaultOutput      = "sweep_results.csv"
	DefaultDurationSec = 10.0
)

// Sweep holds the parameter lists for one sweep run. Trials are generated
// as the full cross-product of the four lists.
type Sweep struct {
	RecvBufs      []int     `yaml:"recv_bufs"`       // SO_RCVBUF sizes, bytes
	DelaysMs      []float64 `yaml:"delays_ms"`       // inter-read delays
	ReadSizes     []int     `yaml:"read_sizes"`      // bytes per read
	SendRatesMBps []float64 `yaml:"send_rates_mbps"` // offered rates
	DurationSec   float64   `yaml:"duration_sec"`    // per-trial transfer time
	Port          int       `yaml:"port"`            // trial-scoped TCP port
	Output        string    `yaml:"output"`          // results CSV path
	NoCapture     bool      `yaml:"no_capture"`      // skip tcpdump/tshark
}

// Default returns the wide sweep: 375 trials at 10s each.
func Default() Sweep {
	cfg := Sweep{
		RecvBufs:      []int{4096, 8192, 16384, 32768, 65536},
		DelaysMs:      []float64{10, 25, 50, 100, 200},
		ReadSizes:     []int{2048, 4096, 8192},
		SendRatesMBps: []float64{0.1, 0.25, 0.5, 1.0, 2.0},
		DurationSec:   10.0,
	}
	ApplyDefaults(&cfg)
	return cfg
}

// Quick returns a reduced sweep (8 trials, 5s each) for fast validation.
func Quick() Sweep {
	cfg := Sweep{
		RecvBufs:      []int{8192, 32768},
		DelaysMs:      []float64{25, 100},
		ReadSizes:     []int{4096},
		SendRatesMBps: []float64{0.25, 1.0},
		DurationSec:   5.0,
	}
	ApplyDefaults(&cfg)
	return cfg
}

// Preset resolves a named preset.
func Preset(name string) (Sweep, error) {
	switch name {
	case "", "default":
		return Default(), nil
	case "quick":
		return Quick(), nil
	}
	return Sweep{}, fmt.Errorf("unknown preset %q (want default or quick)", name)
}

// Load reads and parses a YAML sweep config file.
func Load(path string) (Sweep, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Sweep{}, err
	}

	var cfg Sweep
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Sweep{}, err
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML sweep config file to disk.
func Save(path string, cfg Sweep) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	return os.WriteFile(path, data, 0o644)
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Sweep) {
	if cfg.DurationSec == 0 {
		cfg.DurationSec = DefaultDurationSec
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Output == "" {
		cfg.Output = DefaultOutput
	}
}

// Validate performs minimal validation for required fields.
func Validate(cfg Sweep) error {
	if len(cfg.RecvBufs) == 0 {
		return fmt.Errorf("recv_bufs must not be empty")
	}
	if len(cfg.DelaysMs) == 0 {
		return fmt.Errorf("delays_ms must not be empty")
	}
	if len(cfg.ReadSizes) == 0 {
		return fmt.Errorf("read_sizes must not be empty")
	}
	if len(cfg.SendRatesMBps) == 0 {
		return fmt.Errorf("send_rates_mbps must not be empty")
	}
	if cfg.DurationSec <= 0 {
		return fmt.Errorf("duration_sec must be > 0")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("port %d out of range", cfg.Port)
	}
	for _, tc := range Expand(cfg) {
		if err := tc.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Expand generates the full cross-product of trial configurations, in a
// stable order: buffer size varies outermost, send rate innermost. Pure
// function of its input; the same lists always yield the same sequence.
func Expand(cfg Sweep) []model.TrialConfig {
	duration := time.Duration(cfg.DurationSec * float64(time.Second))
	configs := make([]model.TrialConfig, 0,
		len(cfg.RecvBufs)*len(cfg.DelaysMs)*len(cfg.ReadSizes)*len(cfg.SendRatesMBps))

	for _, buf := range cfg.RecvBufs {
		for _, delayMs := range cfg.DelaysMs {
			for _, readSize := range cfg.ReadSizes {
				for _, rate := range cfg.SendRatesMBps {
					configs = append(configs, model.TrialConfig{
						RecvBuf:      buf,
						ReadDelay:    time.Duration(delayMs * float64(time.Millisecond)),
						ReadSize:     readSize,
						SendRateMBps: rate,
						Duration:     duration,
					})
				}
			}
		}
	}
	return configs
}
