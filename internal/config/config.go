// Package config loads the simulator configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/me/kthreads/internal/logging"
	"github.com/me/kthreads/internal/machine"
	"github.com/me/kthreads/internal/sched"
	"github.com/me/kthreads/pkg/model"
)

// Config is the top-level configuration file.
type Config struct {
	Kernel KernelConfig `yaml:"kernel"`
	Log    LogConfig    `yaml:"log"`
	Store  StoreConfig  `yaml:"store"`
	Server ServerConfig `yaml:"server"`
}

// KernelConfig holds the simulated kernel's boot options.
type KernelConfig struct {
	MLFQS      bool  `yaml:"mlfqs"`       // Use the feedback-queue scheduler ("-o mlfqs")
	TimerFreq  int   `yaml:"timer_freq"`  // Timer ticks per second
	TimeSlice  int   `yaml:"time_slice"`  // Ticks per time slice
	MaxThreads int   `yaml:"max_threads"` // Live thread limit
	MaxTicks   int64 `yaml:"max_ticks"`   // Tick budget per run, 0 for none
}

// LogConfig selects log verbosity and format.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json, plain
}

// StoreConfig locates the trace database.
type StoreConfig struct {
	DBPath string `yaml:"db_path"` // SQLite database path (default ~/.kthreads/trace.db, ":memory:" for testing)
}

// ServerConfig holds configuration for the trace API server.
type ServerConfig struct {
	Addr string `yaml:"addr"` // Listen address (default ":8080")
}

// Default returns sensible defaults.
func Default() Config {
	return Config{
		Kernel: KernelConfig{
			TimerFreq:  100,
			TimeSlice:  4,
			MaxThreads: 64,
			MaxTicks:   100000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// Load reads path over the defaults. Keys absent from the file keep their
// default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if c.Kernel.TimerFreq < 19 || c.Kernel.TimerFreq > 1000 {
		errs = append(errs, fmt.Errorf("kernel.timer_freq must be in [19, 1000], got %d", c.Kernel.TimerFreq))
	}
	if c.Kernel.TimeSlice < 1 {
		errs = append(errs, fmt.Errorf("kernel.time_slice must be positive, got %d", c.Kernel.TimeSlice))
	}
	if c.Kernel.MaxThreads < 0 {
		errs = append(errs, fmt.Errorf("kernel.max_threads must not be negative, got %d", c.Kernel.MaxThreads))
	}
	if c.Kernel.MaxTicks < 0 {
		errs = append(errs, fmt.Errorf("kernel.max_ticks must not be negative, got %d", c.Kernel.MaxTicks))
	}
	if !logging.ValidFormat(c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be text, json or plain, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Mode returns the scheduling policy selected by the kernel options.
func (k KernelConfig) Mode() model.SchedulingMode {
	if k.MLFQS {
		return model.ModeMLFQS
	}
	return model.ModePriority
}

// Machine converts the kernel options to a machine configuration.
func (k KernelConfig) Machine() machine.Config {
	return machine.Config{
		Sched: sched.Config{
			Mode:       k.Mode(),
			TimerFreq:  k.TimerFreq,
			TimeSlice:  k.TimeSlice,
			MaxThreads: k.MaxThreads,
		},
		MainPriority: model.PriDefault,
		MaxTicks:     k.MaxTicks,
	}
}

// Path returns the trace database path, defaulting to
// ~/.kthreads/trace.db.
func (s StoreConfig) Path() (string, error) {
	if s.DBPath != "" {
		return s.DBPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	dir := filepath.Join(home, ".kthreads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return filepath.Join(dir, "trace.db"), nil
}
