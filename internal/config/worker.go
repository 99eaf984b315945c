package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultWorkerConfigPath is the path to the default worker configuration.
const DefaultWorkerConfigPath = "config/worker.defaults.json"

// Default channel endpoints. The worker dials all three; the instrument,
// controller and result consumer bind them.
const (
	DefaultLiveAddress    = "tcp://localhost:4562"
	DefaultResultAddress  = "tcp://localhost:4563"
	DefaultControlAddress = "tcp://localhost:4568"
)

// WorkerConfig is the on-disk configuration of a fitting worker. Fields
// left out of the JSON keep their defaults, see the Get* methods.
type WorkerConfig struct {
	// Channel endpoints
	LiveAddress    *string `json:"live_address,omitempty"`
	ControlAddress *string `json:"control_address,omitempty"`
	ResultAddress  *string `json:"result_address,omitempty"`

	// Live data
	ProfileKey *string `json:"profile_key,omitempty"`

	// Event loop
	PollInterval *string `json:"poll_interval,omitempty"` // duration string like "1ms"
	ResultQueue  *int    `json:"result_queue,omitempty"`

	// Solver
	MaxIterations *int `json:"max_iterations,omitempty"`

	// Diagnostics
	DebugListen *string `json:"debug_listen,omitempty"`
}

// LoadWorkerConfig loads a WorkerConfig from a JSON file and validates it.
func LoadWorkerConfig(path string) (*WorkerConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &WorkerConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configured values are usable.
func (c *WorkerConfig) Validate() error {
	for name, addr := range map[string]*string{
		"live_address":    c.LiveAddress,
		"control_address": c.ControlAddress,
		"result_address":  c.ResultAddress,
	} {
		if addr != nil && !strings.Contains(*addr, "://") {
			return fmt.Errorf("%s must be a transport endpoint like tcp://host:port, got %q", name, *addr)
		}
	}

	if c.PollInterval != nil && *c.PollInterval != "" {
		d, err := time.ParseDuration(*c.PollInterval)
		if err != nil {
			return fmt.Errorf("invalid poll_interval '%s': %w", *c.PollInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("poll_interval must be positive, got %s", d)
		}
	}

	if c.ResultQueue != nil && *c.ResultQueue <= 0 {
		return fmt.Errorf("result_queue must be positive, got %d", *c.ResultQueue)
	}
	if c.MaxIterations != nil && *c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive, got %d", *c.MaxIterations)
	}
	return nil
}

func stringOr(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

// GetLiveAddress returns the live data endpoint or the default.
func (c *WorkerConfig) GetLiveAddress() string {
	return stringOr(c.LiveAddress, DefaultLiveAddress)
}

// GetControlAddress returns the control endpoint or the default.
func (c *WorkerConfig) GetControlAddress() string {
	return stringOr(c.ControlAddress, DefaultControlAddress)
}

// GetResultAddress returns the result endpoint or the default.
func (c *WorkerConfig) GetResultAddress() string {
	return stringOr(c.ResultAddress, DefaultResultAddress)
}

// GetProfileKey returns the live message key holding intensity samples.
// Empty means the instrument defaults are tried.
func (c *WorkerConfig) GetProfileKey() string {
	return stringOr(c.ProfileKey, "")
}

// GetPollInterval parses and returns the PollInterval as a time.Duration.
func (c *WorkerConfig) GetPollInterval() time.Duration {
	if c.PollInterval == nil || *c.PollInterval == "" {
		return time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.PollInterval)
	if err != nil || d <= 0 {
		return time.Millisecond // default on parse error
	}
	return d
}

// GetResultQueue returns the outbound result queue length or the default.
func (c *WorkerConfig) GetResultQueue() int {
	if c.ResultQueue == nil {
		return 64 // default
	}
	return *c.ResultQueue
}

// GetMaxIterations returns the solver iteration limit or the default.
func (c *WorkerConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return 200 // default
	}
	return *c.MaxIterations
}

// GetDebugListen returns the debug HTTP listen address; empty disables it.
func (c *WorkerConfig) GetDebugListen() string {
	return stringOr(c.DebugListen, "")
}
