package inference

import (
	"fmt"
	"runtime"

	"github.com/francis-maes/lbcpp-sub006/pkg/concurrency"
)

// ParallelMode selects how Parallel sub-inferences are scheduled.
type ParallelMode string

const (
	// ParallelSequential runs slots one after the other in index order.
	ParallelSequential ParallelMode = "sequential"
	// ParallelConcurrent runs slots on separate goroutines.
	ParallelConcurrent ParallelMode = "concurrent"
)

// Config holds the execution settings of a Context.
type Config struct {
	// ParallelMode is the scheduling of Parallel slots (default: sequential)
	ParallelMode ParallelMode

	// MaxConcurrent bounds the goroutines running slots at once across the
	// whole tree (default: GOMAXPROCS). Only used in concurrent mode.
	MaxConcurrent int

	// LogSteps logs every node visit at debug level.
	LogSteps bool
}

// DefaultConfig returns the single-threaded depth-first configuration.
func DefaultConfig() Config {
	return Config{
		ParallelMode:  ParallelSequential,
		MaxConcurrent: runtime.GOMAXPROCS(0),
	}
}

// WithParallelMode sets the parallel scheduling mode
func (c Config) WithParallelMode(mode ParallelMode) Config {
	c.ParallelMode = mode
	return c
}

// WithMaxConcurrent sets the concurrency bound
func (c Config) WithMaxConcurrent(n int) Config {
	c.MaxConcurrent = n
	return c
}

// WithLogSteps enables per-node debug logging
func (c Config) WithLogSteps(enabled bool) Config {
	c.LogSteps = enabled
	return c
}

// Validate applies defaults and rejects unknown modes
func (c *Config) Validate() error {
	if c.ParallelMode == "" {
		c.ParallelMode = ParallelSequential
	}
	if c.ParallelMode != ParallelSequential && c.ParallelMode != ParallelConcurrent {
		return fmt.Errorf("unknown parallel mode %q", c.ParallelMode)
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = runtime.GOMAXPROCS(0)
	}
	return nil
}

// ConfigFromConcurrency maps the environment concurrency settings onto a Config.
func ConfigFromConcurrency(cc *concurrency.Config) Config {
	cfg := DefaultConfig()
	if cc == nil {
		return cfg
	}
	if cc.MaxConcurrent > 0 {
		cfg.MaxConcurrent = cc.MaxConcurrent
	}
	if cc.ParallelMode == concurrency.ParallelModeConcurrent {
		cfg.ParallelMode = ParallelConcurrent
	}
	return cfg
}
