package concurrency

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// ParallelMode defines how parallel inference slots are scheduled
type ParallelMode string

const (
	ParallelModeConcurrent ParallelMode = "concurrent"
	ParallelModeSequential ParallelMode = "sequential"
)

// ConfigSource indicates where the configuration came from
type ConfigSource string

const (
	ConfigSourceEnvVar     ConfigSource = "environment_variable"
	ConfigSourceAutoDetect ConfigSource = "auto_detect"
)

// Environment variables read by LoadConfig
const (
	EnvMaxConcurrent         = "LBCPP_MAX_CONCURRENT"
	EnvConcurrencyMultiplier = "LBCPP_CONCURRENCY_MULTIPLIER"
	EnvParallelMode          = "LBCPP_PARALLEL_MODE"
)

// Config holds concurrency configuration parameters
type Config struct {
	MaxConcurrent int
	ParallelMode  ParallelMode
	Source        ConfigSource
	IsKubernetes  bool
	EffectiveCPUs int
}

// LoadConfig loads concurrency configuration with priority: env vars > auto-detection
func LoadConfig() *Config {
	config := &Config{}

	config.IsKubernetes = isKubernetes()

	// Respects cgroup limits once InitializeForKubernetes ran
	config.EffectiveCPUs = runtime.GOMAXPROCS(0)

	if maxConcurrent := getEnvInt(EnvMaxConcurrent, 0); maxConcurrent > 0 {
		config.MaxConcurrent = maxConcurrent
		config.Source = ConfigSourceEnvVar
	} else if multiplier := getEnvInt(EnvConcurrencyMultiplier, 0); multiplier > 0 {
		config.MaxConcurrent = config.EffectiveCPUs * multiplier
		config.Source = ConfigSourceEnvVar
	} else {
		config.MaxConcurrent = getDefaultMaxConcurrent(config.IsKubernetes, config.EffectiveCPUs)
		config.Source = ConfigSourceAutoDetect
	}

	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 1
	}

	// Sequential keeps the depth-first order of a single-threaded run
	config.ParallelMode = ParallelMode(strings.ToLower(getEnv(EnvParallelMode, string(ParallelModeSequential))))
	if config.ParallelMode != ParallelModeConcurrent && config.ParallelMode != ParallelModeSequential {
		config.ParallelMode = ParallelModeSequential
	}

	return config
}

// isKubernetes detects if the application is running in Kubernetes
func isKubernetes() bool {
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

// getDefaultMaxConcurrent returns sensible defaults based on environment.
// Slots are CPU bound so the bound stays close to the CPU count.
func getDefaultMaxConcurrent(isK8s bool, cpus int) int {
	if isK8s {
		return cpus
	}
	return cpus * 2
}

// getEnvInt retrieves an integer from environment variable with default fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnv retrieves a string from environment variable with default fallback
func getEnv(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// String returns a formatted string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{MaxConcurrent: %d, ParallelMode: %s, IsK8s: %t, CPUs: %d, Source: %s}",
		c.MaxConcurrent,
		c.ParallelMode,
		c.IsKubernetes,
		c.EffectiveCPUs,
		c.Source,
	)
}
