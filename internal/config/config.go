package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is looked up in the current directory when --config is not given.
const DefaultConfigFile = "promptrun.yaml"

// DefaultBenchmark is a placeholder workspace path. Real runs pass -b.
const DefaultBenchmark = "/scratch/parallelizer-workspace/gino/tests/regression/workspace"

// Config holds all promptrun configuration.
type Config struct {
	// Benchmark is the workspace directory. It must already exist.
	Benchmark string `yaml:"benchmark"`

	// TargetList is the target-list file, relative to Benchmark unless absolute.
	TargetList string `yaml:"target_list"`

	// Log is the compiler log scanned for PROMPT TARGETS markers.
	// Empty selects the strict variant without log derivation.
	Log string `yaml:"log"`

	Build   BuildConfig   `yaml:"build"`
	Reset   ResetConfig   `yaml:"reset"`
	Archive ArchiveConfig `yaml:"archive"`
	History HistoryConfig `yaml:"history"`
	Logging LoggingConfig `yaml:"logging"`
}

// BuildConfig configures the external build invocation.
type BuildConfig struct {
	// Command is the build tool and any leading arguments (e.g. ["make", "-s"]).
	Command []string `yaml:"command"`

	// Target is the build target requested once per pair.
	Target string `yaml:"target"`

	// Artifact is the result file inside the workspace, reset before the loop.
	Artifact string `yaml:"artifact"`

	// FunctionVar and LoopVar name the environment variables carrying the pair.
	FunctionVar string `yaml:"function_var"`
	LoopVar     string `yaml:"loop_var"`

	// Timeout per invocation. "0" or empty means none.
	Timeout string `yaml:"timeout"`
}

// ResetConfig configures the stale-artifact removal.
type ResetConfig struct {
	Command []string `yaml:"command"`
}

// ArchiveConfig configures per-target artifact copies.
type ArchiveConfig struct {
	Dir string `yaml:"dir"`
}

// HistoryConfig configures the run history database.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Benchmark:  DefaultBenchmark,
		TargetList: "target_list",
		Log:        "gino.log",
		Build: BuildConfig{
			Command:     []string{"make"},
			Target:      "result.slamp.profile",
			Artifact:    "result.slamp.profile",
			FunctionVar: "TARGETFCN",
			LoopVar:     "TARGETLOOP",
			Timeout:     "0",
		},
		Reset: ResetConfig{
			Command: []string{"rm"},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PROMPTRUN_BENCHMARK"); v != "" {
		c.Benchmark = v
	}
	if v := os.Getenv("PROMPTRUN_TARGET_LIST"); v != "" {
		c.TargetList = v
	}
	// PROMPTRUN_LOG may be set to the empty string to select the strict variant.
	if v, ok := os.LookupEnv("PROMPTRUN_LOG"); ok {
		c.Log = v
	}
	if v := os.Getenv("PROMPTRUN_HISTORY"); v != "" {
		c.History.Path = v
	}
	if v := os.Getenv("PROMPTRUN_ARCHIVE_DIR"); v != "" {
		c.Archive.Dir = v
	}
	if v := os.Getenv("PROMPTRUN_BUILD_TOOL"); v != "" {
		c.Build.Command = strings.Fields(v)
	}
}

// LogAware reports whether the target list may be derived from the log.
func (c *Config) LogAware() bool {
	return c.Log != ""
}

// InWorkspace resolves p against the benchmark workspace unless it is absolute.
func (c *Config) InWorkspace(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Benchmark, p)
}

// GetBuildTimeout returns the per-invocation timeout. Zero means none.
func (c *Config) GetBuildTimeout() time.Duration {
	if c.Build.Timeout == "" || c.Build.Timeout == "0" {
		return 0
	}
	d, err := time.ParseDuration(c.Build.Timeout)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Benchmark == "" {
		return fmt.Errorf("benchmark workspace not configured")
	}
	if c.TargetList == "" {
		return fmt.Errorf("target list path not configured")
	}
	if len(c.Build.Command) == 0 || c.Build.Command[0] == "" {
		return fmt.Errorf("build command not configured")
	}
	if len(c.Reset.Command) == 0 || c.Reset.Command[0] == "" {
		return fmt.Errorf("reset command not configured")
	}
	if c.Build.Artifact == "" {
		return fmt.Errorf("build artifact not configured")
	}
	if c.Build.FunctionVar == "" || c.Build.LoopVar == "" {
		return fmt.Errorf("build function_var and loop_var must be set")
	}
	if c.Build.FunctionVar == c.Build.LoopVar {
		return fmt.Errorf("build function_var and loop_var must differ (both %q)", c.Build.FunctionVar)
	}
	if strings.ContainsAny(c.Build.FunctionVar+c.Build.LoopVar, "= \t") {
		return fmt.Errorf("invalid environment variable name in build config")
	}
	if c.Build.Timeout != "" && c.Build.Timeout != "0" {
		if _, err := time.ParseDuration(c.Build.Timeout); err != nil {
			return fmt.Errorf("invalid build timeout %q: %w", c.Build.Timeout, err)
		}
	}
	return nil
}
