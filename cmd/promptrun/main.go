// Command promptrun drives per-loop profiling builds over a benchmark
// workspace. It reads (or derives from a compiler log) a list of
// function/loop targets and runs the profiling build once per target.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"promptrun/internal/config"
	"promptrun/internal/logging"
	"promptrun/internal/tactile"
	"promptrun/internal/targets"
)

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	verbose      bool
	configPath   string
	benchmark    string
	targetList   string
	logPath      string
	archiveDir   string
	historyPath  string
	buildTimeout string
}

// app carries what a command invocation needs. Tests build their own.
type app struct {
	flags  globalFlags
	logger *zap.Logger
	stdout io.Writer
	stderr io.Writer

	// executor overrides the host executor when set.
	executor tactile.Executor
}

func newApp() *app {
	return &app{stdout: os.Stdout, stderr: os.Stderr}
}

// newRootCmd builds the command tree bound to a.
func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "promptrun",
		Short: "Run the profiling build once per target loop",
		Long: `promptrun runs "make result.slamp.profile" in a benchmark workspace once for
every (function, loop) pair in the target list, with TARGETFCN and TARGETLOOP set.

If the target list does not exist it is derived from the compiler log by
collecting every "PROMPT TARGETS: " line. Pass --log "" to require an
existing target list instead.

The result artifact is removed once before the first build. Build failures are
reported but never stop the loop.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.logger != nil {
				return nil
			}
			zcfg := zap.NewProductionConfig()
			zcfg.Encoding = "console"
			zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
			zcfg.DisableStacktrace = true
			if a.flags.verbose {
				zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			logger, err := zcfg.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
		RunE: a.runPipeline,
	}

	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&a.flags.verbose, "verbose", "v", false, "Enable verbose logging")
	pf.StringVar(&a.flags.configPath, "config", "", "Config file (default: ./"+config.DefaultConfigFile+" if present)")
	pf.StringVarP(&a.flags.benchmark, "benchmark", "b", config.DefaultBenchmark, "Benchmark workspace directory")
	pf.StringVarP(&a.flags.targetList, "target_list", "t", "target_list", "Target list file, relative to the workspace")
	pf.StringVarP(&a.flags.logPath, "log", "l", "gino.log", `Compiler log to derive targets from ("" disables derivation)`)
	pf.StringVar(&a.flags.archiveDir, "archive-dir", "", "Copy the artifact here after each build")
	pf.StringVar(&a.flags.historyPath, "history", "", "Record runs in this sqlite database")
	pf.StringVar(&a.flags.buildTimeout, "build-timeout", "", "Per-build timeout (e.g. 30m; 0 for none)")

	rootCmd.AddCommand(newDeriveCmd(a))
	rootCmd.AddCommand(newListCmd(a))
	rootCmd.AddCommand(newWatchCmd(a))
	rootCmd.AddCommand(newHistoryCmd(a))
	rootCmd.AddCommand(newConfigCmd(a))

	return rootCmd
}

func main() {
	if err := newRootCmd(newApp()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "promptrun:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, then applies flags the user set.
func (a *app) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := a.flags.configPath
	if path == "" {
		path = config.DefaultConfigFile
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("benchmark") {
		cfg.Benchmark = a.flags.benchmark
	}
	if flags.Changed("target_list") {
		cfg.TargetList = a.flags.targetList
	}
	if flags.Changed("log") {
		cfg.Log = a.flags.logPath
	}
	if flags.Changed("archive-dir") {
		cfg.Archive.Dir = a.flags.archiveDir
	}
	if flags.Changed("history") {
		cfg.History.Path = a.flags.historyPath
	}
	if flags.Changed("build-timeout") {
		cfg.Build.Timeout = a.flags.buildTimeout
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openWorkspace checks the workspace and starts the file logs inside it.
// The returned func closes the logs.
func (a *app) openWorkspace(cfg *config.Config) (func(), error) {
	if err := targets.CheckWorkspace(cfg.Benchmark); err != nil {
		return nil, err
	}
	err := logging.Initialize(cfg.Benchmark, logging.Settings{
		DebugMode:  cfg.Logging.DebugMode,
		Level:      cfg.Logging.Level,
		JSONFormat: cfg.Logging.JSONFormat,
		Categories: cfg.Logging.Categories,
	})
	if err != nil {
		a.log().Warn("file logging disabled", zap.Error(err))
	}
	logging.Boot("Config: workspace=%s target_list=%s log=%q", cfg.Benchmark, cfg.TargetList, cfg.Log)
	logging.BootDebug("Build: %v %s, reset: %v, %s/%s, timeout=%q",
		cfg.Build.Command, cfg.Build.Target, cfg.Reset.Command, cfg.Build.FunctionVar, cfg.Build.LoopVar, cfg.Build.Timeout)
	return logging.CloseAll, nil
}

func (a *app) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
