package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"promptrun/internal/config"
	"promptrun/internal/driver"
	"promptrun/internal/logging"
	"promptrun/internal/store"
	"promptrun/internal/tactile"
	"promptrun/internal/targets"
)

// runPipeline resolves and parses the target list, then drives the builds.
func (a *app) runPipeline(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	closeLogs, err := a.openWorkspace(cfg)
	if err != nil {
		return err
	}
	defer closeLogs()

	list, err := a.resolveTargets(ctx, cfg)
	if err != nil {
		return err
	}

	// The single diagnostic print before the loop.
	fmt.Fprintln(a.stdout, list)

	exec, audit := a.newExecutor(cfg)
	defer audit.Close()

	d := driver.New(exec, driver.OptionsFromConfig(cfg))
	d.OnWarning = func(w driver.Warning) {
		a.log().Warn("tolerated failure",
			zap.String("step", string(w.Kind)),
			zap.Int("seq", w.Seq),
			zap.String("target", w.Pair.String()),
			zap.Error(w.Err))
	}

	if cfg.History.Path != "" {
		hist, err := store.NewHistoryStore(cfg.InWorkspace(cfg.History.Path))
		if err != nil {
			a.log().Warn("run history disabled", zap.Error(err))
		} else {
			defer hist.Close()
			d.Recorder = hist
		}
	}

	report, err := d.Run(ctx, list)
	if report != nil {
		a.logSummary(report, exec.Metrics())
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("interrupted after %d of %d targets", len(report.Invocations), len(list))
	}
	return err
}

// resolveTargets makes sure the target list exists and parses it.
func (a *app) resolveTargets(ctx context.Context, cfg *config.Config) (targets.List, error) {
	r := &targets.Resolver{
		Workspace:  cfg.Benchmark,
		TargetList: cfg.InWorkspace(cfg.TargetList),
		Log:        cfg.InWorkspace(cfg.Log),
	}
	res, err := r.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if res.Derived {
		a.log().Info("derived target list from log",
			zap.String("log", r.Log),
			zap.String("target_list", res.Path),
			zap.Int("markers", res.Markers))
	}

	// Blank lines are tolerated only where the list may come from a log.
	list, err := targets.ParseFile(res.Path, targets.ParseOptions{SkipBlank: cfg.LogAware()})
	if err != nil {
		return nil, err
	}
	a.log().Debug("parsed target list", zap.String("path", res.Path), zap.Int("targets", len(list)))
	return list, nil
}

// newExecutor returns the executor for builds, wired to the audit logger.
func (a *app) newExecutor(cfg *config.Config) (*tactile.AuditedExecutor, *tactile.AuditLogger) {
	audit := tactile.NewAuditLogger()
	audit.AddCallback(func(e tactile.AuditEvent) {
		fields := []zap.Field{
			zap.String("event", string(e.Type)),
			zap.String("command", e.Command.CommandString()),
			zap.String("request_id", e.Command.RequestID),
		}
		if e.Result != nil {
			fields = append(fields, zap.Int("exit_code", e.Result.ExitCode), zap.Duration("duration", e.Result.Duration))
		}
		a.log().Debug("exec", fields...)
	})
	if logging.IsDebugMode() {
		path := filepath.Join(logging.LogsDir(cfg.Benchmark), "exec_audit.jsonl")
		if err := audit.EnableFileLogging(path); err != nil {
			a.log().Warn("exec audit file disabled", zap.Error(err))
		}
	}

	inner := a.executor
	if inner == nil {
		ecfg := tactile.DefaultExecutorConfig()
		ecfg.DefaultWorkingDir = cfg.Benchmark
		ecfg.Stdout = a.stdout
		ecfg.Stderr = a.stderr
		inner = tactile.NewDirectExecutorWithConfig(ecfg)
	}
	return tactile.NewAuditedExecutor(inner, audit), audit
}

func (a *app) logSummary(report *driver.Report, m tactile.ExecutionMetricsSnapshot) {
	a.log().Info("run finished",
		zap.String("run_id", report.RunID),
		zap.Int("builds", len(report.Invocations)),
		zap.Int("not_clean", len(report.Failed())),
		zap.Int("warnings", len(report.Warnings)),
		zap.Bool("interrupted", report.Interrupted),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
		zap.Int64("cpu_ms", m.TotalCPUTimeMs),
		zap.Int64("peak_rss_bytes", m.PeakRSSBytes))
}
