// Package driver runs the profiling build once per target pair.
//
// A run is one best-effort reset of the result artifact followed by one
// blocking build per pair, strictly in list order. Nothing an external
// command does stops the loop: removal failures, non-zero exits and archive
// or history errors are reported through the warning hook. Only
// cancellation of the context ends a run early, and only between targets.
package driver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"promptrun/internal/build"
	"promptrun/internal/config"
	"promptrun/internal/logging"
	"promptrun/internal/tactile"
	"promptrun/internal/targets"
)

// Options describes the external collaborators of a run.
type Options struct {
	// Workspace is the working directory of every command.
	Workspace string

	// Artifact is the result file, relative to Workspace, removed before the loop.
	Artifact string

	// Target is appended to BuildCommand for every pair.
	Target string

	BuildCommand []string
	ResetCommand []string
	Vars         build.Vars

	// ArchiveDir, when set, receives a copy of the artifact after each build.
	// Relative paths resolve against Workspace.
	ArchiveDir string

	// Timeout bounds each build. Zero means none.
	Timeout time.Duration

	// TargetList and Variant are recorded with the run.
	TargetList string
	Variant    string
}

// OptionsFromConfig maps the loaded configuration onto driver options.
func OptionsFromConfig(cfg *config.Config) Options {
	variant := "strict"
	if cfg.LogAware() {
		variant = "log-aware"
	}
	return Options{
		Workspace:    cfg.Benchmark,
		Artifact:     cfg.Build.Artifact,
		Target:       cfg.Build.Target,
		BuildCommand: cfg.Build.Command,
		ResetCommand: cfg.Reset.Command,
		Vars:         build.VarsFromConfig(cfg.Build),
		ArchiveDir:   cfg.Archive.Dir,
		Timeout:      cfg.GetBuildTimeout(),
		TargetList:   cfg.InWorkspace(cfg.TargetList),
		Variant:      variant,
	}
}

func (o Options) validate() error {
	if o.Workspace == "" {
		return fmt.Errorf("driver: workspace not set")
	}
	if len(o.BuildCommand) == 0 || o.BuildCommand[0] == "" {
		return fmt.Errorf("driver: build command not set")
	}
	if len(o.ResetCommand) == 0 || o.ResetCommand[0] == "" {
		return fmt.Errorf("driver: reset command not set")
	}
	if o.Artifact == "" {
		return fmt.Errorf("driver: artifact not set")
	}
	return nil
}

func (o Options) artifactPath() string {
	if filepath.IsAbs(o.Artifact) {
		return o.Artifact
	}
	return filepath.Join(o.Workspace, o.Artifact)
}

func (o Options) archiveDir() string {
	if o.ArchiveDir == "" || filepath.IsAbs(o.ArchiveDir) {
		return o.ArchiveDir
	}
	return filepath.Join(o.Workspace, o.ArchiveDir)
}

// Invocation is the outcome of one build.
type Invocation struct {
	Seq         int           `json:"seq"`
	Pair        targets.Pair  `json:"pair"`
	RequestID   string        `json:"request_id"`
	ExitCode    int           `json:"exit_code"`
	Killed      bool          `json:"killed,omitempty"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
	ArchivePath string        `json:"archive_path,omitempty"`
}

// Run describes a driver run for the recorder.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Workspace  string
	TargetList string
	Variant    string
	Targets    int
}

// Report summarizes a finished or interrupted run.
type Report struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	Reset       *tactile.ExecutionResult
	Invocations []Invocation
	Warnings    []Warning
	Interrupted bool
}

// Failed returns the invocations that did not exit cleanly.
func (r *Report) Failed() []Invocation {
	var out []Invocation
	for _, inv := range r.Invocations {
		if inv.ExitCode != 0 || inv.Killed || inv.Error != "" {
			out = append(out, inv)
		}
	}
	return out
}

// Recorder persists runs. The driver calls it from one goroutine.
type Recorder interface {
	StartRun(ctx context.Context, run Run) error
	RecordInvocation(ctx context.Context, runID string, inv Invocation) error
	FinishRun(ctx context.Context, runID string, finishedAt time.Time, interrupted bool) error
}

// Driver issues the reset and build commands for a target list.
type Driver struct {
	exec tactile.Executor
	opts Options

	// OnWarning receives every tolerated failure. Defaults to the driver log.
	OnWarning func(Warning)

	// Recorder, when set, receives the run and every invocation.
	Recorder Recorder

	now   func() time.Time
	newID func() string
}

// New creates a driver that runs commands through exec.
func New(exec tactile.Executor, opts Options) *Driver {
	return &Driver{
		exec:  exec,
		opts:  opts,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// Run resets the artifact and builds every pair in order.
//
// The returned error is non-nil only for invalid options or when ctx is
// canceled; in the latter case the partial report is returned as well.
func (d *Driver) Run(ctx context.Context, list targets.List) (*Report, error) {
	if err := d.opts.validate(); err != nil {
		return nil, err
	}

	timer := logging.StartTimer(logging.CategoryDriver, "Driver run")
	defer timer.StopWithInfo()

	report := &Report{
		RunID:     d.newID(),
		StartedAt: d.now(),
	}
	logging.Driver("Run %s: %d targets in %s", report.RunID, len(list), d.opts.Workspace)

	if d.Recorder != nil {
		err := d.Recorder.StartRun(ctx, Run{
			ID:         report.RunID,
			StartedAt:  report.StartedAt,
			Workspace:  d.opts.Workspace,
			TargetList: d.opts.TargetList,
			Variant:    d.opts.Variant,
			Targets:    len(list),
		})
		if err != nil {
			d.warn(report, Warning{Kind: WarnRecord, Err: err})
		}
	}

	report.Reset = d.reset(ctx, report)

	for i, pair := range list {
		if ctx.Err() != nil {
			logging.DriverWarn("Run %s interrupted before target %d/%d", report.RunID, i+1, len(list))
			report.Interrupted = true
			break
		}
		inv := d.buildOne(ctx, report, i+1, pair)
		report.Invocations = append(report.Invocations, inv)

		if d.Recorder != nil {
			// The build finished even if ctx was canceled meanwhile, so it is recorded.
			if err := d.Recorder.RecordInvocation(context.WithoutCancel(ctx), report.RunID, inv); err != nil {
				d.warn(report, Warning{Kind: WarnRecord, Seq: inv.Seq, Pair: pair, Err: err})
			}
		}
	}

	report.FinishedAt = d.now()

	if d.Recorder != nil {
		if err := d.Recorder.FinishRun(context.WithoutCancel(ctx), report.RunID, report.FinishedAt, report.Interrupted); err != nil {
			d.warn(report, Warning{Kind: WarnRecord, Err: err})
		}
	}

	logging.Driver("Run %s done: %d/%d invocations, %d not clean, %d warnings",
		report.RunID, len(report.Invocations), len(list), len(report.Failed()), len(report.Warnings))

	if report.Interrupted {
		return report, ctx.Err()
	}
	return report, nil
}

// reset removes the artifact once. Every outcome is tolerated.
func (d *Driver) reset(ctx context.Context, report *Report) *tactile.ExecutionResult {
	artifact := d.opts.artifactPath()
	cmd := tactile.Command{
		Binary:           d.opts.ResetCommand[0],
		Arguments:        append(append([]string{}, d.opts.ResetCommand[1:]...), d.opts.Artifact),
		WorkingDirectory: d.opts.Workspace,
		RequestID:        d.newID(),
		Tags:             map[string]string{"run": report.RunID, "step": "reset"},
	}

	logging.DriverDebug("Reset: %s", cmd.CommandString())
	result, err := d.exec.Execute(context.WithoutCancel(ctx), cmd)
	switch {
	case err != nil:
		d.warn(report, Warning{Kind: WarnReset, Err: err})
	case result.IsError():
		d.warn(report, Warning{Kind: WarnReset, Err: fmt.Errorf("%s", result.Error)})
	case result.IsNonZeroExit():
		// rm exits non-zero for a missing file; only a surviving artifact is worth a warning.
		if _, statErr := os.Stat(artifact); statErr == nil {
			d.warn(report, Warning{Kind: WarnReset, Err: fmt.Errorf("%s exited %d and %s still exists",
				cmd.Binary, result.ExitCode, artifact)})
		} else {
			logging.DriverDebug("Reset: no stale artifact at %s", artifact)
		}
	}
	return result
}

// buildOne runs the build for one pair. A build already started is allowed
// to finish even if ctx is canceled meanwhile.
func (d *Driver) buildOne(ctx context.Context, report *Report, seq int, pair targets.Pair) Invocation {
	inv := Invocation{
		Seq:       seq,
		Pair:      pair,
		RequestID: d.newID(),
		ExitCode:  -1,
	}

	cmd := tactile.Command{
		Binary:           d.opts.BuildCommand[0],
		Arguments:        append(append([]string{}, d.opts.BuildCommand[1:]...), d.opts.Target),
		WorkingDirectory: d.opts.Workspace,
		Environment:      d.opts.Vars.Overlay(pair),
		Timeout:          d.opts.Timeout,
		RequestID:        inv.RequestID,
		Tags: map[string]string{
			"run":      report.RunID,
			"seq":      strconv.Itoa(seq),
			"function": pair.Function,
			"loop":     pair.Loop,
		},
	}

	logging.Driver("Target %d: %s (%s)", seq, pair, cmd.CommandString())
	start := d.now()
	result, err := d.exec.Execute(context.WithoutCancel(ctx), cmd)
	inv.Duration = d.now().Sub(start)

	switch {
	case err != nil:
		inv.Error = err.Error()
		d.warn(report, Warning{Kind: WarnBuild, Seq: seq, Pair: pair, Err: err})
	case result.IsError():
		inv.Error = result.Error
		d.warn(report, Warning{Kind: WarnBuild, Seq: seq, Pair: pair, Err: fmt.Errorf("%s", result.Error)})
	default:
		inv.ExitCode = result.ExitCode
		inv.Killed = result.Killed
		if result.Duration > 0 {
			inv.Duration = result.Duration
		}
		if !result.OK() {
			reason := fmt.Errorf("exit status %d", result.ExitCode)
			if result.Killed {
				reason = fmt.Errorf("killed: %s", result.KillReason)
			}
			d.warn(report, Warning{Kind: WarnBuild, Seq: seq, Pair: pair, Err: reason})
			logging.DriverDebug("Target %d output tail:\n%s", seq, outputTail(result.Output(), outputTailBytes))
		}
	}

	if dir := d.opts.archiveDir(); dir != "" {
		path, archErr := archiveArtifact(d.opts.artifactPath(), dir, seq, pair)
		if archErr != nil {
			d.warn(report, Warning{Kind: WarnArchive, Seq: seq, Pair: pair, Err: archErr})
		}
		inv.ArchivePath = path
	}

	return inv
}

func (d *Driver) warn(report *Report, w Warning) {
	report.Warnings = append(report.Warnings, w)
	if d.OnWarning != nil {
		d.OnWarning(w)
		return
	}
	logging.DriverWarn("%s", w)
}

// outputTailBytes is how much of a failed build's output goes to the driver log.
const outputTailBytes = 4096

// outputTail returns the last n bytes of out, starting at a line boundary when
// one is available.
func outputTail(out string, n int) string {
	if len(out) <= n {
		return out
	}
	tail := out[len(out)-n:]
	if i := strings.IndexByte(tail, '\n'); i >= 0 && i < len(tail)-1 {
		tail = tail[i+1:]
	}
	return tail
}

// ArchiveName returns the archive file name for one build, keeping the
// artifact's extension: "3_main_for.body.slamp.profile".
func ArchiveName(artifact string, seq int, pair targets.Pair) string {
	base := filepath.Base(artifact)
	ext := ""
	if i := strings.Index(base, "."); i >= 0 {
		ext = base[i:]
	}
	return fmt.Sprintf("%d_%s_%s%s", seq, sanitize(pair.Function), sanitize(pair.Loop), ext)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, s)
}
