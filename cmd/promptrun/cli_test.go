package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"promptrun/internal/config"
	"promptrun/internal/store"
	"promptrun/internal/tactile"
	"promptrun/internal/targets"
)

type execCall struct {
	Binary string
	Args   []string
	Dir    string
	Env    []string
}

type fakeExecutor struct {
	mu       sync.Mutex
	calls    []execCall
	exitCode int
}

func (f *fakeExecutor) Validate(tactile.Command) error { return nil }

func (f *fakeExecutor) Execute(_ context.Context, cmd tactile.Command) (*tactile.ExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, execCall{Binary: cmd.Binary, Args: cmd.Arguments, Dir: cmd.WorkingDirectory, Env: cmd.Environment})
	code := 0
	if cmd.Binary == "make" {
		code = f.exitCode
	}
	return &tactile.ExecutionResult{Success: true, ExitCode: code}, nil
}

type harness struct {
	app  *app
	exec *fakeExecutor
	out  *bytes.Buffer
	ws   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	for _, k := range []string{"PROMPTRUN_BENCHMARK", "PROMPTRUN_TARGET_LIST", "PROMPTRUN_HISTORY", "PROMPTRUN_ARCHIVE_DIR", "PROMPTRUN_BUILD_TOOL"} {
		t.Setenv(k, "")
	}
	if v, ok := os.LookupEnv("PROMPTRUN_LOG"); ok {
		os.Unsetenv("PROMPTRUN_LOG")
		t.Cleanup(func() { os.Setenv("PROMPTRUN_LOG", v) })
	}

	out := &bytes.Buffer{}
	exec := &fakeExecutor{}
	return &harness{
		app: &app{
			logger:   zap.NewNop(),
			stdout:   out,
			stderr:   out,
			executor: exec,
		},
		exec: exec,
		out:  out,
		ws:   t.TempDir(),
	}
}

func (h *harness) run(args ...string) error {
	root := newRootCmd(h.app)
	root.SetArgs(args)
	root.SetOut(h.out)
	root.SetErr(h.out)
	return root.Execute()
}

func (h *harness) runContext(ctx context.Context, args ...string) error {
	root := newRootCmd(h.app)
	root.SetArgs(args)
	root.SetOut(h.out)
	root.SetErr(h.out)
	return root.ExecuteContext(ctx)
}

func (h *harness) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(h.ws, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRun_DerivesAndBuilds(t *testing.T) {
	h := newHarness(t)
	h.write(t, "gino.log", "clang -O2\nPROMPT TARGETS: f1 L1\nwarning: x\nPROMPT TARGETS: f2 L2\n")

	require.NoError(t, h.run("-b", h.ws))

	data, err := os.ReadFile(filepath.Join(h.ws, "target_list"))
	require.NoError(t, err)
	assert.Equal(t, "f1 L1\nf2 L2\n", string(data))

	want := []execCall{
		{Binary: "rm", Args: []string{"result.slamp.profile"}, Dir: h.ws},
		{Binary: "make", Args: []string{"result.slamp.profile"}, Dir: h.ws, Env: []string{"TARGETFCN=f1", "TARGETLOOP=L1"}},
		{Binary: "make", Args: []string{"result.slamp.profile"}, Dir: h.ws, Env: []string{"TARGETFCN=f2", "TARGETLOOP=L2"}},
	}
	if diff := cmp.Diff(want, h.exec.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, h.out.String(), "[f1:L1 f2:L2]")
}

func TestRun_ExistingListWins(t *testing.T) {
	h := newHarness(t)
	h.write(t, "target_list", "main for.cond extra\n")
	h.write(t, "gino.log", "PROMPT TARGETS: other L\n")

	require.NoError(t, h.run("-b", h.ws))
	require.Len(t, h.exec.calls, 2)
	assert.Equal(t, []string{"TARGETFCN=main", "TARGETLOOP=for.cond"}, h.exec.calls[1].Env)
}

func TestRun_BuildFailuresKeepExitZero(t *testing.T) {
	h := newHarness(t)
	h.exec.exitCode = 2
	h.write(t, "target_list", "a 1\nb 2\n")

	require.NoError(t, h.run("-b", h.ws))
	assert.Len(t, h.exec.calls, 3)
}

func TestRun_MissingWorkspace(t *testing.T) {
	h := newHarness(t)
	missing := filepath.Join(h.ws, "nope")

	err := h.run("-b", missing)
	require.Error(t, err)
	assert.True(t, errors.Is(err, targets.ErrWorkspaceMissing))
	assert.Contains(t, err.Error(), missing)
	assert.Empty(t, h.exec.calls)
	_, statErr := os.Stat(missing)
	assert.True(t, os.IsNotExist(statErr), "workspace must not be created")
}

func TestRun_NoListNoLog(t *testing.T) {
	h := newHarness(t)

	err := h.run("-b", h.ws)
	require.Error(t, err)
	assert.True(t, errors.Is(err, targets.ErrTargetListMissing))
	assert.Empty(t, h.exec.calls)
}

func TestRun_MalformedLineIssuesNothing(t *testing.T) {
	h := newHarness(t)
	h.write(t, "target_list", "f1 L1\nonlyonetoken\n")

	err := h.run("-b", h.ws)
	require.Error(t, err)
	assert.True(t, errors.Is(err, targets.ErrMalformedLine))
	assert.Empty(t, h.exec.calls, "no removal and no builds after a parse failure")
}

func TestRun_StrictVariant(t *testing.T) {
	t.Run("no derivation", func(t *testing.T) {
		h := newHarness(t)
		h.write(t, "gino.log", "PROMPT TARGETS: f1 L1\n")

		err := h.run("-b", h.ws, "--log", "")
		assert.True(t, errors.Is(err, targets.ErrTargetListMissing))
		assert.Empty(t, h.exec.calls)
	})

	t.Run("blank line is malformed", func(t *testing.T) {
		h := newHarness(t)
		h.write(t, "target_list", "f1 L1\n\nf2 L2\n")

		err := h.run("-b", h.ws, "--log", "")
		assert.True(t, errors.Is(err, targets.ErrMalformedLine))

		h2 := newHarness(t)
		h2.ws = h.ws
		require.NoError(t, h2.run("-b", h.ws))
		assert.Len(t, h2.exec.calls, 3, "log-aware variant skips blank lines")
	})
}

func TestRun_CustomTargetListAndLog(t *testing.T) {
	h := newHarness(t)
	h.write(t, "logs/build.log", "PROMPT TARGETS: g L9\n")
	require.NoError(t, os.MkdirAll(filepath.Join(h.ws, "lists"), 0755))

	require.NoError(t, h.run("-b", h.ws, "-t", "lists/targets.txt", "-l", "logs/build.log"))

	data, err := os.ReadFile(filepath.Join(h.ws, "lists", "targets.txt"))
	require.NoError(t, err)
	assert.Equal(t, "g L9\n", string(data))
	require.Len(t, h.exec.calls, 2)
	assert.Equal(t, []string{"TARGETFCN=g", "TARGETLOOP=L9"}, h.exec.calls[1].Env)
}

func TestRun_ConfigFileAndFlagPrecedence(t *testing.T) {
	h := newHarness(t)
	h.write(t, "target_list", "f l\n")

	cfg := config.DefaultConfig()
	cfg.Benchmark = filepath.Join(h.ws, "ignored")
	cfg.Build.Command = []string{"gmake", "-j1"}
	cfg.Build.FunctionVar = "FN"
	cfg.Reset.Command = []string{"rm", "-f"}
	cfgPath := filepath.Join(t.TempDir(), "promptrun.yaml")
	require.NoError(t, cfg.Save(cfgPath))

	require.NoError(t, h.run("--config", cfgPath, "-b", h.ws))

	want := []execCall{
		{Binary: "rm", Args: []string{"-f", "result.slamp.profile"}, Dir: h.ws},
		{Binary: "gmake", Args: []string{"-j1", "result.slamp.profile"}, Dir: h.ws, Env: []string{"FN=f", "TARGETLOOP=l"}},
	}
	if diff := cmp.Diff(want, h.exec.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	h := newHarness(t)
	err := h.run("-b", h.ws, "--build-timeout", "soon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestRun_HistoryRecorded(t *testing.T) {
	h := newHarness(t)
	h.write(t, "target_list", "a 1\nb 2\n")

	require.NoError(t, h.run("-b", h.ws, "--history", ".promptrun/history.db"))
	_, err := os.Stat(filepath.Join(h.ws, ".promptrun", "history.db"))
	require.NoError(t, err)

	h.out.Reset()
	require.NoError(t, h.run("-b", h.ws, "--history", ".promptrun/history.db", "history"))
	assert.Contains(t, h.out.String(), "Runs")
	assert.Contains(t, h.out.String(), "done")
}

func TestHistory_TargetsOfRun(t *testing.T) {
	h := newHarness(t)
	h.write(t, "target_list", "main for.cond\ncompute for.body extra\nmain for.cond\n")
	require.NoError(t, h.run("-b", h.ws, "--history", "history.db"))

	hist, err := store.NewHistoryStore(filepath.Join(h.ws, "history.db"))
	require.NoError(t, err)
	runs, err := hist.ListRuns(context.Background(), 1)
	require.NoError(t, err)
	require.NoError(t, hist.Close())
	require.Len(t, runs, 1)

	h.out.Reset()
	require.NoError(t, h.run("-b", h.ws, "--history", "history.db", "history", "--targets", runs[0].ID[:8]))
	assert.Equal(t, "main for.cond\ncompute for.body\nmain for.cond\n", h.out.String())

	err = h.run("-b", h.ws, "--history", "history.db", "history", "--targets")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RUN_ID")
}

func TestConfig_ShowAndSave(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.run("-b", h.ws, "--build-timeout", "30m", "config"))
	out := h.out.String()
	assert.Contains(t, out, "benchmark: "+h.ws)
	assert.Contains(t, out, "timeout: 30m")

	path := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, h.run("-b", h.ws, "--log", "", "config", "--save", path))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, h.ws, cfg.Benchmark)
	assert.False(t, cfg.LogAware())
}

func TestHistory_RequiresDatabase(t *testing.T) {
	h := newHarness(t)
	err := h.run("-b", h.ws, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--history")
}

func TestDerive(t *testing.T) {
	h := newHarness(t)
	h.write(t, "target_list", "stale stale\n")
	h.write(t, "a.log", "PROMPT TARGETS: a L\n")
	h.write(t, "b.log", "PROMPT TARGETS: b L\n")

	require.NoError(t, h.run("-b", h.ws, "derive", "a.log", "b.log"))

	data, err := os.ReadFile(filepath.Join(h.ws, "target_list"))
	require.NoError(t, err)
	assert.Equal(t, "a L\nb L\n", string(data))
	assert.Contains(t, h.out.String(), "wrote 2 targets")
	assert.Empty(t, h.exec.calls)
}

func TestDerive_Stdout(t *testing.T) {
	h := newHarness(t)
	h.write(t, "gino.log", "PROMPT TARGETS: f1 L1\n")

	require.NoError(t, h.run("-b", h.ws, "derive", "--stdout"))
	assert.Equal(t, "f1 L1\n", h.out.String())
	_, err := os.Stat(filepath.Join(h.ws, "target_list"))
	assert.True(t, os.IsNotExist(err))
}

func TestDerive_NeedsLog(t *testing.T) {
	h := newHarness(t)
	err := h.run("-b", h.ws, "--log", "", "derive")
	require.Error(t, err)
}

func TestWatch_InitialPassThenStop(t *testing.T) {
	h := newHarness(t)
	h.write(t, "gino.log", "PROMPT TARGETS: f1 L1\n")

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, h.runContext(ctx, "-b", h.ws, "watch"))

	data, err := os.ReadFile(filepath.Join(h.ws, "target_list"))
	require.NoError(t, err)
	assert.Equal(t, "f1 L1\n", string(data))
	assert.Contains(t, h.out.String(), "1 targets")
	assert.Empty(t, h.exec.calls)
}

func TestList(t *testing.T) {
	h := newHarness(t)
	h.write(t, "target_list", "main for.cond\ncompute for.body\n")

	require.NoError(t, h.run("-b", h.ws, "list"))
	out := h.out.String()
	assert.Contains(t, out, "2 targets")
	assert.Contains(t, out, "compute")
	assert.True(t, strings.Contains(out, "for.body"))
	assert.Empty(t, h.exec.calls)
}
