package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptrun/internal/build"
	"promptrun/internal/driver"
	"promptrun/internal/tactile"
	"promptrun/internal/targets"
)

// cancelingExecutor cancels the run's context while the first build is running.
type cancelingExecutor struct {
	cancel context.CancelFunc
}

func (e *cancelingExecutor) Validate(tactile.Command) error { return nil }

func (e *cancelingExecutor) Execute(_ context.Context, cmd tactile.Command) (*tactile.ExecutionResult, error) {
	if cmd.Binary == "make" {
		e.cancel()
	}
	return &tactile.ExecutionResult{Success: true}, nil
}

func TestHistoryStore_InterruptedRunKeepsFinishedBuild(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := driver.New(&cancelingExecutor{cancel: cancel}, driver.Options{
		Workspace:    t.TempDir(),
		Artifact:     "result.slamp.profile",
		Target:       "result.slamp.profile",
		BuildCommand: []string{"make"},
		ResetCommand: []string{"rm"},
		Vars:         build.DefaultVars,
	})
	var warnings []driver.Warning
	d.OnWarning = func(w driver.Warning) { warnings = append(warnings, w) }
	d.Recorder = s

	report, err := d.Run(ctx, targets.List{{Function: "f1", Loop: "L1"}, {Function: "f2", Loop: "L2"}})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, report.Invocations, 1)
	assert.Empty(t, warnings)

	bg := context.Background()
	invs, err := s.Invocations(bg, report.RunID)
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, "f1", invs[0].Pair.Function)

	rec, err := s.GetRun(bg, report.RunID)
	require.NoError(t, err)
	assert.True(t, rec.Interrupted)
	assert.Equal(t, 1, rec.Invocations)
}
