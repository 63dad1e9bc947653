package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitRegen(t *testing.T, ch <-chan Regeneration) Regeneration {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for regeneration")
		return Regeneration{}
	}
}

func newTestWatcher(t *testing.T, dir string, initial bool) (*LogWatcher, <-chan Regeneration, Options) {
	t.Helper()
	ch := make(chan Regeneration, 16)
	opts := Options{
		TargetList:   filepath.Join(dir, "target_list"),
		Logs:         []string{filepath.Join(dir, "gino.log")},
		Debounce:     50 * time.Millisecond,
		Initial:      initial,
		OnRegenerate: func(r Regeneration) { ch <- r },
	}
	w, err := NewLogWatcher(opts)
	require.NoError(t, err)
	return w, ch, opts
}

func TestLogWatcher_RegeneratesOnWrite(t *testing.T) {
	dir := t.TempDir()
	w, ch, opts := newTestWatcher(t, dir, false)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(opts.Logs[0], []byte("PROMPT TARGETS: f1 L1\n"), 0644))
	r := waitRegen(t, ch)
	require.NoError(t, r.Err)
	assert.Equal(t, 1, r.Pairs)
	assert.Equal(t, opts.Logs[0], r.Trigger)

	data, err := os.ReadFile(opts.TargetList)
	require.NoError(t, err)
	assert.Equal(t, "f1 L1\n", string(data))

	require.NoError(t, os.WriteFile(opts.Logs[0], []byte("PROMPT TARGETS: f1 L1\nPROMPT TARGETS: f2 L2\n"), 0644))
	r = waitRegen(t, ch)
	require.NoError(t, r.Err)
	assert.Equal(t, 2, r.Pairs)

	data, err = os.ReadFile(opts.TargetList)
	require.NoError(t, err)
	assert.Equal(t, "f1 L1\nf2 L2\n", string(data), "each regeneration overwrites")

	stats := w.GetStats()
	assert.Equal(t, 2, stats.Regenerations)
	assert.Equal(t, 2, stats.LastPairs)
}

func TestLogWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	w, ch, _ := newTestWatcher(t, dir, false)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.log"), []byte("PROMPT TARGETS: x y\n"), 0644))

	select {
	case r := <-ch:
		t.Fatalf("unexpected regeneration: %+v", r)
	case <-time.After(300 * time.Millisecond):
	}
	assert.Zero(t, w.GetStats().Events)
}

func TestLogWatcher_Initial(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gino.log"), []byte("PROMPT TARGETS: a b\n"), 0644))
	w, ch, _ := newTestWatcher(t, dir, true)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	r := waitRegen(t, ch)
	require.NoError(t, r.Err)
	assert.Empty(t, r.Trigger)
	assert.Equal(t, 1, r.Pairs)
}

func TestLogWatcher_RunStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	w, _, _ := newTestWatcher(t, dir, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestLogWatcher_StopIdempotent(t *testing.T) {
	w, _, _ := newTestWatcher(t, t.TempDir(), false)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
}

func TestLogWatcher_MissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	w, _, _ := newTestWatcher(t, dir, false)
	assert.Error(t, w.Start(context.Background()))
}

func TestNewLogWatcher_Validation(t *testing.T) {
	_, err := NewLogWatcher(Options{Logs: []string{"gino.log"}})
	assert.Error(t, err)
	_, err = NewLogWatcher(Options{TargetList: "target_list"})
	assert.Error(t, err)
}
