package targets

import (
	"context"
	"fmt"
	"os"

	"promptrun/internal/logging"
)

// Resolver guarantees a target list exists on disk, deriving it from a log
// when necessary. Paths are used as given; callers resolve them against the
// workspace.
type Resolver struct {
	Workspace  string
	TargetList string

	// Log is the compiler log used for derivation. Empty disables derivation.
	Log string
}

// Resolution describes how the target list was obtained.
type Resolution struct {
	Path    string
	Derived bool
	Markers int
}

// CheckWorkspace fails unless the workspace exists and is a directory.
func CheckWorkspace(workspace string) error {
	info, err := os.Stat(workspace)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrWorkspaceMissing, workspace)
		}
		return fmt.Errorf("stat workspace %s: %w", workspace, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrWorkspaceMissing, workspace)
	}
	return nil
}

// Resolve makes sure the target list exists. An existing list is never
// rewritten; otherwise it is derived from the log if there is one.
func (r *Resolver) Resolve(ctx context.Context) (*Resolution, error) {
	if err := CheckWorkspace(r.Workspace); err != nil {
		logging.ResolveError("%v", err)
		return nil, err
	}

	if exists(r.TargetList) {
		logging.Resolve("Using existing target list %s", r.TargetList)
		return &Resolution{Path: r.TargetList}, nil
	}

	if r.Log == "" {
		return nil, fmt.Errorf("%w: %s", ErrTargetListMissing, r.TargetList)
	}
	if !exists(r.Log) {
		return nil, fmt.Errorf("%w: %s (and log %s does not exist)", ErrTargetListMissing, r.TargetList, r.Log)
	}

	n, err := Derive(ctx, r.TargetList, r.Log)
	if err != nil {
		return nil, err
	}
	return &Resolution{Path: r.TargetList, Derived: true, Markers: n}, nil
}

// Derive writes the marker payloads of logs to targetList in a single write,
// replacing any previous contents. It returns the number of markers found.
func Derive(ctx context.Context, targetList string, logs ...string) (int, error) {
	timer := logging.StartTimer(logging.CategoryResolve, "Target list derivation")
	defer timer.Stop()

	payloads, err := ExtractAll(ctx, logs)
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(targetList, Render(payloads), 0644); err != nil {
		return 0, fmt.Errorf("write target list: %w", err)
	}
	logging.Resolve("Derived %s from %v: %d markers", targetList, logs, len(payloads))
	return len(payloads), nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
