package driver

import (
	"fmt"

	"promptrun/internal/targets"
)

// WarningKind names the step a tolerated failure came from.
type WarningKind string

const (
	WarnReset   WarningKind = "reset"
	WarnBuild   WarningKind = "build"
	WarnArchive WarningKind = "archive"
	WarnRecord  WarningKind = "record"
)

// Warning is a failure the driver absorbed. It never changes the exit status.
type Warning struct {
	Kind WarningKind
	Seq  int
	Pair targets.Pair
	Err  error
}

func (w Warning) String() string {
	if w.Seq == 0 {
		return fmt.Sprintf("%s: %v", w.Kind, w.Err)
	}
	return fmt.Sprintf("%s %d (%s): %v", w.Kind, w.Seq, w.Pair, w.Err)
}
