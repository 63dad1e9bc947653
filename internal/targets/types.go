// Package targets turns compiler logs and target-list files into the ordered
// (function, loop) pairs that drive profiling builds.
//
// A target list is plain text, one pair per line:
//
//	main for.cond
//	compute for.body.i3 extra-ignored
//
// When no target list exists it can be derived from a log by collecting every
// line carrying the "PROMPT TARGETS: " marker.
package targets

import (
	"errors"
	"fmt"
	"strings"
)

// Pair identifies one loop inside one function.
type Pair struct {
	Function string `json:"function"`
	Loop     string `json:"loop"`
}

// String returns "function:loop".
func (p Pair) String() string {
	return p.Function + ":" + p.Loop
}

// List is an ordered sequence of pairs. Order is invocation order; duplicates are kept.
type List []Pair

// String renders the list on one line for the pre-run diagnostic print.
func (l List) String() string {
	parts := make([]string, len(l))
	for i, p := range l {
		parts[i] = p.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

var (
	// ErrWorkspaceMissing means the benchmark workspace does not exist.
	ErrWorkspaceMissing = errors.New("workspace does not exist")

	// ErrTargetListMissing means there is no target list and none could be derived.
	ErrTargetListMissing = errors.New("target list does not exist")

	// ErrLogMissing means a log named for derivation does not exist.
	ErrLogMissing = errors.New("log does not exist")

	// ErrMalformedLine means a target line has fewer than two tokens.
	ErrMalformedLine = errors.New("malformed target line")

	// ErrMalformedMarker means a log marker line carries no target.
	ErrMalformedMarker = errors.New("marker line without target")
)

// MalformedLineError reports the offending line of a target list.
type MalformedLineError struct {
	Path string
	Line int
	Text string
}

func (e *MalformedLineError) Error() string {
	src := e.Path
	if src == "" {
		src = "<input>"
	}
	return fmt.Sprintf("%s:%d: %v: %q needs a function and a loop", src, e.Line, ErrMalformedLine, e.Text)
}

// Unwrap lets errors.Is match ErrMalformedLine.
func (e *MalformedLineError) Unwrap() error {
	return ErrMalformedLine
}

// MalformedMarkerError reports a log line that has the marker but nothing after it.
type MalformedMarkerError struct {
	Line int
	Text string
}

func (e *MalformedMarkerError) Error() string {
	return fmt.Sprintf("line %d: %v: %q", e.Line, ErrMalformedMarker, e.Text)
}

func (e *MalformedMarkerError) Unwrap() error {
	return ErrMalformedMarker
}
