package targets

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"golang.org/x/sync/errgroup"

	"promptrun/internal/logging"
)

// Marker is the substring the parallelizer prints in front of each loop it selects.
const Marker = "PROMPT TARGETS: "

// MarkerPayload returns what follows the second whitespace-separated token
// of a marker line, verbatim apart from the line terminator. ok is false for
// lines without the marker. A marker line with no payload yields "" and true.
func MarkerPayload(line string) (payload string, ok bool) {
	if !strings.Contains(line, Marker) {
		return "", false
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")

	parts := splitFieldsN(line, 3)
	if len(parts) < 3 {
		return "", true
	}
	return parts[2], true
}

// splitFieldsN splits s around runs of whitespace into at most n parts.
// Leading whitespace is dropped; the last part keeps its internal and
// trailing whitespace.
func splitFieldsN(s string, n int) []string {
	var parts []string
	for len(parts) < n-1 {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		if s == "" {
			return parts
		}
		end := strings.IndexFunc(s, unicode.IsSpace)
		if end < 0 {
			return append(parts, s)
		}
		parts = append(parts, s[:end])
		s = s[end:]
	}
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	if s != "" {
		parts = append(parts, s)
	}
	return parts
}

// Extract collects marker payloads from r in order. A marker line with no
// payload is a *MalformedMarkerError.
func Extract(ctx context.Context, r io.Reader) ([]string, error) {
	br := bufio.NewReader(r)
	var payloads []string
	lineNo := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := br.ReadString('\n')
		if line != "" {
			lineNo++
			if p, ok := MarkerPayload(line); ok {
				if p == "" {
					text := strings.TrimRight(line, "\r\n")
					logging.ResolveError("Marker line %d without payload: %q", lineNo, text)
					return nil, &MalformedMarkerError{Line: lineNo, Text: text}
				}
				payloads = append(payloads, p)
			}
		}
		if err == io.EOF {
			return payloads, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// ExtractFile collects marker payloads from the log at path.
func ExtractFile(ctx context.Context, path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrLogMissing, path)
		}
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	payloads, err := Extract(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("scan log %s: %w", path, err)
	}
	logging.ResolveDebug("Found %d markers in %s", len(payloads), path)
	return payloads, nil
}

// ExtractAll scans several logs concurrently and concatenates their payloads
// in argument order.
func ExtractAll(ctx context.Context, paths []string) ([]string, error) {
	results := make([][]string, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			payloads, err := ExtractFile(gctx, path)
			if err != nil {
				return err
			}
			results[i] = payloads
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []string
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

// Render formats payloads as target-list file contents, one per line.
func Render(payloads []string) []byte {
	var sb strings.Builder
	for _, p := range payloads {
		sb.WriteString(p)
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}
