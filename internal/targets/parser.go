package targets

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"promptrun/internal/logging"
)

// ParseOptions controls how target lines are read.
type ParseOptions struct {
	// SkipBlank ignores whitespace-only lines. Lists derived from a log can
	// contain them; hand-written lists in strict mode must not.
	SkipBlank bool

	// Source names the input in error messages.
	Source string
}

// Parse reads pairs from r in order. The first two whitespace-separated
// tokens of each line are the function and loop; the rest is ignored.
func Parse(r io.Reader, opts ParseOptions) (List, error) {
	br := bufio.NewReader(r)
	list := List{}
	lineNo := 0

	for {
		line, err := br.ReadString('\n')
		if line == "" && err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("read %s: %w", opts.Source, err)
		}
		lineNo++

		fields := strings.Fields(line)
		if len(fields) == 0 && opts.SkipBlank {
			logging.ParseDebug("Skipping blank line %d of %s", lineNo, opts.Source)
		} else if len(fields) < 2 {
			return nil, &MalformedLineError{
				Path: opts.Source,
				Line: lineNo,
				Text: strings.TrimRight(line, "\r\n"),
			}
		} else {
			list = append(list, Pair{Function: fields[0], Loop: fields[1]})
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", opts.Source, err)
		}
	}

	logging.Parse("Parsed %d targets from %s", len(list), opts.Source)
	return list, nil
}

// ParseFile opens path and parses it.
func ParseFile(path string, opts ParseOptions) (List, error) {
	f, err := os.Open(path)
	if err != nil {
		logging.ParseError("Cannot open target list %s: %v", path, err)
		return nil, fmt.Errorf("open target list: %w", err)
	}
	defer f.Close()

	if opts.Source == "" {
		opts.Source = path
	}
	return Parse(f, opts)
}
