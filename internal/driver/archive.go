package driver

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"promptrun/internal/logging"
	"promptrun/internal/targets"
)

// archiveArtifact copies the artifact into dir. A missing artifact is not
// an error: the build may have failed before producing one.
func archiveArtifact(artifact, dir string, seq int, pair targets.Pair) (string, error) {
	src, err := os.Open(artifact)
	if err != nil {
		if os.IsNotExist(err) {
			logging.DriverDebug("Archive: no artifact after target %d (%s)", seq, pair)
			return "", nil
		}
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	dst := filepath.Join(dir, ArchiveName(artifact, seq, pair))
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}

	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return "", fmt.Errorf("copy artifact to %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", dst, err)
	}

	logging.DriverDebug("Archive: %s -> %s", artifact, dst)
	return dst, nil
}
