// Package build provides the environment handed to each profiling build.
// The inherited process environment passes through unchanged; the target
// pair is layered on top as two variables the workspace Makefile reads.
package build

import (
	"os"
	"strings"

	"promptrun/internal/config"
	"promptrun/internal/logging"
	"promptrun/internal/targets"
)

// Vars names the environment variables carrying a target pair.
type Vars struct {
	Function string
	Loop     string
}

// DefaultVars are the names the profiling Makefiles expect.
var DefaultVars = Vars{Function: "TARGETFCN", Loop: "TARGETLOOP"}

// VarsFromConfig returns the configured variable names, falling back to DefaultVars.
func VarsFromConfig(cfg config.BuildConfig) Vars {
	v := DefaultVars
	if cfg.FunctionVar != "" {
		v.Function = cfg.FunctionVar
	}
	if cfg.LoopVar != "" {
		v.Loop = cfg.LoopVar
	}
	return v
}

// Overlay returns the KEY=VALUE entries for one pair.
func (v Vars) Overlay(p targets.Pair) []string {
	return []string{
		v.Function + "=" + p.Function,
		v.Loop + "=" + p.Loop,
	}
}

// ProcessEnv returns the process environment with overlay applied. Inherited
// values the overlay replaces are logged.
func ProcessEnv(overlay ...string) []string {
	base := os.Environ()
	for _, kv := range overlay {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		if old, found := LookupEnv(base, key); found && old != val {
			logging.BuildDebug("Overriding inherited %s=%s with %s", key, old, val)
		}
	}
	env := MergeEnv(base, overlay...)
	logging.BuildDebug("Process env: %d inherited, %d overlaid, %d total", len(base), len(overlay), len(env))
	return env
}

// hasEnvKey checks if an environment key is already set.
func hasEnvKey(env []string, key string) bool {
	prefix := key + "="
	for _, e := range env {
		if strings.HasPrefix(e, prefix) {
			return true
		}
	}
	return false
}

// LookupEnv returns the last value of key in env.
func LookupEnv(env []string, key string) (string, bool) {
	prefix := key + "="
	val, found := "", false
	for _, e := range env {
		if strings.HasPrefix(e, prefix) {
			val, found = e[len(prefix):], true
		}
	}
	return val, found
}

// setEnvKey sets key in place of its first occurrence and drops any later
// duplicates, so exec sees exactly one value.
func setEnvKey(env []string, key, value string) []string {
	if !hasEnvKey(env, key) {
		return append(env, key+"="+value)
	}
	prefix := key + "="
	out := env[:0]
	replaced := false
	for _, e := range env {
		if strings.HasPrefix(e, prefix) {
			if replaced {
				continue
			}
			e = key + "=" + value
			replaced = true
		}
		out = append(out, e)
	}
	return out
}

// MergeEnv merges additional environment variables into base env.
// Later values override earlier ones.
func MergeEnv(base []string, additional ...string) []string {
	result := make([]string, len(base), len(base)+len(additional))
	copy(result, base)

	for _, add := range additional {
		parts := strings.SplitN(add, "=", 2)
		if len(parts) == 2 && parts[0] != "" {
			result = setEnvKey(result, parts[0], parts[1])
		}
	}

	return result
}
