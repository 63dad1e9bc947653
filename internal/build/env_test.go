package build

import (
	"os"
	"testing"

	"promptrun/internal/config"
	"promptrun/internal/targets"
)

func TestVarsFromConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		if got := VarsFromConfig(config.BuildConfig{}); got != DefaultVars {
			t.Fatalf("VarsFromConfig(empty) = %+v, want %+v", got, DefaultVars)
		}
	})

	t.Run("custom", func(t *testing.T) {
		got := VarsFromConfig(config.BuildConfig{FunctionVar: "FN", LoopVar: "LP"})
		if got.Function != "FN" || got.Loop != "LP" {
			t.Fatalf("VarsFromConfig(custom) = %+v", got)
		}
	})
}

func TestOverlay_OnBaseEnv(t *testing.T) {
	base := []string{"PATH=/usr/bin", "HOME=/home/u", "TARGETFCN=stale"}
	env := MergeEnv(base, DefaultVars.Overlay(targets.Pair{Function: "f1", Loop: "L1"})...)

	if v, _ := LookupEnv(env, "TARGETFCN"); v != "f1" {
		t.Errorf("TARGETFCN = %q, want f1", v)
	}
	if v, _ := LookupEnv(env, "TARGETLOOP"); v != "L1" {
		t.Errorf("TARGETLOOP = %q, want L1", v)
	}
	if v, _ := LookupEnv(env, "PATH"); v != "/usr/bin" {
		t.Errorf("PATH = %q, inherited vars must pass through", v)
	}
	if v, _ := LookupEnv(env, "HOME"); v != "/home/u" {
		t.Errorf("HOME = %q, inherited vars must pass through", v)
	}
	if len(env) != 4 {
		t.Errorf("len(env) = %d, want 4: %v", len(env), env)
	}

	if base[2] != "TARGETFCN=stale" {
		t.Errorf("base was modified: %v", base)
	}
}

func TestProcessEnv_InheritsAndOverrides(t *testing.T) {
	t.Setenv("PROMPTRUN_TEST_PASSTHROUGH", "yes")
	t.Setenv("TARGETFCN", "stale")
	env := ProcessEnv(DefaultVars.Overlay(targets.Pair{Function: "f", Loop: "l"})...)

	if v, ok := LookupEnv(env, "PROMPTRUN_TEST_PASSTHROUGH"); !ok || v != "yes" {
		t.Errorf("process env not inherited: %q %v", v, ok)
	}
	if v, _ := LookupEnv(env, "TARGETFCN"); v != "f" {
		t.Errorf("TARGETFCN = %q, want f", v)
	}
	if v, _ := LookupEnv(env, "TARGETLOOP"); v != "l" {
		t.Errorf("TARGETLOOP = %q", v)
	}
	if v := os.Getenv("TARGETFCN"); v != "stale" {
		t.Errorf("process env modified: TARGETFCN=%q", v)
	}
}

func TestMergeEnv_DropsDuplicates(t *testing.T) {
	base := []string{"A=1", "B=2", "A=3"}
	got := MergeEnv(base, "A=9")

	want := []string{"A=9", "B=2"}
	if len(got) != len(want) {
		t.Fatalf("MergeEnv() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("MergeEnv() = %v, want %v", got, want)
		}
	}
}

func TestMergeEnv_ValueWithEquals(t *testing.T) {
	got := MergeEnv(nil, "CFLAGS=-DX=1")
	if v, _ := LookupEnv(got, "CFLAGS"); v != "-DX=1" {
		t.Errorf("CFLAGS = %q", v)
	}
}

func TestMergeEnv_IgnoresMalformed(t *testing.T) {
	got := MergeEnv([]string{"A=1"}, "novalue", "=x")
	if len(got) != 1 || got[0] != "A=1" {
		t.Errorf("MergeEnv() = %v", got)
	}
}

func TestLookupEnv_Missing(t *testing.T) {
	if _, ok := LookupEnv([]string{"A=1"}, "B"); ok {
		t.Error("expected missing key")
	}
	if _, ok := LookupEnv([]string{"AB=1"}, "A"); ok {
		t.Error("prefix of another key must not match")
	}
}
