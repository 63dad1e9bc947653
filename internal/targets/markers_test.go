package targets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkerPayload(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		want   string
		wantOK bool
	}{
		{"canonical", "PROMPT TARGETS: foo loop3 extra", "foo loop3 extra", true},
		{"with newline", "PROMPT TARGETS: f1 L1\n", "f1 L1", true},
		{"with CRLF", "PROMPT TARGETS: f1 L1\r\n", "f1 L1", true},
		{"internal whitespace kept", "PROMPT TARGETS: f1\t  L1", "f1\t  L1", true},
		{"leading whitespace", "   PROMPT TARGETS: f L", "f L", true},
		{"no marker", "Parallelizer: selected loops", "", false},
		{"marker without trailing space", "PROMPT TARGETS:f L", "", false},
		{"marker without payload", "PROMPT TARGETS: ", "", true},
		{"prefixed marker keeps split semantics", "[x] PROMPT TARGETS: f L", "TARGETS: f L", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MarkerPayload(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitFieldsN(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"a b c d", []string{"a", "b", "c d"}},
		{"  a   b   c  d ", []string{"a", "b", "c  d "}},
		{"a b", []string{"a", "b"}},
		{"a", []string{"a"}},
		{"   ", nil},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, splitFieldsN(tt.in, 3)); diff != "" {
			t.Errorf("splitFieldsN(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestExtract(t *testing.T) {
	log := strings.Join([]string{
		"Parallelizer:    Selected loops with index: 0 1",
		"PROMPT TARGETS: f1 L1",
		"noise",
		"PROMPT TARGETS: f2 L2",
	}, "\n")

	got, err := Extract(context.Background(), strings.NewReader(log))
	require.NoError(t, err)
	assert.Equal(t, []string{"f1 L1", "f2 L2"}, got)
}

func TestExtract_MarkerWithoutPayloadIsFatal(t *testing.T) {
	log := "PROMPT TARGETS: f1 L1\nbuilding\nPROMPT TARGETS: \r\nPROMPT TARGETS: f2 L2\n"

	got, err := Extract(context.Background(), strings.NewReader(log))
	require.ErrorIs(t, err, ErrMalformedMarker)
	assert.Nil(t, got)

	var me *MalformedMarkerError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, 3, me.Line)
	assert.Equal(t, "PROMPT TARGETS: ", me.Text)
}

func TestExtract_NoMarkers(t *testing.T) {
	got, err := Extract(context.Background(), strings.NewReader("nothing here\n"))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, Render(got))
}

func TestExtract_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Extract(ctx, strings.NewReader("PROMPT TARGETS: f L\n"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtractAll_PreservesArgumentOrder(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i, content := range []string{
		"PROMPT TARGETS: a1 L\nPROMPT TARGETS: a2 L\n",
		"nothing\n",
		"PROMPT TARGETS: c1 L\n",
	} {
		p := filepath.Join(dir, "log"+string(rune('0'+i)))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
		paths = append(paths, p)
	}

	got, err := ExtractAll(context.Background(), paths)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1 L", "a2 L", "c1 L"}, got)
}

func TestExtractAll_MissingLog(t *testing.T) {
	_, err := ExtractAll(context.Background(), []string{filepath.Join(t.TempDir(), "gone.log")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLogMissing))
}

func TestRender(t *testing.T) {
	assert.Equal(t, "f1 L1\nf2 L2\n", string(Render([]string{"f1 L1", "f2 L2"})))
	assert.Equal(t, "\n", string(Render([]string{""})))
}
