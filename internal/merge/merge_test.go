package merge

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSegment(t *testing.T, dir, name string, size int, mod time.Time) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, bytes.Repeat([]byte{0xAB}, size), 0o644))
	require.NoError(t, os.Chtimes(p, mod, mod))
	return p
}

func newTestMerger(t *testing.T) (*Merger, *[][]string) {
	t.Helper()
	var calls [][]string
	m := New("ffmpeg")
	m.run = func(ctx context.Context, name string, args ...string) error {
		calls = append(calls, append([]string{name}, args...))
		// Emulate ffmpeg writing the output file named by the last argument.
		return os.WriteFile(args[len(args)-1], []byte("merged"), 0o644)
	}
	return m, &calls
}

func TestConcatenateOnlyPlaceholder(t *testing.T) {
	dir := t.TempDir()
	m, calls := newTestMerger(t)
	placeholder := writeSegment(t, dir, "segment_001.mp4", PlaceholderSize, time.Now())

	out, err := m.Concatenate(context.Background(), dir)

	assert.ErrorIs(t, err, ErrNoSegments)
	assert.Empty(t, out)
	assert.NoFileExists(t, placeholder, "placeholder must be deleted")
	assert.Empty(t, *calls, "ffmpeg must not run without usable segments")
}

func TestConcatenateEmptyDir(t *testing.T) {
	m, _ := newTestMerger(t)
	_, err := m.Concatenate(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrNoSegments)
}

func TestConcatenateSingleSegment(t *testing.T) {
	dir := t.TempDir()
	m, calls := newTestMerger(t)
	seg := writeSegment(t, dir, "segment_001.mp4", 4096, time.Now())

	out, err := m.Concatenate(context.Background(), dir)

	require.NoError(t, err)
	assert.Equal(t, seg, out)
	assert.Empty(t, *calls, "single segment needs no ffmpeg run")
}

func TestConcatenateOrdersByCreation(t *testing.T) {
	dir := t.TempDir()
	m, calls := newTestMerger(t)

	base := time.Now().Add(-time.Hour)
	// Name order deliberately disagrees with creation order.
	second := writeSegment(t, dir, "segment_001.mp4", 4096, base.Add(2*time.Minute))
	first := writeSegment(t, dir, "segment_002.mp4", 4096, base)
	writeSegment(t, dir, "notes.txt", 10, base) // ignored, wrong extension
	placeholder := writeSegment(t, dir, "segment_003.mp4", PlaceholderSize, base.Add(time.Minute))

	out, err := m.Concatenate(context.Background(), dir)

	require.NoError(t, err)
	assert.FileExists(t, out)
	require.Len(t, *calls, 1)

	// Inputs and the placeholder are gone afterwards.
	assert.NoFileExists(t, first)
	assert.NoFileExists(t, second)
	assert.NoFileExists(t, placeholder)
	assert.NoFileExists(t, filepath.Join(dir, "segments.txt"))

	wantArgs := []string{
		"ffmpeg",
		"-loglevel", "error", "-y",
		"-f", "concat", "-safe", "0",
		"-i", filepath.Join(dir, "segments.txt"),
		"-c:v", "copy", "-c:a", "copy",
		out,
	}
	if diff := cmp.Diff(wantArgs, (*calls)[0]); diff != "" {
		t.Errorf("ffmpeg args mismatch (-want +got):\n%s", diff)
	}
}

func TestConcatenateListOrder(t *testing.T) {
	dir := t.TempDir()
	m := New("ffmpeg")

	base := time.Now().Add(-time.Hour)
	first := writeSegment(t, dir, "b.mp4", 4096, base)
	second := writeSegment(t, dir, "a.mp4", 4096, base.Add(time.Minute))

	var listContent string
	m.run = func(ctx context.Context, name string, args ...string) error {
		raw, err := os.ReadFile(filepath.Join(dir, "segments.txt"))
		require.NoError(t, err)
		listContent = string(raw)
		return os.WriteFile(args[len(args)-1], []byte("merged"), 0o644)
	}

	_, err := m.Concatenate(context.Background(), dir)
	require.NoError(t, err)

	want := "file '" + first + "'\nfile '" + second + "'\n"
	assert.Equal(t, want, listContent)
}

func TestIsPlaceholder(t *testing.T) {
	dir := t.TempDir()
	placeholder := writeSegment(t, dir, "p.mp4", PlaceholderSize, time.Now())
	valid := writeSegment(t, dir, "v.mp4", 4096, time.Now())

	assert.True(t, IsPlaceholder(placeholder))
	assert.False(t, IsPlaceholder(valid))
	assert.True(t, IsPlaceholder(filepath.Join(dir, "missing.mp4")))
}
