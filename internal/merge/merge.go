// Package merge concatenates recorded capture segments into one artifact.
package merge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/inpointtech/acquisition/internal/log"
	"github.com/rs/zerolog"
)

// PlaceholderSize is the exact byte size of the "no signal" file some cameras
// emit when the connection drops mid-segment. Such files carry no frames and
// are excluded from concatenation.
const PlaceholderSize = 300

// ErrNoSegments is returned when a capture directory holds no usable segments.
var ErrNoSegments = errors.New("merge: no usable segments")

var videoExtensions = map[string]struct{}{
	".mp4": {},
	".mkv": {},
	".mov": {},
	".avi": {},
	".ts":  {},
}

// IsPlaceholder reports whether path is a dropped-connection placeholder
// segment. Missing files count as placeholders: there is nothing to merge.
func IsPlaceholder(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	return info.Size() == PlaceholderSize
}

// Merger concatenates segment files with ffmpeg's concat demuxer.
type Merger struct {
	FFmpegPath string

	// run executes the external command; tests replace it.
	run    func(ctx context.Context, name string, args ...string) error
	logger zerolog.Logger
}

// New returns a Merger using the given ffmpeg binary.
func New(ffmpegPath string) *Merger {
	return &Merger{
		FFmpegPath: ffmpegPath,
		run: func(ctx context.Context, name string, args ...string) error {
			cmd := exec.CommandContext(ctx, name, args...) // #nosec G204
			out, err := cmd.CombinedOutput()
			if err != nil {
				return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
			}
			return nil
		},
		logger: log.WithComponent("merge"),
	}
}

// Concatenate merges all usable segments in dir, oldest first, into a single
// mp4 and removes the inputs. Placeholder segments are deleted. A single
// usable segment is returned as-is. ErrNoSegments is returned when nothing
// usable remains.
func (m *Merger) Concatenate(ctx context.Context, dir string) (string, error) {
	segments, err := m.usableSegments(dir)
	if err != nil {
		return "", err
	}
	if len(segments) == 0 {
		return "", ErrNoSegments
	}
	if len(segments) == 1 {
		return segments[0], nil
	}

	listPath := filepath.Join(dir, "segments.txt")
	var list strings.Builder
	for _, seg := range segments {
		fmt.Fprintf(&list, "file '%s'\n", seg)
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return "", fmt.Errorf("write segment list: %w", err)
	}
	defer func() { _ = os.Remove(listPath) }()

	output := filepath.Join(dir, fmt.Sprintf("merged_%s.mp4", time.Now().UTC().Format("20060102_150405")))
	args := []string{
		"-loglevel", "error", "-y",
		"-f", "concat", "-safe", "0",
		"-i", listPath,
		"-c:v", "copy", "-c:a", "copy",
		output,
	}
	if err := m.run(ctx, m.FFmpegPath, args...); err != nil {
		return "", fmt.Errorf("concat %d segments in %s: %w", len(segments), dir, err)
	}

	for _, seg := range segments {
		if err := os.Remove(seg); err != nil {
			m.logger.Warn().Err(err).Str(log.FieldPath, seg).Msg("failed to remove merged segment")
		}
	}

	m.logger.Info().
		Str("event", "merge.done").
		Str(log.FieldPath, output).
		Int("segments", len(segments)).
		Msg("segments concatenated")

	return output, nil
}

// usableSegments lists the video files of dir in creation order, dropping
// (and deleting) placeholder segments.
func (m *Merger) usableSegments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read capture dir: %w", err)
	}

	type segment struct {
		path    string
		modTime time.Time
	}
	var segments []segment
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := videoExtensions[strings.ToLower(filepath.Ext(entry.Name()))]; !ok {
			continue
		}
		p := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.Size() == PlaceholderSize {
			if err := os.Remove(p); err != nil {
				m.logger.Warn().Err(err).Str(log.FieldPath, p).Msg("failed to remove placeholder segment")
			}
			continue
		}
		segments = append(segments, segment{path: p, modTime: info.ModTime()})
	}

	sort.Slice(segments, func(i, j int) bool {
		return segments[i].modTime.Before(segments[j].modTime)
	})

	out := make([]string, len(segments))
	for i, s := range segments {
		out[i] = s.path
	}
	return out, nil
}
