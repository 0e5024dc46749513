package capture

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// DurationMeter measures the recorded content duration of a segment file.
type DurationMeter interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
}

// FFprobe implements DurationMeter with the ffprobe binary.
type FFprobe struct {
	BinPath string

	output func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewFFprobe returns a duration meter using the given ffprobe binary.
func NewFFprobe(binPath string) *FFprobe {
	return &FFprobe{
		BinPath: binPath,
		output: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output() // #nosec G204
		},
	}
}

// Duration returns the container-reported duration of path.
func (p *FFprobe) Duration(ctx context.Context, path string) (time.Duration, error) {
	out, err := p.output(ctx, p.BinPath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: parse duration %q: %w", path, strings.TrimSpace(string(out)), err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
