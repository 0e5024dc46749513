package capture

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/inpointtech/acquisition/internal/log"
	"github.com/rs/zerolog"
)

// SegmentSpec describes one bounded recording segment.
type SegmentSpec struct {
	StreamURL string
	Path      string
	Duration  float64 // seconds of content to record
	TimeoutUS int64   // socket timeout in microseconds
}

// Recorder records a single segment of live video.
type Recorder interface {
	Record(ctx context.Context, spec SegmentSpec) error
}

// FFmpegSession implements Recorder by spawning ffmpeg against the RTSP
// stream with copy-codec pass-through.
type FFmpegSession struct {
	BinPath string

	run    func(ctx context.Context, name string, args ...string) error
	logger zerolog.Logger
}

// NewFFmpegSession returns a session recorder using the given ffmpeg binary.
func NewFFmpegSession(binPath string) *FFmpegSession {
	return &FFmpegSession{
		BinPath: binPath,
		run: func(ctx context.Context, name string, args ...string) error {
			cmd := exec.CommandContext(ctx, name, args...) // #nosec G204
			out, err := cmd.CombinedOutput()
			if err != nil {
				return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
			}
			return nil
		},
		logger: log.WithComponent("capture.session"),
	}
}

// Record runs ffmpeg until the segment duration is reached or the stream
// drops. The camera timeout caps how long ffmpeg waits on a stalled socket.
func (s *FFmpegSession) Record(ctx context.Context, spec SegmentSpec) error {
	args := s.buildArgs(spec)
	s.logger.Debug().
		Str("event", "session.record").
		Str(log.FieldPath, spec.Path).
		Float64(log.FieldDuration, spec.Duration).
		Msg("starting segment recording")
	return s.run(ctx, s.BinPath, args...)
}

func (s *FFmpegSession) buildArgs(spec SegmentSpec) []string {
	return []string{
		"-loglevel", "error", "-y",
		"-rtsp_transport", "tcp",
		"-timeout", strconv.FormatInt(spec.TimeoutUS, 10),
		"-i", spec.StreamURL,
		"-t", strconv.FormatFloat(spec.Duration, 'f', -1, 64),
		"-c:v", "copy", "-c:a", "copy",
		spec.Path,
	}
}
