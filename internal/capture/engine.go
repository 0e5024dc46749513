// Package capture records one calendar-time-bounded session of live video,
// compensating for connectivity outages.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/inpointtech/acquisition/internal/log"
	"github.com/inpointtech/acquisition/internal/merge"
	"github.com/inpointtech/acquisition/internal/metrics"
)

// ErrEmptyWindow is returned when the requested window has no positive duration.
var ErrEmptyWindow = errors.New("capture: window duration is zero")

// Clock abstracts wall-clock reads for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Merger is the segment-merge collaborator contract.
type Merger interface {
	Concatenate(ctx context.Context, dir string) (string, error)
}

// Request describes one capture session.
type Request struct {
	Dir          string    // segment directory, created if missing
	StreamURL    string    // camera stream to record
	ProbeAddress string    // host:port used by the connectivity probe
	Start        time.Time // UTC window start
	End          time.Time // UTC window end; the hard deadline
	Timeout      time.Duration
}

// Budget tracks the remaining recording time owed for the current session.
type Budget struct {
	Target    time.Duration
	Remaining time.Duration
	Lost      time.Duration // accumulated outage time not yet charged
	Deadline  time.Time
}

// Charge subtracts a completed segment's recorded duration plus any
// accumulated outage time, then resets the outage accumulator.
func (b *Budget) Charge(recorded time.Duration) {
	b.Remaining -= recorded + b.Lost
	b.Lost = 0
}

// Exhausted reports whether the session must stop.
func (b *Budget) Exhausted(now time.Time) bool {
	return !now.Before(b.Deadline) || b.Remaining <= 0
}

// Engine drives the capture loop: probe, record a segment sized to the
// remaining budget, account, repeat until the budget or the deadline runs
// out, then hand the directory to the merger.
type Engine struct {
	Probe   Prober
	Session Recorder
	Meter   DurationMeter
	Merge   Merger

	Clock Clock
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine wires an Engine with the real clock and an interruptible sleep.
func NewEngine(probe Prober, session Recorder, meter DurationMeter, merger Merger) *Engine {
	return &Engine{
		Probe:   probe,
		Session: session,
		Meter:   meter,
		Merge:   merger,
		Clock:   RealClock{},
		Sleep:   ctxSleep,
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SegmentPath names the idx-th segment file inside dir.
func SegmentPath(dir string, idx int) string {
	return filepath.Join(dir, fmt.Sprintf("segment_%03d.mp4", idx))
}

// Run records the session described by req and returns the merged artifact
// path. It returns ("", nil) when the camera produced no usable frames.
func (e *Engine) Run(ctx context.Context, req Request) (string, error) {
	logger := log.WithComponentFromContext(ctx, "capture")

	budget := Budget{
		Target:    req.End.Sub(req.Start),
		Remaining: req.End.Sub(req.Start),
		Deadline:  req.End,
	}
	if budget.Target <= 0 {
		return "", ErrEmptyWindow
	}
	if err := os.MkdirAll(req.Dir, 0o750); err != nil {
		return "", fmt.Errorf("create capture dir: %w", err)
	}

	logger.Info().
		Str("event", "capture.start").
		Float64(log.FieldDuration, budget.Target.Seconds()).
		Time(log.FieldDeadline, budget.Deadline).
		Msg("capture session started")

	idx := 1
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		// A session admitted after its deadline records nothing; late
		// footage would land outside the ordered window.
		if budget.Exhausted(e.Clock.Now()) {
			break
		}

		if !e.Probe.Reachable(ctx, req.ProbeAddress, req.Timeout) {
			// Charge the outage against the budget and back off before
			// the next probe.
			budget.Lost += req.Timeout
			metrics.OutageSecondsTotal.Add(req.Timeout.Seconds())
			logger.Warn().
				Str("event", "capture.outage").
				Float64(log.FieldLost, budget.Lost.Seconds()).
				Msg("camera unreachable, compensating lost time")
			if err := e.Sleep(ctx, req.Timeout); err != nil {
				return "", err
			}
			continue
		}

		seg := SegmentPath(req.Dir, idx)
		segStart := e.Clock.Now()
		if err := e.Session.Record(ctx, SegmentSpec{
			StreamURL: req.StreamURL,
			Path:      seg,
			Duration:  budget.Remaining.Seconds(),
			TimeoutUS: req.Timeout.Microseconds(),
		}); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			logger.Warn().Err(err).
				Str(log.FieldSegment, seg).
				Msg("segment recording ended early")
		}
		now := e.Clock.Now()

		var recorded time.Duration
		if merge.IsPlaceholder(seg) {
			// The camera dropped the connection; only wall-clock time
			// passed, no content was written.
			recorded = now.Sub(segStart)
			metrics.SegmentsRecordedTotal.WithLabelValues("placeholder").Inc()
		} else {
			d, err := e.Meter.Duration(ctx, seg)
			if err != nil {
				logger.Warn().Err(err).
					Str(log.FieldSegment, seg).
					Msg("could not measure segment, charging wall clock")
				d = now.Sub(segStart)
			}
			recorded = d
			metrics.SegmentsRecordedTotal.WithLabelValues("valid").Inc()
		}
		budget.Charge(recorded)
		idx++

		logger.Debug().
			Str("event", "capture.segment").
			Str(log.FieldSegment, seg).
			Float64(log.FieldDuration, recorded.Seconds()).
			Float64(log.FieldRemaining, budget.Remaining.Seconds()).
			Msg("segment accounted")
	}

	out, err := e.Merge.Concatenate(ctx, req.Dir)
	if errors.Is(err, merge.ErrNoSegments) {
		logger.Warn().Str("event", "capture.empty").Msg("no usable frames captured")
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("merge segments: %w", err)
	}

	logger.Info().
		Str("event", "capture.done").
		Str(log.FieldArtifact, out).
		Msg("capture session finished")
	return out, nil
}
