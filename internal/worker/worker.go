// Package worker runs the per-order state machine: wait for the capture
// window, run the capture-and-deliver cycle, then re-arm for the next
// calendar day or terminate.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/inpointtech/acquisition/internal/log"
	"github.com/inpointtech/acquisition/internal/metrics"
	"github.com/inpointtech/acquisition/internal/order"
	"github.com/inpointtech/acquisition/internal/pool"
	"github.com/rs/zerolog"
)

// DefaultTick is the window-wait polling granularity.
const DefaultTick = time.Second

// Store is the slice of persistence the worker needs.
type Store interface {
	UpdateStatus(ctx context.Context, id int64, st order.Status) error
}

// Request identifies one persisted order the worker owns.
type Request struct {
	ID       int64
	WorkerID string
	Order    order.Order
}

// CycleRunner executes one day's capture-and-deliver pipeline.
type CycleRunner interface {
	RunCycle(ctx context.Context, req Request, runDate string) error
}

// Worker owns one order request for its whole lifetime. It is driven by Run
// and shares nothing but the pool registry with other workers.
type Worker struct {
	Pool  *pool.Pool
	Store Store
	Cycle CycleRunner

	Clock Clock
	Tick  time.Duration
}

// New wires a Worker with the real clock and the default tick.
func New(p *pool.Pool, s Store, c CycleRunner) *Worker {
	return &Worker{
		Pool:  p,
		Store: s,
		Cycle: c,
		Clock: RealClock{},
		Tick:  DefaultTick,
	}
}

// Run executes the order until its end date passes, a cycle fails, or ctx is
// cancelled. The caller must already hold a pool slot; Run registers and
// deregisters the worker identity itself.
func (w *Worker) Run(ctx context.Context, req Request) error {
	ctx = log.ContextWithWorkerID(ctx, req.WorkerID)
	logger := log.WithComponentFromContext(ctx, "worker")

	w.Pool.Spawn(req.WorkerID)
	metrics.ActiveWorkers.Set(float64(w.Pool.ActiveCount()))
	despawned := false
	despawn := func() {
		if despawned {
			return
		}
		despawned = true
		w.Pool.Despawn(req.WorkerID)
		metrics.ActiveWorkers.Set(float64(w.Pool.ActiveCount()))
		logger.Info().Str("event", "worker.despawn").Msg("worker released")
	}
	defer despawn()

	boundary, err := req.Order.EndBoundary()
	if err != nil {
		return w.fail(ctx, req, err)
	}
	loc, err := time.LoadLocation(req.Order.Timezone)
	if err != nil {
		return w.fail(ctx, req, err)
	}

	immediate := req.Order.ImmediateArchived()
	runDate := req.Order.StartDate
	for {
		target, err := req.Order.WindowStart(runDate)
		if err != nil {
			return w.fail(ctx, req, err)
		}
		end, err := req.Order.WindowEnd(runDate)
		if err != nil {
			return w.fail(ctx, req, err)
		}
		logger.Info().
			Str("event", "worker.scheduled").
			Str("run_date", runDate).
			Time("start", target).
			Time("until", boundary).
			Msg("capture window scheduled")

		if immediate {
			// An unscheduled archived retrieval starts as soon as the
			// worker is admitted; only later cycles wait for the window.
			immediate = false
		} else {
			outcome, err := w.awaitWindow(ctx, target, end, boundary)
			if err != nil {
				return w.cancelled(ctx, req, logger, err)
			}
			switch outcome {
			case windowClosed:
				// The end boundary passed without another window.
				return w.finish(ctx, req, logger, despawn)
			case windowMissed:
				// Today's window is already over; recording now would
				// produce off-schedule footage. Skip to the next day.
				logger.Warn().
					Str("event", "worker.window_missed").
					Str("run_date", runDate).
					Msg("capture window already over, skipping run date")
				runDate = w.Clock.Now().In(loc).AddDate(0, 0, 1).Format(order.DateLayout)
				if runDate > req.Order.EndDate {
					return w.finish(ctx, req, logger, despawn)
				}
				continue
			}
		}

		if err := w.Store.UpdateStatus(ctx, req.ID, order.StatusRunning); err != nil {
			return w.fail(ctx, req, err)
		}
		if err := w.Cycle.RunCycle(ctx, req, runDate); err != nil {
			if ctx.Err() != nil {
				return w.cancelled(ctx, req, logger, ctx.Err())
			}
			return w.fail(ctx, req, fmt.Errorf("cycle for %s: %w", runDate, err))
		}

		runDate = w.Clock.Now().In(loc).AddDate(0, 0, 1).Format(order.DateLayout)

		if req.Order.OneShotArchived() {
			// A one-shot archived retrieval owes no further cycles; release
			// the pool slot instead of idling until the end date.
			logger.Info().Str("event", "worker.one_shot").Msg("one-shot archived order complete")
			return w.finish(ctx, req, logger, despawn)
		}
		if runDate > req.Order.EndDate {
			return w.finish(ctx, req, logger, despawn)
		}

		if err := w.Store.UpdateStatus(ctx, req.ID, order.StatusWaiting); err != nil {
			return w.fail(ctx, req, err)
		}
		logger.Info().
			Str("event", "worker.rearm").
			Str("run_date", runDate).
			Msg("re-armed for next run cycle")
	}
}

type windowOutcome int

const (
	windowPending windowOutcome = iota
	windowFired
	windowMissed
	windowClosed
)

// awaitWindow polls the clock until the run date's window opens, the window's
// end instant passes unvisited, or the order's end boundary passes. The
// now >= target comparison makes a missed tick harmless; the caller re-arms
// with the next day's target, so a window can never double-fire.
func (w *Worker) awaitWindow(ctx context.Context, target, end, boundary time.Time) (windowOutcome, error) {
	if outcome := windowState(w.Clock.Now(), target, end, boundary); outcome != windowPending {
		return outcome, nil
	}

	timer := w.Clock.NewTimer(w.Tick)
	defer timer.Stop()
	for {
		if err := ctx.Err(); err != nil {
			return windowPending, err
		}
		select {
		case <-ctx.Done():
			return windowPending, ctx.Err()
		case now := <-timer.C():
			if outcome := windowState(now, target, end, boundary); outcome != windowPending {
				return outcome, nil
			}
			timer.Reset(w.Tick)
		}
	}
}

// windowState decides whether the wait is over at instant now. The boundary
// is checked first so an order whose end date already passed never fires, and
// the window end is checked before the start so a window that is already over
// counts as missed rather than firing late.
func windowState(now, target, end, boundary time.Time) windowOutcome {
	if !now.Before(boundary) {
		return windowClosed
	}
	if !now.Before(end) {
		return windowMissed
	}
	if !now.Before(target) {
		return windowFired
	}
	return windowPending
}

func (w *Worker) finish(ctx context.Context, req Request, logger zerolog.Logger, despawn func()) error {
	if err := w.Store.UpdateStatus(ctx, req.ID, order.StatusDone); err != nil {
		return w.fail(ctx, req, err)
	}
	despawn()
	logger.Info().Str("event", "worker.done").Msg("order complete")
	return nil
}

// cancelled records a cooperative shutdown so the request does not read as
// RUNNING forever. ctx is already done, so the status write uses a detached
// copy that keeps the request's log correlation values.
func (w *Worker) cancelled(ctx context.Context, req Request, logger zerolog.Logger, cause error) error {
	if err := w.Store.UpdateStatus(context.WithoutCancel(ctx), req.ID, order.StatusCancelled); err != nil {
		logger.Warn().Err(err).Msg("could not mark request cancelled")
	}
	logger.Info().Str("event", "worker.cancelled").Msg("worker cancelled")
	return cause
}

func (w *Worker) fail(ctx context.Context, req Request, cause error) error {
	logger := log.WithComponentFromContext(ctx, "worker")
	if err := w.Store.UpdateStatus(ctx, req.ID, order.StatusFailed); err != nil {
		logger.Error().Err(err).Msg("could not mark request failed")
	}
	logger.Error().Err(cause).Str("event", "worker.failed").Msg("worker terminated on error")
	return cause
}
