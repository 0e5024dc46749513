// Package intake accepts order descriptors over HTTP and launches their
// workers against the shared pool.
package intake

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/inpointtech/acquisition/internal/log"
	"github.com/inpointtech/acquisition/internal/metrics"
	"github.com/inpointtech/acquisition/internal/order"
	"github.com/inpointtech/acquisition/internal/pool"
	"github.com/inpointtech/acquisition/internal/store"
	"github.com/inpointtech/acquisition/internal/worker"
)

// Store is the persistence surface the scheduler needs.
type Store interface {
	CreateRequest(ctx context.Context, workerID string, ord order.Order) (int64, error)
	GetRequest(ctx context.Context, id int64) (*store.Request, error)
}

// Runner executes one order to completion. Implemented by worker.Worker.
type Runner interface {
	Run(ctx context.Context, req worker.Request) error
}

// Result reports the outcome of one submitted descriptor.
type Result struct {
	Accepted  bool   `json:"accepted"`
	RequestID int64  `json:"request_id,omitempty"`
	WorkerID  string `json:"worker_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Scheduler validates submitted orders, persists them, and runs each one on
// its own goroutine gated by the pool semaphore. Workers inherit the
// scheduler's base context so process shutdown cancels them all; each also
// gets its own cancel func for per-order cancellation.
type Scheduler struct {
	base  context.Context
	pool  *pool.Pool
	store Store
	run   Runner

	mu      sync.Mutex
	cancels map[int64]context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler builds a scheduler whose workers live under base.
func NewScheduler(base context.Context, p *pool.Pool, st Store, r Runner) *Scheduler {
	return &Scheduler{
		base:    base,
		pool:    p,
		store:   st,
		run:     r,
		cancels: make(map[int64]context.CancelFunc),
	}
}

// Submit accepts a batch of descriptors. Invalid descriptors are rejected
// individually; every valid one is persisted and launched.
func (s *Scheduler) Submit(ctx context.Context, orders []order.Order) []Result {
	logger := log.WithComponentFromContext(ctx, "intake")
	results := make([]Result, 0, len(orders))

	for i := range orders {
		ord := orders[i]
		ord.Normalize()
		if err := ord.Validate(); err != nil {
			metrics.OrdersRejectedTotal.WithLabelValues("invalid").Inc()
			logger.Warn().
				Err(err).
				Str("event", "intake.rejected").
				Int("order_id", ord.OrderID).
				Msg("order descriptor rejected")
			results = append(results, Result{Error: err.Error()})
			continue
		}

		workerID := ord.NewWorkerID()
		id, err := s.store.CreateRequest(ctx, workerID, ord)
		if err != nil {
			metrics.OrdersRejectedTotal.WithLabelValues("store").Inc()
			results = append(results, Result{Error: fmt.Sprintf("persist order: %v", err)})
			continue
		}

		metrics.OrdersAcceptedTotal.Inc()
		logger.Info().
			Str("event", "intake.accepted").
			Int64("request_id", id).
			Str(log.FieldWorkerID, workerID).
			Msg("order accepted")

		s.launch(id, workerID, ord)
		results = append(results, Result{Accepted: true, RequestID: id, WorkerID: workerID})
	}
	return results
}

func (s *Scheduler) launch(id int64, workerID string, ord order.Order) {
	wctx, cancel := context.WithCancel(s.base)
	wctx = log.ContextWithRequestID(wctx, strconv.FormatInt(id, 10))
	wctx = log.ContextWithOrderID(wctx, strconv.Itoa(ord.OrderID))

	s.mu.Lock()
	s.cancels[id] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.cancels, id)
			s.mu.Unlock()
			cancel()
		}()

		logger := log.WithComponentFromContext(wctx, "intake")
		if err := s.pool.Acquire(wctx); err != nil {
			logger.Warn().Err(err).Str("event", "intake.abandoned").Msg("cancelled before a pool slot opened")
			return
		}
		defer s.pool.Release()

		if err := s.run.Run(wctx, worker.Request{ID: id, WorkerID: workerID, Order: ord}); err != nil {
			// Run already persisted the terminal status and logged the cause.
			logger.Debug().Err(err).Str("event", "intake.worker_exit").Msg("worker exited with error")
		}
	}()
}

// Cancel stops the worker owning requestID. It reports whether a running
// worker was found.
func (s *Scheduler) Cancel(requestID int64) bool {
	s.mu.Lock()
	cancel, ok := s.cancels[requestID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Status loads the persisted record for requestID; nil when unknown.
func (s *Scheduler) Status(ctx context.Context, requestID int64) (*store.Request, error) {
	return s.store.GetRequest(ctx, requestID)
}

// Wait blocks until every launched worker goroutine has returned. Callers
// cancel the base context first.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
