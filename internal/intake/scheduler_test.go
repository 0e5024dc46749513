package intake

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inpointtech/acquisition/internal/order"
	"github.com/inpointtech/acquisition/internal/pool"
	"github.com/inpointtech/acquisition/internal/store"
	"github.com/inpointtech/acquisition/internal/worker"
)

type memStore struct {
	mu     sync.Mutex
	nextID int64
	reqs   map[int64]*store.Request
}

func newMemStore() *memStore {
	return &memStore{reqs: make(map[int64]*store.Request)}
}

func (m *memStore) CreateRequest(_ context.Context, workerID string, ord order.Order) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	now := time.Now().UTC()
	m.reqs[m.nextID] = &store.Request{
		ID:        m.nextID,
		WorkerID:  workerID,
		Order:     ord,
		Status:    order.StatusWaiting,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return m.nextID, nil
}

func (m *memStore) GetRequest(_ context.Context, id int64) (*store.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.reqs[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

type recordRunner struct {
	mu      sync.Mutex
	runs    []worker.Request
	errs    []error
	block   bool
	started chan struct{}
}

func (r *recordRunner) Run(ctx context.Context, req worker.Request) error {
	r.mu.Lock()
	r.runs = append(r.runs, req)
	r.mu.Unlock()
	if r.started != nil {
		r.started <- struct{}{}
	}
	var err error
	if r.block {
		<-ctx.Done()
		err = ctx.Err()
	}
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	return err
}

func (r *recordRunner) requests() []worker.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]worker.Request(nil), r.runs...)
}

func validOrder() order.Order {
	return order.Order{
		CustomerID:     12,
		AreaCode:       "BLR",
		CameraID:       4,
		OrderID:        900,
		StartDate:      "2026-01-01",
		EndDate:        "2026-01-02",
		StartTime:      "10:00:00",
		EndTime:        "10:30:00",
		CameraAddress:  "203.0.113.9",
		CameraPassword: "secret",
	}
}

func TestSchedulerSubmitMixedBatch(t *testing.T) {
	st := newMemStore()
	runner := &recordRunner{}
	sched := NewScheduler(context.Background(), pool.New(4), st, runner)

	bad := validOrder()
	bad.StartDate = "01-01-2026"

	results := sched.Submit(context.Background(), []order.Order{validOrder(), bad})
	sched.Wait()

	require.Len(t, results, 2)
	assert.True(t, results[0].Accepted)
	assert.NotZero(t, results[0].RequestID)
	assert.Contains(t, results[0].WorkerID, "order_12BLR4-")
	assert.False(t, results[1].Accepted)
	assert.Contains(t, results[1].Error, "start_date")

	runs := runner.requests()
	require.Len(t, runs, 1, "only the valid order spawns a worker")
	assert.Equal(t, results[0].RequestID, runs[0].ID)
	assert.Equal(t, results[0].WorkerID, runs[0].WorkerID)

	rec, err := sched.Status(context.Background(), results[0].RequestID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, order.StatusWaiting, rec.Status)
}

func TestSchedulerCancelRunningWorker(t *testing.T) {
	st := newMemStore()
	runner := &recordRunner{block: true, started: make(chan struct{}, 1)}
	sched := NewScheduler(context.Background(), pool.New(4), st, runner)

	results := sched.Submit(context.Background(), []order.Order{validOrder()})
	require.Len(t, results, 1)
	require.True(t, results[0].Accepted)

	select {
	case <-runner.started:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never started")
	}

	assert.True(t, sched.Cancel(results[0].RequestID))
	sched.Wait()
	assert.False(t, sched.Cancel(results[0].RequestID), "finished worker is gone from the registry")
}

func TestSchedulerCancelUnknown(t *testing.T) {
	sched := NewScheduler(context.Background(), pool.New(1), newMemStore(), &recordRunner{})
	assert.False(t, sched.Cancel(42))
}

func TestSchedulerShutdownCancelsWorkers(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	runner := &recordRunner{block: true, started: make(chan struct{}, 2)}
	sched := NewScheduler(base, pool.New(4), newMemStore(), runner)

	sched.Submit(context.Background(), []order.Order{validOrder(), validOrder()})
	for i := 0; i < 2; i++ {
		select {
		case <-runner.started:
		case <-time.After(5 * time.Second):
			t.Fatal("worker never started")
		}
	}

	cancel()
	done := make(chan struct{})
	go func() {
		sched.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not stop on base context cancel")
	}
}
