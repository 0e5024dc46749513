package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/inpointtech/acquisition/internal/order"
	"github.com/inpointtech/acquisition/internal/pool"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClock advances simulated time by step every time a timer is awaited,
// so a multi-day schedule runs in a few dozen loop iterations.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newFakeClock(start time.Time, step time.Duration) *fakeClock {
	return &fakeClock{now: start, step: step}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func (c *fakeClock) NewTimer(time.Duration) Timer { return &fakeTimer{clock: c} }

type fakeTimer struct {
	clock *fakeClock
}

func (t *fakeTimer) C() <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- t.clock.advance()
	return ch
}

func (t *fakeTimer) Stop() bool               { return true }
func (t *fakeTimer) Reset(time.Duration) bool { return true }

type statusRecorder struct {
	mu       sync.Mutex
	statuses []order.Status
}

func (s *statusRecorder) UpdateStatus(_ context.Context, _ int64, st order.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, st)
	return nil
}

func (s *statusRecorder) recorded() []order.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]order.Status(nil), s.statuses...)
}

type fakeCycle struct {
	mu       sync.Mutex
	runDates []string
	err      error
	onRun    func()
}

func (c *fakeCycle) RunCycle(_ context.Context, _ Request, runDate string) error {
	c.mu.Lock()
	c.runDates = append(c.runDates, runDate)
	c.mu.Unlock()
	if c.onRun != nil {
		c.onRun()
	}
	return c.err
}

func (c *fakeCycle) dates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.runDates...)
}

func testOrder(startDate, endDate string) order.Order {
	o := order.Order{
		CustomerID:    7,
		AreaCode:      "BLR",
		CameraID:      3,
		StartDate:     startDate,
		EndDate:       endDate,
		StartTime:     "10:00:00",
		EndTime:       "11:30:00",
		Timezone:      "UTC",
		CameraAddress: "203.0.113.9",
	}
	o.Normalize()
	return o
}

func newTestWorker(store Store, cycle CycleRunner, clock Clock) (*Worker, *pool.Pool) {
	p := pool.New(4)
	w := New(p, store, cycle)
	w.Clock = clock
	w.Tick = time.Millisecond
	return w, p
}

func TestWorkerSingleDay(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC), time.Hour)
	store := &statusRecorder{}
	cycle := &fakeCycle{}
	w, p := newTestWorker(store, cycle, clock)

	req := Request{ID: 1, WorkerID: "order_7BLR3-aaaa", Order: testOrder("2026-01-01", "2026-01-01")}
	err := w.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"2026-01-01"}, cycle.dates())
	assert.Equal(t, []order.Status{order.StatusRunning, order.StatusDone}, store.recorded())
	assert.Equal(t, 0, p.ActiveCount(), "worker must despawn on completion")
}

func TestWorkerThreeDayRecurrence(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC), time.Hour)
	store := &statusRecorder{}
	cycle := &fakeCycle{}
	w, p := newTestWorker(store, cycle, clock)

	req := Request{ID: 2, WorkerID: "order_7BLR3-bbbb", Order: testOrder("2026-01-01", "2026-01-03")}
	err := w.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"2026-01-01", "2026-01-02", "2026-01-03"}, cycle.dates())
	assert.Equal(t, []order.Status{
		order.StatusRunning, order.StatusWaiting,
		order.StatusRunning, order.StatusWaiting,
		order.StatusRunning, order.StatusDone,
	}, store.recorded())
	assert.Equal(t, 0, p.ActiveCount())
}

func TestWorkerEndDateAlreadyPassed(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), time.Hour)
	store := &statusRecorder{}
	cycle := &fakeCycle{}
	w, p := newTestWorker(store, cycle, clock)

	req := Request{ID: 3, WorkerID: "order_7BLR3-cccc", Order: testOrder("2026-01-01", "2026-01-03")}
	err := w.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Empty(t, cycle.dates(), "a stale order must never fire")
	assert.Equal(t, []order.Status{order.StatusDone}, store.recorded())
	assert.Equal(t, 0, p.ActiveCount())
}

func TestWorkerCancellation(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC), time.Hour)
	store := &statusRecorder{}
	ctx, cancel := context.WithCancel(context.Background())
	cycle := &fakeCycle{onRun: cancel, err: context.Canceled}
	w, p := newTestWorker(store, cycle, clock)

	req := Request{ID: 4, WorkerID: "order_7BLR3-dddd", Order: testOrder("2026-01-01", "2026-01-05")}
	err := w.Run(ctx, req)
	require.ErrorIs(t, err, context.Canceled)

	// Cancellation is not a failure, but the request must not read as
	// RUNNING after the worker is gone.
	assert.Equal(t, []order.Status{order.StatusRunning, order.StatusCancelled}, store.recorded())
	assert.Equal(t, 0, p.ActiveCount(), "worker must despawn on cancellation")
}

func TestWorkerCycleFailure(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC), time.Hour)
	store := &statusRecorder{}
	boom := errors.New("ffmpeg exploded")
	cycle := &fakeCycle{err: boom}
	w, p := newTestWorker(store, cycle, clock)

	req := Request{ID: 5, WorkerID: "order_7BLR3-eeee", Order: testOrder("2026-01-01", "2026-01-05")}
	err := w.Run(context.Background(), req)
	require.ErrorIs(t, err, boom)

	assert.Equal(t, []order.Status{order.StatusRunning, order.StatusFailed}, store.recorded())
	assert.Equal(t, 0, p.ActiveCount())
}

func TestWorkerOneShotArchived(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC), time.Hour)
	store := &statusRecorder{}
	cycle := &fakeCycle{}
	w, p := newTestWorker(store, cycle, clock)

	ord := testOrder("2026-01-01", "2026-03-01")
	ord.UseArchived = true
	ord.Archived = &order.ArchivedSource{
		AccessType: "S3", Bucket: "footage", Key: "old/run.mp4",
		ScheduleDownload: true,
	}

	req := Request{ID: 6, WorkerID: "order_7BLR3-ffff", Order: ord}
	err := w.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"2026-01-01"}, cycle.dates(), "one-shot runs exactly once")
	assert.Equal(t, []order.Status{order.StatusRunning, order.StatusDone}, store.recorded())
	assert.Equal(t, 0, p.ActiveCount(), "slot released after the single cycle")
}

func TestWorkerLateSubmissionSkipsPassedWindow(t *testing.T) {
	// Submitted hours after the first day's window closed. Recording now
	// would produce off-schedule footage, so the first day is skipped and
	// the worker fires on day two instead.
	clock := newFakeClock(time.Date(2026, 1, 1, 15, 0, 0, 0, time.UTC), time.Hour)
	store := &statusRecorder{}
	cycle := &fakeCycle{}
	w, p := newTestWorker(store, cycle, clock)

	req := Request{ID: 8, WorkerID: "order_7BLR3-hhhh", Order: testOrder("2026-01-01", "2026-01-02")}
	err := w.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"2026-01-02"}, cycle.dates())
	assert.Equal(t, []order.Status{order.StatusRunning, order.StatusDone}, store.recorded())
	assert.Equal(t, 0, p.ActiveCount())
}

func TestWorkerLateSubmissionLastDay(t *testing.T) {
	// The only window already closed; nothing left to record.
	clock := newFakeClock(time.Date(2026, 1, 1, 15, 0, 0, 0, time.UTC), time.Hour)
	store := &statusRecorder{}
	cycle := &fakeCycle{}
	w, p := newTestWorker(store, cycle, clock)

	req := Request{ID: 9, WorkerID: "order_7BLR3-iiii", Order: testOrder("2026-01-01", "2026-01-01")}
	err := w.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Empty(t, cycle.dates(), "a window that already closed must not fire")
	assert.Equal(t, []order.Status{order.StatusDone}, store.recorded())
	assert.Equal(t, 0, p.ActiveCount())
}

func TestWorkerArchivedImmediateDownload(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 1, 1, 5, 0, 0, 0, time.UTC), time.Hour)
	store := &statusRecorder{}
	cycle := &fakeCycle{}
	w, p := newTestWorker(store, cycle, clock)

	ord := testOrder("2026-01-01", "2026-03-01")
	ord.UseArchived = true
	ord.Archived = &order.ArchivedSource{AccessType: "S3", Bucket: "footage", Key: "old/run.mp4"}

	req := Request{ID: 10, WorkerID: "order_7BLR3-jjjj", Order: ord}
	err := w.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"2026-01-01"}, cycle.dates())
	assert.Equal(t, []order.Status{order.StatusRunning, order.StatusDone}, store.recorded())
	assert.True(t, clock.Now().Equal(time.Date(2026, 1, 1, 5, 0, 0, 0, time.UTC)),
		"an unscheduled retrieval must not wait for the window")
	assert.Equal(t, 0, p.ActiveCount())
}

func TestWorkerInvalidTimezone(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC), time.Hour)
	store := &statusRecorder{}
	cycle := &fakeCycle{}
	w, _ := newTestWorker(store, cycle, clock)

	ord := testOrder("2026-01-01", "2026-01-01")
	ord.Timezone = "Mars/Olympus"

	err := w.Run(context.Background(), Request{ID: 7, WorkerID: "order_7BLR3-gggg", Order: ord})
	require.Error(t, err)
	assert.Equal(t, []order.Status{order.StatusFailed}, store.recorded())
	assert.Empty(t, cycle.dates())
}
