package passive

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/goleak"

	"hostagent/internal/check"
	"hostagent/internal/config"
	"hostagent/internal/handler"
	"hostagent/internal/node"
	"hostagent/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- fakes ---

type fakeChecker struct {
	mu    sync.Mutex
	paths [][]string
}

func (c *fakeChecker) Check(ctx context.Context, path []string, q node.Query) check.Result {
	c.mu.Lock()
	c.paths = append(c.paths, path)
	c.mu.Unlock()
	return check.Result{Returncode: check.OK, Stdout: "OK: Service sshd is running"}
}

func (c *fakeChecker) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.paths)
}

type fakeFlag struct{ v int32 }

func (f *fakeFlag) Set()        { atomic.StoreInt32(&f.v, 1) }
func (f *fakeFlag) IsSet() bool { return atomic.LoadInt32(&f.v) != 0 }

type fakeStore struct {
	mu          sync.Mutex
	records     []storage.Record
	maintenance int
	maintained  chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{maintained: make(chan struct{}, 16)}
}

func (s *fakeStore) RecordCheck(ctx context.Context, r storage.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return int64(len(s.records)), nil
}

func (s *fakeStore) Maintain(ctx context.Context, retentionDays int) (int, error) {
	s.mu.Lock()
	s.maintenance++
	s.mu.Unlock()
	s.maintained <- struct{}{}
	return 0, nil
}

type runResult struct {
	ts   time.Time
	recs []handler.CheckRecord
}

type fakeHandler struct {
	name   string
	source handler.Source
	err    error
	block  bool
	ran    chan runResult
	closed int32
}

func newFakeHandler(name string, source handler.Source) *fakeHandler {
	return &fakeHandler{name: name, source: source, ran: make(chan runResult, 64)}
}

func (h *fakeHandler) Name() string { return h.name }

func (h *fakeHandler) Run(ctx context.Context, ts time.Time) error {
	var recs []handler.CheckRecord
	if h.source != nil {
		recs = h.source.Results(ts)
	}
	if h.block {
		<-ctx.Done()
		h.report(runResult{ts: ts, recs: recs})
		return ctx.Err()
	}
	h.report(runResult{ts: ts, recs: recs})
	return h.err
}

// report never blocks the passive loop; runs beyond the buffer are dropped.
func (h *fakeHandler) report(r runResult) {
	select {
	case h.ran <- r:
	default:
	}
}

func (h *fakeHandler) Close() error {
	atomic.AddInt32(&h.closed, 1)
	return nil
}

func sshCheck() config.PassiveCheck {
	return config.PassiveCheck{
		Service:  "ssh",
		Path:     "services",
		Params:   map[string][]string{"service": {"sshd"}, "status": {"running"}},
		Interval: time.Minute,
	}
}

type harness struct {
	mock    *clock.Mock
	flag    *fakeFlag
	store   *fakeStore
	checker *fakeChecker
	sched   *Schedule
	cancel  context.CancelFunc
	done    chan error
}

func startWorker(t *testing.T, cfg config.PassiveConfig, build func(src handler.Source) []handler.Handler) *harness {
	t.Helper()
	return startWorkerWith(t, cfg, 0, build)
}

func startWorkerWith(t *testing.T, cfg config.PassiveConfig, maintenance time.Duration, build func(src handler.Source) []handler.Handler) *harness {
	t.Helper()
	h := &harness{
		mock:    clock.NewMock(),
		flag:    &fakeFlag{},
		store:   newFakeStore(),
		checker: &fakeChecker{},
		done:    make(chan error, 1),
	}
	h.sched = NewSchedule("web01", []config.PassiveCheck{sshCheck()}, h.checker)

	w := New(Options{
		Config:        cfg,
		RetentionDays: 30,
		Schedule:      h.sched,
		Handlers:      build(h.sched),
		Store:         h.store,
		Flag:          h.flag,
		Clock:         h.mock,

		MaintenanceInterval: maintenance,
	})

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
			t.Error("worker did not stop")
		}
	})
	return h
}

// tickUntil advances the mock clock one tick at a time until ch yields.
func tickUntil[T any](t *testing.T, mock *clock.Mock, ch <-chan T) T {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		mock.Add(tickInterval)
		select {
		case v := <-ch:
			return v
		case <-deadline:
			t.Fatal("timed out waiting for the passive loop")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func waitDone(t *testing.T, h *harness, mock *clock.Mock) error {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-h.done:
			h.done <- err
			return err
		case <-deadline:
			t.Fatal("worker did not return")
		case <-time.After(10 * time.Millisecond):
			mock.Add(tickInterval)
		}
	}
}

// --- Worker tests ---

func TestWorker_HandlersReceiveDueRecords(t *testing.T) {
	var fh *fakeHandler
	h := startWorker(t, config.PassiveConfig{}, func(src handler.Source) []handler.Handler {
		fh = newFakeHandler("fake", src)
		return []handler.Handler{fh}
	})

	got := tickUntil(t, h.mock, fh.ran)
	if len(got.recs) != 1 {
		t.Fatalf("expected 1 record on the first tick, got %d", len(got.recs))
	}
	rec := got.recs[0]
	if rec.Host != "web01" {
		t.Errorf("expected Host=web01, got %q", rec.Host)
	}
	if rec.Query != "service=sshd&status=running" {
		t.Errorf("unexpected query %q", rec.Query)
	}
	if !rec.Timestamp.Equal(got.ts) {
		t.Errorf("expected record timestamp %v, got %v", got.ts, rec.Timestamp)
	}

	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if len(h.store.records) != 1 || h.store.records[0].Source != storage.SourcePassive {
		t.Errorf("expected one passive record in storage, got %+v", h.store.records)
	}
	if h.store.maintenance != 1 {
		t.Errorf("expected maintenance at start, got %d runs", h.store.maintenance)
	}
}

func TestWorker_CheckNotDueAgainWithinInterval(t *testing.T) {
	var fh *fakeHandler
	h := startWorker(t, config.PassiveConfig{}, func(src handler.Source) []handler.Handler {
		fh = newFakeHandler("fake", src)
		return []handler.Handler{fh}
	})

	tickUntil(t, h.mock, fh.ran)
	second := tickUntil(t, h.mock, fh.ran)
	if len(second.recs) != 0 {
		t.Errorf("expected no records before the interval elapsed, got %d", len(second.recs))
	}
	if h.checker.calls() != 1 {
		t.Errorf("expected 1 evaluation, got %d", h.checker.calls())
	}
}

func TestWorker_HandlerErrorSetsFlag(t *testing.T) {
	var first, second *fakeHandler
	h := startWorker(t, config.PassiveConfig{}, func(src handler.Source) []handler.Handler {
		first = newFakeHandler("broken", src)
		first.err = errors.New("push failed")
		second = newFakeHandler("after", src)
		return []handler.Handler{first, second}
	})

	err := waitDone(t, h, h.mock)
	if err == nil {
		t.Fatal("expected Run to return the handler error")
	}
	if !h.flag.IsSet() {
		t.Error("expected error flag to be set")
	}
	if len(second.ran) != 0 {
		t.Error("handlers after the failing one must not run")
	}
	if atomic.LoadInt32(&first.closed) != 1 || atomic.LoadInt32(&second.closed) != 1 {
		t.Error("expected every handler to be closed")
	}
}

func TestWorker_StopsWhenFlagSetElsewhere(t *testing.T) {
	var fh *fakeHandler
	h := startWorker(t, config.PassiveConfig{}, func(src handler.Source) []handler.Handler {
		fh = newFakeHandler("fake", src)
		return []handler.Handler{fh}
	})

	tickUntil(t, h.mock, fh.ran)
	h.flag.Set()

	if err := waitDone(t, h, h.mock); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
}

func TestWorker_HandlerTimeoutIsNotFatal(t *testing.T) {
	var fh *fakeHandler
	h := startWorker(t, config.PassiveConfig{HandlerTimeout: 20 * time.Millisecond}, func(src handler.Source) []handler.Handler {
		fh = newFakeHandler("slow", src)
		fh.block = true
		return []handler.Handler{fh}
	})

	tickUntil(t, h.mock, fh.ran)
	tickUntil(t, h.mock, fh.ran)

	if h.flag.IsSet() {
		t.Error("a timed-out handler must not set the error flag")
	}
}

func TestWorker_PeriodicMaintenance(t *testing.T) {
	var fh *fakeHandler
	h := startWorkerWith(t, config.PassiveConfig{}, 3*tickInterval, func(src handler.Source) []handler.Handler {
		fh = newFakeHandler("fake", src)
		return []handler.Handler{fh}
	})

	tickUntil(t, h.mock, fh.ran)
	<-h.store.maintained

	tickUntil(t, h.mock, h.store.maintained)
}

func TestNew_DefaultMaintenanceInterval(t *testing.T) {
	w := New(Options{})
	if w.maintenance != DefaultMaintenanceInterval {
		t.Errorf("expected %v, got %v", DefaultMaintenanceInterval, w.maintenance)
	}
}

func TestWorker_CancelDuringDelay(t *testing.T) {
	fh := newFakeHandler("fake", nil)
	w := New(Options{
		Config:   config.PassiveConfig{DelayStart: time.Hour},
		Schedule: NewSchedule("web01", nil, &fakeChecker{}),
		Handlers: []handler.Handler{fh},
		Flag:     &fakeFlag{},
		Clock:    clock.NewMock(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if len(fh.ran) != 0 {
		t.Error("handler ran during the start delay")
	}
	if atomic.LoadInt32(&fh.closed) != 1 {
		t.Error("expected handler to be closed")
	}
}

// --- Schedule tests ---

func TestSchedule_Intervals(t *testing.T) {
	checker := &fakeChecker{}
	s := NewSchedule("web01", []config.PassiveCheck{sshCheck()}, checker)
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		at   time.Duration
		want int
	}{
		{0, 1},
		{30 * time.Second, 0},
		{time.Minute, 1},
		{time.Minute + time.Second, 0},
	}
	for _, tt := range tests {
		if got := len(s.Evaluate(context.Background(), t0.Add(tt.at))); got != tt.want {
			t.Errorf("at +%v: expected %d records, got %d", tt.at, tt.want, got)
		}
	}
}

func TestSchedule_ResultsOnlyForLatestTick(t *testing.T) {
	s := NewSchedule("web01", []config.PassiveCheck{sshCheck()}, &fakeChecker{})
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	s.Evaluate(context.Background(), t0)
	if got := s.Results(t0); len(got) != 1 {
		t.Errorf("expected 1 record for t0, got %d", len(got))
	}
	if got := s.Results(t0.Add(time.Second)); got != nil {
		t.Errorf("expected nil for another tick, got %v", got)
	}
}

func TestSchedule_DefaultsAndOverrides(t *testing.T) {
	c := sshCheck()
	c.Interval = 0
	c.Host = "db01"
	c.Path = "/system//uptime"
	checker := &fakeChecker{}
	s := NewSchedule("web01", []config.PassiveCheck{c}, checker)
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	recs := s.Evaluate(context.Background(), t0)
	if len(recs) != 1 || recs[0].Host != "db01" {
		t.Fatalf("expected configured host, got %+v", recs)
	}
	if got := checker.paths[0]; len(got) != 2 || got[0] != "system" || got[1] != "uptime" {
		t.Errorf("unexpected split path %v", got)
	}
	if got := s.Evaluate(context.Background(), t0.Add(DefaultInterval-time.Second)); len(got) != 0 {
		t.Error("check ran before the default interval")
	}
	if got := s.Evaluate(context.Background(), t0.Add(DefaultInterval)); len(got) != 1 {
		t.Error("check did not run after the default interval")
	}
}

func TestSchedule_SetChecks(t *testing.T) {
	s := NewSchedule("web01", []config.PassiveCheck{sshCheck()}, &fakeChecker{})
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s.Evaluate(context.Background(), t0)

	s.SetChecks([]config.PassiveCheck{sshCheck(), sshCheck()})
	if s.Len() != 2 {
		t.Fatalf("expected 2 checks, got %d", s.Len())
	}
	if got := len(s.Evaluate(context.Background(), t0.Add(time.Second))); got != 2 {
		t.Errorf("expected reloaded checks to be due immediately, got %d", got)
	}
}
