package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/example/facemask/internal/imageprocessor"
	"github.com/example/facemask/internal/metrics"
	"github.com/example/facemask/internal/queue"
	"github.com/example/facemask/internal/repository"
)

const testLandmarks = `{"landmarks": [[{"x": 1, "y": 1}, {"x": 5, "y": 1}, {"x": 5, "y": 5}]]}`

type stubQueue struct {
	mu     sync.Mutex
	ids    []string
	pushed []string
	errs   []error
}

func (s *stubQueue) Pop(ctx context.Context) (string, error) {
	s.mu.Lock()
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		s.mu.Unlock()
		return "", err
	}
	if len(s.ids) > 0 {
		id := s.ids[0]
		s.ids = s.ids[1:]
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return "", queue.ErrEmpty
	}
}

func (s *stubQueue) Push(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushed = append(s.pushed, jobID)
	return nil
}

func (s *stubQueue) Len(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.ids)), nil
}

type stubStore struct {
	mu          sync.Mutex
	jobs        map[string]*repository.CropJob
	completeErr error
}

func newStubStore(jobs ...*repository.CropJob) *stubStore {
	s := &stubStore{jobs: map[string]*repository.CropJob{}}
	for _, j := range jobs {
		s.jobs[j.JobID] = j
	}
	return s
}

func (s *stubStore) FindByJobID(ctx context.Context, jobID string) (*repository.CropJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, repository.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *stubStore) MarkProcessing(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[jobID].Status = repository.StatusProcessing
	return nil
}

func (s *stubStore) MarkCompleted(ctx context.Context, jobID string, result *imageprocessor.Result, completedAt time.Time, processingMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completeErr != nil {
		return s.completeErr
	}
	job := s.jobs[jobID]
	job.Status = repository.StatusCompleted
	job.SVGBase64 = result.SVGBase64
	job.MaskContours = result.MaskContours
	job.CompletedAt = &completedAt
	return nil
}

func (s *stubStore) MarkFailed(ctx context.Context, jobID, message string, completedAt time.Time, processingMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[jobID]
	job.Status = repository.StatusFailed
	job.Error = message
	job.CompletedAt = &completedAt
	return nil
}

func (s *stubStore) status(jobID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[jobID].Status
}

type stubProcessor struct {
	result *imageprocessor.Result
	err    error
	inputs []imageprocessor.Input
	// block makes Process wait for its context.
	block  bool
	onCall func()
}

func (s *stubProcessor) Process(ctx context.Context, jobID string, in imageprocessor.Input) (*imageprocessor.Result, error) {
	s.inputs = append(s.inputs, in)
	if s.onCall != nil {
		s.onCall()
	}
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type stubCache struct {
	mu       sync.Mutex
	statuses []string
}

func (s *stubCache) CacheStatus(ctx context.Context, job *repository.CropJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, job.Status)
}

type stubHealth struct {
	mu     sync.Mutex
	states []bool
}

func (s *stubHealth) SetServing(serving bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, serving)
}

func pendingJob(id string) *repository.CropJob {
	return &repository.CropJob{JobID: id, Status: repository.StatusPending, LandmarksJSON: testLandmarks, ImageBase64: "aW1n"}
}

func newTestWorker(q Queue, store Store, proc imageprocessor.Client, cache StatusCache, opts Options) (*Worker, *metrics.JobMetrics) {
	m := metrics.NewJobMetrics(prometheus.NewRegistry())
	return New(Deps{
		Queue:     q,
		Store:     store,
		Processor: proc,
		Cache:     cache,
		Metrics:   m,
		Logger:    zap.NewNop(),
	}, opts), m
}

func TestProcessJobCompletes(t *testing.T) {
	store := newStubStore(pendingJob("job-1"))
	proc := &stubProcessor{result: &imageprocessor.Result{
		SVGBase64:    "PHN2Zz4=",
		MaskContours: []imageprocessor.MaskDescriptor{{Name: "right_cheek", PathD: "M 1 1 Z"}},
	}}
	cache := &stubCache{}
	w, m := newTestWorker(&stubQueue{}, store, proc, cache, Options{LoadtestMode: true, ProcessingDelay: time.Hour})

	w.ProcessJob(context.Background(), "job-1")

	if got := store.status("job-1"); got != repository.StatusCompleted {
		t.Fatalf("expected completed, got %s", got)
	}
	if len(proc.inputs) != 1 || !proc.inputs[0].SkipArtificialDelay {
		t.Fatalf("expected loadtest input, got %+v", proc.inputs)
	}
	if string(proc.inputs[0].Landmarks) != testLandmarks {
		t.Fatalf("unexpected landmarks passed: %s", proc.inputs[0].Landmarks)
	}
	if testutil.ToFloat64(m.Total) != 1 || testutil.ToFloat64(m.Completed) != 1 || testutil.ToFloat64(m.Failed) != 0 {
		t.Fatal("unexpected counters after success")
	}
	if len(cache.statuses) != 2 || cache.statuses[0] != repository.StatusProcessing || cache.statuses[1] != repository.StatusCompleted {
		t.Fatalf("expected processing then completed status to be cached, got %v", cache.statuses)
	}
}

func TestProcessJobMarksFailedWhenResultCannotBeStored(t *testing.T) {
	store := newStubStore(pendingJob("job-1"))
	store.completeErr = errors.New("row too large")
	proc := &stubProcessor{result: &imageprocessor.Result{SVGBase64: "PHN2Zz4="}}
	cache := &stubCache{}
	w, m := newTestWorker(&stubQueue{}, store, proc, cache, Options{LoadtestMode: true})

	w.ProcessJob(context.Background(), "job-1")

	job, _ := store.FindByJobID(context.Background(), "job-1")
	if job.Status != repository.StatusFailed || job.Error != "store result: row too large" || job.CompletedAt == nil {
		t.Fatalf("expected job to be marked failed, got %+v", job)
	}
	if testutil.ToFloat64(m.Failed) != 1 || testutil.ToFloat64(m.Completed) != 0 {
		t.Fatal("unexpected counters after store failure")
	}
	if n := len(cache.statuses); n == 0 || cache.statuses[n-1] != repository.StatusFailed {
		t.Fatalf("expected failed status to be cached, got %v", cache.statuses)
	}
}

func TestProcessJobRecordsFailure(t *testing.T) {
	store := newStubStore(pendingJob("job-1"))
	proc := &stubProcessor{err: errors.New("boom")}
	w, m := newTestWorker(&stubQueue{}, store, proc, &stubCache{}, Options{LoadtestMode: true})

	w.ProcessJob(context.Background(), "job-1")

	job, _ := store.FindByJobID(context.Background(), "job-1")
	if job.Status != repository.StatusFailed || job.Error != "boom" || job.CompletedAt == nil {
		t.Fatalf("unexpected failed job: %+v", job)
	}
	if testutil.ToFloat64(m.Failed) != 1 || testutil.ToFloat64(m.Completed) != 0 {
		t.Fatal("unexpected counters after failure")
	}
}

func TestProcessJobMissingJobCountsAsFailure(t *testing.T) {
	proc := &stubProcessor{}
	w, m := newTestWorker(&stubQueue{}, newStubStore(), proc, nil, Options{LoadtestMode: true})

	w.ProcessJob(context.Background(), "ghost")

	if testutil.ToFloat64(m.Failed) != 1 {
		t.Fatal("expected missing job to count as failure")
	}
	if len(proc.inputs) != 0 {
		t.Fatal("expected processor not to be called")
	}
}

func TestProcessJobSkipsCompletedJob(t *testing.T) {
	job := pendingJob("job-1")
	job.Status = repository.StatusCompleted
	proc := &stubProcessor{}
	w, m := newTestWorker(&stubQueue{}, newStubStore(job), proc, nil, Options{})

	w.ProcessJob(context.Background(), "job-1")

	if len(proc.inputs) != 0 {
		t.Fatal("expected completed job to be skipped")
	}
	if testutil.ToFloat64(m.Completed) != 1 {
		t.Fatal("expected completed counter to be incremented")
	}
}

func TestProcessJobRequeuesWhenStoppedDuringDelay(t *testing.T) {
	store := newStubStore(pendingJob("job-1"))
	q := &stubQueue{}
	proc := &stubProcessor{}
	w, _ := newTestWorker(q, store, proc, nil, Options{ProcessingDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.ProcessJob(ctx, "job-1")

	if len(q.pushed) != 1 || q.pushed[0] != "job-1" {
		t.Fatalf("expected job to be requeued, got %v", q.pushed)
	}
	if store.status("job-1") != repository.StatusPending || len(proc.inputs) != 0 {
		t.Fatal("expected job to stay pending")
	}
}

func TestProcessJobRequeuesWhenStoppedDuringProcessing(t *testing.T) {
	store := newStubStore(pendingJob("job-1"))
	q := &stubQueue{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc := &stubProcessor{block: true, onCall: cancel}
	w, m := newTestWorker(q, store, proc, nil, Options{LoadtestMode: true})

	w.ProcessJob(ctx, "job-1")

	if len(q.pushed) != 1 || q.pushed[0] != "job-1" {
		t.Fatalf("expected job to be requeued, got %v", q.pushed)
	}
	if got := store.status("job-1"); got == repository.StatusFailed || got == repository.StatusCompleted {
		t.Fatalf("expected job to stay unfinished, got %s", got)
	}
	if testutil.ToFloat64(m.Failed) != 0 {
		t.Fatal("expected shutdown not to count as failure")
	}
}

func TestProcessJobTimeoutIsFailure(t *testing.T) {
	store := newStubStore(pendingJob("job-1"))
	q := &stubQueue{}
	proc := &stubProcessor{block: true}
	w, m := newTestWorker(q, store, proc, nil, Options{LoadtestMode: true, ProcessingTimeout: time.Millisecond})

	w.ProcessJob(context.Background(), "job-1")

	if len(q.pushed) != 0 {
		t.Fatalf("expected timed out job not to be requeued, got %v", q.pushed)
	}
	job, _ := store.FindByJobID(context.Background(), "job-1")
	if job.Status != repository.StatusFailed || !strings.Contains(job.Error, "deadline exceeded") {
		t.Fatalf("expected timeout failure, got %+v", job)
	}
	if testutil.ToFloat64(m.Failed) != 1 {
		t.Fatal("expected timeout to count as failure")
	}
}

func TestObserveQueueDepth(t *testing.T) {
	q := &stubQueue{ids: []string{"a", "b", "c"}}
	w, m := newTestWorker(q, newStubStore(), &stubProcessor{}, nil, Options{})

	w.observeQueueDepth(context.Background())

	if got := testutil.ToFloat64(m.QueueDepth); got != 3 {
		t.Fatalf("expected queue depth 3, got %v", got)
	}
}

func TestRunDrainsQueueAndStops(t *testing.T) {
	store := newStubStore(pendingJob("job-1"), pendingJob("job-2"))
	q := &stubQueue{ids: []string{"job-1", "job-2"}, errs: []error{errors.New("redis down")}}
	proc := &stubProcessor{result: &imageprocessor.Result{SVGBase64: "PHN2Zz4="}}
	health := &stubHealth{}
	m := metrics.NewJobMetrics(prometheus.NewRegistry())
	w := New(Deps{Queue: q, Store: store, Processor: proc, Metrics: m, Health: health, Logger: zap.NewNop()},
		Options{LoadtestMode: true, ErrorBackoff: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for store.status("job-2") != repository.StatusCompleted {
		if time.Now().After(deadline) {
			t.Fatal("jobs were not processed in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	if store.status("job-1") != repository.StatusCompleted {
		t.Fatal("expected first job to be completed")
	}
	if testutil.ToFloat64(m.Total) != 2 {
		t.Fatalf("expected 2 jobs taken, got %v", testutil.ToFloat64(m.Total))
	}
	health.mu.Lock()
	defer health.mu.Unlock()
	if len(health.states) != 2 || !health.states[0] || health.states[1] {
		t.Fatalf("expected serving then not serving, got %v", health.states)
	}
}
