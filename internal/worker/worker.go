package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/facemask/internal/imageprocessor"
	"github.com/example/facemask/internal/logging"
	"github.com/example/facemask/internal/metrics"
	"github.com/example/facemask/internal/queue"
	"github.com/example/facemask/internal/repository"
)

// Queue is the FIFO of pending job ids.
type Queue interface {
	Pop(ctx context.Context) (string, error)
	Push(ctx context.Context, jobID string) error
	Len(ctx context.Context) (int64, error)
}

// Store is the persistence the worker needs.
type Store interface {
	FindByJobID(ctx context.Context, jobID string) (*repository.CropJob, error)
	MarkProcessing(ctx context.Context, jobID string) error
	MarkCompleted(ctx context.Context, jobID string, result *imageprocessor.Result, completedAt time.Time, processingMs int64) error
	MarkFailed(ctx context.Context, jobID, message string, completedAt time.Time, processingMs int64) error
}

// StatusCache refreshes the cached job state after a transition.
type StatusCache interface {
	CacheStatus(ctx context.Context, job *repository.CropJob)
}

// Health receives the worker liveness.
type Health interface {
	SetServing(serving bool)
}

// Options tune the worker loop.
type Options struct {
	LoadtestMode      bool
	ProcessingDelay   time.Duration
	ProcessingTimeout time.Duration
	ErrorBackoff      time.Duration
}

// Deps groups the collaborators of a Worker.
type Deps struct {
	Queue     Queue
	Store     Store
	Processor imageprocessor.Client
	Cache     StatusCache
	Metrics   *metrics.JobMetrics
	Health    Health
	Logger    *zap.Logger
}

// Worker consumes crop jobs one at a time.
type Worker struct {
	deps Deps
	opts Options
	now  func() time.Time
}

// New constructs a worker.
func New(deps Deps, opts Options) *Worker {
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = time.Second
	}
	deps.Logger = deps.Logger.Named("worker")
	return &Worker{deps: deps, opts: opts, now: time.Now}
}

// Run processes queued jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.setServing(true)
	defer w.setServing(false)

	w.deps.Logger.Info("worker started",
		zap.Bool("loadtest_mode", w.opts.LoadtestMode),
		zap.Duration("processing_delay", w.opts.ProcessingDelay),
	)

	for {
		jobID, err := w.deps.Queue.Pop(ctx)
		switch {
		case ctx.Err() != nil:
			w.deps.Logger.Info("worker stopped")
			return
		case errors.Is(err, queue.ErrEmpty):
			continue
		case err != nil:
			w.deps.Logger.Error("failed to pop job", zap.Error(err))
			if !sleep(ctx, w.opts.ErrorBackoff) {
				w.deps.Logger.Info("worker stopped")
				return
			}
			continue
		}

		w.observeQueueDepth(ctx)
		w.ProcessJob(ctx, jobID)
	}
}

// ProcessJob runs a single job through the transformation and records the outcome.
func (w *Worker) ProcessJob(ctx context.Context, jobID string) {
	opLogger := logging.WithOperation(w.deps.Logger, "worker.process_job", jobID)
	w.deps.Metrics.Total.Inc()
	start := w.now()

	job, err := w.deps.Store.FindByJobID(ctx, jobID)
	if err != nil {
		opLogger.Error("failed to load job", zap.Error(err))
		w.deps.Metrics.Failed.Inc()
		return
	}
	if job.Status == repository.StatusCompleted {
		opLogger.Info("job already completed")
		w.deps.Metrics.Completed.Inc()
		return
	}

	if !w.opts.LoadtestMode && w.opts.ProcessingDelay > 0 {
		if !sleep(ctx, w.opts.ProcessingDelay) {
			w.requeue(ctx, opLogger, jobID)
			return
		}
	}

	if err := w.deps.Store.MarkProcessing(ctx, jobID); err != nil {
		opLogger.Warn("failed to mark job processing", zap.Error(err))
	} else {
		w.refreshCache(ctx, opLogger, jobID)
	}

	procCtx := ctx
	if w.opts.ProcessingTimeout > 0 {
		var cancel context.CancelFunc
		procCtx, cancel = context.WithTimeout(ctx, w.opts.ProcessingTimeout)
		defer cancel()
	}

	result, err := w.deps.Processor.Process(procCtx, jobID, imageprocessor.Input{
		SkipArtificialDelay: w.opts.LoadtestMode,
		Landmarks:           []byte(job.LandmarksJSON),
		ImageBase64:         []byte(job.ImageBase64),
	})

	// Outcomes are stored even when shutdown has begun.
	storeCtx := context.WithoutCancel(ctx)
	finished := w.now()
	elapsed := finished.Sub(start)

	if err != nil && ctx.Err() != nil {
		// Interrupted by shutdown rather than by the job itself.
		w.requeue(ctx, opLogger, jobID)
		return
	}

	if err != nil {
		opLogger.Error("job failed", zap.Error(err))
		if markErr := w.deps.Store.MarkFailed(storeCtx, jobID, err.Error(), finished.UTC(), elapsed.Milliseconds()); markErr != nil {
			opLogger.Error("failed to store job failure", zap.Error(markErr))
		}
		w.deps.Metrics.ObserveFailed(elapsed)
		w.refreshCache(storeCtx, opLogger, jobID)
		return
	}

	if result.Crop.Degraded() {
		opLogger.Warn("image could not be cropped, using original input", zap.Error(result.Crop.Err))
	}

	if err := w.deps.Store.MarkCompleted(storeCtx, jobID, result, finished.UTC(), elapsed.Milliseconds()); err != nil {
		opLogger.Error("failed to store job result", zap.Error(err))
		if markErr := w.deps.Store.MarkFailed(storeCtx, jobID, "store result: "+err.Error(), finished.UTC(), elapsed.Milliseconds()); markErr != nil {
			opLogger.Error("failed to store job failure", zap.Error(markErr))
		}
		w.deps.Metrics.ObserveFailed(elapsed)
		w.refreshCache(storeCtx, opLogger, jobID)
		return
	}

	w.deps.Metrics.ObserveCompleted(elapsed)
	w.refreshCache(storeCtx, opLogger, jobID)
	opLogger.Info("job completed", zap.Duration("elapsed", elapsed), zap.Int("masks", len(result.MaskContours)))
}

// requeue hands an interrupted job back to the queue. The stored status is left
// as is; any job that is not completed is processed again when popped.
func (w *Worker) requeue(ctx context.Context, logger *zap.Logger, jobID string) {
	if err := w.deps.Queue.Push(context.WithoutCancel(ctx), jobID); err != nil {
		logger.Error("failed to requeue job on shutdown", zap.Error(err))
		return
	}
	logger.Info("job requeued on shutdown")
}

func (w *Worker) observeQueueDepth(ctx context.Context) {
	n, err := w.deps.Queue.Len(ctx)
	if err != nil {
		w.deps.Logger.Warn("failed to read queue depth", zap.Error(err))
		return
	}
	w.deps.Metrics.QueueDepth.Set(float64(n))
}

func (w *Worker) refreshCache(ctx context.Context, logger *zap.Logger, jobID string) {
	if w.deps.Cache == nil {
		return
	}
	job, err := w.deps.Store.FindByJobID(ctx, jobID)
	if err != nil {
		logger.Warn("failed to reload job for cache refresh", zap.Error(err))
		return
	}
	w.deps.Cache.CacheStatus(ctx, job)
}

func (w *Worker) setServing(serving bool) {
	if w.deps.Health != nil {
		w.deps.Health.SetServing(serving)
	}
}

// sleep waits for d and reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
