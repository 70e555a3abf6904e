package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/facemask/internal/imageprocessor"
	"github.com/example/facemask/internal/landmark"
	"github.com/example/facemask/internal/logging"
	"github.com/example/facemask/internal/repository"
	"github.com/example/facemask/internal/retry"
)

var (
	// ErrInvalidLandmarks is returned for a landmarks document that cannot be iterated.
	ErrInvalidLandmarks = errors.New("invalid landmarks")
	// ErrJobNotFound is returned when the job does not exist for the caller.
	ErrJobNotFound = repository.ErrJobNotFound
)

const (
	pendingStatusTTL  = time.Minute
	terminalStatusTTL = 5 * time.Minute
)

// JobRepository defines the persistence operations needed by the use case.
type JobRepository interface {
	Create(ctx context.Context, job *repository.CropJob) error
	FindByJobIDAndOwner(ctx context.Context, jobID, ownerID string) (*repository.CropJob, error)
	FindReusable(ctx context.Context, ownerID, inputHash string) (*repository.CropJob, error)
	MarkFailed(ctx context.Context, jobID, message string, completedAt time.Time, processingMs int64) error
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Queue accepts job ids for the background worker.
type Queue interface {
	Push(ctx context.Context, jobID string) error
}

// SubmitRequest is the raw input of a crop job.
type SubmitRequest struct {
	Image           string
	Landmarks       json.RawMessage
	SegmentationMap string
}

// JobStatus is the externally visible state of a crop job.
type JobStatus struct {
	ID           string                          `json:"id"`
	Status       string                          `json:"status"`
	SVG          string                          `json:"svg,omitempty"`
	MaskContours []imageprocessor.MaskDescriptor `json:"mask_contours,omitempty"`
	Error        string                          `json:"error,omitempty"`
	CreatedAt    time.Time                       `json:"created_at"`
	CompletedAt  *time.Time                      `json:"completed_at,omitempty"`
}

type cachedJob struct {
	OwnerID string    `json:"owner_id"`
	Job     JobStatus `json:"job"`
}

// JobUseCase encapsulates business logic for crop jobs.
type JobUseCase struct {
	repo   JobRepository
	cache  Cache
	queue  Queue
	logger *zap.Logger
	retry  retry.Policy
	now    func() time.Time
}

// NewJobUseCase constructs a new use case instance.
func NewJobUseCase(repo JobRepository, cache Cache, queue Queue, logger *zap.Logger) *JobUseCase {
	return &JobUseCase{
		repo:   repo,
		cache:  cache,
		queue:  queue,
		logger: logger.Named("job_usecase"),
		retry:  retry.DefaultPolicy().Expecting(redis.Nil),
		now:    time.Now,
	}
}

// SubmitJob validates and stores a crop job and hands it to the worker queue. An
// unfinished or completed job of the same owner with identical input is returned
// instead of creating a new one; reused reports that case.
func (uc *JobUseCase) SubmitJob(ctx context.Context, ownerID string, req SubmitRequest) (status *JobStatus, reused bool, err error) {
	set, err := landmark.Parse(req.Landmarks)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidLandmarks, err)
	}

	hash := inputHash(req)
	existing, err := uc.repo.FindReusable(ctx, ownerID, hash)
	switch {
	case err == nil:
		logging.WithOperation(uc.logger, "usecase.submit_job", existing.JobID).Info("reusing job with identical input")
		return toStatus(existing), true, nil
	case !errors.Is(err, repository.ErrJobNotFound):
		return nil, false, err
	}

	job := &repository.CropJob{
		JobID:                 uuid.NewString(),
		OwnerID:               ownerID,
		InputHash:             hash,
		ImageBase64:           req.Image,
		LandmarksJSON:         string(req.Landmarks),
		SegmentationMapBase64: req.SegmentationMap,
		Status:                repository.StatusPending,
		CreatedAt:             uc.now().UTC(),
	}
	opLogger := logging.WithOperation(uc.logger, "usecase.submit_job", job.JobID)

	if err := uc.repo.Create(ctx, job); err != nil {
		opLogger.Error("failed to persist crop job", zap.Error(err))
		return nil, false, err
	}

	if err := uc.queue.Push(ctx, job.JobID); err != nil {
		wrapped := logging.NewOperationError("usecase.enqueue", job.JobID, err)
		opLogger.Error("failed to enqueue crop job", zap.Error(wrapped))
		if markErr := uc.repo.MarkFailed(ctx, job.JobID, "enqueue failed: "+err.Error(), uc.now().UTC(), 0); markErr != nil {
			opLogger.Error("failed to mark unqueued job as failed", zap.Error(markErr))
		}
		return nil, false, wrapped
	}

	uc.CacheStatus(ctx, job)
	opLogger.Info("crop job queued", zap.Int("landmark_groups", len(set.Groups)), zap.Int("landmark_points", set.PointCount()))
	return toStatus(job), false, nil
}

// GetJob returns the job state from the cache or, on a miss, from persistence.
func (uc *JobUseCase) GetJob(ctx context.Context, ownerID, jobID string) (*JobStatus, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_job", jobID)

	var cached string
	err := retry.Do(ctx, uc.logger, uc.retry, "cache.get.job", jobID, func() error {
		value, err := uc.cache.Get(ctx, JobStatusKey(jobID))
		if err != nil {
			return err
		}
		cached = value
		return nil
	})
	if err == nil {
		var payload cachedJob
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			opLogger.Warn("failed to decode cached job", zap.Error(err))
		} else if payload.OwnerID == ownerID {
			return &payload.Job, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	job, err := uc.repo.FindByJobIDAndOwner(ctx, jobID, ownerID)
	if err != nil {
		return nil, err
	}
	if job.Terminal() {
		uc.CacheStatus(ctx, job)
	}
	return toStatus(job), nil
}

// CacheStatus stores the job state for quick status lookups. Failures are logged
// and otherwise ignored since persistence remains the source of truth.
func (uc *JobUseCase) CacheStatus(ctx context.Context, job *repository.CropJob) {
	ttl := pendingStatusTTL
	if job.Terminal() {
		ttl = terminalStatusTTL
	}

	serialized, err := json.Marshal(cachedJob{OwnerID: job.OwnerID, Job: *toStatus(job)})
	if err != nil {
		logging.WithOperation(uc.logger, "cache.set.job", job.JobID).Error("failed to serialize job status", zap.Error(err))
		return
	}

	if err := retry.Do(ctx, uc.logger, uc.retry, "cache.set.job", job.JobID, func() error {
		return uc.cache.Set(ctx, JobStatusKey(job.JobID), string(serialized), ttl)
	}); err != nil {
		logging.WithOperation(uc.logger, "cache.set.job", job.JobID).Warn("failed to cache job status", zap.Error(err))
	}
}

func inputHash(req SubmitRequest) string {
	h := sha1.New()
	h.Write([]byte(req.Image))
	h.Write([]byte{0})
	h.Write(req.Landmarks)
	return hex.EncodeToString(h.Sum(nil))
}

func toStatus(job *repository.CropJob) *JobStatus {
	return &JobStatus{
		ID:           job.JobID,
		Status:       job.Status,
		SVG:          job.SVGBase64,
		MaskContours: job.MaskContours,
		Error:        job.Error,
		CreatedAt:    job.CreatedAt,
		CompletedAt:  job.CompletedAt,
	}
}
