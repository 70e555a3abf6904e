package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/facemask/internal/imageprocessor"
	"github.com/example/facemask/internal/retry"
)

// Job statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ErrJobNotFound is returned when no crop job matches the lookup.
var ErrJobNotFound = errors.New("crop job not found")

// CropJob represents a persisted crop submission and its result.
type CropJob struct {
	ID                    uint                            `gorm:"primaryKey"`
	JobID                 string                          `gorm:"column:job_id;uniqueIndex;size:64;not null"`
	OwnerID               string                          `gorm:"column:owner_id;size:128;index:idx_crop_jobs_owner_hash"`
	InputHash             string                          `gorm:"column:input_hash;size:40;index:idx_crop_jobs_owner_hash"`
	ImageBase64           string                          `gorm:"column:image_base64;type:text;not null"`
	LandmarksJSON         string                          `gorm:"column:landmarks_json;type:text;not null"`
	SegmentationMapBase64 string                          `gorm:"column:segmentation_map_base64;type:text"`
	Status                string                          `gorm:"column:status;size:16;index;not null;default:pending"`
	Error                 string                          `gorm:"column:error;type:text"`
	SVGBase64             string                          `gorm:"column:svg_base64;type:text"`
	MaskContours          []imageprocessor.MaskDescriptor `gorm:"column:mask_contours_json;type:text;serializer:json"`
	ProcessingMs          int64                           `gorm:"column:processing_ms"`
	CreatedAt             time.Time                       `gorm:"column:created_at"`
	CompletedAt           *time.Time                      `gorm:"column:completed_at"`
}

// TableName overrides the default table name.
func (CropJob) TableName() string {
	return "crop_jobs"
}

// Terminal reports whether the job will not change any more.
func (j *CropJob) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// MetricsAggregation holds job counts and latency aggregated in the database.
type MetricsAggregation struct {
	TotalCount          int64
	PendingCount        int64
	CompletedCount      int64
	FailedCount         int64
	AverageProcessingMs float64
}

// CropJobRepository provides persistence APIs for crop jobs.
type CropJobRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	retry  retry.Policy
}

// NewCropJobRepository creates a new repository instance.
func NewCropJobRepository(db *gorm.DB, logger *zap.Logger) *CropJobRepository {
	return &CropJobRepository{
		db:     db,
		logger: logger.Named("crop_job_repository"),
		retry:  retry.DefaultPolicy().Expecting(ErrJobNotFound),
	}
}

// AutoMigrate ensures the schema is available.
func (r *CropJobRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&CropJob{})
	})
}

// Create persists a new crop job.
func (r *CropJobRepository) Create(ctx context.Context, job *CropJob) error {
	return r.executeWithRetry(ctx, "repository.create", job.JobID, func() error {
		return r.db.WithContext(ctx).Create(job).Error
	})
}

// FindByJobID retrieves a crop job regardless of owner.
func (r *CropJobRepository) FindByJobID(ctx context.Context, jobID string) (*CropJob, error) {
	var job CropJob
	err := r.executeWithRetry(ctx, "repository.find_by_job_id", jobID, func() error {
		return notFound(r.db.WithContext(ctx).First(&job, "job_id = ?", jobID).Error)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// FindByJobIDAndOwner retrieves a crop job matching the id and owner.
func (r *CropJobRepository) FindByJobIDAndOwner(ctx context.Context, jobID, ownerID string) (*CropJob, error) {
	var job CropJob
	err := r.executeWithRetry(ctx, "repository.find_by_job_id_and_owner", jobID, func() error {
		return notFound(r.db.WithContext(ctx).First(&job, "job_id = ? AND owner_id = ?", jobID, ownerID).Error)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// FindReusable returns the newest job of the owner with the same input hash that
// has not failed.
func (r *CropJobRepository) FindReusable(ctx context.Context, ownerID, inputHash string) (*CropJob, error) {
	var job CropJob
	err := r.executeWithRetry(ctx, "repository.find_reusable", "", func() error {
		return notFound(r.db.WithContext(ctx).
			Where("owner_id = ? AND input_hash = ? AND status <> ?", ownerID, inputHash, StatusFailed).
			Order("created_at DESC").
			First(&job).Error)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// MarkProcessing moves a job into the processing state.
func (r *CropJobRepository) MarkProcessing(ctx context.Context, jobID string) error {
	return r.update(ctx, "repository.mark_processing", jobID, map[string]interface{}{
		"status": StatusProcessing,
	})
}

// MarkCompleted stores the transformation result.
func (r *CropJobRepository) MarkCompleted(ctx context.Context, jobID string, result *imageprocessor.Result, completedAt time.Time, processingMs int64) error {
	return r.executeWithRetry(ctx, "repository.mark_completed", jobID, func() error {
		res := r.db.WithContext(ctx).Model(&CropJob{}).Where("job_id = ?", jobID).Updates(&CropJob{
			Status:       StatusCompleted,
			SVGBase64:    result.SVGBase64,
			MaskContours: result.MaskContours,
			ProcessingMs: processingMs,
			CompletedAt:  &completedAt,
		})
		return affected(res)
	})
}

// MarkFailed records a processing failure.
func (r *CropJobRepository) MarkFailed(ctx context.Context, jobID, message string, completedAt time.Time, processingMs int64) error {
	return r.update(ctx, "repository.mark_failed", jobID, map[string]interface{}{
		"status":        StatusFailed,
		"error":         message,
		"completed_at":  completedAt,
		"processing_ms": processingMs,
	})
}

// AggregateMetrics computes job counts per status and the average processing time
// of completed jobs.
func (r *CropJobRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).Model(&CropJob{}).Select(
			"COUNT(*) AS total_count, "+
				"COALESCE(SUM(CASE WHEN status IN (?, ?) THEN 1 ELSE 0 END), 0) AS pending_count, "+
				"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS completed_count, "+
				"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed_count, "+
				"COALESCE(AVG(CASE WHEN status = ? THEN processing_ms END), 0) AS average_processing_ms",
			StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCompleted,
		).Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *CropJobRepository) update(ctx context.Context, operation, jobID string, values map[string]interface{}) error {
	return r.executeWithRetry(ctx, operation, jobID, func() error {
		return affected(r.db.WithContext(ctx).Model(&CropJob{}).Where("job_id = ?", jobID).Updates(values))
	})
}

func (r *CropJobRepository) executeWithRetry(ctx context.Context, operation, jobID string, fn func() error) error {
	return retry.Do(ctx, r.logger, r.retry, operation, jobID, fn)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", ErrJobNotFound, err)
	}
	return err
}

func affected(res *gorm.DB) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}
