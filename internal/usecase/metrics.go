package usecase

import "context"

// MetricsSummary represents aggregated crop job insights.
type MetricsSummary struct {
	TotalJobs           int64   `json:"total_jobs"`
	PendingJobs         int64   `json:"pending_jobs"`
	CompletedJobs       int64   `json:"completed_jobs"`
	FailedJobs          int64   `json:"failed_jobs"`
	SuccessRate         float64 `json:"success_rate"`
	AverageProcessingMs float64 `json:"average_processing_ms"`
}

// GetMetricsSummary aggregates job metrics from persisted jobs.
func (uc *JobUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalJobs:           aggregation.TotalCount,
		PendingJobs:         aggregation.PendingCount,
		CompletedJobs:       aggregation.CompletedCount,
		FailedJobs:          aggregation.FailedCount,
		AverageProcessingMs: aggregation.AverageProcessingMs,
	}

	if finished := aggregation.CompletedCount + aggregation.FailedCount; finished > 0 {
		summary.SuccessRate = float64(aggregation.CompletedCount) / float64(finished)
	}

	return summary, nil
}
