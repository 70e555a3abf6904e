package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"github.com/example/facemask/internal/logging"
	"github.com/example/facemask/internal/retry"
)

type transientTestError struct{}

func (transientTestError) Error() string   { return "transient" }
func (transientTestError) Timeout() bool   { return true }
func (transientTestError) Temporary() bool { return true }

func TestExecuteWithRetryRetriesTransientErrors(t *testing.T) {
	repo := &CropJobRepository{
		logger: zap.NewNop(),
		retry:  retry.Policy{Attempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "job-1", func() error {
		attempts++
		if attempts < 2 {
			return transientTestError{}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestExecuteWithRetryReturnsOperationError(t *testing.T) {
	repo := &CropJobRepository{
		logger: zap.NewNop(),
		retry:  retry.Policy{Attempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "job-2", func() error {
		attempts++
		return notFound(gorm.ErrRecordNotFound)
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}

	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "test.operation" || opErr.JobID != "job-2" {
		t.Fatalf("unexpected error metadata: %+v", opErr)
	}
	if !errors.Is(err, ErrJobNotFound) || !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected not-found sentinels to survive wrapping, got %v", err)
	}
}

func TestExecuteWithRetryKeepsMissingJobsOutOfErrorLogs(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	repo := NewCropJobRepository(nil, zap.New(core))

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "repository.find_job", "job-3", func() error {
		attempts++
		return notFound(gorm.ErrRecordNotFound)
	})
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
	if logs.Len() != 0 {
		t.Fatalf("expected no log entries for a missing job, got %v", logs.All())
	}
}

func TestCropJobTerminal(t *testing.T) {
	for status, want := range map[string]bool{
		StatusPending:    false,
		StatusProcessing: false,
		StatusCompleted:  true,
		StatusFailed:     true,
	} {
		job := &CropJob{Status: status}
		if job.Terminal() != want {
			t.Fatalf("status %s: expected terminal=%v", status, want)
		}
	}
}

func TestAffected(t *testing.T) {
	if err := affected(&gorm.DB{RowsAffected: 0}); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if err := affected(&gorm.DB{RowsAffected: 1}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	boom := errors.New("boom")
	if err := affected(&gorm.DB{Error: boom}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
