package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/facemask/internal/logging"
)

// Policy controls how many times an operation is attempted and how long to wait
// between attempts.
type Policy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Expected lists outcomes such as a missing record that the caller handles
	// itself. They are returned without retrying or logging.
	Expected []error
}

// DefaultPolicy is used for redis and database calls.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:       3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     time.Second,
	}
}

// Expecting returns a copy of p that treats errs as expected outcomes.
func (p Policy) Expecting(errs ...error) Policy {
	p.Expected = append(append([]error(nil), p.Expected...), errs...)
	return p
}

func (p Policy) expected(err error) bool {
	for _, target := range p.Expected {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Do runs fn until it succeeds, fails with a non-transient error, or the attempts
// are used up. Failures are returned as *logging.OperationError.
func Do(ctx context.Context, logger *zap.Logger, p Policy, operation, jobID string, fn func() error) error {
	if p.Attempts <= 1 {
		return logging.NewOperationError(operation, jobID, fn())
	}

	backoff := p.InitialBackoff
	opLogger := logging.WithOperation(logger, operation, jobID)
	var err error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, jobID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= p.MaxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if p.expected(err) {
			return logging.NewOperationError(operation, jobID, err)
		}

		if !IsTransient(err) || attempt == p.Attempts-1 {
			opLogger.Error("operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, jobID, err)
		}

		opLogger.Warn("transient error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, jobID, err)
}

// IsTransient reports whether err is a timeout or is marked temporary.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
