// Package retry retries transient infrastructure errors with capped
// exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/imgsearch/internal/logging"
)

// Policy configures Do.
type Policy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Expected reports errors that are a normal answer, such as a cache miss.
	// They are returned without retry and logged at debug level.
	Expected func(error) bool
}

// DefaultPolicy is used by the redis and database adapters.
var DefaultPolicy = Policy{
	Attempts:       3,
	InitialBackoff: 50 * time.Millisecond,
	MaxBackoff:     time.Second,
}

// Do runs fn until it succeeds, fails with a non-transient error, or the
// attempts are exhausted. Failures are returned as *logging.OperationError.
func Do(ctx context.Context, logger *zap.Logger, policy Policy, operation, requestID string, fn func() error) error {
	opLogger := logging.WithOperation(logger, operation, requestID)
	if policy.Attempts <= 1 {
		err := fn()
		if err != nil {
			policy.logFailure(opLogger, err, 1)
		}
		return logging.NewOperationError(operation, requestID, err)
	}

	backoff := policy.InitialBackoff
	var err error
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= policy.MaxBackoff {
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

		if policy.expected(err) || !IsTransient(err) || attempt == policy.Attempts-1 {
			policy.logFailure(opLogger, err, attempt+1)
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (p Policy) expected(err error) bool {
	return p.Expected != nil && p.Expected(err)
}

func (p Policy) logFailure(logger *zap.Logger, err error, attempt int) {
	if p.expected(err) {
		logger.Debug("operation returned expected error", zap.Error(err))
		return
	}
	logger.Error("operation failed", zap.Error(err), zap.Int("attempt", attempt))
}

// IsTransient reports whether err is a timeout or a temporary failure.
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
