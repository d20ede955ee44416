package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/imgsearch/internal/retry"
)

// Search log statuses.
const (
	StatusRendered = "rendered"
	StatusEmpty    = "empty"
	StatusError    = "error"
)

// SearchLog records the outcome of one search cycle.
type SearchLog struct {
	ID            uint      `gorm:"primaryKey"`
	RequestID     string    `gorm:"column:request_id;uniqueIndex;size:64"`
	SessionID     string    `gorm:"column:session_id;index;size:64"`
	SHA1Hash      string    `gorm:"column:sha1_hash;index;size:40"`
	TopK          int       `gorm:"column:topk"`
	ReturnedCount int       `gorm:"column:returned_count"`
	VisibleCount  int       `gorm:"column:visible_count"`
	Status        string    `gorm:"column:status;size:16"`
	Message       string    `gorm:"column:message;type:text"`
	LatencyMs     int64     `gorm:"column:latency_ms"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (SearchLog) TableName() string {
	return "search_logs"
}

// MetricsAggregation holds raw aggregates over all search logs.
type MetricsAggregation struct {
	TotalCount       int64
	RenderedCount    int64
	EmptyCount       int64
	ErrorCount       int64
	AverageVisible   float64
	AverageLatencyMs float64
}

// SearchRepository provides persistence APIs for search logs.
type SearchRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewSearchRepository creates a new repository instance.
func NewSearchRepository(db *gorm.DB, logger *zap.Logger) *SearchRepository {
	return &SearchRepository{
		db:             db,
		logger:         logger.Named("search_repository"),
		retryAttempts:  retry.DefaultPolicy.Attempts,
		initialBackoff: retry.DefaultPolicy.InitialBackoff,
		maxBackoff:     retry.DefaultPolicy.MaxBackoff,
	}
}

// AutoMigrate ensures the schema is available.
func (r *SearchRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&SearchLog{})
	})
}

// SaveLog persists a search log entry.
func (r *SearchRepository) SaveLog(ctx context.Context, log *SearchLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestIDAndSession retrieves the log of a cycle owned by sessionID.
func (r *SearchRepository) FindByRequestIDAndSession(ctx context.Context, requestID, sessionID string) (*SearchLog, error) {
	var log SearchLog
	err := r.executeWithRetry(ctx, "repository.find_by_request", requestID, func() error {
		return r.db.WithContext(ctx).First(&log, "request_id = ? AND session_id = ?", requestID, sessionID).Error
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// FindRepeatsByHash lists earlier searches of the same image by a session.
func (r *SearchRepository) FindRepeatsByHash(ctx context.Context, sessionID, hash, excludeRequestID string) ([]*SearchLog, error) {
	var logs []*SearchLog
	err := r.executeWithRetry(ctx, "repository.find_repeats", excludeRequestID, func() error {
		return r.db.WithContext(ctx).
			Where("session_id = ? AND sha1_hash = ? AND request_id <> ?", sessionID, hash, excludeRequestID).
			Order("created_at DESC").
			Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateMetrics computes totals and averages over all logs.
func (r *SearchRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&SearchLog{}).
			Select(`COUNT(*) AS total_count,
				COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS rendered_count,
				COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS empty_count,
				COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS error_count,
				COALESCE(AVG(visible_count), 0) AS average_visible,
				COALESCE(AVG(latency_ms), 0) AS average_latency_ms`,
				StatusRendered, StatusEmpty, StatusError).
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *SearchRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	policy := retry.Policy{
		Attempts:       r.retryAttempts,
		InitialBackoff: r.initialBackoff,
		MaxBackoff:     r.maxBackoff,
		Expected:       isNotFound,
	}
	return retry.Do(ctx, r.logger, policy, operation, requestID, fn)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
