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
	"go.uber.org/zap"

	"github.com/example/imgsearch/internal/logging"
	"github.com/example/imgsearch/internal/repository"
	"github.com/example/imgsearch/internal/retry"
	"github.com/example/imgsearch/internal/search"
	"github.com/example/imgsearch/internal/ui"
)

// SearchRepository defines the persistence operations needed by the use case.
type SearchRepository interface {
	SaveLog(ctx context.Context, log *repository.SearchLog) error
	FindByRequestIDAndSession(ctx context.Context, requestID, sessionID string) (*repository.SearchLog, error)
	FindRepeatsByHash(ctx context.Context, sessionID, hash, excludeRequestID string) ([]*repository.SearchLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// SearchUseCase runs search cycles for gateway sessions. A session may only
// have one cycle in flight across all gateway instances.
type SearchUseCase struct {
	repo           SearchRepository
	cache          Cache
	searcher       search.Searcher
	imageBase      string
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	inflightTTL    time.Duration
	resultTTL      time.Duration
}

type cachedSearch struct {
	RequestID     string    `json:"request_id"`
	SessionID     string    `json:"session_id"`
	Hash          string    `json:"sha1_hash"`
	TopK          int       `json:"topk"`
	ReturnedCount int       `json:"returned_count"`
	VisibleCount  int       `json:"visible_count"`
	Status        string    `json:"status"`
	Message       string    `json:"message"`
	LatencyMs     int64     `json:"latency_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// RepeatReport lists earlier searches of the same image by the same session.
type RepeatReport struct {
	Request *repository.SearchLog
	Repeats []*repository.SearchLog
}

// inflightMargin keeps the in-flight key alive past the search deadline so it
// cannot expire while the backend call is still running.
const inflightMargin = 30 * time.Second

// defaultSearchTimeout is assumed when the caller passes no search timeout.
const defaultSearchTimeout = 30 * time.Second

// NewSearchUseCase constructs a new use case instance. searchTimeout is the
// deadline of a single backend call and sizes the in-flight guard.
func NewSearchUseCase(repo SearchRepository, cache Cache, searcher search.Searcher, imageBase string, searchTimeout time.Duration, logger *zap.Logger) *SearchUseCase {
	if searchTimeout <= 0 {
		searchTimeout = defaultSearchTimeout
	}
	return &SearchUseCase{
		repo:           repo,
		cache:          cache,
		searcher:       searcher,
		imageBase:      imageBase,
		logger:         logger.Named("search_usecase"),
		retryAttempts:  retry.DefaultPolicy.Attempts,
		initialBackoff: retry.DefaultPolicy.InitialBackoff,
		maxBackoff:     retry.DefaultPolicy.MaxBackoff,
		inflightTTL:    searchTimeout + inflightMargin,
		resultTTL:      5 * time.Minute,
	}
}

// Search runs one cycle for sessionID against view. The returned outcome is
// non-nil whenever the cycle reached the backend, including on failure.
func (uc *SearchUseCase) Search(ctx context.Context, sessionID string, view ui.View, sel ui.Selection) (*ui.Outcome, error) {
	controller := ui.NewController(uc.searcher, uc.imageBase, uc.logger)
	if len(sel.Image) == 0 {
		return controller.Submit(ctx, view, sel)
	}

	release, err := uc.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	outcome, err := controller.Submit(ctx, view, sel)
	if outcome != nil {
		uc.record(ctx, sessionID, sel.Image, outcome, time.Since(start))
	}
	return outcome, err
}

// GetResult retrieves a cached search outcome or loads it from persistence.
func (uc *SearchUseCase) GetResult(ctx context.Context, sessionID, requestID string) (*repository.SearchLog, error) {
	cacheKey := resultKey(requestID)
	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", cacheKey); err == nil {
		var payload cachedSearch
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to decode cached result", zap.Error(err))
		} else if payload.SessionID == sessionID {
			return payload.toLog(), nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to read cache", zap.Error(err))
	}

	return uc.repo.FindByRequestIDAndSession(ctx, requestID, sessionID)
}

// GetRepeatReport builds the repeated-search report for a request.
func (uc *SearchUseCase) GetRepeatReport(ctx context.Context, sessionID, requestID string) (*RepeatReport, error) {
	log, err := uc.repo.FindByRequestIDAndSession(ctx, requestID, sessionID)
	if err != nil {
		return nil, err
	}

	repeats, err := uc.repo.FindRepeatsByHash(ctx, sessionID, log.SHA1Hash, log.RequestID)
	if err != nil {
		return nil, err
	}

	return &RepeatReport{Request: log, Repeats: repeats}, nil
}

// acquire claims the session's in-flight slot. When redis is unreachable the
// cycle proceeds unguarded rather than blocking the user.
func (uc *SearchUseCase) acquire(ctx context.Context, sessionID string) (func(), error) {
	key := inflightKey(sessionID)
	var acquired bool
	err := uc.withRedisRetry(ctx, sessionID, "cache.setnx.inflight", func() error {
		ok, err := uc.cache.SetNX(ctx, key, "searching", uc.inflightTTL)
		acquired = ok
		return err
	})
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.acquire", sessionID).Warn("in-flight guard unavailable", zap.Error(err))
		return func() {}, nil
	}
	if !acquired {
		return nil, logging.NewOperationError("usecase.acquire", sessionID, ui.ErrSearchInProgress)
	}

	return func() {
		releaseCtx := context.WithoutCancel(ctx)
		if err := uc.withRedisRetry(releaseCtx, sessionID, "cache.del.inflight", func() error {
			return uc.cache.Del(releaseCtx, key)
		}); err != nil {
			logging.WithOperation(uc.logger, "usecase.release", sessionID).Warn("failed to release in-flight guard", zap.Error(err))
		}
	}, nil
}

// record persists and caches the outcome. Failures are logged only: the
// cycle has already been rendered.
func (uc *SearchUseCase) record(ctx context.Context, sessionID string, image []byte, outcome *ui.Outcome, latency time.Duration) {
	opLogger := logging.WithOperation(uc.logger, "usecase.record", outcome.RequestID)

	hash := sha1.Sum(image)
	log := &repository.SearchLog{
		RequestID:     outcome.RequestID,
		SessionID:     sessionID,
		SHA1Hash:      hex.EncodeToString(hash[:]),
		TopK:          outcome.Query.Limit,
		ReturnedCount: len(outcome.Matches),
		VisibleCount:  len(outcome.Entries),
		Status:        statusOf(outcome),
		Message:       messageOf(outcome),
		LatencyMs:     latency.Milliseconds(),
		CreatedAt:     time.Now().UTC(),
	}

	if err := uc.repo.SaveLog(ctx, log); err != nil {
		opLogger.Error("failed to persist search log", zap.Error(err))
	}

	serialized, err := json.Marshal(newCachedSearch(log))
	if err != nil {
		opLogger.Error("failed to serialize search result", zap.Error(err))
		return
	}
	if err := uc.withRedisRetry(ctx, outcome.RequestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, resultKey(outcome.RequestID), string(serialized), uc.resultTTL)
	}); err != nil {
		opLogger.Warn("failed to cache search result", zap.Error(err))
	}
}

func (uc *SearchUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	policy := retry.Policy{
		Attempts:       uc.retryAttempts,
		InitialBackoff: uc.initialBackoff,
		MaxBackoff:     uc.maxBackoff,
		Expected:       isCacheMiss,
	}
	return retry.Do(ctx, uc.logger, policy, operation, requestID, fn)
}

func isCacheMiss(err error) bool {
	return errors.Is(err, redis.Nil)
}

func (uc *SearchUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func statusOf(outcome *ui.Outcome) string {
	switch {
	case outcome.State.Phase == ui.PhaseError:
		return repository.StatusError
	case outcome.Empty():
		return repository.StatusEmpty
	default:
		return repository.StatusRendered
	}
}

func messageOf(outcome *ui.Outcome) string {
	if outcome.State.Phase == ui.PhaseError {
		return outcome.State.Message
	}
	if outcome.Empty() {
		return search.ErrEmptyAccurateSet.Error()
	}
	return ""
}

func newCachedSearch(log *repository.SearchLog) cachedSearch {
	return cachedSearch{
		RequestID:     log.RequestID,
		SessionID:     log.SessionID,
		Hash:          log.SHA1Hash,
		TopK:          log.TopK,
		ReturnedCount: log.ReturnedCount,
		VisibleCount:  log.VisibleCount,
		Status:        log.Status,
		Message:       log.Message,
		LatencyMs:     log.LatencyMs,
		CreatedAt:     log.CreatedAt,
	}
}

func (c cachedSearch) toLog() *repository.SearchLog {
	return &repository.SearchLog{
		RequestID:     c.RequestID,
		SessionID:     c.SessionID,
		SHA1Hash:      c.Hash,
		TopK:          c.TopK,
		ReturnedCount: c.ReturnedCount,
		VisibleCount:  c.VisibleCount,
		Status:        c.Status,
		Message:       c.Message,
		LatencyMs:     c.LatencyMs,
		CreatedAt:     c.CreatedAt,
	}
}

func inflightKey(sessionID string) string {
	return fmt.Sprintf("search:inflight:%s", sessionID)
}

func resultKey(requestID string) string {
	return fmt.Sprintf("search:result:%s", requestID)
}
