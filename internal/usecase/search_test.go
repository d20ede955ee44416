package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/imgsearch/internal/render"
	"github.com/example/imgsearch/internal/repository"
	"github.com/example/imgsearch/internal/search"
	"github.com/example/imgsearch/internal/ui"
)

type stubRepository struct {
	savedLogs   []*repository.SearchLog
	saveErr     error
	findLog     *repository.SearchLog
	findErr     error
	findCalls   int
	repeats     []*repository.SearchLog
	aggregation *repository.MetricsAggregation
}

func (s *stubRepository) SaveLog(ctx context.Context, log *repository.SearchLog) error {
	s.savedLogs = append(s.savedLogs, log)
	return s.saveErr
}

func (s *stubRepository) FindByRequestIDAndSession(ctx context.Context, requestID, sessionID string) (*repository.SearchLog, error) {
	s.findCalls++
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.findLog != nil {
		return s.findLog, nil
	}
	return nil, errors.New("not found")
}

func (s *stubRepository) FindRepeatsByHash(ctx context.Context, sessionID, hash, excludeRequestID string) ([]*repository.SearchLog, error) {
	return s.repeats, nil
}

func (s *stubRepository) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	if s.aggregation == nil {
		return &repository.MetricsAggregation{}, nil
	}
	return s.aggregation, nil
}

type stubCache struct {
	setErrs   []error
	setNXOK   []bool
	setNXErrs []error
	getErrs   []error
	getValues []string
	setKeys   []string
	setNXKeys []string
	getKeys   []string
	delKeys   []string
	setNXTTLs []time.Duration
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.setKeys = append(s.setKeys, key)
	if len(s.setErrs) == 0 {
		return nil
	}
	err := s.setErrs[0]
	s.setErrs = s.setErrs[1:]
	return err
}

func (s *stubCache) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	s.setNXKeys = append(s.setNXKeys, key)
	s.setNXTTLs = append(s.setNXTTLs, expiration)
	if len(s.setNXErrs) > 0 {
		err := s.setNXErrs[0]
		s.setNXErrs = s.setNXErrs[1:]
		return false, err
	}
	if len(s.setNXOK) > 0 {
		ok := s.setNXOK[0]
		s.setNXOK = s.setNXOK[1:]
		return ok, nil
	}
	return true, nil
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	s.getKeys = append(s.getKeys, key)
	var value string
	if len(s.getValues) > 0 {
		value = s.getValues[0]
		s.getValues = s.getValues[1:]
	}
	var err error
	if len(s.getErrs) > 0 {
		err = s.getErrs[0]
		s.getErrs = s.getErrs[1:]
	}
	return value, err
}

func (s *stubCache) Del(ctx context.Context, key string) error {
	s.delKeys = append(s.delKeys, key)
	return nil
}

type stubSearcher struct {
	matches search.MatchSet
	err     error
	calls   int
}

func (s *stubSearcher) Search(ctx context.Context, q search.Query) (search.MatchSet, error) {
	s.calls++
	return s.matches, s.err
}

func newView() *render.PageView {
	return render.NewPageView([]int{5, 10, 20}, 5)
}

func TestSearchRecordsRenderedOutcome(t *testing.T) {
	cache := &stubCache{}
	repo := &stubRepository{}
	searcher := &stubSearcher{matches: search.MatchSet{
		{Filename: "a.jpg", Score: 0.95},
		{Filename: "b.jpg", Score: 0.5},
	}}
	uc := NewSearchUseCase(repo, cache, searcher, "", time.Second, zap.NewNop())
	view := newView()

	outcome, err := uc.Search(context.Background(), "session-1", view, ui.Selection{Image: []byte("image"), Limit: 5})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(view.Page.Entries) != 1 || view.Page.Entries[0].Filename != "a.jpg" {
		t.Fatalf("unexpected entries: %+v", view.Page.Entries)
	}
	if len(repo.savedLogs) != 1 {
		t.Fatalf("expected log to be saved, got %d entries", len(repo.savedLogs))
	}
	saved := repo.savedLogs[0]
	if saved.RequestID != outcome.RequestID || saved.Status != repository.StatusRendered {
		t.Fatalf("unexpected log: %+v", saved)
	}
	if saved.ReturnedCount != 2 || saved.VisibleCount != 1 || saved.TopK != 5 {
		t.Fatalf("unexpected counts: %+v", saved)
	}
	if len(cache.setNXKeys) != 1 || cache.setNXKeys[0] != "search:inflight:session-1" {
		t.Fatalf("unexpected guard keys: %v", cache.setNXKeys)
	}
	if len(cache.delKeys) != 1 || cache.delKeys[0] != cache.setNXKeys[0] {
		t.Fatalf("expected guard to be released, got %v", cache.delKeys)
	}
	if len(cache.setKeys) != 1 || cache.setKeys[0] != "search:result:"+outcome.RequestID {
		t.Fatalf("expected result to be cached, got %v", cache.setKeys)
	}
}

func TestSearchRejectsConcurrentSessionSearch(t *testing.T) {
	cache := &stubCache{setNXOK: []bool{false}}
	searcher := &stubSearcher{}
	uc := NewSearchUseCase(&stubRepository{}, cache, searcher, "", time.Second, zap.NewNop())

	_, err := uc.Search(context.Background(), "session-1", newView(), ui.Selection{Image: []byte("image"), Limit: 5})
	if !errors.Is(err, ui.ErrSearchInProgress) {
		t.Fatalf("expected ErrSearchInProgress, got %v", err)
	}
	if searcher.calls != 0 {
		t.Fatalf("expected no backend call, got %d", searcher.calls)
	}
	if len(cache.delKeys) != 0 {
		t.Fatalf("expected guard held by another cycle to be kept, got %v", cache.delKeys)
	}
}

func TestSearchGuardOutlivesBackendTimeout(t *testing.T) {
	cache := &stubCache{}
	searcher := &stubSearcher{matches: search.MatchSet{}}
	uc := NewSearchUseCase(&stubRepository{}, cache, searcher, "", 2*time.Minute, zap.NewNop())

	if _, err := uc.Search(context.Background(), "session-1", newView(), ui.Selection{Image: []byte("image"), Limit: 5}); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(cache.setNXTTLs) != 1 {
		t.Fatalf("expected one guard acquisition, got %d", len(cache.setNXTTLs))
	}
	if ttl := cache.setNXTTLs[0]; ttl <= 2*time.Minute {
		t.Fatalf("expected guard ttl above the backend timeout, got %s", ttl)
	}
}

func TestSearchGuardDefaultsWithoutTimeout(t *testing.T) {
	uc := NewSearchUseCase(&stubRepository{}, &stubCache{}, &stubSearcher{}, "", 0, zap.NewNop())
	if uc.inflightTTL != defaultSearchTimeout+inflightMargin {
		t.Fatalf("unexpected guard ttl: %s", uc.inflightTTL)
	}
}

func TestSearchProceedsWhenGuardUnavailable(t *testing.T) {
	cache := &stubCache{setNXErrs: []error{errors.New("connection refused")}}
	searcher := &stubSearcher{matches: search.MatchSet{{Filename: "a.jpg", Score: 0.9}}}
	uc := NewSearchUseCase(&stubRepository{}, cache, searcher, "", time.Second, zap.NewNop())

	if _, err := uc.Search(context.Background(), "session-1", newView(), ui.Selection{Image: []byte("image"), Limit: 5}); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if searcher.calls != 1 {
		t.Fatalf("expected one backend call, got %d", searcher.calls)
	}
}

func TestSearchWithoutImageSkipsGuardAndLog(t *testing.T) {
	cache := &stubCache{}
	repo := &stubRepository{}
	uc := NewSearchUseCase(repo, cache, &stubSearcher{}, "", time.Second, zap.NewNop())
	view := newView()

	_, err := uc.Search(context.Background(), "session-1", view, ui.Selection{Limit: 5})
	if !errors.Is(err, search.ErrNoInputSelected) {
		t.Fatalf("expected ErrNoInputSelected, got %v", err)
	}
	if view.Page.Alert != render.NoInputMessage {
		t.Fatalf("unexpected alert: %q", view.Page.Alert)
	}
	if len(cache.setNXKeys) != 0 || len(repo.savedLogs) != 0 {
		t.Fatal("expected no guard and no log for a missing image")
	}
}

func TestSearchRecordsTransportFailure(t *testing.T) {
	repo := &stubRepository{}
	searcher := &stubSearcher{err: &search.TransportError{StatusCode: http.StatusInternalServerError}}
	uc := NewSearchUseCase(repo, &stubCache{}, searcher, "", time.Second, zap.NewNop())
	view := newView()

	outcome, err := uc.Search(context.Background(), "session-1", view, ui.Selection{Image: []byte("image"), Limit: 5})
	if !errors.Is(err, search.ErrTransportFailure) {
		t.Fatalf("expected transport failure, got %v", err)
	}
	if outcome == nil || outcome.State.Phase != ui.PhaseError {
		t.Fatalf("expected error outcome, got %+v", outcome)
	}
	if !view.Page.SubmitEnabled || view.Page.Busy {
		t.Fatalf("expected idle controls, got %+v", view.Page)
	}
	if len(repo.savedLogs) != 1 || repo.savedLogs[0].Status != repository.StatusError {
		t.Fatalf("expected error log, got %+v", repo.savedLogs)
	}
	if repo.savedLogs[0].Message != "HTTP error! status: 500" {
		t.Fatalf("unexpected message: %s", repo.savedLogs[0].Message)
	}
}

func TestSearchSurvivesLogFailure(t *testing.T) {
	repo := &stubRepository{saveErr: errors.New("db down")}
	uc := NewSearchUseCase(repo, &stubCache{}, &stubSearcher{matches: search.MatchSet{}}, "", time.Second, zap.NewNop())

	outcome, err := uc.Search(context.Background(), "session-1", newView(), ui.Selection{Image: []byte("image"), Limit: 5})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !outcome.Empty() {
		t.Fatalf("expected empty outcome, got %+v", outcome.State)
	}
}

func TestGetResultFallsBackToRepositoryWhenCacheMiss(t *testing.T) {
	cache := &stubCache{getErrs: []error{redis.Nil}}
	expected := &repository.SearchLog{RequestID: "req", SessionID: "session", Status: repository.StatusRendered}
	repo := &stubRepository{findLog: expected}
	uc := NewSearchUseCase(repo, cache, &stubSearcher{}, "", time.Second, zap.NewNop())

	log, err := uc.GetResult(context.Background(), "session", "req")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if log != expected {
		t.Fatalf("expected %+v, got %+v", expected, log)
	}
	if repo.findCalls != 1 {
		t.Fatalf("expected repository to be queried once, got %d", repo.findCalls)
	}
}

func TestGetResultServesCachedPayload(t *testing.T) {
	payload, _ := json.Marshal(cachedSearch{RequestID: "req", SessionID: "session", VisibleCount: 3, Status: repository.StatusRendered})
	cache := &stubCache{getValues: []string{string(payload)}}
	repo := &stubRepository{}
	uc := NewSearchUseCase(repo, cache, &stubSearcher{}, "", time.Second, zap.NewNop())

	log, err := uc.GetResult(context.Background(), "session", "req")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if log.VisibleCount != 3 {
		t.Fatalf("unexpected log: %+v", log)
	}
	if repo.findCalls != 0 {
		t.Fatalf("expected no repository lookup, got %d", repo.findCalls)
	}
}

func TestGetResultIgnoresOtherSessionsCache(t *testing.T) {
	payload, _ := json.Marshal(cachedSearch{RequestID: "req", SessionID: "someone-else"})
	cache := &stubCache{getValues: []string{string(payload)}}
	repo := &stubRepository{findErr: errors.New("not found")}
	uc := NewSearchUseCase(repo, cache, &stubSearcher{}, "", time.Second, zap.NewNop())

	if _, err := uc.GetResult(context.Background(), "session", "req"); err == nil {
		t.Fatal("expected lookup for another session to fail")
	}
	if repo.findCalls != 1 {
		t.Fatalf("expected repository fallback, got %d calls", repo.findCalls)
	}
}

func TestGetRepeatReport(t *testing.T) {
	repo := &stubRepository{
		findLog: &repository.SearchLog{RequestID: "req", SHA1Hash: "abc"},
		repeats: []*repository.SearchLog{{RequestID: "older", SHA1Hash: "abc"}},
	}
	uc := NewSearchUseCase(repo, &stubCache{}, &stubSearcher{}, "", time.Second, zap.NewNop())

	report, err := uc.GetRepeatReport(context.Background(), "session", "req")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if report.Request.RequestID != "req" || len(report.Repeats) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestGetMetricsSummaryComputesFailureRate(t *testing.T) {
	repo := &stubRepository{aggregation: &repository.MetricsAggregation{TotalCount: 4, RenderedCount: 2, EmptyCount: 1, ErrorCount: 1}}
	uc := NewSearchUseCase(repo, &stubCache{}, &stubSearcher{}, "", time.Second, zap.NewNop())

	summary, err := uc.GetMetricsSummary(context.Background())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if summary.FailureRate != 0.25 {
		t.Fatalf("unexpected failure rate: %v", summary.FailureRate)
	}
}
