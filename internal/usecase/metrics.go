package usecase

import "context"

// MetricsSummary represents aggregated search insights.
type MetricsSummary struct {
	TotalSearches         int64   `json:"total_searches"`
	RenderedSearches      int64   `json:"rendered_searches"`
	EmptySearches         int64   `json:"empty_searches"`
	FailedSearches        int64   `json:"failed_searches"`
	FailureRate           float64 `json:"failure_rate"`
	AverageVisibleMatches float64 `json:"average_visible_matches"`
	AverageLatencyMs      float64 `json:"average_latency_ms"`
}

// GetMetricsSummary aggregates search metrics from persisted logs.
func (uc *SearchUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalSearches:         aggregation.TotalCount,
		RenderedSearches:      aggregation.RenderedCount,
		EmptySearches:         aggregation.EmptyCount,
		FailedSearches:        aggregation.ErrorCount,
		AverageVisibleMatches: aggregation.AverageVisible,
		AverageLatencyMs:      aggregation.AverageLatencyMs,
	}

	if aggregation.TotalCount > 0 {
		summary.FailureRate = float64(aggregation.ErrorCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
