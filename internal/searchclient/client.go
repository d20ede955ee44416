package searchclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/example/imgsearch/internal/logging"
	"github.com/example/imgsearch/internal/search"
)

// DefaultTimeout bounds a single search call when none is configured.
const DefaultTimeout = 30 * time.Second

// Client calls the remote similarity search service over HTTP.
type Client struct {
	endpoint string
	http     *http.Client
	logger   *zap.Logger
}

// HealthStatus is the backend's /health payload.
type HealthStatus struct {
	Status    string `json:"status"`
	Device    string `json:"device"`
	IndexSize int    `json:"index_size"`
}

// errMissingMatches marks a 2xx body without a "matches" array. The backend
// reports its own faults that way, so it must not read as an empty result.
var errMissingMatches = errors.New("response missing matches")

type searchResponse struct {
	Matches *search.MatchSet `json:"matches"`
}

// New returns a client for the backend rooted at endpoint.
func New(endpoint string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, logging.NewOperationError("searchclient.new", "", fmt.Errorf("invalid backend url %q", endpoint))
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		logger:   logger.Named("searchclient"),
	}, nil
}

// Search posts the query to the backend and decodes its match list.
// Every failure comes back as a *search.TransportError.
func (c *Client) Search(ctx context.Context, q search.Query) (search.MatchSet, error) {
	req, err := search.BuildRequest(ctx, c.endpoint, q)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("search request failed", zap.Error(err), zap.String("url", req.URL.String()))
		return nil, &search.TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("search backend returned error status",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", detail),
		)
		return nil, &search.TransportError{StatusCode: resp.StatusCode}
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.logger.Error("failed to decode search response", zap.Error(err))
		return nil, &search.TransportError{Err: fmt.Errorf("decode search response: %w", err)}
	}
	if payload.Matches == nil {
		c.logger.Error("search response has no matches field")
		return nil, &search.TransportError{Err: errMissingMatches}
	}

	matches := *payload.Matches
	c.logger.Debug("search completed",
		zap.Int("topk", q.Limit),
		zap.Int("matches", len(matches)),
	)
	return matches, nil
}

// Health queries the backend's readiness endpoint.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	base, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.JoinPath("health").String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &search.TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &search.TransportError{StatusCode: resp.StatusCode}
	}

	var status HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, &search.TransportError{Err: fmt.Errorf("decode health response: %w", err)}
	}
	return &status, nil
}
