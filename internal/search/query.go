package search

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
)

const (
	// FileField is the multipart field carrying the image.
	FileField = "file"
	// LimitParam is the query parameter carrying the result limit.
	LimitParam = "topk"

	defaultFilename = "upload"
)

// Query is the user's image and the requested number of results.
type Query struct {
	Image    []byte
	Filename string
	Limit    int
}

// Searcher runs a query against the search backend.
type Searcher interface {
	Search(ctx context.Context, q Query) (MatchSet, error)
}

// NewQuery builds a Query from the current input values. The limit comes from
// a bounded selector and is taken as is.
func NewQuery(image []byte, filename string, limit int) (Query, error) {
	if len(image) == 0 {
		return Query{}, ErrNoInputSelected
	}
	if filename == "" {
		filename = defaultFilename
	}
	return Query{Image: image, Filename: filename, Limit: limit}, nil
}

// BuildRequest turns q into POST <endpoint>/search?topk=<limit> with the image
// as a multipart file part.
func BuildRequest(ctx context.Context, endpoint string, q Query) (*http.Request, error) {
	if len(q.Image) == 0 {
		return nil, ErrNoInputSelected
	}

	base, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid search endpoint %q: %w", endpoint, err)
	}
	target := base.JoinPath("search")
	params := target.Query()
	params.Set(LimitParam, strconv.Itoa(q.Limit))
	target.RawQuery = params.Encode()

	filename := q.Filename
	if filename == "" {
		filename = defaultFilename
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(FileField, filename)
	if err != nil {
		return nil, fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(q.Image); err != nil {
		return nil, fmt.Errorf("write image payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req, nil
}
