package search

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
)

func TestNewQueryRequiresImage(t *testing.T) {
	_, err := NewQuery(nil, "a.jpg", 5)
	if !errors.Is(err, ErrNoInputSelected) {
		t.Fatalf("expected ErrNoInputSelected, got %v", err)
	}
}

func TestNewQueryDefaultsFilename(t *testing.T) {
	q, err := NewQuery([]byte("img"), "", 10)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if q.Filename != "upload" {
		t.Fatalf("unexpected filename: %s", q.Filename)
	}
	if q.Limit != 10 {
		t.Fatalf("unexpected limit: %d", q.Limit)
	}
}

func TestBuildRequestEncodesImageAndLimit(t *testing.T) {
	q, err := NewQuery([]byte("png-bytes"), "cat.png", 5)
	if err != nil {
		t.Fatalf("failed to build query: %v", err)
	}

	req, err := BuildRequest(context.Background(), "http://backend:8000", q)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if req.Method != http.MethodPost {
		t.Fatalf("unexpected method: %s", req.Method)
	}
	if req.URL.Path != "/search" {
		t.Fatalf("unexpected path: %s", req.URL.Path)
	}
	if got := req.URL.Query().Get("topk"); got != "5" {
		t.Fatalf("unexpected topk: %q", got)
	}

	if err := req.ParseMultipartForm(1 << 20); err != nil {
		t.Fatalf("failed to parse multipart body: %v", err)
	}
	file, header, err := req.FormFile("file")
	if err != nil {
		t.Fatalf("expected file part: %v", err)
	}
	defer file.Close()
	if header.Filename != "cat.png" {
		t.Fatalf("unexpected filename: %s", header.Filename)
	}
	data, err := io.ReadAll(file)
	if err != nil {
		t.Fatalf("failed to read part: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("unexpected payload: %q", data)
	}
}

func TestBuildRequestKeepsEndpointPrefix(t *testing.T) {
	q := Query{Image: []byte("x"), Limit: 20}
	req, err := BuildRequest(context.Background(), "http://backend/api/", q)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if req.URL.Path != "/api/search" {
		t.Fatalf("unexpected path: %s", req.URL.Path)
	}
}

func TestBuildRequestRejectsEmptyImage(t *testing.T) {
	_, err := BuildRequest(context.Background(), "http://backend", Query{Limit: 5})
	if !errors.Is(err, ErrNoInputSelected) {
		t.Fatalf("expected ErrNoInputSelected, got %v", err)
	}
}

func TestTransportErrorMatchesSentinel(t *testing.T) {
	var err error = &TransportError{StatusCode: http.StatusInternalServerError}
	if !errors.Is(err, ErrTransportFailure) {
		t.Fatal("expected TransportError to match ErrTransportFailure")
	}
	if err.Error() != "HTTP error! status: 500" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}
