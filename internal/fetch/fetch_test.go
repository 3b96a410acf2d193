package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	apperrors "github.com/loistio/loist-mcp/internal/errors"
)

func TestFetchHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	f := New()
	res, err := f.Fetch(context.Background(), Options{URL: srv.URL, MaxSizeMB: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer os.Remove(res.Path)

	data, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello world" {
		t.Fatalf("got %q", data)
	}
	if res.Size != 11 {
		t.Fatalf("size = %d, want 11", res.Size)
	}
}

func TestFetchRejectsBadScheme(t *testing.T) {
	f := New()
	_, err := f.Fetch(context.Background(), Options{URL: "ftp://example.com/x", MaxSizeMB: 100})
	assertKind(t, err, apperrors.FetchForbidden)
}

func TestFetchSizeExceededByContentLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "2147483648")
		if r.Method == http.MethodHead {
			return
		}
		w.Write([]byte("should not be read"))
	}))
	defer srv.Close()

	f := New()
	_, err := f.Fetch(context.Background(), Options{URL: srv.URL, MaxSizeMB: 100})
	assertKind(t, err, apperrors.SizeExceeded)
}

func TestFetchSizeExceededMidStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return // no Content-Length announced
		}
		w.Write([]byte(strings.Repeat("x", 2*1024*1024)))
	}))
	defer srv.Close()

	f := New()
	_, err := f.Fetch(context.Background(), Options{URL: srv.URL, MaxSizeMB: 1})
	assertKind(t, err, apperrors.SizeExceeded)
}

func TestFetchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := New()
	_, err := f.Fetch(context.Background(), Options{URL: srv.URL, MaxSizeMB: 100})
	assertKind(t, err, apperrors.FetchFailed)
}

func assertKind(t *testing.T, err error, want apperrors.Kind) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	e, ok := apperrors.As(err)
	if !ok {
		t.Fatalf("expected *errors.Error, got %T: %v", err, err)
	}
	if e.Kind != want {
		t.Fatalf("kind = %s, want %s", e.Kind, want)
	}
}
