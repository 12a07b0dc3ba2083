package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestFetchHistory(t *testing.T) {
	var gotAuth, gotPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"messages":[
			{"id":"m1","t":"message","u":"alice","c":"hello","d":1767000000},
			{"id":"m2","t":"system","u":"","c":"maintenance at noon","d":1767000060}
		]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "tok-1", WithHTTPClient(server.Client()))

	msgs, err := c.FetchHistory(context.Background())
	if err != nil {
		t.Fatalf("FetchHistory failed: %v", err)
	}

	if gotPath != "/api/chat/history" {
		t.Errorf("path = %q, want /api/chat/history", gotPath)
	}
	if gotAuth != "Bearer tok-1" {
		t.Errorf("Authorization = %q, want Bearer tok-1", gotAuth)
	}

	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].ID != "m1" || msgs[0].Kind != "message" || msgs[0].Author != "alice" {
		t.Errorf("unexpected first message: %+v", msgs[0])
	}
	if msgs[0].Sent != 1767000000 {
		t.Errorf("Sent = %d, want 1767000000", msgs[0].Sent)
	}
	if msgs[1].Kind != "system" {
		t.Errorf("second kind = %q, want system", msgs[1].Kind)
	}
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"messages":[]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "tok",
		WithHTTPClient(server.Client()),
		WithRetries(3, time.Millisecond),
	)

	if _, err := c.FetchHistory(context.Background()); err != nil {
		t.Fatalf("expected recovery after retries, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("requests = %d, want 3", got)
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := NewClient(server.URL, "tok",
		WithHTTPClient(server.Client()),
		WithRetries(3, time.Millisecond),
	)

	_, err := c.FetchHistory(context.Background())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", apiErr.StatusCode)
	}
	if apiErr.IsRetryable() {
		t.Error("404 must not be retryable")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("requests = %d, want 1 (no retry on 4xx)", got)
	}
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(server.URL, "tok",
		WithHTTPClient(server.Client()),
		WithRetries(2, time.Millisecond),
	)

	_, err := c.FetchHistory(context.Background())
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected wrapped 500 APIError, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("requests = %d, want 3 (initial + 2 retries)", got)
	}
}

func TestRetryCancelledByContext(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(server.URL, "tok",
		WithHTTPClient(server.Client()),
		WithRetries(5, 500*time.Millisecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.FetchHistory(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("requests = %d, want 1 (cancelled during backoff)", got)
	}
}

func TestLogout(t *testing.T) {
	var gotMethod, gotPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewClient(server.URL, "tok", WithHTTPClient(server.Client()))

	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method = %q, want POST", gotMethod)
	}
	if gotPath != "/api/logout" {
		t.Errorf("path = %q, want /api/logout", gotPath)
	}
}

func TestLogoutDoesNotRetry(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewClient(server.URL, "tok",
		WithHTTPClient(server.Client()),
		WithRetries(3, time.Millisecond),
	)

	err := c.Logout(context.Background())

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 APIError, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("requests = %d, want 1 (logout is fire-once)", got)
	}
}

func TestStreamURL(t *testing.T) {
	tests := []struct {
		base, token, want string
	}{
		{"wss://moment.example.com", "abc123", "wss://moment.example.com/stream?token=abc123"},
		{"ws://localhost:8080", "a b+c/d", "ws://localhost:8080/stream?token=a+b%2Bc%2Fd"},
	}

	for _, tt := range tests {
		if got := StreamURL(tt.base, tt.token); got != tt.want {
			t.Errorf("StreamURL(%q, %q) = %q, want %q", tt.base, tt.token, got, tt.want)
		}
	}
}
