package promptfeed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

func businessWithFeed(url string) models.Business {
	return models.Business{
		ID:      "biz",
		Profile: models.BusinessProfile{Capabilities: models.Capabilities{CustomPromptURL: url}},
	}
}

func TestFetch_NoCapability(t *testing.T) {
	c := NewClient()
	got, err := c.Fetch(context.Background(), models.Business{ID: "biz"})
	if err != nil || got != "" {
		t.Errorf("expected empty result, got %q, %v", got, err)
	}
}

func TestFetch_RendersJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("unexpected Accept header %q", r.Header.Get("Accept"))
		}
		w.Write([]byte(`{"events":[{"name":"Concierto","date":"2026-11-01"}]}`))
	}))
	defer srv.Close()

	c := NewClient()
	got, err := c.Fetch(context.Background(), businessWithFeed(srv.URL))
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !strings.HasPrefix(got, DefaultHeader+"\n") {
		t.Errorf("expected header prefix, got %q", got)
	}
	if !strings.Contains(got, `"name": "Concierto"`) {
		t.Errorf("expected indented JSON, got %q", got)
	}
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("plain text"))
	}))
	defer srv.Close()

	c := NewClient(WithRetryMax(2), WithHeader(""))
	c.http.RetryWaitMin = time.Millisecond
	c.http.RetryWaitMax = time.Millisecond
	got, err := c.Fetch(context.Background(), businessWithFeed(srv.URL))
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if got != "plain text" {
		t.Errorf("expected raw body, got %q", got)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestFetch_ClientErrorIsUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(WithRetryMax(0))
	_, err := c.Fetch(context.Background(), businessWithFeed(srv.URL))
	var upErr *models.UpstreamError
	if !errors.As(err, &upErr) || upErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected upstream 403 error, got %v", err)
	}
}
