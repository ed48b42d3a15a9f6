package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"videra/pkg/models"
)

func TestNotifyJobResultPostsJSON(t *testing.T) {
	var got models.JobResultPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewWebhookClient(srv.URL, 0)
	payload := models.JobResultPayload{JobID: "job-1", Status: models.JobCompleted, DownloadURL: "/compressed/a.mp4"}
	if err := c.NotifyJobResult(context.Background(), payload); err != nil {
		t.Fatalf("NotifyJobResult: %v", err)
	}
	if got.JobID != "job-1" || got.Status != models.JobCompleted || got.DownloadURL != "/compressed/a.mp4" {
		t.Fatalf("server received %+v", got)
	}
}

func TestNotifyJobResultClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewWebhookClient(srv.URL, 3).NotifyJobResult(context.Background(), models.JobResultPayload{JobID: "job-2"})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("error = %v, want StatusError 400", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx must not be retried, got %d calls", calls.Load())
	}
}

func TestNotifyJobResultServerErrorAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewWebhookClient(srv.URL, 1).NotifyJobResult(context.Background(), models.JobResultPayload{JobID: "job-3"})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("error = %v, want StatusError 503", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected one retry, got %d calls", calls.Load())
	}
}
