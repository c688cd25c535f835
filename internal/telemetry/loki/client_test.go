package loki

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func captureServer(t *testing.T, status int) (*httptest.Server, *PushRequest) {
	t.Helper()
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loki/api/v1/push" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestClient_PushEventJSON(t *testing.T) {
	srv, got := captureServer(t, http.StatusNoContent)
	c := NewClient(srv.URL+"/", nil)

	raw := []byte(`{"eventType":"cleanup_completed","source":"recovery","outcome":"deleted ok","correlationId":"corr-1","createdAt":"2026-01-02T03:04:05Z"}`)
	if err := c.PushEventJSON(context.Background(), raw); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}

	if len(got.Streams) != 1 {
		t.Fatalf("streams = %d, want 1", len(got.Streams))
	}
	s := got.Streams[0]
	if s.Stream["job"] != "orphan-recovery" {
		t.Errorf("job = %q", s.Stream["job"])
	}
	if s.Stream["event_type"] != "cleanup_completed" || s.Stream["source"] != "recovery" {
		t.Errorf("labels = %v", s.Stream)
	}
	if s.Stream["outcome"] != "deleted_ok" {
		t.Errorf("outcome label should be sanitized, got %q", s.Stream["outcome"])
	}
	if _, ok := s.Stream["correlation_id"]; ok {
		t.Error("correlation id must not become a label")
	}
	want := strconv.FormatInt(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).UnixNano(), 10)
	if s.Values[0][0] != want {
		t.Errorf("timestamp = %s, want %s", s.Values[0][0], want)
	}
	if s.Values[0][1] != string(raw) {
		t.Error("line should be the raw event JSON")
	}
}

func TestClient_PushEventJSON_InvalidJSON(t *testing.T) {
	srv, got := captureServer(t, http.StatusNoContent)
	c := NewClient(srv.URL, nil)
	fixed := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	c.nowF = func() time.Time { return fixed }

	if err := c.PushEventJSON(context.Background(), []byte("not json")); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	s := got.Streams[0]
	if len(s.Stream) != 1 {
		t.Errorf("labels = %v, want only job", s.Stream)
	}
	if s.Values[0][0] != strconv.FormatInt(fixed.UnixNano(), 10) {
		t.Errorf("timestamp = %s, want now", s.Values[0][0])
	}
}

func TestClient_PushEvent_Non2xx(t *testing.T) {
	srv, _ := captureServer(t, http.StatusBadRequest)
	if err := NewClient(srv.URL, nil).PushEvent(context.Background(), time.Now(), "line", nil); err == nil {
		t.Fatal("expected error for 400 response")
	}
}

func TestClient_PushEvent_EmptyURL(t *testing.T) {
	if err := NewClient("", nil).PushEvent(context.Background(), time.Now(), "line", nil); err == nil {
		t.Fatal("expected error for empty base URL")
	}
}
