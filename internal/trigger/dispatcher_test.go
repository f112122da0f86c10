package trigger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestNotify_DeliversWakeRequest(t *testing.T) {
	var mu sync.Mutex
	var received []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %s", ct)
		}
		var req wakeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode wake request: %v", err)
		}
		mu.Lock()
		received = append(received, req.JobID)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL)
	d.Notify(context.Background(), "job-1")
	d.Notify(context.Background(), "job-2")
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(received))
	}
	seen := map[string]bool{received[0]: true, received[1]: true}
	if !seen["job-1"] || !seen["job-2"] {
		t.Errorf("unexpected job IDs delivered: %v", received)
	}
}

func TestNotify_SwallowsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL)
	d.Notify(context.Background(), "job-1")
	d.Wait()
}

func TestNotify_SwallowsTransportError(t *testing.T) {
	// Closed server: every delivery fails at the transport layer.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	d := NewDispatcher(srv.URL)
	d.Notify(context.Background(), "job-1")
	d.Wait()
}

func TestNotify_DoesNotBlockCaller(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	d := NewDispatcher(srv.URL)

	done := make(chan struct{})
	go func() {
		d.Notify(context.Background(), "job-1")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on the wake endpoint")
	}
}
