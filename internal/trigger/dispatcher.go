// Package trigger delivers the best-effort wake signal that tells a
// worker a job may have a claimable chunk. Delivery is fire-and-forget:
// duplicates are harmless (the claim engine turns redundant wake-ups
// into no-ops) and losses are repaired by the recovery sweeper.
package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/mathcivilce/mailsync/internal/observability"
)

type Dispatcher struct {
	endpoint   string
	httpClient *http.Client

	wg sync.WaitGroup
}

func NewDispatcher(endpoint string) *Dispatcher {
	return &Dispatcher{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type wakeRequest struct {
	JobID string `json:"job_id"`
}

// Notify fires an asynchronous wake-up for jobID. It never blocks the
// caller on the network round-trip and never reports failure: 2xx, 4xx,
// 5xx and transport errors are all just logged.
func (d *Dispatcher) Notify(ctx context.Context, jobID string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		// Detached context: the caller's transaction or request may be
		// gone by the time the delivery lands.
		deliverCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		d.deliver(deliverCtx, jobID)
	}()
}

func (d *Dispatcher) deliver(ctx context.Context, jobID string) {
	body, err := json.Marshal(wakeRequest{JobID: jobID})
	if err != nil {
		log.Printf("Trigger: failed to marshal wake request for job %s: %v", jobID, err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		log.Printf("Trigger: failed to build wake request for job %s: %v", jobID, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		observability.TriggerDeliveries.WithLabelValues("error").Inc()
		log.Printf("Trigger: wake delivery failed for job %s: %v", jobID, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		observability.TriggerDeliveries.WithLabelValues("delivered").Inc()
		return
	}
	observability.TriggerDeliveries.WithLabelValues("rejected").Inc()
	log.Printf("Trigger: wake endpoint returned %d for job %s", resp.StatusCode, jobID)
}

// Wait blocks until in-flight deliveries finish. Used on shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
