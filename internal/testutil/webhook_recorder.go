package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// WebhookRecorder is an httptest server that captures batch completion
// callbacks for assertions.
type WebhookRecorder struct {
	mu       sync.Mutex
	payloads []map[string]any
	status   int
	server   *httptest.Server
}

// NewWebhookRecorder starts a recorder that answers every delivery with
// the given status code.
func NewWebhookRecorder(status int) *WebhookRecorder {
	r := &WebhookRecorder{status: status}
	r.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(req.Body).Decode(&payload); err == nil {
			r.mu.Lock()
			r.payloads = append(r.payloads, payload)
			r.mu.Unlock()
		}
		w.WriteHeader(r.status)
	}))
	return r
}

// URL returns the notify URL to hand to batch options.
func (r *WebhookRecorder) URL() string { return r.server.URL }

// Close shuts the server down.
func (r *WebhookRecorder) Close() { r.server.Close() }

// Payloads returns a copy of the captured deliveries.
func (r *WebhookRecorder) Payloads() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]map[string]any, len(r.payloads))
	copy(out, r.payloads)
	return out
}

// WaitForDelivery blocks until at least one delivery lands or the
// timeout expires; it reports whether anything arrived.
func (r *WebhookRecorder) WaitForDelivery(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		n := len(r.payloads)
		r.mu.Unlock()
		if n > 0 {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
