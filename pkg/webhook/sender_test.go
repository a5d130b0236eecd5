package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/docpipe/batch-engine/pkg/batch"
	"github.com/rs/zerolog"
)

func TestSender_Deliver(t *testing.T) {
	received := make(chan Payload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var p Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		received <- p
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewSender(zerolog.Nop())
	p := Payload{
		BatchID:   "b-1",
		Status:    batch.StatusCompleted,
		Summary:   batch.Summary{TotalDocuments: 5, Successful: 4, Failed: 1, SuccessRate: 0.8},
		Timestamp: time.Now().UTC(),
	}
	if err := s.Deliver(context.Background(), srv.URL, p); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	got := <-received
	if got.BatchID != "b-1" || got.Status != batch.StatusCompleted {
		t.Errorf("payload = %+v", got)
	}
	if got.Summary.Successful != 4 {
		t.Errorf("Summary.Successful = %d, want 4", got.Summary.Successful)
	}
}

func TestSender_DeliverRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewSender(zerolog.Nop())
	if err := s.Deliver(context.Background(), srv.URL, Payload{BatchID: "b-2"}); err == nil {
		t.Error("Deliver() did not report the rejected delivery")
	}
}

func TestSender_NotifyFireAndForget(t *testing.T) {
	received := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- struct{}{}
	}))
	defer srv.Close()

	s := NewSender(zerolog.Nop())
	s.Notify(srv.URL, Payload{BatchID: "b-3", Status: batch.StatusFailed})

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never arrived")
	}
}

func TestSender_NotifyEmptyURL(t *testing.T) {
	s := NewSender(zerolog.Nop())
	// Must be a silent no-op.
	s.Notify("", Payload{BatchID: "b-4"})
}

func TestSender_NotifyUnreachable(t *testing.T) {
	s := NewSender(zerolog.Nop())
	// Failure is logged and dropped; nothing to assert beyond no panic.
	s.Notify("http://127.0.0.1:1/hook", Payload{BatchID: "b-5"})
	time.Sleep(50 * time.Millisecond)
}
