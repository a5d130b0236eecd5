package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/docpipe/batch-engine/pkg/batch"
	"github.com/docpipe/batch-engine/pkg/registry"
	"github.com/rs/zerolog"
)

// api exposes the engine over REST.
type api struct {
	engine *registry.Engine
	logger zerolog.Logger
}

func newAPI(engine *registry.Engine, logger zerolog.Logger) *api {
	return &api{engine: engine, logger: logger}
}

func (a *api) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/batches", a.createBatch)
	mux.HandleFunc("GET /v1/batches/{id}", a.batchStatus)
	mux.HandleFunc("GET /v1/batches/{id}/results", a.batchResults)
	mux.HandleFunc("DELETE /v1/batches/{id}", a.cancelBatch)
	mux.HandleFunc("GET /v1/stats", a.globalStats)
}

// createBatchRequest is the wire form of a batch submission. Durations
// are milliseconds.
type createBatchRequest struct {
	Documents []documentRequest   `json:"documents"`
	Options   batchOptionsRequest `json:"options"`
}

type documentRequest struct {
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type batchOptionsRequest struct {
	Priority     string `json:"priority,omitempty"`
	TimeoutMs    int64  `json:"timeoutMs,omitempty"`
	MaxRetries   *int   `json:"maxRetries,omitempty"`
	RetryDelayMs int64  `json:"retryDelayMs,omitempty"`
	NotifyURL    string `json:"notifyUrl,omitempty"`
	OutputFormat string `json:"outputFormat,omitempty"`
}

func (r batchOptionsRequest) toOptions() batch.Options {
	opts := batch.DefaultOptions()
	if r.Priority != "" {
		opts.Priority = batch.ParsePriority(r.Priority)
	}
	if r.TimeoutMs > 0 {
		opts.Timeout = time.Duration(r.TimeoutMs) * time.Millisecond
	}
	if r.MaxRetries != nil {
		opts.MaxRetries = *r.MaxRetries
	}
	if r.RetryDelayMs > 0 {
		opts.RetryDelay = time.Duration(r.RetryDelayMs) * time.Millisecond
	}
	opts.NotifyURL = r.NotifyURL
	if r.OutputFormat != "" {
		opts.OutputFormat = r.OutputFormat
	}
	return opts
}

func (a *api) createBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	inputs := make([]batch.DocumentInput, len(req.Documents))
	for i, d := range req.Documents {
		inputs[i] = batch.DocumentInput{ID: d.ID, Payload: d.Payload}
	}

	receipt, err := a.engine.CreateBatch(r.Context(), inputs, req.Options.toOptions())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (a *api) batchStatus(w http.ResponseWriter, r *http.Request) {
	view, err := a.engine.GetBatchStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *api) batchResults(w http.ResponseWriter, r *http.Request) {
	details := r.URL.Query().Get("details") == "1" || r.URL.Query().Get("details") == "true"
	view, err := a.engine.GetBatchResults(r.Context(), r.PathValue("id"), details)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *api) cancelBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.engine.CancelBatch(r.Context(), id); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"batchId": id,
		"status":  string(batch.StatusCancelled),
	})
}

func (a *api) globalStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.GetGlobalStatistics(r.Context()))
}

// writeError maps domain errors to HTTP status codes.
func (a *api) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, batch.ErrValidation):
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, batch.ErrNotFound):
		writeErrorMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, batch.ErrInvalidState):
		writeErrorMessage(w, http.StatusConflict, err.Error())
	default:
		a.logger.Error().Err(err).Msg("Request failed")
		writeErrorMessage(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
