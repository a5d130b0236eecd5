package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/docpipe/batch-engine/pkg/batch"
	"github.com/docpipe/batch-engine/pkg/executor"
)

// demoProcessor simulates document extraction so the daemon runs without
// an external OCR backend. Latency and failure rate come from
// DEMO_LATENCY_MS and DEMO_FAILURE_RATE.
type demoProcessor struct {
	latency     time.Duration
	failureRate float64
}

func newDemoProcessor() *demoProcessor {
	rate := 0.0
	if v := getEnv("DEMO_FAILURE_RATE", ""); v != "" {
		fmt.Sscanf(v, "%f", &rate)
	}
	return &demoProcessor{
		latency:     time.Duration(getEnvInt("DEMO_LATENCY_MS", 200)) * time.Millisecond,
		failureRate: rate,
	}
}

func (p *demoProcessor) Process(ctx context.Context, payload json.RawMessage, opts batch.Options) (json.RawMessage, error) {
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return nil, &executor.ProcessingError{Message: "interrupted", Err: ctx.Err()}
		}
	}

	if p.failureRate > 0 && rand.Float64() < p.failureRate {
		return nil, &executor.ProcessingError{Message: "simulated extraction failure"}
	}

	result := map[string]any{
		"text":     fmt.Sprintf("extracted %d bytes", len(payload)),
		"accuracy": 0.85 + rand.Float64()*0.14,
		"format":   opts.OutputFormat,
	}
	out, err := json.Marshal(result)
	if err != nil {
		return nil, &executor.ProcessingError{Message: "encode result", Err: err}
	}
	return out, nil
}
