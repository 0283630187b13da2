// Package supervisor wraps a single stage invocation with health
// monitoring, timeouts, retries, and circuit-breaker bookkeeping,
// generalizing a worker/reviewer attempt loop to the generic Stage
// capability.
package supervisor

import "time"

// Status is a StageResult's outcome.
type Status string

const (
	Succeeded Status = "succeeded"
	Failed    Status = "failed"
	Skipped   Status = "skipped"
	Retried   Status = "retried"
)

// StageResult is the outcome of one supervised stage invocation.
// Status is always consistent with Err: Failed implies Err != nil.
type StageResult struct {
	Stage    string
	Status   Status
	Duration time.Duration
	Attempts int
	Output   map[string]any
	Err      error
}
