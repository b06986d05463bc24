// Package pipeline drives one batch through the fixed enrichment stages as an
// explicit state machine with bounded per-stage retries. It replaces what the
// original deployment delegated to a managed workflow engine: the states, the
// retry policy, and the transition logic all live here.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/reviewlens/api/internal/model"
)

// State identifies where a batch is in the pipeline.
type State string

const (
	StateSentiment State = "SENTIMENT"
	StateTopics    State = "TOPICS"
	StateAspects   State = "ASPECTS"
	StateEnd       State = "END"
	StateFailed    State = "FAILED"
)

// RetryPolicy bounds retries of a single stage invocation.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy mirrors the retry settings the pipeline has always run
// with: 15 attempts with exponential backoff at factor 1.5.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  15,
		InitialDelay: 10 * time.Second,
		Multiplier:   1.5,
	}
}

// Delay returns the backoff before the given retry (attempt is 1-based; the
// delay precedes attempt n+1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= p.Multiplier
	}
	return time.Duration(delay)
}

// StageExhaustedError is a batch's terminal failure: one stage failed on every
// attempt the policy allows. The batch moves to FAILED and is handed to the
// dead-letter mechanism; sibling batches and the job itself are unaffected.
type StageExhaustedError struct {
	Stage    string
	Attempts int
	Err      error
}

func (e *StageExhaustedError) Error() string {
	return fmt.Sprintf("stage %s failed after %d attempts: %v", e.Stage, e.Attempts, e.Err)
}

func (e *StageExhaustedError) Unwrap() error {
	return e.Err
}

// Stage is one step of the pipeline. Run receives the accumulated payload and
// attaches its enrichment fields in place.
type Stage struct {
	Name  string
	State State
	Run   func(ctx context.Context, p *model.BatchPayload) error
}

// Machine executes the stages in order with per-attempt timeout and bounded
// backoff between attempts.
type Machine struct {
	stages       []Stage
	policy       RetryPolicy
	stageTimeout time.Duration
}

func NewMachine(stages []Stage, policy RetryPolicy, stageTimeout time.Duration) *Machine {
	return &Machine{stages: stages, policy: policy, stageTimeout: stageTimeout}
}

// Run drives the payload through every stage. It returns StateEnd on success
// and StateFailed with a *StageExhaustedError when a stage runs out of
// attempts. Context cancellation aborts between attempts.
func (m *Machine) Run(ctx context.Context, payload *model.BatchPayload) (State, error) {
	for _, stage := range m.stages {
		if err := m.runStage(ctx, stage, payload); err != nil {
			return StateFailed, err
		}
	}
	return StateEnd, nil
}

func (m *Machine) runStage(ctx context.Context, stage Stage, payload *model.BatchPayload) error {
	var lastErr error

	for attempt := 1; attempt <= m.policy.MaxAttempts; attempt++ {
		lastErr = m.attempt(ctx, stage, payload)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == m.policy.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.policy.Delay(attempt)):
		}
	}

	return &StageExhaustedError{Stage: stage.Name, Attempts: m.policy.MaxAttempts, Err: lastErr}
}

func (m *Machine) attempt(ctx context.Context, stage Stage, payload *model.BatchPayload) error {
	if m.stageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.stageTimeout)
		defer cancel()
	}
	return stage.Run(ctx, payload)
}
