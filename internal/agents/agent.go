package agents

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Stage is one step of the generation pipeline. Implementations hold
// only immutable configuration; per-run state lives in the Envelope
// returned by Run.
type Stage interface {
	Name() string
	Role() string

	// Validate checks the input without side effects. An error means
	// Execute must not be called.
	Validate(input any) error

	Execute(ctx context.Context, input any) (any, error)
}

// Run executes a stage and wraps the outcome in an Envelope. Validation
// errors, execution errors and panics all become failure envelopes; Run
// never propagates a fault to the caller.
func Run(ctx context.Context, st Stage, input any) (env Envelope) {
	env = Envelope{
		Agent: st.Name(),
		State: ExecState{
			Status:    StatusRunning,
			StartTime: time.Now(),
			Metrics:   map[string]any{},
		},
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("stage panicked", "stage", st.Name(), "panic", r)
			env = failed(env, fmt.Sprintf("stage %s panicked: %v", st.Name(), r))
		}
	}()

	slog.Info("stage starting", "stage", st.Name(), "role", st.Role())

	if err := st.Validate(input); err != nil {
		return failed(env, fmt.Sprintf("input validation failed: %v", err))
	}

	result, err := st.Execute(ctx, input)
	if err != nil {
		return failed(env, err.Error())
	}

	env.Success = true
	env.Result = result
	env.State.Status = StatusCompleted
	env.State.EndTime = time.Now()
	slog.Info("stage completed", "stage", st.Name(),
		"elapsed", env.State.EndTime.Sub(env.State.StartTime))
	return env
}

func failed(env Envelope, msg string) Envelope {
	now := time.Now()
	env.Success = false
	env.Result = nil
	env.Error = msg
	env.State.Status = StatusFailed
	env.State.EndTime = now
	env.State.Errors = append(env.State.Errors, ErrorRecord{Timestamp: now, Message: msg})
	slog.Error("stage failed", "stage", env.Agent, "error", msg)
	return env
}
