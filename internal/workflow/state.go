package workflow

import (
	"sync"
	"time"

	"github.com/forgeline/forgeline/internal/agents"
	"github.com/google/uuid"
)

// Workflow status values. Transitions are forward-only:
// not_started -> running -> completed | failed. Terminal states freeze
// the record.
const (
	StatusNotStarted = "not_started"
	StatusRunning    = "running"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// State is the view of a workflow run. StageResults preserves execution
// order; AgentsCompleted grows only with successful stages.
type State struct {
	WorkflowID      string               `json:"workflow_id"`
	Status          string               `json:"status"`
	StartTime       time.Time            `json:"start_time,omitzero"`
	EndTime         time.Time            `json:"end_time,omitzero"`
	CurrentAgent    string               `json:"current_agent,omitempty"`
	AgentsCompleted []string             `json:"agents_completed"`
	StageResults    []agents.Envelope    `json:"agent_results"`
	Errors          []agents.ErrorRecord `json:"errors,omitempty"`
}

// Result returns the envelope recorded for the named stage.
func (s State) Result(agent string) (agents.Envelope, bool) {
	for _, env := range s.StageResults {
		if env.Agent == agent {
			return env, true
		}
	}
	return agents.Envelope{}, false
}

// Tracker guards workflow state for concurrent readers. All mutations
// go through its methods.
type Tracker struct {
	mu    sync.Mutex
	state State
}

func NewTracker() *Tracker {
	return &Tracker{state: State{Status: StatusNotStarted}}
}

// Start assigns a fresh workflow ID and moves the state to running.
func (t *Tracker) Start() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = State{
		WorkflowID: uuid.New().String(),
		Status:     StatusRunning,
		StartTime:  time.Now(),
	}
	return t.state.WorkflowID
}

// Update records a stage envelope. Successful stages are also appended
// to AgentsCompleted; failed tolerated stages land in Errors. Updates
// after a terminal transition are dropped.
func (t *Tracker) Update(env agents.Envelope) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Status != StatusRunning {
		return
	}

	t.state.CurrentAgent = env.Agent
	t.state.StageResults = append(t.state.StageResults, env)
	if env.Success {
		t.state.AgentsCompleted = append(t.state.AgentsCompleted, env.Agent)
	} else {
		t.state.Errors = append(t.state.Errors, agents.ErrorRecord{
			Timestamp: time.Now(),
			Message:   env.Agent + ": " + env.Error,
		})
	}
}

// Complete moves the workflow to completed. Calling it again, or after
// a failure, is a no-op.
func (t *Tracker) Complete() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Status != StatusRunning {
		return
	}
	t.state.Status = StatusCompleted
	t.state.EndTime = time.Now()
	t.state.CurrentAgent = ""
}

// Fail moves the workflow to failed and records the message. No-op in
// terminal states.
func (t *Tracker) Fail(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Status == StatusCompleted || t.state.Status == StatusFailed {
		return
	}
	t.state.Status = StatusFailed
	t.state.EndTime = time.Now()
	t.state.Errors = append(t.state.Errors, agents.ErrorRecord{
		Timestamp: time.Now(),
		Message:   msg,
	})
}

// Snapshot returns a deep copy of the current state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copyState(t.state)
}

func copyState(s State) State {
	out := s
	out.AgentsCompleted = append([]string(nil), s.AgentsCompleted...)
	out.Errors = append([]agents.ErrorRecord(nil), s.Errors...)
	out.StageResults = make([]agents.Envelope, len(s.StageResults))
	for i, env := range s.StageResults {
		out.StageResults[i] = copyEnvelope(env)
	}
	return out
}

func copyEnvelope(env agents.Envelope) agents.Envelope {
	out := env
	out.State.Errors = append([]agents.ErrorRecord(nil), env.State.Errors...)
	if env.State.Metrics != nil {
		out.State.Metrics = make(map[string]any, len(env.State.Metrics))
		for k, v := range env.State.Metrics {
			out.State.Metrics[k] = v
		}
	}
	return out
}
