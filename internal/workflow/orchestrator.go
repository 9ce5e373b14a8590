package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/forgeline/forgeline/internal/agents"
	"github.com/forgeline/forgeline/internal/natsbus"
	"github.com/forgeline/forgeline/internal/store"
)

// Request describes one workflow run.
type Request struct {
	Kind          string `json:"kind"`
	Input         string `json:"input"`
	CloudProvider string `json:"cloud_provider"`
	ProjectName   string `json:"project_name"`
}

// Result is the terminal outcome of a run. State carries the full
// per-stage record either way.
type Result struct {
	Success          bool   `json:"success"`
	Error            string `json:"error,omitempty"`
	State            State  `json:"workflow_state"`
	ProjectPath      string `json:"project_path,omitempty"`
	ReadyForNextStep bool   `json:"ready_for_approval"`
}

// ProgressFunc receives human-readable progress updates. phase is a
// stable key (init, analyzer, ..., complete, failed).
type ProgressFunc func(message, phase string)

// MemoryWriter is the slice of the memory store the orchestrator needs.
// Writes are best-effort; failures never abort a workflow.
type MemoryWriter interface {
	Add(ctx context.Context, text string, metadata map[string]any, id string) error
}

// stageSpec binds a pipeline stage to its input adapter. Required
// stages abort the workflow on failure; tolerated ones are recorded and
// skipped over.
type stageSpec struct {
	stage    agents.Stage
	required bool
	adapt    func(req Request, results map[string]agents.Envelope, ordered []agents.Envelope) (any, error)
}

type Orchestrator struct {
	runMu sync.Mutex // serializes workflow execution

	stateMu sync.RWMutex
	tracker *Tracker

	stages []stageSpec
	memory MemoryWriter
	store  *store.Store
	events *natsbus.Client
}

// New wires the fixed five-stage pipeline. memory, st and events are
// optional; nil collaborators degrade to an in-process run.
func New(defaultCloud, workspace string, completer agents.Completer, memory MemoryWriter, st *store.Store, events *natsbus.Client) *Orchestrator {
	return &Orchestrator{
		tracker: NewTracker(),
		stages:  defaultStages(defaultCloud, workspace, completer),
		memory:  memory,
		store:   st,
		events:  events,
	}
}

func defaultStages(defaultCloud, workspace string, completer agents.Completer) []stageSpec {
	return []stageSpec{
		{
			stage:    agents.NewAnalyzer(defaultCloud, completer),
			required: true,
			adapt: func(req Request, _ map[string]agents.Envelope, _ []agents.Envelope) (any, error) {
				in := agents.AnalyzerInput{
					Kind:          req.Kind,
					CloudProvider: req.CloudProvider,
					ProjectName:   req.ProjectName,
				}
				if req.Kind == agents.KindTabular {
					in.DatasetPath = req.Input
				} else {
					in.TaskDescription = req.Input
				}
				return in, nil
			},
		},
		{
			stage:    agents.NewCodeGenerator(workspace),
			required: true,
			adapt: func(_ Request, results map[string]agents.Envelope, _ []agents.Envelope) (any, error) {
				return analyzerResult(results)
			},
		},
		{
			stage: agents.NewCodeReviewer(),
			adapt: func(_ Request, results map[string]agents.Envelope, _ []agents.Envelope) (any, error) {
				gen, err := codeGenResult(results)
				if err != nil {
					return nil, err
				}
				return agents.ReviewInput{ProjectPath: gen.ProjectPath, TechStack: gen.TechStack}, nil
			},
		},
		{
			stage: agents.NewInfraGenerator(),
			adapt: func(req Request, results map[string]agents.Envelope, _ []agents.Envelope) (any, error) {
				gen, err := codeGenResult(results)
				if err != nil {
					return nil, err
				}
				return agents.InfraInput{
					ProjectPath:   gen.ProjectPath,
					TechStack:     gen.TechStack,
					CloudProvider: req.CloudProvider,
				}, nil
			},
		},
		{
			stage: agents.NewValidator(),
			adapt: func(_ Request, _ map[string]agents.Envelope, ordered []agents.Envelope) (any, error) {
				return agents.ValidatorInput{Envelopes: append([]agents.Envelope(nil), ordered...)}, nil
			},
		},
	}
}

func analyzerResult(results map[string]agents.Envelope) (agents.AnalyzerResult, error) {
	env, ok := results[agents.NameAnalyzer]
	if !ok || !env.Success {
		return agents.AnalyzerResult{}, fmt.Errorf("analyzer result unavailable")
	}
	r, ok := env.Result.(agents.AnalyzerResult)
	if !ok {
		return agents.AnalyzerResult{}, fmt.Errorf("unexpected analyzer result type %T", env.Result)
	}
	return r, nil
}

func codeGenResult(results map[string]agents.Envelope) (agents.CodeGenResult, error) {
	env, ok := results[agents.NameCodeGenerator]
	if !ok || !env.Success {
		return agents.CodeGenResult{}, fmt.Errorf("code generator result unavailable")
	}
	r, ok := env.Result.(agents.CodeGenResult)
	if !ok {
		return agents.CodeGenResult{}, fmt.Errorf("unexpected code generator result type %T", env.Result)
	}
	return r, nil
}

var stageProgress = map[string]string{
	agents.NameAnalyzer:      "Analyzer is analyzing requirements...",
	agents.NameCodeGenerator: "Code generator is building the application...",
	agents.NameCodeReviewer:  "Code reviewer is inspecting the code...",
	agents.NameInfra:         "Infrastructure generator is preparing deployment configs...",
	agents.NameValidator:     "Validator is verifying everything...",
}

// Execute runs the full pipeline for one request. It never panics: any
// fault is converted into a failed Result with the state so far.
func (o *Orchestrator) Execute(ctx context.Context, req Request, progress ProgressFunc) (res Result) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	tracker := NewTracker()
	o.stateMu.Lock()
	o.tracker = tracker
	o.stateMu.Unlock()

	id := tracker.Start()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("workflow panicked", "workflow_id", id, "panic", r)
			msg := fmt.Sprintf("workflow panicked: %v", r)
			tracker.Fail(msg)
			o.finish(id, tracker.Snapshot(), "", progress)
			res = Result{Success: false, Error: msg, State: tracker.Snapshot()}
		}
	}()

	slog.Info("workflow starting", "workflow_id", id, "kind", req.Kind, "project", req.ProjectName)
	o.persistStart(id, req)
	o.publishEvent(natsbus.TopicWorkflowEvents(id), id, "workflow_started", map[string]any{
		"kind":    req.Kind,
		"project": req.ProjectName,
	})
	notify(progress, "Starting workflow...", "init")

	results := make(map[string]agents.Envelope, len(o.stages))
	var ordered []agents.Envelope
	var projectPath string

	for _, spec := range o.stages {
		name := spec.stage.Name()
		notify(progress, stageProgress[name], name)

		var env agents.Envelope
		input, err := spec.adapt(req, results, ordered)
		if err != nil {
			env = agents.Envelope{
				Agent: name,
				Error: err.Error(),
				State: agents.ExecState{Status: agents.StatusFailed, StartTime: time.Now(), EndTime: time.Now()},
			}
		} else {
			env = agents.Run(ctx, spec.stage, input)
		}

		tracker.Update(env)
		results[name] = env
		ordered = append(ordered, env)

		o.publishEvent(natsbus.TopicWorkflowStage(id, name), id, "stage_finished", map[string]any{
			"stage":   name,
			"success": env.Success,
			"error":   env.Error,
		})

		if env.Success {
			o.storeMemory(ctx, id, env, tracker.Snapshot().StartTime)
			if gen, ok := env.Result.(agents.CodeGenResult); ok {
				projectPath = gen.ProjectPath
			}
			continue
		}

		if spec.required {
			msg := fmt.Sprintf("%s failed: %s", name, env.Error)
			tracker.Fail(msg)
			state := tracker.Snapshot()
			o.finish(id, state, projectPath, progress)
			return Result{Success: false, Error: msg, State: state}
		}
		slog.Warn("tolerated stage failed", "workflow_id", id, "stage", name, "error", env.Error)
	}

	tracker.Complete()
	state := tracker.Snapshot()
	o.finish(id, state, projectPath, progress)

	slog.Info("workflow finished", "workflow_id", id, "status", state.Status)

	// A completed run always moves to the approval step. Validator
	// findings stay in the state record for the approver to read.
	return Result{
		Success:          true,
		State:            state,
		ProjectPath:      projectPath,
		ReadyForNextStep: true,
	}
}

// State returns a snapshot of the most recent run.
func (o *Orchestrator) State() State {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.tracker.Snapshot()
}

func (o *Orchestrator) persistStart(id string, req Request) {
	if o.store == nil {
		return
	}
	err := o.store.SaveWorkflowRun(&store.WorkflowRun{
		ID:            id,
		ProjectName:   req.ProjectName,
		CloudProvider: req.CloudProvider,
		InputKind:     req.Kind,
		Input:         req.Input,
		Status:        StatusRunning,
	})
	if err != nil {
		slog.Error("persist workflow run failed", "workflow_id", id, "error", err)
	}
}

func (o *Orchestrator) finish(id string, state State, projectPath string, progress ProgressFunc) {
	if o.store != nil {
		stateJSON, _ := json.Marshal(state)
		var errMsg string
		if len(state.Errors) > 0 {
			errMsg = state.Errors[len(state.Errors)-1].Message
		}
		if state.Status == StatusCompleted {
			errMsg = ""
		}
		if err := o.store.UpdateWorkflowRun(id, state.Status, projectPath, stateJSON, errMsg); err != nil {
			slog.Error("update workflow run failed", "workflow_id", id, "error", err)
		}
	}

	o.publishEvent(natsbus.TopicWorkflowEvents(id), id, "workflow_"+state.Status, map[string]any{
		"agents_completed": len(state.AgentsCompleted),
		"project_path":     projectPath,
	})

	if state.Status == StatusCompleted {
		notify(progress, "Workflow completed successfully", "complete")
	} else {
		notify(progress, "Workflow failed", "failed")
	}
}

// storeMemory records a stage result in semantic memory. Failures are
// logged and swallowed; memory is strictly best-effort.
func (o *Orchestrator) storeMemory(ctx context.Context, workflowID string, env agents.Envelope, startTime time.Time) {
	if o.memory == nil {
		return
	}

	text, err := json.Marshal(env.Result)
	if err != nil || len(text) == 0 {
		return
	}

	metadata := map[string]any{
		"agent":       env.Agent,
		"workflow_id": workflowID,
		"timestamp":   startTime.UTC().Format(time.RFC3339),
	}
	summary := string(text)
	if len(summary) > 1000 {
		summary = summary[:1000]
	}

	memoryID := fmt.Sprintf("%s_%s", workflowID, env.Agent)
	if err := o.memory.Add(ctx, summary, metadata, memoryID); err != nil {
		slog.Error("memory write failed", "workflow_id", workflowID, "agent", env.Agent, "error", err)
	}
}

func (o *Orchestrator) publishEvent(topic, workflowID, eventType string, data map[string]any) {
	if o.events == nil {
		return
	}

	event := map[string]any{
		"type":        eventType,
		"workflow_id": workflowID,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"data":        data,
	}
	if err := o.events.PublishJSON(topic, event); err != nil {
		slog.Warn("event publish failed", "workflow_id", workflowID, "type", eventType, "error", err)
	}
}

func notify(progress ProgressFunc, message, phase string) {
	if progress == nil || message == "" {
		return
	}
	progress(message, phase)
}
