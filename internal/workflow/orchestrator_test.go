package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/forgeline/forgeline/internal/agents"
	"github.com/forgeline/forgeline/internal/config"
	"github.com/forgeline/forgeline/internal/natsbus"
	"github.com/nats-io/nats.go"
)

type recordingMemory struct {
	ids   []string
	texts []string
	fail  bool
}

func (m *recordingMemory) Add(ctx context.Context, text string, metadata map[string]any, id string) error {
	if m.fail {
		return errors.New("memory backend unavailable")
	}
	m.ids = append(m.ids, id)
	m.texts = append(m.texts, text)
	return nil
}

type brokenStage struct {
	name   string
	panics bool
}

func (b *brokenStage) Name() string       { return b.name }
func (b *brokenStage) Role() string       { return "broken" }
func (b *brokenStage) Validate(any) error { return nil }
func (b *brokenStage) Execute(ctx context.Context, input any) (any, error) {
	if b.panics {
		panic("wired wrong")
	}
	return nil, errors.New("stage exploded")
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	return New("aws", t.TempDir(), nil, nil, nil, nil)
}

var pipelineOrder = []string{"analyzer", "code_generator", "code_reviewer", "devops", "validator"}

func TestExecuteFreeTextWorkflow(t *testing.T) {
	mem := &recordingMemory{}
	o := New("aws", t.TempDir(), nil, mem, nil, nil)

	var phases []string
	res := o.Execute(context.Background(), Request{
		Kind:          agents.KindFreeText,
		Input:         "Build a REST API with authentication",
		CloudProvider: "aws",
		ProjectName:   "demo",
	}, func(msg, phase string) { phases = append(phases, phase) })

	if !res.Success {
		t.Fatalf("workflow failed: %s", res.Error)
	}
	if res.State.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", res.State.Status)
	}
	if len(res.State.StageResults) != 5 {
		t.Fatalf("expected 5 stage results, got %d", len(res.State.StageResults))
	}
	for i, want := range pipelineOrder {
		if res.State.StageResults[i].Agent != want {
			t.Errorf("stage %d: expected %s, got %s", i, want, res.State.StageResults[i].Agent)
		}
		if !res.State.StageResults[i].Success {
			t.Errorf("stage %s unexpectedly failed: %s", want, res.State.StageResults[i].Error)
		}
	}
	if len(res.State.AgentsCompleted) != 5 {
		t.Errorf("expected 5 completed agents, got %v", res.State.AgentsCompleted)
	}
	if !strings.HasSuffix(res.ProjectPath, "demo") {
		t.Errorf("expected project path ending in demo, got %s", res.ProjectPath)
	}
	if !res.ReadyForNextStep {
		t.Error("expected ready for next step")
	}

	// Generated artifacts exist
	for _, f := range []string{"src/main.py", "requirements.txt", "README.md", "Dockerfile", "k8s/deployment.yaml"} {
		if _, err := os.Stat(filepath.Join(res.ProjectPath, f)); err != nil {
			t.Errorf("expected artifact %s: %v", f, err)
		}
	}

	// Memory got one record per stage, capped at 1000 bytes
	if len(mem.ids) != 5 {
		t.Errorf("expected 5 memory writes, got %d", len(mem.ids))
	}
	for i, id := range mem.ids {
		if !strings.HasPrefix(id, res.State.WorkflowID+"_") {
			t.Errorf("memory id %q not scoped to workflow", id)
		}
		if len(mem.texts[i]) > 1000 {
			t.Errorf("memory text %d exceeds 1000 bytes: %d", i, len(mem.texts[i]))
		}
	}

	// Progress phases bookended
	if phases[0] != "init" || phases[len(phases)-1] != "complete" {
		t.Errorf("unexpected progress phases: %v", phases)
	}
}

func TestExecuteTabularWorkflow(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "users.csv")
	if err := os.WriteFile(csvPath, []byte("user,email\nalice,a@example.com\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	o := newTestOrchestrator(t)
	res := o.Execute(context.Background(), Request{
		Kind:          agents.KindTabular,
		Input:         csvPath,
		CloudProvider: "gcp",
		ProjectName:   "crm",
	}, nil)

	if !res.Success {
		t.Fatalf("workflow failed: %s", res.Error)
	}
	env, ok := res.State.Result(agents.NameAnalyzer)
	if !ok {
		t.Fatal("missing analyzer result")
	}
	ar := env.Result.(agents.AnalyzerResult)
	if ar.Analysis.ProjectType != "web_application" {
		t.Errorf("expected web_application from user/email columns, got %s", ar.Analysis.ProjectType)
	}
	if ar.Infrastructure.CloudProvider != "gcp" {
		t.Errorf("expected gcp provider, got %s", ar.Infrastructure.CloudProvider)
	}
}

func TestExecuteAnalyzerValidationFailure(t *testing.T) {
	o := newTestOrchestrator(t)
	res := o.Execute(context.Background(), Request{
		Kind:  agents.KindFreeText,
		Input: "too short",
	}, nil)

	if res.Success {
		t.Fatal("expected failed workflow")
	}
	if res.State.Status != StatusFailed {
		t.Errorf("expected failed status, got %s", res.State.Status)
	}
	if len(res.State.AgentsCompleted) != 0 {
		t.Errorf("expected no completed agents, got %v", res.State.AgentsCompleted)
	}
	if len(res.State.StageResults) != 1 {
		t.Errorf("expected only the analyzer envelope, got %d results", len(res.State.StageResults))
	}
	if !strings.Contains(res.Error, "analyzer failed") {
		t.Errorf("expected analyzer failure message, got %q", res.Error)
	}
}

func TestExecuteRequiredStageFailureAborts(t *testing.T) {
	o := newTestOrchestrator(t)
	o.stages[1].stage = &brokenStage{name: agents.NameCodeGenerator}

	res := o.Execute(context.Background(), Request{
		Kind:          agents.KindFreeText,
		Input:         "Build a REST API with authentication",
		CloudProvider: "aws",
		ProjectName:   "demo",
	}, nil)

	if res.Success {
		t.Fatal("expected failed workflow")
	}
	if res.State.Status != StatusFailed {
		t.Errorf("expected failed status, got %s", res.State.Status)
	}
	if len(res.State.StageResults) != 2 {
		t.Fatalf("expected exactly analyzer and code_generator envelopes, got %d", len(res.State.StageResults))
	}
	if res.State.StageResults[0].Agent != agents.NameAnalyzer || res.State.StageResults[1].Agent != agents.NameCodeGenerator {
		t.Errorf("unexpected stage order: %s, %s", res.State.StageResults[0].Agent, res.State.StageResults[1].Agent)
	}
	if got := res.State.AgentsCompleted; len(got) != 1 || got[0] != agents.NameAnalyzer {
		t.Errorf("expected only analyzer completed, got %v", got)
	}
}

func TestExecuteToleratedStageFailureContinues(t *testing.T) {
	o := newTestOrchestrator(t)
	o.stages[2].stage = &brokenStage{name: agents.NameCodeReviewer}

	res := o.Execute(context.Background(), Request{
		Kind:          agents.KindFreeText,
		Input:         "Build a REST API with authentication",
		CloudProvider: "aws",
		ProjectName:   "demo",
	}, nil)

	if !res.Success {
		t.Fatalf("expected workflow to complete despite reviewer failure: %s", res.Error)
	}
	if res.State.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", res.State.Status)
	}
	if len(res.State.StageResults) != 5 {
		t.Errorf("expected all 5 envelopes, got %d", len(res.State.StageResults))
	}
	if len(res.State.AgentsCompleted) != 4 {
		t.Errorf("expected 4 completed agents, got %v", res.State.AgentsCompleted)
	}
	if len(res.State.Errors) != 1 || !strings.Contains(res.State.Errors[0].Message, "code_reviewer") {
		t.Errorf("expected recorded reviewer error, got %v", res.State.Errors)
	}
}

func TestExecuteValidatorFailureStillReadyForApproval(t *testing.T) {
	o := newTestOrchestrator(t)
	o.stages[4].stage = &brokenStage{name: agents.NameValidator}

	res := o.Execute(context.Background(), Request{
		Kind:          agents.KindFreeText,
		Input:         "Build a REST API with authentication",
		CloudProvider: "aws",
		ProjectName:   "demo",
	}, nil)

	if !res.Success {
		t.Fatalf("expected workflow to complete despite validator failure: %s", res.Error)
	}
	if res.State.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", res.State.Status)
	}
	if !res.ReadyForNextStep {
		t.Error("completed workflow must be ready for the approval step")
	}
	if env, ok := res.State.Result(agents.NameValidator); !ok || env.Success {
		t.Error("expected recorded validator failure envelope")
	}
}

func TestExecuteToleratedStagePanicContinues(t *testing.T) {
	o := newTestOrchestrator(t)
	o.stages[3].stage = &brokenStage{name: agents.NameInfra, panics: true}

	res := o.Execute(context.Background(), Request{
		Kind:          agents.KindFreeText,
		Input:         "Build a REST API with authentication",
		CloudProvider: "aws",
		ProjectName:   "demo",
	}, nil)

	if !res.Success {
		t.Fatalf("expected workflow to survive stage panic: %s", res.Error)
	}
	env, ok := res.State.Result(agents.NameInfra)
	if !ok || env.Success {
		t.Error("expected recorded failure envelope for panicking stage")
	}
}

func TestExecuteMemoryFailureIsHarmless(t *testing.T) {
	mem := &recordingMemory{fail: true}
	o := New("aws", t.TempDir(), nil, mem, nil, nil)

	res := o.Execute(context.Background(), Request{
		Kind:          agents.KindFreeText,
		Input:         "Build a REST API with authentication",
		CloudProvider: "aws",
		ProjectName:   "demo",
	}, nil)

	if !res.Success {
		t.Fatalf("memory failures must not abort the workflow: %s", res.Error)
	}
	if len(res.State.AgentsCompleted) != 5 {
		t.Errorf("expected 5 completed agents, got %v", res.State.AgentsCompleted)
	}
}

func TestExecutePublishesStageEvents(t *testing.T) {
	bus, err := natsbus.New(config.NATSConfig{Port: 0, DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	defer bus.Close()

	client, err := natsbus.NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	type event struct {
		subject string
		typ     string
	}
	events := make(chan event, 32)
	_, err = client.Subscribe(natsbus.TopicEventsAll, func(msg *nats.Msg) {
		var body struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(msg.Data, &body)
		events <- event{subject: msg.Subject, typ: body.Type}
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	o := New("aws", t.TempDir(), nil, nil, nil, client)
	res := o.Execute(context.Background(), Request{
		Kind:          agents.KindFreeText,
		Input:         "Build a REST API with authentication",
		CloudProvider: "aws",
		ProjectName:   "demo",
	}, nil)
	if !res.Success {
		t.Fatalf("workflow failed: %s", res.Error)
	}

	id := res.State.WorkflowID
	var stageSubjects []string
	deadline := time.After(3 * time.Second)
	for done := false; !done; {
		select {
		case ev := <-events:
			switch ev.typ {
			case "stage_finished":
				stageSubjects = append(stageSubjects, ev.subject)
			case "workflow_completed":
				if ev.subject != natsbus.TopicWorkflowEvents(id) {
					t.Errorf("completion event on %s, want %s", ev.subject, natsbus.TopicWorkflowEvents(id))
				}
				done = true
			}
		case <-deadline:
			t.Fatal("timeout waiting for workflow events")
		}
	}

	if len(stageSubjects) != len(pipelineOrder) {
		t.Fatalf("expected %d stage events, got %d", len(pipelineOrder), len(stageSubjects))
	}
	for i, stage := range pipelineOrder {
		want := natsbus.TopicWorkflowStage(id, stage)
		if stageSubjects[i] != want {
			t.Errorf("stage event %d on %s, want %s", i, stageSubjects[i], want)
		}
	}
}

func TestStateSnapshotDuringIdle(t *testing.T) {
	o := newTestOrchestrator(t)
	if got := o.State().Status; got != StatusNotStarted {
		t.Errorf("expected not_started before any run, got %s", got)
	}
}
