// Package scheduler runs scheduled workflows on their cron, interval
// or one-off schedules.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/forgeline/forgeline/internal/config"
	"github.com/forgeline/forgeline/internal/natsbus"
	"github.com/forgeline/forgeline/internal/schedule"
	"github.com/forgeline/forgeline/internal/store"
	"github.com/forgeline/forgeline/internal/workflow"
)

// Runner executes a workflow request. The orchestrator satisfies it.
type Runner interface {
	Execute(ctx context.Context, req workflow.Request, progress workflow.ProgressFunc) workflow.Result
}

type Scheduler struct {
	store        *store.Store
	runner       Runner
	events       *natsbus.Client
	pollInterval time.Duration
}

func New(s *store.Store, runner Runner, events *natsbus.Client, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:        s,
		runner:       runner,
		events:       events,
		pollInterval: cfg.PollInterval,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.pollInterval == 0 {
		s.pollInterval = 30 * time.Second
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	due, err := s.store.GetDueScheduledRuns(time.Now())
	if err != nil {
		slog.Error("failed to get due scheduled runs", "error", err)
		return
	}

	for _, run := range due {
		s.execute(ctx, run)
	}
}

func (s *Scheduler) execute(ctx context.Context, run store.ScheduledRun) {
	slog.Info("executing scheduled run", "id", run.ID, "name", run.Name, "kind", run.InputKind)

	req := workflow.Request{
		Kind:          run.InputKind,
		Input:         run.Input,
		CloudProvider: run.CloudProvider,
		ProjectName:   run.ProjectName,
	}

	res := s.runner.Execute(ctx, req, nil)

	lastStatus := "success"
	var lastError string
	if !res.Success {
		lastStatus = "error"
		lastError = res.Error
		slog.Error("scheduled run failed", "id", run.ID, "error", res.Error)
	}

	nextRun := schedule.NextRun(run.Schedule)

	if err := s.store.UpdateScheduledRunExecution(run.ID, lastStatus, lastError, nextRun); err != nil {
		slog.Error("failed to update scheduled run", "id", run.ID, "error", err)
	}

	s.publishExecutedEvent(run, lastStatus, res.State.WorkflowID)

	// One-off schedules have no next run; retire them.
	if nextRun == nil {
		slog.Info("no next run, marking scheduled run completed", "id", run.ID, "name", run.Name)
		if err := s.store.UpdateScheduledRunStatus(run.ID, "completed"); err != nil {
			slog.Error("failed to complete scheduled run", "id", run.ID, "error", err)
		}
	}
}

func (s *Scheduler) publishExecutedEvent(run store.ScheduledRun, status, workflowID string) {
	if s.events == nil {
		return
	}

	event := map[string]any{
		"type":      "schedule_executed",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data": map[string]any{
			"id":          run.ID,
			"name":        run.Name,
			"status":      status,
			"workflow_id": workflowID,
		},
	}

	if err := s.events.PublishJSON(natsbus.TopicScheduleRun, event); err != nil {
		slog.Error("failed to publish schedule event", "id", run.ID, "error", err)
	}
}
