package natsbus

import "fmt"

// Subjects live under the events.> hierarchy so one subscription can
// follow everything a process emits.

// TopicWorkflowEvents carries the lifecycle events of a single run
// (workflow_started, workflow_completed, workflow_failed).
func TopicWorkflowEvents(workflowID string) string {
	return fmt.Sprintf("events.workflow.%s", workflowID)
}

// TopicWorkflowStage carries the stage_finished event of one pipeline
// stage within a run.
func TopicWorkflowStage(workflowID, stage string) string {
	return fmt.Sprintf("events.workflow.%s.%s", workflowID, stage)
}

const (
	// TopicEventsAll matches every event subject; the web hub feeds
	// its websocket clients from it.
	TopicEventsAll = "events.>"

	// TopicScheduleRun carries schedule_executed events from the
	// scheduler poll loop.
	TopicScheduleRun = "events.schedule.run"
)
