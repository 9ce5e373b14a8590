package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/forgeline/forgeline/internal/agents"
	"github.com/forgeline/forgeline/internal/archive"
	"github.com/forgeline/forgeline/internal/schedule"
	"github.com/forgeline/forgeline/internal/store"
	"github.com/forgeline/forgeline/internal/workflow"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Workflow runs
	mux.HandleFunc("POST /api/runs", s.startRun)
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.deleteRun)
	mux.HandleFunc("GET /api/runs/{id}/archive", s.downloadRunArchive)

	// Agent memory
	mux.HandleFunc("GET /api/memory", s.listMemory)
	mux.HandleFunc("DELETE /api/memory", s.clearMemory)
	mux.HandleFunc("DELETE /api/memory/{id}", s.deleteMemory)

	// Scheduled runs
	mux.HandleFunc("GET /api/schedules", s.listSchedules)
	mux.HandleFunc("POST /api/schedules", s.createSchedule)
	mux.HandleFunc("GET /api/schedules/{id}", s.getSchedule)
	mux.HandleFunc("PUT /api/schedules/{id}", s.updateSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.deleteSchedule)

	// Secrets
	mux.HandleFunc("GET /api/secrets", s.listSecrets)
	mux.HandleFunc("POST /api/secrets", s.createSecret)
	mux.HandleFunc("GET /api/secrets/{name}", s.getSecret)
	mux.HandleFunc("PUT /api/secrets/{name}", s.updateSecret)
	mux.HandleFunc("DELETE /api/secrets/{name}", s.deleteSecret)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
}

type runRequest struct {
	Kind          string `json:"kind"`
	Input         string `json:"input"`
	CloudProvider string `json:"cloud_provider"`
	ProjectName   string `json:"project_name"`
	Wait          bool   `json:"wait"`
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var body runRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Kind != agents.KindTabular && body.Kind != agents.KindFreeText {
		jsonError(w, fmt.Sprintf("kind must be %q or %q", agents.KindTabular, agents.KindFreeText), http.StatusBadRequest)
		return
	}
	if body.Input == "" {
		jsonError(w, "input is required", http.StatusBadRequest)
		return
	}

	req := workflow.Request{
		Kind:          body.Kind,
		Input:         body.Input,
		CloudProvider: body.CloudProvider,
		ProjectName:   body.ProjectName,
	}

	if body.Wait {
		res := s.runner.Execute(r.Context(), req, nil)
		jsonResponse(w, res)
		return
	}

	go s.runner.Execute(context.Background(), req, nil)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListWorkflowRuns()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []store.WorkflowRun{}
	}
	jsonResponse(w, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetWorkflowRun(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, run)
}

func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteWorkflowRun(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) downloadRunArchive(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetWorkflowRun(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	if run.ProjectPath == "" {
		jsonError(w, "run has no generated project", http.StatusNotFound)
		return
	}
	if _, err := os.Stat(run.ProjectPath); err != nil {
		jsonError(w, "generated project no longer exists on disk", http.StatusGone)
		return
	}

	name := run.ProjectName
	if name == "" {
		name = run.ID
	}
	w.Header().Set("Content-Type", "application/zstd")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".tar.zst"))
	if err := archive.Pack(w, run.ProjectPath); err != nil {
		// Headers are already out, so the failure can only be logged.
		slog.Error("archive download failed", "run_id", run.ID, "error", err)
	}
}

func (s *Server) listMemory(w http.ResponseWriter, r *http.Request) {
	if s.memory == nil {
		jsonError(w, "memory is disabled", http.StatusServiceUnavailable)
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	// An optional q parameter switches from listing to semantic search.
	if q := r.URL.Query().Get("q"); q != "" {
		records, err := s.memory.Query(r.Context(), q, limit, nil)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		jsonResponse(w, records)
		return
	}

	records, err := s.memory.List(r.Context(), limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, records)
}

func (s *Server) clearMemory(w http.ResponseWriter, r *http.Request) {
	if s.memory == nil {
		jsonError(w, "memory is disabled", http.StatusServiceUnavailable)
		return
	}
	if err := s.memory.Clear(r.Context()); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "cleared"})
}

func (s *Server) deleteMemory(w http.ResponseWriter, r *http.Request) {
	if s.memory == nil {
		jsonError(w, "memory is disabled", http.StatusServiceUnavailable)
		return
	}
	if err := s.memory.Delete(r.Context(), r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListScheduledRuns()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(runs))
	for _, run := range runs {
		out = append(out, scheduleToAPI(run))
	}
	jsonResponse(w, out)
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name          string `json:"name"`
		Schedule      string `json:"schedule"`
		InputKind     string `json:"input_kind"`
		Input         string `json:"input"`
		CloudProvider string `json:"cloud_provider"`
		ProjectName   string `json:"project_name"`
		Enabled       *bool  `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Name == "" || body.Schedule == "" || body.Input == "" {
		jsonError(w, "name, schedule, and input are required", http.StatusBadRequest)
		return
	}
	if body.InputKind == "" {
		body.InputKind = agents.KindFreeText
	}
	if body.InputKind != agents.KindTabular && body.InputKind != agents.KindFreeText {
		jsonError(w, fmt.Sprintf("input_kind must be %q or %q", agents.KindTabular, agents.KindFreeText), http.StatusBadRequest)
		return
	}

	// Normalize schedule (handles plain cron strings)
	normalized, err := schedule.Normalize(body.Schedule)
	if err != nil {
		jsonError(w, fmt.Sprintf("invalid schedule: %v", err), http.StatusBadRequest)
		return
	}

	status := "active"
	if body.Enabled != nil && !*body.Enabled {
		status = "paused"
	}

	run := store.ScheduledRun{
		ID:            uuid.New().String(),
		Name:          body.Name,
		Schedule:      normalized,
		InputKind:     body.InputKind,
		Input:         body.Input,
		CloudProvider: body.CloudProvider,
		ProjectName:   body.ProjectName,
		Status:        status,
	}

	// Calculate initial next_run_at
	if status == "active" {
		run.NextRunAt = schedule.NextRun(normalized)
	}

	if err := s.store.SaveScheduledRun(&run); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, scheduleToAPI(run))
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetScheduledRun(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		jsonError(w, "schedule not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, scheduleToAPI(*run))
}

func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request) {
	existing, err := s.store.GetScheduledRun(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing == nil {
		jsonError(w, "schedule not found", http.StatusNotFound)
		return
	}

	var body struct {
		Name          *string `json:"name"`
		Schedule      *string `json:"schedule"`
		Input         *string `json:"input"`
		InputKind     *string `json:"input_kind"`
		CloudProvider *string `json:"cloud_provider"`
		ProjectName   *string `json:"project_name"`
		Enabled       *bool   `json:"enabled"`
		Status        *string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// Apply updates
	if body.Name != nil {
		existing.Name = *body.Name
	}
	if body.Input != nil {
		existing.Input = *body.Input
	}
	if body.InputKind != nil {
		existing.InputKind = *body.InputKind
	}
	if body.CloudProvider != nil {
		existing.CloudProvider = *body.CloudProvider
	}
	if body.ProjectName != nil {
		existing.ProjectName = *body.ProjectName
	}

	// Handle enabled bool -> status mapping
	if body.Enabled != nil {
		if *body.Enabled {
			existing.Status = "active"
		} else if existing.Status != "completed" {
			existing.Status = "paused"
		}
	} else if body.Status != nil {
		existing.Status = *body.Status
	}

	// Handle schedule change
	if body.Schedule != nil {
		normalized, err := schedule.Normalize(*body.Schedule)
		if err != nil {
			jsonError(w, fmt.Sprintf("invalid schedule: %v", err), http.StatusBadRequest)
			return
		}
		existing.Schedule = normalized
	}

	// Recalculate next_run_at
	if existing.Status == "active" {
		existing.NextRunAt = schedule.NextRun(existing.Schedule)
	} else {
		existing.NextRunAt = nil
	}

	if err := s.store.SaveScheduledRun(existing); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, scheduleToAPI(*existing))
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteScheduledRun(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	runs, _ := s.store.ListWorkflowRuns()
	schedules, _ := s.store.ListScheduledRuns()

	running, completed, failed := 0, 0, 0
	for _, run := range runs {
		switch run.Status {
		case "running":
			running++
		case "completed":
			completed++
		case "failed":
			failed++
		}
	}

	activeSchedules := 0
	for _, sched := range schedules {
		if sched.Status == "active" {
			activeSchedules++
		}
	}

	memories := 0
	if s.memory != nil {
		memories, _ = s.memory.Count(r.Context())
	}

	status := map[string]any{
		"status":           "ok",
		"runs_total":       len(runs),
		"runs_running":     running,
		"runs_completed":   completed,
		"runs_failed":      failed,
		"active_schedules": activeSchedules,
		"memories":         memories,
		"uptime":           formatUptime(time.Since(s.startedAt)),
		"nats":             s.bus != nil,
		"timestamp":        time.Now().UTC(),
		"version":          s.version,
	}

	jsonResponse(w, status)
}

func scheduleToAPI(run store.ScheduledRun) map[string]any {
	m := map[string]any{
		"id":               run.ID,
		"name":             run.Name,
		"schedule":         run.Schedule,
		"schedule_display": schedule.Describe(run.Schedule),
		"input_kind":       run.InputKind,
		"input":            run.Input,
		"cloud_provider":   run.CloudProvider,
		"project_name":     run.ProjectName,
		"enabled":          run.Status == "active",
		"status":           run.Status,
	}
	if run.LastStatus != "" {
		m["last_status"] = run.LastStatus
	}
	if run.LastError != "" {
		m["last_error"] = run.LastError
	}
	if run.LastRunAt != nil {
		m["last_run"] = formatEventTime(*run.LastRunAt)
	}
	if run.NextRunAt != nil {
		m["next_run"] = formatEventTime(*run.NextRunAt)
	}
	return m
}

func formatEventTime(t time.Time) string {
	local := t.Local()
	now := time.Now()
	if local.Year() == now.Year() && local.YearDay() == now.YearDay() {
		return local.Format("15:04")
	}
	return local.Format("Jan 2 15:04")
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
