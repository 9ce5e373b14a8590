package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type WorkflowRun struct {
	ID            string          `json:"id"`
	ProjectName   string          `json:"project_name"`
	CloudProvider string          `json:"cloud_provider,omitempty"`
	InputKind     string          `json:"input_kind"`
	Input         string          `json:"input"`
	Status        string          `json:"status"`
	ProjectPath   string          `json:"project_path,omitempty"`
	State         json.RawMessage `json:"state,omitempty"`
	Error         string          `json:"error,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

func scanWorkflowRun(scanner interface {
	Scan(dest ...any) error
}) (*WorkflowRun, error) {
	r := &WorkflowRun{}
	var cloud, projectPath, state, runErr *string
	err := scanner.Scan(&r.ID, &r.ProjectName, &cloud, &r.InputKind, &r.Input, &r.Status,
		&projectPath, &state, &runErr, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	if cloud != nil {
		r.CloudProvider = *cloud
	}
	if projectPath != nil {
		r.ProjectPath = *projectPath
	}
	if state != nil {
		r.State = json.RawMessage(*state)
	}
	if runErr != nil {
		r.Error = *runErr
	}
	return r, nil
}

const runColumns = `id, project_name, cloud_provider, input_kind, input, status, project_path, state, error, started_at, completed_at`

func (s *Store) SaveWorkflowRun(r *WorkflowRun) error {
	_, err := s.db.Exec(`
		INSERT INTO workflow_runs (id, project_name, cloud_provider, input_kind, input, status, project_path, state, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			project_path = excluded.project_path,
			state = excluded.state,
			error = excluded.error,
			completed_at = CASE WHEN excluded.status IN ('completed', 'failed') THEN CURRENT_TIMESTAMP ELSE completed_at END`,
		r.ID, r.ProjectName, r.CloudProvider, r.InputKind, r.Input, r.Status, r.ProjectPath, r.State, r.Error)
	if err != nil {
		return fmt.Errorf("save workflow run: %w", err)
	}
	return nil
}

func (s *Store) GetWorkflowRun(id string) (*WorkflowRun, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM workflow_runs WHERE id = ?`, id)
	r, err := scanWorkflowRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow run: %w", err)
	}
	return r, nil
}

func (s *Store) ListWorkflowRuns() ([]WorkflowRun, error) {
	rows, err := s.db.Query(`SELECT ` + runColumns + ` FROM workflow_runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list workflow runs: %w", err)
	}
	defer rows.Close()

	var runs []WorkflowRun
	for rows.Next() {
		r, err := scanWorkflowRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (s *Store) DeleteWorkflowRun(id string) error {
	_, err := s.db.Exec(`DELETE FROM workflow_runs WHERE id = ?`, id)
	return err
}

func (s *Store) UpdateWorkflowRun(id string, status string, projectPath string, state json.RawMessage, runErr string) error {
	_, err := s.db.Exec(`
		UPDATE workflow_runs
		SET status = ?, project_path = ?, state = ?, error = ?,
		    completed_at = CASE WHEN ? IN ('completed', 'failed') THEN CURRENT_TIMESTAMP ELSE completed_at END
		WHERE id = ?`, status, projectPath, state, runErr, status, id)
	return err
}
