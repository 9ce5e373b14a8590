package agents

import "time"

// Stage execution status values. Transitions are forward-only:
// running moves to completed or failed, never back.
const (
	StatusInitialized = "initialized"
	StatusRunning     = "running"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
)

// Stage names, in pipeline order.
const (
	NameAnalyzer      = "analyzer"
	NameCodeGenerator = "code_generator"
	NameCodeReviewer  = "code_reviewer"
	NameInfra         = "devops"
	NameValidator     = "validator"
)

// Input kinds accepted by the analyzer.
const (
	KindTabular  = "tabular"
	KindFreeText = "free-text"
)

type ErrorRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// ExecState is the per-run execution record of a single stage. A fresh
// value is built for every run; stages themselves hold no mutable state.
type ExecState struct {
	Status    string         `json:"status"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time,omitzero"`
	Errors    []ErrorRecord  `json:"errors,omitempty"`
	Metrics   map[string]any `json:"metrics,omitempty"`
}

// Envelope is the uniform stage result. Result is set iff Success,
// Error iff not.
type Envelope struct {
	Success bool      `json:"success"`
	Agent   string    `json:"agent"`
	Result  any       `json:"result,omitempty"`
	Error   string    `json:"error,omitempty"`
	State   ExecState `json:"state"`
}

type AnalyzerInput struct {
	Kind            string `json:"kind"`
	DatasetPath     string `json:"dataset_path,omitempty"`
	TaskDescription string `json:"task_description,omitempty"`
	CloudProvider   string `json:"cloud_provider"`
	ProjectName     string `json:"project_name"`
}

// Analysis holds input profiling. Tabular and free-text inputs populate
// different subsets of fields; ProjectType is always inferred.
type Analysis struct {
	ProjectType string `json:"project_type"`

	Rows       int                 `json:"rows,omitempty"`
	Columns    []string            `json:"columns,omitempty"`
	EmptyCells map[string]int      `json:"empty_cells,omitempty"`
	SampleRows []map[string]string `json:"sample_rows,omitempty"`

	TaskDescription string   `json:"task_description,omitempty"`
	WordCount       int      `json:"word_count,omitempty"`
	KeyTerms        []string `json:"key_terms,omitempty"`
	Complexity      string   `json:"complexity,omitempty"`
}

type ProjectPlan struct {
	ProjectName  string            `json:"project_name"`
	ProjectType  string            `json:"project_type"`
	Description  string            `json:"description"`
	Goals        []string          `json:"goals"`
	Requirements []string          `json:"requirements"`
	Timeline     map[string]string `json:"timeline"`
}

type FolderStructure struct {
	Root        string   `json:"root"`
	Directories []string `json:"directories"`
	Files       []string `json:"files"`
}

type TechStack struct {
	Language  string   `json:"language"`
	Framework string   `json:"framework"`
	Database  string   `json:"database"`
	Cache     string   `json:"cache,omitempty"`
	Tools     []string `json:"tools,omitempty"`
}

type PlannedTask struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Priority     string   `json:"priority"`
	Effort       string   `json:"estimated_effort"`
	Dependencies []string `json:"dependencies"`
	Agent        string   `json:"agent"`
}

type Infrastructure struct {
	CloudProvider string            `json:"cloud_provider"`
	Compute       map[string]string `json:"compute"`
	Storage       map[string]string `json:"storage"`
	Networking    map[string]string `json:"networking"`
	Services      []string          `json:"services"`
}

type AnalyzerResult struct {
	Analysis        Analysis        `json:"analysis"`
	Plan            ProjectPlan     `json:"project_plan"`
	FolderStructure FolderStructure `json:"folder_structure"`
	TechStack       TechStack       `json:"tech_stack"`
	TaskBreakdown   []PlannedTask   `json:"task_breakdown"`
	Infrastructure  Infrastructure  `json:"infrastructure"`
}

type CodeGenResult struct {
	ProjectPath    string    `json:"project_path"`
	GeneratedFiles []string  `json:"generated_files"`
	TechStack      TechStack `json:"tech_stack"`
}

type ReviewInput struct {
	ProjectPath string    `json:"project_path"`
	TechStack   TechStack `json:"tech_stack"`
}

type ReviewIssue struct {
	File    string `json:"file"`
	Problem string `json:"problem"`
}

type ReviewResult struct {
	Issues           []ReviewIssue `json:"issues_found"`
	Suggestions      []string      `json:"suggestions"`
	SecurityWarnings []string      `json:"security_warnings"`
	PerformanceTips  []string      `json:"performance_tips"`
}

type InfraInput struct {
	ProjectPath   string    `json:"project_path"`
	TechStack     TechStack `json:"tech_stack"`
	CloudProvider string    `json:"cloud_provider"`
}

type InfraResult struct {
	DeploymentFiles []string `json:"deployment_files"`
	CloudProvider   string   `json:"cloud_provider"`
}

type ValidatorInput struct {
	Envelopes []Envelope `json:"envelopes"`
}

type CheckResult struct {
	Status string   `json:"status"`
	Checks []string `json:"checks,omitempty"`
	Issues []string `json:"issues,omitempty"`
}

type ValidationResult struct {
	CodeQuality        CheckResult `json:"code_quality"`
	Infrastructure     CheckResult `json:"infrastructure"`
	Security           CheckResult `json:"security"`
	ReadyForDeployment bool        `json:"ready_for_deployment"`
}
