package agents

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Completer produces a short text completion. The analyzer uses it to
// refine project descriptions when a generation backend is configured.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Analyzer profiles the input and produces the project plan the rest of
// the pipeline builds from.
type Analyzer struct {
	defaultCloud string
	completer    Completer
}

func NewAnalyzer(defaultCloud string, completer Completer) *Analyzer {
	if defaultCloud == "" {
		defaultCloud = "aws"
	}
	return &Analyzer{defaultCloud: defaultCloud, completer: completer}
}

func (a *Analyzer) Name() string { return NameAnalyzer }
func (a *Analyzer) Role() string { return "requirement analysis and project planning" }

func (a *Analyzer) Validate(input any) error {
	in, ok := input.(AnalyzerInput)
	if !ok {
		return fmt.Errorf("expected AnalyzerInput, got %T", input)
	}

	switch in.Kind {
	case KindTabular:
		if in.DatasetPath == "" {
			return fmt.Errorf("dataset path not provided")
		}
		if _, err := os.Stat(in.DatasetPath); err != nil {
			return fmt.Errorf("dataset file not found: %s", in.DatasetPath)
		}
	case KindFreeText:
		if len(strings.TrimSpace(in.TaskDescription)) < 10 {
			return fmt.Errorf("task description too short (minimum 10 characters)")
		}
	default:
		return fmt.Errorf("invalid input kind: %q (must be %q or %q)", in.Kind, KindTabular, KindFreeText)
	}

	return nil
}

func (a *Analyzer) Execute(ctx context.Context, input any) (any, error) {
	in := input.(AnalyzerInput)

	var analysis Analysis
	var err error
	if in.Kind == KindTabular {
		analysis, err = a.analyzeDataset(in.DatasetPath)
		if err != nil {
			return nil, err
		}
	} else {
		analysis = a.analyzeText(in.TaskDescription)
	}

	plan := a.buildPlan(ctx, analysis, in)
	result := AnalyzerResult{
		Analysis:        analysis,
		Plan:            plan,
		FolderStructure: folderStructureFor(plan),
		TechStack:       techStackFor(plan.ProjectType),
		TaskBreakdown:   taskBreakdown(),
		Infrastructure:  a.infrastructureFor(plan.ProjectType, in.CloudProvider),
	}

	slog.Info("analysis complete", "project_type", plan.ProjectType, "tasks", len(result.TaskBreakdown))
	return result, nil
}

func (a *Analyzer) analyzeDataset(path string) (Analysis, error) {
	f, err := os.Open(path)
	if err != nil {
		return Analysis{}, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return Analysis{}, fmt.Errorf("parse dataset: %w", err)
	}
	if len(records) == 0 {
		return Analysis{}, fmt.Errorf("dataset is empty")
	}

	columns := records[0]
	rows := records[1:]

	empty := make(map[string]int, len(columns))
	for _, row := range rows {
		for i, cell := range row {
			if i < len(columns) && strings.TrimSpace(cell) == "" {
				empty[columns[i]]++
			}
		}
	}

	var samples []map[string]string
	for i := 0; i < len(rows) && i < 5; i++ {
		sample := make(map[string]string, len(columns))
		for j, col := range columns {
			if j < len(rows[i]) {
				sample[col] = rows[i][j]
			}
		}
		samples = append(samples, sample)
	}

	return Analysis{
		ProjectType: projectTypeFromColumns(columns),
		Rows:        len(rows),
		Columns:     columns,
		EmptyCells:  empty,
		SampleRows:  samples,
	}, nil
}

func (a *Analyzer) analyzeText(description string) Analysis {
	terms := extractKeyTerms(description)
	words := len(strings.Fields(description))

	return Analysis{
		ProjectType:     projectTypeFromText(description),
		TaskDescription: description,
		WordCount:       words,
		KeyTerms:        terms,
		Complexity:      assessComplexity(words, len(terms)),
	}
}

func projectTypeFromColumns(columns []string) string {
	joined := strings.ToLower(strings.Join(columns, " "))

	switch {
	case containsAny(joined, "price", "sales", "revenue", "predict"):
		return "ml_prediction"
	case containsAny(joined, "user", "customer", "email", "name"):
		return "web_application"
	case containsAny(joined, "time", "date", "timestamp", "series"):
		return "time_series_analysis"
	default:
		return "data_processing"
	}
}

func projectTypeFromText(text string) string {
	lower := strings.ToLower(text)

	switch {
	case containsAny(lower, "machine learning", "ml", "predict", "model", "train"):
		return "ml_application"
	case containsAny(lower, "website", "web app", "frontend", "backend", "api"):
		if strings.Contains(lower, "api") && !strings.Contains(lower, "frontend") {
			return "rest_api"
		}
		return "web_application"
	case containsAny(lower, "data", "etl", "pipeline", "process"):
		return "data_pipeline"
	case containsAny(lower, "microservice", "service"):
		return "microservices"
	default:
		return "general_application"
	}
}

var keyTerms = []string{
	"api", "rest", "graphql", "database", "sql", "nosql",
	"frontend", "backend", "fullstack", "web", "mobile",
	"ml", "ai", "prediction", "classification", "regression",
	"docker", "kubernetes", "aws", "gcp", "azure",
	"authentication", "authorization", "security",
	"microservices", "serverless", "lambda",
}

func extractKeyTerms(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, term := range keyTerms {
		if strings.Contains(lower, term) {
			found = append(found, term)
		}
	}
	return found
}

func assessComplexity(wordCount, termCount int) string {
	switch {
	case wordCount < 50 && termCount < 3:
		return "low"
	case wordCount < 150 && termCount < 6:
		return "medium"
	default:
		return "high"
	}
}

func (a *Analyzer) buildPlan(ctx context.Context, analysis Analysis, in AnalyzerInput) ProjectPlan {
	name := in.ProjectName
	if name == "" {
		name = "project_" + analysis.ProjectType
	}

	plan := ProjectPlan{
		ProjectName:  name,
		ProjectType:  analysis.ProjectType,
		Description:  describeProjectType(analysis.ProjectType),
		Goals:        goalsFor(analysis.ProjectType),
		Requirements: requirementsFor(analysis),
		Timeline:     timelineFor(analysis.Complexity),
	}

	// Best-effort refinement; the templated description stands on its own.
	if a.completer != nil && analysis.TaskDescription != "" {
		prompt := fmt.Sprintf("Summarize this software project in one sentence: %s", analysis.TaskDescription)
		refined, err := a.completer.Complete(ctx, prompt)
		if err != nil {
			slog.Warn("description refinement unavailable", "error", err)
		} else if refined = strings.TrimSpace(refined); refined != "" {
			plan.Description = refined
		}
	}

	return plan
}

func describeProjectType(projectType string) string {
	descriptions := map[string]string{
		"ml_application":       "Machine learning application for predictive analytics",
		"ml_prediction":        "Machine learning application for predictive analytics",
		"web_application":      "Full-stack web application with modern architecture",
		"rest_api":             "RESTful API service with comprehensive endpoints",
		"data_pipeline":        "Data processing pipeline with ETL capabilities",
		"data_processing":      "Data processing pipeline with ETL capabilities",
		"time_series_analysis": "Time series analysis and forecasting application",
		"microservices":        "Microservices architecture with distributed components",
	}
	if d, ok := descriptions[projectType]; ok {
		return d
	}
	return "General-purpose application"
}

func goalsFor(projectType string) []string {
	goals := []string{
		"Implement clean, maintainable code",
		"Follow industry best practices",
		"Ensure proper error handling",
		"Add comprehensive logging",
		"Include documentation",
	}

	switch projectType {
	case "ml_application", "ml_prediction":
		goals = append(goals, "Build accurate prediction model", "Implement model versioning", "Add model monitoring")
	case "web_application":
		goals = append(goals, "Create responsive UI", "Implement user authentication", "Optimize performance")
	case "rest_api":
		goals = append(goals, "Design RESTful endpoints", "Add API documentation", "Implement rate limiting")
	}
	return goals
}

func requirementsFor(analysis Analysis) []string {
	var reqs []string
	if analysis.TaskDescription != "" {
		reqs = append(reqs, "Implement: "+analysis.TaskDescription)
	}
	return append(reqs,
		"Implement proper error handling",
		"Add logging and monitoring",
		"Include unit tests",
		"Add configuration management",
		"Implement security best practices",
	)
}

func timelineFor(complexity string) map[string]string {
	timelines := map[string]map[string]string{
		"low":    {"planning": "1 day", "development": "3-5 days", "testing": "1-2 days", "deployment": "1 day"},
		"medium": {"planning": "2 days", "development": "1-2 weeks", "testing": "3-5 days", "deployment": "2 days"},
		"high":   {"planning": "1 week", "development": "3-4 weeks", "testing": "1 week", "deployment": "3-5 days"},
	}
	if t, ok := timelines[complexity]; ok {
		return t
	}
	return timelines["medium"]
}

func folderStructureFor(plan ProjectPlan) FolderStructure {
	fs := FolderStructure{
		Root: plan.ProjectName,
		Directories: []string{
			"src", "tests", "config", "docs", "scripts", ".github/workflows",
		},
		Files: []string{
			"README.md", "requirements.txt", ".gitignore", ".env.example",
			"Dockerfile", "docker-compose.yml",
		},
	}

	switch plan.ProjectType {
	case "web_application":
		fs.Directories = append(fs.Directories, "src/frontend", "src/backend", "src/shared", "static", "templates")
	case "rest_api":
		fs.Directories = append(fs.Directories, "src/api", "src/models", "src/services", "src/middleware")
	case "ml_application", "ml_prediction":
		fs.Directories = append(fs.Directories, "src/models", "src/data", "src/training", "src/inference", "notebooks")
	case "data_pipeline", "data_processing", "time_series_analysis":
		fs.Directories = append(fs.Directories, "src/extractors", "src/transformers", "src/loaders", "src/validators")
	}
	return fs
}

func techStackFor(projectType string) TechStack {
	switch projectType {
	case "web_application":
		return TechStack{
			Language: "Python", Framework: "FastAPI + React", Database: "PostgreSQL", Cache: "Redis",
			Tools: []string{"Nginx", "Gunicorn", "SQLAlchemy"},
		}
	case "ml_application", "ml_prediction":
		return TechStack{
			Language: "Python", Framework: "FastAPI", Database: "PostgreSQL",
			Tools: []string{"scikit-learn", "pandas", "numpy", "MLflow"},
		}
	case "data_pipeline", "data_processing", "time_series_analysis":
		return TechStack{
			Language: "Python", Framework: "Apache Airflow", Database: "PostgreSQL",
			Tools: []string{"pandas", "Apache Spark", "Kafka"},
		}
	default:
		return TechStack{
			Language: "Python", Framework: "FastAPI", Database: "PostgreSQL", Cache: "Redis",
			Tools: []string{"Pydantic", "SQLAlchemy", "Alembic"},
		}
	}
}

func taskBreakdown() []PlannedTask {
	return []PlannedTask{
		{ID: "task_1", Name: "Setup project structure", Priority: "high", Effort: "2 hours", Dependencies: []string{}, Agent: NameCodeGenerator},
		{ID: "task_2", Name: "Implement core functionality", Priority: "high", Effort: "1-2 days", Dependencies: []string{"task_1"}, Agent: NameCodeGenerator},
		{ID: "task_3", Name: "Add error handling and logging", Priority: "high", Effort: "4 hours", Dependencies: []string{"task_2"}, Agent: NameCodeGenerator},
		{ID: "task_4", Name: "Code review and refactoring", Priority: "high", Effort: "4-6 hours", Dependencies: []string{"task_3"}, Agent: NameCodeReviewer},
		{ID: "task_5", Name: "Setup deployment infrastructure", Priority: "high", Effort: "1 day", Dependencies: []string{"task_4"}, Agent: NameInfra},
		{ID: "task_6", Name: "Final validation and deployment", Priority: "critical", Effort: "4 hours", Dependencies: []string{"task_5"}, Agent: NameValidator},
	}
}

func (a *Analyzer) infrastructureFor(projectType, cloud string) Infrastructure {
	if cloud == "" {
		cloud = a.defaultCloud
	}
	return Infrastructure{
		CloudProvider: cloud,
		Compute:       computeFor(projectType),
		Storage: map[string]string{
			"persistent_volume": "20-50 GB",
			"object_storage":    "For assets and backups",
			"database_storage":  "10-20 GB",
		},
		Networking: map[string]string{
			"load_balancer":   "Required",
			"cdn":             "Optional",
			"vpc":             "Isolated network",
			"security_groups": "Firewall rules",
		},
		Services: cloudServices(cloud, projectType),
	}
}

func computeFor(projectType string) map[string]string {
	switch projectType {
	case "ml_application", "ml_prediction":
		return map[string]string{
			"type": "GPU-enabled instances", "cpu": "4-8 vCPUs", "memory": "16-32 GB", "gpu": "Optional for training",
		}
	case "web_application":
		return map[string]string{
			"type": "General purpose instances", "cpu": "2-4 vCPUs", "memory": "8-16 GB",
		}
	default:
		return map[string]string{
			"type": "General purpose instances", "cpu": "2 vCPUs", "memory": "4-8 GB",
		}
	}
}

func cloudServices(cloud, projectType string) []string {
	common := map[string][]string{
		"aws":   {"ECS/EKS", "RDS", "S3", "CloudWatch", "IAM"},
		"gcp":   {"GKE", "Cloud SQL", "Cloud Storage", "Cloud Monitoring"},
		"azure": {"AKS", "Azure Database", "Blob Storage", "Monitor"},
	}
	extra := map[string]map[string][]string{
		"aws": {
			"ml_application":  {"SageMaker", "ECR"},
			"web_application": {"CloudFront", "Route53"},
		},
		"gcp": {
			"ml_application":  {"Vertex AI", "Container Registry"},
			"web_application": {"Cloud CDN", "Cloud DNS"},
		},
		"azure": {
			"ml_application":  {"Azure ML", "Container Registry"},
			"web_application": {"CDN", "DNS"},
		},
	}

	services, ok := common[cloud]
	if !ok {
		services = common["aws"]
		cloud = "aws"
	}
	return append(append([]string{}, services...), extra[cloud][projectType]...)
}

func containsAny(s string, terms ...string) bool {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}
