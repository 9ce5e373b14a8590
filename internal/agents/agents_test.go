package agents

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakeStage struct {
	name        string
	validateErr error
	execErr     error
	panics      bool
	executed    bool
	result      any
}

func (f *fakeStage) Name() string { return f.name }
func (f *fakeStage) Role() string { return "test" }
func (f *fakeStage) Validate(input any) error {
	return f.validateErr
}
func (f *fakeStage) Execute(ctx context.Context, input any) (any, error) {
	f.executed = true
	if f.panics {
		panic("boom")
	}
	return f.result, f.execErr
}

func TestRunSuccess(t *testing.T) {
	st := &fakeStage{name: "ok", result: "done"}
	env := Run(context.Background(), st, nil)

	if !env.Success {
		t.Fatalf("expected success, got error %q", env.Error)
	}
	if env.Agent != "ok" {
		t.Errorf("expected agent 'ok', got %q", env.Agent)
	}
	if env.Result != "done" {
		t.Errorf("expected result 'done', got %v", env.Result)
	}
	if env.State.Status != StatusCompleted {
		t.Errorf("expected status completed, got %s", env.State.Status)
	}
	if env.State.EndTime.Before(env.State.StartTime) {
		t.Error("end time before start time")
	}
}

func TestRunValidationFailureSkipsExecute(t *testing.T) {
	st := &fakeStage{name: "bad", validateErr: errors.New("missing field")}
	env := Run(context.Background(), st, nil)

	if env.Success {
		t.Fatal("expected failure envelope")
	}
	if st.executed {
		t.Error("execute must not run after validation failure")
	}
	if !strings.Contains(env.Error, "missing field") {
		t.Errorf("expected validation message, got %q", env.Error)
	}
	if env.State.Status != StatusFailed {
		t.Errorf("expected status failed, got %s", env.State.Status)
	}
	if len(env.State.Errors) != 1 {
		t.Errorf("expected 1 error record, got %d", len(env.State.Errors))
	}
}

func TestRunExecutionError(t *testing.T) {
	st := &fakeStage{name: "err", execErr: errors.New("blew up")}
	env := Run(context.Background(), st, nil)

	if env.Success {
		t.Fatal("expected failure envelope")
	}
	if env.Result != nil {
		t.Error("failure envelope must not carry a result")
	}
	if env.Error != "blew up" {
		t.Errorf("expected 'blew up', got %q", env.Error)
	}
}

func TestRunRecoversPanic(t *testing.T) {
	st := &fakeStage{name: "panicky", panics: true}
	env := Run(context.Background(), st, nil)

	if env.Success {
		t.Fatal("expected failure envelope after panic")
	}
	if !strings.Contains(env.Error, "boom") {
		t.Errorf("expected panic message, got %q", env.Error)
	}
	if env.State.Status != StatusFailed {
		t.Errorf("expected status failed, got %s", env.State.Status)
	}
}

func TestAnalyzerValidation(t *testing.T) {
	a := NewAnalyzer("aws", nil)

	cases := []struct {
		name  string
		input AnalyzerInput
	}{
		{"unknown kind", AnalyzerInput{Kind: "audio"}},
		{"short description", AnalyzerInput{Kind: KindFreeText, TaskDescription: "too short"}},
		{"missing dataset path", AnalyzerInput{Kind: KindTabular}},
		{"dataset not found", AnalyzerInput{Kind: KindTabular, DatasetPath: "/nonexistent/data.csv"}},
	}
	for _, tc := range cases {
		if err := a.Validate(tc.input); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}

	if err := a.Validate(AnalyzerInput{Kind: KindFreeText, TaskDescription: "Build a REST API with authentication"}); err != nil {
		t.Errorf("valid free-text input rejected: %v", err)
	}
}

func TestAnalyzerFreeText(t *testing.T) {
	a := NewAnalyzer("aws", nil)
	env := Run(context.Background(), a, AnalyzerInput{
		Kind:            KindFreeText,
		TaskDescription: "Build a REST API with authentication",
		CloudProvider:   "aws",
		ProjectName:     "demo",
	})
	if !env.Success {
		t.Fatalf("analyzer failed: %s", env.Error)
	}

	result, ok := env.Result.(AnalyzerResult)
	if !ok {
		t.Fatalf("unexpected result type %T", env.Result)
	}
	if result.Analysis.ProjectType != "rest_api" {
		t.Errorf("expected project type rest_api, got %s", result.Analysis.ProjectType)
	}
	if result.Plan.ProjectName != "demo" {
		t.Errorf("expected project name demo, got %s", result.Plan.ProjectName)
	}
	if result.Analysis.Complexity != "medium" {
		t.Errorf("expected medium complexity, got %s", result.Analysis.Complexity)
	}
	if len(result.TaskBreakdown) != 6 {
		t.Errorf("expected 6 planned tasks, got %d", len(result.TaskBreakdown))
	}
	if result.Infrastructure.CloudProvider != "aws" {
		t.Errorf("expected aws provider, got %s", result.Infrastructure.CloudProvider)
	}
	if len(result.FolderStructure.Directories) == 0 {
		t.Error("expected non-empty folder structure")
	}
}

func TestAnalyzerTabular(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "sales.csv")
	data := "price,region,units\n10.5,north,3\n,south,7\n12.0,east,\n"
	if err := os.WriteFile(csvPath, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	a := NewAnalyzer("gcp", nil)
	env := Run(context.Background(), a, AnalyzerInput{
		Kind:        KindTabular,
		DatasetPath: csvPath,
		ProjectName: "sales-model",
	})
	if !env.Success {
		t.Fatalf("analyzer failed: %s", env.Error)
	}

	result := env.Result.(AnalyzerResult)
	if result.Analysis.Rows != 3 {
		t.Errorf("expected 3 rows, got %d", result.Analysis.Rows)
	}
	if len(result.Analysis.Columns) != 3 {
		t.Errorf("expected 3 columns, got %d", len(result.Analysis.Columns))
	}
	if result.Analysis.ProjectType != "ml_prediction" {
		t.Errorf("expected ml_prediction from price column, got %s", result.Analysis.ProjectType)
	}
	if result.Analysis.EmptyCells["price"] != 1 {
		t.Errorf("expected 1 empty price cell, got %d", result.Analysis.EmptyCells["price"])
	}
	if result.Infrastructure.CloudProvider != "gcp" {
		t.Errorf("expected default provider gcp, got %s", result.Infrastructure.CloudProvider)
	}
}

func TestProjectTypeInference(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"Build a machine learning model to predict churn rates for subscribers", "ml_application"},
		{"Create a website with frontend and backend components", "web_application"},
		{"Design an ETL data pipeline for log aggregation and processing", "data_pipeline"},
		{"Write something useful for our quarterly planning offsite", "general_application"},
	}
	for _, tc := range cases {
		if got := projectTypeFromText(tc.text); got != tc.want {
			t.Errorf("projectTypeFromText(%q) = %s, want %s", tc.text, got, tc.want)
		}
	}
}

func TestCodeGenerator(t *testing.T) {
	dir := t.TempDir()
	g := NewCodeGenerator(dir)

	plan := ProjectPlan{ProjectName: "demo", ProjectType: "rest_api", Description: "RESTful API service"}
	input := AnalyzerResult{
		Plan:            plan,
		FolderStructure: folderStructureFor(plan),
		TechStack:       techStackFor("rest_api"),
	}

	env := Run(context.Background(), g, input)
	if !env.Success {
		t.Fatalf("code generator failed: %s", env.Error)
	}

	result := env.Result.(CodeGenResult)
	if result.ProjectPath != filepath.Join(dir, "demo") {
		t.Errorf("unexpected project path %s", result.ProjectPath)
	}
	if len(result.GeneratedFiles) != 3 {
		t.Errorf("expected 3 generated files, got %d", len(result.GeneratedFiles))
	}
	for _, f := range result.GeneratedFiles {
		if _, err := os.Stat(f); err != nil {
			t.Errorf("generated file missing: %s", f)
		}
	}

	reqs, err := os.ReadFile(filepath.Join(result.ProjectPath, "requirements.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(reqs), "fastapi") {
		t.Error("expected fastapi in requirements for rest_api stack")
	}
}

func TestCodeGeneratorValidation(t *testing.T) {
	g := NewCodeGenerator(t.TempDir())
	if err := g.Validate(AnalyzerResult{}); err == nil {
		t.Error("expected validation error for empty plan")
	}
	if err := g.Validate("wrong type"); err == nil {
		t.Error("expected validation error for wrong input type")
	}
}

func TestCodeReviewer(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatal(err)
	}
	code := "from os import *\nresult = eval(user_input)\n"
	if err := os.WriteFile(filepath.Join(src, "main.py"), []byte(code), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewCodeReviewer()
	env := Run(context.Background(), r, ReviewInput{ProjectPath: dir})
	if !env.Success {
		t.Fatalf("reviewer failed: %s", env.Error)
	}

	result := env.Result.(ReviewResult)
	if len(result.Issues) != 2 {
		t.Errorf("expected 2 issues (wildcard import, eval), got %d", len(result.Issues))
	}
	if len(result.SecurityWarnings) != 1 {
		t.Errorf("expected 1 security warning, got %d", len(result.SecurityWarnings))
	}
}

func TestInfraGenerator(t *testing.T) {
	dir := t.TempDir()
	g := NewInfraGenerator()

	env := Run(context.Background(), g, InfraInput{ProjectPath: dir, CloudProvider: "azure"})
	if !env.Success {
		t.Fatalf("infra generator failed: %s", env.Error)
	}

	result := env.Result.(InfraResult)
	if result.CloudProvider != "azure" {
		t.Errorf("expected azure, got %s", result.CloudProvider)
	}
	if len(result.DeploymentFiles) != 4 {
		t.Errorf("expected 4 deployment files, got %d", len(result.DeploymentFiles))
	}

	expected := []string{
		filepath.Join(dir, "Dockerfile"),
		filepath.Join(dir, "docker-compose.yml"),
		filepath.Join(dir, ".github", "workflows", "deploy.yml"),
		filepath.Join(dir, "k8s", "deployment.yaml"),
	}
	for _, path := range expected {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected artifact %s: %v", path, err)
		}
	}
}

func TestValidator(t *testing.T) {
	dir := t.TempDir()
	infraEnv := Run(context.Background(), NewInfraGenerator(), InfraInput{ProjectPath: dir, CloudProvider: "aws"})
	reviewEnv := Run(context.Background(), NewCodeReviewer(), ReviewInput{ProjectPath: dir})

	v := NewValidator()
	env := Run(context.Background(), v, ValidatorInput{Envelopes: []Envelope{reviewEnv, infraEnv}})
	if !env.Success {
		t.Fatalf("validator failed: %s", env.Error)
	}

	result := env.Result.(ValidationResult)
	if !result.ReadyForDeployment {
		t.Error("expected ready_for_deployment with all artifacts present")
	}
	if result.Infrastructure.Status != "passed" {
		t.Errorf("expected passed infrastructure, got %s", result.Infrastructure.Status)
	}
}

func TestValidatorMissingArtifacts(t *testing.T) {
	fake := Envelope{
		Success: true,
		Agent:   NameInfra,
		Result:  InfraResult{DeploymentFiles: []string{"/nonexistent/Dockerfile"}},
	}

	v := NewValidator()
	env := Run(context.Background(), v, ValidatorInput{Envelopes: []Envelope{fake}})
	result := env.Result.(ValidationResult)
	if result.Infrastructure.Status != "failed" {
		t.Errorf("expected failed infrastructure check, got %s", result.Infrastructure.Status)
	}
	if result.ReadyForDeployment {
		t.Error("expected not ready for deployment")
	}
}
