package agents

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// CodeReviewer scans generated sources for common problems. Review
// findings are advisory; the pipeline continues regardless.
type CodeReviewer struct{}

func NewCodeReviewer() *CodeReviewer { return &CodeReviewer{} }

func (r *CodeReviewer) Name() string { return NameCodeReviewer }
func (r *CodeReviewer) Role() string { return "code review" }

func (r *CodeReviewer) Validate(input any) error {
	in, ok := input.(ReviewInput)
	if !ok {
		return fmt.Errorf("expected ReviewInput, got %T", input)
	}
	if in.ProjectPath == "" {
		return fmt.Errorf("project path missing")
	}
	return nil
}

func (r *CodeReviewer) Execute(ctx context.Context, input any) (any, error) {
	in := input.(ReviewInput)

	result := ReviewResult{}
	err := filepath.WalkDir(in.ProjectPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".py") {
			return nil
		}
		issues, warnings := reviewFile(path)
		result.Issues = append(result.Issues, issues...)
		result.SecurityWarnings = append(result.SecurityWarnings, warnings...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk project: %w", err)
	}

	if len(result.Issues) == 0 {
		result.Suggestions = append(result.Suggestions, "No blocking issues found")
	}

	slog.Info("review complete", "issues", len(result.Issues), "security_warnings", len(result.SecurityWarnings))
	return result, nil
}

func reviewFile(path string) ([]ReviewIssue, []string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return []ReviewIssue{{File: path, Problem: err.Error()}}, nil
	}
	content := string(data)

	var issues []ReviewIssue
	var warnings []string
	if strings.Contains(content, "import *") {
		issues = append(issues, ReviewIssue{File: path, Problem: "Avoid wildcard imports"})
	}
	if strings.Contains(content, "eval(") {
		issues = append(issues, ReviewIssue{File: path, Problem: "Security: eval() usage detected"})
		warnings = append(warnings, fmt.Sprintf("%s: eval() allows arbitrary code execution", path))
	}
	if strings.Contains(content, "password =") || strings.Contains(content, "api_key =") {
		warnings = append(warnings, fmt.Sprintf("%s: possible hardcoded credential", path))
	}
	return issues, warnings
}
