package agents

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// CodeGenerator materializes the planned project skeleton under the
// workspace directory.
type CodeGenerator struct {
	basePath string
}

func NewCodeGenerator(basePath string) *CodeGenerator {
	if basePath == "" {
		basePath = "workspace"
	}
	return &CodeGenerator{basePath: basePath}
}

func (g *CodeGenerator) Name() string { return NameCodeGenerator }
func (g *CodeGenerator) Role() string { return "code generation" }

func (g *CodeGenerator) Validate(input any) error {
	in, ok := input.(AnalyzerResult)
	if !ok {
		return fmt.Errorf("expected AnalyzerResult, got %T", input)
	}
	if in.Plan.ProjectName == "" {
		return fmt.Errorf("project plan missing")
	}
	if in.FolderStructure.Root == "" {
		return fmt.Errorf("folder structure missing")
	}
	return nil
}

func (g *CodeGenerator) Execute(ctx context.Context, input any) (any, error) {
	in := input.(AnalyzerResult)

	projectPath := filepath.Join(g.basePath, in.Plan.ProjectName)
	if err := g.createStructure(projectPath, in.FolderStructure); err != nil {
		return nil, err
	}

	files, err := g.generateFiles(projectPath, in.Plan, in.TechStack)
	if err != nil {
		return nil, err
	}

	slog.Info("code generation complete", "project_path", projectPath, "files", len(files))
	return CodeGenResult{
		ProjectPath:    projectPath,
		GeneratedFiles: files,
		TechStack:      in.TechStack,
	}, nil
}

func (g *CodeGenerator) createStructure(projectPath string, fs FolderStructure) error {
	if err := os.MkdirAll(projectPath, 0o755); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}
	for _, dir := range fs.Directories {
		if err := os.MkdirAll(filepath.Join(projectPath, dir), 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}
	return nil
}

func (g *CodeGenerator) generateFiles(projectPath string, plan ProjectPlan, stack TechStack) ([]string, error) {
	var files []string

	mainFile := filepath.Join(projectPath, "src", "main.py")
	if err := os.MkdirAll(filepath.Dir(mainFile), 0o755); err != nil {
		return nil, fmt.Errorf("create src dir: %w", err)
	}
	if err := os.WriteFile(mainFile, []byte(mainSource(plan)), 0o644); err != nil {
		return nil, fmt.Errorf("write main: %w", err)
	}
	files = append(files, mainFile)

	reqFile := filepath.Join(projectPath, "requirements.txt")
	if err := os.WriteFile(reqFile, []byte(requirementsManifest(stack)), 0o644); err != nil {
		return nil, fmt.Errorf("write requirements: %w", err)
	}
	files = append(files, reqFile)

	readme := filepath.Join(projectPath, "README.md")
	if err := os.WriteFile(readme, []byte(readmeContent(plan)), 0o644); err != nil {
		return nil, fmt.Errorf("write readme: %w", err)
	}
	files = append(files, readme)

	return files, nil
}

func mainSource(plan ProjectPlan) string {
	return fmt.Sprintf(`"""
%s
%s
"""
import logging

logging.basicConfig(level=logging.INFO)
logger = logging.getLogger(__name__)


class Application:
    def __init__(self):
        self.config = self._load_config()
        logger.info("Application initialized")

    def _load_config(self) -> dict:
        return {"app_name": "%s"}

    def run(self):
        logger.info("Application starting...")


if __name__ == "__main__":
    app = Application()
    app.run()
`, plan.ProjectName, plan.Description, plan.ProjectName)
}

func requirementsManifest(stack TechStack) string {
	reqs := []string{"python-dotenv==1.0.0", "pydantic==2.5.0"}
	framework := strings.ToLower(stack.Framework)
	if strings.Contains(framework, "fastapi") {
		reqs = append(reqs, "fastapi==0.109.0", "uvicorn==0.25.0")
	}
	if strings.Contains(framework, "flask") {
		reqs = append(reqs, "flask==3.0.0")
	}
	return strings.Join(reqs, "\n") + "\n"
}

func readmeContent(plan ProjectPlan) string {
	return fmt.Sprintf(`# %s

## Description
%s

## Installation
`+"```bash"+`
pip install -r requirements.txt
`+"```"+`

## Usage
`+"```bash"+`
python src/main.py
`+"```"+`
`, plan.ProjectName, plan.Description)
}
