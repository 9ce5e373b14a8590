package agents

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// InfraGenerator writes deployment artifacts next to the generated code.
type InfraGenerator struct{}

func NewInfraGenerator() *InfraGenerator { return &InfraGenerator{} }

func (g *InfraGenerator) Name() string { return NameInfra }
func (g *InfraGenerator) Role() string { return "deployment infrastructure" }

func (g *InfraGenerator) Validate(input any) error {
	in, ok := input.(InfraInput)
	if !ok {
		return fmt.Errorf("expected InfraInput, got %T", input)
	}
	if in.ProjectPath == "" {
		return fmt.Errorf("project path missing")
	}
	return nil
}

func (g *InfraGenerator) Execute(ctx context.Context, input any) (any, error) {
	in := input.(InfraInput)
	cloud := in.CloudProvider
	if cloud == "" {
		cloud = "aws"
	}

	artifacts := []struct {
		path    string
		content string
	}{
		{filepath.Join(in.ProjectPath, "Dockerfile"), dockerfileContent},
		{filepath.Join(in.ProjectPath, "docker-compose.yml"), composeContent},
		{filepath.Join(in.ProjectPath, ".github", "workflows", "deploy.yml"), ciWorkflowContent},
		{filepath.Join(in.ProjectPath, "k8s", "deployment.yaml"), k8sDeploymentContent},
	}

	var files []string
	for _, a := range artifacts {
		if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
			return nil, fmt.Errorf("create dir for %s: %w", a.path, err)
		}
		if err := os.WriteFile(a.path, []byte(a.content), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", a.path, err)
		}
		files = append(files, a.path)
	}

	slog.Info("deployment artifacts written", "cloud", cloud, "files", len(files))
	return InfraResult{DeploymentFiles: files, CloudProvider: cloud}, nil
}

const dockerfileContent = `FROM python:3.9-slim
WORKDIR /app
COPY requirements.txt .
RUN pip install -r requirements.txt
COPY . .
CMD ["python", "src/main.py"]
`

const composeContent = `version: '3.8'
services:
  app:
    build: .
    ports:
      - "8000:8000"
    environment:
      - ENV=production
`

const ciWorkflowContent = `name: Deploy
on:
  push:
    branches: [main]
jobs:
  deploy:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/checkout@v3
      - name: Build and Deploy
        run: |
          docker build -t app .
          echo "Deploy to production"
`

const k8sDeploymentContent = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: app
spec:
  replicas: 3
  selector:
    matchLabels:
      app: app
  template:
    metadata:
      labels:
        app: app
    spec:
      containers:
      - name: app
        image: app:latest
        ports:
        - containerPort: 8000
`
