package agents

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// Validator runs the final release checks over the outputs of the
// earlier stages.
type Validator struct{}

func NewValidator() *Validator { return &Validator{} }

func (v *Validator) Name() string { return NameValidator }
func (v *Validator) Role() string { return "validation and release" }

func (v *Validator) Validate(input any) error {
	if _, ok := input.(ValidatorInput); !ok {
		return fmt.Errorf("expected ValidatorInput, got %T", input)
	}
	return nil
}

func (v *Validator) Execute(ctx context.Context, input any) (any, error) {
	in := input.(ValidatorInput)

	result := ValidationResult{
		CodeQuality:    v.checkCodeQuality(in),
		Infrastructure: v.checkInfrastructure(in),
		Security:       v.checkSecurity(in),
	}
	result.ReadyForDeployment = result.CodeQuality.Status == "passed" &&
		result.Infrastructure.Status == "passed" &&
		result.Security.Status == "passed"

	slog.Info("validation complete", "ready_for_deployment", result.ReadyForDeployment)
	return result, nil
}

func (v *Validator) checkCodeQuality(in ValidatorInput) CheckResult {
	check := CheckResult{Status: "passed"}
	for _, env := range in.Envelopes {
		if env.Agent != NameCodeReviewer || !env.Success {
			continue
		}
		review, ok := env.Result.(ReviewResult)
		if !ok {
			continue
		}
		for _, issue := range review.Issues {
			check.Issues = append(check.Issues, fmt.Sprintf("%s: %s", issue.File, issue.Problem))
		}
	}
	return check
}

func (v *Validator) checkInfrastructure(in ValidatorInput) CheckResult {
	check := CheckResult{Status: "passed", Checks: []string{"dockerfile", "k8s", "ci/cd"}}
	for _, env := range in.Envelopes {
		if env.Agent != NameInfra || !env.Success {
			continue
		}
		infra, ok := env.Result.(InfraResult)
		if !ok {
			continue
		}
		for _, f := range infra.DeploymentFiles {
			if _, err := os.Stat(f); err != nil {
				check.Status = "failed"
				check.Issues = append(check.Issues, fmt.Sprintf("deployment file missing: %s", f))
			}
		}
	}
	return check
}

func (v *Validator) checkSecurity(in ValidatorInput) CheckResult {
	check := CheckResult{Status: "passed"}
	for _, env := range in.Envelopes {
		if env.Agent != NameCodeReviewer || !env.Success {
			continue
		}
		review, ok := env.Result.(ReviewResult)
		if !ok {
			continue
		}
		check.Issues = append(check.Issues, review.SecurityWarnings...)
	}
	return check
}
