// Package runtimepolicy evaluates a plan against the runtime mode,
// environment and UI-mode rule set.
package runtimepolicy

import (
	"fmt"
	"time"

	"github.com/custodian-labs/custodian/pkg/contracts"
	"github.com/custodian-labs/custodian/pkg/policy"
)

// Violation codes emitted by the evaluator.
const (
	CodeExecutionModeNotAllowed  = "execution-mode-not-allowed"
	CodeActionTypeDenied         = "action-type-denied"
	CodeMutatingApplyNotAllowed  = "mutating-apply-not-allowed"
	CodeRiskExceedsEnvironment   = "risk-exceeds-environment-max"
	CodeUIModeNotDefined         = "ui-mode-not-defined"
	CodeUIModeRuntimeNotAllowed  = "ui-mode-runtime-mode-not-allowed"
	CodeUIModeExecutionForbidden = "ui-mode-execution-not-allowed"
	CodeActionTypeReview         = "action-type-review-required"
	CodeManualReviewForApply     = "manual-review-required-for-apply"
	CodeApprovalNotSatisfied     = "approval-required-not-satisfied"
)

// Input carries one evaluation request.
type Input struct {
	Plan              *contracts.ChangePlan
	RuntimeMode       string
	Environment       string
	UIMode            string
	ApprovalSatisfied bool
}

// Evaluator applies the runtime policy.
type Evaluator struct {
	pol   *policy.Policy
	clock func() time.Time
}

// New creates an evaluator for the given policy.
func New(pol *policy.Policy) *Evaluator {
	return &Evaluator{pol: pol, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (e *Evaluator) WithClock(clock func() time.Time) *Evaluator {
	e.clock = clock
	return e
}

// Evaluate checks the plan against the mode and environment rules. Unknown
// modes and environments are errors, not denials. Any deny violation denies;
// otherwise any review violation requires review.
func (e *Evaluator) Evaluate(in Input) (*contracts.RuntimeDecision, error) {
	mode, err := e.pol.ModeConfig(in.RuntimeMode)
	if err != nil {
		return nil, err
	}
	env, err := e.pol.EnvConfig(in.Environment)
	if err != nil {
		return nil, err
	}

	p := in.Plan
	d := &contracts.RuntimeDecision{
		Decision:    contracts.DecisionAllow,
		Reasons:     []string{},
		Violations:  []contracts.Violation{},
		RuntimeMode: in.RuntimeMode,
		Environment: in.Environment,
		UIMode:      in.UIMode,
		GeneratedAt: contracts.Timestamp(e.clock()),
	}

	deny := func(code, msg string) {
		d.Violations = append(d.Violations, contracts.Violation{Code: code, Severity: contracts.SeverityDeny, Message: msg})
	}
	review := func(code, msg string) {
		d.Violations = append(d.Violations, contracts.Violation{Code: code, Severity: contracts.SeverityReview, Message: msg})
	}

	if !executionModeAllowed(p.ExecutionMode, mode.AllowExecutionModes) {
		deny(CodeExecutionModeNotAllowed,
			fmt.Sprintf("execution mode %q is not allowed in runtime mode %q", p.ExecutionMode, in.RuntimeMode))
	}
	for _, t := range mode.DenyActionTypes {
		if p.HasActionType(t) {
			deny(CodeActionTypeDenied,
				fmt.Sprintf("action type %q is denied in runtime mode %q", t, in.RuntimeMode))
		}
	}
	if p.ExecutionMode == contracts.ExecutionModeApply && p.HasMutatingAction() && !mode.AllowMutatingApply {
		deny(CodeMutatingApplyNotAllowed,
			fmt.Sprintf("runtime mode %q does not allow mutating apply", in.RuntimeMode))
	}
	if p.ExecutionMode == contracts.ExecutionModeApply && p.RiskLevel.Rank() > env.MaxRiskLevelForApply.Rank() {
		deny(CodeRiskExceedsEnvironment,
			fmt.Sprintf("plan risk %q exceeds environment %q max apply risk %q", p.RiskLevel, in.Environment, env.MaxRiskLevelForApply))
	}

	if in.UIMode != "" {
		if ui, ok := e.pol.Runtime.UIModes[in.UIMode]; ok {
			if !stringIn(in.RuntimeMode, ui.AllowedRuntimeModes) {
				deny(CodeUIModeRuntimeNotAllowed,
					fmt.Sprintf("ui mode %q does not allow runtime mode %q", in.UIMode, in.RuntimeMode))
			}
			if p.ExecutionMode == contracts.ExecutionModeApply && !ui.AllowExecution {
				deny(CodeUIModeExecutionForbidden,
					fmt.Sprintf("ui mode %q does not allow execution", in.UIMode))
			} else if !executionModeAllowed(p.ExecutionMode, ui.AllowExecutionModes) {
				deny(CodeUIModeExecutionForbidden,
					fmt.Sprintf("ui mode %q does not allow execution mode %q", in.UIMode, p.ExecutionMode))
			}
		} else {
			deny(CodeUIModeNotDefined,
				fmt.Sprintf("ui mode %q is not defined in the runtime policy", in.UIMode))
		}
	}

	for _, t := range mode.ReviewRequiredActionTypes {
		if p.HasActionType(t) {
			review(CodeActionTypeReview,
				fmt.Sprintf("action type %q requires review in runtime mode %q", t, in.RuntimeMode))
		}
	}
	if p.ExecutionMode == contracts.ExecutionModeApply && env.ManualReviewRequiredForApply {
		review(CodeManualReviewForApply,
			fmt.Sprintf("environment %q requires manual review before apply", in.Environment))
	}
	requireApproval := riskIn(p.RiskLevel, env.RequireApprovalForRiskLevels)
	if requireApproval && !in.ApprovalSatisfied {
		review(CodeApprovalNotSatisfied,
			fmt.Sprintf("environment %q requires approval for %s-risk plans", in.Environment, p.RiskLevel))
	}

	for _, v := range d.Violations {
		if v.Severity == contracts.SeverityDeny {
			d.Decision = contracts.DecisionDeny
			break
		}
		d.Decision = contracts.DecisionReviewRequired
	}
	for _, v := range d.Violations {
		d.Reasons = append(d.Reasons, v.Message)
	}
	if len(d.Violations) == 0 {
		d.Reasons = []string{"plan complies with the runtime policy"}
	}

	d.Requirements = contracts.RuntimeRequirements{
		AllowLiveApply:                   mode.AllowLiveApply,
		RequireDryRunBeforeLiveApply:     env.RequireDryRunBeforeLiveApply,
		ManualReviewRequiredForApply:     env.ManualReviewRequiredForApply,
		AllowMutatingApply:               mode.AllowMutatingApply,
		RequirePasswordForApplyMutations: env.RequirePasswordForApplyMutations,
		RequireApproval:                  requireApproval,
		ApprovalSatisfied:                in.ApprovalSatisfied,
		MaxRiskLevelForApply:             env.MaxRiskLevelForApply,
		MaxAutoExecuteRiskLevel:          env.MaxAutoExecuteRiskLevel,
	}
	d.Requirements.AutoExecuteAllowed = d.Decision == contracts.DecisionAllow &&
		p.RiskLevel.Rank() <= env.MaxAutoExecuteRiskLevel.Rank()

	d.Summary = fmt.Sprintf("%s in %s/%s: %d violation(s)", d.Decision, in.RuntimeMode, in.Environment, len(d.Violations))
	return d, nil
}

func executionModeAllowed(m contracts.ExecutionMode, allowed []contracts.ExecutionMode) bool {
	for _, a := range allowed {
		if a == m {
			return true
		}
	}
	return false
}

func stringIn(s string, set []string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func riskIn(r contracts.RiskLevel, set []contracts.RiskLevel) bool {
	for _, v := range set {
		if v == r {
			return true
		}
	}
	return false
}
