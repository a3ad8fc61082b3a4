// Package authztier decides the authorization tier for a (dialogue profile,
// runtime environment) pair and the requested execution posture.
package authztier

import (
	"fmt"
	"time"

	"github.com/custodian-labs/custodian/pkg/contracts"
	"github.com/custodian-labs/custodian/pkg/policy"
)

// Violation codes emitted by the evaluator.
const (
	CodeExecutionModeNotAllowed = "execution-mode-not-allowed-for-profile"
	CodeAutoExecuteNotAllowed   = "auto-execute-not-allowed-for-profile"
	CodeLiveApplyNotAllowed     = "live-apply-not-allowed-for-profile"
	CodeManualReviewForApply    = "manual-review-required-for-apply"
	CodeSecondaryAuthorization  = "secondary-authorization-required"
)

// Input carries one tier evaluation request.
type Input struct {
	Profile            string
	Environment        string
	ExecutionMode      contracts.ExecutionMode
	RuntimeMode        string
	AutoExecuteLowRisk bool
	LiveApply          bool
}

// Evaluator applies the tier policy.
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

// Evaluate decides whether the profile may drive the requested execution
// posture in the environment and which authorization obligations apply.
func (e *Evaluator) Evaluate(in Input) (*contracts.TierDecision, error) {
	profile, ok := e.pol.Tier.Profiles[in.Profile]
	if !ok {
		return nil, fmt.Errorf("%w: tier profile %q", contracts.ErrProfileNotFound, in.Profile)
	}
	env, ok := e.pol.Tier.Environments[in.Environment]
	if !ok {
		return nil, fmt.Errorf("%w: tier environment %q", contracts.ErrEnvironmentNotDefined, in.Environment)
	}

	d := &contracts.TierDecision{
		Decision:   contracts.DecisionAllow,
		Reasons:    []string{},
		Violations: []contracts.Violation{},
		Context: contracts.TierContext{
			ExecutionMode:      in.ExecutionMode,
			DialogueProfile:    in.Profile,
			RuntimeMode:        in.RuntimeMode,
			RuntimeEnvironment: in.Environment,
			AutoExecuteLowRisk: in.AutoExecuteLowRisk,
			LiveApply:          in.LiveApply,
		},
		GeneratedAt: contracts.Timestamp(e.clock()),
	}

	deny := func(code, msg string) {
		d.Violations = append(d.Violations, contracts.Violation{Code: code, Severity: contracts.SeverityDeny, Message: msg})
	}
	review := func(code, msg string) {
		d.Violations = append(d.Violations, contracts.Violation{Code: code, Severity: contracts.SeverityReview, Message: msg})
	}

	modeAllowed := false
	for _, m := range profile.AllowExecutionModes {
		if m == in.ExecutionMode {
			modeAllowed = true
		}
	}
	if !modeAllowed {
		deny(CodeExecutionModeNotAllowed,
			fmt.Sprintf("profile %q may not use execution mode %q", in.Profile, in.ExecutionMode))
	}
	if in.AutoExecuteLowRisk && !profile.AllowAutoExecuteLowRisk {
		deny(CodeAutoExecuteNotAllowed,
			fmt.Sprintf("profile %q may not auto-execute low-risk plans", in.Profile))
	}
	if in.LiveApply && !profile.AllowLiveApply {
		deny(CodeLiveApplyNotAllowed,
			fmt.Sprintf("profile %q may not live-apply", in.Profile))
	}

	if in.ExecutionMode == contracts.ExecutionModeApply {
		if env.ManualReviewRequiredForApply {
			review(CodeManualReviewForApply,
				fmt.Sprintf("environment %q requires manual review before apply", in.Environment))
		}
		if env.RequireSecondaryAuthorization {
			review(CodeSecondaryAuthorization,
				fmt.Sprintf("environment %q requires secondary authorization for apply", in.Environment))
		}
	}

	for _, v := range d.Violations {
		d.Reasons = append(d.Reasons, v.Message)
		if v.Severity == contracts.SeverityDeny {
			d.Decision = contracts.DecisionDeny
		} else if d.Decision != contracts.DecisionDeny {
			d.Decision = contracts.DecisionReviewRequired
		}
	}
	if len(d.Violations) == 0 {
		d.Reasons = []string{"profile is authorized for the requested posture"}
	}

	d.Requirements = contracts.TierRequirements{
		ApplyAllowed:                  hasMode(profile.AllowExecutionModes, contracts.ExecutionModeApply),
		AutoExecuteAllowed:            profile.AllowAutoExecuteLowRisk && d.Decision != contracts.DecisionDeny,
		LiveApplyAllowed:              profile.AllowLiveApply,
		RequireSecondaryAuthorization: env.RequireSecondaryAuthorization,
		RequirePasswordForApply:       env.RequirePasswordForApply,
		RequireRolePolicy:             env.RequireRolePolicy,
		RequireDistinctActorRoles:     env.RequireDistinctActorRoles,
		ManualReviewRequiredForApply:  env.ManualReviewRequiredForApply,
	}
	return d, nil
}

func hasMode(set []contracts.ExecutionMode, m contracts.ExecutionMode) bool {
	for _, v := range set {
		if v == m {
			return true
		}
	}
	return false
}
