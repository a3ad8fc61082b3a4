package contracts

// Decision is the outcome shared by every governance stage.
type Decision string

const (
	DecisionAllow          Decision = "allow"
	DecisionReviewRequired Decision = "review-required"
	DecisionDeny           Decision = "deny"
)

// Rank orders decisions by severity: allow < review-required < deny.
func (d Decision) Rank() int {
	switch d {
	case DecisionAllow:
		return 0
	case DecisionReviewRequired:
		return 1
	case DecisionDeny:
		return 2
	default:
		return 2 // unknown decisions fail closed
	}
}

// WorstDecision reduces a set of decisions to the most severe one.
// An empty set is an allow.
func WorstDecision(decisions ...Decision) Decision {
	worst := DecisionAllow
	for _, d := range decisions {
		if d.Rank() > worst.Rank() {
			worst = d
		}
	}
	return worst
}

// Severity classifies a failed check.
type Severity string

const (
	SeverityDeny   Severity = "deny"
	SeverityReview Severity = "review"
)

// Check is a single guardrail evaluation inside a gate decision.
type Check struct {
	ID       string   `json:"id"`
	Passed   bool     `json:"passed"`
	Severity Severity `json:"severity"`
	Details  string   `json:"details,omitempty"`
}

// Violation is a single failed constraint inside a runtime or tier decision.
type Violation struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Decider is the common surface of every stage decision artifact.
type Decider interface {
	Decide() Decision
	DecisionReasons() []string
}

// GateSummary aggregates check counts for a gate decision.
type GateSummary struct {
	CheckTotal        int       `json:"check_total"`
	FailedTotal       int       `json:"failed_total"`
	FailedDenyTotal   int       `json:"failed_deny_total"`
	FailedReviewTotal int       `json:"failed_review_total"`
	ActionCount       int       `json:"action_count"`
	RiskLevel         RiskLevel `json:"risk_level"`
}

// GateDecision is the Plan Gate verdict.
type GateDecision struct {
	Decision           Decision    `json:"decision"`
	Checks             []Check     `json:"checks"`
	FailedDenyChecks   []string    `json:"failed_deny_checks"`
	FailedReviewChecks []string    `json:"failed_review_checks"`
	Reasons            []string    `json:"reasons"`
	Summary            GateSummary `json:"summary"`
	GeneratedAt        string      `json:"generated_at"`
}

func (g *GateDecision) Decide() Decision          { return g.Decision }
func (g *GateDecision) DecisionReasons() []string { return g.Reasons }

// RuntimeRequirements are the operational obligations emitted by the
// runtime policy evaluator alongside its decision.
type RuntimeRequirements struct {
	AllowLiveApply                   bool      `json:"allow_live_apply"`
	RequireDryRunBeforeLiveApply     bool      `json:"require_dry_run_before_live_apply"`
	ManualReviewRequiredForApply     bool      `json:"manual_review_required_for_apply"`
	AllowMutatingApply               bool      `json:"allow_mutating_apply"`
	RequirePasswordForApplyMutations bool      `json:"require_password_for_apply_mutations"`
	RequireApproval                  bool      `json:"require_approval"`
	ApprovalSatisfied                bool      `json:"approval_satisfied"`
	MaxRiskLevelForApply             RiskLevel `json:"max_risk_level_for_apply"`
	MaxAutoExecuteRiskLevel          RiskLevel `json:"max_auto_execute_risk_level"`
	AutoExecuteAllowed               bool      `json:"auto_execute_allowed"`
}

// RuntimeDecision is the runtime mode/environment verdict.
type RuntimeDecision struct {
	Decision     Decision            `json:"decision"`
	Reasons      []string            `json:"reasons"`
	Violations   []Violation         `json:"violations"`
	Summary      string              `json:"summary"`
	Requirements RuntimeRequirements `json:"requirements"`
	RuntimeMode  string              `json:"runtime_mode"`
	Environment  string              `json:"runtime_environment"`
	UIMode       string              `json:"ui_mode,omitempty"`
	GeneratedAt  string              `json:"generated_at"`
}

func (r *RuntimeDecision) Decide() Decision          { return r.Decision }
func (r *RuntimeDecision) DecisionReasons() []string { return r.Reasons }

// TierContext echoes the inputs a tier decision was computed from.
type TierContext struct {
	ExecutionMode      ExecutionMode `json:"execution_mode"`
	DialogueProfile    string        `json:"dialogue_profile"`
	RuntimeMode        string        `json:"runtime_mode"`
	RuntimeEnvironment string        `json:"runtime_environment"`
	AutoExecuteLowRisk bool          `json:"auto_execute_low_risk"`
	LiveApply          bool          `json:"live_apply"`
}

// TierRequirements are the authorization obligations for a (profile, env) tier.
type TierRequirements struct {
	ApplyAllowed                  bool `json:"apply_allowed"`
	AutoExecuteAllowed            bool `json:"auto_execute_allowed"`
	LiveApplyAllowed              bool `json:"live_apply_allowed"`
	RequireSecondaryAuthorization bool `json:"require_secondary_authorization"`
	RequirePasswordForApply       bool `json:"require_password_for_apply"`
	RequireRolePolicy             bool `json:"require_role_policy"`
	RequireDistinctActorRoles     bool `json:"require_distinct_actor_roles"`
	ManualReviewRequiredForApply  bool `json:"manual_review_required_for_apply"`
}

// TierDecision is the authorization-tier verdict.
type TierDecision struct {
	Decision     Decision         `json:"decision"`
	Reasons      []string         `json:"reasons"`
	Violations   []Violation      `json:"violations"`
	Context      TierContext      `json:"context"`
	Requirements TierRequirements `json:"requirements"`
	GeneratedAt  string           `json:"generated_at"`
}

func (t *TierDecision) Decide() Decision          { return t.Decision }
func (t *TierDecision) DecisionReasons() []string { return t.Reasons }

// DialogueOutcome is the dialogue governor verdict. Unlike the other stages
// it can ask for clarification instead of requiring review.
type DialogueOutcome string

const (
	DialogueAllow   DialogueOutcome = "allow"
	DialogueClarify DialogueOutcome = "clarify"
	DialogueDeny    DialogueOutcome = "deny"
)

// DialogueDecision is the goal-screening verdict.
type DialogueDecision struct {
	Decision               DialogueOutcome `json:"decision"`
	Reasons                []string        `json:"reasons"`
	DenyHits               []string        `json:"deny_hits"`
	ClarifyHits            []string        `json:"clarify_hits"`
	ClarificationQuestions []string        `json:"clarification_questions"`
	ResponseRules          []string        `json:"response_rules"`
	Profile                string          `json:"profile"`
	GeneratedAt            string          `json:"generated_at"`
}
