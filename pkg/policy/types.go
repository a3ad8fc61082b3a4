// Package policy loads and merges the governance policy: built-in defaults,
// an optional JSON/YAML policy file, and a per-profile dialogue overlay.
// The merged result is exposed as an immutable value; callers never mutate a
// loaded Policy.
package policy

import (
	"github.com/google/cel-go/cel"

	"github.com/custodian-labs/custodian/pkg/contracts"
)

// LengthPolicy bounds the goal text accepted by the dialogue governor.
type LengthPolicy struct {
	MinChars             int `json:"min_chars" yaml:"min_chars"`
	MaxChars             int `json:"max_chars" yaml:"max_chars"`
	MinSignificantTokens int `json:"min_significant_tokens" yaml:"min_significant_tokens"`
}

// ProfileOverlay adjusts the base dialogue policy for one safety persona.
// Rule and template arrays append on top of the base; length fields replace
// individually when finite.
type ProfileOverlay struct {
	LengthPolicy           *LengthPolicyPatch `json:"length_policy,omitempty" yaml:"length_policy,omitempty"`
	DenyPatterns           []string           `json:"deny_patterns,omitempty" yaml:"deny_patterns,omitempty"`
	ClarifyPatterns        []string           `json:"clarify_patterns,omitempty" yaml:"clarify_patterns,omitempty"`
	ResponseRules          []string           `json:"response_rules,omitempty" yaml:"response_rules,omitempty"`
	ClarificationTemplates []string           `json:"clarification_templates,omitempty" yaml:"clarification_templates,omitempty"`
}

// LengthPolicyPatch is a partial length policy; nil fields keep the base.
type LengthPolicyPatch struct {
	MinChars             *int `json:"min_chars,omitempty" yaml:"min_chars,omitempty"`
	MaxChars             *int `json:"max_chars,omitempty" yaml:"max_chars,omitempty"`
	MinSignificantTokens *int `json:"min_significant_tokens,omitempty" yaml:"min_significant_tokens,omitempty"`
}

// DialoguePolicy governs goal screening.
type DialoguePolicy struct {
	Version                string                    `json:"version" yaml:"version"`
	Mode                   string                    `json:"mode" yaml:"mode"`
	DefaultProfile         string                    `json:"default_profile" yaml:"default_profile"`
	LengthPolicy           LengthPolicy              `json:"length_policy" yaml:"length_policy"`
	DenyPatterns           []string                  `json:"deny_patterns" yaml:"deny_patterns"`
	ClarifyPatterns        []string                  `json:"clarify_patterns" yaml:"clarify_patterns"`
	ResponseRules          []string                  `json:"response_rules" yaml:"response_rules"`
	ClarificationTemplates []string                  `json:"clarification_templates" yaml:"clarification_templates"`
	Profiles               map[string]ProfileOverlay `json:"profiles" yaml:"profiles"`
}

// GuardRule is a policy-supplied CEL expression evaluated against the plan
// by the plan gate, after the built-in checks.
type GuardRule struct {
	ID         string             `json:"id" yaml:"id"`
	Expression string             `json:"expression" yaml:"expression"`
	Severity   contracts.Severity `json:"severity" yaml:"severity"`
}

// Catalog partitions action types into denied and review-required sets.
type Catalog struct {
	DenyActionTypes   []contracts.ActionType `json:"deny_action_types" yaml:"deny_action_types"`
	ReviewActionTypes []contracts.ActionType `json:"review_action_types" yaml:"review_action_types"`
}

// GatePolicy configures the plan gate's guardrail checks.
type GatePolicy struct {
	Catalog                                   Catalog               `json:"catalog" yaml:"catalog"`
	RequireApprovalForRiskLevels              []contracts.RiskLevel `json:"require_approval_for_risk_levels" yaml:"require_approval_for_risk_levels"`
	MaxActionsWithoutApproval                 int                   `json:"max_actions_without_approval" yaml:"max_actions_without_approval"`
	RequireDualApprovalForPrivilegeEscalation bool                  `json:"require_dual_approval_for_privilege_escalation" yaml:"require_dual_approval_for_privilege_escalation"`
	RequireMaskingWhenSensitiveData           bool                  `json:"require_masking_when_sensitive_data" yaml:"require_masking_when_sensitive_data"`
	ForbidPlaintextSecrets                    bool                  `json:"forbid_plaintext_secrets" yaml:"forbid_plaintext_secrets"`
	RequireBackupForIrreversibleActions       bool                  `json:"require_backup_for_irreversible_actions" yaml:"require_backup_for_irreversible_actions"`
	GuardRules                                []GuardRule           `json:"guard_rules,omitempty" yaml:"guard_rules,omitempty"`
}

// ModeConfig is the runtime policy for one runtime mode.
type ModeConfig struct {
	AllowExecutionModes       []contracts.ExecutionMode `json:"allow_execution_modes" yaml:"allow_execution_modes"`
	DenyActionTypes           []contracts.ActionType    `json:"deny_action_types" yaml:"deny_action_types"`
	ReviewRequiredActionTypes []contracts.ActionType    `json:"review_required_action_types" yaml:"review_required_action_types"`
	AllowMutatingApply        bool                      `json:"allow_mutating_apply" yaml:"allow_mutating_apply"`
	AllowLiveApply            bool                      `json:"allow_live_apply" yaml:"allow_live_apply"`
}

// EnvConfig is the runtime policy for one runtime environment.
type EnvConfig struct {
	MaxRiskLevelForApply             contracts.RiskLevel   `json:"max_risk_level_for_apply" yaml:"max_risk_level_for_apply"`
	MaxAutoExecuteRiskLevel          contracts.RiskLevel   `json:"max_auto_execute_risk_level" yaml:"max_auto_execute_risk_level"`
	ManualReviewRequiredForApply     bool                  `json:"manual_review_required_for_apply" yaml:"manual_review_required_for_apply"`
	RequireApprovalForRiskLevels     []contracts.RiskLevel `json:"require_approval_for_risk_levels" yaml:"require_approval_for_risk_levels"`
	RequirePasswordForApplyMutations bool                  `json:"require_password_for_apply_mutations" yaml:"require_password_for_apply_mutations"`
	RequireDryRunBeforeLiveApply     bool                  `json:"require_dry_run_before_live_apply" yaml:"require_dry_run_before_live_apply"`
}

// UIModeConfig gates which runtime modes and execution modes a UI surface
// may drive.
type UIModeConfig struct {
	AllowedRuntimeModes []string                  `json:"allowed_runtime_modes" yaml:"allowed_runtime_modes"`
	AllowExecution      bool                      `json:"allow_execution" yaml:"allow_execution"`
	AllowExecutionModes []contracts.ExecutionMode `json:"allow_execution_modes" yaml:"allow_execution_modes"`
}

// RuntimePolicy is the runtime_mode × environment × ui_mode rule set.
type RuntimePolicy struct {
	Modes        map[string]ModeConfig   `json:"modes" yaml:"modes"`
	Environments map[string]EnvConfig    `json:"environments" yaml:"environments"`
	UIModes      map[string]UIModeConfig `json:"ui_modes,omitempty" yaml:"ui_modes,omitempty"`
}

// TierProfileConfig is the authorization posture of one dialogue profile.
type TierProfileConfig struct {
	AllowExecutionModes     []contracts.ExecutionMode `json:"allow_execution_modes" yaml:"allow_execution_modes"`
	AllowAutoExecuteLowRisk bool                      `json:"allow_auto_execute_low_risk" yaml:"allow_auto_execute_low_risk"`
	AllowLiveApply          bool                      `json:"allow_live_apply" yaml:"allow_live_apply"`
}

// TierEnvConfig is the extra authorization required in one environment.
type TierEnvConfig struct {
	ManualReviewRequiredForApply  bool `json:"manual_review_required_for_apply" yaml:"manual_review_required_for_apply"`
	RequireSecondaryAuthorization bool `json:"require_secondary_authorization" yaml:"require_secondary_authorization"`
	RequirePasswordForApply       bool `json:"require_password_for_apply" yaml:"require_password_for_apply"`
	RequireRolePolicy             bool `json:"require_role_policy" yaml:"require_role_policy"`
	RequireDistinctActorRoles     bool `json:"require_distinct_actor_roles" yaml:"require_distinct_actor_roles"`
}

// TierPolicy is the (profile × environment) authorization matrix.
type TierPolicy struct {
	Profiles     map[string]TierProfileConfig `json:"profiles" yaml:"profiles"`
	Environments map[string]TierEnvConfig     `json:"environments" yaml:"environments"`
}

// RolePolicy constrains which actor roles may drive approval transitions.
type RolePolicy struct {
	Submit                    []string `json:"submit" yaml:"submit"`
	Approve                   []string `json:"approve" yaml:"approve"`
	Execute                   []string `json:"execute" yaml:"execute"`
	Verify                    []string `json:"verify" yaml:"verify"`
	RequireDistinctActorRoles bool     `json:"require_distinct_actor_roles" yaml:"require_distinct_actor_roles"`
}

// Threshold is one reporter alerting rule: the metric warns at Warn and
// breaches at Breach. Direction "above" alerts when the metric exceeds the
// bound, "below" when it falls under it.
type Threshold struct {
	Metric         string  `json:"metric" yaml:"metric"`
	Warn           float64 `json:"warn" yaml:"warn"`
	Breach         float64 `json:"breach" yaml:"breach"`
	Direction      string  `json:"direction" yaml:"direction"` // above | below
	Recommendation string  `json:"recommendation,omitempty" yaml:"recommendation,omitempty"`
}

// Policy is the merged, immutable governance policy.
type Policy struct {
	Version    string                    `json:"version" yaml:"version"`
	Contract   contracts.ContextContract `json:"context_contract" yaml:"context_contract"`
	Dialogue   DialoguePolicy            `json:"dialogue" yaml:"dialogue"`
	Gate       GatePolicy                `json:"gate" yaml:"gate"`
	Runtime    RuntimePolicy             `json:"runtime" yaml:"runtime"`
	Tier       TierPolicy                `json:"tier" yaml:"tier"`
	Roles      *RolePolicy               `json:"roles,omitempty" yaml:"roles,omitempty"`
	Thresholds []Threshold               `json:"thresholds" yaml:"thresholds"`
	FromFile   bool                      `json:"from_file" yaml:"-"`

	compiled *compiledRules
}

// compiledRules caches CEL guard programs next to the policy value so gate
// evaluation never recompiles per request. Rules that fail to compile are
// dropped at load time.
type compiledRules struct {
	guardPrograms []guardProgram
}

type guardProgram struct {
	rule GuardRule
	prg  cel.Program
}
