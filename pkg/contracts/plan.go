package contracts

// ExecutionMode selects whether a plan is advisory or intended to be applied.
type ExecutionMode string

const (
	ExecutionModeSuggestion ExecutionMode = "suggestion"
	ExecutionModeApply      ExecutionMode = "apply"
)

// RiskLevel is the closed three-level risk enum.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Rank orders risk levels: low < medium < high.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	default:
		return 2 // unknown risk fails closed
	}
}

// NormalizeRiskLevel folds input aliases into the closed enum. The internal
// "critical" alias maps to high; anything unrecognized also maps to high.
func NormalizeRiskLevel(s string) RiskLevel {
	switch RiskLevel(s) {
	case RiskLow, RiskMedium, RiskHigh:
		return RiskLevel(s)
	}
	return RiskHigh
}

// MaxRisk returns the higher of two risk levels.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ActionType is the closed set of inferable change actions.
type ActionType string

const (
	ActionAnalysisOnly                ActionType = "analysis_only"
	ActionWorkflowApprovalChainChange ActionType = "workflow_approval_chain_change"
	ActionUpdateRuleThreshold         ActionType = "update_rule_threshold"
	ActionUIFormFieldAdjust           ActionType = "ui_form_field_adjust"
	ActionInventoryAdjustmentBulk     ActionType = "inventory_adjustment_bulk"
	ActionPaymentRuleChange           ActionType = "payment_rule_change"
	ActionBulkDeleteWithoutFilter     ActionType = "bulk_delete_without_filter"
	ActionPermissionGrantSuperAdmin   ActionType = "permission_grant_super_admin"
	ActionCredentialExport            ActionType = "credential_export"
)

// AllActionTypes lists the closed set in stable order.
var AllActionTypes = []ActionType{
	ActionAnalysisOnly,
	ActionWorkflowApprovalChainChange,
	ActionUpdateRuleThreshold,
	ActionUIFormFieldAdjust,
	ActionInventoryAdjustmentBulk,
	ActionPaymentRuleChange,
	ActionBulkDeleteWithoutFilter,
	ActionPermissionGrantSuperAdmin,
	ActionCredentialExport,
}

// Action is a single inferred change step inside a plan.
type Action struct {
	ActionID                    string     `json:"action_id"`
	Type                        ActionType `json:"type"`
	TouchesSensitiveData        bool       `json:"touches_sensitive_data"`
	RequiresPrivilegeEscalation bool       `json:"requires_privilege_escalation"`
	Irreversible                bool       `json:"irreversible"`
}

// Mutating reports whether the action would change runtime state.
func (a Action) Mutating() bool { return a.Type != ActionAnalysisOnly }

// RollbackPlan describes how a plan's effects would be undone.
type RollbackPlan struct {
	Type      string `json:"type"` // config-revert | backup-restore
	Reference string `json:"reference,omitempty"`
	Note      string `json:"note"`
}

// ApprovalBlock is the plan's approval posture.
type ApprovalBlock struct {
	Status       string   `json:"status"` // not-required | pending | approved
	DualApproved bool     `json:"dual_approved"`
	Approvers    []string `json:"approvers"`
}

// Approval status values used inside a plan's ApprovalBlock.
const (
	PlanApprovalNotRequired = "not-required"
	PlanApprovalPending     = "pending"
	PlanApprovalApproved    = "approved"
)

// AuthorizationBlock is the plan's password-authorization posture.
type AuthorizationBlock struct {
	PasswordRequired   bool     `json:"password_required"`
	PasswordScope      []string `json:"password_scope"`
	PasswordHashEnv    string   `json:"password_hash_env,omitempty"`
	PasswordTTLSeconds int      `json:"password_ttl_seconds"`
	ReasonCodes        []string `json:"reason_codes"`
}

// SecurityBlock records the plan's data-protection posture.
type SecurityBlock struct {
	MaskingApplied            bool   `json:"masking_applied"`
	PlaintextSecretsInPayload bool   `json:"plaintext_secrets_in_payload"`
	BackupReference           string `json:"backup_reference,omitempty"`
}

// ChangePlan is the decided unit of work for one intent.
type ChangePlan struct {
	PlanID             string             `json:"plan_id"`
	IntentID           string             `json:"intent_id"`
	RiskLevel          RiskLevel          `json:"risk_level"`
	ExecutionMode      ExecutionMode      `json:"execution_mode"`
	Scope              string             `json:"scope"`
	Actions            []Action           `json:"actions"`
	ImpactAssessment   string             `json:"impact_assessment"`
	VerificationChecks []string           `json:"verification_checks"`
	RollbackPlan       RollbackPlan       `json:"rollback_plan"`
	Approval           ApprovalBlock      `json:"approval"`
	Authorization      AuthorizationBlock `json:"authorization"`
	Security           SecurityBlock      `json:"security"`
	CreatedAt          string             `json:"created_at"`
}

// HasMutatingAction reports whether any action in the plan is mutating.
func (p *ChangePlan) HasMutatingAction() bool {
	for _, a := range p.Actions {
		if a.Mutating() {
			return true
		}
	}
	return false
}

// HasActionType reports whether the plan carries an action of the given type.
func (p *ChangePlan) HasActionType(t ActionType) bool {
	for _, a := range p.Actions {
		if a.Type == t {
			return true
		}
	}
	return false
}
