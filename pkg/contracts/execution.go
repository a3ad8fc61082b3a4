package contracts

// ExecutionResult classifies a ledger entry.
type ExecutionResult string

const (
	ExecutionSuccess    ExecutionResult = "success"
	ExecutionFailed     ExecutionResult = "failed"
	ExecutionSkipped    ExecutionResult = "skipped"
	ExecutionRolledBack ExecutionResult = "rolled-back"
)

// ApplyMode distinguishes simulated from live execution.
type ApplyMode string

const (
	ApplyModeDryRun    ApplyMode = "dry-run"
	ApplyModeLiveApply ApplyMode = "live-apply"
)

// ExecutionRecord is one row of the append-only execution ledger.
type ExecutionRecord struct {
	ExecutionID       string          `json:"execution_id"`
	PlanID            string          `json:"plan_id"`
	Result            ExecutionResult `json:"result"`
	PolicyDecision    Decision        `json:"policy_decision"`
	Mode              ApplyMode       `json:"mode"`
	ActionsApplied    []ActionType    `json:"actions_applied"`
	RollbackReference string          `json:"rollback_reference,omitempty"`
	ExecutedAt        string          `json:"executed_at"`
	Reason            string          `json:"reason,omitempty"`
}

// ApplyOutcome is what the adapter returns from an apply attempt.
type ApplyOutcome struct {
	Blocked bool             `json:"blocked"`
	Reason  string           `json:"reason,omitempty"`
	Record  *ExecutionRecord `json:"record,omitempty"`
}

// AdapterCapabilities describes the provider dialect the adapter speaks.
type AdapterCapabilities struct {
	Provider       string   `json:"provider"`
	Dialect        string   `json:"dialect"`
	LiveApply      bool     `json:"live_apply"`
	DryRun         bool     `json:"dry_run"`
	Rollback       bool     `json:"rollback"`
	ActionTypes    []ActionType `json:"action_types"`
	ContractVersion string  `json:"contract_version"`
}
