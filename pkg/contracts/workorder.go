package contracts

// WorkOrderStatus is the roll-up status of a session.
type WorkOrderStatus string

const (
	WorkOrderBlocked       WorkOrderStatus = "blocked"
	WorkOrderPendingReview WorkOrderStatus = "pending-review"
	WorkOrderReadyForApply WorkOrderStatus = "ready-for-apply"
	WorkOrderCompleted     WorkOrderStatus = "completed"
)

// WorkOrderScope identifies what the session was about.
type WorkOrderScope struct {
	SessionID    string     `json:"session_id"`
	IntentID     string     `json:"intent_id,omitempty"`
	PlanID       string     `json:"plan_id,omitempty"`
	BusinessGoal string     `json:"business_goal"`
	ContextRef   ContextRef `json:"context_ref"`
}

// StageOutcome summarizes one pipeline stage inside a work order.
type StageOutcome struct {
	Stage    string   `json:"stage"`
	Decision string   `json:"decision"`
	Reasons  []string `json:"reasons,omitempty"`
}

// ExecutionFacts summarizes what, if anything, was executed.
type ExecutionFacts struct {
	Attempted         bool            `json:"attempted"`
	Blocked           bool            `json:"blocked"`
	Result            ExecutionResult `json:"result,omitempty"`
	ExecutionID       string          `json:"execution_id,omitempty"`
	Mode              ApplyMode       `json:"mode,omitempty"`
	RollbackReference string          `json:"rollback_reference,omitempty"`
}

// WorkOrder is the per-session ticket for auditors and operators.
type WorkOrder struct {
	WorkOrderID string          `json:"work_order_id"`
	Scope       WorkOrderScope  `json:"scope"`
	Status      WorkOrderStatus `json:"status"`
	Priority    Priority        `json:"priority"`
	RiskLevel   RiskLevel       `json:"risk_level"`
	Stages      []StageOutcome  `json:"stages"`
	Execution   ExecutionFacts  `json:"execution"`
	NextActions []string        `json:"next_actions"`
	CreatedAt   string          `json:"created_at"`
}
