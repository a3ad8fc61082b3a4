package contracts

// Priority is the intent's business urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ContextRef points back at the UI location an intent was raised from.
type ContextRef struct {
	Product      string `json:"product"`
	Module       string `json:"module"`
	Page         string `json:"page"`
	Entity       string `json:"entity,omitempty"`
	SceneID      string `json:"scene_id,omitempty"`
	WorkflowNode string `json:"workflow_node,omitempty"`
	Screen       string `json:"screen,omitempty"`
	Component    string `json:"component,omitempty"`
}

// ContextSummary counts what the sanitized context contained, so downstream
// stages can reason about scope without re-reading the raw payload.
type ContextSummary struct {
	FieldCount          int `json:"field_count"`
	SensitiveFieldCount int `json:"sensitive_field_count"`
	OntologyEntities    int `json:"ontology_entities"`
	OntologyRelations   int `json:"ontology_relations"`
	BusinessRules       int `json:"business_rules"`
	DecisionPolicies    int `json:"decision_policies"`
	ExplorerPanels      int `json:"explorer_panels"`
	AssistantPanels     int `json:"assistant_panels"`
}

// IntentMetadata is the derived, non-user-supplied part of an intent.
type IntentMetadata struct {
	Mode               string             `json:"mode"` // always "read-only"
	RiskHint           RiskLevel          `json:"risk_hint"`
	ContextSummary     ContextSummary     `json:"context_summary"`
	ContractValidation ContractValidation `json:"contract_validation"`
}

// ChangeIntent is the immutable record of what the user asked for.
type ChangeIntent struct {
	IntentID     string         `json:"intent_id"`
	SessionID    string         `json:"session_id"`
	UserID       string         `json:"user_id"`
	ContextRef   ContextRef     `json:"context_ref"`
	BusinessGoal string         `json:"business_goal"`
	Constraints  []string       `json:"constraints"`
	Priority     Priority       `json:"priority"`
	CreatedAt    string         `json:"created_at"`
	Metadata     IntentMetadata `json:"metadata"`
}

// AuditEvent is one line of the copilot audit JSONL stream.
type AuditEvent struct {
	EventID         string `json:"event_id"`
	SessionID       string `json:"session_id"`
	UserID          string `json:"user_id"`
	IntentID        string `json:"intent_id"`
	Stage           string `json:"stage"`
	ContextSHA256   string `json:"context_sha256"`
	Timestamp       string `json:"timestamp"`
	Note            string `json:"note,omitempty"`
}
