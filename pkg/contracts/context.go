package contracts

// ContextField is a single UI field declared by the page.
type ContextField struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Sensitive   bool   `json:"sensitive"`
	Description string `json:"description,omitempty"`
}

// SceneWorkspace carries the ontology panel backing the current page.
type SceneWorkspace struct {
	Entities         []string `json:"entities,omitempty"`
	Relations        []string `json:"relations,omitempty"`
	BusinessRules    []string `json:"business_rules,omitempty"`
	DecisionPolicies []string `json:"decision_policies,omitempty"`
	ExplorerPanels   []string `json:"explorer_panels,omitempty"`
}

// AssistantPanel carries the assistant-panel session metadata, if the page
// exposes one.
type AssistantPanel struct {
	PanelID   string `json:"panel_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Mode      string `json:"mode,omitempty"`
}

// PageContext is the canonical, provider-neutral description of the page the
// user is customizing.
type PageContext struct {
	Product        string          `json:"product"`
	Module         string          `json:"module"`
	Page           string          `json:"page"`
	Entity         string          `json:"entity,omitempty"`
	SceneID        string          `json:"scene_id,omitempty"`
	WorkflowNode   string          `json:"workflow_node,omitempty"`
	Fields         []ContextField  `json:"fields"`
	CurrentState   string          `json:"current_state"`
	SceneWorkspace *SceneWorkspace `json:"scene_workspace,omitempty"`
	AssistantPanel *AssistantPanel `json:"assistant_panel,omitempty"`
}

// ContextContract bounds what a provider payload may contain.
type ContextContract struct {
	Version              string   `json:"version"`
	RequiredFields       []string `json:"required_fields"`
	OptionalFields       []string `json:"optional_fields"`
	MaxFieldCount        int      `json:"max_field_count"`
	MaxPayloadKB         int      `json:"max_payload_kb"`
	SensitiveKeyPatterns []string `json:"sensitive_key_patterns"`
	ForbiddenKeys        []string `json:"forbidden_keys"`
}

// ContractValidation records the outcome of validating a PageContext against
// its contract. It travels with the intent so later stages can reference it.
type ContractValidation struct {
	Valid            bool     `json:"valid"`
	ContractVersion  string   `json:"contract_version"`
	Issues           []string `json:"issues"`
	ForbiddenKeyHits []string `json:"forbidden_key_hits"`
	FieldCount       int      `json:"field_count"`
	PayloadKB        float64  `json:"payload_kb"`
}

// BridgeReport is the artifact the context bridge writes alongside the
// normalized context.
type BridgeReport struct {
	Dialect     string             `json:"dialect"`
	Strict      bool               `json:"strict"`
	Validation  ContractValidation `json:"validation"`
	DroppedKeys []string           `json:"dropped_keys,omitempty"`
	GeneratedAt string             `json:"generated_at"`
}
