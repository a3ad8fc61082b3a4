package contracts

// SignalStage names the decision stage a signal was emitted from.
type SignalStage string

const (
	SignalStageDialogueAuthorization SignalStage = "dialogue_authorization"
	SignalStageRuntime               SignalStage = "runtime"
	SignalStageAuthorizationTier     SignalStage = "authorization_tier"
	SignalStageMatrix                SignalStage = "matrix"
)

// BusinessMode classifies which operating persona produced a signal.
type BusinessMode string

const (
	BusinessModeUser    BusinessMode = "user-mode"
	BusinessModeOps     BusinessMode = "ops-mode"
	BusinessModeDev     BusinessMode = "dev-mode"
	BusinessModeUnknown BusinessMode = "unknown"
)

// BusinessModeForRuntime maps a runtime mode onto its business mode.
func BusinessModeForRuntime(runtimeMode string) BusinessMode {
	switch runtimeMode {
	case "user-assist":
		return BusinessModeUser
	case "ops-fix":
		return BusinessModeOps
	case "feature-dev":
		return BusinessModeDev
	default:
		return BusinessModeUnknown
	}
}

// Signal is one append-only JSONL governance signal.
type Signal struct {
	Stage        SignalStage    `json:"stage"`
	Timestamp    string         `json:"timestamp"`
	SessionID    string         `json:"session_id"`
	BusinessMode BusinessMode   `json:"business_mode"`
	Decision     string         `json:"decision"`
	RiskLevel    RiskLevel      `json:"risk_level,omitempty"`
	PlanID       string         `json:"plan_id,omitempty"`
	IntentID     string         `json:"intent_id,omitempty"`
	Profile      string         `json:"profile,omitempty"`
	Detail       map[string]any `json:"detail,omitempty"`
}

// MatrixSignal is the opaque baseline-scoring record appended to the matrix
// stream by the external template-scoring sub-tool.
type MatrixSignal struct {
	Stage              SignalStage  `json:"stage"` // always "matrix"
	Timestamp          string       `json:"timestamp"`
	SessionID          string       `json:"session_id"`
	BusinessMode       BusinessMode `json:"business_mode"`
	PortfolioPass      bool         `json:"portfolio_pass"`
	RegressionPositive bool         `json:"regression_positive"`
	StageError         bool         `json:"stage_error"`
	Score              float64      `json:"score"`
	ValidRate          float64      `json:"valid_rate"`
}
