package contracts

// ApprovalStatus is a state of the approval workflow FSM.
type ApprovalStatus string

const (
	ApprovalDraft     ApprovalStatus = "draft"
	ApprovalSubmitted ApprovalStatus = "submitted"
	ApprovalApproved  ApprovalStatus = "approved"
	ApprovalRejected  ApprovalStatus = "rejected"
	ApprovalExecuted  ApprovalStatus = "executed"
	ApprovalVerified  ApprovalStatus = "verified"
	ApprovalArchived  ApprovalStatus = "archived"
)

// approvalTransitions is the permitted state graph. rejected → draft allows
// resubmission after rework.
var approvalTransitions = map[ApprovalStatus][]ApprovalStatus{
	ApprovalDraft:     {ApprovalSubmitted},
	ApprovalSubmitted: {ApprovalApproved, ApprovalRejected},
	ApprovalApproved:  {ApprovalExecuted},
	ApprovalRejected:  {ApprovalDraft},
	ApprovalExecuted:  {ApprovalVerified},
	ApprovalVerified:  {ApprovalArchived},
	ApprovalArchived:  {},
}

// CanTransition reports whether moving from one approval status to another is
// permitted by the FSM.
func CanTransition(from, to ApprovalStatus) bool {
	for _, next := range approvalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ActorRecord captures who performed an approval action.
type ActorRecord struct {
	Actor     string `json:"actor"`
	ActorRole string `json:"actor_role,omitempty"`
	Comment   string `json:"comment,omitempty"`
	Timestamp string `json:"timestamp"`
}

// RoleRequirements lists which actor roles may perform each transition.
// Empty slices mean no role constraint for that transition.
type RoleRequirements struct {
	Submit  []string `json:"submit"`
	Approve []string `json:"approve"`
	Execute []string `json:"execute"`
	Verify  []string `json:"verify"`
}

// PasswordSpec is the workflow's one-time-password requirement.
type PasswordSpec struct {
	Required   bool   `json:"required"`
	HashEnv    string `json:"hash_env,omitempty"`
	TTLSeconds int    `json:"ttl_seconds"`
	VerifiedAt string `json:"verified_at,omitempty"`
}

// GrantRecord summarizes the short-lived authorization grant minted after a
// successful password verification. Only the token ID and expiry are stored;
// the token itself is returned to the caller and never persisted.
type GrantRecord struct {
	GrantID   string `json:"grant_id"`
	IssuedAt  string `json:"issued_at"`
	ExpiresAt string `json:"expires_at"`
}

// ApprovalState is the persisted workflow state for one plan.
type ApprovalState struct {
	WorkflowID       string                  `json:"workflow_id"`
	PlanID           string                  `json:"plan_id"`
	Status           ApprovalStatus          `json:"status"`
	Approvals        map[string]*ActorRecord `json:"approvals"` // initiator | approver | executor
	RoleRequirements RoleRequirements        `json:"role_requirements"`
	Password         PasswordSpec            `json:"password"`
	Grant            *GrantRecord            `json:"grant,omitempty"`
	ApprovalRequired bool                    `json:"approval_required"`
	RequireDistinctActorRoles bool           `json:"require_distinct_actor_roles"`
	CreatedAt        string                  `json:"created_at"`
	UpdatedAt        string                  `json:"updated_at"`
}

// ApprovalEvent is one line of the approval-events JSONL stream.
type ApprovalEvent struct {
	WorkflowID string         `json:"workflow_id"`
	PlanID     string         `json:"plan_id"`
	Action     string         `json:"action"`
	From       ApprovalStatus `json:"from"`
	To         ApprovalStatus `json:"to,omitempty"`
	Actor      string         `json:"actor"`
	ActorRole  string         `json:"actor_role,omitempty"`
	Comment    string         `json:"comment,omitempty"`
	Blocked    bool           `json:"blocked"`
	Reason     string         `json:"reason,omitempty"`
	Timestamp  string         `json:"timestamp"`
}
