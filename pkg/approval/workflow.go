// Package approval drives the human approval workflow for a plan: a strict
// state machine with role checks, a one-time-password step and a short-lived
// execution grant. Every attempt, blocked or not, is appended to the event
// stream; blocked attempts never change state.
package approval

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/custodian-labs/custodian/pkg/contracts"
)

// Approval slot names inside ApprovalState.Approvals.
const (
	SlotInitiator = "initiator"
	SlotApprover  = "approver"
	SlotExecutor  = "executor"
)

// Workflow executes approval transitions.
type Workflow struct {
	clock    func() time.Time
	newID    func() string
	hashOver string
}

// NewWorkflow creates a workflow engine.
func NewWorkflow() *Workflow {
	return &Workflow{
		clock: time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// WithClock overrides the clock for deterministic testing.
func (w *Workflow) WithClock(clock func() time.Time) *Workflow {
	w.clock = clock
	return w
}

// WithIDSource overrides ID generation for deterministic testing.
func (w *Workflow) WithIDSource(newID func() string) *Workflow {
	w.newID = newID
	return w
}

// WithPasswordHash supplies the expected password hash directly, taking
// precedence over the environment variable named by the plan.
func (w *Workflow) WithPasswordHash(hash string) *Workflow {
	w.hashOver = hash
	return w
}

// Init creates the draft workflow state for a plan. Role requirements and the
// distinct-roles rule come from the role policy; the password spec comes from
// the plan's authorization block.
func (w *Workflow) Init(p *contracts.ChangePlan, roles contracts.RoleRequirements, requireDistinctRoles bool) *contracts.ApprovalState {
	now := contracts.Timestamp(w.clock())
	return &contracts.ApprovalState{
		WorkflowID:       "wf-" + w.newID(),
		PlanID:           p.PlanID,
		Status:           contracts.ApprovalDraft,
		Approvals:        map[string]*contracts.ActorRecord{},
		RoleRequirements: roles,
		Password: contracts.PasswordSpec{
			Required:   p.Authorization.PasswordRequired,
			HashEnv:    p.Authorization.PasswordHashEnv,
			TTLSeconds: p.Authorization.PasswordTTLSeconds,
		},
		ApprovalRequired:          p.Approval.Status == contracts.PlanApprovalPending,
		RequireDistinctActorRoles: requireDistinctRoles,
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}
}

// Actor identifies who is driving a transition.
type Actor struct {
	Name    string
	Role    string
	Comment string
}

// Submit moves draft to submitted and records the initiator.
func (w *Workflow) Submit(st *contracts.ApprovalState, a Actor) (*contracts.ApprovalEvent, error) {
	return w.transition(st, "submit", contracts.ApprovalSubmitted, a, st.RoleRequirements.Submit, func() error {
		st.Approvals[SlotInitiator] = w.actorRecord(a)
		return nil
	})
}

// Approve moves submitted to approved. The approver must not be the
// initiator.
func (w *Workflow) Approve(st *contracts.ApprovalState, a Actor) (*contracts.ApprovalEvent, error) {
	return w.transition(st, "approve", contracts.ApprovalApproved, a, st.RoleRequirements.Approve, func() error {
		if init := st.Approvals[SlotInitiator]; init != nil && init.Actor == a.Name {
			return fmt.Errorf("approver %q is the initiator", a.Name)
		}
		st.Approvals[SlotApprover] = w.actorRecord(a)
		return nil
	})
}

// Reject moves submitted to rejected.
func (w *Workflow) Reject(st *contracts.ApprovalState, a Actor) (*contracts.ApprovalEvent, error) {
	return w.transition(st, "reject", contracts.ApprovalRejected, a, st.RoleRequirements.Approve, nil)
}

// Reopen moves rejected back to draft for rework.
func (w *Workflow) Reopen(st *contracts.ApprovalState, a Actor) (*contracts.ApprovalEvent, error) {
	return w.transition(st, "reopen", contracts.ApprovalDraft, a, st.RoleRequirements.Submit, func() error {
		delete(st.Approvals, SlotApprover)
		return nil
	})
}

// Execute moves approved to executed, enforcing the password grant and the
// distinct-actor rule against the approver.
func (w *Workflow) Execute(st *contracts.ApprovalState, a Actor, grantToken string) (*contracts.ApprovalEvent, error) {
	return w.transition(st, "execute", contracts.ApprovalExecuted, a, st.RoleRequirements.Execute, func() error {
		if st.Password.Required {
			if err := w.checkGrant(st, grantToken); err != nil {
				return fmt.Errorf("password authorization failed: %v", err)
			}
		}
		if st.RequireDistinctActorRoles {
			if appr := st.Approvals[SlotApprover]; appr != nil {
				if appr.Actor == a.Name {
					return fmt.Errorf("executor %q is the approver", a.Name)
				}
				if appr.ActorRole != "" && appr.ActorRole == a.Role {
					return fmt.Errorf("actor roles must differ: approver and executor are both %q", a.Role)
				}
			}
		}
		st.Approvals[SlotExecutor] = w.actorRecord(a)
		return nil
	})
}

// Verify moves executed to verified.
func (w *Workflow) Verify(st *contracts.ApprovalState, a Actor) (*contracts.ApprovalEvent, error) {
	return w.transition(st, "verify", contracts.ApprovalVerified, a, st.RoleRequirements.Verify, nil)
}

// Archive moves verified to archived.
func (w *Workflow) Archive(st *contracts.ApprovalState, a Actor) (*contracts.ApprovalEvent, error) {
	return w.transition(st, "archive", contracts.ApprovalArchived, a, nil, nil)
}

// transition applies one FSM step. Guard failures return ErrApprovalBlocked
// together with a blocked event; the state is left untouched.
func (w *Workflow) transition(st *contracts.ApprovalState, action string, to contracts.ApprovalStatus, a Actor, allowedRoles []string, guard func() error) (*contracts.ApprovalEvent, error) {
	ev := &contracts.ApprovalEvent{
		WorkflowID: st.WorkflowID,
		PlanID:     st.PlanID,
		Action:     action,
		From:       st.Status,
		To:         to,
		Actor:      a.Name,
		ActorRole:  a.Role,
		Comment:    a.Comment,
		Timestamp:  contracts.Timestamp(w.clock()),
	}

	block := func(reason string) (*contracts.ApprovalEvent, error) {
		ev.Blocked = true
		ev.Reason = reason
		return ev, fmt.Errorf("%w: %s: %s", contracts.ErrApprovalBlocked, action, reason)
	}

	if a.Name == "" {
		return block("actor is required")
	}
	if !contracts.CanTransition(st.Status, to) {
		return block(fmt.Sprintf("transition %s to %s is not permitted", st.Status, to))
	}
	if len(allowedRoles) > 0 && !roleIn(a.Role, allowedRoles) {
		return block(fmt.Sprintf("role %q may not %s", a.Role, action))
	}
	if guard != nil {
		if err := guard(); err != nil {
			return block(err.Error())
		}
	}

	st.Status = to
	st.UpdatedAt = ev.Timestamp
	return ev, nil
}

func (w *Workflow) actorRecord(a Actor) *contracts.ActorRecord {
	return &contracts.ActorRecord{
		Actor:     a.Name,
		ActorRole: a.Role,
		Comment:   a.Comment,
		Timestamp: contracts.Timestamp(w.clock()),
	}
}

func roleIn(role string, set []string) bool {
	for _, r := range set {
		if r == role {
			return true
		}
	}
	return false
}
