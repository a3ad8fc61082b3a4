// Package workorder rolls the session's stage decisions up into a single
// operator-facing ticket.
package workorder

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/custodian-labs/custodian/pkg/contracts"
)

// Builder assembles work orders.
type Builder struct {
	clock func() time.Time
	newID func() string
}

// NewBuilder creates a work order builder.
func NewBuilder() *Builder {
	return &Builder{
		clock: time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// WithClock overrides the clock for deterministic testing.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// WithIDSource overrides ID generation for deterministic testing.
func (b *Builder) WithIDSource(newID func() string) *Builder {
	b.newID = newID
	return b
}

// Input carries everything the builder folds into the ticket. Decisions that
// never ran may be nil.
type Input struct {
	SessionID string
	Intent    *contracts.ChangeIntent
	Plan      *contracts.ChangePlan
	Dialogue  *contracts.DialogueDecision
	Gate      *contracts.GateDecision
	Runtime   *contracts.RuntimeDecision
	Tier      *contracts.TierDecision
	Approval  *contracts.ApprovalState
	Execution contracts.ExecutionFacts
}

// Build computes the roll-up status, priority and the blocker-first list of
// next actions.
func (b *Builder) Build(in Input) *contracts.WorkOrder {
	wo := &contracts.WorkOrder{
		WorkOrderID: "wo-" + b.newID(),
		Scope:       scope(in),
		Stages:      stages(in),
		Execution:   in.Execution,
		NextActions: []string{},
		CreatedAt:   contracts.Timestamp(b.clock()),
	}

	worst := worstDecision(in)
	switch {
	case worst == contracts.DecisionDeny:
		wo.Status = contracts.WorkOrderBlocked
	case in.Execution.Attempted && in.Execution.Blocked:
		wo.Status = contracts.WorkOrderBlocked
	case in.Execution.Attempted &&
		(in.Execution.Result == contracts.ExecutionSuccess || in.Execution.Result == contracts.ExecutionRolledBack):
		wo.Status = contracts.WorkOrderCompleted
	case worst == contracts.DecisionReviewRequired:
		wo.Status = contracts.WorkOrderPendingReview
	default:
		wo.Status = contracts.WorkOrderReadyForApply
	}

	if in.Plan != nil {
		wo.RiskLevel = in.Plan.RiskLevel
	}
	wo.Priority = priority(in, worst)
	wo.NextActions = b.nextActions(in, wo.Status)
	return wo
}

func scope(in Input) contracts.WorkOrderScope {
	s := contracts.WorkOrderScope{SessionID: in.SessionID}
	if in.Intent != nil {
		s.IntentID = in.Intent.IntentID
		s.BusinessGoal = in.Intent.BusinessGoal
		s.ContextRef = in.Intent.ContextRef
	}
	if in.Plan != nil {
		s.PlanID = in.Plan.PlanID
	}
	return s
}

func stages(in Input) []contracts.StageOutcome {
	var out []contracts.StageOutcome
	if in.Dialogue != nil {
		out = append(out, contracts.StageOutcome{
			Stage:    "dialogue-governance",
			Decision: string(in.Dialogue.Decision),
			Reasons:  in.Dialogue.Reasons,
		})
	}
	if in.Gate != nil {
		out = append(out, contracts.StageOutcome{
			Stage:    "plan-gate",
			Decision: string(in.Gate.Decision),
			Reasons:  in.Gate.Reasons,
		})
	}
	if in.Runtime != nil {
		out = append(out, contracts.StageOutcome{
			Stage:    "runtime-policy",
			Decision: string(in.Runtime.Decision),
			Reasons:  in.Runtime.Reasons,
		})
	}
	if in.Tier != nil {
		out = append(out, contracts.StageOutcome{
			Stage:    "authorization-tier",
			Decision: string(in.Tier.Decision),
			Reasons:  in.Tier.Reasons,
		})
	}
	return out
}

func worstDecision(in Input) contracts.Decision {
	decisions := []contracts.Decision{}
	if in.Dialogue != nil {
		switch in.Dialogue.Decision {
		case contracts.DialogueDeny:
			decisions = append(decisions, contracts.DecisionDeny)
		case contracts.DialogueClarify:
			decisions = append(decisions, contracts.DecisionReviewRequired)
		default:
			decisions = append(decisions, contracts.DecisionAllow)
		}
	}
	if in.Gate != nil {
		decisions = append(decisions, in.Gate.Decision)
	}
	if in.Runtime != nil {
		decisions = append(decisions, in.Runtime.Decision)
	}
	if in.Tier != nil {
		decisions = append(decisions, in.Tier.Decision)
	}
	return contracts.WorstDecision(decisions...)
}

// priority derives urgency from the stage decisions and the plan risk alone.
func priority(in Input, worst contracts.Decision) contracts.Priority {
	var risk contracts.RiskLevel
	if in.Plan != nil {
		risk = in.Plan.RiskLevel
	}
	switch {
	case worst == contracts.DecisionDeny || risk == contracts.RiskHigh:
		return contracts.PriorityHigh
	case worst == contracts.DecisionReviewRequired || risk == contracts.RiskMedium:
		return contracts.PriorityMedium
	default:
		return contracts.PriorityLow
	}
}

// nextActions lists what an operator should do, blockers first.
func (b *Builder) nextActions(in Input, status contracts.WorkOrderStatus) []string {
	var actions []string
	add := func(a string) {
		for _, existing := range actions {
			if existing == a {
				return
			}
		}
		actions = append(actions, a)
	}

	if in.Gate != nil {
		for _, id := range in.Gate.FailedDenyChecks {
			if id == "deny-action-types" {
				add("Refactor plan actions to remove catalog-denied action types")
			} else {
				add(fmt.Sprintf("Resolve denied gate check %s", id))
			}
		}
	}
	if in.Runtime != nil {
		for _, v := range in.Runtime.Violations {
			if v.Severity == contracts.SeverityDeny {
				add("Adjust the runtime posture: " + v.Message)
			}
		}
	}
	if in.Tier != nil {
		for _, v := range in.Tier.Violations {
			if v.Severity == contracts.SeverityDeny {
				add("Escalate authorization: " + v.Message)
			}
		}
	}
	if in.Dialogue != nil && in.Dialogue.Decision == contracts.DialogueDeny {
		add("Restate the business goal without the denied request")
	}
	if in.Execution.Attempted && in.Execution.Blocked {
		add("Review the adapter refusal in the execution ledger")
	}

	switch status {
	case contracts.WorkOrderPendingReview:
		if in.Approval == nil || in.Approval.Status == contracts.ApprovalDraft {
			add("Submit the plan for approval")
		} else if in.Approval.Status == contracts.ApprovalSubmitted {
			add("Obtain approval from a reviewer")
		}
		add("Address review findings before applying")
	case contracts.WorkOrderReadyForApply:
		if in.Plan != nil && in.Plan.Authorization.PasswordRequired {
			add("Verify the execution password to obtain a grant")
		}
		add("Run a dry-run apply and inspect the ledger record")
	case contracts.WorkOrderCompleted:
		add("Verify the execution results against the plan's verification checks")
	}
	if len(actions) == 0 {
		add("No action required")
	}
	return actions
}

// RenderMarkdown renders the ticket's human-readable companion.
func RenderMarkdown(wo *contracts.WorkOrder) string {
	var sb strings.Builder
	sb.WriteString("# Work Order\n\n")
	fmt.Fprintf(&sb, "- **ID:** %s · **Session:** %s\n", wo.WorkOrderID, wo.Scope.SessionID)
	fmt.Fprintf(&sb, "- **Status:** %s · **Priority:** %s · **Risk:** %s\n", wo.Status, wo.Priority, wo.RiskLevel)
	fmt.Fprintf(&sb, "- **Goal:** %s\n", wo.Scope.BusinessGoal)
	sb.WriteString("\n## Stages\n\n")
	for _, st := range wo.Stages {
		fmt.Fprintf(&sb, "- %s: %s\n", st.Stage, st.Decision)
	}
	if wo.Execution.Attempted {
		sb.WriteString("\n## Execution\n\n")
		fmt.Fprintf(&sb, "- Result: %s (%s)\n", wo.Execution.Result, wo.Execution.Mode)
		if wo.Execution.RollbackReference != "" {
			fmt.Fprintf(&sb, "- Rollback reference: %s\n", wo.Execution.RollbackReference)
		}
	}
	sb.WriteString("\n## Next Actions\n\n")
	for _, a := range wo.NextActions {
		fmt.Fprintf(&sb, "1. %s\n", a)
	}
	return sb.String()
}
