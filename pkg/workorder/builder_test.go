package workorder

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodian-labs/custodian/pkg/contracts"
)

func testClock() func() time.Time {
	fixed := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return fixed }
}

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%03d", n)
	}
}

func builder() *Builder {
	return NewBuilder().WithClock(testClock()).WithIDSource(seqIDs())
}

func allowInput() Input {
	return Input{
		SessionID: "sess-1",
		Intent: &contracts.ChangeIntent{
			IntentID:     "intent-1",
			BusinessGoal: "adjust the order form layout",
			Priority:     contracts.PriorityMedium,
			ContextRef:   contracts.ContextRef{Module: "orders", Page: "order-list"},
		},
		Plan: &contracts.ChangePlan{
			PlanID:    "plan-1",
			RiskLevel: contracts.RiskLow,
			Actions: []contracts.Action{
				{ActionID: "a1", Type: contracts.ActionUIFormFieldAdjust},
			},
		},
		Dialogue: &contracts.DialogueDecision{Decision: contracts.DialogueAllow, Reasons: []string{"goal passed dialogue screening"}},
		Gate:     &contracts.GateDecision{Decision: contracts.DecisionAllow},
		Runtime:  &contracts.RuntimeDecision{Decision: contracts.DecisionAllow},
		Tier:     &contracts.TierDecision{Decision: contracts.DecisionAllow},
	}
}

func TestReadyForApply(t *testing.T) {
	wo := builder().Build(allowInput())

	assert.Equal(t, contracts.WorkOrderReadyForApply, wo.Status)
	assert.Equal(t, contracts.PriorityLow, wo.Priority)
	assert.Equal(t, contracts.RiskLow, wo.RiskLevel)
	assert.Equal(t, "sess-1", wo.Scope.SessionID)
	assert.Equal(t, "plan-1", wo.Scope.PlanID)
	assert.Equal(t, "orders", wo.Scope.ContextRef.Module)
	require.Len(t, wo.Stages, 4)
	assert.Equal(t, "dialogue-governance", wo.Stages[0].Stage)
	assert.Contains(t, wo.NextActions, "Run a dry-run apply and inspect the ledger record")
}

func TestPasswordProtectedReadyForApply(t *testing.T) {
	in := allowInput()
	in.Plan.Authorization.PasswordRequired = true
	wo := builder().Build(in)

	require.GreaterOrEqual(t, len(wo.NextActions), 2)
	assert.Equal(t, "Verify the execution password to obtain a grant", wo.NextActions[0])
}

func TestCompletedAfterSuccessfulExecution(t *testing.T) {
	in := allowInput()
	in.Execution = contracts.ExecutionFacts{
		Attempted:   true,
		Result:      contracts.ExecutionSuccess,
		ExecutionID: "exec-001",
		Mode:        contracts.ApplyModeDryRun,
	}
	wo := builder().Build(in)

	assert.Equal(t, contracts.WorkOrderCompleted, wo.Status)
	assert.Equal(t, []string{"Verify the execution results against the plan's verification checks"}, wo.NextActions)
}

func TestBlockedExecutionBlocksTicket(t *testing.T) {
	in := allowInput()
	in.Execution = contracts.ExecutionFacts{Attempted: true, Blocked: true, Result: contracts.ExecutionSkipped}
	wo := builder().Build(in)

	assert.Equal(t, contracts.WorkOrderBlocked, wo.Status)
	assert.Equal(t, "Review the adapter refusal in the execution ledger", wo.NextActions[0])
}

func TestDeniedGateBlocksWithBlockerFirstActions(t *testing.T) {
	in := allowInput()
	in.Plan.RiskLevel = contracts.RiskHigh
	in.Gate = &contracts.GateDecision{
		Decision:         contracts.DecisionDeny,
		FailedDenyChecks: []string{"deny-action-types"},
		Reasons:          []string{"deny-action-types: plan carries an action type the catalog denies"},
	}
	wo := builder().Build(in)

	assert.Equal(t, contracts.WorkOrderBlocked, wo.Status)
	assert.Equal(t, contracts.PriorityHigh, wo.Priority, "high risk forces high priority")
	require.NotEmpty(t, wo.NextActions)
	assert.Equal(t, "Refactor plan actions to remove catalog-denied action types", wo.NextActions[0])
}

func TestOtherDeniedGateCheck(t *testing.T) {
	in := allowInput()
	in.Gate = &contracts.GateDecision{
		Decision:         contracts.DecisionDeny,
		FailedDenyChecks: []string{"sensitive-data-masking"},
	}
	wo := builder().Build(in)
	assert.Equal(t, "Resolve denied gate check sensitive-data-masking", wo.NextActions[0])
}

func TestDialogueDenyBlocks(t *testing.T) {
	in := Input{
		SessionID: "sess-1",
		Dialogue: &contracts.DialogueDecision{
			Decision: contracts.DialogueDeny,
			Reasons:  []string{"goal matches a denied request pattern"},
		},
	}
	wo := builder().Build(in)

	assert.Equal(t, contracts.WorkOrderBlocked, wo.Status)
	assert.Equal(t, []string{"Restate the business goal without the denied request"}, wo.NextActions)
	require.Len(t, wo.Stages, 1)
}

func TestClarifyPendsReview(t *testing.T) {
	in := Input{
		SessionID: "sess-1",
		Dialogue:  &contracts.DialogueDecision{Decision: contracts.DialogueClarify},
	}
	wo := builder().Build(in)

	assert.Equal(t, contracts.WorkOrderPendingReview, wo.Status)
	assert.Contains(t, wo.NextActions, "Submit the plan for approval")
	assert.Contains(t, wo.NextActions, "Address review findings before applying")
}

func TestReviewRequiredWithSubmittedApproval(t *testing.T) {
	in := allowInput()
	in.Runtime = &contracts.RuntimeDecision{
		Decision: contracts.DecisionReviewRequired,
		Violations: []contracts.Violation{
			{Code: "manual-review-required-for-apply", Severity: contracts.SeverityReview, Message: "environment requires manual review"},
		},
	}
	in.Approval = &contracts.ApprovalState{Status: contracts.ApprovalSubmitted}
	wo := builder().Build(in)

	assert.Equal(t, contracts.WorkOrderPendingReview, wo.Status)
	assert.Equal(t, "Obtain approval from a reviewer", wo.NextActions[0])
}

func TestRuntimeAndTierDenyActions(t *testing.T) {
	in := allowInput()
	in.Runtime = &contracts.RuntimeDecision{
		Decision: contracts.DecisionDeny,
		Violations: []contracts.Violation{
			{Code: "mutating-apply-not-allowed", Severity: contracts.SeverityDeny, Message: "runtime mode forbids mutating apply"},
		},
	}
	in.Tier = &contracts.TierDecision{
		Decision: contracts.DecisionDeny,
		Violations: []contracts.Violation{
			{Code: "execution-mode-not-allowed-for-profile", Severity: contracts.SeverityDeny, Message: "profile may not apply"},
		},
	}
	wo := builder().Build(in)

	assert.Equal(t, contracts.WorkOrderBlocked, wo.Status)
	assert.Equal(t, "Adjust the runtime posture: runtime mode forbids mutating apply", wo.NextActions[0])
	assert.Equal(t, "Escalate authorization: profile may not apply", wo.NextActions[1])
}

func TestEmptyInputDefaults(t *testing.T) {
	wo := builder().Build(Input{SessionID: "sess-1"})

	assert.Equal(t, contracts.WorkOrderReadyForApply, wo.Status)
	assert.Equal(t, contracts.PriorityLow, wo.Priority)
	assert.Contains(t, wo.NextActions, "Run a dry-run apply and inspect the ledger record")
}

func TestPriorityFromDecisionsAndRisk(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(in *Input)
		priority contracts.Priority
	}{
		{"all allow low risk", func(in *Input) {}, contracts.PriorityLow},
		{"medium risk", func(in *Input) { in.Plan.RiskLevel = contracts.RiskMedium }, contracts.PriorityMedium},
		{"review-required stage", func(in *Input) {
			in.Runtime = &contracts.RuntimeDecision{Decision: contracts.DecisionReviewRequired}
		}, contracts.PriorityMedium},
		{"denied stage", func(in *Input) {
			in.Gate = &contracts.GateDecision{Decision: contracts.DecisionDeny}
		}, contracts.PriorityHigh},
		{"high risk", func(in *Input) { in.Plan.RiskLevel = contracts.RiskHigh }, contracts.PriorityHigh},
		{"urgent intent does not raise priority", func(in *Input) {
			in.Intent.Priority = contracts.PriorityHigh
		}, contracts.PriorityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := allowInput()
			tt.mutate(&in)
			assert.Equal(t, tt.priority, builder().Build(in).Priority)
		})
	}
}

func TestRenderMarkdown(t *testing.T) {
	in := allowInput()
	in.Execution = contracts.ExecutionFacts{
		Attempted: true, Result: contracts.ExecutionSuccess,
		Mode: contracts.ApplyModeLiveApply, RollbackReference: "previous-config-snapshot",
	}
	wo := builder().Build(in)

	md := RenderMarkdown(wo)
	assert.Contains(t, md, "# Work Order")
	assert.Contains(t, md, wo.WorkOrderID)
	assert.Contains(t, md, "completed")
	assert.Contains(t, md, "Rollback reference: previous-config-snapshot")
}
