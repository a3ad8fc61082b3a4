package plan

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

func synthesize(goal string, pc *contracts.PageContext, mode contracts.ExecutionMode) *contracts.ChangePlan {
	it := &contracts.ChangeIntent{IntentID: "intent-1", BusinessGoal: goal}
	return NewSynthesizer().WithClock(testClock()).WithIDSource(seqIDs()).Synthesize(it, pc, mode)
}

func orderContext() *contracts.PageContext {
	return &contracts.PageContext{Product: "moqui", Module: "orders", Page: "order-list"}
}

func actionTypes(p *contracts.ChangePlan) []contracts.ActionType {
	out := make([]contracts.ActionType, 0, len(p.Actions))
	for _, a := range p.Actions {
		out = append(out, a.Type)
	}
	return out
}

func TestActionInference(t *testing.T) {
	tests := []struct {
		goal string
		want []contracts.ActionType
		risk contracts.RiskLevel
	}{
		{
			goal: "Adjust order screen field layout for clearer input flow",
			want: []contracts.ActionType{contracts.ActionUIFormFieldAdjust},
			risk: contracts.RiskLow,
		},
		{
			goal: "drop permission table",
			want: []contracts.ActionType{contracts.ActionBulkDeleteWithoutFilter},
			risk: contracts.RiskHigh,
		},
		{
			goal: "export all credentials to a spreadsheet",
			want: []contracts.ActionType{contracts.ActionCredentialExport},
			risk: contracts.RiskHigh,
		},
		{
			goal: "grant privileges to the warehouse group",
			want: []contracts.ActionType{contracts.ActionPermissionGrantSuperAdmin},
			risk: contracts.RiskHigh,
		},
		{
			goal: "add a second approver to the approval chain",
			want: []contracts.ActionType{contracts.ActionWorkflowApprovalChainChange},
			risk: contracts.RiskMedium,
		},
		{
			goal: "raise the refund payment cap",
			want: []contracts.ActionType{contracts.ActionPaymentRuleChange},
			risk: contracts.RiskMedium,
		},
		{
			goal: "run a bulk inventory recount",
			want: []contracts.ActionType{contracts.ActionInventoryAdjustmentBulk},
			risk: contracts.RiskMedium,
		},
		{
			goal: "raise the discount threshold to 15 percent",
			want: []contracts.ActionType{contracts.ActionUpdateRuleThreshold},
			risk: contracts.RiskLow,
		},
		{
			goal: "summarize what this does",
			want: []contracts.ActionType{contracts.ActionAnalysisOnly},
			risk: contracts.RiskLow,
		},
	}

	for _, tt := range tests {
		pc := &contracts.PageContext{Product: "moqui"}
		p := synthesize(tt.goal, pc, contracts.ExecutionModeSuggestion)
		assert.Equal(t, tt.want, actionTypes(p), "goal %q", tt.goal)
		assert.Equal(t, tt.risk, p.RiskLevel, "goal %q", tt.goal)
	}
}

func TestContextContributesToInference(t *testing.T) {
	pc := orderContext() // page "order-list" carries no action keyword
	p := synthesize("make the entry flow clearer", &contracts.PageContext{
		Product: "moqui", Module: "orders", Page: "order-entry-form",
	}, contracts.ExecutionModeSuggestion)
	assert.Contains(t, actionTypes(p), contracts.ActionUIFormFieldAdjust,
		"the page name supplies the form keyword")
	_ = pc
}

func TestRiskNeverBelowActionMinimum(t *testing.T) {
	p := synthesize("export credentials", orderContext(), contracts.ExecutionModeSuggestion)
	assert.Equal(t, contracts.RiskHigh, p.RiskLevel)

	p = synthesize("tune the payment settlement rule wording", orderContext(), contracts.ExecutionModeSuggestion)
	assert.Equal(t, contracts.RiskMedium, p.RiskLevel)
}

func TestRollbackPlan(t *testing.T) {
	reversible := synthesize("adjust the form layout", orderContext(), contracts.ExecutionModeSuggestion)
	assert.Equal(t, "config-revert", reversible.RollbackPlan.Type)
	assert.Equal(t, "previous-config-snapshot", reversible.RollbackPlan.Reference)
	assert.Empty(t, reversible.Security.BackupReference)

	irreversible := synthesize("purge everything from the archive table", orderContext(), contracts.ExecutionModeSuggestion)
	require.Equal(t, "backup-restore", irreversible.RollbackPlan.Type)
	assert.Equal(t, "backup-"+irreversible.PlanID, irreversible.RollbackPlan.Reference)
	assert.Equal(t, "backup-"+irreversible.PlanID, irreversible.Security.BackupReference)
}

func TestApprovalPosture(t *testing.T) {
	low := synthesize("adjust the form layout", orderContext(), contracts.ExecutionModeApply)
	assert.Equal(t, contracts.PlanApprovalNotRequired, low.Approval.Status)

	mediumSuggest := synthesize("raise the refund payment cap", orderContext(), contracts.ExecutionModeSuggestion)
	assert.Equal(t, contracts.PlanApprovalNotRequired, mediumSuggest.Approval.Status,
		"medium risk in suggestion mode needs no approval")

	mediumApply := synthesize("raise the refund payment cap", orderContext(), contracts.ExecutionModeApply)
	assert.Equal(t, contracts.PlanApprovalPending, mediumApply.Approval.Status)

	high := synthesize("drop permission table", orderContext(), contracts.ExecutionModeSuggestion)
	assert.Equal(t, contracts.PlanApprovalPending, high.Approval.Status)

	privilege := synthesize("add an approver to the approval chain", orderContext(), contracts.ExecutionModeSuggestion)
	assert.Equal(t, contracts.PlanApprovalPending, privilege.Approval.Status,
		"privilege escalation always requires approval")
}

func TestAuthorizationBlock(t *testing.T) {
	apply := synthesize("adjust the form layout", orderContext(), contracts.ExecutionModeApply)
	assert.True(t, apply.Authorization.PasswordRequired)
	assert.Equal(t, []string{"execute"}, apply.Authorization.PasswordScope)
	assert.Equal(t, DefaultPasswordHashEnv, apply.Authorization.PasswordHashEnv)
	assert.Equal(t, DefaultPasswordTTLSeconds, apply.Authorization.PasswordTTLSeconds)
	assert.Contains(t, apply.Authorization.ReasonCodes, "mutating-action-apply-mode")

	suggest := synthesize("adjust the form layout", orderContext(), contracts.ExecutionModeSuggestion)
	assert.False(t, suggest.Authorization.PasswordRequired)
	assert.Empty(t, suggest.Authorization.PasswordScope)

	analysis := synthesize("summarize what this does", &contracts.PageContext{Product: "moqui"}, contracts.ExecutionModeApply)
	assert.False(t, analysis.Authorization.PasswordRequired,
		"analysis-only plans carry no mutating action")

	high := synthesize("drop permission table", orderContext(), contracts.ExecutionModeApply)
	assert.Contains(t, high.Authorization.ReasonCodes, "high-risk-plan")

	priv := synthesize("add an approver to the approval chain", orderContext(), contracts.ExecutionModeSuggestion)
	assert.Contains(t, priv.Authorization.ReasonCodes, "privilege-escalation-detected")
}

func TestMaskingFollowsSensitiveActions(t *testing.T) {
	sensitive := synthesize("raise the refund payment cap", orderContext(), contracts.ExecutionModeSuggestion)
	assert.True(t, sensitive.Security.MaskingApplied)

	plain := synthesize("adjust the form layout", orderContext(), contracts.ExecutionModeSuggestion)
	assert.False(t, plain.Security.MaskingApplied)
}

func TestVerificationChecks(t *testing.T) {
	p := synthesize("adjust the form layout", orderContext(), contracts.ExecutionModeSuggestion)
	require.NotEmpty(t, p.VerificationChecks)
	assert.Equal(t, "intent-to-plan consistency review", p.VerificationChecks[len(p.VerificationChecks)-1])
}

func TestSynthesizeIsDeterministic(t *testing.T) {
	a := synthesize("adjust the form layout", orderContext(), contracts.ExecutionModeApply)
	b := synthesize("adjust the form layout", orderContext(), contracts.ExecutionModeApply)
	assert.Equal(t, a, b, "fixed clock and id source reproduce the plan byte for byte")
}

func TestRenderMarkdown(t *testing.T) {
	p := synthesize("drop permission table", orderContext(), contracts.ExecutionModeSuggestion)
	md := RenderMarkdown(p)
	assert.Contains(t, md, "# Change Plan")
	assert.Contains(t, md, p.PlanID)
	assert.Contains(t, md, "bulk_delete_without_filter")
	assert.Contains(t, md, "irreversible")
}
