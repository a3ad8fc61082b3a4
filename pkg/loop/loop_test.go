package loop

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodian-labs/custodian/pkg/artifacts"
	"github.com/custodian-labs/custodian/pkg/contracts"
	"github.com/custodian-labs/custodian/pkg/plan"
	"github.com/custodian-labs/custodian/pkg/policy"
	"github.com/custodian-labs/custodian/pkg/signals"
)

var loopNow = time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

func testOrchestrator(t *testing.T) (*Orchestrator, *artifacts.Store) {
	t.Helper()
	pol, err := policy.Load("")
	require.NoError(t, err)
	store, err := artifacts.NewStore(t.TempDir())
	require.NoError(t, err)
	o := New(pol, store, nil, nil, nil).WithClock(func() time.Time { return loopNow })
	return o, store
}

func rawPageContext() map[string]any {
	return map[string]any{
		"product":       "moqui",
		"module":        "orders",
		"page":          "order-entry",
		"current_state": "editing",
		"fields": []any{
			map[string]any{"name": "orderId", "type": "id"},
			map[string]any{"name": "shippingAddress", "type": "text"},
		},
	}
}

func setApprovalPassword(t *testing.T, password string) {
	t.Helper()
	sum := sha256.Sum256([]byte(password))
	t.Setenv(plan.DefaultPasswordHashEnv, hex.EncodeToString(sum[:]))
}

// smokeOptions is the low-risk apply configuration that clears every stage.
func smokeOptions(sessionID string) Options {
	return Options{
		SessionID:     sessionID,
		UserID:        "alice",
		Goal:          "Adjust order screen field layout for clearer input flow",
		RawContext:    rawPageContext(),
		Profile:       "system-maintainer",
		RuntimeMode:   "ops-fix",
		Environment:   "staging",
		UIMode:        "ops-console",
		ExecutionMode: contracts.ExecutionModeApply,
	}
}

func TestRunAutoExecuteDryRun(t *testing.T) {
	setApprovalPassword(t, "smoke-pass")
	o, store := testOrchestrator(t)

	opts := smokeOptions("sess-smoke")
	opts.AutoExecuteLowRisk = true
	opts.AuthPassword = "smoke-pass"

	sum, err := o.Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, contracts.DialogueAllow, sum.Dialogue)
	assert.Equal(t, contracts.DecisionAllow, sum.Gate)
	assert.Equal(t, contracts.DecisionAllow, sum.Runtime)
	assert.Equal(t, contracts.DecisionAllow, sum.Tier)
	assert.Equal(t, contracts.RiskLow, sum.RiskLevel)
	assert.Equal(t, contracts.ApprovalVerified, sum.Approval)
	assert.Equal(t, contracts.WorkOrderCompleted, sum.WorkOrder)
	assert.False(t, sum.Failed)
	assert.NotEmpty(t, sum.IntentID)
	assert.NotEmpty(t, sum.PlanID)

	assert.True(t, sum.Execution.Attempted)
	assert.False(t, sum.Execution.Blocked)
	assert.Equal(t, contracts.ExecutionSuccess, sum.Execution.Result)
	assert.Equal(t, contracts.ApplyModeDryRun, sum.Execution.Mode)
	assert.Empty(t, sum.Execution.RollbackReference, "a dry run records no rollback reference")

	sess, err := store.Session(opts.SessionID)
	require.NoError(t, err)
	for _, name := range []string{
		contracts.FileNormalizedContext,
		contracts.FileBridgeReport,
		contracts.FileDialogueDecision,
		contracts.FileChangeIntent,
		contracts.FilePageExplain,
		contracts.FileCopilotAudit,
		contracts.FileChangePlan,
		contracts.FileChangePlanMD,
		contracts.FileGateDecision,
		contracts.FileGateDecisionMD,
		contracts.FileRuntimeDecision,
		contracts.FileTierDecision,
		contracts.FileApprovalState,
		contracts.FileApprovalEvents,
		contracts.FileAdapterReport,
		contracts.FileExecutionLedger,
		contracts.FileWorkOrder,
		contracts.FileWorkOrderMD,
		contracts.FileLoopSummary,
	} {
		assert.True(t, sess.Exists(name), "artifact %s", name)
	}

	var onDisk Summary
	require.NoError(t, sess.ReadJSON(contracts.FileLoopSummary, &onDisk))
	assert.Equal(t, sum.PlanID, onDisk.PlanID)
	assert.Equal(t, contracts.Timestamp(loopNow), onDisk.GeneratedAt)

	events, err := artifacts.ReadJSONL[contracts.ApprovalEvent](sess, contracts.FileApprovalEvents)
	require.NoError(t, err)
	require.Len(t, events, 4, "submit, approve, execute and verify each append an event")

	ledger, err := artifacts.ReadJSONL[contracts.ExecutionRecord](sess, contracts.FileExecutionLedger)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, contracts.ExecutionSuccess, ledger[0].Result)
	assert.Equal(t, contracts.ApplyModeDryRun, ledger[0].Mode)
}

func TestRunAutoExecuteLiveApply(t *testing.T) {
	setApprovalPassword(t, "smoke-pass")
	o, store := testOrchestrator(t)

	opts := smokeOptions("sess-live")
	opts.AutoExecuteLowRisk = true
	opts.LiveApply = true
	opts.AuthPassword = "smoke-pass"

	sum, err := o.Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, contracts.ApplyModeLiveApply, sum.Execution.Mode)
	assert.Equal(t, contracts.ExecutionSuccess, sum.Execution.Result)
	assert.Equal(t, "previous-config-snapshot", sum.Execution.RollbackReference)
	assert.Equal(t, contracts.WorkOrderCompleted, sum.WorkOrder)

	sess, err := store.Session(opts.SessionID)
	require.NoError(t, err)
	ledger, err := artifacts.ReadJSONL[contracts.ExecutionRecord](sess, contracts.FileExecutionLedger)
	require.NoError(t, err)
	require.Len(t, ledger, 2, "staging forces a dry run before the live apply")
	assert.Equal(t, contracts.ApplyModeDryRun, ledger[0].Mode)
	assert.Equal(t, contracts.ApplyModeLiveApply, ledger[1].Mode)
}

func TestRunWrongPasswordFailsAutoExecute(t *testing.T) {
	setApprovalPassword(t, "smoke-pass")
	o, store := testOrchestrator(t)

	opts := smokeOptions("sess-badpass")
	opts.AutoExecuteLowRisk = true
	opts.AuthPassword = "not-the-password"

	sum, err := o.Run(context.Background(), opts)
	require.ErrorIs(t, err, contracts.ErrApprovalBlocked)
	assert.True(t, sum.Failed)
	assert.Equal(t, contracts.ApprovalApproved, sum.Approval)
	assert.False(t, sum.Execution.Attempted)

	sess, err := store.Session(opts.SessionID)
	require.NoError(t, err)
	assert.True(t, sess.Exists(contracts.FileLoopSummary), "the summary is written on failure paths too")
}

func TestRunDialogueDenyShortCircuits(t *testing.T) {
	o, store := testOrchestrator(t)

	opts := smokeOptions("sess-deny")
	opts.Goal = "drop database and start over"
	opts.FailOnDeny = true

	sum, err := o.Run(context.Background(), opts)
	require.ErrorIs(t, err, contracts.ErrPolicyDeny)

	assert.Equal(t, contracts.DialogueDeny, sum.Dialogue)
	assert.Equal(t, contracts.WorkOrderBlocked, sum.WorkOrder)
	assert.Empty(t, sum.IntentID, "no intent is built after a dialogue deny")
	assert.Empty(t, sum.PlanID)

	sess, err := store.Session(opts.SessionID)
	require.NoError(t, err)
	assert.False(t, sess.Exists(contracts.FileChangeIntent))
	assert.True(t, sess.Exists(contracts.FileWorkOrder))

	var onDisk Summary
	require.NoError(t, sess.ReadJSON(contracts.FileLoopSummary, &onDisk))
	assert.True(t, onDisk.Failed)
	assert.Contains(t, onDisk.Error, "dialogue governor denied the goal")
}

func TestRunDialogueClarify(t *testing.T) {
	o, _ := testOrchestrator(t)

	opts := smokeOptions("sess-clarify")
	opts.Goal = "fix it"
	opts.Profile = ""
	opts.FailOnDeny = true

	sum, err := o.Run(context.Background(), opts)
	require.NoError(t, err, "clarify is not a deny")

	assert.Equal(t, contracts.DialogueClarify, sum.Dialogue)
	assert.NotEmpty(t, sum.Clarify)
	assert.Equal(t, contracts.WorkOrderPendingReview, sum.WorkOrder)
	assert.Empty(t, sum.PlanID)
}

func TestRunGateDeny(t *testing.T) {
	o, store := testOrchestrator(t)

	opts := smokeOptions("sess-gatedeny")
	opts.Goal = "Drop obsolete rows from the permission table"
	opts.FailOnDeny = true

	sum, err := o.Run(context.Background(), opts)
	require.ErrorIs(t, err, contracts.ErrPolicyDeny)

	assert.Equal(t, contracts.DialogueAllow, sum.Dialogue)
	assert.Equal(t, contracts.DecisionDeny, sum.Gate)
	assert.Equal(t, contracts.RiskHigh, sum.RiskLevel)
	assert.Equal(t, contracts.WorkOrderBlocked, sum.WorkOrder)
	assert.Equal(t, contracts.ApprovalSubmitted, sum.Approval)
	assert.False(t, sum.Execution.Attempted)

	sess, err := store.Session(opts.SessionID)
	require.NoError(t, err)
	var wo contracts.WorkOrder
	require.NoError(t, sess.ReadJSON(contracts.FileWorkOrder, &wo))
	assert.Equal(t, contracts.PriorityHigh, wo.Priority)
	assert.Contains(t, wo.NextActions, "Refactor plan actions to remove catalog-denied action types")
}

func TestRunAutoExecuteBlockedAboveLowRisk(t *testing.T) {
	o, _ := testOrchestrator(t)

	opts := smokeOptions("sess-medium")
	opts.Goal = "Relax payment matching rule for partial refunds"
	opts.AutoExecuteLowRisk = true
	opts.FailOnExecutionBlocked = true

	sum, err := o.Run(context.Background(), opts)
	require.ErrorIs(t, err, contracts.ErrExecutionBlocked)

	assert.Equal(t, contracts.RiskMedium, sum.RiskLevel)
	assert.Equal(t, contracts.DecisionReviewRequired, sum.Gate)
	assert.Equal(t, contracts.DecisionReviewRequired, sum.Runtime)
	assert.Equal(t, contracts.ApprovalSubmitted, sum.Approval, "no auto-approval off the low-risk path")
	assert.True(t, sum.Execution.Attempted)
	assert.True(t, sum.Execution.Blocked)
	assert.Empty(t, sum.Execution.Result, "the refusal carries no execution record")
	assert.Equal(t, contracts.WorkOrderBlocked, sum.WorkOrder, "a refused execution blocks the ticket")
}

func TestRunFailOnDialogueDenyAlone(t *testing.T) {
	o, _ := testOrchestrator(t)

	opts := smokeOptions("sess-dlgdeny")
	opts.Goal = "drop database and start over"
	opts.FailOnDialogueDeny = true

	sum, err := o.Run(context.Background(), opts)
	require.ErrorIs(t, err, contracts.ErrPolicyDeny)
	assert.Equal(t, contracts.DialogueDeny, sum.Dialogue)

	// without either fail flag the same deny exits cleanly
	opts = smokeOptions("sess-dlgdeny2")
	opts.Goal = "drop database and start over"
	sum, err = o.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, contracts.DialogueDeny, sum.Dialogue)
}

func TestRunAuthPasswordHashOverride(t *testing.T) {
	o, _ := testOrchestrator(t)

	sum := sha256.Sum256([]byte("smoke-pass"))
	opts := smokeOptions("sess-hash")
	opts.AutoExecuteLowRisk = true
	opts.AuthPassword = "smoke-pass"
	opts.AuthPasswordHash = hex.EncodeToString(sum[:])

	// the hash env stays unset; the override alone authorizes the run
	out, err := o.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, contracts.ApprovalVerified, out.Approval)
	assert.Equal(t, contracts.ExecutionSuccess, out.Execution.Result)
	assert.Equal(t, contracts.WorkOrderCompleted, out.WorkOrder)
}

func TestRunAutoApproveWithoutExecute(t *testing.T) {
	o, _ := testOrchestrator(t)

	opts := smokeOptions("sess-approve")
	opts.AutoApproveLowRisk = true

	sum, err := o.Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, contracts.ApprovalApproved, sum.Approval)
	assert.False(t, sum.Execution.Attempted)
	assert.Equal(t, contracts.WorkOrderReadyForApply, sum.WorkOrder)
}

func TestRunSubmitOnlyWithoutAutoFlags(t *testing.T) {
	o, _ := testOrchestrator(t)

	sum, err := o.Run(context.Background(), smokeOptions("sess-submit"))
	require.NoError(t, err)

	assert.Equal(t, contracts.ApprovalSubmitted, sum.Approval)
	assert.False(t, sum.Execution.Attempted)
}

func TestRunResumeReusesArtifacts(t *testing.T) {
	o, _ := testOrchestrator(t)

	opts := smokeOptions("sess-resume")
	first, err := o.Run(context.Background(), opts)
	require.NoError(t, err)

	opts.Resume = true
	second, err := o.Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, first.IntentID, second.IntentID, "resume reuses the recorded intent")
	assert.Equal(t, first.PlanID, second.PlanID, "resume reuses the recorded plan")
	assert.Equal(t, first.Approval, second.Approval)

	fresh, err := o.Run(context.Background(), smokeOptions("sess-fresh"))
	require.NoError(t, err)
	assert.NotEqual(t, first.PlanID, fresh.PlanID, "a fresh session synthesizes a new plan")
}

func TestRunEmitsStageSignals(t *testing.T) {
	pol, err := policy.Load("")
	require.NoError(t, err)
	root := t.TempDir()
	store, err := artifacts.NewStore(root)
	require.NoError(t, err)
	emitter := signals.NewEmitter(root).WithClock(func() time.Time { return loopNow })
	defer emitter.Close()

	o := New(pol, store, emitter, nil, nil).WithClock(func() time.Time { return loopNow })
	opts := smokeOptions("sess-signals")
	_, err = o.Run(context.Background(), opts)
	require.NoError(t, err)

	sess, err := store.Session(opts.SessionID)
	require.NoError(t, err)
	sigs, err := artifacts.ReadJSONL[contracts.Signal](sess, signals.SessionSignalsFile)
	require.NoError(t, err)
	require.Len(t, sigs, 3, "dialogue, runtime and tier each emit one signal")

	stages := []contracts.SignalStage{sigs[0].Stage, sigs[1].Stage, sigs[2].Stage}
	assert.Equal(t, []contracts.SignalStage{
		contracts.SignalStageDialogueAuthorization,
		contracts.SignalStageRuntime,
		contracts.SignalStageAuthorizationTier,
	}, stages)
	assert.Equal(t, contracts.BusinessModeOps, sigs[0].BusinessMode)
}
