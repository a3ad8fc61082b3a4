package authztier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodian-labs/custodian/pkg/contracts"
	"github.com/custodian-labs/custodian/pkg/policy"
)

func testClock() func() time.Time {
	fixed := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return fixed }
}

func evaluator(t *testing.T) *Evaluator {
	t.Helper()
	p, err := policy.Load("")
	require.NoError(t, err)
	return New(p).WithClock(testClock())
}

func codes(d *contracts.TierDecision) []string {
	out := make([]string, 0, len(d.Violations))
	for _, v := range d.Violations {
		out = append(out, v.Code)
	}
	return out
}

func TestUnknownProfileAndEnvironment(t *testing.T) {
	e := evaluator(t)

	_, err := e.Evaluate(Input{Profile: "auditor", Environment: "staging", ExecutionMode: contracts.ExecutionModeSuggestion})
	require.ErrorIs(t, err, contracts.ErrProfileNotFound)

	_, err = e.Evaluate(Input{Profile: "business-user", Environment: "moon", ExecutionMode: contracts.ExecutionModeSuggestion})
	require.ErrorIs(t, err, contracts.ErrEnvironmentNotDefined)
}

func TestBusinessUserMayNotApply(t *testing.T) {
	d, err := evaluator(t).Evaluate(Input{
		Profile: "business-user", Environment: "dev",
		ExecutionMode: contracts.ExecutionModeApply, RuntimeMode: "ops-fix",
	})
	require.NoError(t, err)

	assert.Equal(t, contracts.DecisionDeny, d.Decision)
	assert.Contains(t, codes(d), CodeExecutionModeNotAllowed)
	assert.False(t, d.Requirements.ApplyAllowed)
}

func TestBusinessUserSuggestionAllowed(t *testing.T) {
	d, err := evaluator(t).Evaluate(Input{
		Profile: "business-user", Environment: "prod",
		ExecutionMode: contracts.ExecutionModeSuggestion, RuntimeMode: "user-assist",
	})
	require.NoError(t, err)

	assert.Equal(t, contracts.DecisionAllow, d.Decision)
	assert.Equal(t, []string{"profile is authorized for the requested posture"}, d.Reasons)
}

func TestBusinessUserMayNotAutoExecuteOrLiveApply(t *testing.T) {
	d, err := evaluator(t).Evaluate(Input{
		Profile: "business-user", Environment: "dev",
		ExecutionMode: contracts.ExecutionModeSuggestion, RuntimeMode: "user-assist",
		AutoExecuteLowRisk: true, LiveApply: true,
	})
	require.NoError(t, err)

	assert.Equal(t, contracts.DecisionDeny, d.Decision)
	assert.Contains(t, codes(d), CodeAutoExecuteNotAllowed)
	assert.Contains(t, codes(d), CodeLiveApplyNotAllowed)
	assert.False(t, d.Requirements.AutoExecuteAllowed)
}

func TestSystemMaintainerStagingApply(t *testing.T) {
	d, err := evaluator(t).Evaluate(Input{
		Profile: "system-maintainer", Environment: "staging",
		ExecutionMode: contracts.ExecutionModeApply, RuntimeMode: "ops-fix",
		AutoExecuteLowRisk: true,
	})
	require.NoError(t, err)

	assert.Equal(t, contracts.DecisionAllow, d.Decision)
	assert.True(t, d.Requirements.ApplyAllowed)
	assert.True(t, d.Requirements.AutoExecuteAllowed)
	assert.True(t, d.Requirements.LiveApplyAllowed)
	assert.True(t, d.Requirements.RequirePasswordForApply)
	assert.False(t, d.Requirements.RequireDistinctActorRoles)
}

func TestProdApplyObligations(t *testing.T) {
	d, err := evaluator(t).Evaluate(Input{
		Profile: "system-maintainer", Environment: "prod",
		ExecutionMode: contracts.ExecutionModeApply, RuntimeMode: "ops-fix",
	})
	require.NoError(t, err)

	assert.Equal(t, contracts.DecisionReviewRequired, d.Decision)
	assert.Contains(t, codes(d), CodeManualReviewForApply)
	assert.Contains(t, codes(d), CodeSecondaryAuthorization)
	assert.True(t, d.Requirements.RequireSecondaryAuthorization)
	assert.True(t, d.Requirements.RequireRolePolicy)
	assert.True(t, d.Requirements.RequireDistinctActorRoles)
	assert.True(t, d.Requirements.ManualReviewRequiredForApply)
}

func TestProdObligationsSkippedForSuggestion(t *testing.T) {
	d, err := evaluator(t).Evaluate(Input{
		Profile: "system-maintainer", Environment: "prod",
		ExecutionMode: contracts.ExecutionModeSuggestion, RuntimeMode: "user-assist",
	})
	require.NoError(t, err)
	assert.Equal(t, contracts.DecisionAllow, d.Decision)
	assert.Empty(t, d.Violations)
}

func TestContextEchoesRequest(t *testing.T) {
	d, err := evaluator(t).Evaluate(Input{
		Profile: "system-maintainer", Environment: "staging",
		ExecutionMode: contracts.ExecutionModeApply, RuntimeMode: "ops-fix",
		LiveApply: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "system-maintainer", d.Context.DialogueProfile)
	assert.Equal(t, "staging", d.Context.RuntimeEnvironment)
	assert.Equal(t, "ops-fix", d.Context.RuntimeMode)
	assert.Equal(t, contracts.ExecutionModeApply, d.Context.ExecutionMode)
	assert.True(t, d.Context.LiveApply)
}
