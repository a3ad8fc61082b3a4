package contracts

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecisionRank(t *testing.T) {
	assert.Less(t, DecisionAllow.Rank(), DecisionReviewRequired.Rank())
	assert.Less(t, DecisionReviewRequired.Rank(), DecisionDeny.Rank())
	assert.Equal(t, DecisionDeny.Rank(), Decision("bogus").Rank(), "unknown decisions fail closed")
}

func TestWorstDecision(t *testing.T) {
	tests := []struct {
		in   []Decision
		want Decision
	}{
		{nil, DecisionAllow},
		{[]Decision{DecisionAllow}, DecisionAllow},
		{[]Decision{DecisionAllow, DecisionReviewRequired}, DecisionReviewRequired},
		{[]Decision{DecisionReviewRequired, DecisionDeny, DecisionAllow}, DecisionDeny},
		{[]Decision{DecisionAllow, Decision("mystery")}, Decision("mystery")},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, WorstDecision(tt.in...), "input %v", tt.in)
	}
}

func TestWorstDecisionNeverUpgradesDeny(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	genDecision := gen.OneConstOf(DecisionAllow, DecisionReviewRequired, DecisionDeny)
	properties.Property("deny is absorbing", prop.ForAll(
		func(ds []Decision) bool {
			withDeny := append(append([]Decision{}, ds...), DecisionDeny)
			return WorstDecision(withDeny...) == DecisionDeny
		},
		gen.SliceOf(genDecision),
	))
	properties.Property("result rank is the max input rank", prop.ForAll(
		func(ds []Decision) bool {
			worst := WorstDecision(ds...)
			for _, d := range ds {
				if d.Rank() > worst.Rank() {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genDecision),
	))
	properties.TestingRun(t)
}

func TestNormalizeRiskLevel(t *testing.T) {
	assert.Equal(t, RiskLow, NormalizeRiskLevel("low"))
	assert.Equal(t, RiskMedium, NormalizeRiskLevel("medium"))
	assert.Equal(t, RiskHigh, NormalizeRiskLevel("high"))
	assert.Equal(t, RiskHigh, NormalizeRiskLevel("critical"))
	assert.Equal(t, RiskHigh, NormalizeRiskLevel("severe"))
	assert.Equal(t, RiskHigh, NormalizeRiskLevel(""))
}

func TestMaxRisk(t *testing.T) {
	assert.Equal(t, RiskMedium, MaxRisk(RiskLow, RiskMedium))
	assert.Equal(t, RiskHigh, MaxRisk(RiskHigh, RiskLow))
	assert.Equal(t, RiskLow, MaxRisk(RiskLow, RiskLow))
}

func TestCanTransition(t *testing.T) {
	allowed := map[ApprovalStatus][]ApprovalStatus{
		ApprovalDraft:     {ApprovalSubmitted},
		ApprovalSubmitted: {ApprovalApproved, ApprovalRejected},
		ApprovalApproved:  {ApprovalExecuted},
		ApprovalRejected:  {ApprovalDraft},
		ApprovalExecuted:  {ApprovalVerified},
		ApprovalVerified:  {ApprovalArchived},
		ApprovalArchived:  {},
	}
	all := []ApprovalStatus{
		ApprovalDraft, ApprovalSubmitted, ApprovalApproved, ApprovalRejected,
		ApprovalExecuted, ApprovalVerified, ApprovalArchived,
	}
	for from, tos := range allowed {
		permitted := map[ApprovalStatus]bool{}
		for _, to := range tos {
			permitted[to] = true
		}
		for _, to := range all {
			assert.Equal(t, permitted[to], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.False(t, CanTransition(ApprovalStatus("ghost"), ApprovalSubmitted))
}

func TestExitCode(t *testing.T) {
	require.Equal(t, 0, ExitCode(nil))

	tests := []struct {
		err  error
		want int
	}{
		{ErrConfig, 1},
		{ErrContractViolation, 1},
		{ErrProfileNotFound, 1},
		{ErrModeNotDefined, 1},
		{ErrEnvironmentNotDefined, 1},
		{ErrIO, 1},
		{ErrPolicyDeny, 2},
		{ErrApprovalBlocked, 2},
		{ErrExecutionBlocked, 2},
		{ErrExecutionFailed, 2},
		{fmt.Errorf("wrapped: %w", ErrPolicyDeny), 2},
		{fmt.Errorf("wrapped: %w", ErrConfig), 1},
		{fmt.Errorf("plain"), 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExitCode(tt.err), "error %v", tt.err)
	}
}

func TestFeedbackValidate(t *testing.T) {
	valid := FeedbackRecord{UserID: "u1", SessionID: "s1", Score: 5, Channel: FeedbackChannelCLI}
	require.NoError(t, valid.Validate())

	zero := valid
	zero.Score = 0
	require.NoError(t, zero.Validate(), "score 0 is a literal worst score")

	over := valid
	over.Score = 5.1
	require.Error(t, over.Validate())

	negative := valid
	negative.Score = -1
	require.Error(t, negative.Validate())

	badChannel := valid
	badChannel.Channel = "carrier-pigeon"
	require.Error(t, badChannel.Validate())

	noUser := valid
	noUser.UserID = ""
	require.Error(t, noUser.Validate())
}
