package signals

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodian-labs/custodian/pkg/contracts"
	"github.com/custodian-labs/custodian/pkg/policy"
)

var reportNow = time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

func testReporter(t *testing.T) *Reporter {
	t.Helper()
	p, err := policy.Load("")
	require.NoError(t, err)
	return NewReporter(p.Thresholds).WithClock(func() time.Time { return reportNow })
}

func ts(offset time.Duration) string {
	return contracts.Timestamp(reportNow.Add(offset))
}

func allWindow(t *testing.T) Window {
	t.Helper()
	w, err := WindowFor("all", reportNow, time.Time{}, time.Time{})
	require.NoError(t, err)
	return w
}

func TestWindowFor(t *testing.T) {
	w, err := WindowFor("weekly", reportNow, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, reportNow.AddDate(0, 0, -7), w.From)
	assert.Equal(t, reportNow, w.To)

	w, err = WindowFor("monthly", reportNow, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, reportNow.AddDate(0, -1, 0), w.From)

	_, err = WindowFor("custom", reportNow, reportNow, reportNow.Add(-time.Hour))
	require.ErrorIs(t, err, contracts.ErrConfig)

	_, err = WindowFor("custom", reportNow, time.Time{}, reportNow)
	require.ErrorIs(t, err, contracts.ErrConfig)

	_, err = WindowFor("fortnightly", reportNow, time.Time{}, time.Time{})
	require.ErrorIs(t, err, contracts.ErrConfig)
}

func TestRatesNilOnZeroDenominator(t *testing.T) {
	rep := testReporter(t).Build(Input{}, allWindow(t))

	m := rep.Metrics
	assert.Nil(t, m.AdoptionRate)
	assert.Nil(t, m.ExecutionSuccessRate)
	assert.Nil(t, m.RollbackRate)
	assert.Nil(t, m.SatisfactionAvgScore)
	assert.Nil(t, m.Stages[string(contracts.SignalStageRuntime)].BlockRate)
	assert.Empty(t, rep.Alerts, "nil metrics never match thresholds")
	assert.Equal(t, "ok", rep.Summary.Status)
	assert.False(t, rep.HasActionableAlert())
}

func TestMetricComputation(t *testing.T) {
	in := Input{
		Audit: []contracts.AuditEvent{
			{Stage: "intent-builder", Timestamp: ts(-time.Hour)},
			{Stage: "intent-builder", Timestamp: ts(-time.Hour)},
			{Stage: "intent-builder", Timestamp: ts(-time.Hour)},
			{Stage: "intent-builder", Timestamp: ts(-time.Hour)},
			{Stage: "plan-gate", Timestamp: ts(-time.Hour)},
		},
		Executions: []contracts.ExecutionRecord{
			{Result: contracts.ExecutionSuccess, ExecutedAt: ts(-time.Hour)},
			{Result: contracts.ExecutionSuccess, ExecutedAt: ts(-time.Hour)},
			{Result: contracts.ExecutionFailed, ExecutedAt: ts(-time.Hour)},
			{Result: contracts.ExecutionSkipped, ExecutedAt: ts(-time.Hour)},
			{Result: contracts.ExecutionRolledBack, ExecutedAt: ts(-time.Hour)},
		},
		Signals: []contracts.Signal{
			{Stage: contracts.SignalStageDialogueAuthorization, Decision: "allow",
				BusinessMode: contracts.BusinessModeOps, Timestamp: ts(-time.Hour)},
			{Stage: contracts.SignalStageDialogueAuthorization, Decision: "deny",
				BusinessMode: contracts.BusinessModeUser, Timestamp: ts(-time.Hour)},
			{Stage: contracts.SignalStageRuntime, Decision: "review-required",
				BusinessMode: contracts.BusinessModeOps, Timestamp: ts(-time.Hour)},
			{Stage: contracts.SignalStageAuthorizationTier, Decision: "allow",
				BusinessMode: contracts.BusinessModeUnknown, Timestamp: ts(-time.Hour)},
		},
		Feedback: []contracts.FeedbackRecord{
			{Score: 5, Timestamp: ts(-time.Hour)},
			{Score: 4, Timestamp: ts(-time.Hour)},
		},
	}

	m := testReporter(t).Build(in, allWindow(t)).Metrics

	assert.Equal(t, 4, m.IntentTotal)
	assert.Equal(t, 4, m.ApplyTotal)
	assert.Equal(t, 2, m.ApplySuccessTotal)
	assert.Equal(t, 1, m.ApplyFailedTotal)
	assert.Equal(t, 1, m.ApplySkippedTotal)
	assert.Equal(t, 1, m.RollbackTotal)
	assert.Equal(t, 1, m.SecurityInterceptTotal)

	require.NotNil(t, m.AdoptionRate)
	assert.Equal(t, 100.0, *m.AdoptionRate)
	require.NotNil(t, m.ExecutionSuccessRate)
	assert.Equal(t, 50.0, *m.ExecutionSuccessRate)
	require.NotNil(t, m.RollbackRate)
	assert.Equal(t, 25.0, *m.RollbackRate)
	require.NotNil(t, m.SecurityInterceptRate)
	assert.Equal(t, 25.0, *m.SecurityInterceptRate)
	require.NotNil(t, m.SatisfactionAvgScore)
	assert.Equal(t, 4.5, *m.SatisfactionAvgScore)

	dlg := m.Stages[string(contracts.SignalStageDialogueAuthorization)]
	assert.Equal(t, 2, dlg.Total)
	assert.Equal(t, 1, dlg.DenyTotal)
	require.NotNil(t, dlg.BlockRate)
	assert.Equal(t, 50.0, *dlg.BlockRate)

	rt := m.Stages[string(contracts.SignalStageRuntime)]
	assert.Equal(t, 1, rt.ReviewTotal)
	assert.Equal(t, 1, rt.BlockTotal)

	assert.Equal(t, 1, m.UnknownTotal)
	assert.Equal(t, 1, m.BusinessModes[string(contracts.BusinessModeUser)])
	assert.Equal(t, 2, m.BusinessModes[string(contracts.BusinessModeOps)])
}

func TestWindowFiltering(t *testing.T) {
	w, err := WindowFor("weekly", reportNow, time.Time{}, time.Time{})
	require.NoError(t, err)

	in := Input{
		Executions: []contracts.ExecutionRecord{
			{Result: contracts.ExecutionSuccess, ExecutedAt: ts(-time.Hour)},
			{Result: contracts.ExecutionSuccess, ExecutedAt: ts(-14 * 24 * time.Hour)},
			{Result: contracts.ExecutionSuccess, ExecutedAt: "not-a-timestamp"},
		},
	}
	m := testReporter(t).Build(in, w).Metrics
	assert.Equal(t, 1, m.ApplyTotal, "records outside the window or unparsable are dropped")
}

func TestThresholdAlerts(t *testing.T) {
	// 1 success out of 2 applies: execution_success_rate 50 < breach 80
	in := Input{
		Executions: []contracts.ExecutionRecord{
			{Result: contracts.ExecutionSuccess, ExecutedAt: ts(-time.Hour)},
			{Result: contracts.ExecutionFailed, ExecutedAt: ts(-time.Hour)},
		},
	}
	rep := testReporter(t).Build(in, allWindow(t))

	require.NotEmpty(t, rep.Alerts)
	var hit *Alert
	for i := range rep.Alerts {
		if rep.Alerts[i].Metric == "execution_success_rate" {
			hit = &rep.Alerts[i]
		}
	}
	require.NotNil(t, hit)
	assert.Equal(t, "high", hit.Severity)
	assert.Equal(t, 50.0, hit.Value)
	assert.Equal(t, 80.0, hit.Bound)
	assert.Equal(t, "breach", rep.Summary.Status)
	assert.GreaterOrEqual(t, rep.Summary.Breaches, 1)
	assert.True(t, rep.HasActionableAlert())
}

func TestWarnSeverity(t *testing.T) {
	// 85% success sits between warn 90 and breach 80
	in := Input{
		Executions: []contracts.ExecutionRecord{},
	}
	for i := 0; i < 17; i++ {
		in.Executions = append(in.Executions, contracts.ExecutionRecord{Result: contracts.ExecutionSuccess, ExecutedAt: ts(-time.Hour)})
	}
	for i := 0; i < 3; i++ {
		in.Executions = append(in.Executions, contracts.ExecutionRecord{Result: contracts.ExecutionFailed, ExecutedAt: ts(-time.Hour)})
	}
	rep := testReporter(t).Build(in, allWindow(t))

	require.Len(t, rep.Alerts, 1)
	assert.Equal(t, "execution_success_rate", rep.Alerts[0].Metric)
	assert.Equal(t, "medium", rep.Alerts[0].Severity)
	assert.Equal(t, "warn", rep.Summary.Status)
}

func TestAlertDedupeByRecommendation(t *testing.T) {
	thresholds := []policy.Threshold{
		{Metric: "rollback_rate", Warn: 5, Breach: 10, Direction: "above", Recommendation: "tighten the gate"},
		{Metric: "security_intercept_rate", Warn: 5, Breach: 10, Direction: "above", Recommendation: "tighten the gate"},
	}
	r := NewReporter(thresholds).WithClock(func() time.Time { return reportNow })

	in := Input{
		Audit: []contracts.AuditEvent{
			{Stage: "intent-builder", Timestamp: ts(-time.Hour)},
		},
		Executions: []contracts.ExecutionRecord{
			{Result: contracts.ExecutionSuccess, ExecutedAt: ts(-time.Hour)},
			{Result: contracts.ExecutionRolledBack, ExecutedAt: ts(-time.Hour)},
		},
		Signals: []contracts.Signal{
			{Stage: contracts.SignalStageDialogueAuthorization, Decision: "deny", Timestamp: ts(-time.Hour)},
		},
	}
	rep := r.Build(in, allWindow(t))

	require.Len(t, rep.Alerts, 1, "alerts sharing a recommendation collapse to one")
	assert.Equal(t, []string{"tighten the gate"}, rep.Recommendations)
}

func TestMatrixMetrics(t *testing.T) {
	in := Input{
		Matrix: []contracts.MatrixSignal{
			{PortfolioPass: true, Score: 0.9, ValidRate: 1.0, Timestamp: ts(-time.Hour)},
			{RegressionPositive: true, StageError: true, Score: 0.5, ValidRate: 0.5, Timestamp: ts(-time.Hour)},
		},
	}
	m := testReporter(t).Build(in, allWindow(t)).Metrics

	assert.Equal(t, 2, m.Matrix.Total)
	require.NotNil(t, m.Matrix.PortfolioPassRate)
	assert.Equal(t, 50.0, *m.Matrix.PortfolioPassRate)
	require.NotNil(t, m.Matrix.RegressionPositiveRate)
	assert.Equal(t, 50.0, *m.Matrix.RegressionPositiveRate)
	require.NotNil(t, m.Matrix.AvgScore)
	assert.Equal(t, 0.7, *m.Matrix.AvgScore)
	require.NotNil(t, m.Matrix.AvgValidRate)
	assert.Equal(t, 75.0, *m.Matrix.AvgValidRate)
}
