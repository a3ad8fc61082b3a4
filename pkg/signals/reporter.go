package signals

import (
	"fmt"
	"math"
	"time"

	"github.com/custodian-labs/custodian/pkg/contracts"
	"github.com/custodian-labs/custodian/pkg/policy"
)

// Window bounds a reporting period.
type Window struct {
	Kind string    `json:"kind"` // weekly | monthly | all | custom
	From time.Time `json:"-"`
	To   time.Time `json:"-"`
}

// WindowFor builds a window ending at now. Custom windows use the supplied
// bounds.
func WindowFor(kind string, now, from, to time.Time) (Window, error) {
	switch kind {
	case "weekly":
		return Window{Kind: kind, From: now.AddDate(0, 0, -7), To: now}, nil
	case "monthly":
		return Window{Kind: kind, From: now.AddDate(0, -1, 0), To: now}, nil
	case "all":
		return Window{Kind: kind, To: now}, nil
	case "custom":
		if from.IsZero() || to.IsZero() || to.Before(from) {
			return Window{}, fmt.Errorf("%w: custom window requires from <= to", contracts.ErrConfig)
		}
		return Window{Kind: kind, From: from, To: to}, nil
	default:
		return Window{}, fmt.Errorf("%w: unknown report window %q", contracts.ErrConfig, kind)
	}
}

func (w Window) contains(ts string) bool {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return false
	}
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && t.After(w.To) {
		return false
	}
	return true
}

// StageTotals counts decisions for one signal stage.
type StageTotals struct {
	Total       int      `json:"total"`
	AllowTotal  int      `json:"allow_total"`
	DenyTotal   int      `json:"deny_total"`
	ReviewTotal int      `json:"review_total"`
	BlockTotal  int      `json:"block_total"`
	BlockRate   *float64 `json:"block_rate"`
}

// MatrixMetrics aggregates the opaque baseline-scoring stream.
type MatrixMetrics struct {
	Total                  int      `json:"total"`
	PortfolioPassRate      *float64 `json:"portfolio_pass_rate"`
	RegressionPositiveRate *float64 `json:"regression_positive_rate"`
	StageErrorRate         *float64 `json:"stage_error_rate"`
	AvgScore               *float64 `json:"avg_score"`
	AvgValidRate           *float64 `json:"avg_valid_rate"`
}

// Metrics is the exhaustive metric set of one report.
type Metrics struct {
	IntentTotal            int      `json:"intent_total"`
	ApplyTotal             int      `json:"apply_total"`
	ApplySuccessTotal      int      `json:"apply_success_total"`
	ApplyFailedTotal       int      `json:"apply_failed_total"`
	ApplySkippedTotal      int      `json:"apply_skipped_total"`
	RollbackTotal          int      `json:"rollback_total"`
	SecurityInterceptTotal int      `json:"security_intercept_total"`
	AdoptionRate           *float64 `json:"adoption_rate"`
	ExecutionSuccessRate   *float64 `json:"execution_success_rate"`
	RollbackRate           *float64 `json:"rollback_rate"`
	SecurityInterceptRate  *float64 `json:"security_intercept_rate"`
	SatisfactionAvgScore   *float64 `json:"satisfaction_avg_score"`

	Stages map[string]*StageTotals `json:"stages"`
	Matrix MatrixMetrics           `json:"matrix"`

	BusinessModes map[string]int `json:"business_modes"`
	UnknownTotal  int            `json:"unknown_total"`
}

// Alert is one threshold match.
type Alert struct {
	Metric         string  `json:"metric"`
	Severity       string  `json:"severity"` // medium | high
	Value          float64 `json:"value"`
	Bound          float64 `json:"bound"`
	Direction      string  `json:"direction"`
	Recommendation string  `json:"recommendation"`
}

// Summary rolls the alerts up.
type Summary struct {
	Breaches int    `json:"breaches"`
	Warnings int    `json:"warnings"`
	Status   string `json:"status"` // ok | warn | breach
}

// Report is the governance report artifact.
type Report struct {
	Window          Window   `json:"window"`
	WindowFrom      string   `json:"window_from,omitempty"`
	WindowTo        string   `json:"window_to,omitempty"`
	Metrics         Metrics  `json:"metrics"`
	Alerts          []Alert  `json:"alerts"`
	Recommendations []string `json:"recommendations"`
	Summary         Summary  `json:"summary"`
	GeneratedAt     string   `json:"generated_at"`
}

// Input is the decoded stream contents the reporter aggregates. All
// aggregation is a pure function of these slices.
type Input struct {
	Signals    []contracts.Signal
	Matrix     []contracts.MatrixSignal
	Feedback   []contracts.FeedbackRecord
	Executions []contracts.ExecutionRecord
	Audit      []contracts.AuditEvent
}

// Reporter computes reports against one policy's thresholds.
type Reporter struct {
	thresholds []policy.Threshold
	clock      func() time.Time
}

// NewReporter creates a reporter with the policy's alerting thresholds.
func NewReporter(thresholds []policy.Threshold) *Reporter {
	return &Reporter{thresholds: thresholds, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (r *Reporter) WithClock(clock func() time.Time) *Reporter {
	r.clock = clock
	return r
}

// Build filters the input to the window, computes every metric and matches
// the thresholds. Alerts are deduplicated by recommendation text.
func (r *Reporter) Build(in Input, w Window) *Report {
	m := computeMetrics(filterInput(in, w))

	rep := &Report{
		Window:          w,
		Metrics:         m,
		Alerts:          []Alert{},
		Recommendations: []string{},
		GeneratedAt:     contracts.Timestamp(r.clock()),
	}
	if !w.From.IsZero() {
		rep.WindowFrom = contracts.Timestamp(w.From)
	}
	if !w.To.IsZero() {
		rep.WindowTo = contracts.Timestamp(w.To)
	}

	values := metricValues(m)
	seenRec := map[string]bool{}
	for _, th := range r.thresholds {
		v, ok := values[th.Metric]
		if !ok || v == nil {
			continue
		}
		severity := ""
		bound := 0.0
		switch th.Direction {
		case "below":
			if *v < th.Breach {
				severity, bound = "high", th.Breach
			} else if *v < th.Warn {
				severity, bound = "medium", th.Warn
			}
		default: // above
			if *v > th.Breach {
				severity, bound = "high", th.Breach
			} else if *v > th.Warn {
				severity, bound = "medium", th.Warn
			}
		}
		if severity == "" {
			continue
		}
		rec := th.Recommendation
		if rec == "" {
			rec = fmt.Sprintf("investigate metric %s", th.Metric)
		}
		if seenRec[rec] {
			continue
		}
		seenRec[rec] = true
		rep.Alerts = append(rep.Alerts, Alert{
			Metric:         th.Metric,
			Severity:       severity,
			Value:          *v,
			Bound:          bound,
			Direction:      th.Direction,
			Recommendation: rec,
		})
		rep.Recommendations = append(rep.Recommendations, rec)
	}

	for _, a := range rep.Alerts {
		switch a.Severity {
		case "high":
			rep.Summary.Breaches++
		case "medium":
			rep.Summary.Warnings++
		}
	}
	switch {
	case rep.Summary.Breaches > 0:
		rep.Summary.Status = "breach"
	case rep.Summary.Warnings > 0:
		rep.Summary.Status = "warn"
	default:
		rep.Summary.Status = "ok"
	}
	return rep
}

// HasActionableAlert reports whether any alert is medium or high severity.
func (rep *Report) HasActionableAlert() bool {
	return rep.Summary.Breaches > 0 || rep.Summary.Warnings > 0
}

func filterInput(in Input, w Window) Input {
	out := Input{}
	for _, s := range in.Signals {
		if w.contains(s.Timestamp) {
			out.Signals = append(out.Signals, s)
		}
	}
	for _, s := range in.Matrix {
		if w.contains(s.Timestamp) {
			out.Matrix = append(out.Matrix, s)
		}
	}
	for _, f := range in.Feedback {
		if w.contains(f.Timestamp) {
			out.Feedback = append(out.Feedback, f)
		}
	}
	for _, e := range in.Executions {
		if w.contains(e.ExecutedAt) {
			out.Executions = append(out.Executions, e)
		}
	}
	for _, a := range in.Audit {
		if w.contains(a.Timestamp) {
			out.Audit = append(out.Audit, a)
		}
	}
	return out
}

func computeMetrics(in Input) Metrics {
	m := Metrics{
		Stages: map[string]*StageTotals{
			string(contracts.SignalStageDialogueAuthorization): {},
			string(contracts.SignalStageRuntime):               {},
			string(contracts.SignalStageAuthorizationTier):     {},
		},
		BusinessModes: map[string]int{},
	}

	for _, a := range in.Audit {
		if a.Stage == "intent-builder" {
			m.IntentTotal++
		}
	}

	for _, e := range in.Executions {
		switch e.Result {
		case contracts.ExecutionSuccess:
			m.ApplyTotal++
			m.ApplySuccessTotal++
		case contracts.ExecutionFailed:
			m.ApplyTotal++
			m.ApplyFailedTotal++
		case contracts.ExecutionSkipped:
			m.ApplyTotal++
			m.ApplySkippedTotal++
		case contracts.ExecutionRolledBack:
			m.RollbackTotal++
		}
	}

	for _, s := range in.Signals {
		st, ok := m.Stages[string(s.Stage)]
		if !ok {
			continue
		}
		st.Total++
		switch s.Decision {
		case string(contracts.DecisionAllow):
			st.AllowTotal++
		case string(contracts.DecisionDeny):
			st.DenyTotal++
			st.BlockTotal++
			m.SecurityInterceptTotal++
		case string(contracts.DecisionReviewRequired), string(contracts.DialogueClarify):
			st.ReviewTotal++
			st.BlockTotal++
		}
		m.BusinessModes[string(s.BusinessMode)]++
		if s.BusinessMode == contracts.BusinessModeUnknown {
			m.UnknownTotal++
		}
	}
	for _, st := range m.Stages {
		st.BlockRate = rate(st.BlockTotal, st.Total)
	}

	m.AdoptionRate = rate(m.ApplyTotal, m.IntentTotal)
	m.ExecutionSuccessRate = rate(m.ApplySuccessTotal, m.ApplyTotal)
	m.RollbackRate = rate(m.RollbackTotal, m.ApplyTotal)
	m.SecurityInterceptRate = rate(m.SecurityInterceptTotal, m.IntentTotal)

	if len(in.Feedback) > 0 {
		sum := 0.0
		for _, f := range in.Feedback {
			sum += f.Score
		}
		avg := round2(sum / float64(len(in.Feedback)))
		m.SatisfactionAvgScore = &avg
	}

	m.Matrix.Total = len(in.Matrix)
	if n := len(in.Matrix); n > 0 {
		pass, reg, errs := 0, 0, 0
		scoreSum, validSum := 0.0, 0.0
		for _, s := range in.Matrix {
			if s.PortfolioPass {
				pass++
			}
			if s.RegressionPositive {
				reg++
			}
			if s.StageError {
				errs++
			}
			scoreSum += s.Score
			validSum += s.ValidRate
		}
		m.Matrix.PortfolioPassRate = rate(pass, n)
		m.Matrix.RegressionPositiveRate = rate(reg, n)
		m.Matrix.StageErrorRate = rate(errs, n)
		avgScore := round2(scoreSum / float64(n))
		avgValid := round2(validSum / float64(n) * 100)
		m.Matrix.AvgScore = &avgScore
		m.Matrix.AvgValidRate = &avgValid
	}
	return m
}

// metricValues exposes the threshold-addressable metrics by name.
func metricValues(m Metrics) map[string]*float64 {
	values := map[string]*float64{
		"adoption_rate":           m.AdoptionRate,
		"execution_success_rate":  m.ExecutionSuccessRate,
		"rollback_rate":           m.RollbackRate,
		"security_intercept_rate": m.SecurityInterceptRate,
		"satisfaction_avg_score":  m.SatisfactionAvgScore,
		"matrix_portfolio_pass_rate":      m.Matrix.PortfolioPassRate,
		"matrix_regression_positive_rate": m.Matrix.RegressionPositiveRate,
		"matrix_stage_error_rate":         m.Matrix.StageErrorRate,
	}
	for name, st := range m.Stages {
		values[name+"_block_rate"] = st.BlockRate
	}
	return values
}

// rate is round(n/d × 100, 2); nil when the denominator is zero.
func rate(n, d int) *float64 {
	if d == 0 {
		return nil
	}
	v := round2(float64(n) / float64(d) * 100)
	return &v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
