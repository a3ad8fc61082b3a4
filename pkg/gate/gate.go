// Package gate runs the plan through the guardrail checks and reduces the
// results to a single gate decision.
package gate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/custodian-labs/custodian/pkg/contracts"
	"github.com/custodian-labs/custodian/pkg/policy"
)

// Check identifiers, in evaluation order.
const (
	CheckPlanShape             = "plan-shape"
	CheckDenyActionTypes       = "deny-action-types"
	CheckReviewActionTypes     = "review-action-types"
	CheckRiskApproval          = "risk-approval"
	CheckActionCountApproval   = "action-count-approval"
	CheckPrivilegeDualApproval = "privilege-escalation-dual-approval"
	CheckSensitiveDataMasking  = "sensitive-data-masking"
	CheckPlaintextSecrets      = "plaintext-secrets"
	CheckIrreversibleBackup    = "irreversible-backup"
)

// Gate evaluates change plans against one loaded policy.
type Gate struct {
	pol    *policy.Policy
	clock  func() time.Time
	logger *slog.Logger
}

// New creates a gate for the given policy.
func New(pol *policy.Policy) *Gate {
	return &Gate{
		pol:    pol,
		clock:  time.Now,
		logger: slog.Default().With("component", "plan-gate"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (g *Gate) WithClock(clock func() time.Time) *Gate {
	g.clock = clock
	return g
}

// Evaluate runs every guardrail check against the plan. A failed deny check
// denies the plan; a failed review check requires review; otherwise the plan
// is allowed.
func (g *Gate) Evaluate(p *contracts.ChangePlan) *contracts.GateDecision {
	gp := g.pol.Gate
	approved := p.Approval.Status == contracts.PlanApprovalApproved

	checks := []contracts.Check{
		g.checkPlanShape(p),
		g.checkCatalog(CheckDenyActionTypes, p, gp.Catalog.DenyActionTypes, contracts.SeverityDeny,
			"plan carries an action type the catalog denies"),
		g.checkCatalog(CheckReviewActionTypes, p, gp.Catalog.ReviewActionTypes, contracts.SeverityReview,
			"plan carries an action type the catalog requires review for"),
		g.checkRiskApproval(p, approved),
		g.checkActionCount(p, approved),
		g.checkPrivilegeDualApproval(p),
		g.checkMasking(p),
		g.checkPlaintextSecrets(p),
		g.checkIrreversibleBackup(p),
	}
	checks = append(checks, g.evalGuardRules(p)...)

	d := &contracts.GateDecision{
		Decision:           contracts.DecisionAllow,
		Checks:             checks,
		FailedDenyChecks:   []string{},
		FailedReviewChecks: []string{},
		Reasons:            []string{},
		GeneratedAt:        contracts.Timestamp(g.clock()),
	}
	for _, c := range checks {
		if c.Passed {
			continue
		}
		switch c.Severity {
		case contracts.SeverityDeny:
			d.FailedDenyChecks = append(d.FailedDenyChecks, c.ID)
		default:
			d.FailedReviewChecks = append(d.FailedReviewChecks, c.ID)
		}
		d.Reasons = append(d.Reasons, fmt.Sprintf("%s: %s", c.ID, c.Details))
	}

	switch {
	case len(d.FailedDenyChecks) > 0:
		d.Decision = contracts.DecisionDeny
	case len(d.FailedReviewChecks) > 0:
		d.Decision = contracts.DecisionReviewRequired
	default:
		d.Reasons = []string{"all guardrail checks passed"}
	}

	d.Summary = contracts.GateSummary{
		CheckTotal:        len(checks),
		FailedTotal:       len(d.FailedDenyChecks) + len(d.FailedReviewChecks),
		FailedDenyTotal:   len(d.FailedDenyChecks),
		FailedReviewTotal: len(d.FailedReviewChecks),
		ActionCount:       len(p.Actions),
		RiskLevel:         p.RiskLevel,
	}
	return d
}

func (g *Gate) checkPlanShape(p *contracts.ChangePlan) contracts.Check {
	c := contracts.Check{ID: CheckPlanShape, Passed: true, Severity: contracts.SeverityDeny}
	var problems []string
	if p.PlanID == "" {
		problems = append(problems, "missing plan_id")
	}
	if p.IntentID == "" {
		problems = append(problems, "missing intent_id")
	}
	if len(p.Actions) == 0 {
		problems = append(problems, "plan has no actions")
	}
	if p.ExecutionMode != contracts.ExecutionModeSuggestion && p.ExecutionMode != contracts.ExecutionModeApply {
		problems = append(problems, fmt.Sprintf("unknown execution mode %q", p.ExecutionMode))
	}
	known := make(map[contracts.ActionType]bool, len(contracts.AllActionTypes))
	for _, t := range contracts.AllActionTypes {
		known[t] = true
	}
	for _, a := range p.Actions {
		if !known[a.Type] {
			problems = append(problems, fmt.Sprintf("unknown action type %q", a.Type))
		}
	}
	if len(problems) > 0 {
		c.Passed = false
		c.Details = strings.Join(problems, "; ")
	}
	return c
}

func (g *Gate) checkCatalog(id string, p *contracts.ChangePlan, types []contracts.ActionType, sev contracts.Severity, details string) contracts.Check {
	c := contracts.Check{ID: id, Passed: true, Severity: sev}
	var hits []string
	for _, t := range types {
		if p.HasActionType(t) {
			hits = append(hits, string(t))
		}
	}
	if len(hits) > 0 {
		c.Passed = false
		c.Details = details + ": " + strings.Join(hits, ", ")
	}
	return c
}

func (g *Gate) checkRiskApproval(p *contracts.ChangePlan, approved bool) contracts.Check {
	c := contracts.Check{ID: CheckRiskApproval, Passed: true, Severity: contracts.SeverityReview}
	for _, r := range g.pol.Gate.RequireApprovalForRiskLevels {
		if p.RiskLevel == r && !approved {
			c.Passed = false
			c.Details = fmt.Sprintf("%s-risk plan requires approval before it can pass", p.RiskLevel)
		}
	}
	return c
}

func (g *Gate) checkActionCount(p *contracts.ChangePlan, approved bool) contracts.Check {
	c := contracts.Check{ID: CheckActionCountApproval, Passed: true, Severity: contracts.SeverityReview}
	max := g.pol.Gate.MaxActionsWithoutApproval
	if max > 0 && len(p.Actions) > max && !approved {
		c.Passed = false
		c.Details = fmt.Sprintf("plan has %d actions, more than %d requires approval", len(p.Actions), max)
	}
	return c
}

func (g *Gate) checkPrivilegeDualApproval(p *contracts.ChangePlan) contracts.Check {
	c := contracts.Check{ID: CheckPrivilegeDualApproval, Passed: true, Severity: contracts.SeverityReview}
	if !g.pol.Gate.RequireDualApprovalForPrivilegeEscalation {
		return c
	}
	for _, a := range p.Actions {
		if a.RequiresPrivilegeEscalation && !p.Approval.DualApproved {
			c.Passed = false
			c.Details = "privilege escalation requires dual approval"
			return c
		}
	}
	return c
}

func (g *Gate) checkMasking(p *contracts.ChangePlan) contracts.Check {
	c := contracts.Check{ID: CheckSensitiveDataMasking, Passed: true, Severity: contracts.SeverityDeny}
	if !g.pol.Gate.RequireMaskingWhenSensitiveData {
		return c
	}
	for _, a := range p.Actions {
		if a.TouchesSensitiveData && !p.Security.MaskingApplied {
			c.Passed = false
			c.Details = "plan touches sensitive data but masking was not applied"
			return c
		}
	}
	return c
}

func (g *Gate) checkPlaintextSecrets(p *contracts.ChangePlan) contracts.Check {
	c := contracts.Check{ID: CheckPlaintextSecrets, Passed: true, Severity: contracts.SeverityDeny}
	if g.pol.Gate.ForbidPlaintextSecrets && p.Security.PlaintextSecretsInPayload {
		c.Passed = false
		c.Details = "plan payload contains plaintext secrets"
	}
	return c
}

func (g *Gate) checkIrreversibleBackup(p *contracts.ChangePlan) contracts.Check {
	c := contracts.Check{ID: CheckIrreversibleBackup, Passed: true, Severity: contracts.SeverityDeny}
	if !g.pol.Gate.RequireBackupForIrreversibleActions {
		return c
	}
	for _, a := range p.Actions {
		if a.Irreversible && p.Security.BackupReference == "" {
			c.Passed = false
			c.Details = "irreversible action without a recorded backup reference"
			return c
		}
	}
	return c
}

// evalGuardRules runs the policy's compiled CEL guard rules against the plan
// serialized as a dynamic map. An expression evaluating to true fails its
// check; evaluation errors fail the check as well.
func (g *Gate) evalGuardRules(p *contracts.ChangePlan) []contracts.Check {
	rules := g.pol.GuardRules()
	if len(rules) == 0 {
		return nil
	}
	planMap, err := planAsMap(p)
	if err != nil {
		g.logger.Warn("guard rules skipped, plan not serializable", "plan_id", p.PlanID, "err", err)
		return nil
	}
	checks := make([]contracts.Check, 0, len(rules))
	for _, r := range rules {
		c := contracts.Check{ID: "guard:" + r.Rule.ID, Passed: true, Severity: r.Rule.Severity}
		out, _, err := r.Program.Eval(map[string]any{"plan": planMap})
		if err != nil {
			c.Passed = false
			c.Details = fmt.Sprintf("guard rule evaluation failed: %v", err)
			checks = append(checks, c)
			continue
		}
		if hit, ok := out.Value().(bool); ok && hit {
			c.Passed = false
			c.Details = fmt.Sprintf("guard rule %s matched the plan", r.Rule.ID)
		}
		checks = append(checks, c)
	}
	return checks
}

func planAsMap(p *contracts.ChangePlan) (map[string]any, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// RenderMarkdown renders the gate decision's human-readable companion.
func RenderMarkdown(d *contracts.GateDecision) string {
	var sb strings.Builder
	sb.WriteString("# Plan Gate Decision\n\n")
	fmt.Fprintf(&sb, "- **Decision:** %s\n", d.Decision)
	fmt.Fprintf(&sb, "- **Checks:** %d total, %d failed (%d deny, %d review)\n",
		d.Summary.CheckTotal, d.Summary.FailedTotal, d.Summary.FailedDenyTotal, d.Summary.FailedReviewTotal)
	fmt.Fprintf(&sb, "- **Risk:** %s · **Actions:** %d\n", d.Summary.RiskLevel, d.Summary.ActionCount)
	sb.WriteString("\n## Checks\n\n")
	for _, c := range d.Checks {
		status := "pass"
		if !c.Passed {
			status = "FAIL (" + string(c.Severity) + ")"
		}
		fmt.Fprintf(&sb, "- `%s` %s", c.ID, status)
		if c.Details != "" {
			fmt.Fprintf(&sb, ": %s", c.Details)
		}
		sb.WriteString("\n")
	}
	if len(d.Reasons) > 0 {
		sb.WriteString("\n## Reasons\n\n")
		for _, r := range d.Reasons {
			fmt.Fprintf(&sb, "- %s\n", r)
		}
	}
	return sb.String()
}
