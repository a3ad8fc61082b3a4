// Package plan synthesizes a change plan from an intent and its context:
// deterministic action inference, risk derivation and the verification,
// rollback, approval and authorization blocks.
package plan

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/custodian-labs/custodian/pkg/contracts"
)

// DefaultPasswordHashEnv is the environment variable the execute guard reads
// the expected password hash from unless the plan overrides it.
const DefaultPasswordHashEnv = "CUSTODIAN_APPROVAL_PASSWORD_SHA256"

// DefaultPasswordTTLSeconds bounds how long a verified password stays valid.
const DefaultPasswordTTLSeconds = 300

// actionProfile holds the per-type defaults for inferred actions.
type actionProfile struct {
	pattern             *regexp.Regexp
	touchesSensitive    bool
	privilegeEscalation bool
	irreversible        bool
	verification        string
}

// actionProfiles drives inference. Order fixes the inference result and the
// order of actions in the plan.
var actionProfiles = []struct {
	typ     contracts.ActionType
	profile actionProfile
}{
	{contracts.ActionBulkDeleteWithoutFilter, actionProfile{
		pattern:      regexp.MustCompile(`(?i)\b(delete|drop|truncate|purge)\b.*\b(all|table|bulk|everything)\b|\b(all|bulk)\b.*\b(delete|drop|purge)\b`),
		irreversible: true,
		verification: "confirm affected row count and backup completeness",
	}},
	{contracts.ActionCredentialExport, actionProfile{
		pattern:             regexp.MustCompile(`(?i)\b(export|dump|extract|download)\b.*\b(credential|password|secret|token|key)s?\b`),
		touchesSensitive:    true,
		privilegeEscalation: true,
		verification:        "verify export encryption and access logging",
	}},
	{contracts.ActionPermissionGrantSuperAdmin, actionProfile{
		pattern:             regexp.MustCompile(`(?i)\bsuper\s*admin\b|\bgrant\b.*\b(permission|privilege|role)s?\b|\belevate\b.*\b(access|privilege)s?\b`),
		privilegeEscalation: true,
		verification:        "review granted permission scope",
	}},
	{contracts.ActionWorkflowApprovalChainChange, actionProfile{
		pattern:             regexp.MustCompile(`(?i)\bapproval\s+(chain|flow|step)s?\b|\bapprover\b|\bworkflow\b.*\bapproval\b`),
		privilegeEscalation: true,
		verification:        "walk the approval chain on a staging workflow instance",
	}},
	{contracts.ActionPaymentRuleChange, actionProfile{
		pattern:          regexp.MustCompile(`(?i)\bpayment\b|\brefund\b|\bsettlement\b`),
		touchesSensitive: true,
		verification:     "run the payment regression suite",
	}},
	{contracts.ActionInventoryAdjustmentBulk, actionProfile{
		pattern:      regexp.MustCompile(`(?i)\binventory\b.*\b(adjust|bulk|recount|correction)\w*\b|\b(bulk|mass)\b.*\binventory\b`),
		verification: "reconcile inventory counts after the adjustment",
	}},
	{contracts.ActionUpdateRuleThreshold, actionProfile{
		pattern:      regexp.MustCompile(`(?i)\b(threshold|limit|quota|ceiling|floor)\b|\brule\b.*\b(value|amount|percent)\b`),
		verification: "evaluate the rule against boundary samples",
	}},
	{contracts.ActionUIFormFieldAdjust, actionProfile{
		pattern:      regexp.MustCompile(`(?i)\b(field|form|layout|screen|label|column|widget)s?\b`),
		verification: "render the affected screens and verify the field layout",
	}},
}

var highRiskGoalRe = regexp.MustCompile(`(?i)\b(delete|drop|truncate|credential|password|secret|privilege)s?\b`)
var mediumRiskGoalRe = regexp.MustCompile(`(?i)\b(approval|payment|inventory|refund|pricing|bulk)\b`)

var highRiskActions = map[contracts.ActionType]bool{
	contracts.ActionCredentialExport:          true,
	contracts.ActionPermissionGrantSuperAdmin: true,
	contracts.ActionBulkDeleteWithoutFilter:   true,
}

var mediumRiskActions = map[contracts.ActionType]bool{
	contracts.ActionWorkflowApprovalChainChange: true,
	contracts.ActionPaymentRuleChange:           true,
	contracts.ActionInventoryAdjustmentBulk:     true,
}

// Synthesizer builds change plans.
type Synthesizer struct {
	clock func() time.Time
	newID func() string
}

// NewSynthesizer creates a plan synthesizer.
func NewSynthesizer() *Synthesizer {
	return &Synthesizer{
		clock: time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *Synthesizer) WithClock(clock func() time.Time) *Synthesizer {
	s.clock = clock
	return s
}

// WithIDSource overrides ID generation for deterministic testing.
func (s *Synthesizer) WithIDSource(newID func() string) *Synthesizer {
	s.newID = newID
	return s
}

// Synthesize infers actions from the goal and context and assembles the
// decided plan for the requested execution mode.
func (s *Synthesizer) Synthesize(it *contracts.ChangeIntent, pc *contracts.PageContext, mode contracts.ExecutionMode) *contracts.ChangePlan {
	planID := "plan-" + s.newID()
	actions := s.inferActions(it, pc)
	risk := deriveRisk(actions, it.BusinessGoal, pc.Module)

	p := &contracts.ChangePlan{
		PlanID:             planID,
		IntentID:           it.IntentID,
		RiskLevel:          risk,
		ExecutionMode:      mode,
		Scope:              scopeOf(pc),
		Actions:            actions,
		ImpactAssessment:   impactOf(actions, risk),
		VerificationChecks: verificationChecks(actions),
		CreatedAt:          contracts.Timestamp(s.clock()),
	}

	anyIrreversible := false
	anyPrivilege := false
	anySensitive := false
	for _, a := range actions {
		anyIrreversible = anyIrreversible || a.Irreversible
		anyPrivilege = anyPrivilege || a.RequiresPrivilegeEscalation
		anySensitive = anySensitive || a.TouchesSensitiveData
	}

	if anyIrreversible {
		p.RollbackPlan = contracts.RollbackPlan{
			Type:      "backup-restore",
			Reference: "backup-" + planID,
			Note:      "backup is mandatory before executing irreversible actions",
		}
		p.Security.BackupReference = "backup-" + planID
	} else {
		p.RollbackPlan = contracts.RollbackPlan{
			Type:      "config-revert",
			Reference: "previous-config-snapshot",
			Note:      "revert to the previous configuration snapshot",
		}
	}

	switch {
	case risk == contracts.RiskHigh,
		risk == contracts.RiskMedium && mode == contracts.ExecutionModeApply,
		anyPrivilege:
		p.Approval = contracts.ApprovalBlock{Status: contracts.PlanApprovalPending, Approvers: []string{}}
	default:
		p.Approval = contracts.ApprovalBlock{Status: contracts.PlanApprovalNotRequired, Approvers: []string{}}
	}

	p.Authorization = s.authorization(p, anyPrivilege)
	p.Security.MaskingApplied = anySensitive // sensitive values were redacted upstream
	return p
}

func (s *Synthesizer) inferActions(it *contracts.ChangeIntent, pc *contracts.PageContext) []contracts.Action {
	haystack := it.BusinessGoal + " " + pc.Module + " " + pc.Entity + " " + pc.Page
	var actions []contracts.Action
	for _, entry := range actionProfiles {
		if entry.profile.pattern.MatchString(haystack) {
			actions = append(actions, contracts.Action{
				ActionID:                    "action-" + s.newID(),
				Type:                        entry.typ,
				TouchesSensitiveData:        entry.profile.touchesSensitive,
				RequiresPrivilegeEscalation: entry.profile.privilegeEscalation,
				Irreversible:                entry.profile.irreversible,
			})
		}
	}
	if len(actions) == 0 {
		actions = append(actions, contracts.Action{
			ActionID: "action-" + s.newID(),
			Type:     contracts.ActionAnalysisOnly,
		})
	}
	return actions
}

func deriveRisk(actions []contracts.Action, goal, module string) contracts.RiskLevel {
	for _, a := range actions {
		if highRiskActions[a.Type] {
			return contracts.RiskHigh
		}
	}
	if highRiskGoalRe.MatchString(goal) {
		return contracts.RiskHigh
	}
	for _, a := range actions {
		if mediumRiskActions[a.Type] {
			return contracts.RiskMedium
		}
	}
	if mediumRiskGoalRe.MatchString(goal) || mediumRiskGoalRe.MatchString(module) {
		return contracts.RiskMedium
	}
	return contracts.RiskLow
}

func verificationChecks(actions []contracts.Action) []string {
	seen := make(map[string]bool)
	var checks []string
	add := func(c string) {
		if !seen[c] {
			seen[c] = true
			checks = append(checks, c)
		}
	}
	for _, a := range actions {
		for _, entry := range actionProfiles {
			if entry.typ == a.Type {
				add(entry.profile.verification)
			}
		}
		if a.Type == contracts.ActionAnalysisOnly {
			add("confirm the analysis covers the stated goal")
		}
	}
	add("intent-to-plan consistency review")
	return checks
}

func (s *Synthesizer) authorization(p *contracts.ChangePlan, anyPrivilege bool) contracts.AuthorizationBlock {
	auth := contracts.AuthorizationBlock{
		PasswordScope:      []string{},
		PasswordTTLSeconds: DefaultPasswordTTLSeconds,
		ReasonCodes:        []string{},
	}

	mutatingApply := p.HasMutatingAction() && p.ExecutionMode == contracts.ExecutionModeApply
	if mutatingApply {
		auth.PasswordRequired = true
		auth.ReasonCodes = append(auth.ReasonCodes, "mutating-action-apply-mode")
	}
	if anyPrivilege {
		auth.ReasonCodes = append(auth.ReasonCodes, "privilege-escalation-detected")
	}
	if p.RiskLevel == contracts.RiskHigh {
		auth.ReasonCodes = append(auth.ReasonCodes, "high-risk-plan")
	}
	if auth.PasswordRequired {
		auth.PasswordScope = []string{"execute"}
		auth.PasswordHashEnv = DefaultPasswordHashEnv
	}
	return auth
}

func scopeOf(pc *contracts.PageContext) string {
	parts := []string{pc.Product, pc.Module, pc.Page}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}

func impactOf(actions []contracts.Action, risk contracts.RiskLevel) string {
	return fmt.Sprintf("%d action(s) inferred at %s risk", len(actions), risk)
}

// RenderMarkdown renders the plan's human-readable companion artifact.
func RenderMarkdown(p *contracts.ChangePlan) string {
	var sb strings.Builder
	sb.WriteString("# Change Plan\n\n")
	fmt.Fprintf(&sb, "- **Plan:** %s (intent %s)\n", p.PlanID, p.IntentID)
	fmt.Fprintf(&sb, "- **Scope:** %s\n", p.Scope)
	fmt.Fprintf(&sb, "- **Risk:** %s · **Mode:** %s\n", p.RiskLevel, p.ExecutionMode)
	fmt.Fprintf(&sb, "- **Approval:** %s · **Password required:** %t\n", p.Approval.Status, p.Authorization.PasswordRequired)
	sb.WriteString("\n## Actions\n\n")
	for _, a := range p.Actions {
		flags := []string{}
		if a.TouchesSensitiveData {
			flags = append(flags, "sensitive")
		}
		if a.RequiresPrivilegeEscalation {
			flags = append(flags, "privilege-escalation")
		}
		if a.Irreversible {
			flags = append(flags, "irreversible")
		}
		suffix := ""
		if len(flags) > 0 {
			suffix = " (" + strings.Join(flags, ", ") + ")"
		}
		fmt.Fprintf(&sb, "- `%s`%s\n", a.Type, suffix)
	}
	sb.WriteString("\n## Verification\n\n")
	for _, c := range p.VerificationChecks {
		fmt.Fprintf(&sb, "- %s\n", c)
	}
	fmt.Fprintf(&sb, "\n## Rollback\n\n- %s: %s\n", p.RollbackPlan.Type, p.RollbackPlan.Note)
	return sb.String()
}
