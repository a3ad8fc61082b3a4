// Package adapter applies decided plans against the ERP runtime dialect and
// keeps the append-only execution ledger.
package adapter

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/custodian-labs/custodian/pkg/contracts"
)

// Ledger persists execution records and replays them for rollback lookup.
type Ledger interface {
	Append(rec *contracts.ExecutionRecord) error
	Records(planID string) ([]contracts.ExecutionRecord, error)
}

// Adapter is the moqui-dialect execution backend.
type Adapter struct {
	caps   contracts.AdapterCapabilities
	ledger Ledger
	clock  func() time.Time
	newID  func() string
	logger *slog.Logger
}

// ApplyOptions tunes one apply attempt.
type ApplyOptions struct {
	// AllowSuggestionApply lets an advisory plan be applied anyway. Off by
	// default; advisory plans are refused.
	AllowSuggestionApply bool
}

// New creates an adapter writing to the given ledger.
func New(ledger Ledger, contractVersion string) *Adapter {
	return &Adapter{
		caps: contracts.AdapterCapabilities{
			Provider:        "moqui",
			Dialect:         "moqui",
			LiveApply:       true,
			DryRun:          true,
			Rollback:        true,
			ActionTypes:     contracts.AllActionTypes,
			ContractVersion: contractVersion,
		},
		ledger: ledger,
		clock:  time.Now,
		newID:  func() string { return uuid.New().String() },
		logger: slog.Default().With("component", "adapter"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (a *Adapter) WithClock(clock func() time.Time) *Adapter {
	a.clock = clock
	return a
}

// WithIDSource overrides ID generation for deterministic testing.
func (a *Adapter) WithIDSource(newID func() string) *Adapter {
	a.newID = newID
	return a
}

// Capabilities reports the dialect the adapter speaks.
func (a *Adapter) Capabilities() contracts.AdapterCapabilities { return a.caps }

// Validate checks that every plan action is executable by this adapter.
func (a *Adapter) Validate(p *contracts.ChangePlan) []string {
	supported := make(map[contracts.ActionType]bool, len(a.caps.ActionTypes))
	for _, t := range a.caps.ActionTypes {
		supported[t] = true
	}
	var problems []string
	if len(p.Actions) == 0 {
		problems = append(problems, "plan has no actions")
	}
	for _, act := range p.Actions {
		if !supported[act.Type] {
			problems = append(problems, fmt.Sprintf("action type %q is not supported", act.Type))
		}
	}
	return problems
}

// Apply attempts to execute the plan. Denied plans, advisory plans and
// postures the capabilities cannot serve produce a blocked outcome with a
// skipped ledger record; nothing is executed.
func (a *Adapter) Apply(p *contracts.ChangePlan, policyDecision contracts.Decision, mode contracts.ApplyMode, opts ApplyOptions) (*contracts.ApplyOutcome, error) {
	if reason := a.refusalReason(p, policyDecision, mode, opts); reason != "" {
		rec := a.record(p, contracts.ExecutionSkipped, policyDecision, mode, nil, reason)
		if err := a.ledger.Append(rec); err != nil {
			return nil, err
		}
		a.logger.Info("apply blocked", "plan_id", p.PlanID, "reason", reason)
		return &contracts.ApplyOutcome{Blocked: true, Reason: reason, Record: rec}, nil
	}

	applied := make([]contracts.ActionType, 0, len(p.Actions))
	for _, act := range p.Actions {
		applied = append(applied, act.Type)
	}
	rec := a.record(p, contracts.ExecutionSuccess, policyDecision, mode, applied, "")
	if mode == contracts.ApplyModeLiveApply && p.HasMutatingAction() {
		rec.RollbackReference = p.RollbackPlan.Reference
	}
	if err := a.ledger.Append(rec); err != nil {
		return nil, err
	}
	a.logger.Info("apply succeeded", "plan_id", p.PlanID, "mode", mode, "actions", len(applied))
	return &contracts.ApplyOutcome{Record: rec}, nil
}

// ApplyLowRisk is the auto-execution path: it refuses anything above low
// risk or short of a full allow decision before delegating to Apply.
func (a *Adapter) ApplyLowRisk(p *contracts.ChangePlan, policyDecision contracts.Decision, mode contracts.ApplyMode) (*contracts.ApplyOutcome, error) {
	var reason string
	switch {
	case p.RiskLevel != contracts.RiskLow:
		reason = fmt.Sprintf("auto-execution refused for %s-risk plan", p.RiskLevel)
	case policyDecision != contracts.DecisionAllow:
		reason = fmt.Sprintf("auto-execution refused for %s plan", policyDecision)
	}
	if reason != "" {
		rec := a.record(p, contracts.ExecutionSkipped, policyDecision, mode, nil, reason)
		if err := a.ledger.Append(rec); err != nil {
			return nil, err
		}
		return &contracts.ApplyOutcome{Blocked: true, Reason: reason, Record: rec}, nil
	}
	return a.Apply(p, policyDecision, mode, ApplyOptions{AllowSuggestionApply: false})
}

// Rollback reverses a successful execution of the plan. An empty executionID
// targets the most recent success; a named one must match a successful record
// of this plan. Without a target, a failed record is written instead.
func (a *Adapter) Rollback(p *contracts.ChangePlan, executionID string) (*contracts.ApplyOutcome, error) {
	records, err := a.ledger.Records(p.PlanID)
	if err != nil {
		return nil, err
	}
	var last *contracts.ExecutionRecord
	for i := range records {
		if records[i].Result != contracts.ExecutionSuccess {
			continue
		}
		if executionID == "" || records[i].ExecutionID == executionID {
			last = &records[i]
		}
	}
	if last == nil {
		reason := "no successful execution to roll back"
		if executionID != "" {
			reason = fmt.Sprintf("no successful execution %s to roll back", executionID)
		}
		rec := a.record(p, contracts.ExecutionFailed, contracts.DecisionAllow, contracts.ApplyModeDryRun, nil, reason)
		if err := a.ledger.Append(rec); err != nil {
			return nil, err
		}
		return &contracts.ApplyOutcome{Blocked: true, Reason: reason, Record: rec}, nil
	}

	rec := a.record(p, contracts.ExecutionRolledBack, contracts.DecisionAllow, last.Mode, last.ActionsApplied, "")
	rec.RollbackReference = p.RollbackPlan.Reference
	if rec.RollbackReference == "" {
		rec.RollbackReference = last.RollbackReference
	}
	rec.Reason = fmt.Sprintf("rolled back execution %s", last.ExecutionID)
	if err := a.ledger.Append(rec); err != nil {
		return nil, err
	}
	a.logger.Info("rollback recorded", "plan_id", p.PlanID, "execution_id", last.ExecutionID)
	return &contracts.ApplyOutcome{Record: rec}, nil
}

func (a *Adapter) refusalReason(p *contracts.ChangePlan, policyDecision contracts.Decision, mode contracts.ApplyMode, opts ApplyOptions) string {
	if problems := a.Validate(p); len(problems) > 0 {
		return "plan failed adapter validation: " + problems[0]
	}
	if policyDecision == contracts.DecisionDeny {
		return "plan was denied by policy"
	}
	if policyDecision == contracts.DecisionReviewRequired && mode == contracts.ApplyModeLiveApply {
		return "review-required plan may not live-apply"
	}
	if p.ExecutionMode == contracts.ExecutionModeSuggestion && !opts.AllowSuggestionApply {
		return "plan is advisory and was not marked for application"
	}
	if mode == contracts.ApplyModeLiveApply && !a.caps.LiveApply {
		return "adapter does not support live apply"
	}
	if mode == contracts.ApplyModeDryRun && !a.caps.DryRun {
		return "adapter does not support dry runs"
	}
	return ""
}

func (a *Adapter) record(p *contracts.ChangePlan, result contracts.ExecutionResult, policyDecision contracts.Decision, mode contracts.ApplyMode, applied []contracts.ActionType, reason string) *contracts.ExecutionRecord {
	if applied == nil {
		applied = []contracts.ActionType{}
	}
	return &contracts.ExecutionRecord{
		ExecutionID:    "exec-" + a.newID(),
		PlanID:         p.PlanID,
		Result:         result,
		PolicyDecision: policyDecision,
		Mode:           mode,
		ActionsApplied: applied,
		ExecutedAt:     contracts.Timestamp(a.clock()),
		Reason:         reason,
	}
}
