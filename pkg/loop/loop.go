// Package loop drives one customization session end to end: context bridge,
// dialogue screening, intent, plan, the three policy stages, the approval
// workflow, optional auto-execution and the final work order. Every stage
// commits its artifact before the next stage reads it.
package loop

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodian-labs/custodian/pkg/adapter"
	"github.com/custodian-labs/custodian/pkg/approval"
	"github.com/custodian-labs/custodian/pkg/artifacts"
	"github.com/custodian-labs/custodian/pkg/authztier"
	"github.com/custodian-labs/custodian/pkg/bridge"
	"github.com/custodian-labs/custodian/pkg/contracts"
	"github.com/custodian-labs/custodian/pkg/dialogue"
	"github.com/custodian-labs/custodian/pkg/gate"
	"github.com/custodian-labs/custodian/pkg/intent"
	"github.com/custodian-labs/custodian/pkg/observability"
	"github.com/custodian-labs/custodian/pkg/plan"
	"github.com/custodian-labs/custodian/pkg/policy"
	"github.com/custodian-labs/custodian/pkg/runtimepolicy"
	"github.com/custodian-labs/custodian/pkg/signals"
	"github.com/custodian-labs/custodian/pkg/workorder"
)

// Options configures one session run.
type Options struct {
	SessionID  string
	UserID     string
	Goal       string
	RawContext map[string]any
	Dialect    string
	Strict     bool

	Profile       string
	RuntimeMode   string
	Environment   string
	UIMode        string
	ExecutionMode contracts.ExecutionMode

	AutoApproveLowRisk bool
	AutoExecuteLowRisk bool
	LiveApply          bool

	// AuthPassword is the one-time password used on the auto-execute path
	// when the plan requires password authorization. AuthPasswordHash
	// supplies the expected hash directly instead of reading it from the
	// plan's hash environment variable.
	AuthPassword     string
	AuthPasswordHash string

	FailOnDeny             bool
	FailOnDialogueDeny     bool
	FailOnExecutionBlocked bool

	// Resume reuses artifacts already present in the session directory and
	// recomputes only the missing tail.
	Resume bool
}

// Summary is the machine-readable roll-up written at the end of a run.
type Summary struct {
	SessionID   string                    `json:"session_id"`
	Goal        string                    `json:"goal"`
	IntentID    string                    `json:"intent_id,omitempty"`
	PlanID      string                    `json:"plan_id,omitempty"`
	RiskLevel   contracts.RiskLevel       `json:"risk_level,omitempty"`
	Dialogue    contracts.DialogueOutcome `json:"dialogue_decision,omitempty"`
	Gate        contracts.Decision        `json:"gate_decision,omitempty"`
	Runtime     contracts.Decision        `json:"runtime_decision,omitempty"`
	Tier        contracts.Decision        `json:"tier_decision,omitempty"`
	Approval    contracts.ApprovalStatus  `json:"approval_status,omitempty"`
	Execution   contracts.ExecutionFacts  `json:"execution"`
	WorkOrder   contracts.WorkOrderStatus `json:"work_order_status,omitempty"`
	Clarify     []string                  `json:"clarification_questions,omitempty"`
	Failed      bool                      `json:"failed"`
	Error       string                    `json:"error,omitempty"`
	GeneratedAt string                    `json:"generated_at"`
}

// Orchestrator wires the pipeline stages together.
type Orchestrator struct {
	pol     *policy.Policy
	store   *artifacts.Store
	emitter *signals.Emitter
	metrics *observability.Metrics
	audit   *artifacts.GlobalStream
	clock   func() time.Time
	logger  *slog.Logger
}

// New creates an orchestrator. The metrics and audit stream may be nil.
func New(pol *policy.Policy, store *artifacts.Store, emitter *signals.Emitter, metrics *observability.Metrics, audit *artifacts.GlobalStream) *Orchestrator {
	return &Orchestrator{
		pol:     pol,
		store:   store,
		emitter: emitter,
		metrics: metrics,
		audit:   audit,
		clock:   time.Now,
		logger:  slog.Default().With("component", "loop"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (o *Orchestrator) WithClock(clock func() time.Time) *Orchestrator {
	o.clock = clock
	return o
}

// Run executes the pipeline for one session. The summary is always written,
// also on the failure paths that produced artifacts.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Summary, error) {
	sum := &Summary{SessionID: opts.SessionID, Goal: opts.Goal}
	sess, err := o.store.Session(opts.SessionID)
	if err != nil {
		return o.finish(sess, sum, err)
	}

	pc, validation, err := o.stageBridge(sess, opts)
	if err != nil {
		return o.finish(sess, sum, err)
	}

	dd, err := o.stageDialogue(ctx, sess, opts, pc)
	if err != nil {
		return o.finish(sess, sum, err)
	}
	sum.Dialogue = dd.Decision
	if dd.Decision != contracts.DialogueAllow {
		sum.Clarify = dd.ClarificationQuestions
		wo := o.buildWorkOrder(sess, workorder.Input{
			SessionID: opts.SessionID,
			Dialogue:  dd,
		})
		sum.WorkOrder = wo.Status
		if dd.Decision == contracts.DialogueDeny && (opts.FailOnDeny || opts.FailOnDialogueDeny) {
			return o.finish(sess, sum, fmt.Errorf("%w: dialogue governor denied the goal", contracts.ErrPolicyDeny))
		}
		return o.finish(sess, sum, nil)
	}

	it, err := o.stageIntent(sess, opts, pc, validation)
	if err != nil {
		return o.finish(sess, sum, err)
	}
	sum.IntentID = it.IntentID

	p, err := o.stagePlan(sess, opts, it, pc)
	if err != nil {
		return o.finish(sess, sum, err)
	}
	sum.PlanID = p.PlanID
	sum.RiskLevel = p.RiskLevel

	gd, err := o.stageGate(ctx, sess, opts, p)
	if err != nil {
		return o.finish(sess, sum, err)
	}
	sum.Gate = gd.Decision

	rd, err := o.stageRuntime(ctx, sess, opts, p)
	if err != nil {
		return o.finish(sess, sum, err)
	}
	sum.Runtime = rd.Decision

	td, err := o.stageTier(ctx, sess, opts, p)
	if err != nil {
		return o.finish(sess, sum, err)
	}
	sum.Tier = td.Decision

	autoPath := dd.Decision != contracts.DialogueDeny &&
		gd.Decision == contracts.DecisionAllow &&
		p.RiskLevel == contracts.RiskLow &&
		rd.Decision == contracts.DecisionAllow &&
		rd.Requirements.AutoExecuteAllowed

	st, execFacts, err := o.stageApprovalAndExecute(ctx, sess, opts, p, gd, rd, td, autoPath)
	if st != nil {
		sum.Approval = st.Status
	}
	sum.Execution = execFacts
	if err != nil {
		return o.finish(sess, sum, err)
	}

	wo := o.buildWorkOrder(sess, workorder.Input{
		SessionID: opts.SessionID,
		Intent:    it,
		Plan:      p,
		Dialogue:  dd,
		Gate:      gd,
		Runtime:   rd,
		Tier:      td,
		Approval:  st,
		Execution: execFacts,
	})
	sum.WorkOrder = wo.Status

	worst := contracts.WorstDecision(gd.Decision, rd.Decision, td.Decision)
	if worst == contracts.DecisionDeny && opts.FailOnDeny {
		return o.finish(sess, sum, fmt.Errorf("%w: a policy stage denied the plan", contracts.ErrPolicyDeny))
	}
	if execFacts.Blocked && opts.FailOnExecutionBlocked {
		return o.finish(sess, sum, fmt.Errorf("%w: adapter refused the apply", contracts.ErrExecutionBlocked))
	}
	return o.finish(sess, sum, nil)
}

func (o *Orchestrator) finish(sess *artifacts.Session, sum *Summary, runErr error) (*Summary, error) {
	sum.GeneratedAt = contracts.Timestamp(o.clock())
	if runErr != nil {
		sum.Failed = true
		sum.Error = runErr.Error()
	}
	if sess != nil {
		if err := sess.WriteJSON(contracts.FileLoopSummary, sum); err != nil {
			o.logger.Error("write loop summary", "err", err)
			if runErr == nil {
				runErr = err
			}
		}
	}
	return sum, runErr
}

func (o *Orchestrator) stageBridge(sess *artifacts.Session, opts Options) (*contracts.PageContext, contracts.ContractValidation, error) {
	if opts.Resume && sess.Exists(contracts.FileNormalizedContext) && sess.Exists(contracts.FileBridgeReport) {
		var pc contracts.PageContext
		var rep contracts.BridgeReport
		if err := sess.ReadJSON(contracts.FileNormalizedContext, &pc); err != nil {
			return nil, contracts.ContractValidation{}, err
		}
		if err := sess.ReadJSON(contracts.FileBridgeReport, &rep); err != nil {
			return nil, contracts.ContractValidation{}, err
		}
		return &pc, rep.Validation, nil
	}

	b := bridge.New(o.pol, opts.Strict).WithClock(o.clock)
	pc, rep, err := b.Normalize(opts.RawContext, opts.Dialect)
	if rep != nil {
		if werr := sess.WriteJSON(contracts.FileBridgeReport, rep); werr != nil {
			return nil, contracts.ContractValidation{}, werr
		}
	}
	if err != nil {
		return nil, contracts.ContractValidation{}, err
	}
	if err := sess.WriteJSON(contracts.FileNormalizedContext, pc); err != nil {
		return nil, contracts.ContractValidation{}, err
	}
	return pc, rep.Validation, nil
}

func (o *Orchestrator) stageDialogue(ctx context.Context, sess *artifacts.Session, opts Options, pc *contracts.PageContext) (*contracts.DialogueDecision, error) {
	if opts.Resume && sess.Exists(contracts.FileDialogueDecision) {
		var dd contracts.DialogueDecision
		if err := sess.ReadJSON(contracts.FileDialogueDecision, &dd); err != nil {
			return nil, err
		}
		return &dd, nil
	}

	resolved, err := o.pol.ResolveProfile(opts.Profile)
	if err != nil {
		return nil, err
	}
	dd := dialogue.New(resolved).WithClock(o.clock).Screen(opts.Goal, pc)
	if err := sess.WriteJSON(contracts.FileDialogueDecision, dd); err != nil {
		return nil, err
	}
	o.emitSignal(ctx, sess, &contracts.Signal{
		Stage:        contracts.SignalStageDialogueAuthorization,
		SessionID:    opts.SessionID,
		BusinessMode: contracts.BusinessModeForRuntime(opts.RuntimeMode),
		Decision:     string(dd.Decision),
		Profile:      dd.Profile,
	}, "dialogue-governance", string(dd.Decision))
	return dd, nil
}

func (o *Orchestrator) stageIntent(sess *artifacts.Session, opts Options, pc *contracts.PageContext, validation contracts.ContractValidation) (*contracts.ChangeIntent, error) {
	if opts.Resume && sess.Exists(contracts.FileChangeIntent) {
		var it contracts.ChangeIntent
		if err := sess.ReadJSON(contracts.FileChangeIntent, &it); err != nil {
			return nil, err
		}
		return &it, nil
	}

	res, err := intent.NewBuilder(o.pol.Contract.SensitiveKeyPatterns).
		WithClock(o.clock).
		Build(intent.Input{
			SessionID:  opts.SessionID,
			UserID:     opts.UserID,
			Goal:       dialogue.NormalizeGoal(opts.Goal),
			Context:    pc,
			RawContext: opts.RawContext,
			Validation: validation,
		})
	if err != nil {
		return nil, err
	}
	if err := sess.WriteJSON(contracts.FileChangeIntent, res.Intent); err != nil {
		return nil, err
	}
	if err := sess.WriteText(contracts.FilePageExplain, res.Explain); err != nil {
		return nil, err
	}
	if err := sess.AppendJSONL(contracts.FileCopilotAudit, res.AuditEvent); err != nil {
		return nil, err
	}
	if o.audit != nil {
		if err := o.audit.Append(res.AuditEvent); err != nil {
			return nil, err
		}
	}
	return res.Intent, nil
}

func (o *Orchestrator) stagePlan(sess *artifacts.Session, opts Options, it *contracts.ChangeIntent, pc *contracts.PageContext) (*contracts.ChangePlan, error) {
	if opts.Resume && sess.Exists(contracts.FileChangePlan) {
		var p contracts.ChangePlan
		if err := sess.ReadJSON(contracts.FileChangePlan, &p); err != nil {
			return nil, err
		}
		return &p, nil
	}

	p := plan.NewSynthesizer().WithClock(o.clock).Synthesize(it, pc, opts.ExecutionMode)
	if err := sess.WriteJSON(contracts.FileChangePlan, p); err != nil {
		return nil, err
	}
	if err := sess.WriteText(contracts.FileChangePlanMD, plan.RenderMarkdown(p)); err != nil {
		return nil, err
	}
	return p, nil
}

func (o *Orchestrator) stageGate(ctx context.Context, sess *artifacts.Session, opts Options, p *contracts.ChangePlan) (*contracts.GateDecision, error) {
	if opts.Resume && sess.Exists(contracts.FileGateDecision) {
		var gd contracts.GateDecision
		if err := sess.ReadJSON(contracts.FileGateDecision, &gd); err != nil {
			return nil, err
		}
		return &gd, nil
	}

	gd := gate.New(o.pol).WithClock(o.clock).Evaluate(p)
	if err := sess.WriteJSON(contracts.FileGateDecision, gd); err != nil {
		return nil, err
	}
	if err := sess.WriteText(contracts.FileGateDecisionMD, gate.RenderMarkdown(gd)); err != nil {
		return nil, err
	}
	o.metrics.RecordStageDecision(ctx, "plan-gate", string(gd.Decision))
	return gd, nil
}

func (o *Orchestrator) stageRuntime(ctx context.Context, sess *artifacts.Session, opts Options, p *contracts.ChangePlan) (*contracts.RuntimeDecision, error) {
	if opts.Resume && sess.Exists(contracts.FileRuntimeDecision) {
		var rd contracts.RuntimeDecision
		if err := sess.ReadJSON(contracts.FileRuntimeDecision, &rd); err != nil {
			return nil, err
		}
		return &rd, nil
	}

	rd, err := runtimepolicy.New(o.pol).WithClock(o.clock).Evaluate(runtimepolicy.Input{
		Plan:              p,
		RuntimeMode:       opts.RuntimeMode,
		Environment:       opts.Environment,
		UIMode:            opts.UIMode,
		ApprovalSatisfied: p.Approval.Status == contracts.PlanApprovalApproved,
	})
	if err != nil {
		return nil, err
	}
	if err := sess.WriteJSON(contracts.FileRuntimeDecision, rd); err != nil {
		return nil, err
	}
	o.emitSignal(ctx, sess, &contracts.Signal{
		Stage:        contracts.SignalStageRuntime,
		SessionID:    opts.SessionID,
		BusinessMode: contracts.BusinessModeForRuntime(opts.RuntimeMode),
		Decision:     string(rd.Decision),
		RiskLevel:    p.RiskLevel,
		PlanID:       p.PlanID,
		IntentID:     p.IntentID,
	}, "runtime-policy", string(rd.Decision))
	return rd, nil
}

func (o *Orchestrator) stageTier(ctx context.Context, sess *artifacts.Session, opts Options, p *contracts.ChangePlan) (*contracts.TierDecision, error) {
	if opts.Resume && sess.Exists(contracts.FileTierDecision) {
		var td contracts.TierDecision
		if err := sess.ReadJSON(contracts.FileTierDecision, &td); err != nil {
			return nil, err
		}
		return &td, nil
	}

	profile := opts.Profile
	if profile == "" {
		profile = o.pol.Dialogue.DefaultProfile
	}
	td, err := authztier.New(o.pol).WithClock(o.clock).Evaluate(authztier.Input{
		Profile:            profile,
		Environment:        opts.Environment,
		ExecutionMode:      opts.ExecutionMode,
		RuntimeMode:        opts.RuntimeMode,
		AutoExecuteLowRisk: opts.AutoExecuteLowRisk,
		LiveApply:          opts.LiveApply,
	})
	if err != nil {
		return nil, err
	}
	if err := sess.WriteJSON(contracts.FileTierDecision, td); err != nil {
		return nil, err
	}
	o.emitSignal(ctx, sess, &contracts.Signal{
		Stage:        contracts.SignalStageAuthorizationTier,
		SessionID:    opts.SessionID,
		BusinessMode: contracts.BusinessModeForRuntime(opts.RuntimeMode),
		Decision:     string(td.Decision),
		RiskLevel:    p.RiskLevel,
		PlanID:       p.PlanID,
		Profile:      profile,
	}, "authorization-tier", string(td.Decision))
	return td, nil
}

// stageApprovalAndExecute initializes the workflow, submits the plan and, on
// the auto path, approves, verifies the password, executes through the
// adapter and verifies. The state and event stream are persisted after every
// transition batch.
func (o *Orchestrator) stageApprovalAndExecute(ctx context.Context, sess *artifacts.Session, opts Options, p *contracts.ChangePlan, gd *contracts.GateDecision, rd *contracts.RuntimeDecision, td *contracts.TierDecision, autoPath bool) (*contracts.ApprovalState, contracts.ExecutionFacts, error) {
	facts := contracts.ExecutionFacts{}

	wf := approval.NewWorkflow().WithClock(o.clock)
	if opts.AuthPasswordHash != "" {
		wf = wf.WithPasswordHash(opts.AuthPasswordHash)
	}
	var st *contracts.ApprovalState
	if opts.Resume && sess.Exists(contracts.FileApprovalState) {
		st = &contracts.ApprovalState{}
		if err := sess.ReadJSON(contracts.FileApprovalState, st); err != nil {
			return nil, facts, err
		}
	} else {
		roles := contracts.RoleRequirements{Submit: []string{}, Approve: []string{}, Execute: []string{}, Verify: []string{}}
		distinct := false
		if o.pol.Roles != nil {
			roles = contracts.RoleRequirements{
				Submit:  o.pol.Roles.Submit,
				Approve: o.pol.Roles.Approve,
				Execute: o.pol.Roles.Execute,
				Verify:  o.pol.Roles.Verify,
			}
			distinct = o.pol.Roles.RequireDistinctActorRoles
		}
		st = wf.Init(p, roles, distinct)
	}

	save := func() error { return sess.WriteJSON(contracts.FileApprovalState, st) }
	record := func(ev *contracts.ApprovalEvent, err error) error {
		if ev != nil {
			if aerr := sess.AppendJSONL(contracts.FileApprovalEvents, ev); aerr != nil {
				return aerr
			}
		}
		return err
	}

	user := opts.UserID
	if user == "" {
		user = "session-user"
	}
	if st.Status == contracts.ApprovalDraft {
		if err := record(wf.Submit(st, approval.Actor{Name: user, Role: firstOr(st.RoleRequirements.Submit, "initiator")})); err != nil {
			return st, facts, err
		}
	}
	if (opts.AutoApproveLowRisk || opts.AutoExecuteLowRisk) && autoPath && st.Status == contracts.ApprovalSubmitted {
		if err := record(wf.Approve(st, approval.Actor{
			Name:    "policy-auto-approver",
			Role:    firstOr(st.RoleRequirements.Approve, "approver"),
			Comment: "auto-approved low-risk plan",
		})); err != nil {
			return st, facts, err
		}
	}
	if err := save(); err != nil {
		return st, facts, err
	}

	if !opts.AutoExecuteLowRisk {
		return st, facts, nil
	}

	ledger := adapter.NewSessionLedger(sess, nil)
	ad := adapter.New(ledger, o.pol.Contract.Version).WithClock(o.clock)
	worst := contracts.WorstDecision(gd.Decision, rd.Decision, td.Decision)

	if !autoPath {
		facts, err := o.recordAdapter(ctx, sess, ad, &contracts.ApplyOutcome{
			Blocked: true,
			Reason:  "auto-execution conditions not met",
		})
		return st, facts, err
	}

	grant := ""
	if st.Status == contracts.ApprovalApproved && st.Password.Required {
		token, err := wf.VerifyPassword(st, opts.AuthPassword)
		if err != nil {
			return st, facts, err
		}
		grant = token
		if err := save(); err != nil {
			return st, facts, err
		}
	}
	if st.Status == contracts.ApprovalApproved {
		if err := record(wf.Execute(st, approval.Actor{Name: "policy-auto-executor", Role: firstOr(st.RoleRequirements.Execute, "executor")}, grant)); err != nil {
			return st, facts, err
		}
		if err := save(); err != nil {
			return st, facts, err
		}
	}

	mode := contracts.ApplyModeDryRun
	if opts.LiveApply && rd.Requirements.AllowLiveApply && td.Requirements.LiveApplyAllowed {
		if rd.Requirements.RequireDryRunBeforeLiveApply {
			dry, err := ad.ApplyLowRisk(p, worst, contracts.ApplyModeDryRun)
			if err != nil {
				return st, facts, err
			}
			if dry.Blocked {
				facts, ferr := o.recordAdapter(ctx, sess, ad, dry)
				return st, facts, ferr
			}
		}
		mode = contracts.ApplyModeLiveApply
	}

	outcome, err := ad.ApplyLowRisk(p, worst, mode)
	if err != nil {
		return st, facts, err
	}
	facts, err = o.recordAdapter(ctx, sess, ad, outcome)
	if err != nil {
		return st, facts, err
	}

	if !outcome.Blocked && st.Status == contracts.ApprovalExecuted {
		if err := record(wf.Verify(st, approval.Actor{Name: "policy-auto-verifier", Role: firstOr(st.RoleRequirements.Verify, "verifier")})); err != nil {
			return st, facts, err
		}
		if err := save(); err != nil {
			return st, facts, err
		}
	}
	return st, facts, nil
}

func (o *Orchestrator) recordAdapter(ctx context.Context, sess *artifacts.Session, ad *adapter.Adapter, outcome *contracts.ApplyOutcome) (contracts.ExecutionFacts, error) {
	report := struct {
		Capabilities contracts.AdapterCapabilities `json:"capabilities"`
		Outcome      *contracts.ApplyOutcome      `json:"outcome"`
	}{ad.Capabilities(), outcome}
	if err := sess.WriteJSON(contracts.FileAdapterReport, report); err != nil {
		return contracts.ExecutionFacts{}, err
	}

	facts := contracts.ExecutionFacts{Attempted: true, Blocked: outcome.Blocked}
	if outcome.Record != nil {
		facts.Result = outcome.Record.Result
		facts.ExecutionID = outcome.Record.ExecutionID
		facts.Mode = outcome.Record.Mode
		facts.RollbackReference = outcome.Record.RollbackReference
		o.metrics.RecordApplyAttempt(ctx, string(outcome.Record.Result), outcome.Blocked)
	}
	return facts, nil
}

func (o *Orchestrator) buildWorkOrder(sess *artifacts.Session, in workorder.Input) *contracts.WorkOrder {
	wo := workorder.NewBuilder().WithClock(o.clock).Build(in)
	if err := sess.WriteJSON(contracts.FileWorkOrder, wo); err != nil {
		o.logger.Error("write work order", "err", err)
	}
	if err := sess.WriteText(contracts.FileWorkOrderMD, workorder.RenderMarkdown(wo)); err != nil {
		o.logger.Error("write work order markdown", "err", err)
	}
	return wo
}

func (o *Orchestrator) emitSignal(ctx context.Context, sess *artifacts.Session, sig *contracts.Signal, stage, decision string) {
	if o.emitter != nil {
		if err := o.emitter.Emit(sess, sig); err != nil {
			o.logger.Error("emit signal", "stage", sig.Stage, "err", err)
		}
	}
	o.metrics.RecordStageDecision(ctx, stage, decision)
}

func firstOr(set []string, fallback string) string {
	if len(set) > 0 {
		return set[0]
	}
	return fallback
}
