package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/custodian-labs/custodian/pkg/adapter"
	"github.com/custodian-labs/custodian/pkg/artifacts"
	"github.com/custodian-labs/custodian/pkg/contracts"
)

func runAdapterCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: custodian adapter <capabilities|plan|validate|apply|apply-low-risk|rollback> [flags]")
		return 1
	}
	action := args[0]

	fs := flag.NewFlagSet("adapter "+action, flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		outDir          = fs.String("out", "out", "artifact output directory")
		sessionID       = fs.String("session", "", "session id")
		policyPath      = fs.String("policy", "", "policy file (JSON or YAML)")
		applyMode       = fs.String("apply-mode", "dry-run", "apply mode: dry-run | live-apply")
		allowSuggestion = fs.Bool("allow-suggestion-apply", false, "apply an advisory plan anyway")
		executionID     = fs.String("execution", "", "execution id to roll back (latest success when empty)")
		failOnBlocked   = fs.Bool("fail-on-execution-blocked", false, "exit 2 when the adapter refuses")
		verbose         = fs.Bool("verbose", false, "debug logging")
	)
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	setupLogging(stderr, *verbose)

	pol, err := loadPolicy(*policyPath)
	if err != nil {
		return fail(stderr, "adapter", err)
	}

	if action == "capabilities" {
		ad := adapter.New(&adapter.MemoryLedger{}, pol.Contract.Version)
		emitJSON(stdout, ad.Capabilities())
		return 0
	}

	if *sessionID == "" {
		return fail(stderr, "adapter", fmt.Errorf("%w: --session is required", contracts.ErrConfig))
	}
	store, err := artifacts.NewStore(*outDir)
	if err != nil {
		return fail(stderr, "adapter", err)
	}
	sess, err := store.Session(*sessionID)
	if err != nil {
		return fail(stderr, "adapter", err)
	}
	var p contracts.ChangePlan
	if err := sess.ReadJSON(contracts.FileChangePlan, &p); err != nil {
		return fail(stderr, "adapter", err)
	}

	ledger := adapter.NewSessionLedger(sess, nil)
	ad := adapter.New(ledger, pol.Contract.Version)

	switch action {
	case "plan":
		mutating := 0
		for _, act := range p.Actions {
			if act.Mutating() {
				mutating++
			}
		}
		emitJSON(stdout, map[string]any{
			"plan_id":          p.PlanID,
			"risk_level":       p.RiskLevel,
			"execution_mode":   p.ExecutionMode,
			"policy_decision":  sessionPolicyDecision(sess),
			"actions":          p.Actions,
			"mutating_actions": mutating,
			"rollback_plan":    p.RollbackPlan,
			"problems":         ad.Validate(&p),
		})
		return 0

	case "validate":
		problems := ad.Validate(&p)
		emitJSON(stdout, map[string]any{"plan_id": p.PlanID, "valid": len(problems) == 0, "problems": problems})
		if len(problems) > 0 {
			return 1
		}
		return 0

	case "apply":
		mode := contracts.ApplyMode(*applyMode)
		if mode != contracts.ApplyModeDryRun && mode != contracts.ApplyModeLiveApply {
			return fail(stderr, "adapter", fmt.Errorf("%w: unknown apply mode %q", contracts.ErrConfig, *applyMode))
		}
		decision := sessionPolicyDecision(sess)
		outcome, err := ad.Apply(&p, decision, mode, adapter.ApplyOptions{AllowSuggestionApply: *allowSuggestion})
		if err != nil {
			return fail(stderr, "adapter", err)
		}
		emitJSON(stdout, outcome)
		if outcome.Blocked && *failOnBlocked {
			return fail(stderr, "adapter", fmt.Errorf("%w: %s", contracts.ErrExecutionBlocked, outcome.Reason))
		}
		return 0

	case "apply-low-risk":
		mode := contracts.ApplyMode(*applyMode)
		if mode != contracts.ApplyModeDryRun && mode != contracts.ApplyModeLiveApply {
			return fail(stderr, "adapter", fmt.Errorf("%w: unknown apply mode %q", contracts.ErrConfig, *applyMode))
		}
		outcome, err := ad.ApplyLowRisk(&p, sessionPolicyDecision(sess), mode)
		if err != nil {
			return fail(stderr, "adapter", err)
		}
		emitJSON(stdout, outcome)
		if outcome.Blocked && *failOnBlocked {
			return fail(stderr, "adapter", fmt.Errorf("%w: %s", contracts.ErrExecutionBlocked, outcome.Reason))
		}
		return 0

	case "rollback":
		outcome, err := ad.Rollback(&p, *executionID)
		if err != nil {
			return fail(stderr, "adapter", err)
		}
		emitJSON(stdout, outcome)
		if outcome.Blocked && *failOnBlocked {
			return fail(stderr, "adapter", fmt.Errorf("%w: %s", contracts.ErrExecutionBlocked, outcome.Reason))
		}
		return 0

	default:
		fmt.Fprintf(stderr, "adapter: unknown action %q\n", action)
		return 1
	}
}

// sessionPolicyDecision folds the persisted stage decisions into the worst
// one. Missing artifacts contribute nothing.
func sessionPolicyDecision(sess *artifacts.Session) contracts.Decision {
	decisions := []contracts.Decision{}
	var gd contracts.GateDecision
	if err := sess.ReadJSON(contracts.FileGateDecision, &gd); err == nil {
		decisions = append(decisions, gd.Decision)
	}
	var rd contracts.RuntimeDecision
	if err := sess.ReadJSON(contracts.FileRuntimeDecision, &rd); err == nil {
		decisions = append(decisions, rd.Decision)
	}
	var td contracts.TierDecision
	if err := sess.ReadJSON(contracts.FileTierDecision, &td); err == nil {
		decisions = append(decisions, td.Decision)
	}
	return contracts.WorstDecision(decisions...)
}
