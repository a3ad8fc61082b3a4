package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"path/filepath"

	"github.com/custodian-labs/custodian/pkg/artifacts"
	"github.com/custodian-labs/custodian/pkg/contracts"
	"github.com/custodian-labs/custodian/pkg/loop"
	"github.com/custodian-labs/custodian/pkg/observability"
	"github.com/custodian-labs/custodian/pkg/signals"
)

// GlobalAuditFile is the cross-session audit stream under the output root.
const GlobalAuditFile = "copilot-audit.jsonl"

func runLoopCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("loop", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		sessionID   = fs.String("session", "", "session id (required)")
		userID      = fs.String("user", "", "user id")
		goal        = fs.String("goal", "", "business goal in natural language (required)")
		contextPath = fs.String("context", "", "path to the raw page-context JSON (required)")
		dialect     = fs.String("dialect", "moqui", "context dialect: moqui | generic")
		strict      = fs.Bool("strict", false, "fail on context contract violations")
		profile     = fs.String("profile", "", "dialogue profile (default from policy)")
		runtimeMode = fs.String("mode", "user-assist", "runtime mode: user-assist | ops-fix | feature-dev")
		environment = fs.String("env", "dev", "runtime environment: dev | staging | prod")
		uiMode      = fs.String("ui-mode", "", "ui mode: user-app | ops-console | dev-workbench")
		execMode    = fs.String("execution-mode", "suggestion", "execution mode: suggestion | apply")
		outDir      = fs.String("out", "out", "artifact output directory")
		policyPath  = fs.String("policy", "", "policy file (JSON or YAML); built-in defaults when empty")

		autoApprove      = fs.Bool("auto-approve-low-risk", false, "auto-approve fully allowed low-risk plans")
		autoExecute      = fs.Bool("auto-execute-low-risk", false, "auto-execute fully allowed low-risk plans")
		liveApply        = fs.Bool("live-apply", false, "request live apply instead of dry-run")
		authPassword     = fs.String("auth-password", "", "one-time password for auto-execution of password-protected plans")
		authPasswordHash = fs.String("auth-password-hash", "", "expected sha256 password hash, overrides the plan's hash env")

		failOnDeny         = fs.Bool("fail-on-deny", false, "exit 2 when any policy stage denies")
		failOnDialogueDeny = fs.Bool("fail-on-dialogue-deny", false, "exit 2 when the dialogue governor denies the goal")
		failOnBlocked      = fs.Bool("fail-on-execution-blocked", false, "exit 2 when the adapter refuses the apply")
		resume             = fs.Bool("resume", false, "reuse existing session artifacts and continue")

		jsonOut = fs.Bool("json", false, "print the run summary as JSON on the last stdout line")
		otlp    = fs.String("otlp-endpoint", "", "OTLP/gRPC metrics endpoint (disabled when empty)")
		verbose = fs.Bool("verbose", false, "debug logging")
	)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	setupLogging(stderr, *verbose)

	if *sessionID == "" || *goal == "" || *contextPath == "" {
		return fail(stderr, "loop", fmt.Errorf("%w: --session, --goal and --context are required", contracts.ErrConfig))
	}
	em := contracts.ExecutionMode(*execMode)
	if em != contracts.ExecutionModeSuggestion && em != contracts.ExecutionModeApply {
		return fail(stderr, "loop", fmt.Errorf("%w: unknown execution mode %q", contracts.ErrConfig, *execMode))
	}

	pol, err := loadPolicy(*policyPath)
	if err != nil {
		return fail(stderr, "loop", err)
	}
	var raw map[string]any
	if err := loadJSONFile(*contextPath, &raw); err != nil {
		return fail(stderr, "loop", err)
	}
	store, err := artifacts.NewStore(*outDir)
	if err != nil {
		return fail(stderr, "loop", err)
	}

	ctx := context.Background()
	metrics, shutdown, err := observability.Setup(ctx, *otlp)
	if err != nil {
		return fail(stderr, "loop", err)
	}
	defer shutdown(ctx)

	emitter := signals.NewEmitter(store.Root())
	defer emitter.Close()
	audit := artifacts.NewGlobalStream(filepath.Join(store.Root(), GlobalAuditFile))
	defer audit.Close()

	orc := loop.New(pol, store, emitter, metrics, audit)
	sum, runErr := orc.Run(ctx, loop.Options{
		SessionID:  *sessionID,
		UserID:     *userID,
		Goal:       *goal,
		RawContext: raw,
		Dialect:    *dialect,
		Strict:     *strict,

		Profile:       *profile,
		RuntimeMode:   *runtimeMode,
		Environment:   *environment,
		UIMode:        *uiMode,
		ExecutionMode: em,

		AutoApproveLowRisk: *autoApprove,
		AutoExecuteLowRisk: *autoExecute,
		LiveApply:          *liveApply,
		AuthPassword:       *authPassword,
		AuthPasswordHash:   *authPasswordHash,

		FailOnDeny:             *failOnDeny,
		FailOnDialogueDeny:     *failOnDialogueDeny,
		FailOnExecutionBlocked: *failOnBlocked,
		Resume:                 *resume,
	})

	if *jsonOut && sum != nil {
		emitJSON(stdout, sum)
	} else if sum != nil {
		fmt.Fprintf(stdout, "session %s: dialogue=%s gate=%s runtime=%s tier=%s work-order=%s\n",
			sum.SessionID, sum.Dialogue, sum.Gate, sum.Runtime, sum.Tier, sum.WorkOrder)
	}
	if runErr != nil {
		return fail(stderr, "loop", runErr)
	}
	return 0
}
