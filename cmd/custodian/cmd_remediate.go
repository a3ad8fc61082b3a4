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
	"github.com/custodian-labs/custodian/pkg/remediation"
	"github.com/custodian-labs/custodian/pkg/signals"
)

// batchTask is one entry of the remediation batch file.
type batchTask struct {
	Phase         string         `json:"phase"` // high | medium
	SessionID     string         `json:"session_id"`
	UserID        string         `json:"user_id"`
	Goal          string         `json:"goal"`
	Context       map[string]any `json:"context"`
	Dialect       string         `json:"dialect"`
	Profile       string         `json:"profile"`
	RuntimeMode   string         `json:"runtime_mode"`
	Environment   string         `json:"runtime_environment"`
	UIMode        string         `json:"ui_mode"`
	ExecutionMode string         `json:"execution_mode"`
}

func runRemediateCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("remediate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		outDir          = fs.String("out", "out", "artifact output directory")
		policyPath      = fs.String("policy", "", "policy file (JSON or YAML)")
		batchPath       = fs.String("batch", "", "batch file listing the sessions to remediate (required)")
		parallelism     = fs.Int("parallelism", 2, "max concurrent sessions per phase")
		cooldown        = fs.Duration("cooldown", 0, "pause between task starts")
		continueOnError = fs.Bool("continue-on-error", false, "run the medium phase even when high failed")
		autoApprove     = fs.Bool("auto-approve-low-risk", true, "auto-approve fully allowed low-risk plans")
		autoExecute     = fs.Bool("auto-execute-low-risk", true, "auto-execute fully allowed low-risk plans")
		jsonOut         = fs.Bool("json", false, "print the batch report as JSON")
		verbose         = fs.Bool("verbose", false, "debug logging")
	)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	setupLogging(stderr, *verbose)

	if *batchPath == "" {
		return fail(stderr, "remediate", fmt.Errorf("%w: --batch is required", contracts.ErrConfig))
	}
	var specs []batchTask
	if err := loadJSONFile(*batchPath, &specs); err != nil {
		return fail(stderr, "remediate", err)
	}
	pol, err := loadPolicy(*policyPath)
	if err != nil {
		return fail(stderr, "remediate", err)
	}
	store, err := artifacts.NewStore(*outDir)
	if err != nil {
		return fail(stderr, "remediate", err)
	}

	ctx := context.Background()
	metrics, shutdown, err := observability.Setup(ctx, "")
	if err != nil {
		return fail(stderr, "remediate", err)
	}
	defer shutdown(ctx)

	emitter := signals.NewEmitter(store.Root())
	defer emitter.Close()
	audit := artifacts.NewGlobalStream(filepath.Join(store.Root(), GlobalAuditFile))
	defer audit.Close()

	orc := loop.New(pol, store, emitter, metrics, audit)
	tasks := make([]remediation.Task, 0, len(specs))
	for _, s := range specs {
		em := contracts.ExecutionMode(s.ExecutionMode)
		if em == "" {
			em = contracts.ExecutionModeSuggestion
		}
		tasks = append(tasks, remediation.Task{
			Phase: contracts.NormalizeRiskLevel(s.Phase),
			Options: loop.Options{
				SessionID:          s.SessionID,
				UserID:             s.UserID,
				Goal:               s.Goal,
				RawContext:         s.Context,
				Dialect:            s.Dialect,
				Profile:            s.Profile,
				RuntimeMode:        s.RuntimeMode,
				Environment:        s.Environment,
				UIMode:             s.UIMode,
				ExecutionMode:      em,
				AutoApproveLowRisk: *autoApprove,
				AutoExecuteLowRisk: *autoExecute,
			},
		})
	}

	runner := remediation.New(orc, remediation.Config{
		Parallelism:     *parallelism,
		Cooldown:        *cooldown,
		ContinueOnError: *continueOnError,
	})
	report, runErr := runner.Run(ctx, tasks)

	if *jsonOut {
		emitJSON(stdout, report)
	} else {
		fmt.Fprintf(stdout, "remediation: %d succeeded, %d failed\n", report.Succeeded, report.Failed)
	}
	if runErr != nil {
		return fail(stderr, "remediate", runErr)
	}
	return 0
}
