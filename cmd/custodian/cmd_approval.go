package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/custodian-labs/custodian/pkg/approval"
	"github.com/custodian-labs/custodian/pkg/artifacts"
	"github.com/custodian-labs/custodian/pkg/contracts"
)

func runApprovalCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: custodian approval <init|submit|approve|reject|reopen|verify-password|execute|verify|archive|status> [flags]")
		return 1
	}
	action := args[0]

	fs := flag.NewFlagSet("approval "+action, flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		outDir     = fs.String("out", "out", "artifact output directory")
		sessionID  = fs.String("session", "", "session id (required)")
		policyPath = fs.String("policy", "", "policy file (JSON or YAML)")
		actor      = fs.String("actor", "", "acting user")
		role       = fs.String("role", "", "acting user's role")
		comment    = fs.String("comment", "", "transition comment")
		password   = fs.String("password", "", "one-time password (verify-password)")
		passHash   = fs.String("password-hash", "", "expected sha256 password hash, overrides the plan's hash env")
		grant      = fs.String("grant", "", "execution grant token (execute)")
		force      = fs.Bool("force", false, "overwrite existing workflow state (init)")
		jsonOut    = fs.Bool("json", false, "print the workflow state as JSON")
		verbose    = fs.Bool("verbose", false, "debug logging")
	)
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	setupLogging(stderr, *verbose)

	if *sessionID == "" {
		return fail(stderr, "approval", fmt.Errorf("%w: --session is required", contracts.ErrConfig))
	}
	store, err := artifacts.NewStore(*outDir)
	if err != nil {
		return fail(stderr, "approval", err)
	}
	sess, err := store.Session(*sessionID)
	if err != nil {
		return fail(stderr, "approval", err)
	}

	wf := approval.NewWorkflow()
	if *passHash != "" {
		wf = wf.WithPasswordHash(*passHash)
	}
	who := approval.Actor{Name: *actor, Role: *role, Comment: *comment}

	if action == "init" {
		return approvalInit(sess, wf, *policyPath, *force, *jsonOut, stdout, stderr)
	}

	var st contracts.ApprovalState
	if err := sess.ReadJSON(contracts.FileApprovalState, &st); err != nil {
		return fail(stderr, "approval", err)
	}

	record := func(ev *contracts.ApprovalEvent) {
		if ev != nil {
			if err := sess.AppendJSONL(contracts.FileApprovalEvents, ev); err != nil {
				fmt.Fprintf(stderr, "approval: record event: %v\n", err)
			}
		}
	}

	var (
		ev    *contracts.ApprovalEvent
		opErr error
	)
	switch action {
	case "status":
		emitJSON(stdout, &st)
		return 0
	case "submit":
		ev, opErr = wf.Submit(&st, who)
	case "approve":
		ev, opErr = wf.Approve(&st, who)
	case "reject":
		ev, opErr = wf.Reject(&st, who)
	case "reopen":
		ev, opErr = wf.Reopen(&st, who)
	case "verify-password":
		token, err := wf.VerifyPassword(&st, *password)
		if err != nil {
			return fail(stderr, "approval", err)
		}
		if err := sess.WriteJSON(contracts.FileApprovalState, &st); err != nil {
			return fail(stderr, "approval", err)
		}
		fmt.Fprintln(stdout, token)
		return 0
	case "execute":
		ev, opErr = wf.Execute(&st, who, *grant)
	case "verify":
		ev, opErr = wf.Verify(&st, who)
	case "archive":
		ev, opErr = wf.Archive(&st, who)
	default:
		fmt.Fprintf(stderr, "approval: unknown action %q\n", action)
		return 1
	}

	record(ev)
	if opErr != nil {
		return fail(stderr, "approval", opErr)
	}
	if err := sess.WriteJSON(contracts.FileApprovalState, &st); err != nil {
		return fail(stderr, "approval", err)
	}
	if *jsonOut {
		emitJSON(stdout, &st)
	} else {
		fmt.Fprintf(stdout, "workflow %s: %s\n", st.WorkflowID, st.Status)
	}
	return 0
}

func approvalInit(sess *artifacts.Session, wf *approval.Workflow, policyPath string, force, jsonOut bool, stdout, stderr io.Writer) int {
	if sess.Exists(contracts.FileApprovalState) && !force {
		return fail(stderr, "approval",
			fmt.Errorf("%w: workflow state already exists, use --force to overwrite", contracts.ErrConfig))
	}
	var p contracts.ChangePlan
	if err := sess.ReadJSON(contracts.FileChangePlan, &p); err != nil {
		return fail(stderr, "approval", err)
	}
	pol, err := loadPolicy(policyPath)
	if err != nil {
		return fail(stderr, "approval", err)
	}
	roles := contracts.RoleRequirements{Submit: []string{}, Approve: []string{}, Execute: []string{}, Verify: []string{}}
	distinct := false
	if pol.Roles != nil {
		roles = contracts.RoleRequirements{
			Submit:  pol.Roles.Submit,
			Approve: pol.Roles.Approve,
			Execute: pol.Roles.Execute,
			Verify:  pol.Roles.Verify,
		}
		distinct = pol.Roles.RequireDistinctActorRoles
	}

	st := wf.Init(&p, roles, distinct)
	if err := sess.WriteJSON(contracts.FileApprovalState, st); err != nil {
		return fail(stderr, "approval", err)
	}
	ev := &contracts.ApprovalEvent{
		WorkflowID: st.WorkflowID,
		PlanID:     st.PlanID,
		Action:     "init",
		From:       contracts.ApprovalDraft,
		To:         contracts.ApprovalDraft,
		Actor:      "system",
		Timestamp:  st.CreatedAt,
	}
	if err := sess.AppendJSONL(contracts.FileApprovalEvents, ev); err != nil {
		fmt.Fprintf(stderr, "approval: record event: %v\n", err)
	}
	if jsonOut {
		emitJSON(stdout, st)
	} else {
		fmt.Fprintf(stdout, "workflow %s: %s\n", st.WorkflowID, st.Status)
	}
	return 0
}
