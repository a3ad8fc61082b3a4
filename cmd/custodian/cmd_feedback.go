package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/custodian-labs/custodian/pkg/artifacts"
	"github.com/custodian-labs/custodian/pkg/contracts"
)

func runFeedbackCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: custodian feedback <add|list> [flags]")
		return 1
	}
	action := args[0]

	fs := flag.NewFlagSet("feedback "+action, flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		outDir    = fs.String("out", "out", "artifact output directory")
		sessionID = fs.String("session", "", "session id (required)")
		userID    = fs.String("user", "", "user id")
		score     = fs.Float64("score", 0, "satisfaction score in [0,5]")
		comment   = fs.String("comment", "", "free-text comment")
		tags      = fs.String("tags", "", "comma-separated tags")
		channel   = fs.String("channel", "cli", "feedback channel: ui | cli | api | other")
		intentID  = fs.String("intent", "", "intent id")
		planID    = fs.String("plan", "", "plan id")
		execID    = fs.String("execution", "", "execution id")
		verbose   = fs.Bool("verbose", false, "debug logging")
	)
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	setupLogging(stderr, *verbose)

	if *sessionID == "" {
		return fail(stderr, "feedback", fmt.Errorf("%w: --session is required", contracts.ErrConfig))
	}
	store, err := artifacts.NewStore(*outDir)
	if err != nil {
		return fail(stderr, "feedback", err)
	}
	sess, err := store.Session(*sessionID)
	if err != nil {
		return fail(stderr, "feedback", err)
	}

	switch action {
	case "add":
		rec := &contracts.FeedbackRecord{
			FeedbackID:  "fb-" + uuid.New().String(),
			Timestamp:   contracts.Timestamp(time.Now()),
			UserID:      *userID,
			SessionID:   *sessionID,
			Score:       *score,
			Comment:     *comment,
			Tags:        splitTags(*tags),
			Channel:     contracts.FeedbackChannel(*channel),
			IntentID:    *intentID,
			PlanID:      *planID,
			ExecutionID: *execID,
		}
		var it contracts.ChangeIntent
		if err := sess.ReadJSON(contracts.FileChangeIntent, &it); err == nil {
			rec.Product = it.ContextRef.Product
			rec.Module = it.ContextRef.Module
			rec.Page = it.ContextRef.Page
			rec.SceneID = it.ContextRef.SceneID
			if rec.IntentID == "" {
				rec.IntentID = it.IntentID
			}
		}
		if err := rec.Validate(); err != nil {
			return fail(stderr, "feedback", err)
		}
		if err := sess.AppendJSONL(contracts.FileUserFeedback, rec); err != nil {
			return fail(stderr, "feedback", err)
		}
		emitJSON(stdout, rec)
		return 0

	case "list":
		recs, err := artifacts.ReadJSONL[contracts.FeedbackRecord](sess, contracts.FileUserFeedback)
		if err != nil {
			return fail(stderr, "feedback", err)
		}
		emitJSON(stdout, recs)
		return 0

	default:
		fmt.Fprintf(stderr, "feedback: unknown action %q\n", action)
		return 1
	}
}

func splitTags(s string) []string {
	out := []string{}
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
