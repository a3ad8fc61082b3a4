package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/custodian-labs/custodian/pkg/artifacts"
	"github.com/custodian-labs/custodian/pkg/contracts"
	"github.com/custodian-labs/custodian/pkg/signals"
)

func runReportCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		outDir      = fs.String("out", "out", "artifact output directory")
		policyPath  = fs.String("policy", "", "policy file (JSON or YAML)")
		window      = fs.String("window", "weekly", "report window: weekly | monthly | all | custom")
		fromStr     = fs.String("from", "", "custom window start (RFC3339)")
		toStr       = fs.String("to", "", "custom window end (RFC3339)")
		outputPath  = fs.String("output", "", "write the report JSON to this file as well")
		archivePath = fs.String("archive", "", "also archive the ingested signals into this sqlite file")
		failOnAlert = fs.Bool("fail-on-alert", false, "exit 2 on any medium or high alert")
		verbose     = fs.Bool("verbose", false, "debug logging")
	)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	setupLogging(stderr, *verbose)

	pol, err := loadPolicy(*policyPath)
	if err != nil {
		return fail(stderr, "report", err)
	}

	var from, to time.Time
	if *fromStr != "" {
		if from, err = time.Parse(time.RFC3339, *fromStr); err != nil {
			return fail(stderr, "report", fmt.Errorf("%w: bad --from: %v", contracts.ErrConfig, err))
		}
	}
	if *toStr != "" {
		if to, err = time.Parse(time.RFC3339, *toStr); err != nil {
			return fail(stderr, "report", fmt.Errorf("%w: bad --to: %v", contracts.ErrConfig, err))
		}
	}
	w, err := signals.WindowFor(*window, time.Now(), from, to)
	if err != nil {
		return fail(stderr, "report", err)
	}

	in, err := gatherReportInput(*outDir)
	if err != nil {
		return fail(stderr, "report", err)
	}

	if *archivePath != "" {
		ctx := context.Background()
		arch, err := signals.OpenArchive(ctx, *archivePath)
		if err != nil {
			return fail(stderr, "report", err)
		}
		defer arch.Close()
		if err := arch.StoreSignals(ctx, in.Signals); err != nil {
			return fail(stderr, "report", err)
		}
		if err := arch.StoreMatrix(ctx, in.Matrix); err != nil {
			return fail(stderr, "report", err)
		}
	}

	rep := signals.NewReporter(pol.Thresholds).Build(*in, w)
	emitJSON(stdout, rep)
	if *outputPath != "" {
		data, err := contracts.EncodeJSON(rep)
		if err == nil {
			err = os.WriteFile(*outputPath, data, 0o644)
		}
		if err != nil {
			return fail(stderr, "report", fmt.Errorf("%w: write report: %v", contracts.ErrIO, err))
		}
	}

	if *failOnAlert && rep.HasActionableAlert() {
		return fail(stderr, "report",
			fmt.Errorf("%w: report raised %d breach(es) and %d warning(s)",
				contracts.ErrPolicyDeny, rep.Summary.Breaches, rep.Summary.Warnings))
	}
	return 0
}

// gatherReportInput loads the global signal streams and walks the session
// directories for ledgers, audits and feedback.
func gatherReportInput(outDir string) (*signals.Input, error) {
	in := &signals.Input{}
	streamDir := filepath.Join(outDir, signals.StreamDir)

	for _, stage := range []contracts.SignalStage{
		contracts.SignalStageDialogueAuthorization,
		contracts.SignalStageRuntime,
		contracts.SignalStageAuthorizationTier,
	} {
		recs, err := artifacts.ReadJSONLFile[contracts.Signal](filepath.Join(streamDir, signals.StreamFile(stage)))
		if err != nil {
			return nil, err
		}
		in.Signals = append(in.Signals, recs...)
	}
	matrix, err := artifacts.ReadJSONLFile[contracts.MatrixSignal](
		filepath.Join(streamDir, signals.StreamFile(contracts.SignalStageMatrix)))
	if err != nil {
		return nil, err
	}
	in.Matrix = matrix

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("%w: read output directory: %v", contracts.ErrIO, err)
	}
	for _, ent := range entries {
		if !ent.IsDir() || ent.Name() == signals.StreamDir {
			continue
		}
		dir := filepath.Join(outDir, ent.Name())
		execs, err := artifacts.ReadJSONLFile[contracts.ExecutionRecord](filepath.Join(dir, contracts.FileExecutionLedger))
		if err != nil {
			return nil, err
		}
		in.Executions = append(in.Executions, execs...)
		audits, err := artifacts.ReadJSONLFile[contracts.AuditEvent](filepath.Join(dir, contracts.FileCopilotAudit))
		if err != nil {
			return nil, err
		}
		in.Audit = append(in.Audit, audits...)
		fb, err := artifacts.ReadJSONLFile[contracts.FeedbackRecord](filepath.Join(dir, contracts.FileUserFeedback))
		if err != nil {
			return nil, err
		}
		in.Feedback = append(in.Feedback, fb...)
	}
	return in, nil
}
