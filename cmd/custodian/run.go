// Command custodian drives the interactive customization governance loop:
// one session at a time, in remediation batches, or as reporting and
// approval tooling over the produced artifacts.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/custodian-labs/custodian/pkg/contracts"
	"github.com/custodian-labs/custodian/pkg/policy"
)

// Run is the entrypoint, split from main for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 1
	}
	switch args[1] {
	case "loop":
		return runLoopCmd(args[2:], stdout, stderr)
	case "approval":
		return runApprovalCmd(args[2:], stdout, stderr)
	case "adapter":
		return runAdapterCmd(args[2:], stdout, stderr)
	case "report":
		return runReportCmd(args[2:], stdout, stderr)
	case "feedback":
		return runFeedbackCmd(args[2:], stdout, stderr)
	case "remediate":
		return runRemediateCmd(args[2:], stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "custodian: unknown command %q\n", args[1])
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `Usage: custodian <command> [flags]

Commands:
  loop        run the customization governance loop for one session
  approval    drive the approval workflow for a session's plan
  adapter     validate, apply or roll back a session's plan
  report      aggregate governance signals over a time window
  feedback    record or list user feedback
  remediate   run close-loop batches in risk phases
  export      upload a session's artifacts to S3

Run "custodian <command> -h" for command flags.`)
}

// setupLogging installs a JSON slog handler on stderr.
func setupLogging(stderr io.Writer, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: level})))
}

// fail prints a single stage-prefixed line and maps the error to an exit
// code.
func fail(stderr io.Writer, stage string, err error) int {
	fmt.Fprintf(stderr, "%s: %v\n", stage, err)
	return contracts.ExitCode(err)
}

// emitJSON writes the pretty-printed summary as the last stdout line.
func emitJSON(stdout io.Writer, v any) {
	data, err := contracts.EncodeJSON(v)
	if err != nil {
		fmt.Fprintf(stdout, "{\"error\":%q}\n", err.Error())
		return
	}
	stdout.Write(data)
}

// loadPolicy loads the merged policy, falling back to built-in defaults when
// path is empty.
func loadPolicy(path string) (*policy.Policy, error) {
	return policy.Load(path)
}

// loadJSONFile decodes a JSON document from a file.
func loadJSONFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", contracts.ErrIO, path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", contracts.ErrConfig, path, err)
	}
	return nil
}
