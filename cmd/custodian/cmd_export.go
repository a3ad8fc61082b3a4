package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/custodian-labs/custodian/pkg/artifacts"
	"github.com/custodian-labs/custodian/pkg/contracts"
)

func runExportCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		outDir    = fs.String("out", "out", "artifact output directory")
		sessionID = fs.String("session", "", "session id (required)")
		bucket    = fs.String("bucket", "", "destination S3 bucket (required)")
		prefix    = fs.String("prefix", "custodian-sessions", "S3 key prefix")
		jsonOut   = fs.Bool("json", false, "print the uploaded keys as JSON")
		verbose   = fs.Bool("verbose", false, "debug logging")
	)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	setupLogging(stderr, *verbose)

	if *sessionID == "" || *bucket == "" {
		return fail(stderr, "export", fmt.Errorf("%w: --session and --bucket are required", contracts.ErrConfig))
	}
	store, err := artifacts.NewStore(*outDir)
	if err != nil {
		return fail(stderr, "export", err)
	}
	sess, err := store.Session(*sessionID)
	if err != nil {
		return fail(stderr, "export", err)
	}

	ctx := context.Background()
	exporter, err := artifacts.NewS3Exporter(ctx, *bucket, *prefix)
	if err != nil {
		return fail(stderr, "export", err)
	}
	keys, err := exporter.ExportSession(ctx, sess)
	if err != nil {
		return fail(stderr, "export", err)
	}

	if *jsonOut {
		emitJSON(stdout, map[string]any{"bucket": *bucket, "keys": keys})
	} else {
		fmt.Fprintf(stdout, "exported %d artifact(s) to s3://%s/%s/%s\n", len(keys), *bucket, *prefix, *sessionID)
	}
	return 0
}
