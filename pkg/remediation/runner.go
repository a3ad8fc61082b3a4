// Package remediation runs close-loop batches of independent sessions in
// risk phases: high first, then medium, with bounded parallelism and a
// cooldown between task starts.
package remediation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodian-labs/custodian/pkg/contracts"
	"github.com/custodian-labs/custodian/pkg/loop"
)

// SessionRunner is the close-loop entry point the runner drives.
type SessionRunner interface {
	Run(ctx context.Context, opts loop.Options) (*loop.Summary, error)
}

// Task is one session to remediate, assigned to a risk phase.
type Task struct {
	Phase   contracts.RiskLevel
	Options loop.Options
}

// Config tunes the batch runner.
type Config struct {
	Parallelism     int
	Cooldown        time.Duration
	ContinueOnError bool
}

// Result is the outcome of one task.
type Result struct {
	SessionID string              `json:"session_id"`
	Phase     contracts.RiskLevel `json:"phase"`
	Failed    bool                `json:"failed"`
	Error     string              `json:"error,omitempty"`
	Summary   *loop.Summary       `json:"summary,omitempty"`
}

// BatchReport summarizes one remediation run.
type BatchReport struct {
	Results   []Result `json:"results"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Stopped   bool     `json:"stopped"`
}

// Runner executes remediation batches.
type Runner struct {
	runner  SessionRunner
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a runner. Parallelism defaults to 2; a zero cooldown disables
// pacing.
func New(runner SessionRunner, cfg Config) *Runner {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 2
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.Cooldown > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.Cooldown), 1)
	}
	return &Runner{
		runner:  runner,
		cfg:     cfg,
		limiter: limiter,
		logger:  slog.Default().With("component", "remediation"),
	}
}

// Run executes the high phase to completion before starting medium. A failed
// high phase stops the batch unless ContinueOnError is set. Tasks tagged
// with any other phase run with the medium batch.
func (r *Runner) Run(ctx context.Context, tasks []Task) (*BatchReport, error) {
	var high, medium []Task
	for _, t := range tasks {
		if t.Phase == contracts.RiskHigh {
			high = append(high, t)
		} else {
			medium = append(medium, t)
		}
	}

	report := &BatchReport{Results: []Result{}}
	runPhase := func(phase contracts.RiskLevel, batch []Task) error {
		if len(batch) == 0 {
			return nil
		}
		r.logger.Info("remediation phase starting", "phase", phase, "tasks", len(batch))
		results := r.runBatch(ctx, batch)
		failed := 0
		for _, res := range results {
			report.Results = append(report.Results, res)
			if res.Failed {
				failed++
				report.Failed++
			} else {
				report.Succeeded++
			}
		}
		if failed > 0 && !r.cfg.ContinueOnError {
			return fmt.Errorf("%w: %d task(s) failed in the %s phase", contracts.ErrExecutionFailed, failed, phase)
		}
		return nil
	}

	if err := runPhase(contracts.RiskHigh, high); err != nil {
		report.Stopped = true
		return report, err
	}
	if err := runPhase(contracts.RiskMedium, medium); err != nil {
		report.Stopped = true
		return report, err
	}
	return report, nil
}

// runBatch runs one phase with bounded parallelism, pacing task starts with
// the cooldown limiter.
func (r *Runner) runBatch(ctx context.Context, batch []Task) []Result {
	results := make([]Result, len(batch))
	sem := make(chan struct{}, r.cfg.Parallelism)
	var wg sync.WaitGroup

	for i, task := range batch {
		if err := r.limiter.Wait(ctx); err != nil {
			results[i] = Result{SessionID: task.Options.SessionID, Phase: task.Phase, Failed: true, Error: err.Error()}
			continue
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			defer func() { <-sem }()
			sum, err := r.runner.Run(ctx, task.Options)
			res := Result{SessionID: task.Options.SessionID, Phase: task.Phase, Summary: sum}
			if err != nil {
				res.Failed = true
				res.Error = err.Error()
			}
			results[i] = res
		}(i, task)
	}
	wg.Wait()
	return results
}
