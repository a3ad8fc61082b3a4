// Package signals appends per-stage governance signals and aggregates them
// into periodic reports.
package signals

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/custodian-labs/custodian/pkg/artifacts"
	"github.com/custodian-labs/custodian/pkg/contracts"
)

// SessionSignalsFile is the per-session copy of every signal the session
// emitted.
const SessionSignalsFile = "interactive-governance-signals.jsonl"

// StreamDir is the subdirectory of the output root holding the global
// signal streams.
const StreamDir = "signals"

// StreamFile returns the global stream filename for a stage.
func StreamFile(stage contracts.SignalStage) string {
	return "governance-" + string(stage) + ".jsonl"
}

// Emitter appends signals to the stage streams and the per-session copy.
type Emitter struct {
	dir   string
	clock func() time.Time

	mu      sync.Mutex
	streams map[contracts.SignalStage]*artifacts.GlobalStream
}

// NewEmitter creates an emitter writing global streams under
// <root>/signals/.
func NewEmitter(root string) *Emitter {
	return &Emitter{
		dir:     filepath.Join(root, StreamDir),
		clock:   time.Now,
		streams: map[contracts.SignalStage]*artifacts.GlobalStream{},
	}
}

// WithClock overrides the clock for deterministic testing.
func (e *Emitter) WithClock(clock func() time.Time) *Emitter {
	e.clock = clock
	return e
}

// Emit stamps and appends one signal to its stage stream and to the
// session's local copy. A nil session skips the local copy.
func (e *Emitter) Emit(sess *artifacts.Session, sig *contracts.Signal) error {
	if sig.Timestamp == "" {
		sig.Timestamp = contracts.Timestamp(e.clock())
	}
	if sig.BusinessMode == "" {
		sig.BusinessMode = contracts.BusinessModeUnknown
	}
	if sess != nil {
		if err := sess.AppendJSONL(SessionSignalsFile, sig); err != nil {
			return err
		}
	}
	return e.stream(sig.Stage).Append(sig)
}

// EmitMatrix appends a matrix baseline-scoring record to the matrix stream.
func (e *Emitter) EmitMatrix(sess *artifacts.Session, sig *contracts.MatrixSignal) error {
	sig.Stage = contracts.SignalStageMatrix
	if sig.Timestamp == "" {
		sig.Timestamp = contracts.Timestamp(e.clock())
	}
	if sig.BusinessMode == "" {
		sig.BusinessMode = contracts.BusinessModeUnknown
	}
	if sess != nil {
		if err := sess.AppendJSONL(SessionSignalsFile, sig); err != nil {
			return err
		}
	}
	return e.stream(contracts.SignalStageMatrix).Append(sig)
}

func (e *Emitter) stream(stage contracts.SignalStage) *artifacts.GlobalStream {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.streams[stage]
	if !ok {
		s = artifacts.NewGlobalStream(filepath.Join(e.dir, StreamFile(stage)))
		e.streams[stage] = s
	}
	return s
}

// Close closes every open stream.
func (e *Emitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var firstErr error
	for _, s := range e.streams {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.streams = map[contracts.SignalStage]*artifacts.GlobalStream{}
	return firstErr
}
