package artifacts

import (
	"fmt"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/custodian-labs/custodian/pkg/contracts"
)

// MaxGlobalRecordBytes caps one record on a shared stream at the POSIX
// PIPE_BUF atomic-write size. Oversized records are refused, not truncated.
const MaxGlobalRecordBytes = 4096

// GlobalStream is an append-only JSONL stream shared across sessions, with
// size-based rotation.
type GlobalStream struct {
	mu  sync.Mutex
	out *lumberjack.Logger
}

// NewGlobalStream opens a rotating stream at path.
func NewGlobalStream(path string) *GlobalStream {
	return &GlobalStream{
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			Compress:   true,
		},
	}
}

// Append writes one record as a single line. Records longer than
// MaxGlobalRecordBytes are refused.
func (g *GlobalStream) Append(v any) error {
	line, err := contracts.EncodeJSONLine(v)
	if err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrIO, err)
	}
	if len(line) > MaxGlobalRecordBytes {
		return fmt.Errorf("%w: record of %d bytes exceeds the %d byte stream limit",
			contracts.ErrIO, len(line), MaxGlobalRecordBytes)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := g.out.Write(line); err != nil {
		return fmt.Errorf("%w: append stream record: %v", contracts.ErrIO, err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (g *GlobalStream) Close() error { return g.out.Close() }
