package adapter

import (
	"github.com/custodian-labs/custodian/pkg/artifacts"
	"github.com/custodian-labs/custodian/pkg/contracts"
)

// SessionLedger stores execution records in the session's ledger stream and
// mirrors each record onto an optional global stream.
type SessionLedger struct {
	sess   *artifacts.Session
	global *artifacts.GlobalStream
}

// NewSessionLedger creates a ledger for one session. The global stream may
// be nil.
func NewSessionLedger(sess *artifacts.Session, global *artifacts.GlobalStream) *SessionLedger {
	return &SessionLedger{sess: sess, global: global}
}

// Append writes the record to the session ledger and the global stream.
func (l *SessionLedger) Append(rec *contracts.ExecutionRecord) error {
	if err := l.sess.AppendJSONL(contracts.FileExecutionLedger, rec); err != nil {
		return err
	}
	if l.global != nil {
		return l.global.Append(rec)
	}
	return nil
}

// Records returns every ledger record for the plan, in append order.
func (l *SessionLedger) Records(planID string) ([]contracts.ExecutionRecord, error) {
	all, err := artifacts.ReadJSONL[contracts.ExecutionRecord](l.sess, contracts.FileExecutionLedger)
	if err != nil {
		return nil, err
	}
	out := make([]contracts.ExecutionRecord, 0, len(all))
	for _, rec := range all {
		if rec.PlanID == planID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// MemoryLedger is an in-process ledger for tests and dry evaluation.
type MemoryLedger struct {
	records []contracts.ExecutionRecord
}

// Append stores the record in memory.
func (l *MemoryLedger) Append(rec *contracts.ExecutionRecord) error {
	l.records = append(l.records, *rec)
	return nil
}

// Records returns the stored records for the plan.
func (l *MemoryLedger) Records(planID string) ([]contracts.ExecutionRecord, error) {
	out := make([]contracts.ExecutionRecord, 0, len(l.records))
	for _, rec := range l.records {
		if rec.PlanID == planID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// All returns every stored record.
func (l *MemoryLedger) All() []contracts.ExecutionRecord { return l.records }
