package contracts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Session artifact file names, written under <out-dir>/<session_id>/.
const (
	FileNormalizedContext = "interactive-page-context.normalized.json"
	FileBridgeReport      = "interactive-context-bridge.json"
	FileDialogueDecision  = "interactive-dialogue-governance.json"
	FileChangeIntent      = "interactive-change-intent.json"
	FilePageExplain       = "interactive-page-explain.md"
	FileCopilotAudit      = "interactive-copilot-audit.jsonl"
	FileChangePlan        = "interactive-change-plan.generated.json"
	FileChangePlanMD      = "interactive-change-plan.generated.md"
	FileGateDecision      = "interactive-change-plan-gate.json"
	FileGateDecisionMD    = "interactive-change-plan-gate.md"
	FileRuntimeDecision   = "interactive-runtime-policy.json"
	FileTierDecision      = "interactive-authorization-tier.json"
	FileApprovalState     = "interactive-approval-state.json"
	FileApprovalEvents    = "interactive-approval-events.jsonl"
	FileAdapterReport     = "interactive-moqui-adapter.json"
	FileExecutionLedger   = "interactive-execution-ledger.jsonl"
	FileWorkOrder         = "interactive-work-order.json"
	FileWorkOrderMD       = "interactive-work-order.md"
	FileLoopSummary       = "interactive-customization-loop.summary.json"
	FileUserFeedback      = "interactive-user-feedback.jsonl"
)

// Timestamp formats a time as the wire-format ISO-8601 UTC string.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// EncodeJSON renders an artifact as indented JSON with a trailing newline and
// without HTML escaping, so two runs produce byte-identical documents.
func EncodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeJSONLine renders a record as a single compact JSONL line.
func EncodeJSONLine(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return buf.Bytes(), nil
}
