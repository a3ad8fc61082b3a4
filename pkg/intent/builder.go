// Package intent turns a screened goal plus normalized context into an
// immutable change intent with a sanitized audit trail.
package intent

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/custodian-labs/custodian/pkg/canonical"
	"github.com/custodian-labs/custodian/pkg/contracts"
)

var (
	highPriorityWords = []string{"urgent", "asap", "immediately", "critical"}
	lowPriorityWords  = []string{"later", "eventually", "optional", "nice to have"}

	highRiskWords   = []string{"delete", "drop", "permission", "privilege", "payment", "credential", "secret", "token"}
	mediumRiskWords = []string{"approval", "workflow", "inventory", "customer", "order", "pricing", "refund"}

	constraintRe = regexp.MustCompile(`(?i)\b(must|cannot|without|need to|should)\b[^.;,\n]*`)
)

const maxConstraints = 8

// Builder assembles change intents.
type Builder struct {
	sensitiveKeywords []string
	clock             func() time.Time
	newID             func() string
}

// NewBuilder creates a builder using the contract's sensitive key patterns
// for redaction.
func NewBuilder(sensitiveKeywords []string) *Builder {
	return &Builder{
		sensitiveKeywords: sensitiveKeywords,
		clock:             time.Now,
		newID:             func() string { return uuid.New().String() },
	}
}

// WithClock overrides the clock for deterministic testing.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// WithIDSource overrides ID generation for deterministic testing.
func (b *Builder) WithIDSource(newID func() string) *Builder {
	b.newID = newID
	return b
}

// Input carries everything the builder needs for one session.
type Input struct {
	SessionID  string
	UserID     string
	Goal       string
	Context    *contracts.PageContext
	RawContext map[string]any
	Validation contracts.ContractValidation
}

// Result is the intent plus its side artifacts.
type Result struct {
	Intent           *contracts.ChangeIntent
	SanitizedContext map[string]any
	Explain          string
	AuditEvent       *contracts.AuditEvent
}

// Build sanitizes the context, derives priority and risk hint, extracts
// constraints and emits the intent with its audit event. The intent is
// immutable once returned.
func (b *Builder) Build(in Input) (*Result, error) {
	sanitized := SanitizeContext(in.RawContext, b.sensitiveKeywords)
	contextHash, err := canonical.Digest(sanitized)
	if err != nil {
		return nil, fmt.Errorf("intent: hash sanitized context: %w", err)
	}

	now := b.clock()
	pc := in.Context

	it := &contracts.ChangeIntent{
		IntentID:  "intent-" + b.newID(),
		SessionID: in.SessionID,
		UserID:    in.UserID,
		ContextRef: contracts.ContextRef{
			Product:      pc.Product,
			Module:       pc.Module,
			Page:         pc.Page,
			Entity:       pc.Entity,
			SceneID:      pc.SceneID,
			WorkflowNode: pc.WorkflowNode,
		},
		BusinessGoal: in.Goal,
		Constraints:  extractConstraints(in.Goal),
		Priority:     derivePriority(in.Goal),
		CreatedAt:    contracts.Timestamp(now),
		Metadata: contracts.IntentMetadata{
			Mode:               "read-only",
			RiskHint:           deriveRiskHint(in.Goal, pc, in.Validation),
			ContextSummary:     summarize(pc),
			ContractValidation: in.Validation,
		},
	}

	audit := &contracts.AuditEvent{
		EventID:       "audit-" + b.newID(),
		SessionID:     in.SessionID,
		UserID:        in.UserID,
		IntentID:      it.IntentID,
		Stage:         "intent-builder",
		ContextSHA256: contextHash,
		Timestamp:     contracts.Timestamp(now),
	}

	return &Result{
		Intent:           it,
		SanitizedContext: sanitized,
		Explain:          renderExplain(it, pc),
		AuditEvent:       audit,
	}, nil
}

func derivePriority(goal string) contracts.Priority {
	lower := strings.ToLower(goal)
	for _, w := range highPriorityWords {
		if strings.Contains(lower, w) {
			return contracts.PriorityHigh
		}
	}
	for _, w := range lowPriorityWords {
		if strings.Contains(lower, w) {
			return contracts.PriorityLow
		}
	}
	return contracts.PriorityMedium
}

func deriveRiskHint(goal string, pc *contracts.PageContext, validation contracts.ContractValidation) contracts.RiskLevel {
	haystack := strings.ToLower(goal + " " + pc.Module + " " + pc.Entity)
	for _, w := range highRiskWords {
		if strings.Contains(haystack, w) {
			return contracts.RiskHigh
		}
	}
	if len(validation.ForbiddenKeyHits) > 0 {
		return contracts.RiskHigh
	}
	if ws := pc.SceneWorkspace; ws != nil && (len(ws.DecisionPolicies) > 0 || len(ws.BusinessRules) > 0) {
		return contracts.RiskMedium
	}
	lowerGoal := strings.ToLower(goal)
	for _, w := range mediumRiskWords {
		if strings.Contains(lowerGoal, w) {
			return contracts.RiskMedium
		}
	}
	return contracts.RiskLow
}

func extractConstraints(goal string) []string {
	matches := constraintRe.FindAllString(goal, -1)
	seen := make(map[string]bool, len(matches))
	out := []string{}
	for _, m := range matches {
		c := strings.TrimSpace(m)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
		if len(out) == maxConstraints {
			break
		}
	}
	return out
}

func summarize(pc *contracts.PageContext) contracts.ContextSummary {
	s := contracts.ContextSummary{FieldCount: len(pc.Fields)}
	for _, f := range pc.Fields {
		if f.Sensitive {
			s.SensitiveFieldCount++
		}
	}
	if ws := pc.SceneWorkspace; ws != nil {
		s.OntologyEntities = len(ws.Entities)
		s.OntologyRelations = len(ws.Relations)
		s.BusinessRules = len(ws.BusinessRules)
		s.DecisionPolicies = len(ws.DecisionPolicies)
		s.ExplorerPanels = len(ws.ExplorerPanels)
	}
	if pc.AssistantPanel != nil {
		s.AssistantPanels = 1
	}
	return s
}

func renderExplain(it *contracts.ChangeIntent, pc *contracts.PageContext) string {
	var sb strings.Builder
	sb.WriteString("# Page Explain\n\n")
	fmt.Fprintf(&sb, "- **Intent:** %s\n", it.IntentID)
	fmt.Fprintf(&sb, "- **Product / Module / Page:** %s / %s / %s\n", pc.Product, pc.Module, pc.Page)
	if pc.Entity != "" {
		fmt.Fprintf(&sb, "- **Entity:** %s\n", pc.Entity)
	}
	fmt.Fprintf(&sb, "- **Goal:** %s\n", it.BusinessGoal)
	fmt.Fprintf(&sb, "- **Priority:** %s · **Risk hint:** %s\n", it.Priority, it.Metadata.RiskHint)
	fmt.Fprintf(&sb, "- **Fields:** %d (%d sensitive)\n",
		it.Metadata.ContextSummary.FieldCount, it.Metadata.ContextSummary.SensitiveFieldCount)
	if len(it.Constraints) > 0 {
		sb.WriteString("\n## Constraints\n\n")
		for _, c := range it.Constraints {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
	}
	return sb.String()
}
