// Package dialogue screens the user's business goal against the dialogue
// policy before any plan is considered.
package dialogue

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/custodian-labs/custodian/pkg/contracts"
	"github.com/custodian-labs/custodian/pkg/policy"
)

// Governor evaluates goal text for one resolved profile.
type Governor struct {
	resolved *policy.ResolvedDialogue
	clock    func() time.Time
	logger   *slog.Logger
}

// New creates a governor for the given resolved dialogue policy.
func New(resolved *policy.ResolvedDialogue) *Governor {
	return &Governor{
		resolved: resolved,
		clock:    time.Now,
		logger:   slog.Default().With("component", "dialogue-governor"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (g *Governor) WithClock(clock func() time.Time) *Governor {
	g.clock = clock
	return g
}

// Screen normalizes the goal and applies deny patterns, clarify patterns and
// the length policy. Deny wins over clarify; at most two clarification
// questions are selected.
func (g *Governor) Screen(goal string, pc *contracts.PageContext) *contracts.DialogueDecision {
	normalized := NormalizeGoal(goal)

	d := &contracts.DialogueDecision{
		Decision:               contracts.DialogueAllow,
		Reasons:                []string{},
		DenyHits:               []string{},
		ClarifyHits:            []string{},
		ClarificationQuestions: []string{},
		ResponseRules:          g.resolved.ResponseRules,
		Profile:                g.resolved.Profile,
		GeneratedAt:            contracts.Timestamp(g.clock()),
	}

	lengthIssues := g.checkLength(normalized)

	for _, p := range g.resolved.DenyRegexps {
		if p.Regexp.MatchString(normalized) {
			d.DenyHits = append(d.DenyHits, p.Source)
		}
	}
	if len(d.DenyHits) > 0 {
		d.Decision = contracts.DialogueDeny
		d.Reasons = dedupe(append(d.Reasons, "goal matches a denied request pattern"))
		return d
	}

	for _, p := range g.resolved.ClarifyRegexps {
		if p.Regexp.MatchString(normalized) {
			d.ClarifyHits = append(d.ClarifyHits, p.Source)
		}
	}

	if len(d.ClarifyHits) > 0 || len(lengthIssues) > 0 {
		d.Decision = contracts.DialogueClarify
		d.Reasons = dedupe(append(lengthIssues, clarifyReasons(d.ClarifyHits)...))
		d.ClarificationQuestions = g.selectQuestions(pc)
		return d
	}

	d.Reasons = []string{"goal passed dialogue screening"}
	return d
}

// NormalizeGoal trims, NFC-normalizes and collapses whitespace runs.
func NormalizeGoal(goal string) string {
	normalized := norm.NFC.String(strings.TrimSpace(goal))
	return strings.Join(strings.Fields(normalized), " ")
}

func (g *Governor) checkLength(goal string) []string {
	lp := g.resolved.LengthPolicy
	var issues []string
	if lp.MinChars > 0 && len(goal) < lp.MinChars {
		issues = append(issues, fmt.Sprintf("goal shorter than %d characters", lp.MinChars))
	}
	if lp.MaxChars > 0 && len(goal) > lp.MaxChars {
		issues = append(issues, fmt.Sprintf("goal longer than %d characters", lp.MaxChars))
	}
	if lp.MinSignificantTokens > 0 && len(strings.Fields(goal)) < lp.MinSignificantTokens {
		issues = append(issues, fmt.Sprintf("goal has fewer than %d significant tokens", lp.MinSignificantTokens))
	}
	return issues
}

// selectQuestions picks at most two clarification questions. Context-driven
// questions (missing module or page) come before policy templates.
func (g *Governor) selectQuestions(pc *contracts.PageContext) []string {
	var questions []string
	if pc == nil || pc.Module == "" {
		questions = append(questions, "Which module should this change apply to?")
	}
	if pc == nil || pc.Page == "" {
		questions = append(questions, "Which page or screen should this change apply to?")
	}
	questions = append(questions, g.resolved.ClarificationTemplates...)
	questions = dedupe(questions)
	if len(questions) > 2 {
		questions = questions[:2]
	}
	return questions
}

func clarifyReasons(hits []string) []string {
	if len(hits) == 0 {
		return nil
	}
	return []string{"goal matches a clarification pattern"}
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
