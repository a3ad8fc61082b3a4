package policy

import (
	"log/slog"
	"regexp"

	"github.com/google/cel-go/cel"
)

// CompiledPattern pairs a source pattern with its compiled, case-insensitive
// regex. Patterns that fail to compile are dropped at load time rather than
// failing the pipeline.
type CompiledPattern struct {
	Source string
	Regexp *regexp.Regexp
}

// CompiledGuardRule pairs a CEL guard rule with its compiled program.
type CompiledGuardRule struct {
	Rule    GuardRule
	Program cel.Program
}

func compilePatterns(patterns []string) []CompiledPattern {
	out := make([]CompiledPattern, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			slog.Default().Warn("policy: dropping unparsable pattern", "pattern", p, "err", err)
			continue
		}
		out = append(out, CompiledPattern{Source: p, Regexp: re})
	}
	return out
}

// guardCELEnv declares the evaluation environment for guard rules: the plan
// artifact is bound as a dynamic map named "plan".
func guardCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("plan", cel.DynType),
	)
}

func compileRules(p *Policy) *compiledRules {
	c := &compiledRules{}

	env, err := guardCELEnv()
	if err != nil {
		slog.Default().Warn("policy: cel environment unavailable, guard rules disabled", "err", err)
		return c
	}
	for _, rule := range p.Gate.GuardRules {
		ast, issues := env.Compile(rule.Expression)
		if issues != nil && issues.Err() != nil {
			slog.Default().Warn("policy: dropping unparsable guard rule", "id", rule.ID, "err", issues.Err())
			continue
		}
		prg, err := env.Program(ast)
		if err != nil {
			slog.Default().Warn("policy: dropping guard rule", "id", rule.ID, "err", err)
			continue
		}
		c.guardPrograms = append(c.guardPrograms, guardProgram{rule: rule, prg: prg})
	}
	return c
}

// GuardRules returns the compiled CEL guard rules for the plan gate.
func (p *Policy) GuardRules() []CompiledGuardRule {
	if p.compiled == nil {
		return nil
	}
	out := make([]CompiledGuardRule, 0, len(p.compiled.guardPrograms))
	for _, g := range p.compiled.guardPrograms {
		out = append(out, CompiledGuardRule{Rule: g.rule, Program: g.prg})
	}
	return out
}
