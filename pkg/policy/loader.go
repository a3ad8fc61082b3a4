package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/custodian-labs/custodian/pkg/contracts"
)

// supportedVersions is the semver range a policy file's version must satisfy.
var supportedVersions = mustConstraint(">= 1.0.0, < 2.0.0")

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads and merges a policy file over the built-in defaults. An empty
// path returns the built-in policy with FromFile=false. Files ending in
// .yaml/.yml are parsed as YAML, everything else as JSON.
func Load(path string) (*Policy, error) {
	base := Builtin()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: read policy %s: %v", contracts.ErrIO, path, err)
		}

		var file filePolicy
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(raw, &file); err != nil {
				return nil, fmt.Errorf("%w: parse policy %s: %v", contracts.ErrConfig, path, err)
			}
		default:
			if err := json.Unmarshal(raw, &file); err != nil {
				return nil, fmt.Errorf("%w: parse policy %s: %v", contracts.ErrConfig, path, err)
			}
		}

		if file.Version != nil {
			v, err := semver.NewVersion(*file.Version)
			if err != nil {
				return nil, fmt.Errorf("%w: policy version %q is not semver", contracts.ErrConfig, *file.Version)
			}
			if !supportedVersions.Check(v) {
				return nil, fmt.Errorf("%w: policy version %q outside supported range %s",
					contracts.ErrConfig, *file.Version, supportedVersions)
			}
		}

		mergeFile(&base, &file)
		base.FromFile = true
	}

	normalize(&base)
	base.compiled = compileRules(&base)
	return &base, nil
}

// ResolvedDialogue is the dialogue policy after applying a profile overlay,
// with its regex rules compiled.
type ResolvedDialogue struct {
	Profile                string
	LengthPolicy           LengthPolicy
	DenyPatterns           []string
	ClarifyPatterns        []string
	ResponseRules          []string
	ClarificationTemplates []string
	DenyRegexps            []CompiledPattern
	ClarifyRegexps         []CompiledPattern
}

// ResolveProfile applies the named profile overlay to the base dialogue
// policy. An empty name selects the default profile. A name with no overlay
// defined fails with ErrProfileNotFound.
func (p *Policy) ResolveProfile(name string) (*ResolvedDialogue, error) {
	if name == "" {
		name = p.Dialogue.DefaultProfile
	}
	overlay, ok := p.Dialogue.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", contracts.ErrProfileNotFound, name)
	}

	r := &ResolvedDialogue{
		Profile:                name,
		LengthPolicy:           p.Dialogue.LengthPolicy,
		DenyPatterns:           appendUnique(p.Dialogue.DenyPatterns, overlay.DenyPatterns),
		ClarifyPatterns:        appendUnique(p.Dialogue.ClarifyPatterns, overlay.ClarifyPatterns),
		ResponseRules:          appendUnique(p.Dialogue.ResponseRules, overlay.ResponseRules),
		ClarificationTemplates: appendUnique(p.Dialogue.ClarificationTemplates, overlay.ClarificationTemplates),
	}

	// Length fields replace individually when finite.
	if lp := overlay.LengthPolicy; lp != nil {
		if lp.MinChars != nil && *lp.MinChars >= 0 {
			r.LengthPolicy.MinChars = *lp.MinChars
		}
		if lp.MaxChars != nil && *lp.MaxChars > 0 {
			r.LengthPolicy.MaxChars = *lp.MaxChars
		}
		if lp.MinSignificantTokens != nil && *lp.MinSignificantTokens >= 0 {
			r.LengthPolicy.MinSignificantTokens = *lp.MinSignificantTokens
		}
	}

	r.DenyRegexps = compilePatterns(r.DenyPatterns)
	r.ClarifyRegexps = compilePatterns(r.ClarifyPatterns)
	return r, nil
}

// ModeConfig resolves a runtime mode or fails with ErrModeNotDefined.
func (p *Policy) ModeConfig(mode string) (ModeConfig, error) {
	cfg, ok := p.Runtime.Modes[mode]
	if !ok {
		return ModeConfig{}, fmt.Errorf("%w: %q", contracts.ErrModeNotDefined, mode)
	}
	return cfg, nil
}

// EnvConfig resolves a runtime environment or fails with ErrEnvironmentNotDefined.
func (p *Policy) EnvConfig(env string) (EnvConfig, error) {
	cfg, ok := p.Runtime.Environments[env]
	if !ok {
		return EnvConfig{}, fmt.Errorf("%w: %q", contracts.ErrEnvironmentNotDefined, env)
	}
	return cfg, nil
}

// normalize deduplicates lists (order preserved) and lowercases enumerated
// values so evaluation never sees alias spellings.
func normalize(p *Policy) {
	p.Contract.RequiredFields = dedupeLower(p.Contract.RequiredFields)
	p.Contract.OptionalFields = dedupeLower(p.Contract.OptionalFields)
	p.Contract.SensitiveKeyPatterns = dedupeLower(p.Contract.SensitiveKeyPatterns)
	p.Contract.ForbiddenKeys = dedupeLower(p.Contract.ForbiddenKeys)

	p.Dialogue.DenyPatterns = dedupe(p.Dialogue.DenyPatterns)
	p.Dialogue.ClarifyPatterns = dedupe(p.Dialogue.ClarifyPatterns)
	p.Dialogue.ResponseRules = dedupe(p.Dialogue.ResponseRules)
	p.Dialogue.ClarificationTemplates = dedupe(p.Dialogue.ClarificationTemplates)

	p.Gate.Catalog.DenyActionTypes = dedupeActionTypes(p.Gate.Catalog.DenyActionTypes)
	p.Gate.Catalog.ReviewActionTypes = dedupeActionTypes(p.Gate.Catalog.ReviewActionTypes)
	p.Gate.RequireApprovalForRiskLevels = dedupeRiskLevels(p.Gate.RequireApprovalForRiskLevels)
	if p.Gate.MaxActionsWithoutApproval < 0 {
		p.Gate.MaxActionsWithoutApproval = 0
	}

	for name, cfg := range p.Runtime.Modes {
		cfg.DenyActionTypes = dedupeActionTypes(cfg.DenyActionTypes)
		cfg.ReviewRequiredActionTypes = dedupeActionTypes(cfg.ReviewRequiredActionTypes)
		cfg.AllowExecutionModes = dedupeExecutionModes(cfg.AllowExecutionModes)
		p.Runtime.Modes[name] = cfg
	}
	for name, cfg := range p.Runtime.Environments {
		cfg.MaxRiskLevelForApply = contracts.NormalizeRiskLevel(strings.ToLower(string(cfg.MaxRiskLevelForApply)))
		cfg.MaxAutoExecuteRiskLevel = contracts.NormalizeRiskLevel(strings.ToLower(string(cfg.MaxAutoExecuteRiskLevel)))
		cfg.RequireApprovalForRiskLevels = dedupeRiskLevels(cfg.RequireApprovalForRiskLevels)
		p.Runtime.Environments[name] = cfg
	}
	for name, cfg := range p.Tier.Profiles {
		cfg.AllowExecutionModes = dedupeExecutionModes(cfg.AllowExecutionModes)
		p.Tier.Profiles[name] = cfg
	}
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

func dedupeLower(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(strings.TrimSpace(s)))
	}
	return dedupe(out)
}

func dedupeActionTypes(in []contracts.ActionType) []contracts.ActionType {
	seen := make(map[contracts.ActionType]bool, len(in))
	out := make([]contracts.ActionType, 0, len(in))
	for _, t := range in {
		t = contracts.ActionType(strings.ToLower(string(t)))
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func dedupeRiskLevels(in []contracts.RiskLevel) []contracts.RiskLevel {
	seen := make(map[contracts.RiskLevel]bool, len(in))
	out := make([]contracts.RiskLevel, 0, len(in))
	for _, r := range in {
		r = contracts.NormalizeRiskLevel(strings.ToLower(string(r)))
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

func dedupeExecutionModes(in []contracts.ExecutionMode) []contracts.ExecutionMode {
	seen := make(map[contracts.ExecutionMode]bool, len(in))
	out := make([]contracts.ExecutionMode, 0, len(in))
	for _, m := range in {
		m = contracts.ExecutionMode(strings.ToLower(string(m)))
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

func appendUnique(base, extra []string) []string {
	return dedupe(append(append([]string{}, base...), extra...))
}
