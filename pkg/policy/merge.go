package policy

import "github.com/custodian-labs/custodian/pkg/contracts"

// filePolicy mirrors Policy with optional leaves, so a policy file can
// override exactly the fields it names and inherit the rest from the
// built-in defaults. Booleans are pointers: only an explicit true/false in
// the file replaces the default.
type filePolicy struct {
	Version    *string        `json:"version" yaml:"version"`
	Contract   *fileContract  `json:"context_contract" yaml:"context_contract"`
	Dialogue   *fileDialogue  `json:"dialogue" yaml:"dialogue"`
	Gate       *fileGate      `json:"gate" yaml:"gate"`
	Runtime    *fileRuntime   `json:"runtime" yaml:"runtime"`
	Tier       *fileTier      `json:"tier" yaml:"tier"`
	Roles      *RolePolicy    `json:"roles" yaml:"roles"`
	Thresholds []Threshold    `json:"thresholds" yaml:"thresholds"`
}

type fileContract struct {
	Version              *string  `json:"version" yaml:"version"`
	RequiredFields       []string `json:"required_fields" yaml:"required_fields"`
	OptionalFields       []string `json:"optional_fields" yaml:"optional_fields"`
	MaxFieldCount        *int     `json:"max_field_count" yaml:"max_field_count"`
	MaxPayloadKB         *int     `json:"max_payload_kb" yaml:"max_payload_kb"`
	SensitiveKeyPatterns []string `json:"sensitive_key_patterns" yaml:"sensitive_key_patterns"`
	ForbiddenKeys        []string `json:"forbidden_keys" yaml:"forbidden_keys"`
}

type fileDialogue struct {
	Version                *string                   `json:"version" yaml:"version"`
	Mode                   *string                   `json:"mode" yaml:"mode"`
	DefaultProfile         *string                   `json:"default_profile" yaml:"default_profile"`
	LengthPolicy           *LengthPolicyPatch        `json:"length_policy" yaml:"length_policy"`
	DenyPatterns           []string                  `json:"deny_patterns" yaml:"deny_patterns"`
	ClarifyPatterns        []string                  `json:"clarify_patterns" yaml:"clarify_patterns"`
	ResponseRules          []string                  `json:"response_rules" yaml:"response_rules"`
	ClarificationTemplates []string                  `json:"clarification_templates" yaml:"clarification_templates"`
	Profiles               map[string]ProfileOverlay `json:"profiles" yaml:"profiles"`
}

type fileGate struct {
	Catalog                                   *fileCatalog          `json:"catalog" yaml:"catalog"`
	RequireApprovalForRiskLevels              []contracts.RiskLevel `json:"require_approval_for_risk_levels" yaml:"require_approval_for_risk_levels"`
	MaxActionsWithoutApproval                 *int                  `json:"max_actions_without_approval" yaml:"max_actions_without_approval"`
	RequireDualApprovalForPrivilegeEscalation *bool                 `json:"require_dual_approval_for_privilege_escalation" yaml:"require_dual_approval_for_privilege_escalation"`
	RequireMaskingWhenSensitiveData           *bool                 `json:"require_masking_when_sensitive_data" yaml:"require_masking_when_sensitive_data"`
	ForbidPlaintextSecrets                    *bool                 `json:"forbid_plaintext_secrets" yaml:"forbid_plaintext_secrets"`
	RequireBackupForIrreversibleActions       *bool                 `json:"require_backup_for_irreversible_actions" yaml:"require_backup_for_irreversible_actions"`
	GuardRules                                []GuardRule           `json:"guard_rules" yaml:"guard_rules"`
}

type fileCatalog struct {
	DenyActionTypes   []contracts.ActionType `json:"deny_action_types" yaml:"deny_action_types"`
	ReviewActionTypes []contracts.ActionType `json:"review_action_types" yaml:"review_action_types"`
}

type fileRuntime struct {
	Modes        map[string]ModeConfig   `json:"modes" yaml:"modes"`
	Environments map[string]EnvConfig    `json:"environments" yaml:"environments"`
	UIModes      map[string]UIModeConfig `json:"ui_modes" yaml:"ui_modes"`
}

type fileTier struct {
	Profiles     map[string]TierProfileConfig `json:"profiles" yaml:"profiles"`
	Environments map[string]TierEnvConfig     `json:"environments" yaml:"environments"`
}

// mergeFile applies a decoded policy file over the built-in base. Scalars
// replace when present; lists replace wholesale; maps merge per key, with
// file entries replacing built-in entries of the same name.
func mergeFile(base *Policy, file *filePolicy) {
	if file.Version != nil {
		base.Version = *file.Version
	}

	if c := file.Contract; c != nil {
		if c.Version != nil {
			base.Contract.Version = *c.Version
		}
		if c.RequiredFields != nil {
			base.Contract.RequiredFields = c.RequiredFields
		}
		if c.OptionalFields != nil {
			base.Contract.OptionalFields = c.OptionalFields
		}
		if c.MaxFieldCount != nil && *c.MaxFieldCount > 0 {
			base.Contract.MaxFieldCount = *c.MaxFieldCount
		}
		if c.MaxPayloadKB != nil && *c.MaxPayloadKB > 0 {
			base.Contract.MaxPayloadKB = *c.MaxPayloadKB
		}
		if c.SensitiveKeyPatterns != nil {
			base.Contract.SensitiveKeyPatterns = c.SensitiveKeyPatterns
		}
		if c.ForbiddenKeys != nil {
			base.Contract.ForbiddenKeys = c.ForbiddenKeys
		}
	}

	if d := file.Dialogue; d != nil {
		if d.Version != nil {
			base.Dialogue.Version = *d.Version
		}
		if d.Mode != nil {
			base.Dialogue.Mode = *d.Mode
		}
		if d.DefaultProfile != nil {
			base.Dialogue.DefaultProfile = *d.DefaultProfile
		}
		if lp := d.LengthPolicy; lp != nil {
			if lp.MinChars != nil && *lp.MinChars >= 0 {
				base.Dialogue.LengthPolicy.MinChars = *lp.MinChars
			}
			if lp.MaxChars != nil && *lp.MaxChars > 0 {
				base.Dialogue.LengthPolicy.MaxChars = *lp.MaxChars
			}
			if lp.MinSignificantTokens != nil && *lp.MinSignificantTokens >= 0 {
				base.Dialogue.LengthPolicy.MinSignificantTokens = *lp.MinSignificantTokens
			}
		}
		if d.DenyPatterns != nil {
			base.Dialogue.DenyPatterns = d.DenyPatterns
		}
		if d.ClarifyPatterns != nil {
			base.Dialogue.ClarifyPatterns = d.ClarifyPatterns
		}
		if d.ResponseRules != nil {
			base.Dialogue.ResponseRules = d.ResponseRules
		}
		if d.ClarificationTemplates != nil {
			base.Dialogue.ClarificationTemplates = d.ClarificationTemplates
		}
		for name, overlay := range d.Profiles {
			if base.Dialogue.Profiles == nil {
				base.Dialogue.Profiles = make(map[string]ProfileOverlay)
			}
			base.Dialogue.Profiles[name] = overlay
		}
	}

	if g := file.Gate; g != nil {
		if g.Catalog != nil {
			if g.Catalog.DenyActionTypes != nil {
				base.Gate.Catalog.DenyActionTypes = g.Catalog.DenyActionTypes
			}
			if g.Catalog.ReviewActionTypes != nil {
				base.Gate.Catalog.ReviewActionTypes = g.Catalog.ReviewActionTypes
			}
		}
		if g.RequireApprovalForRiskLevels != nil {
			base.Gate.RequireApprovalForRiskLevels = g.RequireApprovalForRiskLevels
		}
		if g.MaxActionsWithoutApproval != nil && *g.MaxActionsWithoutApproval >= 0 {
			base.Gate.MaxActionsWithoutApproval = *g.MaxActionsWithoutApproval
		}
		if g.RequireDualApprovalForPrivilegeEscalation != nil {
			base.Gate.RequireDualApprovalForPrivilegeEscalation = *g.RequireDualApprovalForPrivilegeEscalation
		}
		if g.RequireMaskingWhenSensitiveData != nil {
			base.Gate.RequireMaskingWhenSensitiveData = *g.RequireMaskingWhenSensitiveData
		}
		if g.ForbidPlaintextSecrets != nil {
			base.Gate.ForbidPlaintextSecrets = *g.ForbidPlaintextSecrets
		}
		if g.RequireBackupForIrreversibleActions != nil {
			base.Gate.RequireBackupForIrreversibleActions = *g.RequireBackupForIrreversibleActions
		}
		if g.GuardRules != nil {
			base.Gate.GuardRules = g.GuardRules
		}
	}

	if r := file.Runtime; r != nil {
		for name, cfg := range r.Modes {
			base.Runtime.Modes[name] = cfg
		}
		for name, cfg := range r.Environments {
			base.Runtime.Environments[name] = cfg
		}
		for name, cfg := range r.UIModes {
			if base.Runtime.UIModes == nil {
				base.Runtime.UIModes = make(map[string]UIModeConfig)
			}
			base.Runtime.UIModes[name] = cfg
		}
	}

	if t := file.Tier; t != nil {
		for name, cfg := range t.Profiles {
			base.Tier.Profiles[name] = cfg
		}
		for name, cfg := range t.Environments {
			base.Tier.Environments[name] = cfg
		}
	}

	if file.Roles != nil {
		base.Roles = file.Roles
	}
	if file.Thresholds != nil {
		base.Thresholds = file.Thresholds
	}
}
