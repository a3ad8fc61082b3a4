package policy

import "github.com/custodian-labs/custodian/pkg/contracts"

// Builtin returns the built-in default policy. It is the base every policy
// file merges over, and the policy used when no file is configured.
func Builtin() Policy {
	p := Policy{
		Version: "1.0.0",
		Contract: contracts.ContextContract{
			Version:        "v1",
			RequiredFields: []string{"product", "module", "page", "current_state"},
			OptionalFields: []string{"entity", "scene_id", "workflow_node", "scene_workspace", "assistant_panel"},
			MaxFieldCount:  200,
			MaxPayloadKB:   256,
			SensitiveKeyPatterns: []string{
				"password", "secret", "token", "credential", "api_key", "private_key", "ssn", "card_number",
			},
			ForbiddenKeys: []string{"raw_sql", "session_cookie", "auth_header", "jdbc_url"},
		},
		Dialogue: DialoguePolicy{
			Version:        "v1",
			Mode:           "governed",
			DefaultProfile: "business-user",
			LengthPolicy: LengthPolicy{
				MinChars:             8,
				MaxChars:             2000,
				MinSignificantTokens: 3,
			},
			DenyPatterns: []string{
				`(dump|export|extract|list)\s+(all\s+)?(passwords?|credentials?|secrets?|tokens?)`,
				`(bypass|skip|disable)\s+(approval|audit|security|governance)`,
				`grant\s+(me\s+)?(super\s*admin|root|all\s+permissions)`,
				`(drop|truncate)\s+(database|schema|all\s+tables)`,
			},
			ClarifyPatterns: []string{
				`^(help|fix|improve|optimi[sz]e)\s*(it|this|that)?\s*$`,
				`\b(something|somehow|whatever)\b`,
			},
			ResponseRules: []string{
				"never echo sensitive field values",
				"reference the current page when proposing changes",
			},
			ClarificationTemplates: []string{
				"Which business outcome should this change achieve?",
				"Which fields or records should be affected?",
				"Should the change apply immediately or after review?",
			},
			Profiles: map[string]ProfileOverlay{
				"business-user": {
					DenyPatterns: []string{
						`(change|edit|update)\s+(permission|privilege|role)s?\b`,
					},
					ClarificationTemplates: []string{
						"Who should review this change before it goes live?",
					},
				},
				"system-maintainer": {
					LengthPolicy: &LengthPolicyPatch{
						MinChars: intPtr(4),
					},
				},
			},
		},
		Gate: GatePolicy{
			Catalog: Catalog{
				DenyActionTypes: []contracts.ActionType{
					contracts.ActionBulkDeleteWithoutFilter,
					contracts.ActionPermissionGrantSuperAdmin,
					contracts.ActionCredentialExport,
				},
				ReviewActionTypes: []contracts.ActionType{
					contracts.ActionWorkflowApprovalChainChange,
					contracts.ActionPaymentRuleChange,
					contracts.ActionInventoryAdjustmentBulk,
				},
			},
			RequireApprovalForRiskLevels:              []contracts.RiskLevel{contracts.RiskHigh},
			MaxActionsWithoutApproval:                 3,
			RequireDualApprovalForPrivilegeEscalation: true,
			RequireMaskingWhenSensitiveData:           true,
			ForbidPlaintextSecrets:                    true,
			RequireBackupForIrreversibleActions:       true,
		},
		Runtime: RuntimePolicy{
			Modes: map[string]ModeConfig{
				"user-assist": {
					AllowExecutionModes: []contracts.ExecutionMode{contracts.ExecutionModeSuggestion},
					DenyActionTypes: []contracts.ActionType{
						contracts.ActionCredentialExport,
						contracts.ActionPermissionGrantSuperAdmin,
						contracts.ActionBulkDeleteWithoutFilter,
					},
					AllowMutatingApply: false,
					AllowLiveApply:     false,
				},
				"ops-fix": {
					AllowExecutionModes: []contracts.ExecutionMode{contracts.ExecutionModeSuggestion, contracts.ExecutionModeApply},
					DenyActionTypes:     []contracts.ActionType{contracts.ActionCredentialExport},
					ReviewRequiredActionTypes: []contracts.ActionType{
						contracts.ActionWorkflowApprovalChainChange,
						contracts.ActionPaymentRuleChange,
					},
					AllowMutatingApply: true,
					AllowLiveApply:     true,
				},
				"feature-dev": {
					AllowExecutionModes: []contracts.ExecutionMode{contracts.ExecutionModeSuggestion, contracts.ExecutionModeApply},
					AllowMutatingApply:  true,
					AllowLiveApply:      true,
				},
			},
			Environments: map[string]EnvConfig{
				"dev": {
					MaxRiskLevelForApply:    contracts.RiskHigh,
					MaxAutoExecuteRiskLevel: contracts.RiskMedium,
				},
				"staging": {
					MaxRiskLevelForApply:             contracts.RiskMedium,
					MaxAutoExecuteRiskLevel:          contracts.RiskLow,
					RequireApprovalForRiskLevels:     []contracts.RiskLevel{contracts.RiskHigh},
					RequirePasswordForApplyMutations: true,
					RequireDryRunBeforeLiveApply:     true,
				},
				"prod": {
					MaxRiskLevelForApply:             contracts.RiskLow,
					MaxAutoExecuteRiskLevel:          contracts.RiskLow,
					ManualReviewRequiredForApply:     true,
					RequireApprovalForRiskLevels:     []contracts.RiskLevel{contracts.RiskMedium, contracts.RiskHigh},
					RequirePasswordForApplyMutations: true,
					RequireDryRunBeforeLiveApply:     true,
				},
			},
			UIModes: map[string]UIModeConfig{
				"user-app": {
					AllowedRuntimeModes: []string{"user-assist"},
					AllowExecution:      false,
					AllowExecutionModes: []contracts.ExecutionMode{contracts.ExecutionModeSuggestion},
				},
				"ops-console": {
					AllowedRuntimeModes: []string{"ops-fix"},
					AllowExecution:      true,
					AllowExecutionModes: []contracts.ExecutionMode{contracts.ExecutionModeSuggestion, contracts.ExecutionModeApply},
				},
				"dev-workbench": {
					AllowedRuntimeModes: []string{"feature-dev"},
					AllowExecution:      true,
					AllowExecutionModes: []contracts.ExecutionMode{contracts.ExecutionModeSuggestion, contracts.ExecutionModeApply},
				},
			},
		},
		Tier: TierPolicy{
			Profiles: map[string]TierProfileConfig{
				"business-user": {
					AllowExecutionModes: []contracts.ExecutionMode{contracts.ExecutionModeSuggestion},
				},
				"system-maintainer": {
					AllowExecutionModes:     []contracts.ExecutionMode{contracts.ExecutionModeSuggestion, contracts.ExecutionModeApply},
					AllowAutoExecuteLowRisk: true,
					AllowLiveApply:          true,
				},
			},
			Environments: map[string]TierEnvConfig{
				"dev": {},
				"staging": {
					RequirePasswordForApply: true,
				},
				"prod": {
					ManualReviewRequiredForApply:  true,
					RequireSecondaryAuthorization: true,
					RequirePasswordForApply:       true,
					RequireRolePolicy:             true,
					RequireDistinctActorRoles:     true,
				},
			},
		},
		Thresholds: []Threshold{
			{Metric: "execution_success_rate", Warn: 90, Breach: 80, Direction: "below",
				Recommendation: "Investigate failing applies; check adapter connectivity and plan quality"},
			{Metric: "rollback_rate", Warn: 5, Breach: 10, Direction: "above",
				Recommendation: "Review recent plans for over-broad actions; tighten gate catalog"},
			{Metric: "security_intercept_rate", Warn: 10, Breach: 20, Direction: "above",
				Recommendation: "Audit goal sources; users may need guidance on permitted changes"},
			{Metric: "dialogue_authorization_block_rate", Warn: 15, Breach: 30, Direction: "above",
				Recommendation: "Review dialogue deny patterns for false positives"},
			{Metric: "runtime_block_rate", Warn: 15, Breach: 30, Direction: "above",
				Recommendation: "Check runtime mode/environment configuration against actual usage"},
			{Metric: "authorization_tier_block_rate", Warn: 15, Breach: 30, Direction: "above",
				Recommendation: "Confirm profile assignments match user responsibilities"},
			{Metric: "satisfaction_avg_score", Warn: 3.5, Breach: 3.0, Direction: "below",
				Recommendation: "Sample low-score feedback comments and follow up with users"},
		},
	}
	return p
}

func intPtr(v int) *int { return &v }
