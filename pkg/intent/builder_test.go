package intent

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodian-labs/custodian/pkg/contracts"
)

var sensitiveKeywords = []string{"password", "secret", "token", "credential", "api_key"}

func testClock() func() time.Time {
	fixed := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return fixed }
}

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return "id-" + string(rune('0'+n))
	}
}

func testContext() *contracts.PageContext {
	return &contracts.PageContext{
		Product: "moqui", Module: "orders", Page: "order-list",
		Entity: "OrderHeader", CurrentState: "browsing",
		Fields: []contracts.ContextField{
			{Name: "orderId", Type: "id"},
			{Name: "cardNumber", Type: "text", Sensitive: true},
		},
	}
}

func buildIntent(t *testing.T, goal string, raw map[string]any) *Result {
	t.Helper()
	res, err := NewBuilder(sensitiveKeywords).
		WithClock(testClock()).
		WithIDSource(seqIDs()).
		Build(Input{
			SessionID:  "sess-1",
			UserID:     "user-1",
			Goal:       goal,
			Context:    testContext(),
			RawContext: raw,
			Validation: contracts.ContractValidation{Valid: true, ContractVersion: "v1"},
		})
	require.NoError(t, err)
	return res
}

func TestBuildIntentShape(t *testing.T) {
	res := buildIntent(t, "Adjust order screen field layout", map[string]any{"module": "orders"})
	it := res.Intent

	assert.Equal(t, "sess-1", it.SessionID)
	assert.Equal(t, "user-1", it.UserID)
	assert.Equal(t, "orders", it.ContextRef.Module)
	assert.Equal(t, "read-only", it.Metadata.Mode)
	assert.Equal(t, 2, it.Metadata.ContextSummary.FieldCount)
	assert.Equal(t, 1, it.Metadata.ContextSummary.SensitiveFieldCount)

	require.NotNil(t, res.AuditEvent)
	assert.Equal(t, it.IntentID, res.AuditEvent.IntentID)
	assert.Equal(t, "intent-builder", res.AuditEvent.Stage)
	assert.Len(t, res.AuditEvent.ContextSHA256, 64)
	assert.Contains(t, res.Explain, it.IntentID)
}

func TestDerivePriority(t *testing.T) {
	tests := []struct {
		goal string
		want contracts.Priority
	}{
		{"urgent: fix the refund flow", contracts.PriorityHigh},
		{"do this asap please", contracts.PriorityHigh},
		{"maybe later, tidy the layout", contracts.PriorityLow},
		{"nice to have wider columns", contracts.PriorityLow},
		{"adjust the order screen", contracts.PriorityMedium},
	}
	for _, tt := range tests {
		res := buildIntent(t, tt.goal, map[string]any{})
		assert.Equal(t, tt.want, res.Intent.Priority, "goal %q", tt.goal)
	}
}

func TestDeriveRiskHint(t *testing.T) {
	res := buildIntent(t, "delete stale records", map[string]any{})
	assert.Equal(t, contracts.RiskHigh, res.Intent.Metadata.RiskHint)

	res = buildIntent(t, "adjust the approval workflow", map[string]any{})
	assert.Equal(t, contracts.RiskMedium, res.Intent.Metadata.RiskHint)

	res = buildIntent(t, "widen the status column", map[string]any{})
	assert.Equal(t, contracts.RiskLow, res.Intent.Metadata.RiskHint)
}

func TestForbiddenKeyHitsForceHighRiskHint(t *testing.T) {
	res, err := NewBuilder(sensitiveKeywords).WithClock(testClock()).Build(Input{
		SessionID: "s", UserID: "u", Goal: "widen the status column",
		Context:    testContext(),
		RawContext: map[string]any{},
		Validation: contracts.ContractValidation{ForbiddenKeyHits: []string{"raw_sql"}},
	})
	require.NoError(t, err)
	assert.Equal(t, contracts.RiskHigh, res.Intent.Metadata.RiskHint)
}

func TestExtractConstraints(t *testing.T) {
	res := buildIntent(t,
		"Reorder fields. Must keep the order id first, cannot hide the status column; should stay mobile friendly",
		map[string]any{})
	c := res.Intent.Constraints
	require.Len(t, c, 3)
	assert.True(t, strings.HasPrefix(c[0], "Must keep"))
	assert.True(t, strings.HasPrefix(c[1], "cannot hide"))
	assert.True(t, strings.HasPrefix(c[2], "should stay"))
}

func TestConstraintCap(t *testing.T) {
	goal := strings.Repeat("must do a thing. ", 12)
	res := buildIntent(t, goal, map[string]any{})
	assert.LessOrEqual(t, len(res.Intent.Constraints), maxConstraints)
}

func TestSanitizeContextRedactsSensitiveSubtrees(t *testing.T) {
	raw := map[string]any{
		"module": "orders",
		"api_key": "abc123",
		"credentials": map[string]any{
			"user": "svc",
			"nested": map[string]any{"value": "deep-secret-value"},
		},
		"fields": []any{
			map[string]any{"name": "ok", "password_hint": "hunter2"},
		},
	}
	clean := SanitizeContext(raw, sensitiveKeywords)

	assert.Equal(t, "orders", clean["module"])
	assert.Equal(t, Redacted, clean["api_key"])

	creds := clean["credentials"].(map[string]any)
	assert.Equal(t, Redacted, creds["user"], "descendants of a sensitive key are redacted")
	nested := creds["nested"].(map[string]any)
	assert.Equal(t, Redacted, nested["value"])

	fields := clean["fields"].([]any)
	field := fields[0].(map[string]any)
	assert.Equal(t, "ok", field["name"])
	assert.Equal(t, Redacted, field["password_hint"])
}

// Sensitive values never appear literally anywhere in the sanitized output.
func TestSanitizeNonEmissionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("sensitive leaf values never survive", prop.ForAll(
		func(secret string, plain string) bool {
			// Prefix with a marker so the generated value cannot collide
			// with structural key names in the output document.
			secret = "zq" + secret
			raw := map[string]any{
				"password":   secret,
				"note":       plain,
				"credential": map[string]any{"inner": secret, "list": []any{secret}},
			}
			clean := SanitizeContext(raw, sensitiveKeywords)
			doc, err := json.Marshal(clean)
			if err != nil {
				return false
			}
			return !strings.Contains(string(doc), jsonEscape(secret)) &&
				strings.Contains(string(doc), jsonEscape(plain))
		},
		gen.AlphaString().SuchThat(func(s string) bool { return len(s) > 3 }),
		gen.AlphaString(),
	))
	properties.TestingRun(t)
}

func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	return strings.Trim(string(b), `"`)
}
