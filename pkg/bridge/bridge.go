// Package bridge normalizes raw provider payloads into the canonical page
// context and validates the result against the context contract.
package bridge

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/custodian-labs/custodian/pkg/contracts"
	"github.com/custodian-labs/custodian/pkg/policy"
)

// Dialect names the provider payload shape.
const (
	DialectMoqui   = "moqui"
	DialectGeneric = "generic"
)

// Bridge maps provider payloads onto the canonical PageContext.
type Bridge struct {
	contract  contracts.ContextContract
	strict    bool
	clock     func() time.Time
	logger    *slog.Logger
	schema    *jsonschema.Schema
	schemaErr error
}

// New creates a bridge bound to the merged policy's context contract. The
// contract schema is compiled once here; a compile failure surfaces on the
// first Validate call.
func New(pol *policy.Policy, strict bool) *Bridge {
	b := &Bridge{
		contract: pol.Contract,
		strict:   strict,
		clock:    time.Now,
		logger:   slog.Default().With("component", "context-bridge"),
	}
	b.schema, b.schemaErr = compileContractSchema(pol.Contract)
	return b
}

// WithClock overrides the clock for deterministic testing.
func (b *Bridge) WithClock(clock func() time.Time) *Bridge {
	b.clock = clock
	return b
}

// Normalize maps a raw provider payload into the canonical context, then
// validates it. With strict=true a contract failure returns
// ErrContractViolation; otherwise the issues ride along in the report.
func (b *Bridge) Normalize(raw map[string]any, dialect string) (*contracts.PageContext, *contracts.BridgeReport, error) {
	var (
		pc      *contracts.PageContext
		dropped []string
	)
	switch dialect {
	case DialectMoqui:
		pc, dropped = b.fromMoqui(raw)
	case DialectGeneric, "":
		dialect = DialectGeneric
		pc, dropped = b.fromGeneric(raw)
	default:
		return nil, nil, fmt.Errorf("%w: unknown provider dialect %q", contracts.ErrConfig, dialect)
	}

	b.markSensitive(pc)
	b.dedupeFields(pc)
	pruneEmpty(pc)

	validation, err := b.Validate(pc, raw)
	if err != nil {
		return nil, nil, err
	}

	report := &contracts.BridgeReport{
		Dialect:     dialect,
		Strict:      b.strict,
		Validation:  *validation,
		DroppedKeys: dropped,
		GeneratedAt: contracts.Timestamp(b.clock()),
	}

	if b.strict && !validation.Valid {
		return pc, report, fmt.Errorf("%w: %s", contracts.ErrContractViolation, strings.Join(validation.Issues, "; "))
	}
	return pc, report, nil
}

// fromMoqui maps the Moqui screen-context payload shape.
func (b *Bridge) fromMoqui(raw map[string]any) (*contracts.PageContext, []string) {
	pc := &contracts.PageContext{Product: "moqui"}
	known := map[string]bool{
		"product": true, "component": true, "screenName": true, "entityName": true,
		"sceneId": true, "workflowNodeId": true, "fields": true, "currentState": true,
		"ontology": true, "assistant": true,
	}

	if v := stringAt(raw, "product"); v != "" {
		pc.Product = v
	}
	pc.Module = stringAt(raw, "component")
	pc.Page = stringAt(raw, "screenName")
	pc.Entity = stringAt(raw, "entityName")
	pc.SceneID = stringAt(raw, "sceneId")
	pc.WorkflowNode = stringAt(raw, "workflowNodeId")
	pc.CurrentState = stringAt(raw, "currentState")

	if fields, ok := raw["fields"].([]any); ok {
		for _, f := range fields {
			fm, ok := f.(map[string]any)
			if !ok {
				continue
			}
			pc.Fields = append(pc.Fields, contracts.ContextField{
				Name:        stringAt(fm, "fieldName"),
				Type:        stringAt(fm, "fieldType"),
				Sensitive:   boolAt(fm, "isSensitive"),
				Description: stringAt(fm, "description"),
			})
		}
	}
	if onto, ok := raw["ontology"].(map[string]any); ok {
		pc.SceneWorkspace = &contracts.SceneWorkspace{
			Entities:         stringsAt(onto, "entities"),
			Relations:        stringsAt(onto, "relations"),
			BusinessRules:    stringsAt(onto, "businessRules"),
			DecisionPolicies: stringsAt(onto, "decisionPolicies"),
			ExplorerPanels:   stringsAt(onto, "explorerPanels"),
		}
	}
	if ap, ok := raw["assistant"].(map[string]any); ok {
		pc.AssistantPanel = &contracts.AssistantPanel{
			PanelID:   stringAt(ap, "panelId"),
			SessionID: stringAt(ap, "sessionId"),
			Mode:      stringAt(ap, "mode"),
		}
	}

	var dropped []string
	for k := range raw {
		if !known[k] {
			dropped = append(dropped, k)
		}
	}
	sort.Strings(dropped)
	return pc, dropped
}

// fromGeneric maps an already snake_case payload.
func (b *Bridge) fromGeneric(raw map[string]any) (*contracts.PageContext, []string) {
	pc := &contracts.PageContext{
		Product:      stringAt(raw, "product"),
		Module:       stringAt(raw, "module"),
		Page:         stringAt(raw, "page"),
		Entity:       stringAt(raw, "entity"),
		SceneID:      stringAt(raw, "scene_id"),
		WorkflowNode: stringAt(raw, "workflow_node"),
		CurrentState: stringAt(raw, "current_state"),
	}
	known := map[string]bool{
		"product": true, "module": true, "page": true, "entity": true,
		"scene_id": true, "workflow_node": true, "fields": true,
		"current_state": true, "scene_workspace": true, "assistant_panel": true,
	}

	if fields, ok := raw["fields"].([]any); ok {
		for _, f := range fields {
			fm, ok := f.(map[string]any)
			if !ok {
				continue
			}
			pc.Fields = append(pc.Fields, contracts.ContextField{
				Name:        stringAt(fm, "name"),
				Type:        stringAt(fm, "type"),
				Sensitive:   boolAt(fm, "sensitive"),
				Description: stringAt(fm, "description"),
			})
		}
	}
	if ws, ok := raw["scene_workspace"].(map[string]any); ok {
		pc.SceneWorkspace = &contracts.SceneWorkspace{
			Entities:         stringsAt(ws, "entities"),
			Relations:        stringsAt(ws, "relations"),
			BusinessRules:    stringsAt(ws, "business_rules"),
			DecisionPolicies: stringsAt(ws, "decision_policies"),
			ExplorerPanels:   stringsAt(ws, "explorer_panels"),
		}
	}
	if ap, ok := raw["assistant_panel"].(map[string]any); ok {
		pc.AssistantPanel = &contracts.AssistantPanel{
			PanelID:   stringAt(ap, "panel_id"),
			SessionID: stringAt(ap, "session_id"),
			Mode:      stringAt(ap, "mode"),
		}
	}

	var dropped []string
	for k := range raw {
		if !known[k] {
			dropped = append(dropped, k)
		}
	}
	sort.Strings(dropped)
	return pc, dropped
}

// markSensitive flags fields whose name matches a sensitive key pattern,
// keeping any explicit provider flag.
func (b *Bridge) markSensitive(pc *contracts.PageContext) {
	for i, f := range pc.Fields {
		if f.Sensitive {
			continue
		}
		name := strings.ToLower(f.Name)
		for _, kw := range b.contract.SensitiveKeyPatterns {
			if strings.Contains(name, kw) {
				pc.Fields[i].Sensitive = true
				break
			}
		}
	}
}

// dedupeFields keeps the first field for each lowercased name.
func (b *Bridge) dedupeFields(pc *contracts.PageContext) {
	seen := make(map[string]bool, len(pc.Fields))
	out := pc.Fields[:0]
	for _, f := range pc.Fields {
		key := strings.ToLower(f.Name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	pc.Fields = out
}

// pruneEmpty removes empty optional leaves so artifacts stay minimal.
func pruneEmpty(pc *contracts.PageContext) {
	if ws := pc.SceneWorkspace; ws != nil {
		if len(ws.Entities) == 0 && len(ws.Relations) == 0 && len(ws.BusinessRules) == 0 &&
			len(ws.DecisionPolicies) == 0 && len(ws.ExplorerPanels) == 0 {
			pc.SceneWorkspace = nil
		}
	}
	if ap := pc.AssistantPanel; ap != nil {
		if ap.PanelID == "" && ap.SessionID == "" && ap.Mode == "" {
			pc.AssistantPanel = nil
		}
	}
}

func stringAt(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func boolAt(m map[string]any, key string) bool {
	v, ok := m[key].(bool)
	return ok && v
}

func stringsAt(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
