package bridge

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/custodian-labs/custodian/pkg/contracts"
)

// Validate checks the normalized context against the contract: required
// fields via a compiled JSON Schema, plus field count, payload size and
// forbidden-key checks over the raw payload.
func (b *Bridge) Validate(pc *contracts.PageContext, raw map[string]any) (*contracts.ContractValidation, error) {
	v := &contracts.ContractValidation{
		ContractVersion:  b.contract.Version,
		FieldCount:       len(pc.Fields),
		Issues:           []string{},
		ForbiddenKeyHits: []string{},
	}

	doc, err := json.Marshal(pc)
	if err != nil {
		return nil, fmt.Errorf("%w: serialize context: %v", contracts.ErrConfig, err)
	}
	v.PayloadKB = float64(len(doc)) / 1024

	if b.schemaErr != nil {
		return nil, b.schemaErr
	}
	var instance any
	if err := json.Unmarshal(doc, &instance); err != nil {
		return nil, fmt.Errorf("%w: decode context: %v", contracts.ErrConfig, err)
	}
	if err := b.schema.Validate(instance); err != nil {
		v.Issues = append(v.Issues, schemaIssues(err)...)
	}

	if b.contract.MaxFieldCount > 0 && len(pc.Fields) > b.contract.MaxFieldCount {
		v.Issues = append(v.Issues,
			fmt.Sprintf("field count %d exceeds max_field_count %d", len(pc.Fields), b.contract.MaxFieldCount))
	}
	if b.contract.MaxPayloadKB > 0 && v.PayloadKB > float64(b.contract.MaxPayloadKB) {
		v.Issues = append(v.Issues,
			fmt.Sprintf("payload %.1fKB exceeds max_payload_kb %d", v.PayloadKB, b.contract.MaxPayloadKB))
	}

	hits := map[string]bool{}
	findForbiddenKeys(raw, b.contract.ForbiddenKeys, hits)
	for k := range hits {
		v.ForbiddenKeyHits = append(v.ForbiddenKeyHits, k)
	}
	sort.Strings(v.ForbiddenKeyHits)
	for _, k := range v.ForbiddenKeyHits {
		v.Issues = append(v.Issues, fmt.Sprintf("forbidden key present: %s", k))
	}

	v.Valid = len(v.Issues) == 0
	return v, nil
}

// compileContractSchema builds the JSON Schema for the contract's required
// fields. It runs once per bridge, at construction.
func compileContractSchema(contract contracts.ContextContract) (*jsonschema.Schema, error) {
	required := make([]string, 0, len(contract.RequiredFields))
	props := map[string]any{}
	for _, f := range contract.RequiredFields {
		required = append(required, f)
		props[f] = map[string]any{"type": "string", "minLength": 1}
	}
	props["fields"] = map[string]any{
		"type": []string{"array", "null"},
		"items": map[string]any{
			"type":     "object",
			"required": []string{"name", "type"},
			"properties": map[string]any{
				"name":      map[string]any{"type": "string", "minLength": 1},
				"type":      map[string]any{"type": "string"},
				"sensitive": map[string]any{"type": "boolean"},
			},
		},
	}

	schemaDoc := map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"required":   required,
		"properties": props,
	}
	rawSchema, err := json.Marshal(schemaDoc)
	if err != nil {
		return nil, fmt.Errorf("%w: build contract schema: %v", contracts.ErrConfig, err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := "https://custodian.schemas.local/context-contract/" + contract.Version + ".schema.json"
	if err := c.AddResource(url, strings.NewReader(string(rawSchema))); err != nil {
		return nil, fmt.Errorf("%w: load contract schema: %v", contracts.ErrConfig, err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("%w: compile contract schema: %v", contracts.ErrConfig, err)
	}
	return schema, nil
}

// schemaIssues flattens a jsonschema validation error into one issue string
// per leaf cause.
func schemaIssues(err error) []string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			out = append(out, fmt.Sprintf("%s: %s", loc, e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.Strings(out)
	return out
}

// findForbiddenKeys walks a raw payload recursively recording any key whose
// lowercased name matches a forbidden key.
func findForbiddenKeys(node any, forbidden []string, hits map[string]bool) {
	switch v := node.(type) {
	case map[string]any:
		for k, child := range v {
			lk := strings.ToLower(k)
			for _, f := range forbidden {
				if lk == f {
					hits[lk] = true
				}
			}
			findForbiddenKeys(child, forbidden, hits)
		}
	case []any:
		for _, child := range v {
			findForbiddenKeys(child, forbidden, hits)
		}
	}
}
