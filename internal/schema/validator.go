// Package schema provides JSON schema validation for request bodies.
// Every JSON body the service accepts is checked against its schema before
// it is decoded, so handlers only ever see well-formed input.
package schema

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Body kinds accepted by the HTTP surface.
const (
	Login           = "admin.login"
	SiteRegister    = "site.register"
	SiteHeartbeat   = "site.heartbeat"
	SiteStats       = "site.stats"
	OnlineHeartbeat = "online.heartbeat"
)

// schemas maps each body kind to its JSON schema. Optional fields accept null,
// which decodes to the zero value.
var schemas = map[string]string{
	Login:           `{"type":"object","required":["username","password"],"properties":{"username":{"type":"string","minLength":1,"maxLength":128},"password":{"type":"string","minLength":1,"maxLength":256}}}`,
	SiteRegister:    `{"type":"object","required":["name","domain"],"properties":{"name":{"type":"string","minLength":1,"maxLength":128,"pattern":"\\S"},"domain":{"type":"string","minLength":1,"maxLength":253,"pattern":"\\S"}}}`,
	SiteHeartbeat:   `{"type":"object","properties":{"online":{"type":["integer","null"],"minimum":0},"views":{"type":["integer","null"],"minimum":0}}}`,
	SiteStats:       `{"type":"object","properties":{"views":{"type":["integer","null"],"minimum":0},"events":{"type":["integer","null"],"minimum":0}}}`,
	OnlineHeartbeat: `{"type":"object","properties":{"sessionId":{"type":["string","null"],"maxLength":128}}}`,
}

// ValidationError lists every schema violation of a body.
type ValidationError struct {
	Kind    string   // Body kind that failed
	Details []string // One entry per violation
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s body: %s", e.Kind, strings.Join(e.Details, "; "))
}

// Validator validates request bodies against compiled JSON schemas.
type Validator struct {
	schemas map[string]*gojsonschema.Schema // Map of body kinds to compiled schemas
}

// NewValidator compiles every schema.
// Returns:
//   - *Validator: Initialized validator instance
//   - error: Any schema that failed to compile
func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[string]*gojsonschema.Schema, len(schemas))}
	for kind, raw := range schemas {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid schema for %s: %w", kind, err)
		}
		v.schemas[kind] = schema
	}
	return v, nil
}

// Validate checks a raw JSON body.
// Parameters:
//   - kind: One of the body kind constants
//   - body: The raw request body
//
// Returns:
//   - error: nil if valid, *ValidationError if the body is not JSON or
//     violates the schema, a plain error for an unknown kind
func (v *Validator) Validate(kind string, body []byte) error {
	schema, ok := v.schemas[kind]
	if !ok {
		return fmt.Errorf("unknown body kind: %s", kind)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return &ValidationError{Kind: kind, Details: []string{"body is not valid JSON"}}
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return &ValidationError{Kind: kind, Details: details}
	}
	return nil
}
