// Package schema validates plans, manifests, and journal events against
// JSON Schema documents, and validates tool input/output against
// per-call schemas supplied by the caller. It compiles once per schema
// identity and caches the result for the life of the process.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentmesh/core/runtime/corerr"
)

// Limits guard against DoS from user-supplied tool schemas: a schema whose
// JSON bytes exceed maxSchemaBytes, or whose object/array nesting
// exceeds maxSchemaDepth, is rejected before it ever reaches the compiler.
const (
	maxSchemaBytes = 100 * 1024
	maxSchemaDepth = 20
)

// Result is the outcome of validating one document against one schema.
// Validate never returns an error for invalid data — only Valid=false and
// a non-empty Errors slice. An error return means the schema itself, or
// the candidate document, could not be parsed/compiled.
type Result struct {
	Valid  bool
	Errors []string
}

// Validator compiles and caches JSON Schemas keyed by a content hash of
// their raw bytes, so byte-identical schemas submitted from different call
// sites compile exactly once per Validator. Each Validator owns its cache
// for its lifetime (spec design note §9: acceptable for a cache keyed by
// identity and never mutated), guarded by a mutex rather than a global map
// touched without synchronization.
type Validator struct {
	mu    sync.Mutex
	cache map[string]*jsonschema.Schema
}

// New constructs an empty Validator.
func New() *Validator {
	return &Validator{cache: make(map[string]*jsonschema.Schema)}
}

// Compile parses and compiles schemaJSON, returning a cached schema object
// if this exact content was compiled before. It returns a *corerr.CoreError
// with code BAD_INPUT if the schema is too large, too deeply nested, not
// valid JSON, or fails to compile — compiling a bad schema is a caller
// error, distinct from a document failing validation.
func (v *Validator) Compile(schemaJSON []byte) (*jsonschema.Schema, error) {
	if len(schemaJSON) > maxSchemaBytes {
		return nil, corerr.Newf(corerr.BadInput, "schema exceeds %d bytes", maxSchemaBytes)
	}

	var doc any
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return nil, corerr.Wrap(corerr.BadInput, "schema is not valid JSON", err)
	}
	if depth(doc, 0) > maxSchemaDepth {
		return nil, corerr.Newf(corerr.BadInput, "schema nesting exceeds %d levels", maxSchemaDepth)
	}

	key := contentKey(schemaJSON)

	v.mu.Lock()
	if cached, ok := v.cache[key]; ok {
		v.mu.Unlock()
		return cached, nil
	}
	v.mu.Unlock()

	c := jsonschema.NewCompiler()
	if err := c.AddResource(key, doc); err != nil {
		return nil, corerr.Wrap(corerr.BadInput, "register schema resource", err)
	}
	compiled, err := c.Compile(key)
	if err != nil {
		return nil, corerr.Wrap(corerr.BadInput, "compile schema", err)
	}

	v.mu.Lock()
	v.cache[key] = compiled
	v.mu.Unlock()

	return compiled, nil
}

// Validate compiles schemaJSON (or reuses the cached compile) and checks
// instance against it. A data validation failure is reported in
// Result.Errors, not as a returned error.
func (v *Validator) Validate(schemaJSON []byte, instance any) (Result, error) {
	compiled, err := v.Compile(schemaJSON)
	if err != nil {
		return Result{}, err
	}
	if err := compiled.Validate(instance); err != nil {
		return Result{Valid: false, Errors: flattenValidationError(err)}, nil
	}
	return Result{Valid: true}, nil
}

// ValidateBytes is Validate for an instance supplied as raw JSON bytes.
func (v *Validator) ValidateBytes(schemaJSON, instanceJSON []byte) (Result, error) {
	var instance any
	if err := json.Unmarshal(instanceJSON, &instance); err != nil {
		return Result{}, corerr.Wrap(corerr.BadInput, "instance is not valid JSON", err)
	}
	return v.Validate(schemaJSON, instance)
}

func contentKey(b []byte) string {
	sum := sha256.Sum256(b)
	return "mem://schema/" + hex.EncodeToString(sum[:])
}

// depth walks a decoded JSON value and returns its maximum object/array
// nesting depth.
func depth(v any, current int) int {
	switch val := v.(type) {
	case map[string]any:
		max := current
		for _, child := range val {
			if d := depth(child, current+1); d > max {
				max = d
			}
		}
		return max
	case []any:
		max := current
		for _, child := range val {
			if d := depth(child, current+1); d > max {
				max = d
			}
		}
		return max
	default:
		return current
	}
}

// flattenValidationError walks a jsonschema.ValidationError's Causes tree
// into a flat list of leaf error messages. Each leaf's Error() already
// includes its schema keyword and instance location per the library's
// basic output format.
func flattenValidationError(err error) []string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	var out []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, e.Error())
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)
	if len(out) == 0 {
		out = []string{err.Error()}
	}
	return out
}
