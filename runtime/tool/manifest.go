// Package tool implements the Tool Runtime: manifest-described invocation of
// internal, subprocess, and HTTP tools under permission checks, input/output
// schema validation, and policy enforcement.
package tool

import (
	"fmt"
	"regexp"
)

// Runner is the closed set of ways a tool can be invoked.
type Runner string

const (
	RunnerInternal   Runner = "internal"
	RunnerSubprocess Runner = "subprocess"
	RunnerHTTP       Runner = "http"
)

var nameRE = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Manifest describes one tool: how to invoke it, what it needs permission
// for, and what input/output shapes it accepts.
type Manifest struct {
	Name          string         `json:"name"`
	Version       string         `json:"version"`
	Description   string         `json:"description,omitempty"`
	Runner        Runner         `json:"runner"`
	InputSchema   map[string]any `json:"input_schema"`
	OutputSchema  map[string]any `json:"output_schema"`
	Permissions   []string       `json:"permissions,omitempty"`
	TimeoutMS     int            `json:"timeout_ms"`
	Supports      Supports       `json:"supports,omitempty"`
	MockResponses map[string]any `json:"mock_responses,omitempty"`

	// Subprocess/HTTP runner configuration, populated by the tool registry
	// (outside this spec's scope), not by manifest JSON itself.
	Command    []string `json:"-"`
	Endpoint   string   `json:"-"`
	HTTPMethod string   `json:"-"`
}

// Supports declares which execution modes a tool participates in beyond
// live invocation.
type Supports struct {
	Mock   bool `json:"mock,omitempty"`
	DryRun bool `json:"dry_run,omitempty"`
}

// Validate checks the structural constraints on a Manifest that the schema
// validator's JSON Schema pass can't fully express (cross-field rules).
func (m Manifest) Validate() error {
	if len(m.Name) == 0 || len(m.Name) > 64 || !nameRE.MatchString(m.Name) {
		return fmt.Errorf("tool: invalid manifest name %q", m.Name)
	}
	switch m.Runner {
	case RunnerInternal, RunnerSubprocess, RunnerHTTP:
	default:
		return fmt.Errorf("tool: invalid runner %q for %q", m.Runner, m.Name)
	}
	if m.TimeoutMS < 100 || m.TimeoutMS > 600000 {
		return fmt.Errorf("tool: timeout_ms %d out of range [100,600000] for %q", m.TimeoutMS, m.Name)
	}
	return nil
}
