package tool

import (
	"path/filepath"
	"strings"
)

// Policy is the session-level allow-list policy enforced on every tool
// invocation, independent of (and in addition to) the Permission Engine's
// scope grants.
type Policy struct {
	AllowedPaths          []string
	AllowedEndpoints      []string
	AllowedCommands       []string
	RequireApprovalWrites bool
}

// Invocation is the subset of a tool call's resolved input that policy
// enforcement inspects: the filesystem paths, network endpoints, and shell
// commands it touches, plus whether it is a write.
type Invocation struct {
	Paths     []string
	Endpoints []string
	Commands  []string
	IsWrite   bool
}

// Check reports the first policy violation found, or "" if inv is allowed.
func (p Policy) Check(inv Invocation) string {
	for _, path := range inv.Paths {
		if !matchesAny(p.AllowedPaths, path, matchPathPrefix) {
			return "path not in allowed_paths: " + path
		}
	}
	for _, ep := range inv.Endpoints {
		if !matchesAny(p.AllowedEndpoints, ep, matchEndpoint) {
			return "endpoint not in allowed_endpoints: " + ep
		}
	}
	for _, cmd := range inv.Commands {
		if !matchesAny(p.AllowedCommands, cmd, matchCommand) {
			return "command not in allowed_commands: " + cmd
		}
	}
	if inv.IsWrite && p.RequireApprovalWrites {
		return "write requires approval"
	}
	return ""
}

func matchesAny(allowed []string, candidate string, match func(pattern, candidate string) bool) bool {
	if len(allowed) == 0 {
		return false
	}
	for _, pattern := range allowed {
		if match(pattern, candidate) {
			return true
		}
	}
	return false
}

// matchPathPrefix allows pattern to be a directory prefix of candidate after
// both are cleaned, so "allowed_paths: [/workspace]" covers
// "/workspace/out.txt".
func matchPathPrefix(pattern, candidate string) bool {
	pattern = filepath.Clean(pattern)
	candidate = filepath.Clean(candidate)
	if pattern == candidate {
		return true
	}
	return strings.HasPrefix(candidate, pattern+string(filepath.Separator))
}

// matchEndpoint allows pattern to be a scheme+host prefix of candidate.
func matchEndpoint(pattern, candidate string) bool {
	return pattern == candidate || strings.HasPrefix(candidate, pattern)
}

func matchCommand(pattern, candidate string) bool {
	return pattern == candidate
}
