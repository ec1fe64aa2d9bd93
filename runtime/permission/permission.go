// Package permission implements the session-scoped capability cache that
// mediates tool access: parsing scopes, checking cached grants, and
// de-duplicating concurrent prompts for the same scope set.
package permission

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/agentmesh/core/runtime/journal"
	"github.com/agentmesh/core/runtime/telemetry"
)

// TTL is the lifetime class of a cached grant.
type TTL string

const (
	TTLStep    TTL = "step"
	TTLSession TTL = "session"
	TTLGlobal  TTL = "global"
)

// DecisionKind is the closed set of prompt outcomes a Prompter may return.
type DecisionKind string

const (
	Deny               DecisionKind = "deny"
	AllowOnce          DecisionKind = "allow_once"
	AllowSession       DecisionKind = "allow_session"
	AllowAlways        DecisionKind = "allow_always"
	AllowConstrained   DecisionKind = "allow_constrained"
	AllowObserved      DecisionKind = "allow_observed"
	DenyWithAlternative DecisionKind = "deny_with_alternative"
)

// Scope is a parsed "domain:action:target" permission scope. Target may
// itself contain colons (a URL, say); everything after the second colon is
// the target.
type Scope struct {
	Domain string
	Action string
	Target string
}

// Parse splits raw on ':' and requires at least 3 non-empty parts. It
// round-trips: Parse(raw).String() == raw for any raw that satisfies the
// format.
func Parse(raw string) (Scope, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) < 3 {
		return Scope{}, fmt.Errorf("permission: scope %q has fewer than 3 colon-separated parts", raw)
	}
	for _, p := range parts[:2] {
		if p == "" {
			return Scope{}, fmt.Errorf("permission: scope %q has an empty domain or action", raw)
		}
	}
	if parts[2] == "" {
		return Scope{}, fmt.Errorf("permission: scope %q has an empty target", raw)
	}
	return Scope{Domain: parts[0], Action: parts[1], Target: parts[2]}, nil
}

// String renders the scope back to "domain:action:target".
func (s Scope) String() string {
	return s.Domain + ":" + s.Action + ":" + s.Target
}

// Decision is what a Prompter returns for a batch of missing scopes.
type Decision struct {
	Kind        DecisionKind
	Scope       string // the scope this decision applies to
	Constraints map[string]any
	Telemetry   string // telemetry_level, for allow_observed
	Reason      string // for deny_with_alternative
	Alternative string // for deny_with_alternative
}

// Prompter is the external approval surface (e.g. an HTTP approvals queue,
// a CLI prompt). The Permission Engine calls it at most once per distinct
// set of missing scopes requested concurrently for a session.
type Prompter func(ctx context.Context, sessionID string, missing []string) ([]Decision, error)

// Grant is a cached permission decision.
type Grant struct {
	Scope       string
	Decision    DecisionKind
	GrantedBy   string
	TTL         TTL
	Constraints map[string]any
	Observed    bool
}

// Request is what a caller asks the engine to check.
type Request struct {
	SessionID string
	StepID    string
	Scopes    []string
	GrantedBy string // e.g. "user" or a plugin id
}

// CheckResult is what check() returns to the caller.
type CheckResult struct {
	Allowed     bool
	Constraints map[string]any
	Observed    bool
	Alternative string
}

type stepKey struct {
	sessionID, stepID, scope string
}

// Engine is the Permission Engine: a session-scoped grant cache with
// single-flight de-duplication of concurrent prompts.
type Engine struct {
	mu           sync.Mutex
	sessionCache map[string]map[string]Grant // session_id -> scope -> grant
	stepData     map[stepKey]map[string]any  // constraints per (session, step, scope)

	group   singleflight.Group
	prompt  Prompter
	journal journal.Journal
	logger  telemetry.Logger
}

// Options configures an Engine.
type Options struct {
	Prompt  Prompter
	Journal journal.Journal
	Logger  telemetry.Logger
}

// New constructs an Engine. Prompt is required; Journal may be nil for
// tests that don't care about the emitted audit trail.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Engine{
		sessionCache: make(map[string]map[string]Grant),
		stepData:     make(map[stepKey]map[string]any),
		prompt:       opts.Prompt,
		journal:      opts.Journal,
		logger:       logger,
	}
}

// IsGranted reports whether scope is already cached for session, without
// touching the prompt function.
func (e *Engine) IsGranted(sessionID, scope string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	grants, ok := e.sessionCache[sessionID]
	if !ok {
		return false
	}
	g, ok := grants[scope]
	return ok && g.Decision != Deny && g.Decision != DenyWithAlternative
}

// Check resolves req against the cache, prompting only for scopes that are
// missing. A cached grant strictly dominates prompting: if every requested
// scope is already granted, the prompt function is never invoked.
func (e *Engine) Check(ctx context.Context, req Request) (CheckResult, error) {
	missing, cachedConstraints := e.classify(req)
	if len(missing) == 0 {
		return CheckResult{Allowed: true, Constraints: cachedConstraints}, nil
	}

	e.emit(ctx, req.SessionID, journal.EventPermissionRequested, map[string]any{
		"scopes":  missing,
		"step_id": req.StepID,
	})

	key := req.SessionID + "\x00" + strings.Join(missing, ",")
	v, err, _ := e.group.Do(key, func() (any, error) {
		return e.prompt(ctx, req.SessionID, missing)
	})
	if err != nil {
		return CheckResult{}, fmt.Errorf("permission: prompt failed: %w", err)
	}
	decisions, _ := v.([]Decision)

	return e.applyDecisions(ctx, req, decisions)
}

// classify splits req.Scopes into already-granted (merging their cached
// constraints for the current step) and missing.
func (e *Engine) classify(req Request) (missing []string, constraints map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	grants := e.sessionCache[req.SessionID]
	merged := map[string]any{}
	for _, scope := range req.Scopes {
		g, ok := grants[scope]
		if !ok || g.Decision == Deny || g.Decision == DenyWithAlternative {
			missing = append(missing, scope)
			continue
		}
		if c := e.stepData[stepKey{req.SessionID, req.StepID, scope}]; c != nil {
			for k, v := range c {
				merged[k] = v
			}
		}
	}
	if len(merged) == 0 {
		return missing, nil
	}
	return missing, merged
}

func (e *Engine) applyDecisions(ctx context.Context, req Request, decisions []Decision) (CheckResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	grants, ok := e.sessionCache[req.SessionID]
	if !ok {
		grants = make(map[string]Grant)
		e.sessionCache[req.SessionID] = grants
	}

	result := CheckResult{Allowed: true}

	byScope := make(map[string]Decision, len(decisions))
	for _, d := range decisions {
		byScope[d.Scope] = d
	}

	for _, scope := range req.Scopes {
		d, ok := byScope[scope]
		if g, cached := grants[scope]; !ok && cached && g.Decision != Deny && g.Decision != DenyWithAlternative {
			// Already granted in this session; it was never part of the prompt.
			continue
		}
		if !ok {
			// No decision returned for a requested scope: treat as deny,
			// matching the "unknown type" fallback.
			d = Decision{Kind: Deny, Scope: scope}
		}

		switch d.Kind {
		case Deny:
			result.Allowed = false
			e.emitLocked(ctx, req.SessionID, journal.EventPermissionDenied, map[string]any{"scope": scope})
			continue
		case DenyWithAlternative:
			result.Allowed = false
			result.Alternative = d.Alternative
			e.emitLocked(ctx, req.SessionID, journal.EventPermissionDenied, map[string]any{
				"scope": scope, "reason": d.Reason, "alternative": d.Alternative,
			})
			continue
		case AllowOnce:
			// ttl=step; deliberately not cached in the session so every
			// future step reprompts for this scope.
		case AllowSession, AllowAlways:
			// allow_always is semantically global but cached only per
			// session, for safety.
			grants[scope] = Grant{Scope: scope, Decision: d.Kind, GrantedBy: req.GrantedBy, TTL: TTLSession}
		case AllowConstrained:
			grants[scope] = Grant{Scope: scope, Decision: d.Kind, GrantedBy: req.GrantedBy, TTL: TTLSession, Constraints: d.Constraints}
			e.stepData[stepKey{req.SessionID, req.StepID, scope}] = d.Constraints
			if result.Constraints == nil {
				result.Constraints = map[string]any{}
			}
			for k, v := range d.Constraints {
				result.Constraints[k] = v
			}
		case AllowObserved:
			grants[scope] = Grant{Scope: scope, Decision: d.Kind, GrantedBy: req.GrantedBy, TTL: TTLSession}
			result.Observed = true
		default:
			// Unknown decision kind: fall back to deny.
			result.Allowed = false
			e.emitLocked(ctx, req.SessionID, journal.EventPermissionDenied, map[string]any{"scope": scope, "reason": "unknown decision kind"})
			continue
		}

		e.emitLocked(ctx, req.SessionID, journal.EventPermissionGranted, map[string]any{
			"scope": scope, "decision": string(d.Kind),
		})
	}

	return result, nil
}

// ClearSession removes every cached grant for sessionID, or every session's
// grants if sessionID is empty.
func (e *Engine) ClearSession(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sessionID == "" {
		e.sessionCache = make(map[string]map[string]Grant)
		e.stepData = make(map[stepKey]map[string]any)
		return
	}
	delete(e.sessionCache, sessionID)
	for k := range e.stepData {
		if k.sessionID == sessionID {
			delete(e.stepData, k)
		}
	}
}

// ClearStep removes only step-ttl entries (i.e. nothing cached in
// sessionCache today carries TTLStep — allow_once is never cached — but the
// per-step constraint cache keyed by stepID is cleared here).
func (e *Engine) ClearStep(sessionID, stepID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k := range e.stepData {
		if k.sessionID == sessionID && k.stepID == stepID {
			delete(e.stepData, k)
		}
	}
}

// ListGrants enumerates active grants for sessionID.
func (e *Engine) ListGrants(sessionID string) []Grant {
	e.mu.Lock()
	defer e.mu.Unlock()
	grants := e.sessionCache[sessionID]
	out := make([]Grant, 0, len(grants))
	for _, g := range grants {
		out = append(out, g)
	}
	return out
}

func (e *Engine) emit(ctx context.Context, sessionID string, typ journal.EventType, payload map[string]any) {
	if e.journal == nil {
		return
	}
	if _, err := e.journal.Emit(ctx, sessionID, typ, payload); err != nil {
		e.logger.Warn(ctx, "permission: journal emit failed", "error", err.Error())
	}
}

// emitLocked is called while e.mu is held; journal writes never block on
// e.mu themselves, but calling out while holding the cache lock is safe
// here because Journal.Emit only ever acquires its own internal lock.
func (e *Engine) emitLocked(ctx context.Context, sessionID string, typ journal.EventType, payload map[string]any) {
	e.emit(ctx, sessionID, typ, payload)
}
