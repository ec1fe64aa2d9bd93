package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os/exec"
	"time"

	"github.com/agentmesh/core/runtime/corerr"
	"github.com/agentmesh/core/runtime/journal"
	"github.com/agentmesh/core/runtime/permission"
	"github.com/agentmesh/core/runtime/schema"
	"github.com/agentmesh/core/runtime/telemetry"
)

// Mode mirrors the Kernel session's execution mode; the Tool Runtime only
// needs to know whether it must short-circuit to a mock response.
type Mode string

const (
	ModeLive   Mode = "live"
	ModeMock   Mode = "mock"
	ModeDryRun Mode = "dry_run"
)

// PermissionChecker is the narrow surface Tool Runtime needs from the
// Permission Engine, so tests can substitute a stub without constructing a
// full Engine.
type PermissionChecker interface {
	Check(ctx context.Context, req permission.Request) (permission.CheckResult, error)
}

// Internal is the function signature for an in-process tool implementation.
type Internal func(ctx context.Context, input map[string]any) (map[string]any, error)

// Registry resolves a tool name and optional semver range to a Manifest and,
// for internal tools, the function that implements it.
type Registry interface {
	Resolve(name, versionRange string) (Manifest, error)
	Internal(name string) (Internal, bool)
}

// Result is the outcome of one tool invocation. Execute reports invocation
// failures inside Result.Error, not via its second return value, which is
// non-nil only when no Registry is configured; this matches the
// boundary-never-panics rule for step execution.
type Result struct {
	Output     map[string]any
	Error      *corerr.CoreError
	DurationMS int64
	CostUSD    float64
	Tokens     int64
}

// Runtime executes single tool invocations under permission, schema, and
// policy enforcement.
type Runtime struct {
	registry   Registry
	permission PermissionChecker
	validator  *schema.Validator
	journal    journal.Journal
	logger     telemetry.Logger
	httpClient *http.Client
}

// Options configures a Runtime.
type Options struct {
	Registry   Registry
	Permission PermissionChecker
	Validator  *schema.Validator
	Journal    journal.Journal
	Logger     telemetry.Logger
	HTTPClient *http.Client
}

// New constructs a Runtime.
func New(opts Options) *Runtime {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	validator := opts.Validator
	if validator == nil {
		validator = schema.New()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Runtime{
		registry:   opts.Registry,
		permission: opts.Permission,
		validator:  validator,
		journal:    opts.Journal,
		logger:     logger,
		httpClient: httpClient,
	}
}

// Invoke is everything the Tool Runtime needs about one step to execute it.
type Invoke struct {
	SessionID    string
	StepID       string
	ToolName     string
	VersionRange string
	Input        map[string]any
	Mode         Mode
	Policy       Policy
	PolicyInput  Invocation
	GrantedBy    string
}

// Execute resolves the manifest, checks permissions, validates input,
// enforces policy, invokes the runner (or returns a mock response), and
// validates output. It never returns a non-nil error except for
// programmer-error conditions (a nil Registry); invocation failures are
// reported in Result.Error.
func (r *Runtime) Execute(ctx context.Context, inv Invoke) (Result, error) {
	if r.registry == nil {
		return Result{}, corerr.New(corerr.BadInput, "tool runtime has no registry configured")
	}

	start := time.Now()

	manifest, err := r.registry.Resolve(inv.ToolName, inv.VersionRange)
	if err != nil {
		return r.fail(corerr.Wrap(corerr.BadInput, "resolve tool manifest", err), start), nil
	}
	if err := manifest.Validate(); err != nil {
		return r.fail(corerr.Wrap(corerr.BadInput, "tool manifest invalid", err), start), nil
	}

	scopes := r.resolveScopes(manifest, inv)
	if len(scopes) > 0 && r.permission != nil {
		res, err := r.permission.Check(ctx, permission.Request{
			SessionID: inv.SessionID,
			StepID:    inv.StepID,
			Scopes:    scopes,
			GrantedBy: inv.GrantedBy,
		})
		if err != nil {
			return r.fail(corerr.Wrap(corerr.PermissionDenied, "permission check failed", err), start), nil
		}
		if !res.Allowed {
			msg := "permission denied for " + inv.ToolName
			if res.Alternative != "" {
				msg += "; alternative: " + res.Alternative
			}
			return r.fail(corerr.New(corerr.PermissionDenied, msg), start), nil
		}
	}

	if manifest.InputSchema != nil {
		result, err := r.validator.Validate(mustJSON(manifest.InputSchema), inv.Input)
		if err != nil {
			return r.fail(corerr.Wrap(corerr.BadInput, "compile input schema", err), start), nil
		}
		if !result.Valid {
			return r.fail(corerr.Newf(corerr.BadInput, "input validation failed: %v", result.Errors), start), nil
		}
	}

	if violation := inv.Policy.Check(inv.PolicyInput); violation != "" {
		return r.fail(corerr.New(corerr.PolicyViolation, violation), start), nil
	}

	if inv.Mode == ModeMock {
		output, ok := manifest.MockResponses[inv.ToolName]
		if !ok {
			output = manifest.MockResponses["default"]
		}
		out, _ := output.(map[string]any)
		return r.succeed(out, start), nil
	}

	output, err := r.invokeRunner(ctx, manifest, inv)
	if err != nil {
		return r.fail(errAsCore(err), start), nil
	}

	if manifest.OutputSchema != nil {
		result, verr := r.validator.Validate(mustJSON(manifest.OutputSchema), output)
		if verr != nil {
			return r.fail(corerr.Wrap(corerr.BadInput, "compile output schema", verr), start), nil
		}
		if !result.Valid {
			return r.fail(corerr.Newf(corerr.BadInput, "output validation failed: %v", result.Errors), start), nil
		}
	}

	return r.succeed(output, start), nil
}

func (r *Runtime) resolveScopes(manifest Manifest, inv Invoke) []string {
	if len(manifest.Permissions) == 0 {
		return nil
	}
	scopes := make([]string, len(manifest.Permissions))
	copy(scopes, manifest.Permissions)
	return scopes
}

func (r *Runtime) invokeRunner(ctx context.Context, manifest Manifest, inv Invoke) (map[string]any, error) {
	timeout := time.Duration(manifest.TimeoutMS) * time.Millisecond
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch manifest.Runner {
	case RunnerInternal:
		fn, ok := r.registry.Internal(manifest.Name)
		if !ok {
			return nil, corerr.Newf(corerr.BadInput, "no internal implementation registered for %q", manifest.Name)
		}
		return r.runWithTimeout(runCtx, func() (map[string]any, error) {
			return fn(runCtx, inv.Input)
		})
	case RunnerSubprocess:
		return r.runWithTimeout(runCtx, func() (map[string]any, error) {
			return runSubprocess(runCtx, manifest, inv.Input)
		})
	case RunnerHTTP:
		return r.runWithTimeout(runCtx, func() (map[string]any, error) {
			return r.runHTTP(runCtx, manifest, inv.Input)
		})
	default:
		return nil, corerr.Newf(corerr.BadInput, "unsupported runner %q", manifest.Runner)
	}
}

// runWithTimeout races fn against ctx, converting context.DeadlineExceeded
// into a TIMEOUT CoreError.
func (r *Runtime) runWithTimeout(ctx context.Context, fn func() (map[string]any, error)) (map[string]any, error) {
	type outcome struct {
		out map[string]any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := fn()
		done <- outcome{out, err}
	}()

	select {
	case <-ctx.Done():
		return nil, corerr.Wrap(corerr.Timeout, "tool invocation deadline exceeded", ctx.Err())
	case o := <-done:
		return o.out, o.err
	}
}

func runSubprocess(ctx context.Context, manifest Manifest, input map[string]any) (map[string]any, error) {
	if len(manifest.Command) == 0 {
		return nil, corerr.New(corerr.BadInput, "subprocess tool has no command configured")
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, corerr.Wrap(corerr.BadInput, "marshal subprocess input", err)
	}

	cmd := exec.CommandContext(ctx, manifest.Command[0], manifest.Command[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	out, err := cmd.Output()
	if ctx.Err() != nil {
		return nil, corerr.Wrap(corerr.Timeout, "subprocess deadline exceeded", ctx.Err())
	}
	if err != nil {
		return nil, corerr.Wrap(corerr.PluginFailed, "subprocess exited with error", err)
	}

	var result map[string]any
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, corerr.Wrap(corerr.BadInput, "subprocess did not return valid JSON", err)
	}
	return result, nil
}

func (r *Runtime) runHTTP(ctx context.Context, manifest Manifest, input map[string]any) (map[string]any, error) {
	if r.httpClient == nil {
		return nil, corerr.New(corerr.BadInput, "http tool runner has no client configured")
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, corerr.Wrap(corerr.BadInput, "marshal http input", err)
	}
	method := manifest.HTTPMethod
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, manifest.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, corerr.Wrap(corerr.BadInput, "build http tool request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, corerr.Wrap(corerr.Timeout, "http tool deadline exceeded", ctx.Err())
		}
		return nil, corerr.Wrap(corerr.PeerUnreachable, "http tool request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, corerr.Wrap(corerr.PeerUnreachable, "read http tool response", err)
	}

	var result map[string]any
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, corerr.Wrap(corerr.BadInput, "http tool did not return valid JSON", err)
	}
	return result, nil
}

func (r *Runtime) fail(ce *corerr.CoreError, start time.Time) Result {
	return Result{Error: ce, DurationMS: time.Since(start).Milliseconds()}
}

func (r *Runtime) succeed(output map[string]any, start time.Time) Result {
	return Result{Output: output, DurationMS: time.Since(start).Milliseconds()}
}

func errAsCore(err error) *corerr.CoreError {
	if ce, ok := err.(*corerr.CoreError); ok {
		return ce
	}
	return corerr.Wrap(corerr.Unknown, "tool invocation failed", err)
}

func mustJSON(v map[string]any) []byte {
	b, _ := json.Marshal(v)
	return b
}
