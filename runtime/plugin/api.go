package plugin

import (
	"context"

	"github.com/agentmesh/core/runtime/telemetry"
)

// Action is the verdict a hook returns.
type Action string

const (
	ActionContinue Action = "continue"
	ActionObserve  Action = "observe"
	ActionModify   Action = "modify"
	ActionBlock    Action = "block"
)

// HookResult is what a single hook invocation returns.
type HookResult struct {
	Action Action
	Data   map[string]any // only meaningful when Action == ActionModify
	Reason string         // only meaningful when Action == ActionBlock
}

// HookFunc is a single plugin's handler for a named hook point.
type HookFunc func(ctx context.Context, data map[string]any) (HookResult, error)

// ServiceHooks are the lifecycle callbacks a registered service provides.
// Health may be nil if the plugin does not support health checks.
type ServiceHooks struct {
	Name   string
	Start  func(ctx context.Context) error
	Stop   func(ctx context.Context) error
	Health func(ctx context.Context) error
}

// RouteHandler is a plugin-registered HTTP-like handler; transport framing
// is left to whatever exposes plugin routes (namespaced under
// /api/plugins/{id}/...).
type RouteHandler func(ctx context.Context, input map[string]any) (map[string]any, error)

// ToolImpl is what a plugin registers as an internal tool implementation.
type ToolImpl func(ctx context.Context, input map[string]any) (map[string]any, error)

// CommandSpec describes a plugin-registered CLI/command entry.
type CommandSpec struct {
	Description string
	Run         func(ctx context.Context, args []string) error
}

// API is handed to a plugin's register function. Every registration method
// records the registration under the owning plugin's id so Unload can
// remove it cleanly.
type API struct {
	pluginID string
	host     *Host
	Logger   telemetry.Logger
	Config   map[string]any
}

// RegisterTool registers an internal tool implementation, namespaced by
// plugin id to avoid collisions between plugins.
func (a *API) RegisterTool(name string, impl ToolImpl) {
	a.host.registerTool(a.pluginID, name, impl)
}

// RegisterHook adds fn under hookName at the given priority (lower runs
// first). Hooks from the same plugin/hookName pair replace each other.
func (a *API) RegisterHook(hookName string, fn HookFunc, priority int) {
	a.host.registerHook(a.pluginID, hookName, fn, priority)
}

// RegisterRoute registers method+path under this plugin's namespace.
func (a *API) RegisterRoute(method, path string, handler RouteHandler) {
	a.host.registerRoute(a.pluginID, method, path, handler)
}

// RegisterCommand registers a named CLI command.
func (a *API) RegisterCommand(name string, spec CommandSpec) {
	a.host.registerCommand(a.pluginID, name, spec)
}

// RegisterService registers a service to be started when the plugin loads
// and stopped when it unloads.
func (a *API) RegisterService(hooks ServiceHooks) {
	a.host.registerService(a.pluginID, hooks)
}

// Register is the symbol every plugin entry must export: a function taking
// an *API and returning an error if registration failed.
type Register func(api *API) error
