package plugin

import (
	"context"
	"fmt"
	"plugin"
	"sort"
	"sync"
	"time"

	"github.com/agentmesh/core/runtime/corerr"
	"github.com/agentmesh/core/runtime/journal"
	"github.com/agentmesh/core/runtime/telemetry"
)

// State is the closed lifecycle enum for a loaded plugin.
type State string

const (
	StateDiscovered State = "discovered"
	StateLoading    State = "loading"
	StateActive     State = "active"
	StateFailed     State = "failed"
)

const (
	circuitFailureLimit = 5
	circuitOpenDuration = 60 * time.Second
)

type hookRegistration struct {
	pluginID string
	priority int
	fn       HookFunc
}

type routeKey struct {
	pluginID string
	method   string
	path     string
}

type loadedPlugin struct {
	manifest Manifest
	hash     string
	state    State
	services []ServiceHooks
}

// Options configures a Host.
type Options struct {
	Journal journal.Journal
	Logger  telemetry.Logger
}

// Host discovers, loads, lifecycle-manages, and dispatches hooks, routes,
// commands, and services from sandboxed plugin extensions.
type Host struct {
	mu sync.RWMutex

	journal journal.Journal
	logger  telemetry.Logger

	plugins  map[string]*loadedPlugin       // plugin id -> loaded state
	tools    map[string]map[string]ToolImpl // plugin id -> tool name -> impl
	hooks    map[string][]hookRegistration  // hook name -> registrations (all plugins)
	routes   map[routeKey]RouteHandler
	commands map[string]map[string]CommandSpec // plugin id -> command name -> spec

	breaker *circuitBreaker
}

// New constructs an empty Host.
func New(opts Options) *Host {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Host{
		journal:  opts.Journal,
		logger:   logger,
		plugins:  make(map[string]*loadedPlugin),
		tools:    make(map[string]map[string]ToolImpl),
		hooks:    make(map[string][]hookRegistration),
		routes:   make(map[routeKey]RouteHandler),
		commands: make(map[string]map[string]CommandSpec),
		breaker:  newCircuitBreaker(circuitFailureLimit, circuitOpenDuration),
	}
}

// LoadPlugin loads the plugin described by d: imports its entry, obtains
// the register symbol, builds its API, and invokes register(api). A
// plugin whose entry is missing the symbol, or whose register call
// returns an error, ends in state failed without aborting the host.
func (h *Host) LoadPlugin(ctx context.Context, d Discovered) error {
	id := d.Manifest.ID
	h.emit(ctx, journal.EventPluginDiscovered, map[string]any{"plugin_id": id, "hash": d.Hash})
	h.emit(ctx, journal.EventPluginLoading, map[string]any{"plugin_id": id})

	h.mu.Lock()
	h.plugins[id] = &loadedPlugin{manifest: d.Manifest, hash: d.Hash, state: StateLoading}
	h.mu.Unlock()

	register, err := h.loadRegisterSymbol(d.Manifest)
	if err != nil {
		h.markFailed(ctx, id, err)
		return err
	}

	api := &API{
		pluginID: id,
		host:     h,
		Logger:   scopedLogger{base: h.logger, pluginID: id},
		Config:   map[string]any{},
	}

	if err := register(api); err != nil {
		h.markFailed(ctx, id, corerr.Wrap(corerr.PluginFailed, "plugin register() failed", err))
		return err
	}

	h.mu.Lock()
	h.plugins[id].state = StateActive
	services := append([]ServiceHooks(nil), h.plugins[id].services...)
	h.mu.Unlock()

	h.emit(ctx, journal.EventPluginLoaded, map[string]any{"plugin_id": id})

	h.startServices(ctx, id, services)
	return nil
}

func (h *Host) loadRegisterSymbol(m Manifest) (Register, error) {
	p, err := plugin.Open(m.Entry)
	if err != nil {
		return nil, corerr.Wrap(corerr.PluginFailed, "open plugin entry", err)
	}
	sym, err := p.Lookup("Register")
	if err != nil {
		return nil, corerr.Wrap(corerr.PluginFailed, "plugin entry has no Register symbol", err)
	}
	register, ok := sym.(func(*API) error)
	if !ok {
		return nil, corerr.New(corerr.PluginFailed, "plugin Register symbol has the wrong signature")
	}
	return Register(register), nil
}

func (h *Host) markFailed(ctx context.Context, id string, err error) {
	h.mu.Lock()
	if lp, ok := h.plugins[id]; ok {
		lp.state = StateFailed
	}
	h.mu.Unlock()
	h.emit(ctx, journal.EventPluginFailed, map[string]any{"plugin_id": id, "error": err.Error()})
}

// startServices starts every registered service sequentially; a service
// that fails to start is recorded but does not demote the plugin.
func (h *Host) startServices(ctx context.Context, pluginID string, services []ServiceHooks) {
	for _, svc := range services {
		if svc.Start == nil {
			continue
		}
		if err := svc.Start(ctx); err != nil {
			h.emit(ctx, journal.EventPluginServiceFailed, map[string]any{
				"plugin_id": pluginID, "service": svc.Name, "error": err.Error(),
			})
			continue
		}
		h.emit(ctx, journal.EventPluginServiceStarted, map[string]any{"plugin_id": pluginID, "service": svc.Name})
	}
}

// Unload stops services (errors ignored), removes all of pluginID's
// registrations, and emits plugin.unloaded.
func (h *Host) Unload(ctx context.Context, pluginID string) error {
	h.mu.Lock()
	lp, ok := h.plugins[pluginID]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("plugin: unknown plugin %q", pluginID)
	}
	services := append([]ServiceHooks(nil), lp.services...)
	delete(h.plugins, pluginID)
	delete(h.tools, pluginID)
	delete(h.commands, pluginID)
	for name, regs := range h.hooks {
		filtered := regs[:0]
		for _, r := range regs {
			if r.pluginID != pluginID {
				filtered = append(filtered, r)
			}
		}
		h.hooks[name] = filtered
	}
	for k := range h.routes {
		if k.pluginID == pluginID {
			delete(h.routes, k)
		}
	}
	h.mu.Unlock()

	for _, svc := range services {
		if svc.Stop == nil {
			continue
		}
		if err := svc.Stop(ctx); err != nil {
			h.logger.Warn(ctx, "plugin: service stop failed", "plugin_id", pluginID, "service", svc.Name, "error", err.Error())
		} else {
			h.emit(ctx, journal.EventPluginServiceStopped, map[string]any{"plugin_id": pluginID, "service": svc.Name})
		}
	}

	h.emit(ctx, journal.EventPluginUnloaded, map[string]any{"plugin_id": pluginID})
	return nil
}

// Reload unloads pluginID (if loaded) and loads it again from d, emitting
// plugin.reloaded on success.
func (h *Host) Reload(ctx context.Context, d Discovered) error {
	h.mu.RLock()
	_, loaded := h.plugins[d.Manifest.ID]
	h.mu.RUnlock()
	if loaded {
		if err := h.Unload(ctx, d.Manifest.ID); err != nil {
			return err
		}
	}
	if err := h.LoadPlugin(ctx, d); err != nil {
		return err
	}
	h.emit(ctx, journal.EventPluginReloaded, map[string]any{"plugin_id": d.Manifest.ID})
	return nil
}

// State returns the current lifecycle state of pluginID.
func (h *Host) State(pluginID string) (State, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	lp, ok := h.plugins[pluginID]
	if !ok {
		return "", false
	}
	return lp.state, true
}

func (h *Host) registerTool(pluginID, name string, impl ToolImpl) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tools[pluginID] == nil {
		h.tools[pluginID] = make(map[string]ToolImpl)
	}
	h.tools[pluginID][name] = impl
}

// Tool looks up a plugin-registered tool implementation by plugin id and
// tool name.
func (h *Host) Tool(pluginID, name string) (ToolImpl, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	impl, ok := h.tools[pluginID][name]
	return impl, ok
}

func (h *Host) registerHook(pluginID, hookName string, fn HookFunc, priority int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	regs := h.hooks[hookName]
	for i, r := range regs {
		if r.pluginID == pluginID {
			regs[i] = hookRegistration{pluginID: pluginID, priority: priority, fn: fn}
			h.hooks[hookName] = regs
			return
		}
	}
	h.hooks[hookName] = append(regs, hookRegistration{pluginID: pluginID, priority: priority, fn: fn})
}

func (h *Host) registerRoute(pluginID, method, path string, handler RouteHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.routes[routeKey{pluginID: pluginID, method: method, path: path}] = handler
}

// Route looks up the handler registered for method+path under pluginID's
// namespace (/api/plugins/{id}/...).
func (h *Host) Route(pluginID, method, path string) (RouteHandler, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	handler, ok := h.routes[routeKey{pluginID: pluginID, method: method, path: path}]
	return handler, ok
}

func (h *Host) registerCommand(pluginID, name string, spec CommandSpec) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.commands[pluginID] == nil {
		h.commands[pluginID] = make(map[string]CommandSpec)
	}
	h.commands[pluginID][name] = spec
}

func (h *Host) registerService(pluginID string, hooks ServiceHooks) {
	h.mu.Lock()
	defer h.mu.Unlock()
	lp, ok := h.plugins[pluginID]
	if !ok {
		return
	}
	lp.services = append(lp.services, hooks)
}

// Dispatch runs every hook registered for hookName in ascending priority
// order, threading data through modify merges, stopping at the first
// block, and short-circuiting any (plugin, hookName) pair whose circuit is
// open to an "observe" verdict.
func (h *Host) Dispatch(ctx context.Context, hookName string, data map[string]any) (HookResult, error) {
	h.mu.RLock()
	regs := append([]hookRegistration(nil), h.hooks[hookName]...)
	h.mu.RUnlock()

	sort.SliceStable(regs, func(i, j int) bool { return regs[i].priority < regs[j].priority })

	current := data
	for _, reg := range regs {
		key := reg.pluginID + "\x00" + hookName
		if !h.breaker.allow(key) {
			continue
		}

		result, err := reg.fn(ctx, current)
		if err != nil {
			if h.breaker.recordFailure(key) {
				h.emit(ctx, journal.EventPluginHookCircuitOpen, map[string]any{"plugin_id": reg.pluginID, "hook": hookName})
			}
			continue
		}
		h.breaker.recordSuccess(key)
		h.emit(ctx, journal.EventPluginHookFired, map[string]any{"plugin_id": reg.pluginID, "hook": hookName, "action": string(result.Action)})

		switch result.Action {
		case ActionBlock:
			return result, nil
		case ActionModify:
			current = shallowMerge(current, result.Data)
		case ActionObserve, ActionContinue:
			// fall through to next hook
		}
	}
	return HookResult{Action: ActionContinue, Data: current}, nil
}

func shallowMerge(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

func (h *Host) emit(ctx context.Context, typ journal.EventType, payload map[string]any) {
	if h.journal == nil {
		return
	}
	if _, err := h.journal.Emit(ctx, "", typ, payload); err != nil {
		h.logger.Warn(ctx, "plugin: journal emit failed", "type", string(typ), "error", err.Error())
	}
}

type scopedLogger struct {
	base     telemetry.Logger
	pluginID string
}

func (s scopedLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	s.base.Debug(ctx, msg, append([]any{"plugin_id", s.pluginID}, keyvals...)...)
}
func (s scopedLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	s.base.Info(ctx, msg, append([]any{"plugin_id", s.pluginID}, keyvals...)...)
}
func (s scopedLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	s.base.Warn(ctx, msg, append([]any{"plugin_id", s.pluginID}, keyvals...)...)
}
func (s scopedLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	s.base.Error(ctx, msg, append([]any{"plugin_id", s.pluginID}, keyvals...)...)
}

var _ telemetry.Logger = scopedLogger{}
