package plugin

import (
	"sync"
	"time"
)

// circuitBreaker tracks consecutive failures per (plugin, hook) pair and
// opens for openDuration once the failure streak reaches the threshold,
// mirroring a classic closed/open/half-open breaker but collapsing
// half-open into "closed again after openDuration elapses" since hook
// dispatch has no separate trial-call phase.
type circuitBreaker struct {
	mu           sync.Mutex
	failureLimit int
	openDuration time.Duration
	state        map[string]*breakerState
}

type breakerState struct {
	consecutiveFailures int
	openUntil           time.Time
	opened              bool // true once hook_circuit_open has been emitted for the current opening
}

func newCircuitBreaker(failureLimit int, openDuration time.Duration) *circuitBreaker {
	return &circuitBreaker{
		failureLimit: failureLimit,
		openDuration: openDuration,
		state:        make(map[string]*breakerState),
	}
}

// allow reports whether key (pluginID+"\x00"+hookName) may currently call
// through. Once the open window has elapsed it resets the key to closed.
// The transition to open is reported by recordFailure, not here.
func (c *circuitBreaker) allow(key string) (ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, exists := c.state[key]
	if !exists {
		return true
	}
	if st.openUntil.IsZero() {
		return true
	}
	if time.Now().Before(st.openUntil) {
		return false
	}
	// Open window elapsed: reset to closed.
	st.consecutiveFailures = 0
	st.openUntil = time.Time{}
	st.opened = false
	return true
}

// recordFailure records a failure for key and reports whether this call
// just opened the circuit (so the caller emits hook_circuit_open exactly
// once per opening).
func (c *circuitBreaker) recordFailure(key string) (justOpened bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.state[key]
	if !ok {
		st = &breakerState{}
		c.state[key] = st
	}
	st.consecutiveFailures++
	if st.consecutiveFailures >= c.failureLimit && !st.opened {
		st.openUntil = time.Now().Add(c.openDuration)
		st.opened = true
		return true
	}
	return false
}

// recordSuccess resets the failure streak for key.
func (c *circuitBreaker) recordSuccess(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.state[key]; ok {
		st.consecutiveFailures = 0
		st.openUntil = time.Time{}
		st.opened = false
	}
}
