package plugin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreakerOpensAtFailureLimit(t *testing.T) {
	cb := newCircuitBreaker(3, time.Minute)
	key := "plugin-a\x00hook"

	assert.True(t, cb.allow(key))
	assert.False(t, cb.recordFailure(key))
	assert.False(t, cb.recordFailure(key))
	assert.True(t, cb.recordFailure(key), "third consecutive failure should open the circuit")
	assert.False(t, cb.allow(key), "circuit should now be open")
}

func TestCircuitBreakerClosesAfterOpenDurationElapses(t *testing.T) {
	cb := newCircuitBreaker(1, 10*time.Millisecond)
	key := "plugin-a\x00hook"

	assert.True(t, cb.recordFailure(key))
	assert.False(t, cb.allow(key))

	time.Sleep(20 * time.Millisecond)
	assert.True(t, cb.allow(key), "circuit should close again once openDuration elapses")
}

func TestCircuitBreakerSuccessResetsFailureStreak(t *testing.T) {
	cb := newCircuitBreaker(3, time.Minute)
	key := "plugin-a\x00hook"

	assert.False(t, cb.recordFailure(key))
	assert.False(t, cb.recordFailure(key))
	cb.recordSuccess(key)
	assert.False(t, cb.recordFailure(key), "streak should have reset, so this is only the first failure again")
}
