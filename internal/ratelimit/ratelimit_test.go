package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowWithinBurst(t *testing.T) {
	l := New(Config{Requests: 3, Interval: time.Minute})
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("agent-1:arbor://network/request/self/*"), "request %d", i)
	}
	assert.False(t, l.Allow("agent-1:arbor://network/request/self/*"))
}

func TestAllowIsPerKey(t *testing.T) {
	l := New(Config{Requests: 1, Interval: time.Minute})
	assert.True(t, l.Allow("agent-1"))
	assert.False(t, l.Allow("agent-1"))
	assert.True(t, l.Allow("agent-2"))
}

func TestResetClearsState(t *testing.T) {
	l := New(Config{Requests: 1, Interval: time.Minute})
	assert.True(t, l.Allow("agent-1"))
	assert.False(t, l.Allow("agent-1"))
	l.Reset("agent-1")
	assert.True(t, l.Allow("agent-1"))
}
