package circuitbreaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trust-arbor/arbor/internal/trustmodel"
)

type fakeFreezer struct {
	mu       sync.Mutex
	frozen   []string
	demoted  []string
	freezeErr error
}

func (f *fakeFreezer) Freeze(agentID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frozen = append(f.frozen, agentID)
	return f.freezeErr
}

func (f *fakeFreezer) DemoteTier(agentID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.demoted = append(f.demoted, agentID)
	return nil
}

func (f *fakeFreezer) frozenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frozen)
}

func (f *fakeFreezer) demotedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.demoted)
}

func testConfig() Config {
	return Config{
		RapidFailureThreshold: 3,
		RapidFailureWindow:    time.Minute,
		SecurityThreshold:     2,
		SecurityWindow:        time.Minute,
		RollbackThreshold:     2,
		RollbackWindow:        time.Minute,
		TestFailureThreshold:  3,
		TestFailureWindow:     time.Minute,
		FreezeDuration:        time.Hour,
		HalfOpenDuration:      time.Hour,
	}
}

func TestObserveTripsOnRapidFailureThreshold(t *testing.T) {
	fz := &fakeFreezer{}
	b := New(testConfig(), fz, nil)

	b.Observe("a1", trustmodel.EventActionFailure)
	b.Observe("a1", trustmodel.EventActionFailure)
	assert.NoError(t, b.Check("a1"))

	b.Observe("a1", trustmodel.EventActionFailure)
	assert.Error(t, b.Check("a1"))
	assert.Equal(t, 1, fz.frozenCount())
}

func TestObserveRollbackBreachOnlyDemotesNeverFreezes(t *testing.T) {
	fz := &fakeFreezer{}
	b := New(testConfig(), fz, nil)

	b.Observe("a1", trustmodel.EventRollbackExecuted)
	b.Observe("a1", trustmodel.EventRollbackExecuted)

	assert.Equal(t, 1, fz.demotedCount())
	assert.Equal(t, 0, fz.frozenCount())
	assert.NoError(t, b.Check("a1"), "rollback breaches must not open the circuit")
}

func TestObserveIgnoresUnrelatedEventTypes(t *testing.T) {
	fz := &fakeFreezer{}
	b := New(testConfig(), fz, nil)

	for i := 0; i < 10; i++ {
		b.Observe("a1", trustmodel.EventActionSuccess)
	}
	assert.NoError(t, b.Check("a1"))
	assert.Equal(t, 0, fz.frozenCount())
}

func TestCheckClosedForUnknownAgent(t *testing.T) {
	b := New(testConfig(), &fakeFreezer{}, nil)
	assert.NoError(t, b.Check("never-seen"))
}

func TestResetForcesClosed(t *testing.T) {
	fz := &fakeFreezer{}
	b := New(testConfig(), fz, nil)
	b.Observe("a1", trustmodel.EventSecurityViolation)
	b.Observe("a1", trustmodel.EventSecurityViolation)
	require.Error(t, b.Check("a1"))

	b.Reset("a1")
	assert.NoError(t, b.Check("a1"))
}

func TestTripIsIdempotentWhileOpen(t *testing.T) {
	fz := &fakeFreezer{}
	b := New(testConfig(), fz, nil)
	b.Observe("a1", trustmodel.EventTestFailed)
	b.Observe("a1", trustmodel.EventTestFailed)
	b.Observe("a1", trustmodel.EventTestFailed)
	b.Observe("a1", trustmodel.EventTestFailed)

	assert.Equal(t, 1, fz.frozenCount(), "repeated breaches while already open must not re-freeze")
}

func TestStopSignalsCleanupLoopExit(t *testing.T) {
	b := New(testConfig(), &fakeFreezer{}, nil)
	b.Start()
	b.Stop()
}
