package eventstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trust-arbor/arbor/internal/trustmodel"
)

func mkEvent(agentID string, et trustmodel.EventType, ts time.Time) *trustmodel.TrustEvent {
	return &trustmodel.TrustEvent{AgentID: agentID, EventType: et, Timestamp: ts}
}

func TestStoreEventAssignsID(t *testing.T) {
	s := New()
	e := s.StoreEvent(mkEvent("a1", trustmodel.EventActionSuccess, time.Now()))
	assert.NotEmpty(t, e.ID)
}

func TestGetEventsOrderingAscDesc(t *testing.T) {
	s := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.StoreEvent(mkEvent("a1", trustmodel.EventActionSuccess, base))
	s.StoreEvent(mkEvent("a1", trustmodel.EventActionFailure, base.Add(time.Minute)))
	s.StoreEvent(mkEvent("a1", trustmodel.EventTestPassed, base.Add(2*time.Minute)))

	asc := s.GetEvents(Filter{AgentID: "a1", Order: OrderAsc})
	require.Len(t, asc, 3)
	assert.Equal(t, trustmodel.EventActionSuccess, asc[0].EventType)
	assert.Equal(t, trustmodel.EventTestPassed, asc[2].EventType)

	desc := s.GetEvents(Filter{AgentID: "a1", Order: OrderDesc})
	require.Len(t, desc, 3)
	assert.Equal(t, trustmodel.EventTestPassed, desc[0].EventType)
	assert.Equal(t, trustmodel.EventActionSuccess, desc[2].EventType)
}

func TestGetEventsFiltersByType(t *testing.T) {
	s := New()
	base := time.Now()
	s.StoreEvent(mkEvent("a1", trustmodel.EventActionSuccess, base))
	s.StoreEvent(mkEvent("a1", trustmodel.EventActionFailure, base.Add(time.Second)))

	out := s.GetEvents(Filter{AgentID: "a1", EventType: trustmodel.EventActionFailure})
	require.Len(t, out, 1)
	assert.Equal(t, trustmodel.EventActionFailure, out[0].EventType)
}

func TestGetEventsPagePaginatesForward(t *testing.T) {
	s := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s.StoreEvent(mkEvent("a1", trustmodel.EventActionSuccess, base.Add(time.Duration(i)*time.Minute)))
	}

	page1, err := s.GetEventsPage(Filter{AgentID: "a1", Order: OrderAsc, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page1.Events, 2)
	assert.True(t, page1.HasMore)
	assert.NotEmpty(t, page1.NextCursor)

	page2, err := s.GetEventsPage(Filter{AgentID: "a1", Order: OrderAsc, Limit: 2, Cursor: page1.NextCursor})
	require.NoError(t, err)
	require.Len(t, page2.Events, 2)
	assert.True(t, page2.HasMore)

	page3, err := s.GetEventsPage(Filter{AgentID: "a1", Order: OrderAsc, Limit: 2, Cursor: page2.NextCursor})
	require.NoError(t, err)
	require.Len(t, page3.Events, 1)
	assert.False(t, page3.HasMore)
	assert.Empty(t, page3.NextCursor)
}

func TestGetEventsPageInvalidCursor(t *testing.T) {
	s := New()
	_, err := s.GetEventsPage(Filter{AgentID: "a1", Cursor: "not-valid-base64!!"})
	assert.Error(t, err)
}

func TestAgentTimelineComputesSincePrevious(t *testing.T) {
	s := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.StoreEvent(mkEvent("a1", trustmodel.EventActionSuccess, base))
	s.StoreEvent(mkEvent("a1", trustmodel.EventActionSuccess, base.Add(5*time.Minute)))

	timeline := s.AgentTimeline("a1")
	require.Len(t, timeline, 2)
	assert.False(t, timeline[0].HasPrevious)
	assert.True(t, timeline[1].HasPrevious)
	assert.Equal(t, 5*time.Minute, timeline[1].SincePrevious)
}

func TestTrustProgression(t *testing.T) {
	s := New()
	base := time.Now()
	s.StoreEvent(&trustmodel.TrustEvent{AgentID: "a1", EventType: trustmodel.EventActionSuccess, Timestamp: base, PreviousScore: 10, NewScore: 15})
	s.StoreEvent(&trustmodel.TrustEvent{AgentID: "a1", EventType: trustmodel.EventActionFailure, Timestamp: base.Add(time.Minute), PreviousScore: 15, NewScore: 8})

	prog := s.TrustProgression("a1")
	assert.Equal(t, 8, prog.Current)
	assert.Equal(t, 8, prog.Min)
	assert.Equal(t, 15, prog.Max)
	assert.Equal(t, 5, prog.PositiveDelta)
	assert.Equal(t, 7, prog.NegativeDelta)
}

func TestTierHistoryFiltersToTierChanged(t *testing.T) {
	s := New()
	base := time.Now()
	s.StoreEvent(mkEvent("a1", trustmodel.EventActionSuccess, base))
	s.StoreEvent(mkEvent("a1", trustmodel.EventTierChanged, base.Add(time.Minute)))

	hist := s.TierHistory("a1")
	require.Len(t, hist, 1)
	assert.Equal(t, trustmodel.EventTierChanged, hist[0].EventType)
}

func TestAgentStatsComputesSuccessRateAndNegatives(t *testing.T) {
	s := New()
	base := time.Now()
	s.StoreEvent(mkEvent("a1", trustmodel.EventActionSuccess, base))
	s.StoreEvent(mkEvent("a1", trustmodel.EventActionSuccess, base.Add(time.Second)))
	s.StoreEvent(mkEvent("a1", trustmodel.EventActionFailure, base.Add(2*time.Second)))
	s.StoreEvent(mkEvent("a1", trustmodel.EventSecurityViolation, base.Add(3*time.Second)))

	stats := s.AgentStats("a1")
	assert.Equal(t, 4, stats.TotalEvents)
	assert.InDelta(t, 66.66, stats.SuccessRate, 0.1)
	assert.Equal(t, 1, stats.SecurityViolations)
	assert.Equal(t, 2, stats.NegativeEventCount)
}

func TestCompactRemovesEventsOlderThanCutoff(t *testing.T) {
	s := New()
	cutoff := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	s.StoreEvent(mkEvent("a1", trustmodel.EventActionSuccess, cutoff.Add(-time.Hour)))
	s.StoreEvent(mkEvent("a1", trustmodel.EventActionSuccess, cutoff.Add(time.Hour)))

	removed := s.Compact(cutoff)
	assert.Equal(t, 1, removed)
	assert.Len(t, s.GetEvents(Filter{AgentID: "a1"}), 1)
}

func TestRecentNegativeEventsRespectsWindowAndLimit(t *testing.T) {
	s := New()
	now := time.Now().UTC()
	s.StoreEvent(mkEvent("a1", trustmodel.EventActionFailure, now.Add(-2*time.Hour)))
	s.StoreEvent(mkEvent("a1", trustmodel.EventActionFailure, now.Add(-time.Minute)))
	s.StoreEvent(mkEvent("a1", trustmodel.EventSecurityViolation, now))

	out := s.RecentNegativeEvents(10, 1)
	require.Len(t, out, 1)
	assert.Equal(t, trustmodel.EventSecurityViolation, out[0].EventType)
}
