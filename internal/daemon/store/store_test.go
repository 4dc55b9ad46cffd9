package store

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/grovetools/tabsd/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyUpdate(t *testing.T) {
	s := New()
	sub := s.Subscribe()
	defer s.Unsubscribe(sub)

	s.ApplyUpdate(Update{Type: UpdateSessions, Payload: []models.Session{{ID: "a", Owner: 1000}, {ID: "b", Owner: 1001}}})
	s.ApplyUpdate(Update{Type: UpdateSpeculation, Payload: SpeculationStatus{State: models.SpeculationSpeculating, SessionID: "a", URL: "https://example.com/"}})
	s.ApplyUpdate(Update{Type: UpdateWarmup, Payload: WarmupStatus{Called: true, Calls: 1}})

	st := s.Get()
	assert.Len(t, st.Sessions, 2)
	assert.Equal(t, models.UID(1001), st.Sessions["b"].Owner)
	assert.Equal(t, models.SpeculationSpeculating, st.Speculation.State)
	assert.True(t, st.Warmup.Called)

	var types []UpdateType
	for i := 0; i < 3; i++ {
		types = append(types, (<-sub).Type)
	}
	if diff := cmp.Diff([]UpdateType{UpdateSessions, UpdateSpeculation, UpdateWarmup}, types); diff != "" {
		t.Errorf("update order mismatch (-want +got):\n%s", diff)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := New()
	s.ApplyUpdate(Update{Type: UpdateSessions, Payload: []models.Session{{ID: "a"}}})

	st := s.Get()
	delete(st.Sessions, "a")
	assert.Len(t, s.Get().Sessions, 1)
	assert.Len(t, s.GetSessions(), 1)
}

func TestPublishEvent(t *testing.T) {
	s := New()
	sub := s.Subscribe()

	s.Publish(models.Event{Type: models.EventSessionCreated, SessionID: "a"})
	u := <-sub
	assert.Equal(t, UpdateEvent, u.Type)
	require.NotNil(t, u.Event)
	assert.Equal(t, models.EventSessionCreated, u.Event.Type)
	assert.False(t, u.Event.Timestamp.IsZero())

	s.Unsubscribe(sub)
	s.Unsubscribe(sub)
	assert.Equal(t, 0, s.Subscribers())
	_, open := <-sub
	assert.False(t, open)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	s := New()
	sub := s.Subscribe()
	defer s.Unsubscribe(sub)

	for i := 0; i < 500; i++ {
		s.Publish(models.Event{Type: models.EventSessionClosed})
	}
	assert.Equal(t, 100, len(sub))
}
