package store

import (
	"sync"
	"time"

	"github.com/grovetools/tabsd/pkg/models"
)

// Store is the in-memory state store for the daemon.
// It is thread-safe and supports pub/sub for real-time updates.
type Store struct {
	mu          sync.RWMutex
	state       *State
	subscribers map[chan Update]struct{}
}

// New creates a new Store instance.
func New() *Store {
	return &Store{
		state: &State{
			Sessions:    make(map[models.SessionID]models.Session),
			Speculation: SpeculationStatus{State: models.SpeculationIdle},
			StartedAt:   time.Now(),
		},
		subscribers: make(map[chan Update]struct{}),
	}
}

// Get returns a copy of the current state.
func (s *Store) Get() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := *s.state
	st.Sessions = make(map[models.SessionID]models.Session, len(s.state.Sessions))
	for id, sess := range s.state.Sessions {
		st.Sessions[id] = sess
	}
	return st
}

// GetSessions returns a slice of all sessions.
func (s *Store) GetSessions() []models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]models.Session, 0, len(s.state.Sessions))
	for _, sess := range s.state.Sessions {
		result = append(result, sess)
	}
	return result
}

// ApplyUpdate modifies the state and notifies subscribers.
func (s *Store) ApplyUpdate(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch u.Type {
	case UpdateSessions:
		if sessions, ok := u.Payload.([]models.Session); ok {
			newMap := make(map[models.SessionID]models.Session, len(sessions))
			for _, sess := range sessions {
				newMap[sess.ID] = sess
			}
			s.state.Sessions = newMap
		}
	case UpdateSpeculation:
		if spec, ok := u.Payload.(SpeculationStatus); ok {
			s.state.Speculation = spec
		}
	case UpdateWarmup:
		if w, ok := u.Payload.(WarmupStatus); ok {
			s.state.Warmup = w
		}
	case UpdateConfigReload:
		if path, ok := u.Payload.(string); ok {
			s.state.ConfigPath = path
		}
	}

	s.broadcastLocked(u)
}

// Publish broadcasts an event without changing state.
func (s *Store) Publish(ev models.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.broadcastLocked(Update{Type: UpdateEvent, Source: "events", Event: &ev})
}

func (s *Store) broadcastLocked(u Update) {
	for ch := range s.subscribers {
		select {
		case ch <- u:
		default:
			// Non-blocking send to prevent slow clients from stalling the daemon
		}
	}
}

// Subscribe creates a new subscription channel for state updates.
func (s *Store) Subscribe() chan Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Update, 100) // Buffered
	s.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (s *Store) Unsubscribe(ch chan Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribers[ch]; !ok {
		return
	}
	delete(s.subscribers, ch)
	close(ch)
}

// Subscribers returns the number of active subscriptions.
func (s *Store) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}
