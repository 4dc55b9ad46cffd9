package clients

import (
	"sort"
	"time"

	"github.com/grovetools/tabsd/pkg/models"
)

// session is the registry's record of one client. The owner never changes
// after creation. The guarded state is only touched through accessors that
// assert the registry lock is held.
type session struct {
	reg *Registry

	id          models.SessionID
	owner       models.Caller
	packageName string
	watched     bool
	createdAt   time.Time

	// guarded by reg.mu
	guarded guardedState
}

type guardedState struct {
	flags         models.PermissionFlags
	referrer      string
	prediction    models.PredictionState
	linkedOrigins map[string]struct{}
	keepAlive     KeepAlive
	disconnect    func()
}

func (s *session) flags() models.PermissionFlags {
	s.reg.assertLocked()
	return s.guarded.flags
}

func (s *session) setFlag(f models.Flag, v bool) bool {
	s.reg.assertLocked()
	return s.guarded.flags.Set(f, v)
}

func (s *session) referrer() string {
	s.reg.assertLocked()
	return s.guarded.referrer
}

func (s *session) setReferrer(r string) {
	s.reg.assertLocked()
	s.guarded.referrer = r
}

func (s *session) prediction() models.PredictionState {
	s.reg.assertLocked()
	return s.guarded.prediction
}

// recordPrediction keeps the latest url and ORs in the confidence seen.
func (s *session) recordPrediction(url string, at time.Time, lowConfidence bool) {
	s.reg.assertLocked()
	s.guarded.prediction.LastPredictedURL = url
	s.guarded.prediction.LastPredictionTimestamp = at
	s.guarded.prediction.SawHighConfidence = s.guarded.prediction.SawHighConfidence || url != ""
	s.guarded.prediction.SawLowConfidence = s.guarded.prediction.SawLowConfidence || lowConfidence
}

func (s *session) resetPrediction() {
	s.reg.assertLocked()
	s.guarded.prediction = models.PredictionState{}
}

func (s *session) addOrigin(origin string) {
	s.reg.assertLocked()
	if s.guarded.linkedOrigins == nil {
		s.guarded.linkedOrigins = make(map[string]struct{})
	}
	s.guarded.linkedOrigins[origin] = struct{}{}
}

func (s *session) hasOrigin(origin string) bool {
	s.reg.assertLocked()
	_, ok := s.guarded.linkedOrigins[origin]
	return ok
}

func (s *session) keepAlive() KeepAlive {
	s.reg.assertLocked()
	return s.guarded.keepAlive
}

func (s *session) setKeepAlive(k KeepAlive) {
	s.reg.assertLocked()
	s.guarded.keepAlive = k
}

// detach clears the keep-alive and disconnect callback and returns them so
// they can be run after the lock is released.
func (s *session) detach() (KeepAlive, func()) {
	s.reg.assertLocked()
	k, d := s.guarded.keepAlive, s.guarded.disconnect
	s.guarded.keepAlive, s.guarded.disconnect = nil, nil
	return k, d
}

func (s *session) snapshot() models.Session {
	s.reg.assertLocked()
	origins := make([]string, 0, len(s.guarded.linkedOrigins))
	for o := range s.guarded.linkedOrigins {
		origins = append(origins, o)
	}
	sort.Strings(origins)

	return models.Session{
		ID:            s.id,
		Owner:         s.owner.UID,
		OwnerPID:      s.owner.PID,
		PackageName:   s.packageName,
		Flags:         s.guarded.flags,
		Referrer:      s.guarded.referrer,
		Prediction:    s.guarded.prediction,
		LinkedOrigins: origins,
		KeepAlive:     s.guarded.keepAlive != nil,
		Watched:       s.watched,
		CreatedAt:     s.createdAt,
	}
}
