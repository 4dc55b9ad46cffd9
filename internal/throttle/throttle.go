// Package throttle rate limits speculative requests per calling uid.
package throttle

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grovetools/tabsd/config"
	"github.com/grovetools/tabsd/internal/metrics"
	"github.com/grovetools/tabsd/pkg/models"
	"github.com/sirupsen/logrus"
)

const shardCount = 16

// Policy is the sliding window applied to every uid.
type Policy struct {
	Window          time.Duration
	MaxRequests     int
	BanAfterDenials int
}

// PolicyFromConfig converts the throttle config section.
func PolicyFromConfig(c config.ThrottleConfig) Policy {
	return Policy{
		Window:          c.Window(),
		MaxRequests:     c.MaxRequests,
		BanAfterDenials: c.BanAfterDenials,
	}
}

type entry struct {
	requests []time.Time
	banned   bool
	denials  int
}

type shard struct {
	mu   sync.Mutex
	uids map[models.UID]*entry
}

// Throttle keeps a sliding request log and a ban flag per uid.
// State is sharded by uid so callers with different uids rarely contend.
type Throttle struct {
	shards  [shardCount]shard
	policy  atomic.Pointer[Policy]
	dirty   atomic.Bool
	metrics metrics.Sink
	logger  *logrus.Entry

	now func() time.Time
}

// New creates a Throttle with the given policy.
func New(policy Policy, sink metrics.Sink, logger *logrus.Entry) *Throttle {
	if sink == nil {
		sink = metrics.Discard
	}
	t := &Throttle{
		metrics: sink,
		logger:  logger,
		now:     time.Now,
	}
	for i := range t.shards {
		t.shards[i].uids = make(map[models.UID]*entry)
	}
	t.SetPolicy(policy)
	return t
}

// SetPolicy replaces the policy. Existing request logs are kept and
// evaluated against the new window on the next call.
func (t *Throttle) SetPolicy(p Policy) {
	t.policy.Store(&p)
}

// Policy returns the active policy.
func (t *Throttle) Policy() Policy {
	return *t.policy.Load()
}

func (t *Throttle) shard(uid models.UID) *shard {
	return &t.shards[uint32(uid)%shardCount]
}

// entryLocked must be called with s.mu held.
func (s *shard) entryLocked(uid models.UID) *entry {
	e, ok := s.uids[uid]
	if !ok {
		e = &entry{}
		s.uids[uid] = e
	}
	return e
}

// prune drops requests that fell out of the window.
func (e *entry) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(e.requests) && !e.requests[i].After(cutoff) {
		i++
	}
	if i > 0 {
		e.requests = append(e.requests[:0], e.requests[i:]...)
	}
}

// IsAllowed records a speculative request for uid and reports whether it fits
// in the window. Banned uids are always refused.
func (t *Throttle) IsAllowed(uid models.UID) bool {
	return t.Check(uid) == models.Allowed
}

// Check is IsAllowed returning why a request was refused: DeniedBanned for
// a banned uid, DeniedRateLimited when the window is full.
func (t *Throttle) Check(uid models.UID) models.DenialReason {
	p := t.Policy()
	s := t.shard(uid)

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entryLocked(uid)
	if e.banned {
		return models.DeniedBanned
	}

	now := t.now()
	e.prune(now, p.Window)
	t.dirty.Store(true)

	if len(e.requests) >= p.MaxRequests {
		e.denials++
		t.metrics.RecordEvent(metrics.ThrottleDenied, 1)
		if p.BanAfterDenials > 0 && e.denials >= p.BanAfterDenials {
			e.banned = true
			t.metrics.RecordEvent(metrics.ThrottleAutoBan, 1)
			if t.logger != nil {
				t.logger.WithFields(logrus.Fields{"uid": uid, "denials": e.denials}).Warn("Banning uid after repeated throttle denials")
			}
		}
		return models.DeniedRateLimited
	}

	e.requests = append(e.requests, now)
	return models.Allowed
}

// RegisterSuccess clears the denial streak of uid after a correct prediction.
func (t *Throttle) RegisterSuccess(uid models.UID) {
	s := t.shard(uid)
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.uids[uid]; ok {
		e.denials = 0
	}
}

// Ban refuses every request of uid until Reset.
func (t *Throttle) Ban(uid models.UID) {
	s := t.shard(uid)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entryLocked(uid).banned = true
	t.dirty.Store(true)
}

// Reset clears the ban flag, denial streak and request log of uid.
func (t *Throttle) Reset(uid models.UID) {
	s := t.shard(uid)
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.uids, uid)
	t.dirty.Store(true)
}

// Banned reports whether uid is banned.
func (t *Throttle) Banned(uid models.UID) bool {
	s := t.shard(uid)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.uids[uid]
	return ok && e.banned
}

// Status describes the throttle state of one uid.
type Status struct {
	UID      models.UID `json:"uid" yaml:"uid"`
	Banned   bool       `json:"banned" yaml:"banned"`
	InWindow int        `json:"in_window" yaml:"in_window"`
	Denials  int        `json:"denials" yaml:"denials"`
}

// Statuses lists every tracked uid in uid order.
func (t *Throttle) Statuses() []Status {
	p := t.Policy()
	now := t.now()

	var out []Status
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for uid, e := range s.uids {
			e.prune(now, p.Window)
			out = append(out, Status{UID: uid, Banned: e.banned, InWindow: len(e.requests), Denials: e.denials})
		}
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}
