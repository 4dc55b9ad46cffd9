package throttle

import (
	"time"

	"github.com/grovetools/tabsd/pkg/models"
	"github.com/grovetools/tabsd/state"
)

// stateVersion is bumped when Document changes incompatibly.
const stateVersion = 1

// Document is the on-disk form of the throttle.
type Document struct {
	Version int                      `yaml:"version"`
	SavedAt time.Time                `yaml:"saved_at"`
	UIDs    map[models.UID]UIDRecord `yaml:"uids"`
}

// UIDRecord is the persisted state of one uid.
type UIDRecord struct {
	Banned   bool        `yaml:"banned,omitempty"`
	Requests []time.Time `yaml:"requests,omitempty"`
}

// Export captures bans and in-window requests.
func (t *Throttle) Export() Document {
	p := t.Policy()
	now := t.now()
	doc := Document{Version: stateVersion, SavedAt: now, UIDs: make(map[models.UID]UIDRecord)}

	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for uid, e := range s.uids {
			e.prune(now, p.Window)
			if !e.banned && len(e.requests) == 0 {
				continue
			}
			doc.UIDs[uid] = UIDRecord{
				Banned:   e.banned,
				Requests: append([]time.Time(nil), e.requests...),
			}
		}
		s.mu.Unlock()
	}
	return doc
}

// Import merges a saved document into the live state. A ban from either side
// wins and request logs are merged in time order.
func (t *Throttle) Import(doc Document) {
	if doc.Version != stateVersion {
		if t.logger != nil {
			t.logger.WithField("version", doc.Version).Warn("Ignoring throttle state with unknown version")
		}
		return
	}

	for uid, rec := range doc.UIDs {
		s := t.shard(uid)
		s.mu.Lock()
		e := s.entryLocked(uid)
		e.banned = e.banned || rec.Banned
		e.requests = mergeTimes(rec.Requests, e.requests)
		s.mu.Unlock()
	}
}

func mergeTimes(a, b []time.Time) []time.Time {
	out := make([]time.Time, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].Before(b[j]) {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

// Load reads saved state from f. A missing file is not an error.
func (t *Throttle) Load(f *state.File) error {
	var doc Document
	found, err := f.Load(&doc)
	if err != nil || !found {
		return err
	}
	t.Import(doc)
	if t.logger != nil {
		t.logger.WithField("uids", len(doc.UIDs)).Debug("Loaded throttle state")
	}
	return nil
}

// Persist writes the state to f if it changed since the last Persist.
func (t *Throttle) Persist(f *state.File) error {
	if !t.dirty.Swap(false) {
		return nil
	}
	if err := f.Save(t.Export()); err != nil {
		t.dirty.Store(true)
		return err
	}
	return nil
}
