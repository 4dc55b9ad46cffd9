// Package metrics records counters and enumerated histograms in memory.
package metrics

import (
	"sort"
	"sync"
)

// Well-known metric names.
const (
	PredictionOutcome     = "CustomTabs.PredictionStatus"
	PredictionToLaunchMs  = "CustomTabs.PredictionToLaunch"
	WarmupStateOnLaunch   = "CustomTabs.WarmupStateOnLaunch"
	MayLaunchURLType      = "CustomTabs.MayLaunchUrlType"
	SpeculationDenied     = "CustomTabs.SpeculationDenied"
	SpeculationStarted    = "CustomTabs.SpeculationStarted"
	SpeculationTaken      = "CustomTabs.SpeculationStatusOnSwap.Taken"
	SpeculationNotMatched = "CustomTabs.SpeculationStatusOnSwap.NotMatched"
	SpeculationCancelled  = "CustomTabs.SpeculationCancelled"
	SpeculationCrashed    = "CustomTabs.SpeculationCrashed"
	ThrottleDenied        = "CustomTabs.Throttle.Denied"
	ThrottleAutoBan       = "CustomTabs.Throttle.AutoBan"
	WarmupCalled          = "CustomTabs.Warmup.Called"
	WarmupStepMs          = "CustomTabs.Warmup.StepDuration"
	RelationshipVerified  = "CustomTabs.Relationship.Verified"
	RelationshipFailed    = "CustomTabs.Relationship.Failed"
)

// Sink receives fire-and-forget metric records.
// Implementations must not block or panic.
type Sink interface {
	RecordEvent(name string, value int64)
	RecordEnumerated(name string, bucket, maxBuckets int)
}

// Counter is the aggregate of RecordEvent calls for one name.
type Counter struct {
	Count int64 `json:"count"`
	Sum   int64 `json:"sum"`
	Last  int64 `json:"last"`
}

// Snapshot is a point-in-time copy of every recorded metric.
type Snapshot struct {
	Events     map[string]Counter `json:"events"`
	Enumerated map[string][]int64 `json:"enumerated"`
}

// Recorder is the in-memory Sink used by the daemon.
type Recorder struct {
	mu         sync.Mutex
	events     map[string]*Counter
	enumerated map[string][]int64
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		events:     make(map[string]*Counter),
		enumerated: make(map[string][]int64),
	}
}

// RecordEvent adds value to the named counter.
func (r *Recorder) RecordEvent(name string, value int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.events[name]
	if !ok {
		c = &Counter{}
		r.events[name] = c
	}
	c.Count++
	c.Sum += value
	c.Last = value
}

// RecordEnumerated increments one bucket of the named histogram.
// Out of range buckets land in the overflow bucket at index maxBuckets.
func (r *Recorder) RecordEnumerated(name string, bucket, maxBuckets int) {
	if maxBuckets <= 0 {
		return
	}
	if bucket < 0 || bucket > maxBuckets {
		bucket = maxBuckets
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	buckets := r.enumerated[name]
	if len(buckets) < maxBuckets+1 {
		grown := make([]int64, maxBuckets+1)
		copy(grown, buckets)
		buckets = grown
	}
	buckets[bucket]++
	r.enumerated[name] = buckets
}

// Snapshot copies the current state.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		Events:     make(map[string]Counter, len(r.events)),
		Enumerated: make(map[string][]int64, len(r.enumerated)),
	}
	for name, c := range r.events {
		snap.Events[name] = *c
	}
	for name, b := range r.enumerated {
		snap.Enumerated[name] = append([]int64(nil), b...)
	}
	return snap
}

// Names returns every recorded metric name in order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s.Events)+len(s.Enumerated))
	for n := range s.Events {
		names = append(names, n)
	}
	for n := range s.Enumerated {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Bucket returns the count of one histogram bucket, zero if unrecorded.
func (s Snapshot) Bucket(name string, bucket int) int64 {
	b := s.Enumerated[name]
	if bucket < 0 || bucket >= len(b) {
		return 0
	}
	return b[bucket]
}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) RecordEvent(string, int64) {}
func (discard) RecordEnumerated(string, int, int) {}
