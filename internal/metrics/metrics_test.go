package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordEvent(t *testing.T) {
	r := NewRecorder()
	r.RecordEvent(PredictionToLaunchMs, 120)
	r.RecordEvent(PredictionToLaunchMs, 80)

	c := r.Snapshot().Events[PredictionToLaunchMs]
	assert.Equal(t, Counter{Count: 2, Sum: 200, Last: 80}, c)
}

func TestRecordEnumerated(t *testing.T) {
	tests := []struct {
		name       string
		bucket     int
		maxBuckets int
		wantBucket int
	}{
		{"in range", 1, 3, 1},
		{"upper bound", 3, 3, 3},
		{"overflow", 9, 3, 3},
		{"negative", -1, 3, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRecorder()
			r.RecordEnumerated("h", tt.bucket, tt.maxBuckets)
			snap := r.Snapshot()
			assert.Equal(t, int64(1), snap.Bucket("h", tt.wantBucket))
			assert.Len(t, snap.Enumerated["h"], tt.maxBuckets+1)
		})
	}
}

func TestRecordEnumeratedIgnoresEmptyHistogram(t *testing.T) {
	r := NewRecorder()
	r.RecordEnumerated("h", 0, 0)
	assert.Empty(t, r.Snapshot().Names())
}

func TestSnapshotIsACopy(t *testing.T) {
	r := NewRecorder()
	r.RecordEnumerated("h", 0, 2)
	snap := r.Snapshot()
	r.RecordEnumerated("h", 0, 2)

	assert.Equal(t, int64(1), snap.Bucket("h", 0))
	assert.Equal(t, int64(2), r.Snapshot().Bucket("h", 0))
}

func TestConcurrentRecording(t *testing.T) {
	r := NewRecorder()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.RecordEvent("e", 1)
			r.RecordEnumerated("h", 1, 4)
		}()
	}
	wg.Wait()

	snap := r.Snapshot()
	assert.Equal(t, int64(50), snap.Events["e"].Count)
	assert.Equal(t, int64(50), snap.Bucket("h", 1))
	assert.Equal(t, []string{"e", "h"}, snap.Names())
}
