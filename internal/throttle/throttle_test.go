package throttle

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/grovetools/tabsd/internal/metrics"
	"github.com/grovetools/tabsd/pkg/models"
	"github.com/grovetools/tabsd/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestThrottle(p Policy) (*Throttle, *fakeClock, *metrics.Recorder) {
	rec := metrics.NewRecorder()
	th := New(p, rec, nil)
	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	th.now = clock.now
	return th, clock, rec
}

func TestSlidingWindow(t *testing.T) {
	th, clock, rec := newTestThrottle(Policy{Window: time.Minute, MaxRequests: 3})
	uid := models.UID(1000)

	for i := 0; i < 3; i++ {
		assert.True(t, th.IsAllowed(uid), "request %d", i)
		clock.advance(10 * time.Second)
	}
	assert.False(t, th.IsAllowed(uid))
	assert.Equal(t, int64(1), rec.Snapshot().Events[metrics.ThrottleDenied].Count)

	// The first request leaves the window 60s after it was made.
	clock.advance(31 * time.Second)
	assert.True(t, th.IsAllowed(uid))
	assert.False(t, th.IsAllowed(uid))
}

func TestUIDsAreIndependent(t *testing.T) {
	th, _, _ := newTestThrottle(Policy{Window: time.Minute, MaxRequests: 1})

	assert.True(t, th.IsAllowed(1))
	assert.False(t, th.IsAllowed(1))
	assert.True(t, th.IsAllowed(2))
	// 17 shares a shard with 1
	assert.True(t, th.IsAllowed(17))
}

func TestBanPersistsUntilReset(t *testing.T) {
	th, clock, _ := newTestThrottle(Policy{Window: time.Second, MaxRequests: 100})
	uid := models.UID(1000)

	th.Ban(uid)
	for i := 0; i < 10; i++ {
		assert.False(t, th.IsAllowed(uid))
		clock.advance(time.Hour)
	}
	assert.True(t, th.Banned(uid))

	th.Reset(uid)
	assert.False(t, th.Banned(uid))
	assert.True(t, th.IsAllowed(uid))
}

func TestResetClearsWindow(t *testing.T) {
	th, _, _ := newTestThrottle(Policy{Window: time.Minute, MaxRequests: 1})
	assert.True(t, th.IsAllowed(5))
	assert.False(t, th.IsAllowed(5))
	th.Reset(5)
	assert.True(t, th.IsAllowed(5))
}

func TestAutoBan(t *testing.T) {
	th, clock, rec := newTestThrottle(Policy{Window: time.Minute, MaxRequests: 1, BanAfterDenials: 3})
	uid := models.UID(42)

	assert.True(t, th.IsAllowed(uid))
	assert.False(t, th.IsAllowed(uid))
	assert.False(t, th.IsAllowed(uid))
	assert.False(t, th.Banned(uid))
	assert.False(t, th.IsAllowed(uid))
	assert.True(t, th.Banned(uid))
	assert.Equal(t, int64(1), rec.Snapshot().Events[metrics.ThrottleAutoBan].Count)

	// Ban outlives the window.
	clock.advance(time.Hour)
	assert.False(t, th.IsAllowed(uid))
}

func TestRegisterSuccessClearsDenialStreak(t *testing.T) {
	th, _, _ := newTestThrottle(Policy{Window: time.Minute, MaxRequests: 1, BanAfterDenials: 2})
	uid := models.UID(42)

	assert.True(t, th.IsAllowed(uid))
	assert.False(t, th.IsAllowed(uid))
	th.RegisterSuccess(uid)
	assert.False(t, th.IsAllowed(uid))
	assert.False(t, th.Banned(uid))
}

func TestSetPolicy(t *testing.T) {
	th, _, _ := newTestThrottle(Policy{Window: time.Minute, MaxRequests: 1})
	assert.True(t, th.IsAllowed(1))
	assert.False(t, th.IsAllowed(1))

	th.SetPolicy(Policy{Window: time.Minute, MaxRequests: 2})
	assert.True(t, th.IsAllowed(1))
	assert.Equal(t, 2, th.Policy().MaxRequests)
}

func TestConcurrentNoLostUpdates(t *testing.T) {
	const perUID = 50
	th, _, _ := newTestThrottle(Policy{Window: time.Hour, MaxRequests: perUID})

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := make(map[models.UID]int)
	for uid := models.UID(0); uid < 8; uid++ {
		for i := 0; i < perUID*2; i++ {
			wg.Add(1)
			go func(uid models.UID) {
				defer wg.Done()
				if th.IsAllowed(uid) {
					mu.Lock()
					allowed[uid]++
					mu.Unlock()
				}
			}(uid)
		}
	}
	wg.Wait()

	for uid := models.UID(0); uid < 8; uid++ {
		assert.Equal(t, perUID, allowed[uid], "uid %d", uid)
	}
}

func TestStatuses(t *testing.T) {
	th, _, _ := newTestThrottle(Policy{Window: time.Minute, MaxRequests: 1})
	th.IsAllowed(20)
	th.IsAllowed(20)
	th.Ban(3)

	assert.Equal(t, []Status{
		{UID: 3, Banned: true},
		{UID: 20, InWindow: 1, Denials: 1},
	}, th.Statuses())
}

func TestPersistAndLoad(t *testing.T) {
	f := state.New(filepath.Join(t.TempDir(), "throttle.yml"))
	th, clock, _ := newTestThrottle(Policy{Window: time.Minute, MaxRequests: 2})

	th.Ban(7)
	th.IsAllowed(8)
	require.NoError(t, th.Persist(f))

	// Nothing changed, nothing written.
	require.NoError(t, f.Delete())
	require.NoError(t, th.Persist(f))
	found, err := f.Load(&Document{})
	require.NoError(t, err)
	assert.False(t, found)

	th.IsAllowed(8)
	require.NoError(t, th.Persist(f))

	restored, _, _ := newTestThrottle(Policy{Window: time.Minute, MaxRequests: 2})
	restored.now = clock.now
	require.NoError(t, restored.Load(f))

	assert.True(t, restored.Banned(7))
	assert.False(t, restored.IsAllowed(8), "both saved requests are still in the window")
}

func TestLoadMissingFile(t *testing.T) {
	th, _, _ := newTestThrottle(Policy{Window: time.Minute, MaxRequests: 1})
	assert.NoError(t, th.Load(state.New(filepath.Join(t.TempDir(), "none.yml"))))
}

func TestImportIgnoresUnknownVersion(t *testing.T) {
	th, _, _ := newTestThrottle(Policy{Window: time.Minute, MaxRequests: 1})
	th.Import(Document{Version: 99, UIDs: map[models.UID]UIDRecord{1: {Banned: true}}})
	assert.False(t, th.Banned(1))
}

func TestMergeTimes(t *testing.T) {
	base := time.Unix(0, 0)
	at := func(s int) time.Time { return base.Add(time.Duration(s) * time.Second) }

	got := mergeTimes([]time.Time{at(1), at(4)}, []time.Time{at(2), at(3), at(5)})
	assert.Equal(t, []time.Time{at(1), at(2), at(3), at(4), at(5)}, got)
}

func TestCheckSeparatesBanFromLimit(t *testing.T) {
	th := New(Policy{Window: time.Minute, MaxRequests: 1}, nil, nil)
	assert.Equal(t, models.Allowed, th.Check(9))
	assert.Equal(t, models.DeniedRateLimited, th.Check(9))
	th.Ban(9)
	assert.Equal(t, models.DeniedBanned, th.Check(9))
	th.Reset(9)
	assert.Equal(t, models.Allowed, th.Check(9))
}
