package collector

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/grovetools/tabsd/internal/daemon/store"
	"github.com/grovetools/tabsd/pkg/models"
	"github.com/grovetools/tabsd/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeSessions struct {
	mu       sync.Mutex
	sessions []models.Session
	reaped   []models.SessionID
}

func (f *fakeSessions) List() []models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Session(nil), f.sessions...)
}

func (f *fakeSessions) Disconnect(id models.SessionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reaped = append(f.reaped, id)
	for i, s := range f.sessions {
		if s.ID == id {
			f.sessions = append(f.sessions[:i], f.sessions[i+1:]...)
			break
		}
	}
}

func (f *fakeSessions) Reaped() []models.SessionID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.SessionID(nil), f.reaped...)
}

func TestLivenessReapsDeadWatchedOwners(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &fakeSessions{sessions: []models.Session{
		{ID: "watched-dead", OwnerPID: 100, Watched: true},
		{ID: "watched-alive", OwnerPID: 200, Watched: true},
		{ID: "unwatched-dead", OwnerPID: 100},
	}}
	c := NewLivenessCollector(src, src, time.Hour)
	c.alive = func(pid int) bool { return pid == 200 }

	updates := make(chan store.Update, 10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- c.Run(ctx, store.New(), updates) }()

	u := <-updates
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []models.SessionID{"watched-dead"}, src.Reaped())
	assert.Equal(t, store.UpdateSessions, u.Type)
	live, ok := u.Payload.([]models.Session)
	require.True(t, ok)
	assert.Len(t, live, 2)
}

type countingPersister struct {
	mu    sync.Mutex
	calls int
}

func (p *countingPersister) Persist(f *state.File) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return nil
}

func TestThrottlePersistFlushesOnShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := &countingPersister{}
	file := state.New(filepath.Join(t.TempDir(), "throttle.yml"))
	c := NewThrottlePersistCollector(p, file, time.Hour, nil)
	assert.Equal(t, "throttle-persist", c.Name())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- c.Run(ctx, store.New(), make(chan store.Update)) }()
	cancel()
	require.NoError(t, <-done)

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, 1, p.calls)
}
