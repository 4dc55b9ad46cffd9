package collector

import (
	"context"
	"time"

	"github.com/grovetools/tabsd/internal/daemon/store"
	"github.com/grovetools/tabsd/pkg/models"
	"github.com/grovetools/tabsd/pkg/process"
)

// SessionSource lists the sessions currently registered.
type SessionSource interface {
	List() []models.Session
}

// Reaper disconnects a session whose owner went away.
type Reaper interface {
	Disconnect(id models.SessionID)
}

// LivenessCollector disconnects watched sessions whose owner process died and
// publishes the session list to the store.
type LivenessCollector struct {
	interval time.Duration
	sessions SessionSource
	reaper   Reaper

	// alive is swapped out in tests.
	alive func(pid int) bool
}

// NewLivenessCollector creates a LivenessCollector.
// If interval is 0, defaults to 2 seconds.
func NewLivenessCollector(sessions SessionSource, reaper Reaper, interval time.Duration) *LivenessCollector {
	if interval == 0 {
		interval = 2 * time.Second
	}
	return &LivenessCollector{
		interval: interval,
		sessions: sessions,
		reaper:   reaper,
		alive:    process.IsProcessAlive,
	}
}

// Name returns the collector's name.
func (c *LivenessCollector) Name() string { return "liveness" }

// Run starts the liveness loop.
func (c *LivenessCollector) Run(ctx context.Context, st *store.Store, updates chan<- store.Update) error {
	// Polling is cheap for PID checks
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	scan := func() {
		var live []models.Session
		for _, sess := range c.sessions.List() {
			if sess.Watched && sess.OwnerPID > 0 && !c.alive(sess.OwnerPID) {
				c.reaper.Disconnect(sess.ID)
				continue
			}
			live = append(live, sess)
		}

		select {
		case updates <- store.Update{Type: store.UpdateSessions, Source: c.Name(), Payload: live}:
		case <-ctx.Done():
		}
	}

	scan()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			scan()
		}
	}
}
