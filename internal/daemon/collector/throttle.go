package collector

import (
	"context"
	"time"

	"github.com/grovetools/tabsd/internal/daemon/store"
	"github.com/grovetools/tabsd/state"
	"github.com/sirupsen/logrus"
)

// Persister saves its state to a file when it has changed.
type Persister interface {
	Persist(f *state.File) error
}

// ThrottlePersistCollector periodically flushes rate limiter state to disk,
// and once more on shutdown.
type ThrottlePersistCollector struct {
	interval time.Duration
	target   Persister
	file     *state.File
	logger   *logrus.Entry
}

// NewThrottlePersistCollector creates a ThrottlePersistCollector.
// If interval is 0, defaults to 30 seconds.
func NewThrottlePersistCollector(target Persister, file *state.File, interval time.Duration, logger *logrus.Entry) *ThrottlePersistCollector {
	if interval == 0 {
		interval = 30 * time.Second
	}
	return &ThrottlePersistCollector{
		interval: interval,
		target:   target,
		file:     file,
		logger:   logger,
	}
}

// Name returns the collector's name.
func (c *ThrottlePersistCollector) Name() string { return "throttle-persist" }

// Run starts the persistence loop.
func (c *ThrottlePersistCollector) Run(ctx context.Context, st *store.Store, updates chan<- store.Update) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	flush := func() {
		if err := c.target.Persist(c.file); err != nil && c.logger != nil {
			c.logger.WithError(err).WithField("path", c.file.Path()).Warn("Failed to persist throttle state")
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return nil
		case <-ticker.C:
			flush()
		}
	}
}
