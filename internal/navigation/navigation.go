// Package navigation provides the detached navigation resources ("hidden
// tabs") speculation loads pages into, and the engines that back them.
package navigation

import (
	"context"
	"fmt"
	"sync"

	"github.com/grovetools/tabsd/config"
	"github.com/grovetools/tabsd/pkg/models"
	"github.com/sirupsen/logrus"
)

// Observer is told about failures of a resource it was added to.
// Observers are compared by identity, so implementations should be pointers.
type Observer interface {
	OnCrash(res Resource, err error)
}

// Handoff describes a resource whose ownership moved to a client.
type Handoff = models.Handoff

// Resource is one detached navigation. It has a single owner at a time.
type Resource interface {
	ID() string
	// Load starts loading url in the background.
	Load(url, referrer string) error
	// Destroy releases the resource. It is safe to call more than once.
	Destroy() error
	AddObserver(o Observer)
	RemoveObserver(o Observer)
	// Handoff describes the resource for its new owner.
	Handoff(ctx context.Context) (Handoff, error)
}

// Factory creates resources for one engine.
type Factory interface {
	Name() string
	// Init performs one-time engine startup.
	Init(ctx context.Context) error
	// Create returns a fresh resource, reusing a prewarmed one if available.
	Create(ctx context.Context) (Resource, error)
	// Prewarm prepares a spare resource for the next Create.
	Prewarm(ctx context.Context) error
	Close() error
}

// NewFactory returns the factory for the configured engine.
func NewFactory(cfg config.SpeculationConfig, logger *logrus.Entry) (Factory, error) {
	switch cfg.Engine {
	case "http", "":
		return NewHTTPFactory(cfg, logger), nil
	case "rod":
		return NewRodFactory(cfg.Rod, logger), nil
	case "none":
		return NewNoneFactory(), nil
	}
	return nil, fmt.Errorf("unknown speculation engine %q", cfg.Engine)
}

// observers is a concurrency-safe observer list.
type observers struct {
	mu   sync.Mutex
	list []Observer
}

func (o *observers) add(obs Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.list = append(o.list, obs)
}

func (o *observers) remove(obs Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, existing := range o.list {
		if existing == obs {
			o.list = append(o.list[:i], o.list[i+1:]...)
			return
		}
	}
}

func (o *observers) crash(res Resource, err error) {
	o.mu.Lock()
	list := append([]Observer(nil), o.list...)
	o.mu.Unlock()

	for _, obs := range list {
		obs.OnCrash(res, err)
	}
}

// spare holds at most one prewarmed resource.
type spare struct {
	mu  sync.Mutex
	res Resource
}

func (s *spare) take() Resource {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.res
	s.res = nil
	return r
}

// put keeps r unless a spare already exists, in which case r is returned so
// the caller can destroy it.
func (s *spare) put(r Resource) Resource {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.res != nil {
		return r
	}
	s.res = r
	return nil
}

func (s *spare) has() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.res != nil
}
