package navigation

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// NoneFactory creates resources that never load anything. It keeps the
// coordinator's bookkeeping intact on hosts with no engine available.
type NoneFactory struct {
	spare spare
}

// NewNoneFactory creates the none engine.
func NewNoneFactory() *NoneFactory { return &NoneFactory{} }

func (f *NoneFactory) Name() string                   { return "none" }
func (f *NoneFactory) Init(ctx context.Context) error { return nil }
func (f *NoneFactory) Close() error                   { return nil }

func (f *NoneFactory) Create(ctx context.Context) (Resource, error) {
	if r := f.spare.take(); r != nil {
		return r, nil
	}
	return &noneResource{id: uuid.NewString()}, nil
}

func (f *NoneFactory) Prewarm(ctx context.Context) error {
	f.spare.put(&noneResource{id: uuid.NewString()})
	return nil
}

type noneResource struct {
	id        string
	observers observers

	mu       sync.Mutex
	url      string
	referrer string
}

func (r *noneResource) ID() string { return r.id }

func (r *noneResource) Load(url, referrer string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.url = url
	r.referrer = referrer
	return nil
}

func (r *noneResource) Destroy() error            { return nil }
func (r *noneResource) AddObserver(o Observer)    { r.observers.add(o) }
func (r *noneResource) RemoveObserver(o Observer) { r.observers.remove(o) }

func (r *noneResource) Handoff(ctx context.Context) (Handoff, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Handoff{ResourceID: r.id, Engine: "none", URL: r.url, Referrer: r.referrer}, nil
}
