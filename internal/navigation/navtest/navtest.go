// Package navtest provides an in-memory navigation.Factory for tests.
package navtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/grovetools/tabsd/internal/navigation"
)

// Factory records every resource it creates.
type Factory struct {
	mu        sync.Mutex
	created   []*Resource
	inits     int
	prewarms  int
	spare     *Resource
	next      int
	InitErr   error
	CreateErr error
}

// NewFactory returns an empty Factory.
func NewFactory() *Factory { return &Factory{} }

func (f *Factory) Name() string { return "fake" }

func (f *Factory) Init(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	return f.InitErr
}

func (f *Factory) Create(ctx context.Context) (navigation.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	if f.spare != nil {
		r := f.spare
		f.spare = nil
		f.created = append(f.created, r)
		return r, nil
	}
	r := f.newLocked()
	f.created = append(f.created, r)
	return r, nil
}

func (f *Factory) Prewarm(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prewarms++
	if f.spare == nil {
		f.spare = f.newLocked()
	}
	return nil
}

func (f *Factory) Close() error { return nil }

func (f *Factory) newLocked() *Resource {
	f.next++
	return &Resource{id: fmt.Sprintf("fake-%d", f.next)}
}

// Created returns the resources handed out by Create, oldest first.
func (f *Factory) Created() []*Resource {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Resource(nil), f.created...)
}

// Last returns the most recently created resource, or nil.
func (f *Factory) Last() *Resource {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

// Inits returns how many times Init was called.
func (f *Factory) Inits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inits
}

// Prewarms returns how many times Prewarm was called.
func (f *Factory) Prewarms() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prewarms
}

// Resource is a fake navigation.Resource.
type Resource struct {
	id string

	mu        sync.Mutex
	url       string
	referrer  string
	loads     int
	destroyed int
	observers []navigation.Observer
}

func (r *Resource) ID() string { return r.id }

func (r *Resource) Load(url, referrer string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.url = url
	r.referrer = referrer
	r.loads++
	return nil
}

func (r *Resource) Destroy() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destroyed++
	return nil
}

func (r *Resource) AddObserver(o navigation.Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

func (r *Resource) RemoveObserver(o navigation.Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.observers {
		if existing == o {
			r.observers = append(r.observers[:i], r.observers[i+1:]...)
			return
		}
	}
}

func (r *Resource) Handoff(ctx context.Context) (navigation.Handoff, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return navigation.Handoff{ResourceID: r.id, Engine: "fake", URL: r.url, Referrer: r.referrer, Ready: r.loads > 0}, nil
}

// Crash notifies the current observers as if the page had died.
func (r *Resource) Crash(err error) {
	r.mu.Lock()
	list := append([]navigation.Observer(nil), r.observers...)
	r.mu.Unlock()
	for _, o := range list {
		o.OnCrash(r, err)
	}
}

// URL returns the last loaded url.
func (r *Resource) URL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.url
}

// Referrer returns the referrer of the last load.
func (r *Resource) Referrer() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.referrer
}

// Loads returns how many times Load was called.
func (r *Resource) Loads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loads
}

// Destroyed reports whether Destroy was called.
func (r *Resource) Destroyed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed > 0
}

// Observers returns the number of registered observers.
func (r *Resource) Observers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.observers)
}
