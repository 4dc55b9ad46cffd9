package navigation

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"github.com/grovetools/tabsd/config"
	"github.com/sirupsen/logrus"
)

// RodFactory backs hidden tabs with background Chrome targets.
type RodFactory struct {
	cfg    config.RodConfig
	logger *logrus.Entry

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
	spare    spare
}

// NewRodFactory creates the rod engine. Chrome is not started until Init.
func NewRodFactory(cfg config.RodConfig, logger *logrus.Entry) *RodFactory {
	return &RodFactory{cfg: cfg, logger: logger}
}

// Name implements Factory.
func (f *RodFactory) Name() string { return "rod" }

// Init connects to cfg.ControlURL, or launches Chrome when it is empty.
func (f *RodFactory) Init(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser != nil {
		return nil
	}

	controlURL := f.cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(f.cfg.IsHeadless())
		if f.cfg.Bin != "" {
			l = l.Bin(f.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		f.launcher = l
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		if f.launcher != nil {
			f.launcher.Kill()
			f.launcher = nil
		}
		return fmt.Errorf("connect to chrome: %w", err)
	}

	f.browser = browser
	if f.logger != nil {
		f.logger.WithField("control_url", controlURL).Info("Connected to Chrome")
	}
	return nil
}

func (f *RodFactory) connected() (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser == nil {
		return nil, fmt.Errorf("rod engine is not initialized")
	}
	return f.browser, nil
}

// Create implements Factory.
func (f *RodFactory) Create(ctx context.Context) (Resource, error) {
	if r := f.spare.take(); r != nil {
		return r, nil
	}
	return f.newTab(ctx)
}

// Prewarm opens a blank background tab for the next Create.
func (f *RodFactory) Prewarm(ctx context.Context) error {
	if f.spare.has() {
		return nil
	}
	tab, err := f.newTab(ctx)
	if err != nil {
		return err
	}
	if extra := f.spare.put(tab); extra != nil {
		extra.Destroy()
	}
	return nil
}

func (f *RodFactory) newTab(ctx context.Context) (*rodResource, error) {
	browser, err := f.connected()
	if err != nil {
		return nil, err
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank", Background: true})
	if err != nil {
		return nil, fmt.Errorf("create target: %w", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	r := &rodResource{
		id:       uuid.NewString(),
		page:     page,
		logger:   f.logger,
		cancel:   cancel,
		finished: make(chan struct{}),
	}

	if err := (proto.InspectorEnable{}).Call(page); err != nil && f.logger != nil {
		f.logger.WithError(err).Debug("Inspector domain unavailable, crashes will go unnoticed")
	}
	wait := page.Context(watchCtx).EachEvent(func(ev *proto.InspectorTargetCrashed) {
		r.crashed(fmt.Errorf("renderer crashed"))
	})
	go wait()

	return r, nil
}

// Close implements Factory.
func (f *RodFactory) Close() error {
	if r := f.spare.take(); r != nil {
		r.Destroy()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var err error
	if f.browser != nil {
		err = f.browser.Close()
		f.browser = nil
	}
	if f.launcher != nil {
		f.launcher.Kill()
		f.launcher = nil
	}
	return err
}

type rodResource struct {
	id        string
	page      *rod.Page
	logger    *logrus.Entry
	observers observers
	cancel    context.CancelFunc
	finished  chan struct{}

	mu        sync.Mutex
	url       string
	referrer  string
	loaded    bool
	started   bool
	destroyed bool
}

func (r *rodResource) ID() string { return r.id }

func (r *rodResource) Load(url, referrer string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed {
		return fmt.Errorf("resource %s was destroyed", r.id)
	}
	if r.started {
		return fmt.Errorf("resource %s is already loading %s", r.id, r.url)
	}
	r.started = true
	r.url = url
	r.referrer = referrer

	go r.navigate(url, referrer)
	return nil
}

func (r *rodResource) navigate(url, referrer string) {
	defer close(r.finished)

	res, err := proto.PageNavigate{URL: url, Referrer: referrer}.Call(r.page)
	if err == nil && res.ErrorText != "" {
		err = fmt.Errorf("navigation failed: %s", res.ErrorText)
	}

	r.mu.Lock()
	destroyed := r.destroyed
	r.loaded = err == nil
	r.mu.Unlock()

	if err != nil && !destroyed {
		r.crashed(err)
	}
}

func (r *rodResource) crashed(err error) {
	if r.logger != nil {
		r.logger.WithError(err).WithField("resource", r.id).Debug("Hidden tab failed")
	}
	r.observers.crash(r, err)
}

func (r *rodResource) Destroy() error {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return nil
	}
	r.destroyed = true
	r.mu.Unlock()

	r.cancel()
	return r.page.Close()
}

func (r *rodResource) AddObserver(o Observer)    { r.observers.add(o) }
func (r *rodResource) RemoveObserver(o Observer) { r.observers.remove(o) }

func (r *rodResource) Handoff(ctx context.Context) (Handoff, error) {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()

	if started {
		select {
		case <-r.finished:
		case <-ctx.Done():
		}
	}

	// The tab stays open; the new owner attaches to it by target id.
	r.cancel()

	r.mu.Lock()
	defer r.mu.Unlock()
	return Handoff{
		ResourceID: r.id,
		Engine:     "rod",
		URL:        r.url,
		Referrer:   r.referrer,
		Ready:      r.loaded,
		TargetID:   string(r.page.TargetID),
	}, nil
}
