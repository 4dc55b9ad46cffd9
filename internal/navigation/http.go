package navigation

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grovetools/tabsd/config"
	"github.com/sirupsen/logrus"
)

const userAgent = "tabsd-prefetch/1.0"

// HTTPFactory prefetches pages with a plain HTTP client. The client's
// connection pool and TLS session cache are shared with the preconnector, so
// a speculation warms the connection the real navigation uses.
type HTTPFactory struct {
	client   *http.Client
	tls      *tls.Config
	maxBytes int64
	timeout  time.Duration
	logger   *logrus.Entry
	spare    spare
}

// NewHTTPFactory creates the http engine.
func NewHTTPFactory(cfg config.SpeculationConfig, logger *logrus.Entry) *HTTPFactory {
	tlsConfig := &tls.Config{ClientSessionCache: tls.NewLRUClientSessionCache(64)}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSClientConfig:     tlsConfig,
		ForceAttemptHTTP2:   true,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFactory{
		client:   &http.Client{Transport: transport},
		tls:      tlsConfig,
		maxBytes: cfg.PrefetchMaxBytes,
		timeout:  time.Duration(cfg.FetchTimeoutMs) * time.Millisecond,
		logger:   logger,
	}
}

// Name implements Factory.
func (f *HTTPFactory) Name() string { return "http" }

// Init implements Factory. The http engine has nothing to start.
func (f *HTTPFactory) Init(ctx context.Context) error { return nil }

// TLSConfig is the client TLS config, for sharing the session cache.
func (f *HTTPFactory) TLSConfig() *tls.Config { return f.tls }

// Create implements Factory.
func (f *HTTPFactory) Create(ctx context.Context) (Resource, error) {
	if r := f.spare.take(); r != nil {
		return r, nil
	}
	return f.newResource(), nil
}

// Prewarm implements Factory.
func (f *HTTPFactory) Prewarm(ctx context.Context) error {
	if extra := f.spare.put(f.newResource()); extra != nil {
		extra.Destroy()
	}
	return nil
}

// Close implements Factory.
func (f *HTTPFactory) Close() error {
	if r := f.spare.take(); r != nil {
		r.Destroy()
	}
	f.client.CloseIdleConnections()
	return nil
}

func (f *HTTPFactory) newResource() *httpResource {
	ctx, cancel := context.WithCancel(context.Background())
	return &httpResource{
		id:       uuid.NewString(),
		factory:  f,
		ctx:      ctx,
		cancel:   cancel,
		finished: make(chan struct{}),
	}
}

type httpResource struct {
	id        string
	factory   *HTTPFactory
	observers observers

	ctx      context.Context
	cancel   context.CancelFunc
	finished chan struct{}

	mu        sync.Mutex
	url       string
	referrer  string
	status    int
	bytes     int64
	loadedAt  time.Time
	started   bool
	destroyed bool
}

func (r *httpResource) ID() string { return r.id }

func (r *httpResource) Load(url, referrer string) error {
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

	go r.fetch(url, referrer)
	return nil
}

func (r *httpResource) fetch(url, referrer string) {
	defer close(r.finished)

	ctx := r.ctx
	if r.factory.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.factory.timeout)
		defer cancel()
	}

	status, n, err := r.get(ctx, url, referrer)

	r.mu.Lock()
	destroyed := r.destroyed
	if err == nil {
		r.status = status
		r.bytes = n
		r.loadedAt = time.Now()
	}
	r.mu.Unlock()

	if err != nil && !destroyed {
		if r.factory.logger != nil {
			r.factory.logger.WithError(err).WithField("url", url).Debug("Prefetch failed")
		}
		r.observers.crash(r, err)
	}
}

func (r *httpResource) get(ctx context.Context, url, referrer string) (int, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Purpose", "prefetch")
	req.Header.Set("Sec-Purpose", "prefetch")
	if referrer != "" {
		req.Header.Set("Referer", referrer)
	}

	resp, err := r.factory.client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	body := io.Reader(resp.Body)
	if r.factory.maxBytes > 0 {
		body = io.LimitReader(resp.Body, r.factory.maxBytes)
	}
	n, err := io.Copy(io.Discard, body)
	if err != nil {
		return resp.StatusCode, n, err
	}
	return resp.StatusCode, n, nil
}

func (r *httpResource) Destroy() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.destroyed {
		r.destroyed = true
		r.cancel()
	}
	return nil
}

func (r *httpResource) AddObserver(o Observer)    { r.observers.add(o) }
func (r *httpResource) RemoveObserver(o Observer) { r.observers.remove(o) }

// Handoff waits for an in-progress load until ctx is done.
func (r *httpResource) Handoff(ctx context.Context) (Handoff, error) {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()

	ready := false
	if started {
		select {
		case <-r.finished:
			ready = true
		case <-ctx.Done():
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return Handoff{
		ResourceID: r.id,
		Engine:     "http",
		URL:        r.url,
		Referrer:   r.referrer,
		Ready:      ready && r.status != 0,
		Status:     r.status,
		Bytes:      r.bytes,
		LoadedAt:   r.loadedAt,
	}, nil
}
