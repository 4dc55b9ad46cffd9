package navigation

import (
	"context"
	"crypto/tls"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// maxConcurrentPreconnects bounds the dials in flight at once.
const maxConcurrentPreconnects = 8

// Preconnector opens best-effort connections to origins a client is likely to
// visit. Results are never reported back; failures are logged at debug level.
type Preconnector struct {
	dialer  *net.Dialer
	tls     *tls.Config
	timeout time.Duration
	logger  *logrus.Entry

	sem      chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	inFlight map[string]struct{}

	// dial is swapped out in tests.
	dial func(ctx context.Context, host string, secure bool) error
}

// NewPreconnector creates a Preconnector. tlsConfig may be nil; passing the
// http engine's config lets it reuse the TLS sessions established here.
func NewPreconnector(tlsConfig *tls.Config, timeout time.Duration, logger *logrus.Entry) *Preconnector {
	if tlsConfig == nil {
		tlsConfig = &tls.Config{ClientSessionCache: tls.NewLRUClientSessionCache(64)}
	}
	p := &Preconnector{
		dialer:   &net.Dialer{Timeout: timeout},
		tls:      tlsConfig,
		timeout:  timeout,
		logger:   logger,
		sem:      make(chan struct{}, maxConcurrentPreconnects),
		inFlight: make(map[string]struct{}),
	}
	p.dial = p.connect
	return p
}

// Preconnect starts connecting to the origin of rawURL and returns immediately.
// It reports whether a new attempt was started.
func (p *Preconnector) Preconnect(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}

	host := u.Host
	if u.Port() == "" {
		if u.Scheme == "https" {
			host = net.JoinHostPort(u.Hostname(), "443")
		} else {
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}
	key := u.Scheme + "://" + host

	p.mu.Lock()
	if _, busy := p.inFlight[key]; busy {
		p.mu.Unlock()
		return false
	}
	p.inFlight[key] = struct{}{}
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			delete(p.inFlight, key)
			p.mu.Unlock()
		}()

		p.sem <- struct{}{}
		defer func() { <-p.sem }()

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		if err := p.dial(ctx, host, u.Scheme == "https"); err != nil && p.logger != nil {
			p.logger.WithError(err).WithField("origin", key).Debug("Preconnect failed")
		}
	}()
	return true
}

// Wait blocks until every started preconnect has finished.
func (p *Preconnector) Wait() {
	p.wg.Wait()
}

func (p *Preconnector) connect(ctx context.Context, host string, secure bool) error {
	conn, err := p.dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return err
	}
	defer conn.Close()

	if !secure {
		return nil
	}

	serverName, _, _ := net.SplitHostPort(host)
	cfg := p.tls.Clone()
	cfg.ServerName = serverName
	tlsConn := tls.Client(conn, cfg)
	return tlsConn.HandshakeContext(ctx)
}
