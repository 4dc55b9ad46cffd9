// Package origin verifies that a client package may act for a web origin,
// either from static links in the config or from the origin's
// /.well-known/assetlinks.json.
package origin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/grovetools/tabsd/config"
	"github.com/grovetools/tabsd/errors"
	"github.com/grovetools/tabsd/pkg/models"
	"github.com/moby/patternmatcher"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	assetLinksPath     = "/.well-known/assetlinks.json"
	maxAssetLinksBytes = 1 << 20
	fetchTimeout       = 10 * time.Second
)

// relationNames maps relations to their Digital Asset Links names.
var relationNames = map[models.Relation]string{
	models.RelationUseAsOrigin:   "delegate_permission/common.use_as_origin",
	models.RelationHandleAllURLs: "delegate_permission/common.handle_all_urls",
}

type statement struct {
	Relation []string `json:"relation"`
	Target   struct {
		Namespace   string `json:"namespace"`
		PackageName string `json:"package_name"`
	} `json:"target"`
}

type cacheKey struct {
	pkg      string
	origin   string
	relation models.Relation
}

type cacheEntry struct {
	verified bool
	expires  time.Time
}

// Validator answers relationship verification requests.
type Validator struct {
	mu       sync.RWMutex
	static   map[string]*patternmatcher.PatternMatcher
	online   bool
	ttl      time.Duration
	cache    map[cacheKey]cacheEntry
	inflight singleflight.Group
	wg       sync.WaitGroup

	client *http.Client
	logger *logrus.Entry
	now    func() time.Time
}

// New builds a Validator from the origins config section.
func New(cfg config.OriginsConfig, logger *logrus.Entry) (*Validator, error) {
	v := &Validator{
		cache:  make(map[cacheKey]cacheEntry),
		client: &http.Client{Timeout: fetchTimeout},
		logger: logger,
		now:    time.Now,
	}
	if err := v.Apply(cfg); err != nil {
		return nil, err
	}
	return v, nil
}

// Apply swaps in new static links and settings and drops cached results.
func (v *Validator) Apply(cfg config.OriginsConfig) error {
	static := make(map[string]*patternmatcher.PatternMatcher, len(cfg.Links))
	for pkg, patterns := range cfg.Links {
		pm, err := patternmatcher.New(patterns)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeConfigInvalid, fmt.Sprintf("invalid origin patterns for '%s'", pkg)).
				WithDetail("package", pkg)
		}
		static[pkg] = pm
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.static = static
	v.online = cfg.Online
	v.ttl = time.Duration(cfg.CacheTTLSeconds) * time.Second
	v.cache = make(map[cacheKey]cacheEntry)
	return nil
}

// Verify checks the relationship in the background and calls done with the
// result. It never blocks the caller.
func (v *Validator) Verify(ctx context.Context, pkg, origin string, relation models.Relation, done func(models.RelationshipResult)) {
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		done(v.Check(ctx, pkg, origin, relation))
	}()
}

// Wait blocks until every background verification has delivered its result.
func (v *Validator) Wait() {
	v.wg.Wait()
}

// Check verifies synchronously. Static links are consulted first; when none
// match and online verification is on, the origin's asset links are fetched.
func (v *Validator) Check(ctx context.Context, pkg, origin string, relation models.Relation) models.RelationshipResult {
	res := models.RelationshipResult{PackageName: pkg, Origin: origin, Relation: relation}

	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return res
	}

	v.mu.RLock()
	pm := v.static[pkg]
	online := v.online
	v.mu.RUnlock()

	if pm != nil && matchesHost(pm, u) {
		res.Verified = true
		res.Online = boolPtr(false)
		return res
	}
	if !online || u.Scheme != "https" {
		return res
	}

	key := cacheKey{pkg: pkg, origin: origin, relation: relation}
	if verified, ok := v.cached(key); ok {
		res.Verified = verified
		res.Online = boolPtr(true)
		return res
	}

	sfKey := fmt.Sprintf("%s|%s|%s", pkg, origin, relation)
	out, err, _ := v.inflight.Do(sfKey, func() (interface{}, error) {
		verified, err := v.fetchAndMatch(ctx, origin, pkg, relation)
		if err != nil {
			return false, err
		}
		v.store(key, verified)
		return verified, nil
	})
	if err != nil {
		if v.logger != nil {
			v.logger.WithError(err).WithFields(logrus.Fields{"origin": origin, "package": pkg}).Warn("Asset links verification failed")
		}
		return res
	}

	res.Verified = out.(bool)
	res.Online = boolPtr(true)
	return res
}

func matchesHost(pm *patternmatcher.PatternMatcher, u *url.URL) bool {
	for _, candidate := range []string{u.Host, u.Hostname()} {
		if ok, err := pm.MatchesOrParentMatches(candidate); err == nil && ok {
			return true
		}
	}
	return false
}

func (v *Validator) cached(key cacheKey) (bool, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	e, ok := v.cache[key]
	if !ok || v.now().After(e.expires) {
		return false, false
	}
	return e.verified, true
}

func (v *Validator) store(key cacheKey, verified bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache[key] = cacheEntry{verified: verified, expires: v.now().Add(v.ttl)}
}

func (v *Validator) fetchAndMatch(ctx context.Context, origin, pkg string, relation models.Relation) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+assetLinksPath, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	// A missing file is a definitive "no".
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("fetch %s: unexpected status %s", origin+assetLinksPath, resp.Status)
	}

	var statements []statement
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxAssetLinksBytes)).Decode(&statements); err != nil {
		return false, fmt.Errorf("parse asset links: %w", err)
	}

	want := relationNames[relation]
	for _, st := range statements {
		if st.Target.Namespace != "android_app" || st.Target.PackageName != pkg {
			continue
		}
		for _, r := range st.Relation {
			if r == want {
				return true, nil
			}
		}
	}
	return false, nil
}

func boolPtr(b bool) *bool {
	return &b
}
