package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/grovetools/tabsd/errors"
	"github.com/grovetools/tabsd/internal/urls"
)

var (
	// packageNameRegex accepts dotted package names as well as plain user names.
	packageNameRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.-]*$`)
	hostPatternRegex = regexp.MustCompile(`^(\*\.)?[a-zA-Z0-9*]([a-zA-Z0-9*.-]*[a-zA-Z0-9*])?(:[0-9]+)?$`)
)

var validEngines = map[string]bool{"http": true, "rod": true, "none": true}

var validDeviceClasses = map[string]bool{"standard": true, "low_end": true}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validateDaemon(&c.Daemon); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigValidation, "invalid daemon configuration")
	}

	if err := validateThrottle(&c.Throttle); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigValidation, "invalid throttle configuration")
	}

	if !validEngines[c.Speculation.Engine] {
		return errors.New(errors.ErrCodeConfigValidation, fmt.Sprintf("unknown speculation engine '%s' (must be http, rod or none)", c.Speculation.Engine)).
			WithDetail("engine", c.Speculation.Engine)
	}
	if c.Speculation.PrefetchMaxBytes < 0 || c.Speculation.FetchTimeoutMs < 0 || c.Speculation.PreconnectTimeoutMs < 0 {
		return errors.New(errors.ErrCodeConfigValidation, "speculation limits cannot be negative")
	}
	for _, origin := range c.Speculation.WarmOrigins {
		if _, ok := urls.Normalize(origin); !ok {
			return errors.New(errors.ErrCodeConfigValidation, fmt.Sprintf("warm origin '%s' is not an http or https url", origin)).
				WithDetail("origin", origin)
		}
	}

	if !validDeviceClasses[c.Policy.DeviceClass] {
		return errors.New(errors.ErrCodeConfigValidation, fmt.Sprintf("unknown device class '%s' (must be standard or low_end)", c.Policy.DeviceClass)).
			WithDetail("device_class", c.Policy.DeviceClass)
	}

	for pkg, patterns := range c.Origins.Links {
		if !packageNameRegex.MatchString(pkg) {
			return errors.New(errors.ErrCodeConfigValidation, fmt.Sprintf("invalid package name '%s' in origins.links", pkg)).
				WithDetail("package", pkg)
		}
		for _, p := range patterns {
			if err := validateHostPattern(p); err != nil {
				return errors.Wrap(err, errors.ErrCodeConfigValidation, fmt.Sprintf("invalid origin pattern for '%s'", pkg)).
					WithDetail("package", pkg).
					WithDetail("pattern", p)
			}
		}
	}
	if c.Origins.CacheTTLSeconds < 0 {
		return errors.New(errors.ErrCodeConfigValidation, "origins.cache_ttl_seconds cannot be negative")
	}

	return nil
}

func validateDaemon(d *DaemonConfig) error {
	if d.ReapIntervalSeconds < 1 {
		return errors.New(errors.ErrCodeInvalidInput, "reap_interval_seconds must be at least 1")
	}
	if d.ShutdownTimeoutSecs < 1 {
		return errors.New(errors.ErrCodeInvalidInput, "shutdown_timeout_seconds must be at least 1")
	}
	return nil
}

func validateThrottle(t *ThrottleConfig) error {
	if t.WindowSeconds < 1 {
		return errors.New(errors.ErrCodeInvalidInput, "window_seconds must be at least 1").
			WithDetail("window_seconds", t.WindowSeconds)
	}
	if t.MaxRequests < 1 {
		return errors.New(errors.ErrCodeInvalidInput, "max_requests must be at least 1").
			WithDetail("max_requests", t.MaxRequests)
	}
	if t.BanAfterDenials < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "ban_after_denials cannot be negative")
	}
	if t.PersistIntervalSeconds < 1 {
		return errors.New(errors.ErrCodeInvalidInput, "persist_interval_seconds must be at least 1")
	}
	return nil
}

// validateHostPattern accepts bare hosts, host:port and leading wildcards.
// Schemes and paths are rejected since patterns match hosts only.
func validateHostPattern(p string) error {
	if strings.Contains(p, "://") || strings.Contains(p, "/") {
		return errors.New(errors.ErrCodeInvalidInput, "origin patterns match hosts only, drop the scheme and path").
			WithDetail("pattern", p)
	}
	if !hostPatternRegex.MatchString(p) {
		return errors.New(errors.ErrCodeInvalidInput, "malformed host pattern").
			WithDetail("pattern", p)
	}
	return nil
}
