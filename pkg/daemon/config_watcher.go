package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/grovetools/tabsd/config"
	"github.com/grovetools/tabsd/logging"
	"github.com/sirupsen/logrus"
)

// Applier takes a reloaded configuration.
type Applier interface {
	ApplyConfig(cfg *config.Config) error
}

// configNames are the files a reload is triggered by.
var configNames = map[string]bool{
	"tabsd.yml":  true,
	"tabsd.yaml": true,
	"tabsd.toml": true,
}

// ConfigWatcher watches the config directory and applies changed
// configuration to the running daemon.
type ConfigWatcher struct {
	watcher      *fsnotify.Watcher
	target       Applier
	debounce     time.Duration
	logger       *logrus.Entry
	onReload     func(file string)  // Callback to broadcast event
	targetToLink map[string]string // Maps target file paths to their symlink names in config dir
	configDir    string            // The main config directory

	mu      sync.Mutex
	reloads int
}

// NewConfigWatcher creates a ConfigWatcher for the tabsd config files in
// configDir. Rapid writes within debounceMs are applied once, after the
// last one. onReload is called with the file name after a successful apply.
// It also watches symlink target directories so changes to linked files are detected.
func NewConfigWatcher(configDir string, debounceMs int, target Applier, onReload func(string)) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	logger := logging.NewLogger("config-watcher")

	// Watch the main config directory
	if err := watcher.Add(configDir); err != nil {
		watcher.Close()
		return nil, err
	}

	// fsnotify doesn't follow symlinks, so we need to watch targets explicitly
	watchedDirs := map[string]bool{configDir: true}
	targetToLink := make(map[string]string)

	for name := range configNames {
		fullPath := filepath.Join(configDir, name)
		info, err := os.Lstat(fullPath)
		if err != nil || info.Mode()&os.ModeSymlink == 0 {
			continue
		}

		target, err := filepath.EvalSymlinks(fullPath)
		if err != nil {
			logger.WithError(err).Warnf("Failed to resolve symlink %s", name)
			continue
		}
		targetToLink[target] = name

		targetDir := filepath.Dir(target)
		if watchedDirs[targetDir] {
			continue
		}
		if err := watcher.Add(targetDir); err != nil {
			logger.WithError(err).Warnf("Failed to watch symlink target dir %s", targetDir)
			continue
		}
		watchedDirs[targetDir] = true
		logger.Debugf("Watching symlink target directory: %s", targetDir)
	}

	if debounceMs <= 0 {
		debounceMs = 100
	}

	return &ConfigWatcher{
		watcher:      watcher,
		target:       target,
		debounce:     time.Duration(debounceMs) * time.Millisecond,
		logger:       logger,
		onReload:     onReload,
		targetToLink: targetToLink,
		configDir:    configDir,
	}, nil
}

// Start begins watching for config changes. It blocks until the context is
// cancelled and closes the watcher on return.
func (w *ConfigWatcher) Start(ctx context.Context) {
	defer w.watcher.Close()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	var pending string
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.logger.Debugf("fsnotify event: %s op=%v", event.Name, event.Op)

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			file, ok := w.configFile(event.Name)
			if !ok {
				continue
			}
			pending = file
			timer.Reset(w.debounce)

		case <-timer.C:
			if pending != "" {
				w.reload(pending)
				pending = ""
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorf("Watcher error: %v", err)

		case <-ctx.Done():
			return
		}
	}
}

// configFile maps an event path to the config file path in the config dir.
func (w *ConfigWatcher) configFile(name string) (string, bool) {
	// Map target file changes back to symlink names
	if linkName, ok := w.targetToLink[name]; ok {
		w.logger.Debugf("Mapped symlink target %s -> %s", name, linkName)
		return filepath.Join(w.configDir, linkName), true
	}
	if filepath.Dir(name) != filepath.Clean(w.configDir) || !configNames[filepath.Base(name)] {
		return "", false
	}
	return name, true
}

// reload loads file and applies it. A file that fails to load or validate
// leaves the running configuration untouched.
func (w *ConfigWatcher) reload(file string) {
	cfg, err := config.Load(file)
	if err != nil {
		w.logger.WithError(err).Warnf("Ignoring invalid config %s", filepath.Base(file))
		return
	}
	if err := w.target.ApplyConfig(cfg); err != nil {
		w.logger.WithError(err).Errorf("Failed to apply config %s", filepath.Base(file))
		return
	}

	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()

	w.logger.Infof("Config reloaded: %s", filepath.Base(file))
	if w.onReload != nil {
		w.onReload(file)
	}
}

// Reloads returns how many reloads were applied.
func (w *ConfigWatcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

// Close stops the watcher and releases resources.
func (w *ConfigWatcher) Close() error {
	return w.watcher.Close()
}
