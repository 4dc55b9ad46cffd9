package daemon

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/grovetools/tabsd/config"
	"github.com/grovetools/tabsd/errors"
	"github.com/grovetools/tabsd/internal/connection"
	"github.com/grovetools/tabsd/internal/daemon/engine"
	"github.com/grovetools/tabsd/internal/daemon/server"
	"github.com/grovetools/tabsd/internal/daemon/store"
	"github.com/grovetools/tabsd/internal/navigation/navtest"
	"github.com/grovetools/tabsd/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopPreconnector struct{}

func (nopPreconnector) Preconnect(string) bool { return true }

// startDaemon serves a connection on a unix socket in a temp dir.
func startDaemon(t *testing.T) string {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("peer credentials are only read on linux")
	}

	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	logger := logrus.NewEntry(l)

	st := store.New()
	e := engine.New(st, logger)
	ctx, cancel := context.WithCancel(context.Background())
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		e.Start(ctx)
	}()

	conn := connection.New(connection.Options{
		Config:       config.Default(),
		Sequencer:    e,
		Factory:      navtest.NewFactory(),
		Preconnector: nopPreconnector{},
		Store:        st,
		Logger:       logger,
		Foreground:   func(models.Caller) bool { return true },
	})

	socket := filepath.Join(t.TempDir(), "tabsd.sock")
	srv := server.New(conn, logger)
	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.ListenAndServe(socket) }()

	require.Eventually(t, func() bool {
		_, err := Connect(socket)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	t.Cleanup(func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		srv.Shutdown(shutdownCtx)
		<-serveDone
		conn.Close(context.Background())
		cancel()
		<-engineDone
	})
	return socket
}

func TestConnectWithoutDaemon(t *testing.T) {
	_, err := Connect(filepath.Join(t.TempDir(), "missing.sock"))
	assert.True(t, errors.Is(err, errors.ErrCodeDaemonNotRunning))
}

func TestRemoteClientRoundTrip(t *testing.T) {
	socket := startDaemon(t)
	client, err := Connect(socket)
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	assert.True(t, client.IsRunning())

	sess, err := client.NewSession(ctx, "s1", false)
	require.NoError(t, err)
	assert.Equal(t, models.UID(os.Getuid()), sess.Owner)

	_, err = client.NewSession(ctx, "s1", false)
	assert.True(t, errors.Is(err, errors.ErrCodeSessionExists))

	require.NoError(t, client.Warmup(ctx))

	allowed, err := client.MayLaunchURL(ctx, "s1", "https://a.test/", models.Extras{}, nil)
	require.NoError(t, err)
	assert.True(t, allowed)

	var handoff *models.Handoff
	require.Eventually(t, func() bool {
		handoff, err = client.TakeHiddenTab(ctx, "s1", "https://a.test/", "")
		return err == nil && handoff != nil
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "https://a.test/", handoff.URL)

	outcome, err := client.RegisterLaunch(ctx, "s1", "https://a.test/")
	require.NoError(t, err)
	assert.Equal(t, models.GoodPrediction, outcome)

	flags, err := client.SetFlag(ctx, "s1", models.FlagIgnoreURLFragments, true)
	require.NoError(t, err)
	assert.True(t, flags.IgnoreURLFragments)

	require.NoError(t, client.SetReferrer(ctx, "s1", "https://ref.test/"))
	ref, err := client.Referrer(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "https://ref.test/", ref)

	// The test process is the daemon user, so admin calls go through.
	require.NoError(t, client.Ban(ctx, 4242))
	statuses, err := client.GetThrottle(ctx)
	require.NoError(t, err)
	found := false
	for _, s := range statuses {
		if s.UID == 4242 {
			found = s.Banned
		}
	}
	assert.True(t, found)

	state, err := client.GetState(ctx)
	require.NoError(t, err)
	assert.Contains(t, state.Sessions, models.SessionID("s1"))

	n, err := client.CleanupAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = client.Session(ctx, "s1")
	assert.True(t, errors.Is(err, errors.ErrCodeSessionNotFound))
}

func TestRemoteClientStreams(t *testing.T) {
	socket := startDaemon(t)
	client, err := Connect(socket)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sse, err := client.StreamState(ctx)
	require.NoError(t, err)
	ws, err := client.Watch(ctx)
	require.NoError(t, err)

	for _, ch := range []<-chan StateUpdate{sse, ws} {
		select {
		case u := <-ch:
			assert.Equal(t, server.UpdateInitial, u.Type)
		case <-time.After(5 * time.Second):
			t.Fatal("no initial update")
		}
	}

	_, err = client.NewSession(context.Background(), "s1", false)
	require.NoError(t, err)

	for _, ch := range []<-chan StateUpdate{sse, ws} {
		deadline := time.After(5 * time.Second)
	wait:
		for {
			select {
			case u, ok := <-ch:
				require.True(t, ok)
				if u.Event != nil && u.Event.Type == models.EventSessionCreated {
					break wait
				}
			case <-deadline:
				t.Fatal("no session_created event")
			}
		}
	}
}

type recordingApplier struct {
	mu      sync.Mutex
	applied []*config.Config
}

func (a *recordingApplier) ApplyConfig(cfg *config.Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applied = append(a.applied, cfg)
	return nil
}

func (a *recordingApplier) last() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.applied) == 0 {
		return nil
	}
	return a.applied[len(a.applied)-1]
}

func TestConfigWatcherAppliesChanges(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "tabsd.yml")
	require.NoError(t, os.WriteFile(file, []byte("throttle:\n  max_requests: 3\n"), 0644))

	applier := &recordingApplier{}
	reloaded := make(chan string, 4)
	w, err := NewConfigWatcher(dir, 20, applier, func(f string) { reloaded <- f })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Start(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	require.NoError(t, os.WriteFile(file, []byte("throttle:\n  max_requests: 7\n"), 0644))
	select {
	case f := <-reloaded:
		assert.Equal(t, file, f)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
	require.NotNil(t, applier.last())
	assert.Equal(t, 7, applier.last().Throttle.MaxRequests)

	// An invalid document and unrelated files leave the running config alone.
	before := w.Reloads()
	require.NoError(t, os.WriteFile(file, []byte("throttle:\n  max_requests: lots\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.yml"), []byte("a: 1\n"), 0644))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, before, w.Reloads())
	assert.Equal(t, 7, applier.last().Throttle.MaxRequests)
}
