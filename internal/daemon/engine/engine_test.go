package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/grovetools/tabsd/internal/daemon/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newTestEngine(t *testing.T) (*Engine, context.CancelFunc, <-chan struct{}) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	e := New(store.New(), logrus.NewEntry(logger))
	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		e.Start(ctx)
	}()
	return e, cancel, exited
}

func TestTasksRunInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	e, cancel, exited := newTestEngine(t)
	defer func() {
		cancel()
		<-exited
	}()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, e.Post(func() { got = append(got, i) }))
	}
	require.NoError(t, e.Do(context.Background(), func() {}))

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestPostBeforeStart(t *testing.T) {
	defer goleak.VerifyNone(t)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	e := New(store.New(), logrus.NewEntry(logger))

	ran := make(chan struct{})
	require.True(t, e.Post(func() { close(ran) }))

	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		e.Start(ctx)
	}()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("task posted before Start never ran")
	}
	cancel()
	<-exited
}

func TestTasksNeverOverlap(t *testing.T) {
	defer goleak.VerifyNone(t)

	e, cancel, exited := newTestEngine(t)
	defer func() {
		cancel()
		<-exited
	}()

	var mu sync.Mutex
	running, maxRunning := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Do(context.Background(), func() {
				mu.Lock()
				running++
				if running > maxRunning {
					maxRunning = running
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				running--
				mu.Unlock()
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxRunning)
}

func TestPanickingTaskDoesNotStopLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	e, cancel, exited := newTestEngine(t)
	defer func() {
		cancel()
		<-exited
	}()

	e.Post(func() { panic("boom") })
	ran := false
	require.NoError(t, e.Do(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestDoAfterStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	e, cancel, exited := newTestEngine(t)
	cancel()
	<-exited

	assert.False(t, e.Post(func() {}))
	err := e.Do(context.Background(), func() {})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestDoHonorsContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	e, cancel, exited := newTestEngine(t)
	defer func() {
		cancel()
		<-exited
	}()

	release := make(chan struct{})
	e.Post(func() { <-release })

	ctx, cancelDo := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelDo()
	err := e.Do(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

type countingCollector struct {
	runs chan struct{}
}

func (c *countingCollector) Name() string { return "counting" }

func (c *countingCollector) Run(ctx context.Context, st *store.Store, updates chan<- store.Update) error {
	updates <- store.Update{Type: store.UpdateConfigReload, Payload: "/tmp/tabsd.yml"}
	close(c.runs)
	<-ctx.Done()
	return nil
}

func TestCollectorUpdatesReachStore(t *testing.T) {
	defer goleak.VerifyNone(t)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	st := store.New()
	e := New(st, logrus.NewEntry(logger))
	col := &countingCollector{runs: make(chan struct{})}
	e.Register(col)

	sub := st.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		e.Start(ctx)
	}()

	select {
	case u := <-sub:
		assert.Equal(t, store.UpdateConfigReload, u.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("no update broadcast")
	}
	assert.Equal(t, "/tmp/tabsd.yml", st.Get().ConfigPath)

	cancel()
	<-exited
	st.Unsubscribe(sub)
}
