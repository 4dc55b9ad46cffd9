package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grovetools/tabsd/config"
	"github.com/grovetools/tabsd/errors"
	"github.com/grovetools/tabsd/internal/connection"
	"github.com/grovetools/tabsd/internal/daemon/engine"
	"github.com/grovetools/tabsd/internal/daemon/store"
	"github.com/grovetools/tabsd/internal/metrics"
	"github.com/grovetools/tabsd/internal/navigation"
	"github.com/grovetools/tabsd/internal/navigation/navtest"
	"github.com/grovetools/tabsd/internal/throttle"
	"github.com/grovetools/tabsd/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const uidHeader = "X-Test-UID"

var (
	daemonUser = models.Caller{UID: 500, PID: 1}
	u1         = models.Caller{UID: 1000, PID: 4242}
	u2         = models.Caller{UID: 2000, PID: 4343}
)

type nopPreconnector struct{}

func (nopPreconnector) Preconnect(string) bool { return true }

type staticValidator struct{}

func (staticValidator) Verify(ctx context.Context, pkg, origin string, relation models.Relation, done func(models.RelationshipResult)) {
	done(models.RelationshipResult{PackageName: pkg, Origin: origin, Relation: relation, Verified: true})
}

func (staticValidator) Apply(config.OriginsConfig) error { return nil }

type testServer struct {
	*httptest.Server
	engine  *engine.Engine
	conn    *connection.Connection
	factory *navtest.Factory
	rec     *metrics.Recorder
	srv     *Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	logger := logrus.NewEntry(l)

	st := store.New()
	e := engine.New(st, logger)
	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		e.Start(ctx)
	}()

	ts := &testServer{engine: e, factory: navtest.NewFactory(), rec: metrics.NewRecorder()}
	self := daemonUser
	ts.conn = connection.New(connection.Options{
		Config:          config.Default(),
		Sequencer:       e,
		Factory:         ts.factory,
		Preconnector:    nopPreconnector{},
		Validator:       staticValidator{},
		Store:           st,
		Metrics:         ts.rec,
		Logger:          logger,
		Self:            &self,
		Foreground:      func(models.Caller) bool { return true },
		PackageResolver: func(models.Caller) string { return "com.example.app" },
	})

	ts.srv = New(ts.conn, logger)
	api := ts.srv.Handler()
	// Stands in for the peer credentials of the unix socket.
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := r.Header.Get(uidHeader); raw != "" {
			uid, _ := strconv.ParseUint(raw, 10, 32)
			r = r.WithContext(WithCaller(r.Context(), models.Caller{UID: models.UID(uid), PID: 4242}))
		}
		api.ServeHTTP(w, r)
	}))

	t.Cleanup(func() {
		ts.Server.Close()
		ts.conn.Close(context.Background())
		cancel()
		<-exited
	})
	return ts
}

func (ts *testServer) settle(t *testing.T) {
	t.Helper()
	for i := 0; i < 8; i++ {
		require.NoError(t, ts.engine.Do(context.Background(), func() {}))
	}
}

func (ts *testServer) do(t *testing.T, caller *models.Caller, method, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	if caller != nil {
		req.Header.Set(uidHeader, strconv.FormatUint(uint64(caller.UID), 10))
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func errorCode(t *testing.T, resp *http.Response) errors.ErrorCode {
	t.Helper()
	var body errors.TabsError
	decodeBody(t, resp, &body)
	return body.Code
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, nil, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMissingCallerIsRefused(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, nil, http.MethodPost, "/api/sessions", models.NewSessionRequest{SessionID: "s1"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, errors.ErrCodePermissionDenied, errorCode(t, resp))
}

func TestSpeculationRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, &u1, http.MethodPost, "/api/sessions", models.NewSessionRequest{SessionID: "s1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var sess models.Session
	decodeBody(t, resp, &sess)
	assert.Equal(t, models.SessionID("s1"), sess.ID)
	assert.Equal(t, u1.UID, sess.Owner)

	resp = ts.do(t, &u1, http.MethodPost, "/api/warmup", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	ts.settle(t)

	resp = ts.do(t, &u1, http.MethodPost, "/api/sessions/s1/may-launch", models.MayLaunchRequest{URL: "https://a.test/"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ml models.MayLaunchResponse
	decodeBody(t, resp, &ml)
	assert.True(t, ml.Allowed)
	ts.settle(t)

	resp = ts.do(t, &u1, http.MethodGet, "/api/state", nil)
	var state store.State
	decodeBody(t, resp, &state)
	assert.Equal(t, models.SpeculationSpeculating, state.Speculation.State)
	assert.Equal(t, models.SessionID("s1"), state.Speculation.SessionID)

	resp = ts.do(t, &u1, http.MethodPost, "/api/sessions/s1/take", models.TakeRequest{URL: "https://a.test/"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var handoff navigation.Handoff
	decodeBody(t, resp, &handoff)
	assert.Equal(t, "https://a.test/", handoff.URL)

	resp = ts.do(t, &u1, http.MethodPost, "/api/sessions/s1/launch", models.LaunchRequest{URL: "https://a.test/"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var launch models.LaunchResponse
	decodeBody(t, resp, &launch)
	assert.Equal(t, models.GoodPrediction, launch.Outcome)
}

func TestTakeWithNothingSpeculated(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.do(t, &u1, http.MethodPost, "/api/sessions", models.NewSessionRequest{SessionID: "s1"}).StatusCode)

	resp := ts.do(t, &u1, http.MethodPost, "/api/sessions/s1/take", models.TakeRequest{URL: "https://a.test/"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestCodedErrors(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.do(t, &u1, http.MethodPost, "/api/sessions", models.NewSessionRequest{SessionID: "s1"}).StatusCode)
	require.Equal(t, http.StatusAccepted, ts.do(t, &u1, http.MethodPost, "/api/warmup", nil).StatusCode)
	ts.settle(t)

	tests := []struct {
		name       string
		caller     *models.Caller
		method     string
		path       string
		body       interface{}
		wantStatus int
		wantCode   errors.ErrorCode
	}{
		{"duplicate session", &u1, http.MethodPost, "/api/sessions", models.NewSessionRequest{SessionID: "s1"}, http.StatusBadRequest, errors.ErrCodeSessionExists},
		{"other identity", &u2, http.MethodGet, "/api/sessions/s1", nil, http.StatusForbidden, errors.ErrCodeIdentityMismatch},
		{"unknown session", &u1, http.MethodGet, "/api/sessions/nope", nil, http.StatusNotFound, errors.ErrCodeSessionNotFound},
		{"invalid url", &u1, http.MethodPost, "/api/sessions/s1/may-launch", models.MayLaunchRequest{URL: "ftp://a.test"}, http.StatusBadRequest, errors.ErrCodeInvalidURL},
		{"unknown flag", &u1, http.MethodPut, "/api/sessions/s1/flags", models.SetFlagRequest{Flag: "bogus", Value: true}, http.StatusBadRequest, errors.ErrCodeInvalidInput},
		{"admin from client", &u1, http.MethodPost, "/api/admin/ban", models.UIDRequest{UID: 2000}, http.StatusForbidden, errors.ErrCodePermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, tt.caller, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantCode, errorCode(t, resp))
		})
	}
}

func TestMalformedBody(t *testing.T) {
	ts := newTestServer(t)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/sessions", strings.NewReader("{"))
	require.NoError(t, err)
	req.Header.Set(uidHeader, "1000")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, errors.ErrCodeInvalidInput, errorCode(t, resp))
}

func TestSessionFlagsAndReferrer(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.do(t, &u1, http.MethodPost, "/api/sessions", models.NewSessionRequest{SessionID: "s1"}).StatusCode)

	resp := ts.do(t, &u1, http.MethodPut, "/api/sessions/s1/flags", models.SetFlagRequest{Flag: models.FlagCanUseHiddenTab, Value: false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var flags models.PermissionFlags
	decodeBody(t, resp, &flags)
	assert.False(t, flags.CanUseHiddenTab)

	resp = ts.do(t, &u1, http.MethodPut, "/api/sessions/s1/referrer", models.ReferrerRequest{Referrer: "https://ref.test/"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, &u1, http.MethodGet, "/api/sessions/s1/referrer", nil)
	var ref models.ReferrerRequest
	decodeBody(t, resp, &ref)
	assert.Equal(t, "https://ref.test/", ref.Referrer)

	assert.Equal(t, http.StatusNoContent, ts.do(t, &u1, http.MethodPost, "/api/sessions/s1/keep-alive", nil).StatusCode)
	assert.Equal(t, http.StatusNoContent, ts.do(t, &u1, http.MethodDelete, "/api/sessions/s1/keep-alive", nil).StatusCode)
	assert.Equal(t, http.StatusAccepted, ts.do(t, &u1, http.MethodPost, "/api/sessions/s1/relationship",
		models.RelationshipRequest{Relation: models.RelationUseAsOrigin, Origin: "https://a.test"}).StatusCode)

	assert.Equal(t, http.StatusNoContent, ts.do(t, &u1, http.MethodDelete, "/api/sessions/s1", nil).StatusCode)
	// Cleanup is idempotent.
	assert.Equal(t, http.StatusNoContent, ts.do(t, &u1, http.MethodDelete, "/api/sessions/s1", nil).StatusCode)
}

func TestAdminEndpoints(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.do(t, &u1, http.MethodPost, "/api/sessions", models.NewSessionRequest{SessionID: "s1"}).StatusCode)

	assert.Equal(t, http.StatusNoContent, ts.do(t, &daemonUser, http.MethodPost, "/api/admin/ban", models.UIDRequest{UID: 2000}).StatusCode)

	resp := ts.do(t, nil, http.MethodGet, "/api/throttle", nil)
	var statuses []throttle.Status
	decodeBody(t, resp, &statuses)
	require.Len(t, statuses, 1)
	assert.Equal(t, models.UID(2000), statuses[0].UID)
	assert.True(t, statuses[0].Banned)

	assert.Equal(t, http.StatusNoContent, ts.do(t, &daemonUser, http.MethodPost, "/api/admin/reset", models.UIDRequest{UID: 2000}).StatusCode)

	off := false
	assert.Equal(t, http.StatusNoContent, ts.do(t, &daemonUser, http.MethodPut, "/api/admin/policy", config.PolicyConfig{NetworkPrediction: &off}).StatusCode)
	resp = ts.do(t, &daemonUser, http.MethodPut, "/api/admin/policy", config.PolicyConfig{DeviceClass: "tablet"})
	assert.Equal(t, errors.ErrCodeConfigValidation, errorCode(t, resp))

	resp = ts.do(t, &daemonUser, http.MethodPost, "/api/admin/cleanup", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cleaned models.CleanupResponse
	decodeBody(t, resp, &cleaned)
	assert.Equal(t, 1, cleaned.Cleaned)
}

func TestMetricsAndConfig(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusServiceUnavailable, ts.do(t, nil, http.MethodGet, "/api/metrics", nil).StatusCode)
	assert.Equal(t, http.StatusServiceUnavailable, ts.do(t, nil, http.MethodGet, "/api/config", nil).StatusCode)

	ts.srv.SetMetrics(ts.rec)
	ts.srv.SetRunningConfig(func() *RunningConfig {
		return &RunningConfig{Socket: "/run/tabsd.sock", Engine: "none"}
	})
	ts.rec.RecordEvent("test.event", 3)

	resp := ts.do(t, nil, http.MethodGet, "/api/metrics", nil)
	var snap metrics.Snapshot
	decodeBody(t, resp, &snap)
	assert.Equal(t, int64(3), snap.Events["test.event"].Sum)

	resp = ts.do(t, nil, http.MethodGet, "/api/config", nil)
	var rc RunningConfig
	decodeBody(t, resp, &rc)
	assert.Equal(t, "none", rc.Engine)
}

// readUntil reads updates until one matches or the deadline passes.
func readUntil(t *testing.T, next func() (store.Update, error), match func(store.Update) bool) store.Update {
	t.Helper()
	for {
		u, err := next()
		require.NoError(t, err)
		if match(u) {
			return u
		}
	}
}

func isEvent(typ models.EventType) func(store.Update) bool {
	return func(u store.Update) bool {
		return u.Type == store.UpdateEvent && u.Event != nil && u.Event.Type == typ
	}
}

func TestStreamState(t *testing.T) {
	ts := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/stream", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	next := func() (store.Update, error) {
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var u store.Update
			err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &u)
			return u, err
		}
		return store.Update{}, scanner.Err()
	}

	first := readUntil(t, next, func(store.Update) bool { return true })
	assert.Equal(t, UpdateInitial, first.Type)

	require.Equal(t, http.StatusCreated, ts.do(t, &u1, http.MethodPost, "/api/sessions", models.NewSessionRequest{SessionID: "s1"}).StatusCode)
	u := readUntil(t, next, isEvent(models.EventSessionCreated))
	assert.Equal(t, models.SessionID("s1"), u.Event.SessionID)
}

func TestWebSocketStream(t *testing.T) {
	ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	next := func() (store.Update, error) {
		ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		var u store.Update
		err := ws.ReadJSON(&u)
		return u, err
	}

	first := readUntil(t, next, func(store.Update) bool { return true })
	assert.Equal(t, UpdateInitial, first.Type)

	require.Equal(t, http.StatusCreated, ts.do(t, &u1, http.MethodPost, "/api/sessions", models.NewSessionRequest{SessionID: "s1"}).StatusCode)
	readUntil(t, next, isEvent(models.EventSessionCreated))

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
}

func TestCallerFrom(t *testing.T) {
	_, ok := CallerFrom(context.Background())
	assert.False(t, ok)

	got, ok := CallerFrom(WithCaller(context.Background(), u1))
	assert.True(t, ok)
	assert.Equal(t, u1, got)
}
