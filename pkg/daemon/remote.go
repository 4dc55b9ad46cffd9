package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grovetools/tabsd/config"
	"github.com/grovetools/tabsd/errors"
	"github.com/grovetools/tabsd/internal/daemon/server"
	"github.com/grovetools/tabsd/internal/daemon/store"
	"github.com/grovetools/tabsd/internal/metrics"
	"github.com/grovetools/tabsd/internal/throttle"
	"github.com/grovetools/tabsd/pkg/models"
)

// RemoteClient implements Client by calling the daemon's HTTP API over a Unix socket.
type RemoteClient struct {
	httpClient *http.Client
	socketPath string
}

// NewRemoteClient creates a new RemoteClient connected to the daemon socket.
func NewRemoteClient(socketPath string) (*RemoteClient, error) {
	// Create HTTP client that dials Unix socket
	transport := &http.Transport{
		DialContext:       unixDialer(socketPath),
		DisableKeepAlives: false,
		MaxIdleConns:      10,
		IdleConnTimeout:   90 * time.Second,
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   10 * time.Second,
	}

	return &RemoteClient{
		httpClient: client,
		socketPath: socketPath,
	}, nil
}

func unixDialer(socketPath string) func(ctx context.Context, _, _ string) (net.Conn, error) {
	return func(ctx context.Context, _, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", socketPath)
	}
}

// baseURL is the dummy host used for Unix socket HTTP requests.
// The actual connection goes through the Unix socket, not this URL.
const baseURL = "http://unix"

func sessionPath(id models.SessionID, suffix string) string {
	return "/api/sessions/" + url.PathEscape(string(id)) + suffix
}

// call sends body as JSON and decodes a 2xx answer into out. Error answers
// are decoded into the daemon's coded error.
func (c *RemoteClient) call(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, errors.DaemonNotRunning(c.socketPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		var tabsErr errors.TabsError
		if json.Unmarshal(data, &tabsErr) == nil && tabsErr.Code != "" {
			return resp.StatusCode, &tabsErr
		}
		return resp.StatusCode, fmt.Errorf("daemon returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// NewSession registers a session owned by the calling process.
func (c *RemoteClient) NewSession(ctx context.Context, id models.SessionID, watch bool) (models.Session, error) {
	var sess models.Session
	_, err := c.call(ctx, http.MethodPost, "/api/sessions", models.NewSessionRequest{SessionID: id, Watch: watch}, &sess)
	return sess, err
}

// Session returns the daemon's view of a session.
func (c *RemoteClient) Session(ctx context.Context, id models.SessionID) (models.Session, error) {
	var sess models.Session
	_, err := c.call(ctx, http.MethodGet, sessionPath(id, ""), nil, &sess)
	return sess, err
}

// CleanupSession removes a session and cancels its speculation.
func (c *RemoteClient) CleanupSession(ctx context.Context, id models.SessionID) error {
	_, err := c.call(ctx, http.MethodDelete, sessionPath(id, ""), nil, nil)
	return err
}

func (c *RemoteClient) Flags(ctx context.Context, id models.SessionID) (models.PermissionFlags, error) {
	var flags models.PermissionFlags
	_, err := c.call(ctx, http.MethodGet, sessionPath(id, "/flags"), nil, &flags)
	return flags, err
}

func (c *RemoteClient) SetFlag(ctx context.Context, id models.SessionID, flag models.Flag, value bool) (models.PermissionFlags, error) {
	var flags models.PermissionFlags
	_, err := c.call(ctx, http.MethodPut, sessionPath(id, "/flags"), models.SetFlagRequest{Flag: flag, Value: value}, &flags)
	return flags, err
}

func (c *RemoteClient) Referrer(ctx context.Context, id models.SessionID) (string, error) {
	var ref models.ReferrerRequest
	_, err := c.call(ctx, http.MethodGet, sessionPath(id, "/referrer"), nil, &ref)
	return ref.Referrer, err
}

func (c *RemoteClient) SetReferrer(ctx context.Context, id models.SessionID, referrer string) error {
	_, err := c.call(ctx, http.MethodPut, sessionPath(id, "/referrer"), models.ReferrerRequest{Referrer: referrer}, nil)
	return err
}

func (c *RemoteClient) KeepAlive(ctx context.Context, id models.SessionID) error {
	_, err := c.call(ctx, http.MethodPost, sessionPath(id, "/keep-alive"), nil, nil)
	return err
}

func (c *RemoteClient) DontKeepAlive(ctx context.Context, id models.SessionID) error {
	_, err := c.call(ctx, http.MethodDelete, sessionPath(id, "/keep-alive"), nil, nil)
	return err
}

func (c *RemoteClient) ValidateRelationship(ctx context.Context, id models.SessionID, relation models.Relation, origin string) error {
	_, err := c.call(ctx, http.MethodPost, sessionPath(id, "/relationship"), models.RelationshipRequest{Relation: relation, Origin: origin}, nil)
	return err
}

func (c *RemoteClient) Warmup(ctx context.Context) error {
	_, err := c.call(ctx, http.MethodPost, "/api/warmup", nil, nil)
	return err
}

func (c *RemoteClient) MayLaunchURL(ctx context.Context, id models.SessionID, rawURL string, extras models.Extras, otherLikely []string) (bool, error) {
	var resp models.MayLaunchResponse
	req := models.MayLaunchRequest{URL: rawURL, Extras: extras, OtherLikely: otherLikely}
	if _, err := c.call(ctx, http.MethodPost, sessionPath(id, "/may-launch"), req, &resp); err != nil {
		return false, err
	}
	return resp.Allowed, nil
}

func (c *RemoteClient) TakeHiddenTab(ctx context.Context, id models.SessionID, rawURL, referrer string) (*models.Handoff, error) {
	var handoff models.Handoff
	status, err := c.call(ctx, http.MethodPost, sessionPath(id, "/take"), models.TakeRequest{URL: rawURL, Referrer: referrer}, &handoff)
	if err != nil || status == http.StatusNoContent {
		return nil, err
	}
	return &handoff, nil
}

func (c *RemoteClient) RegisterLaunch(ctx context.Context, id models.SessionID, rawURL string) (models.PredictionOutcome, error) {
	var resp models.LaunchResponse
	if _, err := c.call(ctx, http.MethodPost, sessionPath(id, "/launch"), models.LaunchRequest{URL: rawURL}, &resp); err != nil {
		return models.NoPrediction, err
	}
	return resp.Outcome, nil
}

func (c *RemoteClient) CancelSpeculation(ctx context.Context, id models.SessionID) error {
	_, err := c.call(ctx, http.MethodPost, sessionPath(id, "/cancel"), nil, nil)
	return err
}

// GetState returns the daemon state snapshot.
func (c *RemoteClient) GetState(ctx context.Context) (*store.State, error) {
	var state store.State
	if _, err := c.call(ctx, http.MethodGet, "/api/state", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// GetConfig returns the configuration the daemon is running with.
func (c *RemoteClient) GetConfig(ctx context.Context) (*server.RunningConfig, error) {
	var rc server.RunningConfig
	if _, err := c.call(ctx, http.MethodGet, "/api/config", nil, &rc); err != nil {
		return nil, err
	}
	return &rc, nil
}

func (c *RemoteClient) GetMetrics(ctx context.Context) (*metrics.Snapshot, error) {
	var snap metrics.Snapshot
	if _, err := c.call(ctx, http.MethodGet, "/api/metrics", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *RemoteClient) GetThrottle(ctx context.Context) ([]throttle.Status, error) {
	var statuses []throttle.Status
	_, err := c.call(ctx, http.MethodGet, "/api/throttle", nil, &statuses)
	return statuses, err
}

func (c *RemoteClient) CleanupAll(ctx context.Context) (int, error) {
	var resp models.CleanupResponse
	_, err := c.call(ctx, http.MethodPost, "/api/admin/cleanup", nil, &resp)
	return resp.Cleaned, err
}

func (c *RemoteClient) Ban(ctx context.Context, uid models.UID) error {
	_, err := c.call(ctx, http.MethodPost, "/api/admin/ban", models.UIDRequest{UID: uid}, nil)
	return err
}

func (c *RemoteClient) Reset(ctx context.Context, uid models.UID) error {
	_, err := c.call(ctx, http.MethodPost, "/api/admin/reset", models.UIDRequest{UID: uid}, nil)
	return err
}

func (c *RemoteClient) UpdatePolicy(ctx context.Context, policy config.PolicyConfig) error {
	_, err := c.call(ctx, http.MethodPut, "/api/admin/policy", policy, nil)
	return err
}

// IsRunning returns true if the daemon is available and responding.
func (c *RemoteClient) IsRunning() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// StreamState subscribes to real-time state updates via Server-Sent Events (SSE).
// Returns a channel that receives updates. The channel is closed when the context is cancelled
// or the connection is lost.
func (c *RemoteClient) StreamState(ctx context.Context) (<-chan StateUpdate, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", baseURL+"/api/stream", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream request: %w", err)
	}

	// Use a separate client with no timeout for streaming
	streamTransport := &http.Transport{
		DialContext: unixDialer(c.socketPath),
	}
	streamClient := &http.Client{
		Transport: streamTransport,
		Timeout:   0, // No timeout for streaming
	}

	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, errors.DaemonNotRunning(c.socketPath, err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	ch := make(chan StateUpdate, 10)

	go func() {
		defer resp.Body.Close()
		defer close(ch)
		defer streamTransport.CloseIdleConnections()

		scanner := bufio.NewScanner(resp.Body)
		// The initial update carries the whole state.
		buf := make([]byte, 0, 256*1024)
		scanner.Buffer(buf, 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()

			// Skip comments and empty lines
			if strings.HasPrefix(line, ":") || line == "" {
				continue
			}

			// Parse SSE data lines
			if strings.HasPrefix(line, "data: ") {
				jsonStr := strings.TrimPrefix(line, "data: ")
				var update StateUpdate
				if err := json.Unmarshal([]byte(jsonStr), &update); err != nil {
					continue // Skip malformed data
				}

				select {
				case ch <- update:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}

// Watch subscribes to state updates over the daemon's websocket.
func (c *RemoteClient) Watch(ctx context.Context) (<-chan StateUpdate, error) {
	dialer := websocket.Dialer{
		NetDialContext:   unixDialer(c.socketPath),
		HandshakeTimeout: 5 * time.Second,
	}
	ws, _, err := dialer.DialContext(ctx, "ws://unix/api/ws", nil)
	if err != nil {
		return nil, errors.DaemonNotRunning(c.socketPath, err)
	}

	ch := make(chan StateUpdate, 10)
	done := make(chan struct{})

	// Unblocks ReadJSON once the caller is gone.
	go func() {
		select {
		case <-ctx.Done():
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			ws.Close()
		case <-done:
		}
	}()

	go func() {
		defer close(ch)
		defer close(done)
		defer ws.Close()
		for {
			var update StateUpdate
			if err := ws.ReadJSON(&update); err != nil {
				return
			}
			select {
			case ch <- update:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// Close cleans up any resources used by the client.
func (c *RemoteClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Ensure RemoteClient implements Client interface.
var _ Client = (*RemoteClient)(nil)
