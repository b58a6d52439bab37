package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// baseURL is the dummy host used for requests over the unix socket.
const baseURL = "http://unix"

// Client talks to a running host over its unix socket.
type Client struct {
	socketPath string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// NewClient returns a client for the host listening on socketPath.
func NewClient(socketPath string) *Client {
	dial := func(ctx context.Context, _, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", socketPath)
	}
	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Transport: &http.Transport{DialContext: dial},
			Timeout:   2 * time.Minute, // title generation runs the agent CLI
		},
		dialer: &websocket.Dialer{
			NetDialContext:   dial,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach agentdesk at %s: %w", c.socketPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s: %s", req.Method, req.URL.Path, resp.Status, bytes.TrimSpace(body))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// Health checks that the host answers.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/healthz", nil)
}

// StaticData decodes /api/static-data into out.
func (c *Client) StaticData(ctx context.Context, out any) error {
	return c.get(ctx, "/api/static-data", out)
}

// RecentCwds returns recently used working directories.
func (c *Client) RecentCwds(ctx context.Context, limit int) ([]string, error) {
	path := "/api/recent-cwds"
	if limit != 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	var cwds []string
	if err := c.get(ctx, path, &cwds); err != nil {
		return nil, err
	}
	return cwds, nil
}

// SessionTitle asks the host to title a prompt.
func (c *Client) SessionTitle(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(titleRequest{Prompt: &prompt})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/session-title", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	var resp titleResponse
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	return resp.Title, nil
}

// Connect opens the event websocket.
func (c *Client) Connect(ctx context.Context) (*Conn, error) {
	ws, resp, err := c.dialer.DialContext(ctx, "ws://unix/ws", nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to agentdesk at %s: %w", c.socketPath, err)
	}
	return &Conn{ws: ws}, nil
}

// RawEvent is a server event whose payload has not been decoded.
type RawEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Conn is an open event stream. Send may be called from any goroutine;
// Receive from one goroutine at a time.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// Send writes a client event. A nil payload is sent without one.
func (c *Conn) Send(eventType string, payload any) error {
	ev := ClientEvent{Type: eventType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		ev.Payload = data
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(WriteTimeout))
	return c.ws.WriteJSON(ev)
}

// Receive blocks for the next server event.
func (c *Conn) Receive() (RawEvent, error) {
	var ev RawEvent
	err := c.ws.ReadJSON(&ev)
	return ev, err
}

// Close sends a close frame and closes the connection.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}
