package httpdoc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/hyperengineering/teamsync"
	"github.com/oklog/ulid/v2"
	"github.com/sethvargo/go-retry"
)

const readLimit = 1 << 22

// Client implements teamsync.RemoteStore against a Handler.
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewClient creates a client for the server at baseURL.
// apiKey is optional; when set it is sent as a bearer token.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:     slog.Default(),
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
}

// WithHTTPClient sets a custom http.Client (for testing or custom timeouts).
func (c *Client) WithHTTPClient(client *http.Client) *Client {
	c.httpClient = client
	return c
}

// WithLogger sets the client's logger.
func (c *Client) WithLogger(l *slog.Logger) *Client {
	c.logger = l
	return c
}

// WithBackoff sets the resubscribe backoff bounds.
func (c *Client) WithBackoff(lo, hi time.Duration) *Client {
	c.minBackoff, c.maxBackoff = lo, hi
	return c
}

func (c *Client) header() http.Header {
	h := http.Header{}
	if c.apiKey != "" {
		h.Set("Authorization", "Bearer "+c.apiKey)
	}
	h.Set("User-Agent", "teamsync-client/1.0")
	h.Set("X-Request-ID", ulid.Make().String())
	return h
}

func newRemoteError(op string, statusCode int, body []byte) *teamsync.RemoteError {
	msg := ""
	if len(body) > 0 {
		var er ErrorResponse
		if json.Unmarshal(body, &er) == nil && er.Error != "" {
			msg = er.Error
		} else if len(body) > 200 {
			msg = string(body[:200]) + "..."
		} else {
			msg = string(body)
		}
	}
	return &teamsync.RemoteError{
		Operation:  op,
		StatusCode: statusCode,
		Err:        fmt.Errorf("HTTP %d: %s", statusCode, msg),
	}
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &teamsync.RemoteError{Operation: op, Err: err}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &teamsync.RemoteError{Operation: op, Err: err}
	}
	req.Header = c.header()
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &teamsync.RemoteError{Operation: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return newRemoteError(op, resp.StatusCode, respBody)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &teamsync.RemoteError{Operation: op, Err: err}
	}
	return nil
}

func docPath(collection, id string) string {
	return fmt.Sprintf("/v1/docs/%s/%s", url.PathEscape(collection), url.PathEscape(id))
}

// CreateDocument stores rec, replacing any document with the same id.
func (c *Client) CreateDocument(ctx context.Context, collection string, rec teamsync.Fields) error {
	return c.do(ctx, "create", http.MethodPut, docPath(collection, rec.ID()), rec, nil)
}

// UpdateDocument merges rec into the stored document.
func (c *Client) UpdateDocument(ctx context.Context, collection string, rec teamsync.Fields) error {
	return c.do(ctx, "update", http.MethodPatch, docPath(collection, rec.ID()), rec, nil)
}

// QueryDocuments returns the documents matching every filter.
func (c *Client) QueryDocuments(ctx context.Context, collection string, filters []teamsync.Filter) ([]teamsync.Fields, error) {
	if err := teamsync.ValidateFilters(filters); err != nil {
		return nil, err
	}
	var resp QueryResponse
	path := "/v1/query/" + url.PathEscape(collection)
	if err := c.do(ctx, "query", http.MethodPost, path, QueryRequest{Filters: filters}, &resp); err != nil {
		return nil, err
	}
	for _, d := range resp.Documents {
		decodeTimestamps(d)
	}
	return resp.Documents, nil
}

// Health checks that the server is reachable.
func (c *Client) Health(ctx context.Context) error {
	var resp HealthResponse
	return c.do(ctx, "health", http.MethodGet, "/healthz", nil, &resp)
}

// SubscribeToQuery opens a websocket subscription and calls fn with every
// snapshot until the returned function is called or ctx is done. The first
// connection is made before returning; dropped connections are re-dialed
// with exponential backoff.
func (c *Client) SubscribeToQuery(ctx context.Context, collection string, filters []teamsync.Filter, fn teamsync.SnapshotFunc) (teamsync.Unsubscribe, error) {
	if err := teamsync.ValidateFilters(filters); err != nil {
		return nil, err
	}
	target, err := c.subscribeURL(collection, filters)
	if err != nil {
		return nil, &teamsync.RemoteError{Operation: "subscribe", Err: err}
	}

	subCtx, cancel := context.WithCancel(ctx)
	conn, err := c.dial(subCtx, target)
	if err != nil {
		cancel()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.readLoop(subCtx, conn, target, collection, fn)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func (c *Client) subscribeURL(collection string, filters []teamsync.Filter) (string, error) {
	u, err := url.Parse(c.baseURL + "/v1/subscribe/" + url.PathEscape(collection))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	encoded, err := encodeFilters(filters)
	if err != nil {
		return "", err
	}
	if encoded != "" {
		u.RawQuery = url.Values{"filters": {encoded}}.Encode()
	}
	return u.String(), nil
}

func (c *Client) dial(ctx context.Context, target string) (*websocket.Conn, error) {
	conn, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPHeader: c.header(),
	})
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			var body []byte
			if resp.Body != nil {
				body, _ = io.ReadAll(resp.Body)
			}
			return nil, newRemoteError("subscribe", resp.StatusCode, body)
		}
		return nil, &teamsync.RemoteError{Operation: "subscribe", Err: err}
	}
	conn.SetReadLimit(readLimit)
	return conn, nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, target, collection string, fn teamsync.SnapshotFunc) {
	for {
		err := c.consume(ctx, conn, fn)
		conn.CloseNow()
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("subscription dropped, reconnecting", "collection", collection, "error", err)

		conn, err = c.redial(ctx, target)
		if err != nil {
			return
		}
		c.logger.Info("subscription restored", "collection", collection)
	}
}

func (c *Client) consume(ctx context.Context, conn *websocket.Conn, fn teamsync.SnapshotFunc) error {
	for {
		var msg SnapshotMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return err
		}
		if msg.Type != messageSnapshot {
			continue
		}
		for _, d := range msg.Documents {
			decodeTimestamps(d)
		}
		fn(ctx, msg.Documents)
	}
}

func (c *Client) redial(ctx context.Context, target string) (*websocket.Conn, error) {
	b := retry.NewExponential(c.minBackoff)
	b = retry.WithJitterPercent(10, b)
	b = retry.WithCappedDuration(c.maxBackoff, b)

	var conn *websocket.Conn
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		cn, err := c.dial(ctx, target)
		if err != nil {
			c.logger.Debug("resubscribe attempt failed", "error", err)
			return retry.RetryableError(err)
		}
		conn = cn
		return nil
	})
	return conn, err
}

var _ teamsync.RemoteStore = (*Client)(nil)
