package rws

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultTimeout bounds ordinary request/response latency.
	DefaultTimeout = 400 * time.Millisecond
	// LongTimeout bounds operations known to be slow, such as large
	// payload transfers.
	LongTimeout = 10 * time.Second

	// wsReadBufferSize is the per-read buffer for the WebSocket
	// sub-connection; larger frames are accumulated internally.
	wsReadBufferSize = 1024
)

// Client maintains a persistent, Digest-authenticated session with one
// remote device. All operations are synchronous and return a *Result;
// lower-layer faults never escape as errors.
//
// HTTP operations serialize under one lock, WebSocket operations under
// another, so the two channels never contend with each other.
type Client struct {
	host     string
	port     int
	username string
	password string

	baseURL string

	// httpMu serializes HTTP dispatch: one request/response cycle at
	// a time, FIFO, including the single Digest resend.
	httpMu     sync.Mutex
	httpClient *http.Client

	// stateMu guards the cookie jar and the timeout mode. It is a
	// separate, briefly-held lock so the WebSocket path can read both
	// without waiting for an in-flight HTTP exchange.
	stateMu sync.Mutex
	cookies map[string]string
	timeout time.Duration

	ncMu       sync.Mutex
	nonceCount int
	lastNonce  string

	// wsMu serializes WebSocket operations. The handle pointer itself
	// lives under stateMu so WebSocketShutdown can reach it while a
	// receive is parked on the socket.
	wsMu sync.Mutex
	ws   *websocket.Conn
}

// NewClient constructs a client bound to host:port with the given
// Digest credentials. Identity and credentials are immutable afterwards.
func NewClient(host string, port int, username, password string) *Client {
	return &Client{
		host:     host,
		port:     port,
		username: username,
		password: password,
		baseURL:  "http://" + net.JoinHostPort(host, strconv.Itoa(port)),
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:    1,
				IdleConnTimeout: 90 * time.Second,
			},
		},
		cookies: make(map[string]string),
		timeout: DefaultTimeout,
	}
}

// Get sends a HTTP GET request for the given URI (path and query).
func (c *Client) Get(uri string) *Result {
	return c.do(http.MethodGet, uri, "")
}

// Post sends a HTTP POST request.
func (c *Client) Post(uri, body string) *Result {
	return c.do(http.MethodPost, uri, body)
}

// Put sends a HTTP PUT request.
func (c *Client) Put(uri, body string) *Result {
	return c.do(http.MethodPut, uri, body)
}

// Delete sends a HTTP DELETE request.
func (c *Client) Delete(uri string) *Result {
	return c.do(http.MethodDelete, uri, "")
}

// ResetTimeout restores the default timeout for subsequent operations.
// An operation already in flight keeps the deadline it started with.
func (c *Client) ResetTimeout() {
	c.stateMu.Lock()
	c.timeout = DefaultTimeout
	c.stateMu.Unlock()
}

// SetLongTimeout switches subsequent operations to the long timeout.
func (c *Client) SetLongTimeout() {
	c.stateMu.Lock()
	c.timeout = LongTimeout
	c.stateMu.Unlock()
}

// do routes every HTTP verb through one serialized dispatch: send,
// handle a single Digest challenge, harvest cookies, capture the
// exchange into a Result.
func (c *Client) do(method, uri, body string) *Result {
	c.httpMu.Lock()
	defer c.httpMu.Unlock()

	res := &Result{}
	res.RecordHTTPRequest(method, uri, body)

	// The timeout mode is read once per operation; a concurrent mode
	// change affects later operations, never this one.
	timeout := c.snapshotTimeout()

	resp, respBody, err := c.roundTrip(timeout, method, uri, body, "")
	if err != nil {
		res.Status, res.ExceptionMessage = classifyTransportError(err)
		return res
	}
	res.RecordHTTPResponse(statusLine(resp), flattenHeader(resp.Header), respBody)
	c.harvestCookies(resp)

	// Exactly one re-authentication attempt per call; the second
	// response, success or failure, is what gets recorded.
	if resp.StatusCode == http.StatusUnauthorized {
		if ch, ok := parseDigestChallenge(resp.Header.Get("WWW-Authenticate")); ok {
			auth := digestAuthorization(c.username, c.password, method, uri, ch, newCnonce(), c.nextNonceCount(ch.nonce))
			resp, respBody, err = c.roundTrip(timeout, method, uri, body, auth)
			if err != nil {
				res.Status, res.ExceptionMessage = classifyTransportError(err)
				return res
			}
			res.RecordHTTPResponse(statusLine(resp), flattenHeader(resp.Header), respBody)
			c.harvestCookies(resp)
		}
	}

	res.Status = StatusOK
	return res
}

// roundTrip performs one request/response cycle. Each attempt gets a
// fresh deadline of the given length, matching the per-exchange
// timeout of the session model.
func (c *Client) roundTrip(timeout time.Duration, method, uri, body, authorization string) (*http.Response, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+uri, strings.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	if cookie := c.cookieHeader(); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return resp, string(data), nil
}

// harvestCookies upserts every Set-Cookie pair from the response into
// the jar: the name=value portion up to the first ';', last write wins.
func (c *Client) harvestCookies(resp *http.Response) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	for _, raw := range resp.Header.Values("Set-Cookie") {
		pair := raw
		if i := strings.Index(pair, ";"); i >= 0 {
			pair = pair[:i]
		}
		name, value, found := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !found || name == "" {
			continue
		}
		c.cookies[name] = strings.TrimSpace(value)
	}
}

// cookieHeader flattens the jar into one Cookie header value. Names are
// sorted so the wire format is deterministic.
func (c *Client) cookieHeader() string {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if len(c.cookies) == 0 {
		return ""
	}
	names := make([]string, 0, len(c.cookies))
	for name := range c.cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+c.cookies[name])
	}
	return strings.Join(pairs, "; ")
}

// nextNonceCount returns the nc value for one use of the given server
// nonce: 1 on its first use, incrementing while the same nonce is
// replayed (RFC 2617 counts requests per nonce).
func (c *Client) nextNonceCount(nonce string) int {
	c.ncMu.Lock()
	defer c.ncMu.Unlock()
	if nonce != c.lastNonce {
		c.lastNonce = nonce
		c.nonceCount = 0
	}
	c.nonceCount++
	return c.nonceCount
}

// snapshotTimeout reads the active timeout mode. Each exchange keeps
// the value it started with; a concurrent mode change affects
// subsequent exchanges only.
func (c *Client) snapshotTimeout() time.Duration {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.timeout
}

// classifyTransportError maps a transport fault onto the result
// taxonomy: timeouts first, everything else is a network fault.
func classifyTransportError(err error) (Status, string) {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return StatusTimeoutError, err.Error()
	}
	return StatusNetworkError, err.Error()
}

func statusLine(resp *http.Response) string {
	return resp.Status
}

// flattenHeader renders a header block as "Name: value" lines with
// sorted names.
func flattenHeader(h http.Header) string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		for _, value := range h[name] {
			b.WriteString(name)
			b.WriteString(": ")
			b.WriteString(value)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// FindSubstringContent extracts the substring strictly between the
// first occurrence of start and the next occurrence of end. Returns ""
// when either marker is absent.
func FindSubstringContent(whole, start, end string) string {
	i := strings.Index(whole, start)
	if i < 0 {
		return ""
	}
	rest := whole[i+len(start):]
	j := strings.Index(rest, end)
	if j < 0 {
		return ""
	}
	return rest[:j]
}
