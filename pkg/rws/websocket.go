package rws

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketExist reports whether a WebSocket handle is currently
// allocated.
func (c *Client) WebSocketExist() bool {
	return c.wsHandle() != nil
}

func (c *Client) wsHandle() *websocket.Conn {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.ws
}

// WebSocketConnect performs the opening handshake at uri requesting the
// given sub-protocol, sharing the session's cookies and Digest
// credentials. A handle that is already allocated is closed and
// replaced on success; on failure the previous handle is left
// untouched. There is no auto-reconnect: after a torn-down connection
// the caller re-establishes with a fresh call.
func (c *Client) WebSocketConnect(uri, protocol string) *Result {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()

	res := &Result{}
	res.RecordHTTPRequest(http.MethodGet, uri, "")

	dialer := &websocket.Dialer{
		HandshakeTimeout: c.snapshotTimeout(),
		ReadBufferSize:   wsReadBufferSize,
		Subprotocols:     []string{protocol},
	}

	header := http.Header{}
	if cookie := c.cookieHeader(); cookie != "" {
		header.Set("Cookie", cookie)
	}

	wsURL := "ws://" + net.JoinHostPort(c.host, strconv.Itoa(c.port)) + uri

	conn, resp, err := dialer.Dial(wsURL, header)

	// Same single re-authentication policy as the HTTP path: one
	// Digest challenge earns one redial, nothing more.
	if err != nil && resp != nil && resp.StatusCode == http.StatusUnauthorized {
		if ch, ok := parseDigestChallenge(resp.Header.Get("WWW-Authenticate")); ok {
			auth := digestAuthorization(c.username, c.password, http.MethodGet, uri, ch, newCnonce(), c.nextNonceCount(ch.nonce))
			header.Set("Authorization", auth)
			conn, resp, err = dialer.Dial(wsURL, header)
		}
	}

	if resp != nil {
		res.RecordHTTPResponse(resp.Status, flattenHeader(resp.Header), "")
	}
	if err != nil {
		res.Status, res.ExceptionMessage = classifyWebSocketError(err)
		return res
	}

	c.stateMu.Lock()
	if c.ws != nil {
		c.ws.Close()
	}
	c.ws = conn
	c.stateMu.Unlock()

	res.Status = StatusOK
	return res
}

// WebSocketShutdown tears down the allocated handle, if any. A receive
// blocked on the socket from another goroutine fails over with a
// network error; a later WebSocketConnect allocates a fresh handle.
func (c *Client) WebSocketShutdown() {
	if ws := c.wsHandle(); ws != nil {
		ws.Close()
	}
}

// WebSocketReceiveFrame blocks for exactly one frame on the allocated
// handle and captures its flags and payload. With no handle allocated
// it returns immediately with StatusWebSocketNotAllocated and performs
// no network I/O.
//
// Fragmented messages are reassembled before returning, so every
// captured frame carries the fin bit. A close frame from the peer is
// data, not a fault: it is returned with the close opcode and the
// peer's close text as payload.
//
// A failed read, including a timeout, leaves the underlying connection
// unusable, so the handle is released: WebSocketExist reports false
// afterwards and the caller re-establishes with a fresh connect.
func (c *Client) WebSocketReceiveFrame() *Result {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()

	res := &Result{}
	ws := c.wsHandle()
	if ws == nil {
		res.Status = StatusWebSocketNotAllocated
		return res
	}

	ws.SetReadDeadline(time.Now().Add(c.snapshotTimeout()))

	messageType, payload, err := ws.ReadMessage()
	if err != nil {
		c.releaseHandle(ws)
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			res.RecordFrame(OpcodeClose|FrameFlagFin, []byte(closeErr.Text))
			res.Status = StatusOK
			return res
		}
		res.Status, res.ExceptionMessage = classifyWebSocketError(err)
		return res
	}

	res.RecordFrame(messageType|FrameFlagFin, payload)
	res.Status = StatusOK
	return res
}

// releaseHandle closes ws and clears the handle slot if ws still
// occupies it.
func (c *Client) releaseHandle(ws *websocket.Conn) {
	c.stateMu.Lock()
	if c.ws == ws {
		c.ws = nil
	}
	c.stateMu.Unlock()
	ws.Close()
}

// classifyWebSocketError maps a WebSocket fault onto the result
// taxonomy: timeouts and plain transport faults keep their own
// statuses, handshake and framing faults are protocol errors.
func classifyWebSocketError(err error) (Status, string) {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return StatusTimeoutError, err.Error()
	}
	if errors.Is(err, websocket.ErrBadHandshake) {
		return StatusProtocolError, err.Error()
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return StatusNetworkError, err.Error()
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return StatusNetworkError, err.Error()
	}
	return StatusProtocolError, err.Error()
}
