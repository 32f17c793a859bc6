package rws

import (
	"fmt"
	"strings"
)

// Status classifies the outcome of one client operation.
type Status int

const (
	// StatusUnknown is the zero value; a completed operation never returns it.
	StatusUnknown Status = iota
	// StatusOK indicates the operation completed without a fault.
	StatusOK
	// StatusWebSocketNotAllocated indicates a frame receive was attempted
	// before any successful WebSocketConnect.
	StatusWebSocketNotAllocated
	// StatusTimeoutError indicates the active timeout elapsed.
	StatusTimeoutError
	// StatusNetworkError indicates a transport-level fault
	// (connection refused/reset, DNS, etc.).
	StatusNetworkError
	// StatusProtocolError indicates a WebSocket handshake or framing fault.
	StatusProtocolError
)

func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "UNKNOWN"
	case StatusOK:
		return "OK"
	case StatusWebSocketNotAllocated:
		return "WEBSOCKET_NOT_ALLOCATED"
	case StatusTimeoutError:
		return "TIMEOUT_ERROR"
	case StatusNetworkError:
		return "NETWORK_ERROR"
	case StatusProtocolError:
		return "PROTOCOL_ERROR"
	default:
		return fmt.Sprintf("STATUS(%d)", int(s))
	}
}

// WebSocket frame opcodes and flag masks per RFC 6455 section 5.2.
const (
	OpcodeContinuation = 0x0
	OpcodeText         = 0x1
	OpcodeBinary       = 0x2
	OpcodeClose        = 0x8
	OpcodePing         = 0x9
	OpcodePong         = 0xA

	// FrameFlagFin marks the final fragment of a message.
	FrameFlagFin = 0x80

	opcodeMask = 0x0F
)

// defaultStatusLine is the response status before any response has been
// recorded. It is a distinguishable default, not a claim of success;
// callers must check Result.Status for the true outcome.
const defaultStatusLine = "200 OK"

// HTTPDetail holds diagnostic facts from one HTTP exchange.
type HTTPDetail struct {
	Method      string
	URI         string
	RequestBody string // as sent on the wire, after any re-authentication rewrite
	StatusLine  string
	Header      string // flattened response header block
	Body        string
}

// FrameDetail holds diagnostic facts from one received WebSocket frame.
type FrameDetail struct {
	Flags   int // opcode plus control bits
	Payload []byte
}

// Result is the uniform outcome container returned by every Client
// operation. Exactly one of HTTP or Frame is populated, depending on
// whether the operation was an HTTP call or a frame receive.
type Result struct {
	Status           Status
	ExceptionMessage string

	HTTP  *HTTPDetail
	Frame *FrameDetail
}

// RecordHTTPRequest attaches request facts. Pure assignment; a later
// call overwrites an earlier one.
func (r *Result) RecordHTTPRequest(method, uri, body string) {
	if r.HTTP == nil {
		r.HTTP = &HTTPDetail{StatusLine: defaultStatusLine}
	}
	r.HTTP.Method = method
	r.HTTP.URI = uri
	r.HTTP.RequestBody = body
}

// RecordHTTPResponse attaches response facts.
func (r *Result) RecordHTTPResponse(statusLine, header, body string) {
	if r.HTTP == nil {
		r.HTTP = &HTTPDetail{}
	}
	r.HTTP.StatusLine = statusLine
	r.HTTP.Header = header
	r.HTTP.Body = body
}

// RecordFrame attaches facts from a received WebSocket frame.
func (r *Result) RecordFrame(flags int, payload []byte) {
	r.Frame = &FrameDetail{Flags: flags, Payload: payload}
}

// Opcode returns the opcode bits of the recorded frame flags, or -1 if
// no frame has been recorded.
func (r *Result) Opcode() int {
	if r.Frame == nil {
		return -1
	}
	return r.Frame.Flags & opcodeMask
}

// OpcodeString decodes the recorded frame's opcode into a symbolic name.
func (r *Result) OpcodeString() string {
	switch r.Opcode() {
	case OpcodeContinuation:
		return "continuation"
	case OpcodeText:
		return "text"
	case OpcodeBinary:
		return "binary"
	case OpcodeClose:
		return "close"
	case OpcodePing:
		return "ping"
	case OpcodePong:
		return "pong"
	default:
		return "unknown"
	}
}

// Render produces an indented text block describing the result, for
// logs and diagnostics. The general status is always included, the
// exception message whenever non-empty; protocol detail (bodies,
// headers, payloads) only when verbose.
func (r *Result) Render(verbose bool, indent int) string {
	pad := strings.Repeat(" ", indent)

	var b strings.Builder
	fmt.Fprintf(&b, "%sGeneral status: %s\n", pad, r.Status)
	if r.ExceptionMessage != "" {
		fmt.Fprintf(&b, "%sException message: %s\n", pad, r.ExceptionMessage)
	}

	if !verbose {
		return b.String()
	}

	switch {
	case r.HTTP != nil:
		fmt.Fprintf(&b, "%sHTTP request method: %s\n", pad, r.HTTP.Method)
		fmt.Fprintf(&b, "%sHTTP request URI: %s\n", pad, r.HTTP.URI)
		if r.HTTP.RequestBody != "" {
			fmt.Fprintf(&b, "%sHTTP request content: %s\n", pad, r.HTTP.RequestBody)
		}
		fmt.Fprintf(&b, "%sHTTP response status: %s\n", pad, r.HTTP.StatusLine)
		if r.HTTP.Header != "" {
			fmt.Fprintf(&b, "%sHTTP response header:\n%s", pad, indentBlock(r.HTTP.Header, indent+2))
		}
		if r.HTTP.Body != "" {
			fmt.Fprintf(&b, "%sHTTP response content: %s\n", pad, r.HTTP.Body)
		}
	case r.Frame != nil:
		fmt.Fprintf(&b, "%sWebSocket frame flags: %#x\n", pad, r.Frame.Flags)
		fmt.Fprintf(&b, "%sWebSocket frame opcode: %s\n", pad, r.OpcodeString())
		fmt.Fprintf(&b, "%sWebSocket frame content: %s\n", pad, r.Frame.Payload)
	}

	return b.String()
}

func indentBlock(s string, indent int) string {
	pad := strings.Repeat(" ", indent)
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(pad)
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
