package rws

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return clientForURL(t, srv.URL)
}

func clientForURL(t *testing.T, rawURL string) *Client {
	t.Helper()
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(rawURL, "http://"))
	if err != nil {
		t.Fatalf("split test server address: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse test server port: %v", err)
	}
	return NewClient(host, port, "Default User", "robotics")
}

// parseAuthorizationParams reads the key/value pairs of a Digest
// Authorization header sent by the client under test.
func parseAuthorizationParams(header string) map[string]string {
	params := make(map[string]string)
	for _, part := range splitChallengeParams(strings.TrimPrefix(header, "Digest")) {
		key, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		params[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"`)
	}
	return params
}

func TestGetCapturesExchange(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Controller", "irc5")
		fmt.Fprint(w, "<html>ready</html>")
	}))

	res := c.Get("/rw/system")
	if res.Status != StatusOK {
		t.Fatalf("status = %v, want OK (%s)", res.Status, res.ExceptionMessage)
	}
	if res.HTTP == nil {
		t.Fatal("no HTTP detail recorded")
	}
	if res.HTTP.Method != "GET" || res.HTTP.URI != "/rw/system" {
		t.Fatalf("request detail = %q %q", res.HTTP.Method, res.HTTP.URI)
	}
	if res.HTTP.StatusLine != "200 OK" {
		t.Fatalf("status line = %q", res.HTTP.StatusLine)
	}
	if res.HTTP.Body != "<html>ready</html>" {
		t.Fatalf("body = %q", res.HTTP.Body)
	}
	if !strings.Contains(res.HTTP.Header, "X-Controller: irc5") {
		t.Fatalf("flattened header missing response header:\n%s", res.HTTP.Header)
	}
	if res.Frame != nil {
		t.Fatal("HTTP operation populated WebSocket detail")
	}
}

func TestPostSendsBody(t *testing.T) {
	var gotBody string
	var gotLength string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		gotLength = r.Header.Get("Content-Length")
		w.WriteHeader(http.StatusNoContent)
	}))

	res := c.Post("/rw/rapid/execution?action=start", "regain=continue&execmode=continue")
	if res.Status != StatusOK {
		t.Fatalf("status = %v (%s)", res.Status, res.ExceptionMessage)
	}
	if gotBody != "regain=continue&execmode=continue" {
		t.Fatalf("server saw body %q", gotBody)
	}
	if gotLength != strconv.Itoa(len(gotBody)) {
		t.Fatalf("Content-Length = %q, want %d", gotLength, len(gotBody))
	}
	if res.HTTP.StatusLine != "204 No Content" {
		t.Fatalf("status line = %q", res.HTTP.StatusLine)
	}
}

func TestDigestChallengeResentExactlyOnce(t *testing.T) {
	const realm = "robots@controller"
	const nonce = "dcd98b7102dd2f0e8b11d0f600bfb0c093"

	var requests int32
	var bodies []string
	var mu sync.Mutex

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)

		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(data))
		mu.Unlock()

		auth := r.Header.Get("Authorization")
		if auth == "" {
			w.Header().Set("WWW-Authenticate",
				fmt.Sprintf(`Digest realm=%q, nonce=%q, qop="auth"`, realm, nonce))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		params := parseAuthorizationParams(auth)
		nc, err := strconv.ParseInt(params["nc"], 16, 64)
		if err != nil {
			t.Errorf("bad nc %q: %v", params["nc"], err)
		}
		want := digestResponse("Default User", "robotics", r.Method, r.URL.RequestURI(),
			digestChallenge{realm: realm, nonce: nonce, qop: "auth"}, params["cnonce"], int(nc))
		if params["response"] != want {
			t.Errorf("digest response = %s, want %s", params["response"], want)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, "authorized")
	}))

	res := c.Post("/users", "uid=1")
	if res.Status != StatusOK {
		t.Fatalf("status = %v (%s)", res.Status, res.ExceptionMessage)
	}
	if got := atomic.LoadInt32(&requests); got != 2 {
		t.Fatalf("server saw %d requests, want 2 (challenge + resend)", got)
	}
	if res.HTTP.Body != "authorized" {
		t.Fatalf("body = %q", res.HTTP.Body)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 2 || bodies[0] != "uid=1" || bodies[1] != "uid=1" {
		t.Fatalf("request bodies = %q, want the same body on both attempts", bodies)
	}
}

func TestDigestFailureSurfacesSecondResponse(t *testing.T) {
	var requests int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.Header().Set("WWW-Authenticate", `Digest realm="r", nonce="n", qop="auth"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	res := c.Get("/")
	if got := atomic.LoadInt32(&requests); got != 2 {
		t.Fatalf("server saw %d requests, want exactly 2", got)
	}
	// The second 401 is a completed exchange, not a transport fault.
	if res.Status != StatusOK {
		t.Fatalf("status = %v, want OK with the 401 recorded", res.Status)
	}
	if !strings.Contains(res.HTTP.StatusLine, "401") {
		t.Fatalf("status line = %q, want the second 401", res.HTTP.StatusLine)
	}
}

func TestNonceCountTracksServerNonce(t *testing.T) {
	nonces := []string{"nonce-a", "nonce-a", "nonce-b"}
	var completed int
	var gotNC []string
	var mu sync.Mutex

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		auth := r.Header.Get("Authorization")
		if auth == "" {
			w.Header().Set("WWW-Authenticate",
				fmt.Sprintf(`Digest realm="r", nonce=%q, qop="auth"`, nonces[completed]))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		gotNC = append(gotNC, parseAuthorizationParams(auth)["nc"])
		completed++
	}))

	for i := range nonces {
		if res := c.Get("/"); res.Status != StatusOK {
			t.Fatalf("call %d: status = %v (%s)", i, res.Status, res.ExceptionMessage)
		}
	}

	// nc counts per server nonce: reused nonce increments, fresh nonce
	// restarts at 1.
	want := []string{"00000001", "00000002", "00000001"}
	mu.Lock()
	defer mu.Unlock()
	if len(gotNC) != len(want) {
		t.Fatalf("server saw %d authorized requests, want %d", len(gotNC), len(want))
	}
	for i := range want {
		if gotNC[i] != want[i] {
			t.Fatalf("call %d: nc = %q, want %q (all: %v)", i, gotNC[i], want[i], gotNC)
		}
	}
}

func TestCookieJarUpsert(t *testing.T) {
	var calls int32
	var cookieHeaders []string
	var mu sync.Mutex

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		cookieHeaders = append(cookieHeaders, r.Header.Get("Cookie"))
		mu.Unlock()

		switch atomic.AddInt32(&calls, 1) {
		case 1:
			w.Header().Add("Set-Cookie", "-http-session-=abc123; Path=/; HttpOnly")
			w.Header().Add("Set-Cookie", "ABBCX=h1")
		case 2:
			w.Header().Add("Set-Cookie", "ABBCX=h2; Secure")
		}
	}))

	for i := 0; i < 3; i++ {
		if res := c.Get("/"); res.Status != StatusOK {
			t.Fatalf("call %d: status = %v (%s)", i, res.Status, res.ExceptionMessage)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if cookieHeaders[0] != "" {
		t.Fatalf("first request carried cookies: %q", cookieHeaders[0])
	}
	if cookieHeaders[1] != "-http-session-=abc123; ABBCX=h1" {
		t.Fatalf("second request Cookie = %q", cookieHeaders[1])
	}
	// Attribute-only rewrite on call 2 upserts ABBCX by name.
	if cookieHeaders[2] != "-http-session-=abc123; ABBCX=h2" {
		t.Fatalf("third request Cookie = %q", cookieHeaders[2])
	}
}

func TestTimeoutProducesTimeoutError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * DefaultTimeout)
	}))

	res := c.Get("/slow")
	if res.Status != StatusTimeoutError {
		t.Fatalf("status = %v, want TIMEOUT_ERROR (%s)", res.Status, res.ExceptionMessage)
	}
	if res.ExceptionMessage == "" {
		t.Fatal("timeout result has no exception message")
	}
	// Request facts recorded before the fault are preserved.
	if res.HTTP == nil || res.HTTP.URI != "/slow" {
		t.Fatalf("partial capture lost: %+v", res.HTTP)
	}
}

func TestLongTimeoutAllowsSlowCall(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * DefaultTimeout)
	}))

	c.SetLongTimeout()
	if res := c.Get("/slow"); res.Status != StatusOK {
		t.Fatalf("status with long timeout = %v (%s)", res.Status, res.ExceptionMessage)
	}

	c.ResetTimeout()
	if res := c.Get("/slow"); res.Status != StatusTimeoutError {
		t.Fatalf("status after reset = %v, want TIMEOUT_ERROR", res.Status)
	}
}

func TestTimeoutModeChangeDoesNotAffectInFlightCall(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer close(release)

	done := make(chan Status, 1)
	go func() {
		done <- c.Get("/blocked").Status
	}()

	// Switch modes while the call is blocked on I/O.
	time.Sleep(DefaultTimeout / 4)
	c.SetLongTimeout()
	defer c.ResetTimeout()

	select {
	case status := <-done:
		if status != StatusTimeoutError {
			t.Fatalf("in-flight call finished with %v, want TIMEOUT_ERROR under its original deadline", status)
		}
	case <-time.After(LongTimeout):
		t.Fatal("in-flight call adopted the new long timeout")
	}
}

func TestNetworkErrorOnRefusedConnection(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c := clientForURL(t, addr)
	res := c.Get("/")
	if res.Status != StatusNetworkError {
		t.Fatalf("status = %v, want NETWORK_ERROR (%s)", res.Status, res.ExceptionMessage)
	}
	if res.ExceptionMessage == "" {
		t.Fatal("network fault carried no exception message")
	}
}

func TestHTTPCallsSerialize(t *testing.T) {
	var inFlight, overlaps int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&inFlight, 1) > 1 {
			atomic.AddInt32(&overlaps, 1)
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
	}))
	c.SetLongTimeout()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res := c.Get("/"); res.Status != StatusOK {
				t.Errorf("status = %v (%s)", res.Status, res.ExceptionMessage)
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&overlaps); n != 0 {
		t.Fatalf("observed %d overlapping HTTP requests on one client", n)
	}
}

func TestFindSubstringContent(t *testing.T) {
	cases := []struct {
		whole, start, end, want string
	}{
		{"<a>hello</a>", "<a>", "</a>", "hello"},
		{"abc", "<a>", "</a>", ""},
		{"<a>partial", "<a>", "</a>", ""},
		{"no-start</a>", "<a>", "</a>", ""},
		{"<a></a>", "<a>", "</a>", ""},
		{"x<a>first</a><a>second</a>", "<a>", "</a>", "first"},
	}
	for _, tc := range cases {
		if got := FindSubstringContent(tc.whole, tc.start, tc.end); got != tc.want {
			t.Errorf("FindSubstringContent(%q, %q, %q) = %q, want %q",
				tc.whole, tc.start, tc.end, got, tc.want)
		}
	}
}
