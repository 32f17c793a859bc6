// Package rws implements the transport layer for talking to a robot
// controller's web services over a persistent session.
//
// A Client is bound to one host:port and a Digest credential pair. It
// exposes the HTTP verbs plus an optional WebSocket sub-connection for
// event subscriptions, and every operation returns a *Result instead
// of an error:
//
//	c := rws.NewClient("192.168.125.1", 80, "Default User", "robotics")
//	res := c.Get("/rw/system")
//	if res.Status != rws.StatusOK {
//	    log.Print(res.Render(true, 0))
//	}
//
// The HTTP path and the WebSocket path are serialized independently,
// so a blocked frame receive never delays an HTTP request on the same
// client. Cookies and Digest state established over HTTP are shared
// with the WebSocket handshake.
//
// Callers wanting concurrency run operations on their own goroutines;
// the Client spawns none of its own.
package rws
