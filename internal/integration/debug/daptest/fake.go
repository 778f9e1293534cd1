// Package daptest provides an in-memory debug adapter for tests.
//
// The fake speaks real Content-Length framing over a net.Pipe so that code
// under test exercises the same codec it uses against a real adapter.
package daptest

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"time"

	godap "github.com/google/go-dap"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Request is a request received by the fake adapter.
type Request struct {
	Seq       int
	Command   string
	Arguments gjson.Result
}

// Handler answers one request. It runs on the adapter's serve goroutine, so
// requests are handled in arrival order. A handler may respond later, from
// another request's handler, or never.
type Handler func(a *Adapter, req Request)

// Adapter is a scripted debug adapter.
type Adapter struct {
	conn   net.Conn
	client net.Conn

	seq     atomic.Int64
	writeMu sync.Mutex

	mu       sync.Mutex
	handlers map[string]Handler
	requests []Request
	notify   chan struct{}

	done chan struct{}
}

// Capabilities advertised by the default initialize handler.
var Capabilities = map[string]any{
	"supportsConfigurationDoneRequest": true,
	"supportsFunctionBreakpoints":      true,
	"supportsConditionalBreakpoints":   true,
	"supportsStepBack":                 true,
	"supportsSetVariable":              true,
	"supportsGotoTargetsRequest":       true,
	"supportsStepInTargetsRequest":     true,
	"supportsReadMemoryRequest":        true,
	"supportsWriteMemoryRequest":       true,
	"supportsDisassembleRequest":       true,
	"supportsCancelRequest":            true,
	"supportsTerminateRequest":         true,
	"supportTerminateDebuggee":         true,
	"supportsSteppingGranularity":      true,
	"exceptionBreakpointFilters": []map[string]any{
		{"filter": "panic", "label": "Panics", "default": true},
	},
}

// New starts a fake adapter with default handlers installed.
func New() *Adapter {
	server, client := net.Pipe()
	a := &Adapter{
		conn:     server,
		client:   client,
		handlers: make(map[string]Handler),
		notify:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	a.Handle("initialize", func(a *Adapter, req Request) {
		a.Respond(req, Capabilities)
	})
	launch := func(a *Adapter, req Request) {
		a.Emit("initialized", nil)
		a.Respond(req, nil)
	}
	a.Handle("launch", launch)
	a.Handle("attach", launch)
	a.Handle("threads", func(a *Adapter, req Request) {
		a.Respond(req, map[string]any{
			"threads": []map[string]any{{"id": 1, "name": "main"}},
		})
	})
	a.Handle("setBreakpoints", EchoBreakpoints)
	a.Handle("setFunctionBreakpoints", func(a *Adapter, req Request) {
		var bps []map[string]any
		for i := range req.Arguments.Get("breakpoints").Array() {
			bps = append(bps, map[string]any{"id": 1000 + i, "verified": true})
		}
		a.Respond(req, map[string]any{"breakpoints": bps})
	})
	a.Handle("disconnect", func(a *Adapter, req Request) {
		a.Respond(req, nil)
		a.Close()
	})

	go a.serve()
	return a
}

// EchoBreakpoints verifies every requested breakpoint on its requested line.
func EchoBreakpoints(a *Adapter, req Request) {
	bps := []map[string]any{}
	path := req.Arguments.Get("source.path").String()
	for i, bp := range req.Arguments.Get("breakpoints").Array() {
		bps = append(bps, map[string]any{
			"id":       int(bp.Get("line").Int())*10 + i,
			"verified": true,
			"line":     bp.Get("line").Int(),
			"source":   map[string]any{"path": path},
		})
	}
	a.Respond(req, map[string]any{"breakpoints": bps})
}

// Conn returns the client side of the connection.
func (a *Adapter) Conn() net.Conn {
	return a.client
}

// Done is closed when the adapter stops serving.
func (a *Adapter) Done() <-chan struct{} {
	return a.done
}

// Handle installs h for command, replacing any previous handler.
func (a *Adapter) Handle(command string, h Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[command] = h
}

// Ignore makes the adapter record command without answering it.
func (a *Adapter) Ignore(command string) {
	a.Handle(command, func(*Adapter, Request) {})
}

// Requests returns every request received so far.
func (a *Adapter) Requests() []Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Request, len(a.requests))
	copy(out, a.requests)
	return out
}

// Commands returns the command names received so far, in order.
func (a *Adapter) Commands() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.requests))
	for _, r := range a.requests {
		out = append(out, r.Command)
	}
	return out
}

// Count reports how many times command was received.
func (a *Adapter) Count(command string) int {
	n := 0
	for _, c := range a.Commands() {
		if c == command {
			n++
		}
	}
	return n
}

// WaitFor blocks until command has been received n times or timeout elapses.
// It returns the matching requests received so far.
func (a *Adapter) WaitFor(command string, n int, timeout time.Duration) []Request {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		a.mu.Lock()
		var found []Request
		for _, r := range a.requests {
			if r.Command == command {
				found = append(found, r)
			}
		}
		notify := a.notify
		a.mu.Unlock()

		if len(found) >= n {
			return found
		}
		select {
		case <-notify:
		case <-deadline.C:
			return found
		case <-a.done:
			return found
		}
	}
}

// Respond sends a successful response to req. body may be nil.
func (a *Adapter) Respond(req Request, body any) {
	frame := a.envelope("response")
	frame, _ = sjson.SetBytes(frame, "request_seq", req.Seq)
	frame, _ = sjson.SetBytes(frame, "success", true)
	frame, _ = sjson.SetBytes(frame, "command", req.Command)
	if body != nil {
		frame, _ = sjson.SetBytes(frame, "body", body)
	}
	a.write(frame)
}

// Fail sends an error response to req.
func (a *Adapter) Fail(req Request, message string) {
	frame := a.envelope("response")
	frame, _ = sjson.SetBytes(frame, "request_seq", req.Seq)
	frame, _ = sjson.SetBytes(frame, "success", false)
	frame, _ = sjson.SetBytes(frame, "command", req.Command)
	frame, _ = sjson.SetBytes(frame, "message", message)
	frame, _ = sjson.SetBytes(frame, "body.error", map[string]any{"id": 1, "format": message})
	a.write(frame)
}

// Emit sends an event. body may be nil.
func (a *Adapter) Emit(event string, body any) {
	frame := a.envelope("event")
	frame, _ = sjson.SetBytes(frame, "event", event)
	if body != nil {
		frame, _ = sjson.SetBytes(frame, "body", body)
	}
	a.write(frame)
}

// Stop emits a stopped event for thread.
func (a *Adapter) Stop(reason string, thread int) {
	a.Emit("stopped", map[string]any{"reason": reason, "threadId": thread, "allThreadsStopped": true})
}

// WriteRaw sends content as one frame without validating it.
func (a *Adapter) WriteRaw(content []byte) {
	a.write(content)
}

// WriteBytes sends bytes without any framing.
func (a *Adapter) WriteBytes(b []byte) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_, _ = a.conn.Write(b)
}

// Close drops the connection, as if the adapter process died.
func (a *Adapter) Close() {
	_ = a.conn.Close()
}

func (a *Adapter) envelope(typ string) []byte {
	frame := []byte(`{}`)
	frame, _ = sjson.SetBytes(frame, "seq", a.seq.Add(1))
	frame, _ = sjson.SetBytes(frame, "type", typ)
	return frame
}

func (a *Adapter) write(content []byte) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_ = godap.WriteBaseMessage(a.conn, content)
}

func (a *Adapter) serve() {
	defer close(a.done)
	r := bufio.NewReader(a.conn)
	for {
		content, err := godap.ReadBaseMessage(r)
		if err != nil {
			_ = a.conn.Close()
			return
		}
		if !json.Valid(content) {
			continue
		}
		parsed := gjson.ParseBytes(content)
		if parsed.Get("type").String() != "request" {
			continue
		}
		req := Request{
			Seq:       int(parsed.Get("seq").Int()),
			Command:   parsed.Get("command").String(),
			Arguments: parsed.Get("arguments"),
		}

		a.mu.Lock()
		a.requests = append(a.requests, req)
		close(a.notify)
		a.notify = make(chan struct{})
		h, ok := a.handlers[req.Command]
		a.mu.Unlock()

		if ok {
			h(a, req)
		} else {
			a.Respond(req, nil)
		}
	}
}
