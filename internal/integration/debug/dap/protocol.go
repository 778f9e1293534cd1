package dap

import (
	"time"

	godap "github.com/google/go-dap"
)

// Timeouts applied when the caller's context carries no deadline.
const (
	DefaultRequestTimeout = 10 * time.Second
	LongRequestTimeout    = 60 * time.Second
)

// Command names that are not plain step/inspect requests.
const (
	CommandInitialize = "initialize"
	CommandLaunch     = "launch"
	CommandAttach     = "attach"
	CommandDisconnect = "disconnect"
	CommandTerminate  = "terminate"
	CommandRestart    = "restart"
	CommandCancel     = "cancel"
)

// longRunning lists commands that may legitimately take longer than a
// typical inspection request: building the debuggee, tearing it down.
var longRunning = map[string]bool{
	CommandInitialize: true,
	CommandLaunch:     true,
	CommandAttach:     true,
	CommandDisconnect: true,
	CommandTerminate:  true,
	CommandRestart:    true,
}

// newRequest returns the request envelope for command. The client fills in
// the sequence number when the request is sent.
func newRequest(command string) godap.Request {
	return godap.Request{
		ProtocolMessage: godap.ProtocolMessage{Type: "request"},
		Command:         command,
	}
}

// Kind returns "request", "response", "event" or "" for msg.
func Kind(msg godap.Message) string {
	switch msg.(type) {
	case godap.RequestMessage:
		return "request"
	case godap.ResponseMessage:
		return "response"
	case godap.EventMessage:
		return "event"
	default:
		return ""
	}
}

// EventName returns the event name of msg, or "" if it is not an event.
func EventName(msg godap.Message) string {
	if e, ok := msg.(godap.EventMessage); ok {
		return e.GetEvent().Event
	}
	return ""
}
