// Package debug manages debugging sessions against Debug Adapter Protocol
// adapters (Delve, debugpy, js-debug, lldb-dap, GDB and others).
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────────┐
//	│                         Manager                                  │
//	│  - Creates, finds and stops sessions                            │
//	│  - Aggregated event stream                                      │
//	└─────────────────────────────────────────────────────────────────┘
//	                              │
//	                              ▼
//	┌─────────────────────────────────────────────────────────────────┐
//	│                         Session                                  │
//	│  - State machine, breakpoints, execution control                │
//	│  - Thread, stack and variable inspection                        │
//	└─────────────────────────────────────────────────────────────────┘
//	                              │
//	                              ▼
//	┌─────────────────────────────────────────────────────────────────┐
//	│                 dap.Client → adapter process                     │
//	│  - Content-Length framing over stdio or TCP                     │
//	│  - Request/response correlation, events                         │
//	└─────────────────────────────────────────────────────────────────┘
//
// # Session States
//
//   - Idle: created, never started
//   - Initializing: adapter starting, initialize in flight
//   - Configuring: breakpoints being sent before configurationDone
//   - Running: debuggee executing
//   - Stopped: debuggee paused (breakpoint, step, exception, pause)
//   - Terminated: debuggee exited, adapter still connected
//   - Ended: adapter connection closed
//
// Stepping and continuing require Stopped; Pause requires Running. Calls in
// any other state fail with ErrPreconditionFailed before anything is sent.
//
// # References
//
// Scopes and variables carry a Reference tagged with the session's resume
// epoch. Once the debuggee resumes, older references fail with
// ErrStaleReference instead of reaching the adapter.
//
// # Usage
//
//	mgr := debug.NewManager(debug.WithManagerLogger(logger))
//	defer mgr.Shutdown(context.Background())
//
//	s, _ := mgr.Create(adapters.Config{Program: "./cmd/api", StopOnEntry: true})
//	s.SetBreakpoints(ctx, "cmd/api/main.go", []debug.SourceBreakpoint{{Line: 42}})
//	if err := s.Start(ctx); err != nil {
//	    return err
//	}
//	sub := s.Subscribe(0)
//	for ev := range sub.Events() {
//	    if ev.Kind == debug.EventStopped {
//	        vars, _ := s.ResolveVariables(ctx)
//	        ...
//	    }
//	}
package debug
