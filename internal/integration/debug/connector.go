package debug

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/dshills/dapper/internal/integration/debug/adapters"
	"github.com/dshills/dapper/internal/integration/debug/dap"
	"github.com/dshills/dapper/internal/integration/process"
)

// Connection is a live link to a debug adapter.
type Connection struct {
	Transport dap.Transport
	// Process is the adapter process, or nil when the adapter is not
	// owned by the session.
	Process *process.Process
	// AdapterID is sent in the initialize request.
	AdapterID string
}

// ConnectFunc establishes a connection for a launch configuration.
type ConnectFunc func(ctx context.Context, cfg adapters.Config) (*Connection, error)

// AdapterConnector starts the configured adapter under sup and connects to
// it over stdio, or over TCP for adapters that only serve a socket.
func AdapterConnector(sup *process.Supervisor, dial dap.DialOptions, logger *slog.Logger) ConnectFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, cfg adapters.Config) (*Connection, error) {
		r, err := adapters.Resolve(cfg)
		if err != nil {
			return nil, err
		}
		proc, err := sup.Start(string(r.Profile.Kind), r.Command())
		if err != nil {
			return nil, fmt.Errorf("start %s: %w", r.Profile.Name, err)
		}
		logger.Debug("adapter started", "adapter", r.Profile.Kind, "path", r.Path, "pid", proc.PID())

		conn := &Connection{Process: proc, AdapterID: r.Profile.AdapterID}
		if r.Profile.Transport != adapters.TransportSocket {
			conn.Transport = dap.NewStreamTransport(proc.Stdout, proc.Stdin, proc)
			return conn, nil
		}

		// The adapter's stdout is not the protocol stream; keep it drained.
		go func() { _, _ = io.Copy(io.Discard, proc.Stdout) }()

		opts := dial
		if opts.Logger == nil {
			opts.Logger = logger
		}
		tr, err := dap.Dial(ctx, r.Address, opts)
		if err != nil {
			_ = proc.Kill()
			_ = proc.Close()
			if tail := proc.StderrTail(); tail != "" {
				return nil, fmt.Errorf("connect to %s at %s: %w\n%s", r.Profile.Name, r.Address, err, tail)
			}
			return nil, fmt.Errorf("connect to %s at %s: %w", r.Profile.Name, r.Address, err)
		}
		conn.Transport = &ownedTransport{StreamTransport: tr, proc: proc}
		return conn, nil
	}
}

// ownedTransport closes the adapter's pipes with the socket.
type ownedTransport struct {
	*dap.StreamTransport
	proc *process.Process
}

func (t *ownedTransport) Close() error {
	err := t.StreamTransport.Close()
	_ = t.proc.Close()
	return err
}
