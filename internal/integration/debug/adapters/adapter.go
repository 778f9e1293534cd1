// Package adapters describes the debug adapters dapper knows how to launch.
//
// Each supported adapter is a Kind with a fixed Profile: how to find and start
// the adapter executable, and how its launch and attach arguments are shaped.
// The set of kinds is closed; unknown adapters run as KindGeneric with an
// explicit command.
package adapters

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Kind identifies a debug adapter.
type Kind string

const (
	// KindDelve is the Go debugger (dlv dap).
	KindDelve Kind = "delve"
	// KindDebugpy is the Python debugger.
	KindDebugpy Kind = "debugpy"
	// KindNode is the JavaScript debugger (vscode-js-debug).
	KindNode Kind = "node"
	// KindLLDB is lldb-dap for C, C++, Rust and Swift.
	KindLLDB Kind = "lldb"
	// KindGDB is GDB's built-in DAP interpreter.
	KindGDB Kind = "gdb"
	// KindGeneric is any other adapter, started from an explicit command.
	KindGeneric Kind = "generic"
)

// Transport is how the client reaches an adapter.
type Transport string

const (
	// TransportStdio speaks DAP over the adapter's stdin and stdout.
	TransportStdio Transport = "stdio"
	// TransportSocket dials a TCP port the adapter listens on.
	TransportSocket Transport = "socket"
)

// EnvStyle is how an adapter expects the debuggee environment.
type EnvStyle int

const (
	// EnvMap passes {"KEY": "value"}.
	EnvMap EnvStyle = iota
	// EnvList passes ["KEY=value"].
	EnvList
)

// Placeholders substituted in socket adapter arguments.
const (
	PortPlaceholder = "{port}"
	HostPlaceholder = "{host}"
)

// Errors returned while resolving an adapter.
var (
	ErrUnknownKind     = errors.New("unknown adapter type")
	ErrAdapterNotFound = errors.New("debug adapter not found")
	ErrInvalidConfig   = errors.New("invalid launch configuration")
)

// Profile is the fixed description of one adapter kind.
type Profile struct {
	Kind Kind
	// Name is a display name.
	Name string
	// AdapterID is sent in the initialize request.
	AdapterID string
	// Executables are tried in order on PATH.
	Executables []string
	// Args are the default adapter arguments.
	Args []string
	// Transport is stdio unless the adapter only serves TCP.
	Transport Transport
	// Extensions are program file extensions that select this kind.
	Extensions []string
	// Install tells the user how to get the adapter.
	Install string

	// ModeKey and LaunchMode set the launch mode field, when the adapter
	// has one.
	ModeKey    string
	LaunchMode string
	// AttachMode and RemoteMode are the mode for local and remote attach.
	AttachMode string
	RemoteMode string
	// StopOnEntryKey names the stop-on-entry field.
	StopOnEntryKey string
	// ConsoleKey names the console field; empty when unsupported.
	ConsoleKey string
	Env        EnvStyle
	// PIDKey names the attach process id field.
	PIDKey string
	// HostPath and PortPath are sjson paths for remote attach. TargetKey,
	// when set, takes "host:port" instead.
	HostPath  string
	PortPath  string
	TargetKey string
}

var profiles = map[Kind]Profile{
	KindDelve: {
		Kind:           KindDelve,
		Name:           "Delve (Go)",
		AdapterID:      "go",
		Executables:    []string{"dlv"},
		Args:           []string{"dap"},
		Transport:      TransportStdio,
		Extensions:     []string{".go"},
		Install:        "go install github.com/go-delve/delve/cmd/dlv@latest",
		ModeKey:        "mode",
		LaunchMode:     "debug",
		AttachMode:     "local",
		RemoteMode:     "remote",
		StopOnEntryKey: "stopOnEntry",
		Env:            EnvMap,
		PIDKey:         "processId",
		HostPath:       "host",
		PortPath:       "port",
	},
	KindDebugpy: {
		Kind:           KindDebugpy,
		Name:           "debugpy (Python)",
		AdapterID:      "debugpy",
		Executables:    []string{"python3", "python"},
		Args:           []string{"-m", "debugpy.adapter"},
		Transport:      TransportStdio,
		Extensions:     []string{".py"},
		Install:        "pip install debugpy",
		StopOnEntryKey: "stopOnEntry",
		ConsoleKey:     "console",
		Env:            EnvMap,
		PIDKey:         "processId",
		HostPath:       "connect.host",
		PortPath:       "connect.port",
	},
	KindNode: {
		Kind:           KindNode,
		Name:           "js-debug (Node.js)",
		AdapterID:      "pwa-node",
		Executables:    []string{"js-debug-adapter"},
		Args:           []string{PortPlaceholder, HostPlaceholder},
		Transport:      TransportSocket,
		Extensions:     []string{".js", ".mjs", ".cjs", ".ts"},
		Install:        "npm install -g js-debug-adapter",
		StopOnEntryKey: "stopOnEntry",
		ConsoleKey:     "console",
		Env:            EnvMap,
		PIDKey:         "processId",
		HostPath:       "address",
		PortPath:       "port",
	},
	KindLLDB: {
		Kind:           KindLLDB,
		Name:           "lldb-dap (C/C++/Rust/Swift)",
		AdapterID:      "lldb-dap",
		Executables:    []string{"lldb-dap", "lldb-vscode"},
		Transport:      TransportStdio,
		Extensions:     []string{".c", ".cc", ".cpp", ".cxx", ".rs", ".swift"},
		Install:        "install LLVM (lldb-dap ships with lldb 18 and later)",
		StopOnEntryKey: "stopOnEntry",
		Env:            EnvList,
		PIDKey:         "pid",
		HostPath:       "gdb-remote-hostname",
		PortPath:       "gdb-remote-port",
	},
	KindGDB: {
		Kind:           KindGDB,
		Name:           "GDB",
		AdapterID:      "gdb",
		Executables:    []string{"gdb"},
		Args:           []string{"--interpreter=dap"},
		Transport:      TransportStdio,
		Install:        "install GDB 14 or later",
		StopOnEntryKey: "stopAtBeginningOfMainSubprogram",
		Env:            EnvMap,
		PIDKey:         "pid",
		TargetKey:      "target",
	},
	KindGeneric: {
		Kind:           KindGeneric,
		Name:           "Generic DAP adapter",
		AdapterID:      "generic",
		Transport:      TransportStdio,
		StopOnEntryKey: "stopOnEntry",
		Env:            EnvMap,
		PIDKey:         "processId",
		HostPath:       "host",
		PortPath:       "port",
	},
}

// aliases maps launch.json "type" values onto kinds.
var aliases = map[string]Kind{
	"go":          KindDelve,
	"dlv":         KindDelve,
	"python":      KindDebugpy,
	"nodejs":      KindNode,
	"pwa-node":    KindNode,
	"lldb-dap":    KindLLDB,
	"lldb-vscode": KindLLDB,
	"codelldb":    KindLLDB,
	"cppdbg":      KindGDB,
}

// Lookup returns the profile of kind.
func Lookup(kind Kind) (Profile, bool) {
	p, ok := profiles[kind]
	return p, ok
}

// Profiles returns every profile ordered by kind.
func Profiles() []Profile {
	out := make([]Profile, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// ParseKind maps a configuration type name, including common launch.json
// aliases, to a Kind.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if _, ok := profiles[Kind(name)]; ok {
		return Kind(name), nil
	}
	if k, ok := aliases[name]; ok {
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Infer picks a kind from the program's file extension. It returns
// KindGeneric when nothing matches.
func Infer(program string) Kind {
	ext := strings.ToLower(filepath.Ext(program))
	if ext == "" {
		return KindGeneric
	}
	for _, p := range Profiles() {
		for _, e := range p.Extensions {
			if e == ext {
				return p.Kind
			}
		}
	}
	return KindGeneric
}
