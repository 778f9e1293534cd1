package adapters

import "fmt"

// Request types.
const (
	RequestLaunch = "launch"
	RequestAttach = "attach"
)

// Config describes one debug target: which adapter to run and what to ask it
// to launch or attach to.
type Config struct {
	// Name identifies the configuration.
	Name string `toml:"name" json:"name"`

	// Type is the adapter kind or a launch.json alias. Empty infers the kind
	// from Program.
	Type string `toml:"type" json:"type,omitempty"`

	// Request is "launch" (default) or "attach".
	Request string `toml:"request" json:"request,omitempty"`

	Program     string            `toml:"program" json:"program,omitempty"`
	Args        []string          `toml:"args" json:"args,omitempty"`
	Cwd         string            `toml:"cwd" json:"cwd,omitempty"`
	Env         map[string]string `toml:"env" json:"env,omitempty"`
	Console     string            `toml:"console" json:"console,omitempty"`
	StopOnEntry bool              `toml:"stop_on_entry" json:"stopOnEntry,omitempty"`

	// Host and Port address a remote debuggee for attach.
	Host      string `toml:"host" json:"host,omitempty"`
	Port      int    `toml:"port" json:"port,omitempty"`
	ProcessID int    `toml:"process_id" json:"processId,omitempty"`

	// AdapterPath overrides the adapter executable.
	AdapterPath string `toml:"adapter_path" json:"adapterPath,omitempty"`
	// AdapterArgs overrides the default adapter arguments.
	AdapterArgs []string `toml:"adapter_args" json:"adapterArgs,omitempty"`
	// AdapterCommand is a full command line, split with shell quoting rules.
	// It takes precedence over AdapterPath and AdapterArgs.
	AdapterCommand string `toml:"adapter_command" json:"adapterCommand,omitempty"`

	// Extra holds adapter-specific launch fields passed through verbatim.
	// Fields set above win over Extra.
	Extra map[string]any `toml:"extra" json:"-"`
}

// RequestType returns the request, defaulting to launch.
func (c Config) RequestType() string {
	if c.Request == "" {
		return RequestLaunch
	}
	return c.Request
}

// Kind resolves the adapter kind of the configuration.
func (c Config) Kind() (Kind, error) {
	if c.Type != "" {
		return ParseKind(c.Type)
	}
	return Infer(c.Program), nil
}

// Validate checks that the configuration can be started.
func (c Config) Validate() error {
	kind, err := c.Kind()
	if err != nil {
		return err
	}

	switch c.RequestType() {
	case RequestLaunch:
		if c.Program == "" && c.Extra["program"] == nil && kind != KindGeneric {
			return fmt.Errorf("%w: %s: program is required for launch", ErrInvalidConfig, c.Name)
		}
	case RequestAttach:
		if c.ProcessID == 0 && c.Port == 0 && len(c.Extra) == 0 {
			return fmt.Errorf("%w: %s: process_id or port is required for attach", ErrInvalidConfig, c.Name)
		}
	default:
		return fmt.Errorf("%w: %s: invalid request type %q", ErrInvalidConfig, c.Name, c.Request)
	}

	if kind == KindGeneric && c.AdapterPath == "" && c.AdapterCommand == "" {
		return fmt.Errorf("%w: %s: generic adapters need adapter_path or adapter_command", ErrInvalidConfig, c.Name)
	}
	return nil
}
