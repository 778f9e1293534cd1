package adapters

import (
	"fmt"
	"net"
	"os/exec"
	"strconv"

	"github.com/google/shlex"
)

// Resolved is an adapter ready to start.
type Resolved struct {
	Profile Profile
	// Path is the absolute adapter executable.
	Path string
	Args []string
	// Dir is the adapter working directory.
	Dir string
	// Address is the host:port to dial for socket adapters.
	Address string
}

// lookPath is replaced in tests.
var lookPath = exec.LookPath

// Resolve picks the adapter kind, executable and arguments for cfg.
func Resolve(cfg Config) (*Resolved, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kind, err := cfg.Kind()
	if err != nil {
		return nil, err
	}
	profile := profiles[kind]

	r := &Resolved{Profile: profile, Dir: cfg.Cwd}

	switch {
	case cfg.AdapterCommand != "":
		tokens, err := shlex.Split(cfg.AdapterCommand)
		if err != nil {
			return nil, fmt.Errorf("%w: adapter_command: %v", ErrInvalidConfig, err)
		}
		if len(tokens) == 0 {
			return nil, fmt.Errorf("%w: adapter_command is empty", ErrInvalidConfig)
		}
		if r.Path, err = findExecutable(profile, tokens[0]); err != nil {
			return nil, err
		}
		r.Args = tokens[1:]
	default:
		candidates := profile.Executables
		if cfg.AdapterPath != "" {
			candidates = []string{cfg.AdapterPath}
		}
		if r.Path, err = findExecutable(profile, candidates...); err != nil {
			return nil, err
		}
		r.Args = profile.Args
		if cfg.AdapterArgs != nil {
			r.Args = cfg.AdapterArgs
		}
	}
	r.Args = append([]string(nil), r.Args...)

	if profile.Transport == TransportSocket {
		port, err := freePort()
		if err != nil {
			return nil, fmt.Errorf("allocate adapter port: %w", err)
		}
		host := "127.0.0.1"
		for i, a := range r.Args {
			switch a {
			case PortPlaceholder:
				r.Args[i] = strconv.Itoa(port)
			case HostPlaceholder:
				r.Args[i] = host
			}
		}
		r.Address = net.JoinHostPort(host, strconv.Itoa(port))
	}
	return r, nil
}

// Command returns the command that starts the adapter.
func (r *Resolved) Command() *exec.Cmd {
	cmd := exec.Command(r.Path, r.Args...)
	cmd.Dir = r.Dir
	return cmd
}

// findExecutable returns the first candidate found on PATH.
func findExecutable(p Profile, candidates ...string) (string, error) {
	for _, name := range candidates {
		if path, err := lookPath(name); err == nil {
			return path, nil
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: %s has no default executable", ErrAdapterNotFound, p.Name)
	}
	if p.Install != "" {
		return "", fmt.Errorf("%w: %s (%s)", ErrAdapterNotFound, candidates[0], p.Install)
	}
	return "", fmt.Errorf("%w: %s", ErrAdapterNotFound, candidates[0])
}

// Available reports which executable, if any, would be used for p.
func Available(p Profile) (string, bool) {
	path, err := findExecutable(p, p.Executables...)
	return path, err == nil
}

func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}
