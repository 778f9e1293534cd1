package adapters

import (
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strconv"

	"github.com/tidwall/sjson"
)

// Arguments returns the launch or attach request body for cfg, depending
// on its request type.
func Arguments(cfg Config) (json.RawMessage, error) {
	if cfg.RequestType() == RequestAttach {
		return AttachArguments(cfg)
	}
	return LaunchArguments(cfg)
}

// LaunchArguments builds the launch request body. Adapter-specific fields
// from Extra are kept unless a typed field overrides them.
func LaunchArguments(cfg Config) (json.RawMessage, error) {
	p, body, err := start(cfg)
	if err != nil {
		return nil, err
	}

	var set setter
	set.body = body
	if p.ModeKey != "" && p.LaunchMode != "" && cfg.Extra[p.ModeKey] == nil {
		set.value(p.ModeKey, p.LaunchMode)
	}
	if cfg.Program != "" {
		set.value("program", cfg.Program)
	}
	if len(cfg.Args) > 0 {
		set.value("args", cfg.Args)
	}
	if cfg.Cwd != "" {
		set.value("cwd", cfg.Cwd)
	}
	if len(cfg.Env) > 0 {
		set.value("env", envValue(p.Env, cfg.Env))
	}
	if cfg.Console != "" && p.ConsoleKey != "" {
		set.value(p.ConsoleKey, cfg.Console)
	}
	if cfg.StopOnEntry {
		set.value(p.StopOnEntryKey, true)
	}
	return set.result()
}

// AttachArguments builds the attach request body.
func AttachArguments(cfg Config) (json.RawMessage, error) {
	p, body, err := start(cfg)
	if err != nil {
		return nil, err
	}

	var set setter
	set.body = body
	remote := cfg.Port != 0
	if p.ModeKey != "" && cfg.Extra[p.ModeKey] == nil {
		if remote && p.RemoteMode != "" {
			set.value(p.ModeKey, p.RemoteMode)
		} else if !remote && p.AttachMode != "" {
			set.value(p.ModeKey, p.AttachMode)
		}
	}
	if cfg.ProcessID != 0 {
		set.value(p.PIDKey, cfg.ProcessID)
	}
	if remote {
		host := cfg.Host
		if host == "" {
			host = "127.0.0.1"
		}
		if p.TargetKey != "" {
			set.value(p.TargetKey, net.JoinHostPort(host, strconv.Itoa(cfg.Port)))
		} else {
			set.value(p.HostPath, host)
			set.value(p.PortPath, cfg.Port)
		}
	}
	if cfg.Cwd != "" {
		set.value("cwd", cfg.Cwd)
	}
	return set.result()
}

func start(cfg Config) (Profile, []byte, error) {
	kind, err := cfg.Kind()
	if err != nil {
		return Profile{}, nil, err
	}
	body := []byte(`{}`)
	if len(cfg.Extra) > 0 {
		if body, err = json.Marshal(cfg.Extra); err != nil {
			return Profile{}, nil, fmt.Errorf("%w: extra: %v", ErrInvalidConfig, err)
		}
	}
	return profiles[kind], body, nil
}

// setter applies sjson edits and keeps the first error.
type setter struct {
	body []byte
	err  error
}

func (s *setter) value(path string, v any) {
	if s.err != nil || path == "" {
		return
	}
	s.body, s.err = sjson.SetBytes(s.body, path, v)
}

func (s *setter) result() (json.RawMessage, error) {
	if s.err != nil {
		return nil, fmt.Errorf("build arguments: %w", s.err)
	}
	return json.RawMessage(s.body), nil
}

func envValue(style EnvStyle, env map[string]string) any {
	if style == EnvMap {
		return env
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	list := make([]string, 0, len(env))
	for _, k := range keys {
		list = append(list, k+"="+env[k])
	}
	return list
}
