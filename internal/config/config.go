package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/dapper/internal/config/loader"
	"github.com/dshills/dapper/internal/integration/debug"
	"github.com/dshills/dapper/internal/integration/debug/adapters"
	"github.com/dshills/dapper/internal/integration/debug/dap"
	"github.com/dshills/dapper/internal/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DAPPER_"

// EnvConfigPath names a config file that replaces the default search.
const EnvConfigPath = EnvPrefix + "CONFIG"

// maxIncludeDepth bounds nested include files.
const maxIncludeDepth = 8

// Duration is a time.Duration written as a Go duration string ("750ms").
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config is the complete dapper configuration.
type Config struct {
	// LaunchJSON is a VS Code launch.json whose configurations are added
	// after the [[launch]] entries. Relative paths resolve against the
	// directory of the config file that set it.
	LaunchJSON string `toml:"launch_json"`

	Log      LogConfig                `toml:"log"`
	Client   ClientConfig             `toml:"client"`
	Session  SessionConfig            `toml:"session"`
	Adapters map[string]AdapterConfig `toml:"adapters"`
	Launch   []adapters.Config        `toml:"launch"`

	// Sources lists the files that were read, lowest precedence first.
	Sources []string `toml:"-"`
	// Skipped lists launch.json entries that were not imported.
	Skipped []string `toml:"-"`
}

// LogConfig is the [log] section.
type LogConfig struct {
	Level      string   `toml:"level"`
	FileLevel  string   `toml:"file_level"`
	File       string   `toml:"file"`
	MaxSizeMB  int      `toml:"max_size_mb"`
	MaxBackups int      `toml:"max_backups"`
	Compress   bool     `toml:"compress"`
	JSON       bool     `toml:"json"`
	Components []string `toml:"components"`
}

// ClientConfig is the [client] section.
type ClientConfig struct {
	ClientID           string   `toml:"client_id"`
	ClientName         string   `toml:"client_name"`
	RequestTimeout     Duration `toml:"request_timeout"`
	LongTimeout        Duration `toml:"long_timeout"`
	InitializedTimeout Duration `toml:"initialized_timeout"`
	// DialTimeout bounds connection retries to socket adapters.
	DialTimeout Duration `toml:"dial_timeout"`
}

// SessionConfig is the [session] section.
type SessionConfig struct {
	RestartGrace Duration `toml:"restart_grace"`
	// EventBuffer sizes event subscriptions.
	EventBuffer int `toml:"event_buffer"`
}

// AdapterConfig is an [adapters.<kind>] section. Its values apply to every
// launch configuration of that kind that does not set its own.
type AdapterConfig struct {
	Path    string   `toml:"path"`
	Args    []string `toml:"args"`
	Command string   `toml:"command"`
}

// Default returns the built-in configuration.
func Default() *Config {
	opts := debug.DefaultOptions()
	return &Config{
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Client: ClientConfig{
			ClientID:           opts.ClientID,
			ClientName:         opts.ClientName,
			RequestTimeout:     Duration{opts.RequestTimeout},
			LongTimeout:        Duration{opts.LongRequestTimeout},
			InitializedTimeout: Duration{opts.InitializedTimeout},
			DialTimeout:        Duration{dap.DefaultDialOptions().MaxElapsed},
		},
		Session: SessionConfig{
			RestartGrace: Duration{opts.RestartGrace},
			EventBuffer:  debug.DefaultEventBuffer,
		},
		Adapters: map[string]AdapterConfig{},
	}
}

// Option configures Load.
type Option func(*loadOptions)

type loadOptions struct {
	fs       loader.FileSystem
	files    []string
	explicit bool
	env      bool
	environ  func() []string
}

// WithFS reads files through fsys.
func WithFS(fsys loader.FileSystem) Option {
	return func(o *loadOptions) { o.fs = fsys }
}

// WithFile reads path instead of the default locations. Repeat to layer
// several files; later files win. The file must exist.
func WithFile(path string) Option {
	return func(o *loadOptions) {
		o.files = append(o.files, path)
		o.explicit = true
	}
}

// WithoutEnv ignores DAPPER_ environment overrides.
func WithoutEnv() Option {
	return func(o *loadOptions) { o.env = false }
}

func withEnviron(environ func() []string) Option {
	return func(o *loadOptions) { o.environ = environ }
}

// DefaultPaths returns the files Load reads when none is given: the user
// config file, then dapper.toml in the working directory. DAPPER_CONFIG
// replaces both.
func DefaultPaths() []string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return []string{p}
	}
	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "dapper", "config.toml"))
	}
	return append(paths, "dapper.toml")
}

// Load builds the configuration from defaults, config files and the
// environment, in increasing precedence, and validates it.
func Load(opts ...Option) (*Config, error) {
	o := loadOptions{fs: loader.DefaultFS(), env: true, environ: os.Environ}
	for _, opt := range opts {
		opt(&o)
	}
	files := o.files
	if !o.explicit {
		files = DefaultPaths()
	}

	merged := make(map[string]any)
	var sources []string
	launchBase := ""
	tl := loader.NewTOMLLoaderWithFS(o.fs, "")
	for _, path := range files {
		m, err := tl.LoadWithIncludes(path, maxIncludeDepth)
		if err != nil {
			return nil, err
		}
		if m == nil {
			if o.explicit {
				return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
			}
			continue
		}
		if _, ok := m["launch_json"]; ok {
			launchBase = filepath.Dir(path)
		}
		merged = loader.DeepMerge(merged, m)
		sources = append(sources, path)
	}

	if o.env {
		el := envLoader(o.environ)
		m, err := el.Load()
		if err != nil {
			return nil, err
		}
		if _, ok := m["launch_json"]; ok {
			launchBase = ""
		}
		merged = loader.DeepMerge(merged, m)
	}

	cfg, err := decode(merged)
	if err != nil {
		return nil, err
	}
	cfg.Sources = sources

	if cfg.LaunchJSON != "" {
		path := cfg.LaunchJSON
		if !filepath.IsAbs(path) && launchBase != "" {
			path = filepath.Join(launchBase, path)
		}
		data, err := o.fs.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
			}
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		imported, err := ImportLaunchJSON(data, filepath.Dir(filepath.Dir(path)))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		cfg.addLaunch(imported.Configurations)
		cfg.Skipped = imported.Skipped
		cfg.Sources = append(cfg.Sources, path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envLoader(environ func() []string) *loader.EnvLoader {
	l := loader.NewEnvLoader(EnvPrefix)
	l.SetEnviron(environ)
	l.Skip(EnvConfigPath)
	l.AddMapping(EnvPrefix+"LAUNCH_JSON", "launch_json")
	for _, p := range adapters.Profiles() {
		kind := string(p.Kind)
		upper := strings.ToUpper(kind)
		for _, key := range []string{"path", "args", "command"} {
			l.AddMapping(EnvPrefix+"ADAPTERS_"+upper+"_"+strings.ToUpper(key), "adapters."+kind+"."+key)
		}
	}
	return l
}

// decode applies merged settings over the defaults.
func decode(merged map[string]any) (*Config, error) {
	data, err := toml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encoding merged config: %w", err)
	}
	cfg := Default()
	if err := toml.NewDecoder(bytes.NewReader(data)).Decode(cfg); err != nil {
		return nil, &loader.ParseError{Path: "<merged>", Message: err.Error(), Err: err}
	}
	if cfg.Adapters == nil {
		cfg.Adapters = map[string]AdapterConfig{}
	}
	return cfg, nil
}

// addLaunch appends configurations whose names are not taken.
func (c *Config) addLaunch(cfgs []adapters.Config) {
	seen := make(map[string]bool, len(c.Launch))
	for _, l := range c.Launch {
		seen[l.Name] = true
	}
	for _, l := range cfgs {
		if seen[l.Name] {
			continue
		}
		seen[l.Name] = true
		c.Launch = append(c.Launch, l)
	}
}

// Validate reports every invalid setting, joined.
func (c *Config) Validate() error {
	var errs []error
	fail := func(path, msg string, value any) {
		errs = append(errs, &ValidationError{Path: path, Message: msg, Value: value})
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		fail("log.level", "unknown level", c.Log.Level)
	}
	if c.Log.FileLevel != "" {
		if _, err := logging.ParseLevel(c.Log.FileLevel); err != nil {
			fail("log.file_level", "unknown level", c.Log.FileLevel)
		}
	}

	for path, d := range map[string]Duration{
		"client.request_timeout":     c.Client.RequestTimeout,
		"client.long_timeout":        c.Client.LongTimeout,
		"client.initialized_timeout": c.Client.InitializedTimeout,
		"client.dial_timeout":        c.Client.DialTimeout,
		"session.restart_grace":      c.Session.RestartGrace,
	} {
		if d.Duration < 0 {
			fail(path, "must not be negative", d)
		}
	}
	if c.Session.EventBuffer < 0 {
		fail("session.event_buffer", "must not be negative", c.Session.EventBuffer)
	}

	for name := range c.Adapters {
		if _, err := adapters.ParseKind(name); err != nil {
			fail("adapters."+name, "unknown adapter type", nil)
		}
	}

	seen := make(map[string]bool, len(c.Launch))
	for i, l := range c.Launch {
		path := fmt.Sprintf("launch[%d]", i)
		if l.Name == "" {
			fail(path+".name", "is required", nil)
		} else if seen[l.Name] {
			fail(path+".name", "is not unique", l.Name)
		}
		seen[l.Name] = true
		if _, err := l.Kind(); err != nil {
			fail(path+".type", err.Error(), nil)
		}
	}
	return errors.Join(errs...)
}

// LaunchNames returns the launch configuration names in file order.
func (c *Config) LaunchNames() []string {
	names := make([]string, len(c.Launch))
	for i, l := range c.Launch {
		names[i] = l.Name
	}
	return names
}

// LaunchConfig returns the named launch configuration with the matching
// [adapters.<kind>] section applied, validated and ready to start.
func (c *Config) LaunchConfig(name string) (adapters.Config, error) {
	for _, l := range c.Launch {
		if l.Name != name {
			continue
		}
		return c.Resolve(l)
	}
	return adapters.Config{}, fmt.Errorf("%w: %q", ErrLaunchNotFound, name)
}

// Resolve applies the matching [adapters.<kind>] section to l and
// validates the result.
func (c *Config) Resolve(l adapters.Config) (adapters.Config, error) {
	l = c.withAdapter(l)
	if err := l.Validate(); err != nil {
		return adapters.Config{}, err
	}
	return l, nil
}

func (c *Config) withAdapter(l adapters.Config) adapters.Config {
	kind, err := l.Kind()
	if err != nil {
		return l
	}
	for key, a := range c.Adapters {
		if k, err := adapters.ParseKind(key); err != nil || k != kind {
			continue
		}
		if l.AdapterPath == "" && l.AdapterCommand == "" {
			l.AdapterPath = a.Path
			l.AdapterCommand = a.Command
		}
		if l.AdapterArgs == nil && len(a.Args) > 0 {
			l.AdapterArgs = append([]string(nil), a.Args...)
		}
	}
	return l
}

// Logging returns the logging configuration.
func (c *Config) Logging() logging.Config {
	return logging.Config{
		Level:      c.Log.Level,
		FileLevel:  c.Log.FileLevel,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		Compress:   c.Log.Compress,
		JSON:       c.Log.JSON,
		Components: c.Log.Components,
	}
}

// SessionOptions returns the options for new sessions.
func (c *Config) SessionOptions(logger *slog.Logger) debug.Options {
	return debug.Options{
		ClientID:           c.Client.ClientID,
		ClientName:         c.Client.ClientName,
		RequestTimeout:     c.Client.RequestTimeout.Duration,
		LongRequestTimeout: c.Client.LongTimeout.Duration,
		InitializedTimeout: c.Client.InitializedTimeout.Duration,
		RestartGrace:       c.Session.RestartGrace.Duration,
		Logger:             logger,
	}
}

// DialOptions returns the retry bounds for socket adapters.
func (c *Config) DialOptions(logger *slog.Logger) dap.DialOptions {
	opts := dap.DefaultDialOptions()
	if c.Client.DialTimeout.Duration > 0 {
		opts.MaxElapsed = c.Client.DialTimeout.Duration
	}
	opts.Logger = logger
	return opts
}
