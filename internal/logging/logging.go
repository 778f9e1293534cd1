// Package logging configures the process-wide slog logger for dapper.
//
// Console output goes to stderr. A log file, when configured, is rotated by
// lumberjack and may use its own level, which is useful for keeping
// protocol traces on disk while the terminal stays quiet.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu      sync.RWMutex
	current *slog.Logger
	file    io.WriteCloser

	// allowed restricts output to the listed components. nil allows all.
	allowed map[string]bool
)

// Config holds logging configuration.
type Config struct {
	// Level is the console level: debug, info, warn or error.
	Level string
	// FileLevel is the file level. Empty uses Level.
	FileLevel string

	// File enables logging to a rotated file.
	File       string
	MaxSizeMB  int
	MaxBackups int
	Compress   bool

	// JSON switches both outputs to JSON.
	JSON bool

	// Components limits output to the named components. Empty logs all.
	Components []string

	// Console replaces stderr.
	Console io.Writer
}

// Initialize installs a logger built from cfg as the global and slog default
// logger. A previously opened log file is closed.
func Initialize(cfg Config) error {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	fileLevel := level
	if cfg.FileLevel != "" {
		if fileLevel, err = ParseLevel(cfg.FileLevel); err != nil {
			return err
		}
	}

	console := cfg.Console
	if console == nil {
		console = os.Stderr
	}

	newHandler := func(w io.Writer, l slog.Level) slog.Handler {
		opts := &slog.HandlerOptions{Level: l}
		if cfg.JSON {
			return slog.NewJSONHandler(w, opts)
		}
		return slog.NewTextHandler(w, opts)
	}

	var rotated *lumberjack.Logger
	handler := newHandler(console, level)
	if cfg.File != "" {
		rotated = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 10),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			Compress:   cfg.Compress,
		}
		handler = &multiHandler{handlers: []slog.Handler{handler, newHandler(rotated, fileLevel)}}
	}

	var components map[string]bool
	if len(cfg.Components) > 0 {
		components = make(map[string]bool, len(cfg.Components))
		for _, c := range cfg.Components {
			components[c] = true
		}
	}

	logger := slog.New(handler)

	mu.Lock()
	old := file
	current = logger
	allowed = components
	if rotated != nil {
		file = rotated
	} else {
		file = nil
	}
	mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	slog.SetDefault(logger)
	return nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// ParseLevel converts a level name to a slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Get returns the global logger, or slog.Default before Initialize.
func Get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return slog.Default()
	}
	return current
}

// WithComponent returns a logger tagged with component. It logs nothing when
// component filtering excludes it.
func WithComponent(component string) *slog.Logger {
	h := Get().Handler().WithAttrs([]slog.Attr{slog.String("component", component)})
	return slog.New(&componentHandler{inner: h, component: component})
}

// WithSession tags base with a session id.
func WithSession(base *slog.Logger, sessionID string) *slog.Logger {
	if base == nil {
		return nil
	}
	return base.With("session_id", sessionID)
}

// Close closes the log file, if any.
func Close() error {
	mu.Lock()
	f := file
	file = nil
	mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}

func componentAllowed(component string) bool {
	mu.RLock()
	defer mu.RUnlock()
	return allowed == nil || allowed[component]
}

type componentHandler struct {
	inner     slog.Handler
	component string
}

func (h *componentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return componentAllowed(h.component) && h.inner.Enabled(ctx, level)
}

func (h *componentHandler) Handle(ctx context.Context, r slog.Record) error {
	if !componentAllowed(h.component) {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

func (h *componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &componentHandler{inner: h.inner.WithAttrs(attrs), component: h.component}
}

func (h *componentHandler) WithGroup(name string) slog.Handler {
	return &componentHandler{inner: h.inner.WithGroup(name), component: h.component}
}

// multiHandler fans records out to handlers with independent levels.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := handler.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		out[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: out}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		out[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: out}
}
