package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/dapper/internal/config"
	"github.com/dshills/dapper/internal/integration/debug"
	"github.com/dshills/dapper/internal/integration/debug/adapters"
	"github.com/dshills/dapper/internal/logging"
)

// shutdownTimeout bounds stopping sessions on exit.
const shutdownTimeout = 5 * time.Second

type runOptions struct {
	breaks          []string
	functions       []string
	program         string
	kind            string
	args            []string
	stopOnEntry     bool
	loadBreakpoints string
	saveBreakpoints string
}

func newRunCmd(a *app) *cobra.Command {
	var o runOptions
	cmd := &cobra.Command{
		Use:   "run [config]",
		Short: "Start a debug session and control it from stdin",
		Long: `Start a debug session for a launch configuration, or for --program,
and read commands from stdin. Type "help" for the command list.

Without input the session runs until the debuggee exits. Ctrl-C stops the
session and the adapter.`,
		Example: `  dapper run api --break cmd/api/main.go:42
  dapper run --program ./cmd/tool --stop-on-entry -- -flag value`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if n := cmd.ArgsLenAtDash(); n != 0 && len(args) > 0 {
				name, args = args[0], args[1:]
			}
			if len(args) > 0 {
				o.args = args
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.run(ctx, name, o)
		},
	}
	f := cmd.Flags()
	f.StringArrayVarP(&o.breaks, "break", "b", nil, "breakpoint at file:line, repeatable")
	f.StringArrayVar(&o.functions, "func", nil, "function breakpoint, repeatable")
	f.StringVar(&o.program, "program", "", "program to debug without a launch configuration")
	f.StringVar(&o.kind, "type", "", "adapter type for --program (inferred from the program when empty)")
	f.BoolVar(&o.stopOnEntry, "stop-on-entry", false, "stop at the program entry point")
	f.StringVar(&o.loadBreakpoints, "load-breakpoints", "", "restore breakpoints from a file written by --save-breakpoints")
	f.StringVar(&o.saveBreakpoints, "save-breakpoints", "", "write breakpoints to this file on exit")
	return cmd
}

// launchConfig picks the named configuration, the only configuration, or
// builds one from --program.
func (a *app) launchConfig(name string, o runOptions) (adapters.Config, error) {
	var cfg adapters.Config
	switch {
	case name != "":
		c, err := a.cfg.LaunchConfig(name)
		if err != nil {
			return cfg, err
		}
		cfg = c
	case o.program != "":
		c, err := a.cfg.Resolve(adapters.Config{Name: filepath.Base(o.program), Type: o.kind, Program: o.program})
		if err != nil {
			return cfg, err
		}
		cfg = c
	case len(a.cfg.Launch) == 1:
		c, err := a.cfg.LaunchConfig(a.cfg.Launch[0].Name)
		if err != nil {
			return cfg, err
		}
		cfg = c
	default:
		return cfg, fmt.Errorf("name a launch configuration (%s) or pass --program",
			strings.Join(a.cfg.LaunchNames(), ", "))
	}
	if o.args != nil {
		cfg.Args = o.args
	}
	if o.stopOnEntry {
		cfg.StopOnEntry = true
	}
	return cfg, nil
}

func (a *app) run(ctx context.Context, name string, o runOptions) error {
	cfg, err := a.launchConfig(name, o)
	if err != nil {
		return err
	}
	bps, err := parseBreakpoints(o.breaks)
	if err != nil {
		return err
	}

	log := logging.WithComponent("cli")
	mgr := newManager(a.cfg)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		mgr.Shutdown(sctx)
	}()

	s, err := mgr.Create(cfg)
	if err != nil {
		return err
	}
	p := newPrinter(a.out, a.noColor)

	if o.loadBreakpoints != "" {
		data, err := os.ReadFile(o.loadBreakpoints)
		if err != nil {
			return fmt.Errorf("reading breakpoints: %w", err)
		}
		if err := s.ImportBreakpoints(ctx, data); err != nil {
			return err
		}
	}
	for _, path := range sortedKeys(bps) {
		if _, err := s.SetBreakpoints(ctx, path, bps[path]); err != nil {
			return err
		}
	}
	if len(o.functions) > 0 {
		specs := make([]debug.FunctionBreakpoint, len(o.functions))
		for i, fn := range o.functions {
			specs[i] = debug.FunctionBreakpoint{Name: fn}
		}
		if _, err := s.SetFunctionBreakpoints(ctx, specs); err != nil {
			return err
		}
	}

	sub := s.Subscribe(a.cfg.Session.EventBuffer)
	ended := make(chan struct{}, 1)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for e := range sub.Events() {
			p.event(e)
			if e.Kind == debug.EventEnded {
				select {
				case ended <- struct{}{}:
				default:
				}
			}
		}
	}()
	defer func() {
		sub.Close()
		<-printed
		if n := sub.Dropped(); n > 0 {
			log.Warn("events dropped", "count", n)
		}
	}()

	p.println(p.label.Sprintf("debugging %s", cfg.Name))
	if err := s.Start(ctx); err != nil {
		return err
	}

	err = newREPL(s, p).run(ctx, a.in, ended)

	if o.saveBreakpoints != "" {
		if serr := saveBreakpoints(s, o.saveBreakpoints); serr != nil {
			err = errors.Join(err, serr)
		}
	}
	if code, ok := s.ExitCode(); ok && code != 0 && err == nil {
		log.Info("debuggee exited", "code", code)
	}
	return err
}

// newManager builds a session manager from the configuration.
func newManager(cfg *config.Config) *debug.Manager {
	return debug.NewManager(
		debug.WithManagerLogger(logging.WithComponent("manager")),
		debug.WithSessionOptions(cfg.SessionOptions(logging.WithComponent("session"))),
		debug.WithDialOptions(cfg.DialOptions(logging.WithComponent("dap"))),
	)
}

func saveBreakpoints(s *debug.Session, path string) error {
	data, err := s.ExportBreakpoints()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("saving breakpoints: %w", err)
	}
	return nil
}

// parseBreakpoints groups file:line arguments by file.
func parseBreakpoints(args []string) (map[string][]debug.SourceBreakpoint, error) {
	out := make(map[string][]debug.SourceBreakpoint)
	for _, arg := range args {
		i := strings.LastIndexByte(arg, ':')
		if i <= 0 {
			return nil, fmt.Errorf("breakpoint %q: want file:line", arg)
		}
		line, err := strconv.Atoi(arg[i+1:])
		if err != nil || line <= 0 {
			return nil, fmt.Errorf("breakpoint %q: invalid line", arg)
		}
		path := arg[:i]
		out[path] = append(out[path], debug.SourceBreakpoint{Line: line})
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
