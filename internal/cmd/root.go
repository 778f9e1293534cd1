// Package cmd implements the dapper command line.
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/dapper/internal/config"
	"github.com/dshills/dapper/internal/logging"
)

// Build information, set by main.
var (
	Version = "dev"
	Commit  = "unknown"
)

// app holds what every command shares.
type app struct {
	in  io.Reader
	out io.Writer

	configPath    string
	logLevel      string
	logFile       string
	logComponents string
	verbose       bool
	noColor       bool

	cfg *config.Config
}

// Execute runs the command line with the process streams.
func Execute() error {
	return newRootCmd(os.Stdin, os.Stdout).Execute()
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	a := &app{in: in, out: out}

	root := &cobra.Command{
		Use:   "dapper",
		Short: "Drive debug adapters from the command line",
		Long: `dapper starts a Debug Adapter Protocol adapter (Delve, debugpy,
js-debug, lldb-dap, GDB) for a launch configuration and lets you control
the debuggee with line commands.

Launch configurations come from dapper.toml or an imported
.vscode/launch.json.`,
		Version:           fmt.Sprintf("%s (%s)", Version, Commit),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return logging.Close()
		},
	}
	root.SetIn(in)
	root.SetOut(out)

	f := root.PersistentFlags()
	f.StringVarP(&a.configPath, "config", "c", "", "config file (default: user config and ./dapper.toml)")
	f.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	f.StringVar(&a.logFile, "log-file", "", "also log to this file, rotated")
	f.StringVar(&a.logComponents, "log-components", "", "comma-separated components to log (dap,session,manager,process,cli)")
	f.BoolVarP(&a.verbose, "verbose", "v", false, "shorthand for --log-level debug")
	f.BoolVar(&a.noColor, "no-color", false, "disable colored output")

	root.AddCommand(newAdaptersCmd(a), newListCmd(a), newRunCmd(a))
	return root
}

// setup loads the configuration and initializes logging. Flags win over
// the [log] section.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "help" || cmd.Name() == "completion" {
		return nil
	}

	var opts []config.Option
	if a.configPath != "" {
		opts = append(opts, config.WithFile(a.configPath))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	a.cfg = cfg

	lc := cfg.Logging()
	switch {
	case a.logLevel != "":
		lc.Level = a.logLevel
	case a.verbose:
		lc.Level = "debug"
	case lc.Level == "info":
		// The terminal belongs to the debuggee unless asked otherwise.
		lc.Level = "warn"
	}
	if a.logFile != "" {
		lc.File = a.logFile
	}
	if a.logComponents != "" {
		lc.Components = nil
		for _, c := range strings.Split(a.logComponents, ",") {
			if c = strings.TrimSpace(c); c != "" {
				lc.Components = append(lc.Components, c)
			}
		}
	}
	if err := logging.Initialize(lc); err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}

	log := logging.WithComponent("cli")
	log.Debug("configuration loaded", "sources", cfg.Sources, "launch", len(cfg.Launch))
	for _, s := range cfg.Skipped {
		log.Warn("launch.json entry not imported", "entry", s)
	}
	return nil
}
