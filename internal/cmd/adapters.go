package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/dapper/internal/integration/debug/adapters"
)

func newAdaptersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "adapters",
		Short: "List supported debug adapters and whether they are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := newPrinter(a.out, a.noColor)
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tADAPTER\tTRANSPORT\tEXECUTABLE")
			for _, prof := range adapters.Profiles() {
				exe := p.bad.Sprint("not found")
				if path, ok := adapters.Available(prof); ok {
					exe = p.good.Sprint(path)
				} else if prof.Kind == adapters.KindGeneric {
					exe = p.dim.Sprint("set adapter_command")
				} else if prof.Install != "" {
					exe += p.dim.Sprintf(" (%s)", prof.Install)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", prof.Kind, prof.Name, prof.Transport, exe)
			}
			return w.Flush()
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List launch configurations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(a.cfg.Launch) == 0 {
				fmt.Fprintln(a.out, "no launch configurations; add [[launch]] to dapper.toml or set launch_json")
				return nil
			}
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTYPE\tREQUEST\tTARGET")
			for _, l := range a.cfg.Launch {
				kind, err := l.Kind()
				typ := string(kind)
				if err != nil {
					typ = l.Type + "?"
				}
				target := l.Program
				if l.RequestType() == adapters.RequestAttach {
					switch {
					case l.ProcessID != 0:
						target = fmt.Sprintf("pid %d", l.ProcessID)
					case l.Port != 0:
						target = fmt.Sprintf("%s:%d", l.Host, l.Port)
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", l.Name, typ, l.RequestType(), target)
			}
			return w.Flush()
		},
	}
}
