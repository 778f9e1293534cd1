package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/dshills/dapper/internal/integration/debug"
)

// printer writes session events and command results. It serializes writes
// from the event goroutine and the command loop.
type printer struct {
	mu  sync.Mutex
	out io.Writer

	dim   *color.Color
	stop  *color.Color
	good  *color.Color
	bad   *color.Color
	label *color.Color
}

func newPrinter(out io.Writer, noColor bool) *printer {
	if noColor {
		color.NoColor = true
	}
	return &printer{
		out:   out,
		dim:   color.New(color.FgHiBlack),
		stop:  color.New(color.FgYellow, color.Bold),
		good:  color.New(color.FgGreen),
		bad:   color.New(color.FgRed),
		label: color.New(color.FgCyan, color.Bold),
	}
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *printer) println(args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, args...)
}

func (p *printer) errorf(format string, args ...any) {
	p.println(p.bad.Sprintf("error: "+format, args...))
}

// event renders one session event. Variable updates are printed by the
// command that asked for them.
func (p *printer) event(e debug.Event) {
	switch e.Kind {
	case debug.EventStateChanged:
		p.println(p.dim.Sprintf("[%s]", e.State))
	case debug.EventStopped:
		msg := fmt.Sprintf("stopped: %s", e.Reason)
		if e.ThreadID != 0 {
			msg += fmt.Sprintf(" (thread %d)", e.ThreadID)
		}
		if e.Description != "" && e.Description != e.Reason {
			msg += ": " + e.Description
		}
		p.println(p.stop.Sprint(msg))
	case debug.EventContinued:
		p.println(p.dim.Sprint("continued"))
	case debug.EventOutput:
		p.output(e.Category, e.Output)
	case debug.EventBreakpointChanged:
		if e.Breakpoint != nil {
			p.println(p.dim.Sprint(describeBreakpointChange(e.Reason, *e.Breakpoint)))
		}
	case debug.EventThreadChanged:
		p.println(p.dim.Sprintf("thread %d %s", e.ThreadID, e.Reason))
	case debug.EventExited:
		c := p.good
		if e.ExitCode != 0 {
			c = p.bad
		}
		p.println(c.Sprintf("process exited with code %d", e.ExitCode))
	case debug.EventEnded:
		if e.Err != nil {
			p.println(p.bad.Sprintf("session ended: %v", e.Err))
			return
		}
		p.println(p.dim.Sprint("session ended"))
	}
}

func (p *printer) output(category, text string) {
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	switch category {
	case "stderr":
		p.printf("%s", p.bad.Sprint(text))
	case "console", "important":
		p.printf("%s", p.dim.Sprint(text))
	default:
		p.printf("%s", text)
	}
}

func describeBreakpointChange(reason string, bp debug.Breakpoint) string {
	loc := fmt.Sprintf("%s:%d", filepath.Base(bp.Path), bp.Line)
	switch {
	case reason == "removed":
		return fmt.Sprintf("breakpoint %d removed", bp.ID)
	case bp.Moved():
		return fmt.Sprintf("breakpoint %d moved from line %d to %s", bp.ID, bp.RequestedLine, loc)
	case !bp.Verified && bp.Message != "":
		return fmt.Sprintf("breakpoint %d at %s unverified: %s", bp.ID, loc, bp.Message)
	default:
		return fmt.Sprintf("breakpoint %d %s at %s", bp.ID, reason, loc)
	}
}

func (p *printer) breakpoint(bp debug.Breakpoint) {
	mark := p.good.Sprint("●")
	if !bp.Verified {
		mark = p.dim.Sprint("○")
	}
	line := fmt.Sprintf("%s %3d  %s:%d", mark, bp.ID, bp.Path, bp.Line)
	if bp.Condition != "" {
		line += " if " + bp.Condition
	}
	if bp.HitCondition != "" {
		line += " hits " + bp.HitCondition
	}
	if bp.LogMessage != "" {
		line += " log " + fmt.Sprintf("%q", bp.LogMessage)
	}
	if !bp.Verified && bp.Message != "" {
		line += p.dim.Sprintf("  (%s)", bp.Message)
	}
	p.println(line)
}

func (p *printer) frames(frames []debug.StackFrame, active int) {
	for i, f := range frames {
		mark := " "
		if f.ID == active {
			mark = p.label.Sprint(">")
		}
		p.printf("%s #%-2d %s at %s\n", mark, i, f.Name, f.FormatLocation())
	}
}

func (p *printer) variables(vars []debug.Variable, indent string) {
	for i, v := range vars {
		p.variable(i, v, indent)
	}
}

func (p *printer) variable(i int, v debug.Variable, indent string) {
	name := v.Name
	if v.Type != "" {
		name += " " + p.dim.Sprint(v.Type)
	}
	more := ""
	if v.HasChildren() {
		more = p.dim.Sprint(" +")
	}
	p.printf("%s[%d] %s = %s%s\n", indent, i, name, v.Value, more)
}
