package cmd

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"github.com/dshills/dapper/internal/integration/debug"
)

// errQuit ends the command loop.
var errQuit = errors.New("quit")

type command struct {
	names []string
	usage string
	help  string
	run   func(r *repl, ctx context.Context, args []string, rest string) error
}

// repl drives one session from line commands.
type repl struct {
	s *debug.Session
	p *printer

	// Listings that index-based commands refer to.
	frames []debug.StackFrame
	vars   []debug.Variable

	byName map[string]*command
}

func newREPL(s *debug.Session, p *printer) *repl {
	r := &repl{s: s, p: p, byName: make(map[string]*command)}
	for i := range commands {
		for _, n := range commands[i].names {
			r.byName[n] = &commands[i]
		}
	}
	return r
}

// run reads commands from in until quit, the end of the session or ctx is
// done. ended signals that a session run ended; a restart may have started
// the next one already. After EOF it waits for the session to end.
func (r *repl) run(ctx context.Context, in io.Reader, ended <-chan struct{}) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ended:
			if r.s.State() == debug.StateEnded {
				return nil
			}
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if err := r.exec(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				r.p.errorf("%v", err)
			}
		}
	}
}

// exec runs one command line.
func (r *repl) exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	cmd, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("unknown command %q (try help)", name)
	}
	args, err := shlex.Split(rest)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return cmd.run(r, ctx, args, rest)
}

var commands []command

func init() {
	commands = []command{
		{names: []string{"help", "h", "?"}, help: "list commands", run: (*repl).help},
		{names: []string{"continue", "c"}, help: "resume the debuggee", run: step((*debug.Session).Continue)},
		{names: []string{"next", "n"}, help: "step over", run: step((*debug.Session).Next)},
		{names: []string{"step", "s"}, help: "step into", run: step((*debug.Session).StepIn)},
		{names: []string{"out", "o"}, help: "step out", run: step((*debug.Session).StepOut)},
		{names: []string{"stepi", "si"}, help: "step one instruction", run: step((*debug.Session).StepInstruction)},
		{names: []string{"back"}, help: "step backwards", run: step((*debug.Session).StepBack)},
		{names: []string{"rc"}, help: "continue backwards", run: step((*debug.Session).ReverseContinue)},
		{names: []string{"pause"}, help: "interrupt the debuggee", run: step((*debug.Session).Pause)},
		{names: []string{"threads", "t"}, help: "list threads", run: (*repl).threads},
		{names: []string{"thread"}, usage: "<id>", help: "select a thread", run: (*repl).thread},
		{names: []string{"bt", "stack"}, usage: "[levels]", help: "show the call stack", run: (*repl).stack},
		{names: []string{"frame", "f"}, usage: "<n>", help: "select frame n of the last stack listing", run: (*repl).frame},
		{names: []string{"vars", "v"}, help: "show the variables of the current frame", run: (*repl).variables},
		{names: []string{"expand", "x"}, usage: "<n> [start count]", help: "expand variable n of the last listing", run: (*repl).expand},
		{names: []string{"set"}, usage: "<name> <value>", help: "assign a local variable", run: (*repl).set},
		{names: []string{"eval", "p"}, usage: "<expr>", help: "evaluate an expression", run: (*repl).eval},
		{names: []string{"watch"}, usage: "<expr>", help: "add a watch expression", run: (*repl).watch},
		{names: []string{"unwatch"}, usage: "<n>", help: "remove a watch expression", run: (*repl).unwatch},
		{names: []string{"watches"}, help: "evaluate every watch expression", run: (*repl).watches},
		{names: []string{"break", "b"}, usage: "<file:line|line> [if cond]", help: "toggle a breakpoint", run: (*repl).breakpoint},
		{names: []string{"fbreak"}, usage: "<function>...", help: "set function breakpoints", run: (*repl).functionBreakpoints},
		{names: []string{"delete", "d"}, usage: "<id>", help: "remove a breakpoint", run: (*repl).deleteBreakpoint},
		{names: []string{"clear"}, usage: "<file>", help: "remove every breakpoint in a file", run: (*repl).clear},
		{names: []string{"bps"}, help: "list breakpoints", run: (*repl).breakpoints},
		{names: []string{"exceptions"}, usage: "[filter]...", help: "set exception filters", run: (*repl).exceptions},
		{names: []string{"mem"}, usage: "<ref> [count]", help: "read memory", run: (*repl).memory},
		{names: []string{"dis"}, usage: "[ref] [count]", help: "disassemble at ref or the current instruction", run: (*repl).disassemble},
		{names: []string{"goto"}, usage: "<line>", help: "jump to a line in the current file", run: (*repl).jump},
		{names: []string{"restart"}, help: "restart the session", run: (*repl).restart},
		{names: []string{"terminate"}, help: "ask the debuggee to exit", run: step((*debug.Session).Terminate)},
		{names: []string{"quit", "q"}, help: "stop the session and exit", run: func(*repl, context.Context, []string, string) error { return errQuit }},
	}
}

func step(fn func(*debug.Session, context.Context) error) func(*repl, context.Context, []string, string) error {
	return func(r *repl, ctx context.Context, _ []string, _ string) error {
		r.frames, r.vars = nil, nil
		return fn(r.s, ctx)
	}
}

func (r *repl) help(context.Context, []string, string) error {
	for _, c := range commands {
		r.p.printf("  %-22s %s\n", strings.TrimSpace(strings.Join(c.names, ", ")+" "+c.usage), c.help)
	}
	return nil
}

func intArg(args []string, i int, name string) (int, error) {
	if len(args) <= i {
		return 0, fmt.Errorf("missing %s", name)
	}
	n, err := strconv.Atoi(args[i])
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, args[i])
	}
	return n, nil
}

func (r *repl) threads(ctx context.Context, _ []string, _ string) error {
	threads, err := r.s.Threads(ctx)
	if err != nil {
		return err
	}
	active := r.s.ActiveThread()
	for _, t := range threads {
		mark := " "
		if t.ID == active {
			mark = r.p.label.Sprint("*")
		}
		r.p.printf("%s %d %s\n", mark, t.ID, t.Name)
	}
	return nil
}

func (r *repl) thread(_ context.Context, args []string, _ string) error {
	id, err := intArg(args, 0, "thread id")
	if err != nil {
		return err
	}
	r.frames, r.vars = nil, nil
	return r.s.SelectThread(id)
}

func (r *repl) stack(ctx context.Context, args []string, _ string) error {
	levels := 0
	if len(args) > 0 {
		n, err := intArg(args, 0, "levels")
		if err != nil {
			return err
		}
		levels = n
	}
	frames, total, err := r.s.StackTrace(ctx, 0, 0, levels)
	if err != nil {
		return err
	}
	r.frames = frames
	active, _ := r.s.ActiveFrame(ctx)
	r.p.frames(frames, active.ID)
	if total > len(frames) {
		r.p.println(r.p.dim.Sprintf("  ... %d more", total-len(frames)))
	}
	return nil
}

func (r *repl) frame(ctx context.Context, args []string, _ string) error {
	n, err := intArg(args, 0, "frame number")
	if err != nil {
		return err
	}
	if r.frames == nil {
		if r.frames, _, err = r.s.StackTrace(ctx, 0, 0, 0); err != nil {
			return err
		}
	}
	if n < 0 || n >= len(r.frames) {
		return fmt.Errorf("no frame %d", n)
	}
	if err := r.s.SelectFrame(r.frames[n].ID); err != nil {
		return err
	}
	r.vars = nil
	f := r.frames[n]
	r.p.printf("#%d %s at %s\n", n, f.Name, f.FormatLocation())
	return nil
}

func (r *repl) variables(ctx context.Context, _ []string, _ string) error {
	vars, err := r.s.ResolveVariables(ctx)
	if err != nil {
		return err
	}
	r.vars = vars
	scope := ""
	for i, v := range vars {
		if i == 0 || v.Scope != scope {
			scope = v.Scope
			r.p.println(r.p.label.Sprint(scope))
		}
		r.p.variable(i, v, "  ")
	}
	return nil
}

func (r *repl) expand(ctx context.Context, args []string, _ string) error {
	n, err := intArg(args, 0, "variable number")
	if err != nil {
		return err
	}
	if n < 0 || n >= len(r.vars) {
		return fmt.Errorf("no variable %d in the last listing", n)
	}
	v := r.vars[n]
	if !v.HasChildren() {
		return fmt.Errorf("%s has no children", v.Name)
	}
	var page debug.Page
	if len(args) >= 3 {
		if page.Start, err = intArg(args, 1, "start"); err != nil {
			return err
		}
		if page.Count, err = intArg(args, 2, "count"); err != nil {
			return err
		}
	}
	children, err := r.s.Expand(ctx, v.Ref, page)
	if err != nil {
		return err
	}
	r.vars = children
	r.p.println(r.p.label.Sprint(v.Name))
	r.p.variables(children, "  ")
	return nil
}

func (r *repl) set(ctx context.Context, args []string, _ string) error {
	if len(args) < 2 {
		return errors.New("usage: set <name> <value>")
	}
	scopes, err := r.s.Scopes(ctx)
	if err != nil {
		return err
	}
	if len(scopes) == 0 {
		return errors.New("current frame has no scopes")
	}
	v, err := r.s.SetVariable(ctx, scopes[0].Ref, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	r.p.printf("%s = %s\n", args[0], v.Value)
	return nil
}

func (r *repl) eval(ctx context.Context, _ []string, rest string) error {
	if rest == "" {
		return errors.New("usage: eval <expr>")
	}
	v, err := r.s.Evaluate(ctx, rest, "repl")
	if err != nil {
		return err
	}
	r.vars = []debug.Variable{v}
	r.p.variables(r.vars, "")
	return nil
}

func (r *repl) watch(_ context.Context, _ []string, rest string) error {
	if rest == "" {
		return errors.New("usage: watch <expr>")
	}
	r.s.AddWatch(rest)
	return nil
}

func (r *repl) unwatch(_ context.Context, args []string, _ string) error {
	n, err := intArg(args, 0, "watch number")
	if err != nil {
		return err
	}
	return r.s.RemoveWatch(n)
}

func (r *repl) watches(ctx context.Context, _ []string, _ string) error {
	for i, w := range r.s.EvaluateWatches(ctx) {
		if w.Err != nil {
			r.p.printf("[%d] %s: %s\n", i, w.Expression, r.p.bad.Sprint(w.Err))
			continue
		}
		r.p.printf("[%d] %s = %s\n", i, w.Expression, w.Value.Value)
	}
	return nil
}

func (r *repl) breakpoint(ctx context.Context, args []string, _ string) error {
	if len(args) == 0 {
		return errors.New("usage: break <file:line|line> [if cond]")
	}
	path, line, err := r.location(ctx, args[0])
	if err != nil {
		return err
	}
	if len(args) >= 3 && args[1] == "if" {
		return r.conditional(ctx, path, line, strings.Join(args[2:], " "))
	}
	added, err := r.s.ToggleBreakpoint(ctx, path, line)
	if err != nil {
		return err
	}
	if !added {
		r.p.printf("removed breakpoint at %s:%d\n", path, line)
		return nil
	}
	for _, bp := range r.s.Breakpoints(path) {
		if bp.RequestedLine == line {
			r.p.breakpoint(bp)
		}
	}
	return nil
}

// conditional replaces any breakpoint on line with a conditional one.
func (r *repl) conditional(ctx context.Context, path string, line int, cond string) error {
	var specs []debug.SourceBreakpoint
	for _, bp := range r.s.Breakpoints(path) {
		if bp.RequestedLine != line {
			specs = append(specs, debug.SourceBreakpoint{
				Line: bp.RequestedLine, Condition: bp.Condition,
				HitCondition: bp.HitCondition, LogMessage: bp.LogMessage,
			})
		}
	}
	specs = append(specs, debug.SourceBreakpoint{Line: line, Condition: cond})
	bps, err := r.s.SetBreakpoints(ctx, path, specs)
	if err != nil {
		return err
	}
	r.p.breakpoint(bps[len(bps)-1])
	return nil
}

// location parses file:line, or a bare line in the current frame's file.
func (r *repl) location(ctx context.Context, arg string) (string, int, error) {
	if i := strings.LastIndexByte(arg, ':'); i > 0 {
		line, err := strconv.Atoi(arg[i+1:])
		if err != nil || line <= 0 {
			return "", 0, fmt.Errorf("invalid line in %q", arg)
		}
		return arg[:i], line, nil
	}
	line, err := strconv.Atoi(arg)
	if err != nil || line <= 0 {
		return "", 0, fmt.Errorf("invalid location %q", arg)
	}
	f, err := r.s.ActiveFrame(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("a bare line needs a current frame: %w", err)
	}
	if f.Path == "" {
		return "", 0, errors.New("current frame has no source file")
	}
	return f.Path, line, nil
}

func (r *repl) functionBreakpoints(ctx context.Context, args []string, _ string) error {
	specs := make([]debug.FunctionBreakpoint, len(args))
	for i, name := range args {
		specs[i] = debug.FunctionBreakpoint{Name: name}
	}
	bps, err := r.s.SetFunctionBreakpoints(ctx, specs)
	if err != nil {
		return err
	}
	for _, bp := range bps {
		state := "unverified"
		if bp.Verified {
			state = "verified"
		}
		r.p.printf("%3d  %s (%s)\n", bp.ID, bp.Name, state)
	}
	return nil
}

func (r *repl) deleteBreakpoint(ctx context.Context, args []string, _ string) error {
	id, err := intArg(args, 0, "breakpoint id")
	if err != nil {
		return err
	}
	return r.s.RemoveBreakpoint(ctx, id)
}

func (r *repl) clear(ctx context.Context, args []string, _ string) error {
	if len(args) != 1 {
		return errors.New("usage: clear <file>")
	}
	return r.s.ClearBreakpoints(ctx, args[0])
}

func (r *repl) breakpoints(context.Context, []string, string) error {
	bps := r.s.AllBreakpoints()
	sort.SliceStable(bps, func(i, j int) bool { return bps[i].ID < bps[j].ID })
	for _, bp := range bps {
		r.p.breakpoint(bp)
	}
	for _, fb := range r.s.FunctionBreakpoints() {
		r.p.printf("  %3d  %s()\n", fb.ID, fb.Name)
	}
	return nil
}

func (r *repl) exceptions(ctx context.Context, args []string, _ string) error {
	if args == nil {
		args = []string{}
	}
	return r.s.SetExceptionFilters(ctx, args)
}

func (r *repl) memory(ctx context.Context, args []string, _ string) error {
	if len(args) == 0 {
		return errors.New("usage: mem <ref> [count]")
	}
	count := 64
	if len(args) > 1 {
		n, err := intArg(args, 1, "count")
		if err != nil {
			return err
		}
		count = n
	}
	block, err := r.s.ReadMemory(ctx, args[0], 0, count)
	if err != nil {
		return err
	}
	r.p.printf("%s", hex.Dump(block.Data))
	if block.Unreadable > 0 {
		r.p.println(r.p.dim.Sprintf("%d bytes unreadable", block.Unreadable))
	}
	return nil
}

func (r *repl) disassemble(ctx context.Context, args []string, _ string) error {
	ref, count := "", 16
	if len(args) > 0 {
		ref = args[0]
	}
	if len(args) > 1 {
		n, err := intArg(args, 1, "count")
		if err != nil {
			return err
		}
		count = n
	}
	if ref == "" {
		f, err := r.s.ActiveFrame(ctx)
		if err != nil {
			return err
		}
		if f.InstructionPointer == "" {
			return errors.New("current frame has no instruction pointer")
		}
		ref = f.InstructionPointer
	}
	instrs, err := r.s.Disassemble(ctx, ref, 0, 0, count, true)
	if err != nil {
		return err
	}
	for _, in := range instrs {
		if in.Symbol != "" {
			r.p.println(r.p.label.Sprintf("%s:", in.Symbol))
		}
		r.p.printf("  %s  %-24s %s\n", in.Address, in.Bytes, in.Text)
	}
	return nil
}

func (r *repl) jump(ctx context.Context, args []string, _ string) error {
	line, err := intArg(args, 0, "line")
	if err != nil {
		return err
	}
	f, err := r.s.ActiveFrame(ctx)
	if err != nil {
		return err
	}
	targets, err := r.s.GotoTargets(ctx, f.Path, line, 0)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return fmt.Errorf("cannot jump to line %d", line)
	}
	r.frames, r.vars = nil, nil
	return r.s.Goto(ctx, targets[0].ID)
}

func (r *repl) restart(ctx context.Context, _ []string, _ string) error {
	r.frames, r.vars = nil, nil
	return r.s.Restart(ctx)
}
