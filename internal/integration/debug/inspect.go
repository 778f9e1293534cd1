package debug

import (
	"context"
	"fmt"
	"path/filepath"

	godap "github.com/google/go-dap"

	"github.com/dshills/dapper/internal/integration/debug/dap"
)

// Thread is a debuggee thread.
type Thread struct {
	ID   int
	Name string
}

// StackFrame is one frame of a thread's call stack.
type StackFrame struct {
	ID       int
	ThreadID int
	Name     string
	// Path is the source path; empty for frames without source.
	Path   string
	Line   int
	Column int
	// InstructionPointer is a memory reference for disassembly.
	InstructionPointer string
	PresentationHint   string
}

// FormatLocation returns "file:line" or the frame name when there is no
// source.
func (f StackFrame) FormatLocation() string {
	if f.Path == "" {
		return f.Name
	}
	return fmt.Sprintf("%s:%d", filepath.Base(f.Path), f.Line)
}

// Reference is a variables reference tagged with the resume epoch it was
// issued in. It is only valid until the debuggee resumes.
type Reference struct {
	ID    int
	Epoch uint64
}

// Valid reports whether the reference points at children.
func (r Reference) Valid() bool {
	return r.ID > 0
}

// Scope is a named group of variables in a frame.
type Scope struct {
	Name             string
	PresentationHint string
	Ref              Reference
	NamedVariables   int
	IndexedVariables int
	Expensive        bool
}

// Variable is a value in a scope, a container or an evaluation result.
type Variable struct {
	Name  string
	Value string
	Type  string
	// Scope is set by ResolveVariables.
	Scope            string
	EvaluateName     string
	Ref              Reference
	NamedVariables   int
	IndexedVariables int
	MemoryReference  string
}

// HasChildren reports whether the variable can be expanded.
func (v Variable) HasChildren() bool {
	return v.Ref.Valid()
}

// Page selects a window of a container's children. The zero Page selects
// everything.
type Page struct {
	Start int
	Count int
	// Filter is "indexed", "named" or "".
	Filter string
}

// Threads fetches the debuggee threads.
func (s *Session) Threads(ctx context.Context) ([]Thread, error) {
	client, err := s.live()
	if err != nil {
		return nil, err
	}
	resp, err := client.Threads(ctx)
	if err != nil {
		return nil, fmt.Errorf("threads: %w", err)
	}
	threads := make([]Thread, len(resp))
	for i, t := range resp {
		threads[i] = Thread{ID: t.Id, Name: t.Name}
	}
	s.mu.Lock()
	s.threads = threads
	s.mu.Unlock()
	return append([]Thread(nil), threads...), nil
}

// SelectThread makes id the active thread.
func (s *Session) SelectThread(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return ErrNotStarted
	}
	if len(s.threads) > 0 && !hasThread(s.threads, id) {
		return fmt.Errorf("%w: %d", ErrThreadNotFound, id)
	}
	if s.activeThread != id {
		s.activeThread = id
		s.activeFrame = 0
	}
	return nil
}

// StackTrace fetches frames of a stopped thread; thread 0 means the active
// thread. levels 0 fetches all frames. It also returns the total frame count
// when the adapter reports it.
func (s *Session) StackTrace(ctx context.Context, thread, start, levels int) ([]StackFrame, int, error) {
	s.mu.Lock()
	client, _, err := s.requireLocked("stackTrace", StateStopped)
	if err != nil {
		s.mu.Unlock()
		return nil, 0, err
	}
	if thread == 0 {
		thread = s.activeThread
	}
	epoch := s.epoch
	s.mu.Unlock()
	if thread == 0 {
		return nil, 0, ErrNoActiveThread
	}

	resp, total, err := client.StackTrace(ctx, godap.StackTraceArguments{
		ThreadId:   thread,
		StartFrame: start,
		Levels:     levels,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("stack trace: %w", err)
	}

	frames := make([]StackFrame, len(resp))
	for i, f := range resp {
		frames[i] = StackFrame{
			ID:                 f.Id,
			ThreadID:           thread,
			Name:               f.Name,
			Line:               f.Line,
			Column:             f.Column,
			InstructionPointer: f.InstructionPointerReference,
			PresentationHint:   f.PresentationHint,
		}
		if f.Source != nil {
			frames[i].Path = f.Source.Path
		}
	}

	s.mu.Lock()
	if s.epoch == epoch {
		if s.frames == nil {
			s.frames = make(map[int]StackFrame)
		}
		for _, f := range frames {
			s.frames[f.ID] = f
		}
	}
	s.mu.Unlock()
	return frames, total, nil
}

// SelectFrame makes a frame from the last stack trace the active frame and
// its thread the active thread.
func (s *Session) SelectFrame(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStopped {
		return fmt.Errorf("%w: select frame requires state stopped, session is %s", ErrPreconditionFailed, s.state)
	}
	f, ok := s.frames[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrFrameNotFound, id)
	}
	s.activeThread = f.ThreadID
	s.activeFrame = f.ID
	return nil
}

// ActiveFrame returns the active frame, fetching the top frame of the active
// thread after a stop.
func (s *Session) ActiveFrame(ctx context.Context) (StackFrame, error) {
	f, _, err := s.activeFrameEpoch(ctx)
	return f, err
}

// activeFrameEpoch returns the active frame with the epoch it belongs to,
// both read under one lock.
func (s *Session) activeFrameEpoch(ctx context.Context) (StackFrame, uint64, error) {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return StackFrame{}, 0, ErrNoActiveFrame
	}
	if f, ok := s.frames[s.activeFrame]; ok && s.activeFrame != 0 {
		epoch := s.epoch
		s.mu.Unlock()
		return f, epoch, nil
	}
	thread := s.activeThread
	s.mu.Unlock()
	if thread == 0 {
		return StackFrame{}, 0, ErrNoActiveFrame
	}

	frames, _, err := s.StackTrace(ctx, thread, 0, 1)
	if err != nil {
		return StackFrame{}, 0, err
	}
	if len(frames) == 0 {
		return StackFrame{}, 0, ErrNoActiveFrame
	}
	top := frames[0]

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeThread == thread && s.activeFrame == 0 {
		s.activeFrame = top.ID
	}
	if f, ok := s.frames[s.activeFrame]; ok {
		return f, s.epoch, nil
	}
	// The debuggee resumed while the frame was fetched.
	return StackFrame{}, 0, ErrNoActiveFrame
}

// Scopes returns the scopes of the active frame.
func (s *Session) Scopes(ctx context.Context) ([]Scope, error) {
	frame, epoch, err := s.activeFrameEpoch(ctx)
	if err != nil {
		return nil, err
	}
	client, err := s.live()
	if err != nil {
		return nil, err
	}

	resp, err := client.Scopes(ctx, godap.ScopesArguments{FrameId: frame.ID})
	if err != nil {
		return nil, fmt.Errorf("scopes: %w", err)
	}
	scopes := make([]Scope, len(resp))
	for i, sc := range resp {
		scopes[i] = Scope{
			Name:             sc.Name,
			PresentationHint: sc.PresentationHint,
			Ref:              Reference{ID: sc.VariablesReference, Epoch: epoch},
			NamedVariables:   sc.NamedVariables,
			IndexedVariables: sc.IndexedVariables,
			Expensive:        sc.Expensive,
		}
	}
	return scopes, nil
}

// ResolveVariables fetches every scope of the active frame and returns their
// top-level variables as one list, in scope order. The list is also
// published as EventVariablesUpdated.
func (s *Session) ResolveVariables(ctx context.Context) ([]Variable, error) {
	scopes, err := s.Scopes(ctx)
	if err != nil {
		return nil, err
	}
	var vars []Variable
	for _, sc := range scopes {
		children, err := s.Expand(ctx, sc.Ref, Page{})
		if err != nil {
			return nil, fmt.Errorf("scope %s: %w", sc.Name, err)
		}
		for _, v := range children {
			v.Scope = sc.Name
			vars = append(vars, v)
		}
	}
	s.publish(Event{Kind: EventVariablesUpdated, Variables: vars})
	return vars, nil
}

// Expand fetches the children of a scope or variable.
func (s *Session) Expand(ctx context.Context, ref Reference, page Page) ([]Variable, error) {
	client, err := s.checkReference(ref)
	if err != nil {
		return nil, err
	}
	if !ref.Valid() {
		return nil, nil
	}
	resp, err := client.Variables(ctx, godap.VariablesArguments{
		VariablesReference: ref.ID,
		Filter:             page.Filter,
		Start:              page.Start,
		Count:              page.Count,
	})
	if err != nil {
		return nil, fmt.Errorf("variables: %w", err)
	}
	vars := make([]Variable, len(resp))
	for i, v := range resp {
		vars[i] = Variable{
			Name:             v.Name,
			Value:            v.Value,
			Type:             v.Type,
			EvaluateName:     v.EvaluateName,
			Ref:              Reference{ID: v.VariablesReference, Epoch: ref.Epoch},
			NamedVariables:   v.NamedVariables,
			IndexedVariables: v.IndexedVariables,
			MemoryReference:  v.MemoryReference,
		}
	}
	return vars, nil
}

// SetVariable assigns value to the child name of container and returns the
// updated variable.
func (s *Session) SetVariable(ctx context.Context, container Reference, name, value string) (Variable, error) {
	client, err := s.checkReference(container)
	if err != nil {
		return Variable{}, err
	}
	if !s.Capabilities().SupportsSetVariable {
		return Variable{}, unsupported("setVariable")
	}
	body, err := client.SetVariable(ctx, godap.SetVariableArguments{
		VariablesReference: container.ID,
		Name:               name,
		Value:              value,
	})
	if err != nil {
		return Variable{}, fmt.Errorf("set variable %s: %w", name, err)
	}
	return Variable{
		Name:             name,
		Value:            body.Value,
		Type:             body.Type,
		Ref:              Reference{ID: body.VariablesReference, Epoch: container.Epoch},
		NamedVariables:   body.NamedVariables,
		IndexedVariables: body.IndexedVariables,
	}, nil
}

// Evaluate evaluates expression in the active frame, or globally when the
// debuggee is not stopped. evalContext is "watch", "repl", "hover" or "".
func (s *Session) Evaluate(ctx context.Context, expression, evalContext string) (Variable, error) {
	client, err := s.live()
	if err != nil {
		return Variable{}, err
	}
	// The frame's epoch replaces this one when there is a frame.
	frameID, epoch := 0, s.currentEpoch()
	if s.State() == StateStopped {
		if f, e, err := s.activeFrameEpoch(ctx); err == nil {
			frameID, epoch = f.ID, e
		}
	}

	body, err := client.Evaluate(ctx, godap.EvaluateArguments{
		Expression: expression,
		FrameId:    frameID,
		Context:    evalContext,
	})
	if err != nil {
		return Variable{}, fmt.Errorf("evaluate %q: %w", expression, err)
	}
	return Variable{
		Name:             expression,
		Value:            body.Result,
		Type:             body.Type,
		EvaluateName:     expression,
		Ref:              Reference{ID: body.VariablesReference, Epoch: epoch},
		NamedVariables:   body.NamedVariables,
		IndexedVariables: body.IndexedVariables,
		MemoryReference:  body.MemoryReference,
	}, nil
}

// checkReference rejects references issued before the last resume.
func (s *Session) checkReference(ref Reference) (*dap.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil || s.run.client == nil {
		return nil, ErrNotStarted
	}
	if ref.Epoch != s.epoch {
		return nil, fmt.Errorf("%w: reference %d", ErrStaleReference, ref.ID)
	}
	return s.run.client, nil
}

func (s *Session) currentEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

func hasThread(threads []Thread, id int) bool {
	for _, t := range threads {
		if t.ID == id {
			return true
		}
	}
	return false
}

func removeThread(threads []Thread, id int) []Thread {
	out := threads[:0]
	for _, t := range threads {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}

// WatchResult is the value of one watch expression.
type WatchResult struct {
	Expression string
	Value      Variable
	Err        error
}

// AddWatch adds a watch expression.
func (s *Session) AddWatch(expression string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watches = append(s.watches, expression)
}

// RemoveWatch removes the watch at index.
func (s *Session) RemoveWatch(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.watches) {
		return fmt.Errorf("watch %d: %w", index, ErrNotFound)
	}
	s.watches = append(s.watches[:index], s.watches[index+1:]...)
	return nil
}

// Watches returns the watch expressions.
func (s *Session) Watches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.watches...)
}

// EvaluateWatches evaluates every watch expression in the active frame.
// A failing expression is reported in its result, not as an error.
func (s *Session) EvaluateWatches(ctx context.Context) []WatchResult {
	exprs := s.Watches()
	out := make([]WatchResult, len(exprs))
	for i, expr := range exprs {
		v, err := s.Evaluate(ctx, expr, "watch")
		out[i] = WatchResult{Expression: expr, Value: v, Err: err}
	}
	return out
}
