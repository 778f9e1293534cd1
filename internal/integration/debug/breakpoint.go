package debug

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	godap "github.com/google/go-dap"

	"github.com/dshills/dapper/internal/integration/debug/dap"
)

// SourceBreakpoint is a requested line breakpoint.
type SourceBreakpoint struct {
	Line         int    `json:"line"`
	Condition    string `json:"condition,omitempty"`
	HitCondition string `json:"hitCondition,omitempty"`
	LogMessage   string `json:"logMessage,omitempty"`
}

// Breakpoint is a line breakpoint as known to the session.
type Breakpoint struct {
	// ID is assigned by the adapter; 0 until the breakpoint was sent.
	ID       int    `json:"id,omitempty"`
	Verified bool   `json:"verified"`
	Path     string `json:"path"`
	// Line is the effective line. The adapter may move a breakpoint to the
	// nearest line with code.
	Line int `json:"line"`
	// RequestedLine is the line the caller asked for.
	RequestedLine int    `json:"requestedLine"`
	Message       string `json:"message,omitempty"`
	Condition     string `json:"condition,omitempty"`
	HitCondition  string `json:"hitCondition,omitempty"`
	LogMessage    string `json:"logMessage,omitempty"`
}

// Moved reports whether the adapter placed the breakpoint on another line.
func (b Breakpoint) Moved() bool {
	return b.Line != b.RequestedLine
}

func (b Breakpoint) source() SourceBreakpoint {
	return SourceBreakpoint{
		Line:         b.RequestedLine,
		Condition:    b.Condition,
		HitCondition: b.HitCondition,
		LogMessage:   b.LogMessage,
	}
}

// FunctionBreakpoint breaks on entry to a named function.
type FunctionBreakpoint struct {
	Name         string `json:"name"`
	Condition    string `json:"condition,omitempty"`
	HitCondition string `json:"hitCondition,omitempty"`
	ID           int    `json:"id,omitempty"`
	Verified     bool   `json:"verified"`
	Message      string `json:"message,omitempty"`
}

// breakpointRegistry holds every breakpoint of a session. The set for a
// source path is always replaced as a whole.
type breakpointRegistry struct {
	mu        sync.RWMutex
	byPath    map[string][]Breakpoint
	functions []FunctionBreakpoint
	filters   []string
	filterSet bool
}

func newBreakpointRegistry() *breakpointRegistry {
	return &breakpointRegistry{byPath: make(map[string][]Breakpoint)}
}

// replace swaps the set for path and returns the previous one.
func (r *breakpointRegistry) replace(path string, bps []Breakpoint) []Breakpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.byPath[path]
	if len(bps) == 0 {
		delete(r.byPath, path)
		return prev
	}
	r.byPath[path] = bps
	return prev
}

func (r *breakpointRegistry) forPath(path string) []Breakpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Breakpoint(nil), r.byPath[path]...)
}

func (r *breakpointRegistry) paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byPath))
	for p := range r.byPath {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (r *breakpointRegistry) all() []Breakpoint {
	var out []Breakpoint
	for _, p := range r.paths() {
		out = append(out, r.forPath(p)...)
	}
	return out
}

func (r *breakpointRegistry) find(id int) (Breakpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, bps := range r.byPath {
		for _, bp := range bps {
			if bp.ID == id && id != 0 {
				return bp, true
			}
		}
	}
	return Breakpoint{}, false
}

// applyEvent updates the registry from an adapter breakpoint event. It
// returns the affected breakpoint and whether anything changed.
func (r *breakpointRegistry) applyEvent(reason string, ev godap.Breakpoint) (Breakpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.Id == 0 {
		return Breakpoint{}, false
	}
	for path, bps := range r.byPath {
		for i, bp := range bps {
			if bp.ID != ev.Id {
				continue
			}
			if reason == "removed" {
				r.byPath[path] = append(bps[:i:i], bps[i+1:]...)
				if len(r.byPath[path]) == 0 {
					delete(r.byPath, path)
				}
				return bp, true
			}
			updated := bp
			updated.Verified = ev.Verified
			updated.Message = ev.Message
			if ev.Line != 0 {
				updated.Line = ev.Line
			}
			if updated == bp {
				return bp, false
			}
			bps[i] = updated
			return updated, true
		}
	}

	if reason != "new" || ev.Source == nil || ev.Source.Path == "" {
		return Breakpoint{}, false
	}
	path := normalizePath(ev.Source.Path)
	bp := Breakpoint{
		ID:            ev.Id,
		Verified:      ev.Verified,
		Path:          path,
		Line:          ev.Line,
		RequestedLine: ev.Line,
		Message:       ev.Message,
	}
	r.byPath[path] = append(r.byPath[path], bp)
	return bp, true
}

func normalizePath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// unverified returns local entries for specs that were not sent.
func unverified(path string, specs []SourceBreakpoint) []Breakpoint {
	out := make([]Breakpoint, 0, len(specs))
	for _, sp := range specs {
		out = append(out, Breakpoint{
			Path:          path,
			Line:          sp.Line,
			RequestedLine: sp.Line,
			Condition:     sp.Condition,
			HitCondition:  sp.HitCondition,
			LogMessage:    sp.LogMessage,
		})
	}
	return out
}

// SetBreakpoints replaces every breakpoint in path with specs. While the
// session is not connected the set is only recorded and sent on the next
// Start.
func (s *Session) SetBreakpoints(ctx context.Context, path string, specs []SourceBreakpoint) ([]Breakpoint, error) {
	path = normalizePath(path)

	client, err := s.configurable()
	if err != nil {
		bps := unverified(path, specs)
		s.bps.replace(path, bps)
		return bps, nil
	}
	bps, err := s.sendBreakpoints(ctx, client, path, specs)
	if err != nil {
		return nil, err
	}
	return bps, nil
}

// configurable returns the client once the adapter accepts breakpoints.
func (s *Session) configurable() (*dap.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateConfiguring, StateRunning, StateStopped, StateTerminated:
		if s.run != nil && s.run.client != nil {
			return s.run.client, nil
		}
	}
	return nil, ErrNotStarted
}

func (s *Session) sendBreakpoints(ctx context.Context, client *dap.Client, path string, specs []SourceBreakpoint) ([]Breakpoint, error) {
	args := godap.SetBreakpointsArguments{
		Source:      godap.Source{Name: filepath.Base(path), Path: path},
		Breakpoints: make([]godap.SourceBreakpoint, 0, len(specs)),
	}
	for _, sp := range specs {
		args.Breakpoints = append(args.Breakpoints, godap.SourceBreakpoint{
			Line:         sp.Line,
			Condition:    sp.Condition,
			HitCondition: sp.HitCondition,
			LogMessage:   sp.LogMessage,
		})
		args.Lines = append(args.Lines, sp.Line)
	}

	resp, err := client.SetBreakpoints(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("set breakpoints in %s: %w", path, err)
	}

	// Results are positional.
	bps := unverified(path, specs)
	for i := range bps {
		if i >= len(resp) {
			bps[i].Message = "no result from adapter"
			continue
		}
		got := resp[i]
		bps[i].ID = got.Id
		bps[i].Verified = got.Verified
		bps[i].Message = got.Message
		if got.Line != 0 {
			bps[i].Line = got.Line
		}
	}
	prev := s.bps.replace(path, bps)

	// Only report placements that differ from what was already known.
	known := make(map[int]int, len(prev))
	for _, bp := range prev {
		known[bp.RequestedLine] = bp.Line
	}
	for i := range bps {
		if !bps[i].Moved() {
			continue
		}
		if line, ok := known[bps[i].RequestedLine]; ok && line == bps[i].Line {
			continue
		}
		bp := bps[i]
		s.publish(Event{Kind: EventBreakpointChanged, Reason: "changed", Breakpoint: &bp})
	}
	return bps, nil
}

// ToggleBreakpoint adds a breakpoint on line, or removes the one there. It
// reports whether a breakpoint was added.
func (s *Session) ToggleBreakpoint(ctx context.Context, path string, line int) (bool, error) {
	path = normalizePath(path)
	current := s.bps.forPath(path)

	specs := make([]SourceBreakpoint, 0, len(current)+1)
	removed := false
	for _, bp := range current {
		if bp.RequestedLine == line || bp.Line == line {
			removed = true
			continue
		}
		specs = append(specs, bp.source())
	}
	if !removed {
		specs = append(specs, SourceBreakpoint{Line: line})
	}
	if _, err := s.SetBreakpoints(ctx, path, specs); err != nil {
		return false, err
	}
	return !removed, nil
}

// RemoveBreakpoint removes the breakpoint with the adapter-assigned id.
func (s *Session) RemoveBreakpoint(ctx context.Context, id int) error {
	bp, ok := s.bps.find(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrBreakpointNotFound, id)
	}
	var specs []SourceBreakpoint
	for _, other := range s.bps.forPath(bp.Path) {
		if other.ID != id {
			specs = append(specs, other.source())
		}
	}
	_, err := s.SetBreakpoints(ctx, bp.Path, specs)
	return err
}

// ClearBreakpoints removes every breakpoint in path.
func (s *Session) ClearBreakpoints(ctx context.Context, path string) error {
	_, err := s.SetBreakpoints(ctx, path, nil)
	return err
}

// Breakpoints returns the breakpoints in path.
func (s *Session) Breakpoints(path string) []Breakpoint {
	return s.bps.forPath(normalizePath(path))
}

// AllBreakpoints returns every line breakpoint ordered by path.
func (s *Session) AllBreakpoints() []Breakpoint {
	return s.bps.all()
}

// Breakpoint returns the breakpoint with the adapter-assigned id.
func (s *Session) Breakpoint(id int) (Breakpoint, error) {
	bp, ok := s.bps.find(id)
	if !ok {
		return Breakpoint{}, fmt.Errorf("%w: %d", ErrBreakpointNotFound, id)
	}
	return bp, nil
}

// SetFunctionBreakpoints replaces every function breakpoint.
func (s *Session) SetFunctionBreakpoints(ctx context.Context, specs []FunctionBreakpoint) ([]FunctionBreakpoint, error) {
	local := make([]FunctionBreakpoint, len(specs))
	for i, sp := range specs {
		local[i] = FunctionBreakpoint{Name: sp.Name, Condition: sp.Condition, HitCondition: sp.HitCondition}
	}

	client, err := s.configurable()
	if err != nil {
		s.bps.mu.Lock()
		s.bps.functions = local
		s.bps.mu.Unlock()
		return local, nil
	}
	if !s.Capabilities().SupportsFunctionBreakpoints {
		return nil, unsupported("setFunctionBreakpoints")
	}
	return s.sendFunctionBreakpoints(ctx, client, local)
}

func (s *Session) sendFunctionBreakpoints(ctx context.Context, client *dap.Client, bps []FunctionBreakpoint) ([]FunctionBreakpoint, error) {
	args := godap.SetFunctionBreakpointsArguments{Breakpoints: make([]godap.FunctionBreakpoint, 0, len(bps))}
	for _, bp := range bps {
		args.Breakpoints = append(args.Breakpoints, godap.FunctionBreakpoint{
			Name:         bp.Name,
			Condition:    bp.Condition,
			HitCondition: bp.HitCondition,
		})
	}
	resp, err := client.SetFunctionBreakpoints(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("set function breakpoints: %w", err)
	}
	out := append([]FunctionBreakpoint(nil), bps...)
	for i := range out {
		if i < len(resp) {
			out[i].ID = resp[i].Id
			out[i].Verified = resp[i].Verified
			out[i].Message = resp[i].Message
		}
	}
	s.bps.mu.Lock()
	s.bps.functions = out
	s.bps.mu.Unlock()
	return out, nil
}

// FunctionBreakpoints returns the function breakpoints.
func (s *Session) FunctionBreakpoints() []FunctionBreakpoint {
	s.bps.mu.RLock()
	defer s.bps.mu.RUnlock()
	return append([]FunctionBreakpoint(nil), s.bps.functions...)
}

// SetExceptionFilters selects the exception filters to break on. Filter ids
// come from the adapter's exceptionBreakpointFilters capability.
func (s *Session) SetExceptionFilters(ctx context.Context, filters []string) error {
	s.bps.mu.Lock()
	s.bps.filters = append([]string(nil), filters...)
	s.bps.filterSet = true
	s.bps.mu.Unlock()

	client, err := s.configurable()
	if err != nil {
		return nil
	}
	if err := client.SetExceptionBreakpoints(ctx, godap.SetExceptionBreakpointsArguments{Filters: filters}); err != nil {
		return fmt.Errorf("set exception breakpoints: %w", err)
	}
	return nil
}

// exceptionFilters returns the explicitly chosen filters, else the
// adapter's defaults.
func (s *Session) exceptionFilters(caps godap.Capabilities) []string {
	s.bps.mu.RLock()
	defer s.bps.mu.RUnlock()
	if s.bps.filterSet {
		return append([]string{}, s.bps.filters...)
	}
	var out []string
	for _, f := range caps.ExceptionBreakpointFilters {
		if f.Default {
			out = append(out, f.Filter)
		}
	}
	return out
}

// syncBreakpoints sends the whole registry during the configuration phase.
// Failures are logged so one bad file does not stop the session.
func (s *Session) syncBreakpoints(ctx context.Context, client *dap.Client, caps godap.Capabilities) {
	for _, path := range s.bps.paths() {
		current := s.bps.forPath(path)
		specs := make([]SourceBreakpoint, len(current))
		for i, bp := range current {
			specs[i] = bp.source()
		}
		if _, err := s.sendBreakpoints(ctx, client, path, specs); err != nil {
			s.logger.Warn("replaying breakpoints failed", "path", path, "error", err)
		}
	}

	if fns := s.FunctionBreakpoints(); len(fns) > 0 {
		if caps.SupportsFunctionBreakpoints {
			if _, err := s.sendFunctionBreakpoints(ctx, client, fns); err != nil {
				s.logger.Warn("replaying function breakpoints failed", "error", err)
			}
		} else {
			s.logger.Warn("adapter does not support function breakpoints", "count", len(fns))
		}
	}

	filters := s.exceptionFilters(caps)
	if len(caps.ExceptionBreakpointFilters) > 0 || len(filters) > 0 {
		err := client.SetExceptionBreakpoints(ctx, godap.SetExceptionBreakpointsArguments{Filters: filters})
		if err != nil {
			s.logger.Warn("setting exception filters failed", "error", err)
		}
	}
}

// breakpointSnapshot is the saved form of a registry.
type breakpointSnapshot struct {
	Lines     map[string][]SourceBreakpoint `json:"lines,omitempty"`
	Functions []FunctionBreakpoint          `json:"functions,omitempty"`
	Filters   []string                      `json:"exceptionFilters,omitempty"`
}

// ExportBreakpoints encodes the requested breakpoints as JSON.
func (s *Session) ExportBreakpoints() ([]byte, error) {
	snap := breakpointSnapshot{Lines: make(map[string][]SourceBreakpoint)}
	for _, path := range s.bps.paths() {
		for _, bp := range s.bps.forPath(path) {
			snap.Lines[path] = append(snap.Lines[path], bp.source())
		}
	}
	for _, fn := range s.FunctionBreakpoints() {
		snap.Functions = append(snap.Functions, FunctionBreakpoint{Name: fn.Name, Condition: fn.Condition, HitCondition: fn.HitCondition})
	}
	s.bps.mu.RLock()
	if s.bps.filterSet {
		snap.Filters = append([]string{}, s.bps.filters...)
	}
	s.bps.mu.RUnlock()
	return json.MarshalIndent(snap, "", "  ")
}

// ImportBreakpoints replaces the registry with data from ExportBreakpoints.
// On a connected session every set is sent to the adapter.
func (s *Session) ImportBreakpoints(ctx context.Context, data []byte) error {
	var snap breakpointSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode breakpoints: %w", err)
	}
	for _, path := range s.bps.paths() {
		if _, ok := snap.Lines[path]; !ok {
			if err := s.ClearBreakpoints(ctx, path); err != nil {
				return err
			}
		}
	}
	for path, specs := range snap.Lines {
		if _, err := s.SetBreakpoints(ctx, path, specs); err != nil {
			return err
		}
	}
	if len(snap.Functions) > 0 {
		if _, err := s.SetFunctionBreakpoints(ctx, snap.Functions); err != nil {
			return err
		}
	}
	if snap.Filters != nil {
		return s.SetExceptionFilters(ctx, snap.Filters)
	}
	return nil
}
