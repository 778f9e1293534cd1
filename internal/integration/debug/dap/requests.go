package dap

import (
	"context"
	"encoding/json"

	godap "github.com/google/go-dap"
)

// Launch sends the launch request. Some adapters only answer after
// configurationDone, so callers usually run it on its own goroutine.
func (c *Client) Launch(ctx context.Context, args json.RawMessage) error {
	req := &godap.LaunchRequest{Request: newRequest(CommandLaunch), Arguments: args}
	_, err := c.Send(ctx, req)
	return err
}

// Attach sends the attach request.
func (c *Client) Attach(ctx context.Context, args json.RawMessage) error {
	req := &godap.AttachRequest{Request: newRequest(CommandAttach), Arguments: args}
	_, err := c.Send(ctx, req)
	return err
}

// ConfigurationDone ends the configuration phase.
func (c *Client) ConfigurationDone(ctx context.Context) error {
	req := &godap.ConfigurationDoneRequest{Request: newRequest("configurationDone")}
	_, err := c.Send(ctx, req)
	return err
}

// Disconnect asks the adapter to end the session.
func (c *Client) Disconnect(ctx context.Context, args godap.DisconnectArguments) error {
	req := &godap.DisconnectRequest{Request: newRequest(CommandDisconnect), Arguments: &args}
	_, err := c.Send(ctx, req)
	return err
}

// Terminate asks the debuggee to terminate itself gracefully.
func (c *Client) Terminate(ctx context.Context, args godap.TerminateArguments) error {
	req := &godap.TerminateRequest{Request: newRequest(CommandTerminate), Arguments: &args}
	_, err := c.Send(ctx, req)
	return err
}

// SetBreakpoints replaces all source breakpoints of one file.
func (c *Client) SetBreakpoints(ctx context.Context, args godap.SetBreakpointsArguments) ([]godap.Breakpoint, error) {
	req := &godap.SetBreakpointsRequest{Request: newRequest("setBreakpoints"), Arguments: args}
	resp, err := roundtrip[*godap.SetBreakpointsResponse](ctx, c, req)
	if err != nil {
		return nil, err
	}
	return resp.Body.Breakpoints, nil
}

// SetFunctionBreakpoints replaces all function breakpoints.
func (c *Client) SetFunctionBreakpoints(ctx context.Context, args godap.SetFunctionBreakpointsArguments) ([]godap.Breakpoint, error) {
	req := &godap.SetFunctionBreakpointsRequest{Request: newRequest("setFunctionBreakpoints"), Arguments: args}
	resp, err := roundtrip[*godap.SetFunctionBreakpointsResponse](ctx, c, req)
	if err != nil {
		return nil, err
	}
	return resp.Body.Breakpoints, nil
}

// SetExceptionBreakpoints configures exception filters.
func (c *Client) SetExceptionBreakpoints(ctx context.Context, args godap.SetExceptionBreakpointsArguments) error {
	req := &godap.SetExceptionBreakpointsRequest{Request: newRequest("setExceptionBreakpoints"), Arguments: args}
	_, err := c.Send(ctx, req)
	return err
}

// Continue resumes execution. It reports whether all threads resumed.
func (c *Client) Continue(ctx context.Context, args godap.ContinueArguments) (bool, error) {
	req := &godap.ContinueRequest{Request: newRequest("continue"), Arguments: args}
	resp, err := roundtrip[*godap.ContinueResponse](ctx, c, req)
	if err != nil {
		return false, err
	}
	return resp.Body.AllThreadsContinued, nil
}

// Next steps over.
func (c *Client) Next(ctx context.Context, args godap.NextArguments) error {
	req := &godap.NextRequest{Request: newRequest("next"), Arguments: args}
	_, err := c.Send(ctx, req)
	return err
}

// StepIn steps into, optionally to a specific target.
func (c *Client) StepIn(ctx context.Context, args godap.StepInArguments) error {
	req := &godap.StepInRequest{Request: newRequest("stepIn"), Arguments: args}
	_, err := c.Send(ctx, req)
	return err
}

// StepOut steps out of the current function.
func (c *Client) StepOut(ctx context.Context, args godap.StepOutArguments) error {
	req := &godap.StepOutRequest{Request: newRequest("stepOut"), Arguments: args}
	_, err := c.Send(ctx, req)
	return err
}

// StepBack steps backwards (reverse debugging).
func (c *Client) StepBack(ctx context.Context, args godap.StepBackArguments) error {
	req := &godap.StepBackRequest{Request: newRequest("stepBack"), Arguments: args}
	_, err := c.Send(ctx, req)
	return err
}

// ReverseContinue runs backwards to the previous stop.
func (c *Client) ReverseContinue(ctx context.Context, args godap.ReverseContinueArguments) error {
	req := &godap.ReverseContinueRequest{Request: newRequest("reverseContinue"), Arguments: args}
	_, err := c.Send(ctx, req)
	return err
}

// Pause suspends a thread.
func (c *Client) Pause(ctx context.Context, args godap.PauseArguments) error {
	req := &godap.PauseRequest{Request: newRequest("pause"), Arguments: args}
	_, err := c.Send(ctx, req)
	return err
}

// Threads lists the debuggee threads.
func (c *Client) Threads(ctx context.Context) ([]godap.Thread, error) {
	req := &godap.ThreadsRequest{Request: newRequest("threads")}
	resp, err := roundtrip[*godap.ThreadsResponse](ctx, c, req)
	if err != nil {
		return nil, err
	}
	return resp.Body.Threads, nil
}

// StackTrace returns frames of a thread and the total frame count.
func (c *Client) StackTrace(ctx context.Context, args godap.StackTraceArguments) ([]godap.StackFrame, int, error) {
	req := &godap.StackTraceRequest{Request: newRequest("stackTrace"), Arguments: args}
	resp, err := roundtrip[*godap.StackTraceResponse](ctx, c, req)
	if err != nil {
		return nil, 0, err
	}
	return resp.Body.StackFrames, resp.Body.TotalFrames, nil
}

// Scopes returns the scopes of a frame.
func (c *Client) Scopes(ctx context.Context, args godap.ScopesArguments) ([]godap.Scope, error) {
	req := &godap.ScopesRequest{Request: newRequest("scopes"), Arguments: args}
	resp, err := roundtrip[*godap.ScopesResponse](ctx, c, req)
	if err != nil {
		return nil, err
	}
	return resp.Body.Scopes, nil
}

// Variables returns the children of a variables reference.
func (c *Client) Variables(ctx context.Context, args godap.VariablesArguments) ([]godap.Variable, error) {
	req := &godap.VariablesRequest{Request: newRequest("variables"), Arguments: args}
	resp, err := roundtrip[*godap.VariablesResponse](ctx, c, req)
	if err != nil {
		return nil, err
	}
	return resp.Body.Variables, nil
}

// SetVariable assigns a new value to a variable.
func (c *Client) SetVariable(ctx context.Context, args godap.SetVariableArguments) (godap.SetVariableResponseBody, error) {
	req := &godap.SetVariableRequest{Request: newRequest("setVariable"), Arguments: args}
	resp, err := roundtrip[*godap.SetVariableResponse](ctx, c, req)
	if err != nil {
		return godap.SetVariableResponseBody{}, err
	}
	return resp.Body, nil
}

// Evaluate evaluates an expression in the context of a frame.
func (c *Client) Evaluate(ctx context.Context, args godap.EvaluateArguments) (godap.EvaluateResponseBody, error) {
	req := &godap.EvaluateRequest{Request: newRequest("evaluate"), Arguments: args}
	resp, err := roundtrip[*godap.EvaluateResponse](ctx, c, req)
	if err != nil {
		return godap.EvaluateResponseBody{}, err
	}
	return resp.Body, nil
}

// ReadMemory reads bytes at a memory reference. Data is base64 encoded.
func (c *Client) ReadMemory(ctx context.Context, args godap.ReadMemoryArguments) (godap.ReadMemoryResponseBody, error) {
	req := &godap.ReadMemoryRequest{Request: newRequest("readMemory"), Arguments: args}
	resp, err := roundtrip[*godap.ReadMemoryResponse](ctx, c, req)
	if err != nil {
		return godap.ReadMemoryResponseBody{}, err
	}
	return resp.Body, nil
}

// WriteMemory writes base64 encoded bytes at a memory reference.
func (c *Client) WriteMemory(ctx context.Context, args godap.WriteMemoryArguments) (godap.WriteMemoryResponseBody, error) {
	req := &godap.WriteMemoryRequest{Request: newRequest("writeMemory"), Arguments: args}
	resp, err := roundtrip[*godap.WriteMemoryResponse](ctx, c, req)
	if err != nil {
		return godap.WriteMemoryResponseBody{}, err
	}
	return resp.Body, nil
}

// Disassemble disassembles code at a memory reference.
func (c *Client) Disassemble(ctx context.Context, args godap.DisassembleArguments) ([]godap.DisassembledInstruction, error) {
	req := &godap.DisassembleRequest{Request: newRequest("disassemble"), Arguments: args}
	resp, err := roundtrip[*godap.DisassembleResponse](ctx, c, req)
	if err != nil {
		return nil, err
	}
	return resp.Body.Instructions, nil
}

// GotoTargets lists jump destinations at a source position.
func (c *Client) GotoTargets(ctx context.Context, args godap.GotoTargetsArguments) ([]godap.GotoTarget, error) {
	req := &godap.GotoTargetsRequest{Request: newRequest("gotoTargets"), Arguments: args}
	resp, err := roundtrip[*godap.GotoTargetsResponse](ctx, c, req)
	if err != nil {
		return nil, err
	}
	return resp.Body.Targets, nil
}

// Goto jumps a thread to a goto target.
func (c *Client) Goto(ctx context.Context, args godap.GotoArguments) error {
	req := &godap.GotoRequest{Request: newRequest("goto"), Arguments: args}
	_, err := c.Send(ctx, req)
	return err
}

// StepInTargets lists the calls that stepIn could enter from a frame.
func (c *Client) StepInTargets(ctx context.Context, args godap.StepInTargetsArguments) ([]godap.StepInTarget, error) {
	req := &godap.StepInTargetsRequest{Request: newRequest("stepInTargets"), Arguments: args}
	resp, err := roundtrip[*godap.StepInTargetsResponse](ctx, c, req)
	if err != nil {
		return nil, err
	}
	return resp.Body.Targets, nil
}

// Cancel asks the adapter to cancel an earlier request or progress. The
// original request still completes through its own response.
func (c *Client) Cancel(ctx context.Context, args godap.CancelArguments) error {
	req := &godap.CancelRequest{Request: newRequest(CommandCancel), Arguments: &args}
	_, err := c.Send(ctx, req)
	return err
}
