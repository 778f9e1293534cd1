package debug

import (
	"context"
	"encoding/base64"
	"fmt"

	godap "github.com/google/go-dap"
)

// MemoryBlock is the result of a memory read.
type MemoryBlock struct {
	// Address is the address of the first byte read, as reported by the
	// adapter.
	Address string
	Data    []byte
	// Unreadable is the number of bytes after Data that could not be read.
	Unreadable int
}

// Instruction is one disassembled instruction.
type Instruction struct {
	Address string
	Bytes   string
	Text    string
	Symbol  string
	Path    string
	Line    int
}

// ReadMemory reads count bytes at offset from the memory reference.
func (s *Session) ReadMemory(ctx context.Context, memoryRef string, offset, count int) (MemoryBlock, error) {
	client, err := s.live()
	if err != nil {
		return MemoryBlock{}, err
	}
	if !s.Capabilities().SupportsReadMemoryRequest {
		return MemoryBlock{}, unsupported("readMemory")
	}
	body, err := client.ReadMemory(ctx, godap.ReadMemoryArguments{
		MemoryReference: memoryRef,
		Offset:          offset,
		Count:           count,
	})
	if err != nil {
		return MemoryBlock{}, fmt.Errorf("read memory %s: %w", memoryRef, err)
	}
	data, err := base64.StdEncoding.DecodeString(body.Data)
	if err != nil {
		return MemoryBlock{}, fmt.Errorf("read memory %s: decode data: %w", memoryRef, err)
	}
	return MemoryBlock{Address: body.Address, Data: data, Unreadable: body.UnreadableBytes}, nil
}

// WriteMemory writes data at offset from the memory reference and returns
// the number of bytes written. With allowPartial the adapter may write a
// prefix of data.
func (s *Session) WriteMemory(ctx context.Context, memoryRef string, offset int, data []byte, allowPartial bool) (int, error) {
	client, err := s.live()
	if err != nil {
		return 0, err
	}
	if !s.Capabilities().SupportsWriteMemoryRequest {
		return 0, unsupported("writeMemory")
	}
	body, err := client.WriteMemory(ctx, godap.WriteMemoryArguments{
		MemoryReference: memoryRef,
		Offset:          offset,
		AllowPartial:    allowPartial,
		Data:            base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return 0, fmt.Errorf("write memory %s: %w", memoryRef, err)
	}
	// Adapters may omit bytesWritten when everything was written.
	if body.BytesWritten == 0 && !allowPartial {
		return len(data), nil
	}
	return body.BytesWritten, nil
}

// Disassemble disassembles count instructions starting instructionOffset
// instructions from the memory reference plus offset bytes.
func (s *Session) Disassemble(ctx context.Context, memoryRef string, offset, instructionOffset, count int, resolveSymbols bool) ([]Instruction, error) {
	client, err := s.live()
	if err != nil {
		return nil, err
	}
	if !s.Capabilities().SupportsDisassembleRequest {
		return nil, unsupported("disassemble")
	}
	resp, err := client.Disassemble(ctx, godap.DisassembleArguments{
		MemoryReference:   memoryRef,
		Offset:            offset,
		InstructionOffset: instructionOffset,
		InstructionCount:  count,
		ResolveSymbols:    resolveSymbols,
	})
	if err != nil {
		return nil, fmt.Errorf("disassemble %s: %w", memoryRef, err)
	}
	out := make([]Instruction, len(resp))
	for i, in := range resp {
		out[i] = Instruction{
			Address: in.Address,
			Bytes:   in.InstructionBytes,
			Text:    in.Instruction,
			Symbol:  in.Symbol,
			Line:    in.Line,
		}
		if in.Location != nil {
			out[i].Path = in.Location.Path
		}
	}
	return out, nil
}
