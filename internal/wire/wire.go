// Package wire implements the frame codec for the debug-control
// protocol: one prefix byte followed by a fixed-size payload or a
// length-prefixed string. Commands travel controller -> device, events
// travel device -> controller, on two independent byte streams.
//
// All 2-byte fields are big-endian. A logical string longer than
// MaxChunk bytes is split across consecutive frames of the same
// prefix: a chunk of exactly MaxChunk bytes is continued by the next
// frame, a shorter chunk terminates the string, and a string whose
// length is an exact multiple of MaxChunk is terminated by a
// zero-length chunk.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/vdbgsuite/vdbg/internal/device"
)

// MaxChunk is the largest payload one string frame can carry.
const MaxChunk = 255

// Command prefixes (inbound, controller -> device).
const (
	prefixStep            = 'e'
	prefixStepForce       = 'f'
	prefixSetBreakpoint   = 'b'
	prefixClearBreakpoint = 'c'
	prefixRequestDump     = 'd'
	prefixInputKey        = 'i'
	prefixInputString     = 't'
	prefixRequestMemory   = 'm'
	prefixRequestStack    = 's'
	prefixSetMemory       = 'n'
	prefixSetRegister     = 'r'
	prefixStop            = 'q'
)

// Event prefixes (outbound, device -> controller).
const (
	prefixOutput          = 'o'
	prefixErrorOutput     = 'e'
	prefixBreakpointHit   = 'h'
	prefixDumpResult      = 'd'
	prefixMemoryResult    = 'm'
	prefixStackResult     = 's'
	prefixKeyRequested    = 'k'
	prefixStringRequested = 't'
	prefixEndOfProgram    = 'f'
	prefixCrashed         = 'c'
)

// ErrShortFrame reports that the buffer ends before the frame does.
// The caller should read more bytes and retry.
var ErrShortFrame = errors.New("wire: incomplete frame")

// DecodeError reports an unrecognized prefix byte or a malformed
// fixed field. The session recovers by skipping one byte.
type DecodeError struct {
	Prefix byte
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("wire: bad frame %q: %s", e.Prefix, e.Reason)
	}
	return fmt.Sprintf("wire: unknown prefix %q", e.Prefix)
}

// Command is one decoded inbound frame (or chunk chain).
type Command interface{ isCommand() }

type (
	// StepCmd executes one instruction unless the device sits on a
	// breakpoint.
	StepCmd struct{}
	// StepForceCmd executes one instruction, skipping the breakpoint
	// check.
	StepForceCmd       struct{}
	SetBreakpointCmd   struct{ Addr uint16 }
	ClearBreakpointCmd struct{ Addr uint16 }
	RequestDumpCmd     struct{}
	InputKeyCmd        struct{ Key byte }
	InputStringCmd     struct{ Text string }
	RequestMemoryCmd   struct{ From, To uint16 }
	RequestStackCmd    struct{}
	SetMemoryCmd       struct {
		Addr uint16
		Data []byte
	}
	SetRegisterCmd struct {
		Reg   device.RegisterID
		Value uint16
	}
	StopCmd struct{}
)

func (StepCmd) isCommand()            {}
func (StepForceCmd) isCommand()       {}
func (SetBreakpointCmd) isCommand()   {}
func (ClearBreakpointCmd) isCommand() {}
func (RequestDumpCmd) isCommand()     {}
func (InputKeyCmd) isCommand()        {}
func (InputStringCmd) isCommand()     {}
func (RequestMemoryCmd) isCommand()   {}
func (RequestStackCmd) isCommand()    {}
func (SetMemoryCmd) isCommand()       {}
func (SetRegisterCmd) isCommand()     {}
func (StopCmd) isCommand()            {}

// Event is one decoded outbound frame (or chunk chain).
type Event interface{ isEvent() }

type (
	OutputEvent          struct{ Text string }
	ErrorOutputEvent     struct{ Text string }
	BreakpointHitEvent   struct{ Addr uint16 }
	DumpResultEvent      struct{ Text string }
	MemoryResultEvent    struct{ Data []byte }
	StackResultEvent     struct{ Data []byte }
	KeyRequestedEvent    struct{}
	StringRequestedEvent struct{}
	EndOfProgramEvent    struct{}
	CrashedEvent         struct{}
)

func (OutputEvent) isEvent()          {}
func (ErrorOutputEvent) isEvent()     {}
func (BreakpointHitEvent) isEvent()   {}
func (DumpResultEvent) isEvent()      {}
func (MemoryResultEvent) isEvent()    {}
func (StackResultEvent) isEvent()     {}
func (KeyRequestedEvent) isEvent()    {}
func (StringRequestedEvent) isEvent() {}
func (EndOfProgramEvent) isEvent()    {}
func (CrashedEvent) isEvent()         {}

// Named special keys accepted by InputKey alongside the printable
// ASCII range.
const (
	KeyBackspace = 0x08
	KeyTab       = 0x09
	KeyReturn    = 0x0d
	KeyEscape    = 0x1b
	KeySpace     = 0x20
)

// ValidKey reports whether b is an accepted key press: letters,
// digits, printable ASCII punctuation, or one of the named special
// keys.
func ValidKey(b byte) bool {
	if b > 0x20 && b < 0x7f {
		return true
	}
	switch b {
	case KeyBackspace, KeyTab, KeyReturn, KeyEscape, KeySpace:
		return true
	}
	return false
}

// AppendCommand appends the full wire encoding of cmd to dst,
// including all chunk frames for long strings. It panics on a
// SetMemoryCmd payload larger than MaxChunk, which no frame can carry.
func AppendCommand(dst []byte, cmd Command) []byte {
	switch c := cmd.(type) {
	case StepCmd:
		return append(dst, prefixStep)
	case StepForceCmd:
		return append(dst, prefixStepForce)
	case SetBreakpointCmd:
		return appendAddr(dst, prefixSetBreakpoint, c.Addr)
	case ClearBreakpointCmd:
		return appendAddr(dst, prefixClearBreakpoint, c.Addr)
	case RequestDumpCmd:
		return append(dst, prefixRequestDump)
	case InputKeyCmd:
		return append(dst, prefixInputKey, c.Key)
	case InputStringCmd:
		return appendChunked(dst, prefixInputString, []byte(c.Text))
	case RequestMemoryCmd:
		dst = appendAddr(dst, prefixRequestMemory, c.From)
		return binary.BigEndian.AppendUint16(dst, c.To)
	case RequestStackCmd:
		return append(dst, prefixRequestStack)
	case SetMemoryCmd:
		if len(c.Data) > MaxChunk {
			panic(fmt.Sprintf("wire: SetMemory payload of %d bytes exceeds %d", len(c.Data), MaxChunk))
		}
		dst = appendAddr(dst, prefixSetMemory, c.Addr)
		dst = append(dst, byte(len(c.Data)))
		return append(dst, c.Data...)
	case SetRegisterCmd:
		dst = append(dst, prefixSetRegister, byte(c.Reg))
		if c.Reg.Wide() {
			return binary.BigEndian.AppendUint16(dst, c.Value)
		}
		return append(dst, byte(c.Value))
	case StopCmd:
		return append(dst, prefixStop)
	}
	panic(fmt.Sprintf("wire: unknown command %T", cmd))
}

// AppendEvent appends the full wire encoding of ev to dst, including
// all chunk frames for long strings and byte payloads.
func AppendEvent(dst []byte, ev Event) []byte {
	switch e := ev.(type) {
	case OutputEvent:
		return appendChunked(dst, prefixOutput, []byte(e.Text))
	case ErrorOutputEvent:
		return appendChunked(dst, prefixErrorOutput, []byte(e.Text))
	case BreakpointHitEvent:
		return appendAddr(dst, prefixBreakpointHit, e.Addr)
	case DumpResultEvent:
		return appendChunked(dst, prefixDumpResult, []byte(e.Text))
	case MemoryResultEvent:
		return appendChunked(dst, prefixMemoryResult, e.Data)
	case StackResultEvent:
		return appendChunked(dst, prefixStackResult, e.Data)
	case KeyRequestedEvent:
		return append(dst, prefixKeyRequested)
	case StringRequestedEvent:
		return append(dst, prefixStringRequested)
	case EndOfProgramEvent:
		return append(dst, prefixEndOfProgram)
	case CrashedEvent:
		return append(dst, prefixCrashed)
	}
	panic(fmt.Sprintf("wire: unknown event %T", ev))
}

func appendAddr(dst []byte, prefix byte, addr uint16) []byte {
	dst = append(dst, prefix)
	return binary.BigEndian.AppendUint16(dst, addr)
}

// appendChunked splits data into MaxChunk-sized frames. A trailing
// zero-length frame terminates payloads that are a non-empty multiple
// of MaxChunk, so the decoder always sees a short final chunk.
func appendChunked(dst []byte, prefix byte, data []byte) []byte {
	for {
		n := len(data)
		if n > MaxChunk {
			n = MaxChunk
		}
		dst = append(dst, prefix, byte(n))
		dst = append(dst, data[:n]...)
		data = data[n:]
		if n < MaxChunk {
			return dst
		}
	}
}

// DecodeCommand decodes one logical command from the front of buf and
// returns it with the number of bytes consumed. It returns
// ErrShortFrame when buf ends mid-frame (or mid-chunk-chain) and a
// *DecodeError for an unrecognized prefix or malformed field.
func DecodeCommand(buf []byte) (Command, int, error) {
	if len(buf) == 0 {
		return nil, 0, ErrShortFrame
	}
	switch buf[0] {
	case prefixStep:
		return StepCmd{}, 1, nil
	case prefixStepForce:
		return StepForceCmd{}, 1, nil
	case prefixStop:
		return StopCmd{}, 1, nil
	case prefixRequestDump:
		return RequestDumpCmd{}, 1, nil
	case prefixRequestStack:
		return RequestStackCmd{}, 1, nil
	case prefixSetBreakpoint:
		addr, n, err := decodeAddr(buf)
		if err != nil {
			return nil, 0, err
		}
		return SetBreakpointCmd{Addr: addr}, n, nil
	case prefixClearBreakpoint:
		addr, n, err := decodeAddr(buf)
		if err != nil {
			return nil, 0, err
		}
		return ClearBreakpointCmd{Addr: addr}, n, nil
	case prefixInputKey:
		if len(buf) < 2 {
			return nil, 0, ErrShortFrame
		}
		if !ValidKey(buf[1]) {
			return nil, 0, &DecodeError{Prefix: buf[0], Reason: fmt.Sprintf("unsupported key byte 0x%02x", buf[1])}
		}
		return InputKeyCmd{Key: buf[1]}, 2, nil
	case prefixInputString:
		data, n, err := decodeChunked(buf, prefixInputString)
		if err != nil {
			return nil, 0, err
		}
		return InputStringCmd{Text: string(data)}, n, nil
	case prefixRequestMemory:
		if len(buf) < 5 {
			return nil, 0, ErrShortFrame
		}
		return RequestMemoryCmd{
			From: binary.BigEndian.Uint16(buf[1:3]),
			To:   binary.BigEndian.Uint16(buf[3:5]),
		}, 5, nil
	case prefixSetMemory:
		if len(buf) < 4 {
			return nil, 0, ErrShortFrame
		}
		n := int(buf[3])
		if len(buf) < 4+n {
			return nil, 0, ErrShortFrame
		}
		data := make([]byte, n)
		copy(data, buf[4:4+n])
		return SetMemoryCmd{Addr: binary.BigEndian.Uint16(buf[1:3]), Data: data}, 4 + n, nil
	case prefixSetRegister:
		if len(buf) < 2 {
			return nil, 0, ErrShortFrame
		}
		reg := device.RegisterID(buf[1])
		if !reg.Valid() {
			return nil, 0, &DecodeError{Prefix: buf[0], Reason: fmt.Sprintf("unknown register id %d", buf[1])}
		}
		if reg.Wide() {
			if len(buf) < 4 {
				return nil, 0, ErrShortFrame
			}
			return SetRegisterCmd{Reg: reg, Value: binary.BigEndian.Uint16(buf[2:4])}, 4, nil
		}
		if len(buf) < 3 {
			return nil, 0, ErrShortFrame
		}
		return SetRegisterCmd{Reg: reg, Value: uint16(buf[2])}, 3, nil
	}
	return nil, 0, &DecodeError{Prefix: buf[0]}
}

// DecodeEvent decodes one logical event from the front of buf, the
// mirror of DecodeCommand for the outbound channel.
func DecodeEvent(buf []byte) (Event, int, error) {
	if len(buf) == 0 {
		return nil, 0, ErrShortFrame
	}
	switch buf[0] {
	case prefixKeyRequested:
		return KeyRequestedEvent{}, 1, nil
	case prefixStringRequested:
		return StringRequestedEvent{}, 1, nil
	case prefixEndOfProgram:
		return EndOfProgramEvent{}, 1, nil
	case prefixCrashed:
		return CrashedEvent{}, 1, nil
	case prefixBreakpointHit:
		addr, n, err := decodeAddr(buf)
		if err != nil {
			return nil, 0, err
		}
		return BreakpointHitEvent{Addr: addr}, n, nil
	case prefixOutput:
		data, n, err := decodeChunked(buf, prefixOutput)
		if err != nil {
			return nil, 0, err
		}
		return OutputEvent{Text: string(data)}, n, nil
	case prefixErrorOutput:
		data, n, err := decodeChunked(buf, prefixErrorOutput)
		if err != nil {
			return nil, 0, err
		}
		return ErrorOutputEvent{Text: string(data)}, n, nil
	case prefixDumpResult:
		data, n, err := decodeChunked(buf, prefixDumpResult)
		if err != nil {
			return nil, 0, err
		}
		return DumpResultEvent{Text: string(data)}, n, nil
	case prefixMemoryResult:
		data, n, err := decodeChunked(buf, prefixMemoryResult)
		if err != nil {
			return nil, 0, err
		}
		return MemoryResultEvent{Data: data}, n, nil
	case prefixStackResult:
		data, n, err := decodeChunked(buf, prefixStackResult)
		if err != nil {
			return nil, 0, err
		}
		return StackResultEvent{Data: data}, n, nil
	}
	return nil, 0, &DecodeError{Prefix: buf[0]}
}

func decodeAddr(buf []byte) (uint16, int, error) {
	if len(buf) < 3 {
		return 0, 0, ErrShortFrame
	}
	return binary.BigEndian.Uint16(buf[1:3]), 3, nil
}

// decodeChunked consumes consecutive frames of the given prefix until
// a chunk shorter than MaxChunk ends the logical payload.
func decodeChunked(buf []byte, prefix byte) ([]byte, int, error) {
	var data []byte
	pos := 0
	for {
		if len(buf) < pos+2 {
			return nil, 0, ErrShortFrame
		}
		if buf[pos] != prefix {
			return nil, 0, &DecodeError{Prefix: buf[pos], Reason: "expected continuation chunk"}
		}
		n := int(buf[pos+1])
		if len(buf) < pos+2+n {
			return nil, 0, ErrShortFrame
		}
		data = append(data, buf[pos+2:pos+2+n]...)
		pos += 2 + n
		if n < MaxChunk {
			return data, pos, nil
		}
	}
}
