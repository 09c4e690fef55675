// Package session implements the execution controller: the state
// machine that consumes decoded commands, gates instruction execution
// behind step commands, and feeds results back as events.
package session

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/vdbgsuite/vdbg/internal/breakpoint"
	"github.com/vdbgsuite/vdbg/internal/device"
	"github.com/vdbgsuite/vdbg/internal/inspect"
	"github.com/vdbgsuite/vdbg/internal/iobridge"
	"github.com/vdbgsuite/vdbg/internal/wire"
)

// State is the controller's execution state.
type State int

const (
	// StateIdle: ready for the next command.
	StateIdle State = iota
	// StateSuspended: blocked on program input; step commands are
	// rejected until the pending request is resolved.
	StateSuspended
	// StateFinished: the program ended or crashed. Terminal.
	StateFinished
	// StateStopped: the controller sent Stop. Terminal.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSuspended:
		return "suspended"
	case StateFinished:
		return "finished"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Session drives one device for one controller over a pair of byte
// streams. All access to the device, the breakpoint registry and the
// pending-input slot is serialized through Run's single loop: one
// command is fully applied, including any instruction execution and
// event emission, before the next is read.
type Session struct {
	dev    device.Device
	bps    *breakpoint.Registry
	insp   *inspect.Inspector
	bridge *iobridge.Bridge
	cmds   *wire.CommandReader
	events *wire.EventWriter
	state  State
}

func New(dev device.Device, in io.Reader, out io.Writer) *Session {
	events := wire.NewEventWriter(out)
	return &Session{
		dev:    dev,
		bps:    breakpoint.NewRegistry(),
		insp:   inspect.New(dev),
		bridge: iobridge.New(dev, events),
		cmds:   wire.NewCommandReader(in),
		events: events,
	}
}

func (s *Session) State() State {
	return s.state
}

// Run reads and applies commands until the session reaches a terminal
// state or the inbound stream ends.
func (s *Session) Run() error {
	for s.state == StateIdle || s.state == StateSuspended {
		cmd, err := s.cmds.Next()
		if err != nil {
			var de *wire.DecodeError
			if errors.As(err, &de) {
				// The bad byte has been skipped; report and resume at
				// the next one.
				if err := s.reportError(de.Error()); err != nil {
					return err
				}
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				log.Printf("[Session] Controller stream closed in state %s", s.state)
				return nil
			}
			return fmt.Errorf("read command: %w", err)
		}
		if err := s.apply(cmd); err != nil {
			return err
		}
	}
	log.Printf("[Session] Ended in state %s", s.state)
	return nil
}

func (s *Session) apply(cmd wire.Command) error {
	switch c := cmd.(type) {
	case wire.StopCmd:
		log.Printf("[Session] Stop received")
		s.state = StateStopped
		return nil

	case wire.StepCmd:
		if s.state == StateSuspended {
			return s.reportError("cannot step while waiting for program input")
		}
		if pc := s.dev.PC(); s.bps.Contains(pc) {
			return s.events.Emit(wire.BreakpointHitEvent{Addr: pc})
		}
		return s.execute()

	case wire.StepForceCmd:
		if s.state == StateSuspended {
			return s.reportError("cannot step while waiting for program input")
		}
		return s.execute()

	case wire.SetBreakpointCmd:
		s.bps.Set(c.Addr)
		return nil

	case wire.ClearBreakpointCmd:
		s.bps.Clear(c.Addr)
		return nil

	case wire.RequestDumpCmd:
		text, err := s.insp.Dump()
		if err != nil {
			return s.reportError(err.Error())
		}
		return s.events.Emit(wire.DumpResultEvent{Text: text})

	case wire.RequestMemoryCmd:
		data, err := s.insp.ReadMemory(c.From, c.To)
		if err != nil {
			return s.reportError(err.Error())
		}
		return s.events.Emit(wire.MemoryResultEvent{Data: data})

	case wire.RequestStackCmd:
		return s.events.Emit(wire.StackResultEvent{Data: s.insp.ReadStack()})

	case wire.SetMemoryCmd:
		if err := s.insp.WriteMemory(c.Addr, c.Data); err != nil {
			return s.reportError(err.Error())
		}
		return nil

	case wire.SetRegisterCmd:
		if err := s.insp.WriteRegister(c.Reg, c.Value); err != nil {
			return s.reportError(err.Error())
		}
		return nil

	case wire.InputKeyCmd:
		res, err := s.bridge.ResolveKey(c.Key)
		if err != nil {
			return s.reportError(err.Error())
		}
		s.state = StateIdle
		return s.settle(res)

	case wire.InputStringCmd:
		res, err := s.bridge.ResolveString(c.Text)
		if err != nil {
			return s.reportError(err.Error())
		}
		s.state = StateIdle
		return s.settle(res)
	}
	return s.reportError(fmt.Sprintf("unhandled command %T", cmd))
}

// execute runs exactly one instruction and routes the result.
func (s *Session) execute() error {
	return s.settle(s.dev.Execute())
}

// settle applies the outcome of one instruction execution (or of the
// input delivery that completed one): forwards its output, then moves
// the state machine.
func (s *Session) settle(res device.StepResult) error {
	if err := s.bridge.Forward(res); err != nil {
		return err
	}
	switch res.Outcome {
	case device.OutcomeNeedsKey:
		s.state = StateSuspended
		return s.bridge.RequireKey()
	case device.OutcomeNeedsString:
		s.state = StateSuspended
		return s.bridge.RequireString()
	case device.OutcomeHalted:
		log.Printf("[Session] Program ended at pc 0x%04x", s.dev.PC())
		s.state = StateFinished
		return s.events.Emit(wire.EndOfProgramEvent{})
	case device.OutcomeCrashed:
		log.Printf("[Session] Program crashed: %v", res.Err)
		s.state = StateFinished
		return s.events.Emit(wire.CrashedEvent{})
	}
	return nil
}

// reportError surfaces a recoverable protocol or range error to the
// controller. The session keeps running.
func (s *Session) reportError(msg string) error {
	return s.events.Emit(wire.ErrorOutputEvent{Text: msg})
}
