// Package device defines the boundary between the protocol engine and
// the virtual machine it controls, plus a reference machine
// implementation used by the demo binary and the tests.
package device

import "errors"

// Errors a device reports for invalid inspector operations.
var (
	ErrOutOfRange  = errors.New("device: address out of range")
	ErrBadRegister = errors.New("device: unknown register id")
)

// RegisterID selects one register for SetRegister and WriteRegister.
// The numbering is part of the wire contract.
type RegisterID uint8

const (
	RegAcc RegisterID = iota
	RegD0
	RegD1
	RegD2
	RegD3
	RegA0
	RegA1
	RegPC
	RegSP
	RegFP

	numRegisters
)

func (r RegisterID) Valid() bool {
	return r < numRegisters
}

// Wide reports whether the register carries a 16-bit value on the
// wire. The accumulator and data registers are 8-bit.
func (r RegisterID) Wide() bool {
	return r >= RegA0 && r < numRegisters
}

var registerNames = [numRegisters]string{
	"acc", "d0", "d1", "d2", "d3", "a0", "a1", "pc", "sp", "fp",
}

func (r RegisterID) String() string {
	if !r.Valid() {
		return "reg?"
	}
	return registerNames[r]
}

// ParseRegister maps a register mnemonic to its id.
func ParseRegister(name string) (RegisterID, bool) {
	for i, n := range registerNames {
		if n == name {
			return RegisterID(i), true
		}
	}
	return 0, false
}

// Snapshot is the on-demand projection of device state. Field names,
// order and cardinality are fixed for dump compatibility.
type Snapshot struct {
	PC         uint16    `json:"pc"`
	Acc        uint8     `json:"acc"`
	SP         uint16    `json:"sp"`
	FP         uint16    `json:"fp"`
	DataReg    [4]uint8  `json:"data_reg"`
	AddrReg    [2]uint16 `json:"addr_reg"`
	Overflowed bool      `json:"overflowed"`
}

// Outcome classifies what one executed instruction did to the device.
type Outcome int

const (
	// OutcomeRan: the instruction completed, the device keeps going.
	OutcomeRan Outcome = iota
	// OutcomeNeedsKey: the instruction blocks until ProvideKey.
	OutcomeNeedsKey
	// OutcomeNeedsString: the instruction blocks until ProvideString.
	OutcomeNeedsString
	// OutcomeHalted: the program finished normally.
	OutcomeHalted
	// OutcomeCrashed: the program faulted; Err carries the cause.
	OutcomeCrashed
)

// StepResult is what a single instruction execution (or the delivery
// of requested input that completes one) produced.
type StepResult struct {
	Outcome Outcome
	Output  string // program output emitted by this instruction
	ErrText string // program error-stream output
	Err     error  // crash cause when Outcome == OutcomeCrashed
}

// Device is the collaborator the execution controller drives. All
// calls are made from a single goroutine.
type Device interface {
	// Execute runs exactly one instruction.
	Execute() StepResult

	// PC returns the address of the next instruction, for breakpoint
	// gating.
	PC() uint16

	// Snapshot re-reads current register and flag state.
	Snapshot() Snapshot

	// ReadMemory returns the to-from bytes starting at from.
	ReadMemory(from, to uint16) ([]byte, error)

	// ReadStack returns the live stack region; its size is determined
	// by the device's own stack bounds.
	ReadStack() []byte

	// WriteMemory stores data starting at addr, never truncating.
	WriteMemory(addr uint16, data []byte) error

	// WriteRegister stores value into the selected register.
	WriteRegister(id RegisterID, value uint16) error

	// ProvideKey completes an instruction blocked on a key press.
	ProvideKey(key byte) StepResult

	// ProvideString completes an instruction blocked on a string.
	ProvideString(text string) StepResult
}
