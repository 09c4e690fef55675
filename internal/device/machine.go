package device

import (
	"fmt"
	"strconv"
)

// MemorySize is the addressable memory of the reference machine.
const MemorySize = 1 << 16

// Reference machine opcodes. One opcode byte, operands inline.
const (
	opNop    = 0x00
	opHalt   = 0x01
	opInc    = 0x10 // inc <reg>
	opDec    = 0x11 // dec <reg>
	opAdd    = 0x12 // add <reg> <reg>   acc = r1 + r2
	opCpy    = 0x13 // cpy <reg> <reg>
	opCpyVal = 0x14 // cpy <reg> <val>
	opJmp    = 0x20 // jmp <addr:2>
	opJnz    = 0x21 // jnz <reg> <addr:2>
	opPush   = 0x30 // push <reg>
	opPop    = 0x31 // pop <reg>
	opCall   = 0x32 // call <addr:2>
	opRet    = 0x33
	opPrtC   = 0x40 // prtc <char>
	opPrtReg = 0x41 // prtr <reg>        decimal
	opPrtS   = 0x42 // prts <len> <bytes>
	opEPrtS  = 0x43 // eprt <len> <bytes> error stream
	opRKey   = 0x50 // rkey <reg>
	opRStr   = 0x51 // rstr <addr:2> <max>
)

type awaitKind int

const (
	awaitNone awaitKind = iota
	awaitKey
	awaitString
)

// Machine is the reference device: an 8-bit accumulator machine with
// four data registers, two address registers, 64K of byte-addressed
// memory and a descending stack.
type Machine struct {
	mem  []byte
	pc   uint16
	sp   uint16
	fp   uint16
	acc  uint8
	data [4]uint8
	addr [2]uint16

	stackTop uint16
	overflow bool

	awaiting  awaitKind
	awaitReg  RegisterID
	awaitAddr uint16
	awaitMax  byte
}

func NewMachine() *Machine {
	top := uint16(MemorySize - 1)
	return &Machine{
		mem:      make([]byte, MemorySize),
		sp:       top,
		fp:       top,
		stackTop: top,
	}
}

// Load copies a raw program image to address 0.
func (m *Machine) Load(image []byte) error {
	if len(image) > len(m.mem) {
		return fmt.Errorf("%w: image of %d bytes", ErrOutOfRange, len(image))
	}
	copy(m.mem, image)
	return nil
}

func (m *Machine) PC() uint16 { return m.pc }

func (m *Machine) Snapshot() Snapshot {
	return Snapshot{
		PC:         m.pc,
		Acc:        m.acc,
		SP:         m.sp,
		FP:         m.fp,
		DataReg:    m.data,
		AddrReg:    m.addr,
		Overflowed: m.overflow,
	}
}

func (m *Machine) ReadMemory(from, to uint16) ([]byte, error) {
	if from > to {
		return nil, fmt.Errorf("%w: from 0x%04x past to 0x%04x", ErrOutOfRange, from, to)
	}
	out := make([]byte, to-from)
	copy(out, m.mem[from:to])
	return out, nil
}

func (m *Machine) ReadStack() []byte {
	out := make([]byte, m.stackTop-m.sp)
	copy(out, m.mem[m.sp:m.stackTop])
	return out
}

func (m *Machine) WriteMemory(addr uint16, data []byte) error {
	if int(addr)+len(data) > len(m.mem) {
		return fmt.Errorf("%w: %d bytes at 0x%04x", ErrOutOfRange, len(data), addr)
	}
	copy(m.mem[addr:], data)
	return nil
}

func (m *Machine) WriteRegister(id RegisterID, value uint16) error {
	switch id {
	case RegAcc:
		m.acc = uint8(value)
	case RegD0, RegD1, RegD2, RegD3:
		m.data[id-RegD0] = uint8(value)
	case RegA0, RegA1:
		m.addr[id-RegA0] = value
	case RegPC:
		m.pc = value
	case RegSP:
		m.sp = value
	case RegFP:
		m.fp = value
	default:
		return fmt.Errorf("%w: %d", ErrBadRegister, id)
	}
	return nil
}

// dataReg resolves an operand byte naming the accumulator or a data
// register.
func (m *Machine) dataReg(b byte) (*uint8, error) {
	id := RegisterID(b)
	switch id {
	case RegAcc:
		return &m.acc, nil
	case RegD0, RegD1, RegD2, RegD3:
		return &m.data[id-RegD0], nil
	}
	return nil, fmt.Errorf("%w: operand %d", ErrBadRegister, b)
}

func (m *Machine) fetch() byte {
	b := m.mem[m.pc]
	m.pc++
	return b
}

func (m *Machine) fetchAddr() uint16 {
	hi := m.fetch()
	lo := m.fetch()
	return uint16(hi)<<8 | uint16(lo)
}

func crash(err error) StepResult {
	return StepResult{Outcome: OutcomeCrashed, Err: err}
}

// Execute runs exactly one instruction.
func (m *Machine) Execute() StepResult {
	switch m.awaiting {
	case awaitKey:
		return StepResult{Outcome: OutcomeNeedsKey}
	case awaitString:
		return StepResult{Outcome: OutcomeNeedsString}
	}

	op := m.fetch()
	switch op {
	case opNop:
		return StepResult{}

	case opHalt:
		return StepResult{Outcome: OutcomeHalted}

	case opInc:
		r, err := m.dataReg(m.fetch())
		if err != nil {
			return crash(err)
		}
		m.overflow = *r == 0xff
		*r++
		return StepResult{}

	case opDec:
		r, err := m.dataReg(m.fetch())
		if err != nil {
			return crash(err)
		}
		m.overflow = *r == 0
		*r--
		return StepResult{}

	case opAdd:
		r1, err := m.dataReg(m.fetch())
		if err != nil {
			return crash(err)
		}
		r2, err := m.dataReg(m.fetch())
		if err != nil {
			return crash(err)
		}
		sum := uint16(*r1) + uint16(*r2)
		m.overflow = sum > 0xff
		m.acc = uint8(sum)
		return StepResult{}

	case opCpy:
		dst, err := m.dataReg(m.fetch())
		if err != nil {
			return crash(err)
		}
		src, err := m.dataReg(m.fetch())
		if err != nil {
			return crash(err)
		}
		*dst = *src
		m.overflow = false
		return StepResult{}

	case opCpyVal:
		dst, err := m.dataReg(m.fetch())
		if err != nil {
			return crash(err)
		}
		*dst = m.fetch()
		m.overflow = false
		return StepResult{}

	case opJmp:
		m.pc = m.fetchAddr()
		return StepResult{}

	case opJnz:
		r, err := m.dataReg(m.fetch())
		if err != nil {
			return crash(err)
		}
		target := m.fetchAddr()
		if *r != 0 {
			m.pc = target
		}
		return StepResult{}

	case opPush:
		r, err := m.dataReg(m.fetch())
		if err != nil {
			return crash(err)
		}
		return m.push(*r)

	case opPop:
		r, err := m.dataReg(m.fetch())
		if err != nil {
			return crash(err)
		}
		v, res := m.pop()
		if res.Outcome == OutcomeCrashed {
			return res
		}
		*r = v
		return StepResult{}

	case opCall:
		target := m.fetchAddr()
		ret := m.pc
		if res := m.push(byte(ret >> 8)); res.Outcome == OutcomeCrashed {
			return res
		}
		if res := m.push(byte(ret)); res.Outcome == OutcomeCrashed {
			return res
		}
		m.fp = m.sp
		m.pc = target
		return StepResult{}

	case opRet:
		lo, res := m.pop()
		if res.Outcome == OutcomeCrashed {
			return res
		}
		hi, res := m.pop()
		if res.Outcome == OutcomeCrashed {
			return res
		}
		m.pc = uint16(hi)<<8 | uint16(lo)
		m.fp = m.sp
		return StepResult{}

	case opPrtC:
		return StepResult{Output: string(rune(m.fetch()))}

	case opPrtReg:
		r, err := m.dataReg(m.fetch())
		if err != nil {
			return crash(err)
		}
		return StepResult{Output: strconv.Itoa(int(*r))}

	case opPrtS:
		return m.fetchString(false)

	case opEPrtS:
		return m.fetchString(true)

	case opRKey:
		id := RegisterID(m.fetch())
		if _, err := m.dataReg(byte(id)); err != nil {
			return crash(err)
		}
		m.awaiting = awaitKey
		m.awaitReg = id
		return StepResult{Outcome: OutcomeNeedsKey}

	case opRStr:
		m.awaitAddr = m.fetchAddr()
		m.awaitMax = m.fetch()
		m.awaiting = awaitString
		return StepResult{Outcome: OutcomeNeedsString}
	}

	return crash(fmt.Errorf("illegal opcode 0x%02x at 0x%04x", op, m.pc-1))
}

func (m *Machine) push(b byte) StepResult {
	if m.sp == 0 {
		return crash(fmt.Errorf("stack overflow at 0x%04x", m.pc))
	}
	m.sp--
	m.mem[m.sp] = b
	return StepResult{}
}

func (m *Machine) pop() (byte, StepResult) {
	if m.sp >= m.stackTop {
		return 0, crash(fmt.Errorf("stack underflow at 0x%04x", m.pc))
	}
	b := m.mem[m.sp]
	m.sp++
	return b, StepResult{}
}

func (m *Machine) fetchString(errStream bool) StepResult {
	n := int(m.fetch())
	if int(m.pc)+n > len(m.mem) {
		return crash(fmt.Errorf("string runs past memory at 0x%04x", m.pc))
	}
	text := string(m.mem[m.pc : int(m.pc)+n])
	m.pc += uint16(n)
	if errStream {
		return StepResult{ErrText: text}
	}
	return StepResult{Output: text}
}

// ProvideKey completes a pending rkey: the key lands in the operand
// register.
func (m *Machine) ProvideKey(key byte) StepResult {
	if m.awaiting != awaitKey {
		return StepResult{}
	}
	m.awaiting = awaitNone
	r, err := m.dataReg(byte(m.awaitReg))
	if err != nil {
		return crash(err)
	}
	*r = key
	return StepResult{}
}

// ProvideString completes a pending rstr: the text (truncated to the
// operand maximum) is stored at the operand address and its length
// lands in the accumulator.
func (m *Machine) ProvideString(text string) StepResult {
	if m.awaiting != awaitString {
		return StepResult{}
	}
	m.awaiting = awaitNone
	data := []byte(text)
	if len(data) > int(m.awaitMax) {
		data = data[:m.awaitMax]
	}
	if err := m.WriteMemory(m.awaitAddr, data); err != nil {
		return crash(err)
	}
	m.acc = uint8(len(data))
	return StepResult{}
}
