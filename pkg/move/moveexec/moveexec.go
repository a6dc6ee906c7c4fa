// Package moveexec is a small test-execution harness for emitted Move
// bytecode: it runs one FunctionDef's instruction stream against a
// stack/locals machine and a native implementation of the runtime
// template's intrinsics, so integration tests can assert on the
// behavior of a translated contract without a real Move VM.
//
// This mirrors the teacher's pkg/vm: a stack-based interpreter driven
// by an instruction pointer, with the same push/pop/locals shape — but
// the instruction set and "primitives" are the emitter's Move opcodes
// and the template's U256/Memory/Persist operations rather than
// Smalltalk message sends.
package moveexec

import (
	"fmt"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"

	"github.com/pontem-network/e2m-core/pkg/move/emit"
	"github.com/pontem-network/e2m-core/pkg/move/module"
	"github.com/pontem-network/e2m-core/pkg/move/template"
)

const component = "moveexec"

// LogEntry is one emitted event, captured for test assertions.
type LogEntry struct {
	Topics [][32]byte
	Data   []byte
}

// Machine holds everything one Run call needs: the value stack, the
// function's locals, and the single memory/storage/log instances every
// "new_mem"/"init_contract" call in this harness resolves to — real
// Move modules can allocate many Memory/Persist resources, but every
// contract this core emits only ever touches one of each per call, so
// the harness does not model a handle table for them.
type Machine struct {
	stack    []uint256.Int
	locals   []uint256.Int
	memory   []byte
	storage  map[[32]byte]uint256.Int
	logs     []LogEntry
	handles  *template.HandleTable
	args     []byte // the calling convention's request buffer (calldata words)
	selfAddr [32]byte
}

// New creates a Machine with empty memory/storage, bound to address as
// the value from_signer resolves to.
func New(handles *template.HandleTable, address [32]byte, args []byte) *Machine {
	return &Machine{
		storage:  make(map[[32]byte]uint256.Int),
		handles:  handles,
		args:     args,
		selfAddr: address,
	}
}

// Storage exposes the post-execution storage snapshot for assertions.
func (m *Machine) Storage() map[[32]byte]uint256.Int { return m.storage }

// Logs exposes every event recorded during execution.
func (m *Machine) Logs() []LogEntry { return m.logs }

// Run executes one function's code to completion (OpRet or OpAbort),
// given its caller-supplied parameters as the first len(params) locals.
// It returns the values left on the stack by OpRet, in push order.
func (m *Machine) Run(fn *module.FunctionDef, mod *module.Module, params []uint256.Int) ([]uint256.Int, error) {
	m.stack = m.stack[:0]
	m.locals = append([]uint256.Int(nil), params...)

	ip := 0
	for ip < len(fn.Code) {
		in := fn.Code[ip]
		next, ret, err := m.step(ip, in, mod)
		if err != nil {
			return nil, fmt.Errorf("%s: ip=%d op=%v: %w", component, ip, in.Op, err)
		}
		if ret {
			return append([]uint256.Int(nil), m.stack...), nil
		}
		ip = next
	}
	return append([]uint256.Int(nil), m.stack...), nil
}

// step executes one instruction, returning the next instruction pointer
// and whether execution has completed (OpRet). ip is the instruction's
// own index, used as the fall-through default for every non-branch
// opcode.
func (m *Machine) step(ip int, in emit.Instruction, mod *module.Module) (int, bool, error) {
	switch in.Op {
	case emit.OpLdConst:
		v, err := m.constant(mod, in.Operand)
		if err != nil {
			return 0, false, err
		}
		m.push(v)
	case emit.OpLdTrue:
		m.push(*uint256.NewInt(1))
	case emit.OpLdFalse:
		m.push(uint256.Int{})
	case emit.OpCopyLoc, emit.OpMoveLoc:
		if int(in.Operand) >= len(m.locals) {
			return 0, false, fmt.Errorf("local %d out of range", in.Operand)
		}
		m.push(m.locals[in.Operand])
	case emit.OpStLoc:
		v, err := m.pop()
		if err != nil {
			return 0, false, err
		}
		for int(in.Operand) >= len(m.locals) {
			m.locals = append(m.locals, uint256.Int{})
		}
		m.locals[in.Operand] = v
	case emit.OpPop:
		if _, err := m.pop(); err != nil {
			return 0, false, err
		}
	case emit.OpNot:
		v, err := m.pop()
		if err != nil {
			return 0, false, err
		}
		m.push(boolWord(v.IsZero()))
	case emit.OpCastU128, emit.OpCastU64:
		// Both sides of this cast already fit in a uint256.Int in the
		// harness's value representation; the cast is a compile-time
		// width annotation with no runtime effect here.
	case emit.OpCall:
		name, ok := m.handles.Name(in.Operand)
		if !ok {
			return 0, false, fmt.Errorf("no template function bound to handle %d", in.Operand)
		}
		if err := m.call(name); err != nil {
			return 0, false, err
		}
	case emit.OpBranch:
		return int(in.Operand), false, nil
	case emit.OpBrTrue:
		cond, err := m.pop()
		if err != nil {
			return 0, false, err
		}
		if !cond.IsZero() {
			return int(in.Operand), false, nil
		}
	case emit.OpBrFalse:
		cond, err := m.pop()
		if err != nil {
			return 0, false, err
		}
		if cond.IsZero() {
			return int(in.Operand), false, nil
		}
	case emit.OpRet:
		return 0, true, nil
	case emit.OpAbort:
		code, err := m.pop()
		if err != nil {
			return 0, false, err
		}
		return 0, false, fmt.Errorf("move abort code %s", code.Dec())
	default:
		return 0, false, fmt.Errorf("unhandled opcode %v", in.Op)
	}
	return ip + 1, false, nil
}

func (m *Machine) push(v uint256.Int) { m.stack = append(m.stack, v) }

func (m *Machine) pop() (uint256.Int, error) {
	if len(m.stack) == 0 {
		return uint256.Int{}, fmt.Errorf("stack underflow")
	}
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v, nil
}

// popN pops n values, returning them in the order they were originally
// pushed (argument order, not stack order).
func (m *Machine) popN(n int) ([]uint256.Int, error) {
	if len(m.stack) < n {
		return nil, fmt.Errorf("stack underflow: need %d, have %d", n, len(m.stack))
	}
	out := append([]uint256.Int(nil), m.stack[len(m.stack)-n:]...)
	m.stack = m.stack[:len(m.stack)-n]
	return out, nil
}

func (m *Machine) constant(mod *module.Module, idx uint16) (uint256.Int, error) {
	entries := mod.Constants.Entries()
	if int(idx) >= len(entries) {
		return uint256.Int{}, fmt.Errorf("constant %d out of range", idx)
	}
	var v uint256.Int
	v.SetBytes(entries[idx].Data)
	return v, nil
}

func boolWord(b bool) uint256.Int {
	if b {
		return *uint256.NewInt(1)
	}
	return uint256.Int{}
}

func (m *Machine) ensureMemory(offset, size int) {
	need := offset + size
	for len(m.memory) < need {
		m.memory = append(m.memory, 0)
	}
}

func (m *Machine) keccak(offset, size int) uint256.Int {
	m.ensureMemory(offset, size)
	h := sha3.NewLegacyKeccak256()
	h.Write(m.memory[offset : offset+size])
	var v uint256.Int
	v.SetBytes(h.Sum(nil))
	return v
}
