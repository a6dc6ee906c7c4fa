package moveexec

import (
	"fmt"

	"github.com/holiman/uint256"
)

// call dispatches one resolved template function name against the
// machine's stack, popping its arguments and pushing its result (if
// any), matching the arity spec.md §6 and pkg/mir.binaryHandle/lower.go
// fix for every handle this core's lowerer ever emits a Call to.
func (m *Machine) call(name string) error {
	switch name {
	case "new_mem":
		m.push(uint256.Int{}) // opaque token; this harness has one memory
	case "init_contract":
		m.push(uint256.Int{}) // opaque token; this harness has one storage
	case "effective_len":
		if _, err := m.popN(1); err != nil {
			return err
		}
		m.push(*uint256.NewInt(uint64(len(m.memory))))
	case "mload":
		args, err := m.popN(2)
		if err != nil {
			return err
		}
		off := int(args[1].Uint64())
		m.ensureMemory(off, 32)
		var v uint256.Int
		v.SetBytes(m.memory[off : off+32])
		m.push(v)
	case "mstore":
		args, err := m.popN(3)
		if err != nil {
			return err
		}
		off := int(args[1].Uint64())
		m.ensureMemory(off, 32)
		b := args[2].Bytes32()
		copy(m.memory[off:off+32], b[:])
	case "mstore8":
		args, err := m.popN(3)
		if err != nil {
			return err
		}
		off := int(args[1].Uint64())
		m.ensureMemory(off, 1)
		m.memory[off] = byte(args[2].Uint64())
	case "hash":
		args, err := m.popN(2)
		if err != nil {
			return err
		}
		off, sz := int(args[0].Uint64()), int(args[1].Uint64())
		m.push(m.keccak(off, sz))
	case "mslice":
		// A real Move Bytes value is an actual byte vector; this harness
		// narrows it to its first word, since no intrinsic this core
		// emits ever needs more than equality/length checks on the
		// result in test scenarios.
		args, err := m.popN(3)
		if err != nil {
			return err
		}
		off, sz := int(args[1].Uint64()), int(args[2].Uint64())
		m.ensureMemory(off, sz)
		var v uint256.Int
		n := sz
		if n > 32 {
			n = 32
		}
		v.SetBytes(m.memory[off : off+n])
		m.push(v)
	case "request_buffer_len":
		m.push(*uint256.NewInt(uint64(len(m.args))))
	case "read_request_buffer":
		args, err := m.popN(1)
		if err != nil {
			return err
		}
		idx := int(args[0].Uint64())
		off := idx * 32
		var buf [32]byte
		if off < len(m.args) {
			copy(buf[:], m.args[off:])
		}
		var v uint256.Int
		v.SetBytes(buf[:])
		m.push(v)
	case "sload":
		args, err := m.popN(2)
		if err != nil {
			return err
		}
		key := args[1].Bytes32()
		m.push(m.storage[key])
	case "sstore":
		args, err := m.popN(3)
		if err != nil {
			return err
		}
		m.storage[args[1].Bytes32()] = args[2]
	case "log0", "log1", "log2", "log3", "log4":
		topicCount := map[string]int{"log0": 0, "log1": 1, "log2": 2, "log3": 3, "log4": 4}[name]
		args, err := m.popN(3 + topicCount)
		if err != nil {
			return err
		}
		off, sz := int(args[1].Uint64()), int(args[2].Uint64())
		m.ensureMemory(off, sz)
		data := append([]byte(nil), m.memory[off:off+sz]...)
		entry := LogEntry{Data: data}
		for i := 0; i < topicCount; i++ {
			entry.Topics = append(entry.Topics, args[3+i].Bytes32())
		}
		m.logs = append(m.logs, entry)

	case "overflowing_add":
		return m.binary(name, func(a, b *uint256.Int) uint256.Int { var r uint256.Int; return *r.Add(a, b) })
	case "overflowing_sub":
		return m.binary(name, func(a, b *uint256.Int) uint256.Int { var r uint256.Int; return *r.Sub(a, b) })
	case "overflowing_mul":
		return m.binary(name, func(a, b *uint256.Int) uint256.Int { var r uint256.Int; return *r.Mul(a, b) })
	case "div":
		return m.binary(name, func(a, b *uint256.Int) uint256.Int { var r uint256.Int; return *r.Div(a, b) })
	case "sdiv":
		return m.binary(name, func(a, b *uint256.Int) uint256.Int { var r uint256.Int; return *r.SDiv(a, b) })
	case "mod":
		return m.binary(name, func(a, b *uint256.Int) uint256.Int { var r uint256.Int; return *r.Mod(a, b) })
	case "smod":
		return m.binary(name, func(a, b *uint256.Int) uint256.Int { var r uint256.Int; return *r.SMod(a, b) })
	case "bitand":
		return m.binary(name, func(a, b *uint256.Int) uint256.Int { var r uint256.Int; return *r.And(a, b) })
	case "bitor":
		return m.binary(name, func(a, b *uint256.Int) uint256.Int { var r uint256.Int; return *r.Or(a, b) })
	case "xor":
		return m.binary(name, func(a, b *uint256.Int) uint256.Int { var r uint256.Int; return *r.Xor(a, b) })
	case "bitnot":
		args, err := m.popN(1)
		if err != nil {
			return err
		}
		var r uint256.Int
		m.push(*r.Not(&args[0]))
	case "shl":
		return m.binary(name, func(a, b *uint256.Int) uint256.Int { var r uint256.Int; return *r.Lsh(b, uint(a.Uint64())) })
	case "shr":
		return m.binary(name, func(a, b *uint256.Int) uint256.Int { var r uint256.Int; return *r.Rsh(b, uint(a.Uint64())) })
	case "sar":
		return m.binary(name, func(a, b *uint256.Int) uint256.Int { var r uint256.Int; return *r.SRsh(b, uint(a.Uint64())) })
	case "lt":
		return m.binary(name, func(a, b *uint256.Int) uint256.Int { return boolWord(a.Lt(b)) })
	case "gt":
		return m.binary(name, func(a, b *uint256.Int) uint256.Int { return boolWord(a.Gt(b)) })
	case "le":
		return m.binary(name, func(a, b *uint256.Int) uint256.Int { return boolWord(!a.Gt(b)) })
	case "ge":
		return m.binary(name, func(a, b *uint256.Int) uint256.Int { return boolWord(!a.Lt(b)) })
	case "eq":
		return m.binary(name, func(a, b *uint256.Int) uint256.Int { return boolWord(a.Eq(b)) })
	case "ne":
		return m.binary(name, func(a, b *uint256.Int) uint256.Int { return boolWord(!a.Eq(b)) })
	case "slt":
		return m.binary(name, func(a, b *uint256.Int) uint256.Int { return boolWord(a.Slt(b)) })
	case "sgt":
		return m.binary(name, func(a, b *uint256.Int) uint256.Int { return boolWord(a.Sgt(b)) })
	case "exp":
		return m.binary(name, func(a, b *uint256.Int) uint256.Int { var r uint256.Int; return *r.Exp(a, b) })
	case "sexp":
		return m.binary(name, func(a, b *uint256.Int) uint256.Int { var r uint256.Int; return *r.ExtendSign(b, a) })
	case "byte":
		// Byte mutates its receiver in place (it both holds the value to
		// extract from and receives the extracted byte), unlike the
		// destination-argument convention above, so operate on a copy of
		// the value operand directly instead of routing through binary.
		args, err := m.popN(2)
		if err != nil {
			return err
		}
		value := args[1]
		m.push(*value.Byte(&args[0]))
	case "is_zero":
		args, err := m.popN(1)
		if err != nil {
			return err
		}
		m.push(boolWord(args[0].IsZero()))
	case "addmod":
		args, err := m.popN(3)
		if err != nil {
			return err
		}
		var r uint256.Int
		m.push(*r.AddMod(&args[0], &args[1], &args[2]))
	case "mulmod":
		args, err := m.popN(3)
		if err != nil {
			return err
		}
		var r uint256.Int
		m.push(*r.MulMod(&args[0], &args[1], &args[2]))

	case "from_signer":
		var v uint256.Int
		v.SetBytes(m.selfAddr[:])
		m.push(v)
	case "from_address", "from_bool", "from_bytes", "from_u128":
		args, err := m.popN(1)
		if err != nil {
			return err
		}
		m.push(args[0]) // already a uint256.Int in this harness's value representation
	case "to_address", "to_bool", "as_u128", "from_u64s":
		args, err := m.popN(1)
		if err != nil {
			return err
		}
		m.push(args[0])

	default:
		return fmt.Errorf("no intrinsic implementation for template function %q", name)
	}
	return nil
}

// binary pops two arguments and pushes f(a, b), matching the (a, b)
// call-site argument order the emitter always uses (left operand
// pushed first).
func (m *Machine) binary(name string, f func(a, b *uint256.Int) uint256.Int) error {
	args, err := m.popN(2)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	m.push(f(&args[0], &args[1]))
	return nil
}
