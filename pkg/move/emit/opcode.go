// Package emit implements the Move emitter (spec.md §4.8): it walks a
// MIR function and produces the opcode stream a Move function's code
// unit carries — constants deduplicated into the module's constant
// pool, locals in declaration order, and labels resolved from forward
// references recorded during a single linear pass.
//
// The opcode set below is the subset of the real Move bytecode
// instruction set this translator emits: locals and stack movement,
// calls into the runtime template, literal loads, and the three
// control-flow instructions (Branch/BrTrue/Ret) MIR's label/branch
// statements compile to. Every other Move VM instruction (struct
// pack/unpack, references, vector ops) has no source in this
// translator's IR and is never emitted.
package emit

import "fmt"

// Opcode is a single Move bytecode instruction operation.
type Opcode byte

const (
	// OpLdConst pushes constant-pool entry Operand onto the stack.
	OpLdConst Opcode = iota
	// OpLdTrue/OpLdFalse push a boolean literal; no operand.
	OpLdTrue
	OpLdFalse
	// OpCopyLoc pushes a copy of local Operand, leaving it live.
	OpCopyLoc
	// OpMoveLoc pushes local Operand's value, consuming it — the local
	// is dead afterward (spec.md §4.8's Move-not-Copy liveness rule).
	OpMoveLoc
	// OpStLoc pops the stack top into local Operand.
	OpStLoc
	// OpCall invokes the function handle Operand — every template
	// intrinsic and every cross-function call this translator emits.
	OpCall
	// OpPop discards the stack top; no operand.
	OpPop
	// OpBranch jumps unconditionally to the resolved offset Operand.
	OpBranch
	// OpBrTrue pops a bool; jumps to Operand if true, else falls
	// through.
	OpBrTrue
	// OpBrFalse pops a bool; jumps to Operand if false, else falls
	// through.
	OpBrFalse
	// OpRet returns from the function, consuming the function's
	// declared return arity off the stack; no operand.
	OpRet
	// OpAbort pops a u64 abort code and aborts; no operand.
	OpAbort
	// OpNot negates a native bool; no operand. The only MIR unary
	// operator this compiles directly — IsZero/BitNot go through a
	// template Call since U256 is a struct, not a native Move type.
	OpNot
	// OpCastU128/OpCastU64 are Move's native integer-width casts. The
	// emitter never produces them: every cast in this translator,
	// including the u128_io boundary narrowing, goes through a template
	// Call instead, since U256 is a struct, not a native integer width.
	OpCastU128
	OpCastU64
)

// String renders a Move opcode mnemonic, used for disassembly and the
// emitter's own debug logging.
func (op Opcode) String() string {
	switch op {
	case OpLdConst:
		return "LD_CONST"
	case OpLdTrue:
		return "LD_TRUE"
	case OpLdFalse:
		return "LD_FALSE"
	case OpCopyLoc:
		return "COPY_LOC"
	case OpMoveLoc:
		return "MOVE_LOC"
	case OpStLoc:
		return "ST_LOC"
	case OpCall:
		return "CALL"
	case OpPop:
		return "POP"
	case OpBranch:
		return "BRANCH"
	case OpBrTrue:
		return "BR_TRUE"
	case OpBrFalse:
		return "BR_FALSE"
	case OpRet:
		return "RET"
	case OpAbort:
		return "ABORT"
	case OpNot:
		return "NOT"
	case OpCastU128:
		return "CAST_U128"
	case OpCastU64:
		return "CAST_U64"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(op))
	}
}

// Instruction is one emitted Move bytecode instruction: an opcode plus
// its single operand (unused/zero when the opcode takes none).
type Instruction struct {
	Op      Opcode
	Operand uint16
}
