package hir

import "github.com/holiman/uint256"

// Expr is any HIR expression: a variable table entry or a sub-expression
// nested directly inside a statement.
type Expr interface {
	exprNode()
}

// Const is a compile-time-known 256-bit value, typically from a PUSH.
type Const struct{ Value uint256.Int }

func (Const) exprNode() {}

// VarRef refers to an already-defined variable by id.
type VarRef struct{ ID VarID }

func (VarRef) exprNode() {}

// MemLoad reads a 32-byte word from memory at Offset.
type MemLoad struct{ Offset Expr }

func (MemLoad) exprNode() {}

// StorageLoad reads a 32-byte word from storage at Slot.
type StorageLoad struct{ Slot Expr }

func (StorageLoad) exprNode() {}

// MSize yields the current memory size, per MSIZE.
type MSize struct{}

func (MSize) exprNode() {}

// ArgsSize yields the calldata length, per CALLDATASIZE.
type ArgsSize struct{}

func (ArgsSize) exprNode() {}

// Args reads one calldata word. Native says whether Index counts
// 32-byte words (true) or bytes (false). The builder always emits
// Native false with Index the raw CALLDATALOAD byte offset; it does not
// convert offsets to parameter indices.
type Args struct {
	Index  Expr
	Native bool
}

func (Args) exprNode() {}

// Signer yields the module's own account address, standing in for
// ADDRESS — the closest Move analogue to "the contract's own identity".
type Signer struct{}

func (Signer) exprNode() {}

// UnaryOpKind enumerates HIR unary operators.
type UnaryOpKind int

const (
	UnaryNot UnaryOpKind = iota
	UnaryIsZero
	UnaryBitNot
)

// UnaryOp applies a unary operator to a single operand.
type UnaryOp struct {
	Kind UnaryOpKind
	X    Expr
}

func (UnaryOp) exprNode() {}

// BinaryOpKind enumerates HIR binary operators, one per arithmetic/logic
// opcode that takes two operands.
type BinaryOpKind int

const (
	BinAdd BinaryOpKind = iota
	BinSub
	BinMul
	BinDiv
	BinSDiv
	BinMod
	BinSMod
	BinExp
	BinSignExtend
	BinLt
	BinGt
	BinSLt
	BinSGt
	BinEq
	BinAnd
	BinOr
	BinXor
	BinByte
	BinShl
	BinShr
	BinSar
)

// BinaryOp applies a binary operator to (Left, Right) — the order every
// EVM binary opcode's formula is stated in (e.g. Sub computes
// Left - Right).
type BinaryOp struct {
	Kind        BinaryOpKind
	Left, Right Expr
	// Folded is never set by the builder: when it constant-folds an
	// operation (Left and Right both Const, not inside a loop) it emits
	// a Const in place of the BinaryOp.
	Folded bool
}

func (BinaryOp) exprNode() {}

// TernaryOpKind enumerates HIR ternary operators.
type TernaryOpKind int

const (
	TernAddMod TernaryOpKind = iota
	TernMulMod
)

// TernaryOp applies a three-operand operator: (X op Y) mod M.
type TernaryOp struct {
	Kind TernaryOpKind
	X, Y, M Expr
}

func (TernaryOp) exprNode() {}

// Keccak hashes the memory slice [Offset, Offset+Size).
type Keccak struct{ Offset, Size Expr }

func (Keccak) exprNode() {}

// ParamRef is a value consumed before the builder ever saw it produced:
// a function argument or caller-frame value inherited at function
// entry, numbered in the order the builder first needed one.
type ParamRef struct{ Index int }

func (ParamRef) exprNode() {}
