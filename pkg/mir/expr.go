package mir

import "github.com/holiman/uint256"

// TypedExpr is any MIR expression: every constructor from hir.Expr
// reappears here, now carrying a SemType and with casts made explicit.
type TypedExpr interface {
	exprNode()
	Type() SemType
}

// Const is a compile-time 256-bit value.
type Const struct {
	Value uint256.Int
	Typ   SemType
}

func (Const) exprNode()      {}
func (c Const) Type() SemType { return c.Typ }

// Local refers to a function local by index.
type Local struct {
	Index LocalIndex
	Typ   SemType
}

func (Local) exprNode()       {}
func (l Local) Type() SemType { return l.Typ }

// Cast makes an HIR-implicit type conversion explicit. Legal
// conversions are exactly Bool<->Num, Address->Num, Bytes->Num,
// Num->Address and RawNum<->Num; anything else is rejected during lowering before a Cast
// node is ever built.
type Cast struct {
	X        TypedExpr
	From, To SemType
}

func (Cast) exprNode()       {}
func (c Cast) Type() SemType { return c.To }

// UnaryOp mirrors hir.UnaryOp, typed.
type UnaryOp struct {
	Kind UnaryKind
	X    TypedExpr
	Typ  SemType
}

type UnaryKind int

const (
	UnaryIsZero UnaryKind = iota
	UnaryBitNot
	UnaryBoolNot
)

func (UnaryOp) exprNode()       {}
func (u UnaryOp) Type() SemType { return u.Typ }

// Call invokes a runtime-template function by its stable handle name
// (resolved to a concrete handle index by pkg/move/template). Every
// memory/storage access, every arithmetic operator without a native
// Move opcode (256-bit math, signed ops, EXP, BYTE, SAR, ADDMOD,
// MULMOD) lowers to one of these. Casts, including those across the
// U256/u128 boundary, are Cast nodes here; the emitter compiles them to
// template calls.
type Call struct {
	Handle string
	Args   []TypedExpr
	Typ    SemType
}

func (Call) exprNode()       {}
func (c Call) Type() SemType { return c.Typ }

// Keccak hashes a memory slice via the template's hash handle. The
// emitter passes only Offset and Size to that call; the memory local is
// not among its arguments.
type Keccak struct {
	Offset, Size TypedExpr
}

func (Keccak) exprNode()      {}
func (Keccak) Type() SemType { return Bytes }

// SignerExpr reads the module's own account address, lowered from
// hir.Signer via the template's from_signer handle.
type SignerExpr struct{}

func (SignerExpr) exprNode()      {}
func (SignerExpr) Type() SemType { return Address }

// ArgsSizeExpr yields the calldata length.
type ArgsSizeExpr struct{}

func (ArgsSizeExpr) exprNode()      {}
func (ArgsSizeExpr) Type() SemType { return Num }

// ArgsExpr reads one calldata word or byte offset, per hir.Args.
type ArgsExpr struct {
	Index  TypedExpr
	Native bool
}

func (ArgsExpr) exprNode()      {}
func (ArgsExpr) Type() SemType { return Num }
