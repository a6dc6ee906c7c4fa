// Package hir builds the high-level intermediate representation from a
// decoded, block-partitioned, flow-traced function body. See hir.go for
// the IR's shape.
package hir

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/pontem-network/e2m-core/pkg/evm/block"
	"github.com/pontem-network/e2m-core/pkg/evm/isa"
	"github.com/pontem-network/e2m-core/pkg/flow"
	"github.com/pontem-network/e2m-core/pkg/txerr"
)

// builder walks a flow-traced block graph once, building one HIR Block
// per reachable EVM block and threading a shadow stack of not-yet-named
// expressions between them. A stack slot is only promoted to a named
// variable when it is either duplicated (DUP) or carried across a join
// with more than one predecessor.
type builder struct {
	prog  *block.Program
	trace *flow.Result
	fn    *Function

	labelFor  map[int]LabelID
	nextLabel LabelID
	processed map[int]bool

	// joinVars fixes, per block offset, the VarID assigned to each
	// depth of its incoming stack the first time that block is reached
	// along an edge requiring a flush. Every later edge into the same
	// block must flush to these same ids, so the block's body (built
	// once) sees a consistent shape regardless of which predecessor ran.
	joinVars map[int][]VarID

	predCount  map[int]int
	loopBlocks map[int]bool

	nextParam int
}

// Build constructs one Function's HIR from its flow-traced block graph,
// starting at entry. name and paramCount are carried through from the
// ABI binder.
func Build(prog *block.Program, trace *flow.Result, entry int, name string, paramCount int) (*Function, error) {
	b := &builder{
		prog:       prog,
		trace:      trace,
		fn:         &Function{Name: name, ParamCount: paramCount},
		labelFor:   make(map[int]LabelID),
		processed:  make(map[int]bool),
		joinVars:   make(map[int][]VarID),
		predCount:  predecessorCounts(trace),
		loopBlocks: loopBlockSet(trace),
	}
	logrus.WithFields(logrus.Fields{"stage": component, "function": name, "entry": entry}).Debug("building HIR")
	if err := b.process(entry, nil); err != nil {
		return nil, err
	}
	return b.fn, nil
}

func predecessorCounts(trace *flow.Result) map[int]int {
	counts := make(map[int]int)
	for _, succs := range trace.Successors {
		for _, s := range succs {
			counts[s]++
		}
	}
	return counts
}

// loopBlockSet approximates "inside a loop body" as a loop header plus
// every block with a recorded back-edge into one — good enough to gate
// constant folding without a full dominance computation.
func loopBlockSet(trace *flow.Result) map[int]bool {
	set := make(map[int]bool)
	for header, info := range trace.Loops {
		set[header] = true
		for _, c := range info.Continues {
			set[c] = true
		}
	}
	return set
}

// warnFold records a documented semantic gap (spec.md §9) triggered by
// folding a runtime-dependent opcode to a constant. Duplicate warnings
// across repeated opcode sites in the same function are kept — each
// carries its own source offset, and callers care which sites folded,
// not just that folding happened once.
func (b *builder) warnFold(in isa.Instruction, msg string) {
	b.fn.Warnings = append(b.fn.Warnings, fmt.Sprintf("%s at offset 0x%x", msg, in.Offset))
}

// maxUint256 returns the all-ones 256-bit value GAS/GASLIMIT fold to
// (spec.md §9(b)).
func maxUint256() *uint256.Int {
	var zero, max uint256.Int
	max.Not(&zero)
	return &max
}

func (b *builder) labelOf(offset int) LabelID {
	if l, ok := b.labelFor[offset]; ok {
		return l
	}
	l := b.nextLabel
	b.nextLabel++
	b.labelFor[offset] = l
	return l
}

func (b *builder) newVar(expr Expr) VarID {
	id := VarID(len(b.fn.Vars))
	b.fn.Vars = append(b.fn.Vars, expr)
	return id
}

func (b *builder) freshParam() Expr {
	p := ParamRef{Index: b.nextParam}
	b.nextParam++
	return p
}

// process emits the HIR block for offset exactly once; later edges into
// an already-processed block are handled entirely by the caller
// (flushForTarget plus a Branch/Continue statement) and never re-enter
// here.
func (b *builder) process(offset int, incoming []Expr) error {
	if b.processed[offset] {
		return nil
	}
	b.processed[offset] = true

	blk := &Block{Label: b.labelOf(offset), Origin: offset}
	b.fn.Blocks = append(b.fn.Blocks, blk)

	src := b.prog.At(offset)
	if src == nil {
		return txerr.New(txerr.MalformedInput, component, "HIR builder: unresolved block entry", offset)
	}

	stack := incoming
	last := src.Last()
	insideLoop := b.loopBlocks[offset]

	for _, in := range src.Instructions {
		if in.Offset == last.Offset {
			break
		}
		var err error
		stack, err = b.step(blk, stack, in, insideLoop)
		if err != nil {
			return err
		}
	}

	return b.terminate(blk, offset, stack, last)
}

// flushForTarget spills every stack slot that isn't already a reference
// to target's canonical join variables, emitting the Assign statements
// into blk (the predecessor, i.e. the edge's source) before the branch
// that crosses the join. Single-predecessor edges pass the stack through
// unchanged.
func (b *builder) flushForTarget(blk *Block, target int, stack []Expr) []Expr {
	if b.predCount[target] <= 1 {
		return stack
	}
	vars, ok := b.joinVars[target]
	if !ok {
		vars = make([]VarID, len(stack))
		for i := range vars {
			vars[i] = VarID(-1)
		}
		b.joinVars[target] = vars
	}
	out := make([]Expr, len(stack))
	for i, e := range stack {
		if vr, isRef := e.(VarRef); isRef && vars[i] != VarID(-1) && vr.ID == vars[i] {
			out[i] = e
			continue
		}
		if vars[i] == VarID(-1) {
			vars[i] = b.newVar(e)
			blk.Stmts = append(blk.Stmts, Assign{Var: vars[i], Expr: e})
		} else {
			blk.Stmts = append(blk.Stmts, Assign{Var: vars[i], Expr: e})
		}
		out[i] = VarRef{ID: vars[i]}
	}
	return out
}

// branch flushes stack for target, appends the Branch/Continue statement
// (Continue when target is an already-built loop header, i.e. this edge
// is the back-edge itself), and recurses into the target's body the
// first time it is reached.
func (b *builder) branch(blk *Block, target int, stack []Expr) error {
	flushed := b.flushForTarget(blk, target, stack)
	label := b.labelOf(target)
	if b.loopBlocks[target] && b.processed[target] {
		blk.Stmts = append(blk.Stmts, Continue{Header: label, Snapshot: append([]VarID(nil), b.joinVars[target]...)})
		return nil
	}
	blk.Stmts = append(blk.Stmts, Branch{Target: label})
	return b.process(target, flushed)
}

func (b *builder) terminate(blk *Block, offset int, stack []Expr, last isa.Instruction) error {
	succs := b.trace.Successors[offset]

	switch last.Op {
	case isa.OpJump:
		_, rest := pop(b, stack)
		return b.branch(blk, succs[0], rest)

	case isa.OpJumpI:
		_, rest := pop(b, stack)
		cond, rest2 := pop(b, rest)
		trueTarget, falseTarget := succs[0], succs[1]

		trueStack := append([]Expr(nil), rest2...)
		trueFlushed := b.flushForTarget(blk, trueTarget, trueStack)
		falseStack := append([]Expr(nil), rest2...)
		falseFlushed := b.flushForTarget(blk, falseTarget, falseStack)

		trueLabel, falseLabel := b.labelOf(trueTarget), b.labelOf(falseTarget)
		blk.Stmts = append(blk.Stmts, CondBranch{Cond: cond, TrueTarget: trueLabel, FalseTarget: falseLabel})

		// The false successor is translated before the true one.
		if b.loopBlocks[falseTarget] && b.processed[falseTarget] {
			blk.Stmts = append(blk.Stmts, Continue{Header: falseLabel, Snapshot: append([]VarID(nil), b.joinVars[falseTarget]...)})
		} else if err := b.process(falseTarget, falseFlushed); err != nil {
			return err
		}
		if b.loopBlocks[trueTarget] && b.processed[trueTarget] {
			blk.Stmts = append(blk.Stmts, Continue{Header: trueLabel, Snapshot: append([]VarID(nil), b.joinVars[trueTarget]...)})
			return nil
		}
		return b.process(trueTarget, trueFlushed)

	case isa.OpReturn:
		offsetExpr, rest := pop(b, stack)
		sizeExpr, _ := pop(b, rest)
		blk.Stmts = append(blk.Stmts, Result{Offset: offsetExpr, Size: sizeExpr})
		return nil

	case isa.OpStop:
		blk.Stmts = append(blk.Stmts, Stop{})
		return nil

	case isa.OpRevert:
		blk.Stmts = append(blk.Stmts, Abort{Code: 1})
		return nil
	case isa.OpInvalid:
		blk.Stmts = append(blk.Stmts, Abort{Code: 2})
		return nil
	case isa.OpSelfDestruct:
		blk.Stmts = append(blk.Stmts, Abort{Code: 3})
		return nil

	default:
		if len(succs) == 0 {
			return nil
		}
		return b.branch(blk, succs[0], stack)
	}
}

// step applies one non-terminator instruction's effect: it either
// rewrites the shadow stack in place (arithmetic, stack movement,
// loads) or, for opcodes with no stack result, appends a statement
// directly to blk (stores, logs).
func (b *builder) step(blk *Block, stack []Expr, in isa.Instruction, insideLoop bool) ([]Expr, error) {
	switch {
	case in.Op.IsPush():
		var v uint256.Int
		v.SetBytes(in.Immediate)
		return append(stack, Const{Value: v}), nil

	case in.Op.IsDup():
		return b.dup(blk, stack, in.Op.DupDepth()-1), nil

	case in.Op.IsSwap():
		return swap(stack, in.Op.SwapDepth()), nil

	case in.Op.IsLog():
		n := in.Op.LogTopicCount()
		offset, rest := pop(b, stack)
		size, rest := pop(b, rest)
		topics := make([]Expr, n)
		for i := 0; i < n; i++ {
			var t Expr
			t, rest = pop(b, rest)
			topics[i] = t
		}
		blk.Stmts = append(blk.Stmts, Log{Offset: offset, Size: size, Topics: topics})
		return rest, nil
	}

	switch in.Op {
	case isa.OpJumpDest:
		return stack, nil

	case isa.OpPop:
		_, rest := pop(b, stack)
		return rest, nil

	case isa.OpAdd:
		return b.binary(stack, BinAdd, insideLoop), nil
	case isa.OpSub:
		return b.binary(stack, BinSub, insideLoop), nil
	case isa.OpMul:
		return b.binary(stack, BinMul, insideLoop), nil
	case isa.OpDiv:
		return b.binary(stack, BinDiv, insideLoop), nil
	case isa.OpSDiv:
		return b.binary(stack, BinSDiv, insideLoop), nil
	case isa.OpMod:
		return b.binary(stack, BinMod, insideLoop), nil
	case isa.OpSMod:
		return b.binary(stack, BinSMod, insideLoop), nil
	case isa.OpExp:
		return b.binary(stack, BinExp, insideLoop), nil
	case isa.OpSignExtend:
		return b.binary(stack, BinSignExtend, insideLoop), nil
	case isa.OpLt:
		return b.binary(stack, BinLt, insideLoop), nil
	case isa.OpGt:
		return b.binary(stack, BinGt, insideLoop), nil
	case isa.OpSLt:
		return b.binary(stack, BinSLt, insideLoop), nil
	case isa.OpSGt:
		return b.binary(stack, BinSGt, insideLoop), nil
	case isa.OpEq:
		return b.binary(stack, BinEq, insideLoop), nil
	case isa.OpAnd:
		return b.binary(stack, BinAnd, insideLoop), nil
	case isa.OpOr:
		return b.binary(stack, BinOr, insideLoop), nil
	case isa.OpXor:
		return b.binary(stack, BinXor, insideLoop), nil
	case isa.OpByte:
		return b.binary(stack, BinByte, insideLoop), nil
	case isa.OpShl:
		return b.binary(stack, BinShl, insideLoop), nil
	case isa.OpShr:
		return b.binary(stack, BinShr, insideLoop), nil
	case isa.OpSar:
		return b.binary(stack, BinSar, insideLoop), nil

	case isa.OpIsZero:
		return b.unary(stack, UnaryIsZero, insideLoop), nil
	case isa.OpNot:
		return b.unary(stack, UnaryBitNot, insideLoop), nil

	case isa.OpAddMod:
		return b.ternary(stack, TernAddMod), nil
	case isa.OpMulMod:
		return b.ternary(stack, TernMulMod), nil

	case isa.OpKeccak256:
		offset, rest := pop(b, stack)
		size, rest := pop(b, rest)
		return append(rest, Keccak{Offset: offset, Size: size}), nil

	case isa.OpMLoad:
		offset, rest := pop(b, stack)
		return append(rest, MemLoad{Offset: offset}), nil
	case isa.OpMStore:
		offset, rest := pop(b, stack)
		value, rest := pop(b, rest)
		blk.Stmts = append(blk.Stmts, MemStore{Offset: offset, Value: value, Width: 32})
		return rest, nil
	case isa.OpMStore8:
		offset, rest := pop(b, stack)
		value, rest := pop(b, rest)
		blk.Stmts = append(blk.Stmts, MemStore{Offset: offset, Value: value, Width: 1})
		return rest, nil
	case isa.OpMSize:
		return append(stack, MSize{}), nil

	case isa.OpSLoad:
		slot, rest := pop(b, stack)
		return append(rest, StorageLoad{Slot: slot}), nil
	case isa.OpSStore:
		slot, rest := pop(b, stack)
		value, rest := pop(b, rest)
		blk.Stmts = append(blk.Stmts, StorageStore{Slot: slot, Value: value})
		return rest, nil

	case isa.OpAddress, isa.OpCaller:
		return append(stack, Signer{}), nil
	case isa.OpCallValue, isa.OpBalance, isa.OpOrigin, isa.OpGasPrice, isa.OpCoinbase,
		isa.OpDifficulty, isa.OpNumber, isa.OpTimestamp, isa.OpBlockhash:
		b.warnFold(in, "environment opcode "+in.Op.String()+" folded to 0")
		return append(stack, Const{}), nil
	case isa.OpGas, isa.OpGasLimit:
		b.warnFold(in, in.Op.String()+" folded to U256::MAX")
		return append(stack, Const{Value: *maxUint256()}), nil
	case isa.OpPC, isa.OpExtCodeSize:
		return append(stack, Const{}), nil

	case isa.OpCallDataSize:
		return append(stack, ArgsSize{}), nil
	case isa.OpCallDataLoad:
		index, rest := pop(b, stack)
		return append(rest, Args{Index: index, Native: false}), nil
	case isa.OpCallDataCopy, isa.OpCodeCopy, isa.OpExtCodeCopy:
		_, rest := pop(b, stack)
		_, rest = pop(b, rest)
		_, rest = pop(b, rest)
		return rest, nil
	case isa.OpCodeSize:
		return append(stack, Const{}), nil

	default:
		return nil, txerr.New(txerr.UnsupportedOpcode, component,
			"opcode not supported by the HIR builder: "+in.Op.String(), in.Offset)
	}
}

// dup duplicates the stack slot depth positions below the top. A
// nested (not-yet-named) expression is materialized into a variable
// first, so both the original slot and the duplicate refer to the same
// VarID rather than evaluating the source expression twice.
func (b *builder) dup(blk *Block, stack []Expr, depth int) []Expr {
	idx := len(stack) - 1 - depth
	if idx < 0 {
		p := b.freshParam()
		return append(stack, p)
	}
	if vr, ok := stack[idx].(VarRef); ok {
		return append(stack, vr)
	}
	v := b.newVar(stack[idx])
	blk.Stmts = append(blk.Stmts, Assign{Var: v, Expr: stack[idx]})
	ref := VarRef{ID: v}
	stack[idx] = ref
	return append(stack, ref)
}

func swap(stack []Expr, depth int) []Expr {
	out := stack
	for len(out) <= depth {
		out = append(out, Const{})
	}
	i, j := len(out)-1, len(out)-1-depth
	out[i], out[j] = out[j], out[i]
	return out
}

// binary pops the top two stack slots and builds Left OP Right with
// Left bound to the first (top) pop and Right to the second — the same
// top/second convention the constructor pre-execution interpreter uses,
// so e.g. SUB always lowers to Left - Right regardless of which stage
// evaluates it.
func (b *builder) binary(stack []Expr, kind BinaryOpKind, insideLoop bool) []Expr {
	left, rest := pop(b, stack)
	right, rest := pop(b, rest)
	if !insideLoop {
		if folded, ok := foldBinary(kind, left, right); ok {
			return append(rest, folded)
		}
	}
	return append(rest, BinaryOp{Kind: kind, Left: left, Right: right})
}

func (b *builder) unary(stack []Expr, kind UnaryOpKind, insideLoop bool) []Expr {
	x, rest := pop(b, stack)
	if !insideLoop {
		if c, ok := x.(Const); ok {
			var v uint256.Int
			switch kind {
			case UnaryIsZero:
				if c.Value.IsZero() {
					v = *uint256.NewInt(1)
				}
			case UnaryBitNot:
				v.Not(&c.Value)
			case UnaryNot:
				if c.Value.IsZero() {
					v = *uint256.NewInt(1)
				}
			}
			return append(rest, Const{Value: v})
		}
	}
	return append(rest, UnaryOp{Kind: kind, X: x})
}

func (b *builder) ternary(stack []Expr, kind TernaryOpKind) []Expr {
	x, rest := pop(b, stack)
	y, rest := pop(b, rest)
	m, rest := pop(b, rest)
	return append(rest, TernaryOp{Kind: kind, X: x, Y: y, M: m})
}

// foldBinary evaluates kind at build time when both operands are
// compile-time constants. It covers the operators that show up in
// practice on literal operands (bitwise and comparison folding ahead of
// a dispatcher's selector check, size arithmetic on memory layout
// constants); signed and size-dependent operators are left for the
// lowering stage, which has the operand widths needed to do them
// correctly.
func foldBinary(kind BinaryOpKind, left, right Expr) (Const, bool) {
	lc, lok := left.(Const)
	rc, rok := right.(Const)
	if !lok || !rok {
		return Const{}, false
	}
	var v uint256.Int
	switch kind {
	case BinAdd:
		v.Add(&lc.Value, &rc.Value)
	case BinSub:
		v.Sub(&lc.Value, &rc.Value)
	case BinMul:
		v.Mul(&lc.Value, &rc.Value)
	case BinDiv:
		v.Div(&lc.Value, &rc.Value)
	case BinMod:
		v.Mod(&lc.Value, &rc.Value)
	case BinAnd:
		v.And(&lc.Value, &rc.Value)
	case BinOr:
		v.Or(&lc.Value, &rc.Value)
	case BinXor:
		v.Xor(&lc.Value, &rc.Value)
	case BinEq:
		if lc.Value.Eq(&rc.Value) {
			v = *uint256.NewInt(1)
		}
	case BinLt:
		if lc.Value.Lt(&rc.Value) {
			v = *uint256.NewInt(1)
		}
	case BinGt:
		if lc.Value.Gt(&rc.Value) {
			v = *uint256.NewInt(1)
		}
	case BinShl:
		v.Lsh(&rc.Value, uint(lc.Value.Uint64()))
	case BinShr:
		v.Rsh(&rc.Value, uint(lc.Value.Uint64()))
	default:
		return Const{}, false
	}
	return Const{Value: v}, true
}

// pop removes and returns the top of stack. An empty stack manufactures
// a ParamRef rather than failing, the same caller-frame convention the
// flow tracer uses for its Negative values.
func pop(b *builder, stack []Expr) (Expr, []Expr) {
	if len(stack) == 0 {
		return b.freshParam(), stack
	}
	return stack[len(stack)-1], stack[:len(stack)-1]
}
