// Package mir — lowering pass. See mir.go for the IR's shape.
package mir

import (
	"bytes"
	"sort"

	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/pontem-network/e2m-core/pkg/evm/isa"
	"github.com/pontem-network/e2m-core/pkg/hir"
	"github.com/pontem-network/e2m-core/pkg/txerr"
)

// Config mirrors the translator-wide configuration record's flags that
// affect MIR lowering (spec.md §6).
type Config struct {
	NativeInput  bool
	NativeOutput bool
	HiddenOutput bool
	U128IO       bool
}

// boundaryType is the SemType a Config lowers ABI-boundary U256 values
// to: Num by default, RawNum when U128IO narrows the ABI to native
// 128-bit integers.
func (c Config) boundaryType() SemType {
	if c.U128IO {
		return RawNum
	}
	return Num
}

func ethToSem(t isa.EthType, cfg Config) SemType {
	switch t {
	case isa.EthU256:
		return cfg.boundaryType()
	case isa.EthBool:
		return Bool
	case isa.EthAddress:
		return Address
	case isa.EthBytes:
		return Bytes
	default:
		return Num
	}
}

// allocator hands out a LocalIndex for a requested type, reusing the
// most recently released slot of that type before growing the local
// list — the allocation discipline spec.md §9
// calls out as essential, since Move caps total locals per function at
// 256.
type allocator struct {
	locals []SemType
	free   map[SemType][]LocalIndex
}

func newAllocator() *allocator {
	return &allocator{free: make(map[SemType][]LocalIndex)}
}

func (a *allocator) alloc(t SemType) LocalIndex {
	if stack := a.free[t]; len(stack) > 0 {
		idx := stack[len(stack)-1]
		a.free[t] = stack[:len(stack)-1]
		return idx
	}
	idx := LocalIndex(len(a.locals))
	a.locals = append(a.locals, t)
	return idx
}

func (a *allocator) release(idx LocalIndex) {
	t := a.locals[idx]
	a.free[t] = append(a.free[t], idx)
}

// lowerer walks one hir.Function's block list in emission order,
// translating its statement stream into a flat MIR sequence.
type lowerer struct {
	fn      *hir.Function
	cfg     Config
	inputs  []isa.EthType
	outputs []isa.EthType

	alloc *allocator
	// varLocal/varType record, for every HIR VarID already assigned,
	// the MIR local and type it was lowered to. The map is populated at
	// the first Assign of a VarID; a later Assign of the same VarID (a
	// join variable written on another incoming edge) writes that same
	// local.
	varLocal map[hir.VarID]LocalIndex
	varType  map[hir.VarID]SemType
	// paramLocal maps a HIR ParamRef.Index to the MIR local carrying
	// that parameter, allocated lazily the first time it's referenced.
	paramLocal map[int]LocalIndex

	memoryLocal  LocalIndex
	storageLocal LocalIndex

	out *Function
}

// Lower produces one MIR Function from fn's HIR, typing every
// expression and materializing explicit locals in place of HIR's
// variable table.
func Lower(fn *hir.Function, inputs, outputs []isa.EthType, cfg Config) (*Function, error) {
	lw := &lowerer{
		fn:         fn,
		cfg:        cfg,
		inputs:     inputs,
		outputs:    outputs,
		alloc:      newAllocator(),
		varLocal:   make(map[hir.VarID]LocalIndex),
		varType:    make(map[hir.VarID]SemType),
		paramLocal: make(map[int]LocalIndex),
		out:        &Function{Name: fn.Name, ParamCount: len(inputs)},
	}
	logrus.WithFields(logrus.Fields{"stage": component, "function": fn.Name}).Debug("lowering HIR to MIR")

	for i, t := range inputs {
		lw.paramLocal[i] = lw.alloc.alloc(ethToSem(t, cfg))
	}
	lw.memoryLocal = lw.alloc.alloc(Memory)
	lw.out.Stmts = append(lw.out.Stmts, Assign{Local: lw.memoryLocal, Expr: Call{Handle: "new_mem", Typ: Memory}})
	lw.storageLocal = lw.alloc.alloc(Storage)
	lw.out.Stmts = append(lw.out.Stmts, Assign{Local: lw.storageLocal, Expr: Call{Handle: "init_contract", Typ: Storage}})

	for _, blk := range fn.Blocks {
		lw.out.Stmts = append(lw.out.Stmts, Label{ID: int(blk.Label)})
		for _, st := range blk.Stmts {
			lowered, err := lw.stmt(st)
			if err != nil {
				return nil, err
			}
			lw.out.Stmts = append(lw.out.Stmts, lowered...)
		}
	}

	lw.out.Locals = lw.alloc.locals
	lw.out.MemoryLocal = lw.memoryLocal
	lw.out.StorageLocal = lw.storageLocal
	lw.out.Warnings = fn.Warnings
	return lw.out, nil
}

func (lw *lowerer) stmt(s hir.Stmt) ([]Stmt, error) {
	switch st := s.(type) {
	case hir.Assign:
		te, err := lw.expr(st.Expr)
		if err != nil {
			return nil, err
		}
		if local, ok := lw.varLocal[st.Var]; ok {
			te, err = lw.castTo(te, lw.varType[st.Var])
			if err != nil {
				return nil, err
			}
			return []Stmt{Assign{Local: local, Expr: te}}, nil
		}
		local := lw.alloc.alloc(te.Type())
		lw.varLocal[st.Var] = local
		lw.varType[st.Var] = te.Type()
		return []Stmt{Assign{Local: local, Expr: te}}, nil

	case hir.MemStore:
		offset, err := lw.exprAs(st.Offset, Num)
		if err != nil {
			return nil, err
		}
		value, err := lw.exprAs(st.Value, Num)
		if err != nil {
			return nil, err
		}
		handle := "mstore"
		if st.Width == 1 {
			handle = "mstore8"
		}
		return []Stmt{ExprStmt{Call{Handle: handle, Args: []TypedExpr{Local{Index: lw.memoryLocal, Typ: Memory}, offset, value}, Typ: Unit}}}, nil

	case hir.StorageStore:
		slot, err := lw.exprAs(st.Slot, Num)
		if err != nil {
			return nil, err
		}
		value, err := lw.exprAs(st.Value, Num)
		if err != nil {
			return nil, err
		}
		return []Stmt{ExprStmt{Call{Handle: "sstore", Args: []TypedExpr{Local{Index: lw.storageLocal, Typ: Storage}, slot, value}, Typ: Unit}}}, nil

	case hir.Log:
		offset, err := lw.exprAs(st.Offset, Num)
		if err != nil {
			return nil, err
		}
		size, err := lw.exprAs(st.Size, Num)
		if err != nil {
			return nil, err
		}
		args := []TypedExpr{Local{Index: lw.memoryLocal, Typ: Memory}, offset, size}
		for _, topic := range st.Topics {
			te, err := lw.exprAs(topic, Num)
			if err != nil {
				return nil, err
			}
			args = append(args, te)
		}
		handle := []string{"log0", "log1", "log2", "log3", "log4"}[len(st.Topics)]
		return []Stmt{ExprStmt{Call{Handle: handle, Args: args, Typ: Unit}}}, nil

	case hir.Stop:
		return []Stmt{Stop{}}, nil

	case hir.Abort:
		return []Stmt{Abort{Code: st.Code}}, nil

	case hir.Result:
		return lw.lowerReturn(st)

	case hir.Branch:
		return []Stmt{Branch{Target: int(st.Target)}}, nil

	case hir.CondBranch:
		cond, err := lw.exprAs(st.Cond, Bool)
		if err != nil {
			return nil, err
		}
		return []Stmt{CondBranch{Cond: cond, TrueTarget: int(st.TrueTarget), FalseTarget: int(st.FalseTarget)}}, nil

	case hir.Continue:
		return []Stmt{Branch{Target: int(st.Header)}}, nil

	default:
		return nil, txerr.New(txerr.UnsupportedOpcode, component, "MIR lowerer: unhandled HIR statement", -1)
	}
}

// lowerReturn decodes the RETURN memory slice into the function's
// declared output vector when native_output is configured, else passes
// it through as a single opaque byte slice; hidden_output suppresses
// the value entirely (a fire-and-forget entry function still needs the
// side effects above it to have run, but emits a bare Return{}).
func (lw *lowerer) lowerReturn(st hir.Result) ([]Stmt, error) {
	offset, err := lw.exprAs(st.Offset, Num)
	if err != nil {
		return nil, err
	}
	size, err := lw.exprAs(st.Size, Num)
	if err != nil {
		return nil, err
	}
	if lw.cfg.HiddenOutput {
		return []Stmt{ExprStmt{Call{Handle: "mslice", Args: []TypedExpr{Local{Index: lw.memoryLocal, Typ: Memory}, offset, size}, Typ: Bytes}}, Return{}}, nil
	}
	if !lw.cfg.NativeOutput || len(lw.outputs) == 0 {
		slice := Call{Handle: "mslice", Args: []TypedExpr{Local{Index: lw.memoryLocal, Typ: Memory}, offset, size}, Typ: Bytes}
		return []Stmt{Return{Values: []TypedExpr{slice}}}, nil
	}

	values := make([]TypedExpr, len(lw.outputs))
	for i, t := range lw.outputs {
		word := Call{Handle: "mload", Args: []TypedExpr{Local{Index: lw.memoryLocal, Typ: Memory}, wordOffset(offset, i)}, Typ: Num}
		cast, err := lw.castTo(word, ethToSem(t, lw.cfg))
		if err != nil {
			return nil, err
		}
		values[i] = cast
	}
	return []Stmt{Return{Values: values}}, nil
}

// wordOffset computes offset + 32*i as a constant-folded expression
// when offset is itself a Const, else a runtime add call.
func wordOffset(offset TypedExpr, i int) TypedExpr {
	if i == 0 {
		return offset
	}
	if c, ok := offset.(Const); ok {
		var v uint256.Int
		v.AddUint64(&c.Value, uint64(32*i))
		return Const{Value: v, Typ: Num}
	}
	return Call{Handle: "overflowing_add", Args: []TypedExpr{offset, Const{Value: *uint256.NewInt(uint64(32 * i)), Typ: Num}}, Typ: Num}
}

// exprAs lowers e and casts it to want if the inferred type differs.
func (lw *lowerer) exprAs(e hir.Expr, want SemType) (TypedExpr, error) {
	te, err := lw.expr(e)
	if err != nil {
		return nil, err
	}
	return lw.castTo(te, want)
}

func (lw *lowerer) castTo(te TypedExpr, want SemType) (TypedExpr, error) {
	if te.Type() == want {
		return te, nil
	}
	if !legalCast(te.Type(), want) {
		return nil, txerr.New(txerr.TypeMismatch, component,
			"illegal cast "+te.Type().String()+"->"+want.String(), -1)
	}
	return Cast{X: te, From: te.Type(), To: want}, nil
}

// legalCast implements the exact table from spec.md §4.7 rule 2: only
// Bool<->Num, Address->Num, Bytes->Num, Num->Address are permitted,
// plus RawNum<->Num for the u128 boundary and the identity cast.
func legalCast(from, to SemType) bool {
	switch {
	case from == Bool && to == Num, from == Num && to == Bool:
		return true
	case from == Address && to == Num:
		return true
	case from == Bytes && to == Num:
		return true
	case from == Num && to == Address:
		return true
	case from == to:
		return true
	case from == RawNum && to == Num, from == Num && to == RawNum:
		return true
	default:
		return false
	}
}

func (lw *lowerer) expr(e hir.Expr) (TypedExpr, error) {
	switch x := e.(type) {
	case hir.Const:
		return Const{Value: x.Value, Typ: Num}, nil

	case hir.VarRef:
		t, ok := lw.varType[x.ID]
		if !ok {
			return nil, txerr.New(txerr.MalformedInput, component, "MIR lowerer: reference to undefined HIR variable", -1)
		}
		return Local{Index: lw.varLocal[x.ID], Typ: t}, nil

	case hir.ParamRef:
		local, ok := lw.paramLocal[x.Index]
		if !ok {
			local = lw.alloc.alloc(Num)
			lw.paramLocal[x.Index] = local
		}
		typ := Num
		if x.Index < len(lw.inputs) {
			typ = ethToSem(lw.inputs[x.Index], lw.cfg)
		}
		return Local{Index: local, Typ: typ}, nil

	case hir.MemLoad:
		offset, err := lw.exprAs(x.Offset, Num)
		if err != nil {
			return nil, err
		}
		return Call{Handle: "mload", Args: []TypedExpr{Local{Index: lw.memoryLocal, Typ: Memory}, offset}, Typ: Num}, nil

	case hir.StorageLoad:
		slot, err := lw.exprAs(x.Slot, Num)
		if err != nil {
			return nil, err
		}
		return Call{Handle: "sload", Args: []TypedExpr{Local{Index: lw.storageLocal, Typ: Storage}, slot}, Typ: Num}, nil

	case hir.MSize:
		return Call{Handle: "effective_len", Args: []TypedExpr{Local{Index: lw.memoryLocal, Typ: Memory}}, Typ: Num}, nil

	case hir.ArgsSize:
		return ArgsSizeExpr{}, nil

	case hir.Args:
		idx, err := lw.exprAs(x.Index, Num)
		if err != nil {
			return nil, err
		}
		return ArgsExpr{Index: idx, Native: x.Native}, nil

	case hir.Signer:
		return SignerExpr{}, nil

	case hir.UnaryOp:
		return lw.unary(x)

	case hir.BinaryOp:
		return lw.binary(x)

	case hir.TernaryOp:
		return lw.ternary(x)

	case hir.Keccak:
		offset, err := lw.exprAs(x.Offset, Num)
		if err != nil {
			return nil, err
		}
		size, err := lw.exprAs(x.Size, Num)
		if err != nil {
			return nil, err
		}
		return Keccak{Offset: offset, Size: size}, nil

	default:
		return nil, txerr.New(txerr.UnsupportedOpcode, component, "MIR lowerer: unhandled HIR expression", -1)
	}
}

func (lw *lowerer) unary(x hir.UnaryOp) (TypedExpr, error) {
	operand, err := lw.expr(x.X)
	if err != nil {
		return nil, err
	}
	switch x.Kind {
	case hir.UnaryIsZero:
		if operand.Type() == Bool {
			return UnaryOp{Kind: UnaryBoolNot, X: operand, Typ: Bool}, nil
		}
		num, err := lw.castTo(operand, Num)
		if err != nil {
			return nil, err
		}
		return Call{Handle: "is_zero", Args: []TypedExpr{num}, Typ: Bool}, nil
	case hir.UnaryBitNot:
		num, err := lw.castTo(operand, Num)
		if err != nil {
			return nil, err
		}
		return Call{Handle: "bitnot", Args: []TypedExpr{num}, Typ: Num}, nil
	case hir.UnaryNot:
		if operand.Type() == Bool {
			return UnaryOp{Kind: UnaryBoolNot, X: operand, Typ: Bool}, nil
		}
		num, err := lw.castTo(operand, Num)
		if err != nil {
			return nil, err
		}
		return Call{Handle: "is_zero", Args: []TypedExpr{num}, Typ: Bool}, nil
	default:
		return nil, txerr.New(txerr.UnsupportedOpcode, component, "MIR lowerer: unknown unary op", -1)
	}
}

// binaryHandle maps every HIR binary operator to its template handle
// name and result type, per spec.md §4.7 rules 4 and 6 and the handle
// table in §6. Comparisons yield Bool; everything else yields Num.
func binaryHandle(kind hir.BinaryOpKind) (handle string, result SemType) {
	switch kind {
	case hir.BinAdd:
		return "overflowing_add", Num
	case hir.BinSub:
		return "overflowing_sub", Num
	case hir.BinMul:
		return "overflowing_mul", Num
	case hir.BinDiv:
		return "div", Num
	case hir.BinSDiv:
		return "sdiv", Num
	case hir.BinMod:
		return "mod", Num
	case hir.BinSMod:
		return "smod", Num
	case hir.BinExp:
		return "exp", Num
	case hir.BinSignExtend:
		return "sexp", Num
	case hir.BinLt:
		return "lt", Bool
	case hir.BinGt:
		return "gt", Bool
	case hir.BinSLt:
		return "slt", Bool
	case hir.BinSGt:
		return "sgt", Bool
	case hir.BinEq:
		return "eq", Bool
	case hir.BinAnd:
		return "bitand", Num
	case hir.BinOr:
		return "bitor", Num
	case hir.BinXor:
		return "xor", Num
	case hir.BinByte:
		return "byte", Num
	case hir.BinShl:
		return "shl", Num
	case hir.BinShr:
		return "shr", Num
	case hir.BinSar:
		return "sar", Num
	default:
		return "", Num
	}
}

func (lw *lowerer) binary(x hir.BinaryOp) (TypedExpr, error) {
	left, err := lw.exprAs(x.Left, Num)
	if err != nil {
		return nil, err
	}
	right, err := lw.exprAs(x.Right, Num)
	if err != nil {
		return nil, err
	}
	handle, result := binaryHandle(x.Kind)
	if handle == "" {
		return nil, txerr.New(txerr.UnsupportedOpcode, component, "MIR lowerer: unknown binary op", -1)
	}
	return Call{Handle: handle, Args: []TypedExpr{left, right}, Typ: result}, nil
}

func (lw *lowerer) ternary(x hir.TernaryOp) (TypedExpr, error) {
	xx, err := lw.exprAs(x.X, Num)
	if err != nil {
		return nil, err
	}
	yy, err := lw.exprAs(x.Y, Num)
	if err != nil {
		return nil, err
	}
	mm, err := lw.exprAs(x.M, Num)
	if err != nil {
		return nil, err
	}
	handle := "addmod"
	if x.Kind == hir.TernMulMod {
		handle = "mulmod"
	}
	return Call{Handle: handle, Args: []TypedExpr{xx, yy, mm}, Typ: Num}, nil
}

// BuildConstructor synthesizes the generated "constructor" function
// body directly from a pre-execution storage snapshot (spec.md §4.3):
// one sstore call per recovered slot, no control flow.
func BuildConstructor(storage map[[32]byte]uint256.Int) *Function {
	alloc := newAllocator()
	storageLocal := alloc.alloc(Storage)
	fn := &Function{Name: "constructor"}
	fn.Stmts = append(fn.Stmts, Assign{Local: storageLocal, Expr: Call{Handle: "init_contract", Typ: Storage}})

	// Slots are visited in ascending byte order rather than Go's
	// undefined map iteration order, so two translations of the same
	// snapshot emit byte-identical output (spec.md §8 determinism
	// property).
	slots := make([][32]byte, 0, len(storage))
	for slot := range storage {
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool { return bytes.Compare(slots[i][:], slots[j][:]) < 0 })

	for _, slot := range slots {
		var slotVal uint256.Int
		slotVal.SetBytes32(slot[:])
		value := storage[slot]
		fn.Stmts = append(fn.Stmts, ExprStmt{Call{
			Handle: "sstore",
			Args: []TypedExpr{
				Local{Index: storageLocal, Typ: Storage},
				Const{Value: slotVal, Typ: Num},
				Const{Value: value, Typ: Num},
			},
			Typ: Unit,
		}})
	}
	fn.Stmts = append(fn.Stmts, Stop{})
	fn.Locals = alloc.locals
	fn.StorageLocal = storageLocal
	return fn
}
