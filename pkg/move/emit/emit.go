package emit

import (
	"github.com/sirupsen/logrus"

	"github.com/pontem-network/e2m-core/pkg/mir"
	"github.com/pontem-network/e2m-core/pkg/move/template"
	"github.com/pontem-network/e2m-core/pkg/txerr"
)

const component = "emit"

// placeholder records one unresolved branch operand: its position in
// the emitted instruction stream and the MIR label it targets.
type placeholder struct {
	pos   int
	label int
}

// emitter turns one MIR function into a flat Move instruction stream,
// resolving every Branch/BrTrue/BrFalse from a label_id -> offset map
// built as labels are emitted (spec.md §4.8).
type emitter struct {
	fn       *mir.Function
	pool     *ConstantPool
	handles  *template.HandleTable
	code     []Instruction
	labelPos map[int]int
	pending  []placeholder
	// remaining counts, per local, how many more times it is read after
	// the current position — the last read of a local compiles to
	// MoveLoc (consuming it), every earlier read to CopyLoc: a read
	// copies while the local is still live afterward and moves
	// otherwise. The counts are computed directly from MIR's flat,
	// SSA-shaped statement sequence rather than a general liveness
	// dataflow pass.
	remaining map[mir.LocalIndex]int
}

// Emit compiles fn to a Move instruction stream using pool to intern
// constants and handles to resolve template/own-function calls.
func Emit(fn *mir.Function, pool *ConstantPool, handles *template.HandleTable) ([]Instruction, error) {
	e := &emitter{
		fn:        fn,
		pool:      pool,
		handles:   handles,
		labelPos:  make(map[int]int),
		remaining: countUses(fn.Stmts),
	}
	logrus.WithFields(logrus.Fields{"stage": component, "function": fn.Name}).Debug("emitting Move bytecode")

	for _, st := range fn.Stmts {
		if err := e.stmt(st); err != nil {
			return nil, err
		}
	}
	if err := e.resolve(); err != nil {
		return nil, err
	}
	return e.code, nil
}

func (e *emitter) emit(op Opcode, operand uint16) int {
	e.code = append(e.code, Instruction{Op: op, Operand: operand})
	return len(e.code) - 1
}

func (e *emitter) stmt(s mir.Stmt) error {
	switch st := s.(type) {
	case mir.Assign:
		if err := e.expr(st.Expr); err != nil {
			return err
		}
		e.emit(OpStLoc, uint16(st.Local))
		return nil

	case mir.ExprStmt:
		if err := e.expr(st.Expr); err != nil {
			return err
		}
		if st.Expr.Type() != mir.Unit {
			e.emit(OpPop, 0)
		}
		return nil

	case mir.Label:
		e.labelPos[st.ID] = len(e.code)
		return nil

	case mir.Branch:
		pos := e.emit(OpBranch, 0)
		e.pending = append(e.pending, placeholder{pos: pos, label: st.Target})
		return nil

	case mir.CondBranch:
		if err := e.expr(st.Cond); err != nil {
			return err
		}
		pos := e.emit(OpBrTrue, 0)
		e.pending = append(e.pending, placeholder{pos: pos, label: st.TrueTarget})
		// Fall-through target is emitted as an explicit branch too, so
		// label resolution never depends on physical adjacency — the
		// HIR/MIR false-before-true emission order (spec.md §4.10)
		// still determines which label is defined first, but the
		// bytecode itself always jumps there explicitly.
		pos2 := e.emit(OpBranch, 0)
		e.pending = append(e.pending, placeholder{pos: pos2, label: st.FalseTarget})
		return nil

	case mir.Stop:
		e.emit(OpRet, 0)
		return nil

	case mir.Abort:
		e.emit(OpLdConst, e.internU64(uint64(st.Code)))
		e.emit(OpAbort, 0)
		return nil

	case mir.Return:
		for _, v := range st.Values {
			if err := e.expr(v); err != nil {
				return err
			}
		}
		e.emit(OpRet, 0)
		return nil

	default:
		return txerr.New(txerr.UnsupportedOpcode, component, "emitter: unhandled MIR statement", -1)
	}
}

func (e *emitter) resolve() error {
	for _, ph := range e.pending {
		off, ok := e.labelPos[ph.label]
		if !ok {
			return txerr.New(txerr.UnresolvedLabel, component, "branch target never emitted", -1)
		}
		e.code[ph.pos].Operand = uint16(off)
	}
	return nil
}

func (e *emitter) internU64(v uint64) uint16 {
	data := make([]byte, 8)
	for i := 0; i < 8; i++ {
		data[i] = byte(v >> (8 * i))
	}
	return e.pool.Intern(ConstU256, data)
}

func (e *emitter) expr(x mir.TypedExpr) error {
	switch v := x.(type) {
	case mir.Const:
		data := v.Value.Bytes32()
		e.emit(OpLdConst, e.pool.Intern(ConstU256, data[:]))
		return nil

	case mir.Local:
		e.remaining[v.Index]--
		if e.remaining[v.Index] <= 0 {
			e.emit(OpMoveLoc, uint16(v.Index))
		} else {
			e.emit(OpCopyLoc, uint16(v.Index))
		}
		return nil

	case mir.Cast:
		if err := e.expr(v.X); err != nil {
			return err
		}
		return e.cast(v.From, v.To)

	case mir.UnaryOp:
		if err := e.expr(v.X); err != nil {
			return err
		}
		if v.Kind == mir.UnaryBoolNot {
			e.emit(OpNot, 0)
		}
		return nil

	case mir.Call:
		for _, a := range v.Args {
			if err := e.expr(a); err != nil {
				return err
			}
		}
		e.emit(OpCall, e.handles.Handle(v.Handle))
		return nil

	case mir.Keccak:
		if err := e.expr(v.Offset); err != nil {
			return err
		}
		if err := e.expr(v.Size); err != nil {
			return err
		}
		e.emit(OpCall, e.handles.Handle("hash"))
		return nil

	case mir.SignerExpr:
		e.emit(OpCall, e.handles.Handle("from_signer"))
		return nil

	case mir.ArgsSizeExpr:
		e.emit(OpCall, e.handles.Handle("request_buffer_len"))
		return nil

	case mir.ArgsExpr:
		if err := e.expr(v.Index); err != nil {
			return err
		}
		e.emit(OpCall, e.handles.Handle("read_request_buffer"))
		return nil

	default:
		return txerr.New(txerr.UnsupportedOpcode, component, "emitter: unhandled MIR expression", -1)
	}
}

// cast compiles the explicit Move-side conversion for a MIR Cast node.
// Every cast compiles to a template function call, since U256 is a
// struct: Bool/Address/Bytes cross through it, and the U256<->u128
// boundary uses as_u128/from_u128.
func (e *emitter) cast(from, to mir.SemType) error {
	switch {
	case from == mir.Bool && to == mir.Num:
		e.emit(OpCall, e.handles.Handle("from_bool"))
	case from == mir.Num && to == mir.Bool:
		e.emit(OpCall, e.handles.Handle("to_bool"))
	case from == mir.Address && to == mir.Num:
		e.emit(OpCall, e.handles.Handle("from_address"))
	case from == mir.Num && to == mir.Address:
		e.emit(OpCall, e.handles.Handle("to_address"))
	case from == mir.Bytes && to == mir.Num:
		e.emit(OpCall, e.handles.Handle("from_bytes"))
	case from == mir.Num && to == mir.RawNum:
		e.emit(OpCall, e.handles.Handle("as_u128"))
	case from == mir.RawNum && to == mir.Num:
		e.emit(OpCall, e.handles.Handle("from_u128"))
	default:
		return txerr.New(txerr.TypeMismatch, component, "emitter: no lowering for cast", -1)
	}
	return nil
}

// countUses walks every statement's expression tree once, counting how
// many times each local is read. The emitter then decrements this map
// as it emits reads in the same order, so the read that brings a
// local's counter to zero is its last use.
func countUses(stmts []mir.Stmt) map[mir.LocalIndex]int {
	counts := make(map[mir.LocalIndex]int)
	var walkExpr func(mir.TypedExpr)
	walkExpr = func(x mir.TypedExpr) {
		switch v := x.(type) {
		case mir.Local:
			counts[v.Index]++
		case mir.Cast:
			walkExpr(v.X)
		case mir.UnaryOp:
			walkExpr(v.X)
		case mir.Call:
			for _, a := range v.Args {
				walkExpr(a)
			}
		case mir.Keccak:
			walkExpr(v.Offset)
			walkExpr(v.Size)
		case mir.ArgsExpr:
			walkExpr(v.Index)
		}
	}
	for _, s := range stmts {
		switch st := s.(type) {
		case mir.Assign:
			walkExpr(st.Expr)
		case mir.ExprStmt:
			walkExpr(st.Expr)
		case mir.CondBranch:
			walkExpr(st.Cond)
		case mir.Return:
			for _, v := range st.Values {
				walkExpr(v)
			}
		}
	}
	return counts
}
