// Package flow implements the flow tracer: a symbolic execution
// pass over a program's basic blocks that resolves every JUMP/JUMPI to
// a concrete successor block and classifies loop back-edges, so the
// HIR builder can emit structured block/if-else/loop constructs instead
// of raw gotos.
package flow

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/pontem-network/e2m-core/pkg/evm/block"
	"github.com/pontem-network/e2m-core/pkg/evm/isa"
	"github.com/pontem-network/e2m-core/pkg/txerr"
)

const component = "flow"

// visitCacheSize bounds the (block, stack-depth) memoization table.
// Contract bytecode rarely exceeds a few hundred blocks, and each block
// is visited at a handful of distinct incoming depths at most, so this
// is generous headroom rather than a tight budget.
const visitCacheSize = 4096

// Kind is the symbolic value domain the tracer assigns to every stack
// slot: every value a block can observe on the stack at the time it
// reaches a jump is exactly one of these three kinds.
type Kind int

const (
	// Positive is a statically known constant produced by a PUSH. Every
	// PUSH yields Positive whatever its magnitude; no size check is made,
	// and a jump target taken from one uses its low 64 bits.
	Positive Kind = iota
	// Negative is a placeholder for a stack slot consumed before being
	// produced within the traced region — a function argument or a
	// value inherited from the caller's frame.
	Negative
	// Calc is any other runtime-computed value: the result of an
	// arithmetic op, a memory load, anything not trivially a constant.
	Calc
)

func (k Kind) String() string {
	switch k {
	case Positive:
		return "positive"
	case Negative:
		return "negative"
	case Calc:
		return "calc"
	default:
		return "unknown"
	}
}

// Value is one symbolic stack slot.
type Value struct {
	Kind   Kind
	Const  uint256.Int // meaningful when Kind == Positive
	NegID  int         // meaningful when Kind == Negative
	Origin int         // instruction offset that produced this value, -1 if inherited
}

// LoopInfo describes one loop header discovered during the trace.
type LoopInfo struct {
	Header int
	// EntryDepth is the symbolic stack depth observed the first time
	// the header was reached. Every re-entry is expected to match it —
	// a loop header always sees the same stack shape on every
	// iteration.
	EntryDepth int
	// Continues holds every block offset whose edge to Header is a
	// back-edge (loop body jumping to the top).
	Continues []int
	// Break is the successor block reached once the loop condition
	// fails, if one was observed.
	Break int
	HasBreak bool
}

// Result is the flow tracer's output for one traced entry point.
type Result struct {
	// Successors maps a block offset to the block offsets it can jump
	// or fall through to.
	Successors map[int][]int
	// LoopHeaders holds the offset of every block classified as a loop
	// header, in discovery order.
	LoopHeaders []int
	Loops       map[int]*LoopInfo
}

type tracer struct {
	prog      *block.Program
	nextNegID int
	onStack   map[int]bool // blocks active on the current DFS path
	cache     *lru.Cache   // (offset,depth) -> struct{}, blocks fully processed once
	result    *Result
}

// Trace runs the symbolic execution pass starting at entry (a function's
// resolved entry block offset, or the dispatcher root) and returns the
// resolved control-flow graph restricted to blocks reachable from it.
func Trace(prog *block.Program, entry int) (*Result, error) {
	cache, err := lru.New(visitCacheSize)
	if err != nil {
		return nil, err
	}
	t := &tracer{
		prog:    prog,
		onStack: make(map[int]bool),
		cache:   cache,
		result: &Result{
			Successors: make(map[int][]int),
			Loops:      make(map[int]*LoopInfo),
		},
	}
	logrus.WithFields(logrus.Fields{"stage": component, "entry": entry}).Debug("tracing control flow")
	if _, err := t.visit(entry, nil); err != nil {
		return nil, err
	}
	return t.result, nil
}

// visit symbolically executes the block at offset with incoming stack
// stackIn, recursing into its successors. It reports whether the edge
// that invoked this call is itself a back-edge, so the caller can
// attribute that specific edge to the loop header it targets.
func (t *tracer) visit(offset int, stackIn []Value) (bool, error) {
	depth := len(stackIn)

	if t.onStack[offset] {
		// Back-edge: offset is already being traced further up the
		// current DFS path (checked before the memo cache, since a
		// self-looping block is added to the cache before its own
		// recursive visit returns). It becomes (or remains) a loop
		// header.
		info := t.result.Loops[offset]
		if info == nil {
			info = &LoopInfo{Header: offset, EntryDepth: depth}
			t.result.Loops[offset] = info
			t.result.LoopHeaders = append(t.result.LoopHeaders, offset)
		}
		return true, nil
	}

	key := fmt.Sprintf("%d:%d", offset, depth)
	if _, ok := t.cache.Get(key); ok {
		return false, nil
	}

	b := t.prog.At(offset)
	if b == nil {
		return false, txerr.New(txerr.MalformedInput, component, "jump target is not a known block entry", offset)
	}

	t.onStack[offset] = true
	defer delete(t.onStack, offset)

	st := append([]Value(nil), stackIn...)
	last := b.Last()

	for _, in := range b.Instructions {
		if in.Offset == last.Offset {
			break // terminator handled separately below
		}
		var err error
		st, err = t.stepNonTerminal(st, in)
		if err != nil {
			return false, err
		}
	}

	successors, postStack, err := t.terminate(b, st)
	if err != nil {
		return false, err
	}

	t.result.Successors[offset] = successors
	t.cache.Add(key, struct{}{})

	for _, succ := range successors {
		succStack := append([]Value(nil), postStack...)
		isBackEdge, err := t.visit(succ, succStack)
		if err != nil {
			return false, err
		}
		if isBackEdge {
			t.classifyLoopEdge(t.result.Loops[succ], offset, succ)
		}
	}

	return false, nil
}

// stepNonTerminal applies one instruction's symbolic stack effect. The
// terminator instruction (last in the block) is never passed here; it
// is handled by terminate, which needs to inspect the operand kind.
func (t *tracer) stepNonTerminal(st []Value, in isa.Instruction) ([]Value, error) {
	switch {
	case in.Op.IsPush():
		var v uint256.Int
		v.SetBytes(in.Immediate)
		return append(st, Value{Kind: Positive, Const: v, Origin: in.Offset}), nil
	case in.Op.IsDup():
		v, st2 := t.peek(st, in.Op.DupDepth()-1)
		return append(st2, v), nil
	case in.Op.IsSwap():
		return t.swap(st, in.Op.SwapDepth())
	default:
		pops, pushes := in.Op.StackArity()
		for i := 0; i < pops; i++ {
			_, st = t.pop(st)
		}
		for i := 0; i < pushes; i++ {
			st = append(st, Value{Kind: Calc, Origin: in.Offset})
		}
		return st, nil
	}
}

// terminate inspects the block's last instruction and returns the
// offsets of its concrete successor blocks plus the stack every
// successor inherits, failing if a jump's target is not statically
// known.
func (t *tracer) terminate(b *block.Block, st []Value) ([]int, []Value, error) {
	last := b.Last()
	switch last.Op {
	case isa.OpJump:
		target, rest := t.pop(st)
		dest, err := t.resolveTarget(target, last.Offset)
		if err != nil {
			return nil, nil, err
		}
		return []int{dest}, rest, nil
	case isa.OpJumpI:
		target, rest := t.pop(st)
		_, rest = t.pop(rest)
		dest, err := t.resolveTarget(target, last.Offset)
		if err != nil {
			return nil, nil, err
		}
		fallthroughDest := last.Offset + last.Len()
		return []int{dest, fallthroughDest}, rest, nil
	case isa.OpReturn, isa.OpStop, isa.OpRevert, isa.OpInvalid, isa.OpSelfDestruct:
		return nil, nil, nil
	default:
		// Block ends without a control-flow opcode only at the tail of
		// the program, or right before a JUMPDEST we fall into.
		next := last.Offset + last.Len()
		if t.prog.At(next) == nil {
			return nil, nil, nil
		}
		return []int{next}, st, nil
	}
}

func (t *tracer) resolveTarget(v Value, originOffset int) (int, error) {
	switch v.Kind {
	case Positive:
		return int(v.Const.Uint64()), nil
	default:
		return 0, txerr.New(txerr.DynamicControlFlow, component, "dynamic jump unsupported", originOffset)
	}
}

// classifyLoopEdge records a confirmed back-edge from source to the
// loop header. The break successor is whichever other block the
// back-edge's own terminator can reach besides the header itself — the
// usual solc shape where the loop's condition check and its back-jump
// are the same JUMPI (source == header, body is a do-while) — falling
// back to the header's own non-header successor for the shape where the
// header carries the check and an unconditional tail jumps back.
func (t *tracer) classifyLoopEdge(info *LoopInfo, source, header int) {
	info.Continues = append(info.Continues, source)
	if info.HasBreak {
		return
	}
	for _, candidates := range [][]int{t.result.Successors[source], t.result.Successors[header]} {
		for _, s := range candidates {
			if s != header {
				info.Break = s
				info.HasBreak = true
				return
			}
		}
	}
}

// pop removes and returns the top of st. An empty stack manufactures a
// Negative placeholder rather than failing: popping below the traced
// region's initial frame is exactly what identifies a value as
// caller-supplied.
func (t *tracer) pop(st []Value) (Value, []Value) {
	if len(st) == 0 {
		return t.freshNegative(), st
	}
	return st[len(st)-1], st[:len(st)-1]
}

func (t *tracer) peek(st []Value, depth int) (Value, []Value) {
	idx := len(st) - 1 - depth
	if idx < 0 {
		return t.freshNegative(), st
	}
	return st[idx], st
}

func (t *tracer) swap(st []Value, depth int) ([]Value, error) {
	out := append([]Value(nil), st...)
	for len(out) <= depth {
		out = append([]Value{t.freshNegative()}, out...)
	}
	i, j := len(out)-1, len(out)-1-depth
	out[i], out[j] = out[j], out[i]
	return out, nil
}

func (t *tracer) freshNegative() Value {
	v := Value{Kind: Negative, NegID: t.nextNegID, Origin: -1}
	t.nextNegID++
	return v
}

// DumpTrace renders a Result as human-readable successor/loop listings,
// for debugging; e2m disasm does not call it. It is presentation only;
// nothing in the pipeline parses this format back.
func DumpTrace(r *Result) string {
	var b []byte
	buf := func(s string) { b = append(b, s...) }

	buf(fmt.Sprintf("Successors (%d blocks):\n", len(r.Successors)))
	for _, offset := range sortedKeys(r.Successors) {
		buf(fmt.Sprintf("  %d -> %v\n", offset, r.Successors[offset]))
	}

	buf(fmt.Sprintf("Loop headers (%d):\n", len(r.LoopHeaders)))
	for _, h := range r.LoopHeaders {
		info := r.Loops[h]
		buf(fmt.Sprintf("  header=%d entryDepth=%d continues=%v", h, info.EntryDepth, info.Continues))
		if info.HasBreak {
			buf(fmt.Sprintf(" break=%d", info.Break))
		}
		buf("\n")
	}

	return string(b)
}

func sortedKeys(m map[int][]int) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}
