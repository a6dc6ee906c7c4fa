package hir_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pontem-network/e2m-core/pkg/evm/block"
	"github.com/pontem-network/e2m-core/pkg/evm/decode"
	"github.com/pontem-network/e2m-core/pkg/flow"
	"github.com/pontem-network/e2m-core/pkg/hir"
)

func buildFunction(t *testing.T, hexCode, name string) *hir.Function {
	t.Helper()
	instrs, err := decode.Decode(hexCode)
	require.NoError(t, err)
	prog := block.Build(instrs)
	trace, err := flow.Trace(prog, 0)
	require.NoError(t, err)
	fn, err := hir.Build(prog, trace, 0, name, 0)
	require.NoError(t, err)
	return fn
}

func TestBuildStraightLineFoldsConstants(t *testing.T) {
	// PUSH1 2 PUSH1 3 ADD PUSH1 0 MSTORE PUSH1 32 PUSH1 0 RETURN
	fn := buildFunction(t, "600260030160005260206000f3", "straight")

	require.Len(t, fn.Blocks, 1)
	blk := fn.Blocks[0]
	require.Equal(t, 0, blk.Origin)
	require.Len(t, blk.Stmts, 2)

	store, ok := blk.Stmts[0].(hir.MemStore)
	require.True(t, ok)
	require.Equal(t, 32, store.Width)
	offsetConst, ok := store.Offset.(hir.Const)
	require.True(t, ok)
	require.True(t, offsetConst.Value.IsZero())
	valueConst, ok := store.Value.(hir.Const)
	require.True(t, ok)
	require.Equal(t, uint64(5), valueConst.Value.Uint64())

	result, ok := blk.Stmts[1].(hir.Result)
	require.True(t, ok)
	sizeConst, ok := result.Size.(hir.Const)
	require.True(t, ok)
	require.Equal(t, uint64(32), sizeConst.Value.Uint64())

	require.Empty(t, fn.Vars)
}

func TestBuildDupMaterializesSharedVariable(t *testing.T) {
	// PUSH1 5 DUP1 ADD PUSH1 0 MSTORE PUSH1 32 PUSH1 0 RETURN
	fn := buildFunction(t, "6005800160005260206000f3", "dup")

	require.Len(t, fn.Vars, 1)
	five, ok := fn.Vars[0].(hir.Const)
	require.True(t, ok)
	require.Equal(t, uint64(5), five.Value.Uint64())

	blk := fn.Blocks[0]
	require.Len(t, blk.Stmts, 3)

	assign, ok := blk.Stmts[0].(hir.Assign)
	require.True(t, ok)
	require.Equal(t, hir.VarID(0), assign.Var)

	store, ok := blk.Stmts[1].(hir.MemStore)
	require.True(t, ok)
	sum, ok := store.Value.(hir.BinaryOp)
	require.True(t, ok)
	require.Equal(t, hir.BinAdd, sum.Kind)
	left, ok := sum.Left.(hir.VarRef)
	require.True(t, ok)
	right, ok := sum.Right.(hir.VarRef)
	require.True(t, ok)
	require.Equal(t, hir.VarID(0), left.ID)
	require.Equal(t, hir.VarID(0), right.ID)
}

func TestBuildFlushesSharedVariableAtJoin(t *testing.T) {
	// PUSH1 0xAA PUSH1 1 PUSH1 10 JUMPI   -- block 0, offsets 0-6
	// PUSH1 10 JUMP                        -- block 7, offsets 7-9 (fallthrough)
	// JUMPDEST STOP                        -- block 10, offsets 10-11
	//
	// Both paths into block 10 carry the same single stack slot (the
	// 0xAA pushed in block 0), so block 10 has two predecessors and the
	// builder must spill that slot to one shared variable at the end of
	// both block 0 (the direct/true edge) and block 7 (the indirect
	// edge, after its own JUMP).
	fn := buildFunction(t, "60aa6001600a57600a565b00", "join")

	require.Len(t, fn.Vars, 1)
	aa, ok := fn.Vars[0].(hir.Const)
	require.True(t, ok)
	require.Equal(t, uint64(0xaa), aa.Value.Uint64())

	require.Len(t, fn.Blocks, 3)
	entry := fn.Blocks[0]
	fallBlock := fn.Blocks[1]
	joinBlock := fn.Blocks[2]

	require.Equal(t, 0, entry.Origin)
	require.Equal(t, 10, joinBlock.Origin)
	require.Equal(t, 7, fallBlock.Origin)

	require.Len(t, entry.Stmts, 2)
	assign0, ok := entry.Stmts[0].(hir.Assign)
	require.True(t, ok)
	require.Equal(t, hir.VarID(0), assign0.Var)
	cb, ok := entry.Stmts[1].(hir.CondBranch)
	require.True(t, ok)
	require.Equal(t, joinBlock.Label, cb.TrueTarget)
	require.Equal(t, fallBlock.Label, cb.FalseTarget)

	require.Len(t, joinBlock.Stmts, 1)
	_, ok = joinBlock.Stmts[0].(hir.Stop)
	require.True(t, ok)

	require.Len(t, fallBlock.Stmts, 2)
	assign1, ok := fallBlock.Stmts[0].(hir.Assign)
	require.True(t, ok)
	require.Equal(t, hir.VarID(0), assign1.Var)
	branch, ok := fallBlock.Stmts[1].(hir.Branch)
	require.True(t, ok)
	require.Equal(t, joinBlock.Label, branch.Target)
}

func TestBuildLoopBackEdgeEmitsContinue(t *testing.T) {
	// PUSH1 5 JUMP  PUSH1 1(dead)  JUMPDEST(5) PUSH1 0 PUSH1 5 JUMPI  STOP
	fn := buildFunction(t, "60055660015b600060055700", "loop")

	require.Len(t, fn.Blocks, 3)
	entry, header, tail := fn.Blocks[0], fn.Blocks[1], fn.Blocks[2]
	require.Equal(t, 0, entry.Origin)
	require.Equal(t, 5, header.Origin)
	require.Equal(t, 11, tail.Origin)

	require.Len(t, header.Stmts, 2)
	cb, ok := header.Stmts[0].(hir.CondBranch)
	require.True(t, ok)
	require.Equal(t, header.Label, cb.TrueTarget)
	require.Equal(t, tail.Label, cb.FalseTarget)
	cont, ok := header.Stmts[1].(hir.Continue)
	require.True(t, ok)
	require.Equal(t, header.Label, cont.Header)

	require.Len(t, tail.Stmts, 1)
	_, ok = tail.Stmts[0].(hir.Stop)
	require.True(t, ok)
}

func TestBuildFoldedEnvironmentOpcodesWarn(t *testing.T) {
	// CALLVALUE PUSH1 0 MSTORE GAS PUSH1 32 MSTORE PUSH1 64 PUSH1 0 RETURN
	fn := buildFunction(t, "346000525a60205260406000f3", "env")

	require.Len(t, fn.Warnings, 2)
	require.Contains(t, fn.Warnings[0], "CALLVALUE")
	require.Contains(t, fn.Warnings[0], "folded to 0")
	require.Contains(t, fn.Warnings[1], "GAS")
	require.Contains(t, fn.Warnings[1], "U256::MAX")

	store, ok := fn.Blocks[0].Stmts[1].(hir.MemStore)
	require.True(t, ok)
	gasConst, ok := store.Value.(hir.Const)
	require.True(t, ok)
	require.False(t, gasConst.Value.IsZero())
}
