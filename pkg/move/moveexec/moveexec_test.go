package moveexec_test

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/pontem-network/e2m-core/pkg/mir"
	"github.com/pontem-network/e2m-core/pkg/move/emit"
	"github.com/pontem-network/e2m-core/pkg/move/module"
	"github.com/pontem-network/e2m-core/pkg/move/moveexec"
	"github.com/pontem-network/e2m-core/pkg/move/template"
)

func TestRunReturnsConstant(t *testing.T) {
	handles := template.Load()
	binding := template.Bind([32]byte{31: 0x7}, "counter")
	mod := module.New(binding, handles)

	idx := mod.Constants.Intern(emit.ConstU256, []byte{42})
	code := []emit.Instruction{
		{Op: emit.OpLdConst, Operand: idx},
		{Op: emit.OpRet},
	}
	mod.AddFunction("answer", fakeFn(), code, module.VisPublic)

	m := moveexec.New(handles, binding.SelfAddress, nil)
	out, err := m.Run(&mod.Functions[0], mod, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, uint64(42), out[0].Uint64())
}

func TestRunArithmeticOverflowingAdd(t *testing.T) {
	handles := template.Load()
	mod := module.New(template.Bind([32]byte{31: 0x7}, "counter"), handles)

	code := []emit.Instruction{
		{Op: emit.OpCopyLoc, Operand: 0},
		{Op: emit.OpLdConst, Operand: mod.Constants.Intern(emit.ConstU256, []byte{1})},
		{Op: emit.OpCall, Operand: handles.Handle("overflowing_add")},
		{Op: emit.OpRet},
	}
	mod.AddFunction("increment", fakeFn(), code, module.VisPublic)

	m := moveexec.New(handles, [32]byte{}, nil)
	out, err := m.Run(&mod.Functions[0], mod, []uint256.Int{*uint256.NewInt(41)})
	require.NoError(t, err)
	require.Equal(t, uint64(42), out[0].Uint64())
}

func TestRunStorageRoundTrip(t *testing.T) {
	handles := template.Load()
	mod := module.New(template.Bind([32]byte{31: 0x7}, "counter"), handles)

	slotConst := mod.Constants.Intern(emit.ConstU256, []byte{5})
	valConst := mod.Constants.Intern(emit.ConstU256, []byte{99})
	code := []emit.Instruction{
		{Op: emit.OpCall, Operand: handles.Handle("init_contract")},
		{Op: emit.OpStLoc, Operand: 0},
		{Op: emit.OpCopyLoc, Operand: 0},
		{Op: emit.OpLdConst, Operand: slotConst},
		{Op: emit.OpLdConst, Operand: valConst},
		{Op: emit.OpCall, Operand: handles.Handle("sstore")},
		{Op: emit.OpCopyLoc, Operand: 0},
		{Op: emit.OpLdConst, Operand: slotConst},
		{Op: emit.OpCall, Operand: handles.Handle("sload")},
		{Op: emit.OpRet},
	}
	mod.AddFunction("store_and_load", fakeFn(), code, module.VisPublic)

	m := moveexec.New(handles, [32]byte{}, nil)
	out, err := m.Run(&mod.Functions[0], mod, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(99), out[0].Uint64())

	var slotKey [32]byte
	slotKey[31] = 5
	require.Equal(t, uint64(99), m.Storage()[slotKey].Uint64())
}

func TestRunAbortPropagatesAsError(t *testing.T) {
	handles := template.Load()
	mod := module.New(template.Bind([32]byte{31: 0x7}, "counter"), handles)

	code := []emit.Instruction{
		{Op: emit.OpLdConst, Operand: mod.Constants.Intern(emit.ConstU256, []byte{7})},
		{Op: emit.OpAbort},
	}
	mod.AddFunction("fails", fakeFn(), code, module.VisPublic)

	m := moveexec.New(handles, [32]byte{}, nil)
	_, err := m.Run(&mod.Functions[0], mod, nil)
	require.Error(t, err)
}

func fakeFn() *mir.Function { return &mir.Function{} }
