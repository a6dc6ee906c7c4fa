package module_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pontem-network/e2m-core/pkg/abi"
	"github.com/pontem-network/e2m-core/pkg/evm/isa"
	"github.com/pontem-network/e2m-core/pkg/mir"
	"github.com/pontem-network/e2m-core/pkg/move/emit"
	"github.com/pontem-network/e2m-core/pkg/move/module"
	"github.com/pontem-network/e2m-core/pkg/move/template"
)

func testBinding() template.Binding {
	return template.Bind([32]byte{31: 0x42}, "counter")
}

func TestNewModuleReservesTemplateStructHandles(t *testing.T) {
	m := module.New(testBinding(), template.Load())
	require.Equal(t, []int{template.MemoryStructHandle, template.PersistStructHandle, template.U256StructHandle}, m.StructHandles)
	require.Equal(t, "counter", m.SelfName)
}

func TestAddFunctionAssignsHandlesAboveReservedRange(t *testing.T) {
	handles := template.Load()
	m := module.New(testBinding(), handles)
	fn := &mir.Function{Name: "increment", Locals: []mir.SemType{mir.Num}}

	idx := m.AddFunction("increment", fn, nil, module.VisPublic)
	require.GreaterOrEqual(t, idx, int(handles.NextFreeHandle()))
	require.Len(t, m.Functions, 1)
	require.Equal(t, module.VisPublic, m.Functions[0].Visibility)
}

func TestAddFunctionInternsNameOnce(t *testing.T) {
	handles := template.Load()
	m := module.New(testBinding(), handles)
	fn := &mir.Function{Name: "increment"}

	m.AddFunction("increment", fn, nil, module.VisPublic)
	m.AddFunction("increment", fn, nil, module.VisPublic)

	count := 0
	for _, name := range m.Identifiers {
		if name == "increment" {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestSerializeRoundTripsModule(t *testing.T) {
	handles := template.Load()
	m := module.New(testBinding(), handles)
	pool := m.Constants
	pool.Intern(emit.ConstU256, []byte{1, 2, 3})

	code := []emit.Instruction{{Op: emit.OpLdConst, Operand: 0}, {Op: emit.OpRet}}
	m.AddFunction("run", &mir.Function{Locals: []mir.SemType{mir.Num}}, code, module.VisPublic)

	var buf bytes.Buffer
	require.NoError(t, module.Serialize(m, &buf))

	out, err := module.Deserialize(&buf)
	require.NoError(t, err)

	require.Equal(t, m.SelfAddress, out.SelfAddress)
	require.Equal(t, m.SelfName, out.SelfName)
	require.Equal(t, m.Identifiers, out.Identifiers)
	require.Equal(t, m.Addresses, out.Addresses)
	require.Equal(t, m.StructHandles, out.StructHandles)
	require.Len(t, out.Functions, 1)
	require.Equal(t, code, out.Functions[0].Code)
	require.True(t, m.Constants.Equal(out.Constants))
}

func TestWriteInterfaceDeclaresU256StructWhenCrossingBoundary(t *testing.T) {
	descs := []abi.FunctionDescriptor{
		{Name: "balanceOf", Inputs: []isa.EthType{isa.EthAddress}, Outputs: []isa.EthType{isa.EthU256}, Mutates: false},
	}
	var buf bytes.Buffer
	require.NoError(t, module.WriteInterface(&buf, testBinding(), descs, false))

	out := buf.String()
	require.Contains(t, out, "struct U256")
	require.Contains(t, out, "public fun balanceOf")
	require.Contains(t, out, "/* view */")
}

func TestWriteInterfaceOmitsU256StructUnderU128IO(t *testing.T) {
	descs := []abi.FunctionDescriptor{
		{Name: "transfer", Inputs: []isa.EthType{isa.EthAddress, isa.EthU256}, Outputs: []isa.EthType{isa.EthBool}, Mutates: true},
	}
	var buf bytes.Buffer
	require.NoError(t, module.WriteInterface(&buf, testBinding(), descs, true))

	out := buf.String()
	require.NotContains(t, out, "struct U256")
	require.Contains(t, out, "arg1: u128")
}
