package abi_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pontem-network/e2m-core/pkg/abi"
	"github.com/pontem-network/e2m-core/pkg/evm/isa"
)

const sampleABI = `[
  {"type":"constructor","inputs":[{"name":"initial","type":"uint256"}]},
  {"type":"function","name":"transfer","stateMutability":"nonpayable",
   "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"who","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"Transfer","inputs":[]}
]`

func TestParseEntriesAndDescriptors(t *testing.T) {
	entries, err := abi.ParseEntries([]byte(sampleABI))
	require.NoError(t, err)
	require.Len(t, entries, 4)

	descs, err := abi.Descriptors(entries)
	require.NoError(t, err)
	require.Len(t, descs, 2)

	byName := map[string]abi.FunctionDescriptor{}
	for _, d := range descs {
		byName[d.Name] = d
	}

	transfer := byName["transfer"]
	require.Equal(t, []isa.EthType{isa.EthAddress, isa.EthU256}, transfer.Inputs)
	require.Equal(t, []isa.EthType{isa.EthBool}, transfer.Outputs)
	require.True(t, transfer.Mutates)
	require.Equal(t, 32*2+4, transfer.CallDataSize())

	balanceOf := byName["balanceOf"]
	require.False(t, balanceOf.Mutates)
}

func TestSelectorMatchesKnownERC20Signature(t *testing.T) {
	// transfer(address,uint256) selector is the well-known 0xa9059cbb.
	sel := abi.Selector("transfer", []abi.Param{{Type: "address"}, {Type: "uint256"}})
	require.Equal(t, [4]byte{0xa9, 0x05, 0x9c, 0xbb}, sel)
}

func TestMapTypeRejectsUnsupportedTuple(t *testing.T) {
	_, err := abi.ParseEntries([]byte(`[{"type":"function","name":"f","inputs":[{"name":"x","type":"tuple"}]}]`))
	require.NoError(t, err)

	entries, err := abi.ParseEntries([]byte(`[{"type":"function","name":"f","inputs":[{"name":"x","type":"tuple"}]}]`))
	require.NoError(t, err)
	_, err = abi.Descriptors(entries)
	require.Error(t, err)
}

func TestBindResolvesDispatchTable(t *testing.T) {
	entries, err := abi.ParseEntries([]byte(sampleABI))
	require.NoError(t, err)
	descs, err := abi.Descriptors(entries)
	require.NoError(t, err)

	dispatch := abi.Dispatch{}
	for _, d := range descs {
		dispatch[d.Selector] = 0x100
	}

	bound, err := abi.Bind(descs, dispatch)
	require.NoError(t, err)
	require.Equal(t, 0x100, bound["transfer"])
	require.Equal(t, 0x100, bound["balanceOf"])
}

func TestBindFailsOnMissingDispatchEntry(t *testing.T) {
	entries, err := abi.ParseEntries([]byte(sampleABI))
	require.NoError(t, err)
	descs, err := abi.Descriptors(entries)
	require.NoError(t, err)

	_, err = abi.Bind(descs, abi.Dispatch{})
	require.Error(t, err)
}
