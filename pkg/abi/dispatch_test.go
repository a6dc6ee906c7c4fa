package abi_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pontem-network/e2m-core/pkg/abi"
	"github.com/pontem-network/e2m-core/pkg/evm/isa"
)

// push builds a PUSH<width> instruction with the given big-endian
// immediate, at offset off.
func push(off int, width int, value ...byte) isa.Instruction {
	op := isa.Opcode(int(isa.OpPush1) + width - 1)
	imm := make([]byte, width)
	copy(imm[width-len(value):], value)
	return isa.Instruction{Offset: off, Op: op, Immediate: imm}
}

func plain(off int, op isa.Opcode) isa.Instruction {
	return isa.Instruction{Offset: off, Op: op}
}

// dispatcherFor builds the canonical solc selector-check sequence:
// DUP1 PUSH4 <selector> EQ PUSH2 <dest> JUMPI
func dispatcherFor(off int, selector [4]byte, dest uint16) []isa.Instruction {
	return []isa.Instruction{
		plain(off, isa.OpDup1),
		push(off+1, 4, selector[:]...),
		plain(off+6, isa.OpEq),
		push(off+7, 2, byte(dest>>8), byte(dest)),
		plain(off+10, isa.OpJumpI),
	}
}

func TestBuildDispatchFindsCanonicalPattern(t *testing.T) {
	sel := [4]byte{0xaa, 0xbb, 0xcc, 0xdd}
	instrs := dispatcherFor(0, sel, 0x100)

	d := abi.BuildDispatch(instrs)
	require.Equal(t, 0x100, d[sel])
}

func TestBuildDispatchHandlesMultipleEntries(t *testing.T) {
	sel1 := [4]byte{0x01, 0x02, 0x03, 0x04}
	sel2 := [4]byte{0x05, 0x06, 0x07, 0x08}
	var instrs []isa.Instruction
	instrs = append(instrs, dispatcherFor(0, sel1, 0x10)...)
	instrs = append(instrs, dispatcherFor(11, sel2, 0x20)...)

	d := abi.BuildDispatch(instrs)
	require.Equal(t, 0x10, d[sel1])
	require.Equal(t, 0x20, d[sel2])
	require.Len(t, d, 2)
}

func TestBuildDispatchIgnoresPushesNotFollowedByEq(t *testing.T) {
	instrs := []isa.Instruction{
		push(0, 4, 0xaa, 0xbb, 0xcc, 0xdd),
		plain(5, isa.OpAdd),
	}
	d := abi.BuildDispatch(instrs)
	require.Empty(t, d)
}

func TestBuildDispatchKeepsFirstMatchOnDuplicateSelector(t *testing.T) {
	sel := [4]byte{0x11, 0x22, 0x33, 0x44}
	var instrs []isa.Instruction
	instrs = append(instrs, dispatcherFor(0, sel, 0x10)...)
	instrs = append(instrs, dispatcherFor(11, sel, 0x99)...)

	d := abi.BuildDispatch(instrs)
	require.Equal(t, 0x10, d[sel])
}
