package block_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pontem-network/e2m-core/pkg/evm/block"
	"github.com/pontem-network/e2m-core/pkg/evm/decode"
)

func TestBuildCoversWholeSegment(t *testing.T) {
	// PUSH1 0x05 JUMP JUMPDEST PUSH1 0x01 STOP
	instrs, err := decode.Decode("0x600556" + "5b600100")
	require.NoError(t, err)

	p := block.Build(instrs)
	require.Len(t, p.Order, 2)

	first := p.At(0)
	require.NotNil(t, first)
	require.Equal(t, 0, first.Start)

	second := p.At(first.End + 1)
	require.NotNil(t, second)

	// Blocks are contiguous in offset order and cover every byte.
	require.Equal(t, first.End+1, second.Start)
	last := instrs[len(instrs)-1]
	require.Equal(t, last.Offset+last.Len()-1, second.End)
}

func TestBuildHandlesAdjacentJumpDests(t *testing.T) {
	// Two JUMPDESTs back to back: the first closes immediately (its
	// successor is itself a JUMPDEST) without producing a zero-length
	// block, and the whole segment still partitions with no gaps.
	instrs, err := decode.Decode("0x5b5b00")
	require.NoError(t, err)
	p := block.Build(instrs)
	require.Len(t, p.Order, 2)
	require.Equal(t, 0, p.At(0).Start)
	require.Equal(t, 0, p.At(0).End)
	require.Equal(t, 1, p.At(1).Start)
}
